package cli

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/spf13/cobra"
)

func newIngestCommand(opts *options, client func() *Client) *cobra.Command {
	var (
		wait         bool
		pollInterval time.Duration
	)
	cmd := &cobra.Command{
		Use:   "ingest <path|glob>...",
		Short: "Upload manuals for indexing",
		Long: `Uploads each matching file. Globs support ** for recursive matches,
e.g. 'manuals/**/*.docx'. With --wait the command blocks until every
screenshot has been described.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := commandContext(cmd, opts)
			defer cancel()

			paths, err := expandPaths(args)
			if err != nil {
				return err
			}
			c := client()
			failed := 0
			for _, path := range paths {
				result, err := c.Upload(ctx, path)
				switch {
				case err != nil && result == nil:
					failed++
					cmd.PrintErrf("  %s: %v\n", path, err)
				case err != nil:
					failed++
					fmt.Fprintf(cmd.OutOrStdout(), "  %s: partial, %d chunks, %d images queued (%v)\n", path, result.ChunkCount, len(result.ImageTaskIDs), err)
				case result.Reused:
					fmt.Fprintf(cmd.OutOrStdout(), "  %s: unchanged (%s)\n", path, result.DocumentID)
				default:
					fmt.Fprintf(cmd.OutOrStdout(), "  %s: %d chunks, %d images queued (%s)\n", path, result.ChunkCount, len(result.ImageTaskIDs), result.DocumentID)
				}
			}

			if wait {
				if err := waitForQueue(ctx, cmd, c, pollInterval); err != nil {
					return err
				}
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d manuals failed", failed, len(paths))
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&wait, "wait", false, "wait until the image queue drains")
	cmd.Flags().DurationVar(&pollInterval, "poll-interval", 2*time.Second, "queue polling interval with --wait")
	return cmd
}

// expandPaths resolves globs in order, dropping duplicates. Arguments
// without glob metacharacters are kept as literal paths.
func expandPaths(args []string) ([]string, error) {
	seen := make(map[string]struct{})
	out := make([]string, 0, len(args))
	for _, arg := range args {
		matches, err := doublestar.FilepathGlob(arg, doublestar.WithFilesOnly())
		if err != nil {
			return nil, fmt.Errorf("bad pattern %q: %w", arg, err)
		}
		if len(matches) == 0 {
			if hasGlobMeta(arg) {
				return nil, fmt.Errorf("no files match %q", arg)
			}
			matches = []string{arg}
		}
		for _, m := range matches {
			if _, ok := seen[m]; ok {
				continue
			}
			seen[m] = struct{}{}
			out = append(out, m)
		}
	}
	return out, nil
}

func hasGlobMeta(s string) bool {
	for _, r := range s {
		switch r {
		case '*', '?', '[', '{':
			return true
		}
	}
	return false
}

func waitForQueue(ctx context.Context, cmd *cobra.Command, c *Client, interval time.Duration) error {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	last := -1
	for {
		status, err := c.QueueStatus(ctx)
		if err != nil {
			return err
		}
		if status.Done+status.Failed != last {
			last = status.Done + status.Failed
			fmt.Fprintf(cmd.OutOrStdout(), "images: %d/%d described, %d failed\n", status.Done, status.Total, status.Failed)
		}
		if status.Pending == 0 && status.Processing == 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return errors.New("timed out waiting for image descriptions")
		case <-ticker.C:
		}
	}
}
