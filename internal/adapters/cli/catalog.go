package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

func newStatusCommand(opts *options, client func() *Client) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show image description progress",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := commandContext(cmd, opts)
			defer cancel()

			status, err := client().QueueStatus(ctx)
			if err != nil {
				return err
			}
			if asJSON {
				return printJSON(cmd, status)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "pending:    %d\n", status.Pending)
			fmt.Fprintf(out, "processing: %d\n", status.Processing)
			fmt.Fprintf(out, "done:       %d\n", status.Done)
			fmt.Fprintf(out, "failed:     %d\n", status.Failed)
			fmt.Fprintf(out, "total:      %d\n", status.Total)
			if status.Current != nil {
				fmt.Fprintf(out, "current:    %s image #%d\n", status.Current.Filename, status.Current.Position)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "output as JSON")
	return cmd
}

func newDocumentsCommand(opts *options, client func() *Client) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:     "documents",
		Aliases: []string{"docs"},
		Short:   "List indexed manuals",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := commandContext(cmd, opts)
			defer cancel()

			docs, err := client().ListDocuments(ctx)
			if err != nil {
				return err
			}
			if asJSON {
				return printJSON(cmd, docs)
			}
			if len(docs) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No manuals indexed.")
				return nil
			}
			for _, d := range docs {
				name := d.Filename
				if name == "" {
					name = d.DocumentID
				}
				fmt.Fprintf(cmd.OutOrStdout(), "  %s  %d chunks, %d images  (%s)\n", name, d.ChunkCount, d.ImageCount, d.DocumentID)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "output as JSON")
	return cmd
}

func printJSON(cmd *cobra.Command, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal output: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(data))
	return nil
}
