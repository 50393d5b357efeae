// Package cli implements manualctl, a command-line client for the manual
// assistant API.
package cli

import (
	"context"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
)

const defaultAPIURL = "http://localhost:8080"

type options struct {
	apiURL  string
	timeout time.Duration
}

// NewRootCommand builds the manualctl command tree. httpClient may be nil.
func NewRootCommand(httpClient *http.Client) *cobra.Command {
	opts := &options{}
	client := func() *Client { return NewClient(opts.apiURL, httpClient) }

	root := &cobra.Command{
		Use:   "manualctl",
		Short: "Query and feed the technical manual assistant",
		Long: `manualctl uploads manuals to the assistant, asks questions about them
and reports indexing progress.`,
		SilenceUsage: true,
	}

	apiURL := os.Getenv("MANUAL_API_URL")
	if apiURL == "" {
		apiURL = defaultAPIURL
	}
	root.PersistentFlags().StringVar(&opts.apiURL, "api", apiURL, "assistant API base URL (env MANUAL_API_URL)")
	root.PersistentFlags().DurationVar(&opts.timeout, "timeout", 10*time.Minute, "overall command timeout")

	root.AddCommand(
		newIngestCommand(opts, client),
		newAskCommand(opts, client),
		newStatusCommand(opts, client),
		newDocumentsCommand(opts, client),
	)
	return root
}

// Execute runs manualctl with os.Args.
func Execute(ctx context.Context) error {
	return NewRootCommand(nil).ExecuteContext(ctx)
}

func commandContext(cmd *cobra.Command, opts *options) (context.Context, context.CancelFunc) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	if opts.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, opts.timeout)
}
