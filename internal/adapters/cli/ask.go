package cli

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/spf13/cobra"
)

func newAskCommand(opts *options, client func() *Client) *cobra.Command {
	var (
		render      bool
		style       string
		showSources bool
	)
	cmd := &cobra.Command{
		Use:   "ask <question>",
		Short: "Ask how to do something",
		Long: `Streams a step-by-step answer built from the indexed manuals.
With --render the answer is collected and rendered as markdown.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := commandContext(cmd, opts)
			defer cancel()

			out := cmd.OutOrStdout()
			question := strings.Join(args, " ")
			var answer strings.Builder
			result, err := client().Ask(ctx, question, func(fragment string) error {
				answer.WriteString(fragment)
				if !render {
					fmt.Fprint(out, fragment)
				}
				return nil
			})
			if err != nil {
				if answer.Len() > 0 && !render {
					fmt.Fprintln(out)
				}
				return err
			}

			if render {
				rendered, err := renderMarkdown(answer.String(), style)
				if err != nil {
					return err
				}
				fmt.Fprint(out, rendered)
			} else {
				fmt.Fprintln(out)
			}

			if showSources && result != nil && len(result.Sources) > 0 {
				fmt.Fprintln(out)
				fmt.Fprintln(out, "Sources:")
				for i, src := range result.Sources {
					fmt.Fprintf(out, "  [%d] %s #%d %s (%.2f)\n", i+1, src.Filename, src.Position, src.Kind, src.Score)
				}
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&render, "render", false, "render the answer as markdown")
	cmd.Flags().StringVar(&style, "style", "auto", "glamour style with --render (auto, dark, light, notty)")
	cmd.Flags().BoolVar(&showSources, "sources", false, "list the evidence the answer was built from")
	return cmd
}

func renderMarkdown(md, style string) (string, error) {
	opts := []glamour.TermRendererOption{glamour.WithWordWrap(100)}
	if style == "" || style == "auto" {
		opts = append(opts, glamour.WithAutoStyle())
	} else {
		opts = append(opts, glamour.WithStandardStyle(style))
	}
	r, err := glamour.NewTermRenderer(opts...)
	if err != nil {
		return "", fmt.Errorf("init markdown renderer: %w", err)
	}
	out, err := r.Render(md)
	if err != nil {
		return "", fmt.Errorf("render answer: %w", err)
	}
	return out, nil
}
