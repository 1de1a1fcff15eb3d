package cli

import (
	"fmt"
	"os"

	"github.com/dfryer1193/mdblog/blog/application"
	"github.com/dfryer1193/mdblog/blog/generation"
	"github.com/spf13/cobra"
)

// RenderOptions holds flags for the render command.
type RenderOptions struct {
	*RootOptions
	Quiet bool
}

// NewRenderCommand streams the HTML for one Markdown file without touching
// the store.
func NewRenderCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RenderOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "render <file.md>",
		Short: "Render one Markdown file to HTML on stdout",
		Long: `Render one Markdown file through the configured generator, streaming
progress to stderr and the validated HTML to stdout. Nothing is stored.

Example:
  mdblog render posts/notes/hello.md > hello.html`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			content, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			doc, err := application.ParseDocument(content)
			if err != nil {
				return err
			}

			client := newClient(opts.cfg.Generation)
			renderer := newRenderer(opts.cfg.Generation, client)

			for ev := range renderer.RenderStream(cmd.Context(), doc.Body, doc.Prompt()) {
				switch ev.Status {
				case generation.StatusGenerating:
					if !opts.Quiet {
						fmt.Fprintf(cmd.ErrOrStderr(), "\rgenerating... %3d%%", ev.Progress)
					}
				case generation.StatusCompleted:
					if !opts.Quiet {
						fmt.Fprintln(cmd.ErrOrStderr(), "\rgenerating... 100%")
					}
					_, err := fmt.Fprint(cmd.OutOrStdout(), ev.HTML)
					return err
				case generation.StatusFailed:
					if !opts.Quiet {
						fmt.Fprintln(cmd.ErrOrStderr())
					}
					return ev.Err
				}
			}
			return fmt.Errorf("render ended without a result")
		},
	}

	cmd.Flags().BoolVarP(&opts.Quiet, "quiet", "q", false, "do not print progress")
	return cmd
}
