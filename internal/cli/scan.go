package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

func NewScanCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "scan",
		Short: "Reconcile the Markdown tree once and exit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return scanOnce(ctx, rootOpts, cmd)
		},
	}
}

func scanOnce(ctx context.Context, opts *RootOptions, cmd *cobra.Command) error {
	svc, err := newServices(opts.cfg)
	if err != nil {
		return err
	}
	defer svc.Close()

	report, err := svc.reconciler.Scan(ctx)
	if err != nil {
		return fmt.Errorf("scan failed: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "files=%d posts=%d created=%d updated=%d repaired=%d deleted=%d unchanged=%d failed=%d elapsed=%s\n",
		report.Files, report.Posts, report.Created, report.Updated, report.Repaired, report.Deleted, report.Unchanged, report.Failed, report.Duration)
	if report.Failed > 0 {
		return fmt.Errorf("%d item(s) failed to reconcile", report.Failed)
	}
	return nil
}
