package cli

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/dfryer1193/mdblog/blog/application"
	"github.com/dfryer1193/mdblog/internal/rest"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

const shutdownTimeout = 5 * time.Second

func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Watch the Markdown tree and serve the admin API",
		Long: `Watch the Markdown root, reconcile every settled change, and serve
/healthz, /metrics and the /admin routes. A full scan runs at startup unless
scan.on_startup is false.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context(), rootOpts)
		},
	}
}

func serve(ctx context.Context, opts *RootOptions) error {
	cfg := opts.cfg
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	svc, err := newServices(cfg)
	if err != nil {
		return err
	}
	defer svc.Close()

	dispatcher := application.NewDispatcher(svc.reconciler, cfg.Watch.QuietWindow)
	defer dispatcher.Close()

	watcher, err := application.NewWatcher(cfg.Paths.MarkdownRoot, svc.sources, dispatcher, cfg.Watch.RenameWindow)
	if err != nil {
		return err
	}
	defer func() {
		if err := watcher.Close(); err != nil {
			log.Error().Err(err).Msg("Failed to close watcher")
		}
	}()

	// The startup scan overlaps live events; both go through the same flows.
	var scans sync.WaitGroup
	if cfg.ScanOnStartup() {
		scans.Add(1)
		go func() {
			defer scans.Done()
			if _, err := svc.reconciler.Scan(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Error().Err(err).Msg("Startup scan failed")
			}
		}()
	}
	defer scans.Wait()

	api := rest.NewAdminAPI(svc.reconciler, svc.posts)
	defer api.Close()

	srv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           rest.NewRouter(api),
		ReadHeaderTimeout: 10 * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.HTTP.Addr).Msg("Starting server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil {
			stop()
			return err
		}
	}

	log.Info().Msg("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Failed to shutdown server")
	}
	return nil
}
