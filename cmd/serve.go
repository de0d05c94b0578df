package cmd

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/lehigh-university-libraries/imagebatch/internal/auth"
	"github.com/lehigh-university-libraries/imagebatch/internal/batch"
	"github.com/lehigh-university-libraries/imagebatch/internal/config"
	"github.com/lehigh-university-libraries/imagebatch/internal/events"
	"github.com/lehigh-university-libraries/imagebatch/internal/generation"
	"github.com/lehigh-university-libraries/imagebatch/internal/handlers"
	"github.com/lehigh-university-libraries/imagebatch/internal/metrics"
	"github.com/lehigh-university-libraries/imagebatch/internal/pacing"
)

func newServeCmd() *cobra.Command {
	var (
		port     string
		provider string
		model    string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the batch generation API",
		Long: `Starts the imagebatch HTTP API on the specified port.

The server exposes the single-prompt endpoint used by 'imagebatch run --server',
a batch API (load prompts, run, poll state, download images), server-sent
progress events at /api/events and Prometheus metrics at /metrics.

When IMAGEBATCH_AUTH_SECRET is set, every /api/ route requires a bearer token
issued by 'imagebatch login'.`,
		Example: `  # Start server on default port 8888
  imagebatch serve

  # Start server on custom port with the OpenAI provider
  imagebatch serve --port 3000 --provider openai`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg := config.Load()
			if cmd.Flags().Changed("provider") {
				cfg.Provider = provider
			}
			if cmd.Flags().Changed("model") {
				cfg.Model = model
			}

			store, err := openStore(ctx, cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			pool, err := openPool(ctx, store)
			if err != nil {
				return err
			}

			service, err := generation.NewLocal(cfg.Provider, cfg.Model)
			if err != nil {
				return err
			}

			pacer, err := pacing.New(cfg.Pacing, cfg.Delay, cfg.MaxDelay)
			if err != nil {
				return err
			}

			broadcaster := events.NewBroadcaster()
			collector := metrics.NewCollector("imagebatch")

			runner := batch.NewRunner(service, pool, pacer)
			runner.Observe(broadcaster.Observe)
			runner.Observe(collector.Observe)

			runCtx, cancelRuns := context.WithCancel(context.WithoutCancel(ctx))
			defer cancelRuns()

			handler := handlers.New(runCtx, service, runner, pool)
			mux := http.NewServeMux()
			handler.Register(mux, broadcaster, collector.Handler())

			var root http.Handler = mux
			if cfg.AuthSecret != "" {
				tokens, err := auth.NewTokens(cfg.AuthSecret, 0)
				if err != nil {
					return err
				}
				root = tokens.Middleware(func(path string) bool {
					return !strings.HasPrefix(path, "/api/")
				})(root)
				slog.Info("Bearer token authentication enabled")
			}
			root = collector.Middleware(root)

			// cancelling runCtx also ends open event streams
			addr := ":" + port
			server := &http.Server{
				Addr:              addr,
				Handler:           root,
				ReadHeaderTimeout: 10 * time.Second,
				BaseContext:       func(net.Listener) context.Context { return runCtx },
			}

			// Start server in goroutine
			serverErr := make(chan error, 1)
			go func() {
				slog.Info("imagebatch API available",
					"addr", addr,
					"url", "http://localhost"+addr,
					"provider", service.Provider(),
					"model", service.Model(),
					"pacing", cfg.Pacing,
					"store", cfg.Store.Backend,
				)
				if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					serverErr <- err
				}
			}()

			// Wait for context cancellation (Ctrl+C) or server error
			select {
			case <-ctx.Done():
				slog.Info("Shutting down server...")
				cancelRuns()
				// Give server 5 seconds to shut down gracefully
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := server.Shutdown(shutdownCtx); err != nil {
					slog.Error("Server shutdown failed", "err", err)
					return err
				}
				handler.Wait()
				slog.Info("Server stopped")
				return nil
			case err := <-serverErr:
				return err
			}
		},
	}

	cmd.Flags().StringVarP(&port, "port", "p", "8888", "Port to listen on")
	cmd.Flags().StringVar(&provider, "provider", "imagen", "Image provider (imagen, gemini, openai)")
	cmd.Flags().StringVar(&model, "model", "", "Model name (defaults per provider)")

	return cmd
}
