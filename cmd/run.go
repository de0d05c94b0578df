package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/lehigh-university-libraries/imagebatch/internal/batch"
	"github.com/lehigh-university-libraries/imagebatch/internal/config"
	"github.com/lehigh-university-libraries/imagebatch/internal/generation"
	"github.com/lehigh-university-libraries/imagebatch/internal/models"
	"github.com/lehigh-university-libraries/imagebatch/internal/pacing"
	"github.com/lehigh-university-libraries/imagebatch/internal/progress"
	"github.com/lehigh-university-libraries/imagebatch/internal/queue"
	"github.com/lehigh-university-libraries/imagebatch/internal/results"
)

func newRunCmd() *cobra.Command {
	var (
		outDir   string
		manifest string
		provider string
		model    string
		server   string
		pacingBy string
		delay    time.Duration
		keys     []string
	)

	cmd := &cobra.Command{
		Use:   "run [prompts-file|-]",
		Short: "Generate one image per prompt",
		Long: `Reads prompts (one per line, .jsonl with a "prompt" field, or .parquet with a
prompt column), generates an image for each in order and writes the PNGs to
the output directory. Reads stdin when the file is "-" or omitted.

Items that fail are reported and the batch continues; the command still
exits 0 when individual items fail.`,
		Example: `  # Prompts from a file with the saved credentials
  imagebatch run prompts.txt --out images

  # Prompts from stdin with an extra key for this run only
  cat prompts.txt | imagebatch run --key "$GEMINI_API_KEY"

  # Through a shared server, writing a parquet manifest
  imagebatch run prompts.jsonl --server http://localhost:8888 --manifest run.parquet`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg := config.Load()
			flags := cmd.Flags()
			if flags.Changed("provider") {
				cfg.Provider = provider
			}
			if flags.Changed("model") {
				cfg.Model = model
			}
			if flags.Changed("server") {
				cfg.ServerURL = server
			}
			if flags.Changed("pacing") {
				cfg.Pacing = pacingBy
			}
			if flags.Changed("delay") {
				cfg.Delay = delay
			}

			source := "-"
			if len(args) == 1 {
				source = args[0]
			}
			items, err := loadPrompts(cmd, source)
			if err != nil {
				return err
			}
			slog.Info("Prompts loaded", "source", source, "count", len(items))

			store, err := openStore(ctx, cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			pool, err := openPool(ctx, store)
			if err != nil {
				return err
			}
			if len(keys) > 0 {
				placed := pool.Fill(keys...)
				slog.Info("Added credentials for this run", "count", placed)
			} else if !pool.HasCredential() && cfg.ServerURL == "" {
				if key := generation.FallbackCredential(cfg.Provider); key != "" {
					pool.Fill(key)
					slog.Info("No saved credentials, using the environment credential", "provider", cfg.Provider)
				}
			}

			service, modelName, err := newService(ctx, cfg, store)
			if err != nil {
				return err
			}

			pacer, err := pacing.New(cfg.Pacing, cfg.Delay, cfg.MaxDelay)
			if err != nil {
				return err
			}

			runner := batch.NewRunner(service, pool, pacer)
			runner.Observe(progress.NewPrinter(cmd.OutOrStdout()).Observe)
			if _, err := runner.LoadItems(items); err != nil {
				return err
			}

			summary, runErr := runner.Run(ctx)
			if summary == nil {
				return runErr
			}

			written, err := results.SaveImages(outDir, runner.Items())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Saved %d images to %s\n", len(written), outDir)

			if manifest != "" {
				m := results.NewManifest(results.RunConfig{
					Provider: cfg.Provider,
					Model:    modelName,
					Server:   cfg.ServerURL,
					Pacing:   cfg.Pacing,
					Delay:    cfg.Delay.String(),
					Source:   source,
				}, summary, runner.Items())
				if err := results.SaveManifest(manifest, m); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Manifest written to %s\n", manifest)
			}

			// per-item failures are already on the items; only an interrupted run fails the command
			return runErr
		},
	}

	cmd.Flags().StringVarP(&outDir, "out", "o", "output", "Directory for generated images")
	cmd.Flags().StringVar(&manifest, "manifest", "", "Write a run manifest (.yaml or .parquet)")
	cmd.Flags().StringVar(&provider, "provider", "imagen", "Image provider (imagen, gemini, openai)")
	cmd.Flags().StringVar(&model, "model", "", "Model name (defaults per provider)")
	cmd.Flags().StringVar(&server, "server", "", "Use a remote imagebatch server instead of calling the provider directly")
	cmd.Flags().StringVar(&pacingBy, "pacing", "fixed", "Pause policy between items (fixed, backoff, rate)")
	cmd.Flags().DurationVar(&delay, "delay", pacing.DefaultDelay, "Pause between items")
	cmd.Flags().StringArrayVar(&keys, "key", nil, "Extra credential for this run only (repeatable)")

	return cmd
}

func loadPrompts(cmd *cobra.Command, source string) ([]models.WorkItem, error) {
	if source == "-" {
		items, err := queue.ReadRaw(cmd.InOrStdin())
		if err != nil {
			return nil, fmt.Errorf("failed to read prompts from stdin: %w", err)
		}
		return items, nil
	}
	if _, err := os.Stat(source); err != nil {
		return nil, fmt.Errorf("prompts file: %w", err)
	}
	return queue.NewLoader(source).Load()
}
