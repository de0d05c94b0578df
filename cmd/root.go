package cmd

import (
	"log/slog"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/lehigh-university-libraries/imagebatch/internal/config"
)

func NewRootCmd() *cobra.Command {
	var closeLog func() error

	cmd := &cobra.Command{
		Use:   "imagebatch",
		Short: "Batch text-to-image generation with rotating provider credentials",
		Long: `imagebatch turns a list of prompts into images, one prompt at a time.

Prompts are processed strictly in order with a pause between items, and every
item picks the next credential from a pool of up to 10 provider API keys.
A failed prompt is recorded on its item and never stops the batch.`,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			// Load .env file if present (ignore errors)
			_ = godotenv.Load()

			cfg := config.Load()
			logger, cleanup := config.SetupLogger(cfg.LogFile, cfg.LogLevel)
			slog.SetDefault(logger)
			closeLog = cleanup
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if closeLog != nil {
				_ = closeLog()
			}
		},
	}

	cmd.AddCommand(newRunCmd())
	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newKeysCmd())
	cmd.AddCommand(newLoginCmd())
	cmd.AddCommand(newLogoutCmd())
	cmd.AddCommand(newWhoamiCmd())

	return cmd
}
