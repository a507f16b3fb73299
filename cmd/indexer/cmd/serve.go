package cmd

import (
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/utafrali/catalogindex/internal/app"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the indexer API and consume catalog events",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			log.Info("starting catalog indexer",
				slog.String("environment", cfg.Environment),
				slog.Int("http_port", cfg.HTTPPort),
				slog.String("search_engine", cfg.SearchEngine),
				slog.Bool("kafka", cfg.KafkaEnabled),
			)

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			application, err := app.NewApp(ctx, cfg, log)
			if err != nil {
				log.Error("failed to initialize application", slog.String("error", err.Error()))
				return err
			}
			defer func() { _ = application.Close() }()

			if err := application.Run(ctx); err != nil {
				log.Error("application error", slog.String("error", err.Error()))
				return err
			}

			log.Info("catalog indexer stopped")
			return nil
		},
	}
	addIndexFlags(cmd)
	return cmd
}
