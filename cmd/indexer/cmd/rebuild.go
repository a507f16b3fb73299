package cmd

import (
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/utafrali/catalogindex/internal/app"
)

func newRebuildCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rebuild",
		Short: "Run one full rebuild of the search index and exit",
		Long: `Run one full rebuild of the search index and exit.

The exit code reports the outcome: 0 when the new index was swapped in,
2 when another rebuild of the namespace is running, 3 when the search
engine failed and 1 for any other error.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			application, err := app.NewApp(ctx, cfg, log)
			if err != nil {
				log.Error("failed to initialize application", slog.String("error", err.Error()))
				return err
			}
			defer func() { _ = application.Close() }()

			run, err := application.Rebuild(ctx)
			if err != nil {
				return err
			}

			cmd.Printf("rebuilt %s: %d documents in %d pages into %s (%s)\n",
				run.Namespace, run.Documents, run.Pages, run.Core, run.Duration)
			return nil
		},
	}
	addIndexFlags(cmd)
	return cmd
}
