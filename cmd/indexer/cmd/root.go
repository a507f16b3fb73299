// Package cmd provides the CLI commands of the catalog indexer.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/utafrali/catalogindex/internal/app"
	"github.com/utafrali/catalogindex/internal/config"
	apperrors "github.com/utafrali/catalogindex/pkg/errors"
	"github.com/utafrali/catalogindex/pkg/logger"
)

// Exit codes reported by Execute.
const (
	ExitOK          = 0
	ExitFailure     = 1
	ExitConflict    = 2
	ExitUnavailable = 3
)

// NewRootCmd creates the root command of the indexer CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "indexer",
		Short: "Builds the catalog search index",
		Long: `indexer turns the product catalog into search documents.

It serves an HTTP API and consumes catalog events (serve), or runs a
single full rebuild and exits (rebuild).

Configuration is read from environment variables.`,
		Version:       app.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newRebuildCmd())
	return cmd
}

// Execute runs the root command and returns the process exit code.
func Execute() int {
	root := NewRootCmd()
	err := root.ExecuteContext(context.Background())
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
	}
	return exitCode(err)
}

// exitCode maps a command error to the process exit code.
func exitCode(err error) int {
	switch {
	case err == nil:
		return ExitOK
	case errors.Is(err, apperrors.ErrConflict):
		return ExitConflict
	case apperrors.IsServiceFailure(err):
		return ExitUnavailable
	default:
		return ExitFailure
	}
}

// loadConfig reads the configuration and applies flag overrides.
func loadConfig(cmd *cobra.Command) (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}

	flags := cmd.Flags()
	if flags.Changed("namespace") {
		cfg.Namespace, _ = flags.GetString("namespace")
	}
	if flags.Changed("sku") {
		cfg.UseSku, _ = flags.GetBool("sku")
	}
	if flags.Changed("page-size") {
		cfg.PageSize, _ = flags.GetInt("page-size")
		if cfg.PageSize < 1 {
			return nil, nil, fmt.Errorf("invalid --page-size: %d", cfg.PageSize)
		}
	}

	return cfg, logger.New(app.ServiceName, cfg.LogLevel), nil
}

// addIndexFlags registers the flags overriding indexing settings.
func addIndexFlags(cmd *cobra.Command) {
	cmd.Flags().String("namespace", "", "Index namespace (overrides INDEX_NAMESPACE)")
	cmd.Flags().Bool("sku", false, "Index skus instead of products (overrides INDEX_USE_SKU)")
	cmd.Flags().Int("page-size", 0, "Items per page (overrides INDEX_PAGE_SIZE)")
}
