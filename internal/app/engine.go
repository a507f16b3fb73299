package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/utafrali/catalogindex/internal/config"
	"github.com/utafrali/catalogindex/internal/engine"
	bleveengine "github.com/utafrali/catalogindex/internal/engine/bleve"
	esengine "github.com/utafrali/catalogindex/internal/engine/elasticsearch"
	"github.com/utafrali/catalogindex/internal/engine/memory"
)

// newBackend initializes the search engine selected by SEARCH_ENGINE and
// makes sure both cores exist. The returned func releases the engine.
func newBackend(ctx context.Context, cfg *config.Config, logger *slog.Logger) (engine.Backend, func() error, error) {
	coreNames := []string{cfg.CorePrimary}
	if !cfg.SingleCoreMode() {
		coreNames = append(coreNames, cfg.CoreReindex)
	}
	noop := func() error { return nil }

	switch cfg.SearchEngine {
	case config.EngineElasticsearch:
		es, err := esengine.New(esengine.Config{
			URL:      cfg.ElasticsearchURL,
			Username: cfg.ElasticsearchUser,
			Password: cfg.ElasticsearchPassword,
			Alias:    cfg.CoreAlias,
		}, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("init elasticsearch engine: %w", err)
		}
		if err := es.EnsureCores(ctx, coreNames...); err != nil {
			return nil, nil, fmt.Errorf("ensure elasticsearch cores: %w", err)
		}
		logger.Info("elasticsearch search engine initialized",
			slog.String("url", cfg.ElasticsearchURL),
			slog.Any("cores", coreNames),
			slog.String("alias", cfg.CoreAlias),
		)
		return es, noop, nil

	case config.EngineBleve:
		bl, err := bleveengine.New(cfg.BleveDataDir, coreNames, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("init bleve engine: %w", err)
		}
		logger.Info("bleve search engine initialized",
			slog.String("data_dir", cfg.BleveDataDir),
			slog.Any("cores", coreNames),
		)
		return bl, bl.Close, nil

	default:
		opts := []memory.Option{memory.WithCores(coreNames...)}
		if cfg.CoreAlias != "" {
			opts = append(opts, memory.WithAlias(cfg.CoreAlias))
		}
		logger.Info("in-memory search engine initialized", slog.Any("cores", coreNames))
		return memory.New(opts...), noop, nil
	}
}
