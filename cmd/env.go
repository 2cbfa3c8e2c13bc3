package main

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/valuation-engine/internal/comparables"
	"github.com/sells-group/valuation-engine/internal/pipeline"
	"github.com/sells-group/valuation-engine/internal/store"
	"github.com/sells-group/valuation-engine/internal/valuation"
	anthropicpkg "github.com/sells-group/valuation-engine/pkg/anthropic"
)

// engineEnv holds the store and the pipeline built on it.
type engineEnv struct {
	Store    store.Store
	Pipeline *pipeline.Pipeline
}

// Close releases resources held by the environment.
func (e *engineEnv) Close() {
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

// initEngine validates the config for mode, opens and migrates the store, and
// builds the pipeline. Callers should defer env.Close().
func initEngine(ctx context.Context, mode string) (*engineEnv, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}

	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}

	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}

	p, err := pipeline.New(cfg, st, initCandidates())
	if err != nil {
		_ = st.Close()
		return nil, err
	}
	return &engineEnv{Store: st, Pipeline: p}, nil
}

// initStore opens the configured store without migrating it.
func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		return store.NewSQLite(cfg.Store.SQLitePath)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, &cfg.Store.Pool)
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

// initCandidates returns the model-backed comparables source, or nil when
// comparables are disabled or no key is set.
func initCandidates() valuation.CandidateSource {
	if !cfg.Valuation.Comparables.Enabled {
		return nil
	}
	if cfg.Anthropic.Key == "" {
		zap.L().Warn("VALUATION_ANTHROPIC_KEY not set, model comparables disabled")
		return nil
	}
	client := anthropicpkg.NewClient(cfg.Anthropic.Key)
	zap.L().Info("model comparables enabled", zap.String("model", cfg.Anthropic.Model))
	return comparables.NewClaudeSource(client, comparables.ClaudeConfig{
		Model:             cfg.Anthropic.Model,
		MaxTokens:         cfg.Anthropic.MaxTokens,
		RequestsPerMinute: cfg.Anthropic.RequestsPerMinute,
		Retry:             cfg.Anthropic.Retry,
		Breaker:           cfg.Anthropic.Breaker,
		Pricing:           cfg.Anthropic.Pricing,
	})
}
