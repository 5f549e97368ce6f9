package main

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/facility-cli/internal/pipeline"
	"github.com/sells-group/facility-cli/internal/scrape"
	"github.com/sells-group/facility-cli/internal/source"
	"github.com/sells-group/facility-cli/internal/store"
	"github.com/sells-group/facility-cli/pkg/anthropic"
	"github.com/sells-group/facility-cli/pkg/jina"
)

// engineEnv holds the store and engine used by the run/serve/dlq commands.
type engineEnv struct {
	Store  store.Store // may be nil
	Engine *pipeline.Engine
}

// Close releases the store.
func (env *engineEnv) Close() {
	if env.Store != nil {
		_ = env.Store.Close()
	}
}

// initStore opens and migrates the configured store. It returns nil, nil
// when the driver is "none".
func initStore(ctx context.Context) (store.Store, error) {
	st, err := store.Open(ctx, cfg.Store)
	if err != nil {
		return nil, eris.Wrap(err, "open store")
	}
	if st == nil {
		return nil, nil
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}
	return st, nil
}

// initEngine validates config for mode, opens the store, builds the source
// catalog, and assembles the engine. Callers should defer env.Close().
func initEngine(ctx context.Context, mode string) (*engineEnv, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}

	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	env := &engineEnv{Store: st}

	cat, err := loadCatalog()
	if err != nil {
		env.Close()
		return nil, err
	}

	var records source.RecordLookup
	deps := pipeline.Deps{}
	if st != nil {
		records = st
		deps.Store = st
	}
	set, err := source.Build(cat, sourceDeps(records))
	if err != nil {
		env.Close()
		return nil, eris.Wrap(err, "build sources")
	}
	deps.Adapters = set.Adapters
	deps.Strategies = set.Strategies

	eng, err := pipeline.New(cfg, deps)
	if err != nil {
		env.Close()
		return nil, eris.Wrap(err, "build engine")
	}
	env.Engine = eng
	return env, nil
}

// sourceDeps builds the clients the catalog's adapters and strategies need.
// Jina and Anthropic are only configured when a key is present.
func sourceDeps(records source.RecordLookup) source.Deps {
	deps := source.Deps{
		Fetcher:   scrape.NewHTTPFetcher(scrape.FromConfig(cfg.Fetch)),
		LLMModel:  cfg.Anthropic.Model,
		MaxTokens: cfg.Anthropic.MaxTokens,
		Records:   records,
	}

	if cfg.Jina.Key != "" {
		opts := []jina.Option{jina.WithDefaults(
			jina.WithLocale(cfg.Jina.Country, cfg.Jina.Language),
			jina.WithLimit(cfg.Jina.Results),
		)}
		if cfg.Jina.SearchBaseURL != "" {
			opts = append(opts, jina.WithSearchBaseURL(cfg.Jina.SearchBaseURL))
		}
		deps.Jina = jina.NewClient(cfg.Jina.Key, opts...)
	} else {
		zap.L().Debug("FACILITY_JINA_KEY not set, jina sources disabled")
	}

	if cfg.Anthropic.Key != "" {
		deps.LLM = anthropic.NewClient(cfg.Anthropic.Key)
	} else {
		zap.L().Debug("FACILITY_ANTHROPIC_KEY not set, llm extraction disabled")
	}
	return deps
}

// loadCatalog reads the configured source catalog.
func loadCatalog() (source.Catalog, error) {
	cat, err := source.LoadCatalog(cfg.Sources.CatalogPath)
	if err != nil {
		return source.Catalog{}, eris.Wrap(err, "load source catalog")
	}
	return cat, nil
}
