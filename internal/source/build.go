package source

import (
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/facility-cli/internal/fallback"
	"github.com/sells-group/facility-cli/internal/pipeline"
	"github.com/sells-group/facility-cli/internal/scrape"
	"github.com/sells-group/facility-cli/internal/search"
	"github.com/sells-group/facility-cli/pkg/anthropic"
	"github.com/sells-group/facility-cli/pkg/jina"
)

// Deps are the clients adapters and strategies are built on. Any of Jina,
// LLM and Records may be nil.
type Deps struct {
	Fetcher   scrape.Fetcher
	Jina      jina.Client
	LLM       anthropic.Client
	LLMModel  string
	MaxTokens int64
	Records   RecordLookup
}

// Set is a built catalog ready for pipeline.Deps.
type Set struct {
	Adapters   []search.Adapter
	Strategies []pipeline.StrategySpec
}

// Build constructs the enabled adapters in catalog order and every declared
// strategy. Jina adapters are skipped when no Jina client is configured.
func Build(cat Catalog, deps Deps) (*Set, error) {
	if err := cat.Validate(); err != nil {
		return nil, err
	}
	if deps.Fetcher == nil {
		return nil, eris.New("source: fetcher is required")
	}

	pages := NewPageCache(pageCacheSize)
	set := &Set{}
	var firstWeb *WebSearch
	jinaConf := 0.7

	for _, a := range cat.Adapters {
		if a.Kind == KindJina {
			jinaConf = a.Confidence
		}
		if !a.IsEnabled() {
			continue
		}
		switch a.Kind {
		case KindWeb:
			w := NewWebSearch(a.Name, a.URL, a.Confidence, deps.Fetcher, pages)
			if firstWeb == nil {
				firstWeb = w
			}
			set.Adapters = append(set.Adapters, w)
		case KindJina:
			if deps.Jina == nil {
				zap.L().Warn("source: skipping jina adapter, no api key", zap.String("adapter", a.Name))
				continue
			}
			set.Adapters = append(set.Adapters, NewJinaSearch(a.Name, a.Confidence, deps.Jina, pages))
		}
	}

	for _, s := range cat.Strategies {
		var st fallback.Strategy
		switch s.Name {
		case StrategyStoredRecord:
			st = NewStoredRecord(deps.Records)
		case StrategyNameVariant:
			st = NewNameVariant(firstWeb)
		case StrategyJinaSearch:
			st = NewJinaSearch(StrategyJinaSearch, jinaConf, deps.Jina, pages)
		case StrategyLLMExtract:
			st = NewLLMExtract(deps.LLM, deps.LLMModel, deps.MaxTokens, pages)
		}
		set.Strategies = append(set.Strategies, pipeline.StrategySpec{
			Strategy: st,
			Priority: s.Priority,
			Enabled:  s.IsEnabled(),
		})
	}

	return set, nil
}
