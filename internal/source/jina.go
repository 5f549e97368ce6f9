package source

import (
	"context"
	"errors"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/facility-cli/internal/extract"
	"github.com/sells-group/facility-cli/internal/fallback"
	"github.com/sells-group/facility-cli/internal/model"
	"github.com/sells-group/facility-cli/internal/resilience"
	"github.com/sells-group/facility-cli/pkg/jina"
)

// jinaTopResults is how many search hits are parsed per query.
const jinaTopResults = 3

// JinaSearch looks an entity up through the Jina Search API. It serves both
// as an adapter and as the jina_search fallback strategy.
type JinaSearch struct {
	name       string
	confidence float64
	client     jina.Client
	pages      *PageCache
}

// NewJinaSearch builds a Jina search lookup. client may be nil, in which
// case the strategy reports itself unavailable.
func NewJinaSearch(name string, confidence float64, client jina.Client, pages *PageCache) *JinaSearch {
	return &JinaSearch{name: name, confidence: confidence, client: client, pages: pages}
}

// Name returns the adapter or strategy name.
func (j *JinaSearch) Name() string { return j.name }

// Available reports whether a Jina client is configured.
func (j *JinaSearch) Available() bool { return j.client != nil }

// Execute runs the search as a fallback strategy.
func (j *JinaSearch) Execute(ctx context.Context, fc fallback.Context) (model.RawSourceResult, error) {
	return j.Query(ctx, fc.Entity)
}

// Query searches for "name address" and parses the top hits.
func (j *JinaSearch) Query(ctx context.Context, e model.Entity) (model.RawSourceResult, error) {
	if j.client == nil {
		return model.RawSourceResult{}, resilience.Permanent(eris.New("source: jina client not configured"))
	}

	q := strings.TrimSpace(e.Name + " " + e.Address)
	resp, err := j.client.Search(ctx, q)
	if err != nil {
		return model.RawSourceResult{}, classifyJina(err)
	}

	var b strings.Builder
	for i, r := range resp.Data {
		if i == jinaTopResults {
			break
		}
		for _, s := range []string{r.Title, r.Description, r.Content} {
			if s = strings.TrimSpace(s); s != "" {
				b.WriteString(s)
				b.WriteByte('\n')
			}
		}
	}
	text := b.String()
	j.pages.Put(e.Key(), text)

	parsed := extract.Parse(text)
	if !parsed.HasAny() {
		return model.RawSourceResult{}, resilience.Permanent(eris.Errorf("source: %s: no facts in search results", j.name))
	}

	return model.RawSourceResult{
		Facts:      parsed.Facts,
		Name:       e.Name,
		Address:    e.Address,
		Confidence: j.confidence * parsed.Confidence / extract.MaxConfidence,
		Source:     j.name,
	}, nil
}

// classifyJina maps a Jina client error onto the resilience taxonomy.
func classifyJina(err error) error {
	var se *jina.StatusError
	if !errors.As(err, &se) {
		return eris.Wrap(err, "source: jina search")
	}
	if resilience.IsRateLimitStatus(se.Code) {
		return resilience.NewRateLimitError(se, se.Code, se.RetryAfter)
	}
	return resilience.ClassifyStatus(se.Code, se)
}
