package source

import (
	"context"
	"net/url"
	"strings"
	"sync"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/facility-cli/internal/extract"
	"github.com/sells-group/facility-cli/internal/model"
	"github.com/sells-group/facility-cli/internal/resilience"
	"github.com/sells-group/facility-cli/internal/scrape"
)

// pageCacheSize bounds the page texts kept for later strategies.
const pageCacheSize = 256

// WebSearch queries a search results page and parses its text.
type WebSearch struct {
	name       string
	template   string
	confidence float64
	fetcher    scrape.Fetcher
	pages      *PageCache
}

// NewWebSearch builds a web adapter. template must contain {query}. pages
// may be nil.
func NewWebSearch(name, template string, confidence float64, fetcher scrape.Fetcher, pages *PageCache) *WebSearch {
	return &WebSearch{
		name:       name,
		template:   template,
		confidence: confidence,
		fetcher:    fetcher,
		pages:      pages,
	}
}

// Name returns the adapter name.
func (w *WebSearch) Name() string { return w.name }

// Query fetches the search page for e and parses facts from it. The result
// confidence scales the adapter's base confidence by how much was found.
func (w *WebSearch) Query(ctx context.Context, e model.Entity) (model.RawSourceResult, error) {
	return w.query(ctx, e, e.Name)
}

// QueryName runs the search with an alternative facility name. The result
// still echoes e's name and address.
func (w *WebSearch) QueryName(ctx context.Context, e model.Entity, name string) (model.RawSourceResult, error) {
	return w.query(ctx, e, name)
}

func (w *WebSearch) query(ctx context.Context, e model.Entity, name string) (model.RawSourceResult, error) {
	target := SearchURL(w.template, name, e.Address)
	page, err := w.fetcher.Fetch(ctx, target)
	if err != nil {
		return model.RawSourceResult{}, eris.Wrapf(err, "source: %s", w.name)
	}
	w.pages.Put(e.Key(), page.Text)

	parsed := extract.Parse(page.Text)
	if !parsed.HasAny() {
		return model.RawSourceResult{}, resilience.Permanent(eris.Errorf("source: %s: no facts on page", w.name))
	}

	zap.L().Debug("source: parsed search page",
		zap.String("adapter", w.name),
		zap.String("entity", e.Name),
		zap.Strings("matched", parsed.Matched),
	)

	return model.RawSourceResult{
		Facts:      parsed.Facts,
		Name:       e.Name,
		Address:    e.Address,
		Confidence: w.confidence * parsed.Confidence / extract.MaxConfidence,
		Source:     w.name,
	}, nil
}

// SearchURL fills the {query} placeholder with the escaped "name address".
func SearchURL(template, name, address string) string {
	q := strings.TrimSpace(strings.TrimSpace(name) + " " + strings.TrimSpace(address))
	return strings.ReplaceAll(template, QueryPlaceholder, url.QueryEscape(q))
}

// PageCache keeps the most recent page text per entity for strategies that
// re-read what the adapters already fetched. A nil PageCache is a no-op.
type PageCache struct {
	mu    sync.Mutex
	size  int
	texts map[string]string
	order []string
}

// NewPageCache returns a cache holding up to size entries.
func NewPageCache(size int) *PageCache {
	if size <= 0 {
		size = pageCacheSize
	}
	return &PageCache{size: size, texts: make(map[string]string, size)}
}

// Put stores text for key. The longest text seen for a key wins.
func (c *PageCache) Put(key, text string) {
	if c == nil || strings.TrimSpace(text) == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	old, ok := c.texts[key]
	if ok {
		if len(text) > len(old) {
			c.texts[key] = text
		}
		return
	}
	if len(c.order) >= c.size {
		delete(c.texts, c.order[0])
		c.order = c.order[1:]
	}
	c.texts[key] = text
	c.order = append(c.order, key)
}

// Get returns the text stored for key.
func (c *PageCache) Get(key string) (string, bool) {
	if c == nil {
		return "", false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.texts[key]
	return t, ok
}
