package scrape

import (
	"net/http"
	"sync"
)

var defaultUserAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 14_5) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.5 Safari/605.1.15",
	"Mozilla/5.0 (X11; Linux x86_64; rv:127.0) Gecko/20100101 Firefox/127.0",
	"Mozilla/5.0 (iPhone; CPU iPhone OS 17_5 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.5 Mobile/15E148 Safari/604.1",
}

var defaultAcceptLanguages = []string{
	"ko-KR,ko;q=0.9,en-US;q=0.8,en;q=0.7",
	"en-US,en;q=0.9,ko;q=0.8",
	"ko,en;q=0.8",
}

// RoundRobinHeaders hands out request header sets in rotation so consecutive
// requests do not share an identical fingerprint.
type RoundRobinHeaders struct {
	mu     sync.Mutex
	agents []string
	langs  []string
	n      int
}

// NewRoundRobinHeaders builds a rotation. Empty lists use built-in defaults.
func NewRoundRobinHeaders(agents, langs []string) *RoundRobinHeaders {
	if len(agents) == 0 {
		agents = defaultUserAgents
	}
	if len(langs) == 0 {
		langs = defaultAcceptLanguages
	}
	return &RoundRobinHeaders{agents: agents, langs: langs}
}

// Next returns the next header set.
func (r *RoundRobinHeaders) Next() http.Header {
	r.mu.Lock()
	i := r.n
	r.n++
	r.mu.Unlock()

	h := http.Header{}
	h.Set("User-Agent", r.agents[i%len(r.agents)])
	h.Set("Accept-Language", r.langs[i%len(r.langs)])
	h.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	return h
}
