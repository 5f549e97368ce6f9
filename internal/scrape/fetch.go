// Package scrape fetches facility web pages and reduces them to plain text.
package scrape

import (
	"context"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/facility-cli/internal/config"
	"github.com/sells-group/facility-cli/internal/resilience"
)

// Page is a fetched page reduced to readable text.
type Page struct {
	URL        string `json:"url"`
	Title      string `json:"title"`
	Text       string `json:"text"`
	StatusCode int    `json:"status_code"`
}

// Fetcher retrieves a single URL as text.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string) (*Page, error)
}

// HTTPOptions configures the HTTP fetcher.
type HTTPOptions struct {
	Timeout      time.Duration
	MaxBodyBytes int64
	RatePerHost  float64
	UserAgents   []string
	AcceptLangs  []string
	Exclude      []string
}

// FromConfig maps the fetch config section onto HTTPOptions.
func FromConfig(cfg config.FetchConfig) HTTPOptions {
	return HTTPOptions{
		Timeout:      time.Duration(cfg.TimeoutSecs) * time.Second,
		MaxBodyBytes: int64(cfg.MaxBodyKB) * 1024,
		RatePerHost:  cfg.RatePerHost,
		UserAgents:   cfg.UserAgents,
		AcceptLangs:  cfg.AcceptLangs,
		Exclude:      cfg.ExcludePaths,
	}
}

// HTTPFetcher implements Fetcher with net/http. It does not retry: every
// failure is returned classified (transient, rate limited, or permanent) for
// the caller's retry manager.
type HTTPFetcher struct {
	client   *http.Client
	opts     HTTPOptions
	limiters *hostLimiters
	headers  *RoundRobinHeaders
	exclude  *PathMatcher
}

// NewHTTPFetcher creates an HTTPFetcher with the given options.
func NewHTTPFetcher(opts HTTPOptions) *HTTPFetcher {
	if opts.Timeout <= 0 {
		opts.Timeout = 15 * time.Second
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = 1 << 20
	}
	return &HTTPFetcher{
		client: &http.Client{
			Timeout: opts.Timeout,
			Transport: &http.Transport{
				DialContext: (&net.Dialer{
					Timeout: 10 * time.Second,
				}).DialContext,
				TLSHandshakeTimeout: 10 * time.Second,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		opts:     opts,
		limiters: newHostLimiters(opts.RatePerHost, 1),
		headers:  NewRoundRobinHeaders(opts.UserAgents, opts.AcceptLangs),
		exclude:  NewPathMatcher(opts.Exclude),
	}
}

// Limiter returns the pacing limiter for host.
func (f *HTTPFetcher) Limiter(host string) *HostLimiter {
	return f.limiters.get(host)
}

// Fetch requests rawURL under the host's rate limit and returns its text.
func (f *HTTPFetcher) Fetch(ctx context.Context, rawURL string) (*Page, error) {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return nil, resilience.Permanent(eris.Errorf("scrape: invalid url %q", rawURL))
	}
	if pattern, ok := f.exclude.Match(u); ok {
		return nil, resilience.Permanent(eris.Errorf("scrape: url %s excluded by %q", rawURL, pattern))
	}

	lim := f.limiters.get(u.Host)
	if err := lim.Wait(ctx); err != nil {
		return nil, eris.Wrap(err, "scrape: rate limiter wait")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, resilience.Permanent(eris.Wrap(err, "scrape: create request"))
	}
	req.Header = f.headers.Next()

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "scrape: fetch")
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.opts.MaxBodyBytes))
	if err != nil {
		return nil, resilience.NewTransientError(eris.Wrap(err, "scrape: read body"), resp.StatusCode)
	}

	if blk := DetectBlock(resp, body); blk.Blocked() {
		lim.OnRateLimit()
		zap.L().Warn("scrape: blocked",
			zap.String("host", u.Host),
			zap.String("block", string(blk.Kind)),
			zap.String("signal", blk.Signal),
			zap.Int("status", resp.StatusCode),
		)
		return nil, resilience.NewRateLimitError(
			eris.Errorf("scrape: blocked (%s) by %s", blk.Kind, u.Host),
			resp.StatusCode, retryAfter(resp.Header))
	}

	if resp.StatusCode >= 400 {
		cause := eris.Errorf("scrape: status %d from %s", resp.StatusCode, u.Host)
		if resilience.IsRateLimitStatus(resp.StatusCode) {
			lim.OnRateLimit()
			return nil, resilience.NewRateLimitError(cause, resp.StatusCode, retryAfter(resp.Header))
		}
		return nil, resilience.ClassifyStatus(resp.StatusCode, cause)
	}

	title, text, err := ExtractText(body)
	if err != nil {
		return nil, resilience.Permanent(err)
	}
	if IsChallengeText(text) {
		lim.OnRateLimit()
		return nil, resilience.NewRateLimitError(
			eris.Errorf("scrape: challenge page from %s", u.Host), resp.StatusCode, 0)
	}
	if text == "" {
		return nil, resilience.Permanent(eris.Errorf("scrape: empty page %s", rawURL))
	}

	lim.OnSuccess()
	return &Page{
		URL:        rawURL,
		Title:      title,
		Text:       text,
		StatusCode: resp.StatusCode,
	}, nil
}

// retryAfter parses a Retry-After header given in seconds.
func retryAfter(h http.Header) time.Duration {
	secs, err := strconv.Atoi(h.Get("Retry-After"))
	if err != nil || secs <= 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}
