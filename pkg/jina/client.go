// Package jina is a client for the Jina AI search API.
package jina

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rotisserie/eris"
)

// DefaultSearchURL is the hosted search endpoint.
const DefaultSearchURL = "https://s.jina.ai"

// maxBody caps how much of a response is read.
const maxBody = 4 << 20

// Client searches the web through Jina.
type Client interface {
	Search(ctx context.Context, query string, opts ...SearchOption) (*SearchResponse, error)
}

// SearchResponse is the decoded search payload.
type SearchResponse struct {
	Code int            `json:"code"`
	Data []SearchResult `json:"data"`
}

// SearchResult is one hit. Content is the page body when Jina inlined it.
type SearchResult struct {
	Title       string `json:"title"`
	URL         string `json:"url"`
	Description string `json:"description"`
	Content     string `json:"content"`
}

// Empty reports whether the response carries no hits.
func (r *SearchResponse) Empty() bool { return r == nil || len(r.Data) == 0 }

// StatusError is returned for a non-2xx answer. The client never retries;
// callers classify by Code.
type StatusError struct {
	Code       int
	Body       string
	RetryAfter time.Duration
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("jina: unexpected status %d: %s", e.Code, e.Body)
}

// request is the mutable part of one search call.
type request struct {
	params url.Values
	header http.Header
}

// SearchOption adjusts one search request.
type SearchOption func(*request)

// WithSite restricts hits to one domain.
func WithSite(domain string) SearchOption {
	return func(r *request) {
		if domain != "" {
			r.header.Set("X-Site", domain)
		}
	}
}

// WithLocale biases results toward a country (ISO 3166 code, e.g. "KR") and
// interface language (e.g. "ko").
func WithLocale(country, lang string) SearchOption {
	return func(r *request) {
		if country != "" {
			r.params.Set("gl", country)
		}
		if lang != "" {
			r.params.Set("hl", lang)
		}
	}
}

// WithLimit caps the number of hits returned.
func WithLimit(n int) SearchOption {
	return func(r *request) {
		if n > 0 {
			r.params.Set("num", strconv.Itoa(n))
		}
	}
}

// WithoutContent asks for titles and snippets only.
func WithoutContent() SearchOption {
	return func(r *request) { r.header.Set("X-Respond-With", "no-content") }
}

// Option configures the client.
type Option func(*httpClient)

// WithSearchBaseURL points the client at another endpoint (tests, proxies).
func WithSearchBaseURL(u string) Option {
	return func(c *httpClient) { c.baseURL = u }
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) { c.http = hc }
}

// WithDefaults applies opts to every search before per-call options.
func WithDefaults(opts ...SearchOption) Option {
	return func(c *httpClient) { c.defaults = append(c.defaults, opts...) }
}

type httpClient struct {
	apiKey   string
	baseURL  string
	http     *http.Client
	defaults []SearchOption
}

// NewClient creates a search client authenticated with apiKey.
func NewClient(apiKey string, opts ...Option) Client {
	c := &httpClient{
		apiKey:  apiKey,
		baseURL: DefaultSearchURL,
		http: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 8,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Search runs query. A 422 means Jina found nothing and is returned as an
// empty response.
func (c *httpClient) Search(ctx context.Context, query string, opts ...SearchOption) (*SearchResponse, error) {
	r := &request{params: url.Values{"q": {query}}, header: http.Header{}}
	for _, opt := range c.defaults {
		opt(r)
	}
	for _, opt := range opts {
		opt(r)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/?"+r.params.Encode(), nil)
	if err != nil {
		return nil, eris.Wrap(err, "jina: create search request")
	}
	req.Header = r.header
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "jina: search request")
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return nil, eris.Wrap(err, "jina: read search response")
	}

	switch {
	case resp.StatusCode == http.StatusUnprocessableEntity:
		return &SearchResponse{Code: resp.StatusCode}, nil
	case resp.StatusCode != http.StatusOK:
		return nil, newStatusError(resp.StatusCode, body, resp.Header)
	}

	var out SearchResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, eris.Wrap(err, "jina: decode search response")
	}
	return &out, nil
}

func newStatusError(code int, body []byte, h http.Header) *StatusError {
	se := &StatusError{Code: code, Body: string(body)}
	if len(se.Body) > 512 {
		se.Body = se.Body[:512]
	}
	if secs, err := strconv.Atoi(h.Get("Retry-After")); err == nil && secs > 0 {
		se.RetryAfter = time.Duration(secs) * time.Second
	}
	return se
}
