package scrape

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/facility-cli/internal/config"
	"github.com/sells-group/facility-cli/internal/resilience"
)

const gymPage = `<html><head><title>Iron Gym Gangnam</title>
<meta name="description" content="Gangnam fitness center"></head>
<body>
<header><a href="tel:025551234">02-555-1234</a></header>
<script>var tracking = true;</script>
<div>Open 06:00 - 23:00</div>
<ul><li>Monthly 50,000원</li><li>Shower, Parking</li></ul>
</body></html>`

func fastFetcher() *HTTPFetcher {
	return NewHTTPFetcher(HTTPOptions{RatePerHost: 1000, Timeout: 5 * time.Second})
}

func TestFetch_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NotEmpty(t, r.Header.Get("User-Agent"))
		assert.NotEmpty(t, r.Header.Get("Accept-Language"))
		w.Write([]byte(gymPage))
	}))
	defer srv.Close()

	page, err := fastFetcher().Fetch(context.Background(), srv.URL+"/gym")
	require.NoError(t, err)
	assert.Equal(t, "Iron Gym Gangnam", page.Title)
	assert.Equal(t, 200, page.StatusCode)
	assert.Contains(t, page.Text, "02-555-1234")
	assert.Contains(t, page.Text, "Open 06:00 - 23:00")
	assert.NotContains(t, page.Text, "tracking")
}

func TestFetch_RateLimited(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "12")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	f := fastFetcher()
	_, err := f.Fetch(context.Background(), srv.URL)
	require.Error(t, err)

	var rl *resilience.RateLimitError
	require.True(t, errors.As(err, &rl))
	assert.Equal(t, 12*time.Second, rl.RetryAfter)

	host := strings.TrimPrefix(srv.URL, "http://")
	assert.InDelta(t, 500.0, float64(f.Limiter(host).Limit()), 0.1)
}

func TestFetch_StatusClassification(t *testing.T) {
	tests := []struct {
		status    int
		transient bool
		permanent bool
	}{
		{http.StatusServiceUnavailable, true, false},
		{http.StatusBadGateway, true, false},
		{http.StatusNotFound, false, true},
		{http.StatusGone, false, true},
	}
	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte("<html><body>" + strings.Repeat("error page ", 300) + "</body></html>"))
			}))
			defer srv.Close()

			_, err := fastFetcher().Fetch(context.Background(), srv.URL)
			require.Error(t, err)
			assert.Equal(t, tt.transient, resilience.IsTransient(err))
			assert.Equal(t, tt.permanent, resilience.IsPermanent(err))
		})
	}
}

func TestFetch_BlockedPage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<html><body>Please complete the reCAPTCHA to continue</body></html>"))
	}))
	defer srv.Close()

	_, err := fastFetcher().Fetch(context.Background(), srv.URL)
	assert.True(t, resilience.IsRateLimited(err))
}

func TestFetch_EmptyPage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<html><body>   </body></html>"))
	}))
	defer srv.Close()

	_, err := fastFetcher().Fetch(context.Background(), srv.URL)
	assert.True(t, resilience.IsPermanent(err))
}

func TestFetch_ExcludedAndInvalid(t *testing.T) {
	f := fastFetcher()

	_, err := f.Fetch(context.Background(), "https://irongym.kr/member/login")
	assert.True(t, resilience.IsPermanent(err))

	_, err = f.Fetch(context.Background(), "not a url")
	assert.True(t, resilience.IsPermanent(err))
}

func TestFetch_CustomExclude(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Write([]byte(gymPage))
	}))
	defer srv.Close()

	f := NewHTTPFetcher(HTTPOptions{RatePerHost: 1000, Exclude: []string{"/event/*"}})

	_, err := f.Fetch(context.Background(), srv.URL+"/event/summer")
	require.Error(t, err)
	assert.True(t, resilience.IsPermanent(err))
	assert.Contains(t, err.Error(), `"/event/*"`)

	_, err = f.Fetch(context.Background(), srv.URL+"/member/login")
	require.NoError(t, err, "custom patterns replace the defaults")
	assert.Equal(t, int32(1), hits.Load())
}

func TestFetch_ContextCancelled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(gymPage))
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := fastFetcher().Fetch(ctx, srv.URL)
	assert.Error(t, err)
}

func TestFetch_RotatesHeaders(t *testing.T) {
	var (
		mu     sync.Mutex
		agents []string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		agents = append(agents, r.Header.Get("User-Agent"))
		mu.Unlock()
		w.Write([]byte(gymPage))
	}))
	defer srv.Close()

	f := NewHTTPFetcher(HTTPOptions{RatePerHost: 1000, UserAgents: []string{"a", "b"}})
	for range 3 {
		_, err := f.Fetch(context.Background(), srv.URL)
		require.NoError(t, err)
	}
	assert.Equal(t, []string{"a", "b", "a"}, agents)
}

func TestFromConfig(t *testing.T) {
	opts := FromConfig(config.FetchConfig{TimeoutSecs: 7, MaxBodyKB: 64, RatePerHost: 2, ExcludePaths: []string{"/event/*"}})
	assert.Equal(t, []string{"/event/*"}, opts.Exclude)
	assert.Equal(t, 7*time.Second, opts.Timeout)
	assert.Equal(t, int64(64*1024), opts.MaxBodyBytes)
	assert.InDelta(t, 2.0, opts.RatePerHost, 0.001)
}

func TestRetryAfter(t *testing.T) {
	assert.Equal(t, 3*time.Second, retryAfter(http.Header{"Retry-After": {"3"}}))
	assert.Zero(t, retryAfter(http.Header{"Retry-After": {"Wed, 21 Oct 2026 07:28:00 GMT"}}))
	assert.Zero(t, retryAfter(http.Header{}))
}
