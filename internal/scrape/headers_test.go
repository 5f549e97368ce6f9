package scrape

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRoundRobinHeaders(t *testing.T) {
	r := NewRoundRobinHeaders([]string{"ua1", "ua2"}, []string{"ko", "en", "ja"})

	first := r.Next()
	assert.Equal(t, "ua1", first.Get("User-Agent"))
	assert.Equal(t, "ko", first.Get("Accept-Language"))
	assert.NotEmpty(t, first.Get("Accept"))

	second := r.Next()
	assert.Equal(t, "ua2", second.Get("User-Agent"))
	assert.Equal(t, "en", second.Get("Accept-Language"))

	third := r.Next()
	assert.Equal(t, "ua1", third.Get("User-Agent"))
	assert.Equal(t, "ja", third.Get("Accept-Language"))
}

func TestRoundRobinHeaders_Defaults(t *testing.T) {
	r := NewRoundRobinHeaders(nil, nil)
	h := r.Next()
	assert.Equal(t, defaultUserAgents[0], h.Get("User-Agent"))
	assert.Equal(t, defaultAcceptLanguages[0], h.Get("Accept-Language"))
}
