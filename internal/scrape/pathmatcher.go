package scrape

import (
	"net/url"
	"path"
	"strings"
)

// Login walls, carts and downloads never carry facility facts.
var defaultExcludePatterns = []string{
	"/login",
	"/login/*",
	"/member/*",
	"/cart/*",
	"/*.pdf",
}

type pathRule struct {
	raw  string
	host string // empty matches any host
	glob string
	tree bool // glob ended in "/*": also match everything below the directory
}

// PathMatcher rejects URLs whose path matches one of a set of globs. A
// pattern may be qualified with a host ("m.place.naver.com/reservation/*").
// Matching is case-insensitive.
type PathMatcher struct {
	rules []pathRule
}

// NewPathMatcher compiles patterns, falling back to the defaults when none
// are given.
func NewPathMatcher(patterns []string) *PathMatcher {
	if len(patterns) == 0 {
		patterns = defaultExcludePatterns
	}
	m := &PathMatcher{rules: make([]pathRule, 0, len(patterns))}
	for _, p := range patterns {
		if r, ok := compileRule(p); ok {
			m.rules = append(m.rules, r)
		}
	}
	return m
}

func compileRule(p string) (pathRule, bool) {
	p = strings.ToLower(strings.TrimSpace(p))
	if p == "" {
		return pathRule{}, false
	}
	r := pathRule{raw: p, glob: p}
	if !strings.HasPrefix(p, "/") {
		i := strings.IndexByte(p, '/')
		if i < 0 {
			r.host, r.glob = p, "/*"
			r.tree = true
			return r, true
		}
		r.host, r.glob = p[:i], p[i:]
	}
	if strings.HasSuffix(r.glob, "/*") {
		r.tree = true
	}
	return r, true
}

func (r pathRule) match(host, p string) bool {
	if r.host != "" && r.host != host {
		return false
	}
	if ok, _ := path.Match(r.glob, p); ok {
		return true
	}
	if !r.tree {
		return false
	}
	dir := strings.TrimSuffix(r.glob, "/*")
	if strings.ContainsAny(dir, "*?[") {
		// "/branch/*/booking/*" style: match the directory part segment-wise.
		return matchDirPrefix(dir, p)
	}
	return p == dir || strings.HasPrefix(p, dir+"/")
}

// matchDirPrefix reports whether the leading segments of p match dir.
func matchDirPrefix(dir, p string) bool {
	n := strings.Count(dir, "/")
	segs := strings.SplitAfterN(p, "/", n+2)
	if len(segs) < n+1 {
		return false
	}
	head := strings.TrimSuffix(strings.Join(segs[:n+1], ""), "/")
	ok, _ := path.Match(dir, head)
	return ok
}

// Match reports the first pattern that excludes u.
func (m *PathMatcher) Match(u *url.URL) (string, bool) {
	host := strings.ToLower(u.Hostname())
	p := strings.ToLower(u.Path)
	if p == "" {
		p = "/"
	}
	for _, r := range m.rules {
		if r.match(host, p) {
			return r.raw, true
		}
	}
	return "", false
}

// IsExcluded parses rawURL and matches it. Unparseable URLs are excluded.
func (m *PathMatcher) IsExcluded(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return true
	}
	_, ok := m.Match(u)
	return ok
}

// Patterns returns the compiled patterns in their normalized form.
func (m *PathMatcher) Patterns() []string {
	out := make([]string, len(m.rules))
	for i, r := range m.rules {
		out[i] = r.raw
	}
	return out
}
