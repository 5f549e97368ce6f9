package scrape

import (
	"bytes"
	"net/http"
	"strings"
)

// BlockKind names the anti-bot mechanism that answered instead of the site.
type BlockKind string

const (
	BlockNone       BlockKind = ""
	BlockCloudflare BlockKind = "cloudflare"
	BlockCaptcha    BlockKind = "captcha"
	BlockJSShell    BlockKind = "js_shell"
	// BlockPortal is a Korean portal's abuse wall (Naver, Daum/Kakao).
	BlockPortal BlockKind = "portal"
)

// Block is the outcome of inspecting a response. Signal is the marker that
// triggered it, for logs.
type Block struct {
	Kind   BlockKind
	Signal string
}

// Blocked reports whether a block was detected.
func (b Block) Blocked() bool { return b.Kind != BlockNone }

type signature struct {
	kind   BlockKind
	marker string
}

// Checked in order against the lowercased body.
var bodySignatures = []signature{
	{BlockCloudflare, "checking your browser"},
	{BlockCloudflare, "cf-browser-verification"},
	{BlockCloudflare, "cf-chl-"},
	{BlockPortal, "자동입력 방지"},
	{BlockPortal, "비정상적인 접근"},
	{BlockPortal, "일시적으로 제한"},
	{BlockCaptcha, "g-recaptcha"},
	{BlockCaptcha, "h-captcha"},
	{BlockCaptcha, "captcha"},
}

// shellBodyLimit is the size under which a noscript page counts as an empty JS shell.
const shellBodyLimit = 2048

// DetectBlock inspects status, headers, and body for an anti-bot response.
func DetectBlock(resp *http.Response, body []byte) Block {
	if resp == nil {
		return Block{}
	}

	if resp.StatusCode == http.StatusForbidden || resp.StatusCode == http.StatusServiceUnavailable {
		switch {
		case resp.Header.Get("Cf-Ray") != "":
			return Block{BlockCloudflare, "cf-ray header"}
		case strings.EqualFold(resp.Header.Get("Server"), "cloudflare"):
			return Block{BlockCloudflare, "server header"}
		}
	}

	lower := bytes.ToLower(body)
	for _, sig := range bodySignatures {
		if bytes.Contains(lower, []byte(sig.marker)) {
			return Block{sig.kind, sig.marker}
		}
	}

	if len(body) < shellBodyLimit {
		if bytes.Contains(lower, []byte("<noscript")) && bytes.Contains(lower, []byte("javascript")) {
			return Block{BlockJSShell, "noscript"}
		}
		if bytes.Contains(lower, []byte(`http-equiv="refresh"`)) {
			return Block{BlockJSShell, "meta refresh"}
		}
	}

	return Block{}
}

// Short extracted text containing one of these is an interstitial.
var challengePhrases = []string{
	"just a moment",
	"enable javascript",
	"please enable cookies",
	"attention required",
	"access denied",
	"403 forbidden",
	"비정상적인 접근",
	"자동입력 방지",
	"접근이 제한",
}

// challengeTextLimit is the rune count above which text is treated as real content.
const challengeTextLimit = 600

// IsChallengeText reports whether extracted page text is a short
// interstitial rather than facility content.
func IsChallengeText(text string) bool {
	text = strings.TrimSpace(text)
	if text == "" || len([]rune(text)) > challengeTextLimit {
		return false
	}
	lower := strings.ToLower(text)
	for _, p := range challengePhrases {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}
