package scrape

import (
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDetectBlock(t *testing.T) {
	tests := []struct {
		name   string
		status int
		header http.Header
		body   string
		kind   BlockKind
		signal string
	}{
		{"cloudflare 403 ray", 403, http.Header{"Cf-Ray": {"abc123"}}, "", BlockCloudflare, "cf-ray header"},
		{"cloudflare 503 server", 503, http.Header{"Server": {"Cloudflare"}}, "", BlockCloudflare, "server header"},
		{"cf header on 200 ignored", 200, http.Header{"Cf-Ray": {"abc123"}}, "<p>Iron Gym</p>", BlockNone, ""},
		{"cloudflare interstitial", 200, nil, "<title>Just a moment</title><div>Checking your browser</div>", BlockCloudflare, "checking your browser"},
		{"recaptcha", 200, nil, `<div class="g-recaptcha"></div>`, BlockCaptcha, "g-recaptcha"},
		{"generic captcha", 200, nil, "Please solve the CAPTCHA", BlockCaptcha, "captcha"},
		{"naver abuse wall", 200, nil, "<p>자동입력 방지를 위해 아래 문자를 입력해주세요</p>", BlockPortal, "자동입력 방지"},
		{"daum restriction", 200, nil, "<p>서비스 이용이 일시적으로 제한되었습니다</p>", BlockPortal, "일시적으로 제한"},
		{"noscript shell", 200, nil, "<html><noscript>Enable JavaScript to continue</noscript></html>", BlockJSShell, "noscript"},
		{"meta refresh", 200, nil, `<meta http-equiv="refresh" content="0;url=/x">`, BlockJSShell, "meta refresh"},
		{"clean page", 200, nil, "<body>Iron Gym Gangnam. Open 06:00 - 23:00, call 02-555-1234.</body>", BlockNone, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := tt.header
			if h == nil {
				h = http.Header{}
			}
			b := DetectBlock(&http.Response{StatusCode: tt.status, Header: h}, []byte(tt.body))
			assert.Equal(t, tt.kind, b.Kind)
			assert.Equal(t, tt.signal, b.Signal)
			assert.Equal(t, tt.kind != BlockNone, b.Blocked())
		})
	}
}

func TestDetectBlock_LargeNoscriptPageNotShell(t *testing.T) {
	body := "<noscript>javascript helps</noscript>" + strings.Repeat("<p>회원권 월 50,000원</p>", 200)
	b := DetectBlock(&http.Response{StatusCode: 200, Header: http.Header{}}, []byte(body))
	assert.False(t, b.Blocked())
}

func TestDetectBlock_NilResponse(t *testing.T) {
	assert.False(t, DetectBlock(nil, []byte("captcha")).Blocked())
}

func TestIsChallengeText(t *testing.T) {
	tests := []struct {
		name string
		text string
		want bool
	}{
		{"cloudflare interstitial", "Just a moment... please wait", true},
		{"korean bot wall", "비정상적인 접근이 감지되었습니다", true},
		{"korean restriction", "해당 페이지는 접근이 제한되었습니다", true},
		{"real content", "Iron Gym 02-555-1234 monthly 50,000원", false},
		{"long korean page", strings.Repeat("헬스장 ", 200) + "접근이 제한", false},
		{"empty", "  ", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsChallengeText(tt.text))
		})
	}
}
