package browser

import (
	"net/http"
	"strings"
)

// BlockKind names the anti-automation page a portal answered with.
type BlockKind string

// Block kinds.
const (
	BlockNone       BlockKind = ""
	BlockCloudflare BlockKind = "cloudflare"
	BlockCaptcha    BlockKind = "captcha"
	BlockJSShell    BlockKind = "js_shell"
)

// BlockedError is returned when a page turned out to be an anti-bot
// interstitial instead of the portal. Solving it is out of reach for the
// form driver, so the row fails with the kind of block.
type BlockedError struct {
	Kind BlockKind
	URL  string
}

func (e *BlockedError) Error() string {
	return "browser: " + string(e.Kind) + " block page at " + e.URL
}

// DetectBlock checks a response for signs of anti-bot protection.
func DetectBlock(status int, header http.Header, body []byte) BlockKind {
	// Cloudflare: 403/503 with cf-* headers.
	if status == http.StatusForbidden || status == http.StatusServiceUnavailable {
		if header.Get("cf-ray") != "" || header.Get("cf-cache-status") != "" {
			return BlockCloudflare
		}
		if strings.EqualFold(header.Get("server"), "cloudflare") {
			return BlockCloudflare
		}
	}

	lower := strings.ToLower(string(body))

	if strings.Contains(lower, "checking your browser") ||
		strings.Contains(lower, "cf-browser-verification") ||
		strings.Contains(lower, "cloudflare") && strings.Contains(lower, "challenge") {
		return BlockCloudflare
	}

	if strings.Contains(lower, "g-recaptcha") ||
		strings.Contains(lower, "h-captcha") ||
		strings.Contains(lower, "hcaptcha.com") ||
		strings.Contains(lower, "recaptcha/api.js") {
		return BlockCaptcha
	}

	// JS-only shell: tiny body that only asks for JavaScript or refreshes.
	if len(body) < 2000 {
		if strings.Contains(lower, "<noscript") && strings.Contains(lower, "javascript") && !strings.Contains(lower, "<form") {
			return BlockJSShell
		}
		if strings.Contains(lower, `meta http-equiv="refresh"`) {
			return BlockJSShell
		}
	}

	return BlockNone
}
