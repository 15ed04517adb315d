package crawl

import (
	"net/http"
	"strings"
)

// blockKind describes anti-bot protection seen on a response.
type blockKind string

const (
	blockNone       blockKind = ""
	blockCloudflare blockKind = "cloudflare"
	blockCaptcha    blockKind = "captcha"
)

// detectBlock reports whether a response is a bot challenge rather than
// site content. Challenge pages often mention contact forms, so their text
// must not reach the scorer.
func detectBlock(resp *http.Response, body []byte) (bool, blockKind) {
	if resp == nil {
		return false, blockNone
	}

	if resp.StatusCode == http.StatusForbidden || resp.StatusCode == http.StatusServiceUnavailable {
		if resp.Header.Get("cf-ray") != "" || strings.EqualFold(resp.Header.Get("Server"), "cloudflare") {
			return true, blockCloudflare
		}
	}

	lower := strings.ToLower(string(body))
	if strings.Contains(lower, "checking your browser") || strings.Contains(lower, "cf-browser-verification") {
		return true, blockCloudflare
	}
	if len(body) < 4096 && (strings.Contains(lower, "g-recaptcha") || strings.Contains(lower, "h-captcha")) {
		return true, blockCaptcha
	}
	return false, blockNone
}
