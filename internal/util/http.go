// Package util holds small helpers shared across the proxy that don't
// belong to any one domain package: HTTP client wiring, log scrubbing.
package util

import (
	"net/http"
	"net/url"
	"regexp"

	"github.com/petehsu/KiroProxy/internal/config"
	log "github.com/sirupsen/logrus"
)

// SetProxy applies cfg's proxy-url and request-timeout to client, returning
// it for chaining. A malformed proxy URL is logged and left unset rather
// than failing client construction.
func SetProxy(cfg *config.SDKConfig, client *http.Client) *http.Client {
	if cfg == nil {
		return client
	}
	if cfg.RequestTimeout > 0 {
		client.Timeout = cfg.RequestTimeout
	}
	if cfg.ProxyURL == "" {
		return client
	}
	proxyURL, err := url.Parse(cfg.ProxyURL)
	if err != nil {
		log.Warnf("util: invalid proxy-url %q: %v", cfg.ProxyURL, err)
		return client
	}
	transport, ok := client.Transport.(*http.Transport)
	if !ok || transport == nil {
		transport = http.DefaultTransport.(*http.Transport).Clone()
	} else {
		transport = transport.Clone()
	}
	transport.Proxy = http.ProxyURL(proxyURL)
	client.Transport = transport
	return client
}

var sensitiveQueryParam = regexp.MustCompile(`(?i)(token|secret|key|password|refresh_token|access_token)=[^&]+`)

// MaskSensitiveQuery redacts credential-bearing query parameters from a URL
// or path before it is written to the request log.
func MaskSensitiveQuery(raw string) string {
	return sensitiveQueryParam.ReplaceAllString(raw, "$1=***")
}

// GetProviderName maps an account's auth method to the human-facing
// provider label used in logs and API responses.
func GetProviderName(authMethod string) string {
	switch authMethod {
	case "idc", "builder-id":
		return "AWS"
	case "social":
		return "Kiro"
	default:
		return "unknown"
	}
}
