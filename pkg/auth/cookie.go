package auth

import (
	"net/url"
)

// CookieSettings contains cookie security settings derived from the server's
// public base URL.
type CookieSettings struct {
	// Secure indicates whether the cookie should only be sent over HTTPS.
	Secure bool
	// Domain is the cookie domain scope (e.g., ".example.com" for
	// cross-subdomain sharing). Empty means host-only.
	Domain string
}

// DeriveCookieSettings automatically determines cookie security settings
// from the base URL:
//   - Local development (http://localhost:8080) → Secure: false, Domain: ""
//   - Anything else → Secure per scheme, host-only cookie
//
// The configCookieDomain parameter allows an explicit override when
// subdomain deployments need to share the same session.
func DeriveCookieSettings(baseURL string, configCookieDomain string) CookieSettings {
	// If cookie_domain is explicitly set in config, use it with scheme-based Secure
	if configCookieDomain != "" {
		return CookieSettings{
			Secure: isHTTPS(baseURL),
			Domain: configCookieDomain,
		}
	}

	parsedURL, err := url.Parse(baseURL)
	if err != nil || baseURL == "" {
		// Safe defaults for invalid URLs
		return CookieSettings{Secure: true, Domain: ""}
	}

	hostname := parsedURL.Hostname()
	if hostname == "localhost" || hostname == "127.0.0.1" {
		// Local development: no domain restriction, allow HTTP
		return CookieSettings{Secure: false, Domain: ""}
	}

	return CookieSettings{
		Secure: parsedURL.Scheme != "http",
		Domain: "",
	}
}

// isHTTPS determines if the given base URL uses HTTPS protocol.
// Returns true for HTTPS, false for HTTP, true for empty/invalid URLs (safe default).
func isHTTPS(baseURL string) bool {
	if baseURL == "" {
		return true
	}

	parsedURL, err := url.Parse(baseURL)
	if err != nil {
		return true
	}

	return parsedURL.Scheme != "http"
}
