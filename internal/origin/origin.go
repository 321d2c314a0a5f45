// Package origin decides whether a browser Origin header may open a
// WebSocket connection against this server.
package origin

import (
	"net/url"
	"strings"
)

// Allowed applies the origin policy to a raw Origin header value.
//
// An empty header is allowed: non-browser clients (CLI tools, server-side
// integrations) don't send one. When allowedOrigins is non-empty, each entry
// must be "*" or an origin of the form scheme://host[:port]. Otherwise the
// policy is same-host: the origin's host[:port] must match the request's Host
// header, scheme ignored because a TLS-terminating proxy may sit in front.
func Allowed(originHeader, requestHost string, allowedOrigins []string) bool {
	raw := strings.TrimSpace(originHeader)
	if raw == "" {
		return true
	}

	normalized, host, ok := normalize(raw)
	if !ok {
		return false
	}

	if len(allowedOrigins) > 0 {
		for _, allowed := range allowedOrigins {
			if allowed == "*" {
				return true
			}
			if n, _, ok := normalize(allowed); ok && n == normalized {
				return true
			}
		}
		return false
	}

	reqHost, ok := normalizeHost(requestHost)
	if !ok {
		return false
	}
	return host == reqHost
}

// normalize parses an origin into canonical scheme://host[:port] form,
// lowercased, with default ports stripped. Sandboxed iframes send the opaque
// origin "null", which never matches any policy here.
func normalize(raw string) (normalized, host string, ok bool) {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" || u.User != nil || u.RawQuery != "" || u.Fragment != "" {
		return "", "", false
	}
	if u.Path != "" && u.Path != "/" {
		return "", "", false
	}

	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return "", "", false
	}

	hostname := strings.ToLower(u.Hostname())
	if hostname == "" {
		return "", "", false
	}
	port := u.Port()
	if (scheme == "http" && port == "80") || (scheme == "https" && port == "443") {
		port = ""
	}

	host = hostname
	if strings.Contains(hostname, ":") {
		host = "[" + hostname + "]"
	}
	if port != "" {
		host += ":" + port
	}
	return scheme + "://" + host, host, true
}

// normalizeHost canonicalizes a request Host header for comparison, stripping
// the standard web ports since the origin side strips them too.
func normalizeHost(requestHost string) (string, bool) {
	trimmed := strings.ToLower(strings.TrimSpace(requestHost))
	if trimmed == "" {
		return "", false
	}
	// Borrow URL parsing for the authority to handle IPv6 literals.
	u, err := url.Parse("http://" + trimmed)
	if err != nil || u.Hostname() == "" {
		return "", false
	}

	host := u.Hostname()
	if strings.Contains(host, ":") {
		host = "[" + host + "]"
	}
	if port := u.Port(); port != "" && port != "80" && port != "443" {
		host += ":" + port
	}
	return host, true
}
