package proxy

import (
	"net"
	"strings"
)

// whitelistedPaths bypass both the host-allowlist check and (for
// non-OPTIONS requests) authentication.
var whitelistedPaths = []string{"/", "/openapi.json", "/favicon.ico", "/healthz"}

func isWhitelistedPath(path string) bool {
	for _, p := range whitelistedPaths {
		if p == path {
			return true
		}
	}
	return strings.HasPrefix(path, "/docs/")
}

// TrustedHostPattern is one alternative host value or wildcard pattern.
// Config.TrustedHosts is a flat list of these; a Host matches if any
// pattern in the list matches it.
type TrustedHostPattern string

// hostTrusted reports whether host matches any entry in patterns. A
// pattern of "*" matches everything; a leading "*." matches any subdomain
// of the remainder; otherwise an exact (case-insensitive, port-stripped)
// match is required.
func hostTrusted(host string, patterns []TrustedHostPattern) bool {
	bare := stripPort(host)
	for _, p := range patterns {
		pat := string(p)
		switch {
		case pat == "*":
			return true
		case strings.HasPrefix(pat, "*."):
			suffix := pat[1:] // keep leading dot
			if strings.HasSuffix(bare, suffix) || bare == pat[2:] {
				return true
			}
		default:
			if strings.EqualFold(bare, pat) {
				return true
			}
		}
	}
	return false
}

func stripPort(host string) string {
	if h, _, err := net.SplitHostPort(host); err == nil {
		return h
	}
	return host
}
