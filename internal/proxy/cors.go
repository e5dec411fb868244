package proxy

import (
	"net/http"
	"strings"
)

// allowedMethods is the full method allow-list enforced for every request,
// preflight or not.
var allowedMethods = []string{"GET", "POST", "PUT", "DELETE", "OPTIONS", "PATCH"}

func methodAllowed(method string) bool {
	for _, m := range allowedMethods {
		if m == method {
			return true
		}
	}
	return false
}

// allowedPreflightHeaders is the case-insensitive allow-list for
// Access-Control-Request-Headers. x-stainless-* covers the OpenAI JS SDK's
// client metadata headers.
var allowedPreflightHeaders = []string{
	"accept", "accept-language", "authorization", "cache-control", "connection",
	"content-type", "dnt", "host", "if-modified-since", "keep-alive", "origin",
	"user-agent", "x-api-key", "x-csrf-token", "x-forwarded-for", "x-forwarded-host",
	"x-forwarded-proto", "x-requested-with",
	"x-stainless-arch", "x-stainless-lang", "x-stainless-os", "x-stainless-package-version",
	"x-stainless-retry-count", "x-stainless-runtime", "x-stainless-runtime-version",
	"x-stainless-timeout",
}

func preflightHeaderAllowed(header string) bool {
	h := strings.ToLower(strings.TrimSpace(header))
	if strings.HasPrefix(h, "x-stainless-") {
		for _, allowed := range allowedPreflightHeaders {
			if allowed == h {
				return true
			}
		}
		return false
	}
	for _, allowed := range allowedPreflightHeaders {
		if allowed == h {
			return true
		}
	}
	return false
}

func allPreflightHeadersAllowed(requested string) bool {
	if requested == "" {
		return true
	}
	for _, h := range strings.Split(requested, ",") {
		if !preflightHeaderAllowed(h) {
			return false
		}
	}
	return true
}

const corsAllowHeadersValue = "Authorization, Content-Type, X-Api-Key, X-Requested-With, Origin, " +
	"Accept, Accept-Language, Cache-Control, Connection, DNT, Host, If-Modified-Since, Keep-Alive, " +
	"User-Agent, X-CSRF-Token, X-Forwarded-For, X-Forwarded-Host, X-Forwarded-Proto, X-Stainless-Arch, " +
	"X-Stainless-Lang, X-Stainless-OS, X-Stainless-Package-Version, X-Stainless-Retry-Count, " +
	"X-Stainless-Runtime, X-Stainless-Runtime-Version, X-Stainless-Timeout"

const corsAllowMethodsValue = "GET, POST, PUT, DELETE, OPTIONS, PATCH"

// applyCORSHeaders sets the CORS response headers shared by every
// non-preflight reply the proxy sends, whether self-generated or copied
// from upstream.
func applyCORSHeaders(h http.Header, origin string) {
	if origin != "" {
		h.Set("Access-Control-Allow-Origin", origin)
		h.Set("Access-Control-Allow-Credentials", "true")
	} else {
		h.Set("Access-Control-Allow-Origin", "*")
	}
	h.Set("Access-Control-Allow-Methods", corsAllowMethodsValue)
	h.Set("Access-Control-Allow-Headers", corsAllowHeadersValue)
	h.Set("Vary", "Origin")
}

func handlePreflight(w http.ResponseWriter, r *http.Request, trusted []TrustedHostPattern) {
	if requested := r.Header.Get("Access-Control-Request-Method"); requested != "" && !methodAllowed(requested) {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if !isWhitelistedPath(r.URL.Path) {
		if r.Host == "" || !hostTrusted(r.Host, trusted) {
			http.Error(w, "untrusted host", http.StatusForbidden)
			return
		}
	}
	if !allPreflightHeadersAllowed(r.Header.Get("Access-Control-Request-Headers")) {
		http.Error(w, "header not allowed", http.StatusForbidden)
		return
	}

	origin := r.Header.Get("Origin")
	h := w.Header()
	if origin != "" {
		h.Set("Access-Control-Allow-Origin", origin)
		h.Set("Access-Control-Allow-Credentials", "true")
	} else {
		h.Set("Access-Control-Allow-Origin", "*")
	}
	h.Set("Access-Control-Allow-Methods", corsAllowMethodsValue)
	h.Set("Access-Control-Allow-Headers", corsAllowHeadersValue)
	h.Set("Access-Control-Max-Age", "86400")
	h.Set("Vary", "Origin, Access-Control-Request-Method, Access-Control-Request-Headers")
	w.WriteHeader(http.StatusOK)
}
