package server

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

// CORSConfig declares the origins allowed to reach the API and the proxy
// across domains; the course UI typically runs on a different host than the
// streaming backend. When the list is empty, only same-origin requests are
// permitted.
type CORSConfig struct {
	AllowedOrigins []string
}

type corsPolicy struct {
	allowed map[string]struct{}
}

func newCORSPolicy(cfg CORSConfig) (corsPolicy, error) {
	policy := corsPolicy{allowed: make(map[string]struct{})}
	for _, origin := range cfg.AllowedOrigins {
		normalized, err := normalizeOrigin(origin)
		if err != nil {
			return corsPolicy{}, fmt.Errorf("parse origin %q: %w", origin, err)
		}
		if normalized != "" {
			policy.allowed[normalized] = struct{}{}
		}
	}
	return policy, nil
}

func normalizeOrigin(origin string) (string, error) {
	origin = strings.TrimSpace(origin)
	if origin == "" {
		return "", nil
	}
	parsed, err := url.Parse(origin)
	if err != nil {
		return "", err
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return "", fmt.Errorf("origin must include scheme and host")
	}
	return strings.ToLower(parsed.Scheme + "://" + parsed.Host), nil
}

func (p corsPolicy) allows(origin string) bool {
	normalized, err := normalizeOrigin(origin)
	if err != nil || normalized == "" {
		return false
	}
	_, ok := p.allowed[normalized]
	return ok
}

func corsMiddleware(policy corsPolicy, next http.Handler) http.Handler {
	if len(policy.allowed) == 0 {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && policy.allows(origin) {
			headers := w.Header()
			headers.Set("Access-Control-Allow-Origin", origin)
			headers.Add("Vary", "Origin")
			headers.Set("Access-Control-Allow-Methods", "GET, POST, HEAD, OPTIONS")
			headers.Set("Access-Control-Allow-Headers", "Content-Type, Range, X-Request-Id")
			headers.Set("Access-Control-Expose-Headers", "Content-Range, Accept-Ranges, X-Request-Id")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
