package server

import "net/http"

const (
	defaultFrameOptions       = "DENY"
	defaultReferrerPolicy     = "no-referrer"
	defaultContentTypeOptions = "nosniff"
)

// SecurityConfig controls the hardening headers attached to every response.
// Media responses in particular must never be MIME-sniffed into something a
// browser executes. Zero-valued fields fall back to safe defaults.
type SecurityConfig struct {
	FrameOptions       string
	ReferrerPolicy     string
	ContentTypeOptions string
}

func (cfg SecurityConfig) withDefaults() SecurityConfig {
	if cfg.FrameOptions == "" {
		cfg.FrameOptions = defaultFrameOptions
	}
	if cfg.ReferrerPolicy == "" {
		cfg.ReferrerPolicy = defaultReferrerPolicy
	}
	if cfg.ContentTypeOptions == "" {
		cfg.ContentTypeOptions = defaultContentTypeOptions
	}
	return cfg
}

func securityHeadersMiddleware(cfg SecurityConfig, next http.Handler) http.Handler {
	cfg = cfg.withDefaults()
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		headers := w.Header()
		headers.Set("X-Frame-Options", cfg.FrameOptions)
		headers.Set("Referrer-Policy", cfg.ReferrerPolicy)
		headers.Set("X-Content-Type-Options", cfg.ContentTypeOptions)
		next.ServeHTTP(w, r)
	})
}
