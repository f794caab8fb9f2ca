package server

import "net/http"

const (
	defaultFrameOptions       = "DENY"
	defaultReferrerPolicy     = "no-referrer"
	defaultContentTypeOptions = "nosniff"
	// The service only speaks JSON; a deny-all CSP keeps any reflected
	// response inert if a browser ever renders one.
	defaultContentSecurityPolicy = "default-src 'none'; frame-ancestors 'none'"
)

// SecurityConfig controls the hardening headers attached to every response.
// Zero-valued fields fall back to the API-appropriate defaults.
type SecurityConfig struct {
	ContentSecurityPolicy string
	FrameOptions          string
	ReferrerPolicy        string
	ContentTypeOptions    string
}

func (cfg SecurityConfig) withDefaults() SecurityConfig {
	if cfg.ContentSecurityPolicy == "" {
		cfg.ContentSecurityPolicy = defaultContentSecurityPolicy
	}
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
	effective := cfg.withDefaults()

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Security-Policy", effective.ContentSecurityPolicy)
		w.Header().Set("X-Frame-Options", effective.FrameOptions)
		w.Header().Set("X-Content-Type-Options", effective.ContentTypeOptions)
		w.Header().Set("Referrer-Policy", effective.ReferrerPolicy)

		next.ServeHTTP(w, r)
	})
}
