package server

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"mediaforge/internal/api"
	"mediaforge/internal/observability/logging"
	"mediaforge/internal/observability/metrics"
)

type TLSConfig struct {
	CertFile string
	KeyFile  string
}

type Config struct {
	Addr string
	TLS  TLSConfig
	// APIToken is the shared bearer token presented by internal
	// collaborators (upload service, creator dashboard backend).
	APIToken  string
	RateLimit RateLimitConfig
	Security  SecurityConfig
	Logger    *slog.Logger
	Metrics   *metrics.Recorder
}

type Server struct {
	httpServer  *http.Server
	logger      *slog.Logger
	metrics     *metrics.Recorder
	rateLimiter *rateLimiter
	tlsCertFile string
	tlsKeyFile  string
}

func New(handler *api.Handler, cfg Config) (*Server, error) {
	token := strings.TrimSpace(cfg.APIToken)
	if token == "" {
		return nil, fmt.Errorf("api token is required")
	}
	recorder := cfg.Metrics
	if recorder == nil {
		recorder = metrics.Default()
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", handler.Health)
	mux.Handle("/metrics", recorder.Handler())
	mux.HandleFunc("/api/media", handler.Media)
	mux.HandleFunc("/api/media/", handler.MediaByID)
	mux.HandleFunc("/api/webhooks/transcode", handler.TranscodeWebhook)

	rl := newRateLimiter(cfg.RateLimit)
	chain := http.Handler(mux)
	chain = authMiddleware(token, chain)
	chain = rateLimitMiddleware(rl, cfg.Logger, chain)
	chain = securityHeadersMiddleware(cfg.Security, chain)
	chain = metrics.HTTPMiddleware(recorder, chain)
	chain = logging.RequestLogger(logging.RequestLoggerConfig{Logger: cfg.Logger})(chain)
	chain = requestIDMiddleware(cfg.Logger, chain)

	httpServer := &http.Server{
		Addr:              cfg.Addr,
		Handler:           chain,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	srv := &Server{
		httpServer:  httpServer,
		logger:      cfg.Logger,
		metrics:     recorder,
		rateLimiter: rl,
		tlsCertFile: strings.TrimSpace(cfg.TLS.CertFile),
		tlsKeyFile:  strings.TrimSpace(cfg.TLS.KeyFile),
	}

	if srv.tlsCertFile != "" && srv.tlsKeyFile != "" {
		httpServer.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	return srv, nil
}

func (s *Server) Start() error {
	if s.httpServer == nil {
		return fmt.Errorf("http server is not configured")
	}

	if s.tlsCertFile != "" && s.tlsKeyFile != "" {
		return s.httpServer.ListenAndServeTLS(s.tlsCertFile, s.tlsKeyFile)
	}

	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	if s.rateLimiter != nil {
		s.rateLimiter.Close()
	}
	return s.httpServer.Shutdown(ctx)
}

// Handler exposes the assembled middleware chain for tests.
func (s *Server) Handler() http.Handler {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Handler
}

// authMiddleware enforces the shared collaborator token on API routes. The
// webhook path is excluded: its HMAC signature is the stronger credential and
// the provider does not hold the collaborator token.
func authMiddleware(token string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := r.URL.Path
		if path == "/healthz" || path == "/metrics" || path == "/api/webhooks/transcode" || !strings.HasPrefix(path, "/api/") {
			next.ServeHTTP(w, r)
			return
		}
		if !api.TokenMatches(api.ExtractToken(r), token) {
			writeMiddlewareError(w, http.StatusUnauthorized, "missing or invalid bearer token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func rateLimitMiddleware(rl *rateLimiter, logger *slog.Logger, next http.Handler) http.Handler {
	if rl == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !rl.AllowRequest() {
			writeMiddlewareError(w, http.StatusTooManyRequests, "global rate limit exceeded")
			return
		}
		if isThrottledMutation(r) {
			ip := extractClientIP(r)
			allowed, retryAfter, err := rl.AllowMutation(ip)
			if err != nil {
				if logger != nil {
					logger.Error("rate limiter failure", "error", err)
				}
				writeMiddlewareError(w, http.StatusServiceUnavailable, "rate limit failure")
				return
			}
			if !allowed {
				if retryAfter > 0 {
					w.Header().Set("Retry-After", fmt.Sprintf("%.0f", retryAfter.Seconds()))
				}
				writeMiddlewareError(w, http.StatusTooManyRequests, "too many transcode requests")
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

// isThrottledMutation matches the endpoints that reach the provider or write
// records. Webhook deliveries are never throttled: dropping a completion
// callback would strand records in the transcoding state.
func isThrottledMutation(r *http.Request) bool {
	if r.Method != http.MethodPost {
		return false
	}
	if r.URL.Path == "/api/webhooks/transcode" {
		return false
	}
	return strings.HasPrefix(r.URL.Path, "/api/media")
}

func extractClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		parts := strings.Split(xff, ",")
		if len(parts) > 0 {
			return strings.TrimSpace(parts[0])
		}
	}
	if xrip := r.Header.Get("X-Real-IP"); xrip != "" {
		return strings.TrimSpace(xrip)
	}
	return clientIP(r.RemoteAddr)
}

func clientIP(remoteAddr string) string {
	if remoteAddr == "" {
		return ""
	}
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return remoteAddr
	}
	return host
}
