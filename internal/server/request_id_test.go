package server

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"mediaforge/internal/observability/logging"
)

func TestRequestIDMiddlewareGeneratesID(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	var seenID string
	handler := requestIDMiddlewareWithGenerator(logger, func() string { return "generated-id" },
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			seenID, _ = logging.RequestIDFromContext(r.Context())
			w.WriteHeader(http.StatusNoContent)
		}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if seenID != "generated-id" {
		t.Fatalf("expected generated id in context, got %q", seenID)
	}
	if got := rec.Header().Get("X-Request-Id"); got != "generated-id" {
		t.Fatalf("expected generated id header, got %q", got)
	}
}

func TestRequestIDMiddlewarePreservesInboundID(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	handler := requestIDMiddlewareWithGenerator(logger, func() string { return "generated-id" },
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if got, ok := logging.RequestIDFromContext(r.Context()); !ok || got != "req-42" {
				t.Errorf("expected inbound id in context, got %q", got)
			}
		}))

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-Id", "  req-42  ")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if got := rec.Header().Get("X-Request-Id"); got != "req-42" {
		t.Fatalf("expected trimmed inbound id header, got %q", got)
	}
}

func TestNewRequestIDFormat(t *testing.T) {
	first := newRequestID()
	second := newRequestID()
	if len(first) != 32 {
		t.Fatalf("expected 32 hex characters, got %q", first)
	}
	if first == second {
		t.Fatal("request ids must be unique")
	}
}
