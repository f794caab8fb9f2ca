package transcode

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestHTTPProviderSubmit(t *testing.T) {
	var gotPath, gotAuth, gotContentType string
	var gotJob JobRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		gotContentType = r.Header.Get("Content-Type")
		if err := json.NewDecoder(r.Body).Decode(&gotJob); err != nil {
			t.Errorf("decode job request: %v", err)
		}
		w.WriteHeader(http.StatusAccepted)
		_ = json.NewEncoder(w).Encode(JobAccepted{JobID: "job-7"})
	}))
	defer server.Close()

	provider := NewHTTPProvider(server.URL+"/", "provider-token", server.Client())
	accepted, err := provider.Submit(context.Background(), JobRequest{MediaID: "media-1", MediaType: "video"})
	if err != nil {
		t.Fatalf("Submit returned error: %v", err)
	}
	if accepted.JobID != "job-7" {
		t.Fatalf("expected job-7, got %q", accepted.JobID)
	}
	if gotPath != "/v1/jobs" {
		t.Fatalf("expected POST /v1/jobs, got %q", gotPath)
	}
	if gotAuth != "Bearer provider-token" {
		t.Fatalf("expected bearer token header, got %q", gotAuth)
	}
	if gotContentType != "application/json" {
		t.Fatalf("expected JSON content type, got %q", gotContentType)
	}
	if gotJob.MediaID != "media-1" {
		t.Fatalf("expected submitted media id to round-trip, got %q", gotJob.MediaID)
	}
}

func TestHTTPProviderSubmitRejectsNon2xx(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "queue full", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	provider := NewHTTPProvider(server.URL, "token", server.Client())
	if _, err := provider.Submit(context.Background(), JobRequest{}); !errors.Is(err, ErrProviderUnavailable) {
		t.Fatalf("expected ErrProviderUnavailable, got %v", err)
	}
}

func TestHTTPProviderSubmitRequiresJobID(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(JobAccepted{})
	}))
	defer server.Close()

	provider := NewHTTPProvider(server.URL, "token", server.Client())
	if _, err := provider.Submit(context.Background(), JobRequest{}); !errors.Is(err, ErrProviderUnavailable) {
		t.Fatalf("expected ErrProviderUnavailable for empty job id, got %v", err)
	}
}

func TestHTTPProviderSubmitUnreachable(t *testing.T) {
	provider := NewHTTPProvider("http://127.0.0.1:1", "token", nil)
	if _, err := provider.Submit(context.Background(), JobRequest{}); !errors.Is(err, ErrProviderUnavailable) {
		t.Fatalf("expected ErrProviderUnavailable for connection failure, got %v", err)
	}
}
