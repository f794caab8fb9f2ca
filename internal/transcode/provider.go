package transcode

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// HTTPProvider submits jobs to the provider's REST endpoint using a shared
// bearer token.
type HTTPProvider struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// NewHTTPProvider builds a provider client for the given base URL. A nil
// client falls back to a 10 second timeout default.
func NewHTTPProvider(baseURL, token string, client *http.Client) *HTTPProvider {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &HTTPProvider{
		baseURL:    strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		token:      strings.TrimSpace(token),
		httpClient: client,
	}
}

func (p *HTTPProvider) Submit(ctx context.Context, job JobRequest) (JobAccepted, error) {
	if p.baseURL == "" {
		return JobAccepted{}, fmt.Errorf("%w: provider base URL not configured", ErrProviderUnavailable)
	}
	body, err := json.Marshal(job)
	if err != nil {
		return JobAccepted{}, fmt.Errorf("marshal job request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/v1/jobs", bytes.NewReader(body))
	if err != nil {
		return JobAccepted{}, fmt.Errorf("create job request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if p.token != "" {
		req.Header.Set("Authorization", "Bearer "+p.token)
	}
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return JobAccepted{}, fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return JobAccepted{}, fmt.Errorf("%w: %s: %s", ErrProviderUnavailable, resp.Status, strings.TrimSpace(string(data)))
	}
	var accepted JobAccepted
	if err := json.NewDecoder(resp.Body).Decode(&accepted); err != nil {
		return JobAccepted{}, fmt.Errorf("%w: decode job response: %v", ErrProviderUnavailable, err)
	}
	if strings.TrimSpace(accepted.JobID) == "" {
		return JobAccepted{}, fmt.Errorf("%w: provider returned no job id", ErrProviderUnavailable)
	}
	return accepted, nil
}
