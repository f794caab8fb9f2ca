package transcode

import (
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config stores connectivity and policy settings for the orchestrator.
type Config struct {
	ProviderBaseURL string
	ProviderToken   string
	CallbackBaseURL string
	WebhookSecret   string
	MaxRetries      int
	RequestTimeout  time.Duration
	HTTPClient      *http.Client
}

// LoadConfigFromEnv initialises a Config from environment variables.
func LoadConfigFromEnv() (Config, error) {
	cfg := Config{
		ProviderBaseURL: strings.TrimSpace(os.Getenv("MEDIAFORGE_PROVIDER_API")),
		ProviderToken:   strings.TrimSpace(os.Getenv("MEDIAFORGE_PROVIDER_TOKEN")),
		CallbackBaseURL: strings.TrimSpace(os.Getenv("MEDIAFORGE_CALLBACK_BASE_URL")),
		WebhookSecret:   strings.TrimSpace(os.Getenv("MEDIAFORGE_WEBHOOK_SECRET")),
		MaxRetries:      1,
		RequestTimeout:  10 * time.Second,
	}

	if retries := strings.TrimSpace(os.Getenv("MEDIAFORGE_MAX_RETRIES")); retries != "" {
		parsed, err := strconv.Atoi(retries)
		if err != nil {
			return Config{}, fmt.Errorf("parse MEDIAFORGE_MAX_RETRIES: %w", err)
		}
		if parsed >= 0 {
			cfg.MaxRetries = parsed
		}
	}

	if timeout := strings.TrimSpace(os.Getenv("MEDIAFORGE_PROVIDER_TIMEOUT")); timeout != "" {
		parsed, err := time.ParseDuration(timeout)
		if err != nil {
			return Config{}, fmt.Errorf("parse MEDIAFORGE_PROVIDER_TIMEOUT: %w", err)
		}
		if parsed > 0 {
			cfg.RequestTimeout = parsed
		}
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks that the settings required for job submission and webhook
// verification are present.
func (c Config) Validate() error {
	if c.ProviderBaseURL == "" {
		return fmt.Errorf("provider base URL is required")
	}
	if c.CallbackBaseURL == "" {
		return fmt.Errorf("callback base URL is required")
	}
	if c.WebhookSecret == "" {
		return fmt.Errorf("webhook master secret is required")
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("max retries must not be negative")
	}
	return nil
}
