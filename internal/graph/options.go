package graph

import (
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// Option configures optional Client settings.
type Option func(*options) error

// options holds optional configuration for creating a Client.
type options struct {
	// apiVersion is the API version path segment.
	apiVersion string

	// baseURL is the base URL for API requests.
	baseURL string

	// httpClient is a custom HTTP client.
	httpClient *http.Client

	// logger is the structured logger.
	logger *slog.Logger

	// requestsPerSecond caps the outbound request rate. Zero disables throttling.
	requestsPerSecond float64

	// timeout is the HTTP client timeout.
	timeout time.Duration
}

// WithAPIVersion sets the API version path segment (for example v1.0 or beta).
func WithAPIVersion(version string) Option {
	return func(o *options) error {
		version = strings.Trim(strings.TrimSpace(version), "/")
		if version == "" {
			return fmt.Errorf("API version cannot be empty")
		}
		o.apiVersion = version
		return nil
	}
}

// WithBaseURL sets a custom base URL for the API.
func WithBaseURL(baseURL string) Option {
	return func(o *options) error {
		baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
		if baseURL == "" {
			return fmt.Errorf("base URL cannot be empty")
		}
		o.baseURL = baseURL
		return nil
	}
}

// WithHTTPClient sets a custom HTTP client. Overrides WithTimeout.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(o *options) error {
		if httpClient == nil {
			return fmt.Errorf("HTTP client cannot be nil")
		}
		o.httpClient = httpClient
		return nil
	}
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) error {
		if logger == nil {
			return fmt.Errorf("logger cannot be nil")
		}
		o.logger = logger
		return nil
	}
}

// WithRateLimit caps outbound requests per second.
func WithRateLimit(requestsPerSecond float64) Option {
	return func(o *options) error {
		if requestsPerSecond < 0 {
			return fmt.Errorf("rate limit cannot be negative, got %v", requestsPerSecond)
		}
		o.requestsPerSecond = requestsPerSecond
		return nil
	}
}

// WithTimeout sets the HTTP client timeout.
func WithTimeout(timeout time.Duration) Option {
	return func(o *options) error {
		if timeout <= 0 {
			return fmt.Errorf("timeout must be positive, got %v", timeout)
		}
		o.timeout = timeout
		return nil
	}
}

// defaultOptions returns options with sensible defaults.
func defaultOptions() *options {
	return &options{
		apiVersion:        "v1.0",
		baseURL:           "https://graph.microsoft.com",
		logger:            slog.Default(),
		requestsPerSecond: 10,
		timeout:           30 * time.Second,
	}
}
