// Package classify talks to the image classification service.
package classify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"

	"github.com/franz/ordb/internal/util"
)

const (
	// DefaultBaseURL is where the service listens by default
	DefaultBaseURL = "http://127.0.0.1:8000"

	// UserAgent identifies this application to the service
	UserAgent = "ordb/1.0"

	// StatusReady is the health status reported once models are loaded
	StatusReady = "ready"
)

// Config holds client configuration
type Config struct {
	BaseURL        string
	Timeout        time.Duration // per request
	HealthRetries  int
	HealthInterval time.Duration
}

// Client is an HTTP client for the classification service
type Client struct {
	baseURL        string
	httpClient     *http.Client
	userAgent      string
	healthRetries  int
	healthInterval time.Duration
}

// NewClient creates a new classification service client
func NewClient(cfg *Config) *Client {
	if cfg == nil {
		cfg = &Config{}
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Minute
	}
	if cfg.HealthRetries <= 0 {
		cfg.HealthRetries = 30
	}
	if cfg.HealthInterval <= 0 {
		cfg.HealthInterval = 2 * time.Second
	}

	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		userAgent:      UserAgent,
		healthRetries:  cfg.HealthRetries,
		healthInterval: cfg.HealthInterval,
	}
}

// BaseURL returns the service address
func (c *Client) BaseURL() string {
	return c.baseURL
}

type healthResponse struct {
	Status string `json:"status"`
}

// Result is the service's label for one image
type Result struct {
	Path       string  `json:"path"`
	Category   string  `json:"category"`
	Confidence float64 `json:"confidence"`
}

type batchRequest struct {
	Images []string `json:"images"`
}

type batchResponse struct {
	Results []Result `json:"results"`
}

// Health returns the status string reported by GET /health
func (c *Client) Health(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("unexpected status code %d: %s", resp.StatusCode, string(body))
	}

	var health healthResponse
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		return "", fmt.Errorf("failed to decode response: %w", err)
	}
	return health.Status, nil
}

// WaitReady polls /health at a fixed interval until the service reports
// ready. Returns util.ErrServiceNotReady once the retries are exhausted.
func (c *Client) WaitReady(ctx context.Context) error {
	util.InfoLog("Waiting for classification service at %s/health", c.baseURL)

	err := retry.Do(func() error {
		status, err := c.Health(ctx)
		if err != nil {
			return err
		}
		if status != StatusReady {
			return fmt.Errorf("service loading (status: %s)", status)
		}
		return nil
	}, util.PollOptions(ctx, c.healthRetries, c.healthInterval, func(n uint, err error) {
		util.WarnLog("Classification service not ready (%v), retry %d/%d", err, n+1, c.healthRetries)
	})...)

	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w after %d attempts: %v", util.ErrServiceNotReady, c.healthRetries, err)
	}

	util.SuccessLog("Classification service is ready")
	return nil
}

// ClassifyBatch sends absolute image paths to POST /classify/batch
func (c *Client) ClassifyBatch(ctx context.Context, paths []string) ([]Result, error) {
	body, err := json.Marshal(batchRequest{Images: paths})
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/classify/batch", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	util.DebugLog("Classification API: batch of %d images", len(paths))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("unexpected status code %d: %s", resp.StatusCode, string(msg))
	}

	var result batchResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return result.Results, nil
}
