package tablebase

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/c360/tablecache/errors"
)

const maxResponseBytes = 1 << 20

// ClientConfig configures the HTTP tablebase client.
type ClientConfig struct {
	BaseURL           string        `json:"base_url" yaml:"base_url"`
	Timeout           time.Duration `json:"timeout" yaml:"timeout"`
	RequestsPerSecond float64       `json:"requests_per_second" yaml:"requests_per_second"`
	Burst             int           `json:"burst" yaml:"burst"`
	UserAgent         string        `json:"user_agent" yaml:"user_agent"`
}

// DefaultClientConfig returns settings for the public Lichess tablebase.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		BaseURL:           "https://tablebase.lichess.ovh",
		Timeout:           10 * time.Second,
		RequestsPerSecond: 5,
		Burst:             5,
		UserAgent:         "tablecache",
	}
}

// Validate checks the configuration.
func (c ClientConfig) Validate() error {
	u, err := url.Parse(c.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "tablebase", "Validate",
			fmt.Sprintf("validate base_url %q", c.BaseURL))
	}
	if c.Timeout <= 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "tablebase", "Validate",
			fmt.Sprintf("validate timeout (must be positive, got %v)", c.Timeout))
	}
	if c.RequestsPerSecond <= 0 || c.Burst <= 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "tablebase", "Validate",
			"validate rate limit (requests_per_second and burst must be positive)")
	}
	return nil
}

// Client fetches evaluations over HTTP. Requests are rate limited client side.
type Client struct {
	baseURL   *url.URL
	userAgent string
	http      *http.Client
	limiter   *rate.Limiter
}

var _ Fetcher = (*Client)(nil)

// NewClient creates a client. If httpClient is nil one is built with cfg.Timeout.
func NewClient(cfg ClientConfig, httpClient *http.Client) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	base, _ := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))

	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}

	return &Client{
		baseURL:   base,
		userAgent: cfg.UserAgent,
		http:      httpClient,
		limiter:   rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst),
	}, nil
}

// Fetch looks up a FEN in the standard chess tablebase.
func (c *Client) Fetch(ctx context.Context, fen string) (*Evaluation, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, errors.WrapTransient(err, "tablebase", "Fetch", "rate limit wait")
	}

	u := c.baseURL.JoinPath("standard")
	q := u.Query()
	q.Set("fen", fen)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, errors.WrapFatal(err, "tablebase", "Fetch", "build request")
	}
	req.Header.Set("Accept", "application/json")
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, errors.WrapTransient(err, "tablebase", "Fetch", "request")
	}
	defer func() {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBytes))
		_ = resp.Body.Close()
	}()

	switch {
	case resp.StatusCode == http.StatusOK:
		var eval Evaluation
		if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(&eval); err != nil {
			return nil, errors.WrapFatal(fmt.Errorf("%w: %v", errors.ErrParsingFailed, err),
				"tablebase", "Fetch", "decode response")
		}
		return &eval, nil
	case resp.StatusCode == http.StatusNotFound:
		return nil, errors.WrapInvalid(errors.ErrNotFound, "tablebase", "Fetch", "lookup")
	case resp.StatusCode == http.StatusBadRequest:
		return nil, errors.WrapInvalid(fmt.Errorf("%w: upstream rejected position", errors.ErrInvalidData),
			"tablebase", "Fetch", "lookup")
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, errors.WrapTransient(errors.ErrRateLimited, "tablebase", "Fetch", "lookup")
	case resp.StatusCode >= 500:
		return nil, errors.WrapTransient(fmt.Errorf("%w: status %d", errors.ErrUpstreamUnavailable, resp.StatusCode),
			"tablebase", "Fetch", "lookup")
	default:
		return nil, errors.WrapFatal(fmt.Errorf("unexpected status %d", resp.StatusCode),
			"tablebase", "Fetch", "lookup")
	}
}
