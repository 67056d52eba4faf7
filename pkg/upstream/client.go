// Package upstream calls the external JSON dependency behind a timeout,
// bounded retries and a circuit breaker with fallback-to-last-good.
package upstream

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/Sternrassler/catalog-cache/pkg/breaker"
	"github.com/Sternrassler/catalog-cache/pkg/retry"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

// maxBodyBytes bounds the upstream payload.
const maxBodyBytes = 4 << 20

var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "catalog_upstream_requests_total",
		Help: "Total upstream requests by status",
	}, []string{"status"})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "catalog_upstream_request_duration_seconds",
		Help:    "Upstream request duration in seconds by status",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
	}, []string{"status"})

	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "catalog_upstream_errors_total",
		Help: "Total upstream errors by class",
	}, []string{"class"})
)

// Snapshot is a payload fetched from the dependency.
type Snapshot struct {
	Data      json.RawMessage `json:"data"`
	FetchedAt time.Time       `json:"fetchedAt"`
}

// SyncResult is what callers of Sync receive. Sync never fails; a
// fallback is flagged with its reason instead.
type SyncResult struct {
	Data      json.RawMessage `json:"data"`
	FetchedAt *time.Time      `json:"fetchedAt"`
	Fallback  bool            `json:"fallback"`
	Reason    breaker.Reason  `json:"reason,omitempty"`
}

// Config holds the client configuration.
type Config struct {
	// URL is the GET endpoint returning JSON.
	URL string

	// Enabled=false makes Sync return a disabled placeholder without any call.
	Enabled bool

	// Timeout bounds each attempt.
	Timeout time.Duration

	// Retry configures attempts within one breaker call.
	Retry retry.Options

	// Breaker configures the circuit breaker.
	Breaker breaker.Settings

	UserAgent string
}

// DefaultConfig returns a configuration for url.
func DefaultConfig(url string) Config {
	opts := retry.DefaultOptions()
	opts.Name = "upstream"
	return Config{
		URL:       url,
		Enabled:   true,
		Timeout:   2 * time.Second,
		Retry:     opts,
		Breaker:   breaker.DefaultSettings("external_api"),
		UserAgent: "catalog-cache/1.0",
	}
}

// Client calls the external dependency.
type Client struct {
	httpClient *http.Client
	config     Config
	breaker    *breaker.Breaker[Snapshot]
	logger     zerolog.Logger
	now        func() time.Time
}

// New creates a Client.
func New(cfg Config, logger zerolog.Logger) (*Client, error) {
	if cfg.Enabled && cfg.URL == "" {
		return nil, fmt.Errorf("upstream url is required when enabled")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultConfig(cfg.URL).Timeout
	}
	if cfg.Retry.Name == "" {
		cfg.Retry.Name = "upstream"
	}
	cfg.Retry.ShouldRetry = shouldRetry
	cfg.Breaker.Enabled = cfg.Enabled

	return &Client{
		httpClient: &http.Client{},
		config:     cfg,
		breaker:    breaker.New(cfg.Breaker, placeholder, logger),
		logger:     logger,
		now:        time.Now,
	}, nil
}

// placeholder is served when no successful payload exists yet.
func placeholder(_ breaker.Reason) Snapshot {
	return Snapshot{Data: json.RawMessage(`{}`)}
}

// Sync fetches through the circuit breaker. While the breaker is open the
// last good payload (or a placeholder) is returned without a call.
func (c *Client) Sync(ctx context.Context) SyncResult {
	res := c.breaker.Call(ctx, c.Fetch)

	out := SyncResult{
		Data:     res.Value.Data,
		Fallback: res.Fallback,
		Reason:   res.Reason,
	}
	if !res.Value.FetchedAt.IsZero() {
		at := res.Value.FetchedAt
		out.FetchedAt = &at
	}
	return out
}

// Health returns the breaker state.
func (c *Client) Health() breaker.Health {
	return c.breaker.Health()
}

// Fetch performs the GET with per-attempt timeout and retries. It does not
// go through the breaker.
func (c *Client) Fetch(ctx context.Context) (Snapshot, error) {
	if !c.config.Enabled {
		return Snapshot{}, ErrDisabled
	}
	return retry.Do(ctx, c.config.Retry, c.fetchOnce)
}

func (c *Client) fetchOnce(ctx context.Context) (Snapshot, error) {
	ctx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	start := time.Now()
	status := "network_error"
	defer func() {
		requestDuration.WithLabelValues(status).Observe(time.Since(start).Seconds())
		requestsTotal.WithLabelValues(status).Inc()
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.config.URL, nil)
	if err != nil {
		return Snapshot{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.config.UserAgent != "" {
		req.Header.Set("User-Agent", c.config.UserAgent)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		errorsTotal.WithLabelValues(string(ErrorClassNetwork)).Inc()
		c.logger.Debug().Err(err).Str("url", c.config.URL).Msg("Upstream request failed")
		return Snapshot{}, &HTTPError{Class: ErrorClassNetwork, Message: "request failed", Err: err}
	}
	defer resp.Body.Close()
	status = strconv.Itoa(resp.StatusCode)

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		errorsTotal.WithLabelValues(string(ErrorClassNetwork)).Inc()
		return Snapshot{}, &HTTPError{StatusCode: resp.StatusCode, Class: ErrorClassNetwork, Message: "read body", Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		class := classifyStatus(resp.StatusCode)
		errorsTotal.WithLabelValues(string(class)).Inc()
		c.logger.Warn().
			Int("status", resp.StatusCode).
			Str("error_class", string(class)).
			Msg("Upstream request error")
		return Snapshot{}, &HTTPError{StatusCode: resp.StatusCode, Class: class, Message: resp.Status}
	}

	if !json.Valid(body) {
		errorsTotal.WithLabelValues(string(ErrorClassDecode)).Inc()
		return Snapshot{}, &HTTPError{StatusCode: resp.StatusCode, Class: ErrorClassDecode, Message: "response is not valid JSON"}
	}

	return Snapshot{Data: body, FetchedAt: c.now().UTC()}, nil
}
