package upstream

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/Sternrassler/catalog-cache/internal/testutil"
	"github.com/Sternrassler/catalog-cache/pkg/breaker"
	"github.com/Sternrassler/catalog-cache/pkg/retry"
	"github.com/rs/zerolog"
)

const syncPath = "/sync"

func testConfig(url string) Config {
	cfg := DefaultConfig(url + syncPath)
	cfg.Timeout = 100 * time.Millisecond
	cfg.Retry.Retries = 2
	cfg.Retry.BaseDelay = time.Millisecond
	cfg.Retry.MaxDelay = 5 * time.Millisecond
	cfg.Breaker.FailureThreshold = 2
	cfg.Breaker.Cooldown = time.Minute
	return cfg
}

func newTestClient(t *testing.T, cfg Config) *Client {
	t.Helper()
	c, err := New(cfg, zerolog.Nop())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return c
}

func TestNew_Validation(t *testing.T) {
	if _, err := New(Config{Enabled: true}, zerolog.Nop()); err == nil {
		t.Error("New() accepted an enabled config without URL")
	}
	if _, err := New(Config{Enabled: false}, zerolog.Nop()); err != nil {
		t.Errorf("New() disabled config error = %v", err)
	}
}

func TestFetch_Success(t *testing.T) {
	mock := testutil.NewMockUpstream()
	defer mock.Close()
	mock.SetResponse(syncPath, testutil.NewJSONResponse(`{"rates":[1,2,3]}`))

	c := newTestClient(t, testConfig(mock.URL()))
	snap, err := c.Fetch(context.Background())
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if string(snap.Data) != `{"rates":[1,2,3]}` {
		t.Errorf("Data = %s", snap.Data)
	}
	if snap.FetchedAt.IsZero() {
		t.Error("FetchedAt not set")
	}
	if got := mock.LastRequestHeader().Get("Accept"); got != "application/json" {
		t.Errorf("Accept = %q", got)
	}
}

func TestFetch_ErrorClassification(t *testing.T) {
	tests := []struct {
		name         string
		resp         testutil.MockResponse
		wantClass    ErrorClass
		wantRequests int
		wantExhaust  bool
	}{
		{
			name:         "server error retried",
			resp:         testutil.NewServerErrorResponse(),
			wantClass:    ErrorClassServer,
			wantRequests: 3,
			wantExhaust:  true,
		},
		{
			name:         "client error fails fast",
			resp:         testutil.NewNotFoundResponse(),
			wantClass:    ErrorClassClient,
			wantRequests: 1,
		},
		{
			name:         "invalid json fails fast",
			resp:         testutil.NewJSONResponse(`<html>`),
			wantClass:    ErrorClassDecode,
			wantRequests: 1,
		},
		{
			name:         "timeout retried",
			resp:         testutil.NewSlowResponse(`{}`, 500*time.Millisecond),
			wantClass:    ErrorClassNetwork,
			wantRequests: 3,
			wantExhaust:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := testutil.NewMockUpstream()
			defer mock.Close()
			mock.SetResponse(syncPath, tt.resp)

			c := newTestClient(t, testConfig(mock.URL()))
			_, err := c.Fetch(context.Background())

			var he *HTTPError
			if !errors.As(err, &he) {
				t.Fatalf("Fetch() error = %v, want *HTTPError", err)
			}
			if he.Class != tt.wantClass {
				t.Errorf("Class = %s, want %s", he.Class, tt.wantClass)
			}
			if errors.Is(err, retry.ErrRetryExhausted) != tt.wantExhaust {
				t.Errorf("ErrRetryExhausted = %v, want %v", !tt.wantExhaust, tt.wantExhaust)
			}
			if got := mock.RequestCount(); got != tt.wantRequests {
				t.Errorf("requests = %d, want %d", got, tt.wantRequests)
			}
		})
	}
}

func TestSync_FallbackToLastGood(t *testing.T) {
	mock := testutil.NewMockUpstream()
	defer mock.Close()
	mock.SetResponse(syncPath, testutil.NewJSONResponse(`{"v":1}`))

	c := newTestClient(t, testConfig(mock.URL()))
	ctx := context.Background()

	res := c.Sync(ctx)
	if res.Fallback || string(res.Data) != `{"v":1}` || res.FetchedAt == nil {
		t.Fatalf("first Sync() = %+v, want live payload", res)
	}

	mock.SetResponse(syncPath, testutil.NewServerErrorResponse())
	for i := 0; i < 2; i++ {
		res = c.Sync(ctx)
		if !res.Fallback || res.Reason != breaker.ReasonUpstreamError {
			t.Errorf("failing Sync() #%d = %+v, want upstream_error fallback", i, res)
		}
		if string(res.Data) != `{"v":1}` {
			t.Errorf("fallback data = %s, want last good", res.Data)
		}
	}

	if h := c.Health(); h.State != breaker.StateOpen || !h.HasFallback {
		t.Fatalf("Health() = %+v, want open with fallback", h)
	}

	mock.Reset()
	res = c.Sync(ctx)
	if !res.Fallback || res.Reason != breaker.ReasonCircuitOpen || string(res.Data) != `{"v":1}` {
		t.Errorf("open Sync() = %+v, want circuit_open with last good", res)
	}
	if mock.RequestCount() != 0 {
		t.Errorf("open breaker made %d requests", mock.RequestCount())
	}
}

func TestSync_PlaceholderWithoutHistory(t *testing.T) {
	mock := testutil.NewMockUpstream()
	defer mock.Close()
	mock.SetResponse(syncPath, testutil.NewServerErrorResponse())

	c := newTestClient(t, testConfig(mock.URL()))
	res := c.Sync(context.Background())

	if !res.Fallback || string(res.Data) != `{}` || res.FetchedAt != nil {
		t.Errorf("Sync() = %+v, want placeholder", res)
	}
}

func TestSync_Disabled(t *testing.T) {
	mock := testutil.NewMockUpstream()
	defer mock.Close()

	cfg := testConfig(mock.URL())
	cfg.Enabled = false
	c := newTestClient(t, cfg)

	res := c.Sync(context.Background())
	if !res.Fallback || res.Reason != breaker.ReasonDisabled {
		t.Errorf("Sync() = %+v, want disabled fallback", res)
	}
	if mock.RequestCount() != 0 {
		t.Error("disabled client made a request")
	}
	if c.Health().Enabled {
		t.Error("Health().Enabled = true for disabled client")
	}
	if _, err := c.Fetch(context.Background()); !errors.Is(err, ErrDisabled) {
		t.Errorf("Fetch() error = %v, want ErrDisabled", err)
	}
}

func TestClassifyStatus(t *testing.T) {
	tests := []struct {
		status int
		want   ErrorClass
	}{
		{http.StatusBadRequest, ErrorClassClient},
		{http.StatusNotFound, ErrorClassClient},
		{http.StatusTooManyRequests, ErrorClassServer},
		{http.StatusRequestTimeout, ErrorClassServer},
		{http.StatusInternalServerError, ErrorClassServer},
		{http.StatusBadGateway, ErrorClassServer},
	}
	for _, tt := range tests {
		if got := classifyStatus(tt.status); got != tt.want {
			t.Errorf("classifyStatus(%d) = %s, want %s", tt.status, got, tt.want)
		}
	}
}

func TestHTTPError_Error(t *testing.T) {
	err := &HTTPError{StatusCode: 503, Class: ErrorClassServer, Message: "503 Service Unavailable"}
	want := "upstream server error (status 503): 503 Service Unavailable"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}

	inner := errors.New("dial tcp: refused")
	wrapped := &HTTPError{Class: ErrorClassNetwork, Message: "request failed", Err: inner}
	if !errors.Is(wrapped, inner) {
		t.Error("HTTPError does not unwrap to its cause")
	}
}
