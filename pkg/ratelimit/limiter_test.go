package ratelimit

import (
	"context"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

func setupTestLimiter(t *testing.T, cfg Config) (*miniredis.Miniredis, *Limiter) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	l := NewLimiter(client, cfg, zerolog.Nop())
	// Pin the clock to the start of a window.
	fixed := time.UnixMilli(1_700_000_040_000)
	l.now = func() time.Time { return fixed }
	return mr, l
}

func TestLimiter_AllowsUpToMax(t *testing.T) {
	_, l := setupTestLimiter(t, Config{Max: 3, Window: time.Minute})
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		d := l.Allow(ctx, "10.0.0.1")
		if !d.Allowed {
			t.Fatalf("request %d rejected", i)
		}
		if d.Remaining != 3-i {
			t.Errorf("request %d Remaining = %d, want %d", i, d.Remaining, 3-i)
		}
	}

	d := l.Allow(ctx, "10.0.0.1")
	if d.Allowed {
		t.Error("request 4 allowed, want rejected")
	}
	if d.Remaining != 0 {
		t.Errorf("Remaining = %d, want 0", d.Remaining)
	}
	if d.ResetIn <= 0 || d.ResetIn > time.Minute {
		t.Errorf("ResetIn = %v, want (0, 1m]", d.ResetIn)
	}

	// Other clients have their own counter.
	if !l.Allow(ctx, "10.0.0.2").Allowed {
		t.Error("different client rejected")
	}
}

func TestLimiter_NewWindowResets(t *testing.T) {
	_, l := setupTestLimiter(t, Config{Max: 1, Window: time.Second})
	ctx := context.Background()
	now := l.now()

	if !l.Allow(ctx, "c").Allowed {
		t.Fatal("first request rejected")
	}
	if l.Allow(ctx, "c").Allowed {
		t.Fatal("second request in same window allowed")
	}

	l.now = func() time.Time { return now.Add(time.Second) }
	if !l.Allow(ctx, "c").Allowed {
		t.Error("request in next window rejected")
	}
}

func TestLimiter_KeyHasExpiry(t *testing.T) {
	mr, l := setupTestLimiter(t, Config{Max: 5, Window: 30 * time.Second})
	l.Allow(context.Background(), "c")

	keys := mr.Keys()
	if len(keys) != 1 || !strings.HasPrefix(keys[0], KeyPrefix+":c:") {
		t.Fatalf("keys = %v", keys)
	}
	if ttl := mr.TTL(keys[0]); ttl <= 0 || ttl > 30*time.Second {
		t.Errorf("TTL = %v, want (0, 30s]", ttl)
	}
}

func TestLimiter_FailsOpen(t *testing.T) {
	mr, l := setupTestLimiter(t, Config{Max: 1, Window: time.Minute})
	mr.Close()

	for i := 0; i < 3; i++ {
		d := l.Allow(context.Background(), "c")
		if !d.Allowed || !d.Degraded {
			t.Errorf("Allow() = %+v, want allowed and degraded", d)
		}
	}
}

func TestLimiter_Disabled(t *testing.T) {
	tests := []struct {
		name string
		l    *Limiter
	}{
		{"nil client", NewLimiter(nil, Config{Max: 1}, zerolog.Nop())},
		{"zero max", NewLimiter(redis.NewClient(&redis.Options{Addr: "localhost:0"}), Config{Max: 0}, zerolog.Nop())},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.l.Enabled() {
				t.Error("Enabled() = true")
			}
			for i := 0; i < 5; i++ {
				if !tt.l.Allow(context.Background(), "c").Allowed {
					t.Fatal("disabled limiter rejected a request")
				}
			}
		})
	}
}

func TestDecision_WriteHeaders(t *testing.T) {
	tests := []struct {
		name           string
		d              Decision
		wantRemaining  string
		wantRetryAfter string
	}{
		{
			name:          "allowed",
			d:             Decision{Allowed: true, Limit: 10, Remaining: 7, ResetIn: 1500 * time.Millisecond},
			wantRemaining: "7",
		},
		{
			name:           "rejected",
			d:              Decision{Allowed: false, Limit: 10, Remaining: 0, ResetIn: 1500 * time.Millisecond},
			wantRemaining:  "0",
			wantRetryAfter: "2",
		},
		{
			name: "degraded writes nothing",
			d:    Decision{Allowed: true, Limit: 10, Remaining: 10, Degraded: true},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := http.Header{}
			tt.d.WriteHeaders(h)
			if got := h.Get("X-RateLimit-Remaining"); got != tt.wantRemaining {
				t.Errorf("X-RateLimit-Remaining = %q, want %q", got, tt.wantRemaining)
			}
			if got := h.Get("Retry-After"); got != tt.wantRetryAfter {
				t.Errorf("Retry-After = %q, want %q", got, tt.wantRetryAfter)
			}
		})
	}
}

func TestDecision_RetryAfterSeconds(t *testing.T) {
	tests := []struct {
		resetIn time.Duration
		want    int
	}{
		{0, 1},
		{200 * time.Millisecond, 1},
		{time.Second, 1},
		{1001 * time.Millisecond, 2},
		{59 * time.Second, 59},
	}
	for _, tt := range tests {
		if got := (Decision{ResetIn: tt.resetIn}).RetryAfterSeconds(); got != tt.want {
			t.Errorf("RetryAfterSeconds(%v) = %d, want %d", tt.resetIn, got, tt.want)
		}
	}
}
