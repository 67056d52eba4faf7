package upstream

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Syncer is implemented by Client.
type Syncer interface {
	Sync(ctx context.Context) SyncResult
}

// Refresher calls Sync on a fixed interval so the breaker's last good
// payload stays warm. It is owned by the process lifecycle.
type Refresher struct {
	syncer   Syncer
	interval time.Duration
	logger   zerolog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewRefresher creates a stopped Refresher.
func NewRefresher(syncer Syncer, interval time.Duration, logger zerolog.Logger) *Refresher {
	return &Refresher{
		syncer:   syncer,
		interval: interval,
		logger:   logger,
	}
}

// Start launches the refresh loop. It is a no-op if the interval is not
// positive or the loop is already running. The first sync runs immediately.
func (r *Refresher) Start(ctx context.Context) {
	if r.interval <= 0 {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.done = make(chan struct{})

	go r.run(ctx, r.done)
	r.logger.Info().Dur("interval", r.interval).Msg("Upstream refresher started")
}

// Stop cancels the loop and waits for an in-progress sync to return.
func (r *Refresher) Stop() {
	r.mu.Lock()
	cancel, done := r.cancel, r.done
	r.cancel, r.done = nil, nil
	r.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	r.logger.Info().Msg("Upstream refresher stopped")
}

func (r *Refresher) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		res := r.syncer.Sync(ctx)
		if res.Fallback {
			r.logger.Debug().Str("reason", string(res.Reason)).Msg("Upstream refresh served fallback")
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
