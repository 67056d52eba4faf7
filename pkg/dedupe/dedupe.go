// Package dedupe collapses concurrent identical requests inside one process
// into a single computation.
//
// It is an optimization only: there is no cross-process coordination, and
// a key is forgotten as soon as its computation settles.
package dedupe

import (
	"context"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/sync/singleflight"
)

var dedupedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "catalog_dedupe_calls_total",
	Help: "Calls through the in-flight deduplicator by role (leader, follower)",
}, []string{"group", "role"})

// Group deduplicates calls returning T. The zero value is not usable; use New.
//
// Concurrency notes:
//   - The first caller for a key runs compute; later callers with the same
//     key wait for that result and report wasDeduped=true.
//   - The key is removed exactly once, when compute returns or fails.
//   - Cancelling a follower's ctx unblocks only that follower.
type Group[T any] struct {
	name string
	sf   singleflight.Group

	// mu keeps active in step with the keys singleflight is running, so
	// leadership is known before DoChan returns.
	mu     sync.Mutex
	active map[string]struct{}
}

// New creates a Group. name labels metrics.
func New[T any](name string) *Group[T] {
	return &Group[T]{name: name, active: make(map[string]struct{})}
}

// Do runs compute once per in-flight key. The leader's ctx is passed to
// compute; followers share its outcome.
func (g *Group[T]) Do(ctx context.Context, key string, compute func(ctx context.Context) (T, error)) (value T, wasDeduped bool, err error) {
	g.mu.Lock()
	_, running := g.active[key]
	if !running {
		g.active[key] = struct{}{}
	}
	ch := g.sf.DoChan(key, func() (result any, err error) {
		defer func() {
			g.mu.Lock()
			delete(g.active, key)
			g.sf.Forget(key)
			g.mu.Unlock()
		}()
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("dedupe: compute panicked: %v", r)
			}
		}()
		return compute(ctx)
	})
	g.mu.Unlock()
	isLeader := !running

	select {
	case res := <-ch:
		role := "follower"
		if isLeader {
			role = "leader"
		}
		dedupedTotal.WithLabelValues(g.name, role).Inc()

		if res.Err != nil {
			var zero T
			return zero, !isLeader, res.Err
		}
		v, _ := res.Val.(T)
		return v, !isLeader, nil
	case <-ctx.Done():
		var zero T
		return zero, !isLeader, ctx.Err()
	}
}
