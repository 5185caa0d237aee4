package ratelimit

import (
	"context"
	"time"

	"github.com/uvensys/linkgate/decaymap"
	"github.com/uvensys/linkgate/internal"
)

// Memory is a process-local sliding-window limiter. Each identity maps to
// the issuance timestamps inside the trailing window; entries for idle
// identities decay out of the map so it never grows without bound.
//
// Only suitable for single-instance deployments. Use Valkey when several
// linkgate instances must share one cap.
type Memory struct {
	limit   int
	window  time.Duration
	buckets *decaymap.Impl[string, []time.Time]
	now     func() time.Time
}

func NewMemory(ctx context.Context, limit int, window time.Duration) *Memory {
	if limit <= 0 {
		limit = DefaultLimit
	}
	if window <= 0 {
		window = DefaultWindow
	}

	result := &Memory{
		limit:   limit,
		window:  window,
		buckets: decaymap.New[string, []time.Time](),
		now:     time.Now,
	}

	go result.cleanupThread(ctx)

	return result
}

// Allow records an issuance for identity unless the identity already has
// limit issuances inside the trailing window. The prune-check-append runs
// inside the map's single critical section.
func (m *Memory) Allow(_ context.Context, identity string) (bool, error) {
	key := internal.FastHash(identity)
	now := m.now()
	cutoff := now.Add(-m.window)

	allowed := true

	m.buckets.Update(key, m.window, func(stamps []time.Time, _ bool) []time.Time {
		live := stamps[:0]
		for _, ts := range stamps {
			if ts.After(cutoff) {
				live = append(live, ts)
			}
		}

		if len(live) >= m.limit {
			allowed = false
			return live
		}

		return append(live, now)
	})

	return allowed, nil
}

func (m *Memory) cleanupThread(ctx context.Context) {
	t := time.NewTicker(5 * time.Minute)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			m.buckets.Cleanup()
		}
	}
}
