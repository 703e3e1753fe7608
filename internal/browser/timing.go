package browser

import (
	"context"
	"math/rand"
	"time"
)

// Humanised pause categories. Every inter-action delay is a base duration
// plus uniform random jitter so the session never exposes a fixed interval.
const (
	keyDelayBase   = 60 * time.Millisecond
	keyDelayJitter = 60 * time.Millisecond

	clickSettleBase   = 1 * time.Second
	clickSettleJitter = 1 * time.Second

	navBackoffBase   = 2 * time.Second
	navBackoffJitter = 1 * time.Second

	downloadPollInterval = 300 * time.Millisecond
	readyPollInterval    = 100 * time.Millisecond
)

// jitterDuration returns base plus a uniform random addition in [0, jitter).
func jitterDuration(base, jitter time.Duration) time.Duration {
	if jitter <= 0 {
		return base
	}
	return base + time.Duration(rand.Int63n(int64(jitter)))
}

// pause sleeps for a jittered duration, returning early on context cancel.
func pause(ctx context.Context, base, jitter time.Duration) error {
	t := time.NewTimer(jitterDuration(base, jitter))
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
