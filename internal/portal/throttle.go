package portal

import (
	"context"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Throttle paces adapter runs per institution host. Portals lock accounts
// and flag fingerprints when sign-ons arrive too quickly, so every flow
// waits for its host's token before opening a session.
type Throttle struct {
	delay    time.Duration
	perMin   int
	mu       sync.Mutex
	last     map[string]time.Time
	limiters map[string]*rate.Limiter
}

// NewThrottle builds a throttle with a minimum inter-run delay and a
// per-minute rate cap, both applied per host.
func NewThrottle(delay time.Duration, perMin int) *Throttle {
	t := &Throttle{delay: delay, perMin: perMin}
	if delay > 0 {
		t.last = make(map[string]time.Time)
	}
	if perMin > 0 {
		t.limiters = make(map[string]*rate.Limiter)
	}
	return t
}

// Wait blocks until the host's pacing constraints are satisfied.
func (t *Throttle) Wait(ctx context.Context, host string) error {
	if t == nil || host == "" {
		return nil
	}
	host = strings.ToLower(host)

	var sleep time.Duration
	var limiter *rate.Limiter
	now := time.Now()

	t.mu.Lock()
	if t.last != nil {
		if last, ok := t.last[host]; ok {
			if rest := last.Add(t.delay).Sub(now); rest > 0 {
				sleep = rest
			}
		}
	}
	if t.limiters != nil {
		limiter = t.ensureLimiterLocked(host)
	}
	t.mu.Unlock()

	if sleep > 0 {
		timer := time.NewTimer(sleep)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if limiter != nil {
		if err := limiter.Wait(ctx); err != nil {
			return err
		}
	}

	t.mu.Lock()
	if t.last != nil {
		t.last[host] = time.Now()
	}
	t.mu.Unlock()
	return nil
}

func (t *Throttle) ensureLimiterLocked(host string) *rate.Limiter {
	limiter, ok := t.limiters[host]
	if !ok {
		limiter = rate.NewLimiter(rate.Limit(float64(t.perMin)/60.0), t.perMin)
		t.limiters[host] = limiter
	}
	return limiter
}
