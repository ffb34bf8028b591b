package pipeline

import (
	"context"
	"math/rand"
	"sync"
	"time"
)

// BackoffPolicy computes fetch retry delays: exponential doubling from Base
// plus additive jitter of at most a quarter of the delay, never exceeding
// Max. Successive delays are strictly increasing until the cap is reached.
type BackoffPolicy struct {
	Base time.Duration
	Max  time.Duration

	mu  sync.Mutex
	rnd *rand.Rand
}

// NewBackoffPolicy builds a policy with its own jitter source.
func NewBackoffPolicy(base, max time.Duration) *BackoffPolicy {
	if base <= 0 {
		base = 500 * time.Millisecond
	}
	if max < base {
		max = 30 * time.Second
	}
	return &BackoffPolicy{
		Base: base,
		Max:  max,
		rnd:  rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Delay returns the wait before retry number attempt (zero-based).
func (p *BackoffPolicy) Delay(attempt int) time.Duration {
	delay := p.Base
	for i := 0; i < attempt && delay < p.Max; i++ {
		delay *= 2
	}
	if delay > p.Max {
		delay = p.Max
	}
	p.mu.Lock()
	jitter := time.Duration(p.rnd.Int63n(int64(delay)/4 + 1))
	p.mu.Unlock()
	// Max is a hard ceiling, jitter included.
	if delay+jitter > p.Max {
		return p.Max
	}
	return delay + jitter
}

// Sleeper waits for a duration and aborts on context cancellation. Injected
// so tests can observe delays without waiting them out.
type Sleeper interface {
	Sleep(ctx context.Context, d time.Duration) error
}

// TimerSleeper is the production Sleeper.
type TimerSleeper struct{}

// Sleep blocks for d or until ctx is done.
func (TimerSleeper) Sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
