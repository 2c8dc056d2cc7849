package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/denghuinow/kg-api-server/internal/clock"
)

// tokenPerMinuteBucket is a variable-cost token bucket for the TPM budget.
// golang.org/x/time/rate only supports fixed per-event cost reconciled
// before the event runs; TPM needs to reserve an estimate up front and
// true up against the actual token count the upstream call reports
// afterward, so it's hand-rolled rather than built on x/time/rate.
type tokenPerMinuteBucket struct {
	mu         sync.Mutex
	capacity   float64
	tokens     float64
	refillRate float64 // tokens per second
	lastRefill time.Time
	clock      clock.Clock
}

func newTokenPerMinuteBucket(tpm int, clk clock.Clock) *tokenPerMinuteBucket {
	cap := float64(tpm)
	return &tokenPerMinuteBucket{
		capacity:   cap,
		tokens:     cap,
		refillRate: cap / 60.0,
		lastRefill: clk.Now(),
		clock:      clk,
	}
}

func (b *tokenPerMinuteBucket) refillLocked() {
	now := b.clock.Now()
	elapsed := now.Sub(b.lastRefill).Seconds()
	if elapsed <= 0 {
		return
	}
	b.tokens += elapsed * b.refillRate
	if b.tokens > b.capacity {
		b.tokens = b.capacity
	}
	b.lastRefill = now
}

// wait blocks until n tokens are available, or ctx is done.
func (b *tokenPerMinuteBucket) wait(ctx context.Context, n int) error {
	need := float64(n)
	for {
		b.mu.Lock()
		b.refillLocked()
		if b.tokens >= need {
			b.tokens -= need
			b.mu.Unlock()
			return nil
		}
		shortfall := need - b.tokens
		waitDur := time.Duration(shortfall/b.refillRate*float64(time.Second)) + time.Millisecond
		b.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-b.clock.After(waitDur):
		}
	}
}

// reconcile adjusts the bucket once actual usage is known: if the call
// used fewer tokens than estimated, the difference is refunded; if it
// used more, the extra is debited (clamped at zero, never driving the
// bucket negative on the refund side beyond capacity).
func (b *tokenPerMinuteBucket) reconcile(estimated, actual int) {
	if actual < 0 || actual == estimated {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refillLocked()
	diff := float64(estimated - actual)
	b.tokens += diff
	if b.tokens < 0 {
		b.tokens = 0
	}
	if b.tokens > b.capacity {
		b.tokens = b.capacity
	}
}
