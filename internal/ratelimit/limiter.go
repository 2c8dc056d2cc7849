// Package ratelimit implements an upstream-API traffic governor: a bounded
// concurrency semaphore, an RPM/TPM token budget, and an exponential-backoff
// retry wrapper, all cancellable through a single context.Context so task
// aborts and server shutdown propagate into outstanding waits and
// in-flight calls.
//
// Follows the same retry/backoff shape as a typical HTTP client
// (attempt loop with calculated backoff) but uses a per-call semaphore
// rather than a fixed worker pool, so the same Caller instance can be
// shared by many concurrent extractor invocations.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/denghuinow/kg-api-server/internal/clock"
)

// Config holds one upstream endpoint's rate_limit/concurrency/retry
// budget.
type Config struct {
	RPM               int
	TPM               int
	MaxInFlight       int
	MaxRetries        int
	InitialBackoff    time.Duration
	MaxBackoff        time.Duration
	BackoffMultiplier float64
}

// Classifier decides whether an error from work_fn is worth retrying.
// Returning false surfaces the error immediately.
type Classifier func(err error) bool

// ErrRetriesExhausted is returned, wrapped together with the last error,
// once the initial attempt and all max_retries retries have failed with a
// transient error.
var ErrRetriesExhausted = errors.New("ratelimit: retries exhausted")

// Caller enforces a concurrency/RPM/TPM budget around calls to an
// upstream API, retrying transient failures with backoff.
type Caller struct {
	cfg   Config
	sem   chan struct{}
	rpm   *rate.Limiter
	tpm   *tokenPerMinuteBucket
	clock clock.Clock

	randMu sync.Mutex
	rand   *rand.Rand
}

// New builds a Caller. clk is injected so tests can drive backoff and
// token-bucket refill deterministically instead of sleeping in real time.
func New(cfg Config, clk clock.Clock) *Caller {
	if cfg.BackoffMultiplier <= 0 {
		cfg.BackoffMultiplier = 2
	}
	maxInFlight := cfg.MaxInFlight
	if maxInFlight <= 0 {
		maxInFlight = 1
	}
	return &Caller{
		cfg:   cfg,
		sem:   make(chan struct{}, maxInFlight),
		rpm:   rate.NewLimiter(rate.Limit(float64(cfg.RPM)/60.0), 1),
		tpm:   newTokenPerMinuteBucket(cfg.TPM, clk),
		clock: clk,
		rand:  rand.New(rand.NewSource(1)),
	}
}

// Call runs fn under the concurrency/RPM/TPM budget, retrying transient
// failures with jittered exponential backoff. fn reports the actual token
// cost of the call it made (-1 if unknown) so the TPM bucket can be
// trued up; estimatedTokens is the declared cost charged up front.
func Call[T any](ctx context.Context, c *Caller, estimatedTokens int, isTransient Classifier, fn func(ctx context.Context) (result T, actualTokens int, err error)) (T, error) {
	var zero T
	var lastErr error

	for attempt := 0; attempt <= c.cfg.MaxRetries; attempt++ {
		result, callErr := func() (T, error) {
			release, err := c.acquire(ctx, estimatedTokens)
			if err != nil {
				return zero, err
			}
			defer release()

			result, actual, err := fn(ctx)
			c.tpm.reconcile(estimatedTokens, actual)
			return result, err
		}()

		if callErr == nil {
			return result, nil
		}
		lastErr = callErr

		if ctx.Err() != nil {
			return zero, ctx.Err()
		}
		if isTransient != nil && !isTransient(callErr) {
			return zero, callErr
		}
		if attempt == c.cfg.MaxRetries {
			break
		}

		backoff := c.backoffFor(attempt)
		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-c.clock.After(backoff):
		}
	}
	return zero, fmt.Errorf("%w: %w", ErrRetriesExhausted, lastErr)
}

// backoffFor computes min(max_backoff, initial_backoff * multiplier^attempt)
// with uniform jitter in [0.5x, 1.0x].
func (c *Caller) backoffFor(attempt int) time.Duration {
	raw := float64(c.cfg.InitialBackoff) * math.Pow(c.cfg.BackoffMultiplier, float64(attempt))
	if max := float64(c.cfg.MaxBackoff); max > 0 && raw > max {
		raw = max
	}

	c.randMu.Lock()
	jitter := 0.5 + 0.5*c.rand.Float64()
	c.randMu.Unlock()

	return time.Duration(raw * jitter)
}

// acquire blocks until a concurrency slot, an RPM token, and estimatedTokens
// TPM tokens are all available, or ctx is done. It returns a release
// function that must be called on every exit path.
func (c *Caller) acquire(ctx context.Context, estimatedTokens int) (func(), error) {
	select {
	case c.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	release := func() { <-c.sem }

	if err := c.rpm.Wait(ctx); err != nil {
		release()
		return nil, err
	}
	if err := c.tpm.wait(ctx, estimatedTokens); err != nil {
		release()
		return nil, err
	}
	return release, nil
}
