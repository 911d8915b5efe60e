// Package extcall wraps every outbound service call with a per-service
// concurrency cap and bounded retry. Exhausting the retry budget converts
// a transient failure into a permanent one; callers only ever observe
// nil, permanent, or context errors.
package extcall

import (
	"context"
	"math"
	"math/rand"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/luminaux/lumina-backend/internal/config"
	"github.com/luminaux/lumina-backend/internal/logger"
	"github.com/luminaux/lumina-backend/internal/svcerr"
)

type Caller struct {
	log   *logger.Logger
	retry config.RetryConfig
	sems  map[string]*semaphore.Weighted
	sleep func(ctx context.Context, d time.Duration) error
}

func New(log *logger.Logger, retry config.RetryConfig, caps map[string]int) *Caller {
	sems := make(map[string]*semaphore.Weighted, len(caps))
	for name, cap := range caps {
		if cap <= 0 {
			cap = 1
		}
		sems[name] = semaphore.NewWeighted(int64(cap))
	}
	return &Caller{
		log:   log.With("component", "ExtCall"),
		retry: retry,
		sems:  sems,
		sleep: sleepCtx,
	}
}

// Do runs fn under the named service's semaphore, retrying transient
// failures with exponential backoff until the attempt budget runs out.
func (c *Caller) Do(ctx context.Context, service string, fn func(ctx context.Context) error) error {
	sem := c.sems[service]
	if sem != nil {
		if err := sem.Acquire(ctx, 1); err != nil {
			return err
		}
		defer sem.Release(1)
	}

	var lastErr error
	for attempt := 1; attempt <= c.retry.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if !svcerr.IsTransient(lastErr) {
			return svcerr.AsPermanent(service, lastErr)
		}
		if attempt == c.retry.MaxAttempts {
			break
		}
		delay := c.backoff(attempt)
		c.log.Debug("Transient service failure, backing off",
			"service", service, "attempt", attempt, "delay", delay, "error", lastErr)
		if err := c.sleep(ctx, delay); err != nil {
			return err
		}
	}
	c.log.Warn("Retry budget exhausted, treating as permanent",
		"service", service, "attempts", c.retry.MaxAttempts, "error", lastErr)
	return svcerr.AsPermanent(service, lastErr)
}

func (c *Caller) backoff(attempts int) time.Duration {
	minB := c.retry.MinBackoff
	maxB := c.retry.MaxBackoff
	j := c.retry.JitterFrac
	if minB <= 0 {
		minB = 1 * time.Second
	}
	if maxB <= 0 {
		maxB = 30 * time.Second
	}
	if j <= 0 {
		j = 0.20
	}
	if attempts < 1 {
		attempts = 1
	}
	d := time.Duration(float64(minB) * math.Pow(2, float64(attempts-1)))
	if d > maxB {
		d = maxB
	}
	delta := float64(d) * j
	low := float64(d) - delta
	high := float64(d) + delta
	if low < 0 {
		low = 0
	}
	return time.Duration(low + rand.Float64()*(high-low))
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
