// Package retry provides jittered exponential backoff for transient failures.
package retry

import (
	"context"
	"crypto/rand"
	"errors"
	"math"
	"math/big"
	"net"
	"time"
)

// Exponential decides whether and how long to wait before another attempt.
type Exponential struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// NewExponential builds a policy allowing maxAttempts attempts in total.
func NewExponential(maxAttempts int) *Exponential {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &Exponential{
		MaxAttempts: maxAttempts,
		BaseDelay:   250 * time.Millisecond,
		MaxDelay:    5 * time.Second,
	}
}

// ShouldRetry reports whether err after the given (1-based) attempt deserves another try.
// Cancellation is never retried; network errors only when they timed out.
func (p *Exponential) ShouldRetry(err error, attempt int) bool {
	if err == nil || attempt >= p.MaxAttempts {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var permanent *PermanentError
	if errors.As(err, &permanent) {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}
	return true
}

// Backoff returns the wait before the attempt following attempt.
func (p *Exponential) Backoff(attempt int) time.Duration {
	delay := float64(p.BaseDelay) * math.Pow(2, float64(attempt))
	if delay > float64(p.MaxDelay) {
		delay = float64(p.MaxDelay)
	}
	jitter := randomJitter(time.Duration(delay) / 2)
	return time.Duration(delay/2) + jitter
}

// Do calls fn until it succeeds, the policy gives up, or ctx ends.
func (p *Exponential) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	for attempt := 1; ; attempt++ {
		err := fn(ctx)
		if !p.ShouldRetry(err, attempt) {
			return err
		}
		timer := time.NewTimer(p.Backoff(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return errors.Join(err, ctx.Err())
		case <-timer.C:
		}
	}
}

// PermanentError marks an error that must not be retried.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return e.Err.Error() }

func (e *PermanentError) Unwrap() error { return e.Err }

// Permanent wraps err so ShouldRetry rejects it.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

func randomJitter(limit time.Duration) time.Duration {
	if limit <= 0 {
		return 0
	}
	n, err := rand.Int(rand.Reader, big.NewInt(int64(limit)))
	if err != nil {
		return limit / 2
	}
	return time.Duration(n.Int64())
}
