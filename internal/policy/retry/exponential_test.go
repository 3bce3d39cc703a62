package retry

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type timeoutErr struct{ timeout bool }

func (e timeoutErr) Error() string   { return "net" }
func (e timeoutErr) Timeout() bool   { return e.timeout }
func (e timeoutErr) Temporary() bool { return false }

var _ net.Error = timeoutErr{}

func TestShouldRetry(t *testing.T) {
	t.Parallel()

	p := NewExponential(3)
	require.False(t, p.ShouldRetry(nil, 1))
	require.True(t, p.ShouldRetry(errors.New("502"), 1))
	require.False(t, p.ShouldRetry(errors.New("502"), 3))
	require.False(t, p.ShouldRetry(context.Canceled, 1))
	require.False(t, p.ShouldRetry(Permanent(errors.New("404")), 1))
	require.True(t, p.ShouldRetry(timeoutErr{timeout: true}, 1))
	require.False(t, p.ShouldRetry(timeoutErr{timeout: false}, 1))
}

func TestBackoffBounds(t *testing.T) {
	t.Parallel()

	p := NewExponential(5)
	for attempt := 0; attempt < 10; attempt++ {
		d := p.Backoff(attempt)
		require.GreaterOrEqual(t, d, time.Duration(0))
		require.LessOrEqual(t, d, p.MaxDelay)
	}
}

func TestDoRetriesUntilSuccess(t *testing.T) {
	t.Parallel()

	p := &Exponential{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond}
	calls := 0
	err := p.Do(context.Background(), func(context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("flaky")
		}
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 3, calls)
}

func TestDoStopsOnPermanentError(t *testing.T) {
	t.Parallel()

	p := &Exponential{MaxAttempts: 5, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond}
	calls := 0
	sentinel := errors.New("gone")
	err := p.Do(context.Background(), func(context.Context) error {
		calls++
		return Permanent(sentinel)
	})
	require.ErrorIs(t, err, sentinel)
	require.Equal(t, 1, calls)
}

func TestNewExponentialClampsAttempts(t *testing.T) {
	t.Parallel()

	require.Equal(t, 1, NewExponential(0).MaxAttempts)
}
