package ratelimit

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLimiter_PacesSameHost(t *testing.T) {
	t.Parallel()

	var (
		mu     sync.Mutex
		delays []string
	)
	l := New(Config{
		PerHostQPS: 10, // one token every 100ms
		Burst:      1,
		OnDelay: func(host string, _ time.Duration) {
			mu.Lock()
			delays = append(delays, host)
			mu.Unlock()
		},
	})
	ctx := context.Background()

	require.NoError(t, l.Wait(ctx, "https://www.temu.com/goods.html?goods_id=1"))
	start := time.Now()
	require.NoError(t, l.Wait(ctx, "https://WWW.temu.com/goods.html?goods_id=2"))
	require.GreaterOrEqual(t, time.Since(start), 80*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []string{"www.temu.com"}, delays)
}

func TestLimiter_HostsAreIndependent(t *testing.T) {
	t.Parallel()

	l := New(Config{PerHostQPS: 1, Burst: 1})
	ctx := context.Background()

	require.NoError(t, l.Wait(ctx, "https://a.example/1"))
	start := time.Now()
	require.NoError(t, l.Wait(ctx, "https://b.example/1"))
	require.Less(t, time.Since(start), 50*time.Millisecond)
}

func TestLimiter_DisabledNeverBlocks(t *testing.T) {
	t.Parallel()

	l := New(Config{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	for i := 0; i < 5; i++ {
		require.NoError(t, l.Wait(ctx, "https://a.example/1"))
	}
	var nilLimiter *Limiter
	require.NoError(t, nilLimiter.Wait(ctx, "https://a.example/1"))
}

func TestLimiter_WaitCanceled(t *testing.T) {
	t.Parallel()

	l := New(Config{PerHostQPS: 0.01, Burst: 1})
	require.NoError(t, l.Wait(context.Background(), "https://a.example/1"))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := l.Wait(ctx, "https://a.example/2")
	require.Error(t, err)
}
