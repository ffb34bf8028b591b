package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestWait_IndependentSources(t *testing.T) {
	t.Parallel()
	// Source A is heavily limited, source B unlimited; B must not be
	// starved by A's bucket.
	l := New(Config{RPS: 0}, map[string]Config{
		"slow": {RPS: 0.001, Burst: 1},
	})
	ctx := context.Background()

	require.NoError(t, l.Wait(ctx, "slow")) // consumes the only token

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 100; i++ {
			if err := l.Wait(ctx, "fast"); err != nil {
				return
			}
		}
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("unlimited source was starved")
	}
}

func TestWait_RespectsContext(t *testing.T) {
	t.Parallel()
	l := New(Config{RPS: 0.001, Burst: 1}, nil)
	ctx := context.Background()

	require.NoError(t, l.Wait(ctx, "s"))

	timeoutCtx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	err := l.Wait(timeoutCtx, "s")
	require.Error(t, err)
}

func TestWait_BurstAllowsImmediate(t *testing.T) {
	t.Parallel()
	l := New(Config{RPS: 1, Burst: 3}, nil)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	start := time.Now()
	for i := 0; i < 3; i++ {
		require.NoError(t, l.Wait(ctx, "s"))
	}
	require.Less(t, time.Since(start), 500*time.Millisecond)
}
