package resilience_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/toko-pricing-matrix/internal/resilience"
)

func TestBreakerOpensAndRecovers(t *testing.T) {
	ctx := context.Background()
	b := resilience.NewBreaker(2, 0.5, 30*time.Millisecond)

	for range 2 {
		require.True(t, b.Allow(ctx))
		b.Report(ctx, false)
	}
	require.Equal(t, resilience.Open, b.State())
	require.False(t, b.Allow(ctx))

	require.Eventually(t, func() bool { return b.Allow(ctx) }, time.Second, 5*time.Millisecond)
	require.Equal(t, resilience.HalfOpen, b.State())
	b.Report(ctx, true)
	require.Equal(t, resilience.Closed, b.State())
	require.True(t, b.Allow(ctx))
}

func TestBreakerDoFailsFast(t *testing.T) {
	breaker := resilience.NewBreaker(2, 0.5, time.Minute).WithTarget("matrix-store")
	ctx := context.Background()
	down := errors.New("connection refused")

	calls := 0
	fail := func(context.Context) error {
		calls++
		return down
	}
	require.ErrorIs(t, breaker.Do(ctx, fail), down)
	require.ErrorIs(t, breaker.Do(ctx, fail), down)
	require.Equal(t, resilience.Open, breaker.State())

	require.ErrorIs(t, breaker.Do(ctx, fail), resilience.ErrOpenCircuit)
	require.Equal(t, 2, calls)
}

func TestBreakerDoIgnoresCallerCancellation(t *testing.T) {
	breaker := resilience.NewBreaker(1, 0.5, time.Minute)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := breaker.Do(ctx, func(ctx context.Context) error { return ctx.Err() })
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, resilience.Closed, breaker.State())
}

func TestBreakerAdmitsOneHalfOpenProbe(t *testing.T) {
	breaker := resilience.NewBreaker(1, 0.5, 10*time.Millisecond)
	ctx := context.Background()
	breaker.Report(ctx, false)
	require.Equal(t, resilience.Open, breaker.State())

	time.Sleep(15 * time.Millisecond)
	require.True(t, breaker.Allow(ctx))
	require.False(t, breaker.Allow(ctx), "second caller must wait for the probe")

	breaker.Report(ctx, false)
	require.Equal(t, resilience.Open, breaker.State())
}

func TestBreakerForgetsOldFailures(t *testing.T) {
	// the window holds the last four outcomes
	breaker := resilience.NewBreaker(2, 0.75, time.Minute)
	ctx := context.Background()
	breaker.Report(ctx, false)
	breaker.Report(ctx, true)
	for range 3 {
		breaker.Report(ctx, true)
	}
	breaker.Report(ctx, false)
	breaker.Report(ctx, false)
	require.Equal(t, resilience.Closed, breaker.State(), "two failures out of the last four stay under 75%")
	breaker.Report(ctx, false)
	require.Equal(t, resilience.Open, breaker.State())
}
