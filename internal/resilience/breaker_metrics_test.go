package resilience_test

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/toko-pricing-matrix/internal/resilience"
)

func TestBreakerPublishesTransitions(t *testing.T) {
	const target = "metrics-probe"
	ctx := context.Background()
	b := resilience.NewBreaker(1, 0.5, 20*time.Millisecond).WithTarget(target)
	state := func() float64 { return testutil.ToFloat64(resilience.BreakerState.WithLabelValues(target)) }
	moved := func(from, to string) float64 {
		return testutil.ToFloat64(resilience.BreakerTransitions.WithLabelValues(target, from, to))
	}

	require.True(t, b.Allow(ctx))
	b.Report(ctx, false)
	require.Equal(t, 1.0, state(), "one failure over the minimum trips the breaker")

	require.Eventually(t, func() bool { return b.Allow(ctx) }, time.Second, 5*time.Millisecond)
	require.Equal(t, 2.0, state())

	b.Report(ctx, true)
	require.Equal(t, 0.0, state())

	require.Equal(t, 1.0, testutil.ToFloat64(resilience.BreakerOpenedTotal.WithLabelValues(target)))
	for _, step := range [][2]string{{"closed", "open"}, {"open", "half_open"}, {"half_open", "closed"}} {
		require.Equal(t, 1.0, moved(step[0], step[1]), "%s -> %s", step[0], step[1])
	}
}
