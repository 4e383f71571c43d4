package resilience_test

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/backend-flora/internal/resilience"
)

func TestBreakerExportsTransitions(t *testing.T) {
	resilience.BreakerState.Reset()
	resilience.BreakerTransitions.Reset()
	resilience.BreakerOpenedTotal.Reset()

	breaker, clock := newBreaker(1, 0.5, 10*time.Second)
	breaker.WithTarget("commerce")
	ctx := context.Background()
	state := func() float64 { return testutil.ToFloat64(resilience.BreakerState.WithLabelValues("commerce")) }
	transitions := func(from, to string) float64 {
		return testutil.ToFloat64(resilience.BreakerTransitions.WithLabelValues("commerce", from, to))
	}

	require.Equal(t, 0.0, state())

	require.True(t, breaker.Allow(ctx))
	breaker.Report(ctx, false)
	require.Equal(t, 1.0, state())

	clock.Advance(10 * time.Second)
	require.True(t, breaker.Allow(ctx))
	require.Equal(t, 2.0, state())

	breaker.Report(ctx, true)
	require.Equal(t, 0.0, state())

	require.Equal(t, 1.0, testutil.ToFloat64(resilience.BreakerOpenedTotal.WithLabelValues("commerce")))
	require.Equal(t, 1.0, transitions("closed", "open"))
	require.Equal(t, 1.0, transitions("open", "half_open"))
	require.Equal(t, 1.0, transitions("half_open", "closed"))
}
