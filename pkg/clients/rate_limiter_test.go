package clients

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/idfm-analytics/transport-ingest/pkg/testutil"
)

func TestFixedDelayLimiterZeroDelayIsNoop(t *testing.T) {
	limiter := NewFixedDelayLimiter(0)

	ctx, cancel := testutil.TestContext(t)
	defer cancel()

	start := time.Now()
	require.NoError(t, limiter.Wait(ctx))
	assert.Less(t, time.Since(start), 10*time.Millisecond)

	stats := limiter.GetStats()
	assert.Equal(t, int64(0), stats.Waits)
}

func TestFixedDelayLimiterPacesCalls(t *testing.T) {
	limiter := NewFixedDelayLimiter(10 * time.Millisecond)

	ctx, cancel := testutil.TestContext(t)
	defer cancel()

	start := time.Now()
	require.NoError(t, limiter.Wait(ctx))
	require.NoError(t, limiter.Wait(ctx))
	elapsed := time.Since(start)

	assert.GreaterOrEqual(t, elapsed, 20*time.Millisecond)

	stats := limiter.GetStats()
	assert.Equal(t, int64(2), stats.Waits)
	assert.GreaterOrEqual(t, stats.TotalWaited, 20*time.Millisecond)
	assert.Equal(t, 10*time.Millisecond, stats.Delay)
}

func TestFixedDelayLimiterStopsOnCancel(t *testing.T) {
	limiter := NewFixedDelayLimiter(time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	err := limiter.Wait(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
