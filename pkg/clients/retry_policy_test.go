package clients

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/idfm-analytics/transport-ingest/pkg/errors"
	"github.com/idfm-analytics/transport-ingest/pkg/testutil"
)

func TestDefaultRetryPolicyBackoff(t *testing.T) {
	rp := DefaultRetryPolicy()

	assert.Equal(t, 1*time.Second, rp.GetDelay(0))
	assert.Equal(t, 2*time.Second, rp.GetDelay(1))
	assert.Equal(t, 4*time.Second, rp.GetDelay(2))
}

func TestRetryPolicyCapsDelay(t *testing.T) {
	rp := &RetryPolicy{
		MaxRetries:   10,
		InitialDelay: 1 * time.Second,
		MaxDelay:     5 * time.Second,
		Multiplier:   2.0,
	}

	assert.Equal(t, 5*time.Second, rp.GetDelay(8))
}

func TestExecuteRetriesUntilSuccess(t *testing.T) {
	rp := &RetryPolicy{MaxRetries: 3, InitialDelay: time.Millisecond, Multiplier: 2.0}

	ctx, cancel := testutil.TestContext(t)
	defer cancel()

	calls := 0
	err := rp.Execute(ctx, func() error {
		calls++
		if calls < 3 {
			return errors.New(errors.ErrorTypeConnection, "upstream hiccup")
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestExecuteStopsOnNonRetryableError(t *testing.T) {
	rp := &RetryPolicy{MaxRetries: 3, InitialDelay: time.Millisecond, Multiplier: 2.0}

	ctx, cancel := testutil.TestContext(t)
	defer cancel()

	calls := 0
	err := rp.Execute(ctx, func() error {
		calls++
		return errors.New(errors.ErrorTypeValidation, "bad request")
	})

	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))
}

func TestExecuteExhaustsAttempts(t *testing.T) {
	rp := &RetryPolicy{MaxRetries: 2, InitialDelay: time.Millisecond, Multiplier: 2.0}

	ctx, cancel := testutil.TestContext(t)
	defer cancel()

	calls := 0
	err := rp.Execute(ctx, func() error {
		calls++
		return errors.New(errors.ErrorTypeTimeout, "timed out")
	})

	require.Error(t, err)
	assert.Equal(t, 3, calls)
	assert.Contains(t, err.Error(), "all 3 attempts failed")
}

func TestExecuteHonorsContextCancellation(t *testing.T) {
	rp := &RetryPolicy{MaxRetries: 3, InitialDelay: time.Minute, Multiplier: 2.0}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := rp.Execute(ctx, func() error {
		return errors.New(errors.ErrorTypeConnection, "upstream hiccup")
	})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "retry cancelled")
}

func TestNoRetryPolicy(t *testing.T) {
	rp := NoRetryPolicy()

	ctx, cancel := testutil.TestContext(t)
	defer cancel()

	calls := 0
	err := rp.Execute(ctx, func() error {
		calls++
		return errors.New(errors.ErrorTypeConnection, "upstream hiccup")
	})

	require.Error(t, err)
	assert.Equal(t, 1, calls)
}
