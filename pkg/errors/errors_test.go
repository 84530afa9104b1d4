package errors

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsRetryable(t *testing.T) {
	retryable := []ErrorType{ErrorTypeRateLimit, ErrorTypeTimeout, ErrorTypeConnection}
	for _, typ := range retryable {
		assert.True(t, IsRetryable(New(typ, "transient")), "type %s", typ)
	}

	fatal := []ErrorType{
		ErrorTypeInternal, ErrorTypeValidation, ErrorTypeNotFound,
		ErrorTypeAuthentication, ErrorTypePermission, ErrorTypeConfig,
		ErrorTypeData, ErrorTypeMalformed, ErrorTypeSchema, ErrorTypeFile,
	}
	for _, typ := range fatal {
		assert.False(t, IsRetryable(New(typ, "fatal")), "type %s", typ)
	}

	assert.False(t, IsRetryable(fmt.Errorf("plain error")))
	assert.False(t, IsRetryable(nil))
}

func TestIsRetryableThroughWrapping(t *testing.T) {
	inner := New(ErrorTypeTimeout, "timed out")
	wrapped := fmt.Errorf("request failed: %w", inner)
	assert.True(t, IsRetryable(wrapped))
}

func TestWrapPreservesCause(t *testing.T) {
	cause := fmt.Errorf("connection reset by peer")
	err := Wrap(cause, ErrorTypeConnection, "fetch failed")

	require.NotNil(t, err)
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "connection: fetch failed")
	assert.Contains(t, err.Error(), "connection reset by peer")
}

func TestWrapNilReturnsNil(t *testing.T) {
	assert.Nil(t, Wrap(nil, ErrorTypeConnection, "no-op"))
}

func TestIsType(t *testing.T) {
	err := New(ErrorTypeMalformed, "bad page")
	assert.True(t, IsType(err, ErrorTypeMalformed))
	assert.False(t, IsType(err, ErrorTypeConnection))

	wrapped := Wrap(err, ErrorTypeData, "outer")
	assert.True(t, IsType(wrapped, ErrorTypeData))
}

func TestWithDetail(t *testing.T) {
	err := Newf(ErrorTypeValidation, "unexpected status %d", 400).
		WithDetail("status", 400).
		WithDetail("body", "bad where clause")

	assert.Equal(t, 400, err.Details["status"])
	assert.Equal(t, "bad where clause", err.Details["body"])
}

func TestNewCapturesStack(t *testing.T) {
	err := New(ErrorTypeInternal, "boom")
	assert.NotEmpty(t, err.Stack)
}
