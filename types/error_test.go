package types

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestError_Format(t *testing.T) {
	err := NewError(ErrMalformedEvent, "missing action_type")
	assert.Equal(t, "[MALFORMED_EVENT] missing action_type", err.Error())

	cause := errors.New("boom")
	err = NewError(ErrInternalError, "something broke").WithCause(cause)
	assert.Contains(t, err.Error(), "boom")
	assert.Equal(t, cause, errors.Unwrap(err))
}

func TestError_Wrapping(t *testing.T) {
	inner := NewError(ErrRunAlreadyActive, "run in flight")
	wrapped := fmt.Errorf("trigger rejected: %w", inner)

	var target *Error
	require.True(t, errors.As(wrapped, &target))
	assert.Equal(t, ErrRunAlreadyActive, target.Code)
}

func TestIsCode(t *testing.T) {
	err := NewError(ErrPolicyViolation, "state suggested")
	assert.True(t, IsCode(err, ErrPolicyViolation))
	assert.False(t, IsCode(err, ErrNotFound))
	assert.False(t, IsCode(errors.New("plain"), ErrPolicyViolation))
	assert.Equal(t, ErrorCode(""), GetErrorCode(errors.New("plain")))
}

func TestError_Builders(t *testing.T) {
	err := NewError(ErrStoreUnavailable, "redis down").
		WithRetryable(true).
		WithHTTPStatus(503)
	assert.True(t, err.Retryable)
	assert.Equal(t, 503, err.HTTPStatus)
}
