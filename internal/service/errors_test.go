package service

import (
	"errors"
	"fmt"
	"testing"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDatabaseMapsUniqueViolationToConflict(t *testing.T) {
	pqErr := &pq.Error{Code: "23505", Message: "duplicate key value violates unique constraint"}

	err := Database("create label", pqErr)
	assert.Equal(t, KindConflict, err.Kind)
	assert.Contains(t, err.Message, "create label")
	assert.ErrorIs(t, err, pqErr)
}

func TestDatabaseWrapsOtherDriverErrors(t *testing.T) {
	cause := errors.New("connection refused")

	err := Database("query labels", cause)
	assert.Equal(t, KindDatabase, err.Kind)
	assert.True(t, err.Retryable())
	assert.ErrorIs(t, err, cause)
}

func TestRetryable(t *testing.T) {
	tests := []struct {
		err  *Error
		want bool
	}{
		{Validation("name", "required"), false},
		{NotFound("label"), false},
		{Conflict("duplicate"), false},
		{Permission("denied"), false},
		{Database("op", errors.New("x")), true},
		{Internal("boom"), true},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.err.Retryable(), "kind %d", tt.err.Kind)
	}
}

func TestAsError(t *testing.T) {
	svcErr := Validation("color", "bad color")
	assert.Same(t, svcErr, AsError(svcErr))

	wrapped := fmt.Errorf("outer: %w", svcErr)
	assert.Same(t, svcErr, AsError(wrapped))

	unknown := AsError(errors.New("some driver panic"))
	require.NotNil(t, unknown)
	assert.Equal(t, KindInternal, unknown.Kind)
	assert.Equal(t, "internal error", unknown.Message)
}
