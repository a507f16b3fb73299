package errors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- AppError behavior ---

func TestAppError_ErrorString_WithWrappedError(t *testing.T) {
	appErr := &AppError{Code: "INTERNAL_ERROR", Message: "something broke", Err: fmt.Errorf("db connection lost")}
	assert.Contains(t, appErr.Error(), "INTERNAL_ERROR")
	assert.Contains(t, appErr.Error(), "something broke")
	assert.Contains(t, appErr.Error(), "db connection lost")
}

func TestAppError_ErrorString_WithoutWrappedError(t *testing.T) {
	appErr := &AppError{Code: "NOT_FOUND", Message: "sku not found"}
	assert.Equal(t, "NOT_FOUND: sku not found", appErr.Error())
}

// --- Constructor functions ---

func TestServiceFailure_KeepsCauseAndSentinel(t *testing.T) {
	cause := errors.New("connection refused")
	err := ServiceFailure("could not commit core", cause)

	require.NotNil(t, err)
	assert.Equal(t, "SERVICE_UNAVAILABLE", err.Code)
	assert.Equal(t, http.StatusServiceUnavailable, err.Status)
	assert.ErrorIs(t, err, ErrServiceUnavail)
	assert.ErrorIs(t, err, cause)
	assert.True(t, IsServiceFailure(fmt.Errorf("page 3: %w", err)))
}

func TestServiceFailure_NilCause(t *testing.T) {
	err := ServiceFailure("backend down", nil)
	assert.ErrorIs(t, err, ErrServiceUnavail)
}

func TestConflict(t *testing.T) {
	err := Conflict("rebuild already running")
	assert.Equal(t, http.StatusConflict, err.Status)
	assert.ErrorIs(t, err, ErrConflict)
}

func TestNotFound(t *testing.T) {
	err := NotFound("sku", "42")
	assert.Equal(t, "sku with id 42 not found", err.Message)
	assert.ErrorIs(t, err, ErrNotFound)
}

// --- HTTPStatus mapping ---

func TestHTTPStatus(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"app error", InvalidInput("bad kind"), http.StatusBadRequest},
		{"wrapped app error", Wrap(Conflict("busy"), "rebuild"), http.StatusConflict},
		{"bare sentinel", ErrNotFound, http.StatusNotFound},
		{"unavailable sentinel", fmt.Errorf("x: %w", ErrServiceUnavail), http.StatusServiceUnavailable},
		{"unknown", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, HTTPStatus(tc.err))
		})
	}
}
