package errors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConstructors_StatusMapping(t *testing.T) {
	tests := []struct {
		name       string
		err        *Error
		wantType   ErrorType
		wantStatus int
	}{
		{"validation", ValidationError("bad input"), TypeValidation, http.StatusBadRequest},
		{"unauthorized", UnauthorizedError("login required"), TypeUnauthorized, http.StatusUnauthorized},
		{"forbidden", ForbiddenError("not a member"), TypeForbidden, http.StatusForbidden},
		{"not found", NotFoundError("owner not found"), TypeNotFound, http.StatusNotFound},
		{"conflict", ConflictError("dataset exists"), TypeConflict, http.StatusConflict},
		{"internal", InternalError("boom", nil), TypeInternal, http.StatusInternalServerError},
		{"external", ExternalError("stripe down", nil), TypeExternal, http.StatusBadGateway},
		{"rate limited", RateLimitedError("slow down"), TypeRateLimited, http.StatusTooManyRequests},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.wantType, tt.err.Type)
			assert.Equal(t, tt.wantStatus, tt.err.HTTPStatus())
			assert.NotNil(t, tt.err.Context)
			assert.Contains(t, tt.err.Error(), string(tt.wantType))
		})
	}
}

func TestInternalError_CauseInMessage(t *testing.T) {
	cause := fmt.Errorf("database connection failed")
	err := InternalError("failed to save owner", cause)

	assert.Equal(t, cause, err.Cause)
	assert.Contains(t, err.Error(), "failed to save owner")
	assert.Contains(t, err.Error(), "database connection failed")
	assert.ErrorIs(t, err, cause)
}

func TestInternalError_WithoutCause(t *testing.T) {
	err := InternalError("something went wrong", nil)
	assert.NotContains(t, err.Error(), "<nil>")
}

func TestUpstreamError_KeepsStatus(t *testing.T) {
	err := UpstreamError(http.StatusNotFound, "Branch not found", nil)

	assert.Equal(t, TypeUpstream, err.Type)
	assert.Equal(t, http.StatusNotFound, err.HTTPStatus())
	assert.Equal(t, "Branch not found", err.ToResponse().Error)
}

func TestUpstreamError_InvalidStatusFallsBack(t *testing.T) {
	for _, status := range []int{0, 200, 302, 600} {
		err := UpstreamError(status, "weird", nil)
		assert.Equal(t, http.StatusBadGateway, err.HTTPStatus(), "status %d", status)
	}
}

func TestWithField_Chains(t *testing.T) {
	err := NotFoundError("repo not found").
		WithField("owner", "codecov").
		WithField("repo", "api")

	assert.Equal(t, "codecov", err.Context["owner"])
	assert.Equal(t, "api", err.Context["repo"])

	resp := err.ToResponse()
	assert.Equal(t, "repo not found", resp.Error)
	assert.Equal(t, TypeNotFound, resp.Type)
	assert.Len(t, resp.Context, 2)
}

func TestWithField_NilContext(t *testing.T) {
	err := &Error{Type: TypeInternal, Message: "raw"}
	err.WithField("k", "v")
	assert.Equal(t, "v", err.Context["k"])
}

func TestAsStructuredError(t *testing.T) {
	assert.Nil(t, AsStructuredError(nil))

	original := ForbiddenError("nope")
	wrapped := fmt.Errorf("handler: %w", original)
	assert.Same(t, original, AsStructuredError(wrapped))

	plain := errors.New("plain failure")
	converted := AsStructuredError(plain)
	require.NotNil(t, converted)
	assert.Equal(t, TypeInternal, converted.Type)
	assert.Equal(t, "internal server error", converted.Message)
	assert.ErrorIs(t, converted, plain)
}
