package errors

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"net/http"
	"net/http/httptest"
	"testing"

	gferrors "github.com/fulmenhq/gofulmen/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tollgate/tollgate/internal/server/middleware"
)

func TestHTTPStatusFromCode(t *testing.T) {
	tests := map[string]int{
		"INVALID_INPUT":          http.StatusBadRequest,
		"NOT_FOUND":              http.StatusNotFound,
		"FORBIDDEN":              http.StatusForbidden,
		"METHOD_NOT_ALLOWED":     http.StatusMethodNotAllowed,
		"URI_TOO_LONG":           http.StatusRequestURITooLong,
		"RATE_LIMITED":           http.StatusTooManyRequests,
		"EXTERNAL_SERVICE_ERROR": http.StatusBadGateway,
		"SERVICE_UNAVAILABLE":    http.StatusServiceUnavailable,
		"CONFIG_INVALID":         http.StatusInternalServerError,
		"SOMETHING_ELSE":         http.StatusInternalServerError,
	}
	for code, want := range tests {
		assert.Equal(t, want, HTTPStatusFromCode(code), code)
	}
	assert.Equal(t, http.StatusInternalServerError, HTTPStatusFromEnvelope(nil))
}

func TestConstructorsUseExpectedCodes(t *testing.T) {
	assert.Equal(t, "INVALID_INPUT", NewInvalidInputError("x").Code)
	assert.Equal(t, "NOT_FOUND", NewNotFoundError("x").Code)
	assert.Equal(t, "FORBIDDEN", NewForbiddenError("x").Code)
	assert.Equal(t, "METHOD_NOT_ALLOWED", NewMethodNotAllowedError("x").Code)
	assert.Equal(t, "URI_TOO_LONG", NewURITooLongError("x").Code)
	assert.Equal(t, "INTERNAL_ERROR", NewInternalError("x").Code)
	assert.Equal(t, "SERVICE_UNAVAILABLE", NewServiceUnavailableError("x").Code)
	assert.Equal(t, "CONFIG_INVALID", NewConfigInvalidError("x").Code)

	limited := NewRateLimitedError("slow down", 4)
	assert.Equal(t, "RATE_LIMITED", limited.Code)
	assert.EqualValues(t, 4, limited.Context["retry_after_seconds"])
}

func TestWrapCarriesRequestID(t *testing.T) {
	ctx := context.WithValue(context.Background(), middleware.RequestIDContextKey, "req-123")
	cause := stderrors.New("disk on fire")

	env := WrapInternal(ctx, cause, "read failed")
	assert.Equal(t, "INTERNAL_ERROR", env.Code)
	assert.Equal(t, "read failed", env.Message)
	assert.Equal(t, "req-123", env.CorrelationID)
	assert.Equal(t, "disk on fire", env.Context["wrapped_error"])

	env = WrapInvalidInput(context.Background(), cause, "bad body")
	assert.Equal(t, "INVALID_INPUT", env.Code)
	assert.NotEmpty(t, env.CorrelationID)
}

func TestEnsureEnvelope(t *testing.T) {
	original := NewNotFoundError("missing")
	assert.Same(t, original, EnsureEnvelope(original))

	plain := EnsureEnvelope(stderrors.New("boom"))
	assert.Equal(t, "INTERNAL_ERROR", plain.Code)
	assert.Equal(t, "boom", plain.Context["wrapped_error"])

	assert.Equal(t, "INTERNAL_ERROR", EnsureEnvelope(nil).Code)
}

func TestEnsureCorrelationID(t *testing.T) {
	assert.Nil(t, EnsureCorrelationID(nil, context.Background()))

	env := EnsureCorrelationID(NewInvalidInputError("bad"), context.Background())
	assert.Contains(t, env.CorrelationID, "fallback-")

	kept := NewInvalidInputError("bad").WithCorrelationID("fixed")
	assert.Equal(t, "fixed", EnsureCorrelationID(kept, context.Background()).CorrelationID)
}

func TestRespondWithEnvelope(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/assets/x", nil)
	req = req.WithContext(context.WithValue(req.Context(), middleware.RequestIDContextKey, "req-abc"))
	rec := httptest.NewRecorder()

	RespondWithEnvelope(rec, req, NewRateLimitedError("Too many requests", 3))

	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var body HTTPErrorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, "RATE_LIMITED", body.Error.Code)
	assert.Equal(t, "Too many requests", body.Error.Message)
	assert.Equal(t, "req-abc", body.Error.RequestID)
	assert.EqualValues(t, 3, body.Error.Details["retry_after_seconds"])
}

func TestRespondWithErrorWrapsPlainErrors(t *testing.T) {
	rec := httptest.NewRecorder()
	RespondWithError(rec, httptest.NewRequest(http.MethodGet, "/", nil), stderrors.New("boom"))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestResponseDetailsPrefersDetailsOverContext(t *testing.T) {
	env := gferrors.NewErrorEnvelope("INVALID_INPUT", "bad")
	env = env.WithDetails(map[string]interface{}{"field": "details"})
	env, err := env.WithContext(map[string]interface{}{"field": "context", "extra": 1})
	require.NoError(t, err)

	details := ResponseDetails(env)
	assert.Equal(t, "details", details["field"])
	assert.EqualValues(t, 1, details["extra"])

	assert.Nil(t, ResponseDetails(gferrors.NewErrorEnvelope("INVALID_INPUT", "bare")))
	assert.Nil(t, ResponseDetails(nil))
}

func TestInternalErrorTextIsNotReturnedToClients(t *testing.T) {
	cause := stderrors.New("statat assets/hello.txt: file already closed")

	rec := httptest.NewRecorder()
	RespondWithEnvelope(rec, httptest.NewRequest(http.MethodGet, "/", nil), WrapInternal(context.Background(), cause, "Unable to stat resource"))
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "file already closed")

	rec = httptest.NewRecorder()
	RespondWithEnvelope(rec, httptest.NewRequest(http.MethodPost, "/upload", nil), WrapInvalidInput(context.Background(), cause, "Malformed upload"))
	require.Equal(t, http.StatusBadRequest, rec.Code)

	var body HTTPErrorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, cause.Error(), body.Error.Details["wrapped_error"])
}
