package errors

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/cloudcareercoach/api/pkg/domain"
	"github.com/cloudcareercoach/api/pkg/logger"
	"github.com/cloudcareercoach/api/pkg/models"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newContext creates an echo.Context backed by an httptest.NewRecorder
func newContext(method, path string) (echo.Context, *httptest.ResponseRecorder) {
	e := echo.New()
	req := httptest.NewRequest(method, path, nil)
	rec := httptest.NewRecorder()
	return e.NewContext(req, rec), rec
}

func parseBody(t *testing.T, rec *httptest.ResponseRecorder) models.ErrorResponse {
	t.Helper()
	var resp models.ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

// captureLog routes the package logger to a buffer for the duration of fn
func captureLog(t *testing.T, fn func()) string {
	t.Helper()
	var buf bytes.Buffer
	SetLogger(logger.NewWithWriter(&buf, "debug"))
	t.Cleanup(func() { SetLogger(logger.Default()) })
	fn()
	return buf.String()
}

func TestValidationError(t *testing.T) {
	internalMsg := "Key: 'CheckoutRequest.PackageID' Error:Field validation for 'PackageID' failed on the 'required' tag"
	var rec *httptest.ResponseRecorder
	logged := captureLog(t, func() {
		var c echo.Context
		c, rec = newContext(http.MethodPost, "/api/v1/payments/checkout")
		assert.NoError(t, ValidationError(c, errors.New(internalMsg)))
	})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "application/json")
	assert.Equal(t, "validation_error", parseBody(t, rec).Error)
	assert.NotContains(t, rec.Body.String(), "CheckoutRequest")

	assert.Contains(t, logged, "validation error")
	assert.Contains(t, logged, "/api/v1/payments/checkout")
}

func TestDatabaseError_NoInternalDetails(t *testing.T) {
	internalMsg := "pq: relation \"payment_transactions\" does not exist"
	var rec *httptest.ResponseRecorder
	logged := captureLog(t, func() {
		var c echo.Context
		c, rec = newContext(http.MethodGet, "/api/v1/me/entitlement")
		_ = DatabaseError(c, errors.New(internalMsg))
	})

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "database_error", parseBody(t, rec).Error)
	assert.NotContains(t, rec.Body.String(), "pq:")
	assert.Contains(t, logged, "payment_transactions")
}

func TestInternalError_NoInternalDetails(t *testing.T) {
	var rec *httptest.ResponseRecorder
	captureLog(t, func() {
		var c echo.Context
		c, rec = newContext(http.MethodGet, "/api/v1/payments/confirm")
		_ = InternalError(c, errors.New("stripe: api_key invalid sk_live_123"))
	})

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "internal_error", parseBody(t, rec).Error)
	assert.NotContains(t, rec.Body.String(), "sk_live")
}

func TestFromDomain(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"not found", domain.NewNotFoundError("payment transaction"), http.StatusNotFound, "not_found"},
		{"validation", domain.NewValidationError("session id is required"), http.StatusBadRequest, "validation_error"},
		{"bad request", domain.NewBadRequestError("malformed body"), http.StatusBadRequest, "validation_error"},
		{"invalid package", domain.NewInvalidPackageError("lifetime"), http.StatusBadRequest, "invalid_package"},
		{"unauthorized", domain.NewUnauthorizedError(), http.StatusUnauthorized, "unauthorized"},
		{"conflict", domain.NewConflictError("duplicate session"), http.StatusConflict, "conflict"},
		{"wrapped not found", fmt.Errorf("lookup: %w", domain.NewNotFoundError("user")), http.StatusNotFound, "not_found"},
		{"plain error", errors.New("connection reset"), http.StatusInternalServerError, "internal_error"},
	}

	SetLogger(logger.Nop())
	t.Cleanup(func() { SetLogger(logger.Default()) })

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, rec := newContext(http.MethodGet, "/api/v1/payments/status/cs_test_1")
			require.NoError(t, FromDomain(c, tt.err))
			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Equal(t, tt.wantCode, parseBody(t, rec).Error)
		})
	}
}
