package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
)

func runSecurityHeaders(cfg SecurityHeadersConfig, next echo.HandlerFunc) (*httptest.ResponseRecorder, error) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/payments/status/cs_test_1", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	err := SecurityHeaders(cfg)(next)(c)
	return rec, err
}

func TestSecurityHeaders_Defaults(t *testing.T) {
	rec, err := runSecurityHeaders(SecurityHeadersConfig{}, func(c echo.Context) error {
		return c.String(http.StatusOK, "OK")
	})
	assert.NoError(t, err)

	assert.Equal(t, "default-src 'none'; frame-ancestors 'none'", rec.Header().Get("Content-Security-Policy"))
	assert.Equal(t, "no-referrer", rec.Header().Get("Referrer-Policy"))
	assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
}

func TestSecurityHeaders_Overrides(t *testing.T) {
	rec, err := runSecurityHeaders(SecurityHeadersConfig{
		ReferrerPolicy: "strict-origin",
		CacheControl:   "private, max-age=60",
	}, func(c echo.Context) error {
		return c.String(http.StatusOK, "OK")
	})
	assert.NoError(t, err)

	assert.Equal(t, "strict-origin", rec.Header().Get("Referrer-Policy"))
	assert.Equal(t, "private, max-age=60", rec.Header().Get("Cache-Control"))
	// Unset fields keep their defaults
	assert.Equal(t, "default-src 'none'; frame-ancestors 'none'", rec.Header().Get("Content-Security-Policy"))
}

func TestSecurityHeaders_HandlerError(t *testing.T) {
	rec, err := runSecurityHeaders(SecurityHeadersConfig{}, func(c echo.Context) error {
		return echo.ErrInternalServerError
	})

	assert.Error(t, err)
	// Headers are set even when the handler fails
	assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))
}
