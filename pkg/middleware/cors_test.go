package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/stretchr/testify/assert"
)

func newCORSServer() *echo.Echo {
	e := echo.New()
	e.Use(echomw.CORSWithConfig(CORSConfig([]string{"http://localhost:3000", "https://app.careercoach.dev"})))
	e.POST("/api/v1/payments/checkout", func(c echo.Context) error {
		return c.String(http.StatusOK, "OK")
	})
	return e
}

func TestCORS_AllowedOrigin(t *testing.T) {
	e := newCORSServer()

	req := httptest.NewRequest(http.MethodPost, "/api/v1/payments/checkout", nil)
	req.Header.Set("Origin", "https://app.careercoach.dev")
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	assert.Equal(t, "https://app.careercoach.dev", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", rec.Header().Get("Access-Control-Allow-Credentials"))
}

func TestCORS_UnknownOrigin(t *testing.T) {
	e := newCORSServer()

	req := httptest.NewRequest(http.MethodPost, "/api/v1/payments/checkout", nil)
	req.Header.Set("Origin", "https://evil.example")
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestCORS_Preflight(t *testing.T) {
	e := newCORSServer()

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/payments/checkout", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	req.Header.Set("Access-Control-Request-Headers", "Authorization, Content-Type")
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "http://localhost:3000", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Methods"), http.MethodDelete)
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Headers"), "Authorization")
}
