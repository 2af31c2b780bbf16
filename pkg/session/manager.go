// Package session scopes requests to a browser session. The id lives in a
// cookie without Max-Age so it disappears when the browser session ends.
package session

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

const contextKey = "browser_session"

// Manager issues and reads browser-session cookies
type Manager struct {
	cookieName string
	secure     bool
}

// NewManager creates a session manager. Secure cookies should be used
// whenever the API is served over TLS.
func NewManager(cookieName string, secure bool) *Manager {
	return &Manager{
		cookieName: cookieName,
		secure:     secure,
	}
}

// Middleware makes the browser session id available to handlers, issuing a
// new cookie when the request has none or carries a malformed one.
func (m *Manager) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			id := m.read(c)
			if id == "" {
				id = uuid.NewString()
				c.SetCookie(m.cookie(id))
			}
			c.Set(contextKey, id)
			return next(c)
		}
	}
}

func (m *Manager) read(c echo.Context) string {
	cookie, err := c.Cookie(m.cookieName)
	if err != nil {
		return ""
	}
	if _, err := uuid.Parse(cookie.Value); err != nil {
		return ""
	}
	return cookie.Value
}

func (m *Manager) cookie(id string) *http.Cookie {
	return &http.Cookie{
		Name:     m.cookieName,
		Value:    id,
		Path:     "/",
		HttpOnly: true,
		Secure:   m.secure,
		SameSite: http.SameSiteLaxMode,
	}
}

// FromContext returns the browser session id set by Middleware
func FromContext(c echo.Context) string {
	id, _ := c.Get(contextKey).(string)
	return id
}
