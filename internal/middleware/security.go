package middleware

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

// SecurityHeaders returns an Echo middleware that adds security headers.
// Responses carry session-derived data, so they are never cached.
func SecurityHeaders() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			h := c.Response().Header()
			h.Set("X-Content-Type-Options", "nosniff")
			h.Set("X-Frame-Options", "DENY")
			h.Set("Cache-Control", "no-store")
			h.Set("Referrer-Policy", "no-referrer")

			return next(c)
		}
	}
}

// OriginGuard rejects browser requests whose Origin header is not in allowed.
// Requests without an Origin header (curl, the native host tooling) pass.
// An empty allow list disables the check.
func OriginGuard(allowed ...string) echo.MiddlewareFunc {
	set := make(map[string]bool, len(allowed))
	for _, o := range allowed {
		if o = strings.TrimRight(o, "/"); o != "" {
			set[o] = true
		}
	}
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			origin := strings.TrimRight(c.Request().Header.Get(echo.HeaderOrigin), "/")
			if len(set) == 0 || origin == "" || set[origin] {
				return next(c)
			}
			return c.JSON(http.StatusForbidden, map[string]string{
				"error": "origin not allowed",
			})
		}
	}
}
