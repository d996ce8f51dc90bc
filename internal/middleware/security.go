package middleware

import (
	"github.com/labstack/echo/v4"
)

// staticSecurityHeaders are added to locally served files. Proxied responses
// carry only upstream and CORS headers, so this middleware is not applied there.
var staticSecurityHeaders = map[string]string{
	"X-Content-Type-Options": "nosniff",
	"X-Frame-Options":        "DENY",
	"Referrer-Policy":        "no-referrer",
}

// SecurityHeaders returns an Echo middleware that adds security headers to
// responses. Headers are set before the handler runs because file responses
// are committed inside it.
func SecurityHeaders() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			h := c.Response().Header()
			for k, v := range staticSecurityHeaders {
				h.Set(k, v)
			}
			return next(c)
		}
	}
}
