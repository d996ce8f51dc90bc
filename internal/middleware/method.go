package middleware

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
)

// MethodNotFound answers requests whose method has no route with 404 instead
// of echo's 405. echo.Any only registers the standard methods, so custom verbs
// would otherwise escape the catch-all routes.
//
// It must run inside the logging and metrics middleware so they record the
// rewritten status.
func MethodNotFound() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			err := next(c)
			var he *echo.HTTPError
			if err == nil || !errors.As(err, &he) || he.Code != http.StatusMethodNotAllowed {
				return err
			}
			c.Response().Header().Del(echo.HeaderAllow)
			return c.String(http.StatusNotFound, "Not Found")
		}
	}
}
