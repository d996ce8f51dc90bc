// Package middleware provides Echo middleware for logging, metrics and security headers.
package middleware

import (
	"log/slog"
	"time"

	"github.com/labstack/echo/v4"
)

// OutcomeKey is the echo.Context key read for the upstream outcome of a relayed request.
const OutcomeKey = "upstream_outcome"

// RequestLogger returns an Echo middleware that logs each request with slog.
// Relayed requests also carry the upstream outcome set by the proxy handler.
func RequestLogger(logger *slog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()

			err := next(c)

			req := c.Request()
			res := c.Response()

			attrs := []any{
				"method", req.Method,
				"path", req.URL.Path,
				"route", c.Path(),
				"status", res.Status,
				"duration_ms", time.Since(start).Milliseconds(),
				"request_id", res.Header().Get(echo.HeaderXRequestID),
				"remote_ip", c.RealIP(),
				"bytes_out", res.Size,
			}
			if outcome, ok := c.Get(OutcomeKey).(string); ok {
				attrs = append(attrs, "upstream_outcome", outcome)
			}
			if err != nil {
				attrs = append(attrs, "err", err)
			}

			logger.Info("request", attrs...)
			return err
		}
	}
}
