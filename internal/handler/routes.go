package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"devproxy/internal/config"
	"devproxy/internal/metrics"
	"devproxy/internal/middleware"
)

// RegisterRoutes wires all route handlers onto the Echo instance.
//
// Method-specific routes are registered after the catch-all 404 routes so they
// take precedence on the same path. OPTIONS is answered with the CORS preflight
// on every path.
func RegisterRoutes(e *echo.Echo, cfg *config.Config, m *metrics.Metrics, proxy *ProxyHandler, health *HealthHandler, static *StaticHandler) {
	// Added last, so it runs inside the logging and metrics middleware.
	e.Use(middleware.MethodNotFound())

	prefix := proxy.service.Prefix()
	for _, p := range []string{prefix, prefix + "/*"} {
		e.Any(p, NotFound)
		e.GET(p, proxy.Handle)
		e.POST(p, proxy.Handle)
		e.OPTIONS(p, proxy.Preflight)
	}

	local := map[string]echo.HandlerFunc{
		"/healthz":      health.Healthz,
		"/proxy/status": health.Status,
	}
	if cfg.Metrics.Enabled {
		local[cfg.Metrics.Path] = echo.WrapHandler(promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{}))
	}
	for p, h := range local {
		e.GET(p, h)
		e.OPTIONS(p, proxy.Preflight)
	}

	e.Any("/*", NotFound)
	e.OPTIONS("/*", proxy.Preflight)
	e.Match([]string{http.MethodGet, http.MethodHead}, "/*", NotFound,
		middleware.SecurityHeaders(),
		static.Middleware(),
	)
}
