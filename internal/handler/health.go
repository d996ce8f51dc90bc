package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"devproxy/internal/config"
)

// Version is the build version injected through fx.
type Version string

// HealthHandler serves the relay's own liveness and status routes.
type HealthHandler struct {
	cfg     *config.Config
	version Version
}

// statusResponse is the /proxy/status body.
type statusResponse struct {
	Status        string `json:"status"`
	Version       string `json:"version"`
	UpstreamURL   string `json:"upstream_url"`
	ProxyPrefix   string `json:"proxy_prefix"`
	AllowedOrigin string `json:"allowed_origin"`
	StaticRoot    string `json:"static_root"`
}

func NewHealthHandler(cfg *config.Config, v Version) *HealthHandler {
	return &HealthHandler{cfg: cfg, version: v}
}

// Healthz never touches the upstream.
func (h *HealthHandler) Healthz(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

// Status reports where the relay forwards to and which origin it trusts.
func (h *HealthHandler) Status(c echo.Context) error {
	return c.JSON(http.StatusOK, statusResponse{
		Status:        "ok",
		Version:       string(h.version),
		UpstreamURL:   h.cfg.Upstream.BaseURL,
		ProxyPrefix:   h.cfg.Proxy.Prefix,
		AllowedOrigin: h.cfg.Proxy.AllowedOrigin,
		StaticRoot:    h.cfg.Static.Root,
	})
}
