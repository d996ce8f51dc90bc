package handler

import (
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"

	"devproxy/internal/config"
)

// StaticHandler serves the local file tree for paths outside the proxy prefix.
type StaticHandler struct {
	serve echo.MiddlewareFunc
}

// NewStaticHandler creates a StaticHandler rooted at cfg.Static.Root.
func NewStaticHandler(cfg *config.Config) *StaticHandler {
	return &StaticHandler{
		serve: echomw.StaticWithConfig(echomw.StaticConfig{
			Root:   cfg.Static.Root,
			Index:  "index.html",
			Browse: cfg.Static.Browse,
		}),
	}
}

// Middleware returns the file-serving middleware. Requests it cannot satisfy
// fall through to the wrapped handler.
func (s *StaticHandler) Middleware() echo.MiddlewareFunc {
	return s.serve
}
