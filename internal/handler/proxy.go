package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"devproxy/internal/cors"
	"devproxy/internal/middleware"
	"devproxy/internal/model"
	"devproxy/internal/service"
)

// ProxyHandler relays browser requests under the proxy prefix to the upstream.
type ProxyHandler struct {
	service *service.ProxyService
	policy  *cors.Policy
	logger  *slog.Logger
}

// NewProxyHandler creates a ProxyHandler.
func NewProxyHandler(svc *service.ProxyService, policy *cors.Policy, logger *slog.Logger) *ProxyHandler {
	return &ProxyHandler{
		service: svc,
		policy:  policy,
		logger:  logger.With("component", "proxy_handler"),
	}
}

// Handle forwards a GET or POST to the upstream and writes the translated response.
func (h *ProxyHandler) Handle(c echo.Context) error {
	req := c.Request()
	if !h.service.IsProxyPath(req.URL.Path) {
		return NotFound(c)
	}

	res, err := h.service.Forward(&model.ProxyRequest{
		Ctx:    req.Context(),
		Method: req.Method,
		URI:    requestURI(req),
		Header: req.Header,
		Body:   req.Body,
	})
	if err != nil {
		return h.mapError(c, err)
	}

	c.Set(middleware.OutcomeKey, res.Kind.String())
	origin := req.Header.Get(model.HeaderOrigin)
	header := c.Response().Header()

	switch res.Kind {
	case model.OutcomeResponse:
		// Upstream values replace anything middleware already set, X-Request-Id included.
		for key, vals := range res.Header {
			header.Del(key)
			for _, v := range vals {
				header.Add(key, v)
			}
		}
		h.policy.Apply(header, origin)
		return h.write(c, res.StatusCode, res.Body)

	case model.OutcomeStatusError:
		cors.Wildcard(header)
		return h.write(c, res.StatusCode, res.Body)

	default:
		h.logger.Error("proxy error",
			"err", res.Failure,
			"method", req.Method,
			"path", req.URL.Path,
		)
		h.policy.Apply(header, origin)
		return c.JSON(http.StatusInternalServerError, map[string]string{
			"error": res.Failure,
		})
	}
}

// Preflight answers a CORS preflight locally without contacting the upstream.
func (h *ProxyHandler) Preflight(c echo.Context) error {
	h.policy.Apply(c.Response().Header(), c.Request().Header.Get(model.HeaderOrigin))
	return c.NoContent(http.StatusOK)
}

func (h *ProxyHandler) write(c echo.Context, status int, body []byte) error {
	c.Response().WriteHeader(status)
	if _, err := c.Response().Write(body); err != nil {
		// Status is already on the wire; the browser sees a truncated body.
		h.logger.Error("writing response body",
			"err", err,
			"path", c.Request().URL.Path,
		)
	}
	return nil
}

func (h *ProxyHandler) mapError(c echo.Context, err error) error {
	h.logger.Warn("rejected proxy request",
		"err", err,
		"path", c.Request().URL.Path,
	)

	if errors.Is(err, service.ErrShortBody) {
		return c.JSON(http.StatusBadRequest, map[string]string{
			"error": "request body shorter than Content-Length",
		})
	}
	if errors.Is(err, service.ErrNotProxyPath) {
		return NotFound(c)
	}
	return c.JSON(http.StatusBadRequest, map[string]string{
		"error": "invalid proxy request",
	})
}

// requestURI returns the request target as sent by the client. Absolute-form
// targets fall back to the parsed URL.
func requestURI(req *http.Request) string {
	if strings.HasPrefix(req.RequestURI, "/") {
		return req.RequestURI
	}
	return req.URL.RequestURI()
}

// NotFound answers any request the relay does not serve.
func NotFound(c echo.Context) error {
	return c.String(http.StatusNotFound, "Not Found")
}
