// Package service implements the core relay forwarding logic.
package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"devproxy/internal/client"
	"devproxy/internal/config"
	"devproxy/internal/model"
)

var (
	// ErrNotProxyPath is returned when a request target lies outside the proxy prefix.
	ErrNotProxyPath = errors.New("path is outside the proxy prefix")
	// ErrShortBody is returned when a POST body is shorter than its declared Content-Length.
	ErrShortBody = errors.New("request body shorter than Content-Length")
)

// passthroughHeaders are copied verbatim to the upstream when present and non-empty.
var passthroughHeaders = []string{
	model.HeaderGeminiAPIKey,
	model.HeaderDatabaseURL,
}

// strippedResponseHeaders are transport framing headers never relayed to the browser.
// Keys are lower-case.
var strippedResponseHeaders = map[string]bool{
	"transfer-encoding": true,
	"connection":        true,
	"keep-alive":        true,
	"content-encoding":  true,
}

const userAgent = "devproxy/1.0"

// Upstream issues a fully built request and reports its outcome.
type Upstream interface {
	Do(ctx context.Context, out *model.OutboundRequest) *model.UpstreamResult
}

// ProxyService handles the forwarding logic for proxy requests.
type ProxyService struct {
	upstream Upstream
	logger   *slog.Logger
	prefix   string
	baseURL  string
}

// NewProxyService creates a ProxyService.
func NewProxyService(c *client.UpstreamClient, cfg *config.Config, logger *slog.Logger) *ProxyService {
	return newProxyService(c, cfg, logger)
}

func newProxyService(u Upstream, cfg *config.Config, logger *slog.Logger) *ProxyService {
	return &ProxyService{
		upstream: u,
		logger:   logger.With("component", "proxy_service"),
		prefix:   cfg.Proxy.Prefix,
		baseURL:  cfg.Upstream.BaseURL,
	}
}

// Prefix returns the reserved path prefix.
func (s *ProxyService) Prefix() string {
	return s.prefix
}

// IsProxyPath reports whether path is the reserved prefix itself or lies beneath it.
func (s *ProxyService) IsProxyPath(path string) bool {
	return path == s.prefix || strings.HasPrefix(path, s.prefix+"/")
}

// UpstreamTarget returns the upstream URL for a raw request target by replacing
// the reserved prefix with the upstream base URL. The remainder, query string
// included, is appended verbatim.
func (s *ProxyService) UpstreamTarget(uri string) (string, error) {
	path, _, _ := strings.Cut(uri, "?")
	if !s.IsProxyPath(path) {
		return "", fmt.Errorf("%w: %q", ErrNotProxyPath, uri)
	}
	return s.baseURL + uri[len(s.prefix):], nil
}

// Forward relays pr to the upstream and returns the buffered outcome. An error is
// returned only when the inbound request itself is unusable; upstream problems
// are reported through the result.
func (s *ProxyService) Forward(pr *model.ProxyRequest) (*model.UpstreamResult, error) {
	target, err := s.UpstreamTarget(pr.URI)
	if err != nil {
		return nil, err
	}

	out := &model.OutboundRequest{
		Method: pr.Method,
		URL:    target,
		Header: s.buildRequestHeaders(pr.Header),
	}
	if pr.Method == http.MethodPost {
		out.Body, err = readBody(pr.Header, pr.Body)
		if err != nil {
			return nil, err
		}
	}

	s.logger.Debug("forwarding request",
		"method", out.Method,
		"target", target,
		"body_bytes", len(out.Body),
	)

	res := s.upstream.Do(pr.Ctx, out)
	if res.Kind == model.OutcomeResponse {
		res.Header = filterResponseHeaders(res.Header)
	}
	return res, nil
}

// buildRequestHeaders builds the outbound header set from scratch. Only the
// credential headers are taken from the inbound request.
func (s *ProxyService) buildRequestHeaders(src http.Header) http.Header {
	dst := make(http.Header)

	if key := src.Get(model.HeaderAPIKey); key != "" {
		dst.Set("Authorization", "Bearer "+key)
	} else {
		s.logger.Warn("no API key provided in headers; forwarding without Authorization",
			"header", model.HeaderAPIKey,
		)
	}

	dst.Set("Content-Type", "application/json")
	dst.Set("Accept", "application/json")

	for _, name := range passthroughHeaders {
		if v := src.Get(name); v != "" {
			dst.Set(name, v)
		}
	}

	dst.Set("User-Agent", userAgent)
	return dst
}

// readBody reads exactly the declared Content-Length bytes from body. A missing,
// negative or unparseable length reads nothing.
func readBody(header http.Header, body io.Reader) ([]byte, error) {
	n, err := strconv.ParseInt(header.Get("Content-Length"), 10, 64)
	if err != nil || n <= 0 || body == nil {
		return []byte{}, nil
	}

	buf := make([]byte, n)
	if _, err := io.ReadFull(body, buf); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrShortBody, err)
	}
	return buf, nil
}

// filterResponseHeaders copies every upstream header except transport framing ones.
func filterResponseHeaders(src http.Header) http.Header {
	dst := make(http.Header, len(src))
	for key, vals := range src {
		if strippedResponseHeaders[strings.ToLower(key)] {
			continue
		}
		dst[key] = vals
	}
	return dst
}
