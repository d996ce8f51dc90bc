// Package client provides the upstream HTTP client for the relay.
package client

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"devproxy/internal/config"
	"devproxy/internal/metrics"
	"devproxy/internal/model"
)

// UpstreamClient sends requests to the configured upstream API.
type UpstreamClient struct {
	httpClient   *http.Client
	logger       *slog.Logger
	metrics      *metrics.Metrics
	strictStatus bool
}

// NewUpstreamClient creates an UpstreamClient with a bounded timeout.
// The metrics parameter is optional; pass nil to disable upstream metrics recording.
func NewUpstreamClient(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) *UpstreamClient {
	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        cfg.Upstream.IdleConnections,
		MaxIdleConnsPerHost: cfg.Upstream.IdleConnections,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
		// Bodies are relayed byte-for-byte, so no transparent gzip.
		DisableCompression: true,
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
	}

	return &UpstreamClient{
		httpClient: &http.Client{
			Transport: transport,
			Timeout:   time.Duration(cfg.Upstream.TimeoutSeconds) * time.Second,
		},
		logger:       logger.With("component", "upstream_client"),
		metrics:      m,
		strictStatus: cfg.Upstream.StrictStatus,
	}
}

// Do issues out and buffers the whole response. It never returns nil; failures
// are reported as an OutcomeTransportFailure result.
func (c *UpstreamClient) Do(ctx context.Context, out *model.OutboundRequest) *model.UpstreamResult {
	method := metrics.NormalizeMethod(out.Method)
	start := time.Now()

	res, err := c.do(ctx, out)
	if err != nil {
		c.logger.Debug("upstream request failed", "method", out.Method, "url", out.URL, "err", err)
		res = model.TransportFailure(err)
	} else if c.strictStatus && res.StatusCode >= http.StatusBadRequest {
		res.Kind = model.OutcomeStatusError
	}

	if c.metrics != nil {
		c.metrics.UpstreamDuration.WithLabelValues(method).Observe(time.Since(start).Seconds())
		c.metrics.UpstreamOutcomes.WithLabelValues(res.Kind.String()).Inc()
		if res.Kind != model.OutcomeTransportFailure {
			c.metrics.UpstreamResponses.WithLabelValues(method, strconv.Itoa(res.StatusCode)).Inc()
		}
	}
	return res
}

func (c *UpstreamClient) do(ctx context.Context, out *model.OutboundRequest) (*model.UpstreamResult, error) {
	var body io.Reader
	if out.Body != nil {
		body = bytes.NewReader(out.Body)
	}
	req, err := http.NewRequestWithContext(ctx, out.Method, out.URL, body)
	if err != nil {
		return nil, fmt.Errorf("build upstream request: %w", err)
	}
	req.Header = out.Header

	c.logger.Debug("upstream request",
		"method", req.Method,
		"path", req.URL.Path,
	)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("upstream request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read upstream body: %w", err)
	}

	return &model.UpstreamResult{
		Kind:       model.OutcomeResponse,
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       data,
	}, nil
}
