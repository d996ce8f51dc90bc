// Package model defines shared request-scoped types for the relay.
package model

import (
	"context"
	"io"
	"net/http"
)

// Inbound header names consumed by the relay.
const (
	HeaderAPIKey       = "X-TensorLake-API-Key"
	HeaderGeminiAPIKey = "X-Gemini-API-Key"
	HeaderDatabaseURL  = "X-Database-URL"
	HeaderOrigin       = "Origin"
)

// ProxyRequest represents a browser request under the proxy prefix.
type ProxyRequest struct {
	Ctx    context.Context
	Method string
	// URI is the raw request target (path plus query) exactly as received.
	URI    string
	Header http.Header
	Body   io.Reader
}

// OutboundRequest is the request issued to the upstream.
type OutboundRequest struct {
	Method string
	URL    string
	Header http.Header
	Body   []byte // nil unless Method is POST
}

// OutcomeKind discriminates UpstreamResult.
type OutcomeKind int

const (
	// OutcomeResponse is any HTTP response returned by the upstream, whatever its status.
	OutcomeResponse OutcomeKind = iota
	// OutcomeStatusError is an upstream error status surfaced as a failure
	// (strict status mode only).
	OutcomeStatusError
	// OutcomeTransportFailure means no usable response was obtained.
	OutcomeTransportFailure
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeResponse:
		return "response"
	case OutcomeStatusError:
		return "status_error"
	case OutcomeTransportFailure:
		return "transport_failure"
	default:
		return "unknown"
	}
}

// UpstreamResult is the fully buffered outcome of one upstream call.
// StatusCode, Header and Body are set for OutcomeResponse and OutcomeStatusError;
// Failure is set for OutcomeTransportFailure.
type UpstreamResult struct {
	Kind       OutcomeKind
	StatusCode int
	Header     http.Header
	Body       []byte
	Failure    string
}

// TransportFailure builds a failure result from err.
func TransportFailure(err error) *UpstreamResult {
	return &UpstreamResult{Kind: OutcomeTransportFailure, Failure: err.Error()}
}
