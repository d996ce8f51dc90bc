// Package cors implements the relay's cross-origin policy.
//
// The policy is deliberately narrow: a browser page is trusted when it is
// served from the configured production origin or from the relay itself
// (localhost or 127.0.0.1 on the listening port). Untrusted origins are
// answered with the production origin, never with a wildcard or an echo of
// the requester, so the browser rejects the response.
package cors

import (
	"fmt"
	"net/http"
	"strings"

	"devproxy/internal/config"
	"devproxy/internal/model"
)

// Response header names.
const (
	HeaderAllowOrigin  = "Access-Control-Allow-Origin"
	HeaderAllowMethods = "Access-Control-Allow-Methods"
	HeaderAllowHeaders = "Access-Control-Allow-Headers"
)

var allowedMethods = []string{
	http.MethodGet,
	http.MethodPost,
	http.MethodOptions,
}

var allowedHeaders = []string{
	"Content-Type",
	model.HeaderAPIKey,
	model.HeaderGeminiAPIKey,
	model.HeaderDatabaseURL,
	"Authorization",
}

// Policy holds pre-computed CORS header values.
type Policy struct {
	productionOrigin string
	trusted          map[string]bool
	allowMethods     string
	allowHeaders     string
}

// NewPolicy builds the policy from the configured production origin and listen port.
func NewPolicy(cfg *config.Config) *Policy {
	prod := cfg.Proxy.AllowedOrigin
	return &Policy{
		productionOrigin: prod,
		trusted: map[string]bool{
			prod: true,
			fmt.Sprintf("http://localhost:%d", cfg.Server.Port): true,
			fmt.Sprintf("http://127.0.0.1:%d", cfg.Server.Port): true,
		},
		allowMethods: strings.Join(allowedMethods, ", "),
		allowHeaders: strings.Join(allowedHeaders, ", "),
	}
}

// AllowOrigin returns the Access-Control-Allow-Origin value for a request
// carrying the given Origin header. Matching is exact.
func (p *Policy) AllowOrigin(origin string) string {
	if p.trusted[origin] {
		return origin
	}
	return p.productionOrigin
}

// Apply sets the three CORS headers on h for the given request origin.
func (p *Policy) Apply(h http.Header, origin string) {
	h.Set(HeaderAllowOrigin, p.AllowOrigin(origin))
	h.Set(HeaderAllowMethods, p.allowMethods)
	h.Set(HeaderAllowHeaders, p.allowHeaders)
}

// Wildcard sets Access-Control-Allow-Origin: * on h. It is used only when
// relaying an upstream status error.
func Wildcard(h http.Header) {
	h.Set(HeaderAllowOrigin, "*")
}
