package handler

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"

	"devproxy/internal/client"
	"devproxy/internal/config"
	"devproxy/internal/cors"
	"devproxy/internal/service"
)

const prodOrigin = "https://app.example.com"

func testConfig(upstreamURL string) *config.Config {
	return &config.Config{
		Server: config.ServerConfig{Port: 8888},
		Upstream: config.UpstreamConfig{
			BaseURL:         upstreamURL,
			TimeoutSeconds:  10,
			IdleConnections: 10,
		},
		Proxy: config.ProxyConfig{
			Prefix:        "/api/proxy",
			AllowedOrigin: prodOrigin,
		},
		Static:  config.StaticConfig{Root: "."},
		Metrics: config.MetricsConfig{Path: "/metrics"},
	}
}

func newTestProxyHandler(cfg *config.Config) *ProxyHandler {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	uc := client.NewUpstreamClient(cfg, logger, nil)
	svc := service.NewProxyService(uc, cfg, logger)
	return NewProxyHandler(svc, cors.NewPolicy(cfg), logger)
}

func serve(t *testing.T, h echo.HandlerFunc, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	e := echo.New()
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	if err := h(c); err != nil {
		t.Fatalf("handler error = %v", err)
	}
	return rec
}

func TestProxyHandler_Handle_GET(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			t.Errorf("method = %q, want GET", r.Method)
		}
		if r.URL.Path != "/v1/ns/tasks" {
			t.Errorf("path = %q, want %q", r.URL.Path, "/v1/ns/tasks")
		}
		if r.URL.RawQuery != "limit=2" {
			t.Errorf("query = %q, want %q", r.URL.RawQuery, "limit=2")
		}
		if got := r.Header.Get("Authorization"); got != "Bearer abc" {
			t.Errorf("Authorization = %q, want %q", got, "Bearer abc")
		}
		if got := r.Header.Get("Content-Type"); got != "application/json" {
			t.Errorf("Content-Type = %q, want application/json", got)
		}
		if got := r.Header.Get("Accept"); got != "application/json" {
			t.Errorf("Accept = %q, want application/json", got)
		}
		if got := r.Header.Get("X-Gemini-API-Key"); got != "gem-key" {
			t.Errorf("X-Gemini-API-Key = %q, want %q", got, "gem-key")
		}
		if _, ok := r.Header["X-Database-Url"]; ok {
			t.Error("X-Database-URL should not be sent when absent")
		}
		if r.Header.Get("Origin") != "" || r.Header.Get("Cookie") != "" || r.Header.Get("X-Tensorlake-Api-Key") != "" {
			t.Error("inbound headers outside the allow-list leaked upstream")
		}
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("X-Upstream-Trace", "t-1")
		w.Header().Set("Keep-Alive", "timeout=5")
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"items":[]}`))
	}))
	defer upstream.Close()

	h := newTestProxyHandler(testConfig(upstream.URL + "/v1/ns"))

	req := httptest.NewRequest(http.MethodGet, "/api/proxy/tasks?limit=2", http.NoBody)
	req.Header.Set("X-TensorLake-API-Key", "abc")
	req.Header.Set("X-Gemini-API-Key", "gem-key")
	req.Header.Set("Origin", "http://localhost:8888")
	req.Header.Set("Cookie", "session=1")
	rec := serve(t, h.Handle, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d (body %q)", rec.Code, http.StatusOK, rec.Body.String())
	}
	if rec.Body.String() != `{"items":[]}` {
		t.Errorf("body = %q, want %q", rec.Body.String(), `{"items":[]}`)
	}
	if got := rec.Header().Get("X-Upstream-Trace"); got != "t-1" {
		t.Errorf("X-Upstream-Trace = %q, want %q", got, "t-1")
	}
	if got := rec.Header().Values(cors.HeaderAllowOrigin); len(got) != 1 || got[0] != "http://localhost:8888" {
		t.Errorf("%s = %v, want [http://localhost:8888]", cors.HeaderAllowOrigin, got)
	}
	if got := rec.Header().Get(cors.HeaderAllowMethods); got != "GET, POST, OPTIONS" {
		t.Errorf("%s = %q", cors.HeaderAllowMethods, got)
	}
	if got := rec.Header().Get(cors.HeaderAllowHeaders); got == "" {
		t.Errorf("%s missing", cors.HeaderAllowHeaders)
	}
	for _, k := range []string{"Transfer-Encoding", "Connection", "Keep-Alive", "Content-Encoding"} {
		if v := rec.Header().Get(k); v != "" {
			t.Errorf("%s = %q, want stripped", k, v)
		}
	}
}

func TestProxyHandler_Handle_OriginNegotiation(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer upstream.Close()

	h := newTestProxyHandler(testConfig(upstream.URL))

	tests := []struct {
		origin string
		want   string
	}{
		{prodOrigin, prodOrigin},
		{"http://localhost:8888", "http://localhost:8888"},
		{"http://127.0.0.1:8888", "http://127.0.0.1:8888"},
		{"https://evil.example", prodOrigin},
		{"", prodOrigin},
	}

	for _, tt := range tests {
		t.Run(tt.origin, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/proxy/tasks", http.NoBody)
			if tt.origin != "" {
				req.Header.Set("Origin", tt.origin)
			}
			rec := serve(t, h.Handle, req)

			if got := rec.Header().Get(cors.HeaderAllowOrigin); got != tt.want {
				t.Errorf("%s = %q, want %q", cors.HeaderAllowOrigin, got, tt.want)
			}
		})
	}
}

func TestProxyHandler_Handle_UpstreamHeaderReplacesLocal(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set(echo.HeaderXRequestID, "upstream-id")
		w.Header().Add("Set-Cookie", "a=1")
		w.Header().Add("Set-Cookie", "b=2")
		w.WriteHeader(http.StatusOK)
	}))
	defer upstream.Close()

	h := newTestProxyHandler(testConfig(upstream.URL))

	e := echo.New()
	e.Use(echomw.RequestID())
	e.GET("/api/proxy/*", h.Handle)

	req := httptest.NewRequest(http.MethodGet, "/api/proxy/tasks", http.NoBody)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if got := rec.Header().Values(echo.HeaderXRequestID); len(got) != 1 || got[0] != "upstream-id" {
		t.Errorf("%s = %v, want [upstream-id]", echo.HeaderXRequestID, got)
	}
	if got := rec.Header().Values("Set-Cookie"); len(got) != 2 {
		t.Errorf("Set-Cookie = %v, want both upstream values", got)
	}
}

func TestProxyHandler_Handle_UpstreamErrorStatusRelayed(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"message":"invalid api key"}`))
	}))
	defer upstream.Close()

	h := newTestProxyHandler(testConfig(upstream.URL))

	req := httptest.NewRequest(http.MethodGet, "/api/proxy/tasks", http.NoBody)
	req.Header.Set("Origin", "https://evil.example")
	rec := serve(t, h.Handle, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusUnauthorized)
	}
	if rec.Body.String() != `{"message":"invalid api key"}` {
		t.Errorf("body = %q, want upstream error body", rec.Body.String())
	}
	if got := rec.Header().Get(cors.HeaderAllowOrigin); got != prodOrigin {
		t.Errorf("%s = %q, want %q", cors.HeaderAllowOrigin, got, prodOrigin)
	}
	if got := rec.Header().Get("Content-Type"); got != "application/json" {
		t.Errorf("Content-Type = %q, want upstream value", got)
	}
}

func TestProxyHandler_Handle_StrictStatusWildcard(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("X-Upstream-Trace", "t-2")
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"message":"no such task"}`))
	}))
	defer upstream.Close()

	cfg := testConfig(upstream.URL)
	cfg.Upstream.StrictStatus = true
	h := newTestProxyHandler(cfg)

	req := httptest.NewRequest(http.MethodGet, "/api/proxy/tasks/missing", http.NoBody)
	req.Header.Set("Origin", "http://localhost:8888")
	rec := serve(t, h.Handle, req)

	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusNotFound)
	}
	if got := rec.Header().Get(cors.HeaderAllowOrigin); got != "*" {
		t.Errorf("%s = %q, want %q", cors.HeaderAllowOrigin, got, "*")
	}
	if got := rec.Header().Get(cors.HeaderAllowMethods); got != "" {
		t.Errorf("%s = %q, want none on status error path", cors.HeaderAllowMethods, got)
	}
	if got := rec.Header().Get("X-Upstream-Trace"); got != "" {
		t.Errorf("X-Upstream-Trace = %q, want none on status error path", got)
	}
	if rec.Body.String() != `{"message":"no such task"}` {
		t.Errorf("body = %q, want upstream error body", rec.Body.String())
	}
}

func TestProxyHandler_Handle_UpstreamUnreachable(t *testing.T) {
	cfg := testConfig("http://127.0.0.1:1")
	cfg.Upstream.TimeoutSeconds = 2
	h := newTestProxyHandler(cfg)

	req := httptest.NewRequest(http.MethodGet, "/api/proxy/tasks", http.NoBody)
	rec := serve(t, h.Handle, req)

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusInternalServerError)
	}

	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if body["error"] == "" {
		t.Error("expected non-empty error description in response")
	}
}

func TestProxyHandler_Handle_POST(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %q, want POST", r.Method)
		}
		body, _ := io.ReadAll(r.Body)
		if string(body) != `{"query":"spend"}` {
			t.Errorf("upstream body = %q, want %q", string(body), `{"query":"spend"}`)
		}
		if got := r.Header.Get("Content-Type"); got != "application/json" {
			t.Errorf("Content-Type = %q, want application/json", got)
		}
		if got := r.Header.Get("X-Database-URL"); got != "postgres://localhost/db" {
			t.Errorf("X-Database-URL = %q, want %q", got, "postgres://localhost/db")
		}
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id":"t1"}`))
	}))
	defer upstream.Close()

	h := newTestProxyHandler(testConfig(upstream.URL))

	payload := `{"query":"spend"}`
	req := httptest.NewRequest(http.MethodPost, "/api/proxy/tasks", strings.NewReader(payload))
	req.Header.Set("Content-Type", "text/plain")
	req.Header.Set("Content-Length", "17")
	req.Header.Set("X-Database-URL", "postgres://localhost/db")
	rec := serve(t, h.Handle, req)

	if rec.Code != http.StatusCreated {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusCreated)
	}
	if rec.Body.String() != `{"id":"t1"}` {
		t.Errorf("body = %q, want %q", rec.Body.String(), `{"id":"t1"}`)
	}
}

func TestProxyHandler_Handle_POSTEmptyBody(t *testing.T) {
	var gotLen int64 = -1
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		atomic.StoreInt64(&gotLen, int64(len(body)))
		w.WriteHeader(http.StatusOK)
	}))
	defer upstream.Close()

	h := newTestProxyHandler(testConfig(upstream.URL))

	req := httptest.NewRequest(http.MethodPost, "/api/proxy/tasks", http.NoBody)
	req.Header.Set("Content-Length", "0")
	rec := serve(t, h.Handle, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if n := atomic.LoadInt64(&gotLen); n != 0 {
		t.Errorf("upstream body length = %d, want 0", n)
	}
}

func TestProxyHandler_Handle_POSTShortBody(t *testing.T) {
	var calls atomic.Int32
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer upstream.Close()

	h := newTestProxyHandler(testConfig(upstream.URL))

	req := httptest.NewRequest(http.MethodPost, "/api/proxy/tasks", strings.NewReader("abc"))
	req.Header.Set("Content-Length", "50")
	rec := serve(t, h.Handle, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
	if calls.Load() != 0 {
		t.Errorf("upstream calls = %d, want 0", calls.Load())
	}
}

func TestProxyHandler_Handle_NotProxyPath(t *testing.T) {
	h := newTestProxyHandler(testConfig("http://127.0.0.1:1"))

	req := httptest.NewRequest(http.MethodGet, "/api/proxyfoo", http.NoBody)
	rec := serve(t, h.Handle, req)

	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusNotFound)
	}
}

func TestProxyHandler_Preflight(t *testing.T) {
	var calls atomic.Int32
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer upstream.Close()

	h := newTestProxyHandler(testConfig(upstream.URL))

	tests := []struct {
		origin string
		want   string
	}{
		{"http://127.0.0.1:8888", "http://127.0.0.1:8888"},
		{"https://evil.example", prodOrigin},
	}

	for _, tt := range tests {
		t.Run(tt.origin, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodOptions, "/api/proxy/tasks", http.NoBody)
			req.Header.Set("Origin", tt.origin)
			req.Header.Set("Access-Control-Request-Method", "POST")
			rec := serve(t, h.Preflight, req)

			if rec.Code != http.StatusOK {
				t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
			}
			if rec.Body.Len() != 0 {
				t.Errorf("body = %q, want empty", rec.Body.String())
			}
			if got := rec.Header().Get(cors.HeaderAllowOrigin); got != tt.want {
				t.Errorf("%s = %q, want %q", cors.HeaderAllowOrigin, got, tt.want)
			}
			if got := rec.Header().Get(cors.HeaderAllowMethods); got != "GET, POST, OPTIONS" {
				t.Errorf("%s = %q", cors.HeaderAllowMethods, got)
			}
			want := "Content-Type, X-TensorLake-API-Key, X-Gemini-API-Key, X-Database-URL, Authorization"
			if got := rec.Header().Get(cors.HeaderAllowHeaders); got != want {
				t.Errorf("%s = %q, want %q", cors.HeaderAllowHeaders, got, want)
			}
		})
	}

	if calls.Load() != 0 {
		t.Errorf("upstream calls = %d, want 0 for preflight", calls.Load())
	}
}

func TestRequestURI(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/api/proxy/a%20b?x=1", http.NoBody)
	if got := requestURI(req); got != "/api/proxy/a%20b?x=1" {
		t.Errorf("requestURI() = %q, want raw target", got)
	}

	req.RequestURI = "http://localhost:8888/api/proxy/tasks?x=1"
	if got := requestURI(req); got != "/api/proxy/a%20b?x=1" {
		t.Errorf("requestURI() = %q, want URL-derived target for absolute form", got)
	}
}
