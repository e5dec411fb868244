// Package proxy implements the OpenAI-compatible reverse proxy: a single
// TCP listener that authenticates, routes, and forwards requests to the
// backend session matching the request body's model field.
package proxy

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/coreruntime/janusd/internal/registry"
	"github.com/coreruntime/janusd/pkg/logging"
)

// dynamicRoutes are the completion-family paths whose request body is
// parsed to find the target model.
var dynamicRoutes = map[string]bool{
	"/chat/completions":      true,
	"/completions":           true,
	"/embeddings":            true,
	"/messages":              true,
	"/messages/count_tokens": true,
}

// Config configures one proxy listener.
type Config struct {
	Host         string
	Port         int
	Prefix       string
	APIKey       string
	TrustedHosts []TrustedHostPattern
	ProxyTimeout time.Duration
}

// Server is the reverse proxy's single-listener HTTP state machine.
type Server struct {
	cfg        Config
	log        logging.Logger
	reg        *registry.Registry
	client     *http.Client
	metrics    *proxyMetrics
	actualPort int32

	mu       sync.Mutex
	listener net.Listener
	srv      *http.Server
	running  atomic.Bool
}

// New creates a Server bound to reg for session lookups.
func New(cfg Config, log logging.Logger, reg *registry.Registry) *Server {
	timeout := cfg.ProxyTimeout
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	transport := &http.Transport{
		MaxIdleConns:        10,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     30 * time.Second,
	}
	return &Server{
		cfg: cfg,
		log: log,
		reg: reg,
		client: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(transport),
		},
		metrics: newProxyMetrics(),
	}
}

// Start binds the listener and begins serving in the background,
// returning the actual bound port (useful when cfg.Port is 0).
func (s *Server) Start(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ln, err := net.Listen("tcp", fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port))
	if err != nil {
		return 0, fmt.Errorf("binding proxy listener: %w", err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	atomic.StoreInt32(&s.actualPort, int32(port))

	s.listener = ln
	s.srv = &http.Server{Handler: s}
	s.running.Store(true)

	go func() {
		if err := s.srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.log.Errorf("proxy server stopped: %v", err)
		}
		s.running.Store(false)
	}()

	return port, nil
}

// Stop gracefully shuts the listener down.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	srv := s.srv
	s.mu.Unlock()
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}

// IsRunning reports whether the listener is currently accepting.
func (s *Server) IsRunning() bool {
	return s.running.Load()
}

// ActualPort returns the port bound by Start, or 0 before Start runs.
func (s *Server) ActualPort() int {
	return int(atomic.LoadInt32(&s.actualPort))
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	route := routeClass(r.URL.Path)

	if r.Method == http.MethodOptions {
		handlePreflight(w, r, s.cfg.TrustedHosts)
		s.metrics.observeRequest(route, http.StatusOK)
		return
	}

	if !methodAllowed(r.Method) {
		s.reject(w, r, route, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	whitelisted := isWhitelistedPath(r.URL.Path)

	if !whitelisted {
		if r.Host == "" {
			s.reject(w, r, route, http.StatusBadRequest, "missing Host header")
			return
		}
		if !hostTrusted(r.Host, s.cfg.TrustedHosts) {
			s.reject(w, r, route, http.StatusForbidden, "untrusted host")
			return
		}
	}

	if !whitelisted && s.cfg.APIKey != "" {
		if !s.authenticated(r) {
			s.reject(w, r, route, http.StatusUnauthorized, "missing or invalid credentials")
			return
		}
	}

	if strings.Contains(r.URL.Path, "/configs") {
		s.reject(w, r, route, http.StatusNotFound, "not found")
		return
	}

	if s.serveStatic(w, r) {
		s.metrics.observeRequest(route, http.StatusOK)
		return
	}

	destPath := stripPrefixOnce(r.URL.Path, s.cfg.Prefix)
	if dynamicRoutes[destPath] && r.Method == http.MethodPost {
		s.serveDynamic(w, r, destPath, route)
		return
	}

	s.reject(w, r, route, http.StatusNotFound, "not found")
}

func (s *Server) authenticated(r *http.Request) bool {
	if key, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer "); ok {
		if key == s.cfg.APIKey {
			return true
		}
	}
	return r.Header.Get("X-Api-Key") == s.cfg.APIKey
}

func (s *Server) reject(w http.ResponseWriter, r *http.Request, route string, status int, msg string) {
	applyCORSHeaders(w.Header(), r.Header.Get("Origin"))
	http.Error(w, msg, status)
	s.metrics.observeRequest(route, status)
}

func routeClass(path string) string {
	switch {
	case path == "/", path == "/openapi.json", path == "/favicon.ico", strings.HasPrefix(path, "/docs/"):
		return "static"
	case path == "/models", strings.HasSuffix(path, "/models"):
		return "models"
	default:
		return "dynamic"
	}
}

// stripPrefixOnce removes prefix from path exactly once, positionally,
// from the start. If prefix is empty or not a prefix of path, path is
// returned unchanged.
func stripPrefixOnce(path, prefix string) string {
	if prefix == "" {
		return path
	}
	if rest, ok := strings.CutPrefix(path, prefix); ok {
		return rest
	}
	return path
}

func (s *Server) serveStatic(w http.ResponseWriter, r *http.Request) bool {
	path := stripPrefixOnce(r.URL.Path, s.cfg.Prefix)

	switch {
	case r.Method == http.MethodGet && (path == "/openapi.json" || r.URL.Path == "/openapi.json"):
		baseURL := fmt.Sprintf("http://%s:%d%s", s.cfg.Host, s.ActualPort(), s.cfg.Prefix)
		w.Header().Set("Content-Type", "application/json")
		applyCORSHeaders(w.Header(), r.Header.Get("Origin"))
		w.Write(openAPISpecWithServerURL(baseURL))
		return true

	case r.Method == http.MethodGet && r.URL.Path == "/":
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		applyCORSHeaders(w.Header(), r.Header.Get("Origin"))
		w.Write(mustReadAsset("index.html"))
		return true

	case r.Method == http.MethodGet && r.URL.Path == "/docs/swagger-ui.css":
		w.Header().Set("Content-Type", "text/css")
		applyCORSHeaders(w.Header(), r.Header.Get("Origin"))
		w.Write(mustReadAsset("swagger-ui.css"))
		return true

	case r.Method == http.MethodGet && r.URL.Path == "/docs/swagger-ui-bundle.js":
		w.Header().Set("Content-Type", "application/javascript")
		applyCORSHeaders(w.Header(), r.Header.Get("Origin"))
		w.Write(mustReadAsset("swagger-ui-bundle.js"))
		return true

	case r.Method == http.MethodGet && r.URL.Path == "/favicon.ico":
		applyCORSHeaders(w.Header(), r.Header.Get("Origin"))
		w.Write(mustReadAsset("favicon.ico"))
		return true

	case r.Method == http.MethodGet && path == "/healthz":
		applyCORSHeaders(w.Header(), r.Header.Get("Origin"))
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
		return true

	case r.Method == http.MethodGet && r.URL.Path == "/metrics":
		s.metrics.handler.ServeHTTP(w, r)
		return true

	case r.Method == http.MethodGet && path == "/models":
		s.serveModelsList(w, r)
		return true
	}
	return false
}

type modelListEntry struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	Created int64  `json:"created"`
	OwnedBy string `json:"owned_by"`
}

func (s *Server) serveModelsList(w http.ResponseWriter, r *http.Request) {
	ids := s.reg.ListModelIDs()
	data := make([]modelListEntry, 0, len(ids))
	for _, id := range ids {
		data = append(data, modelListEntry{ID: id, Object: "model", Created: 1, OwnedBy: "user"})
	}

	w.Header().Set("Content-Type", "application/json")
	applyCORSHeaders(w.Header(), r.Header.Get("Origin"))
	json.NewEncoder(w).Encode(map[string]any{"object": "list", "data": data})
}

func (s *Server) serveDynamic(w http.ResponseWriter, r *http.Request, destPath, route string) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		s.reject(w, r, route, http.StatusInternalServerError, "failed to read request body")
		return
	}

	var parsed struct {
		Model string `json:"model"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		s.reject(w, r, route, http.StatusBadRequest, "Invalid JSON body")
		return
	}
	if parsed.Model == "" {
		s.reject(w, r, route, http.StatusBadRequest, "missing model field")
		return
	}

	if len(s.reg.List()) == 0 {
		s.reject(w, r, route, http.StatusServiceUnavailable, "No models are available")
		return
	}

	sess, ok := s.reg.GetByModel(parsed.Model)
	if !ok {
		s.reject(w, r, route, http.StatusNotFound, fmt.Sprintf("no session for model %q", parsed.Model))
		return
	}
	if sess.Port == 0 {
		s.reject(w, r, route, http.StatusInternalServerError, "session has no assigned port")
		return
	}

	s.forward(w, r, sess.Port, sess.APIKey, destPath, body, parsed.Model, route)
}

func (s *Server) forward(w http.ResponseWriter, r *http.Request, port uint16, apiKey, destPath string, body []byte, model, route string) {
	target := fmt.Sprintf("http://127.0.0.1:%d/v1%s", port, destPath)

	upstreamReq, err := http.NewRequestWithContext(r.Context(), r.Method, target, bytes.NewReader(body))
	if err != nil {
		s.reject(w, r, route, http.StatusInternalServerError, "failed to build upstream request")
		return
	}
	for k, vs := range r.Header {
		if strings.EqualFold(k, "Host") || strings.EqualFold(k, "Authorization") {
			continue
		}
		for _, v := range vs {
			upstreamReq.Header.Add(k, v)
		}
	}
	if apiKey != "" {
		upstreamReq.Header.Set("Authorization", "Bearer "+apiKey)
	}

	start := time.Now()
	resp, err := s.client.Do(upstreamReq)
	s.metrics.observeUpstreamMillis(model, float64(time.Since(start).Milliseconds()))
	if err != nil {
		s.reject(w, r, route, http.StatusBadGateway, fmt.Sprintf("upstream request failed: %v", err))
		return
	}
	defer resp.Body.Close()

	dst := w.Header()
	for k, vs := range resp.Header {
		lk := strings.ToLower(k)
		if lk == "content-length" || strings.HasPrefix(lk, "access-control-") || lk == "vary" {
			continue
		}
		for _, v := range vs {
			dst.Add(k, v)
		}
	}
	applyCORSHeaders(dst, r.Header.Get("Origin"))
	w.WriteHeader(resp.StatusCode)
	s.metrics.observeRequest(route, resp.StatusCode)

	flusher, _ := w.(http.Flusher)
	buf := make([]byte, 32*1024)
	for {
		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			if _, writeErr := w.Write(buf[:n]); writeErr != nil {
				return
			}
			if flusher != nil {
				flusher.Flush()
			}
		}
		if readErr == io.EOF {
			return
		}
		if readErr != nil {
			return
		}
		select {
		case <-r.Context().Done():
			return
		default:
		}
	}
}
