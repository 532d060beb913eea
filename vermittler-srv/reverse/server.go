package reverse

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/codefionn/vermittler/vermittler-srv/config"
	"github.com/codefionn/vermittler/vermittler-srv/logger"
	"github.com/codefionn/vermittler/vermittler-srv/metrics"
	"github.com/codefionn/vermittler/vermittler-srv/proxy"
	"github.com/codefionn/vermittler/vermittler-srv/resolver"
	"github.com/codefionn/vermittler/vermittler-srv/stats"
	"github.com/google/uuid"
)

// Route kinds used for metrics and statistics.
const (
	routeStatic   = "static"
	routeLocation = "location"
	routeFallback = "fallback"
)

const shutdownTimeout = 5 * time.Second

// route is one entry of the routing table.
type route struct {
	kind    string
	rule    *resolver.PathRule
	handler http.Handler
}

// VirtualServer is one reverse proxy listener with its own routing table.
type VirtualServer struct {
	config    *config.Config
	vsConfig  config.VirtualServerConfig
	name      string
	tlsConfig *tls.Config

	routes    []route
	fallback  http.Handler
	transport *http.Transport

	collector stats.Collector
	metrics   *metrics.Metrics

	mu     sync.Mutex
	server *http.Server
}

// NewVirtualServer builds the routing table of vs. Invalid TLS material,
// static roots or location rules are returned as errors.
func NewVirtualServer(cfg *config.Config, vs config.VirtualServerConfig, collector stats.Collector, m *metrics.Metrics) (*VirtualServer, error) {
	if err := vs.Validate(); err != nil {
		return nil, err
	}
	if collector == nil {
		collector = stats.NewDummyCollector()
	}

	tlsConfig, err := buildTLSConfig(vs.TLS)
	if err != nil {
		return nil, proxy.NewConnectionError(proxy.ErrCodeTLSConfigFailed, err)
	}

	dialer := proxy.NewDialer(nil, resolver.NewDialer(cfg.DNS, config.DefaultConnectTimeoutSeconds*time.Second), collector, m)

	s := &VirtualServer{
		config:    cfg,
		vsConfig:  vs,
		name:      vs.ListenAddress(),
		tlsConfig: tlsConfig,
		fallback:  newFallbackHandler(vs.Page404),
		transport: newOriginTransport(dialer, cfg.Timeout()),
		collector: collector,
		metrics:   m,
	}

	for _, static := range vs.Statics {
		rule, err := resolver.CompilePathRule(static.Path)
		if err != nil {
			return nil, err
		}
		handler, err := newStaticHandler(static, s.fallback)
		if err != nil {
			return nil, err
		}
		s.routes = append(s.routes, route{kind: routeStatic, rule: rule, handler: handler})
	}

	for _, loc := range vs.Locations {
		handler, err := newLocationHandler(loc, s.transport)
		if err != nil {
			return nil, err
		}
		s.routes = append(s.routes, route{kind: routeLocation, rule: handler.rule, handler: handler})
		if handler.origin.Path == "" || handler.origin.Path == loc.Path {
			logger.Debug("Virtual server %s relays %s to %s", s.name, loc.Path, handler.origin.Address())
		} else {
			logger.Debug("Virtual server %s relays %s to %s%s", s.name, loc.Path, handler.origin.Address(), handler.origin.Path)
		}
	}

	return s, nil
}

// Name identifies the virtual server in logs and metrics.
func (s *VirtualServer) Name() string {
	return s.name
}

// TLSEnabled reports whether the server terminates TLS.
func (s *VirtualServer) TLSEnabled() bool {
	return s.tlsConfig != nil
}

// match returns the first route for path. Static rules precede locations.
func (s *VirtualServer) match(path string) (string, http.Handler) {
	for _, rt := range s.routes {
		if rt.rule.Match(path) {
			return rt.kind, rt.handler
		}
	}
	return routeFallback, s.fallback
}

// Handler returns the routing table as an http.Handler. Every response
// carries the configured Server header.
func (s *VirtualServer) Handler() http.Handler {
	return http.HandlerFunc(s.serveHTTP)
}

func (s *VirtualServer) serveHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	requestID := uuid.NewString()
	r = r.WithContext(proxy.WithRequestID(r.Context(), requestID))
	clientIP := proxy.ClientIP(r)

	kind, handler := s.match(r.URL.Path)
	logger.Debug("%s", logger.WithRequestID(requestID, "%s %s %s from %s via %s", s.name, r.Method, r.URL.Path, clientIP, kind))

	w.Header().Set("Server", s.config.ServerName)
	rec := &statusRecorder{ResponseWriter: w}
	handler.ServeHTTP(rec, r)

	duration := time.Since(start)
	s.metrics.ReverseRequest(s.name, kind, rec.Status(), duration)
	if err := s.collector.RecordHTTPRequest(context.WithoutCancel(r.Context()), stats.RequestRecord{
		RequestID:  requestID,
		Listener:   s.name,
		Kind:       "reverse",
		ClientIP:   clientIP,
		Method:     r.Method,
		URL:        r.URL.RequestURI(),
		Host:       r.Host,
		UserAgent:  r.UserAgent(),
		StatusCode: rec.Status(),
		Duration:   duration,
	}); err != nil {
		logger.Debug("Failed to record request: %v", err)
	}
}

// Start listens on the configured address and serves until stopped.
func (s *VirtualServer) Start() error {
	listener, err := net.Listen("tcp", s.name)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.name, err)
	}
	return s.StartWithListener(listener)
}

// StartWithListener serves on listener, wrapped in TLS when configured.
func (s *VirtualServer) StartWithListener(listener net.Listener) error {
	timeout := s.config.Timeout()
	server := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: timeout,
		IdleTimeout:       timeout,
		ConnContext:       proxy.ConnContext,
		ErrorLog:          logger.StdLogger(logger.WARN),
		TLSNextProto:      map[string]func(*http.Server, *tls.Conn, http.Handler){},
	}

	s.mu.Lock()
	s.server = server
	s.mu.Unlock()

	if s.tlsConfig != nil {
		listener = tls.NewListener(listener, s.tlsConfig)
		logger.Info("Starting virtual server on %s (TLS)", listener.Addr().String())
	} else {
		logger.Info("Starting virtual server on %s", listener.Addr().String())
	}
	return server.Serve(listener)
}

// Stop shuts the virtual server down.
func (s *VirtualServer) Stop() error {
	s.mu.Lock()
	server := s.server
	s.mu.Unlock()

	s.transport.CloseIdleConnections()

	if server == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return server.Shutdown(ctx)
}

// statusRecorder remembers the status code written by a handler.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	// informational responses precede the final status
	if r.status == 0 && (code >= 200 || code == http.StatusSwitchingProtocols) {
		r.status = code
	}
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.ResponseWriter.Write(b)
}

// Status returns the written status, 200 if the handler wrote nothing.
func (r *statusRecorder) Status() int {
	if r.status == 0 {
		return http.StatusOK
	}
	return r.status
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}
