package proxy

import (
	"bufio"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/codefionn/vermittler/vermittler-srv/config"
	"github.com/codefionn/vermittler/vermittler-srv/logger"
	"github.com/codefionn/vermittler/vermittler-srv/metrics"
	"github.com/codefionn/vermittler/vermittler-srv/resolver"
	"github.com/codefionn/vermittler/vermittler-srv/stats"
	"github.com/google/uuid"
)

// Request kinds used for metrics and statistics.
const (
	kindConnect = "connect"
	kindHTTP    = "http"
)

const shutdownTimeout = 5 * time.Second

// Proxy owns one Server per enabled forward proxy listener.
type Proxy struct {
	config    *config.Config
	servers   []*Server
	collector stats.Collector
	metrics   *metrics.Metrics
}

// NewProxy creates the forward proxy listeners of cfg. collector and m may
// be nil.
func NewProxy(cfg *config.Config, collector stats.Collector, m *metrics.Metrics) *Proxy {
	if collector == nil {
		collector = stats.NewDummyCollector()
	}

	p := &Proxy{
		config:    cfg,
		servers:   make([]*Server, 0, len(cfg.ForwardProxies)),
		collector: collector,
		metrics:   m,
	}

	for _, fwdCfg := range cfg.ForwardProxies {
		if !fwdCfg.Enabled {
			logger.Info("Skipping disabled forward proxy on %s", fwdCfg.ListenAddress())
			continue
		}
		p.servers = append(p.servers, NewServer(cfg, fwdCfg, collector, m))
	}

	if len(p.servers) == 0 {
		logger.Debug("No enabled forward proxies configured")
	}

	return p
}

// Servers returns the forward proxy listeners.
func (p *Proxy) Servers() []*Server {
	return p.servers
}

// Start runs all listeners and blocks until they are stopped. A listener
// that fails is logged while the others keep serving; Start only returns an
// error when every listener failed.
func (p *Proxy) Start() error {
	if len(p.servers) == 0 {
		return fmt.Errorf("no enabled forward proxies configured")
	}

	var (
		wg          sync.WaitGroup
		mu          sync.Mutex
		startErrors []error
	)

	for _, server := range p.servers {
		wg.Add(1)
		go func(s *Server) {
			defer wg.Done()
			if err := s.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("Forward proxy on %s failed: %v", s.Name(), err)
				mu.Lock()
				startErrors = append(startErrors, err)
				mu.Unlock()
			}
		}(server)
	}

	wg.Wait()

	if len(startErrors) == len(p.servers) {
		return fmt.Errorf("no forward proxy could be started: %w", errors.Join(startErrors...))
	}
	return nil
}

// StartWithListener serves the first listener on listener.
func (p *Proxy) StartWithListener(listener net.Listener) error {
	if len(p.servers) == 0 {
		return fmt.Errorf("no enabled forward proxies configured")
	}
	return p.servers[0].StartWithListener(listener)
}

// Stop shuts down all listeners and closes open tunnels.
func (p *Proxy) Stop() error {
	var lastErr error
	for _, server := range p.servers {
		if err := server.Stop(); err != nil {
			lastErr = err
			logger.Error("Failed to stop forward proxy on %s: %v", server.Name(), err)
		}
	}
	return lastErr
}

// Server is a single forward proxy listener.
type Server struct {
	config         *config.Config
	listenerConfig config.ForwardProxyConfig
	name           string

	mu      sync.Mutex
	server  *http.Server
	tunnels map[net.Conn]struct{}

	transport *http.Transport
	dialer    *Dialer
	blocklist *Blocklist
	collector stats.Collector
	metrics   *metrics.Metrics
}

// NewServer creates a forward proxy listener for fwdCfg.
func NewServer(cfg *config.Config, fwdCfg config.ForwardProxyConfig, collector stats.Collector, m *metrics.Metrics) *Server {
	if collector == nil {
		collector = stats.NewDummyCollector()
	}

	dialer := NewDialer(fwdCfg.Upstream, resolver.NewDialer(cfg.DNS, fwdCfg.ConnectTimeout()), collector, m)

	s := &Server{
		config:         cfg,
		listenerConfig: fwdCfg,
		name:           fwdCfg.ListenAddress(),
		tunnels:        make(map[net.Conn]struct{}),
		dialer:         dialer,
		blocklist:      NewBlocklist(fwdCfg.BlockedHosts),
		collector:      collector,
		metrics:        m,
	}

	s.transport = &http.Transport{
		Proxy:                 nil,
		DialContext:           dialer.DialContext,
		TLSNextProto:          map[string]func(string, *tls.Conn) http.RoundTripper{},
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   10,
		IdleConnTimeout:       90 * time.Second,
		ResponseHeaderTimeout: cfg.Timeout(),
		ExpectContinueTimeout: 1 * time.Second,
		DisableCompression:    true,
	}

	if fwdCfg.Upstream != nil {
		logger.Info("Forward proxy %s chains through %s upstream %s", s.name, fwdCfg.Upstream.Type, fwdCfg.Upstream.Address())
	}
	if n := s.blocklist.Len(); n > 0 {
		logger.Info("Forward proxy %s blocks %d host(s)", s.name, n)
	}

	return s
}

// Name identifies the listener in logs and metrics.
func (s *Server) Name() string {
	return s.name
}

// Start listens on the configured address and serves until stopped.
func (s *Server) Start() error {
	listener, err := net.Listen("tcp", s.listenerConfig.ListenAddress())
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.listenerConfig.ListenAddress(), err)
	}
	return s.StartWithListener(listener)
}

// StartWithListener serves on listener until stopped.
func (s *Server) StartWithListener(listener net.Listener) error {
	timeout := s.config.Timeout()
	server := &http.Server{
		Handler:           http.HandlerFunc(s.handleRequest),
		ReadHeaderTimeout: timeout,
		IdleTimeout:       timeout,
		ConnContext:       ConnContext,
		ErrorLog:          logger.StdLogger(logger.DEBUG),
	}

	s.mu.Lock()
	s.server = server
	s.mu.Unlock()

	if s.listenerConfig.Auth != nil {
		logger.Info("Starting forward proxy on %s (authentication required)", listener.Addr().String())
	} else {
		logger.Info("Starting forward proxy on %s", listener.Addr().String())
	}
	return server.Serve(listener)
}

// Stop shuts the listener down and closes all open tunnels.
func (s *Server) Stop() error {
	s.mu.Lock()
	server := s.server
	for conn := range s.tunnels {
		conn.Close()
	}
	s.mu.Unlock()

	s.transport.CloseIdleConnections()

	if server == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return server.Shutdown(ctx)
}

func (s *Server) addTunnel(conn net.Conn) {
	s.mu.Lock()
	s.tunnels[conn] = struct{}{}
	s.mu.Unlock()
}

func (s *Server) removeTunnel(conn net.Conn) {
	s.mu.Lock()
	delete(s.tunnels, conn)
	s.mu.Unlock()
}

func (s *Server) handleRequest(w http.ResponseWriter, r *http.Request) {
	requestID := uuid.NewString()
	ctx := WithRequestID(r.Context(), requestID)
	clientIP := ClientIP(r)

	kind := kindHTTP
	target := r.URL.String()
	if r.Method == http.MethodConnect {
		kind = kindConnect
		target = r.Host
	}
	logger.Debug("%s", logger.WithRequestID(requestID, "%s %s from %s", r.Method, target, r.RemoteAddr))

	if !authorized(r, s.listenerConfig.Auth) {
		logger.Warn("%s", logger.WithRequestID(requestID, "Proxy authentication failed for %s (%s %s)", r.RemoteAddr, r.Method, target))
		if err := s.collector.RecordBlockedRequest(context.WithoutCancel(ctx), clientIP, r.Host, "auth_failed"); err != nil {
			logger.Error("Failed to record blocked request: %v", err)
		}
		s.metrics.ForwardRequest(s.name, kind, metrics.ResultForbidden)
		w.Header().Set("Connection", "close")
		w.WriteHeader(http.StatusForbidden)
		return
	}

	if r.Method == http.MethodConnect {
		s.handleConnect(ctx, w, r, requestID, clientIP)
		return
	}
	s.forwardRequest(ctx, w, r, requestID, clientIP)
}

// rejectBlocked answers a request for a blocked host.
func (s *Server) rejectBlocked(ctx context.Context, w http.ResponseWriter, requestID, clientIP, host, kind string) {
	logger.Warn("%s", logger.WithRequestID(requestID, "Host not allowed: %s (client %s)", host, clientIP))
	if err := s.collector.RecordBlockedRequest(context.WithoutCancel(ctx), clientIP, host, "host_blocked"); err != nil {
		logger.Error("Failed to record blocked request: %v", err)
	}
	s.metrics.ForwardRequest(s.name, kind, metrics.ResultBlocked)
	WriteErrorResponse(w, NewAccessControlError(ErrCodeHostNotAllowed, fmt.Errorf("host %s", host)), ErrCodeHostNotAllowed)
}

// badRequest answers a request whose target cannot be determined.
func (s *Server) badRequest(w http.ResponseWriter, requestID, kind string, err error) {
	code := ErrCodeInvalidAddress
	switch {
	case errors.Is(err, resolver.ErrInvalidPort):
		code = ErrCodeInvalidPort
	case errors.Is(err, resolver.ErrMissingHost):
		code = ErrCodeMissingHost
	case errors.Is(err, resolver.ErrUnsupportedScheme):
		code = ErrCodeUnsupportedScheme
	}
	logger.Warn("%s", logger.WithRequestID(requestID, "Bad proxy request: %v", err))
	s.metrics.ForwardRequest(s.name, kind, metrics.ResultBadRequest)
	w.Header().Set("Connection", "close")
	WriteErrorResponse(w, NewConnectionError(code, err), code)
}

func (s *Server) handleConnect(ctx context.Context, w http.ResponseWriter, r *http.Request, requestID, clientIP string) {
	host, port, err := resolver.ConnectTarget(r.Host)
	if err != nil {
		s.badRequest(w, requestID, kindConnect, err)
		return
	}
	if s.blocklist.Blocked(host) {
		s.rejectBlocked(ctx, w, requestID, clientIP, host, kindConnect)
		return
	}

	targetAddr := net.JoinHostPort(host, strconv.Itoa(port))
	targetConn, err := s.dialer.DialContext(WithProtocol(ctx, kindConnect), "tcp", targetAddr)
	if err != nil {
		logger.Error("%s", logger.WithRequestID(requestID, "Failed to establish connection to target %s (client %s): %v", targetAddr, r.RemoteAddr, err))
		s.metrics.ForwardRequest(s.name, kindConnect, metrics.ResultBadGateway)
		w.Header().Set("Connection", "close")
		WriteErrorResponse(w, err, ErrCodeUpstreamConnectFailed)
		return
	}

	hj, ok := w.(http.Hijacker)
	if !ok {
		targetConn.Close()
		logger.Error("HTTP server does not support hijacking")
		WriteErrorResponse(w, NewHTTPError(ErrCodeHTTPHijackFailed, errors.New("hijacking not supported")), ErrCodeHTTPHijackFailed)
		return
	}

	clientConn, clientBuf, err := hj.Hijack()
	if err != nil {
		targetConn.Close()
		logger.Error("%s", logger.WithRequestID(requestID, "Failed to hijack connection: %v", err))
		WriteErrorResponse(w, NewHTTPError(ErrCodeHTTPHijackFailed, err), ErrCodeHTTPHijackFailed)
		return
	}
	// tunnels have no deadline
	_ = clientConn.SetDeadline(time.Time{})

	s.metrics.ForwardRequest(s.name, kindConnect, metrics.ResultOK)
	if _, err := io.WriteString(clientConn, "HTTP/1.1 200 Connection Established\r\n\r\n"); err != nil {
		logger.Error("%s", logger.WithRequestID(requestID, "Failed to send 200 response: %v", err))
		clientConn.Close()
		targetConn.Close()
		return
	}

	logger.Debug("%s", logger.WithRequestID(requestID, "Tunnel established %s <-> %s", r.RemoteAddr, targetAddr))
	s.tunnel(requestID, clientConn, clientBuf.Reader, targetConn)
}

// tunnel copies bytes in both directions until either side is done, then
// closes both connections.
func (s *Server) tunnel(requestID string, clientConn net.Conn, clientReader *bufio.Reader, targetConn net.Conn) {
	s.addTunnel(clientConn)
	defer s.removeTunnel(clientConn)
	s.metrics.TunnelOpened(s.name)
	defer s.metrics.TunnelClosed(s.name)

	var closeOnce sync.Once
	closeBoth := func() {
		closeOnce.Do(func() {
			clientConn.Close()
			targetConn.Close()
		})
	}
	defer closeBoth()

	// bytes the client sent along with the CONNECT request
	if clientReader != nil {
		if n := clientReader.Buffered(); n > 0 {
			buffered, _ := clientReader.Peek(n)
			if _, err := targetConn.Write(buffered); err != nil {
				logger.Warn("%s", logger.WithRequestID(requestID, "Failed to write buffered data to target: %v", err))
				return
			}
			s.metrics.TunnelBytes(s.name, "upstream", int64(n))
		}
	}

	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		defer closeBoth()
		n, err := copyBuffer(targetConn, clientConn)
		s.metrics.TunnelBytes(s.name, "upstream", n)
		if err != nil && !isClosedConnError(err) {
			logger.Warn("%s", logger.WithRequestID(requestID, "Tunnel copy error (client to target): %v", err))
		}
	}()

	go func() {
		defer wg.Done()
		defer closeBoth()
		n, err := copyBuffer(clientConn, targetConn)
		s.metrics.TunnelBytes(s.name, "downstream", n)
		if err != nil && !isClosedConnError(err) {
			logger.Warn("%s", logger.WithRequestID(requestID, "Tunnel copy error (target to client): %v", err))
		}
	}()

	wg.Wait()
	logger.Debug("%s", logger.WithRequestID(requestID, "Tunnel closed"))
}

// forwardRequest relays a single plain HTTP request to its target.
func (s *Server) forwardRequest(ctx context.Context, w http.ResponseWriter, r *http.Request, requestID, clientIP string) {
	start := time.Now()

	target, err := resolver.RelayTarget(r)
	if err != nil {
		s.badRequest(w, requestID, kindHTTP, err)
		return
	}
	if s.blocklist.Blocked(target.Hostname()) {
		s.rejectBlocked(ctx, w, requestID, clientIP, target.Hostname(), kindHTTP)
		return
	}

	outReq, err := http.NewRequestWithContext(WithProtocol(ctx, kindHTTP), r.Method, target.String(), r.Body)
	if err != nil {
		s.badRequest(w, requestID, kindHTTP, fmt.Errorf("%w: %v", resolver.ErrInvalidAuthority, err))
		return
	}
	outReq.ContentLength = r.ContentLength
	if r.ContentLength == 0 {
		outReq.Body = http.NoBody
	}
	outReq.Header = r.Header.Clone()
	removeHopHeaders(outReq.Header)
	outReq.Host = target.Host

	resp, err := s.transport.RoundTrip(outReq)
	if err != nil {
		logger.Error("%s", logger.WithRequestID(requestID, "Failed to forward request to %s: %v", target.Host, err))
		s.metrics.ForwardRequest(s.name, kindHTTP, metrics.ResultBadGateway)
		s.recordRequest(ctx, r, requestID, clientIP, target.Host, http.StatusBadGateway, time.Since(start))
		w.Header().Set("Connection", "close")
		WriteErrorResponse(w, err, ErrCodeHTTPForwardFailed)
		return
	}
	defer resp.Body.Close()

	removeHopHeaders(resp.Header)
	copyHeader(w.Header(), resp.Header)
	w.WriteHeader(resp.StatusCode)

	_, err = copyBuffer(w, resp.Body)
	s.recordRequest(ctx, r, requestID, clientIP, target.Host, resp.StatusCode, time.Since(start))
	if err != nil {
		logger.Warn("%s", logger.WithRequestID(requestID, "Failed to copy response body from %s: %v", target.Host, err))
		s.metrics.ForwardRequest(s.name, kindHTTP, metrics.ResultBadGateway)
		// headers are out, so the connection is dropped
		panic(http.ErrAbortHandler)
	}
	s.metrics.ForwardRequest(s.name, kindHTTP, metrics.ResultOK)
}

func (s *Server) recordRequest(ctx context.Context, r *http.Request, requestID, clientIP, host string, status int, d time.Duration) {
	err := s.collector.RecordHTTPRequest(context.WithoutCancel(ctx), stats.RequestRecord{
		RequestID:  requestID,
		Listener:   s.name,
		Kind:       "forward",
		ClientIP:   clientIP,
		Method:     r.Method,
		URL:        r.URL.String(),
		Host:       host,
		UserAgent:  r.UserAgent(),
		StatusCode: status,
		Duration:   d,
	})
	if err != nil {
		logger.Error("Failed to record HTTP request: %v", err)
	}
}

func isClosedConnError(err error) bool {
	return errors.Is(err, net.ErrClosed)
}
