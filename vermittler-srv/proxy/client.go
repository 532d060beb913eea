package proxy

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/codefionn/vermittler/vermittler-srv/config"
	"github.com/codefionn/vermittler/vermittler-srv/logger"
	"github.com/codefionn/vermittler/vermittler-srv/metrics"
	"github.com/codefionn/vermittler/vermittler-srv/stats"
	"github.com/google/uuid"
	"golang.org/x/net/proxy"
)

// Dial routes reported to metrics.
const (
	routeDirect = "direct"
	routeHTTP   = "http"
	routeSOCKS5 = "socks5"
)

// Dialer opens outbound connections, either directly or through an upstream
// HTTP or SOCKS5 proxy. Every connection is recorded with the collector.
// A Dialer is safe for concurrent use.
type Dialer struct {
	upstream  *config.UpstreamProxy
	dialer    *net.Dialer
	timeout   time.Duration
	collector stats.Collector
	metrics   *metrics.Metrics
}

// NewDialer creates a Dialer. upstream may be nil for direct connections.
// Every dial, including the upstream handshake, is bounded by
// netDialer.Timeout.
func NewDialer(upstream *config.UpstreamProxy, netDialer *net.Dialer, collector stats.Collector, m *metrics.Metrics) *Dialer {
	if netDialer == nil {
		netDialer = &net.Dialer{Timeout: config.DefaultConnectTimeoutSeconds * time.Second}
	}
	if collector == nil {
		collector = stats.NewDummyCollector()
	}
	return &Dialer{
		upstream:  upstream,
		dialer:    netDialer,
		timeout:   netDialer.Timeout,
		collector: collector,
		metrics:   m,
	}
}

// DialContext connects to addr and returns a tracked connection. Failures are
// returned as *Error.
func (d *Dialer) DialContext(ctx context.Context, network, addr string) (net.Conn, error) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, NewConnectionError(ErrCodeInvalidAddress, fmt.Errorf("%s: %w", addr, err))
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return nil, NewConnectionError(ErrCodeInvalidPort, fmt.Errorf("%s: %w", addr, err))
	}

	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}

	clientIP, _ := ClientIPFromContext(ctx)
	statsCtx := context.WithoutCancel(ctx)
	connectionID, startErr := d.collector.StartConnection(statsCtx, uuid.NewString(), clientIP, host, port, protocolFromContext(ctx))
	if startErr != nil {
		logger.Error("Failed to start connection tracking: %v", startErr)
	}

	start := time.Now()
	conn, route, err := d.dial(ctx, network, addr)
	d.metrics.Dial(route, time.Since(start), err)
	if err != nil {
		logger.Debug("Failed to connect to %s via %s: %v", addr, route, err)
		_ = d.collector.RecordError(statsCtx, connectionID, "connection", err.Error())
		_ = d.collector.EndConnection(statsCtx, connectionID, 0, 0, time.Since(start), err.Error())
		return nil, err
	}

	logger.Debug("Connected to %s via %s", addr, route)
	return TrackConnection(statsCtx, conn, d.collector, connectionID), nil
}

func (d *Dialer) dial(ctx context.Context, network, addr string) (net.Conn, string, error) {
	if d.upstream == nil {
		conn, err := d.dialer.DialContext(ctx, network, addr)
		if err != nil {
			return nil, routeDirect, NewConnectionError(ErrCodeDialFailed, fmt.Errorf("direct dial to %s: %w", addr, err))
		}
		return conn, routeDirect, nil
	}

	switch d.upstream.Type {
	case config.UpstreamTypeSOCKS5:
		conn, err := d.dialSocks5(ctx, network, addr)
		return conn, routeSOCKS5, err
	default:
		conn, err := d.dialHTTPProxy(ctx, network, addr)
		return conn, routeHTTP, err
	}
}

// dialSocks5 connects to addr through the SOCKS5 upstream.
func (d *Dialer) dialSocks5(ctx context.Context, network, addr string) (net.Conn, error) {
	upstreamAddr := d.upstream.Address()

	var auth *proxy.Auth
	if d.upstream.Username != nil {
		auth = &proxy.Auth{User: *d.upstream.Username}
		if d.upstream.Password != nil {
			auth.Password = *d.upstream.Password
		}
	}

	socksDialer, err := proxy.SOCKS5(network, upstreamAddr, auth, d.dialer)
	if err != nil {
		return nil, NewProxyChainError(ErrCodeSOCKS5DialerFailed, fmt.Errorf("proxy %s: %w", upstreamAddr, err))
	}

	type result struct {
		conn net.Conn
		err  error
	}
	resultChan := make(chan result, 1)

	go func() {
		var conn net.Conn
		var err error
		if ctxDialer, ok := socksDialer.(proxy.ContextDialer); ok {
			conn, err = ctxDialer.DialContext(ctx, network, addr)
		} else {
			conn, err = socksDialer.Dial(network, addr)
		}
		resultChan <- result{conn: conn, err: err}
	}()

	select {
	case res := <-resultChan:
		if res.err != nil {
			return nil, NewProxyChainError(ErrCodeSOCKS5ConnectFailed, fmt.Errorf("target %s via SOCKS5 proxy %s: %w", addr, upstreamAddr, res.err))
		}
		return res.conn, nil
	case <-ctx.Done():
		// a late connection is closed once the dial returns
		go func() {
			if res := <-resultChan; res.conn != nil {
				res.conn.Close()
			}
		}()
		return nil, NewProxyChainError(ErrCodeSOCKS5ConnectFailed, fmt.Errorf("target %s via SOCKS5 proxy %s: %w", addr, upstreamAddr, ctx.Err()))
	}
}

// dialHTTPProxy connects to addr by sending CONNECT to the HTTP upstream.
func (d *Dialer) dialHTTPProxy(ctx context.Context, network, addr string) (net.Conn, error) {
	upstreamAddr := d.upstream.Address()
	logger.Debug("Dialing HTTP proxy %s to reach %s", upstreamAddr, addr)

	proxyConn, err := d.dialer.DialContext(ctx, network, upstreamAddr)
	if err != nil {
		return nil, NewProxyChainError(ErrCodeHTTPProxyDialFailed, fmt.Errorf("proxy server %s: %w", upstreamAddr, err))
	}

	// interrupt the handshake when ctx ends
	stop := context.AfterFunc(ctx, func() {
		_ = proxyConn.SetDeadline(time.Now())
	})
	defer stop()

	connectReq, err := http.NewRequest(http.MethodConnect, "http://"+addr, http.NoBody)
	if err != nil {
		proxyConn.Close()
		return nil, NewProxyChainError(ErrCodeCONNECTRequestFailed, fmt.Errorf("creating for target %s: %w", addr, err))
	}
	connectReq.Host = addr
	connectReq.Header.Set("User-Agent", config.DefaultServerName)
	connectReq.Header.Set("Proxy-Connection", "keep-alive")
	if d.upstream.Username != nil {
		password := ""
		if d.upstream.Password != nil {
			password = *d.upstream.Password
		}
		connectReq.Header.Set("Proxy-Authorization", basicAuthValue(*d.upstream.Username, password))
	}

	if err := connectReq.Write(proxyConn); err != nil {
		proxyConn.Close()
		return nil, NewProxyChainError(ErrCodeCONNECTRequestFailed, fmt.Errorf("sending to proxy %s: %w", upstreamAddr, err))
	}

	proxyReader := bufio.NewReader(proxyConn)
	connectResp, err := http.ReadResponse(proxyReader, connectReq)
	if err != nil {
		proxyConn.Close()
		return nil, NewProxyChainError(ErrCodeCONNECTResponseFailed, fmt.Errorf("reading from proxy %s: %w", upstreamAddr, err))
	}

	if connectResp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(connectResp.Body, 512))
		connectResp.Body.Close()
		proxyConn.Close()
		code := ErrCodeProxyDenied
		if connectResp.StatusCode == http.StatusProxyAuthRequired {
			code = ErrCodeProxyAuthFailed
		}
		return nil, NewProxyChainError(code, fmt.Errorf("proxy %s answered CONNECT to %s with %s: %s", upstreamAddr, addr, connectResp.Status, body))
	}

	if !stop() {
		proxyConn.Close()
		return nil, NewProxyChainError(ErrCodeCONNECTResponseFailed, fmt.Errorf("proxy %s: %w", upstreamAddr, ctx.Err()))
	}
	_ = proxyConn.SetDeadline(time.Time{})

	logger.Debug("CONNECT tunnel established via proxy %s to %s", upstreamAddr, addr)

	// bytes the upstream sent right after its response belong to the tunnel
	if n := proxyReader.Buffered(); n > 0 {
		buffered, _ := proxyReader.Peek(n)
		return &bufferConn{Conn: proxyConn, buf: append([]byte(nil), buffered...)}, nil
	}
	return proxyConn, nil
}

// bufferConn replays buf before reading from Conn.
type bufferConn struct {
	net.Conn
	buf []byte
}

func (bc *bufferConn) Read(b []byte) (int, error) {
	if len(bc.buf) > 0 {
		n := copy(b, bc.buf)
		bc.buf = bc.buf[n:]
		return n, nil
	}
	return bc.Conn.Read(b)
}
