package proxy

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/codefionn/vermittler/vermittler-srv/config"
	"github.com/codefionn/vermittler/vermittler-srv/metrics"
	"github.com/codefionn/vermittler/vermittler-srv/stats"
	"github.com/stretchr/testify/require"
)

// recordingCollector counts collector calls.
type recordingCollector struct {
	stats.DummyCollector

	mu       sync.Mutex
	started  int
	ended    int
	errors   int
	blocked  []string
	requests []stats.RequestRecord
	sent     int64
	received int64
}

func (c *recordingCollector) StartConnection(ctx context.Context, connectionUUID, clientIP, targetHost string, targetPort int, protocol string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.started++
	return int64(c.started), nil
}

func (c *recordingCollector) EndConnection(ctx context.Context, connectionID, bytesSent, bytesReceived int64, duration time.Duration, closeReason string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ended++
	c.sent += bytesSent
	c.received += bytesReceived
	return nil
}

func (c *recordingCollector) RecordError(ctx context.Context, connectionID int64, errorType, errorMessage string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.errors++
	return nil
}

func (c *recordingCollector) RecordBlockedRequest(ctx context.Context, clientIP, targetHost, reason string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.blocked = append(c.blocked, reason)
	return nil
}

func (c *recordingCollector) RecordHTTPRequest(ctx context.Context, record stats.RequestRecord) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.requests = append(c.requests, record)
	return nil
}

func (c *recordingCollector) counts() (started, ended int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.started, c.ended
}

type testProxy struct {
	addr      string
	server    *Server
	collector *recordingCollector
	metrics   *metrics.Metrics
}

func listenerPort(t *testing.T, ln net.Listener) int {
	t.Helper()
	tcpAddr, ok := ln.Addr().(*net.TCPAddr)
	require.True(t, ok)
	return tcpAddr.Port
}

// startTestProxy runs a forward proxy on a loopback port. modify may adjust
// the listener config before the server is built.
func startTestProxy(t *testing.T, modify func(*config.ForwardProxyConfig)) *testProxy {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	fwdCfg := config.ForwardProxyConfig{
		Enabled:               true,
		Host:                  "127.0.0.1",
		Port:                  listenerPort(t, ln),
		ConnectTimeoutSeconds: 2,
	}
	if modify != nil {
		modify(&fwdCfg)
	}
	cfg := &config.Config{
		ServerName:     config.DefaultServerName,
		TimeoutSeconds: 5,
		ForwardProxies: []config.ForwardProxyConfig{fwdCfg},
	}

	collector := &recordingCollector{}
	m := metrics.New(nil)
	server := NewServer(cfg, fwdCfg, collector, m)

	go func() {
		if err := server.StartWithListener(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			t.Errorf("Proxy server error: %v", err)
		}
	}()
	t.Cleanup(func() { _ = server.Stop() })

	return &testProxy{
		addr:      ln.Addr().String(),
		server:    server,
		collector: collector,
		metrics:   m,
	}
}

// startEchoServer echoes every byte back. The returned counter holds the
// number of accepted connections.
func startEchoServer(t *testing.T) (string, *atomic.Int32) {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	accepted := &atomic.Int32{}
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			accepted.Add(1)
			go func() {
				defer conn.Close()
				_, _ = io.Copy(conn, conn)
			}()
		}
	}()

	return ln.Addr().String(), accepted
}

// closedPort returns a loopback address nothing listens on.
func closedPort(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())
	return addr
}

// sendConnect writes a raw CONNECT request (plus optional trailing bytes) and
// reads the proxy's answer.
func sendConnect(t *testing.T, proxyAddr, authority string, header http.Header, trailing []byte) (net.Conn, *bufio.Reader, *http.Response) {
	t.Helper()

	conn, err := net.DialTimeout("tcp", proxyAddr, 5*time.Second)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, conn.SetDeadline(time.Now().Add(10*time.Second)))

	var sb strings.Builder
	fmt.Fprintf(&sb, "CONNECT %s HTTP/1.1\r\nHost: %s\r\n", authority, authority)
	for key, values := range header {
		for _, value := range values {
			fmt.Fprintf(&sb, "%s: %s\r\n", key, value)
		}
	}
	sb.WriteString("\r\n")

	_, err = conn.Write(append([]byte(sb.String()), trailing...))
	require.NoError(t, err)

	reader := bufio.NewReader(conn)
	resp, err := http.ReadResponse(reader, &http.Request{Method: http.MethodConnect})
	require.NoError(t, err)
	return conn, reader, resp
}

func authHeader(username, password string) http.Header {
	header := make(http.Header)
	header.Set("Proxy-Authorization", basicAuthValue(username, password))
	return header
}

func bufioReader(conn net.Conn) *bufio.Reader {
	return bufio.NewReader(conn)
}
