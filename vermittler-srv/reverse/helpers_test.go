package reverse

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/codefionn/vermittler/vermittler-srv/config"
	"github.com/codefionn/vermittler/vermittler-srv/metrics"
	"github.com/codefionn/vermittler/vermittler-srv/stats"
	"github.com/stretchr/testify/require"
)

const testServerName = "vermittler-test"

// recordingCollector keeps every request record.
type recordingCollector struct {
	stats.DummyCollector

	mu       sync.Mutex
	requests []stats.RequestRecord
}

func (c *recordingCollector) RecordHTTPRequest(ctx context.Context, record stats.RequestRecord) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.requests = append(c.requests, record)
	return nil
}

func (c *recordingCollector) records() []stats.RequestRecord {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]stats.RequestRecord(nil), c.requests...)
}

func testConfig() *config.Config {
	return &config.Config{
		ServerName:     testServerName,
		TimeoutSeconds: 5,
	}
}

type testServer struct {
	server    *VirtualServer
	addr      string
	collector *recordingCollector
	metrics   *metrics.Metrics
}

// startVirtualServer serves vs on a random local port.
func startVirtualServer(t *testing.T, vs config.VirtualServerConfig) *testServer {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	vs.Host = "127.0.0.1"
	vs.Listen = ln.Addr().(*net.TCPAddr).Port

	collector := &recordingCollector{}
	m := metrics.New(nil)
	server, err := NewVirtualServer(testConfig(), vs, collector, m)
	if err != nil {
		ln.Close()
		require.NoError(t, err)
	}

	go func() {
		_ = server.StartWithListener(ln)
	}()
	t.Cleanup(func() {
		_ = server.Stop()
		ln.Close()
	})

	return &testServer{server: server, addr: ln.Addr().String(), collector: collector, metrics: m}
}

func (s *testServer) url(path string) string {
	return "http://" + s.addr + path
}

// noRedirectClient returns redirects to the caller instead of following them.
func noRedirectClient() *http.Client {
	return &http.Client{
		Timeout: 5 * time.Second,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}

// originAddr returns host:port of an httptest server URL.
func originAddr(serverURL string) string {
	return strings.TrimPrefix(serverURL, "http://")
}

func closedPort(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	ln.Close()
	return addr
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

// generateTestCert writes a self-signed certificate for 127.0.0.1 and
// returns the certificate and key paths.
func generateTestCert(t *testing.T) (string, string) {
	t.Helper()

	privKey, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err, "Failed to generate private key")

	template := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject: pkix.Name{
			CommonName: "127.0.0.1",
		},
		NotBefore:             time.Now().Add(-1 * time.Hour),
		NotAfter:              time.Now().Add(24 * time.Hour),
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
		IPAddresses:           []net.IP{net.ParseIP("127.0.0.1")},
	}

	certBytes, err := x509.CreateCertificate(rand.Reader, template, template, &privKey.PublicKey, privKey)
	require.NoError(t, err, "Failed to create certificate")

	dir := t.TempDir()
	certPath := filepath.Join(dir, "cert.pem")
	keyPath := filepath.Join(dir, "key.pem")
	require.NoError(t, os.WriteFile(certPath, pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: certBytes}), 0o600))
	require.NoError(t, os.WriteFile(keyPath, pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(privKey)}), 0o600))
	return certPath, keyPath
}
