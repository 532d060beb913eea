package reverse

import (
	"crypto/tls"
	"errors"
	"io"
	"net"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"github.com/codefionn/vermittler/vermittler-srv/config"
	"github.com/codefionn/vermittler/vermittler-srv/proxy"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseProtocols(t *testing.T) {
	tests := []struct {
		name      string
		protocols string
		wantMin   uint16
		wantMax   uint16
		wantErr   bool
	}{
		{"empty defaults to TLS 1.2", "", tls.VersionTLS12, 0, false},
		{"single", "TLSv1.3", tls.VersionTLS13, tls.VersionTLS13, false},
		{"range", "TLSv1.2 TLSv1.3", tls.VersionTLS12, tls.VersionTLS13, false},
		{"comma separated", "TLSv1.1,TLSv1.2", tls.VersionTLS11, tls.VersionTLS12, false},
		{"legacy name", "TLSv1", tls.VersionTLS10, tls.VersionTLS10, false},
		{"case insensitive", "tlsv1.2", tls.VersionTLS12, tls.VersionTLS12, false},
		{"ssl rejected", "SSLv3 TLSv1.2", 0, 0, true},
		{"unknown", "TLSv2", 0, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			minVersion, maxVersion, err := parseProtocols(tt.protocols)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantMin, minVersion)
			assert.Equal(t, tt.wantMax, maxVersion)
		})
	}
}

func TestParseCipherSuites(t *testing.T) {
	suites, err := parseCipherSuites(nil)
	require.NoError(t, err)
	assert.Nil(t, suites)

	suites, err = parseCipherSuites([]string{
		"TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256",
		"ECDHE-RSA-AES256-GCM-SHA384",
		" ",
	})
	require.NoError(t, err)
	assert.Equal(t, []uint16{
		tls.TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256,
		tls.TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384,
	}, suites)

	_, err = parseCipherSuites([]string{"NOT-A-CIPHER"})
	assert.Error(t, err)
}

func TestBuildTLSConfigErrors(t *testing.T) {
	certPath, keyPath := generateTestCert(t)
	missing := filepath.Join(t.TempDir(), "missing.pem")

	tests := []struct {
		name string
		cfg  config.TLSConfig
	}{
		{"missing cert path", config.TLSConfig{Enable: true, Key: keyPath}},
		{"missing key path", config.TLSConfig{Enable: true, Cert: certPath}},
		{"cert file not found", config.TLSConfig{Enable: true, Cert: missing, Key: keyPath}},
		{"key file not found", config.TLSConfig{Enable: true, Cert: certPath, Key: missing}},
		{"key does not match", config.TLSConfig{Enable: true, Cert: certPath, Key: certPath}},
		{"ssl protocol", config.TLSConfig{Enable: true, Cert: certPath, Key: keyPath, Protocols: "SSLv3"}},
		{"unknown cipher", config.TLSConfig{Enable: true, Cert: certPath, Key: keyPath, Ciphers: []string{"RC4-MD5"}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := tt.cfg
			_, err := buildTLSConfig(&cfg)
			assert.Error(t, err)
		})
	}
}

func TestBuildTLSConfigDisabled(t *testing.T) {
	tlsConfig, err := buildTLSConfig(nil)
	require.NoError(t, err)
	assert.Nil(t, tlsConfig)

	tlsConfig, err = buildTLSConfig(&config.TLSConfig{Enable: false, Cert: "ignored"})
	require.NoError(t, err)
	assert.Nil(t, tlsConfig)
}

func TestVirtualServerTLSFailureIsConfigurationError(t *testing.T) {
	_, err := NewVirtualServer(testConfig(), config.VirtualServerConfig{
		Host:   "127.0.0.1",
		Listen: 0,
		TLS: &config.TLSConfig{
			Enable: true,
			Cert:   filepath.Join(t.TempDir(), "cert.pem"),
			Key:    filepath.Join(t.TempDir(), "key.pem"),
		},
	}, nil, nil)
	require.Error(t, err)

	var proxyErr *proxy.Error
	require.True(t, errors.As(err, &proxyErr))
	assert.Equal(t, proxy.ErrCodeTLSConfigFailed, proxyErr.Code)
}

func startTLSServer(t *testing.T, tlsCfg config.TLSConfig) *testServer {
	t.Helper()
	_, addr := startOrigin(t)
	return startVirtualServer(t, config.VirtualServerConfig{
		TLS:       &tlsCfg,
		Locations: []config.LocationRule{{Path: "/", Origin: addr}},
	})
}

func tlsGet(t *testing.T, addr string, clientConfig *tls.Config) (*http.Response, string, error) {
	t.Helper()
	client := &http.Client{
		Timeout: 5 * time.Second,
		Transport: &http.Transport{
			TLSClientConfig: clientConfig,
		},
	}
	defer client.CloseIdleConnections()

	resp, err := client.Get("https://" + addr + "/secure")
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	return resp, string(body), err
}

func TestTLSVirtualServer(t *testing.T) {
	certPath, keyPath := generateTestCert(t)
	s := startTLSServer(t, config.TLSConfig{Enable: true, Cert: certPath, Key: keyPath, Protocols: "TLSv1.2"})
	assert.True(t, s.server.TLSEnabled())

	// #nosec G402 - self-signed test certificate
	resp, body, err := tlsGet(t, s.addr, &tls.Config{InsecureSkipVerify: true})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "origin:/secure", body)
	assert.Equal(t, testServerName, resp.Header.Get("Server"))
	require.NotNil(t, resp.TLS)
	assert.Equal(t, uint16(tls.VersionTLS12), resp.TLS.Version)
	assert.Equal(t, "http/1.1", resp.TLS.NegotiatedProtocol)
}

func TestTLSProtocolListIsEnforced(t *testing.T) {
	certPath, keyPath := generateTestCert(t)
	s := startTLSServer(t, config.TLSConfig{Enable: true, Cert: certPath, Key: keyPath, Protocols: "TLSv1.3"})

	// #nosec G402 - self-signed test certificate
	_, _, err := tlsGet(t, s.addr, &tls.Config{InsecureSkipVerify: true, MaxVersion: tls.VersionTLS12})
	assert.Error(t, err, "TLS 1.2 client must not connect to a TLS 1.3 only server")

	// #nosec G402 - self-signed test certificate
	resp, _, err := tlsGet(t, s.addr, &tls.Config{InsecureSkipVerify: true})
	require.NoError(t, err)
	assert.Equal(t, uint16(tls.VersionTLS13), resp.TLS.Version)
}

func TestTLSCipherListIsEnforced(t *testing.T) {
	certPath, keyPath := generateTestCert(t)
	s := startTLSServer(t, config.TLSConfig{
		Enable:    true,
		Cert:      certPath,
		Key:       keyPath,
		Protocols: "TLSv1.2",
		Ciphers:   []string{"ECDHE-RSA-AES256-GCM-SHA384"},
	})

	// #nosec G402 - self-signed test certificate
	conn, err := tls.DialWithDialer(&net.Dialer{Timeout: 2 * time.Second}, "tcp", s.addr, &tls.Config{
		InsecureSkipVerify: true,
		MaxVersion:         tls.VersionTLS12,
		CipherSuites:       []uint16{tls.TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256, tls.TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384},
	})
	require.NoError(t, err)
	defer conn.Close()
	assert.Equal(t, tls.TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384, conn.ConnectionState().CipherSuite)
}
