package reverse

import (
	"crypto/tls"
	"fmt"
	"os"
	"strings"

	"github.com/codefionn/vermittler/vermittler-srv/config"
)

var protocolVersions = map[string]uint16{
	"tlsv1":   tls.VersionTLS10,
	"tlsv1.0": tls.VersionTLS10,
	"tlsv1.1": tls.VersionTLS11,
	"tlsv1.2": tls.VersionTLS12,
	"tlsv1.3": tls.VersionTLS13,
}

// opensslCipherNames maps the OpenSSL spelling of cipher suites, as found in
// ssl_ciphers of existing configurations, to the Go constants.
var opensslCipherNames = map[string]uint16{
	"ECDHE-RSA-AES128-GCM-SHA256":   tls.TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256,
	"ECDHE-RSA-AES256-GCM-SHA384":   tls.TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384,
	"ECDHE-ECDSA-AES128-GCM-SHA256": tls.TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256,
	"ECDHE-ECDSA-AES256-GCM-SHA384": tls.TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384,
	"ECDHE-RSA-CHACHA20-POLY1305":   tls.TLS_ECDHE_RSA_WITH_CHACHA20_POLY1305_SHA256,
	"ECDHE-ECDSA-CHACHA20-POLY1305": tls.TLS_ECDHE_ECDSA_WITH_CHACHA20_POLY1305_SHA256,
	"ECDHE-RSA-AES128-SHA":          tls.TLS_ECDHE_RSA_WITH_AES_128_CBC_SHA,
	"ECDHE-RSA-AES256-SHA":          tls.TLS_ECDHE_RSA_WITH_AES_256_CBC_SHA,
	"ECDHE-ECDSA-AES128-SHA":        tls.TLS_ECDHE_ECDSA_WITH_AES_128_CBC_SHA,
	"ECDHE-ECDSA-AES256-SHA":        tls.TLS_ECDHE_ECDSA_WITH_AES_256_CBC_SHA,
	"AES128-GCM-SHA256":             tls.TLS_RSA_WITH_AES_128_GCM_SHA256,
	"AES256-GCM-SHA384":             tls.TLS_RSA_WITH_AES_256_GCM_SHA384,
	"AES128-SHA":                    tls.TLS_RSA_WITH_AES_128_CBC_SHA,
	"AES256-SHA":                    tls.TLS_RSA_WITH_AES_256_CBC_SHA,
}

// buildTLSConfig loads the certificate of a virtual server and applies the
// configured protocol and cipher lists. Any problem is returned, never
// papered over with defaults.
func buildTLSConfig(cfg *config.TLSConfig) (*tls.Config, error) {
	if cfg == nil || !cfg.Enable {
		return nil, nil
	}
	if cfg.Cert == "" {
		return nil, fmt.Errorf("ssl cert is required when ssl is enabled")
	}
	if cfg.Key == "" {
		return nil, fmt.Errorf("ssl key is required when ssl is enabled")
	}
	if _, err := os.Stat(cfg.Cert); err != nil {
		return nil, fmt.Errorf("certificate file not found: %s: %w", cfg.Cert, err)
	}
	if _, err := os.Stat(cfg.Key); err != nil {
		return nil, fmt.Errorf("key file not found: %s: %w", cfg.Key, err)
	}

	cert, err := tls.LoadX509KeyPair(cfg.Cert, cfg.Key)
	if err != nil {
		return nil, fmt.Errorf("failed to load certificate: %w", err)
	}

	minVersion, maxVersion, err := parseProtocols(cfg.Protocols)
	if err != nil {
		return nil, err
	}
	suites, err := parseCipherSuites(cfg.Ciphers)
	if err != nil {
		return nil, err
	}

	// #nosec G402 - versions below TLS 1.2 only when listed explicitly
	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   minVersion,
		MaxVersion:   maxVersion,
		CipherSuites: suites,
		NextProtos:   []string{"http/1.1"},
	}, nil
}

// parseProtocols turns a list such as "TLSv1.2 TLSv1.3" into the version
// range it spans. An empty list means TLS 1.2 and newer.
func parseProtocols(protocols string) (uint16, uint16, error) {
	fields := strings.FieldsFunc(protocols, func(r rune) bool {
		return r == ' ' || r == ',' || r == ':' || r == '\t'
	})
	if len(fields) == 0 {
		return tls.VersionTLS12, 0, nil
	}

	var minVersion, maxVersion uint16
	for _, field := range fields {
		name := strings.ToLower(field)
		if strings.HasPrefix(name, "sslv") {
			return 0, 0, fmt.Errorf("ssl protocol %s is not supported", field)
		}
		version, ok := protocolVersions[name]
		if !ok {
			return 0, 0, fmt.Errorf("unknown ssl protocol %q", field)
		}
		if minVersion == 0 || version < minVersion {
			minVersion = version
		}
		if version > maxVersion {
			maxVersion = version
		}
	}
	return minVersion, maxVersion, nil
}

// parseCipherSuites accepts IANA names (TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256)
// and OpenSSL names (ECDHE-RSA-AES128-GCM-SHA256). An empty list keeps Go's
// defaults. TLS 1.3 suites are accepted but not configurable in Go.
func parseCipherSuites(names []string) ([]uint16, error) {
	if len(names) == 0 {
		return nil, nil
	}

	known := make(map[string]uint16)
	for _, suite := range tls.CipherSuites() {
		known[suite.Name] = suite.ID
	}
	for _, suite := range tls.InsecureCipherSuites() {
		known[suite.Name] = suite.ID
	}

	suites := make([]uint16, 0, len(names))
	for _, name := range names {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		if id, ok := known[name]; ok {
			suites = append(suites, id)
			continue
		}
		if id, ok := opensslCipherNames[name]; ok {
			suites = append(suites, id)
			continue
		}
		return nil, fmt.Errorf("unknown ssl cipher %q", name)
	}
	return suites, nil
}
