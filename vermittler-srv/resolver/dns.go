package resolver

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/codefionn/vermittler/vermittler-srv/config"
	"github.com/codefionn/vermittler/vermittler-srv/logger"
)

// DNSResolver rotates lookups over the configured DNS servers. It supports
// UDP, TCP and DNS over TLS.
type DNSResolver struct {
	dnsConfig  config.DNSConfig
	currentIdx int
	mutex      sync.Mutex
	tlsConfig  *tls.Config
}

// NewDNSResolver creates a resolver for cfg. It returns nil when custom DNS
// is disabled or no servers are configured.
func NewDNSResolver(cfg config.DNSConfig) *DNSResolver {
	if !cfg.Enabled || len(cfg.Servers) == 0 {
		return nil
	}
	return &DNSResolver{
		dnsConfig: cfg,
		tlsConfig: &tls.Config{
			MinVersion: tls.VersionTLS12,
			NextProtos: []string{"dot"},
		},
	}
}

// NetResolver returns a net.Resolver using r, or the Go resolver with system
// settings when r is nil.
func (r *DNSResolver) NetResolver() *net.Resolver {
	if r == nil {
		return &net.Resolver{PreferGo: true}
	}
	return &net.Resolver{
		PreferGo: true,
		Dial:     r.Dial,
	}
}

// NewDialer returns a dialer for outbound proxy connections that resolves
// names through the configured DNS servers.
func NewDialer(dnsConfig config.DNSConfig, timeout time.Duration) *net.Dialer {
	dialer := &net.Dialer{
		Timeout:   timeout,
		KeepAlive: 30 * time.Second,
	}
	if r := NewDNSResolver(dnsConfig); r != nil {
		logger.Debug("Custom DNS resolver with %d server(s)", len(dnsConfig.Servers))
		dialer.Resolver = r.NetResolver()
	}
	return dialer
}

// Dial is the custom dial function for DNS resolution.
func (r *DNSResolver) Dial(ctx context.Context, network, address string) (net.Conn, error) {
	r.mutex.Lock()
	serverIdx := r.currentIdx
	r.currentIdx = (r.currentIdx + 1) % len(r.dnsConfig.Servers)
	r.mutex.Unlock()

	dnsServer := r.dnsConfig.Servers[serverIdx]
	logger.Trace("Using DNS server %d: %s (%s)", serverIdx, dnsServer.Address, dnsServer.Type)

	dialer := &net.Dialer{Timeout: dnsServer.GetTimeoutDuration()}

	switch dnsServer.Type {
	case config.DNSTypeUDP, config.DNSTypeTCP:
		return dialer.DialContext(ctx, string(dnsServer.Type), dnsServer.Address)

	case config.DNSTypeDoT:
		tcpConn, err := dialer.DialContext(ctx, "tcp", dnsServer.Address)
		if err != nil {
			logger.Error("Failed to establish TCP connection to DoT server %s: %v", dnsServer.Address, err)
			return nil, fmt.Errorf("DoT TCP connection failed: %w", err)
		}

		tlsConfig := r.tlsConfig.Clone()
		if dnsServer.TLSHost != "" {
			tlsConfig.ServerName = dnsServer.TLSHost
		} else if host, _, err := net.SplitHostPort(dnsServer.Address); err == nil {
			tlsConfig.ServerName = host
		}

		tlsConn := tls.Client(tcpConn, tlsConfig)
		handshakeCtx, cancel := context.WithTimeout(ctx, dnsServer.GetTimeoutDuration())
		defer cancel()
		if err := tlsConn.HandshakeContext(handshakeCtx); err != nil {
			tcpConn.Close()
			logger.Error("TLS handshake failed with DoT server %s: %v", dnsServer.Address, err)
			return nil, fmt.Errorf("DoT TLS handshake failed: %w", err)
		}
		return tlsConn, nil

	default:
		return nil, fmt.Errorf("unsupported DNS server type: %s", dnsServer.Type)
	}
}
