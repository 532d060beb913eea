package config

import "time"

// DNSType defines the type of DNS server
type DNSType string

const (
	DNSTypeUDP DNSType = "udp"
	DNSTypeTCP DNSType = "tcp"
	DNSTypeDoT DNSType = "dot" // DNS over TLS
)

// DNSServerConfig defines one upstream DNS server. Address is host:port or
// [IPv6]:port.
type DNSServerConfig struct {
	Address        string
	Type           DNSType
	TimeoutSeconds int
	TLSHost        string // SNI name, only used for DoT
}

// GetTimeoutDuration returns the timeout as a time.Duration
func (d DNSServerConfig) GetTimeoutDuration() time.Duration {
	if d.TimeoutSeconds <= 0 {
		return 10 * time.Second
	}
	return time.Duration(d.TimeoutSeconds) * time.Second
}

// DNSConfig controls the resolver used for outbound dials. When disabled the
// system resolver is used.
type DNSConfig struct {
	Enabled bool
	Servers []DNSServerConfig
}

// DefaultDNSConfig returns default DNS configuration.
func DefaultDNSConfig() DNSConfig {
	return DNSConfig{
		Enabled: false,
		Servers: []DNSServerConfig{
			{Address: "8.8.8.8:53", Type: DNSTypeUDP, TimeoutSeconds: 10},
			{Address: "1.1.1.1:53", Type: DNSTypeUDP, TimeoutSeconds: 10},
		},
	}
}
