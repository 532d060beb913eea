package config

import (
	"errors"
	"fmt"
	"net"
	"strings"
)

// Validate checks the global settings and every forward proxy. Virtual
// servers are checked individually by VirtualServerConfig.Validate so one
// broken virtual server does not prevent the others from starting.
func (c *Config) Validate() error {
	var errs []error

	if strings.TrimSpace(c.ServerName) == "" {
		errs = append(errs, fmt.Errorf("server-name must not be empty"))
	}
	if c.TimeoutSeconds < 0 {
		errs = append(errs, fmt.Errorf("timeout-seconds must not be negative"))
	}

	for i, fwd := range c.ForwardProxies {
		if err := fwd.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("forward proxy %d: %w", i, err))
		}
	}

	if c.DNS.Enabled {
		if len(c.DNS.Servers) == 0 {
			errs = append(errs, fmt.Errorf("dns: enabled without servers"))
		}
		for i, server := range c.DNS.Servers {
			if _, _, err := net.SplitHostPort(server.Address); err != nil {
				errs = append(errs, fmt.Errorf("dns server %d: invalid address %q: %w", i, server.Address, err))
			}
			switch server.Type {
			case DNSTypeUDP, DNSTypeTCP, DNSTypeDoT:
			default:
				errs = append(errs, fmt.Errorf("dns server %d: unsupported type %q", i, server.Type))
			}
		}
	}

	if c.Statistics.Enabled {
		switch c.Statistics.Backend {
		case "sqlite", "postgres", "dummy":
		default:
			errs = append(errs, fmt.Errorf("statistics: unsupported backend %q", c.Statistics.Backend))
		}
		if c.Statistics.Backend == "postgres" && c.Statistics.PostgresDSN == "" {
			errs = append(errs, fmt.Errorf("statistics: postgres backend requires postgres-dsn"))
		}
	}

	if c.Metrics.Enabled {
		if _, _, err := net.SplitHostPort(c.Metrics.ListenAddress); err != nil {
			errs = append(errs, fmt.Errorf("metrics: invalid listen-address %q: %w", c.Metrics.ListenAddress, err))
		}
		if !strings.HasPrefix(c.Metrics.Path, "/") {
			errs = append(errs, fmt.Errorf("metrics: path must start with /"))
		}
	}

	return errors.Join(errs...)
}

// Validate checks a single forward proxy listener.
func (f ForwardProxyConfig) Validate() error {
	if f.Port < 0 || f.Port > 65535 {
		return fmt.Errorf("port %d out of range", f.Port)
	}
	if f.Auth != nil && f.Auth.Username == "" {
		return fmt.Errorf("username must not be empty when a password is set")
	}
	if f.ConnectTimeoutSeconds < 0 {
		return fmt.Errorf("connect-timeout-seconds must not be negative")
	}
	if f.Upstream != nil {
		if f.Upstream.Host == "" {
			return fmt.Errorf("upstream ip must not be empty")
		}
		if f.Upstream.Port <= 0 || f.Upstream.Port > 65535 {
			return fmt.Errorf("upstream port %d out of range", f.Upstream.Port)
		}
		if f.Upstream.Type != UpstreamTypeHTTP && f.Upstream.Type != UpstreamTypeSOCKS5 {
			return fmt.Errorf("unsupported upstream type %q", f.Upstream.Type)
		}
	}
	return nil
}

// Validate checks the structure of a virtual server. TLS material and static
// roots are checked when the server is built.
func (v VirtualServerConfig) Validate() error {
	if v.Listen < 0 || v.Listen > 65535 {
		return fmt.Errorf("listen port %d out of range", v.Listen)
	}
	if v.TLSEnabled() && (v.TLS.Cert == "" || v.TLS.Key == "") {
		return fmt.Errorf("ssl enabled without cert and key")
	}
	for i, loc := range v.Locations {
		if loc.Path == "" {
			return fmt.Errorf("location %d: path must not be empty", i)
		}
		if !loc.IsRegex() && !strings.HasPrefix(loc.Path, "/") {
			return fmt.Errorf("location %d: path %q must start with / or %s", i, loc.Path, RegexPathPrefix)
		}
		if strings.TrimSpace(loc.Origin) == "" {
			return fmt.Errorf("location %d: origin must not be empty", i)
		}
	}
	for i, static := range v.Statics {
		if !strings.HasPrefix(static.Path, "/") {
			return fmt.Errorf("static %d: path %q must start with /", i, static.Path)
		}
		if static.Root == "" {
			return fmt.Errorf("static %d: root must not be empty", i)
		}
	}
	return nil
}
