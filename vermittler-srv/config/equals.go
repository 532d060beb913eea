package config

import (
	"bytes"
	"maps"
	"os"
	"slices"

	"github.com/codefionn/vermittler/vermittler-srv/logger"
)

// HasChanged returns true if the configuration has changed compared to another config.
// This implementation explicitly compares all fields without using reflection.
func HasChanged(a, b *Config) bool {
	if a == nil || b == nil {
		return a != b
	}
	if a.ServerName != b.ServerName || a.TimeoutSeconds != b.TimeoutSeconds {
		return true
	}
	if !slices.EqualFunc(a.ForwardProxies, b.ForwardProxies, forwardProxyEqual) {
		return true
	}
	if !slices.EqualFunc(a.VirtualServers, b.VirtualServers, virtualServerEqual) {
		return true
	}
	if a.DNS.Enabled != b.DNS.Enabled || !slices.Equal(a.DNS.Servers, b.DNS.Servers) {
		return true
	}
	if a.Statistics != b.Statistics || a.Metrics != b.Metrics {
		return true
	}
	return false
}

// forwardProxyEqual compares two listeners. Generated credentials are not
// part of the configuration, so only the request for them is compared.
func forwardProxyEqual(a, b ForwardProxyConfig) bool {
	if a.Enabled != b.Enabled ||
		a.Host != b.Host ||
		a.Port != b.Port ||
		a.RandomCredentials != b.RandomCredentials ||
		a.ConnectTimeoutSeconds != b.ConnectTimeoutSeconds {
		return false
	}
	if !(a.GeneratedAuth && b.GeneratedAuth) && !ptrEqual(a.Auth, b.Auth) {
		return false
	}
	if !slices.Equal(a.BlockedHosts, b.BlockedHosts) {
		return false
	}
	if a.Upstream == nil || b.Upstream == nil {
		return a.Upstream == b.Upstream
	}
	return a.Upstream.Type == b.Upstream.Type &&
		a.Upstream.Host == b.Upstream.Host &&
		a.Upstream.Port == b.Upstream.Port &&
		ptrEqual(a.Upstream.Username, b.Upstream.Username) &&
		ptrEqual(a.Upstream.Password, b.Upstream.Password)
}

func virtualServerEqual(a, b VirtualServerConfig) bool {
	if a.Host != b.Host || a.Listen != b.Listen {
		return false
	}
	if !slices.Equal(a.Locations, b.Locations) {
		return false
	}
	if !slices.EqualFunc(a.Statics, b.Statics, staticRuleEqual) {
		return false
	}
	if a.TLS == nil || b.TLS == nil {
		if a.TLS != b.TLS {
			return false
		}
	} else if a.TLS.Enable != b.TLS.Enable ||
		a.TLS.Protocols != b.TLS.Protocols ||
		!slices.Equal(a.TLS.Ciphers, b.TLS.Ciphers) ||
		!fileContentEqual(a.TLS.Cert, b.TLS.Cert) ||
		!fileContentEqual(a.TLS.Key, b.TLS.Key) {
		return false
	}
	return fileContentEqual(a.Page404, b.Page404)
}

func staticRuleEqual(a, b StaticRule) bool {
	return a.Path == b.Path &&
		a.Root == b.Root &&
		a.Index == b.Index &&
		ptrEqual(a.DirectoryListing, b.DirectoryListing) &&
		maps.Equal(a.AddHeaders, b.AddHeaders)
}

func ptrEqual[T comparable](a, b *T) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// fileContentEqual treats two paths as equal when both name files with the
// same content, so a replaced certificate or 404 page triggers a reload.
func fileContentEqual(a, b string) bool {
	if a == "" || b == "" {
		return a == b
	}
	aContent, err := os.ReadFile(a)
	if err != nil {
		logger.Error("Failed to read file: %v (file: %s)", err, a)
		return false
	}
	bContent, err := os.ReadFile(b)
	if err != nil {
		logger.Error("Failed to read file: %v (file: %s)", err, b)
		return false
	}
	return bytes.Equal(aContent, bContent)
}
