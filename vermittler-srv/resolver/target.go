package resolver

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

var (
	// ErrInvalidAuthority is returned for CONNECT targets that are not host:port.
	ErrInvalidAuthority = errors.New("invalid authority")
	// ErrInvalidPort is returned for ports outside 1-65535.
	ErrInvalidPort = errors.New("invalid port")
	// ErrMissingHost is returned for relay requests without a target host.
	ErrMissingHost = errors.New("missing host")
	// ErrUnsupportedScheme is returned for absolute URIs other than http(s).
	ErrUnsupportedScheme = errors.New("unsupported scheme")
)

// DefaultPort returns the well-known port of scheme.
func DefaultPort(scheme string) int {
	if strings.EqualFold(scheme, "https") {
		return 443
	}
	return 80
}

// ConnectTarget splits a CONNECT authority into host and port. Both parts are
// required.
func ConnectTarget(authority string) (string, int, error) {
	host, portStr, err := net.SplitHostPort(authority)
	if err != nil {
		return "", 0, fmt.Errorf("%w %q: %v", ErrInvalidAuthority, authority, err)
	}
	if host == "" {
		return "", 0, fmt.Errorf("%w %q: empty host", ErrInvalidAuthority, authority)
	}
	port, err := parsePort(portStr)
	if err != nil {
		return "", 0, err
	}
	return host, port, nil
}

// RelayTarget returns the absolute URL a plain proxied request goes to. The
// absolute request URI wins over the Host header; the scheme defaults to http.
func RelayTarget(r *http.Request) (*url.URL, error) {
	target := *r.URL
	if target.Host == "" {
		target.Host = r.Host
	}
	if target.Host == "" {
		return nil, ErrMissingHost
	}
	if target.Scheme == "" {
		target.Scheme = "http"
	}
	target.Scheme = strings.ToLower(target.Scheme)
	if target.Scheme != "http" && target.Scheme != "https" {
		return nil, fmt.Errorf("%w %q", ErrUnsupportedScheme, target.Scheme)
	}
	if target.Hostname() == "" {
		return nil, ErrMissingHost
	}
	if portStr := target.Port(); portStr != "" {
		if _, err := parsePort(portStr); err != nil {
			return nil, err
		}
	}
	return &target, nil
}

// TargetAddress returns host:port of u, filling in the scheme's default port.
func TargetAddress(u *url.URL) string {
	port := u.Port()
	if port == "" {
		port = strconv.Itoa(DefaultPort(u.Scheme))
	}
	return net.JoinHostPort(u.Hostname(), port)
}

func parsePort(portStr string) (int, error) {
	port, err := strconv.Atoi(portStr)
	if err != nil || port < 1 || port > 65535 {
		return 0, fmt.Errorf("%w %q", ErrInvalidPort, portStr)
	}
	return port, nil
}
