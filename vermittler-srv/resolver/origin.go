package resolver

import (
	"fmt"
	"net"
	"strconv"
	"strings"
)

// Origin is the backend a location rule relays to.
type Origin struct {
	Scheme string
	Host   string
	Port   int
	Path   string
}

// Address returns host:port of the origin.
func (o Origin) Address() string {
	return net.JoinHostPort(o.Host, strconv.Itoa(o.Port))
}

// ParseOrigin parses "[scheme://]host[:port][/path]". The scheme defaults to
// http and the port to the scheme's default.
func ParseOrigin(raw string) (Origin, error) {
	rest := strings.TrimSpace(raw)
	if rest == "" {
		return Origin{}, fmt.Errorf("empty origin")
	}

	origin := Origin{Scheme: "http"}
	if scheme, after, ok := strings.Cut(rest, "://"); ok {
		origin.Scheme = strings.ToLower(scheme)
		rest = after
	}
	if origin.Scheme != "http" && origin.Scheme != "https" {
		return Origin{}, fmt.Errorf("origin %q: %w %q", raw, ErrUnsupportedScheme, origin.Scheme)
	}

	hostPort := rest
	if idx := strings.IndexByte(rest, '/'); idx >= 0 {
		hostPort, origin.Path = rest[:idx], rest[idx:]
	}

	origin.Port = DefaultPort(origin.Scheme)
	if host, portStr, err := net.SplitHostPort(hostPort); err == nil {
		port, err := parsePort(portStr)
		if err != nil {
			return Origin{}, fmt.Errorf("origin %q: %w", raw, err)
		}
		origin.Host, origin.Port = host, port
	} else {
		origin.Host = strings.TrimSuffix(strings.TrimPrefix(hostPort, "["), "]")
	}

	if origin.Host == "" {
		return Origin{}, fmt.Errorf("origin %q: %w", raw, ErrMissingHost)
	}
	return origin, nil
}
