package reverse

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/codefionn/vermittler/vermittler-srv/config"
	"github.com/codefionn/vermittler/vermittler-srv/logger"
	"github.com/codefionn/vermittler/vermittler-srv/proxy"
	"github.com/codefionn/vermittler/vermittler-srv/resolver"
)

// protocolReverse tags origin connections in the statistics.
const protocolReverse = "reverse"

// newOriginTransport builds the transport all locations of a virtual server
// share. Dials go through dialer so they are tracked like forward proxy
// connections.
func newOriginTransport(dialer *proxy.Dialer, responseTimeout time.Duration) *http.Transport {
	return &http.Transport{
		Proxy: nil,
		DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			return dialer.DialContext(proxy.WithProtocol(ctx, protocolReverse), network, addr)
		},
		TLSClientConfig:       &tls.Config{MinVersion: tls.VersionTLS12},
		TLSNextProto:          map[string]func(string, *tls.Conn) http.RoundTripper{},
		TLSHandshakeTimeout:   10 * time.Second,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   10,
		IdleConnTimeout:       90 * time.Second,
		ResponseHeaderTimeout: responseTimeout,
		ExpectContinueTimeout: 1 * time.Second,
	}
}

// locationHandler relays requests matching one location rule to its origin.
// The request path is rewritten in-process before the single outbound hop.
type locationHandler struct {
	rule   *resolver.PathRule
	origin resolver.Origin
	proxy  *httputil.ReverseProxy
}

func newLocationHandler(loc config.LocationRule, transport http.RoundTripper) (*locationHandler, error) {
	rule, err := resolver.CompilePathRule(loc.Path)
	if err != nil {
		return nil, fmt.Errorf("location %s: %w", loc.Path, err)
	}
	origin, err := resolver.ParseOrigin(loc.Origin)
	if err != nil {
		return nil, fmt.Errorf("location %s: %w", loc.Path, err)
	}

	target := &url.URL{Scheme: origin.Scheme, Host: originHost(origin)}
	h := &locationHandler{rule: rule, origin: origin}
	h.proxy = &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.Out.URL.Scheme = target.Scheme
			pr.Out.URL.Host = target.Host
			h.rewritePath(pr.Out.URL, pr.In.URL)
			pr.Out.Host = ""
			pr.SetXForwarded()
		},
		Transport: transport,
		ModifyResponse: func(resp *http.Response) error {
			// the virtual server sets its own Server header
			resp.Header.Del("Server")
			return nil
		},
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			logger.Warn("Relay %s %s to %s failed for %s: %v", r.Method, r.URL.Path, origin.Address(), proxy.ClientIP(r), err)
			proxy.WriteErrorResponse(w, err, proxy.ErrCodeOriginRelayFailed)
		},
		ErrorLog: logger.StdLogger(logger.WARN),
	}
	return h, nil
}

// rewritePath maps the request path onto the origin. The rewrite works on
// the escaped path so encoded characters such as %2F reach the origin as
// sent by the client.
func (h *locationHandler) rewritePath(out, in *url.URL) {
	escaped := in.EscapedPath()
	target := h.rule.Rewrite(escaped, h.origin.Path)
	if target == escaped {
		out.Path, out.RawPath = in.Path, in.RawPath
		return
	}
	decoded, err := url.PathUnescape(target)
	if err != nil {
		out.Path, out.RawPath = target, ""
		return
	}
	out.Path, out.RawPath = decoded, target
}

func (h *locationHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.proxy.ServeHTTP(w, r)
}

// originHost omits the port when it is the scheme's default.
func originHost(o resolver.Origin) string {
	if o.Port == resolver.DefaultPort(o.Scheme) {
		if strings.Contains(o.Host, ":") {
			return "[" + o.Host + "]"
		}
		return o.Host
	}
	return net.JoinHostPort(o.Host, strconv.Itoa(o.Port))
}
