package proxy

import (
	"context"
	"net"
	"net/http"
)

type contextKey struct {
	name string
}

var (
	clientIPKey  = &contextKey{name: "client-ip"}
	protocolKey  = &contextKey{name: "protocol"}
	requestIDKey = &contextKey{name: "request-id"}
)

func WithClientIP(ctx context.Context, clientIP string) context.Context {
	return context.WithValue(ctx, clientIPKey, clientIP)
}

func ClientIPFromContext(ctx context.Context) (string, bool) {
	clientIP, ok := ctx.Value(clientIPKey).(string)
	return clientIP, ok
}

// WithProtocol tags outbound dials made with ctx, e.g. connect, http or
// reverse. The tag is stored with connection statistics.
func WithProtocol(ctx context.Context, protocol string) context.Context {
	return context.WithValue(ctx, protocolKey, protocol)
}

func protocolFromContext(ctx context.Context) string {
	if protocol, ok := ctx.Value(protocolKey).(string); ok {
		return protocol
	}
	return "tcp"
}

func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

func RequestIDFromContext(ctx context.Context) (string, bool) {
	requestID, ok := ctx.Value(requestIDKey).(string)
	return requestID, ok
}

// ConnContext stores the remote IP of c in the connection context. It is
// meant for http.Server.ConnContext.
func ConnContext(ctx context.Context, c net.Conn) context.Context {
	clientIP, _, err := net.SplitHostPort(c.RemoteAddr().String())
	if err != nil {
		clientIP = c.RemoteAddr().String()
	}
	return WithClientIP(ctx, clientIP)
}

// ClientIP returns the remote IP of r.
func ClientIP(r *http.Request) string {
	if ip, ok := ClientIPFromContext(r.Context()); ok {
		return ip
	}
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}
