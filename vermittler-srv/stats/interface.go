package stats

import (
	"context"
	"time"
)

// Collector records proxy activity. Implementations must be safe for
// concurrent use; callers treat errors as non-fatal.
type Collector interface {
	// Connection tracking for every outbound dial
	StartConnection(ctx context.Context, connectionUUID, clientIP, targetHost string, targetPort int, protocol string) (int64, error)
	EndConnection(ctx context.Context, connectionID int64, bytesSent, bytesReceived int64, duration time.Duration, closeReason string) error

	// One record per relayed HTTP exchange
	RecordHTTPRequest(ctx context.Context, record RequestRecord) error

	// Error tracking
	RecordError(ctx context.Context, connectionID int64, errorType, errorMessage string) error

	// Security events
	RecordBlockedRequest(ctx context.Context, clientIP, targetHost, reason string) error

	// Aggregates for logs and tests
	Summary(ctx context.Context) (*Summary, error)

	HealthCheck(ctx context.Context) error
	Close() error
}

// RequestRecord describes one relayed HTTP request.
type RequestRecord struct {
	RequestID  string
	Listener   string
	Kind       string // forward or reverse
	ClientIP   string
	Method     string
	URL        string
	Host       string
	UserAgent  string
	StatusCode int
	Duration   time.Duration
}

// Summary holds totals over everything recorded.
type Summary struct {
	Connections   int64
	BytesSent     int64
	BytesReceived int64
	Requests      int64
	Errors        int64
	Blocked       int64
}
