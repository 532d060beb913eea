package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const namespace = "vermittler"

// Request results of the forward proxy.
const (
	ResultOK         = "ok"
	ResultBadRequest = "bad_request"
	ResultForbidden  = "forbidden"
	ResultBlocked    = "blocked"
	ResultBadGateway = "bad_gateway"
)

// Metrics holds all Prometheus metrics of the proxy engines. All methods are
// safe on a nil receiver so engines can run without metrics.
//
// Metrics:
//   - vermittler_forward_requests_total: forward proxy requests by listener, kind, result
//   - vermittler_forward_active_tunnels: open CONNECT tunnels by listener
//   - vermittler_tunnel_bytes_total: bytes copied through tunnels by direction
//   - vermittler_upstream_dial_duration_seconds: outbound dial latency by route
//   - vermittler_reverse_requests_total: reverse proxy responses by server, route, code
//   - vermittler_reverse_request_duration_seconds: reverse proxy latency by server, route
type Metrics struct {
	registry *prometheus.Registry

	forwardRequests *prometheus.CounterVec
	activeTunnels   *prometheus.GaugeVec
	tunnelBytes     *prometheus.CounterVec
	dialDuration    *prometheus.HistogramVec
	reverseRequests *prometheus.CounterVec
	reverseDuration *prometheus.HistogramVec
}

// New creates the metrics and registers them with registry. A nil registry
// gets a fresh one with the Go runtime and process collectors.
func New(registry *prometheus.Registry) *Metrics {
	if registry == nil {
		registry = prometheus.NewRegistry()
		registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}

	m := &Metrics{
		registry: registry,
		forwardRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "forward_requests_total",
				Help:      "Total number of forward proxy requests",
			},
			[]string{"listener", "kind", "result"},
		),
		activeTunnels: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "forward_active_tunnels",
				Help:      "Number of open CONNECT tunnels",
			},
			[]string{"listener"},
		),
		tunnelBytes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "tunnel_bytes_total",
				Help:      "Bytes copied through CONNECT tunnels",
			},
			[]string{"listener", "direction"},
		),
		dialDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "upstream_dial_duration_seconds",
				Help:      "Duration of outbound dials",
				Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 15},
			},
			[]string{"route", "result"},
		),
		reverseRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "reverse_requests_total",
				Help:      "Total number of reverse proxy responses",
			},
			[]string{"server", "route", "code"},
		),
		reverseDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "reverse_request_duration_seconds",
				Help:      "Duration of reverse proxy requests",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"server", "route"},
		),
	}

	registry.MustRegister(
		m.forwardRequests,
		m.activeTunnels,
		m.tunnelBytes,
		m.dialDuration,
		m.reverseRequests,
		m.reverseDuration,
	)
	return m
}

// Registry returns the registry the metrics are registered with.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// ForwardRequest counts one forward proxy request. kind is connect or http.
func (m *Metrics) ForwardRequest(listener, kind, result string) {
	if m == nil {
		return
	}
	m.forwardRequests.WithLabelValues(listener, kind, result).Inc()
}

// TunnelOpened increments the open tunnel gauge.
func (m *Metrics) TunnelOpened(listener string) {
	if m == nil {
		return
	}
	m.activeTunnels.WithLabelValues(listener).Inc()
}

// TunnelClosed decrements the open tunnel gauge.
func (m *Metrics) TunnelClosed(listener string) {
	if m == nil {
		return
	}
	m.activeTunnels.WithLabelValues(listener).Dec()
}

// TunnelBytes adds n bytes copied in direction (upstream or downstream).
func (m *Metrics) TunnelBytes(listener, direction string, n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.tunnelBytes.WithLabelValues(listener, direction).Add(float64(n))
}

// Dial observes one outbound dial. route is direct, http or socks5.
func (m *Metrics) Dial(route string, d time.Duration, err error) {
	if m == nil {
		return
	}
	result := ResultOK
	if err != nil {
		result = "error"
	}
	m.dialDuration.WithLabelValues(route, result).Observe(d.Seconds())
}

// ReverseRequest records one reverse proxy response. route is static,
// location or fallback.
func (m *Metrics) ReverseRequest(server, route string, code int, d time.Duration) {
	if m == nil {
		return
	}
	m.reverseRequests.WithLabelValues(server, route, strconv.Itoa(code)).Inc()
	m.reverseDuration.WithLabelValues(server, route).Observe(d.Seconds())
}
