package engine

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/codefionn/vermittler/vermittler-srv/config"
	"github.com/codefionn/vermittler/vermittler-srv/logger"
	"github.com/codefionn/vermittler/vermittler-srv/metrics"
	"github.com/codefionn/vermittler/vermittler-srv/proxy"
	"github.com/codefionn/vermittler/vermittler-srv/reverse"
	"github.com/codefionn/vermittler/vermittler-srv/stats"
)

const shutdownTimeout = 5 * time.Second

// Engine runs the forward proxies, the virtual servers and the metrics
// endpoint of one configuration. A new Engine is built on every reload.
type Engine struct {
	config    *config.Config
	collector stats.Collector
	metrics   *metrics.Metrics
	forward   *proxy.Proxy
	router    *reverse.Router

	mu            sync.Mutex
	metricsServer *http.Server
}

// New builds all listeners of cfg without binding any socket. A statistics
// backend that cannot be opened is replaced by the dummy collector.
func New(cfg *config.Config) *Engine {
	collector, err := stats.NewCollector(cfg.Statistics)
	if err != nil {
		logger.Error("Failed to initialize statistics collector: %v", err)
		collector = stats.NewDummyCollector()
	}

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.New(nil)
	}

	return &Engine{
		config:    cfg,
		collector: collector,
		metrics:   m,
		forward:   proxy.NewProxy(cfg, collector, m),
		router:    reverse.NewRouter(cfg, collector, m),
	}
}

// Forward returns the forward proxy listeners.
func (e *Engine) Forward() *proxy.Proxy {
	return e.forward
}

// Router returns the virtual servers.
func (e *Engine) Router() *reverse.Router {
	return e.router
}

// Metrics returns the Prometheus metrics, nil when disabled.
func (e *Engine) Metrics() *metrics.Metrics {
	return e.metrics
}

// Start runs every listener and blocks until all of them stopped. Listener
// failures are logged as they happen and do not affect the other listeners.
// Start returns an error only when no forward proxy and no virtual server
// could be started.
func (e *Engine) Start() error {
	type runner struct {
		name     string
		run      func() error
		optional bool
	}

	var runners []runner
	if len(e.forward.Servers()) > 0 {
		runners = append(runners, runner{name: "forward proxy", run: e.forward.Start})
	}
	if len(e.router.Servers()) > 0 {
		runners = append(runners, runner{name: "reverse proxy", run: e.router.Start})
	}
	if len(runners) == 0 {
		return fmt.Errorf("no forward proxy or virtual server can be started")
	}
	required := len(runners)
	if e.metrics != nil {
		runners = append(runners, runner{name: "metrics", run: e.serveMetrics, optional: true})
	}

	var (
		wg          sync.WaitGroup
		mu          sync.Mutex
		startErrors []error
	)
	for _, r := range runners {
		wg.Add(1)
		go func(r runner) {
			defer wg.Done()
			err := r.run()
			if err == nil || errors.Is(err, http.ErrServerClosed) {
				return
			}
			logger.Error("%s stopped: %v", r.name, err)
			if r.optional {
				return
			}
			mu.Lock()
			startErrors = append(startErrors, fmt.Errorf("%s: %w", r.name, err))
			mu.Unlock()
		}(r)
	}
	wg.Wait()

	if len(startErrors) == required {
		return errors.Join(startErrors...)
	}
	return nil
}

// MetricsHandler serves the metrics at the configured path and a health
// check of the statistics backend at /healthz.
func (e *Engine) MetricsHandler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle(e.config.Metrics.Path, e.metrics.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := e.collector.HealthCheck(ctx); err != nil {
			logger.Warn("Statistics health check failed: %v", err)
			http.Error(w, "statistics unavailable", http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("ok\n"))
	})
	return mux
}

func (e *Engine) serveMetrics() error {
	listener, err := net.Listen("tcp", e.config.Metrics.ListenAddress)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", e.config.Metrics.ListenAddress, err)
	}

	server := &http.Server{
		Handler:           e.MetricsHandler(),
		ReadHeaderTimeout: e.config.Timeout(),
	}
	e.mu.Lock()
	e.metricsServer = server
	e.mu.Unlock()

	logger.Info("Serving metrics on http://%s%s", listener.Addr().String(), e.config.Metrics.Path)
	return server.Serve(listener)
}

// Stop shuts down every listener and closes the statistics backend.
func (e *Engine) Stop() error {
	var errs []error

	e.mu.Lock()
	metricsServer := e.metricsServer
	e.mu.Unlock()
	if metricsServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		if err := metricsServer.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("metrics: %w", err))
		}
		cancel()
	}

	if err := e.forward.Stop(); err != nil {
		errs = append(errs, fmt.Errorf("forward proxy: %w", err))
	}
	if err := e.router.Stop(); err != nil {
		errs = append(errs, fmt.Errorf("reverse proxy: %w", err))
	}

	e.logSummary()
	if err := e.collector.Close(); err != nil {
		errs = append(errs, fmt.Errorf("statistics: %w", err))
	}
	return errors.Join(errs...)
}

func (e *Engine) logSummary() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	summary, err := e.collector.Summary(ctx)
	if err != nil {
		logger.Debug("No statistics summary: %v", err)
		return
	}
	logger.Info("Served %d connection(s), %d request(s), %d blocked, %d error(s); %d bytes sent, %d bytes received",
		summary.Connections, summary.Requests, summary.Blocked, summary.Errors, summary.BytesSent, summary.BytesReceived)
}
