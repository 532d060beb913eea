package reverse

import (
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/codefionn/vermittler/vermittler-srv/config"
	"github.com/codefionn/vermittler/vermittler-srv/logger"
	"github.com/codefionn/vermittler/vermittler-srv/metrics"
	"github.com/codefionn/vermittler/vermittler-srv/stats"
)

// Router owns one VirtualServer per configured proxy entry. A virtual server
// whose configuration is broken is skipped; the others still start.
type Router struct {
	servers []*VirtualServer
	failed  map[string]error
}

// NewRouter builds the virtual servers of cfg. collector and m may be nil.
func NewRouter(cfg *config.Config, collector stats.Collector, m *metrics.Metrics) *Router {
	r := &Router{
		servers: make([]*VirtualServer, 0, len(cfg.VirtualServers)),
		failed:  make(map[string]error),
	}

	for i, vs := range cfg.VirtualServers {
		server, err := NewVirtualServer(cfg, vs, collector, m)
		if err != nil {
			logger.Error("Virtual server %d on %s does not start: %v", i, vs.ListenAddress(), err)
			r.failed[vs.ListenAddress()] = err
			continue
		}
		r.servers = append(r.servers, server)
	}

	return r
}

// Servers returns the virtual servers that were built successfully.
func (r *Router) Servers() []*VirtualServer {
	return r.servers
}

// Failed returns the configuration error of every skipped virtual server,
// keyed by listen address.
func (r *Router) Failed() map[string]error {
	return r.failed
}

// Start runs all virtual servers and blocks until they are stopped. A
// virtual server that fails is logged while the others keep serving; Start
// only returns an error when every virtual server failed.
func (r *Router) Start() error {
	if len(r.servers) == 0 {
		return fmt.Errorf("no virtual servers configured")
	}

	var (
		wg          sync.WaitGroup
		mu          sync.Mutex
		startErrors []error
	)

	for _, server := range r.servers {
		wg.Add(1)
		go func(s *VirtualServer) {
			defer wg.Done()
			if err := s.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("Virtual server on %s failed: %v", s.Name(), err)
				mu.Lock()
				startErrors = append(startErrors, err)
				mu.Unlock()
			}
		}(server)
	}

	wg.Wait()

	if len(startErrors) == len(r.servers) {
		return fmt.Errorf("no virtual server could be started: %w", errors.Join(startErrors...))
	}
	return nil
}

// Stop shuts down all virtual servers.
func (r *Router) Stop() error {
	var lastErr error
	for _, server := range r.servers {
		if err := server.Stop(); err != nil {
			lastErr = err
			logger.Error("Failed to stop virtual server on %s: %v", server.Name(), err)
		}
	}
	return lastErr
}
