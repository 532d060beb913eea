package stats

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/codefionn/vermittler/vermittler-srv/logger"
)

const (
	// DefaultFlushInterval is how often buffered events reach the backend.
	DefaultFlushInterval = time.Second
	// maxBufferedEvents triggers an early flush.
	maxBufferedEvents = 512
)

// event is one deferred write. It runs on the flusher with exclusive access
// to the connection ID mapping.
type event func(ctx context.Context, b *BufferedCollector) error

// BufferedCollector queues events in memory and writes them to the
// underlying collector in the background, so dials and requests never wait
// on the database. Connection IDs are handed out locally and translated to
// the backend's IDs when the queue is flushed.
type BufferedCollector struct {
	underlying Collector
	interval   time.Duration

	nextID atomic.Int64

	mu     sync.Mutex
	queue  []event
	closed bool

	// flushMu serializes flushes and guards ids.
	flushMu sync.Mutex
	ids     map[int64]int64

	kick     chan struct{}
	stopChan chan struct{}
	doneChan chan struct{}
}

// NewBufferedCollector wraps underlying with the default flush interval.
func NewBufferedCollector(underlying Collector) *BufferedCollector {
	return NewBufferedCollectorWithInterval(underlying, DefaultFlushInterval)
}

// NewBufferedCollectorWithInterval wraps underlying and flushes every interval.
func NewBufferedCollectorWithInterval(underlying Collector, interval time.Duration) *BufferedCollector {
	if interval <= 0 {
		interval = DefaultFlushInterval
	}
	b := &BufferedCollector{
		underlying: underlying,
		interval:   interval,
		queue:      make([]event, 0, maxBufferedEvents),
		ids:        make(map[int64]int64),
		kick:       make(chan struct{}, 1),
		stopChan:   make(chan struct{}),
		doneChan:   make(chan struct{}),
	}
	go b.flusher()
	return b
}

func (b *BufferedCollector) flusher() {
	defer close(b.doneChan)

	logger.Debug("Starting buffered stats flusher every %s", b.interval)
	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			b.flush()
		case <-b.kick:
			b.flush()
		case <-b.stopChan:
			b.flush()
			return
		}
	}
}

func (b *BufferedCollector) enqueue(e event) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.queue = append(b.queue, e)
	full := len(b.queue) >= maxBufferedEvents
	b.mu.Unlock()

	if full {
		select {
		case b.kick <- struct{}{}:
		default:
		}
	}
}

// flush writes every queued event in order.
func (b *BufferedCollector) flush() {
	b.flushMu.Lock()
	defer b.flushMu.Unlock()

	b.mu.Lock()
	queue := b.queue
	b.queue = make([]event, 0, maxBufferedEvents)
	b.mu.Unlock()

	if len(queue) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	failed := 0
	for _, e := range queue {
		if err := e(ctx, b); err != nil {
			failed++
			logger.Debug("Failed to write buffered stats event: %v", err)
		}
	}
	if failed > 0 {
		logger.Warn("Failed to write %d of %d buffered stats events", failed, len(queue))
	}
}

// backendID translates a local connection ID. Unknown IDs map to 0.
func (b *BufferedCollector) backendID(local int64) int64 {
	return b.ids[local]
}

// StartConnection returns a local connection ID immediately.
func (b *BufferedCollector) StartConnection(ctx context.Context, connectionUUID, clientIP, targetHost string, targetPort int, protocol string) (int64, error) {
	local := b.nextID.Add(1)
	b.enqueue(func(ctx context.Context, b *BufferedCollector) error {
		id, err := b.underlying.StartConnection(ctx, connectionUUID, clientIP, targetHost, targetPort, protocol)
		if err != nil {
			return err
		}
		b.ids[local] = id
		return nil
	})
	return local, nil
}

func (b *BufferedCollector) EndConnection(ctx context.Context, connectionID, bytesSent, bytesReceived int64, duration time.Duration, closeReason string) error {
	b.enqueue(func(ctx context.Context, b *BufferedCollector) error {
		id, ok := b.ids[connectionID]
		if !ok {
			return nil
		}
		delete(b.ids, connectionID)
		return b.underlying.EndConnection(ctx, id, bytesSent, bytesReceived, duration, closeReason)
	})
	return nil
}

func (b *BufferedCollector) RecordHTTPRequest(ctx context.Context, record RequestRecord) error {
	b.enqueue(func(ctx context.Context, b *BufferedCollector) error {
		return b.underlying.RecordHTTPRequest(ctx, record)
	})
	return nil
}

func (b *BufferedCollector) RecordError(ctx context.Context, connectionID int64, errorType, errorMessage string) error {
	b.enqueue(func(ctx context.Context, b *BufferedCollector) error {
		return b.underlying.RecordError(ctx, b.backendID(connectionID), errorType, errorMessage)
	})
	return nil
}

func (b *BufferedCollector) RecordBlockedRequest(ctx context.Context, clientIP, targetHost, reason string) error {
	b.enqueue(func(ctx context.Context, b *BufferedCollector) error {
		return b.underlying.RecordBlockedRequest(ctx, clientIP, targetHost, reason)
	})
	return nil
}

// Summary flushes pending events first so the totals include them.
func (b *BufferedCollector) Summary(ctx context.Context) (*Summary, error) {
	b.flush()
	return b.underlying.Summary(ctx)
}

func (b *BufferedCollector) HealthCheck(ctx context.Context) error {
	return b.underlying.HealthCheck(ctx)
}

// Close writes the remaining events and closes the underlying collector.
func (b *BufferedCollector) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.mu.Unlock()

	close(b.stopChan)
	<-b.doneChan
	return b.underlying.Close()
}
