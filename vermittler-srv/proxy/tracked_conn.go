package proxy

import (
	"context"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/codefionn/vermittler/vermittler-srv/stats"
)

// trackedConn counts the bytes of an outbound connection and records the
// totals with the collector once it is closed.
type trackedConn struct {
	net.Conn
	collector     stats.Collector
	connectionID  int64
	bytesSent     atomic.Int64
	bytesReceived atomic.Int64
	startTime     time.Time
	ctx           context.Context
	endOnce       sync.Once
}

// TrackConnection wraps conn so that its lifetime and byte counts end up in
// collector under connectionID. ctx must outlive the connection.
func TrackConnection(ctx context.Context, conn net.Conn, collector stats.Collector, connectionID int64) net.Conn {
	if collector == nil {
		collector = stats.NewDummyCollector()
	}
	return &trackedConn{
		Conn:         conn,
		collector:    collector,
		connectionID: connectionID,
		startTime:    time.Now(),
		ctx:          ctx,
	}
}

func (c *trackedConn) Read(b []byte) (int, error) {
	n, err := c.Conn.Read(b)
	if n > 0 {
		c.bytesReceived.Add(int64(n))
	}
	return n, err
}

func (c *trackedConn) Write(b []byte) (int, error) {
	n, err := c.Conn.Write(b)
	if n > 0 {
		c.bytesSent.Add(int64(n))
	}
	return n, err
}

// CloseWrite half-closes the connection when the underlying conn supports it.
func (c *trackedConn) CloseWrite() error {
	if cw, ok := c.Conn.(interface{ CloseWrite() error }); ok {
		return cw.CloseWrite()
	}
	return nil
}

// Close closes the connection. Statistics are recorded on the first call only.
func (c *trackedConn) Close() error {
	err := c.Conn.Close()
	c.endOnce.Do(func() {
		closeReason := "normal"
		if err != nil {
			closeReason = err.Error()
		}
		_ = c.collector.EndConnection(c.ctx, c.connectionID,
			c.bytesSent.Load(), c.bytesReceived.Load(), time.Since(c.startTime), closeReason)
	})
	return err
}
