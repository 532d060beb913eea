package proxy

import (
	"context"
	"io"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTrackedConnCountsBytes(t *testing.T) {
	client, server := net.Pipe()
	collector := &recordingCollector{}
	conn := TrackConnection(context.Background(), client, collector, 7)

	go func() {
		buf := make([]byte, 5)
		_, _ = io.ReadFull(server, buf)
		_, _ = server.Write([]byte("pong!!"))
	}()

	n, err := conn.Write([]byte("ping!"))
	require.NoError(t, err)
	assert.Equal(t, 5, n)

	buf := make([]byte, 6)
	_, err = io.ReadFull(conn, buf)
	require.NoError(t, err)

	require.NoError(t, conn.Close())
	_ = conn.Close()
	server.Close()

	collector.mu.Lock()
	defer collector.mu.Unlock()
	assert.Equal(t, 1, collector.ended, "statistics are recorded once")
	assert.Equal(t, int64(5), collector.sent)
	assert.Equal(t, int64(6), collector.received)
}

func TestTrackedConnNilCollector(t *testing.T) {
	client, server := net.Pipe()
	defer server.Close()

	conn := TrackConnection(context.Background(), client, nil, 0)
	assert.NoError(t, conn.Close())
}
