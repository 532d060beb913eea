package proxy

import (
	"context"
	"errors"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBufferConnReplaysBufferedBytes(t *testing.T) {
	client, server := net.Pipe()
	defer server.Close()

	conn := &bufferConn{Conn: client, buf: []byte("head-")}
	go func() {
		_, _ = server.Write([]byte("tail"))
	}()

	buf := make([]byte, len("head-tail"))
	_, err := io.ReadFull(conn, buf)
	require.NoError(t, err)
	assert.Equal(t, "head-tail", string(buf))
}

func TestDialerDirect(t *testing.T) {
	echoAddr, accepted := startEchoServer(t)
	collector := &recordingCollector{}
	d := NewDialer(nil, &net.Dialer{Timeout: time.Second}, collector, nil)

	conn, err := d.DialContext(WithProtocol(context.Background(), "test"), "tcp", echoAddr)
	require.NoError(t, err)

	_, err = conn.Write([]byte("x"))
	require.NoError(t, err)
	buf := make([]byte, 1)
	_, err = io.ReadFull(conn, buf)
	require.NoError(t, err)
	require.NoError(t, conn.Close())

	assert.Equal(t, int32(1), accepted.Load())
	started, ended := collector.counts()
	assert.Equal(t, 1, started)
	assert.Equal(t, 1, ended)
}

func TestDialerErrors(t *testing.T) {
	d := NewDialer(nil, nil, nil, nil)

	_, err := d.DialContext(context.Background(), "tcp", "no-port")
	var proxyErr *Error
	require.True(t, errors.As(err, &proxyErr))
	assert.Equal(t, ErrCodeInvalidAddress, proxyErr.Code)

	_, err = d.DialContext(context.Background(), "tcp", "host:http")
	require.True(t, errors.As(err, &proxyErr))
	assert.Equal(t, ErrCodeInvalidPort, proxyErr.Code)

	_, err = d.DialContext(context.Background(), "tcp", closedPort(t))
	require.True(t, errors.As(err, &proxyErr))
	assert.Equal(t, ErrCodeDialFailed, proxyErr.Code)
}

func TestDialerHonorsContext(t *testing.T) {
	d := NewDialer(nil, &net.Dialer{Timeout: 10 * time.Second}, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := d.DialContext(ctx, "tcp", "10.255.255.1:81")
	assert.Error(t, err)
}
