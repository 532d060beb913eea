package proxy

import (
	"io"
	"sync"
)

// DefaultBufferSize is the size of pooled copy buffers (32KB).
const DefaultBufferSize = 32 * 1024

var bufferPool = sync.Pool{
	New: func() any {
		buf := make([]byte, DefaultBufferSize)
		return &buf
	},
}

// copyBuffer copies from src to dst with a buffer from the pool. It is used
// for both tunnel directions and relayed response bodies.
func copyBuffer(dst io.Writer, src io.Reader) (int64, error) {
	buf := bufferPool.Get().(*[]byte)
	defer bufferPool.Put(buf)
	return io.CopyBuffer(dst, src, *buf)
}
