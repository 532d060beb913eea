package proxy

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRemoveHopHeaders(t *testing.T) {
	h := http.Header{}
	h.Set("Connection", "keep-alive, X-Custom-Hop")
	h.Set("X-Custom-Hop", "1")
	h.Set("Keep-Alive", "timeout=5")
	h.Set("Proxy-Authorization", "Basic abc")
	h.Set("Proxy-Connection", "keep-alive")
	h.Set("Transfer-Encoding", "chunked")
	h.Set("Upgrade", "h2c")
	h.Set("Te", "trailers")
	h.Set("X-Keep", "yes")
	h.Set("Content-Type", "text/plain")

	removeHopHeaders(h)

	assert.Equal(t, http.Header{
		"X-Keep":       {"yes"},
		"Content-Type": {"text/plain"},
	}, h)
}

func TestCopyHeader(t *testing.T) {
	dst := http.Header{"A": {"1"}}
	copyHeader(dst, http.Header{"A": {"2"}, "B": {"3", "4"}})
	assert.Equal(t, []string{"1", "2"}, dst.Values("A"))
	assert.Equal(t, []string{"3", "4"}, dst.Values("B"))
}
