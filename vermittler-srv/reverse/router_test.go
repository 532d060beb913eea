package reverse

import (
	"net"
	"net/http"
	"path/filepath"
	"testing"

	"github.com/codefionn/vermittler/vermittler-srv/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRouterIsolatesBrokenVirtualServers(t *testing.T) {
	root := staticSite(t)
	cfg := testConfig()
	cfg.VirtualServers = []config.VirtualServerConfig{
		{
			Host:   "127.0.0.1",
			Listen: 18443,
			TLS: &config.TLSConfig{
				Enable: true,
				Cert:   filepath.Join(t.TempDir(), "cert.pem"),
				Key:    filepath.Join(t.TempDir(), "key.pem"),
			},
		},
		{
			Host:    "127.0.0.1",
			Listen:  18081,
			Statics: []config.StaticRule{{Path: "/", Root: filepath.Join(root, "missing")}},
		},
		{
			Host:      "127.0.0.1",
			Listen:    18082,
			Locations: []config.LocationRule{{Path: "~(", Origin: "127.0.0.1:1"}},
		},
		{
			Host:    "127.0.0.1",
			Listen:  18080,
			Statics: []config.StaticRule{{Path: "/", Root: root}},
		},
	}

	router := NewRouter(cfg, nil, nil)
	require.Len(t, router.Servers(), 1)
	assert.Equal(t, "127.0.0.1:18080", router.Servers()[0].Name())
	assert.Len(t, router.Failed(), 3)
	assert.Contains(t, router.Failed(), "127.0.0.1:18443")
	assert.Contains(t, router.Failed(), "127.0.0.1:18081")
	assert.Contains(t, router.Failed(), "127.0.0.1:18082")

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	healthy := router.Servers()[0]
	go func() {
		_ = healthy.StartWithListener(ln)
	}()
	t.Cleanup(func() {
		_ = router.Stop()
		ln.Close()
	})

	resp, body := get(t, "http://"+ln.Addr().String()+"/")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "<h1>home</h1>", body)
}

func TestRouterWithoutVirtualServers(t *testing.T) {
	router := NewRouter(testConfig(), nil, nil)
	assert.Empty(t, router.Servers())
	assert.Error(t, router.Start())
	assert.NoError(t, router.Stop())
}

func TestVirtualServersDoNotShareRoutes(t *testing.T) {
	first, firstAddr := startOrigin(t)
	second, secondAddr := startOrigin(t)

	a := startVirtualServer(t, config.VirtualServerConfig{
		Locations: []config.LocationRule{{Path: "/", Origin: firstAddr}},
	})
	b := startVirtualServer(t, config.VirtualServerConfig{
		Locations: []config.LocationRule{{Path: "/", Origin: secondAddr + "/b"}},
	})

	_, _ = get(t, a.url("/x"))
	_, _ = get(t, b.url("/x"))

	assert.Equal(t, []string{"/x"}, first.received())
	assert.Equal(t, []string{"/b/x"}, second.received())
}
