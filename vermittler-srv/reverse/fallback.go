package reverse

import (
	"context"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strconv"

	"github.com/codefionn/vermittler/vermittler-srv/logger"
)

// fallbackHandler answers every request with status 404 and a fixed page.
type fallbackHandler struct {
	body        []byte
	contentType string
}

// newFallbackHandler reads page once. An empty or unreadable page yields the
// built-in default.
func newFallbackHandler(page string) *fallbackHandler {
	h := &fallbackHandler{
		body:        defaultPage404(),
		contentType: "text/html; charset=utf-8",
	}
	if page == "" {
		return h
	}

	body, err := os.ReadFile(page)
	if err != nil {
		logger.Warn("Cannot read page404 %s, using default page: %v", page, err)
		return h
	}
	h.body = body
	if ct := mime.TypeByExtension(filepath.Ext(page)); ct != "" {
		h.contentType = ct
	} else {
		h.contentType = http.DetectContentType(body)
	}
	return h
}

func (h *fallbackHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", h.contentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(h.body)))
	w.WriteHeader(http.StatusNotFound)
	if r.Method != http.MethodHead {
		_, _ = w.Write(h.body)
	}
}

// defaultPage404 renders the built-in 404 page.
func defaultPage404() []byte {
	body, err := renderPage(context.Background(), notFoundPage())
	if err != nil {
		logger.Error("Cannot render built-in 404 page: %v", err)
		return []byte("404 Not Found")
	}
	return body
}
