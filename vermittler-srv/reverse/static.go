package reverse

import (
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"path"
	"sort"
	"strings"

	"github.com/codefionn/vermittler/vermittler-srv/config"
	"github.com/codefionn/vermittler/vermittler-srv/logger"
)

// staticHandler serves the files below one document root.
type staticHandler struct {
	prefix   string
	root     http.Dir
	listing  bool
	index    string
	headers  map[string]string
	fallback http.Handler
}

// newStaticHandler checks that the root of rule is a directory. Requests
// for missing files are passed to fallback.
func newStaticHandler(rule config.StaticRule, fallback http.Handler) (*staticHandler, error) {
	root := rule.Root
	if root == "" {
		root = config.DefaultStaticRoot
	}
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("static %s: invalid root: %w", rule.Path, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("static %s: root %s is not a directory", rule.Path, root)
	}

	index := rule.Index
	if index == "" {
		index = config.DefaultStaticIndex
	}

	return &staticHandler{
		prefix:   strings.TrimSuffix(rule.Path, "/"),
		root:     http.Dir(root),
		listing:  rule.ListingEnabled(),
		index:    index,
		headers:  rule.AddHeaders,
		fallback: fallback,
	}, nil
}

func (h *staticHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.Header().Set("Allow", "GET, HEAD")
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
		return
	}

	for name, value := range h.headers {
		w.Header().Set(name, value)
	}

	rel := strings.TrimPrefix(r.URL.Path, h.prefix)
	if !strings.HasPrefix(rel, "/") {
		rel = "/" + rel
	}
	rel = path.Clean(rel)

	f, err := h.root.Open(rel)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			logger.Debug("Cannot open static file %s: %v", rel, err)
		}
		h.fallback.ServeHTTP(w, r)
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		h.fallback.ServeHTTP(w, r)
		return
	}

	if !info.IsDir() {
		http.ServeContent(w, r, info.Name(), info.ModTime(), f)
		return
	}

	if !strings.HasSuffix(r.URL.Path, "/") {
		target := r.URL.Path + "/"
		if r.URL.RawQuery != "" {
			target += "?" + r.URL.RawQuery
		}
		http.Redirect(w, r, target, http.StatusMovedPermanently)
		return
	}

	if h.listing {
		h.serveListing(w, r, f, rel)
		return
	}
	h.serveIndex(w, r, rel)
}

func (h *staticHandler) serveIndex(w http.ResponseWriter, r *http.Request, dir string) {
	f, err := h.root.Open(path.Join(dir, h.index))
	if err != nil {
		h.fallback.ServeHTTP(w, r)
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil || info.IsDir() {
		h.fallback.ServeHTTP(w, r)
		return
	}
	http.ServeContent(w, r, info.Name(), info.ModTime(), f)
}

func (h *staticHandler) serveListing(w http.ResponseWriter, r *http.Request, f http.File, dir string) {
	entries, err := f.Readdir(-1)
	if err != nil {
		logger.Warn("Cannot list directory %s: %v", dir, err)
		http.Error(w, "Error reading directory", http.StatusInternalServerError)
		return
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	list := make([]listingEntry, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() {
			name += "/"
		}
		list = append(list, newListingEntry(name))
	}
	body, err := renderPage(r.Context(), directoryListing(r.URL.Path, dir != "/", list))
	if err != nil {
		logger.Warn("Cannot render listing of %s: %v", dir, err)
		http.Error(w, "Error reading directory", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	if r.Method != http.MethodHead {
		_, _ = w.Write(body)
	}
}
