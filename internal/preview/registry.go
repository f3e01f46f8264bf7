// Package preview hands out short-lived URLs for in-memory videos so a
// front end can play the current selection without writing it to disk.
package preview

import (
	"bytes"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"upload-ai/internal/domain"
)

// PathPrefix is the route every preview reference lives under.
const PathPrefix = "/preview/"

// ErrEmptySelection is returned when there is nothing to preview.
var ErrEmptySelection = errors.New("preview: selection has no data")

type entry struct {
	selection domain.VideoSelection
	created   time.Time
}

// Registry maps preview references to the selections they point at.
type Registry struct {
	mu     sync.RWMutex
	items  map[string]entry
	router chi.Router
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	r := &Registry{items: make(map[string]entry)}
	router := chi.NewRouter()
	router.Get(PathPrefix+"{id}", r.serve)
	r.router = router
	return r
}

// Create mints a new reference for sel. Each call returns a distinct
// reference that stays valid until Release.
func (r *Registry) Create(sel domain.VideoSelection) (string, error) {
	if len(sel.Data) == 0 {
		return "", ErrEmptySelection
	}
	id := uuid.NewString()

	r.mu.Lock()
	r.items[id] = entry{selection: sel, created: time.Now()}
	r.mu.Unlock()

	return PathPrefix + id, nil
}

// Release invalidates ref. Unknown or empty references are ignored.
func (r *Registry) Release(ref string) {
	id := strings.TrimPrefix(ref, PathPrefix)
	if id == "" {
		return
	}
	r.mu.Lock()
	delete(r.items, id)
	r.mu.Unlock()
}

// ReleaseAll drops every live reference.
func (r *Registry) ReleaseAll() {
	r.mu.Lock()
	r.items = make(map[string]entry)
	r.mu.Unlock()
}

// Live reports how many references are currently valid.
func (r *Registry) Live() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.items)
}

// ServeHTTP serves live previews; anything else is a 404.
func (r *Registry) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.router.ServeHTTP(w, req)
}

func (r *Registry) serve(w http.ResponseWriter, req *http.Request) {
	id := chi.URLParam(req, "id")

	r.mu.RLock()
	item, ok := r.items[id]
	r.mu.RUnlock()
	if !ok {
		http.NotFound(w, req)
		return
	}

	mediaType := item.selection.MediaType
	if mediaType == "" {
		mediaType = http.DetectContentType(item.selection.Data)
	}
	w.Header().Set("Content-Type", mediaType)
	w.Header().Set("Cache-Control", "no-store")
	// ServeContent handles Range requests, which video elements rely on.
	http.ServeContent(w, req, item.selection.Name, item.created, bytes.NewReader(item.selection.Data))
}
