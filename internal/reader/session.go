// Package reader owns open reading sessions: loading a book into
// rendered sections or raster pages, tracking position, and serving the
// session-scoped resource blobs.
package reader

import (
	"fmt"
	"sync"
	"time"

	"github.com/pageturn/pageturn/internal/position"
	"github.com/pageturn/pageturn/internal/raster"
	"github.com/pageturn/pageturn/internal/sched"
	"github.com/pageturn/pageturn/pkg/types"
)

// BlobRegistry mints session-local URLs for decoded container
// resources. Every blob lives exactly as long as its session; closing
// the session revokes them all.
type BlobRegistry struct {
	sessionID string

	mu      sync.Mutex
	counter int
	blobs   map[string]blobEntry
}

type blobEntry struct {
	data      []byte
	mediaType string
}

// NewBlobRegistry creates an empty registry for the session.
func NewBlobRegistry(sessionID string) *BlobRegistry {
	return &BlobRegistry{sessionID: sessionID, blobs: map[string]blobEntry{}}
}

// AddBlob stores the bytes and returns the URL they are served under.
func (r *BlobRegistry) AddBlob(data []byte, mediaType string) string {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.counter++
	handle := fmt.Sprintf("blob-%d", r.counter)
	r.blobs[handle] = blobEntry{data: data, mediaType: mediaType}
	return fmt.Sprintf("/api/v1/sessions/%s/blobs/%s", r.sessionID, handle)
}

// Get returns the blob for a handle.
func (r *BlobRegistry) Get(handle string) ([]byte, string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.blobs[handle]
	return e.data, e.mediaType, ok
}

// Len returns the number of live blobs.
func (r *BlobRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.blobs)
}

// RevokeAll drops every blob.
func (r *BlobRegistry) RevokeAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.blobs = map[string]blobEntry{}
}

// Session is one open book. Flowed formats carry rendered sections and
// a position tracker; paged formats carry a raster manager instead.
type Session struct {
	ID        string
	BookID    string
	Format    string
	CreatedAt time.Time

	Blobs   *BlobRegistry
	Tracker *position.Tracker
	Raster  *raster.Manager

	pageSaves *sched.Debouncer

	mu       sync.Mutex
	status   string
	sections []*types.Section
	toc      []types.TocEntry
	warnings []string
}

// Status reports load progress, "ready", or "failed: reason".
func (s *Session) Status() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

func (s *Session) setStatus(status string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = status
}

// Sections returns the rendered sections in spine order.
func (s *Session) Sections() []*types.Section {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*types.Section(nil), s.sections...)
}

// Section returns one rendered section by id.
func (s *Session) Section(id string) (*types.Section, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sec := range s.sections {
		if sec.ID == id {
			return sec, true
		}
	}
	return nil, false
}

// TOC returns the table of contents.
func (s *Session) TOC() []types.TocEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.toc
}

// Warnings returns non-fatal problems collected during the load.
func (s *Session) Warnings() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.warnings...)
}

func (s *Session) addWarnings(ws ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.warnings = append(s.warnings, ws...)
}

func (s *Session) setSections(sections []*types.Section, toc []types.TocEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sections = sections
	s.toc = toc
}

// Close flushes pending progress and revokes every blob the session
// minted.
func (s *Session) Close() {
	if s.Tracker != nil {
		s.Tracker.Flush()
		s.Tracker.Close()
	}
	if s.pageSaves != nil {
		s.pageSaves.Flush()
	}
	s.Blobs.RevokeAll()
}
