package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/pageturn/pageturn/internal/position"
	"github.com/pageturn/pageturn/internal/progress"
	"github.com/pageturn/pageturn/internal/raster"
	"github.com/pageturn/pageturn/internal/reader"
	"github.com/pageturn/pageturn/internal/storage"
	"github.com/pageturn/pageturn/internal/store"
	"github.com/pageturn/pageturn/pkg/types"
)

// ReaderHandler handles reading session API endpoints
type ReaderHandler struct {
	service *reader.Service
	repo    store.Repository
	bridge  *progress.Bridge
}

// NewReaderHandler creates a new reading session handler
func NewReaderHandler(service *reader.Service, repo store.Repository, bridge *progress.Bridge) *ReaderHandler {
	return &ReaderHandler{service: service, repo: repo, bridge: bridge}
}

// viewRequest mirrors position.View on the wire.
type viewRequest struct {
	ScrollTop      float64 `json:"scroll_top"`
	ViewportHeight float64 `json:"viewport_height"`
	DocHeight      float64 `json:"doc_height"`
	SectionTops    []struct {
		SectionID string  `json:"section_id"`
		Top       float64 `json:"top"`
	} `json:"section_tops"`
}

func (v viewRequest) toView() position.View {
	view := position.View{
		ScrollTop:      v.ScrollTop,
		ViewportHeight: v.ViewportHeight,
		DocHeight:      v.DocHeight,
	}
	for _, st := range v.SectionTops {
		view.SectionTops = append(view.SectionTops, position.SectionTop{SectionID: st.SectionID, Top: st.Top})
	}
	return view
}

// OpenSession handles POST /api/v1/books/:id/open
func (h *ReaderHandler) OpenSession(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	bookID := extractIDFromPath(r.URL.Path, "/api/v1/books/")
	if bookID == "" {
		respondError(w, "Book ID required", http.StatusBadRequest)
		return
	}

	session, err := h.service.Open(r.Context(), bookID)
	if err != nil {
		respondError(w, fmt.Sprintf("Failed to open book: %v", err), http.StatusUnprocessableEntity)
		return
	}

	sectionIDs := make([]string, 0)
	for _, sec := range session.Sections() {
		sectionIDs = append(sectionIDs, sec.ID)
	}

	respondJSON(w, map[string]interface{}{
		"session_id":         session.ID,
		"book_id":            session.BookID,
		"format":             session.Format,
		"status":             session.Status(),
		"sections":           sectionIDs,
		"toc":                session.TOC(),
		"pages":              pageStatesOrNil(session),
		"prefetch_margin_px": h.service.PrefetchMargin(),
		"warnings":           session.Warnings(),
	}, http.StatusCreated)
}

func pageStatesOrNil(session *reader.Session) []types.PageState {
	if session.Raster == nil {
		return nil
	}
	return session.Raster.Pages()
}

// GetStatus handles GET /api/v1/sessions/:id/status
func (h *ReaderHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	session, ok := h.session(w, r)
	if !ok {
		return
	}
	respondJSON(w, map[string]string{"status": session.Status()}, http.StatusOK)
}

// GetSections handles GET /api/v1/sessions/:id/sections and
// GET /api/v1/sessions/:id/sections/:sectionId
func (h *ReaderHandler) GetSections(w http.ResponseWriter, r *http.Request) {
	session, ok := h.session(w, r)
	if !ok {
		return
	}

	parts := strings.Split(r.URL.Path, "/sections")
	if len(parts) == 2 && strings.HasPrefix(parts[1], "/") {
		sectionID := strings.TrimPrefix(parts[1], "/")
		sec, found := session.Section(sectionID)
		if !found {
			respondError(w, "Section not found", http.StatusNotFound)
			return
		}
		respondJSON(w, sec, http.StatusOK)
		return
	}

	respondJSON(w, session.Sections(), http.StatusOK)
}

// GetBlob handles GET /api/v1/sessions/:id/blobs/:handle
func (h *ReaderHandler) GetBlob(w http.ResponseWriter, r *http.Request) {
	session, ok := h.session(w, r)
	if !ok {
		return
	}

	parts := strings.Split(r.URL.Path, "/blobs/")
	if len(parts) < 2 || parts[1] == "" {
		respondError(w, "Blob handle required", http.StatusBadRequest)
		return
	}

	data, mediaType, found := session.Blobs.Get(parts[1])
	if !found {
		respondError(w, "Blob not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", mediaType)
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

// Restore handles POST /api/v1/sessions/:id/restore
func (h *ReaderHandler) Restore(w http.ResponseWriter, r *http.Request) {
	session, ok := h.session(w, r)
	if !ok {
		return
	}

	var req viewRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	target, restored, err := h.service.Restore(r.Context(), session, req.toView())
	if err != nil {
		respondError(w, fmt.Sprintf("Failed to restore: %v", err), http.StatusInternalServerError)
		return
	}

	respondJSON(w, map[string]interface{}{
		"restored":   restored,
		"scroll_top": target,
	}, http.StatusOK)
}

// ObserveScroll handles POST /api/v1/sessions/:id/scroll
func (h *ReaderHandler) ObserveScroll(w http.ResponseWriter, r *http.Request) {
	session, ok := h.session(w, r)
	if !ok {
		return
	}

	var req viewRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if err := h.service.ObserveScroll(session, req.toView()); err != nil {
		respondError(w, err.Error(), http.StatusBadRequest)
		return
	}

	loc, pct := session.Tracker.Current()
	respondJSON(w, map[string]interface{}{
		"state":      session.Tracker.State().String(),
		"location":   loc.String(),
		"percentage": pct,
	}, http.StatusOK)
}

// ObservePages handles POST /api/v1/sessions/:id/pages
func (h *ReaderHandler) ObservePages(w http.ResponseWriter, r *http.Request) {
	session, ok := h.session(w, r)
	if !ok {
		return
	}

	var req struct {
		Visible []raster.Visibility `json:"visible"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if err := h.service.ObservePages(r.Context(), session, req.Visible); err != nil {
		respondError(w, err.Error(), http.StatusBadRequest)
		return
	}

	respondJSON(w, map[string]interface{}{
		"current_page": session.Raster.CurrentPage(),
		"pages":        session.Raster.Pages(),
	}, http.StatusOK)
}

// GetPageImage handles GET /api/v1/sessions/:id/pages/:n/image
func (h *ReaderHandler) GetPageImage(w http.ResponseWriter, r *http.Request) {
	session, ok := h.session(w, r)
	if !ok {
		return
	}
	if session.Raster == nil {
		respondError(w, "Not a paged session", http.StatusBadRequest)
		return
	}

	parts := strings.Split(r.URL.Path, "/pages/")
	if len(parts) < 2 {
		respondError(w, "Page number required", http.StatusBadRequest)
		return
	}
	pageStr := strings.TrimSuffix(parts[1], "/image")
	page, err := strconv.Atoi(pageStr)
	if err != nil {
		respondError(w, "Invalid page number", http.StatusBadRequest)
		return
	}

	data, err := session.Raster.PageImage(r.Context(), page)
	if err != nil {
		respondError(w, err.Error(), http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

// SetScale handles POST /api/v1/sessions/:id/scale
func (h *ReaderHandler) SetScale(w http.ResponseWriter, r *http.Request) {
	session, ok := h.session(w, r)
	if !ok {
		return
	}
	if session.Raster == nil {
		respondError(w, "Not a paged session", http.StatusBadRequest)
		return
	}

	var req struct {
		Scale float64 `json:"scale"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Scale <= 0 {
		respondError(w, "Invalid scale", http.StatusBadRequest)
		return
	}

	session.Raster.SetScale(r.Context(), req.Scale)
	respondJSON(w, map[string]interface{}{
		"scale": session.Raster.Scale(),
		"pages": session.Raster.Pages(),
	}, http.StatusOK)
}

// CloseSession handles DELETE /api/v1/sessions/:id
func (h *ReaderHandler) CloseSession(w http.ResponseWriter, r *http.Request) {
	sessionID := extractIDFromPath(r.URL.Path, "/api/v1/sessions/")
	if sessionID == "" {
		respondError(w, "Session ID required", http.StatusBadRequest)
		return
	}
	h.service.Close(sessionID)
	w.WriteHeader(http.StatusNoContent)
}

// CreateHighlight handles POST /api/v1/sessions/:id/highlights
func (h *ReaderHandler) CreateHighlight(w http.ResponseWriter, r *http.Request) {
	session, ok := h.session(w, r)
	if !ok {
		return
	}

	var req struct {
		SectionID string `json:"section_id"`
		Text      string `json:"text"`
		Color     string `json:"color"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	highlight, warning, err := h.service.CreateHighlight(r.Context(), session, req.SectionID, req.Text, req.Color)
	if err != nil {
		respondError(w, err.Error(), http.StatusBadRequest)
		return
	}

	respondJSON(w, map[string]interface{}{
		"highlight": highlight,
		"warning":   warning,
	}, http.StatusCreated)
}

// DeleteHighlight handles DELETE /api/v1/sessions/:id/highlights/:highlightId
func (h *ReaderHandler) DeleteHighlight(w http.ResponseWriter, r *http.Request) {
	session, ok := h.session(w, r)
	if !ok {
		return
	}

	parts := strings.Split(r.URL.Path, "/highlights/")
	if len(parts) < 2 || parts[1] == "" {
		respondError(w, "Highlight ID required", http.StatusBadRequest)
		return
	}

	if err := h.service.DeleteHighlight(r.Context(), session, parts[1]); err != nil {
		respondError(w, "Highlight not found", http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// UpdateHighlight handles PATCH /api/v1/sessions/:id/highlights/:highlightId
func (h *ReaderHandler) UpdateHighlight(w http.ResponseWriter, r *http.Request) {
	session, ok := h.session(w, r)
	if !ok {
		return
	}

	parts := strings.Split(r.URL.Path, "/highlights/")
	if len(parts) < 2 || parts[1] == "" {
		respondError(w, "Highlight ID required", http.StatusBadRequest)
		return
	}

	// Note is a pointer so an absent field is distinguishable from an
	// explicit empty string, which clears the note.
	var req struct {
		Color string  `json:"color"`
		Note  *string `json:"note"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	highlight, err := h.service.UpdateHighlight(r.Context(), session, parts[1], req.Color, req.Note)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			respondError(w, "Highlight not found", http.StatusNotFound)
			return
		}
		respondError(w, err.Error(), http.StatusBadRequest)
		return
	}
	respondJSON(w, highlight, http.StatusOK)
}

// ListHighlights handles GET /api/v1/books/:id/highlights
func (h *ReaderHandler) ListHighlights(w http.ResponseWriter, r *http.Request) {
	bookID := extractIDFromPath(r.URL.Path, "/api/v1/books/")
	if bookID == "" {
		respondError(w, "Book ID required", http.StatusBadRequest)
		return
	}

	highlights, err := h.repo.ListHighlights(r.Context(), bookID)
	if err != nil {
		respondError(w, "Failed to list highlights", http.StatusInternalServerError)
		return
	}
	respondJSON(w, highlights, http.StatusOK)
}

// Bookmarks handles GET and POST /api/v1/books/:id/bookmarks and
// DELETE /api/v1/books/:id/bookmarks/:bookmarkId
func (h *ReaderHandler) Bookmarks(w http.ResponseWriter, r *http.Request) {
	bookID := extractIDFromPath(r.URL.Path, "/api/v1/books/")
	if bookID == "" {
		respondError(w, "Book ID required", http.StatusBadRequest)
		return
	}

	switch r.Method {
	case http.MethodGet:
		bookmarks, err := h.repo.ListBookmarks(r.Context(), bookID)
		if err != nil {
			respondError(w, "Failed to list bookmarks", http.StatusInternalServerError)
			return
		}
		respondJSON(w, bookmarks, http.StatusOK)

	case http.MethodPost:
		var req struct {
			Location string `json:"location"`
			Page     int    `json:"page"`
			Title    string `json:"title"`
			Note     string `json:"note"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondError(w, "Invalid request body", http.StatusBadRequest)
			return
		}

		bookmark := &types.Bookmark{
			ID:        uuid.NewString(),
			BookID:    bookID,
			Location:  req.Location,
			Page:      req.Page,
			Title:     req.Title,
			Note:      req.Note,
			CreatedAt: time.Now().UTC(),
		}
		if err := h.repo.SaveBookmark(r.Context(), bookmark); err != nil {
			respondError(w, "Failed to save bookmark", http.StatusInternalServerError)
			return
		}
		respondJSON(w, bookmark, http.StatusCreated)

	case http.MethodDelete:
		parts := strings.Split(r.URL.Path, "/bookmarks/")
		if len(parts) < 2 || parts[1] == "" {
			respondError(w, "Bookmark ID required", http.StatusBadRequest)
			return
		}
		if err := h.repo.DeleteBookmark(r.Context(), bookID, parts[1]); err != nil {
			respondError(w, "Failed to delete bookmark", http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusNoContent)

	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// Progress handles GET and PUT /api/v1/books/:id/progress
func (h *ReaderHandler) Progress(w http.ResponseWriter, r *http.Request) {
	bookID := extractIDFromPath(r.URL.Path, "/api/v1/books/")
	if bookID == "" {
		respondError(w, "Book ID required", http.StatusBadRequest)
		return
	}

	switch r.Method {
	case http.MethodGet:
		rec, found, err := h.bridge.Load(r.Context(), bookID)
		if err != nil {
			respondError(w, "Failed to load progress", http.StatusInternalServerError)
			return
		}
		if !found {
			respondError(w, "No progress saved", http.StatusNotFound)
			return
		}
		respondJSON(w, rec, http.StatusOK)

	case http.MethodPut:
		var rec types.ProgressRecord
		if err := json.NewDecoder(r.Body).Decode(&rec); err != nil {
			respondError(w, "Invalid request body", http.StatusBadRequest)
			return
		}
		if rec.Location != "" {
			if _, err := types.ParseLocation(rec.Location); err != nil {
				respondError(w, "Invalid location descriptor", http.StatusBadRequest)
				return
			}
		}
		if rec.UpdatedAt.IsZero() {
			rec.UpdatedAt = time.Now().UTC()
		}
		if err := h.bridge.Save(r.Context(), bookID, rec); err != nil {
			respondError(w, "Failed to save progress", http.StatusInternalServerError)
			return
		}
		respondJSON(w, rec, http.StatusOK)

	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// Settings handles GET and PUT /api/v1/settings
func (h *ReaderHandler) Settings(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		settings, err := h.repo.GetSettings(r.Context())
		if err != nil {
			respondError(w, "Failed to load settings", http.StatusInternalServerError)
			return
		}
		respondJSON(w, settings, http.StatusOK)

	case http.MethodPut:
		var settings types.ReaderSettings
		if err := json.NewDecoder(r.Body).Decode(&settings); err != nil {
			respondError(w, "Invalid request body", http.StatusBadRequest)
			return
		}
		if err := h.service.UpdateSettings(r.Context(), settings); err != nil {
			respondError(w, "Failed to save settings", http.StatusInternalServerError)
			return
		}
		settings.Clamp()
		respondJSON(w, settings, http.StatusOK)

	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// Stylesheet handles GET /api/v1/settings/stylesheet
func (h *ReaderHandler) Stylesheet(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	css, err := h.service.Stylesheet(r.Context())
	if err != nil {
		respondError(w, "Failed to build stylesheet", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/css; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(css))
}

// session resolves the session id in the path, writing the error
// response itself when the session is unknown.
func (h *ReaderHandler) session(w http.ResponseWriter, r *http.Request) (*reader.Session, bool) {
	sessionID := extractIDFromPath(r.URL.Path, "/api/v1/sessions/")
	if sessionID == "" {
		respondError(w, "Session ID required", http.StatusBadRequest)
		return nil, false
	}
	session, ok := h.service.Get(sessionID)
	if !ok {
		respondError(w, "Session not found", http.StatusNotFound)
		return nil, false
	}
	return session, true
}
