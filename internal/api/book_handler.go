package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/pageturn/pageturn/internal/epub"
	"github.com/pageturn/pageturn/internal/fetch"
	"github.com/pageturn/pageturn/internal/pdf"
	"github.com/pageturn/pageturn/internal/progress"
	"github.com/pageturn/pageturn/internal/store"
	"github.com/pageturn/pageturn/pkg/types"
)

// BookHandler handles library API endpoints
type BookHandler struct {
	repo        store.Repository
	bridge      *progress.Bridge
	maxUploadMB int
}

// NewBookHandler creates a new library handler
func NewBookHandler(repo store.Repository, bridge *progress.Bridge, maxUploadMB int) *BookHandler {
	if maxUploadMB <= 0 {
		maxUploadMB = 100
	}
	return &BookHandler{repo: repo, bridge: bridge, maxUploadMB: maxUploadMB}
}

// UploadBook handles POST /api/v1/books
func (h *BookHandler) UploadBook(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if err := r.ParseMultipartForm(int64(h.maxUploadMB) << 20); err != nil {
		respondError(w, "Failed to parse form", http.StatusBadRequest)
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		respondError(w, "No file provided", http.StatusBadRequest)
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		respondError(w, "Failed to read file", http.StatusInternalServerError)
		return
	}

	// Sniff the format from content; the extension only breaks ties.
	format, err := fetch.DetectFormat(data, header.Filename)
	if err != nil {
		respondError(w, fmt.Sprintf("Unsupported format: %s", header.Filename), http.StatusBadRequest)
		return
	}

	newBook := &types.Book{
		ID:         uuid.NewString(),
		Title:      r.FormValue("title"),
		Author:     r.FormValue("author"),
		Language:   r.FormValue("language"),
		Format:     format,
		UploadedAt: time.Now().UTC(),
		SizeBytes:  int64(len(data)),
	}

	var cover []byte
	switch format {
	case "epub":
		parsed, err := epub.Open(data)
		if err != nil {
			respondError(w, fmt.Sprintf("Failed to parse book: %v", err), http.StatusBadRequest)
			return
		}
		meta := parsed.Metadata()
		if newBook.Title == "" {
			newBook.Title = meta.Title
		}
		if newBook.Author == "" {
			newBook.Author = meta.Author
		}
		if newBook.Language == "" {
			newBook.Language = meta.Language
		}
		newBook.TotalSections = len(parsed.Sections())
		if data, _, err := parsed.Cover(); err == nil {
			cover = data
			newBook.HasCover = true
		}
	case "pdf":
		doc, err := pdf.Parse(data)
		if err != nil {
			respondError(w, fmt.Sprintf("Failed to parse book: %v", err), http.StatusBadRequest)
			return
		}
		newBook.TotalPages = doc.PageCount
	}

	if newBook.Title == "" {
		newBook.Title = strings.TrimSuffix(header.Filename, "."+format)
	}
	if newBook.Language == "" {
		newBook.Language = "en"
	}

	ctx := r.Context()
	if err := h.repo.SaveBook(ctx, newBook); err != nil {
		respondError(w, "Failed to save book metadata", http.StatusInternalServerError)
		return
	}
	if err := h.repo.SaveRawFile(ctx, newBook.ID, data, format); err != nil {
		respondError(w, "Failed to save book file", http.StatusInternalServerError)
		return
	}
	if cover != nil {
		if err := h.repo.SaveCover(ctx, newBook.ID, cover); err != nil {
			respondError(w, "Failed to save cover", http.StatusInternalServerError)
			return
		}
	}

	respondJSON(w, newBook, http.StatusCreated)
}

// ListBooks handles GET /api/v1/books
func (h *BookHandler) ListBooks(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	books, err := h.repo.ListBooks(r.Context())
	if err != nil {
		respondError(w, "Failed to list books", http.StatusInternalServerError)
		return
	}

	respondJSON(w, books, http.StatusOK)
}

// GetBook handles GET /api/v1/books/:id
func (h *BookHandler) GetBook(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	bookID := extractIDFromPath(r.URL.Path, "/api/v1/books/")
	if bookID == "" {
		respondError(w, "Book ID required", http.StatusBadRequest)
		return
	}

	book, err := h.repo.GetBook(r.Context(), bookID)
	if err != nil {
		respondError(w, "Book not found", http.StatusNotFound)
		return
	}

	respondJSON(w, book, http.StatusOK)
}

// DeleteBook handles DELETE /api/v1/books/:id
func (h *BookHandler) DeleteBook(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	bookID := extractIDFromPath(r.URL.Path, "/api/v1/books/")
	if bookID == "" {
		respondError(w, "Book ID required", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	if _, err := h.repo.GetBook(ctx, bookID); err != nil {
		if errors.Is(err, store.ErrBookNotFound) {
			respondError(w, "Book not found", http.StatusNotFound)
			return
		}
		respondError(w, "Failed to load book", http.StatusInternalServerError)
		return
	}

	// Everything under the book goes: file, cover, progress, highlights,
	// bookmarks, plus the locally cached progress copy.
	if err := h.repo.DeleteBook(ctx, bookID); err != nil {
		respondError(w, "Failed to delete book", http.StatusInternalServerError)
		return
	}
	if err := h.bridge.Delete(ctx, bookID); err != nil {
		respondError(w, "Failed to delete cached progress", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// GetCover handles GET /api/v1/books/:id/cover
func (h *BookHandler) GetCover(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	bookID := extractIDFromPath(r.URL.Path, "/api/v1/books/")
	if bookID == "" {
		respondError(w, "Book ID required", http.StatusBadRequest)
		return
	}

	data, mediaType, err := h.repo.GetCover(r.Context(), bookID)
	if err != nil {
		respondError(w, "Cover not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", mediaType)
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

// Helper functions

func extractIDFromPath(path, prefix string) string {
	if !strings.HasPrefix(path, prefix) {
		return ""
	}
	rest := strings.TrimPrefix(path, prefix)
	parts := strings.Split(rest, "/")
	if len(parts) > 0 {
		return parts[0]
	}
	return ""
}

func respondJSON(w http.ResponseWriter, data interface{}, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
