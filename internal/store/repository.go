// Package store persists library records as JSON documents over the
// storage adapter.
package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"sort"

	"github.com/h2non/filetype"

	"github.com/pageturn/pageturn/internal/storage"
	"github.com/pageturn/pageturn/pkg/types"
)

// ErrBookNotFound is returned for lookups of unknown book ids.
var ErrBookNotFound = errors.New("store: book not found")

// Repository handles library persistence
type Repository interface {
	// SaveBook stores book metadata
	SaveBook(ctx context.Context, book *types.Book) error

	// GetBook retrieves book metadata by ID
	GetBook(ctx context.Context, bookID string) (*types.Book, error)

	// ListBooks returns all books sorted by upload time, newest first
	ListBooks(ctx context.Context) ([]*types.Book, error)

	// DeleteBook removes the book and everything stored under it
	DeleteBook(ctx context.Context, bookID string) error

	// SaveRawFile stores the uploaded book file
	SaveRawFile(ctx context.Context, bookID string, data []byte, format string) error

	// GetRawFile retrieves the uploaded book file and its format
	GetRawFile(ctx context.Context, bookID string) ([]byte, string, error)

	// RawFilePath returns the storage path of the book file, if present
	RawFilePath(ctx context.Context, bookID string) (string, error)

	// SaveCover stores the cover image
	SaveCover(ctx context.Context, bookID string, data []byte) error

	// GetCover retrieves the cover image and its sniffed media type
	GetCover(ctx context.Context, bookID string) ([]byte, string, error)

	// GetProgress retrieves the reading progress for a book
	GetProgress(ctx context.Context, bookID string) (types.ProgressRecord, bool, error)

	// UpsertProgress stores the reading progress for a book
	UpsertProgress(ctx context.Context, bookID string, rec types.ProgressRecord) error

	// SaveHighlight stores a highlight
	SaveHighlight(ctx context.Context, h *types.Highlight) error

	// GetHighlight retrieves a highlight by ID
	GetHighlight(ctx context.Context, bookID, highlightID string) (*types.Highlight, error)

	// ListHighlights returns all highlights for a book, oldest first
	ListHighlights(ctx context.Context, bookID string) ([]*types.Highlight, error)

	// DeleteHighlight removes a highlight
	DeleteHighlight(ctx context.Context, bookID, highlightID string) error

	// SaveBookmark stores a bookmark
	SaveBookmark(ctx context.Context, b *types.Bookmark) error

	// ListBookmarks returns all bookmarks for a book, oldest first
	ListBookmarks(ctx context.Context, bookID string) ([]*types.Bookmark, error)

	// DeleteBookmark removes a bookmark
	DeleteBookmark(ctx context.Context, bookID, bookmarkID string) error

	// GetSettings retrieves the saved reader settings, or defaults
	GetSettings(ctx context.Context) (types.ReaderSettings, error)

	// SaveSettings stores the reader settings
	SaveSettings(ctx context.Context, s types.ReaderSettings) error
}

// StorageRepository implements Repository using a storage adapter
type StorageRepository struct {
	storage storage.Adapter
}

// NewRepository creates a new library repository
func NewRepository(storageAdapter storage.Adapter) Repository {
	return &StorageRepository{storage: storageAdapter}
}

// SaveBook stores book metadata
func (r *StorageRepository) SaveBook(ctx context.Context, book *types.Book) error {
	return r.putJSON(ctx, path.Join("books", book.ID, "metadata.json"), book)
}

// GetBook retrieves book metadata by ID
func (r *StorageRepository) GetBook(ctx context.Context, bookID string) (*types.Book, error) {
	var book types.Book
	if err := r.getJSON(ctx, path.Join("books", bookID, "metadata.json"), &book); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrBookNotFound
		}
		return nil, fmt.Errorf("failed to get book metadata: %w", err)
	}
	return &book, nil
}

// ListBooks returns all books sorted by upload time, newest first
func (r *StorageRepository) ListBooks(ctx context.Context) ([]*types.Book, error) {
	paths, err := r.storage.List(ctx, "books/")
	if err != nil {
		return nil, fmt.Errorf("failed to list books: %w", err)
	}

	books := make([]*types.Book, 0)
	for _, p := range paths {
		if path.Base(p) != "metadata.json" {
			continue
		}
		var book types.Book
		if err := r.getJSON(ctx, p, &book); err != nil {
			continue // skip unreadable records
		}
		books = append(books, &book)
	}

	sort.Slice(books, func(i, j int) bool {
		return books[i].UploadedAt.After(books[j].UploadedAt)
	})
	return books, nil
}

// DeleteBook removes the book and everything stored under it
func (r *StorageRepository) DeleteBook(ctx context.Context, bookID string) error {
	if err := r.storage.DeletePrefix(ctx, path.Join("books", bookID)+"/"); err != nil {
		return fmt.Errorf("failed to delete book %s: %w", bookID, err)
	}
	return nil
}

// SaveRawFile stores the uploaded book file
func (r *StorageRepository) SaveRawFile(ctx context.Context, bookID string, data []byte, format string) error {
	p := path.Join("books", bookID, fmt.Sprintf("raw.%s", format))
	return r.storage.Put(ctx, p, bytes.NewReader(data))
}

// GetRawFile retrieves the uploaded book file and its format
func (r *StorageRepository) GetRawFile(ctx context.Context, bookID string) ([]byte, string, error) {
	p, err := r.RawFilePath(ctx, bookID)
	if err != nil {
		return nil, "", err
	}
	data, err := storage.ReadAll(ctx, r.storage, p)
	if err != nil {
		return nil, "", fmt.Errorf("failed to read book file: %w", err)
	}
	return data, path.Ext(p)[1:], nil
}

// RawFilePath returns the storage path of the book file, if present
func (r *StorageRepository) RawFilePath(ctx context.Context, bookID string) (string, error) {
	for _, format := range []string{"epub", "pdf"} {
		p := path.Join("books", bookID, fmt.Sprintf("raw.%s", format))
		exists, err := r.storage.Exists(ctx, p)
		if err != nil {
			return "", fmt.Errorf("failed to check book file: %w", err)
		}
		if exists {
			return p, nil
		}
	}
	return "", fmt.Errorf("book file not found for %s", bookID)
}

// SaveCover stores the cover image
func (r *StorageRepository) SaveCover(ctx context.Context, bookID string, data []byte) error {
	return r.storage.Put(ctx, path.Join("books", bookID, "cover"), bytes.NewReader(data))
}

// GetCover retrieves the cover image and its sniffed media type
func (r *StorageRepository) GetCover(ctx context.Context, bookID string) ([]byte, string, error) {
	data, err := storage.ReadAll(ctx, r.storage, path.Join("books", bookID, "cover"))
	if err != nil {
		return nil, "", fmt.Errorf("failed to read cover: %w", err)
	}
	mediaType := "application/octet-stream"
	if kind, err := filetype.Match(data); err == nil && kind.MIME.Value != "" {
		mediaType = kind.MIME.Value
	}
	return data, mediaType, nil
}

// GetProgress retrieves the reading progress for a book
func (r *StorageRepository) GetProgress(ctx context.Context, bookID string) (types.ProgressRecord, bool, error) {
	var rec types.ProgressRecord
	err := r.getJSON(ctx, path.Join("books", bookID, "progress.json"), &rec)
	if errors.Is(err, storage.ErrNotFound) {
		return types.ProgressRecord{}, false, nil
	}
	if err != nil {
		return types.ProgressRecord{}, false, fmt.Errorf("failed to get progress: %w", err)
	}
	return rec, true, nil
}

// UpsertProgress stores the reading progress for a book
func (r *StorageRepository) UpsertProgress(ctx context.Context, bookID string, rec types.ProgressRecord) error {
	return r.putJSON(ctx, path.Join("books", bookID, "progress.json"), rec)
}

// SaveHighlight stores a highlight
func (r *StorageRepository) SaveHighlight(ctx context.Context, h *types.Highlight) error {
	p := path.Join("books", h.BookID, "highlights", fmt.Sprintf("%s.json", h.ID))
	return r.putJSON(ctx, p, h)
}

// GetHighlight retrieves a highlight by ID
func (r *StorageRepository) GetHighlight(ctx context.Context, bookID, highlightID string) (*types.Highlight, error) {
	var h types.Highlight
	p := path.Join("books", bookID, "highlights", fmt.Sprintf("%s.json", highlightID))
	if err := r.getJSON(ctx, p, &h); err != nil {
		return nil, fmt.Errorf("failed to get highlight: %w", err)
	}
	return &h, nil
}

// ListHighlights returns all highlights for a book, oldest first
func (r *StorageRepository) ListHighlights(ctx context.Context, bookID string) ([]*types.Highlight, error) {
	paths, err := r.storage.List(ctx, path.Join("books", bookID, "highlights")+"/")
	if err != nil {
		return nil, fmt.Errorf("failed to list highlights: %w", err)
	}

	highlights := make([]*types.Highlight, 0, len(paths))
	for _, p := range paths {
		var h types.Highlight
		if err := r.getJSON(ctx, p, &h); err != nil {
			continue
		}
		highlights = append(highlights, &h)
	}

	sort.Slice(highlights, func(i, j int) bool {
		return highlights[i].CreatedAt.Before(highlights[j].CreatedAt)
	})
	return highlights, nil
}

// DeleteHighlight removes a highlight
func (r *StorageRepository) DeleteHighlight(ctx context.Context, bookID, highlightID string) error {
	p := path.Join("books", bookID, "highlights", fmt.Sprintf("%s.json", highlightID))
	return r.storage.Delete(ctx, p)
}

// SaveBookmark stores a bookmark
func (r *StorageRepository) SaveBookmark(ctx context.Context, b *types.Bookmark) error {
	p := path.Join("books", b.BookID, "bookmarks", fmt.Sprintf("%s.json", b.ID))
	return r.putJSON(ctx, p, b)
}

// ListBookmarks returns all bookmarks for a book, oldest first
func (r *StorageRepository) ListBookmarks(ctx context.Context, bookID string) ([]*types.Bookmark, error) {
	paths, err := r.storage.List(ctx, path.Join("books", bookID, "bookmarks")+"/")
	if err != nil {
		return nil, fmt.Errorf("failed to list bookmarks: %w", err)
	}

	bookmarks := make([]*types.Bookmark, 0, len(paths))
	for _, p := range paths {
		var b types.Bookmark
		if err := r.getJSON(ctx, p, &b); err != nil {
			continue
		}
		bookmarks = append(bookmarks, &b)
	}

	sort.Slice(bookmarks, func(i, j int) bool {
		return bookmarks[i].CreatedAt.Before(bookmarks[j].CreatedAt)
	})
	return bookmarks, nil
}

// DeleteBookmark removes a bookmark
func (r *StorageRepository) DeleteBookmark(ctx context.Context, bookID, bookmarkID string) error {
	p := path.Join("books", bookID, "bookmarks", fmt.Sprintf("%s.json", bookmarkID))
	return r.storage.Delete(ctx, p)
}

// GetSettings retrieves the saved reader settings, or defaults
func (r *StorageRepository) GetSettings(ctx context.Context) (types.ReaderSettings, error) {
	var s types.ReaderSettings
	err := r.getJSON(ctx, "settings.json", &s)
	if errors.Is(err, storage.ErrNotFound) {
		return types.DefaultSettings(), nil
	}
	if err != nil {
		return types.ReaderSettings{}, fmt.Errorf("failed to get settings: %w", err)
	}
	s.Clamp()
	return s, nil
}

// SaveSettings stores the reader settings
func (r *StorageRepository) SaveSettings(ctx context.Context, s types.ReaderSettings) error {
	s.Clamp()
	return r.putJSON(ctx, "settings.json", s)
}

func (r *StorageRepository) putJSON(ctx context.Context, p string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", p, err)
	}
	return r.storage.Put(ctx, p, bytes.NewReader(data))
}

func (r *StorageRepository) getJSON(ctx context.Context, p string, v any) error {
	reader, err := r.storage.Get(ctx, p)
	if err != nil {
		return err
	}
	defer reader.Close()

	if err := json.NewDecoder(reader).Decode(v); err != nil {
		return fmt.Errorf("failed to decode %s: %w", p, err)
	}
	return nil
}
