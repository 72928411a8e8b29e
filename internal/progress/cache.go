package progress

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/pageturn/pageturn/pkg/types"
)

// FileCache is the local, synchronously written copy of reading
// progress. One JSON file per book under the cache directory.
type FileCache struct {
	dir string
}

// NewFileCache creates the cache directory if needed.
func NewFileCache(dir string) (*FileCache, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}
	return &FileCache{dir: dir}, nil
}

// Get returns the cached record for the book, or ok=false when none exists.
func (c *FileCache) Get(bookID string) (types.ProgressRecord, bool, error) {
	data, err := os.ReadFile(c.path(bookID))
	if os.IsNotExist(err) {
		return types.ProgressRecord{}, false, nil
	}
	if err != nil {
		return types.ProgressRecord{}, false, fmt.Errorf("failed to read progress cache: %w", err)
	}

	var rec types.ProgressRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return types.ProgressRecord{}, false, fmt.Errorf("failed to parse progress cache: %w", err)
	}
	return rec, true, nil
}

// Put writes the record atomically via a temp file rename.
func (c *FileCache) Put(bookID string, rec types.ProgressRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal progress: %w", err)
	}

	tmp, err := os.CreateTemp(c.dir, ".progress-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write progress cache: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmpName, c.path(bookID)); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to move progress cache into place: %w", err)
	}
	return nil
}

// Delete removes the cached record, ignoring a missing file.
func (c *FileCache) Delete(bookID string) error {
	if err := os.Remove(c.path(bookID)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete progress cache: %w", err)
	}
	return nil
}

func (c *FileCache) path(bookID string) string {
	return filepath.Join(c.dir, bookID+".json")
}
