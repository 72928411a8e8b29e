// Package fetch retrieves book files from storage or over HTTP and
// detects their format from content.
package fetch

import (
	"archive/zip"
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/h2non/filetype"

	"github.com/pageturn/pageturn/internal/storage"
)

// ErrUnknownFormat means the file is neither an EPUB nor a PDF.
type ErrUnknownFormat struct {
	Name string
}

func (e *ErrUnknownFormat) Error() string {
	return fmt.Sprintf("fetch: unsupported format for %q", e.Name)
}

// Fetcher retrieves book bytes from the storage adapter or from an
// http(s) URL. Network fetches retry with a short backoff.
type Fetcher struct {
	adapter storage.Adapter
	client  *http.Client
	retries int
}

// NewFetcher creates a fetcher. retries bounds HTTP attempts; values
// below 1 mean a single attempt.
func NewFetcher(adapter storage.Adapter, retries int) *Fetcher {
	if retries < 1 {
		retries = 1
	}
	return &Fetcher{
		adapter: adapter,
		client:  &http.Client{Timeout: 60 * time.Second},
		retries: retries,
	}
}

// Fetch returns the raw bytes of the source, which is either a storage
// path or an http(s) URL.
func (f *Fetcher) Fetch(ctx context.Context, source string) ([]byte, error) {
	if strings.HasPrefix(source, "http://") || strings.HasPrefix(source, "https://") {
		return f.fetchURL(ctx, source)
	}
	data, err := storage.ReadAll(ctx, f.adapter, source)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", source, err)
	}
	return data, nil
}

func (f *Fetcher) fetchURL(ctx context.Context, url string) ([]byte, error) {
	var lastErr error
	for attempt := 1; attempt <= f.retries; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(time.Duration(attempt-1) * 500 * time.Millisecond):
			}
		}

		data, err := f.tryURL(ctx, url)
		if err == nil {
			return data, nil
		}
		lastErr = err
	}
	return nil, fmt.Errorf("failed to fetch %s after %d attempts: %w", url, f.retries, lastErr)
}

func (f *Fetcher) tryURL(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

// DetectFormat sniffs the content and returns "epub" or "pdf". The file
// name extension only breaks ties for ambiguous zip archives.
func DetectFormat(data []byte, name string) (string, error) {
	kind, _ := filetype.Match(data)
	switch kind.Extension {
	case "pdf":
		return "pdf", nil
	case "epub":
		return "epub", nil
	case "zip":
		if zipIsEpub(data) || strings.EqualFold(path.Ext(name), ".epub") {
			return "epub", nil
		}
	}

	switch strings.ToLower(path.Ext(name)) {
	case ".epub":
		return "epub", nil
	case ".pdf":
		return "pdf", nil
	}
	return "", &ErrUnknownFormat{Name: name}
}

// zipIsEpub checks for the EPUB mimetype entry inside a zip archive.
func zipIsEpub(data []byte) bool {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return false
	}
	for _, file := range zr.File {
		if file.Name != "mimetype" {
			continue
		}
		rc, err := file.Open()
		if err != nil {
			return false
		}
		content, err := io.ReadAll(io.LimitReader(rc, 64))
		rc.Close()
		if err != nil {
			return false
		}
		return strings.TrimSpace(string(content)) == "application/epub+zip"
	}
	return false
}
