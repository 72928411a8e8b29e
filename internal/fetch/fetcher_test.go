package fetch

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/pageturn/pageturn/internal/storage"
)

func epubBytes(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.Create("mimetype")
	if err != nil {
		t.Fatalf("Failed to build zip: %v", err)
	}
	w.Write([]byte("application/epub+zip"))
	if err := zw.Close(); err != nil {
		t.Fatalf("Failed to close zip: %v", err)
	}
	return buf.Bytes()
}

func plainZipBytes(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, _ := zw.Create("readme.txt")
	w.Write([]byte("hello"))
	zw.Close()
	return buf.Bytes()
}

func TestFetchFromStorage(t *testing.T) {
	adapter, err := storage.NewLocalAdapter(t.TempDir())
	if err != nil {
		t.Fatalf("Failed to create adapter: %v", err)
	}
	ctx := context.Background()
	if err := adapter.Put(ctx, "books/b1/book.epub", bytes.NewReader([]byte("payload"))); err != nil {
		t.Fatalf("Failed to seed storage: %v", err)
	}

	f := NewFetcher(adapter, 3)
	data, err := f.Fetch(ctx, "books/b1/book.epub")
	if err != nil {
		t.Fatalf("Failed to fetch: %v", err)
	}
	if string(data) != "payload" {
		t.Errorf("Unexpected payload: %q", data)
	}

	if _, err := f.Fetch(ctx, "books/missing"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestFetchURLRetries(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte("book bytes"))
	}))
	defer srv.Close()

	f := NewFetcher(nil, 3)
	data, err := f.Fetch(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("Failed to fetch after retries: %v", err)
	}
	if string(data) != "book bytes" {
		t.Errorf("Unexpected payload: %q", data)
	}
	if hits.Load() != 3 {
		t.Errorf("Expected 3 attempts, got %d", hits.Load())
	}
}

func TestFetchURLGivesUp(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	f := NewFetcher(nil, 2)
	if _, err := f.Fetch(context.Background(), srv.URL); err == nil {
		t.Error("Expected error after exhausting retries")
	}
}

func TestDetectFormat(t *testing.T) {
	tests := []struct {
		name    string
		data    []byte
		file    string
		want    string
		wantErr bool
	}{
		{"PDFContent", []byte("%PDF-1.7\nrest of file"), "book.bin", "pdf", false},
		{"EpubZip", nil, "book.bin", "epub", false},
		{"PlainZipWithEpubExt", nil, "book.epub", "epub", false},
		{"ExtensionFallback", []byte("not sniffed"), "notes.pdf", "pdf", false},
		{"Unknown", []byte("plain text"), "notes.txt", "", true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			data := tc.data
			switch tc.name {
			case "EpubZip":
				data = epubBytes(t)
			case "PlainZipWithEpubExt":
				data = plainZipBytes(t)
			}

			got, err := DetectFormat(data, tc.file)
			if tc.wantErr {
				if err == nil {
					t.Fatal("Expected error")
				}
				var unknownErr *ErrUnknownFormat
				if !errors.As(err, &unknownErr) {
					t.Errorf("Expected ErrUnknownFormat, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Failed to detect: %v", err)
			}
			if got != tc.want {
				t.Errorf("Expected %s, got %s", tc.want, got)
			}
		})
	}
}
