package storage

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"
)

func TestLocalAdapter(t *testing.T) {
	tmpDir := t.TempDir()
	adapter, err := NewLocalAdapter(tmpDir)
	if err != nil {
		t.Fatalf("Failed to create local adapter: %v", err)
	}
	defer adapter.Close()

	ctx := context.Background()
	testPath := "books/b1/progress.json"
	testData := []byte(`{"percentage":42}`)

	t.Run("Put", func(t *testing.T) {
		err := adapter.Put(ctx, testPath, bytes.NewReader(testData))
		if err != nil {
			t.Fatalf("Failed to put data: %v", err)
		}
	})

	t.Run("Exists", func(t *testing.T) {
		exists, err := adapter.Exists(ctx, testPath)
		if err != nil {
			t.Fatalf("Failed to check existence: %v", err)
		}
		if !exists {
			t.Error("File should exist after Put")
		}
	})

	t.Run("Get", func(t *testing.T) {
		reader, err := adapter.Get(ctx, testPath)
		if err != nil {
			t.Fatalf("Failed to get data: %v", err)
		}
		defer reader.Close()

		data, err := io.ReadAll(reader)
		if err != nil {
			t.Fatalf("Failed to read data: %v", err)
		}

		if !bytes.Equal(data, testData) {
			t.Errorf("Expected %s, got %s", testData, data)
		}
	})

	t.Run("Overwrite", func(t *testing.T) {
		next := []byte(`{"percentage":58}`)
		if err := adapter.Put(ctx, testPath, bytes.NewReader(next)); err != nil {
			t.Fatalf("Failed to overwrite: %v", err)
		}
		data, err := ReadAll(ctx, adapter, testPath)
		if err != nil {
			t.Fatalf("Failed to read back: %v", err)
		}
		if !bytes.Equal(data, next) {
			t.Errorf("Expected %s after overwrite, got %s", next, data)
		}
	})

	t.Run("List", func(t *testing.T) {
		adapter.Put(ctx, "books/b1/highlights/h1.json", bytes.NewReader([]byte("{}")))
		adapter.Put(ctx, "books/b2/progress.json", bytes.NewReader([]byte("{}")))

		paths, err := adapter.List(ctx, "books/b1/")
		if err != nil {
			t.Fatalf("Failed to list files: %v", err)
		}

		if len(paths) != 2 {
			t.Errorf("Expected 2 files under books/b1/, got %d: %v", len(paths), paths)
		}
	})

	t.Run("DeletePrefix", func(t *testing.T) {
		if err := adapter.DeletePrefix(ctx, "books/b1/"); err != nil {
			t.Fatalf("Failed to delete prefix: %v", err)
		}
		paths, err := adapter.List(ctx, "books/b1/")
		if err != nil {
			t.Fatalf("Failed to list files: %v", err)
		}
		if len(paths) != 0 {
			t.Errorf("Expected no files after DeletePrefix, got %v", paths)
		}
		// Sibling prefix untouched
		exists, _ := adapter.Exists(ctx, "books/b2/progress.json")
		if !exists {
			t.Error("Sibling prefix should be untouched")
		}
	})

	t.Run("GetNonExistent", func(t *testing.T) {
		_, err := adapter.Get(ctx, "non-existent.json")
		if err == nil {
			t.Fatal("Expected error for non-existent file")
		}
		if !errors.Is(err, ErrNotFound) {
			t.Errorf("Expected ErrNotFound, got %v", err)
		}
	})

	t.Run("DeleteMissing", func(t *testing.T) {
		if err := adapter.Delete(ctx, "never-was-here.json"); err != nil {
			t.Errorf("Deleting a missing object should not error: %v", err)
		}
	})
}
