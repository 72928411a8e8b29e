package progress

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/pageturn/pageturn/pkg/types"
)

type fakeRemote struct {
	mu      sync.Mutex
	records map[string]types.ProgressRecord
	getErr  error
	putErr  error
	puts    int
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{records: map[string]types.ProgressRecord{}}
}

func (f *fakeRemote) GetProgress(ctx context.Context, bookID string) (types.ProgressRecord, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return types.ProgressRecord{}, false, f.getErr
	}
	rec, ok := f.records[bookID]
	return rec, ok, nil
}

func (f *fakeRemote) UpsertProgress(ctx context.Context, bookID string, rec types.ProgressRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.puts++
	if f.putErr != nil {
		return f.putErr
	}
	f.records[bookID] = rec
	return nil
}

func newTestBridge(t *testing.T) (*Bridge, *FileCache, *fakeRemote) {
	t.Helper()
	cache, err := NewFileCache(t.TempDir())
	if err != nil {
		t.Fatalf("Failed to create cache: %v", err)
	}
	remote := newFakeRemote()
	return NewBridge(cache, remote), cache, remote
}

func record(loc string, pct float64, at time.Time) types.ProgressRecord {
	return types.ProgressRecord{Location: loc, Percentage: pct, UpdatedAt: at}
}

func TestSaveWritesLocalThenRemote(t *testing.T) {
	bridge, cache, remote := newTestBridge(t)
	rec := record("ch1:100:3000", 10, time.Now().UTC())

	if err := bridge.Save(context.Background(), "book1", rec); err != nil {
		t.Fatalf("Failed to save: %v", err)
	}

	// The local copy is visible immediately.
	local, ok, err := cache.Get("book1")
	if err != nil || !ok {
		t.Fatalf("Expected local copy right after save (ok=%v, err=%v)", ok, err)
	}
	if local.Location != rec.Location {
		t.Errorf("Expected local location %s, got %s", rec.Location, local.Location)
	}

	bridge.Wait()
	got, ok, _ := remote.GetProgress(context.Background(), "book1")
	if !ok || got.Location != rec.Location {
		t.Errorf("Expected remote copy after Wait, got ok=%v %+v", ok, got)
	}
}

func TestSaveSurvivesRemoteFailure(t *testing.T) {
	bridge, cache, remote := newTestBridge(t)
	remote.putErr = errors.New("network down")

	rec := record("ch1:100:3000", 10, time.Now().UTC())
	if err := bridge.Save(context.Background(), "book1", rec); err != nil {
		t.Fatalf("Remote failure must not fail the save: %v", err)
	}
	bridge.Wait()

	if _, ok, _ := cache.Get("book1"); !ok {
		t.Error("Local copy should exist despite remote failure")
	}
}

func TestLoadLastWriteWins(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Second)
	older := record("ch1:100:3000", 10, now.Add(-time.Hour))
	newer := record("ch5:900:3000", 80, now)
	localTie := record("local-tie", 1, now)
	remoteTie := record("remote-tie", 2, now)

	tests := []struct {
		name   string
		local  *types.ProgressRecord
		remote *types.ProgressRecord
		want   string
	}{
		{"RemoteNewer", &older, &newer, "ch5:900:3000"},
		{"LocalNewer", &newer, &older, "ch5:900:3000"},
		{"TieFavorsRemote", &localTie, &remoteTie, "remote-tie"},
		{"LocalOnly", &older, nil, "ch1:100:3000"},
		{"RemoteOnly", nil, &newer, "ch5:900:3000"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			bridge, cache, remote := newTestBridge(t)
			if tc.local != nil {
				if err := cache.Put("book1", *tc.local); err != nil {
					t.Fatalf("Failed to seed cache: %v", err)
				}
			}
			if tc.remote != nil {
				remote.records["book1"] = *tc.remote
			}

			got, ok, err := bridge.Load(context.Background(), "book1")
			if err != nil {
				t.Fatalf("Failed to load: %v", err)
			}
			if !ok {
				t.Fatal("Expected a record")
			}
			if got.Location != tc.want {
				t.Errorf("Expected %s to win, got %s", tc.want, got.Location)
			}
		})
	}
}

func TestLoadNoRecords(t *testing.T) {
	bridge, _, _ := newTestBridge(t)
	_, ok, err := bridge.Load(context.Background(), "book1")
	if err != nil {
		t.Fatalf("Failed to load: %v", err)
	}
	if ok {
		t.Error("Expected no record")
	}
}

func TestLoadDegradesToLocalOnRemoteError(t *testing.T) {
	bridge, cache, remote := newTestBridge(t)
	local := record("ch2:400:3000", 25, time.Now().UTC())
	if err := cache.Put("book1", local); err != nil {
		t.Fatalf("Failed to seed cache: %v", err)
	}
	remote.getErr = errors.New("network down")

	got, ok, err := bridge.Load(context.Background(), "book1")
	if err != nil {
		t.Fatalf("Remote read failure must not fail the load: %v", err)
	}
	if !ok || got.Location != local.Location {
		t.Errorf("Expected local copy, got ok=%v %+v", ok, got)
	}
}

func TestLoadWritesRemoteWinnerBack(t *testing.T) {
	bridge, cache, remote := newTestBridge(t)
	newer := record("ch5:900:3000", 80, time.Now().UTC())
	remote.records["book1"] = newer

	if _, _, err := bridge.Load(context.Background(), "book1"); err != nil {
		t.Fatalf("Failed to load: %v", err)
	}

	local, ok, _ := cache.Get("book1")
	if !ok || local.Location != newer.Location {
		t.Errorf("Expected remote winner cached locally, got ok=%v %+v", ok, local)
	}
}

func TestDeleteRemovesCache(t *testing.T) {
	bridge, cache, _ := newTestBridge(t)
	if err := cache.Put("book1", record("ch1", 1, time.Now())); err != nil {
		t.Fatalf("Failed to seed cache: %v", err)
	}
	if err := bridge.Delete(context.Background(), "book1"); err != nil {
		t.Fatalf("Failed to delete: %v", err)
	}
	if _, ok, _ := cache.Get("book1"); ok {
		t.Error("Expected cache entry removed")
	}
	if err := bridge.Delete(context.Background(), "book1"); err != nil {
		t.Errorf("Deleting missing entry should be a no-op: %v", err)
	}
}
