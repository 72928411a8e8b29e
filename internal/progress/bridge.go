// Package progress persists reading progress to a local cache and a
// remote store, reconciling the two copies on load.
package progress

import (
	"context"
	"log"
	"sync"

	"github.com/pageturn/pageturn/pkg/types"
)

// Remote is the durable progress store. Implemented by the repository.
type Remote interface {
	GetProgress(ctx context.Context, bookID string) (types.ProgressRecord, bool, error)
	UpsertProgress(ctx context.Context, bookID string, rec types.ProgressRecord) error
}

// Bridge writes progress local-first. The local cache write is
// synchronous; the remote write happens in the background and its
// failure never surfaces to the reading flow. On load the copy with the
// later UpdatedAt wins, ties going to the remote.
type Bridge struct {
	cache  *FileCache
	remote Remote
	wg     sync.WaitGroup
}

// NewBridge creates a bridge over the cache and remote store.
func NewBridge(cache *FileCache, remote Remote) *Bridge {
	return &Bridge{cache: cache, remote: remote}
}

// Save stores the record locally and kicks off the remote write. Only
// the local write can fail the call.
func (b *Bridge) Save(ctx context.Context, bookID string, rec types.ProgressRecord) error {
	if err := b.cache.Put(bookID, rec); err != nil {
		return err
	}

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		if err := b.remote.UpsertProgress(context.WithoutCancel(ctx), bookID, rec); err != nil {
			log.Printf("Remote progress write failed for book %s: %v", bookID, err)
		}
	}()
	return nil
}

// Load reconciles the local and remote copies and returns the winner.
// A remote read failure degrades to the local copy. The winning record
// is written back to the cache so the next offline load sees it.
func (b *Bridge) Load(ctx context.Context, bookID string) (types.ProgressRecord, bool, error) {
	local, hasLocal, err := b.cache.Get(bookID)
	if err != nil {
		log.Printf("Progress cache read failed for book %s: %v", bookID, err)
		hasLocal = false
	}

	remote, hasRemote, err := b.remote.GetProgress(ctx, bookID)
	if err != nil {
		log.Printf("Remote progress read failed for book %s: %v", bookID, err)
		return local, hasLocal, nil
	}

	switch {
	case !hasLocal && !hasRemote:
		return types.ProgressRecord{}, false, nil
	case !hasRemote:
		return local, true, nil
	case !hasLocal:
		b.writeBack(bookID, remote)
		return remote, true, nil
	case remote.UpdatedAt.Before(local.UpdatedAt):
		return local, true, nil
	default:
		b.writeBack(bookID, remote)
		return remote, true, nil
	}
}

// Delete drops both copies. Used when a book is removed.
func (b *Bridge) Delete(ctx context.Context, bookID string) error {
	return b.cache.Delete(bookID)
}

// Wait blocks until all background remote writes have finished.
func (b *Bridge) Wait() {
	b.wg.Wait()
}

func (b *Bridge) writeBack(bookID string, rec types.ProgressRecord) {
	if err := b.cache.Put(bookID, rec); err != nil {
		log.Printf("Progress cache write-back failed for book %s: %v", bookID, err)
	}
}
