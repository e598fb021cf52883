package storage

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"ChunkFM/config"
	"ChunkFM/logger"
	"ChunkFM/model"

	"github.com/fsnotify/fsnotify"
)

// AvailabilityCache answers "does every chunk of this track exist and have
// bytes" without re-statting the whole track on every selection. Verified
// results are cached per track; the upload coordinator invalidates entries
// it touches, and for local storage an fsnotify watcher additionally
// invalidates on out-of-band filesystem changes (chunks deleted by hand,
// external sync jobs).
type AvailabilityCache struct {
	store ChunkStore
	mode  string

	mu       sync.RWMutex
	complete map[int64]bool // only verified-complete tracks are cached

	watcher *fsnotify.Watcher
	done    chan struct{}
}

// NewAvailabilityCache wraps store. Mode decides what "complete" means:
// every registered chunk present in presplit layout, a non-empty stored
// file in offset layout.
func NewAvailabilityCache(store ChunkStore, mode string) *AvailabilityCache {
	return &AvailabilityCache{
		store:    store,
		mode:     mode,
		complete: make(map[int64]bool),
		done:     make(chan struct{}),
	}
}

// IsComplete reports whether the track is fully available on storage.
func (c *AvailabilityCache) IsComplete(ctx context.Context, t *model.Track) (bool, error) {
	c.mu.RLock()
	cached := c.complete[t.ID]
	c.mu.RUnlock()
	if cached {
		return true, nil
	}

	ok, err := c.verify(ctx, t)
	if err != nil {
		return false, err
	}
	if ok {
		c.mu.Lock()
		c.complete[t.ID] = true
		c.mu.Unlock()
	}
	return ok, nil
}

func (c *AvailabilityCache) verify(ctx context.Context, t *model.Track) (bool, error) {
	if c.mode == config.ChunkModeOffset {
		count, err := c.store.ChunkCount(ctx, t.ID)
		if err != nil {
			return false, err
		}
		return count > 0, nil
	}

	if t.ChunkCount <= 0 {
		return false, nil
	}
	for i := 0; i < t.ChunkCount; i++ {
		size, err := c.store.ChunkSize(ctx, t.ID, i)
		if err != nil {
			return false, err
		}
		if size == 0 {
			return false, nil
		}
	}
	return true, nil
}

// Invalidate drops the cached verdict for a track. Called by the upload
// coordinator after any write or removal.
func (c *AvailabilityCache) Invalidate(trackID int64) {
	c.mu.Lock()
	delete(c.complete, trackID)
	c.mu.Unlock()
}

// Watch starts filesystem invalidation for a local store rooted at baseDir.
// fsnotify is not recursive, so every track directory needs its own watch:
// the ones already on disk are added here, later ones as their create
// events arrive on baseDir.
func (c *AvailabilityCache) Watch(baseDir string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := watcher.Add(baseDir); err != nil {
		watcher.Close()
		return err
	}

	entries, err := os.ReadDir(baseDir)
	if err != nil {
		watcher.Close()
		return err
	}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if _, err := strconv.ParseInt(e.Name(), 10, 64); err != nil {
			continue
		}
		if err := watcher.Add(filepath.Join(baseDir, e.Name())); err != nil {
			logger.Warn("failed to watch track dir",
				logger.String("dir", e.Name()),
				logger.ErrorField(err))
		}
	}

	c.watcher = watcher

	go func() {
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				c.handleEvent(event)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.Warn("availability watcher error", logger.ErrorField(err))
			case <-c.done:
				return
			}
		}
	}()
	return nil
}

func (c *AvailabilityCache) handleEvent(event fsnotify.Event) {
	// Event on a track directory itself (created or removed under baseDir).
	if id, err := strconv.ParseInt(filepath.Base(event.Name), 10, 64); err == nil {
		if event.Op&fsnotify.Create == fsnotify.Create && c.watcher != nil {
			_ = c.watcher.Add(event.Name)
		}
		c.Invalidate(id)
		return
	}

	// Event on a chunk file inside a track directory.
	if id, err := strconv.ParseInt(filepath.Base(filepath.Dir(event.Name)), 10, 64); err == nil {
		c.Invalidate(id)
	}
}

// Close stops the watcher goroutine.
func (c *AvailabilityCache) Close() error {
	close(c.done)
	if c.watcher != nil {
		return c.watcher.Close()
	}
	return nil
}
