package storage

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"ChunkFM/config"
	"ChunkFM/model"
)

func TestAvailabilityPresplit(t *testing.T) {
	store := newPresplitStore(t)
	avail := NewAvailabilityCache(store, config.ChunkModePresplit)
	defer avail.Close()
	ctx := context.Background()

	track := &model.Track{ID: 1, ChunkCount: 3}

	// Registered but no data yet.
	if ok, err := avail.IsComplete(ctx, track); err != nil || ok {
		t.Fatalf("IsComplete with no chunks = (%v, %v), want (false, nil)", ok, err)
	}

	// Chunks 0 and 1 only: still incomplete.
	for i := 0; i < 2; i++ {
		if _, err := store.SaveChunk(ctx, 1, i, strings.NewReader("x")); err != nil {
			t.Fatalf("SaveChunk %d: %v", i, err)
		}
	}
	if ok, _ := avail.IsComplete(ctx, track); ok {
		t.Error("IsComplete with a missing chunk = true, want false")
	}

	// The gap heals.
	if _, err := store.SaveChunk(ctx, 1, 2, strings.NewReader("x")); err != nil {
		t.Fatalf("SaveChunk 2: %v", err)
	}
	if ok, err := avail.IsComplete(ctx, track); err != nil || !ok {
		t.Errorf("IsComplete after healing = (%v, %v), want (true, nil)", ok, err)
	}
}

func TestAvailabilityZeroChunkCount(t *testing.T) {
	store := newPresplitStore(t)
	avail := NewAvailabilityCache(store, config.ChunkModePresplit)
	defer avail.Close()

	track := &model.Track{ID: 1, ChunkCount: 0}
	if ok, _ := avail.IsComplete(context.Background(), track); ok {
		t.Error("a track with chunk_count 0 must never be complete")
	}
}

func TestAvailabilityInvalidate(t *testing.T) {
	store := newPresplitStore(t)
	avail := NewAvailabilityCache(store, config.ChunkModePresplit)
	defer avail.Close()
	ctx := context.Background()

	track := &model.Track{ID: 1, ChunkCount: 1}
	if _, err := store.SaveChunk(ctx, 1, 0, strings.NewReader("x")); err != nil {
		t.Fatalf("SaveChunk: %v", err)
	}
	if ok, _ := avail.IsComplete(ctx, track); !ok {
		t.Fatal("expected complete track")
	}

	// Data disappears out-of-band; the cached verdict would be stale until
	// invalidated.
	if err := store.RemoveTrack(ctx, 1); err != nil {
		t.Fatalf("RemoveTrack: %v", err)
	}
	avail.Invalidate(1)

	if ok, _ := avail.IsComplete(ctx, track); ok {
		t.Error("IsComplete after invalidate = true, want false")
	}
}

// waitIncomplete polls until the cache reports the track incomplete, since
// fsnotify delivers events asynchronously.
func waitIncomplete(t *testing.T, avail *AvailabilityCache, track *model.Track) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if ok, _ := avail.IsComplete(context.Background(), track); !ok {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("cached verdict still complete after out-of-band deletion")
}

func TestWatchCoversExistingTrackDirs(t *testing.T) {
	store := newPresplitStore(t)
	ctx := context.Background()

	// The track directory predates the watcher, as any track uploaded
	// during a previous run would.
	track := &model.Track{ID: 7, ChunkCount: 2}
	for i := 0; i < 2; i++ {
		if _, err := store.SaveChunk(ctx, 7, i, strings.NewReader("x")); err != nil {
			t.Fatalf("SaveChunk %d: %v", i, err)
		}
	}

	avail := NewAvailabilityCache(store, config.ChunkModePresplit)
	defer avail.Close()
	if err := avail.Watch(store.BaseDir()); err != nil {
		t.Fatalf("Watch: %v", err)
	}

	if ok, err := avail.IsComplete(ctx, track); err != nil || !ok {
		t.Fatalf("IsComplete = (%v, %v), want (true, nil)", ok, err)
	}

	if err := os.Remove(filepath.Join(store.BaseDir(), "7", "chunk_1")); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	waitIncomplete(t, avail, track)
}

func TestWatchCoversNewTrackDirs(t *testing.T) {
	store := newPresplitStore(t)
	ctx := context.Background()

	avail := NewAvailabilityCache(store, config.ChunkModePresplit)
	defer avail.Close()
	if err := avail.Watch(store.BaseDir()); err != nil {
		t.Fatalf("Watch: %v", err)
	}

	// Track directory appears after the watcher started.
	track := &model.Track{ID: 9, ChunkCount: 1}
	if _, err := store.SaveChunk(ctx, 9, 0, strings.NewReader("x")); err != nil {
		t.Fatalf("SaveChunk: %v", err)
	}
	if ok, err := avail.IsComplete(ctx, track); err != nil || !ok {
		t.Fatalf("IsComplete = (%v, %v), want (true, nil)", ok, err)
	}

	// Give the create event time to register the watch on the new dir.
	time.Sleep(200 * time.Millisecond)

	if err := os.Remove(filepath.Join(store.BaseDir(), "9", "chunk_0")); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	waitIncomplete(t, avail, track)
}

func TestAvailabilityOffset(t *testing.T) {
	store := newOffsetStore(t, 4)
	avail := NewAvailabilityCache(store, config.ChunkModeOffset)
	defer avail.Close()
	ctx := context.Background()

	track := &model.Track{ID: 1}
	if ok, _ := avail.IsComplete(ctx, track); ok {
		t.Error("IsComplete with no file = true, want false")
	}

	if _, err := store.SaveTrack(ctx, 1, strings.NewReader("01234567")); err != nil {
		t.Fatalf("SaveTrack: %v", err)
	}
	if ok, err := avail.IsComplete(ctx, track); err != nil || !ok {
		t.Errorf("IsComplete with stored file = (%v, %v), want (true, nil)", ok, err)
	}
}
