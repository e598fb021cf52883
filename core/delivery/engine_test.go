package delivery

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"testing"

	"ChunkFM/config"
	"ChunkFM/model"
)

// fakeCatalog resolves tracks by id and counts lookups.
type fakeCatalog struct {
	tracks  map[int64]*model.Track
	lookups int
}

func (c *fakeCatalog) GetTrackByID(id int64) (*model.Track, error) {
	c.lookups++
	return c.tracks[id], nil
}

// memStore is an in-memory pre-split chunk store. failReads forces a read
// error for a track, standing in for a storage outage.
type memStore struct {
	chunks    map[int64][][]byte
	failReads map[int64]error
	reads     int
}

func newMemStore() *memStore {
	return &memStore{chunks: map[int64][][]byte{}, failReads: map[int64]error{}}
}

func (s *memStore) SaveChunk(ctx context.Context, trackID int64, index int, r io.Reader) (int64, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return 0, err
	}
	for len(s.chunks[trackID]) <= index {
		s.chunks[trackID] = append(s.chunks[trackID], nil)
	}
	s.chunks[trackID][index] = data
	return int64(len(data)), nil
}

func (s *memStore) SaveTrack(ctx context.Context, trackID int64, r io.Reader) (int64, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return 0, err
	}
	s.chunks[trackID] = [][]byte{data}
	return int64(len(data)), nil
}

func (s *memStore) ReadChunk(ctx context.Context, trackID int64, index int) ([]byte, error) {
	s.reads++
	if err := s.failReads[trackID]; err != nil {
		return nil, err
	}
	stored, ok := s.chunks[trackID]
	if !ok || index >= len(stored) || len(stored[index]) == 0 {
		return nil, fmt.Errorf("track %d chunk %d: %w", trackID, index, model.ErrChunkNotFound)
	}
	return stored[index], nil
}

func (s *memStore) ChunkSize(ctx context.Context, trackID int64, index int) (int64, error) {
	stored := s.chunks[trackID]
	if index >= len(stored) {
		return 0, nil
	}
	return int64(len(stored[index])), nil
}

func (s *memStore) ChunkCount(ctx context.Context, trackID int64) (int, error) {
	return len(s.chunks[trackID]), nil
}

func (s *memStore) RemoveTrack(ctx context.Context, trackID int64) error {
	delete(s.chunks, trackID)
	return nil
}

func storeTrack(s *memStore, id int64, chunks ...[]byte) {
	s.chunks[id] = chunks
}

func presplitTrack(id int64, chunkCount int) *model.Track {
	return &model.Track{
		ID:          id,
		Title:       "t",
		ExternalRef: "ref00000000",
		Format:      "mp3",
		ChunkCount:  chunkCount,
		Active:      true,
	}
}

func TestGetChunk(t *testing.T) {
	catalog := &fakeCatalog{tracks: map[int64]*model.Track{1: presplitTrack(1, 2)}}
	store := newMemStore()
	storeTrack(store, 1, []byte("first"), []byte("second"))
	e := NewEngine(catalog, store, nil, nil, config.ChunkModePresplit, Options{})

	data, contentType, err := e.GetChunk(context.Background(), 1, 1)
	if err != nil {
		t.Fatalf("GetChunk: %v", err)
	}
	if !bytes.Equal(data, []byte("second")) {
		t.Errorf("chunk payload = %q, want %q", data, "second")
	}
	if contentType != "audio/mpeg" {
		t.Errorf("content type = %q, want audio/mpeg", contentType)
	}
}

func TestGetChunkNegativeIndex(t *testing.T) {
	catalog := &fakeCatalog{tracks: map[int64]*model.Track{1: presplitTrack(1, 2)}}
	store := newMemStore()
	storeTrack(store, 1, []byte("first"), []byte("second"))
	e := NewEngine(catalog, store, nil, nil, config.ChunkModePresplit, Options{})

	_, _, err := e.GetChunk(context.Background(), 1, -1)
	if !errors.Is(err, model.ErrInvalidChunk) {
		t.Fatalf("GetChunk(-1) = %v, want ErrInvalidChunk", err)
	}
	// A negative index is rejected before anything is touched.
	if catalog.lookups != 0 || store.reads != 0 {
		t.Errorf("negative index still hit catalog (%d) or store (%d)", catalog.lookups, store.reads)
	}
}

func TestGetChunkUnknownTrack(t *testing.T) {
	e := NewEngine(&fakeCatalog{tracks: map[int64]*model.Track{}}, newMemStore(), nil, nil, config.ChunkModePresplit, Options{})

	_, _, err := e.GetChunk(context.Background(), 42, 0)
	if !errors.Is(err, model.ErrTrackNotFound) {
		t.Errorf("GetChunk on unknown track = %v, want ErrTrackNotFound", err)
	}
}

func TestGetChunkPastEnd(t *testing.T) {
	catalog := &fakeCatalog{tracks: map[int64]*model.Track{1: presplitTrack(1, 2)}}
	store := newMemStore()
	storeTrack(store, 1, []byte("first"), []byte("second"))
	e := NewEngine(catalog, store, nil, nil, config.ChunkModePresplit, Options{})

	_, _, err := e.GetChunk(context.Background(), 1, 2)
	if !errors.Is(err, model.ErrEndOfTrack) {
		t.Errorf("GetChunk past end = %v, want ErrEndOfTrack", err)
	}
}

func TestGetChunkHole(t *testing.T) {
	// Registered with 3 chunks but the middle one never arrived: inside the
	// valid range the hole surfaces as ErrChunkNotFound, not end-of-track.
	catalog := &fakeCatalog{tracks: map[int64]*model.Track{1: presplitTrack(1, 3)}}
	store := newMemStore()
	storeTrack(store, 1, []byte("first"), nil, []byte("third"))
	e := NewEngine(catalog, store, nil, nil, config.ChunkModePresplit, Options{})

	_, _, err := e.GetChunk(context.Background(), 1, 1)
	if !errors.Is(err, model.ErrChunkNotFound) {
		t.Errorf("GetChunk on hole = %v, want ErrChunkNotFound", err)
	}
}

func TestGetChunkOffsetModeCount(t *testing.T) {
	// In offset layout the catalog count is advisory; the store derives the
	// real count from the stored size.
	track := presplitTrack(1, 99)
	catalog := &fakeCatalog{tracks: map[int64]*model.Track{1: track}}
	store := newMemStore()
	storeTrack(store, 1, []byte("only"))
	e := NewEngine(catalog, store, nil, nil, config.ChunkModeOffset, Options{})

	count, err := e.EffectiveChunkCount(context.Background(), track)
	if err != nil {
		t.Fatalf("EffectiveChunkCount: %v", err)
	}
	if count != 1 {
		t.Errorf("EffectiveChunkCount = %d, want 1", count)
	}

	_, _, err = e.GetChunk(context.Background(), 1, 1)
	if !errors.Is(err, model.ErrEndOfTrack) {
		t.Errorf("GetChunk past stored size = %v, want ErrEndOfTrack", err)
	}
}
