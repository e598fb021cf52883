package delivery

import (
	"context"
	"fmt"
	"time"

	"ChunkFM/config"
	"ChunkFM/model"
	"ChunkFM/storage"
)

// Catalog is the slice of the track repository the engine needs.
type Catalog interface {
	GetTrackByID(id int64) (*model.Track, error)
}

// Picker chooses the next track for the continuous stream.
type Picker interface {
	SelectNext(ctx context.Context, excludeID int64, format string) (*model.Track, error)
}

// NowPlaying is the per-listener liveness registry the engine coordinates
// through. Implemented by cache.NowPlayingCache.
type NowPlaying interface {
	Set(ctx context.Context, listenerID string, m model.NowPlayingMarker) error
	Get(ctx context.Context, listenerID string) (model.NowPlayingMarker, error)
	Delete(ctx context.Context, listenerID string) error
	Skip(ctx context.Context, listenerID string) error
}

// Options tune the continuous stream loop. Zero values fall back to the
// observed constants of the protocol.
type Options struct {
	StreamFormat         string        // format pool for the continuous stream
	PollEveryChunks      int           // liveness re-check cadence inside the emit loop
	LivenessPollInterval time.Duration // post-EOF wait poll interval
	FaultPause           time.Duration // pause after a transient read fault
	HoldAfterTrack       bool          // wait for skip/change after EOF instead of auto-advancing
}

// Engine resolves chunk requests and drives continuous streams.
type Engine struct {
	catalog    Catalog
	store      storage.ChunkStore
	picker     Picker
	nowPlaying NowPlaying

	mode string
	opts Options
}

// NewEngine builds the delivery engine. mode is the chunk layout
// (config.ChunkModeOffset or config.ChunkModePresplit).
func NewEngine(catalog Catalog, store storage.ChunkStore, picker Picker, nowPlaying NowPlaying, mode string, opts Options) *Engine {
	if opts.PollEveryChunks <= 0 {
		opts.PollEveryChunks = 100
	}
	if opts.LivenessPollInterval <= 0 {
		opts.LivenessPollInterval = 500 * time.Millisecond
	}
	if opts.FaultPause <= 0 {
		opts.FaultPause = time.Second
	}
	return &Engine{
		catalog:    catalog,
		store:      store,
		picker:     picker,
		nowPlaying: nowPlaying,
		mode:       mode,
		opts:       opts,
	}
}

// EffectiveChunkCount returns the number of addressable chunks for a track:
// the catalog's registered count in pre-split layout, the stored file size
// divided by the chunk window in offset layout.
func (e *Engine) EffectiveChunkCount(ctx context.Context, t *model.Track) (int, error) {
	if e.mode == config.ChunkModeOffset {
		return e.store.ChunkCount(ctx, t.ID)
	}
	return t.ChunkCount, nil
}

// GetChunk resolves one (track, chunk index) request. Returns the payload
// and its content type. Error mapping: negative index → ErrInvalidChunk
// before any storage access; unknown track → ErrTrackNotFound; index at or
// past the chunk count → ErrEndOfTrack so clients advance instead of
// retrying; a hole inside the valid range → ErrChunkNotFound.
func (e *Engine) GetChunk(ctx context.Context, trackID int64, index int) ([]byte, string, error) {
	if index < 0 {
		return nil, "", fmt.Errorf("chunk %d: %w", index, model.ErrInvalidChunk)
	}

	track, err := e.catalog.GetTrackByID(trackID)
	if err != nil {
		return nil, "", fmt.Errorf("failed to resolve track %d: %w", trackID, err)
	}
	if track == nil {
		return nil, "", fmt.Errorf("track %d: %w", trackID, model.ErrTrackNotFound)
	}

	count, err := e.EffectiveChunkCount(ctx, track)
	if err != nil {
		return nil, "", fmt.Errorf("failed to derive chunk count for track %d: %w", trackID, err)
	}
	if index >= count {
		return nil, "", fmt.Errorf("chunk %d of %d: %w", index, count, model.ErrEndOfTrack)
	}

	data, err := e.store.ReadChunk(ctx, trackID, index)
	if err != nil {
		return nil, "", err
	}
	return data, track.ContentType(), nil
}
