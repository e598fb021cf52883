package upload

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"ChunkFM/logger"
	"ChunkFM/model"
	"ChunkFM/storage"
)

// Catalog is the slice of the track repository the coordinator needs.
type Catalog interface {
	CreateTrack(track *model.Track) (int64, error)
	GetTrackByID(id int64) (*model.Track, error)
	GetTrackByExternalRef(ref string) (*model.Track, error)
	DeleteTrack(id int64) error
}

// Invalidator drops cached availability verdicts after writes.
type Invalidator interface {
	Invalidate(trackID int64)
}

// Coordinator runs the two-phase resumable upload protocol: register the
// track first, then accept chunks one by one, in any order, with idempotent
// retries. The track is visible in the catalog from registration on —
// before any data exists. Completeness is never signalled by the client;
// the selector's availability gate infers it lazily at selection time.
type Coordinator struct {
	catalog       Catalog
	store         storage.ChunkStore
	avail         Invalidator
	maxChunkBytes int64
}

// NewCoordinator builds the coordinator. maxChunkBytes bounds a single
// chunk payload; 0 means unbounded.
func NewCoordinator(catalog Catalog, store storage.ChunkStore, avail Invalidator, maxChunkBytes int64) *Coordinator {
	return &Coordinator{
		catalog:       catalog,
		store:         store,
		avail:         avail,
		maxChunkBytes: maxChunkBytes,
	}
}

func validateRegistration(externalRef, title, format string) error {
	if len(externalRef) != model.ExternalRefLen {
		return fmt.Errorf("external ref must be %d characters, got %d: %w",
			model.ExternalRefLen, len(externalRef), model.ErrInvalidInput)
	}
	if title == "" {
		return fmt.Errorf("title must not be empty: %w", model.ErrInvalidInput)
	}
	if !model.ValidFormat(format) {
		return fmt.Errorf("unsupported format %q: %w", format, model.ErrInvalidInput)
	}
	return nil
}

// Register is phase one: create the catalog row for a pre-split track of
// chunkCount chunks, active immediately. Returns model.ErrDuplicateRef when
// the external reference is already taken.
func (c *Coordinator) Register(ctx context.Context, externalRef, title, format string, chunkCount int) (*model.Track, error) {
	if err := validateRegistration(externalRef, title, format); err != nil {
		return nil, err
	}
	if chunkCount < 1 {
		return nil, fmt.Errorf("chunk count must be >= 1, got %d: %w", chunkCount, model.ErrInvalidInput)
	}

	// Early duplicate check for a friendly error; the unique index on
	// external_ref still catches the race between two registrations.
	existing, err := c.catalog.GetTrackByExternalRef(externalRef)
	if err != nil {
		return nil, fmt.Errorf("failed to check external ref: %w", err)
	}
	if existing != nil {
		return nil, fmt.Errorf("external ref %s: %w", externalRef, model.ErrDuplicateRef)
	}

	track := &model.Track{
		Title:       title,
		ExternalRef: externalRef,
		Format:      format,
		ChunkCount:  chunkCount,
		Active:      true,
	}
	id, err := c.catalog.CreateTrack(track)
	if err != nil {
		return nil, err
	}
	track.ID = id

	logger.Info("track registered",
		logger.Int64("trackId", id),
		logger.String("externalRef", externalRef),
		logger.Int("chunks", chunkCount))
	return track, nil
}

// RegisterWhole registers a track and stores its payload as one file
// (offset layout). The chunk count is derived from the stored size by the
// delivery engine, not recorded here.
func (c *Coordinator) RegisterWhole(ctx context.Context, externalRef, title, format string, r io.Reader) (*model.Track, error) {
	if err := validateRegistration(externalRef, title, format); err != nil {
		return nil, err
	}
	if format == "" {
		return nil, fmt.Errorf("whole-file upload requires a format: %w", model.ErrInvalidInput)
	}

	existing, err := c.catalog.GetTrackByExternalRef(externalRef)
	if err != nil {
		return nil, fmt.Errorf("failed to check external ref: %w", err)
	}
	if existing != nil {
		return nil, fmt.Errorf("external ref %s: %w", externalRef, model.ErrDuplicateRef)
	}

	track := &model.Track{
		Title:       title,
		ExternalRef: externalRef,
		Format:      format,
		Active:      true,
	}
	id, err := c.catalog.CreateTrack(track)
	if err != nil {
		return nil, err
	}
	track.ID = id

	n, err := c.store.SaveTrack(ctx, id, r)
	if err != nil {
		// Roll the row back so a failed upload does not leave a permanently
		// unavailable track in the catalog.
		if delErr := c.catalog.DeleteTrack(id); delErr != nil {
			logger.Error("failed to roll back track after save failure",
				logger.Int64("trackId", id),
				logger.ErrorField(delErr))
		}
		return nil, fmt.Errorf("failed to save track file: %w", err)
	}
	if c.avail != nil {
		c.avail.Invalidate(id)
	}

	logger.Info("track file stored",
		logger.Int64("trackId", id),
		logger.Int64("bytes", n))
	return track, nil
}

// PutChunk is phase two: store one chunk. Re-uploading an index replaces
// the previous content, which is what makes client retries idempotent.
// Chunks may arrive out of order and gaps may heal later; nothing here
// validates completeness.
func (c *Coordinator) PutChunk(ctx context.Context, trackID int64, index int, r io.Reader) (int64, error) {
	track, err := c.catalog.GetTrackByID(trackID)
	if err != nil {
		return 0, fmt.Errorf("failed to resolve track %d: %w", trackID, err)
	}
	if track == nil {
		return 0, fmt.Errorf("track %d: %w", trackID, model.ErrTrackNotFound)
	}
	if index < 0 || index >= track.ChunkCount {
		return 0, fmt.Errorf("chunk %d outside [0, %d): %w", index, track.ChunkCount, model.ErrInvalidChunk)
	}

	// An over-limit payload is rejected outright, never truncated: a
	// truncated chunk would be acked as success and a correctly retrying
	// client would keep the corrupt bytes forever.
	if c.maxChunkBytes > 0 {
		data, err := io.ReadAll(io.LimitReader(r, c.maxChunkBytes+1))
		if err != nil {
			return 0, fmt.Errorf("failed to read chunk %d of track %d: %w", index, trackID, err)
		}
		if int64(len(data)) > c.maxChunkBytes {
			return 0, fmt.Errorf("chunk %d exceeds the %d byte limit: %w", index, c.maxChunkBytes, model.ErrInvalidInput)
		}
		r = bytes.NewReader(data)
	}
	n, err := c.store.SaveChunk(ctx, trackID, index, r)
	if err != nil {
		return 0, fmt.Errorf("failed to store chunk %d of track %d: %w", index, trackID, err)
	}
	if c.avail != nil {
		c.avail.Invalidate(trackID)
	}

	logger.Debug("chunk stored",
		logger.Int64("trackId", trackID),
		logger.Int("chunk", index),
		logger.Int64("bytes", n))
	return n, nil
}

// RemoveTrack deletes the catalog row and all stored chunk data.
func (c *Coordinator) RemoveTrack(ctx context.Context, trackID int64) error {
	if err := c.catalog.DeleteTrack(trackID); err != nil {
		return err
	}
	if err := c.store.RemoveTrack(ctx, trackID); err != nil {
		return fmt.Errorf("track %d removed from catalog but chunk cleanup failed: %w", trackID, err)
	}
	if c.avail != nil {
		c.avail.Invalidate(trackID)
	}

	logger.Info("track removed", logger.Int64("trackId", trackID))
	return nil
}
