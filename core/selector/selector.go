package selector

import (
	"context"
	"fmt"

	"ChunkFM/logger"
	"ChunkFM/model"
)

// Catalog is the slice of the track repository the selector needs.
type Catalog interface {
	GetActiveTracks(format string, excludeID int64) ([]*model.Track, error)
	GetTrackByID(id int64) (*model.Track, error)
}

// Availability answers whether a track's chunk data is fully present.
type Availability interface {
	IsComplete(ctx context.Context, t *model.Track) (bool, error)
}

// Selector picks the next track to play: a random active candidate whose
// chunk data is complete on storage. The previously played track is held
// back and only returned as a last resort, after every fresh candidate has
// been rejected.
type Selector struct {
	catalog Catalog
	avail   Availability
}

func New(catalog Catalog, avail Availability) *Selector {
	return &Selector{catalog: catalog, avail: avail}
}

// SelectNext returns the next playable track, excluding excludeID (the
// previous track) unless nothing else is available. format restricts the
// pool when non-empty. Returns model.ErrTrackNotFound when no complete
// candidate exists at all.
func (s *Selector) SelectNext(ctx context.Context, excludeID int64, format string) (*model.Track, error) {
	candidates, err := s.catalog.GetActiveTracks(format, excludeID)
	if err != nil {
		return nil, fmt.Errorf("failed to load selection pool: %w", err)
	}

	for _, t := range candidates {
		ok, err := s.avail.IsComplete(ctx, t)
		if err != nil {
			// Availability check failure is a soft fault on one candidate,
			// not a reason to abort the whole selection.
			logger.Warn("availability check failed",
				logger.Int64("trackId", t.ID),
				logger.ErrorField(err))
			continue
		}
		if ok {
			return t, nil
		}
	}

	// Fall back to the excluded track when it is the only complete one
	// left. An exclude id that no longer exists simply drops the fallback.
	if excludeID > 0 {
		prev, err := s.catalog.GetTrackByID(excludeID)
		if err != nil {
			return nil, fmt.Errorf("failed to load fallback track %d: %w", excludeID, err)
		}
		if prev != nil && prev.Active && (format == "" || prev.Format == format) {
			ok, err := s.avail.IsComplete(ctx, prev)
			if err == nil && ok {
				return prev, nil
			}
		}
	}

	return nil, model.ErrTrackNotFound
}
