package storage

import (
	"context"
	"io"
)

// ChunkStore maps (track id, chunk index) onto stored bytes. Two layouts
// exist behind the same interface: pre-split (one object per chunk, fixed at
// upload time) and offset (one object per track, chunks are byte windows of
// size ChunkSize). A missing or zero-length chunk is reported as size 0
// rather than an error so callers can treat it as a soft fault.
type ChunkStore interface {
	// SaveChunk stores the payload for (trackID, index), replacing any
	// prior content. Pre-split layout only.
	SaveChunk(ctx context.Context, trackID int64, index int, r io.Reader) (int64, error)

	// SaveTrack stores a whole-file payload for the track. Offset layout only.
	SaveTrack(ctx context.Context, trackID int64, r io.Reader) (int64, error)

	// ReadChunk returns the payload for (trackID, index). The last chunk of
	// an offset-layout track may be shorter than ChunkSize.
	ReadChunk(ctx context.Context, trackID int64, index int) ([]byte, error)

	// ChunkSize returns the stored size of one chunk, or (0, nil) when the
	// chunk is missing or empty.
	ChunkSize(ctx context.Context, trackID int64, index int) (int64, error)

	// ChunkCount derives the number of addressable chunks from the stored
	// bytes: file size divided by the window size in offset layout, the
	// number of stored chunk objects in pre-split layout.
	ChunkCount(ctx context.Context, trackID int64) (int, error)

	// RemoveTrack deletes everything stored for the track.
	RemoveTrack(ctx context.Context, trackID int64) error
}
