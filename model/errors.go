package model

import "errors"

// Sentinel errors shared between the core engine and the HTTP layer. The
// HTTP layer maps them onto status codes; the engine packages return them
// wrapped with context.
var (
	// ErrTrackNotFound covers both an unknown track id and an empty
	// selection pool.
	ErrTrackNotFound = errors.New("track not found")

	// ErrEndOfTrack signals that the requested chunk index is exactly past
	// the last chunk. Distinct from ErrChunkNotFound so clients advance to
	// the next track instead of retrying.
	ErrEndOfTrack = errors.New("end of track")

	// ErrChunkNotFound means a chunk inside the valid range is missing or
	// empty on storage.
	ErrChunkNotFound = errors.New("chunk not found")

	// ErrInvalidChunk marks a malformed chunk index (negative, or outside
	// the registered range on upload).
	ErrInvalidChunk = errors.New("invalid chunk index")

	// ErrInvalidInput marks malformed registration input (bad external ref,
	// bad format, chunk count < 1).
	ErrInvalidInput = errors.New("invalid input")

	// ErrDuplicateRef means a track with the same external reference
	// already exists in the catalog.
	ErrDuplicateRef = errors.New("duplicate external ref")

	// ErrNotPlaying means the listener has no liveness entry.
	ErrNotPlaying = errors.New("nothing playing")
)
