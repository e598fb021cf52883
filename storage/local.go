package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"ChunkFM/config"
	"ChunkFM/model"
)

// LocalChunkStore keeps chunk data on the local filesystem under
// baseDir/<trackID>/. Writes go to a temporary file first and are renamed
// into place, so a concurrent reader never observes a partially written
// chunk as complete.
type LocalChunkStore struct {
	baseDir   string
	mode      string
	chunkSize int64
}

// NewLocalChunkStore creates the store rooted at baseDir.
func NewLocalChunkStore(baseDir, mode string, chunkSize int64) (*LocalChunkStore, error) {
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create chunk dir %s: %w", baseDir, err)
	}
	return &LocalChunkStore{baseDir: baseDir, mode: mode, chunkSize: chunkSize}, nil
}

// BaseDir returns the directory the store writes under, for the
// availability watcher.
func (s *LocalChunkStore) BaseDir() string {
	return s.baseDir
}

func (s *LocalChunkStore) trackDir(trackID int64) string {
	return filepath.Join(s.baseDir, fmt.Sprintf("%d", trackID))
}

func (s *LocalChunkStore) chunkPath(trackID int64, index int) string {
	return filepath.Join(s.trackDir(trackID), fmt.Sprintf("chunk_%d", index))
}

func (s *LocalChunkStore) trackPath(trackID int64) string {
	return filepath.Join(s.trackDir(trackID), "track.dat")
}

// writeAtomic streams r into dest via a temp file in the same directory.
func (s *LocalChunkStore) writeAtomic(dest string, r io.Reader) (int64, error) {
	dir := filepath.Dir(dest)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return 0, fmt.Errorf("failed to create track dir %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".upload-*")
	if err != nil {
		return 0, fmt.Errorf("failed to create temp file in %s: %w", dir, err)
	}
	tmpName := tmp.Name()

	n, err := io.Copy(tmp, r)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(tmpName)
		return 0, fmt.Errorf("failed to write %s: %w", dest, err)
	}

	if err := os.Rename(tmpName, dest); err != nil {
		os.Remove(tmpName)
		return 0, fmt.Errorf("failed to rename %s into place: %w", dest, err)
	}
	return n, nil
}

func (s *LocalChunkStore) SaveChunk(ctx context.Context, trackID int64, index int, r io.Reader) (int64, error) {
	if s.mode != config.ChunkModePresplit {
		return 0, fmt.Errorf("per-chunk upload requires presplit mode, store is in %s mode", s.mode)
	}
	return s.writeAtomic(s.chunkPath(trackID, index), r)
}

func (s *LocalChunkStore) SaveTrack(ctx context.Context, trackID int64, r io.Reader) (int64, error) {
	if s.mode != config.ChunkModeOffset {
		return 0, fmt.Errorf("whole-file upload requires offset mode, store is in %s mode", s.mode)
	}
	return s.writeAtomic(s.trackPath(trackID), r)
}

func (s *LocalChunkStore) ReadChunk(ctx context.Context, trackID int64, index int) ([]byte, error) {
	if s.mode == config.ChunkModeOffset {
		return s.readOffsetChunk(trackID, index)
	}

	data, err := os.ReadFile(s.chunkPath(trackID, index))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("track %d chunk %d: %w", trackID, index, model.ErrChunkNotFound)
		}
		return nil, fmt.Errorf("failed to read chunk %d of track %d: %w", index, trackID, err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("track %d chunk %d is empty: %w", trackID, index, model.ErrChunkNotFound)
	}
	return data, nil
}

func (s *LocalChunkStore) readOffsetChunk(trackID int64, index int) ([]byte, error) {
	f, err := os.Open(s.trackPath(trackID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("track %d file: %w", trackID, model.ErrChunkNotFound)
		}
		return nil, fmt.Errorf("failed to open track %d file: %w", trackID, err)
	}
	defer f.Close()

	buf := make([]byte, s.chunkSize)
	n, err := f.ReadAt(buf, int64(index)*s.chunkSize)
	if n == 0 {
		if err == io.EOF {
			return nil, fmt.Errorf("track %d chunk %d: %w", trackID, index, model.ErrChunkNotFound)
		}
		return nil, fmt.Errorf("failed to read chunk %d of track %d: %w", index, trackID, err)
	}
	// Short read at EOF is the (valid) last chunk.
	return buf[:n], nil
}

func (s *LocalChunkStore) ChunkSize(ctx context.Context, trackID int64, index int) (int64, error) {
	var path string
	if s.mode == config.ChunkModeOffset {
		path = s.trackPath(trackID)
	} else {
		path = s.chunkPath(trackID, index)
	}

	fi, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to stat %s: %w", path, err)
	}

	if s.mode == config.ChunkModeOffset {
		remaining := fi.Size() - int64(index)*s.chunkSize
		if remaining <= 0 {
			return 0, nil
		}
		if remaining > s.chunkSize {
			return s.chunkSize, nil
		}
		return remaining, nil
	}
	return fi.Size(), nil
}

func (s *LocalChunkStore) ChunkCount(ctx context.Context, trackID int64) (int, error) {
	if s.mode == config.ChunkModeOffset {
		fi, err := os.Stat(s.trackPath(trackID))
		if err != nil {
			if os.IsNotExist(err) {
				return 0, nil
			}
			return 0, fmt.Errorf("failed to stat track %d file: %w", trackID, err)
		}
		return int(fi.Size() / s.chunkSize), nil
	}

	entries, err := os.ReadDir(s.trackDir(trackID))
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to read track %d dir: %w", trackID, err)
	}
	count := 0
	for _, e := range entries {
		if !e.IsDir() && strings.HasPrefix(e.Name(), "chunk_") {
			count++
		}
	}
	return count, nil
}

func (s *LocalChunkStore) RemoveTrack(ctx context.Context, trackID int64) error {
	if err := os.RemoveAll(s.trackDir(trackID)); err != nil {
		return fmt.Errorf("failed to remove track %d data: %w", trackID, err)
	}
	return nil
}
