package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"ChunkFM/logger"
	"ChunkFM/model"

	"github.com/go-redis/redis/v8"
)

const opTimeout = 5 * time.Second

// NowPlayingCache is the per-listener liveness registry: listener id →
// now-playing marker, backed by a shared Redis so every server instance
// observes the same state. Entries live exactly as long as Set/Delete
// dictate; an optional TTL additionally expires leaked entries from
// listeners that vanished mid-stream. Writes are
// last-writer-wins with no compare-and-swap: a skip racing a new track's
// Set can re-skip the fresh track, which clients tolerate.
type NowPlayingCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewNowPlayingCache creates the registry. ttl == 0 disables expiry.
func NewNowPlayingCache(client *redis.Client, ttl time.Duration) *NowPlayingCache {
	return &NowPlayingCache{client: client, ttl: ttl}
}

// nowPlayingKey 根据监听者ID生成Redis键
func nowPlayingKey(listenerID string) string {
	return fmt.Sprintf("nowplaying:%s", listenerID)
}

// Set writes (or overwrites) the listener's marker.
func (c *NowPlayingCache) Set(ctx context.Context, listenerID string, m model.NowPlayingMarker) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("failed to marshal now-playing marker: %w", err)
	}

	if err := c.client.Set(ctx, nowPlayingKey(listenerID), data, c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to set now-playing entry: %w", err)
	}

	logger.Debug("now playing set",
		logger.String("listener", listenerID),
		logger.Int64("trackId", m.TrackID))
	return nil
}

// Get returns the listener's marker, or model.ErrNotPlaying when absent.
func (c *NowPlayingCache) Get(ctx context.Context, listenerID string) (model.NowPlayingMarker, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var m model.NowPlayingMarker
	data, err := c.client.Get(ctx, nowPlayingKey(listenerID)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return m, model.ErrNotPlaying
		}
		return m, fmt.Errorf("failed to get now-playing entry: %w", err)
	}

	if err := json.Unmarshal(data, &m); err != nil {
		return m, fmt.Errorf("failed to unmarshal now-playing marker: %w", err)
	}
	return m, nil
}

// Delete removes the listener's marker. Deleting an absent entry is not an
// error; use Skip when absence must be reported.
func (c *NowPlayingCache) Delete(ctx context.Context, listenerID string) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if err := c.client.Del(ctx, nowPlayingKey(listenerID)).Err(); err != nil {
		return fmt.Errorf("failed to delete now-playing entry: %w", err)
	}
	return nil
}

// Skip deletes the listener's marker and reports model.ErrNotPlaying when
// there was none. This is the mutation behind POST /skip; the streaming
// loop notices the missing entry on its next poll.
func (c *NowPlayingCache) Skip(ctx context.Context, listenerID string) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	deleted, err := c.client.Del(ctx, nowPlayingKey(listenerID)).Result()
	if err != nil {
		return fmt.Errorf("failed to skip now-playing entry: %w", err)
	}
	if deleted == 0 {
		return model.ErrNotPlaying
	}

	logger.Debug("now playing skipped", logger.String("listener", listenerID))
	return nil
}
