package delivery

import (
	"context"
	"errors"
	"io"
	"time"

	"ChunkFM/logger"
	"ChunkFM/model"
)

// emitResult classifies how one track's emit loop ended.
type emitResult int

const (
	trackFinished emitResult = iota // clean EOF
	trackSkipped                    // liveness entry missing or changed
	clientGone                      // write to the listener failed
	readFault                       // transient storage fault
)

// Stream drives the endless push-stream for one listener. Each call is a
// fresh session: it picks a track, writes the listener's liveness entry and
// emits bytes in strict chunk order, re-reading the entry every
// PollEveryChunks emissions. A missing or changed entry stops the current
// track; skip latency is therefore bounded by the polling cadence, never
// instantaneous. Transient read faults pause the loop and reselect rather
// than surfacing to the client. The call returns only when the client is
// gone (write failure or context cancellation), releasing the liveness
// entry on the way out.
func (e *Engine) Stream(ctx context.Context, listenerID string, w io.Writer) error {
	defer func() {
		// Best-effort cleanup so an abandoned listener does not leave its
		// entry behind forever. A racing skip already removed it; fine.
		cleanupCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := e.nowPlaying.Delete(cleanupCtx, listenerID); err != nil {
			logger.Warn("failed to release liveness entry",
				logger.String("listener", listenerID),
				logger.ErrorField(err))
		}
	}()

	var prevID int64
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		track, err := e.picker.SelectNext(ctx, prevID, e.opts.StreamFormat)
		if err != nil {
			if errors.Is(err, model.ErrTrackNotFound) {
				// Empty or fully unavailable catalog: wait for tracks to
				// appear instead of dropping the connection.
				logger.Warn("no playable track, waiting",
					logger.String("listener", listenerID))
				if !e.sleep(ctx, e.opts.FaultPause) {
					return ctx.Err()
				}
				continue
			}
			return err
		}

		marker := model.MarkerForTrack(track)
		if err := e.nowPlaying.Set(ctx, listenerID, marker); err != nil {
			logger.Error("failed to set liveness entry",
				logger.String("listener", listenerID),
				logger.ErrorField(err))
		}

		logger.Info("streaming track",
			logger.String("listener", listenerID),
			logger.Int64("trackId", track.ID),
			logger.String("title", track.Title))

		result, err := e.emitTrack(ctx, listenerID, track, marker, w)
		switch result {
		case clientGone:
			logger.Info("listener disconnected",
				logger.String("listener", listenerID),
				logger.ErrorField(err))
			return nil

		case readFault:
			logger.Error("transient read fault, reselecting",
				logger.String("listener", listenerID),
				logger.Int64("trackId", track.ID),
				logger.ErrorField(err))
			if !e.sleep(ctx, e.opts.FaultPause) {
				return ctx.Err()
			}

		case trackFinished:
			if e.opts.HoldAfterTrack {
				if err := e.waitForChange(ctx, listenerID, marker); err != nil {
					return err
				}
			}
		}
		// trackSkipped needs nothing extra: the loop reselects immediately.

		prevID = track.ID
	}
}

// emitTrack writes one track chunk by chunk, polling the liveness entry on
// the configured cadence.
func (e *Engine) emitTrack(ctx context.Context, listenerID string, track *model.Track, marker model.NowPlayingMarker, w io.Writer) (emitResult, error) {
	count, err := e.EffectiveChunkCount(ctx, track)
	if err != nil {
		return readFault, err
	}

	for index := 0; index < count; index++ {
		if index > 0 && index%e.opts.PollEveryChunks == 0 {
			if e.entryChanged(ctx, listenerID, marker) {
				return trackSkipped, nil
			}
		}

		data, err := e.store.ReadChunk(ctx, track.ID, index)
		if err != nil {
			return readFault, err
		}
		if _, err := w.Write(data); err != nil {
			return clientGone, err
		}
	}
	return trackFinished, nil
}

// entryChanged reports whether the listener's liveness entry is gone or no
// longer describes the track this stream started.
func (e *Engine) entryChanged(ctx context.Context, listenerID string, marker model.NowPlayingMarker) bool {
	current, err := e.nowPlaying.Get(ctx, listenerID)
	if err != nil {
		if errors.Is(err, model.ErrNotPlaying) {
			return true
		}
		// Registry unreachable: keep playing; the next poll retries.
		logger.Warn("liveness poll failed",
			logger.String("listener", listenerID),
			logger.ErrorField(err))
		return false
	}
	return !current.Equal(marker)
}

// waitForChange implements the hold-until-skip policy: after a clean EOF,
// poll the liveness entry until it disappears or changes before moving on.
func (e *Engine) waitForChange(ctx context.Context, listenerID string, marker model.NowPlayingMarker) error {
	for {
		if !e.sleep(ctx, e.opts.LivenessPollInterval) {
			return ctx.Err()
		}
		if e.entryChanged(ctx, listenerID, marker) {
			return nil
		}
	}
}

// sleep waits for d unless the context ends first.
func (e *Engine) sleep(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}
