package server

import (
	"io"
	"net/http"

	"ChunkFM/logger"
	"ChunkFM/model"
)

// flushWriter pushes every chunk to the client immediately so playback can
// start without waiting for the response buffer to fill.
type flushWriter struct {
	w http.ResponseWriter
	f http.Flusher
}

func (fw *flushWriter) Write(p []byte) (int, error) {
	n, err := fw.w.Write(p)
	if err == nil && fw.f != nil {
		fw.f.Flush()
	}
	return n, err
}

// ContinuousPlayHandler serves the endless push-stream. The handler
// goroutine is occupied for the whole connection lifetime; a disconnected
// client is detected by the engine when its next write fails.
// GET /play (no query parameters)
func (h *RadioHandler) ContinuousPlayHandler(w http.ResponseWriter, r *http.Request) {
	listenerID, ok := ListenerIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusBadRequest, "No listener session")
		return
	}

	contentType := model.AcceptedFormats["mp3"]
	if ct, ok := model.AcceptedFormats[h.cfg.StreamFormat]; ok {
		contentType = ct
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Cache-Control", "no-cache, no-store")
	w.Header().Set("Connection", "keep-alive")

	var out io.Writer = w
	if f, ok := w.(http.Flusher); ok {
		out = &flushWriter{w: w, f: f}
	}

	logger.Info("continuous stream started", logger.String("listener", listenerID))
	if err := h.engine.Stream(r.Context(), listenerID, out); err != nil && r.Context().Err() == nil {
		logger.Error("continuous stream ended with error",
			logger.String("listener", listenerID),
			logger.ErrorField(err))
	}
	logger.Info("continuous stream closed", logger.String("listener", listenerID))
}
