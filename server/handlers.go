package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"ChunkFM/config"
	"ChunkFM/core/delivery"
	"ChunkFM/core/upload"
	"ChunkFM/logger"
	"ChunkFM/model"
	"ChunkFM/repository"
)

// RadioHandler carries the request handlers for the radio API.
type RadioHandler struct {
	trackRepo  repository.TrackRepository
	picker     delivery.Picker
	engine     *delivery.Engine
	uploader   *upload.Coordinator
	nowPlaying delivery.NowPlaying
	cfg        *config.Config
}

// NewRadioHandler creates a RadioHandler instance.
func NewRadioHandler(
	trackRepo repository.TrackRepository,
	picker delivery.Picker,
	engine *delivery.Engine,
	uploader *upload.Coordinator,
	nowPlaying delivery.NowPlaying,
	cfg *config.Config,
) *RadioHandler {
	return &RadioHandler{
		trackRepo:  trackRepo,
		picker:     picker,
		engine:     engine,
		uploader:   uploader,
		nowPlaying: nowPlaying,
		cfg:        cfg,
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// checkSecret gates admin mutations on an exact shared-secret match.
func (h *RadioHandler) checkSecret(w http.ResponseWriter, r *http.Request) bool {
	if h.cfg.AdminSecret == "" || r.FormValue("secret") != h.cfg.AdminSecret {
		writeError(w, http.StatusUnauthorized, "Invalid secret")
		return false
	}
	return true
}

// IndexHandler answers the root probe; SessionMiddleware has already
// ensured the listener cookie exists by the time this runs.
func (h *RadioHandler) IndexHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"service": "ChunkFM", "status": "ok"})
}

// GetNextHandler picks the next playable track.
// GET /get?prev_song=<id>&format=<fmt>
func (h *RadioHandler) GetNextHandler(w http.ResponseWriter, r *http.Request) {
	var prevID int64
	if prev := r.URL.Query().Get("prev_song"); prev != "" {
		id, err := strconv.ParseInt(prev, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("Invalid prev_song: %s", prev))
			return
		}
		prevID = id
	}

	track, err := h.picker.SelectNext(r.Context(), prevID, r.URL.Query().Get("format"))
	if err != nil {
		if errors.Is(err, model.ErrTrackNotFound) {
			writeError(w, http.StatusNotFound, "No songs found")
			return
		}
		logger.Error("track selection failed", logger.ErrorField(err))
		writeError(w, http.StatusInternalServerError, "Selection failed")
		return
	}

	maxChunks, err := h.engine.EffectiveChunkCount(r.Context(), track)
	if err != nil {
		logger.Error("failed to derive chunk count",
			logger.Int64("trackId", track.ID),
			logger.ErrorField(err))
		writeError(w, http.StatusInternalServerError, "Selection failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"current_track": track.ID,
		"max_chunks":    maxChunks,
	})
}

// PlayHandler serves both delivery shapes on one route: with
// current_track/current_chunk query parameters it returns a single chunk,
// without them it switches to the endless push-stream.
// GET /play?current_track=<id>&current_chunk=<n>
// GET /play
func (h *RadioHandler) PlayHandler(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("current_track") == "" {
		h.ContinuousPlayHandler(w, r)
		return
	}
	h.playChunk(w, r)
}

func (h *RadioHandler) playChunk(w http.ResponseWriter, r *http.Request) {
	trackID, err := strconv.ParseInt(r.URL.Query().Get("current_track"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("Invalid track: %s", r.URL.Query().Get("current_track")))
		return
	}
	chunkStr := r.URL.Query().Get("current_chunk")
	chunk, err := strconv.Atoi(chunkStr)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("Invalid chunk: %s", chunkStr))
		return
	}

	data, contentType, err := h.engine.GetChunk(r.Context(), trackID, chunk)
	if err != nil {
		switch {
		case errors.Is(err, model.ErrInvalidChunk):
			writeError(w, http.StatusBadRequest, fmt.Sprintf("Invalid chunk: %d", chunk))
		case errors.Is(err, model.ErrTrackNotFound):
			writeError(w, http.StatusNotFound, fmt.Sprintf("Song not found: %d", trackID))
		case errors.Is(err, model.ErrEndOfTrack):
			writeError(w, http.StatusNotFound, "End of song")
		case errors.Is(err, model.ErrChunkNotFound):
			writeError(w, http.StatusNotFound, "Song file not found")
		default:
			logger.Error("chunk read failed",
				logger.Int64("trackId", trackID),
				logger.Int("chunk", chunk),
				logger.ErrorField(err))
			writeError(w, http.StatusInternalServerError, "Read failed")
		}
		return
	}

	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.Write(data)
}

// MetadataHandler describes the listener's current liveness entry.
// GET /metadata
func (h *RadioHandler) MetadataHandler(w http.ResponseWriter, r *http.Request) {
	listenerID, ok := ListenerIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusNotFound, "Nothing playing")
		return
	}

	marker, err := h.nowPlaying.Get(r.Context(), listenerID)
	if err != nil {
		if errors.Is(err, model.ErrNotPlaying) {
			writeError(w, http.StatusNotFound, "Nothing playing")
			return
		}
		logger.Error("metadata lookup failed", logger.ErrorField(err))
		writeError(w, http.StatusInternalServerError, "Lookup failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"title": marker.Title,
		"url":   marker.URL(),
	})
}

// SkipHandler deletes the listener's liveness entry; the in-flight stream
// notices on its next poll.
// POST /skip
func (h *RadioHandler) SkipHandler(w http.ResponseWriter, r *http.Request) {
	listenerID, ok := ListenerIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusNotFound, "Nothing playing")
		return
	}

	if err := h.nowPlaying.Skip(r.Context(), listenerID); err != nil {
		if errors.Is(err, model.ErrNotPlaying) {
			writeError(w, http.StatusNotFound, "Nothing playing")
			return
		}
		logger.Error("skip failed", logger.ErrorField(err))
		writeError(w, http.StatusInternalServerError, "Skip failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "skipped"})
}

// UploadHandler runs both phases of the resumable upload protocol on one
// route, the way the original admin client speaks it: a request with
// current_track and current_chunk fields is a phase-2 chunk upload, any
// other request is a phase-1 registration.
// POST /upload (multipart/form-data, admin-gated)
func (h *RadioHandler) UploadHandler(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(32 << 20); err != nil { // 32MB max memory
		writeError(w, http.StatusBadRequest, fmt.Sprintf("Failed to parse multipart form: %v", err))
		return
	}
	if !h.checkSecret(w, r) {
		return
	}

	if r.FormValue("current_track") != "" {
		h.uploadChunk(w, r)
		return
	}
	h.registerTrack(w, r)
}

func (h *RadioHandler) registerTrack(w http.ResponseWriter, r *http.Request) {
	urlID := r.FormValue("url_id")
	title := r.FormValue("title")
	format := r.FormValue("format")

	// Whole-file upload for the offset layout.
	if h.cfg.ChunkMode == config.ChunkModeOffset {
		file, _, err := r.FormFile("audio")
		if err != nil {
			writeError(w, http.StatusBadRequest, "Missing 'audio' in form")
			return
		}
		defer file.Close()

		track, err := h.uploader.RegisterWhole(r.Context(), urlID, title, format, file)
		if err != nil {
			h.writeUploadError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]interface{}{"trackId": track.ID, "track": track})
		return
	}

	chunks, err := strconv.Atoi(r.FormValue("chunks"))
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("Invalid chunks: %s", r.FormValue("chunks")))
		return
	}

	track, err := h.uploader.Register(r.Context(), urlID, title, format, chunks)
	if err != nil {
		h.writeUploadError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]interface{}{"trackId": track.ID, "track": track})
}

func (h *RadioHandler) uploadChunk(w http.ResponseWriter, r *http.Request) {
	trackID, err := strconv.ParseInt(r.FormValue("current_track"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("Invalid track: %s", r.FormValue("current_track")))
		return
	}
	chunk, err := strconv.Atoi(r.FormValue("current_chunk"))
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("Invalid chunk: %s", r.FormValue("current_chunk")))
		return
	}

	file, _, err := r.FormFile("chunk")
	if err != nil {
		writeError(w, http.StatusBadRequest, "Missing 'chunk' in form")
		return
	}
	defer file.Close()

	n, err := h.uploader.PutChunk(r.Context(), trackID, chunk, file)
	if err != nil {
		h.writeUploadError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"status": "ok", "bytes": n})
}

func (h *RadioHandler) writeUploadError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, model.ErrDuplicateRef):
		writeError(w, http.StatusConflict, "A track with this url_id already exists")
	case errors.Is(err, model.ErrInvalidInput), errors.Is(err, model.ErrInvalidChunk):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, model.ErrTrackNotFound):
		writeError(w, http.StatusNotFound, "Track not found")
	default:
		logger.Error("upload failed", logger.ErrorField(err))
		writeError(w, http.StatusInternalServerError, "Upload failed")
	}
}

// RemoveHandler deletes a track and all of its chunk data.
// DELETE /remove (form: track, secret)
func (h *RadioHandler) RemoveHandler(w http.ResponseWriter, r *http.Request) {
	if !h.checkSecret(w, r) {
		return
	}

	trackID, err := strconv.ParseInt(r.FormValue("track"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("Invalid track: %s", r.FormValue("track")))
		return
	}

	if err := h.uploader.RemoveTrack(r.Context(), trackID); err != nil {
		if errors.Is(err, model.ErrTrackNotFound) {
			writeError(w, http.StatusNotFound, fmt.Sprintf("Song not found: %d", trackID))
			return
		}
		logger.Error("remove failed", logger.Int64("trackId", trackID), logger.ErrorField(err))
		writeError(w, http.StatusInternalServerError, "Remove failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "removed"})
}

// ToggleHandler flips a track's active flag.
// POST /toggle (form: track, secret)
func (h *RadioHandler) ToggleHandler(w http.ResponseWriter, r *http.Request) {
	if !h.checkSecret(w, r) {
		return
	}

	trackID, err := strconv.ParseInt(r.FormValue("track"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("Invalid track: %s", r.FormValue("track")))
		return
	}

	track, err := h.trackRepo.GetTrackByID(trackID)
	if err != nil {
		logger.Error("toggle lookup failed", logger.Int64("trackId", trackID), logger.ErrorField(err))
		writeError(w, http.StatusInternalServerError, "Toggle failed")
		return
	}
	if track == nil {
		writeError(w, http.StatusNotFound, fmt.Sprintf("Song not found: %d", trackID))
		return
	}

	if err := h.trackRepo.SetTrackActive(trackID, !track.Active); err != nil {
		logger.Error("toggle failed", logger.Int64("trackId", trackID), logger.ErrorField(err))
		writeError(w, http.StatusInternalServerError, "Toggle failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"id": trackID, "active": !track.Active})
}
