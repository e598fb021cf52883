package server

import (
	"net/http"

	"ChunkFM/logger"

	"github.com/gorilla/websocket"
)

var wsUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// wsWriter adapts a websocket connection to the io.Writer the delivery
// engine streams into; every chunk becomes one binary message.
type wsWriter struct {
	conn *websocket.Conn
}

func (w *wsWriter) Write(p []byte) (int, error) {
	if err := w.conn.WriteMessage(websocket.BinaryMessage, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

// WebSocketStreamHandler serves the push-stream over a websocket for
// clients that feed chunks into an AudioWorklet instead of an <audio>
// element. Same selection, liveness and skip semantics as GET /play.
// GET /stream/ws
func (h *RadioHandler) WebSocketStreamHandler(w http.ResponseWriter, r *http.Request) {
	listenerID, ok := ListenerIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusBadRequest, "No listener session")
		return
	}

	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Error("websocket upgrade failed", logger.ErrorField(err))
		return
	}
	defer conn.Close()

	logger.Info("websocket stream started", logger.String("listener", listenerID))
	if err := h.engine.Stream(r.Context(), listenerID, &wsWriter{conn: conn}); err != nil && r.Context().Err() == nil {
		logger.Error("websocket stream ended with error",
			logger.String("listener", listenerID),
			logger.ErrorField(err))
	}
	logger.Info("websocket stream closed", logger.String("listener", listenerID))
}
