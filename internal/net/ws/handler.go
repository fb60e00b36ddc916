package ws

import (
	"log"
	nethttp "net/http"

	"github.com/gorilla/websocket"

	"atrium/server"
)

type HandlerConfig struct {
	Logger *log.Logger
}

// Handler upgrades websocket connections and pumps inbound frames into the
// room's intake queue.
type Handler struct {
	room     *server.Room
	logger   *log.Logger
	upgrader websocket.Upgrader
}

func NewHandler(room *server.Room, cfg HandlerConfig) *Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = log.Default()
	}

	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *nethttp.Request) bool {
			return true
		},
	}

	return &Handler{
		room:     room,
		logger:   logger,
		upgrader: upgrader,
	}
}

// Handle upgrades the request and serves the session until the connection
// drops. Sessions must join over HTTP first; an unknown session id is
// rejected with a policy-violation close.
func (h *Handler) Handle(w nethttp.ResponseWriter, r *nethttp.Request) {
	sessionID := r.URL.Query().Get("session_id")
	if sessionID == "" {
		nethttp.Error(w, "missing session_id", nethttp.StatusBadRequest)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Printf("upgrade failed for %s: %v", sessionID, err)
		return
	}

	h.Serve(sessionID, conn)
}

// Serve runs the read loop for an upgraded connection.
func (h *Handler) Serve(sessionID string, conn *websocket.Conn) {
	if h == nil || h.room == nil || conn == nil {
		return
	}

	if _, ok := h.room.Subscribe(sessionID, conn); !ok {
		message := websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "unknown session")
		conn.WriteMessage(websocket.CloseMessage, message)
		conn.Close()
		return
	}

	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			h.room.Disconnect(sessionID)
			return
		}
		if !h.room.Dispatch(sessionID, payload) {
			h.logger.Printf("intake full, dropping frame from %s", sessionID)
		}
	}
}
