package net

import (
	"encoding/json"
	"log"
	nethttp "net/http"
	"time"

	"atrium/server"
	"atrium/server/internal/net/ws"
	"atrium/server/internal/presence"
)

type HTTPHandlerConfig struct {
	Logger *log.Logger
}

type joinRequest struct {
	Profile presence.Profile `json:"profile"`
	Context presence.Context `json:"context"`
}

type permissionsRequest struct {
	SessionID   string               `json:"session_id"`
	Permissions presence.Permissions `json:"permissions"`
}

// NewHTTPHandler builds the room's HTTP surface: join, websocket upgrade,
// health and diagnostics.
func NewHTTPHandler(room *server.Room, cfg HTTPHandlerConfig) nethttp.Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = log.Default()
	}

	wsHandler := ws.NewHandler(room, ws.HandlerConfig{Logger: logger})

	mux := nethttp.NewServeMux()

	mux.HandleFunc("/health", func(w nethttp.ResponseWriter, r *nethttp.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.Write([]byte("ok"))
	})

	mux.HandleFunc("/join", func(w nethttp.ResponseWriter, r *nethttp.Request) {
		if r.Method != nethttp.MethodPost {
			nethttp.Error(w, "method not allowed", nethttp.StatusMethodNotAllowed)
			return
		}
		var req joinRequest
		if r.Body != nil {
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil && err.Error() != "EOF" {
				nethttp.Error(w, "malformed join request", nethttp.StatusBadRequest)
				return
			}
		}
		resp := room.Join(req.Profile, req.Context)
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(resp); err != nil {
			logger.Printf("failed to encode join response: %v", err)
		}
	})

	mux.HandleFunc("/permissions", func(w nethttp.ResponseWriter, r *nethttp.Request) {
		if r.Method != nethttp.MethodPost {
			nethttp.Error(w, "method not allowed", nethttp.StatusMethodNotAllowed)
			return
		}
		var req permissionsRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			nethttp.Error(w, "malformed permissions request", nethttp.StatusBadRequest)
			return
		}
		if req.SessionID == "" {
			nethttp.Error(w, "missing session_id", nethttp.StatusBadRequest)
			return
		}
		if !room.UpdatePermissions(req.SessionID, req.Permissions) {
			nethttp.Error(w, "unknown session", nethttp.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))
	})

	mux.HandleFunc("/ws", wsHandler.Handle)

	mux.HandleFunc("/diagnostics", func(w nethttp.ResponseWriter, r *nethttp.Request) {
		payload := struct {
			Status     string `json:"status"`
			ServerTime int64  `json:"serverTime"`
			Room       any    `json:"room"`
		}{
			Status:     "ok",
			ServerTime: time.Now().UnixMilli(),
			Room:       room.Diagnostics(),
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(payload); err != nil {
			logger.Printf("failed to encode diagnostics: %v", err)
		}
	})

	return mux
}
