package server

import (
	"atrium/server/internal/presence"
)

type joinResponse struct {
	Ver         int                  `json:"ver"`
	SessionID   string               `json:"session_id"`
	RoomID      string               `json:"room_id"`
	Permissions presence.Permissions `json:"permissions"`
	Templates   []string             `json:"templates"`
	Occupants   int                  `json:"occupants"`
}

type presenceEntry struct {
	SessionID string           `json:"session_id"`
	Profile   presence.Profile `json:"profile"`
	Context   presence.Context `json:"context"`
}

// presenceMessage is broadcast to every subscriber whenever the roster
// changes. Event is "join", "leave" or "update"; Sessions is the full
// roster after the change.
type presenceMessage struct {
	Ver       int             `json:"ver"`
	Type      string          `json:"type"`
	Event     string          `json:"event"`
	SessionID string          `json:"session_id"`
	Sessions  []presenceEntry `json:"sessions"`
}

const typePresence = "presence"

type profileData struct {
	Profile presence.Profile `json:"profile"`
}

type diagnosticsMessage struct {
	Ver             int    `json:"ver"`
	RoomID          string `json:"room_id"`
	Occupants       int    `json:"occupants"`
	Entities        int    `json:"entities"`
	PendingEntities int    `json:"pending_entities"`
	StashedSyncs    int    `json:"stashed_syncs"`
	MessagesIn      uint64 `json:"messages_in"`
	MessagesOut     uint64 `json:"messages_out"`
	Dropped         uint64 `json:"dropped"`
}
