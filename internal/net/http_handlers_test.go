package net

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"atrium/server"
	"atrium/server/internal/schema"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()

	registry, err := schema.NewRegistry(schema.BuiltInTemplates)
	if err != nil {
		t.Fatalf("failed to build registry: %v", err)
	}
	room, err := server.NewRoom(registry, server.DefaultRoomConfig())
	if err != nil {
		t.Fatalf("failed to build room: %v", err)
	}

	stop := make(chan struct{})
	go room.Run(stop)
	t.Cleanup(func() { close(stop) })

	srv := httptest.NewServer(NewHTTPHandler(room, HTTPHandlerConfig{}))
	t.Cleanup(srv.Close)
	return srv
}

func TestHealthEndpoint(t *testing.T) {
	srv := newTestServer(t)

	resp, err := http.Get(srv.URL + "/health")
	if err != nil {
		t.Fatalf("health request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 from /health, got %d", resp.StatusCode)
	}
}

func TestJoinEndpoint(t *testing.T) {
	srv := newTestServer(t)

	body := bytes.NewBufferString(`{"profile":{"displayName":"Ada"}}`)
	resp, err := http.Post(srv.URL+"/join", "application/json", body)
	if err != nil {
		t.Fatalf("join request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 from /join, got %d", resp.StatusCode)
	}

	var payload struct {
		Ver         int             `json:"ver"`
		SessionID   string          `json:"session_id"`
		RoomID      string          `json:"room_id"`
		Permissions map[string]bool `json:"permissions"`
		Templates   []string        `json:"templates"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		t.Fatalf("failed to decode join response: %v", err)
	}
	if payload.SessionID == "" {
		t.Fatalf("expected a session id in the join response")
	}
	if payload.RoomID != "lobby" {
		t.Fatalf("expected default room id, got %q", payload.RoomID)
	}
	if len(payload.Templates) == 0 {
		t.Fatalf("expected template kinds in the join response")
	}
	if !payload.Permissions["spawn_and_move_media"] {
		t.Fatalf("expected default media grant, got %v", payload.Permissions)
	}
}

func TestJoinRejectsNonPost(t *testing.T) {
	srv := newTestServer(t)

	resp, err := http.Get(srv.URL + "/join")
	if err != nil {
		t.Fatalf("join request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405 for GET /join, got %d", resp.StatusCode)
	}
}

func TestPermissionsEndpoint(t *testing.T) {
	srv := newTestServer(t)

	resp, err := http.Post(srv.URL+"/join", "application/json", bytes.NewBufferString(`{}`))
	if err != nil {
		t.Fatalf("join request failed: %v", err)
	}
	var joined struct {
		SessionID string `json:"session_id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&joined); err != nil {
		resp.Body.Close()
		t.Fatalf("failed to decode join response: %v", err)
	}
	resp.Body.Close()

	body := bytes.NewBufferString(`{"session_id":"` + joined.SessionID + `","permissions":{"spawn_camera":true}}`)
	resp, err = http.Post(srv.URL+"/permissions", "application/json", body)
	if err != nil {
		t.Fatalf("permissions request failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 from /permissions, got %d", resp.StatusCode)
	}

	body = bytes.NewBufferString(`{"session_id":"never-joined","permissions":{}}`)
	resp, err = http.Post(srv.URL+"/permissions", "application/json", body)
	if err != nil {
		t.Fatalf("permissions request failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown session, got %d", resp.StatusCode)
	}
}

func TestDiagnosticsEndpoint(t *testing.T) {
	srv := newTestServer(t)

	resp, err := http.Get(srv.URL + "/diagnostics")
	if err != nil {
		t.Fatalf("diagnostics request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 from /diagnostics, got %d", resp.StatusCode)
	}

	var payload struct {
		Status string `json:"status"`
		Room   struct {
			RoomID    string `json:"room_id"`
			Occupants int    `json:"occupants"`
		} `json:"room"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		t.Fatalf("failed to decode diagnostics response: %v", err)
	}
	if payload.Status != "ok" {
		t.Fatalf("expected ok status, got %q", payload.Status)
	}
	if payload.Room.RoomID != "lobby" {
		t.Fatalf("expected lobby room id, got %q", payload.Room.RoomID)
	}
}
