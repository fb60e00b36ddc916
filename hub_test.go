package server

import (
	"encoding/json"
	"sync"
	"testing"

	"atrium/server/internal/net/proto"
	"atrium/server/internal/presence"
	"atrium/server/internal/schema"
)

type fakeConn struct {
	mu     sync.Mutex
	frames [][]byte
	closed bool
}

func (c *fakeConn) WriteMessage(messageType int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frames = append(c.frames, append([]byte(nil), data...))
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeConn) take() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	frames := c.frames
	c.frames = nil
	return frames
}

func newTestRoom(t *testing.T, scene ...SceneEntity) *Room {
	t.Helper()
	registry, err := schema.NewRegistry(schema.BuiltInTemplates)
	if err != nil {
		t.Fatalf("failed to build registry: %v", err)
	}
	cfg := DefaultRoomConfig()
	cfg.Scene = scene
	room, err := NewRoom(registry, cfg)
	if err != nil {
		t.Fatalf("failed to build room: %v", err)
	}
	return room
}

func drainIntake(r *Room) {
	for {
		select {
		case frame := <-r.intake:
			r.process(frame)
		default:
			return
		}
	}
}

func encodeFrame(t *testing.T, msg proto.Message) []byte {
	t.Helper()
	data, err := proto.Encode(msg)
	if err != nil {
		t.Fatalf("failed to encode frame: %v", err)
	}
	return data
}

func firstSyncUpdate(networkID, template string) proto.EntityUpdate {
	return proto.EntityUpdate{
		NetworkID:   networkID,
		Template:    template,
		IsFirstSync: true,
		Components:  map[int]json.RawMessage{0: json.RawMessage(`[0,0,0]`)},
	}
}

func TestJoinInstallsPresenceAndReturnsGrants(t *testing.T) {
	room := newTestRoom(t)
	resp := room.Join(presence.Profile{DisplayName: "Ada"}, presence.Context{})

	if resp.SessionID == "" {
		t.Fatalf("expected a session id")
	}
	if !resp.Permissions[presence.CapSpawnAndMoveMedia] {
		t.Fatalf("expected default media grant, got %v", resp.Permissions)
	}
	if len(resp.Templates) == 0 {
		t.Fatalf("expected template kinds in join response")
	}

	if _, ok := room.states.State(resp.SessionID); !ok {
		t.Fatalf("expected presence entry after join")
	}
}

func TestProcessRelaysToOtherSubscribersOnly(t *testing.T) {
	room := newTestRoom(t)
	alice := room.Join(presence.Profile{DisplayName: "Ada"}, presence.Context{})
	bob := room.Join(presence.Profile{DisplayName: "Bo"}, presence.Context{})

	aliceConn := &fakeConn{}
	bobConn := &fakeConn{}
	if _, ok := room.Subscribe(alice.SessionID, aliceConn); !ok {
		t.Fatalf("alice failed to subscribe")
	}
	if _, ok := room.Subscribe(bob.SessionID, bobConn); !ok {
		t.Fatalf("bob failed to subscribe")
	}
	drainIntake(room)
	aliceConn.take()
	bobConn.take()

	payload := encodeFrame(t, proto.Update{
		FromSession: alice.SessionID,
		Entity:      firstSyncUpdate("av-1", schema.KindRemoteAvatar),
	})
	room.process(intakeFrame{sessionID: alice.SessionID, payload: payload})

	if frames := aliceConn.take(); len(frames) != 0 {
		t.Fatalf("expected sender to receive nothing, got %d frames", len(frames))
	}
	frames := bobConn.take()
	if len(frames) != 1 {
		t.Fatalf("expected one relayed frame for bob, got %d", len(frames))
	}
	var env proto.Envelope
	if err := json.Unmarshal(frames[0], &env); err != nil {
		t.Fatalf("failed to decode relayed frame: %v", err)
	}
	if env.DataType != proto.DataTypeUpdate {
		t.Fatalf("expected relayed %q frame, got %q", proto.DataTypeUpdate, env.DataType)
	}

	entity, ok := room.store.Entity("av-1")
	if !ok {
		t.Fatalf("expected first sync to materialize the entity")
	}
	if entity.Creator != alice.SessionID {
		t.Fatalf("expected creator to default to the sender, got %q", entity.Creator)
	}
}

func TestProcessOverridesSpoofedSender(t *testing.T) {
	room := newTestRoom(t)
	alice := room.Join(presence.Profile{}, presence.Context{})
	bob := room.Join(presence.Profile{}, presence.Context{})

	bobConn := &fakeConn{}
	if _, ok := room.Subscribe(bob.SessionID, bobConn); !ok {
		t.Fatalf("bob failed to subscribe")
	}
	drainIntake(room)
	bobConn.take()

	// The payload claims to be from bob; the authenticated reader is alice.
	spoofed := encodeFrame(t, proto.Update{
		FromSession: bob.SessionID,
		Entity:      firstSyncUpdate("av-2", schema.KindRemoteAvatar),
	})
	room.process(intakeFrame{sessionID: alice.SessionID, payload: spoofed})

	frames := bobConn.take()
	if len(frames) != 1 {
		t.Fatalf("expected one relayed frame, got %d", len(frames))
	}
	var env proto.Envelope
	if err := json.Unmarshal(frames[0], &env); err != nil {
		t.Fatalf("failed to decode relayed frame: %v", err)
	}
	if env.FromSessionID != alice.SessionID {
		t.Fatalf("expected relayed sender %q, got %q", alice.SessionID, env.FromSessionID)
	}
	entity, ok := room.store.Entity("av-2")
	if !ok {
		t.Fatalf("expected entity to materialize")
	}
	if entity.Creator != alice.SessionID {
		t.Fatalf("expected creator pinned to authenticated sender, got %q", entity.Creator)
	}
}

func TestSceneActivationReplaysStashedPersistentState(t *testing.T) {
	room := newTestRoom(t, SceneEntity{NetworkID: "pin-1", Template: schema.KindInteractableMedia})
	alice := room.Join(presence.Profile{}, presence.Context{})

	// Persistent state for the scene entity arrives before anything has
	// materialized it.
	early := encodeFrame(t, proto.Update{
		FromSession: alice.SessionID,
		Entity: proto.EntityUpdate{
			NetworkID:  "pin-1",
			Persistent: true,
			Components: map[int]json.RawMessage{0: json.RawMessage(`[1,2,3]`)},
		},
	})
	room.process(intakeFrame{sessionID: alice.SessionID, payload: early})

	if room.gate.StashLen() != 1 {
		t.Fatalf("expected the early update to be stashed, stash len %d", room.gate.StashLen())
	}
	if _, live := room.store.Entity("pin-1"); live {
		t.Fatalf("expected scene entity to stay pending until activation")
	}

	bob := room.Join(presence.Profile{}, presence.Context{})
	bobConn := &fakeConn{}
	if _, ok := room.Subscribe(bob.SessionID, bobConn); !ok {
		t.Fatalf("bob failed to subscribe")
	}
	bobConn.take()
	drainIntake(room)

	if _, live := room.store.Entity("pin-1"); !live {
		t.Fatalf("expected scene activation to materialize pin-1")
	}
	if room.gate.StashLen() != 0 {
		t.Fatalf("expected stash to be drained, len %d", room.gate.StashLen())
	}

	var sawReplay bool
	for _, frame := range bobConn.take() {
		var env proto.Envelope
		if err := json.Unmarshal(frame, &env); err != nil {
			t.Fatalf("failed to decode frame: %v", err)
		}
		if env.DataType != proto.DataTypeUpdate {
			continue
		}
		var entity proto.EntityUpdate
		if err := json.Unmarshal(env.Data, &entity); err != nil {
			t.Fatalf("failed to decode replayed entity: %v", err)
		}
		if entity.NetworkID == "pin-1" {
			sawReplay = true
		}
	}
	if !sawReplay {
		t.Fatalf("expected bob to receive the replayed persistent state")
	}
}

func TestDisconnectRemovesAvatarsAndBroadcastsLeave(t *testing.T) {
	room := newTestRoom(t)
	alice := room.Join(presence.Profile{DisplayName: "Ada"}, presence.Context{})
	bob := room.Join(presence.Profile{DisplayName: "Bo"}, presence.Context{})

	aliceConn := &fakeConn{}
	bobConn := &fakeConn{}
	room.Subscribe(alice.SessionID, aliceConn)
	room.Subscribe(bob.SessionID, bobConn)
	drainIntake(room)

	avatar := encodeFrame(t, proto.Update{
		FromSession: alice.SessionID,
		Entity:      firstSyncUpdate("av-9", schema.KindRemoteAvatar),
	})
	media := encodeFrame(t, proto.Update{
		FromSession: alice.SessionID,
		Entity:      firstSyncUpdate("m-9", schema.KindInteractableMedia),
	})
	room.process(intakeFrame{sessionID: alice.SessionID, payload: avatar})
	room.process(intakeFrame{sessionID: alice.SessionID, payload: media})
	bobConn.take()

	room.Disconnect(alice.SessionID)
	drainIntake(room)

	if !aliceConn.closed {
		t.Fatalf("expected alice's connection to be closed")
	}
	if _, ok := room.states.State(alice.SessionID); ok {
		t.Fatalf("expected alice's presence entry to be gone")
	}
	if _, ok := room.store.Entity("av-9"); ok {
		t.Fatalf("expected alice's avatar to be removed")
	}
	if _, ok := room.store.Entity("m-9"); !ok {
		t.Fatalf("expected alice's media entity to survive her departure")
	}

	var sawRemove, sawLeave bool
	for _, frame := range bobConn.take() {
		var env struct {
			DataType string          `json:"dataType"`
			Type     string          `json:"type"`
			Event    string          `json:"event"`
			Data     json.RawMessage `json:"data"`
		}
		if err := json.Unmarshal(frame, &env); err != nil {
			t.Fatalf("failed to decode frame: %v", err)
		}
		switch {
		case env.DataType == proto.DataTypeRemove:
			sawRemove = true
		case env.Type == typePresence && env.Event == "leave":
			sawLeave = true
		}
	}
	if !sawRemove {
		t.Fatalf("expected bob to see the avatar removal")
	}
	if !sawLeave {
		t.Fatalf("expected bob to see the leave presence update")
	}
}

func TestProfileUpdateRebroadcastsRoster(t *testing.T) {
	room := newTestRoom(t)
	alice := room.Join(presence.Profile{DisplayName: "Ada"}, presence.Context{})
	bob := room.Join(presence.Profile{DisplayName: "Bo"}, presence.Context{})

	bobConn := &fakeConn{}
	room.Subscribe(bob.SessionID, bobConn)
	drainIntake(room)
	bobConn.take()

	profileFrame, err := json.Marshal(proto.Envelope{
		DataType: typePresence,
		Data:     json.RawMessage(`{"profile":{"displayName":"Countess"}}`),
	})
	if err != nil {
		t.Fatalf("failed to build profile frame: %v", err)
	}
	room.process(intakeFrame{sessionID: alice.SessionID, payload: profileFrame})

	meta, ok := room.states.State(alice.SessionID)
	if !ok {
		t.Fatalf("expected alice's presence entry")
	}
	if meta.Profile.DisplayName != "Countess" {
		t.Fatalf("expected profile update applied, got %q", meta.Profile.DisplayName)
	}

	var sawUpdate bool
	for _, frame := range bobConn.take() {
		var msg presenceMessage
		if err := json.Unmarshal(frame, &msg); err != nil {
			continue
		}
		if msg.Type == typePresence && msg.Event == "update" && msg.SessionID == alice.SessionID {
			sawUpdate = true
		}
	}
	if !sawUpdate {
		t.Fatalf("expected bob to receive the roster update")
	}
}

func TestUpdatePermissionsChangesGateDecisions(t *testing.T) {
	room := newTestRoom(t)
	stop := make(chan struct{})
	go room.Run(stop)
	defer close(stop)

	bob := room.Join(presence.Profile{}, presence.Context{})

	if room.UpdatePermissions("never-joined", presence.Permissions{}) {
		t.Fatalf("expected permission update for unknown session to be refused")
	}
	if !room.UpdatePermissions(bob.SessionID, presence.Permissions{presence.CapSpawnCamera: true}) {
		t.Fatalf("expected permission update for joined session to succeed")
	}

	meta, ok := room.states.State(bob.SessionID)
	if !ok {
		t.Fatalf("expected bob's presence entry")
	}
	if !meta.Permissions[presence.CapSpawnCamera] {
		t.Fatalf("expected camera grant after refresh, got %v", meta.Permissions)
	}
	if meta.Permissions[presence.CapSpawnAndMoveMedia] {
		t.Fatalf("expected refresh to replace the set wholesale, got %v", meta.Permissions)
	}
}

func TestUnauthorizedRemoveIsNotRelayed(t *testing.T) {
	room := newTestRoom(t)
	alice := room.Join(presence.Profile{}, presence.Context{})
	mallory := room.Join(presence.Profile{}, presence.Context{})

	aliceConn := &fakeConn{}
	room.Subscribe(alice.SessionID, aliceConn)
	drainIntake(room)

	avatar := encodeFrame(t, proto.Update{
		FromSession: alice.SessionID,
		Entity:      firstSyncUpdate("av-5", schema.KindRemoteAvatar),
	})
	room.process(intakeFrame{sessionID: alice.SessionID, payload: avatar})
	aliceConn.take()

	removeFrame := encodeFrame(t, proto.Remove{FromSession: mallory.SessionID, NetworkID: "av-5"})
	room.process(intakeFrame{sessionID: mallory.SessionID, payload: removeFrame})

	if _, ok := room.store.Entity("av-5"); !ok {
		t.Fatalf("expected avatar to survive unauthorized removal")
	}
	if frames := aliceConn.take(); len(frames) != 0 {
		t.Fatalf("expected no relay of the denied removal, got %d frames", len(frames))
	}
}

func TestDiagnosticsCounters(t *testing.T) {
	room := newTestRoom(t, SceneEntity{NetworkID: "pin-1", Template: schema.KindInteractableMedia})
	alice := room.Join(presence.Profile{}, presence.Context{})

	payload := encodeFrame(t, proto.Update{
		FromSession: alice.SessionID,
		Entity:      firstSyncUpdate("av-1", schema.KindRemoteAvatar),
	})
	room.process(intakeFrame{sessionID: alice.SessionID, payload: payload})

	diag := room.diagnosticsLocked()
	if diag.Occupants != 1 {
		t.Fatalf("expected 1 occupant, got %d", diag.Occupants)
	}
	if diag.Entities != 1 {
		t.Fatalf("expected 1 live entity, got %d", diag.Entities)
	}
	if diag.PendingEntities != 1 {
		t.Fatalf("expected 1 pending scene entity, got %d", diag.PendingEntities)
	}
	if diag.MessagesIn != 1 {
		t.Fatalf("expected 1 inbound message, got %d", diag.MessagesIn)
	}
}
