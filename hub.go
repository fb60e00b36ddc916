// Package server hosts a single room of the Atrium world: the presence
// directory, the entity-sync bookkeeping, the authorization gate and the
// subscriber fan-out. One goroutine (Run) consumes the intake queue, so
// every inbound message is fully gated and applied before the next one is
// read, in delivery order.
package server

import (
	"encoding/json"
	"log"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"atrium/server/internal/entities"
	"atrium/server/internal/gate"
	"atrium/server/internal/net/proto"
	"atrium/server/internal/presence"
	"atrium/server/internal/schema"
	"atrium/server/logging"
)

// SceneCreator is the creator identity recorded for scene-owned persistent
// entities. It is never a live session, so only capability grants (not
// creator identity) authorize manipulating them.
const SceneCreator = "scene"

// SceneEntity declares one persistent entity the room's scene ships with.
type SceneEntity struct {
	NetworkID string `json:"networkId" yaml:"networkId"`
	Template  string `json:"template" yaml:"template"`
}

type RoomConfig struct {
	ID                 string
	DefaultPermissions presence.Permissions
	Scene              []SceneEntity
	IntakeQueueSize    int
	Logger             *log.Logger
	Publisher          logging.Publisher
}

func DefaultRoomConfig() RoomConfig {
	return RoomConfig{
		ID: "lobby",
		DefaultPermissions: presence.Permissions{
			presence.CapSpawnAndMoveMedia: true,
			presence.CapSpawnDrawing:      true,
		},
		IntakeQueueSize: 256,
	}
}

// Conn is the subset of a websocket connection the room writes to.
type Conn interface {
	WriteMessage(messageType int, data []byte) error
	Close() error
}

type subscriber struct {
	conn Conn
	mu   sync.Mutex
}

func (s *subscriber) write(data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteMessage(websocket.TextMessage, data)
}

type intakeFrame struct {
	sessionID string
	payload   []byte
	task      func()
}

// Room owns all live sessions, the entity table and the message gate.
type Room struct {
	cfg     RoomConfig
	logger  *log.Logger
	pub     logging.Publisher
	states  *presence.Directory
	store   *entities.Store
	gate    *gate.Gate
	schemas *schema.Registry

	mu          sync.Mutex
	subscribers map[string]*subscriber

	intake chan intakeFrame

	sceneOnce sync.Once

	messagesIn  atomic.Uint64
	messagesOut atomic.Uint64
	dropped     atomic.Uint64
}

// NewRoom wires a room around a validated schema registry. Scene entities
// from the config are registered as pending creations; they materialize when
// the scene activates (first subscriber, or an explicit ActivateScene).
func NewRoom(schemas *schema.Registry, cfg RoomConfig) (*Room, error) {
	if cfg.ID == "" {
		cfg.ID = "lobby"
	}
	if cfg.IntakeQueueSize <= 0 {
		cfg.IntakeQueueSize = 256
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.Default()
	}
	pub := cfg.Publisher
	if pub == nil {
		pub = logging.NopPublisher()
	}

	room := &Room{
		cfg:         cfg,
		logger:      logger,
		pub:         pub,
		states:      presence.NewDirectory(),
		store:       entities.NewStore(),
		schemas:     schemas,
		subscribers: make(map[string]*subscriber),
		intake:      make(chan intakeFrame, cfg.IntakeQueueSize),
	}

	g, err := gate.New(gate.Config{
		Presence:  room.states,
		Entities:  room.store,
		Schemas:   schemas,
		Sink:      room.store,
		Publisher: pub,
	})
	if err != nil {
		return nil, err
	}
	room.gate = g
	room.store.SetDataHandler(room.handleReplay)

	for _, scene := range cfg.Scene {
		room.store.RegisterPending(scene.NetworkID, entities.Pending{
			Template: scene.Template,
			Creator:  SceneCreator,
		})
	}

	return room, nil
}

// Run consumes the intake queue until stop closes. All gating and entity
// mutation happens here, one message at a time.
func (r *Room) Run(stop <-chan struct{}) {
	for {
		select {
		case <-stop:
			return
		case frame := <-r.intake:
			r.process(frame)
		}
	}
}

// Dispatch queues one raw inbound frame from a session. A full queue drops
// the frame rather than blocking the reader; the sender will resend state on
// its next sync interval anyway.
func (r *Room) Dispatch(sessionID string, payload []byte) bool {
	select {
	case r.intake <- intakeFrame{sessionID: sessionID, payload: payload}:
		return true
	default:
		r.dropped.Add(1)
		return false
	}
}

func (r *Room) enqueueTask(task func()) {
	select {
	case r.intake <- intakeFrame{task: task}:
	default:
		// Tasks (scene activation, disconnect cleanup) must not be lost;
		// block until the loop drains.
		r.intake <- intakeFrame{task: task}
	}
}

// Join admits a new session, installs its presence entry with the room's
// default permission grants, and returns the session id the client must
// present when opening its websocket.
func (r *Room) Join(profile presence.Profile, context presence.Context) joinResponse {
	sessionID := uuid.NewString()
	r.states.Set(sessionID, presence.Meta{
		Permissions: r.cfg.DefaultPermissions,
		Profile:     profile,
		Context:     context,
	})
	r.broadcastPresence("join", sessionID, "")

	return joinResponse{
		Ver:         proto.Version,
		SessionID:   sessionID,
		RoomID:      r.cfg.ID,
		Permissions: r.cfg.DefaultPermissions.Clone(),
		Templates:   r.schemas.Kinds(),
		Occupants:   r.states.Len(),
	}
}

// Subscribe attaches a websocket connection to a joined session. The first
// subscriber activates the scene.
func (r *Room) Subscribe(sessionID string, conn Conn) (*subscriber, bool) {
	if _, ok := r.states.State(sessionID); !ok {
		return nil, false
	}

	r.mu.Lock()
	if existing, ok := r.subscribers[sessionID]; ok {
		existing.conn.Close()
	}
	sub := &subscriber{conn: conn}
	r.subscribers[sessionID] = sub
	r.mu.Unlock()

	r.sceneOnce.Do(func() {
		r.enqueueTask(r.activateScene)
	})
	return sub, true
}

// Disconnect removes a session: its subscriber, its presence entry, and any
// avatar entities it created. Entity removal is replayed to the remaining
// peers as remove messages.
func (r *Room) Disconnect(sessionID string) {
	r.mu.Lock()
	if sub, ok := r.subscribers[sessionID]; ok {
		sub.conn.Close()
		delete(r.subscribers, sessionID)
	}
	r.mu.Unlock()

	if _, ok := r.states.State(sessionID); !ok {
		return
	}

	r.enqueueTask(func() {
		for _, entity := range r.store.ByCreator(sessionID) {
			if schema.RoleOf(entity.Template) != schema.RoleAvatar {
				continue
			}
			if r.store.Remove(entity.NetworkID) {
				r.relay(proto.Remove{FromSession: sessionID, NetworkID: entity.NetworkID}, sessionID)
			}
		}
		r.states.Remove(sessionID)
		r.broadcastPresence("leave", sessionID, "")
	})
}

// UpdatePermissions replaces a session's permission set and rebroadcasts the
// roster so peers learn about the new grants. Permissions never come from
// clients; this is the only refresh path. Returns false for unknown sessions.
func (r *Room) UpdatePermissions(sessionID string, perms presence.Permissions) bool {
	reply := make(chan bool, 1)
	r.enqueueTask(func() {
		ok := r.states.UpdatePermissions(sessionID, perms)
		if ok {
			r.broadcastPresence("update", sessionID, "")
		}
		reply <- ok
	})
	return <-reply
}

// ActivateScene materializes every pending scene entity and replays any
// stashed persistent updates for them. Idempotent per entity.
func (r *Room) ActivateScene() {
	r.enqueueTask(r.activateScene)
}

func (r *Room) activateScene() {
	for _, scene := range r.cfg.Scene {
		if _, ok := r.store.Materialize(scene.NetworkID, scene.Template, SceneCreator); ok {
			r.gate.ApplyPersistentSync(scene.NetworkID)
		}
	}
}

func (r *Room) process(frame intakeFrame) {
	if frame.task != nil {
		frame.task()
		return
	}

	r.messagesIn.Add(1)

	var env proto.Envelope
	if err := json.Unmarshal(frame.payload, &env); err != nil {
		r.logger.Printf("discarding malformed frame from %s: %v", frame.sessionID, err)
		return
	}
	// The reader's authenticated session always wins over whatever the
	// payload claims.
	env.FromSessionID = frame.sessionID

	msg, err := proto.DecodeEnvelope(env)
	if err != nil {
		r.logger.Printf("discarding undecodable frame from %s: %v", frame.sessionID, err)
		return
	}

	if pass, ok := msg.(proto.Passthrough); ok && pass.Kind == typePresence {
		r.handleProfileUpdate(frame.sessionID, pass.Data)
		return
	}

	gated, keep := r.gate.Filter(msg)
	if !keep {
		return
	}

	r.applySideEffects(gated)
	r.relay(gated, frame.sessionID)
}

// applySideEffects folds a gated message into the entity table: first syncs
// materialize entities (releasing any stashed persistent state), removes
// delete them.
func (r *Room) applySideEffects(msg proto.Message) {
	switch m := msg.(type) {
	case proto.Update:
		r.materializeFirstSync(m.FromSession, m.Entity)
	case proto.BulkUpdate:
		for _, entity := range m.Updates {
			r.materializeFirstSync(m.FromSession, entity)
		}
	case proto.Remove:
		r.store.Remove(m.NetworkID)
	}
}

func (r *Room) materializeFirstSync(sender string, update proto.EntityUpdate) {
	if !update.IsFirstSync {
		return
	}
	creator := update.Creator
	if creator == "" {
		creator = sender
	}
	if _, ok := r.store.Materialize(update.NetworkID, update.Template, creator); ok {
		r.gate.ApplyPersistentSync(update.NetworkID)
	}
}

// handleReplay is the sync-runtime sink for stashed messages released by
// the gate. Replayed state reaches every subscriber.
func (r *Room) handleReplay(msg proto.Message, channel string) {
	r.relay(msg, "")
}

func (r *Room) relay(msg proto.Message, excludeSession string) {
	data, err := proto.Encode(msg)
	if err != nil {
		r.logger.Printf("failed to encode relay frame: %v", err)
		return
	}
	r.broadcastRaw(data, excludeSession)
}

func (r *Room) broadcastRaw(data []byte, excludeSession string) {
	r.mu.Lock()
	targets := make(map[string]*subscriber, len(r.subscribers))
	for id, sub := range r.subscribers {
		if id == excludeSession {
			continue
		}
		targets[id] = sub
	}
	r.mu.Unlock()

	for id, sub := range targets {
		if err := sub.write(data); err != nil {
			r.logger.Printf("write to %s failed: %v", id, err)
			continue
		}
		r.messagesOut.Add(1)
	}
}

func (r *Room) handleProfileUpdate(sessionID string, data json.RawMessage) {
	var payload profileData
	if err := json.Unmarshal(data, &payload); err != nil {
		r.logger.Printf("discarding malformed profile update from %s: %v", sessionID, err)
		return
	}
	if !r.states.UpdateProfile(sessionID, payload.Profile) {
		return
	}
	r.broadcastPresence("update", sessionID, "")
}

func (r *Room) broadcastPresence(event, sessionID, excludeSession string) {
	msg := presenceMessage{
		Ver:       proto.Version,
		Type:      typePresence,
		Event:     event,
		SessionID: sessionID,
		Sessions:  r.roster(),
	}
	data, err := json.Marshal(msg)
	if err != nil {
		r.logger.Printf("failed to encode presence message: %v", err)
		return
	}
	r.broadcastRaw(data, excludeSession)
}

func (r *Room) roster() []presenceEntry {
	ids := r.states.Sessions()
	sort.Strings(ids)
	entries := make([]presenceEntry, 0, len(ids))
	for _, id := range ids {
		meta, ok := r.states.State(id)
		if !ok {
			continue
		}
		entries = append(entries, presenceEntry{
			SessionID: id,
			Profile:   meta.Profile,
			Context:   meta.Context,
		})
	}
	return entries
}

// Diagnostics snapshots the room's counters. The snapshot is taken on the
// intake goroutine so the gate's stash is never read concurrently; callers
// block until the loop services the request.
func (r *Room) Diagnostics() diagnosticsMessage {
	reply := make(chan diagnosticsMessage, 1)
	r.enqueueTask(func() {
		reply <- r.diagnosticsLocked()
	})
	return <-reply
}

func (r *Room) diagnosticsLocked() diagnosticsMessage {
	return diagnosticsMessage{
		Ver:             proto.Version,
		RoomID:          r.cfg.ID,
		Occupants:       r.states.Len(),
		Entities:        r.store.Len(),
		PendingEntities: r.store.PendingLen(),
		StashedSyncs:    r.gate.StashLen(),
		MessagesIn:      r.messagesIn.Load(),
		MessagesOut:     r.messagesOut.Load(),
		Dropped:         r.dropped.Load(),
	}
}

// ID returns the room identifier.
func (r *Room) ID() string {
	return r.cfg.ID
}
