package presence

import "sync"

// Capability names recognised in a session's permission set. They mirror the
// grants issued by the room's access layer; the gate only ever reads them.
const (
	CapSpawnAndMoveMedia = "spawn_and_move_media"
	CapSpawnCamera       = "spawn_camera"
	CapSpawnDrawing      = "spawn_drawing"
	CapSpawnEmoji        = "spawn_emoji"
	CapPinObjects        = "pin_objects"
)

// Permissions maps capability name to grant state. Absent keys mean denied.
type Permissions map[string]bool

// Clone returns an independent copy so a directory read can never alias a
// map the caller goes on to mutate.
func (p Permissions) Clone() Permissions {
	if p == nil {
		return nil
	}
	cloned := make(Permissions, len(p))
	for k, v := range p {
		cloned[k] = v
	}
	return cloned
}

// Profile is the user-editable portion of a presence entry.
type Profile struct {
	DisplayName string `json:"displayName"`
	AvatarID    string `json:"avatarId,omitempty"`
}

// Context carries connection hints the client reported on join.
type Context struct {
	Mobile   bool `json:"mobile,omitempty"`
	HMD      bool `json:"hmd,omitempty"`
	Embedded bool `json:"embed,omitempty"`
}

// Meta is one session's presence entry: permissions, profile and connection
// context. Permissions are server-authoritative; profile and context come
// from the client.
type Meta struct {
	Permissions Permissions `json:"permissions"`
	Profile     Profile     `json:"profile"`
	Context     Context     `json:"context"`
}

// Directory is the per-room presence view keyed by session id. Writes come
// from the room's intake goroutine on join/leave/profile updates; the gate
// reads it while deciding authorization.
type Directory struct {
	mu     sync.RWMutex
	states map[string]Meta
}

func NewDirectory() *Directory {
	return &Directory{states: make(map[string]Meta)}
}

// State returns the presence entry for a session. The second return is false
// when the directory has never seen the session or it has left; callers must
// treat that as "cannot authorize".
func (d *Directory) State(sessionID string) (Meta, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	meta, ok := d.states[sessionID]
	if !ok {
		return Meta{}, false
	}
	meta.Permissions = meta.Permissions.Clone()
	return meta, true
}

// Set installs or replaces the entry for a session.
func (d *Directory) Set(sessionID string, meta Meta) {
	d.mu.Lock()
	defer d.mu.Unlock()
	meta.Permissions = meta.Permissions.Clone()
	d.states[sessionID] = meta
}

// UpdateProfile replaces only the profile of an existing entry. Unknown
// sessions are ignored so a straggling update cannot resurrect a departed
// peer.
func (d *Directory) UpdateProfile(sessionID string, profile Profile) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	meta, ok := d.states[sessionID]
	if !ok {
		return false
	}
	meta.Profile = profile
	d.states[sessionID] = meta
	return true
}

// UpdatePermissions refreshes the permission set of an existing entry.
func (d *Directory) UpdatePermissions(sessionID string, perms Permissions) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	meta, ok := d.states[sessionID]
	if !ok {
		return false
	}
	meta.Permissions = perms.Clone()
	d.states[sessionID] = meta
	return true
}

// Remove drops a session's entry.
func (d *Directory) Remove(sessionID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.states, sessionID)
}

// Sessions lists the ids currently present.
func (d *Directory) Sessions() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	ids := make([]string, 0, len(d.states))
	for id := range d.states {
		ids = append(ids, id)
	}
	return ids
}

// Len reports the number of present sessions.
func (d *Directory) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.states)
}
