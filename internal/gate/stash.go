package gate

import (
	"encoding/json"

	"atrium/server/internal/net/proto"
)

// Stash holds persistent-entity updates that arrived before their entity
// was materialized, merged in arrival order and keyed by network id. It is
// owned by exactly one Gate; all access happens on the room's intake
// goroutine.
type Stash struct {
	pending map[string]proto.Update
}

func NewStash() *Stash {
	return &Stash{pending: make(map[string]proto.Update)}
}

// Merge folds a new update into the stash. Later top-level fields win
// wholesale; component maps merge key-wise with the later value winning per
// slot. The stored state never aliases the caller's payload.
func (s *Stash) Merge(msg proto.Update) {
	id := msg.Entity.NetworkID
	if id == "" {
		return
	}
	existing, ok := s.pending[id]
	if !ok {
		s.pending[id] = proto.Update{FromSession: msg.FromSession, Entity: msg.Entity.Clone()}
		return
	}
	merged := msg.Entity.Clone()
	if len(existing.Entity.Components) > 0 {
		components := make(map[int]json.RawMessage, len(existing.Entity.Components)+len(merged.Components))
		for idx, value := range existing.Entity.Components {
			components[idx] = value
		}
		for idx, value := range merged.Components {
			components[idx] = value
		}
		merged.Components = components
	}
	s.pending[id] = proto.Update{FromSession: msg.FromSession, Entity: merged}
}

// Pop removes and returns the stashed update for a network id. Each entry is
// released at most once.
func (s *Stash) Pop(networkID string) (proto.Update, bool) {
	msg, ok := s.pending[networkID]
	if !ok {
		return proto.Update{}, false
	}
	delete(s.pending, networkID)
	return msg, true
}

// Has reports whether an update is stashed for the given id.
func (s *Stash) Has(networkID string) bool {
	_, ok := s.pending[networkID]
	return ok
}

// Len reports the number of stashed updates.
func (s *Stash) Len() int {
	return len(s.pending)
}
