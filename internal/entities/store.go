// Package entities is the server-side bookkeeping half of the entity-sync
// runtime: pending creation records, the materialized entity table and the
// re-injection hook used when stashed persistent updates are replayed.
package entities

import (
	"sync"

	"atrium/server/internal/net/proto"
)

// Pending describes an entity whose creation has been announced but whose
// first sync has not yet been applied. Owner, when set, is the session that
// must still be present for the record to authorize anything.
type Pending struct {
	Template string
	Creator  string
	Owner    string
}

// Entity is a materialized networked entity. Template and Creator are fixed
// at creation; Creator never changes for the entity's lifetime.
type Entity struct {
	NetworkID string
	Template  string
	Creator   string
}

// DataHandler receives messages re-injected into the sync runtime, tagged
// with the reliability channel they should be applied on.
type DataHandler func(msg proto.Message, channel string)

// Store tracks pending and materialized entities for one room. All mutation
// happens on the room's intake goroutine; the mutex covers reads from
// diagnostics handlers.
type Store struct {
	mu       sync.RWMutex
	pending  map[string]Pending
	entities map[string]Entity
	handler  DataHandler
}

func NewStore() *Store {
	return &Store{
		pending:  make(map[string]Pending),
		entities: make(map[string]Entity),
	}
}

// SetDataHandler installs the sink replayed messages are handed to.
func (s *Store) SetDataHandler(handler DataHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handler = handler
}

// RegisterPending records an announced-but-uncreated entity. Registration is
// idempotent; a second announcement for the same id keeps the first record
// because creator identity is immutable.
func (s *Store) RegisterPending(networkID string, pending Pending) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.pending[networkID]; exists {
		return
	}
	if _, exists := s.entities[networkID]; exists {
		return
	}
	s.pending[networkID] = pending
}

// PendingCreation returns the pending record for a network id, if any.
func (s *Store) PendingCreation(networkID string) (Pending, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.pending[networkID]
	return p, ok
}

// Entity returns the materialized entity for a network id, if any.
func (s *Store) Entity(networkID string) (Entity, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entities[networkID]
	return e, ok
}

// Materialize promotes a pending record (or an explicit first sync) into a
// live entity. A pending record's template and creator win over the
// arguments so a late first sync cannot rewrite either. Returns false when
// the entity already exists.
func (s *Store) Materialize(networkID, template, creator string) (Entity, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.entities[networkID]; exists {
		return Entity{}, false
	}
	if p, ok := s.pending[networkID]; ok {
		template = p.Template
		creator = p.Creator
		delete(s.pending, networkID)
	}
	entity := Entity{NetworkID: networkID, Template: template, Creator: creator}
	s.entities[networkID] = entity
	return entity, true
}

// Remove drops a materialized entity and any leftover pending record.
func (s *Store) Remove(networkID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, hadEntity := s.entities[networkID]
	delete(s.entities, networkID)
	delete(s.pending, networkID)
	return hadEntity
}

// OnData hands a replayed message to the installed sync sink.
func (s *Store) OnData(msg proto.Message, channel string) {
	s.mu.RLock()
	handler := s.handler
	s.mu.RUnlock()
	if handler != nil {
		handler(msg, channel)
	}
}

// ByCreator lists materialized entities created by the given session.
func (s *Store) ByCreator(creator string) []Entity {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var found []Entity
	for _, e := range s.entities {
		if e.Creator == creator {
			found = append(found, e)
		}
	}
	return found
}

// Len reports how many entities are materialized.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entities)
}

// PendingLen reports how many creation records are still pending.
func (s *Store) PendingLen() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.pending)
}
