// Package gate implements the authorization and synchronization gate every
// inbound entity-sync message passes through before it reaches the sync
// runtime. The gate decides whether the sender may apply a message, strips
// unauthorized component slots while keeping safe ones, and stashes updates
// for persistent entities that have not materialized yet. Nothing in here
// returns an error to the transport: a hostile or merely late peer degrades
// to a dropped or sanitized message, never a crash.
package gate

import (
	"context"
	"errors"

	"atrium/server/internal/entities"
	"atrium/server/internal/net/proto"
	"atrium/server/internal/presence"
	"atrium/server/internal/schema"
	"atrium/server/logging"
	"atrium/server/logging/authz"
)

// ReliableChannel tags replayed stash messages for the sync runtime.
const ReliableChannel = "reliable"

// PresenceView is the read-only slice of the presence directory the gate
// consumes. A missing entry means "insufficient information to authorize".
type PresenceView interface {
	State(sessionID string) (presence.Meta, bool)
}

// EntityIndex resolves network ids against pending creation records and
// materialized entities.
type EntityIndex interface {
	PendingCreation(networkID string) (entities.Pending, bool)
	Entity(networkID string) (entities.Entity, bool)
}

// DataSink receives replayed stash messages.
type DataSink interface {
	OnData(msg proto.Message, channel string)
}

type Config struct {
	Presence  PresenceView
	Entities  EntityIndex
	Schemas   *schema.Registry
	Sink      DataSink
	Publisher logging.Publisher
}

var (
	errNilPresence = errors.New("gate: presence view must not be nil")
	errNilEntities = errors.New("gate: entity index must not be nil")
	errNilSchemas  = errors.New("gate: schema registry must not be nil")
)

// Gate is the per-room message gate. It owns the persistent-sync stash and
// must only be driven from the room's intake goroutine.
type Gate struct {
	presence PresenceView
	entities EntityIndex
	schemas  *schema.Registry
	sink     DataSink
	pub      logging.Publisher
	stash    *Stash
	seq      uint64
}

func New(cfg Config) (*Gate, error) {
	if cfg.Presence == nil {
		return nil, errNilPresence
	}
	if cfg.Entities == nil {
		return nil, errNilEntities
	}
	if cfg.Schemas == nil {
		return nil, errNilSchemas
	}
	pub := cfg.Publisher
	if pub == nil {
		pub = logging.NopPublisher()
	}
	return &Gate{
		presence: cfg.Presence,
		entities: cfg.Entities,
		schemas:  cfg.Schemas,
		sink:     cfg.Sink,
		pub:      pub,
		stash:    NewStash(),
	}, nil
}

// StashLen reports how many persistent updates are awaiting replay.
func (g *Gate) StashLen() int {
	return g.stash.Len()
}

// Filter authorizes or sanitizes one inbound message. The second return is
// false when the message must not be forwarded at all; otherwise the first
// return is the (possibly mutated) message to hand to the sync runtime.
func (g *Gate) Filter(in proto.Message) (proto.Message, bool) {
	g.seq++
	actor := logging.Ref{ID: in.From(), Kind: logging.RefKindSession}

	// Creation first syncs for non-persistent entities were already
	// authorized by the transport origin; they pass untouched.
	if update, ok := in.(proto.Update); ok {
		if update.Entity.IsFirstSync && !update.Entity.Persistent {
			return update, true
		}
	}

	senderMeta, ok := g.presence.State(in.From())
	if !ok {
		authz.UpdateDenied(context.Background(), g.pub, g.seq, actor, authz.DecisionPayload{Reason: authz.ReasonNoPresence})
		return nil, false
	}
	perms := senderMeta.Permissions

	switch msg := in.(type) {
	case proto.Update:
		if msg.Entity.Persistent {
			if _, materialized := g.entities.Entity(msg.Entity.NetworkID); !materialized {
				g.stash.Merge(msg)
				authz.SyncStashed(context.Background(), g.pub, g.seq, actor, authz.DecisionPayload{
					NetworkID: msg.Entity.NetworkID,
					Reason:    authz.ReasonPendingReplay,
				})
				return nil, false
			}
		}
		entity, keep := g.gateUpdate(msg.From(), perms, msg.Entity, actor)
		if !keep {
			return nil, false
		}
		msg.Entity = entity
		return msg, true

	case proto.BulkUpdate:
		kept := make([]proto.EntityUpdate, 0, len(msg.Updates))
		for _, entity := range msg.Updates {
			if entity.Persistent {
				if _, materialized := g.entities.Entity(entity.NetworkID); !materialized {
					g.stash.Merge(proto.Update{FromSession: msg.FromSession, Entity: entity})
					authz.SyncStashed(context.Background(), g.pub, g.seq, actor, authz.DecisionPayload{
						NetworkID: entity.NetworkID,
						Reason:    authz.ReasonPendingReplay,
					})
					continue
				}
			}
			gated, keep := g.gateUpdate(msg.From(), perms, entity, actor)
			if !keep {
				continue
			}
			kept = append(kept, gated)
		}
		msg.Updates = kept
		return msg, true

	case proto.Remove:
		meta, resolved := g.resolve(msg.NetworkID)
		if !resolved {
			authz.RemoveDenied(context.Background(), g.pub, g.seq, actor, authz.DecisionPayload{
				NetworkID: msg.NetworkID,
				Reason:    authz.ReasonUnresolved,
			})
			return nil, false
		}
		if !IsAuthorized(meta, msg.From(), perms) {
			authz.RemoveDenied(context.Background(), g.pub, g.seq, actor, authz.DecisionPayload{
				NetworkID: msg.NetworkID,
				Template:  meta.TemplateKind,
				Reason:    authz.ReasonNotAuthorized,
			})
			return nil, false
		}
		return msg, true

	case proto.Passthrough:
		// Ephemeral streams (drawing buffers and the like) are
		// pre-authorized by convention of the transport layer.
		return msg, true
	}

	return nil, false
}

// gateUpdate resolves, authorizes and if necessary sanitizes one entity
// update. A resolution failure drops the update entirely; an unauthorized
// sender keeps only the non-authorized-safe slots.
func (g *Gate) gateUpdate(senderID string, perms presence.Permissions, update proto.EntityUpdate, actor logging.Ref) (proto.EntityUpdate, bool) {
	meta, resolved := g.resolve(update.NetworkID)
	if !resolved {
		authz.UpdateDenied(context.Background(), g.pub, g.seq, actor, authz.DecisionPayload{
			NetworkID: update.NetworkID,
			Reason:    authz.ReasonUnresolved,
		})
		return proto.EntityUpdate{}, false
	}
	if IsAuthorized(meta, senderID, perms) {
		return update, true
	}
	stripped := g.sanitize(meta.TemplateKind, &update)
	authz.UpdateSanitized(context.Background(), g.pub, g.seq, actor, authz.DecisionPayload{
		NetworkID: update.NetworkID,
		Template:  meta.TemplateKind,
		Reason:    authz.ReasonNotAuthorized,
		Stripped:  stripped,
	})
	return update, true
}

// ApplyPersistentSync releases the stashed update for a freshly
// materialized entity, re-gates it now that resolution can succeed, and
// hands the survivor to the sync runtime. This is the only path that ever
// releases a stash entry; ids that never materialize simply keep theirs.
func (g *Gate) ApplyPersistentSync(networkID string) {
	msg, ok := g.stash.Pop(networkID)
	if !ok {
		return
	}
	actor := logging.Ref{ID: msg.From(), Kind: logging.RefKindSession}
	gated, keep := g.Filter(msg)
	if !keep {
		return
	}
	if g.sink != nil {
		g.sink.OnData(gated, ReliableChannel)
	}
	authz.SyncReplayed(context.Background(), g.pub, g.seq, actor, authz.DecisionPayload{
		NetworkID: networkID,
		Reason:    authz.ReasonReplayAvailable,
	})
}
