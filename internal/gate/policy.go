package gate

import (
	"atrium/server/internal/presence"
	"atrium/server/internal/schema"
)

// Metadata is the resolved identity of a networked entity: which template
// it was spawned from and which session created it.
type Metadata struct {
	TemplateKind string
	CreatorID    string
}

// IsAuthorized decides whether a sender may manipulate an entity. The rule
// is keyed off the template kind's role suffix; the creator is always
// allowed, and certain roles extend to holders of the matching spawn
// capability. Kinds with no recognised suffix always deny. Pure function,
// no side effects.
func IsAuthorized(meta Metadata, senderID string, perms presence.Permissions) bool {
	switch schema.RoleOf(meta.TemplateKind) {
	case schema.RoleAvatar:
		return senderID == meta.CreatorID
	case schema.RoleMedia:
		return senderID == meta.CreatorID || perms[presence.CapSpawnAndMoveMedia]
	case schema.RoleCamera:
		return senderID == meta.CreatorID || perms[presence.CapSpawnCamera]
	case schema.RoleDrawing:
		return senderID == meta.CreatorID || perms[presence.CapSpawnDrawing]
	}
	return false
}
