package gate

// resolve derives an entity's metadata from either its pending creation
// record or the materialized entity. Every failure mode returns ok=false,
// which callers treat as "cannot authorize, drop": a missing record, a
// pending owner whose session has vanished, anything. It never panics.
func (g *Gate) resolve(networkID string) (Metadata, bool) {
	if networkID == "" {
		return Metadata{}, false
	}
	if pending, ok := g.entities.PendingCreation(networkID); ok {
		if pending.Owner != "" {
			// A pending record whose owner already left cannot vouch for
			// anything; refusing here keeps a ghost owner from authorizing
			// manipulation.
			if _, present := g.presence.State(pending.Owner); !present {
				return Metadata{}, false
			}
		}
		return Metadata{TemplateKind: pending.Template, CreatorID: pending.Creator}, true
	}
	entity, ok := g.entities.Entity(networkID)
	if !ok {
		return Metadata{}, false
	}
	return Metadata{TemplateKind: entity.Template, CreatorID: entity.Creator}, true
}
