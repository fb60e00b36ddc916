package gate

import "atrium/server/internal/net/proto"

// sanitize strips every component slot the template does not declare
// non-authorized-safe, replacing the value with the null no-change marker.
// Null here means "skip this slot", never "clear the field"; the sync
// runtime applies only non-null slots. Slot indices the registry has never
// heard of (out of range, or a kind missing from the registry entirely) are
// unauthorized. Returns the number of slots stripped. Idempotent: nulled
// slots stay null.
func (g *Gate) sanitize(templateKind string, update *proto.EntityUpdate) int {
	if len(update.Components) == 0 {
		return 0
	}
	safe, _ := g.schemas.SafeSlots(templateKind)
	stripped := 0
	for idx, value := range update.Components {
		if _, ok := safe[idx]; ok {
			continue
		}
		if !proto.IsNull(value) {
			stripped++
		}
		update.Components[idx] = proto.NullValue
	}
	return stripped
}
