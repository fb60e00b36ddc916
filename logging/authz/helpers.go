package authz

import (
	"context"

	"atrium/server/logging"
)

const (
	// EventUpdateDenied is emitted when an update is dropped outright.
	EventUpdateDenied logging.EventType = "authz.update_denied"
	// EventUpdateSanitized is emitted when unauthorized slots were stripped
	// but the update was still forwarded.
	EventUpdateSanitized logging.EventType = "authz.update_sanitized"
	// EventRemoveDenied is emitted when a remove request is dropped.
	EventRemoveDenied logging.EventType = "authz.remove_denied"
	// EventSyncStashed is emitted when a persistent update is held for a
	// not-yet-materialized entity.
	EventSyncStashed logging.EventType = "authz.sync_stashed"
	// EventSyncReplayed is emitted when a stashed update is released.
	EventSyncReplayed logging.EventType = "authz.sync_replayed"
)

// DecisionPayload captures why the gate acted on a message.
type DecisionPayload struct {
	NetworkID string `json:"networkId,omitempty"`
	Template  string `json:"template,omitempty"`
	Reason    string `json:"reason,omitempty"`
	Stripped  int    `json:"stripped,omitempty"`
}

// Denial reasons carried in DecisionPayload.Reason.
const (
	ReasonNoPresence      = "no_presence"
	ReasonUnresolved      = "unresolved_entity"
	ReasonNotAuthorized   = "not_authorized"
	ReasonPendingReplay   = "pending_replay"
	ReasonReplayAvailable = "replay_available"
)

// UpdateDenied publishes a warning when an update is dropped.
func UpdateDenied(ctx context.Context, pub logging.Publisher, seq uint64, actor logging.Ref, payload DecisionPayload) {
	publish(ctx, pub, logging.Event{
		Type:     EventUpdateDenied,
		Seq:      seq,
		Actor:    actor,
		Severity: logging.SeverityWarn,
		Category: logging.CategoryAuthz,
		Payload:  payload,
	})
}

// UpdateSanitized publishes a debug event when slots were stripped.
func UpdateSanitized(ctx context.Context, pub logging.Publisher, seq uint64, actor logging.Ref, payload DecisionPayload) {
	publish(ctx, pub, logging.Event{
		Type:     EventUpdateSanitized,
		Seq:      seq,
		Actor:    actor,
		Severity: logging.SeverityDebug,
		Category: logging.CategoryAuthz,
		Payload:  payload,
	})
}

// RemoveDenied publishes a warning when a remove request is dropped.
func RemoveDenied(ctx context.Context, pub logging.Publisher, seq uint64, actor logging.Ref, payload DecisionPayload) {
	publish(ctx, pub, logging.Event{
		Type:     EventRemoveDenied,
		Seq:      seq,
		Actor:    actor,
		Severity: logging.SeverityWarn,
		Category: logging.CategoryAuthz,
		Payload:  payload,
	})
}

// SyncStashed publishes a debug event when a persistent update is held back.
func SyncStashed(ctx context.Context, pub logging.Publisher, seq uint64, actor logging.Ref, payload DecisionPayload) {
	publish(ctx, pub, logging.Event{
		Type:     EventSyncStashed,
		Seq:      seq,
		Actor:    actor,
		Severity: logging.SeverityDebug,
		Category: logging.CategoryAuthz,
		Payload:  payload,
	})
}

// SyncReplayed publishes an info event when a stashed update is released.
func SyncReplayed(ctx context.Context, pub logging.Publisher, seq uint64, actor logging.Ref, payload DecisionPayload) {
	publish(ctx, pub, logging.Event{
		Type:     EventSyncReplayed,
		Seq:      seq,
		Actor:    actor,
		Severity: logging.SeverityInfo,
		Category: logging.CategoryAuthz,
		Payload:  payload,
	})
}

func publish(ctx context.Context, pub logging.Publisher, event logging.Event) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, event)
}
