package logging

import (
	"context"
	"time"
)

type EventType string

type Severity int

const (
	SeverityDebug Severity = iota
	SeverityInfo
	SeverityWarn
	SeverityError
)

// RefKind distinguishes the actors an event can reference.
type RefKind string

const (
	RefKindUnknown RefKind = "unknown"
	RefKindSession RefKind = "session"
	RefKindEntity  RefKind = "entity"
	RefKindRoom    RefKind = "room"
)

// Ref identifies a session, entity or room involved in an event.
type Ref struct {
	ID   string  `json:"id"`
	Kind RefKind `json:"kind"`
}

// Event is one structured log record. Seq is the room's message sequence at
// the time the event was emitted, so records correlate with wire traffic.
type Event struct {
	Type     EventType      `json:"type"`
	Seq      uint64         `json:"seq"`
	Time     time.Time      `json:"time"`
	Actor    Ref            `json:"actor"`
	Targets  []Ref          `json:"targets,omitempty"`
	Severity Severity       `json:"severity"`
	Category string         `json:"category,omitempty"`
	Payload  any            `json:"payload,omitempty"`
	Extra    map[string]any `json:"extra,omitempty"`
}

const (
	CategoryAuthz   = "authz"
	CategoryNetwork = "network"
	CategorySystem  = "system"
)

// Publisher accepts events for asynchronous delivery to sinks.
type Publisher interface {
	Publish(ctx context.Context, event Event)
}

type PublisherFunc func(ctx context.Context, event Event)

func (f PublisherFunc) Publish(ctx context.Context, event Event) {
	if f == nil {
		return
	}
	f(ctx, event)
}

type nopPublisher struct{}

func (nopPublisher) Publish(context.Context, Event) {}

// NopPublisher returns a publisher that discards everything.
func NopPublisher() Publisher {
	return nopPublisher{}
}

func cloneEvent(event Event) Event {
	cloned := event
	if len(event.Targets) > 0 {
		cloned.Targets = append([]Ref(nil), event.Targets...)
	}
	if event.Extra != nil {
		copied := make(map[string]any, len(event.Extra))
		for k, v := range event.Extra {
			copied[k] = v
		}
		cloned.Extra = copied
	}
	return cloned
}
