package proto

import (
	"bytes"
	"encoding/json"
	"fmt"
)

const (
	// Version tracks the wire-protocol revision expected by clients.
	Version = 1

	// DataType identifiers for entity-sync payloads. These values are a
	// compatibility contract with the browser client and must be preserved
	// exactly.
	DataTypeUpdate     = "u"
	DataTypeBulkUpdate = "um"
	DataTypeRemove     = "r"
)

// NullValue marks a component slot as "no change". The sync runtime skips
// null slots when applying an update; it never clears the field.
var NullValue = json.RawMessage("null")

// IsNull reports whether a component slot value is the no-change marker.
func IsNull(v json.RawMessage) bool {
	return len(v) == 0 || bytes.Equal(bytes.TrimSpace(v), []byte("null"))
}

// EntityUpdate is one per-entity sparse update. Components maps schema slot
// index to the slot's new value, or to NullValue for slots the sender left
// untouched (or that the gate stripped).
type EntityUpdate struct {
	NetworkID   string                  `json:"networkId"`
	Owner       string                  `json:"owner,omitempty"`
	Creator     string                  `json:"creator,omitempty"`
	Template    string                  `json:"template,omitempty"`
	Persistent  bool                    `json:"persistent,omitempty"`
	IsFirstSync bool                    `json:"isFirstSync,omitempty"`
	Components  map[int]json.RawMessage `json:"components,omitempty"`
}

// Clone deep-copies the update so stashed state can never alias a payload
// the gate goes on to mutate.
func (u EntityUpdate) Clone() EntityUpdate {
	cloned := u
	if u.Components != nil {
		cloned.Components = make(map[int]json.RawMessage, len(u.Components))
		for idx, value := range u.Components {
			cloned.Components[idx] = append(json.RawMessage(nil), value...)
		}
	}
	return cloned
}

// Message is the tagged union of inbound entity-sync payloads. Exactly the
// variants below implement it; the gate dispatches exhaustively.
type Message interface {
	// DataType returns the wire tag of the variant.
	DataType() string
	// From returns the sending session id.
	From() string
}

// Update is a single-entity update ("u").
type Update struct {
	FromSession string
	Entity      EntityUpdate
}

func (Update) DataType() string { return DataTypeUpdate }
func (m Update) From() string   { return m.FromSession }

// BulkUpdate is an ordered batch of entity updates ("um").
type BulkUpdate struct {
	FromSession string
	Updates     []EntityUpdate
}

func (BulkUpdate) DataType() string { return DataTypeBulkUpdate }
func (m BulkUpdate) From() string   { return m.FromSession }

// Remove requests deletion of an entity ("r").
type Remove struct {
	FromSession string
	NetworkID   string
}

func (Remove) DataType() string { return DataTypeRemove }
func (m Remove) From() string   { return m.FromSession }

// Passthrough carries any other data kind (drawing streams and similar
// ephemeral payloads) without interpretation.
type Passthrough struct {
	FromSession string
	Kind        string
	Data        json.RawMessage
}

func (m Passthrough) DataType() string { return m.Kind }
func (m Passthrough) From() string     { return m.FromSession }

// Envelope is the outer frame of every entity-sync payload on the socket.
type Envelope struct {
	Ver           int             `json:"ver,omitempty"`
	DataType      string          `json:"dataType"`
	Data          json.RawMessage `json:"data,omitempty"`
	FromSessionID string          `json:"from_session_id,omitempty"`
	ClientID      string          `json:"clientId,omitempty"`
}

type bulkData struct {
	D []EntityUpdate `json:"d"`
}

type removeData struct {
	NetworkID string `json:"networkId"`
}

// DecodeEnvelope parses an envelope into the message union. Unknown data
// types decode to Passthrough with the raw payload retained byte-for-byte.
func DecodeEnvelope(env Envelope) (Message, error) {
	switch env.DataType {
	case DataTypeUpdate:
		var entity EntityUpdate
		if err := json.Unmarshal(env.Data, &entity); err != nil {
			return nil, fmt.Errorf("proto: decode %q data: %w", env.DataType, err)
		}
		return Update{FromSession: env.FromSessionID, Entity: entity}, nil
	case DataTypeBulkUpdate:
		var data bulkData
		if err := json.Unmarshal(env.Data, &data); err != nil {
			return nil, fmt.Errorf("proto: decode %q data: %w", env.DataType, err)
		}
		return BulkUpdate{FromSession: env.FromSessionID, Updates: data.D}, nil
	case DataTypeRemove:
		var data removeData
		if err := json.Unmarshal(env.Data, &data); err != nil {
			return nil, fmt.Errorf("proto: decode %q data: %w", env.DataType, err)
		}
		return Remove{FromSession: env.FromSessionID, NetworkID: data.NetworkID}, nil
	case "":
		return nil, fmt.Errorf("proto: envelope missing dataType")
	default:
		return Passthrough{FromSession: env.FromSessionID, Kind: env.DataType, Data: env.Data}, nil
	}
}

// Decode parses a raw socket frame into the message union.
func Decode(raw []byte) (Message, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("proto: decode envelope: %w", err)
	}
	return DecodeEnvelope(env)
}

// Encode renders a message back into its wire envelope.
func Encode(msg Message) ([]byte, error) {
	env, err := EncodeEnvelope(msg)
	if err != nil {
		return nil, err
	}
	data, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("proto: encode envelope: %w", err)
	}
	return data, nil
}

// EncodeEnvelope rebuilds the outer frame for a message.
func EncodeEnvelope(msg Message) (Envelope, error) {
	env := Envelope{Ver: Version, DataType: msg.DataType(), FromSessionID: msg.From()}
	var payload any
	switch m := msg.(type) {
	case Update:
		payload = m.Entity
	case BulkUpdate:
		payload = bulkData{D: m.Updates}
	case Remove:
		payload = removeData{NetworkID: m.NetworkID}
	case Passthrough:
		env.Data = m.Data
		return env, nil
	default:
		return Envelope{}, fmt.Errorf("proto: unknown message variant %T", msg)
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("proto: encode %q data: %w", env.DataType, err)
	}
	env.Data = data
	return env, nil
}
