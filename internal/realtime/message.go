package realtime

import (
	"encoding/json"
	"fmt"

	"github.com/loomnotes/loom/pkg/canvas"
)

// Kind identifies a broadcast message variant.
type Kind string

const (
	// KindCursor carries a collaborator's pointer position in canvas space.
	KindCursor Kind = "cursor"

	// KindSelection carries the set of note IDs a collaborator has selected.
	KindSelection Kind = "selection"

	// KindNodeMove carries an in-progress drag position for a note.
	// Receivers render it transiently and never persist it.
	KindNodeMove Kind = "node-move"

	// KindContentUpdate carries a live content delta for a note, applied to
	// the receiver's render copy ahead of the durable write.
	KindContentUpdate Kind = "content-update"

	// KindTextCursor carries a collaborator's caret range inside a note.
	KindTextCursor Kind = "text-cursor"
)

// Message is the tagged union over the five broadcast kinds. Broadcasts are
// fire-and-forget and at-most-once: for a given (kind, subject) pair the
// latest-received message is authoritative, messages may be dropped or
// reordered across senders, and late joiners receive no history.
type Message interface {
	Kind() Kind
}

// CursorMessage updates a collaborator's pointer position.
type CursorMessage struct {
	CollaboratorID string       `json:"collaborator_id"`
	Point          canvas.Point `json:"point"`
}

func (CursorMessage) Kind() Kind { return KindCursor }

// SelectionMessage replaces a collaborator's selected note set.
type SelectionMessage struct {
	CollaboratorID string   `json:"collaborator_id"`
	NoteIDs        []string `json:"note_ids"`
}

func (SelectionMessage) Kind() Kind { return KindSelection }

// NodeMoveMessage carries one sample of an in-progress note drag.
type NodeMoveMessage struct {
	CollaboratorID string       `json:"collaborator_id"`
	NoteID         string       `json:"note_id"`
	Point          canvas.Point `json:"point"`
}

func (NodeMoveMessage) Kind() Kind { return KindNodeMove }

// ContentUpdateMessage carries a live content blob for a note.
type ContentUpdateMessage struct {
	CollaboratorID string          `json:"collaborator_id"`
	NoteID         string          `json:"note_id"`
	Content        json.RawMessage `json:"content"`
}

func (ContentUpdateMessage) Kind() Kind { return KindContentUpdate }

// TextCursorMessage carries a collaborator's caret range inside a note's
// document (offsets into the opaque content).
type TextCursorMessage struct {
	CollaboratorID string `json:"collaborator_id"`
	NoteID         string `json:"note_id"`
	RangeStart     int    `json:"range_start"`
	RangeEnd       int    `json:"range_end"`
}

func (TextCursorMessage) Kind() Kind { return KindTextCursor }

// envelope is the wire framing shared by broadcasts and presence control
// notifications: a kind tag plus the kind-specific payload.
type envelope struct {
	Kind    string          `json:"kind"`
	Payload json.RawMessage `json:"payload"`
}

// Presence control kinds share the realtime channel with broadcasts but are
// never surfaced as Messages: they only trigger a full-state presence
// re-read, so incremental membership events cannot be wired to a mutation
// path by any consumer.
const (
	kindPresenceJoin  = "presence-join"
	kindPresenceLeave = "presence-leave"
)

// presenceNotice is the payload of a presence control envelope. It names the
// collaborator purely for logging; membership always comes from the full
// presence hash.
type presenceNotice struct {
	CollaboratorID string `json:"collaborator_id"`
}

// EncodeMessage frames a broadcast message for the wire.
func EncodeMessage(msg Message) ([]byte, error) {
	payload, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s payload: %w", msg.Kind(), err)
	}

	data, err := json.Marshal(envelope{Kind: string(msg.Kind()), Payload: payload})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s envelope: %w", msg.Kind(), err)
	}

	return data, nil
}

// DecodeMessage parses a wire frame into a typed broadcast message.
// Unknown kinds return (nil, nil): the contract is to ignore them silently
// rather than fail, so protocol additions never crash older clients.
func DecodeMessage(data []byte) (Message, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("failed to unmarshal broadcast envelope: %w", err)
	}

	var msg Message
	switch Kind(env.Kind) {
	case KindCursor:
		msg = &CursorMessage{}
	case KindSelection:
		msg = &SelectionMessage{}
	case KindNodeMove:
		msg = &NodeMoveMessage{}
	case KindContentUpdate:
		msg = &ContentUpdateMessage{}
	case KindTextCursor:
		msg = &TextCursorMessage{}
	default:
		return nil, nil
	}

	if err := json.Unmarshal(env.Payload, msg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal %s payload: %w", env.Kind, err)
	}

	return msg, nil
}
