// Package canvas provides type-safe Go definitions and Redis schema patterns
// for Loom's durable canvas state. A canvas holds notes and the directed
// edges connecting them; every committed mutation is published as a change
// event so that connected clients can keep their local view converged.
//
// All Redis keys and channels are namespaced by canvas ID to enable multiple
// canvases to safely coexist on a single Redis server.
package canvas

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// Point is a position in canvas coordinate space.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Size is a note's rendered extent.
type Size struct {
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Note represents a persisted canvas note: a positioned, resizable item
// carrying an opaque rich-text content blob. The content field is never
// inspected by Loom beyond equality and recency decisions - it belongs to
// the external document editor.
type Note struct {
	ID          string          `json:"id"`            // UUID - unique identifier for this note
	CanvasID    string          `json:"canvas_id"`     // UUID - owning canvas
	Title       string          `json:"title"`         // Short display title (may be empty)
	Content     json.RawMessage `json:"content"`       // Opaque structured document
	Position    Point           `json:"position"`      // Top-left corner in canvas coordinates
	Size        Size            `json:"size"`          // Rendered width/height
	Color       NoteColor       `json:"color"`         // Visual color variant
	StackOrder  int64           `json:"stack_order"`   // Z-ordering key, strictly increases on bring-to-front
	Tags        []string        `json:"tags"`          // Tag names attached to the note
	CreatedAtMs int64           `json:"created_at_ms"` // Unix timestamp in milliseconds
	UpdatedAtMs int64           `json:"updated_at_ms"` // Unix timestamp in milliseconds of last committed write
}

// NoteColor is the visual color variant of a note.
type NoteColor string

const (
	ColorDefault NoteColor = "default"
	ColorYellow  NoteColor = "yellow"
	ColorGreen   NoteColor = "green"
	ColorBlue    NoteColor = "blue"
	ColorPurple  NoteColor = "purple"
	ColorPink    NoteColor = "pink"
	ColorRed     NoteColor = "red"
	ColorOrange  NoteColor = "orange"
)

// Edge represents a persisted directed connection between two notes.
// Source and target handles identify which of the note's anchor points the
// edge attaches to; empty means the renderer picks a default anchor.
type Edge struct {
	ID           string `json:"id"`             // UUID - unique identifier for this edge
	CanvasID     string `json:"canvas_id"`      // UUID - owning canvas
	SourceNoteID string `json:"source_note_id"` // UUID - note the edge starts at
	TargetNoteID string `json:"target_note_id"` // UUID - note the edge points to
	SourceHandle string `json:"source_handle"`  // Anchor point on the source note (optional)
	TargetHandle string `json:"target_handle"`  // Anchor point on the target note (optional)
	CreatedAtMs  int64  `json:"created_at_ms"`  // Unix timestamp in milliseconds
}

// Snapshot is the full durable state of a canvas at a point in time.
// Clients load a snapshot on (re)connect and then follow the change feed.
type Snapshot struct {
	Notes []*Note `json:"notes"`
	Edges []*Edge `json:"edges"`
}

// NotePatch describes a partial note update. Nil fields are left untouched
// by UpdateNote; set fields are written and included in the published change
// event. Content uses a pointer so "clear content" and "no change" stay
// distinguishable.
type NotePatch struct {
	Title      *string          `json:"title,omitempty"`
	Content    *json.RawMessage `json:"content,omitempty"`
	Position   *Point           `json:"position,omitempty"`
	Size       *Size            `json:"size,omitempty"`
	Color      *NoteColor       `json:"color,omitempty"`
	StackOrder *int64           `json:"stack_order,omitempty"`
	Tags       *[]string        `json:"tags,omitempty"`
}

// IsZero reports whether the patch changes nothing.
func (p *NotePatch) IsZero() bool {
	return p.Title == nil && p.Content == nil && p.Position == nil &&
		p.Size == nil && p.Color == nil && p.StackOrder == nil && p.Tags == nil
}

// ChangeOp is the kind of committed mutation a change event describes.
type ChangeOp string

const (
	OpInsert ChangeOp = "insert"
	OpUpdate ChangeOp = "update"
	OpDelete ChangeOp = "delete"
)

// EntityKind identifies which entity a change event concerns.
type EntityKind string

const (
	EntityNote EntityKind = "note"
	EntityEdge EntityKind = "edge"
)

// ChangeEvent is a committed-mutation notification published on the canvas
// change feed. Insert and update events carry the full entity row; delete
// events carry only the entity ID. Note deletion publishes a single note
// event - dependent edges are removed by the storage cascade and consumers
// must purge them locally rather than wait for edge delete events.
type ChangeEvent struct {
	Op       ChangeOp   `json:"op"`
	Entity   EntityKind `json:"entity"`
	EntityID string     `json:"entity_id"`
	Note     *Note      `json:"note,omitempty"`
	Edge     *Edge      `json:"edge,omitempty"`
}

// Validate checks if the Note has valid field values.
// Returns an error if any validation fails.
func (n *Note) Validate() error {
	if !isValidUUID(n.ID) {
		return fmt.Errorf("invalid note ID: not a valid UUID")
	}

	if n.CanvasID == "" {
		return fmt.Errorf("note canvas ID cannot be empty")
	}

	if err := n.Color.Validate(); err != nil {
		return fmt.Errorf("invalid note color: %w", err)
	}

	if n.Size.Width < 0 || n.Size.Height < 0 {
		return fmt.Errorf("invalid note size: %gx%g", n.Size.Width, n.Size.Height)
	}

	return nil
}

// Validate checks if the NoteColor is a valid enum value.
func (c NoteColor) Validate() error {
	switch c {
	case ColorDefault, ColorYellow, ColorGreen, ColorBlue,
		ColorPurple, ColorPink, ColorRed, ColorOrange:
		return nil
	default:
		return fmt.Errorf("unknown note color: %q", c)
	}
}

// Validate checks if the Edge has valid field values.
// Both endpoints must be set and distinct from each other is NOT required -
// self edges are allowed, matching the renderer's behavior.
func (e *Edge) Validate() error {
	if !isValidUUID(e.ID) {
		return fmt.Errorf("invalid edge ID: not a valid UUID")
	}

	if e.CanvasID == "" {
		return fmt.Errorf("edge canvas ID cannot be empty")
	}

	if !isValidUUID(e.SourceNoteID) {
		return fmt.Errorf("invalid source note ID: not a valid UUID")
	}

	if !isValidUUID(e.TargetNoteID) {
		return fmt.Errorf("invalid target note ID: not a valid UUID")
	}

	return nil
}

// Validate checks if the ChangeOp is a valid enum value.
func (op ChangeOp) Validate() error {
	switch op {
	case OpInsert, OpUpdate, OpDelete:
		return nil
	default:
		return fmt.Errorf("unknown change op: %q", op)
	}
}

// Validate checks if the EntityKind is a valid enum value.
func (k EntityKind) Validate() error {
	switch k {
	case EntityNote, EntityEdge:
		return nil
	default:
		return fmt.Errorf("unknown entity kind: %q", k)
	}
}

// Validate checks if the ChangeEvent has valid field values and that the
// payload matches the declared entity kind.
func (ev *ChangeEvent) Validate() error {
	if err := ev.Op.Validate(); err != nil {
		return fmt.Errorf("invalid change event: %w", err)
	}

	if err := ev.Entity.Validate(); err != nil {
		return fmt.Errorf("invalid change event: %w", err)
	}

	if ev.EntityID == "" {
		return fmt.Errorf("invalid change event: entity ID cannot be empty")
	}

	switch ev.Op {
	case OpInsert, OpUpdate:
		if ev.Entity == EntityNote && ev.Note == nil {
			return fmt.Errorf("invalid change event: %s note event missing note payload", ev.Op)
		}
		if ev.Entity == EntityEdge && ev.Edge == nil {
			return fmt.Errorf("invalid change event: %s edge event missing edge payload", ev.Op)
		}
	case OpDelete:
		// Delete events carry only the ID.
	}

	return nil
}

// isValidUUID checks if a string is a valid UUID format.
func isValidUUID(s string) bool {
	_, err := uuid.Parse(s)
	return err == nil
}
