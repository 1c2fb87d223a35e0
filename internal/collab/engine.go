package collab

import (
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/loomnotes/loom/internal/realtime"
	"github.com/loomnotes/loom/pkg/canvas"
)

// DefaultEchoWindow is the grace period during which an incoming durable
// content update for a note the local user just edited is discarded, so the
// editor never visually reverts mid-keystroke to the echo of its own write.
// A genuine concurrent remote edit inside this window is masked locally -
// known, accepted behavior preserved from the original system.
const DefaultEchoWindow = 1500 * time.Millisecond

// Collaborator is a connected remote participant as rendered locally:
// identity attributes from presence plus the latest broadcast cursor and
// selection state.
type Collaborator struct {
	ID          string
	DisplayName string
	Color       string
	Cursor      *canvas.Point
	Selection   []string
}

// TextCaret is a remote collaborator's caret range inside one note's
// document. At most one caret is tracked per collaborator; it expires when
// the collaborator leaves or the note is deleted.
type TextCaret struct {
	CollaboratorID string
	NoteID         string
	RangeStart     int
	RangeEnd       int
}

// Engine is the local reconciliation engine: the single owner of this
// client's rendered canvas state. It merges the initial snapshot, durable
// change feed events, and ephemeral broadcasts into one consistent view,
// applying the conflict policy:
//
//  1. Local optimistic writes take effect immediately and are never rolled
//     back by a failed durable write.
//  2. Incoming durable content for a note edited locally within the echo
//     window is discarded; all non-content fields still apply.
//  3. Broadcast and feed events apply in arrival order (last-write-wins by
//     arrival); during a drag the broadcast stream dominates by frequency
//     and the drag-release durable write is the convergence point.
//  4. Stack order is strictly monotonic over everything this engine has
//     observed.
//  5. Events referencing unknown collaborators or notes are dropped
//     silently.
//
// All methods are safe for concurrent use; readers receive copies.
type Engine struct {
	mu sync.Mutex

	localID    string
	echoWindow time.Duration
	now        func() time.Time

	notes         map[string]*canvas.Note
	edges         map[string]*canvas.Edge
	collaborators map[string]*Collaborator
	carets        map[string]*TextCaret // keyed by collaborator ID
	editHorizon   map[string]time.Time  // noteID -> last local content edit
	lastStack     int64                 // highest stack order observed so far
}

// NewEngine creates an engine for the given local collaborator.
// echoWindow <= 0 selects DefaultEchoWindow.
func NewEngine(localID string, echoWindow time.Duration) *Engine {
	if echoWindow <= 0 {
		echoWindow = DefaultEchoWindow
	}

	return &Engine{
		localID:       localID,
		echoWindow:    echoWindow,
		now:           time.Now,
		notes:         make(map[string]*canvas.Note),
		edges:         make(map[string]*canvas.Edge),
		collaborators: make(map[string]*Collaborator),
		carets:        make(map[string]*TextCaret),
		editHorizon:   make(map[string]time.Time),
	}
}

// LoadSnapshot replaces the durable portion of the engine state with a fresh
// storage snapshot. Ephemeral state (collaborators, carets) and the edit
// horizon survive: a reconnect must not blank the local editor's protection
// against its own in-flight echoes.
func (e *Engine) LoadSnapshot(snap *canvas.Snapshot) {
	e.mu.Lock()
	defer e.mu.Unlock()

	prior := e.notes
	e.notes = make(map[string]*canvas.Note, len(snap.Notes))
	for _, n := range snap.Notes {
		note := *n
		// Same echo rule as the feed: a snapshot fetched moments after a
		// local edit carries the pre-edit content, and must not revert it.
		if existing, ok := prior[note.ID]; ok {
			if horizon, edited := e.editHorizon[note.ID]; edited && e.now().Sub(horizon) < e.echoWindow {
				note.Content = existing.Content
			}
		}
		e.notes[note.ID] = &note
		e.observeStackLocked(note.StackOrder)
	}

	e.edges = make(map[string]*canvas.Edge, len(snap.Edges))
	for _, edge := range snap.Edges {
		copied := *edge
		e.edges[copied.ID] = &copied
	}
}

// ApplyChange merges one durable change feed event into local state.
func (e *Engine) ApplyChange(ev *canvas.ChangeEvent) {
	e.mu.Lock()
	defer e.mu.Unlock()

	switch ev.Entity {
	case canvas.EntityNote:
		switch ev.Op {
		case canvas.OpInsert:
			// The local client may have applied this note optimistically
			// already; an insert for a known ID is a no-op merge.
			if _, ok := e.notes[ev.EntityID]; ok {
				return
			}
			note := *ev.Note
			e.notes[note.ID] = &note
			e.observeStackLocked(note.StackOrder)

		case canvas.OpUpdate:
			e.applyNoteRowLocked(ev.Note)

		case canvas.OpDelete:
			e.deleteNoteLocked(ev.EntityID)
		}

	case canvas.EntityEdge:
		switch ev.Op {
		case canvas.OpInsert, canvas.OpUpdate:
			if _, ok := e.edges[ev.EntityID]; ok && ev.Op == canvas.OpInsert {
				return
			}
			edge := *ev.Edge
			e.edges[edge.ID] = &edge

		case canvas.OpDelete:
			delete(e.edges, ev.EntityID)
		}
	}
}

// applyNoteRowLocked merges a full incoming note row. An update for an
// unknown ID creates the note - the feed can race the snapshot fetch and a
// dropped event here would never be retransmitted. Content is kept local
// when the incoming row lands inside the echo window; every other field of
// the incoming row applies regardless.
func (e *Engine) applyNoteRowLocked(incoming *canvas.Note) {
	merged := *incoming

	if existing, ok := e.notes[incoming.ID]; ok {
		if horizon, edited := e.editHorizon[incoming.ID]; edited && e.now().Sub(horizon) < e.echoWindow {
			merged.Content = existing.Content
		}
	}

	e.notes[merged.ID] = &merged
	e.observeStackLocked(merged.StackOrder)
}

// deleteNoteLocked removes a note and, in the same pass, every edge
// referencing it, every remote selection entry naming it, and every remote
// text caret inside it. Receivers never wait for separate edge delete
// events - they may not arrive at all.
func (e *Engine) deleteNoteLocked(noteID string) {
	delete(e.notes, noteID)
	delete(e.editHorizon, noteID)

	for id, edge := range e.edges {
		if edge.SourceNoteID == noteID || edge.TargetNoteID == noteID {
			delete(e.edges, id)
		}
	}

	for _, c := range e.collaborators {
		c.Selection = removeString(c.Selection, noteID)
	}

	for collabID, caret := range e.carets {
		if caret.NoteID == noteID {
			delete(e.carets, collabID)
		}
	}
}

// ApplyBroadcast applies one ephemeral broadcast. Latest arrival wins per
// (kind, subject); frames from the local collaborator (Redis Pub/Sub
// delivers our own publishes back) and frames referencing unknown
// collaborators or notes are dropped silently.
func (e *Engine) ApplyBroadcast(msg realtime.Message) {
	e.mu.Lock()
	defer e.mu.Unlock()

	switch m := msg.(type) {
	case *realtime.CursorMessage:
		if m.CollaboratorID == e.localID {
			return
		}
		c, ok := e.collaborators[m.CollaboratorID]
		if !ok {
			return
		}
		point := m.Point
		c.Cursor = &point

	case *realtime.SelectionMessage:
		if m.CollaboratorID == e.localID {
			return
		}
		c, ok := e.collaborators[m.CollaboratorID]
		if !ok {
			return
		}
		c.Selection = append([]string(nil), m.NoteIDs...)

	case *realtime.NodeMoveMessage:
		if m.CollaboratorID == e.localID {
			return
		}
		note, ok := e.notes[m.NoteID]
		if !ok {
			return
		}
		// Transient render position only; the drag-release durable write is
		// what persists.
		note.Position = m.Point

	case *realtime.ContentUpdateMessage:
		if m.CollaboratorID == e.localID {
			return
		}
		note, ok := e.notes[m.NoteID]
		if !ok {
			return
		}
		note.Content = append(json.RawMessage(nil), m.Content...)

	case *realtime.TextCursorMessage:
		if m.CollaboratorID == e.localID {
			return
		}
		if _, ok := e.collaborators[m.CollaboratorID]; !ok {
			return
		}
		if _, ok := e.notes[m.NoteID]; !ok {
			return
		}
		e.carets[m.CollaboratorID] = &TextCaret{
			CollaboratorID: m.CollaboratorID,
			NoteID:         m.NoteID,
			RangeStart:     m.RangeStart,
			RangeEnd:       m.RangeEnd,
		}
	}
}

// ApplyPresenceSync replaces the collaborator set wholesale from a
// full-state sync. This is the only operation that mutates membership;
// carets of departed collaborators are dropped in the same pass.
func (e *Engine) ApplyPresenceSync(sync realtime.PresenceSync) {
	e.mu.Lock()
	defer e.mu.Unlock()

	next := make(map[string]*Collaborator, len(sync.Members))
	for id, record := range sync.Members {
		if id == e.localID {
			continue
		}
		c := &Collaborator{
			ID:          id,
			DisplayName: DisplayNameOrDerived(record.DisplayName, id),
			Color:       record.Color,
			Selection:   append([]string(nil), record.Selection...),
		}
		if record.Cursor != nil {
			point := *record.Cursor
			c.Cursor = &point
		}
		next[id] = c
	}
	e.collaborators = next

	for collabID := range e.carets {
		if _, ok := e.collaborators[collabID]; !ok {
			delete(e.carets, collabID)
		}
	}
}

// CreateLocal inserts a newly created note into local state. Creation is the
// one mutation that is durable-first (the server round-trip assigns nothing,
// but the note is only considered durable once the write succeeded), so by
// the time this runs the note already exists in storage and the feed insert
// becomes a no-op merge.
func (e *Engine) CreateLocal(n *canvas.Note) {
	e.mu.Lock()
	defer e.mu.Unlock()

	note := *n
	e.notes[note.ID] = &note
	e.observeStackLocked(note.StackOrder)
}

// MoveLocal optimistically repositions a note. Returns false for unknown IDs.
func (e *Engine) MoveLocal(noteID string, p canvas.Point) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	note, ok := e.notes[noteID]
	if !ok {
		return false
	}
	note.Position = p
	return true
}

// ResizeLocal optimistically resizes a note. Returns false for unknown IDs.
func (e *Engine) ResizeLocal(noteID string, size canvas.Size) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	note, ok := e.notes[noteID]
	if !ok {
		return false
	}
	note.Size = size
	return true
}

// SetColorLocal optimistically recolors a note.
func (e *Engine) SetColorLocal(noteID string, color canvas.NoteColor) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	note, ok := e.notes[noteID]
	if !ok {
		return false
	}
	note.Color = color
	return true
}

// SetTagsLocal optimistically replaces a note's tags.
func (e *Engine) SetTagsLocal(noteID string, tags []string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	note, ok := e.notes[noteID]
	if !ok {
		return false
	}
	note.Tags = append([]string(nil), tags...)
	return true
}

// SetTitleLocal optimistically retitles a note.
func (e *Engine) SetTitleLocal(noteID string, title string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	note, ok := e.notes[noteID]
	if !ok {
		return false
	}
	note.Title = title
	return true
}

// EditContentLocal optimistically applies a local content edit and records
// the edit horizon that shields the note from feed echoes for the duration
// of the echo window.
func (e *Engine) EditContentLocal(noteID string, content json.RawMessage) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	note, ok := e.notes[noteID]
	if !ok {
		return false
	}
	note.Content = append(json.RawMessage(nil), content...)
	e.editHorizon[noteID] = e.now()
	return true
}

// BringToFrontLocal assigns the note a stack order strictly greater than
// every value this engine has observed. Wall-clock milliseconds are the
// base (human-driven bring-to-front cannot realistically exceed one per
// millisecond); the observed-maximum guard breaks sub-millisecond ties.
// Cross-client clock skew is not corrected.
func (e *Engine) BringToFrontLocal(noteID string) (int64, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	note, ok := e.notes[noteID]
	if !ok {
		return 0, false
	}

	z := e.now().UnixMilli()
	if z <= e.lastStack {
		z = e.lastStack + 1
	}
	note.StackOrder = z
	e.lastStack = z
	return z, true
}

// DeleteLocal optimistically removes a note with full local cascade.
func (e *Engine) DeleteLocal(noteID string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.deleteNoteLocked(noteID)
}

// AddEdgeLocal optimistically inserts an edge.
func (e *Engine) AddEdgeLocal(edge *canvas.Edge) {
	e.mu.Lock()
	defer e.mu.Unlock()

	copied := *edge
	e.edges[copied.ID] = &copied
}

// RemoveEdgeLocal optimistically removes an edge.
func (e *Engine) RemoveEdgeLocal(edgeID string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	delete(e.edges, edgeID)
}

// Note returns a copy of one note.
func (e *Engine) Note(noteID string) (canvas.Note, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	note, ok := e.notes[noteID]
	if !ok {
		return canvas.Note{}, false
	}
	return *note, true
}

// Notes returns copies of all notes, ordered by stack order (back to front)
// with ID as the tie-break.
func (e *Engine) Notes() []canvas.Note {
	e.mu.Lock()
	defer e.mu.Unlock()

	notes := make([]canvas.Note, 0, len(e.notes))
	for _, n := range e.notes {
		notes = append(notes, *n)
	}
	sort.Slice(notes, func(i, j int) bool {
		if notes[i].StackOrder != notes[j].StackOrder {
			return notes[i].StackOrder < notes[j].StackOrder
		}
		return notes[i].ID < notes[j].ID
	})
	return notes
}

// Edge returns a copy of one edge.
func (e *Engine) Edge(edgeID string) (canvas.Edge, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	edge, ok := e.edges[edgeID]
	if !ok {
		return canvas.Edge{}, false
	}
	return *edge, true
}

// Edges returns copies of all edges, ordered by ID for determinism.
func (e *Engine) Edges() []canvas.Edge {
	e.mu.Lock()
	defer e.mu.Unlock()

	edges := make([]canvas.Edge, 0, len(e.edges))
	for _, edge := range e.edges {
		edges = append(edges, *edge)
	}
	sort.Slice(edges, func(i, j int) bool { return edges[i].ID < edges[j].ID })
	return edges
}

// Collaborator returns a copy of one remote collaborator.
func (e *Engine) Collaborator(id string) (Collaborator, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	c, ok := e.collaborators[id]
	if !ok {
		return Collaborator{}, false
	}
	return copyCollaborator(c), true
}

// Collaborators returns copies of all remote collaborators, ordered by ID.
func (e *Engine) Collaborators() []Collaborator {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]Collaborator, 0, len(e.collaborators))
	for _, c := range e.collaborators {
		out = append(out, copyCollaborator(c))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Carets returns copies of all remote text carets, ordered by collaborator.
func (e *Engine) Carets() []TextCaret {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]TextCaret, 0, len(e.carets))
	for _, caret := range e.carets {
		out = append(out, *caret)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CollaboratorID < out[j].CollaboratorID })
	return out
}

func (e *Engine) observeStackLocked(z int64) {
	if z > e.lastStack {
		e.lastStack = z
	}
}

func copyCollaborator(c *Collaborator) Collaborator {
	copied := Collaborator{
		ID:          c.ID,
		DisplayName: c.DisplayName,
		Color:       c.Color,
		Selection:   append([]string(nil), c.Selection...),
	}
	if c.Cursor != nil {
		point := *c.Cursor
		copied.Cursor = &point
	}
	return copied
}

func removeString(list []string, target string) []string {
	out := list[:0]
	for _, s := range list {
		if s != target {
			out = append(out, s)
		}
	}
	return out
}
