package collab

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/loomnotes/loom/internal/realtime"
	"github.com/loomnotes/loom/pkg/canvas"
	"github.com/redis/go-redis/v9"
)

// Default geometry for newly created notes.
const (
	DefaultNoteWidth  = 300
	DefaultNoteHeight = 200
)

// durableWriteTimeout bounds the background goroutine issued per optimistic
// durable write, so a wedged Redis cannot accumulate goroutines forever.
const durableWriteTimeout = 5 * time.Second

// Tuning holds the session's adjustable collaboration constants.
// Zero values select the defaults.
type Tuning struct {
	CursorThrottle     time.Duration
	ContentThrottle    time.Duration
	TextCursorThrottle time.Duration
	EchoWindow         time.Duration
}

// withDefaults fills zero fields with the default constants.
func (t Tuning) withDefaults() Tuning {
	if t.CursorThrottle <= 0 {
		t.CursorThrottle = DefaultCursorThrottle
	}
	if t.ContentThrottle <= 0 {
		t.ContentThrottle = DefaultContentThrottle
	}
	if t.TextCursorThrottle <= 0 {
		t.TextCursorThrottle = DefaultTextCursorThrottle
	}
	if t.EchoWindow <= 0 {
		t.EchoWindow = DefaultEchoWindow
	}
	return t
}

// Session is one collaborator's live connection to one canvas: the durable
// store plus change feed, the realtime presence/broadcast channel, and the
// reconciliation engine that merges them. It is explicitly constructed and
// explicitly owned - one session per canvas view, opened once, closed on
// navigation away. There are no cached module-level connections.
//
// Every local mutation is applied to the engine immediately (optimistic),
// broadcast to other viewers where appropriate, and written durably in the
// background. A failed durable write is logged and never rolled back or
// retried; the session accepts eventual divergence in that failure case.
type Session struct {
	identity Identity
	canvasID string
	tuning   Tuning

	redisOpts *redis.Options
	store     *canvas.Store
	engine    *Engine

	// channel is nil when the realtime subscription could not be opened:
	// degraded single-user mode with empty membership.
	channel *realtime.Channel
	feed    *canvas.ChangeFeed

	cursorGate  *Gate
	contentGate *Gate
	textGate    *Gate

	cancel    context.CancelFunc
	wg        sync.WaitGroup
	closeOnce sync.Once
	opened    bool
}

// NewSession creates a session for one canvas and collaborator.
// The session owns its store connection; call Close to release everything.
func NewSession(redisOpts *redis.Options, canvasID string, identity Identity, tuning Tuning) (*Session, error) {
	if identity.ID == "" {
		return nil, ErrUnauthenticated
	}

	store, err := canvas.NewStore(redisOpts, canvasID)
	if err != nil {
		return nil, err
	}

	tuning = tuning.withDefaults()

	return &Session{
		identity:    identity,
		canvasID:    canvasID,
		tuning:      tuning,
		redisOpts:   redisOpts,
		store:       store,
		engine:      NewEngine(identity.ID, tuning.EchoWindow),
		cursorGate:  NewGate(tuning.CursorThrottle),
		contentGate: NewGate(tuning.ContentThrottle),
		textGate:    NewGate(tuning.TextCursorThrottle),
	}, nil
}

// Open loads the canvas snapshot, attaches the durable change feed, joins
// the realtime channel, and starts the reconciliation loop.
//
// Realtime channel failure is non-fatal: the session logs it once and keeps
// serving local edits with zero collaborators visible. Snapshot or feed
// failure is fatal - without them there is nothing consistent to render.
func (s *Session) Open(ctx context.Context) error {
	if s.opened {
		return fmt.Errorf("session already open")
	}

	snapshot, err := s.store.FetchSnapshot(ctx)
	if err != nil {
		return fmt.Errorf("failed to fetch canvas snapshot: %w", err)
	}
	s.engine.LoadSnapshot(snapshot)

	runCtx, cancel := context.WithCancel(context.Background())

	feed, err := s.store.SubscribeChanges(runCtx)
	if err != nil {
		cancel()
		return fmt.Errorf("failed to subscribe to change feed: %w", err)
	}
	s.feed = feed
	s.cancel = cancel

	record := realtime.PresenceRecord{
		ID:          s.identity.ID,
		DisplayName: s.identity.DisplayName,
		Color:       s.identity.Color,
	}
	channel, err := realtime.Join(ctx, s.redisOpts, s.canvasID, record)
	if err != nil {
		// Degraded mode: canvas stays fully usable single-user.
		log.Printf("[WARN] realtime channel unavailable for canvas %s, continuing without collaborators: %v", s.canvasID, err)
	} else {
		s.channel = channel
	}

	s.wg.Add(1)
	go s.run(runCtx)

	s.opened = true
	log.Printf("[INFO] collaboration session open: canvas=%s collaborator=%s", s.canvasID, s.identity.ID)
	return nil
}

// run is the reconciliation loop: the single consumer of the change feed and
// the realtime channel, feeding everything into the engine in arrival order.
func (s *Session) run(ctx context.Context) {
	defer s.wg.Done()

	feedEvents := s.feed.Events()
	feedErrors := s.feed.Errors()

	var syncs <-chan realtime.PresenceSync
	var broadcasts <-chan realtime.Message
	var channelErrors <-chan error
	if s.channel != nil {
		syncs = s.channel.Syncs()
		broadcasts = s.channel.Broadcasts()
		channelErrors = s.channel.Errors()
	}

	for {
		select {
		case <-ctx.Done():
			return

		case ev, ok := <-feedEvents:
			if !ok {
				feedEvents = nil
				continue
			}
			s.engine.ApplyChange(ev)

		case err, ok := <-feedErrors:
			if !ok {
				feedErrors = nil
				continue
			}
			log.Printf("[DEBUG] change feed error on canvas %s: %v", s.canvasID, err)

		case psync, ok := <-syncs:
			if !ok {
				syncs = nil
				continue
			}
			s.engine.ApplyPresenceSync(psync)

		case msg, ok := <-broadcasts:
			if !ok {
				broadcasts = nil
				continue
			}
			s.engine.ApplyBroadcast(msg)

		case err, ok := <-channelErrors:
			if !ok {
				channelErrors = nil
				continue
			}
			log.Printf("[DEBUG] realtime channel error on canvas %s: %v", s.canvasID, err)
		}
	}
}

// Close leaves the realtime channel, stops the reconciliation loop, and
// releases every connection. Idempotent; must be invoked on teardown (page
// navigation, shutdown, explicit disconnect).
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		if s.channel != nil {
			s.channel.Close()
		}
		if s.feed != nil {
			s.feed.Close()
		}
		if s.cancel != nil {
			s.cancel()
		}
		s.wg.Wait()
		s.store.Close()
		log.Printf("[INFO] collaboration session closed: canvas=%s collaborator=%s", s.canvasID, s.identity.ID)
	})
	return nil
}

// Identity returns the local collaborator identity.
func (s *Session) Identity() Identity {
	return s.identity
}

// CanvasID returns the canvas this session is attached to.
func (s *Session) CanvasID() string {
	return s.canvasID
}

// Degraded reports whether the session is running without a realtime
// channel (no presence, no broadcasts).
func (s *Session) Degraded() bool {
	return s.channel == nil
}

// CreateNote creates a note at the given position with default geometry and
// color. Creation is the one durable-first mutation: the note counts as
// existing only after the storage write succeeds, and only then enters the
// local render state (the feed's echo insert then no-ops).
func (s *Session) CreateNote(ctx context.Context, position canvas.Point) (*canvas.Note, error) {
	note := &canvas.Note{
		ID:          uuid.New().String(),
		CanvasID:    s.canvasID,
		Position:    position,
		Size:        canvas.Size{Width: DefaultNoteWidth, Height: DefaultNoteHeight},
		Color:       canvas.ColorDefault,
		StackOrder:  time.Now().UnixMilli(),
		Tags:        []string{},
		CreatedAtMs: time.Now().UnixMilli(),
	}

	if err := s.store.CreateNote(ctx, note); err != nil {
		return nil, err
	}

	s.engine.CreateLocal(note)
	return note, nil
}

// MoveNote applies one drag sample: optimistic local position plus an
// immediate node-move broadcast so other viewers track the drag live.
// Nothing is persisted until ReleaseNote.
func (s *Session) MoveNote(noteID string, p canvas.Point) {
	if !s.engine.MoveLocal(noteID, p) {
		return
	}
	s.broadcast(&realtime.NodeMoveMessage{
		CollaboratorID: s.identity.ID,
		NoteID:         noteID,
		Point:          p,
	})
}

// ReleaseNote persists the note's current position at drag end. This durable
// write is the convergence point every viewer settles on.
func (s *Session) ReleaseNote(noteID string) {
	note, ok := s.engine.Note(noteID)
	if !ok {
		return
	}
	position := note.Position
	s.asyncPatch(noteID, &canvas.NotePatch{Position: &position}, "position")
}

// ResizeNote optimistically resizes a note and persists the new size.
func (s *Session) ResizeNote(noteID string, size canvas.Size) {
	if !s.engine.ResizeLocal(noteID, size) {
		return
	}
	s.asyncPatch(noteID, &canvas.NotePatch{Size: &size}, "size")
}

// SetNoteColor optimistically recolors a note and persists the change.
func (s *Session) SetNoteColor(noteID string, color canvas.NoteColor) {
	if !s.engine.SetColorLocal(noteID, color) {
		return
	}
	s.asyncPatch(noteID, &canvas.NotePatch{Color: &color}, "color")
}

// SetNoteTitle optimistically retitles a note and persists the change.
func (s *Session) SetNoteTitle(noteID string, title string) {
	if !s.engine.SetTitleLocal(noteID, title) {
		return
	}
	s.asyncPatch(noteID, &canvas.NotePatch{Title: &title}, "title")
}

// SetNoteTags optimistically replaces a note's tags and persists the change.
func (s *Session) SetNoteTags(noteID string, tags []string) {
	if !s.engine.SetTagsLocal(noteID, tags) {
		return
	}
	s.asyncPatch(noteID, &canvas.NotePatch{Tags: &tags}, "tags")
}

// EditContent applies a local content edit: optimistic engine state with the
// edit horizon recorded, a content-update broadcast coalesced to one per
// throttle interval per note, and a background durable write per edit.
func (s *Session) EditContent(noteID string, content json.RawMessage) {
	if !s.engine.EditContentLocal(noteID, content) {
		return
	}

	if s.contentGate.Allow(noteID) {
		s.broadcast(&realtime.ContentUpdateMessage{
			CollaboratorID: s.identity.ID,
			NoteID:         noteID,
			Content:        content,
		})
	}

	raw := append(json.RawMessage(nil), content...)
	s.asyncPatch(noteID, &canvas.NotePatch{Content: &raw}, "content")
}

// BringToFront assigns the note the canvas's next stack order and persists
// it. The optimistically rendered value and the durable value are identical,
// so the feed echo is a pure no-op visually.
func (s *Session) BringToFront(noteID string) {
	z, ok := s.engine.BringToFrontLocal(noteID)
	if !ok {
		return
	}
	s.asyncPatch(noteID, &canvas.NotePatch{StackOrder: &z}, "stack order")
}

// DeleteNote optimistically removes the note (with full local cascade) and
// issues the durable delete in the background. Storage cascades dependent
// edges on its side.
func (s *Session) DeleteNote(noteID string) {
	s.engine.DeleteLocal(noteID)
	s.contentGate.Forget(noteID)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), durableWriteTimeout)
		defer cancel()
		if err := s.store.DeleteNote(ctx, noteID); err != nil {
			log.Printf("[WARN] durable delete failed for note %s: %v", noteID, err)
		}
	}()
}

// AddEdge optimistically connects two notes and persists the edge in the
// background. Returns the locally rendered edge.
func (s *Session) AddEdge(sourceNoteID, targetNoteID, sourceHandle, targetHandle string) *canvas.Edge {
	edge := &canvas.Edge{
		ID:           uuid.New().String(),
		CanvasID:     s.canvasID,
		SourceNoteID: sourceNoteID,
		TargetNoteID: targetNoteID,
		SourceHandle: sourceHandle,
		TargetHandle: targetHandle,
		CreatedAtMs:  time.Now().UnixMilli(),
	}

	s.engine.AddEdgeLocal(edge)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), durableWriteTimeout)
		defer cancel()
		if err := s.store.CreateEdge(ctx, edge); err != nil {
			log.Printf("[WARN] durable create failed for edge %s: %v", edge.ID, err)
		}
	}()

	return edge
}

// RemoveEdge optimistically disconnects an edge and persists the removal.
func (s *Session) RemoveEdge(edgeID string) {
	s.engine.RemoveEdgeLocal(edgeID)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), durableWriteTimeout)
		defer cancel()
		if err := s.store.DeleteEdge(ctx, edgeID); err != nil {
			log.Printf("[WARN] durable delete failed for edge %s: %v", edgeID, err)
		}
	}()
}

// SetCursor broadcasts the local pointer position, coalesced to one send
// per throttle interval; intermediate positions are dropped.
func (s *Session) SetCursor(p canvas.Point) {
	if !s.cursorGate.Allow(s.identity.ID) {
		return
	}
	s.broadcast(&realtime.CursorMessage{
		CollaboratorID: s.identity.ID,
		Point:          p,
	})
}

// SetSelection broadcasts the local selection set. Selection changes are
// discrete user actions, so they are not throttled.
func (s *Session) SetSelection(noteIDs []string) {
	s.broadcast(&realtime.SelectionMessage{
		CollaboratorID: s.identity.ID,
		NoteIDs:        noteIDs,
	})
}

// SetTextCursor broadcasts the local caret range inside a note, coalesced to
// one send per throttle interval.
func (s *Session) SetTextCursor(noteID string, rangeStart, rangeEnd int) {
	if !s.textGate.Allow(s.identity.ID) {
		return
	}
	s.broadcast(&realtime.TextCursorMessage{
		CollaboratorID: s.identity.ID,
		NoteID:         noteID,
		RangeStart:     rangeStart,
		RangeEnd:       rangeEnd,
	})
}

// Notes returns the locally rendered notes, back to front.
func (s *Session) Notes() []canvas.Note {
	return s.engine.Notes()
}

// Note returns one locally rendered note.
func (s *Session) Note(noteID string) (canvas.Note, bool) {
	return s.engine.Note(noteID)
}

// Edges returns the locally rendered edges.
func (s *Session) Edges() []canvas.Edge {
	return s.engine.Edges()
}

// Collaborators returns the remote collaborators currently online.
func (s *Session) Collaborators() []Collaborator {
	return s.engine.Collaborators()
}

// Carets returns the remote text carets currently visible.
func (s *Session) Carets() []TextCaret {
	return s.engine.Carets()
}

// broadcast fires one message at the realtime channel. Broadcasts are
// expendable by contract, so failures are logged at debug level and
// otherwise ignored; in degraded mode this is a no-op.
func (s *Session) broadcast(msg realtime.Message) {
	if s.channel == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), durableWriteTimeout)
	defer cancel()
	if err := s.channel.Send(ctx, msg); err != nil {
		log.Printf("[DEBUG] %s broadcast dropped on canvas %s: %v", msg.Kind(), s.canvasID, err)
	}
}

// asyncPatch issues a background durable note update. Failure is logged and
// the optimistic state is kept - no rollback, no retry queue.
func (s *Session) asyncPatch(noteID string, patch *canvas.NotePatch, what string) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), durableWriteTimeout)
		defer cancel()
		if _, err := s.store.UpdateNote(ctx, noteID, patch); err != nil {
			log.Printf("[WARN] durable %s write failed for note %s: %v", what, noteID, err)
		}
	}()
}
