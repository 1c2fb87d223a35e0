package collab

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/loomnotes/loom/internal/realtime"
	"github.com/loomnotes/loom/pkg/canvas"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testEngine returns an engine with a controllable clock.
func testEngine(t *testing.T) (*Engine, *time.Time) {
	t.Helper()
	now := time.Unix(1700000000, 0)
	e := NewEngine("local-user", DefaultEchoWindow)
	e.now = func() time.Time { return now }
	return e, &now
}

func engineNote(id string) *canvas.Note {
	if id == "" {
		id = uuid.New().String()
	}
	return &canvas.Note{
		ID:          id,
		CanvasID:    "main",
		Title:       "note",
		Content:     json.RawMessage(`{"rev":1}`),
		Position:    canvas.Point{X: 10, Y: 10},
		Size:        canvas.Size{Width: 300, Height: 200},
		Color:       canvas.ColorDefault,
		StackOrder:  100,
		Tags:        []string{},
		CreatedAtMs: 1700000000000,
	}
}

func insertEvent(n *canvas.Note) *canvas.ChangeEvent {
	return &canvas.ChangeEvent{Op: canvas.OpInsert, Entity: canvas.EntityNote, EntityID: n.ID, Note: n}
}

func updateEvent(n *canvas.Note) *canvas.ChangeEvent {
	return &canvas.ChangeEvent{Op: canvas.OpUpdate, Entity: canvas.EntityNote, EntityID: n.ID, Note: n}
}

func TestApplyChange_InsertIdempotent(t *testing.T) {
	e, _ := testEngine(t)

	note := engineNote("")
	e.ApplyChange(insertEvent(note))

	// A second insert for the same ID must not clobber local edits
	require.True(t, e.SetTitleLocal(note.ID, "edited locally"))
	e.ApplyChange(insertEvent(note))

	got, ok := e.Note(note.ID)
	require.True(t, ok)
	assert.Equal(t, "edited locally", got.Title)
	assert.Len(t, e.Notes(), 1)
}

func TestApplyChange_UpdateForUnknownNoteCreatesIt(t *testing.T) {
	e, _ := testEngine(t)

	// The feed can race the snapshot fetch: an update may be the first time
	// this client hears of a note.
	note := engineNote("")
	e.ApplyChange(updateEvent(note))

	got, ok := e.Note(note.ID)
	require.True(t, ok)
	assert.Equal(t, note.Title, got.Title)
}

func TestApplyChange_EchoSuppression(t *testing.T) {
	t.Run("incoming content inside the window is discarded", func(t *testing.T) {
		e, now := testEngine(t)

		note := engineNote("")
		e.ApplyChange(insertEvent(note))

		require.True(t, e.EditContentLocal(note.ID, json.RawMessage(`{"rev":2}`)))

		// The echo of an earlier write arrives 500ms later
		*now = now.Add(500 * time.Millisecond)
		echo := *note
		echo.Content = json.RawMessage(`{"rev":1}`)
		echo.Position = canvas.Point{X: 999, Y: 999}
		e.ApplyChange(updateEvent(&echo))

		got, _ := e.Note(note.ID)
		assert.JSONEq(t, `{"rev":2}`, string(got.Content), "local content must survive the echo")
		assert.Equal(t, canvas.Point{X: 999, Y: 999}, got.Position, "non-content fields still apply")
	})

	t.Run("incoming content after the window applies", func(t *testing.T) {
		e, now := testEngine(t)

		note := engineNote("")
		e.ApplyChange(insertEvent(note))
		require.True(t, e.EditContentLocal(note.ID, json.RawMessage(`{"rev":2}`)))

		*now = now.Add(DefaultEchoWindow + time.Millisecond)
		remote := *note
		remote.Content = json.RawMessage(`{"rev":3}`)
		e.ApplyChange(updateEvent(&remote))

		got, _ := e.Note(note.ID)
		assert.JSONEq(t, `{"rev":3}`, string(got.Content))
	})

	t.Run("each local edit restarts the window", func(t *testing.T) {
		e, now := testEngine(t)

		note := engineNote("")
		e.ApplyChange(insertEvent(note))
		require.True(t, e.EditContentLocal(note.ID, json.RawMessage(`{"rev":2}`)))

		*now = now.Add(1 * time.Second)
		require.True(t, e.EditContentLocal(note.ID, json.RawMessage(`{"rev":3}`)))

		// 1s after the second edit, 2s after the first: still inside
		*now = now.Add(1 * time.Second)
		echo := *note
		echo.Content = json.RawMessage(`{"rev":1}`)
		e.ApplyChange(updateEvent(&echo))

		got, _ := e.Note(note.ID)
		assert.JSONEq(t, `{"rev":3}`, string(got.Content))
	})
}

func TestApplyChange_DeleteCascadesLocally(t *testing.T) {
	e, _ := testEngine(t)

	a, b := engineNote(""), engineNote("")
	e.ApplyChange(insertEvent(a))
	e.ApplyChange(insertEvent(b))

	edge := &canvas.Edge{
		ID:           uuid.New().String(),
		CanvasID:     "main",
		SourceNoteID: a.ID,
		TargetNoteID: b.ID,
	}
	e.ApplyChange(&canvas.ChangeEvent{Op: canvas.OpInsert, Entity: canvas.EntityEdge, EntityID: edge.ID, Edge: edge})

	// A remote collaborator has a selecting and a caret inside note a
	remote := uuid.New().String()
	e.ApplyPresenceSync(realtime.PresenceSync{Members: map[string]realtime.PresenceRecord{
		remote: {ID: remote, DisplayName: "remote"},
	}})
	e.ApplyBroadcast(&realtime.SelectionMessage{CollaboratorID: remote, NoteIDs: []string{a.ID, b.ID}})
	e.ApplyBroadcast(&realtime.TextCursorMessage{CollaboratorID: remote, NoteID: a.ID, RangeStart: 0, RangeEnd: 4})

	// Only a note delete event arrives; no edge event follows
	e.ApplyChange(&canvas.ChangeEvent{Op: canvas.OpDelete, Entity: canvas.EntityNote, EntityID: a.ID})

	_, ok := e.Note(a.ID)
	assert.False(t, ok)
	assert.Empty(t, e.Edges(), "dangling edge must be purged")
	assert.Empty(t, e.Carets(), "caret inside the deleted note must be purged")

	c, ok := e.Collaborator(remote)
	require.True(t, ok)
	assert.Equal(t, []string{b.ID}, c.Selection, "stale selection entry must be dropped")
}

func TestApplyChange_StaleEdgeDeleteIgnored(t *testing.T) {
	e, _ := testEngine(t)

	e.ApplyChange(&canvas.ChangeEvent{Op: canvas.OpDelete, Entity: canvas.EntityEdge, EntityID: uuid.New().String()})
	assert.Empty(t, e.Edges())
}

func TestApplyBroadcast(t *testing.T) {
	remote := uuid.New().String()

	setup := func(t *testing.T) (*Engine, *canvas.Note) {
		e, _ := testEngine(t)
		note := engineNote("")
		e.ApplyChange(insertEvent(note))
		e.ApplyPresenceSync(realtime.PresenceSync{Members: map[string]realtime.PresenceRecord{
			remote: {ID: remote, DisplayName: "remote"},
		}})
		return e, note
	}

	t.Run("cursor updates a known collaborator", func(t *testing.T) {
		e, _ := setup(t)
		e.ApplyBroadcast(&realtime.CursorMessage{CollaboratorID: remote, Point: canvas.Point{X: 7, Y: 8}})

		c, ok := e.Collaborator(remote)
		require.True(t, ok)
		require.NotNil(t, c.Cursor)
		assert.Equal(t, canvas.Point{X: 7, Y: 8}, *c.Cursor)
	})

	t.Run("own frames are dropped", func(t *testing.T) {
		e, note := setup(t)

		// Redis delivers our own publishes back; they must not apply
		e.ApplyBroadcast(&realtime.ContentUpdateMessage{
			CollaboratorID: "local-user",
			NoteID:         note.ID,
			Content:        json.RawMessage(`{"stale":true}`),
		})

		got, _ := e.Note(note.ID)
		assert.JSONEq(t, string(note.Content), string(got.Content))
	})

	t.Run("unknown collaborator is ignored", func(t *testing.T) {
		e, _ := setup(t)
		ghost := uuid.New().String()
		e.ApplyBroadcast(&realtime.CursorMessage{CollaboratorID: ghost, Point: canvas.Point{X: 1, Y: 1}})

		_, ok := e.Collaborator(ghost)
		assert.False(t, ok)
	})

	t.Run("node move repositions a known note", func(t *testing.T) {
		e, note := setup(t)
		e.ApplyBroadcast(&realtime.NodeMoveMessage{CollaboratorID: remote, NoteID: note.ID, Point: canvas.Point{X: 55, Y: 66}})

		got, _ := e.Note(note.ID)
		assert.Equal(t, canvas.Point{X: 55, Y: 66}, got.Position)
	})

	t.Run("node move for unknown note is ignored", func(t *testing.T) {
		e, _ := setup(t)
		e.ApplyBroadcast(&realtime.NodeMoveMessage{CollaboratorID: remote, NoteID: uuid.New().String(), Point: canvas.Point{X: 1, Y: 1}})
		assert.Len(t, e.Notes(), 1)
	})

	t.Run("content update applies ahead of the durable write", func(t *testing.T) {
		e, note := setup(t)
		e.ApplyBroadcast(&realtime.ContentUpdateMessage{
			CollaboratorID: remote,
			NoteID:         note.ID,
			Content:        json.RawMessage(`{"rev":9}`),
		})

		got, _ := e.Note(note.ID)
		assert.JSONEq(t, `{"rev":9}`, string(got.Content))
	})

	t.Run("text cursor tracks one caret per collaborator", func(t *testing.T) {
		e, note := setup(t)
		e.ApplyBroadcast(&realtime.TextCursorMessage{CollaboratorID: remote, NoteID: note.ID, RangeStart: 1, RangeEnd: 3})
		e.ApplyBroadcast(&realtime.TextCursorMessage{CollaboratorID: remote, NoteID: note.ID, RangeStart: 5, RangeEnd: 5})

		carets := e.Carets()
		require.Len(t, carets, 1)
		assert.Equal(t, 5, carets[0].RangeStart)
	})
}

func TestApplyPresenceSync(t *testing.T) {
	t.Run("replaces membership wholesale", func(t *testing.T) {
		e, _ := testEngine(t)

		a, b := uuid.New().String(), uuid.New().String()
		e.ApplyPresenceSync(realtime.PresenceSync{Members: map[string]realtime.PresenceRecord{
			a: {ID: a, DisplayName: "a"},
			b: {ID: b, DisplayName: "b"},
		}})
		assert.Len(t, e.Collaborators(), 2)

		// Next sync no longer contains b
		e.ApplyPresenceSync(realtime.PresenceSync{Members: map[string]realtime.PresenceRecord{
			a: {ID: a, DisplayName: "a"},
		}})
		collaborators := e.Collaborators()
		require.Len(t, collaborators, 1)
		assert.Equal(t, a, collaborators[0].ID)
	})

	t.Run("excludes the local identity", func(t *testing.T) {
		e, _ := testEngine(t)

		e.ApplyPresenceSync(realtime.PresenceSync{Members: map[string]realtime.PresenceRecord{
			"local-user": {ID: "local-user"},
		}})
		assert.Empty(t, e.Collaborators())
	})

	t.Run("derives display names", func(t *testing.T) {
		e, _ := testEngine(t)

		// No display name: fall back to the email local part of the ID
		id := "carol@example.com"
		e.ApplyPresenceSync(realtime.PresenceSync{Members: map[string]realtime.PresenceRecord{
			id: {ID: id},
		}})

		c, ok := e.Collaborator(id)
		require.True(t, ok)
		assert.Equal(t, "carol", c.DisplayName)
	})

	t.Run("drops carets of departed collaborators", func(t *testing.T) {
		e, _ := testEngine(t)

		note := engineNote("")
		e.ApplyChange(insertEvent(note))

		remote := uuid.New().String()
		e.ApplyPresenceSync(realtime.PresenceSync{Members: map[string]realtime.PresenceRecord{
			remote: {ID: remote},
		}})
		e.ApplyBroadcast(&realtime.TextCursorMessage{CollaboratorID: remote, NoteID: note.ID, RangeStart: 0, RangeEnd: 1})
		require.Len(t, e.Carets(), 1)

		e.ApplyPresenceSync(realtime.PresenceSync{Members: map[string]realtime.PresenceRecord{}})
		assert.Empty(t, e.Carets())
	})
}

func TestBringToFrontLocal_StrictlyMonotonic(t *testing.T) {
	e, now := testEngine(t)

	a, b := engineNote(""), engineNote("")
	e.ApplyChange(insertEvent(a))
	e.ApplyChange(insertEvent(b))

	// Frozen clock: wall-clock milliseconds alone would tie
	z1, ok := e.BringToFrontLocal(a.ID)
	require.True(t, ok)
	z2, ok := e.BringToFrontLocal(b.ID)
	require.True(t, ok)
	assert.Greater(t, z2, z1)

	// A higher stack order observed from the feed raises the floor
	remote := engineNote("")
	remote.StackOrder = z2 + 1000
	e.ApplyChange(insertEvent(remote))

	z3, ok := e.BringToFrontLocal(a.ID)
	require.True(t, ok)
	assert.Greater(t, z3, remote.StackOrder)

	// And with the clock ahead of the floor, wall-clock wins
	*now = now.Add(time.Hour)
	z4, ok := e.BringToFrontLocal(b.ID)
	require.True(t, ok)
	assert.Equal(t, now.UnixMilli(), z4)
}

func TestLoadSnapshot(t *testing.T) {
	t.Run("replaces durable state", func(t *testing.T) {
		e, _ := testEngine(t)

		stale := engineNote("")
		e.ApplyChange(insertEvent(stale))

		fresh := engineNote("")
		e.LoadSnapshot(&canvas.Snapshot{Notes: []*canvas.Note{fresh}})

		_, ok := e.Note(stale.ID)
		assert.False(t, ok)
		_, ok = e.Note(fresh.ID)
		assert.True(t, ok)
	})

	t.Run("keeps collaborators and the edit horizon", func(t *testing.T) {
		e, now := testEngine(t)

		note := engineNote("")
		e.ApplyChange(insertEvent(note))

		remote := uuid.New().String()
		e.ApplyPresenceSync(realtime.PresenceSync{Members: map[string]realtime.PresenceRecord{
			remote: {ID: remote},
		}})
		require.True(t, e.EditContentLocal(note.ID, json.RawMessage(`{"rev":2}`)))

		// Reconnect: snapshot carries the pre-edit content
		e.LoadSnapshot(&canvas.Snapshot{Notes: []*canvas.Note{note}})

		assert.Len(t, e.Collaborators(), 1, "presence must survive reconnect")

		reloaded, _ := e.Note(note.ID)
		assert.JSONEq(t, `{"rev":2}`, string(reloaded.Content), "snapshot must not revert a fresh local edit")

		// The echo arriving right after the reload is still suppressed
		*now = now.Add(100 * time.Millisecond)
		echo := *note
		echo.Content = json.RawMessage(`{"rev":1}`)
		e.ApplyChange(updateEvent(&echo))

		got, _ := e.Note(note.ID)
		assert.JSONEq(t, `{"rev":2}`, string(got.Content))
	})
}

func TestNotesOrdering(t *testing.T) {
	e, _ := testEngine(t)

	back := engineNote("")
	back.StackOrder = 10
	front := engineNote("")
	front.StackOrder = 20
	e.ApplyChange(insertEvent(front))
	e.ApplyChange(insertEvent(back))

	notes := e.Notes()
	require.Len(t, notes, 2)
	assert.Equal(t, back.ID, notes[0].ID)
	assert.Equal(t, front.ID, notes[1].ID)
}

func TestAccessorsReturnCopies(t *testing.T) {
	e, _ := testEngine(t)

	note := engineNote("")
	e.ApplyChange(insertEvent(note))

	got, _ := e.Note(note.ID)
	got.Title = "mutated copy"

	fresh, _ := e.Note(note.ID)
	assert.Equal(t, note.Title, fresh.Title)
}
