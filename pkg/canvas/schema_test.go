package canvas

import (
	"strings"
	"testing"

	"github.com/google/uuid"
)

// TestNoteKey tests note key generation
func TestNoteKey(t *testing.T) {
	canvasID := "team-retro"
	noteID := uuid.New().String()

	key := NoteKey(canvasID, noteID)

	expected := "loom:team-retro:note:" + noteID
	if key != expected {
		t.Errorf("NoteKey() = %q, expected %q", key, expected)
	}

	// Verify format
	if !strings.HasPrefix(key, "loom:") {
		t.Error("note key should start with 'loom:'")
	}
	if !strings.Contains(key, ":note:") {
		t.Error("note key should contain ':note:'")
	}
}

// TestEdgeKey tests edge key generation
func TestEdgeKey(t *testing.T) {
	canvasID := "main"
	edgeID := uuid.New().String()

	key := EdgeKey(canvasID, edgeID)

	expected := "loom:main:edge:" + edgeID
	if key != expected {
		t.Errorf("EdgeKey() = %q, expected %q", key, expected)
	}
}

// TestIndexKeys tests the canvas-wide index key generation
func TestIndexKeys(t *testing.T) {
	if got := NoteIndexKey("main"); got != "loom:main:notes" {
		t.Errorf("NoteIndexKey() = %q, expected %q", got, "loom:main:notes")
	}
	if got := EdgeIndexKey("main"); got != "loom:main:edges" {
		t.Errorf("EdgeIndexKey() = %q, expected %q", got, "loom:main:edges")
	}
}

// TestNoteEdgesKey tests the per-note edge index key generation
func TestNoteEdgesKey(t *testing.T) {
	noteID := uuid.New().String()

	key := NoteEdgesKey("main", noteID)

	expected := "loom:main:note:" + noteID + ":edges"
	if key != expected {
		t.Errorf("NoteEdgesKey() = %q, expected %q", key, expected)
	}
}

// TestChannelNames tests pub/sub channel name generation
func TestChannelNames(t *testing.T) {
	if got := ChangeEventsChannel("main"); got != "loom:main:change_events" {
		t.Errorf("ChangeEventsChannel() = %q, expected %q", got, "loom:main:change_events")
	}
	if got := RealtimeChannel("main"); got != "loom:main:realtime" {
		t.Errorf("RealtimeChannel() = %q, expected %q", got, "loom:main:realtime")
	}
	if got := PresenceKey("main"); got != "loom:main:presence" {
		t.Errorf("PresenceKey() = %q, expected %q", got, "loom:main:presence")
	}
}

// TestCanvasIsolation tests that different canvases produce different keys
func TestCanvasIsolation(t *testing.T) {
	noteID := uuid.New().String()

	key1 := NoteKey("canvas-1", noteID)
	key2 := NoteKey("canvas-2", noteID)

	if key1 == key2 {
		t.Error("different canvases should produce different keys")
	}
}
