package canvas

import "fmt"

// Redis key pattern helpers
//
// All Redis keys and Pub/Sub channels are namespaced by canvas ID so that
// multiple canvases can safely coexist on a single Redis server.
//
// Key pattern: loom:{canvas_id}:{entity}:{uuid}
// Channel pattern: loom:{canvas_id}:{purpose}

// NoteKey returns the Redis key for a note hash.
// Pattern: loom:{canvas_id}:note:{note_id}
func NoteKey(canvasID, noteID string) string {
	return fmt.Sprintf("loom:%s:note:%s", canvasID, noteID)
}

// NoteIndexKey returns the Redis key for the canvas's note ID set.
// Pattern: loom:{canvas_id}:notes
func NoteIndexKey(canvasID string) string {
	return fmt.Sprintf("loom:%s:notes", canvasID)
}

// EdgeKey returns the Redis key for an edge hash.
// Pattern: loom:{canvas_id}:edge:{edge_id}
func EdgeKey(canvasID, edgeID string) string {
	return fmt.Sprintf("loom:%s:edge:%s", canvasID, edgeID)
}

// EdgeIndexKey returns the Redis key for the canvas's edge ID set.
// Pattern: loom:{canvas_id}:edges
func EdgeIndexKey(canvasID string) string {
	return fmt.Sprintf("loom:%s:edges", canvasID)
}

// NoteEdgesKey returns the Redis key for the set of edge IDs touching a note.
// This index is what makes note deletion cascade to dependent edges in a
// single pipeline.
// Pattern: loom:{canvas_id}:note:{note_id}:edges
func NoteEdgesKey(canvasID, noteID string) string {
	return fmt.Sprintf("loom:%s:note:%s:edges", canvasID, noteID)
}

// ChangeEventsChannel returns the Pub/Sub channel name for the canvas's
// durable change feed. Committed note/edge mutations are published here as
// full-entity JSON change events.
// Pattern: loom:{canvas_id}:change_events
func ChangeEventsChannel(canvasID string) string {
	return fmt.Sprintf("loom:%s:change_events", canvasID)
}

// PresenceKey returns the Redis key for the canvas's presence hash, keyed by
// collaborator ID. The hash is the source of truth for full-state presence
// syncs; it is never read incrementally.
// Pattern: loom:{canvas_id}:presence
func PresenceKey(canvasID string) string {
	return fmt.Sprintf("loom:%s:presence", canvasID)
}

// RealtimeChannel returns the Pub/Sub channel name shared by presence
// notifications and ephemeral broadcasts for a canvas.
// Pattern: loom:{canvas_id}:realtime
func RealtimeChannel(canvasID string) string {
	return fmt.Sprintf("loom:%s:realtime", canvasID)
}
