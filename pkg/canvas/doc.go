// Package canvas provides type-safe Go definitions and Redis schema patterns
// for Loom's durable canvas state.
//
// # Overview
//
// A canvas is a named workspace holding notes (positioned, resizable,
// rich-content items) and directed edges connecting them. The store is the
// durable half of Loom's collaboration model: every committed mutation is
// written to Redis and then published as a full-entity change event, so every
// connected client converges on the same state without polling.
//
// The ephemeral half (presence, cursors, live drags) lives in
// internal/realtime and is intentionally not persisted here.
//
// # Core concepts
//
// Notes are the persisted entities users edit. A note's content is an opaque
// JSON blob owned by the external rich-text editor; the store forwards it
// verbatim and never inspects it.
//
// Edges are directed connections between two notes' anchor points. Deleting
// a note cascades to its edges inside the store; the delete event published
// for the note is the only notification consumers receive, and they must
// purge dangling edges locally.
//
// The change feed is the source of truth once a write lands. Inserts and
// updates carry the whole row; deletes carry only the entity ID.
//
// # Multi-canvas support
//
// All Redis keys and Pub/Sub channels are namespaced by canvas ID so that
// any number of canvases can share one Redis server without interference.
//
// # Usage example
//
//	store, err := canvas.NewStore(&redis.Options{Addr: "localhost:6379"}, canvasID)
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer store.Close()
//
//	note := &canvas.Note{
//		ID:       uuid.New().String(),
//		CanvasID: canvasID,
//		Position: canvas.Point{X: 120, Y: 80},
//		Size:     canvas.Size{Width: 300, Height: 200},
//		Color:    canvas.ColorDefault,
//		Tags:     []string{},
//	}
//	if err := store.CreateNote(ctx, note); err != nil {
//		log.Fatal(err)
//	}
//
//	feed, err := store.SubscribeChanges(ctx)
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer feed.Close()
//	for ev := range feed.Events() {
//		// apply ev to local state
//	}
//
// # Redis schema
//
// Notes: loom:{canvas_id}:note:{note_id} (hash), indexed by loom:{canvas_id}:notes (set)
// Edges: loom:{canvas_id}:edge:{edge_id} (hash), indexed by loom:{canvas_id}:edges (set)
// Edge cascade index: loom:{canvas_id}:note:{note_id}:edges (set)
// Change feed: loom:{canvas_id}:change_events (pub/sub)
// Presence hash: loom:{canvas_id}:presence (owned by internal/realtime)
// Realtime channel: loom:{canvas_id}:realtime (owned by internal/realtime)
package canvas
