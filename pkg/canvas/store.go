package canvas

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Store provides canvas-scoped Redis operations for durable notes and edges.
// All keys and channels are automatically namespaced with the canvas ID.
// The store is thread-safe and can be used concurrently from multiple goroutines.
//
// Every committed mutation publishes a full-entity change event on the canvas
// change feed (write-then-publish), so subscribers converge without polling.
type Store struct {
	rdb      *redis.Client
	canvasID string
}

// NewStore creates a new store for the specified canvas.
//
// Parameters:
//   - redisOpts: Redis connection options (address, password, DB, etc.)
//   - canvasID: canvas identifier (must not be empty)
//
// Returns an error if canvasID is empty.
func NewStore(redisOpts *redis.Options, canvasID string) (*Store, error) {
	if canvasID == "" {
		return nil, fmt.Errorf("canvas ID cannot be empty")
	}

	return &Store{
		rdb:      redis.NewClient(redisOpts),
		canvasID: canvasID,
	}, nil
}

// CanvasID returns the canvas this store is scoped to.
func (s *Store) CanvasID() string {
	return s.canvasID
}

// Close closes the Redis connection. Implements io.Closer.
// After calling Close(), the store should not be used.
func (s *Store) Close() error {
	return s.rdb.Close()
}

// Ping verifies Redis connectivity. Useful for health checks.
func (s *Store) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

// CreateNote writes a note to Redis and publishes an insert event.
// Validates the note before writing. The note is stored as a Redis hash at
// loom:{canvas}:note:{id} and registered in the canvas note index.
// This method is idempotent - writing the same note twice is safe.
func (s *Store) CreateNote(ctx context.Context, n *Note) error {
	if err := n.Validate(); err != nil {
		return fmt.Errorf("invalid note: %w", err)
	}

	hash, err := NoteToHash(n)
	if err != nil {
		return fmt.Errorf("failed to serialize note: %w", err)
	}

	pipe := s.rdb.TxPipeline()
	pipe.HSet(ctx, NoteKey(s.canvasID, n.ID), hash)
	pipe.SAdd(ctx, NoteIndexKey(s.canvasID), n.ID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to write note to Redis: %w", err)
	}

	return s.publishChange(ctx, &ChangeEvent{
		Op:       OpInsert,
		Entity:   EntityNote,
		EntityID: n.ID,
		Note:     n,
	})
}

// GetNote retrieves a note by ID.
// Returns (nil, redis.Nil) if the note doesn't exist.
// Use IsNotFound() to check for not-found errors.
func (s *Store) GetNote(ctx context.Context, noteID string) (*Note, error) {
	hashData, err := s.rdb.HGetAll(ctx, NoteKey(s.canvasID, noteID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read note from Redis: %w", err)
	}

	// HGetAll returns an empty map for non-existent keys
	if len(hashData) == 0 {
		return nil, redis.Nil
	}

	note, err := HashToNote(hashData)
	if err != nil {
		return nil, fmt.Errorf("failed to deserialize note: %w", err)
	}

	return note, nil
}

// NoteExists checks if a note exists without fetching it.
func (s *Store) NoteExists(ctx context.Context, noteID string) (bool, error) {
	exists, err := s.rdb.Exists(ctx, NoteKey(s.canvasID, noteID)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check note existence: %w", err)
	}
	return exists > 0, nil
}

// UpdateNote applies a partial update to a note and publishes an update event
// carrying the full post-write row. Only the fields set on the patch are
// written; everything else is left untouched. Returns the updated note.
//
// Returns (nil, redis.Nil) if the note doesn't exist.
func (s *Store) UpdateNote(ctx context.Context, noteID string, patch *NotePatch) (*Note, error) {
	if patch == nil || patch.IsZero() {
		return s.GetNote(ctx, noteID)
	}

	exists, err := s.NoteExists(ctx, noteID)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, redis.Nil
	}

	hash, err := PatchToHash(patch)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize note patch: %w", err)
	}
	hash["updated_at_ms"] = time.Now().UnixMilli()

	if err := s.rdb.HSet(ctx, NoteKey(s.canvasID, noteID), hash).Err(); err != nil {
		return nil, fmt.Errorf("failed to update note in Redis: %w", err)
	}

	// Re-read so the published event carries the whole row, not just the patch.
	note, err := s.GetNote(ctx, noteID)
	if err != nil {
		return nil, err
	}

	if err := s.publishChange(ctx, &ChangeEvent{
		Op:       OpUpdate,
		Entity:   EntityNote,
		EntityID: noteID,
		Note:     note,
	}); err != nil {
		return nil, err
	}

	return note, nil
}

// BringNoteToFront writes a new stack order for the note and publishes the
// resulting update event. The caller supplies the stack order so that the
// value the local client rendered optimistically is exactly the value that
// lands durably.
func (s *Store) BringNoteToFront(ctx context.Context, noteID string, stackOrder int64) (*Note, error) {
	return s.UpdateNote(ctx, noteID, &NotePatch{StackOrder: &stackOrder})
}

// DeleteNote removes a note and every edge referencing it in one transaction,
// then publishes a single note delete event. No edge delete events are
// published for the cascaded edges - subscribers are expected to purge
// dangling edges locally when they observe the note deletion.
//
// Deleting a note that doesn't exist is a no-op.
func (s *Store) DeleteNote(ctx context.Context, noteID string) error {
	edgeIDs, err := s.rdb.SMembers(ctx, NoteEdgesKey(s.canvasID, noteID)).Result()
	if err != nil {
		return fmt.Errorf("failed to read note edge index: %w", err)
	}

	// Resolve the far endpoint of each dependent edge so its index entry is
	// cleaned up too.
	type cascaded struct {
		id    string
		other string
	}
	var edges []cascaded
	for _, edgeID := range edgeIDs {
		edge, err := s.GetEdge(ctx, edgeID)
		if err != nil {
			if IsNotFound(err) {
				continue
			}
			return err
		}
		other := edge.SourceNoteID
		if other == noteID {
			other = edge.TargetNoteID
		}
		edges = append(edges, cascaded{id: edgeID, other: other})
	}

	pipe := s.rdb.TxPipeline()
	for _, e := range edges {
		pipe.Del(ctx, EdgeKey(s.canvasID, e.id))
		pipe.SRem(ctx, EdgeIndexKey(s.canvasID), e.id)
		if e.other != noteID {
			pipe.SRem(ctx, NoteEdgesKey(s.canvasID, e.other), e.id)
		}
	}
	pipe.Del(ctx, NoteEdgesKey(s.canvasID, noteID))
	pipe.Del(ctx, NoteKey(s.canvasID, noteID))
	pipe.SRem(ctx, NoteIndexKey(s.canvasID), noteID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to delete note from Redis: %w", err)
	}

	return s.publishChange(ctx, &ChangeEvent{
		Op:       OpDelete,
		Entity:   EntityNote,
		EntityID: noteID,
	})
}

// CreateEdge writes an edge to Redis and publishes an insert event.
// Both endpoints must exist in this canvas.
func (s *Store) CreateEdge(ctx context.Context, e *Edge) error {
	if err := e.Validate(); err != nil {
		return fmt.Errorf("invalid edge: %w", err)
	}

	for _, noteID := range []string{e.SourceNoteID, e.TargetNoteID} {
		exists, err := s.NoteExists(ctx, noteID)
		if err != nil {
			return err
		}
		if !exists {
			return fmt.Errorf("edge endpoint %s does not exist in canvas %s", noteID, s.canvasID)
		}
	}

	pipe := s.rdb.TxPipeline()
	pipe.HSet(ctx, EdgeKey(s.canvasID, e.ID), EdgeToHash(e))
	pipe.SAdd(ctx, EdgeIndexKey(s.canvasID), e.ID)
	pipe.SAdd(ctx, NoteEdgesKey(s.canvasID, e.SourceNoteID), e.ID)
	pipe.SAdd(ctx, NoteEdgesKey(s.canvasID, e.TargetNoteID), e.ID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to write edge to Redis: %w", err)
	}

	return s.publishChange(ctx, &ChangeEvent{
		Op:       OpInsert,
		Entity:   EntityEdge,
		EntityID: e.ID,
		Edge:     e,
	})
}

// GetEdge retrieves an edge by ID.
// Returns (nil, redis.Nil) if the edge doesn't exist.
func (s *Store) GetEdge(ctx context.Context, edgeID string) (*Edge, error) {
	hashData, err := s.rdb.HGetAll(ctx, EdgeKey(s.canvasID, edgeID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read edge from Redis: %w", err)
	}

	if len(hashData) == 0 {
		return nil, redis.Nil
	}

	edge, err := HashToEdge(hashData)
	if err != nil {
		return nil, fmt.Errorf("failed to deserialize edge: %w", err)
	}

	return edge, nil
}

// DeleteEdge removes an edge and publishes a delete event.
// Deleting an edge that doesn't exist is a no-op.
func (s *Store) DeleteEdge(ctx context.Context, edgeID string) error {
	edge, err := s.GetEdge(ctx, edgeID)
	if err != nil {
		if IsNotFound(err) {
			return nil
		}
		return err
	}

	pipe := s.rdb.TxPipeline()
	pipe.Del(ctx, EdgeKey(s.canvasID, edgeID))
	pipe.SRem(ctx, EdgeIndexKey(s.canvasID), edgeID)
	pipe.SRem(ctx, NoteEdgesKey(s.canvasID, edge.SourceNoteID), edgeID)
	pipe.SRem(ctx, NoteEdgesKey(s.canvasID, edge.TargetNoteID), edgeID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to delete edge from Redis: %w", err)
	}

	return s.publishChange(ctx, &ChangeEvent{
		Op:       OpDelete,
		Entity:   EntityEdge,
		EntityID: edgeID,
	})
}

// FetchSnapshot reads the full durable state of the canvas.
// Clients call this once on (re)connect, then follow the change feed.
func (s *Store) FetchSnapshot(ctx context.Context) (*Snapshot, error) {
	noteIDs, err := s.rdb.SMembers(ctx, NoteIndexKey(s.canvasID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read note index: %w", err)
	}

	snapshot := &Snapshot{Notes: []*Note{}, Edges: []*Edge{}}

	for _, noteID := range noteIDs {
		note, err := s.GetNote(ctx, noteID)
		if err != nil {
			// The index can briefly lead the hash during concurrent deletes.
			if IsNotFound(err) {
				continue
			}
			return nil, err
		}
		snapshot.Notes = append(snapshot.Notes, note)
	}

	edgeIDs, err := s.rdb.SMembers(ctx, EdgeIndexKey(s.canvasID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read edge index: %w", err)
	}

	for _, edgeID := range edgeIDs {
		edge, err := s.GetEdge(ctx, edgeID)
		if err != nil {
			if IsNotFound(err) {
				continue
			}
			return nil, err
		}
		snapshot.Edges = append(snapshot.Edges, edge)
	}

	return snapshot, nil
}

// publishChange validates and publishes a change event on the canvas feed.
func (s *Store) publishChange(ctx context.Context, ev *ChangeEvent) error {
	if err := ev.Validate(); err != nil {
		return err
	}

	eventJSON, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal change event: %w", err)
	}

	if err := s.rdb.Publish(ctx, ChangeEventsChannel(s.canvasID), eventJSON).Err(); err != nil {
		return fmt.Errorf("failed to publish change event: %w", err)
	}

	return nil
}

// ChangeFeed represents an active Pub/Sub subscription to the canvas's
// durable change feed. Caller must call Close() when done to clean up
// resources. Events carry full entity objects for inserts and updates.
//
// Per entity, events are delivered in write order by the single Redis
// connection; no ordering is guaranteed across different entities.
type ChangeFeed struct {
	events <-chan *ChangeEvent
	errors <-chan error
	cancel func()
	once   sync.Once
}

// Events returns the channel of change events.
// The channel is closed when the feed is closed or the context is cancelled.
func (f *ChangeFeed) Events() <-chan *ChangeEvent {
	return f.events
}

// Errors returns the channel of subscription errors.
// Errors include JSON unmarshaling failures and other non-fatal issues.
// The feed continues after errors - malformed messages are skipped.
func (f *ChangeFeed) Errors() <-chan error {
	return f.errors
}

// Close stops the feed and cleans up resources. Implements io.Closer.
// Safe to call multiple times - subsequent calls are no-ops.
func (f *ChangeFeed) Close() error {
	f.once.Do(f.cancel)
	return nil
}

// SubscribeChanges subscribes to committed note/edge mutations for this
// canvas. Returns a ChangeFeed that delivers full change events.
// Caller must call feed.Close() when done. Context cancellation also stops
// the feed.
//
// Events are delivered on a buffered channel (size 64) to prevent blocking.
// If the subscriber is too slow, events may be dropped by Redis Pub/Sub
// (at-most-once delivery).
func (s *Store) SubscribeChanges(ctx context.Context) (*ChangeFeed, error) {
	pubsub := s.rdb.Subscribe(ctx, ChangeEventsChannel(s.canvasID))

	eventsChan := make(chan *ChangeEvent, 64)
	errorsChan := make(chan error, 10)

	subCtx, cancelFunc := context.WithCancel(ctx)

	go func() {
		defer close(eventsChan)
		defer close(errorsChan)
		defer pubsub.Close()

		ch := pubsub.Channel()

		for {
			select {
			case <-subCtx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}

				var event ChangeEvent
				if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
					select {
					case errorsChan <- fmt.Errorf("failed to unmarshal change event: %w", err):
					case <-subCtx.Done():
						return
					}
					continue
				}

				if err := event.Validate(); err != nil {
					select {
					case errorsChan <- err:
					case <-subCtx.Done():
						return
					}
					continue
				}

				select {
				case eventsChan <- &event:
				case <-subCtx.Done():
					return
				}
			}
		}
	}()

	return &ChangeFeed{
		events: eventsChan,
		errors: errorsChan,
		cancel: cancelFunc,
	}, nil
}

// IsNotFound returns true if the error is a Redis "key not found" error
// (redis.Nil). Use this to check if GetNote or GetEdge returned "not found".
func IsNotFound(err error) bool {
	return errors.Is(err, redis.Nil)
}
