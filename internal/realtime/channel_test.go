package realtime

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/loomnotes/loom/pkg/canvas"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupRedis(t *testing.T) *redis.Options {
	mr := miniredis.NewMiniRedis()
	require.NoError(t, mr.Start())
	t.Cleanup(mr.Close)
	return &redis.Options{Addr: mr.Addr()}
}

func testRecord(name string) PresenceRecord {
	return PresenceRecord{
		ID:          uuid.New().String(),
		DisplayName: name,
		Color:       "hsl(120, 70%, 50%)",
	}
}

// waitForSync drains sync events until one satisfies the predicate.
func waitForSync(t *testing.T, ch *Channel, predicate func(PresenceSync) bool) PresenceSync {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case sync, ok := <-ch.Syncs():
			require.True(t, ok, "syncs channel closed")
			if predicate(sync) {
				return sync
			}
		case <-deadline:
			t.Fatal("timeout waiting for presence sync")
		}
	}
}

func TestJoin(t *testing.T) {
	opts := setupRedis(t)
	ctx := context.Background()

	t.Run("registers presence", func(t *testing.T) {
		self := testRecord("alice")
		ch, err := Join(ctx, opts, "test-canvas", self)
		require.NoError(t, err)
		defer ch.Close()

		members, err := Members(ctx, opts, "test-canvas")
		require.NoError(t, err)
		require.Contains(t, members, self.ID)
		assert.Equal(t, "alice", members[self.ID].DisplayName)
		assert.Greater(t, members[self.ID].OnlineAtMs, int64(0))
	})

	t.Run("rejects empty canvas ID", func(t *testing.T) {
		_, err := Join(ctx, opts, "", testRecord("bob"))
		assert.Error(t, err)
	})

	t.Run("rejects empty collaborator ID", func(t *testing.T) {
		_, err := Join(ctx, opts, "test-canvas", PresenceRecord{})
		assert.Error(t, err)
	})
}

func TestPresenceSyncs(t *testing.T) {
	opts := setupRedis(t)
	ctx := context.Background()

	alice := testRecord("alice")
	chA, err := Join(ctx, opts, "test-canvas", alice)
	require.NoError(t, err)
	defer chA.Close()

	bob := testRecord("bob")
	chB, err := Join(ctx, opts, "test-canvas", bob)
	require.NoError(t, err)
	defer chB.Close()

	t.Run("join produces a full sync excluding self", func(t *testing.T) {
		// Alice sees bob arrive
		sync := waitForSync(t, chA, func(s PresenceSync) bool {
			_, ok := s.Members[bob.ID]
			return ok
		})
		assert.NotContains(t, sync.Members, alice.ID, "sync must exclude the local identity")
		assert.Equal(t, "bob", sync.Members[bob.ID].DisplayName)

		// Bob's own join sync shows alice
		sync = waitForSync(t, chB, func(s PresenceSync) bool {
			_, ok := s.Members[alice.ID]
			return ok
		})
		assert.NotContains(t, sync.Members, bob.ID)
	})

	t.Run("leave produces a sync without the departed member", func(t *testing.T) {
		require.NoError(t, chB.Leave(ctx))

		sync := waitForSync(t, chA, func(s PresenceSync) bool {
			_, ok := s.Members[bob.ID]
			return !ok
		})
		assert.NotContains(t, sync.Members, bob.ID)
	})

	t.Run("leave is idempotent", func(t *testing.T) {
		assert.NoError(t, chB.Leave(ctx))
		assert.NoError(t, chB.Leave(ctx))
	})
}

func TestBroadcasts(t *testing.T) {
	opts := setupRedis(t)
	ctx := context.Background()

	alice := testRecord("alice")
	chA, err := Join(ctx, opts, "test-canvas", alice)
	require.NoError(t, err)
	defer chA.Close()

	bob := testRecord("bob")
	chB, err := Join(ctx, opts, "test-canvas", bob)
	require.NoError(t, err)
	defer chB.Close()

	t.Run("delivers typed messages to other members", func(t *testing.T) {
		err := chA.Send(ctx, &CursorMessage{
			CollaboratorID: alice.ID,
			Point:          canvas.Point{X: 42, Y: 7},
		})
		require.NoError(t, err)

		select {
		case msg := <-chB.Broadcasts():
			cursor, ok := msg.(*CursorMessage)
			require.True(t, ok, "expected *CursorMessage, got %T", msg)
			assert.Equal(t, alice.ID, cursor.CollaboratorID)
			assert.Equal(t, canvas.Point{X: 42, Y: 7}, cursor.Point)
		case <-time.After(1 * time.Second):
			t.Fatal("timeout waiting for broadcast")
		}
	})

	t.Run("delivers the sender its own frames", func(t *testing.T) {
		// Redis Pub/Sub loops frames back to every subscriber including the
		// publisher; filtering the local collaborator is the consumer's job.
		err := chA.Send(ctx, &SelectionMessage{
			CollaboratorID: alice.ID,
			NoteIDs:        []string{uuid.New().String()},
		})
		require.NoError(t, err)

		select {
		case msg := <-chA.Broadcasts():
			sel, ok := msg.(*SelectionMessage)
			require.True(t, ok)
			assert.Equal(t, alice.ID, sel.CollaboratorID)
		case <-time.After(1 * time.Second):
			t.Fatal("timeout waiting for own broadcast")
		}
	})

	t.Run("drops unknown kinds", func(t *testing.T) {
		rdb := redis.NewClient(opts)
		defer rdb.Close()

		// Raw frame of a kind this client has never heard of
		err := rdb.Publish(ctx, canvas.RealtimeChannel("test-canvas"),
			`{"kind":"emoji-reaction","payload":{}}`).Err()
		require.NoError(t, err)

		// A known frame after it proves the channel is still alive
		require.NoError(t, chA.Send(ctx, &CursorMessage{CollaboratorID: alice.ID}))

		select {
		case msg := <-chB.Broadcasts():
			_, ok := msg.(*CursorMessage)
			assert.True(t, ok, "unknown kind leaked through as %T", msg)
		case <-time.After(1 * time.Second):
			t.Fatal("timeout waiting for broadcast")
		}
	})
}

func TestChannelClose(t *testing.T) {
	opts := setupRedis(t)
	ctx := context.Background()

	t.Run("removes presence and closes channels", func(t *testing.T) {
		self := testRecord("alice")
		ch, err := Join(ctx, opts, "test-canvas", self)
		require.NoError(t, err)

		require.NoError(t, ch.Close())
		// Calling Close again should be safe
		require.NoError(t, ch.Close())

		members, err := Members(ctx, opts, "test-canvas")
		require.NoError(t, err)
		assert.NotContains(t, members, self.ID)

		select {
		case _, ok := <-ch.Broadcasts():
			assert.False(t, ok, "broadcasts channel should be closed")
		case <-time.After(1 * time.Second):
			t.Fatal("timeout waiting for channel close")
		}
	})
}

func TestCanvasChannelIsolation(t *testing.T) {
	opts := setupRedis(t)
	ctx := context.Background()

	alice := testRecord("alice")
	chA, err := Join(ctx, opts, "canvas-1", alice)
	require.NoError(t, err)
	defer chA.Close()

	bob := testRecord("bob")
	chB, err := Join(ctx, opts, "canvas-2", bob)
	require.NoError(t, err)
	defer chB.Close()

	require.NoError(t, chA.Send(ctx, &CursorMessage{CollaboratorID: alice.ID}))

	select {
	case msg := <-chB.Broadcasts():
		t.Fatalf("canvas-2 received canvas-1 broadcast: %T", msg)
	case <-time.After(200 * time.Millisecond):
	}

	members, err := Members(ctx, opts, "canvas-2")
	require.NoError(t, err)
	assert.NotContains(t, members, alice.ID)
}
