package listing

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/loomnotes/loom/pkg/canvas"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetNote(t *testing.T) {
	ctx := context.Background()

	t.Run("existing note", func(t *testing.T) {
		store := setupListingStore(t)

		n := listingNote("Target", []string{"pin"}, time.Now().UnixMilli())
		require.NoError(t, store.CreateNote(ctx, n))

		var buf bytes.Buffer
		err := GetNote(ctx, store, n.ID, &buf)
		require.NoError(t, err)

		var decoded canvas.Note
		require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
		assert.Equal(t, n.ID, decoded.ID)
		assert.Equal(t, "Target", decoded.Title)
		assert.JSONEq(t, string(n.Content), string(decoded.Content))
	})

	t.Run("missing note", func(t *testing.T) {
		store := setupListingStore(t)

		var buf bytes.Buffer
		err := GetNote(ctx, store, uuid.New().String(), &buf)
		require.Error(t, err)
		assert.True(t, IsNotFound(err))

		var nfe *NoteNotFoundError
		require.True(t, errors.As(err, &nfe))
		assert.Contains(t, nfe.Error(), "not found")
	})

	t.Run("invalid ID", func(t *testing.T) {
		store := setupListingStore(t)

		var buf bytes.Buffer
		err := GetNote(ctx, store, "not-a-uuid", &buf)
		require.Error(t, err)
		assert.False(t, IsNotFound(err))
		assert.Contains(t, err.Error(), "invalid note ID format")
	})
}

func TestIsNotFound(t *testing.T) {
	assert.True(t, IsNotFound(&NoteNotFoundError{NoteID: "x"}))
	assert.False(t, IsNotFound(errors.New("boom")))
	assert.False(t, IsNotFound(nil))
}
