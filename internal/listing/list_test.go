package listing

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/loomnotes/loom/pkg/canvas"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupListingStore creates a store backed by miniredis for listing tests.
func setupListingStore(t *testing.T) *canvas.Store {
	t.Helper()
	mr := miniredis.RunT(t)
	store, err := canvas.NewStore(&redis.Options{Addr: mr.Addr()}, "test-canvas")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

// listingNote builds a valid note with the given title, tags and creation time.
func listingNote(title string, tags []string, createdAtMs int64) *canvas.Note {
	return &canvas.Note{
		ID:          uuid.New().String(),
		CanvasID:    "test-canvas",
		Title:       title,
		Content:     json.RawMessage(`{"blocks":[]}`),
		Position:    canvas.Point{X: 10, Y: 20},
		Size:        canvas.Size{Width: 300, Height: 200},
		Color:       canvas.ColorYellow,
		StackOrder:  createdAtMs,
		Tags:        tags,
		CreatedAtMs: createdAtMs,
	}
}

func TestListNotes(t *testing.T) {
	ctx := context.Background()

	t.Run("empty canvas - default format", func(t *testing.T) {
		store := setupListingStore(t)

		var buf bytes.Buffer
		err := ListNotes(ctx, store, OutputFormatDefault, nil, &buf)
		require.NoError(t, err)

		assert.Contains(t, buf.String(), "No notes found on canvas 'test-canvas'")
	})

	t.Run("notes sorted by creation time", func(t *testing.T) {
		store := setupListingStore(t)

		base := time.Now().UnixMilli()
		newer := listingNote("Newer", nil, base)
		older := listingNote("Older", nil, base-60_000)
		require.NoError(t, store.CreateNote(ctx, newer))
		require.NoError(t, store.CreateNote(ctx, older))

		var buf bytes.Buffer
		err := ListNotes(ctx, store, OutputFormatDefault, nil, &buf)
		require.NoError(t, err)

		output := buf.String()
		assert.Contains(t, output, "2 notes found")
		assert.Less(t, strings.Index(output, "Older"), strings.Index(output, "Newer"),
			"oldest note should be listed first")
	})

	t.Run("JSONL format emits one note per line", func(t *testing.T) {
		store := setupListingStore(t)

		base := time.Now().UnixMilli()
		require.NoError(t, store.CreateNote(ctx, listingNote("First", []string{"a"}, base-1000)))
		require.NoError(t, store.CreateNote(ctx, listingNote("Second", []string{"b"}, base)))

		var buf bytes.Buffer
		err := ListNotes(ctx, store, OutputFormatJSONL, nil, &buf)
		require.NoError(t, err)

		lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
		require.Len(t, lines, 2)

		var first canvas.Note
		require.NoError(t, json.Unmarshal([]byte(lines[0]), &first))
		assert.Equal(t, "First", first.Title)
	})

	t.Run("tag glob filter", func(t *testing.T) {
		store := setupListingStore(t)

		base := time.Now().UnixMilli()
		require.NoError(t, store.CreateNote(ctx, listingNote("Tagged", []string{"retro-2026", "keep"}, base-2000)))
		require.NoError(t, store.CreateNote(ctx, listingNote("Plain", nil, base-1000)))
		require.NoError(t, store.CreateNote(ctx, listingNote("Other", []string{"standup"}, base)))

		var buf bytes.Buffer
		filters := &FilterCriteria{TagGlob: "retro-*"}
		err := ListNotes(ctx, store, OutputFormatDefault, filters, &buf)
		require.NoError(t, err)

		output := buf.String()
		assert.Contains(t, output, "Tagged")
		assert.NotContains(t, output, "Plain")
		assert.NotContains(t, output, "Other")
		assert.Contains(t, output, "1 note found")
	})

	t.Run("color filter", func(t *testing.T) {
		store := setupListingStore(t)

		base := time.Now().UnixMilli()
		yellow := listingNote("Yellow", nil, base-1000)
		blue := listingNote("Blue", nil, base)
		blue.Color = canvas.ColorBlue
		require.NoError(t, store.CreateNote(ctx, yellow))
		require.NoError(t, store.CreateNote(ctx, blue))

		var buf bytes.Buffer
		filters := &FilterCriteria{Color: "blue"}
		err := ListNotes(ctx, store, OutputFormatDefault, filters, &buf)
		require.NoError(t, err)

		output := buf.String()
		assert.Contains(t, output, "Blue")
		assert.NotContains(t, output, "Yellow")
	})

	t.Run("time range filters", func(t *testing.T) {
		store := setupListingStore(t)

		base := time.Now().UnixMilli()
		require.NoError(t, store.CreateNote(ctx, listingNote("Ancient", nil, base-120_000)))
		require.NoError(t, store.CreateNote(ctx, listingNote("Recent", nil, base)))

		var buf bytes.Buffer
		filters := &FilterCriteria{SinceTimestampMs: base - 60_000}
		err := ListNotes(ctx, store, OutputFormatDefault, filters, &buf)
		require.NoError(t, err)
		assert.Contains(t, buf.String(), "Recent")
		assert.NotContains(t, buf.String(), "Ancient")

		buf.Reset()
		filters = &FilterCriteria{UntilTimestampMs: base - 60_000}
		err = ListNotes(ctx, store, OutputFormatDefault, filters, &buf)
		require.NoError(t, err)
		assert.Contains(t, buf.String(), "Ancient")
		assert.NotContains(t, buf.String(), "Recent")
	})

	t.Run("unknown format", func(t *testing.T) {
		store := setupListingStore(t)

		var buf bytes.Buffer
		err := ListNotes(ctx, store, OutputFormat("xml"), nil, &buf)
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "unknown output format")
	})
}

func TestListEdges(t *testing.T) {
	ctx := context.Background()

	t.Run("empty canvas", func(t *testing.T) {
		store := setupListingStore(t)

		var buf bytes.Buffer
		err := ListEdges(ctx, store, &buf)
		require.NoError(t, err)
		assert.Contains(t, buf.String(), "No edges found on canvas 'test-canvas'")
	})

	t.Run("edges sorted by creation time", func(t *testing.T) {
		store := setupListingStore(t)

		base := time.Now().UnixMilli()
		n1 := listingNote("One", nil, base-2000)
		n2 := listingNote("Two", nil, base-1000)
		n3 := listingNote("Three", nil, base)
		for _, n := range []*canvas.Note{n1, n2, n3} {
			require.NoError(t, store.CreateNote(ctx, n))
		}

		later := &canvas.Edge{
			ID: uuid.New().String(), CanvasID: "test-canvas",
			SourceNoteID: n2.ID, TargetNoteID: n3.ID,
			SourceHandle: "s-r", TargetHandle: "t-l",
			CreatedAtMs: base,
		}
		earlier := &canvas.Edge{
			ID: uuid.New().String(), CanvasID: "test-canvas",
			SourceNoteID: n1.ID, TargetNoteID: n2.ID,
			SourceHandle: "s-r", TargetHandle: "t-l",
			CreatedAtMs: base - 1000,
		}
		require.NoError(t, store.CreateEdge(ctx, later))
		require.NoError(t, store.CreateEdge(ctx, earlier))

		var buf bytes.Buffer
		err := ListEdges(ctx, store, &buf)
		require.NoError(t, err)

		output := buf.String()
		assert.Contains(t, output, "2 edge(s) found")
		assert.Less(t, strings.Index(output, earlier.ID[:8]), strings.Index(output, later.ID[:8]),
			"oldest edge should be listed first")
	})
}
