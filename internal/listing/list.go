package listing

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"sort"

	"github.com/loomnotes/loom/pkg/canvas"
)

// OutputFormat specifies how to format the note list output.
type OutputFormat string

const (
	// OutputFormatDefault uses a table format with truncated titles
	OutputFormatDefault OutputFormat = "default"

	// OutputFormatJSONL outputs complete notes as line-delimited JSON
	OutputFormatJSONL OutputFormat = "jsonl"
)

// FilterCriteria defines filtering options for note listing.
// All filters are ANDed together.
type FilterCriteria struct {
	SinceTimestampMs int64  // Unix timestamp in milliseconds, 0 = no filter
	UntilTimestampMs int64  // Unix timestamp in milliseconds, 0 = no filter
	TagGlob          string // Glob pattern matched against each tag, empty = no filter
	Color            string // Exact match for note color, empty = no filter
}

// matchesFilter returns true if the note matches all filter criteria.
func (fc *FilterCriteria) matchesFilter(n *canvas.Note) bool {
	// Time filtering
	if fc.SinceTimestampMs > 0 && n.CreatedAtMs < fc.SinceTimestampMs {
		return false
	}
	if fc.UntilTimestampMs > 0 && n.CreatedAtMs > fc.UntilTimestampMs {
		return false
	}

	// Tag filtering - glob pattern must match at least one tag
	if fc.TagGlob != "" {
		anyMatch := false
		for _, tag := range n.Tags {
			if matched, err := filepath.Match(fc.TagGlob, tag); err == nil && matched {
				anyMatch = true
				break
			}
		}
		if !anyMatch {
			return false
		}
	}

	// Color filtering - exact match
	if fc.Color != "" && string(n.Color) != fc.Color {
		return false
	}

	return true
}

// ListNotes retrieves all notes on a canvas and writes them to the provided writer.
// Applies filter criteria if provided. Sorts notes by creation time for stable output.
func ListNotes(ctx context.Context, store *canvas.Store, format OutputFormat, filters *FilterCriteria, w io.Writer) error {
	snapshot, err := store.FetchSnapshot(ctx)
	if err != nil {
		return fmt.Errorf("failed to fetch canvas snapshot: %w", err)
	}

	var notes []*canvas.Note
	for _, n := range snapshot.Notes {
		if filters != nil && !filters.matchesFilter(n) {
			continue
		}
		notes = append(notes, n)
	}

	// Sort by creation time (oldest first) for chronological output
	sort.Slice(notes, func(i, j int) bool {
		return notes[i].CreatedAtMs < notes[j].CreatedAtMs
	})

	switch format {
	case OutputFormatDefault:
		FormatTable(w, notes, store.CanvasID())
	case OutputFormatJSONL:
		if err := FormatJSONL(w, notes); err != nil {
			return fmt.Errorf("failed to format JSONL output: %w", err)
		}
	default:
		return fmt.Errorf("unknown output format: %s", format)
	}

	return nil
}

// ListEdges retrieves all edges on a canvas and writes one line per edge.
// Edges are sorted by creation time for stable output.
func ListEdges(ctx context.Context, store *canvas.Store, w io.Writer) error {
	snapshot, err := store.FetchSnapshot(ctx)
	if err != nil {
		return fmt.Errorf("failed to fetch canvas snapshot: %w", err)
	}

	edges := snapshot.Edges
	sort.Slice(edges, func(i, j int) bool {
		if edges[i].CreatedAtMs != edges[j].CreatedAtMs {
			return edges[i].CreatedAtMs < edges[j].CreatedAtMs
		}
		return edges[i].ID < edges[j].ID
	})

	if len(edges) == 0 {
		fmt.Fprintf(w, "No edges found on canvas '%s'\n", store.CanvasID())
		return nil
	}

	fmt.Fprintf(w, "Edges on canvas '%s':\n\n", store.CanvasID())
	for _, e := range edges {
		fmt.Fprintf(w, "%-10s %s → %s\n", formatID(e.ID), formatID(e.SourceNoteID), formatID(e.TargetNoteID))
	}
	fmt.Fprintf(w, "\n%d edge(s) found\n", len(edges))
	return nil
}
