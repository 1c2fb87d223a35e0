package listing

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/loomnotes/loom/pkg/canvas"
)

// FormatTable writes notes as a formatted table to the provided writer.
// The table includes columns: ID, COLOR, POSITION, SIZE, AGE, TAGS, and TITLE (truncated).
// Returns the number of notes formatted.
func FormatTable(w io.Writer, notes []*canvas.Note, canvasID string) int {
	if len(notes) == 0 {
		fmt.Fprintf(w, "No notes found on canvas '%s'\n", canvasID)
		return 0
	}

	fmt.Fprintf(w, "Notes on canvas '%s':\n\n", canvasID)

	fmt.Fprintf(w, "%-10s %-8s %-14s %-10s %-8s %-16s %s\n",
		"ID", "COLOR", "POSITION", "SIZE", "AGE", "TAGS", "TITLE")
	fmt.Fprintf(w, "%-10s %-8s %-14s %-10s %-8s %-16s %s\n",
		"----------", "--------", "--------------", "----------", "--------", "----------------", "----------------------------------------")

	for _, n := range notes {
		fmt.Fprintf(w, "%-10s %-8s %-14s %-10s %-8s %-16s %s\n",
			formatID(n.ID),
			n.Color,
			formatPosition(n.Position),
			formatSize(n.Size),
			formatTimestamp(n.CreatedAtMs),
			formatTags(n.Tags),
			formatTitle(n.Title),
		)
	}

	countMsg := "note"
	if len(notes) != 1 {
		countMsg = "notes"
	}
	fmt.Fprintf(w, "\n%d %s found\n", len(notes), countMsg)

	return len(notes)
}

// FormatJSONL writes notes as line-delimited JSON (JSONL) to the provided writer.
// Each note is written as a single JSON object on its own line.
// This format is ideal for streaming and processing with tools like jq.
func FormatJSONL(w io.Writer, notes []*canvas.Note) error {
	for _, n := range notes {
		data, err := json.Marshal(n)
		if err != nil {
			return fmt.Errorf("failed to marshal note to JSON: %w", err)
		}

		_, err = fmt.Fprintf(w, "%s\n", string(data))
		if err != nil {
			return fmt.Errorf("failed to write JSONL output: %w", err)
		}
	}

	return nil
}

// FormatSingleJSON writes a single note as pretty-printed JSON to the provided writer.
// Used in get mode to display complete note details including content.
func FormatSingleJSON(w io.Writer, n *canvas.Note) error {
	data, err := json.MarshalIndent(n, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal note to JSON: %w", err)
	}

	_, err = w.Write(data)
	if err != nil {
		return fmt.Errorf("failed to write JSON output: %w", err)
	}

	// Add newline for clean output
	fmt.Fprintln(w)

	return nil
}

// formatID truncates a note ID to first 8 characters for compact display.
func formatID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func formatPosition(p canvas.Point) string {
	return fmt.Sprintf("(%.0f, %.0f)", p.X, p.Y)
}

func formatSize(s canvas.Size) string {
	return fmt.Sprintf("%.0fx%.0f", s.Width, s.Height)
}

// formatTags joins tags for table display, truncated to fit the column.
// Empty tag sets return "-".
func formatTags(tags []string) string {
	if len(tags) == 0 {
		return "-"
	}
	joined := strings.Join(tags, ",")
	if len(joined) > 16 {
		return joined[:13] + "..."
	}
	return joined
}

// formatTitle truncates the title to max 40 characters for table display.
// Empty titles return "-".
func formatTitle(title string) string {
	title = strings.TrimSpace(title)
	if title == "" {
		return "-"
	}
	if len(title) > 40 {
		return title[:37] + "..."
	}
	return title
}

// formatTimestamp formats Unix timestamp in milliseconds to human-readable time.
// Shows relative time like "2m ago", "1h ago", etc.
func formatTimestamp(timestampMs int64) string {
	if timestampMs == 0 {
		return "-"
	}

	t := time.Unix(timestampMs/1000, (timestampMs%1000)*1000000)

	diff := time.Since(t)

	if diff < time.Minute {
		return fmt.Sprintf("%ds ago", int(diff.Seconds()))
	} else if diff < time.Hour {
		return fmt.Sprintf("%dm ago", int(diff.Minutes()))
	} else if diff < 24*time.Hour {
		return fmt.Sprintf("%dh ago", int(diff.Hours()))
	} else {
		return fmt.Sprintf("%dd ago", int(diff.Hours()/24))
	}
}
