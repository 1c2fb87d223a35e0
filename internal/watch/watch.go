package watch

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/loomnotes/loom/pkg/canvas"
)

// OutputFormat specifies how to format streamed canvas activity.
type OutputFormat string

const (
	// OutputFormatDefault uses human-readable output with timestamps and emojis
	OutputFormatDefault OutputFormat = "default"

	// OutputFormatJSON outputs line-delimited JSON for programmatic processing
	OutputFormatJSON OutputFormat = "json"
)

// activityLine is the JSON shape emitted in json output mode.
type activityLine struct {
	TimestampMs int64  `json:"timestamp_ms"`
	Op          string `json:"op"`
	Entity      string `json:"entity"`
	EntityID    string `json:"entity_id"`
	Title       string `json:"title,omitempty"`
}

// StreamActivity subscribes to the canvas change feed and writes one line per
// committed change until the context is cancelled. Malformed feed events are
// reported on the feed's error channel and skipped.
func StreamActivity(ctx context.Context, store *canvas.Store, format OutputFormat, w io.Writer) error {
	feed, err := store.SubscribeChanges(ctx)
	if err != nil {
		return fmt.Errorf("failed to subscribe to change feed: %w", err)
	}
	defer feed.Close()

	if format == OutputFormatDefault {
		fmt.Fprintf(w, "Watching canvas '%s' (Ctrl+C to stop)...\n\n", store.CanvasID())
	}

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-feed.Events():
			if !ok {
				return nil
			}
			if err := writeEvent(w, format, ev); err != nil {
				return err
			}

		case err, ok := <-feed.Errors():
			if !ok {
				continue
			}
			if format == OutputFormatDefault {
				fmt.Fprintf(w, "⚠️  %v\n", err)
			}
		}
	}
}

func writeEvent(w io.Writer, format OutputFormat, ev *canvas.ChangeEvent) error {
	if format == OutputFormatJSON {
		line := activityLine{
			TimestampMs: time.Now().UnixMilli(),
			Op:          string(ev.Op),
			Entity:      string(ev.Entity),
			EntityID:    ev.EntityID,
		}
		if ev.Note != nil {
			line.Title = ev.Note.Title
		}
		data, err := json.Marshal(line)
		if err != nil {
			return fmt.Errorf("failed to marshal activity line: %w", err)
		}
		_, err = fmt.Fprintf(w, "%s\n", data)
		return err
	}

	ts := time.Now().Format("15:04:05")
	_, err := fmt.Fprintf(w, "%s %s\n", ts, describeEvent(ev))
	return err
}

// describeEvent renders one change event as a human-readable line.
func describeEvent(ev *canvas.ChangeEvent) string {
	short := ev.EntityID
	if len(short) > 8 {
		short = short[:8]
	}

	switch ev.Entity {
	case canvas.EntityNote:
		title := ""
		if ev.Note != nil && ev.Note.Title != "" {
			title = fmt.Sprintf(" %q", ev.Note.Title)
		}
		switch ev.Op {
		case canvas.OpInsert:
			return fmt.Sprintf("📝 note created  %s%s", short, title)
		case canvas.OpUpdate:
			return fmt.Sprintf("✏️  note updated  %s%s", short, title)
		case canvas.OpDelete:
			return fmt.Sprintf("🗑️  note deleted  %s", short)
		}
	case canvas.EntityEdge:
		switch ev.Op {
		case canvas.OpInsert:
			if ev.Edge != nil {
				src, tgt := ev.Edge.SourceNoteID, ev.Edge.TargetNoteID
				if len(src) > 8 {
					src = src[:8]
				}
				if len(tgt) > 8 {
					tgt = tgt[:8]
				}
				return fmt.Sprintf("🔗 edge linked   %s → %s", src, tgt)
			}
			return fmt.Sprintf("🔗 edge linked   %s", short)
		case canvas.OpDelete:
			return fmt.Sprintf("✂️  edge removed  %s", short)
		}
	}

	return fmt.Sprintf("%s %s %s", ev.Op, ev.Entity, short)
}

// PollForNote polls for a note to appear on the canvas.
// Returns the note or an error if the timeout elapses.
// Polls every 200ms for the specified timeout duration.
func PollForNote(ctx context.Context, store *canvas.Store, noteID string, timeout time.Duration) (*canvas.Note, error) {
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()

	timeoutCh := time.After(timeout)

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()

		case <-timeoutCh:
			return nil, fmt.Errorf("timeout waiting for note after %v", timeout)

		case <-ticker.C:
			note, err := store.GetNote(ctx, noteID)
			if err != nil {
				if canvas.IsNotFound(err) {
					// Not found yet, continue polling
					continue
				}
				return nil, fmt.Errorf("failed to query for note: %w", err)
			}

			return note, nil
		}
	}
}
