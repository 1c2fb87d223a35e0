package commands

import (
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/loomnotes/loom/internal/listing"
	"github.com/loomnotes/loom/internal/printer"
	"github.com/loomnotes/loom/internal/timespec"
	"github.com/loomnotes/loom/pkg/canvas"
	"github.com/spf13/cobra"
)

var (
	noteAddTitle string
	noteAddColor string
	noteAddTags  []string
	noteAddX     float64
	noteAddY     float64

	noteListJSONL bool
	noteListTag   string
	noteListColor string
	noteListSince string
	noteListUntil string

	noteMoveX float64
	noteMoveY float64
)

var noteCmd = &cobra.Command{
	Use:   "note",
	Short: "Create, inspect, and modify notes on a canvas",
}

var noteAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Create a new note",
	Long: `Create a new note on the canvas.

Size and color default to the values in loom.yml. The new note is published
on the change feed, so open sessions pick it up immediately.

Examples:
  # Blank note at the origin
  loom note add

  # Titled, tagged note at a position
  loom note add --title "Retro actions" --x 120 --y 80 --tag retro --color yellow`,
	RunE: runNoteAdd,
}

var noteListCmd = &cobra.Command{
	Use:   "list",
	Short: "List notes on the canvas",
	Long: `List all notes on the canvas in chronological order.

Use --jsonl for machine-readable output, and --tag or --color to filter.
The --tag filter accepts glob patterns (e.g. --tag 'sprint-*'). The --since
and --until filters accept durations ("2h", "30m") or RFC3339 timestamps.`,
	RunE: runNoteList,
}

var noteGetCmd = &cobra.Command{
	Use:   "get <note-id>",
	Short: "Show one note as JSON",
	Args:  cobra.ExactArgs(1),
	RunE:  runNoteGet,
}

var noteMoveCmd = &cobra.Command{
	Use:   "move <note-id>",
	Short: "Move a note to a new position",
	Args:  cobra.ExactArgs(1),
	RunE:  runNoteMove,
}

var noteFrontCmd = &cobra.Command{
	Use:   "front <note-id>",
	Short: "Bring a note to the front of the stack",
	Args:  cobra.ExactArgs(1),
	RunE:  runNoteFront,
}

var noteDeleteCmd = &cobra.Command{
	Use:   "delete <note-id>",
	Short: "Delete a note and every edge connected to it",
	Args:  cobra.ExactArgs(1),
	RunE:  runNoteDelete,
}

func init() {
	noteAddCmd.Flags().StringVar(&noteAddTitle, "title", "", "Note title")
	noteAddCmd.Flags().StringVar(&noteAddColor, "color", "", "Note color (defaults to loom.yml)")
	noteAddCmd.Flags().StringSliceVar(&noteAddTags, "tag", nil, "Tag to attach (repeatable)")
	noteAddCmd.Flags().Float64Var(&noteAddX, "x", 0, "X position")
	noteAddCmd.Flags().Float64Var(&noteAddY, "y", 0, "Y position")

	noteListCmd.Flags().BoolVar(&noteListJSONL, "jsonl", false, "Output line-delimited JSON")
	noteListCmd.Flags().StringVar(&noteListTag, "tag", "", "Filter by tag glob pattern")
	noteListCmd.Flags().StringVar(&noteListColor, "color", "", "Filter by color")
	noteListCmd.Flags().StringVar(&noteListSince, "since", "", "Only notes created after this time (duration or RFC3339)")
	noteListCmd.Flags().StringVar(&noteListUntil, "until", "", "Only notes created before this time (duration or RFC3339)")

	noteMoveCmd.Flags().Float64Var(&noteMoveX, "x", 0, "New X position")
	noteMoveCmd.Flags().Float64Var(&noteMoveY, "y", 0, "New Y position")
	noteMoveCmd.MarkFlagRequired("x")
	noteMoveCmd.MarkFlagRequired("y")

	noteCmd.AddCommand(noteAddCmd, noteListCmd, noteGetCmd, noteMoveCmd, noteFrontCmd, noteDeleteCmd)
	rootCmd.AddCommand(noteCmd)
}

func runNoteAdd(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	color := cfg.Notes.Color
	if noteAddColor != "" {
		color = noteAddColor
	}

	tags := noteAddTags
	if tags == nil {
		tags = []string{}
	}

	now := time.Now().UnixMilli()
	note := &canvas.Note{
		ID:          uuid.New().String(),
		CanvasID:    canvasID,
		Title:       noteAddTitle,
		Position:    canvas.Point{X: noteAddX, Y: noteAddY},
		Size:        canvas.Size{Width: float64(*cfg.Notes.Width), Height: float64(*cfg.Notes.Height)},
		Color:       canvas.NoteColor(color),
		StackOrder:  now,
		Tags:        tags,
		CreatedAtMs: now,
	}

	store, err := openStore(cmd)
	if err != nil {
		return err
	}
	defer store.Close()

	if err := store.CreateNote(cmd.Context(), note); err != nil {
		return printer.ErrorWithContext(
			"failed to create note",
			fmt.Sprintf("Error: %v", err),
			map[string]string{"Canvas": canvasID},
			nil,
		)
	}

	printer.Success("Created note %s\n", note.ID)
	return nil
}

func runNoteList(cmd *cobra.Command, args []string) error {
	window, err := timespec.ParseRange(noteListSince, noteListUntil)
	if err != nil {
		return err
	}

	store, err := openStore(cmd)
	if err != nil {
		return err
	}
	defer store.Close()

	format := listing.OutputFormatDefault
	if noteListJSONL {
		format = listing.OutputFormatJSONL
	}

	filters := &listing.FilterCriteria{
		SinceTimestampMs: window.SinceMs,
		UntilTimestampMs: window.UntilMs,
		TagGlob:          noteListTag,
		Color:            noteListColor,
	}

	return listing.ListNotes(cmd.Context(), store, format, filters, os.Stdout)
}

func runNoteGet(cmd *cobra.Command, args []string) error {
	store, err := openStore(cmd)
	if err != nil {
		return err
	}
	defer store.Close()

	if err := listing.GetNote(cmd.Context(), store, args[0], os.Stdout); err != nil {
		if listing.IsNotFound(err) {
			return printer.Error(
				"note not found",
				fmt.Sprintf("No note with ID '%s' exists on canvas '%s'.", args[0], canvasID),
				[]string{"List notes:\n  loom note list"},
			)
		}
		return err
	}
	return nil
}

func runNoteMove(cmd *cobra.Command, args []string) error {
	store, err := openStore(cmd)
	if err != nil {
		return err
	}
	defer store.Close()

	position := canvas.Point{X: noteMoveX, Y: noteMoveY}
	note, err := store.UpdateNote(cmd.Context(), args[0], &canvas.NotePatch{Position: &position})
	if err != nil {
		if canvas.IsNotFound(err) {
			return printer.Error(
				"note not found",
				fmt.Sprintf("No note with ID '%s' exists on canvas '%s'.", args[0], canvasID),
				[]string{"List notes:\n  loom note list"},
			)
		}
		return fmt.Errorf("failed to move note: %w", err)
	}

	printer.Success("Moved note %s to (%.0f, %.0f)\n", note.ID, note.Position.X, note.Position.Y)
	return nil
}

func runNoteFront(cmd *cobra.Command, args []string) error {
	store, err := openStore(cmd)
	if err != nil {
		return err
	}
	defer store.Close()

	note, err := store.BringNoteToFront(cmd.Context(), args[0], time.Now().UnixMilli())
	if err != nil {
		if canvas.IsNotFound(err) {
			return printer.Error(
				"note not found",
				fmt.Sprintf("No note with ID '%s' exists on canvas '%s'.", args[0], canvasID),
				[]string{"List notes:\n  loom note list"},
			)
		}
		return fmt.Errorf("failed to bring note to front: %w", err)
	}

	printer.Success("Note %s brought to front (stack order %d)\n", note.ID, note.StackOrder)
	return nil
}

func runNoteDelete(cmd *cobra.Command, args []string) error {
	store, err := openStore(cmd)
	if err != nil {
		return err
	}
	defer store.Close()

	if err := store.DeleteNote(cmd.Context(), args[0]); err != nil {
		return fmt.Errorf("failed to delete note: %w", err)
	}

	printer.Success("Deleted note %s\n", args[0])
	return nil
}
