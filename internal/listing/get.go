package listing

import (
	"context"
	"fmt"
	"io"

	"github.com/google/uuid"
	"github.com/loomnotes/loom/pkg/canvas"
)

// GetNote retrieves a single note by ID and writes it as pretty-printed JSON to the writer.
// Returns an error if the note ID is invalid or the note does not exist.
// Uses IsNotFound() to distinguish "not found" errors from other errors.
func GetNote(ctx context.Context, store *canvas.Store, noteID string, w io.Writer) error {
	if _, err := uuid.Parse(noteID); err != nil {
		return fmt.Errorf("invalid note ID format: must be a valid UUID")
	}

	note, err := store.GetNote(ctx, noteID)
	if err != nil {
		if canvas.IsNotFound(err) {
			return &NoteNotFoundError{NoteID: noteID}
		}
		return fmt.Errorf("failed to fetch note: %w", err)
	}

	if err := FormatSingleJSON(w, note); err != nil {
		return fmt.Errorf("failed to format note: %w", err)
	}

	return nil
}

// NoteNotFoundError represents a specific "note not found" error.
// This allows callers to distinguish not-found errors from other failures.
type NoteNotFoundError struct {
	NoteID string
}

func (e *NoteNotFoundError) Error() string {
	return fmt.Sprintf("note with ID '%s' not found", e.NoteID)
}

// IsNotFound returns true if the error is a NoteNotFoundError.
func IsNotFound(err error) bool {
	_, ok := err.(*NoteNotFoundError)
	return ok
}
