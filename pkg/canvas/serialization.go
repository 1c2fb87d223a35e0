package canvas

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// Serialization helpers for converting between Go structs and Redis hashes
//
// Redis stores data as string-to-string maps (hashes). Structured fields
// (position, size, tags, content) are JSON-encoded into single hash fields.
// This keeps scalar fields individually patchable while complex values stay
// opaque blobs.

// NoteToHash converts a Note struct to a Redis hash format.
func NoteToHash(n *Note) (map[string]interface{}, error) {
	positionJSON, err := json.Marshal(n.Position)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal position: %w", err)
	}

	sizeJSON, err := json.Marshal(n.Size)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal size: %w", err)
	}

	tagsJSON, err := json.Marshal(n.Tags)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal tags: %w", err)
	}

	hash := map[string]interface{}{
		"id":            n.ID,
		"canvas_id":     n.CanvasID,
		"title":         n.Title,
		"content":       string(n.Content),
		"position":      string(positionJSON),
		"size":          string(sizeJSON),
		"color":         string(n.Color),
		"stack_order":   n.StackOrder,
		"tags":          string(tagsJSON),
		"created_at_ms": n.CreatedAtMs,
		"updated_at_ms": n.UpdatedAtMs,
	}

	return hash, nil
}

// HashToNote converts a Redis hash to a Note struct.
func HashToNote(hash map[string]string) (*Note, error) {
	var position Point
	if positionJSON := hash["position"]; positionJSON != "" {
		if err := json.Unmarshal([]byte(positionJSON), &position); err != nil {
			return nil, fmt.Errorf("failed to unmarshal position: %w", err)
		}
	}

	var size Size
	if sizeJSON := hash["size"]; sizeJSON != "" {
		if err := json.Unmarshal([]byte(sizeJSON), &size); err != nil {
			return nil, fmt.Errorf("failed to unmarshal size: %w", err)
		}
	}

	var tags []string
	if tagsJSON := hash["tags"]; tagsJSON != "" {
		if err := json.Unmarshal([]byte(tagsJSON), &tags); err != nil {
			return nil, fmt.Errorf("failed to unmarshal tags: %w", err)
		}
	}

	// Ensure we have an empty slice instead of nil for consistency
	if tags == nil {
		tags = []string{}
	}

	stackOrder, err := strconv.ParseInt(hash["stack_order"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid stack_order field: %w", err)
	}

	createdAtMs, _ := strconv.ParseInt(hash["created_at_ms"], 10, 64)
	updatedAtMs, _ := strconv.ParseInt(hash["updated_at_ms"], 10, 64)

	var content json.RawMessage
	if c := hash["content"]; c != "" {
		content = json.RawMessage(c)
	}

	note := &Note{
		ID:          hash["id"],
		CanvasID:    hash["canvas_id"],
		Title:       hash["title"],
		Content:     content,
		Position:    position,
		Size:        size,
		Color:       NoteColor(hash["color"]),
		StackOrder:  stackOrder,
		Tags:        tags,
		CreatedAtMs: createdAtMs,
		UpdatedAtMs: updatedAtMs,
	}

	return note, nil
}

// EdgeToHash converts an Edge struct to a Redis hash format.
func EdgeToHash(e *Edge) map[string]interface{} {
	return map[string]interface{}{
		"id":             e.ID,
		"canvas_id":      e.CanvasID,
		"source_note_id": e.SourceNoteID,
		"target_note_id": e.TargetNoteID,
		"source_handle":  e.SourceHandle,
		"target_handle":  e.TargetHandle,
		"created_at_ms":  e.CreatedAtMs,
	}
}

// HashToEdge converts a Redis hash to an Edge struct.
func HashToEdge(hash map[string]string) (*Edge, error) {
	if hash["id"] == "" {
		return nil, fmt.Errorf("edge hash missing id field")
	}

	createdAtMs, _ := strconv.ParseInt(hash["created_at_ms"], 10, 64)

	edge := &Edge{
		ID:           hash["id"],
		CanvasID:     hash["canvas_id"],
		SourceNoteID: hash["source_note_id"],
		TargetNoteID: hash["target_note_id"],
		SourceHandle: hash["source_handle"],
		TargetHandle: hash["target_handle"],
		CreatedAtMs:  createdAtMs,
	}

	return edge, nil
}

// PatchToHash converts a NotePatch to the Redis hash fields it touches.
// Only non-nil fields are included, so HSet leaves the rest of the row alone.
func PatchToHash(p *NotePatch) (map[string]interface{}, error) {
	hash := make(map[string]interface{})

	if p.Title != nil {
		hash["title"] = *p.Title
	}

	if p.Content != nil {
		hash["content"] = string(*p.Content)
	}

	if p.Position != nil {
		positionJSON, err := json.Marshal(*p.Position)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal position: %w", err)
		}
		hash["position"] = string(positionJSON)
	}

	if p.Size != nil {
		sizeJSON, err := json.Marshal(*p.Size)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal size: %w", err)
		}
		hash["size"] = string(sizeJSON)
	}

	if p.Color != nil {
		hash["color"] = string(*p.Color)
	}

	if p.StackOrder != nil {
		hash["stack_order"] = *p.StackOrder
	}

	if p.Tags != nil {
		tagsJSON, err := json.Marshal(*p.Tags)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal tags: %w", err)
		}
		hash["tags"] = string(tagsJSON)
	}

	return hash, nil
}
