// Package collab implements Loom's client-side collaboration core: session
// identity, the reconciliation engine that merges durable and ephemeral
// events into one consistent canvas view, outbound throttling, and the
// per-canvas CollaborationSession lifecycle.
package collab

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"strings"

	"github.com/google/uuid"
)

// ErrUnauthenticated is returned when no identity can be resolved for the
// current session. Callers surface this through their own auth layer; the
// collaboration core never retries identity resolution.
var ErrUnauthenticated = errors.New("unauthenticated")

// Identity is the stable per-session identity of a collaborator: the ID all
// presence and broadcast state is keyed by, a best-effort display name, and
// a visually distinct color held for the whole session.
type Identity struct {
	ID          string
	DisplayName string
	Color       string
}

// IdentitySource resolves the current collaborator's identity.
// Implementations return ErrUnauthenticated when nobody is signed in.
type IdentitySource interface {
	Identify(ctx context.Context) (*Identity, error)
}

// RandomColor generates a visually distinct collaborator color: a random hue
// at fixed saturation and lightness. Generated once per session and held for
// its duration. Collisions across collaborators are possible and accepted -
// this is a UX nicety, not a correctness requirement.
func RandomColor() string {
	return fmt.Sprintf("hsl(%d, 70%%, 50%%)", rand.Intn(360))
}

// DisplayNameOrDerived returns name if set, otherwise derives a fallback
// from an email-shaped ID (the part before '@'), and finally "Unknown".
func DisplayNameOrDerived(name, id string) string {
	if name != "" {
		return name
	}
	if at := strings.Index(id, "@"); at > 0 {
		return id[:at]
	}
	if id != "" {
		return id
	}
	return "Unknown"
}

// EnvSource resolves identity from the process environment. It backs the CLI
// and tests; a real deployment plugs in its auth provider instead.
//
// LOOM_USER_ID is the stable ID (a fresh UUID is generated when unset, which
// is still a valid single-session identity). LOOM_USER_NAME is optional.
type EnvSource struct{}

// Identify implements IdentitySource.
func (EnvSource) Identify(ctx context.Context) (*Identity, error) {
	id := os.Getenv("LOOM_USER_ID")
	if id == "" {
		id = uuid.New().String()
	}

	return &Identity{
		ID:          id,
		DisplayName: DisplayNameOrDerived(os.Getenv("LOOM_USER_NAME"), id),
		Color:       RandomColor(),
	}, nil
}
