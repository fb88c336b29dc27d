// Package evidence abstracts the capture collaborator that turns a
// provider's photo or reading into a stored reference. The core only cares
// that a reference exists, never what it points at.
package evidence

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// Store issues an opaque reference for a captured piece of evidence.
type Store interface {
	Capture(ctx context.Context, jobID, taskID string) (string, error)
}

// StubStore mints deterministic-shaped URLs without talking to any real
// storage. BaseURL defaults to a placeholder host.
type StubStore struct {
	BaseURL string
}

func (s *StubStore) Capture(ctx context.Context, jobID, taskID string) (string, error) {
	base := s.BaseURL
	if base == "" {
		base = "https://evidence.luvia.app"
	}
	return fmt.Sprintf("%s/%s/%s/%s.jpg", base, jobID, taskID, uuid.NewString()), nil
}
