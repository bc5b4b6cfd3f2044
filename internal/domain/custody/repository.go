package custody

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/davidleathers/evidence-vault/internal/domain/values"
)

// ErrChainForked is returned by Append when another event claimed the same
// predecessor first. Callers re-read the head and retry.
var ErrChainForked = errors.New("custody: chain head moved")

// Repository is the append-only custody store
type Repository interface {
	// Head returns the hash of the latest event of an artifact, empty when none
	Head(ctx context.Context, tenantID, artifactID uuid.UUID) (values.HashValue, error)

	// Append inserts a sealed event and assigns its sequence
	Append(ctx context.Context, e *Event) error

	// List returns an artifact's events ordered by occurred_at then sequence
	List(ctx context.Context, tenantID, artifactID uuid.UUID) ([]*Event, error)
}
