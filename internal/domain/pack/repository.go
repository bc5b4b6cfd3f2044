package pack

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// ArtifactLink is a pack membership row
type ArtifactLink struct {
	PackID     uuid.UUID
	ArtifactID uuid.UUID
	TenantID   uuid.UUID
	AddedBy    uuid.UUID
	AddedAt    time.Time
}

// ListFilter narrows pack listings
type ListFilter struct {
	Status *Status
	Limit  int
	Offset int
}

// Repository persists packs. Every read and write is filtered by tenant.
type Repository interface {
	Create(ctx context.Context, p *Pack) error

	Get(ctx context.Context, tenantID, id uuid.UUID) (*Pack, error)

	List(ctx context.Context, tenantID uuid.UUID, filter ListFilter) ([]*Pack, error)

	// Update persists p only if the stored row still has expectedStatus and
	// expectedRevision, then bumps the revision. A lost race is a conflict.
	Update(ctx context.Context, p *Pack, expectedStatus Status, expectedRevision int64) error

	AddArtifacts(ctx context.Context, links []ArtifactLink) error

	ListArtifactIDs(ctx context.Context, tenantID, packID uuid.UUID) ([]uuid.UUID, error)

	// HasArtifact checks pack membership, not just tenant ownership
	HasArtifact(ctx context.Context, tenantID, packID, artifactID uuid.UUID) (bool, error)
}
