package evidence

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// LinkTarget names what an artifact is linked to
type LinkTarget string

const (
	LinkTargetRequirement LinkTarget = "requirement"
	LinkTargetControl     LinkTarget = "control"
	LinkTargetObligation  LinkTarget = "obligation"
)

func (t LinkTarget) String() string {
	return string(t)
}

// Link associates an artifact with an evidence requirement, control or obligation
type Link struct {
	TenantID   uuid.UUID
	ArtifactID uuid.UUID
	Target     LinkTarget
	TargetID   uuid.UUID
	CreatedBy  uuid.UUID
	CreatedAt  time.Time
}

// ListFilter selects artifacts of one tenant
type ListFilter struct {
	IDs            []uuid.UUID
	ObligationIDs  []uuid.UUID
	ReadyOnly      bool
	IncludeDeleted bool
	Limit          int
	Offset         int
}

// Repository persists artifacts and their links. All methods are tenant-scoped.
type Repository interface {
	Create(ctx context.Context, a *Artifact) error

	Get(ctx context.Context, tenantID, id uuid.UUID) (*Artifact, error)

	List(ctx context.Context, tenantID uuid.UUID, filter ListFilter) ([]*Artifact, error)

	// UpdateMutable writes every mutable field, conditioned on the stored row
	// still being mutable and at expectedRevision. Zero rows affected is a
	// conflict. On success a.Revision is advanced.
	UpdateMutable(ctx context.Context, a *Artifact, expectedRevision int64) error

	// AddLink reports false when the link already existed
	AddLink(ctx context.Context, link Link) (bool, error)

	// RemoveLink reports false when there was nothing to remove
	RemoveLink(ctx context.Context, link Link) (bool, error)

	ListLinks(ctx context.Context, tenantID uuid.UUID, artifactIDs []uuid.UUID) ([]Link, error)
}
