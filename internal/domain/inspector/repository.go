package inspector

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/davidleathers/evidence-vault/internal/domain/values"
)

// Repository persists access grants and their activity log
type Repository interface {
	Create(ctx context.Context, a *Access) error

	// GetByTokenHash is the only lookup available to unauthenticated callers
	GetByTokenHash(ctx context.Context, tokenHash values.HashValue) (*Access, error)

	Get(ctx context.Context, tenantID, id uuid.UUID) (*Access, error)

	ListByPack(ctx context.Context, tenantID, packID uuid.UUID) ([]*Access, error)

	// Revoke writes a's revocation only if the stored grant is not yet
	// revoked. It reports false when another revocation got there first.
	Revoke(ctx context.Context, a *Access) (bool, error)

	// Extend stores a's new expiry only if the stored grant is still active
	// and unrevoked with expiry previousExpiry; otherwise Conflict
	Extend(ctx context.Context, a *Access, previousExpiry time.Time) error

	// TouchLastUsed records a successful use without a full update
	TouchLastUsed(ctx context.Context, id uuid.UUID, at time.Time) error

	// DeactivateByPack revokes every active grant of a pack and returns how many changed
	DeactivateByPack(ctx context.Context, tenantID, packID uuid.UUID, reason string, actor uuid.UUID) (int64, error)

	AppendActivity(ctx context.Context, entry *ActivityEntry) error

	ListActivity(ctx context.Context, tenantID, accessID uuid.UUID, limit int) ([]*ActivityEntry, error)
}
