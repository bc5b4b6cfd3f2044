package pack

import (
	"context"

	"github.com/google/uuid"

	"github.com/davidleathers/evidence-vault/internal/domain/custody"
	"github.com/davidleathers/evidence-vault/internal/domain/pack"
	"github.com/davidleathers/evidence-vault/internal/infrastructure/cache"
	manifestsvc "github.com/davidleathers/evidence-vault/internal/service/manifest"
)

// ManifestBuilder builds DRAFT previews and signed FINAL manifests
type ManifestBuilder interface {
	Build(ctx context.Context, req manifestsvc.BuildRequest) (*manifestsvc.BuildResult, error)
}

// CustodyRecorder appends custody events for pack membership
type CustodyRecorder interface {
	RecordMany(ctx context.Context, tenantID uuid.UUID, artifactIDs []uuid.UUID, kind custody.EventKind, actor custody.Actor, metadata map[string]any) error
}

// ProgressReporter stores generation progress for polling and live streams
type ProgressReporter interface {
	Set(ctx context.Context, tenantID uuid.UUID, p cache.Progress) error
}

// RevocationMarker records revoked packs in the shared revoked-pack set
type RevocationMarker interface {
	MarkRevoked(ctx context.Context, packID uuid.UUID) error
}

// AccessDeactivator deactivates every inspector grant of a pack
type AccessDeactivator interface {
	DeactivateByPack(ctx context.Context, tenantID, packID uuid.UUID, reason string, actor uuid.UUID) (int64, error)
}

// CreatePackRequest describes a new pack. ArtifactIDs pins the pack to an
// explicit artifact set; when empty the pack covers every READY artifact
// linked to its obligations.
type CreatePackRequest struct {
	TenantID      uuid.UUID   `json:"-" validate:"required"`
	ActorID       uuid.UUID   `json:"-" validate:"required"`
	Name          string      `json:"name" validate:"required,max=255"`
	Scope         pack.Scope  `json:"scope"`
	ObligationIDs []uuid.UUID `json:"obligation_ids"`
	ArtifactIDs   []uuid.UUID `json:"artifact_ids" validate:"max=10000"`
	KeyID         string      `json:"key_id,omitempty"`
	// DeferGeneration leaves the pack in DRAFT until FinalizePack is called
	DeferGeneration bool `json:"defer_generation"`
}

// VerifyOptions selects the live source of an integrity check. Rehash reads
// every binary back from the object store instead of trusting stored hashes.
// ManifestJSON and ProofJSON, when set, replace the stored documents.
type VerifyOptions struct {
	Rehash       bool
	ManifestJSON []byte
	ProofJSON    []byte
}

// KeySource resolves the public key a pack was signed with
type KeySource interface {
	PublicKeyPEM(ctx context.Context, keyID string) (string, error)
}
