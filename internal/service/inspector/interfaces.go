package inspector

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/davidleathers/evidence-vault/internal/domain/custody"
	"github.com/davidleathers/evidence-vault/internal/domain/inspector"
	"github.com/davidleathers/evidence-vault/internal/domain/manifest"
	"github.com/davidleathers/evidence-vault/internal/domain/pack"
	packsvc "github.com/davidleathers/evidence-vault/internal/service/pack"
	"github.com/davidleathers/evidence-vault/internal/service/verifier"
)

// PackDocuments reads the signed outputs of a pack
type PackDocuments interface {
	LoadSignedManifest(ctx context.Context, p *pack.Pack) (*manifest.Manifest, *manifest.Proof, error)
	VerifyPackIntegrity(ctx context.Context, tenantID, packID uuid.UUID, opts packsvc.VerifyOptions) (*verifier.Result, error)
}

// CustodyRecorder appends inspector downloads to the custody log
type CustodyRecorder interface {
	Record(ctx context.Context, tenantID, artifactID uuid.UUID, kind custody.EventKind, actor custody.Actor, metadata map[string]any) (*custody.Event, error)
}

// RevocationChecker consults the shared revoked-pack set
type RevocationChecker interface {
	IsRevoked(ctx context.Context, packID uuid.UUID) (bool, error)
}

// RateLimiter admits inspector requests per token fingerprint
type RateLimiter interface {
	Allow(ctx context.Context, key string, now time.Time) (bool, error)
}

// GrantRequest asks for inspector access to one COMPLETED pack. A nil
// Permissions means the default set; zero TTLHours means the default TTL.
type GrantRequest struct {
	TenantID    uuid.UUID              `json:"-" validate:"required"`
	PackID      uuid.UUID              `json:"-" validate:"required"`
	ActorID     uuid.UUID              `json:"-" validate:"required"`
	Inspector   inspector.Identity     `json:"inspector"`
	Permissions *inspector.Permissions `json:"permissions,omitempty"`
	TTLHours    int                    `json:"ttl_hours,omitempty" validate:"gte=0"`
}

// Grant is returned once at grant time. Token is never stored or shown again.
type Grant struct {
	Access *inspector.Access `json:"access"`
	Token  string            `json:"token"`
}

// Session is a verified inspector request
type Session struct {
	Access *inspector.Access
	Pack   *pack.Pack
	// Fingerprint identifies the presented token in logs and activity
	Fingerprint string
	Request     inspector.RequestInfo
}

// ArtifactSummary is an inspector-facing artifact row
type ArtifactSummary struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	Version   int       `json:"version"`
	SHA256    string    `json:"sha256"`
	SizeBytes int64     `json:"size_bytes"`
	MediaType string    `json:"media_type"`
}

// PackView is the reduced projection shown to inspectors. It carries no
// storage locations and no tenant identifiers.
type PackView struct {
	ID             uuid.UUID             `json:"id"`
	Name           string                `json:"name"`
	Scope          pack.Scope            `json:"scope"`
	Status         pack.Status           `json:"status"`
	ManifestSHA256 string                `json:"manifest_sha256"`
	FinalizedAt    *time.Time            `json:"finalized_at,omitempty"`
	Artifacts      []ArtifactSummary     `json:"artifacts"`
	Inspector      inspector.Identity    `json:"inspector"`
	Permissions    inspector.Permissions `json:"permissions"`
	ExpiresAt      time.Time             `json:"expires_at"`
}

// ManifestView is the signed manifest and its detached proof
type ManifestView struct {
	Manifest *manifest.Manifest `json:"manifest"`
	Proof    *manifest.Proof    `json:"proof"`
}

type DownloadLink struct {
	ArtifactID uuid.UUID `json:"artifact_id"`
	Version    int       `json:"version"`
	URL        string    `json:"url"`
	ExpiresAt  time.Time `json:"expires_at"`
}

// Report is the exported verification report of a pack
type Report struct {
	Pack         *PackView        `json:"pack"`
	Verification *verifier.Result `json:"verification"`
	GeneratedAt  time.Time        `json:"generated_at"`
}
