package rest

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"github.com/davidleathers/evidence-vault/internal/domain/custody"
	"github.com/davidleathers/evidence-vault/internal/domain/evidence"
	"github.com/davidleathers/evidence-vault/internal/domain/inspector"
	"github.com/davidleathers/evidence-vault/internal/domain/manifest"
	"github.com/davidleathers/evidence-vault/internal/domain/pack"
	"github.com/davidleathers/evidence-vault/internal/domain/signing"
	"github.com/davidleathers/evidence-vault/internal/infrastructure/cache"
	evidencesvc "github.com/davidleathers/evidence-vault/internal/service/evidence"
	inspectorsvc "github.com/davidleathers/evidence-vault/internal/service/inspector"
	manifestsvc "github.com/davidleathers/evidence-vault/internal/service/manifest"
	packsvc "github.com/davidleathers/evidence-vault/internal/service/pack"
	"github.com/davidleathers/evidence-vault/internal/service/verifier"
)

// PackService is the tenant side of the pack lifecycle
type PackService interface {
	CreatePack(ctx context.Context, req packsvc.CreatePackRequest) (*pack.Pack, error)
	GetPack(ctx context.Context, tenantID, packID uuid.UUID) (*pack.Pack, error)
	ListPacks(ctx context.Context, tenantID uuid.UUID, filter pack.ListFilter) ([]*pack.Pack, error)
	ListArtifactIDs(ctx context.Context, tenantID, packID uuid.UUID) ([]uuid.UUID, error)
	FinalizePack(ctx context.Context, tenantID, packID, actorID uuid.UUID) (*pack.Pack, error)
	RevokePack(ctx context.Context, tenantID, packID, actorID uuid.UUID, reason string) (*pack.Pack, error)
	BuildDraftManifest(ctx context.Context, tenantID, packID uuid.UUID) (*manifestsvc.BuildResult, error)
	VerifyPackIntegrity(ctx context.Context, tenantID, packID uuid.UUID, opts packsvc.VerifyOptions) (*verifier.Result, error)
}

// InspectorService grants access and serves verified inspector sessions
type InspectorService interface {
	InspectorVerifier
	Grant(ctx context.Context, req inspectorsvc.GrantRequest) (*inspectorsvc.Grant, error)
	Revoke(ctx context.Context, tenantID, accessID, actorID uuid.UUID, reason string) (*inspector.Access, error)
	Extend(ctx context.Context, tenantID, accessID uuid.UUID, additionalHours int) (*inspector.Access, error)
	ListAccesses(ctx context.Context, tenantID, packID uuid.UUID) ([]*inspector.Access, error)
	ListActivity(ctx context.Context, tenantID, accessID uuid.UUID) ([]*inspector.ActivityEntry, error)
	GetPackView(ctx context.Context, sess *inspectorsvc.Session) (*inspectorsvc.PackView, error)
	GetManifest(ctx context.Context, sess *inspectorsvc.Session) (*inspectorsvc.ManifestView, error)
	GetArtifactDownloadURL(ctx context.Context, sess *inspectorsvc.Session, artifactID uuid.UUID) (*inspectorsvc.DownloadLink, error)
	ExportReport(ctx context.Context, sess *inspectorsvc.Session) (*inspectorsvc.Report, error)
}

// EvidenceService manages artifacts and their links
type EvidenceService interface {
	Get(ctx context.Context, tenantID, artifactID uuid.UUID) (*evidence.Artifact, error)
	List(ctx context.Context, tenantID uuid.UUID, filter evidence.ListFilter) ([]*evidence.Artifact, error)
	Links(ctx context.Context, tenantID, artifactID uuid.UUID) ([]evidence.Link, error)
	RequestUpload(ctx context.Context, req evidencesvc.UploadRequest) (*evidencesvc.UploadTicket, error)
	RequestReplacement(ctx context.Context, tenantID, artifactID uuid.UUID) (*evidencesvc.UploadTicket, error)
	FinalizeUpload(ctx context.Context, tenantID, artifactID, actorID uuid.UUID) (*evidence.Artifact, error)
	ReplaceBinary(ctx context.Context, tenantID, artifactID, actorID uuid.UUID, mediaType string) (*evidence.Artifact, error)
	EditMetadata(ctx context.Context, tenantID, artifactID, actorID uuid.UUID, patch evidence.MetadataPatch) (*evidence.Artifact, error)
	Approve(ctx context.Context, tenantID, artifactID, actorID uuid.UUID) (*evidence.Artifact, error)
	Tombstone(ctx context.Context, tenantID, artifactID, actorID uuid.UUID) (*evidence.Artifact, error)
	LinkRequirement(ctx context.Context, tenantID, artifactID, requirementID, actorID uuid.UUID) (bool, error)
	LinkControl(ctx context.Context, tenantID, artifactID, controlID, actorID uuid.UUID) (bool, error)
	LinkObligation(ctx context.Context, tenantID, artifactID, obligationID, actorID uuid.UUID) (bool, error)
	UnlinkRequirement(ctx context.Context, tenantID, artifactID, requirementID, actorID uuid.UUID) (bool, error)
	DownloadURL(ctx context.Context, tenantID, artifactID uuid.UUID, actor custody.Actor) (*evidencesvc.DownloadLink, error)
}

// CustodyService reads and verifies artifact custody chains
type CustodyService interface {
	History(ctx context.Context, tenantID, artifactID uuid.UUID) ([]*custody.Event, error)
	VerifyHistory(ctx context.Context, tenantID, artifactID uuid.UUID) (*custody.ChainReport, error)
}

// KeyService publishes verification keys
type KeyService interface {
	DefaultKeyID() string
	Algorithm(keyID string) (signing.Algorithm, error)
	PublicKeyPEM(ctx context.Context, keyID string) (string, error)
}

// ProgressSource reads live generation progress
type ProgressSource interface {
	Get(ctx context.Context, tenantID, packID uuid.UUID) (*cache.Progress, error)
	Subscribe(ctx context.Context, tenantID, packID uuid.UUID) (<-chan cache.Progress, error)
}

// Handlers serves the tenant and inspector APIs
type Handlers struct {
	base      *BaseHandler
	packs     PackService
	inspector InspectorService
	evidence  EvidenceService
	custody   CustodyService
	keys      KeyService
	progress  ProgressSource
	portalURL string
	logger    *slog.Logger
}

// manifestDocument is the draft manifest preview
type manifestDocument struct {
	Manifest *manifest.Manifest `json:"manifest"`
	SHA256   string             `json:"sha256"`
}
