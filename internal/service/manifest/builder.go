// Package manifest assembles evidence manifests from a consistent snapshot of
// the catalog and artifact store, and signs FINAL manifests.
package manifest

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/davidleathers/evidence-vault/internal/domain/canonical"
	"github.com/davidleathers/evidence-vault/internal/domain/catalog"
	"github.com/davidleathers/evidence-vault/internal/domain/clock"
	"github.com/davidleathers/evidence-vault/internal/domain/errors"
	"github.com/davidleathers/evidence-vault/internal/domain/evidence"
	"github.com/davidleathers/evidence-vault/internal/domain/manifest"
	"github.com/davidleathers/evidence-vault/internal/domain/pack"
	"github.com/davidleathers/evidence-vault/internal/domain/signing"
	"github.com/davidleathers/evidence-vault/internal/domain/values"
)

// SnapshotRunner runs fn against one consistent read-only view of the store
type SnapshotRunner interface {
	WithSnapshot(ctx context.Context, fn func(ctx context.Context) error) error
}

// Signer signs manifest digests
type Signer interface {
	Sign(ctx context.Context, digest values.HashValue, keyID string) (*signing.Result, error)
	PublicKeyPEM(ctx context.Context, keyID string) (string, error)
}

// PackArtifacts lists the artifacts linked to a pack
type PackArtifacts interface {
	ListArtifactIDs(ctx context.Context, tenantID, packID uuid.UUID) ([]uuid.UUID, error)
}

type BuildRequest struct {
	TenantID      uuid.UUID
	PackID        uuid.UUID
	Scope         pack.Scope
	ObligationIDs []uuid.UUID
	Status        manifest.Status
	// KeyID selects the signing key of FINAL builds; empty means the default key
	KeyID string
}

type BuildResult struct {
	Manifest  *manifest.Manifest
	Canonical []byte
	Digest    values.HashValue
	// Proof is set for FINAL builds only
	Proof *manifest.Proof
	// Artifacts are the stored rows the manifest was built from, sorted by id
	Artifacts []*evidence.Artifact
}

// Builder builds manifests
type Builder struct {
	artifacts    evidence.Repository
	catalog      catalog.Reader
	packs        PackArtifacts
	snapshots    SnapshotRunner
	signer       Signer
	clock        clock.Clock
	logger       *zap.Logger
	maxArtifacts int
}

func NewBuilder(
	artifacts evidence.Repository,
	catalogReader catalog.Reader,
	packs PackArtifacts,
	snapshots SnapshotRunner,
	signer Signer,
	maxArtifacts int,
	clk clock.Clock,
	logger *zap.Logger,
) *Builder {
	return &Builder{
		artifacts:    artifacts,
		catalog:      catalogReader,
		packs:        packs,
		snapshots:    snapshots,
		signer:       signer,
		clock:        clock.OrReal(clk),
		logger:       logger.With(zap.String("service", "manifest_builder")),
		maxArtifacts: maxArtifacts,
	}
}

// snapshot is everything read inside the consistent view
type snapshot struct {
	obligations  []catalog.Obligation
	controls     []catalog.Control
	requirements []catalog.Requirement
	evaluation   *catalog.Evaluation
	artifacts    []*evidence.Artifact
	links        []evidence.Link
}

// Build reads the snapshot, canonicalizes and hashes the manifest and, for
// FINAL builds, signs the digest. A signing failure fails the build.
func (b *Builder) Build(ctx context.Context, req BuildRequest) (*BuildResult, error) {
	if req.TenantID == uuid.Nil {
		return nil, errors.NewValidationError("INVALID_TENANT", "tenant ID cannot be empty")
	}
	if req.Status != manifest.StatusDraft && req.Status != manifest.StatusFinal {
		return nil, errors.NewValidationError("INVALID_MANIFEST_STATUS", fmt.Sprintf("unknown manifest status %q", req.Status))
	}
	if err := req.Scope.Validate(); err != nil {
		return nil, err
	}

	var snap snapshot
	err := b.snapshots.WithSnapshot(ctx, func(ctx context.Context) error {
		var err error
		snap, err = b.read(ctx, req)
		return err
	})
	if err != nil {
		return nil, err
	}

	now := b.clock.Now()
	m := assemble(req, snap, now)
	digest, canon, err := m.Digest()
	if err != nil {
		return nil, errors.NewInternalError("failed to canonicalize manifest").WithCause(err)
	}

	result := &BuildResult{
		Manifest:  m,
		Canonical: canon,
		Digest:    digest,
		Artifacts: snap.artifacts,
	}

	if req.Status == manifest.StatusFinal {
		proof, err := b.sign(ctx, digest, req.KeyID, now)
		if err != nil {
			return nil, err
		}
		result.Proof = proof
	}

	b.logger.Debug("manifest built",
		zap.String("tenant_id", req.TenantID.String()),
		zap.String("pack_id", req.PackID.String()),
		zap.String("status", string(req.Status)),
		zap.Int("artifacts", len(m.Artifacts)),
		zap.String("digest", digest.Short()))
	return result, nil
}

func (b *Builder) read(ctx context.Context, req BuildRequest) (snapshot, error) {
	var snap snapshot
	var err error

	scope := catalog.Scope{Domain: req.Scope.Domain}
	if len(req.ObligationIDs) > 0 {
		scope.ObligationIDs = req.ObligationIDs
	}
	if snap.obligations, err = b.catalog.ListObligations(ctx, req.TenantID, scope); err != nil {
		return snap, err
	}
	obligationIDs := make([]uuid.UUID, 0, len(snap.obligations))
	for _, o := range snap.obligations {
		obligationIDs = append(obligationIDs, o.ID)
	}

	if snap.controls, err = b.catalog.ListControls(ctx, req.TenantID, obligationIDs); err != nil {
		return snap, err
	}
	if snap.requirements, err = b.catalog.ListRequirements(ctx, req.TenantID, obligationIDs); err != nil {
		return snap, err
	}
	if snap.evaluation, err = b.catalog.LatestEvaluation(ctx, req.TenantID, req.Scope.Domain); err != nil {
		return snap, err
	}

	if snap.artifacts, err = b.selectArtifacts(ctx, req, obligationIDs); err != nil {
		return snap, err
	}
	if b.maxArtifacts > 0 && len(snap.artifacts) > b.maxArtifacts {
		return snap, errors.NewValidationError("TOO_MANY_ARTIFACTS",
			fmt.Sprintf("manifest would hold %d artifacts, the limit is %d", len(snap.artifacts), b.maxArtifacts))
	}

	ids := make([]uuid.UUID, 0, len(snap.artifacts))
	for _, a := range snap.artifacts {
		ids = append(ids, a.ID)
	}
	if len(ids) > 0 {
		if snap.links, err = b.artifacts.ListLinks(ctx, req.TenantID, ids); err != nil {
			return snap, err
		}
	}
	return snap, nil
}

// selectArtifacts prefers the pack's own artifact links. Without any, every
// READY artifact linked to the scoped obligations is used.
func (b *Builder) selectArtifacts(ctx context.Context, req BuildRequest, obligationIDs []uuid.UUID) ([]*evidence.Artifact, error) {
	var packIDs []uuid.UUID
	if req.PackID != uuid.Nil && b.packs != nil {
		var err error
		if packIDs, err = b.packs.ListArtifactIDs(ctx, req.TenantID, req.PackID); err != nil {
			return nil, err
		}
	}

	if len(packIDs) == 0 {
		return b.artifacts.List(ctx, req.TenantID, evidence.ListFilter{
			ObligationIDs: obligationIDs,
			ReadyOnly:     true,
		})
	}

	stored, err := b.artifacts.List(ctx, req.TenantID, evidence.ListFilter{
		IDs:            packIDs,
		IncludeDeleted: true,
	})
	if err != nil {
		return nil, err
	}
	if req.Status == manifest.StatusFinal && len(stored) != len(packIDs) {
		return nil, errors.NewConflictError("PACK_ARTIFACT_MISSING", "a pack artifact no longer exists")
	}

	selected := make([]*evidence.Artifact, 0, len(stored))
	for _, a := range stored {
		if a.IsReady() {
			selected = append(selected, a)
			continue
		}
		if req.Status == manifest.StatusFinal {
			return nil, errors.NewConflictError("PACK_ARTIFACT_NOT_READY",
				fmt.Sprintf("pack artifact %s is deleted or has no uploaded binary", a.ID))
		}
	}
	return selected, nil
}

func assemble(req BuildRequest, snap snapshot, now time.Time) *manifest.Manifest {
	m := &manifest.Manifest{
		SchemaVersion: manifest.SchemaVersion,
		Status:        req.Status,
		PackID:        req.PackID,
		TenantID:      req.TenantID,
		CreatedAt:     canonical.FormatTime(now),
		Scope:         manifest.NewScopeDescriptor(req.Scope.Domain, req.Scope.PeriodStart, req.Scope.PeriodEnd),
		Evaluation:    manifest.SnapshotFromEvaluation(snap.evaluation),
	}

	for _, o := range snap.obligations {
		m.Obligations = append(m.Obligations, manifest.ObligationDescriptor{ID: o.ID, Code: o.Code, Title: o.Title})
	}
	for _, c := range snap.controls {
		m.Controls = append(m.Controls, manifest.ControlDescriptor{
			ID:            c.ID,
			Code:          c.Code,
			Title:         c.Title,
			ObligationIDs: c.ObligationIDs,
		})
	}
	for _, r := range snap.requirements {
		m.Requirements = append(m.Requirements, manifest.RequirementDescriptor{
			ID:           r.ID,
			Title:        r.Title,
			ControlID:    r.ControlID,
			ObligationID: r.ObligationID,
		})
	}

	requirementIDs := map[uuid.UUID][]uuid.UUID{}
	controlIDs := map[uuid.UUID][]uuid.UUID{}
	for _, l := range snap.links {
		switch l.Target {
		case evidence.LinkTargetRequirement:
			requirementIDs[l.ArtifactID] = append(requirementIDs[l.ArtifactID], l.TargetID)
		case evidence.LinkTargetControl:
			controlIDs[l.ArtifactID] = append(controlIDs[l.ArtifactID], l.TargetID)
		}
	}

	for _, a := range snap.artifacts {
		var approvedAt string
		if approval := a.Approval(); approval != nil {
			approvedAt = canonical.FormatTime(approval.ApprovedAt)
		}
		m.Artifacts = append(m.Artifacts, manifest.ArtifactDescriptor{
			ID:             a.ID,
			Name:           a.Name,
			Version:        a.Version,
			SHA256:         a.ContentHash,
			SizeBytes:      a.SizeBytes,
			MediaType:      a.MediaType,
			RequirementIDs: requirementIDs[a.ID],
			ControlIDs:     controlIDs[a.ID],
			ApprovedAt:     approvedAt,
		})
	}

	m.Normalize()
	return m
}

func (b *Builder) sign(ctx context.Context, digest values.HashValue, keyID string, now time.Time) (*manifest.Proof, error) {
	res, err := b.signer.Sign(ctx, digest, keyID)
	if err != nil {
		return nil, err
	}
	publicKey, err := b.signer.PublicKeyPEM(ctx, res.KeyID)
	if err != nil {
		return nil, err
	}
	proof, err := manifest.NewProof(digest, res, publicKey, now)
	if err != nil {
		return nil, errors.NewUpstreamError("key_manager", "malformed signature returned").WithCause(err)
	}
	return proof, nil
}
