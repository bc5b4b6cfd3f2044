// Package pack runs the inspection pack lifecycle: creation, asynchronous
// generation of the signed manifest and bundle, revocation and integrity
// re-verification.
package pack

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/davidleathers/evidence-vault/internal/domain/clock"
	"github.com/davidleathers/evidence-vault/internal/domain/custody"
	"github.com/davidleathers/evidence-vault/internal/domain/errors"
	"github.com/davidleathers/evidence-vault/internal/domain/evidence"
	"github.com/davidleathers/evidence-vault/internal/domain/manifest"
	"github.com/davidleathers/evidence-vault/internal/domain/pack"
	"github.com/davidleathers/evidence-vault/internal/infrastructure/cache"
	"github.com/davidleathers/evidence-vault/internal/infrastructure/config"
	"github.com/davidleathers/evidence-vault/internal/infrastructure/objectstore"
	"github.com/davidleathers/evidence-vault/internal/metrics"
	manifestsvc "github.com/davidleathers/evidence-vault/internal/service/manifest"
)

// Dependencies wires the service. Progress, Revocations and Keys are optional.
type Dependencies struct {
	Packs       pack.Repository
	Artifacts   evidence.Repository
	Builder     ManifestBuilder
	Custody     CustodyRecorder
	Store       objectstore.Store
	Accesses    AccessDeactivator
	Progress    ProgressReporter
	Revocations RevocationMarker
	Keys        KeySource
	Metrics     *metrics.Registry
	Clock       clock.Clock
	Logger      *zap.Logger
}

// Service manages packs
type Service struct {
	packs       pack.Repository
	artifacts   evidence.Repository
	builder     ManifestBuilder
	custody     CustodyRecorder
	store       objectstore.Store
	accesses    AccessDeactivator
	progress    ProgressReporter
	revocations RevocationMarker
	keys        KeySource
	metrics     *metrics.Registry
	clock       clock.Clock
	logger      *zap.Logger

	cfg  config.PacksConfig
	env  string
	pool *WorkerPool
}

// NewService creates the service and its generation worker pool. Call Start
// before submitting work and Stop on shutdown.
func NewService(deps Dependencies, cfg config.PacksConfig, environment string) *Service {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Service{
		packs:       deps.Packs,
		artifacts:   deps.Artifacts,
		builder:     deps.Builder,
		custody:     deps.Custody,
		store:       deps.Store,
		accesses:    deps.Accesses,
		progress:    deps.Progress,
		revocations: deps.Revocations,
		keys:        deps.Keys,
		metrics:     deps.Metrics,
		clock:       clock.OrReal(deps.Clock),
		logger:      logger.With(zap.String("service", "pack")),
		cfg:         cfg,
		env:         environment,
	}
	s.pool = newWorkerPool(context.Background(), cfg.Workers, cfg.QueueSize, s.runJob, s.logger)
	return s
}

// Start launches the generation workers
func (s *Service) Start() {
	s.pool.Start()
}

// Stop finishes queued generations and stops the workers
func (s *Service) Stop() {
	s.pool.Stop()
}

// PoolStatus reports the generation queue
func (s *Service) PoolStatus() PoolStatus {
	return s.pool.Status()
}

func (s *Service) GetPack(ctx context.Context, tenantID, packID uuid.UUID) (*pack.Pack, error) {
	return s.packs.Get(ctx, tenantID, packID)
}

func (s *Service) ListPacks(ctx context.Context, tenantID uuid.UUID, filter pack.ListFilter) ([]*pack.Pack, error) {
	return s.packs.List(ctx, tenantID, filter)
}

// ListArtifactIDs returns the pack's member artifacts
func (s *Service) ListArtifactIDs(ctx context.Context, tenantID, packID uuid.UUID) ([]uuid.UUID, error) {
	if _, err := s.packs.Get(ctx, tenantID, packID); err != nil {
		return nil, err
	}
	return s.packs.ListArtifactIDs(ctx, tenantID, packID)
}

// CreatePack stores a DRAFT pack, links its explicit artifacts and, unless
// generation is deferred, claims it and queues the generation. It returns as
// soon as the job is queued. A full queue fails the pack with queue_full.
func (s *Service) CreatePack(ctx context.Context, req CreatePackRequest) (*pack.Pack, error) {
	if req.ActorID == uuid.Nil {
		return nil, errors.NewValidationError("INVALID_ACTOR", "actor ID cannot be empty")
	}

	now := s.clock.Now()
	p, err := pack.NewPack(req.TenantID, req.Name, req.Scope, manifest.SortedIDs(req.ObligationIDs), req.ActorID, now)
	if err != nil {
		return nil, err
	}

	artifactIDs := manifest.SortedIDs(req.ArtifactIDs)
	if s.cfg.MaxArtifacts > 0 && len(artifactIDs) > s.cfg.MaxArtifacts {
		return nil, errors.NewValidationError("TOO_MANY_ARTIFACTS",
			fmt.Sprintf("a pack holds at most %d artifacts", s.cfg.MaxArtifacts))
	}
	if err := s.checkIncludable(ctx, req.TenantID, artifactIDs); err != nil {
		return nil, err
	}

	if err := s.packs.Create(ctx, p); err != nil {
		return nil, err
	}

	logger := s.logger.With(
		zap.String("tenant_id", p.TenantID.String()),
		zap.String("pack_id", p.ID.String()))

	if err := s.include(ctx, p, artifactIDs, req.ActorID); err != nil {
		return nil, err
	}

	if req.DeferGeneration {
		logger.Info("pack created as draft", zap.Int("artifacts", len(artifactIDs)))
		return p, nil
	}

	if err := s.claim(ctx, p); err != nil {
		return nil, err
	}

	s.report(ctx, p, stepQueued, 0, "")
	queued := s.pool.Submit(job{
		TenantID: p.TenantID,
		PackID:   p.ID,
		ActorID:  req.ActorID,
		KeyID:    req.KeyID,
		Revision: p.Revision,
	})
	s.metrics.SetQueueDepth(int64(s.pool.Status().QueuedJobs))

	if !queued {
		logger.Warn("generation queue full, failing pack")
		s.metrics.RecordPackGeneration(ctx, 0, pack.FailureQueueFull)
		if err := s.markFailed(ctx, p, pack.FailureQueueFull); err != nil {
			return nil, err
		}
		return p, nil
	}

	logger.Info("pack generation queued", zap.Int("artifacts", len(artifactIDs)))
	return p, nil
}

// FinalizePack generates a pack synchronously. DRAFT packs are claimed
// directly; a GENERATING pack is taken over only when its claim is stale.
func (s *Service) FinalizePack(ctx context.Context, tenantID, packID, actorID uuid.UUID) (*pack.Pack, error) {
	if actorID == uuid.Nil {
		return nil, errors.NewValidationError("INVALID_ACTOR", "actor ID cannot be empty")
	}
	p, err := s.packs.Get(ctx, tenantID, packID)
	if err != nil {
		return nil, err
	}

	switch p.Status {
	case pack.StatusDraft:
		if err := s.claim(ctx, p); err != nil {
			return nil, err
		}
	case pack.StatusGenerating:
		expected := p.Revision
		if err := p.ReclaimGeneration(s.clock.Now(), s.cfg.StaleGenerationAfter); err != nil {
			return nil, err
		}
		if err := s.packs.Update(ctx, p, pack.StatusGenerating, expected); err != nil {
			return nil, err
		}
		s.logger.Warn("reclaimed stale pack generation",
			zap.String("pack_id", p.ID.String()),
			zap.String("actor_id", actorID.String()))
	default:
		return nil, errors.NewConflictError("PACK_NOT_FINALIZABLE",
			fmt.Sprintf("pack %s is %s", p.ID, p.Status))
	}

	return s.generate(ctx, p, actorID, "")
}

// RevokePack withdraws a COMPLETED pack and cascades to every inspector grant
// and the shared revoked-pack set. Revoking a REVOKED pack re-applies the
// cascade only.
func (s *Service) RevokePack(ctx context.Context, tenantID, packID, actorID uuid.UUID, reason string) (*pack.Pack, error) {
	p, err := s.packs.Get(ctx, tenantID, packID)
	if err != nil {
		return nil, err
	}

	if p.Status != pack.StatusRevoked {
		expected := p.Revision
		if err := p.Revoke(reason, actorID, s.clock.Now()); err != nil {
			return nil, err
		}
		if err := s.packs.Update(ctx, p, pack.StatusCompleted, expected); err != nil {
			return nil, err
		}
	}

	logger := s.logger.With(zap.String("tenant_id", tenantID.String()), zap.String("pack_id", packID.String()))

	deactivated, err := s.accesses.DeactivateByPack(ctx, tenantID, packID, p.RevocationReason, actorID)
	if err != nil {
		return nil, errors.NewInternalError("failed to deactivate inspector access").WithCause(err)
	}

	if s.revocations != nil {
		if err := s.revocations.MarkRevoked(ctx, packID); err != nil {
			// the database status stays authoritative for access checks
			logger.Warn("failed to mark pack revoked in cache", zap.Error(err))
		}
	}

	logger.Info("pack revoked", zap.Int64("accesses_deactivated", deactivated))
	return p, nil
}

// BuildDraftManifest previews the manifest the pack would get if finalized now
func (s *Service) BuildDraftManifest(ctx context.Context, tenantID, packID uuid.UUID) (*manifestsvc.BuildResult, error) {
	p, err := s.packs.Get(ctx, tenantID, packID)
	if err != nil {
		return nil, err
	}
	return s.builder.Build(ctx, manifestsvc.BuildRequest{
		TenantID:      p.TenantID,
		PackID:        p.ID,
		Scope:         p.Scope,
		ObligationIDs: p.ObligationIDs,
		Status:        manifest.StatusDraft,
	})
}

// checkIncludable requires every explicit artifact to exist, be live and have a binary
func (s *Service) checkIncludable(ctx context.Context, tenantID uuid.UUID, ids []uuid.UUID) error {
	if len(ids) == 0 {
		return nil
	}
	found, err := s.artifacts.List(ctx, tenantID, evidence.ListFilter{IDs: ids, IncludeDeleted: true})
	if err != nil {
		return err
	}
	byID := make(map[uuid.UUID]*evidence.Artifact, len(found))
	for _, a := range found {
		byID[a.ID] = a
	}
	for _, id := range ids {
		a, ok := byID[id]
		if !ok {
			return errors.NewNotFoundError("artifact").WithDetails(map[string]interface{}{"artifact_id": id.String()})
		}
		if err := a.EnsureLinkable(); err != nil {
			return err
		}
		if !a.IsReady() {
			return errors.NewConflictError("ARTIFACT_NOT_READY",
				fmt.Sprintf("artifact %s has no uploaded binary", id))
		}
	}
	return nil
}

// include links artifacts to the pack, recording INCLUDED_IN_PACK for new members only
func (s *Service) include(ctx context.Context, p *pack.Pack, ids []uuid.UUID, actorID uuid.UUID) error {
	if len(ids) == 0 {
		return nil
	}
	existing, err := s.packs.ListArtifactIDs(ctx, p.TenantID, p.ID)
	if err != nil {
		return err
	}
	member := make(map[uuid.UUID]bool, len(existing))
	for _, id := range existing {
		member[id] = true
	}

	now := s.clock.Now()
	var added []uuid.UUID
	var links []pack.ArtifactLink
	for _, id := range ids {
		if member[id] {
			continue
		}
		added = append(added, id)
		links = append(links, pack.ArtifactLink{
			PackID:     p.ID,
			ArtifactID: id,
			TenantID:   p.TenantID,
			AddedBy:    actorID,
			AddedAt:    now,
		})
	}
	if len(links) == 0 {
		return nil
	}

	if err := s.packs.AddArtifacts(ctx, links); err != nil {
		return err
	}
	return s.custody.RecordMany(ctx, p.TenantID, added, custody.EventIncludedInPack, custody.UserActor(actorID), map[string]any{
		"pack_id":   p.ID.String(),
		"pack_name": p.Name,
	})
}

// claim moves a DRAFT pack to GENERATING
func (s *Service) claim(ctx context.Context, p *pack.Pack) error {
	expected := p.Revision
	if err := p.StartGeneration(s.clock.Now()); err != nil {
		return err
	}
	return s.packs.Update(ctx, p, pack.StatusDraft, expected)
}

func (s *Service) report(ctx context.Context, p *pack.Pack, step string, percent int, message string) {
	s.publish(ctx, p, cache.Progress{
		Status:  string(p.Status),
		Step:    step,
		Percent: percent,
		Message: message,
	})
}

func (s *Service) publish(ctx context.Context, p *pack.Pack, progress cache.Progress) {
	if s.progress == nil {
		return
	}
	progress.PackID = p.ID
	progress.UpdatedAt = s.clock.Now()
	if err := s.progress.Set(ctx, p.TenantID, progress); err != nil {
		s.logger.Debug("failed to publish generation progress",
			zap.String("pack_id", p.ID.String()),
			zap.Error(err))
	}
}
