// Package evidence runs artifact lifecycle operations and records each one in
// the custody ledger.
package evidence

import (
	"context"
	stderrors "errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/davidleathers/evidence-vault/internal/domain/clock"
	"github.com/davidleathers/evidence-vault/internal/domain/custody"
	"github.com/davidleathers/evidence-vault/internal/domain/errors"
	"github.com/davidleathers/evidence-vault/internal/domain/evidence"
	"github.com/davidleathers/evidence-vault/internal/domain/values"
	"github.com/davidleathers/evidence-vault/internal/infrastructure/config"
	"github.com/davidleathers/evidence-vault/internal/infrastructure/objectstore"
)

// Service manages evidence artifacts
type Service struct {
	artifacts evidence.Repository
	custody   CustodyRecorder
	store     objectstore.Store
	storage   config.StorageConfig
	env       string
	clock     clock.Clock
	logger    *zap.Logger
}

func NewService(
	artifacts evidence.Repository,
	custody CustodyRecorder,
	store objectstore.Store,
	storage config.StorageConfig,
	environment string,
	clk clock.Clock,
	logger *zap.Logger,
) *Service {
	return &Service{
		artifacts: artifacts,
		custody:   custody,
		store:     store,
		storage:   storage,
		env:       environment,
		clock:     clock.OrReal(clk),
		logger:    logger.With(zap.String("service", "evidence")),
	}
}

func (s *Service) Get(ctx context.Context, tenantID, artifactID uuid.UUID) (*evidence.Artifact, error) {
	return s.artifacts.Get(ctx, tenantID, artifactID)
}

func (s *Service) List(ctx context.Context, tenantID uuid.UUID, filter evidence.ListFilter) ([]*evidence.Artifact, error) {
	return s.artifacts.List(ctx, tenantID, filter)
}

func (s *Service) Links(ctx context.Context, tenantID, artifactID uuid.UUID) ([]evidence.Link, error) {
	return s.artifacts.ListLinks(ctx, tenantID, []uuid.UUID{artifactID})
}

// RequestUpload registers a pending artifact and presigns the PUT of version 1
func (s *Service) RequestUpload(ctx context.Context, req UploadRequest) (*UploadTicket, error) {
	now := s.clock.Now()
	a, err := evidence.NewArtifact(req.TenantID, req.Name, req.MediaType, req.ActorID, now)
	if err != nil {
		return nil, err
	}
	a.Description = req.Description
	a.Classification = req.Classification

	if err := s.artifacts.Create(ctx, a); err != nil {
		return nil, err
	}
	return s.ticket(ctx, a, a.Version)
}

// RequestReplacement presigns the PUT of the next version of a mutable artifact
func (s *Service) RequestReplacement(ctx context.Context, tenantID, artifactID uuid.UUID) (*UploadTicket, error) {
	a, err := s.artifacts.Get(ctx, tenantID, artifactID)
	if err != nil {
		return nil, err
	}
	if err := ensureReplaceable(a); err != nil {
		return nil, err
	}
	return s.ticket(ctx, a, a.NextVersion())
}

func (s *Service) ticket(ctx context.Context, a *evidence.Artifact, version int) (*UploadTicket, error) {
	key := evidence.ArtifactKey(s.env, a.TenantID, a.ID, version)
	url, err := s.store.PresignPut(ctx, key, a.MediaType, s.storage.PresignPutTTL)
	if err != nil {
		return nil, errors.NewUpstreamError("object_store", "presign upload failed").WithCause(err)
	}
	return &UploadTicket{
		Artifact:   a,
		Version:    version,
		StorageKey: key,
		UploadURL:  url,
		ExpiresAt:  s.clock.Now().Add(s.storage.PresignPutTTL),
	}, nil
}

// FinalizeUpload hashes the uploaded binary and marks the artifact READY
func (s *Service) FinalizeUpload(ctx context.Context, tenantID, artifactID, actorID uuid.UUID) (*evidence.Artifact, error) {
	a, err := s.artifacts.Get(ctx, tenantID, artifactID)
	if err != nil {
		return nil, err
	}
	if a.Status != evidence.StatusPendingUpload {
		return nil, errors.NewConflictError("UPLOAD_ALREADY_FINALIZED", fmt.Sprintf("artifact %s is already %s", a.ID, a.Status))
	}

	key := evidence.ArtifactKey(s.env, tenantID, artifactID, a.Version)
	hash, size, err := s.hashObject(ctx, key)
	if err != nil {
		return nil, err
	}

	if err := a.MarkUploaded(key, hash, size, s.clock.Now()); err != nil {
		return nil, err
	}
	if err := s.artifacts.UpdateMutable(ctx, a, a.Revision); err != nil {
		return nil, err
	}

	if err := s.record(ctx, a, custody.EventCreated, custody.UserActor(actorID), map[string]any{
		"version":    a.Version,
		"sha256":     hash.String(),
		"size_bytes": size,
	}); err != nil {
		return nil, err
	}

	s.logger.Info("artifact uploaded",
		zap.String("artifact_id", a.ID.String()),
		zap.String("sha256", hash.Short()),
		zap.Int64("size_bytes", size))
	return a, nil
}

// ReplaceBinary promotes the uploaded next version. Approved artifacts refuse.
func (s *Service) ReplaceBinary(ctx context.Context, tenantID, artifactID, actorID uuid.UUID, mediaType string) (*evidence.Artifact, error) {
	a, err := s.artifacts.Get(ctx, tenantID, artifactID)
	if err != nil {
		return nil, err
	}
	if err := ensureReplaceable(a); err != nil {
		return nil, err
	}

	previous := a.Version
	previousHash := a.ContentHash
	key := evidence.ArtifactKey(s.env, tenantID, artifactID, a.NextVersion())
	hash, size, err := s.hashObject(ctx, key)
	if err != nil {
		return nil, err
	}

	if err := a.ReplaceBinary(key, hash, size, mediaType, s.clock.Now()); err != nil {
		return nil, err
	}
	if err := s.artifacts.UpdateMutable(ctx, a, a.Revision); err != nil {
		return nil, err
	}

	if err := s.record(ctx, a, custody.EventMetadataEdited, custody.UserActor(actorID), map[string]any{
		"change":           "binary_replaced",
		"previous_version": previous,
		"previous_sha256":  previousHash.String(),
		"version":          a.Version,
		"sha256":           hash.String(),
	}); err != nil {
		return nil, err
	}
	return a, nil
}

// EditMetadata applies a patch. An empty change set records nothing.
func (s *Service) EditMetadata(ctx context.Context, tenantID, artifactID, actorID uuid.UUID, patch evidence.MetadataPatch) (*evidence.Artifact, error) {
	a, err := s.artifacts.Get(ctx, tenantID, artifactID)
	if err != nil {
		return nil, err
	}

	changed, err := a.EditMetadata(patch, s.clock.Now())
	if err != nil {
		return nil, err
	}
	if len(changed) == 0 {
		return a, nil
	}
	if err := s.artifacts.UpdateMutable(ctx, a, a.Revision); err != nil {
		return nil, err
	}

	if err := s.record(ctx, a, custody.EventMetadataEdited, custody.UserActor(actorID), map[string]any{
		"change": "metadata",
		"fields": changed,
	}); err != nil {
		return nil, err
	}
	return a, nil
}

// Approve freezes the artifact
func (s *Service) Approve(ctx context.Context, tenantID, artifactID, actorID uuid.UUID) (*evidence.Artifact, error) {
	a, err := s.artifacts.Get(ctx, tenantID, artifactID)
	if err != nil {
		return nil, err
	}
	if err := a.Approve(actorID, s.clock.Now()); err != nil {
		return nil, err
	}
	if err := s.artifacts.UpdateMutable(ctx, a, a.Revision); err != nil {
		return nil, err
	}

	if err := s.record(ctx, a, custody.EventApproved, custody.UserActor(actorID), map[string]any{
		"version": a.Version,
		"sha256":  a.ContentHash.String(),
	}); err != nil {
		return nil, err
	}
	return a, nil
}

// Tombstone soft-deletes an unapproved artifact
func (s *Service) Tombstone(ctx context.Context, tenantID, artifactID, actorID uuid.UUID) (*evidence.Artifact, error) {
	a, err := s.artifacts.Get(ctx, tenantID, artifactID)
	if err != nil {
		return nil, err
	}
	if err := a.Tombstone(s.clock.Now()); err != nil {
		return nil, err
	}
	if err := s.artifacts.UpdateMutable(ctx, a, a.Revision); err != nil {
		return nil, err
	}

	if err := s.record(ctx, a, custody.EventTombstoned, custody.UserActor(actorID), nil); err != nil {
		return nil, err
	}
	return a, nil
}

func (s *Service) LinkRequirement(ctx context.Context, tenantID, artifactID, requirementID, actorID uuid.UUID) (bool, error) {
	return s.link(ctx, tenantID, artifactID, evidence.LinkTargetRequirement, requirementID, actorID)
}

func (s *Service) LinkControl(ctx context.Context, tenantID, artifactID, controlID, actorID uuid.UUID) (bool, error) {
	return s.link(ctx, tenantID, artifactID, evidence.LinkTargetControl, controlID, actorID)
}

func (s *Service) LinkObligation(ctx context.Context, tenantID, artifactID, obligationID, actorID uuid.UUID) (bool, error) {
	return s.link(ctx, tenantID, artifactID, evidence.LinkTargetObligation, obligationID, actorID)
}

var linkEvents = map[evidence.LinkTarget]custody.EventKind{
	evidence.LinkTargetRequirement: custody.EventLinkedEvidenceRequirement,
	evidence.LinkTargetControl:     custody.EventLinkedToControl,
	evidence.LinkTargetObligation:  custody.EventLinkedToObligation,
}

// link reports whether a new link was created. Existing links record nothing.
func (s *Service) link(ctx context.Context, tenantID, artifactID uuid.UUID, target evidence.LinkTarget, targetID, actorID uuid.UUID) (bool, error) {
	if targetID == uuid.Nil {
		return false, errors.NewValidationError("INVALID_LINK_TARGET", fmt.Sprintf("%s id is required", target))
	}
	a, err := s.artifacts.Get(ctx, tenantID, artifactID)
	if err != nil {
		return false, err
	}
	if err := a.EnsureLinkable(); err != nil {
		return false, err
	}

	created, err := s.artifacts.AddLink(ctx, evidence.Link{
		TenantID:   tenantID,
		ArtifactID: artifactID,
		Target:     target,
		TargetID:   targetID,
		CreatedBy:  actorID,
		CreatedAt:  s.clock.Now(),
	})
	if err != nil || !created {
		return false, err
	}

	if err := s.record(ctx, a, linkEvents[target], custody.UserActor(actorID), map[string]any{
		string(target) + "_id": targetID.String(),
	}); err != nil {
		return true, err
	}
	return true, nil
}

// UnlinkRequirement reports whether a link was removed
func (s *Service) UnlinkRequirement(ctx context.Context, tenantID, artifactID, requirementID, actorID uuid.UUID) (bool, error) {
	a, err := s.artifacts.Get(ctx, tenantID, artifactID)
	if err != nil {
		return false, err
	}
	removed, err := s.artifacts.RemoveLink(ctx, evidence.Link{
		TenantID:   tenantID,
		ArtifactID: artifactID,
		Target:     evidence.LinkTargetRequirement,
		TargetID:   requirementID,
	})
	if err != nil || !removed {
		return false, err
	}

	if err := s.record(ctx, a, custody.EventUnlinkedEvidenceRequirement, custody.UserActor(actorID), map[string]any{
		"requirement_id": requirementID.String(),
	}); err != nil {
		return true, err
	}
	return true, nil
}

// DownloadURL presigns a GET of the current version and records the download
func (s *Service) DownloadURL(ctx context.Context, tenantID, artifactID uuid.UUID, actor custody.Actor) (*DownloadLink, error) {
	a, err := s.artifacts.Get(ctx, tenantID, artifactID)
	if err != nil {
		return nil, err
	}
	return s.Download(ctx, a, actor)
}

// Download presigns a GET for an already loaded artifact
func (s *Service) Download(ctx context.Context, a *evidence.Artifact, actor custody.Actor) (*DownloadLink, error) {
	if a.IsDeleted() {
		return nil, errors.NewNotFoundError("artifact")
	}
	if !a.IsReady() {
		return nil, errors.NewConflictError("ARTIFACT_NOT_READY", "artifact has no uploaded binary")
	}

	url, err := s.store.PresignGet(ctx, a.StorageKey, s.storage.PresignGetTTL)
	if err != nil {
		return nil, errors.NewUpstreamError("object_store", "presign download failed").WithCause(err)
	}

	if err := s.record(ctx, a, custody.EventDownloaded, actor, map[string]any{
		"version": a.Version,
	}); err != nil {
		return nil, err
	}

	return &DownloadLink{
		ArtifactID: a.ID,
		Version:    a.Version,
		URL:        url,
		ExpiresAt:  s.clock.Now().Add(s.storage.PresignGetTTL),
	}, nil
}

func (s *Service) record(ctx context.Context, a *evidence.Artifact, kind custody.EventKind, actor custody.Actor, metadata map[string]any) error {
	if _, err := s.custody.Record(ctx, a.TenantID, a.ID, kind, actor, metadata); err != nil {
		s.logger.Error("custody append failed",
			zap.String("artifact_id", a.ID.String()),
			zap.String("kind", kind.String()),
			zap.Error(err))
		return err
	}
	return nil
}

func (s *Service) hashObject(ctx context.Context, key string) (values.HashValue, int64, error) {
	if s.storage.OperationTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.storage.OperationTimeout)
		defer cancel()
	}

	body, err := s.store.GetObject(ctx, key)
	if stderrors.Is(err, objectstore.ErrObjectNotFound) {
		return values.HashValue{}, 0, errors.NewConflictError("UPLOAD_MISSING", "no binary has been uploaded for this version")
	}
	if err != nil {
		return values.HashValue{}, 0, errors.NewUpstreamError("object_store", "read uploaded object failed").WithCause(err)
	}
	defer body.Close()

	hash, size, err := values.HashReader(body)
	if err != nil {
		return values.HashValue{}, 0, errors.NewUpstreamError("object_store", "hash uploaded object failed").WithCause(err)
	}
	return hash, size, nil
}

func ensureReplaceable(a *evidence.Artifact) error {
	switch {
	case a.IsDeleted():
		return errors.NewConflictError("ARTIFACT_DELETED", "artifact is tombstoned")
	case a.IsImmutable():
		return errors.NewConflictError("ARTIFACT_IMMUTABLE", "approved artifacts cannot be modified")
	case a.Status != evidence.StatusReady:
		return errors.NewConflictError("ARTIFACT_NOT_READY", "initial upload has not been finalized")
	}
	return nil
}
