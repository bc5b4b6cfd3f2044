// Package inspector grants, verifies and serves time-limited inspector access
// to completed packs. Every verification attempt is written to the activity
// log; inspectors only ever learn that a link is invalid or expired.
package inspector

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/davidleathers/evidence-vault/internal/domain/clock"
	"github.com/davidleathers/evidence-vault/internal/domain/custody"
	"github.com/davidleathers/evidence-vault/internal/domain/errors"
	"github.com/davidleathers/evidence-vault/internal/domain/evidence"
	"github.com/davidleathers/evidence-vault/internal/domain/inspector"
	"github.com/davidleathers/evidence-vault/internal/domain/pack"
	"github.com/davidleathers/evidence-vault/internal/infrastructure/config"
	"github.com/davidleathers/evidence-vault/internal/infrastructure/objectstore"
	"github.com/davidleathers/evidence-vault/internal/metrics"
	packsvc "github.com/davidleathers/evidence-vault/internal/service/pack"
)

// LinkInvalidMessage is the only failure inspectors are shown
const LinkInvalidMessage = "link invalid or expired"

// Dependencies wires the service. Revocations and Metrics are optional; a nil
// Limiter means an in-process token bucket per token.
type Dependencies struct {
	Accesses    inspector.Repository
	Packs       pack.Repository
	Documents   PackDocuments
	Custody     CustodyRecorder
	Store       objectstore.Store
	Revocations RevocationChecker
	Limiter     RateLimiter
	Metrics     *metrics.Registry
	Clock       clock.Clock
	Logger      *zap.Logger
}

type Service struct {
	accesses    inspector.Repository
	packs       pack.Repository
	documents   PackDocuments
	custody     CustodyRecorder
	store       objectstore.Store
	revocations RevocationChecker
	metrics     *metrics.Registry
	clock       clock.Clock
	logger      *zap.Logger
	validate    *validator.Validate
	limiter     RateLimiter

	cfg     config.InspectorConfig
	storage config.StorageConfig
	env     string
}

func NewService(deps Dependencies, cfg config.InspectorConfig, storage config.StorageConfig, environment string) *Service {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	var limiter RateLimiter = newTokenLimiters(cfg.RequestsPerSecond, cfg.Burst)
	if deps.Limiter != nil {
		limiter = deps.Limiter
	}
	return &Service{
		accesses:    deps.Accesses,
		packs:       deps.Packs,
		documents:   deps.Documents,
		custody:     deps.Custody,
		store:       deps.Store,
		revocations: deps.Revocations,
		metrics:     deps.Metrics,
		clock:       clock.OrReal(deps.Clock),
		logger:      logger.With(zap.String("service", "inspector")),
		validate:    validator.New(validator.WithRequiredStructEnabled()),
		limiter:     limiter,
		cfg:         cfg,
		storage:     storage,
		env:         environment,
	}
}

// Grant issues access to a COMPLETED pack. The token is returned once and
// only its hash is stored.
func (s *Service) Grant(ctx context.Context, req GrantRequest) (*Grant, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, errors.NewValidationError("INVALID_GRANT", err.Error()).WithCause(err)
	}

	p, err := s.packs.Get(ctx, req.TenantID, req.PackID)
	if err != nil {
		return nil, err
	}
	if p.Status != pack.StatusCompleted {
		return nil, errors.NewConflictError("PACK_NOT_COMPLETED",
			fmt.Sprintf("access can only be granted to completed packs, pack is %s", p.Status))
	}

	ttl := s.cfg.DefaultTTL()
	if req.TTLHours > 0 {
		ttl = time.Duration(req.TTLHours) * time.Hour
	}
	if ttl > s.cfg.MaxTTL() {
		return nil, errors.NewValidationError("TTL_TOO_LONG",
			fmt.Sprintf("access ttl may not exceed %d hours", s.cfg.MaxTTLHours))
	}

	perms := inspector.DefaultPermissions()
	if req.Permissions != nil {
		perms = *req.Permissions
	}

	token, tokenHash, err := inspector.NewToken()
	if err != nil {
		return nil, errors.NewInternalError("failed to generate access token").WithCause(err)
	}

	access, err := inspector.NewAccess(req.TenantID, req.PackID, tokenHash, req.Inspector, perms, ttl, req.ActorID, s.clock.Now())
	if err != nil {
		return nil, err
	}
	if err := s.accesses.Create(ctx, access); err != nil {
		return nil, err
	}

	s.logger.Info("inspector access granted",
		zap.String("tenant_id", req.TenantID.String()),
		zap.String("pack_id", req.PackID.String()),
		zap.String("access_id", access.ID.String()),
		zap.String("token_fingerprint", tokenHash.Short()),
		zap.Time("expires_at", access.ExpiresAt))

	return &Grant{Access: access, Token: token}, nil
}

// Verify resolves a presented token. Unknown tokens are NotFound, every
// other failure is Unauthorized, and both carry the same message.
func (s *Service) Verify(ctx context.Context, token string, info inspector.RequestInfo) (*Session, error) {
	now := s.clock.Now()
	tokenHash := inspector.HashToken(token)
	fingerprint := tokenHash.Short()
	entry := &inspector.ActivityEntry{
		Action:           inspector.ActionAccessVerified,
		TokenFingerprint: fingerprint,
		IPAddress:        info.IPAddress,
		UserAgent:        info.UserAgent,
	}

	allowed, err := s.limiter.Allow(ctx, fingerprint, now)
	if err != nil {
		s.logger.Warn("inspector rate limiter unavailable, allowing request",
			zap.String("token_fingerprint", fingerprint),
			zap.Error(err))
		allowed = true
	}
	if !allowed {
		s.finish(ctx, entry, inspector.ReasonRateLimited)
		return nil, errors.NewRateLimitError("too many requests for this link")
	}

	if strings.TrimSpace(token) == "" {
		s.finish(ctx, entry, inspector.ReasonUnknownToken)
		return nil, linkNotFound()
	}

	access, err := s.accesses.GetByTokenHash(ctx, tokenHash)
	if errors.IsNotFound(err) {
		s.finish(ctx, entry, inspector.ReasonUnknownToken)
		return nil, linkNotFound()
	}
	if err != nil {
		s.finish(ctx, entry, inspector.ReasonInternalError)
		return nil, err
	}
	entry.TenantID = &access.TenantID
	entry.AccessID = &access.ID
	entry.PackID = &access.PackID

	reason := access.Check(now)
	var p *pack.Pack
	if reason == inspector.ReasonOK {
		if p, reason, err = s.inspectablePack(ctx, access); err != nil {
			s.finish(ctx, entry, inspector.ReasonInternalError)
			return nil, err
		}
	}

	s.finish(ctx, entry, reason)
	if reason != inspector.ReasonOK {
		return nil, linkRejected()
	}

	if err := s.accesses.TouchLastUsed(ctx, access.ID, now); err != nil {
		s.logger.Warn("failed to record access use", zap.String("access_id", access.ID.String()), zap.Error(err))
	}
	access.LastUsedAt = &now

	return &Session{Access: access, Pack: p, Fingerprint: fingerprint, Request: info}, nil
}

// inspectablePack loads the pack and reports pack_not_active unless it is
// COMPLETED and absent from the revoked-pack set
func (s *Service) inspectablePack(ctx context.Context, access *inspector.Access) (*pack.Pack, inspector.ReasonCode, error) {
	if s.revocations != nil {
		revoked, err := s.revocations.IsRevoked(ctx, access.PackID)
		if err != nil {
			s.logger.Warn("revoked pack lookup failed, using database status",
				zap.String("pack_id", access.PackID.String()), zap.Error(err))
		} else if revoked {
			return nil, inspector.ReasonPackNotActive, nil
		}
	}

	p, err := s.packs.Get(ctx, access.TenantID, access.PackID)
	if errors.IsNotFound(err) {
		return nil, inspector.ReasonPackNotActive, nil
	}
	if err != nil {
		return nil, "", err
	}
	if !p.IsInspectable() {
		return nil, inspector.ReasonPackNotActive, nil
	}
	return p, inspector.ReasonOK, nil
}

// GetPackView returns the inspector projection of the pack
func (s *Service) GetPackView(ctx context.Context, sess *Session) (*PackView, error) {
	if err := s.authorize(ctx, sess, inspector.CapabilityViewPack, inspector.ActionPackViewed, nil); err != nil {
		return nil, err
	}
	view, err := s.packView(ctx, sess)
	if err != nil {
		return nil, err
	}
	s.record(ctx, sess, inspector.ActionPackViewed, true, inspector.ReasonOK, nil)
	return view, nil
}

// GetManifest returns the signed manifest and its proof
func (s *Service) GetManifest(ctx context.Context, sess *Session) (*ManifestView, error) {
	if err := s.authorize(ctx, sess, inspector.CapabilityViewManifest, inspector.ActionManifestViewed, nil); err != nil {
		return nil, err
	}
	m, proof, err := s.documents.LoadSignedManifest(ctx, sess.Pack)
	if err != nil {
		return nil, err
	}
	s.record(ctx, sess, inspector.ActionManifestViewed, true, inspector.ReasonOK, nil)
	return &ManifestView{Manifest: m, Proof: proof}, nil
}

// GetArtifactDownloadURL presigns the exact artifact version frozen in the
// manifest. The artifact must be a member of the session's pack.
func (s *Service) GetArtifactDownloadURL(ctx context.Context, sess *Session, artifactID uuid.UUID) (*DownloadLink, error) {
	if err := s.authorize(ctx, sess, inspector.CapabilityDownloadArtifacts, inspector.ActionArtifactDownloaded, &artifactID); err != nil {
		return nil, err
	}

	access := sess.Access
	member, err := s.packs.HasArtifact(ctx, access.TenantID, access.PackID, artifactID)
	if err != nil {
		return nil, err
	}
	if !member {
		s.record(ctx, sess, inspector.ActionArtifactDownloaded, false, inspector.ReasonNotInPack, &artifactID)
		return nil, errors.NewNotFoundError("artifact")
	}

	m, _, err := s.documents.LoadSignedManifest(ctx, sess.Pack)
	if err != nil {
		return nil, err
	}
	desc, ok := m.Artifact(artifactID)
	if !ok {
		s.record(ctx, sess, inspector.ActionArtifactDownloaded, false, inspector.ReasonNotInPack, &artifactID)
		return nil, errors.NewNotFoundError("artifact")
	}

	ttl := s.storage.PresignGetTTL
	if ttl <= 0 || ttl > objectstore.MaxPresignTTL {
		ttl = objectstore.MaxPresignTTL
	}
	url, err := s.store.PresignGet(ctx, evidence.ArtifactKey(s.env, access.TenantID, desc.ID, desc.Version), ttl)
	if errors.Is(err, objectstore.ErrObjectNotFound) {
		return nil, errors.NewIntegrityError("ARTIFACT_BINARY_MISSING", fmt.Sprintf("%s missing", desc.ID))
	}
	if err != nil {
		return nil, errors.NewUpstreamError("object_store", "presign download failed").WithCause(err)
	}

	if _, err := s.custody.Record(ctx, access.TenantID, desc.ID, custody.EventDownloaded, custody.InspectorActor(access.ID), map[string]any{
		"version": desc.Version,
		"pack_id": access.PackID.String(),
	}); err != nil {
		return nil, err
	}

	s.record(ctx, sess, inspector.ActionArtifactDownloaded, true, inspector.ReasonOK, &artifactID)
	return &DownloadLink{
		ArtifactID: desc.ID,
		Version:    desc.Version,
		URL:        url,
		ExpiresAt:  s.clock.Now().Add(ttl),
	}, nil
}

// ExportReport re-verifies the pack and returns the outcome with the pack view
func (s *Service) ExportReport(ctx context.Context, sess *Session) (*Report, error) {
	if err := s.authorize(ctx, sess, inspector.CapabilityExportReport, inspector.ActionReportExported, nil); err != nil {
		return nil, err
	}
	view, err := s.packView(ctx, sess)
	if err != nil {
		return nil, err
	}
	result, err := s.documents.VerifyPackIntegrity(ctx, sess.Access.TenantID, sess.Access.PackID, packsvc.VerifyOptions{})
	if err != nil {
		return nil, err
	}
	s.record(ctx, sess, inspector.ActionReportExported, true, inspector.ReasonOK, nil)
	return &Report{Pack: view, Verification: result, GeneratedAt: s.clock.Now()}, nil
}

// Revoke deactivates a grant. Revoking twice is a no-op.
func (s *Service) Revoke(ctx context.Context, tenantID, accessID, actorID uuid.UUID, reason string) (*inspector.Access, error) {
	access, err := s.accesses.Get(ctx, tenantID, accessID)
	if err != nil {
		return nil, err
	}
	if !access.Revoke(strings.TrimSpace(reason), actorID, s.clock.Now()) {
		return access, nil
	}
	changed, err := s.accesses.Revoke(ctx, access)
	if err != nil {
		return nil, err
	}
	if !changed {
		// a concurrent revocation won; report the stored one
		return s.accesses.Get(ctx, tenantID, accessID)
	}
	s.logger.Info("inspector access revoked",
		zap.String("tenant_id", tenantID.String()),
		zap.String("access_id", accessID.String()))
	return access, nil
}

// Extend pushes the expiry forward from its current value, bounded by the
// maximum TTL measured from now. A revocation that lands between the read and
// the write wins and the extension fails with Conflict.
func (s *Service) Extend(ctx context.Context, tenantID, accessID uuid.UUID, additionalHours int) (*inspector.Access, error) {
	access, err := s.accesses.Get(ctx, tenantID, accessID)
	if err != nil {
		return nil, err
	}
	previous := access.ExpiresAt
	if err := access.Extend(time.Duration(additionalHours)*time.Hour, s.cfg.MaxTTL(), s.clock.Now()); err != nil {
		return nil, err
	}
	if err := s.accesses.Extend(ctx, access, previous); err != nil {
		return nil, err
	}
	return access, nil
}

func (s *Service) ListAccesses(ctx context.Context, tenantID, packID uuid.UUID) ([]*inspector.Access, error) {
	if _, err := s.packs.Get(ctx, tenantID, packID); err != nil {
		return nil, err
	}
	return s.accesses.ListByPack(ctx, tenantID, packID)
}

// ListActivity returns the newest activity of a grant, including failed attempts
func (s *Service) ListActivity(ctx context.Context, tenantID, accessID uuid.UUID) ([]*inspector.ActivityEntry, error) {
	if _, err := s.accesses.Get(ctx, tenantID, accessID); err != nil {
		return nil, err
	}
	return s.accesses.ListActivity(ctx, tenantID, accessID, s.cfg.ActivityPageSize)
}

func (s *Service) packView(ctx context.Context, sess *Session) (*PackView, error) {
	p := sess.Pack
	m, _, err := s.documents.LoadSignedManifest(ctx, p)
	if err != nil {
		return nil, err
	}

	artifacts := make([]ArtifactSummary, 0, len(m.Artifacts))
	for _, a := range m.Artifacts {
		artifacts = append(artifacts, ArtifactSummary{
			ID:        a.ID,
			Name:      a.Name,
			Version:   a.Version,
			SHA256:    a.SHA256.String(),
			SizeBytes: a.SizeBytes,
			MediaType: a.MediaType,
		})
	}

	return &PackView{
		ID:             p.ID,
		Name:           p.Name,
		Scope:          p.Scope,
		Status:         p.Status,
		ManifestSHA256: p.ManifestHash.String(),
		FinalizedAt:    p.FinalizedAt,
		Artifacts:      artifacts,
		Inspector:      sess.Access.Inspector,
		Permissions:    sess.Access.Permissions,
		ExpiresAt:      sess.Access.ExpiresAt,
	}, nil
}

// authorize checks a capability, logging denied attempts
func (s *Service) authorize(ctx context.Context, sess *Session, c inspector.Capability, action inspector.Action, artifactID *uuid.UUID) error {
	if sess == nil || sess.Access == nil || sess.Pack == nil {
		return linkRejected()
	}
	if sess.Access.Permissions.Allows(c) {
		return nil
	}
	s.record(ctx, sess, action, false, inspector.ReasonPermissionDenied, artifactID)
	return linkRejected()
}

func (s *Service) record(ctx context.Context, sess *Session, action inspector.Action, success bool, reason inspector.ReasonCode, artifactID *uuid.UUID) {
	access := sess.Access
	s.append(ctx, &inspector.ActivityEntry{
		TenantID:         &access.TenantID,
		AccessID:         &access.ID,
		PackID:           &access.PackID,
		Action:           action,
		Success:          success,
		Reason:           reason,
		TokenFingerprint: sess.Fingerprint,
		ArtifactID:       artifactID,
		IPAddress:        sess.Request.IPAddress,
		UserAgent:        sess.Request.UserAgent,
	})
}

// finish completes a verification entry and records the outcome metric
func (s *Service) finish(ctx context.Context, entry *inspector.ActivityEntry, reason inspector.ReasonCode) {
	entry.Reason = reason
	entry.Success = reason == inspector.ReasonOK
	s.metrics.RecordInspectorVerify(ctx, string(reason))
	if !entry.Success {
		s.logger.Info("inspector access rejected",
			zap.String("reason", string(reason)),
			zap.String("token_fingerprint", entry.TokenFingerprint),
			zap.String("ip_address", entry.IPAddress))
	}
	s.append(ctx, entry)
}

func (s *Service) append(ctx context.Context, entry *inspector.ActivityEntry) {
	entry.ID = uuid.New()
	entry.OccurredAt = s.clock.Now()
	if err := s.accesses.AppendActivity(ctx, entry); err != nil {
		s.logger.Error("failed to append inspector activity",
			zap.String("action", string(entry.Action)),
			zap.String("token_fingerprint", entry.TokenFingerprint),
			zap.Error(err))
	}
}

func linkNotFound() error {
	err := errors.NewNotFoundError("access")
	err.Message = LinkInvalidMessage
	err.Details = nil
	return err
}

// linkRejected hides the internal reason; the activity log keeps it
func linkRejected() error {
	return errors.NewUnauthorizedError("LINK_INVALID", LinkInvalidMessage)
}
