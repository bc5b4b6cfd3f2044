package pack

import (
	"archive/zip"
	"context"
	"crypto/sha256"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/davidleathers/evidence-vault/internal/domain/canonical"
	"github.com/davidleathers/evidence-vault/internal/domain/errors"
	"github.com/davidleathers/evidence-vault/internal/domain/evidence"
	"github.com/davidleathers/evidence-vault/internal/domain/manifest"
	"github.com/davidleathers/evidence-vault/internal/domain/pack"
	"github.com/davidleathers/evidence-vault/internal/domain/values"
	"github.com/davidleathers/evidence-vault/internal/infrastructure/cache"
	"github.com/davidleathers/evidence-vault/internal/infrastructure/objectstore"
	"github.com/davidleathers/evidence-vault/internal/infrastructure/telemetry"
	manifestsvc "github.com/davidleathers/evidence-vault/internal/service/manifest"
	"github.com/davidleathers/evidence-vault/internal/service/verifier"
)

// Generation steps reported to progress subscribers
const (
	stepQueued           = "queued"
	stepBuildingManifest = "building_manifest"
	stepWritingManifest  = "writing_manifest"
	stepWritingSummary   = "writing_summary"
	stepWritingBundle    = "writing_bundle"
	stepCompleted        = "completed"
	stepFailed           = "failed"
)

const (
	contentTypeJSON = "application/json"
	contentTypeZip  = "application/zip"

	failureWriteTimeout = 10 * time.Second
)

// generated is a signed manifest ready to be persisted
type generated struct {
	manifest  *manifest.Manifest
	canonical []byte
	digest    values.HashValue
	proof     *manifest.Proof
	proofJSON []byte
}

func (s *Service) runJob(ctx context.Context, j job) error {
	s.metrics.SetQueueDepth(int64(s.pool.Status().QueuedJobs))

	p, err := s.packs.Get(ctx, j.TenantID, j.PackID)
	if err != nil {
		return err
	}
	if p.Status != pack.StatusGenerating || p.Revision != j.Revision {
		s.logger.Info("skipping superseded generation job",
			zap.String("pack_id", p.ID.String()),
			zap.String("status", p.Status.String()))
		return nil
	}

	_, err = s.generate(ctx, p, j.ActorID, j.KeyID)
	return err
}

// generate produces every pack output and completes the pack. Any error or
// the generation timeout fails it; a failed pack is never retried in place.
func (s *Service) generate(ctx context.Context, p *pack.Pack, actorID uuid.UUID, keyID string) (*pack.Pack, error) {
	start := s.clock.Now()
	revision := p.Revision
	logger := s.logger.With(
		zap.String("tenant_id", p.TenantID.String()),
		zap.String("pack_id", p.ID.String()))

	ctx, span := telemetry.StartServiceSpan(ctx, "pack", "generate",
		attribute.String("pack.id", p.ID.String()))
	defer span.End()

	genCtx, cancel := context.WithTimeout(ctx, s.cfg.GenerationTimeout)
	defer cancel()

	rec, err := s.produce(genCtx, p, actorID, keyID)
	if err == nil {
		if err = p.Complete(rec, s.clock.Now()); err == nil {
			err = s.packs.Update(genCtx, p, pack.StatusGenerating, revision)
		}
	}

	elapsed := float64(s.clock.Now().Sub(start).Milliseconds())
	if err != nil {
		reason := failureReason(genCtx, err)
		telemetry.RecordError(span, err)
		s.metrics.RecordPackGeneration(ctx, elapsed, "failed")
		logger.Error("pack generation failed", zap.String("reason", reason), zap.Error(err))

		if ferr := s.abandon(ctx, p.TenantID, p.ID, revision, reason); ferr != nil {
			logger.Error("failed to mark pack failed", zap.Error(ferr))
		}
		if reason == pack.FailureTimeout {
			return nil, errors.NewUpstreamError("pack_generation", "generation timed out").WithCause(err)
		}
		return nil, err
	}

	s.metrics.RecordPackGeneration(ctx, elapsed, "completed")
	s.report(ctx, p, stepCompleted, 100, "")
	logger.Info("pack generation completed",
		zap.String("manifest_sha256", p.ManifestHash.String()),
		zap.String("bundle_sha256", p.BundleHash.String()))
	return p, nil
}

func (s *Service) produce(ctx context.Context, p *pack.Pack, actorID uuid.UUID, keyID string) (pack.CompletionRecord, error) {
	var rec pack.CompletionRecord
	manifestKey := pack.ObjectKey(s.env, p.TenantID, p.ID, pack.ManifestFile)
	proofKey := pack.ObjectKey(s.env, p.TenantID, p.ID, pack.ProofFile)
	summaryKey := pack.ObjectKey(s.env, p.TenantID, p.ID, pack.SummaryFile)
	bundleKey := pack.ObjectKey(s.env, p.TenantID, p.ID, pack.BundleFile)

	s.report(ctx, p, stepBuildingManifest, 10, "")

	// a proof is written once; a reclaimed generation reuses it
	g, err := s.adoptStored(ctx, manifestKey, proofKey)
	if err != nil {
		return rec, err
	}
	fresh := g == nil
	if fresh {
		if g, err = s.buildFinal(ctx, p, keyID); err != nil {
			return rec, err
		}
	}

	ids := make([]uuid.UUID, 0, len(g.manifest.Artifacts))
	for _, a := range g.manifest.Artifacts {
		ids = append(ids, a.ID)
	}
	if err := s.include(ctx, p, ids, actorID); err != nil {
		return rec, err
	}

	if fresh {
		s.report(ctx, p, stepWritingManifest, 40, "")
		if err := s.store.PutObject(ctx, manifestKey, g.canonical, contentTypeJSON); err != nil {
			return rec, errors.NewUpstreamError("object_store", "writing manifest failed").WithCause(err)
		}
		if err := s.store.PutObjectIfAbsent(ctx, proofKey, g.proofJSON, contentTypeJSON); err != nil {
			if errors.Is(err, objectstore.ErrObjectExists) {
				return rec, errors.NewConflictError("PROOF_EXISTS", "a proof was already written for this pack")
			}
			return rec, errors.NewUpstreamError("object_store", "writing proof failed").WithCause(err)
		}
	}

	s.report(ctx, p, stepWritingSummary, 55, "")
	summaryJSON, err := canonical.Marshal(manifest.Summarize(g.manifest, p.Name, g.digest, s.clock.Now()))
	if err != nil {
		return rec, errors.NewInternalError("failed to encode summary").WithCause(err)
	}
	if err := s.store.PutObject(ctx, summaryKey, summaryJSON, contentTypeJSON); err != nil {
		return rec, errors.NewUpstreamError("object_store", "writing summary failed").WithCause(err)
	}

	s.report(ctx, p, stepWritingBundle, 60, fmt.Sprintf("%d artifacts", len(g.manifest.Artifacts)))
	bundleHash, err := s.writeBundle(ctx, bundleKey, p, g, summaryJSON)
	if err != nil {
		return rec, err
	}

	return pack.CompletionRecord{
		ManifestHash:     g.digest,
		Signature:        g.proof.Signature,
		SigningKeyID:     g.proof.KeyID,
		SigningAlgorithm: g.proof.Algorithm,
		ManifestKey:      manifestKey,
		ProofKey:         proofKey,
		SummaryKey:       summaryKey,
		BundleKey:        bundleKey,
		BundleHash:       bundleHash,
		FinalizedBy:      actorID,
	}, nil
}

func (s *Service) buildFinal(ctx context.Context, p *pack.Pack, keyID string) (*generated, error) {
	res, err := s.builder.Build(ctx, manifestsvc.BuildRequest{
		TenantID:      p.TenantID,
		PackID:        p.ID,
		Scope:         p.Scope,
		ObligationIDs: p.ObligationIDs,
		Status:        manifest.StatusFinal,
		KeyID:         keyID,
	})
	if err != nil {
		return nil, err
	}
	if res.Proof == nil {
		return nil, errors.NewInternalError("final manifest was not signed")
	}
	proofJSON, err := res.Proof.Canonical()
	if err != nil {
		return nil, errors.NewInternalError("failed to encode proof").WithCause(err)
	}
	return &generated{
		manifest:  res.Manifest,
		canonical: res.Canonical,
		digest:    res.Digest,
		proof:     res.Proof,
		proofJSON: proofJSON,
	}, nil
}

// adoptStored loads a previously written manifest and proof. It returns nil
// when no proof exists yet.
func (s *Service) adoptStored(ctx context.Context, manifestKey, proofKey string) (*generated, error) {
	proofJSON, err := s.readObject(ctx, proofKey)
	if errors.Is(err, objectstore.ErrObjectNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.NewUpstreamError("object_store", "reading proof failed").WithCause(err)
	}

	manifestJSON, err := s.readObject(ctx, manifestKey)
	if errors.Is(err, objectstore.ErrObjectNotFound) {
		return nil, errors.NewIntegrityError("MANIFEST_MISSING", "a proof exists without its manifest")
	}
	if err != nil {
		return nil, errors.NewUpstreamError("object_store", "reading manifest failed").WithCause(err)
	}

	m, err := manifest.Parse(manifestJSON)
	if err != nil {
		return nil, errors.NewIntegrityError("INVALID_STORED_MANIFEST", "stored manifest cannot be decoded").WithCause(err)
	}
	proof, err := manifest.ParseProof(proofJSON)
	if err != nil {
		return nil, errors.NewIntegrityError("INVALID_STORED_PROOF", "stored proof cannot be decoded").WithCause(err)
	}
	digest, canonicalBytes, err := m.Digest()
	if err != nil {
		return nil, errors.NewInternalError("failed to hash stored manifest").WithCause(err)
	}
	if !digest.Equal(proof.ManifestSHA256) {
		return nil, errors.NewIntegrityError("STORED_PROOF_MISMATCH", "stored proof does not match the stored manifest")
	}

	s.logger.Info("reusing stored manifest and proof", zap.String("manifest_sha256", digest.String()))
	return &generated{
		manifest:  m,
		canonical: canonicalBytes,
		digest:    digest,
		proof:     proof,
		proofJSON: proofJSON,
	}, nil
}

// writeBundle streams bundle.zip into the object store and returns its hash.
// Artifact binaries are copied straight from the store and checked against
// the manifest on the way through.
func (s *Service) writeBundle(ctx context.Context, key string, p *pack.Pack, g *generated, summaryJSON []byte) (values.HashValue, error) {
	pr, pw := io.Pipe()
	done := make(chan error, 1)
	go func() {
		err := s.streamBundle(ctx, pw, p.TenantID, g, summaryJSON)
		pw.CloseWithError(err)
		done <- err
	}()

	h := sha256.New()
	uploadErr := s.store.UploadStream(ctx, key, io.TeeReader(pr, h), contentTypeZip)
	pr.CloseWithError(uploadErr)
	streamErr := <-done

	var appErr *errors.AppError
	if streamErr != nil && errors.As(streamErr, &appErr) {
		return values.HashValue{}, streamErr
	}
	if uploadErr != nil {
		return values.HashValue{}, errors.NewUpstreamError("object_store", "writing bundle failed").WithCause(uploadErr)
	}
	if streamErr != nil {
		return values.HashValue{}, errors.NewUpstreamError("object_store", "streaming bundle failed").WithCause(streamErr)
	}
	return values.NewHashValueFromBytes(h.Sum(nil))
}

func (s *Service) streamBundle(ctx context.Context, w io.Writer, tenantID uuid.UUID, g *generated, summaryJSON []byte) error {
	zw := zip.NewWriter(w)
	now := s.clock.Now()

	docs := []struct {
		name string
		data []byte
	}{
		{pack.ManifestFile, g.canonical},
		{pack.ProofFile, g.proofJSON},
		{pack.SummaryFile, summaryJSON},
	}
	for _, d := range docs {
		fw, err := zw.CreateHeader(&zip.FileHeader{Name: d.name, Method: zip.Deflate, Modified: now})
		if err != nil {
			return err
		}
		if _, err := fw.Write(d.data); err != nil {
			return err
		}
	}

	for _, a := range g.manifest.Artifacts {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := s.bundleArtifact(ctx, zw, tenantID, a, now); err != nil {
			return err
		}
	}
	return zw.Close()
}

func (s *Service) bundleArtifact(ctx context.Context, zw *zip.Writer, tenantID uuid.UUID, a manifest.ArtifactDescriptor, now time.Time) error {
	body, err := s.store.GetObject(ctx, evidence.ArtifactKey(s.env, tenantID, a.ID, a.Version))
	if errors.Is(err, objectstore.ErrObjectNotFound) {
		return errors.NewIntegrityError("ARTIFACT_BINARY_MISSING", fmt.Sprintf("%s missing", a.ID))
	}
	if err != nil {
		return errors.NewUpstreamError("object_store", "reading artifact failed").WithCause(err)
	}
	defer body.Close()

	// binaries are usually compressed already
	fw, err := zw.CreateHeader(&zip.FileHeader{Name: verifier.BundleArtifactPath(a.ID), Method: zip.Store, Modified: now})
	if err != nil {
		return err
	}
	hash, _, err := values.HashReader(io.TeeReader(body, fw))
	if err != nil {
		return fmt.Errorf("streaming artifact %s: %w", a.ID, err)
	}
	if !hash.Equal(a.SHA256) {
		return errors.NewIntegrityError("ARTIFACT_HASH_MISMATCH", fmt.Sprintf("%s hash mismatch", a.ID)).
			WithDetails(map[string]interface{}{
				"artifact_id": a.ID.String(),
				"expected":    a.SHA256.String(),
				"actual":      hash.String(),
			})
	}
	return nil
}

func (s *Service) readObject(ctx context.Context, key string) ([]byte, error) {
	body, err := s.store.GetObject(ctx, key)
	if err != nil {
		return nil, err
	}
	defer body.Close()
	return io.ReadAll(body)
}

// abandon fails the pack unless another worker has claimed it since
func (s *Service) abandon(ctx context.Context, tenantID, packID uuid.UUID, revision int64, reason string) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), failureWriteTimeout)
	defer cancel()

	current, err := s.packs.Get(ctx, tenantID, packID)
	if err != nil {
		return err
	}
	if current.Status != pack.StatusGenerating || current.Revision != revision {
		return nil
	}
	return s.markFailed(ctx, current, reason)
}

func (s *Service) markFailed(ctx context.Context, p *pack.Pack, reason string) error {
	expected := p.Revision
	from := p.Status
	if err := p.Fail(reason, s.clock.Now()); err != nil {
		return err
	}
	if err := s.packs.Update(ctx, p, from, expected); err != nil {
		return err
	}
	s.publish(ctx, p, cache.Progress{
		Status: string(p.Status),
		Step:   stepFailed,
		Error:  reason,
	})
	return nil
}

func failureReason(ctx context.Context, err error) string {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return pack.FailureTimeout
	}
	var appErr *errors.AppError
	if errors.As(err, &appErr) {
		return strings.ToLower(appErr.Code) + ": " + appErr.Message
	}
	return "generation_error"
}
