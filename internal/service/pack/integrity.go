package pack

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/davidleathers/evidence-vault/internal/domain/errors"
	"github.com/davidleathers/evidence-vault/internal/domain/manifest"
	"github.com/davidleathers/evidence-vault/internal/domain/pack"
	"github.com/davidleathers/evidence-vault/internal/infrastructure/objectstore"
	"github.com/davidleathers/evidence-vault/internal/service/verifier"
)

// VerifyPackIntegrity re-checks a finalized pack. The stored manifest and
// proof are loaded unless supplied in opts, artifact hashes are compared with
// the database (or rehashed from the object store when opts.Rehash is set),
// and the proof must also match the manifest hash recorded on the pack.
// Mismatches are reported in the result, never repaired.
func (s *Service) VerifyPackIntegrity(ctx context.Context, tenantID, packID uuid.UUID, opts VerifyOptions) (*verifier.Result, error) {
	p, err := s.packs.Get(ctx, tenantID, packID)
	if err != nil {
		return nil, err
	}
	if p.ManifestKey == "" || p.ProofKey == "" {
		return nil, errors.NewConflictError("PACK_NOT_FINALIZED", "pack has no signed manifest")
	}

	m, proof, err := s.loadDocuments(ctx, p, opts)
	if err != nil {
		return nil, err
	}
	if m.TenantID != p.TenantID || m.PackID != p.ID {
		return nil, errors.NewValidationError("MANIFEST_PACK_MISMATCH", "manifest belongs to a different pack")
	}

	vopts := []verifier.Option{
		verifier.WithMetrics(s.metrics),
		verifier.WithLogger(s.logger),
		verifier.WithClock(s.clock),
	}
	if s.keys != nil {
		pem, err := s.keys.PublicKeyPEM(ctx, p.SigningKeyID)
		if err != nil {
			return nil, err
		}
		vopts = append(vopts, verifier.WithTrustedKey(pem))
	}

	var live verifier.LiveSource = verifier.NewDatabaseSource(s.artifacts)
	if opts.Rehash {
		live = verifier.NewObjectStoreSource(s.store, s.env)
	}

	result := verifier.New(vopts...).Verify(ctx, m, proof, live)
	if !p.ManifestHash.Equal(proof.ManifestSHA256) {
		result.Add(verifier.Reason{
			Check:    verifier.CheckManifestHash,
			Expected: p.ManifestHash.String(),
			Actual:   proof.ManifestSHA256.String(),
			Message:  "proof does not match the manifest hash recorded on the pack",
		})
	}

	s.logger.Info("pack integrity verified",
		zap.String("pack_id", p.ID.String()),
		zap.String("source", result.Source),
		zap.Bool("valid", result.Valid),
		zap.Int("reasons", len(result.Reasons)))
	return result, nil
}

// LoadSignedManifest returns the stored FINAL manifest and proof of a pack
func (s *Service) LoadSignedManifest(ctx context.Context, p *pack.Pack) (*manifest.Manifest, *manifest.Proof, error) {
	if p.ManifestKey == "" || p.ProofKey == "" {
		return nil, nil, errors.NewConflictError("PACK_NOT_FINALIZED", "pack has no signed manifest")
	}
	return s.loadDocuments(ctx, p, VerifyOptions{})
}

func (s *Service) loadDocuments(ctx context.Context, p *pack.Pack, opts VerifyOptions) (*manifest.Manifest, *manifest.Proof, error) {
	manifestJSON := opts.ManifestJSON
	if manifestJSON == nil {
		data, err := s.readStored(ctx, p.ManifestKey, pack.ManifestFile)
		if err != nil {
			return nil, nil, err
		}
		manifestJSON = data
	}
	proofJSON := opts.ProofJSON
	if proofJSON == nil {
		data, err := s.readStored(ctx, p.ProofKey, pack.ProofFile)
		if err != nil {
			return nil, nil, err
		}
		proofJSON = data
	}

	m, err := manifest.Parse(manifestJSON)
	if err != nil {
		return nil, nil, errors.NewValidationError("INVALID_MANIFEST", "manifest cannot be decoded").WithCause(err)
	}
	proof, err := manifest.ParseProof(proofJSON)
	if err != nil {
		return nil, nil, errors.NewValidationError("INVALID_PROOF", "proof cannot be decoded").WithCause(err)
	}
	return m, proof, nil
}

func (s *Service) readStored(ctx context.Context, key, name string) ([]byte, error) {
	data, err := s.readObject(ctx, key)
	if errors.Is(err, objectstore.ErrObjectNotFound) {
		return nil, errors.NewIntegrityError("PACK_OUTPUT_MISSING", name+" is missing from the object store")
	}
	if err != nil {
		return nil, errors.NewUpstreamError("object_store", "reading "+name+" failed").WithCause(err)
	}
	return data, nil
}
