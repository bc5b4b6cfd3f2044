package main

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/davidleathers/evidence-vault/internal/domain/canonical"
	"github.com/davidleathers/evidence-vault/internal/domain/manifest"
	"github.com/davidleathers/evidence-vault/internal/domain/signing"
	"github.com/davidleathers/evidence-vault/internal/domain/values"
	"github.com/davidleathers/evidence-vault/internal/infrastructure/kms"
	"github.com/davidleathers/evidence-vault/internal/service/verifier"
)

type bundle struct {
	dir       string
	publicKey string
	artifacts []uuid.UUID
}

func writeBundle(t *testing.T) *bundle {
	t.Helper()
	ctx := context.Background()
	now := time.Date(2026, 6, 1, 8, 30, 0, 0, time.UTC)

	keys := kms.NewLocalKeyManager()
	require.NoError(t, keys.GenerateKey("ec", signing.AlgorithmECDSASHA256))

	b := &bundle{dir: t.TempDir()}
	require.NoError(t, os.MkdirAll(filepath.Join(b.dir, "artifacts"), 0o755))

	m := &manifest.Manifest{
		SchemaVersion: manifest.SchemaVersion,
		Status:        manifest.StatusFinal,
		PackID:        uuid.New(),
		TenantID:      uuid.New(),
		CreatedAt:     canonical.FormatTime(now),
		Scope:         manifest.NewScopeDescriptor("security", now.AddDate(0, -1, 0), now),
		Evaluation:    manifest.NotComputed(),
	}
	for i, body := range []string{"access review export", "pentest report"} {
		id := uuid.New()
		require.NoError(t, os.WriteFile(filepath.Join(b.dir, verifier.BundleArtifactPath(id)), []byte(body), 0o600))
		m.Artifacts = append(m.Artifacts, manifest.ArtifactDescriptor{
			ID:        id,
			Name:      []string{"access.csv", "pentest.pdf"}[i],
			Version:   1,
			SHA256:    values.ComputeHashValue([]byte(body)),
			SizeBytes: int64(len(body)),
			MediaType: "application/octet-stream",
		})
		b.artifacts = append(b.artifacts, id)
	}

	digest, _, err := m.Digest()
	require.NoError(t, err)
	sig, err := keys.Sign(ctx, "ec", digest.Bytes(), signing.AlgorithmECDSASHA256)
	require.NoError(t, err)
	b.publicKey, err = keys.PublicKey(ctx, "ec")
	require.NoError(t, err)
	proof, err := manifest.NewProof(digest, &signing.Result{
		SignatureBase64: base64.StdEncoding.EncodeToString(sig),
		KeyID:           "ec",
		Algorithm:       signing.AlgorithmECDSASHA256,
	}, b.publicKey, now)
	require.NoError(t, err)

	manifestJSON, err := m.Canonical()
	require.NoError(t, err)
	proofJSON, err := proof.Canonical()
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(b.dir, "manifest.json"), manifestJSON, 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(b.dir, "proof.json"), proofJSON, 0o600))
	return b
}

func runVerifier(t *testing.T, args ...string) (int, *verifier.Result, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := run(context.Background(), args, &stdout, &stderr)
	if stdout.Len() == 0 {
		return code, nil, stderr.String()
	}
	var res verifier.Result
	require.NoError(t, json.Unmarshal(stdout.Bytes(), &res))
	return code, &res, stderr.String()
}

func TestVerifierAcceptsIntactBundle(t *testing.T) {
	b := writeBundle(t)

	code, res, _ := runVerifier(t, b.dir)
	assert.Equal(t, exitValid, code)
	require.NotNil(t, res)
	assert.True(t, res.Valid)
	assert.Equal(t, "bundle", res.Source)
	assert.Equal(t, 2, res.ArtifactsChecked)
}

func TestVerifierReportsTamperedArtifact(t *testing.T) {
	b := writeBundle(t)
	tampered := b.artifacts[1]
	require.NoError(t, os.WriteFile(filepath.Join(b.dir, verifier.BundleArtifactPath(tampered)), []byte("edited"), 0o600))

	code, res, _ := runVerifier(t, "-bundle", b.dir)
	assert.Equal(t, exitInvalid, code)
	require.NotNil(t, res)
	assert.False(t, res.Valid)
	require.Len(t, res.Reasons, 1)
	assert.Equal(t, verifier.CheckArtifactHashes, res.Reasons[0].Check)
	assert.Equal(t, tampered.String(), res.Reasons[0].ArtifactID)

	code, res, _ = runVerifier(t, "-skip-artifacts", b.dir)
	assert.Equal(t, exitValid, code)
	assert.True(t, res.Valid)
}

func TestVerifierTrustedKey(t *testing.T) {
	b := writeBundle(t)

	trusted := filepath.Join(t.TempDir(), "trusted.pem")
	require.NoError(t, os.WriteFile(trusted, []byte(b.publicKey+"\n"), 0o600))
	code, _, _ := runVerifier(t, "-public-key", trusted, b.dir)
	assert.Equal(t, exitValid, code)

	other := kms.NewLocalKeyManager()
	require.NoError(t, other.GenerateKey("other", signing.AlgorithmECDSASHA256))
	otherPEM, err := other.PublicKey(context.Background(), "other")
	require.NoError(t, err)
	untrusted := filepath.Join(t.TempDir(), "untrusted.pem")
	require.NoError(t, os.WriteFile(untrusted, []byte(otherPEM), 0o600))

	code, res, _ := runVerifier(t, "-public-key", untrusted, b.dir)
	assert.Equal(t, exitInvalid, code)
	require.NotNil(t, res)
	assert.False(t, res.Checks[verifier.CheckSignature])
}

func TestVerifierUsageErrors(t *testing.T) {
	code, res, stderr := runVerifier(t)
	assert.Equal(t, exitUsage, code)
	assert.Nil(t, res)
	assert.Contains(t, stderr, "usage")

	code, _, stderr = runVerifier(t, filepath.Join(t.TempDir(), "missing.zip"))
	assert.Equal(t, exitUsage, code)
	assert.Contains(t, stderr, "opening bundle")

	code, _, stderr = runVerifier(t, t.TempDir())
	assert.Equal(t, exitUsage, code)
	assert.Contains(t, stderr, "reading bundle")
}
