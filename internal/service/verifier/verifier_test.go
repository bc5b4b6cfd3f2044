package verifier

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"os"
	"path/filepath"
	"testing"
	"testing/fstest"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/davidleathers/evidence-vault/internal/domain/canonical"
	"github.com/davidleathers/evidence-vault/internal/domain/clock"
	"github.com/davidleathers/evidence-vault/internal/domain/evidence"
	"github.com/davidleathers/evidence-vault/internal/domain/manifest"
	"github.com/davidleathers/evidence-vault/internal/domain/signing"
	"github.com/davidleathers/evidence-vault/internal/domain/values"
	"github.com/davidleathers/evidence-vault/internal/infrastructure/kms"
	"github.com/davidleathers/evidence-vault/internal/infrastructure/objectstore"
	"github.com/davidleathers/evidence-vault/internal/testutil/mocks"
)

var testNow = time.Date(2026, 6, 1, 8, 30, 0, 0, time.UTC)

type signedPack struct {
	manifest  *manifest.Manifest
	proof     *manifest.Proof
	artifacts *mocks.ArtifactStore
	bodies    map[uuid.UUID]string
	keys      *kms.LocalKeyManager
}

// newSignedPack builds the two-artifact scenario {a1: H1, a2: H2} and signs it
func newSignedPack(t *testing.T) *signedPack {
	t.Helper()
	ctx := context.Background()
	tenant := uuid.New()

	sp := &signedPack{
		artifacts: mocks.NewArtifactStore(nil),
		bodies:    map[uuid.UUID]string{},
		keys:      kms.NewLocalKeyManager(),
	}
	require.NoError(t, sp.keys.GenerateKey("ec", signing.AlgorithmECDSASHA256))

	m := &manifest.Manifest{
		SchemaVersion: manifest.SchemaVersion,
		Status:        manifest.StatusFinal,
		PackID:        uuid.New(),
		TenantID:      tenant,
		CreatedAt:     canonical.FormatTime(testNow),
		Scope:         manifest.NewScopeDescriptor("security", testNow.AddDate(0, -1, 0), testNow),
		Evaluation:    manifest.NotComputed(),
	}
	for _, body := range []string{"first binary", "second binary"} {
		a, err := evidence.NewArtifact(tenant, body, "text/plain", uuid.New(), testNow)
		require.NoError(t, err)
		hash := values.ComputeHashValue([]byte(body))
		require.NoError(t, a.MarkUploaded(evidence.ArtifactKey("test", tenant, a.ID, 1), hash, int64(len(body)), testNow))
		sp.artifacts.Put(a)
		sp.bodies[a.ID] = body
		m.Artifacts = append(m.Artifacts, manifest.ArtifactDescriptor{
			ID: a.ID, Name: a.Name, Version: 1, SHA256: hash, SizeBytes: a.SizeBytes, MediaType: a.MediaType,
		})
	}

	digest, _, err := m.Digest()
	require.NoError(t, err)
	sig, err := sp.keys.Sign(ctx, "ec", digest.Bytes(), signing.AlgorithmECDSASHA256)
	require.NoError(t, err)
	pem, err := sp.keys.PublicKey(ctx, "ec")
	require.NoError(t, err)

	proof, err := manifest.NewProof(digest, &signing.Result{
		SignatureBase64: base64.StdEncoding.EncodeToString(sig),
		KeyID:           "ec",
		Algorithm:       signing.AlgorithmECDSASHA256,
	}, pem, testNow)
	require.NoError(t, err)

	sp.manifest, sp.proof = m, proof
	return sp
}

func newVerifier(opts ...Option) *Verifier {
	return New(append([]Option{WithClock(clock.NewMock(testNow))}, opts...)...)
}

func TestVerify_ValidPair(t *testing.T) {
	sp := newSignedPack(t)

	res := newVerifier().Verify(context.Background(), sp.manifest, sp.proof, NewDatabaseSource(sp.artifacts))
	assert.True(t, res.Valid, res.Messages())
	assert.Empty(t, res.Reasons)
	assert.Equal(t, 2, res.ArtifactsChecked)
	assert.Equal(t, "database", res.Source)
	assert.Equal(t, map[Check]bool{CheckManifestHash: true, CheckArtifactHashes: true, CheckSignature: true}, res.Checks)
	assert.Equal(t, sp.proof.ManifestSHA256.String(), res.ManifestSHA256)
	assert.Equal(t, testNow, res.CheckedAt)
}

func TestVerify_TamperedArtifactHash(t *testing.T) {
	sp := newSignedPack(t)
	a2 := sp.manifest.Artifacts[1].ID
	for i := range sp.manifest.Artifacts {
		if sp.manifest.Artifacts[i].ID == a2 {
			sp.manifest.Artifacts[i].SHA256 = values.ComputeHashValue([]byte("forged"))
		}
	}

	res := newVerifier().Verify(context.Background(), sp.manifest, sp.proof, NewDatabaseSource(sp.artifacts))
	assert.False(t, res.Valid)
	assert.Contains(t, res.Messages(), a2.String()+" hash mismatch")
	assert.Contains(t, res.Messages(), "manifest hash mismatch")
	assert.False(t, res.Checks[CheckManifestHash])
	assert.False(t, res.Checks[CheckArtifactHashes])
	assert.True(t, res.Checks[CheckSignature], "the proof itself is still authentic")

	for _, r := range res.Reasons {
		if r.Check == CheckArtifactHashes {
			assert.Equal(t, a2.String(), r.ArtifactID)
		}
	}
}

func TestVerify_FlippedSignatureByte(t *testing.T) {
	sp := newSignedPack(t)
	sig, err := sp.proof.Signature.Bytes()
	require.NoError(t, err)
	sig[len(sig)-1] ^= 0x01
	sp.proof.Signature, err = values.NewSignatureFromBytes(sig)
	require.NoError(t, err)

	res := newVerifier().Verify(context.Background(), sp.manifest, sp.proof, nil)
	assert.False(t, res.Valid)
	require.Len(t, res.Reasons, 1)
	assert.Equal(t, CheckSignature, res.Reasons[0].Check)
	_, ran := res.Checks[CheckArtifactHashes]
	assert.False(t, ran)
}

func TestVerify_ReportsEveryFailure(t *testing.T) {
	sp := newSignedPack(t)
	sp.manifest.Artifacts[0].Name = "renamed"

	other := sha256.Sum256([]byte("other digest"))
	sp.proof.ManifestSHA256, _ = values.NewHashValueFromBytes(other[:])

	a1 := sp.manifest.Artifacts[0].ID
	store := mocks.NewArtifactStore(nil)
	for _, a := range sp.manifest.Artifacts[1:] {
		stored, err := sp.artifacts.Get(context.Background(), sp.manifest.TenantID, a.ID)
		require.NoError(t, err)
		store.Put(stored)
	}

	res := newVerifier().Verify(context.Background(), sp.manifest, sp.proof, NewDatabaseSource(store))
	assert.False(t, res.Valid)
	assert.False(t, res.Checks[CheckManifestHash])
	assert.False(t, res.Checks[CheckArtifactHashes])
	assert.False(t, res.Checks[CheckSignature])
	assert.Contains(t, res.Messages(), a1.String()+" missing")
}

func TestVerify_TrustedKey(t *testing.T) {
	sp := newSignedPack(t)
	pem := sp.proof.PublicKeyPEM

	res := newVerifier(WithTrustedKey(pem)).Verify(context.Background(), sp.manifest, sp.proof, nil)
	assert.True(t, res.Valid, res.Messages())

	other := kms.NewLocalKeyManager()
	require.NoError(t, other.GenerateKey("other", signing.AlgorithmECDSASHA256))
	otherPEM, err := other.PublicKey(context.Background(), "other")
	require.NoError(t, err)

	res = newVerifier(WithTrustedKey(otherPEM)).Verify(context.Background(), sp.manifest, sp.proof, nil)
	assert.False(t, res.Valid)
	assert.Contains(t, res.Messages(), "proof public key differs from the trusted key")

	sp.proof.PublicKeyPEM = ""
	res = newVerifier().Verify(context.Background(), sp.manifest, sp.proof, nil)
	assert.False(t, res.Valid)
}

func TestObjectStoreSource_DetectsDrift(t *testing.T) {
	sp := newSignedPack(t)
	ctx := context.Background()
	store := objectstore.NewMemoryStore("objects.test")
	for _, a := range sp.manifest.Artifacts {
		require.NoError(t, store.PutObject(ctx, evidence.ArtifactKey("test", sp.manifest.TenantID, a.ID, a.Version), []byte(sp.bodies[a.ID]), "text/plain"))
	}

	source := NewObjectStoreSource(store, "test")
	res := newVerifier().Verify(ctx, sp.manifest, sp.proof, source)
	assert.True(t, res.Valid, res.Messages())

	drifted := sp.manifest.Artifacts[0]
	store.Overwrite(evidence.ArtifactKey("test", sp.manifest.TenantID, drifted.ID, drifted.Version), []byte("swapped"))
	res = newVerifier().Verify(ctx, sp.manifest, sp.proof, source)
	assert.False(t, res.Valid)
	assert.Equal(t, []string{drifted.ID.String() + " hash mismatch"}, res.Messages())
}

func TestBundleSource_Offline(t *testing.T) {
	sp := newSignedPack(t)
	manifestJSON, err := sp.manifest.Canonical()
	require.NoError(t, err)
	proofJSON, err := sp.proof.Canonical()
	require.NoError(t, err)

	fsys := fstest.MapFS{
		"manifest.json": {Data: manifestJSON},
		"proof.json":    {Data: proofJSON},
	}
	for id, body := range sp.bodies {
		fsys[BundleArtifactPath(id)] = &fstest.MapFile{Data: []byte(body)}
	}

	m, proof, err := ReadBundle(fsys)
	require.NoError(t, err)

	res := newVerifier().Verify(context.Background(), m, proof, NewBundleSource(fsys))
	assert.True(t, res.Valid, res.Messages())
	assert.Equal(t, "bundle", res.Source)
}

func TestOpenBundle_Directory(t *testing.T) {
	sp := newSignedPack(t)
	dir := t.TempDir()
	manifestJSON, err := sp.manifest.Canonical()
	require.NoError(t, err)
	proofJSON, err := sp.proof.Canonical()
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "manifest.json"), manifestJSON, 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "proof.json"), proofJSON, 0o600))

	fsys, closer, err := OpenBundle(dir)
	require.NoError(t, err)
	defer closer.Close()

	m, _, err := ReadBundle(fsys)
	require.NoError(t, err)
	assert.Equal(t, sp.manifest.PackID, m.PackID)

	_, _, err = OpenBundle(filepath.Join(dir, "missing.zip"))
	assert.Error(t, err)
}
