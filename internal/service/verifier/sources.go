package verifier

import (
	"archive/zip"
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"

	"github.com/google/uuid"

	"github.com/davidleathers/evidence-vault/internal/domain/evidence"
	"github.com/davidleathers/evidence-vault/internal/domain/manifest"
	"github.com/davidleathers/evidence-vault/internal/domain/pack"
	"github.com/davidleathers/evidence-vault/internal/domain/values"
	"github.com/davidleathers/evidence-vault/internal/infrastructure/objectstore"
)

// LiveSource reports the current hash of manifest artifacts. Artifacts it
// cannot find are left out of the map.
type LiveSource interface {
	Name() string
	ArtifactHashes(ctx context.Context, tenantID uuid.UUID, artifacts []manifest.ArtifactDescriptor) (map[uuid.UUID]values.HashValue, error)
}

// DatabaseSource compares against the hashes stored on artifact rows
type DatabaseSource struct {
	artifacts evidence.Repository
}

func NewDatabaseSource(artifacts evidence.Repository) *DatabaseSource {
	return &DatabaseSource{artifacts: artifacts}
}

func (s *DatabaseSource) Name() string { return "database" }

func (s *DatabaseSource) ArtifactHashes(ctx context.Context, tenantID uuid.UUID, artifacts []manifest.ArtifactDescriptor) (map[uuid.UUID]values.HashValue, error) {
	out := make(map[uuid.UUID]values.HashValue, len(artifacts))
	if len(artifacts) == 0 {
		return out, nil
	}
	ids := make([]uuid.UUID, 0, len(artifacts))
	for _, a := range artifacts {
		ids = append(ids, a.ID)
	}

	stored, err := s.artifacts.List(ctx, tenantID, evidence.ListFilter{IDs: ids})
	if err != nil {
		return nil, err
	}
	for _, a := range stored {
		if !a.ContentHash.IsEmpty() {
			out[a.ID] = a.ContentHash
		}
	}
	return out, nil
}

// ObjectStoreSource rehashes the stored binary of the exact version each
// descriptor names, detecting drift the database cannot see.
type ObjectStoreSource struct {
	store objectstore.Store
	env   string
}

func NewObjectStoreSource(store objectstore.Store, environment string) *ObjectStoreSource {
	return &ObjectStoreSource{store: store, env: environment}
}

func (s *ObjectStoreSource) Name() string { return "object_store" }

func (s *ObjectStoreSource) ArtifactHashes(ctx context.Context, tenantID uuid.UUID, artifacts []manifest.ArtifactDescriptor) (map[uuid.UUID]values.HashValue, error) {
	out := make(map[uuid.UUID]values.HashValue, len(artifacts))
	for _, a := range artifacts {
		body, err := s.store.GetObject(ctx, evidence.ArtifactKey(s.env, tenantID, a.ID, a.Version))
		if stderrors.Is(err, objectstore.ErrObjectNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("reading artifact %s: %w", a.ID, err)
		}
		hash, _, err := values.HashReader(body)
		body.Close()
		if err != nil {
			return nil, fmt.Errorf("hashing artifact %s: %w", a.ID, err)
		}
		out[a.ID] = hash
	}
	return out, nil
}

// BundleArtifactPath is where an artifact binary lives inside a pack bundle
func BundleArtifactPath(artifactID uuid.UUID) string {
	return path.Join("artifacts", artifactID.String())
}

// BundleSource hashes artifact binaries inside an extracted or zipped bundle
type BundleSource struct {
	fsys fs.FS
}

func NewBundleSource(fsys fs.FS) *BundleSource {
	return &BundleSource{fsys: fsys}
}

func (s *BundleSource) Name() string { return "bundle" }

func (s *BundleSource) ArtifactHashes(_ context.Context, _ uuid.UUID, artifacts []manifest.ArtifactDescriptor) (map[uuid.UUID]values.HashValue, error) {
	out := make(map[uuid.UUID]values.HashValue, len(artifacts))
	for _, a := range artifacts {
		f, err := s.fsys.Open(BundleArtifactPath(a.ID))
		if stderrors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("opening artifact %s: %w", a.ID, err)
		}
		hash, _, err := values.HashReader(f)
		f.Close()
		if err != nil {
			return nil, fmt.Errorf("hashing artifact %s: %w", a.ID, err)
		}
		out[a.ID] = hash
	}
	return out, nil
}

// OpenBundle opens a bundle directory or a bundle.zip file
func OpenBundle(bundlePath string) (fs.FS, io.Closer, error) {
	info, err := os.Stat(bundlePath)
	if err != nil {
		return nil, nil, err
	}
	if info.IsDir() {
		return os.DirFS(bundlePath), io.NopCloser(nil), nil
	}
	zr, err := zip.OpenReader(bundlePath)
	if err != nil {
		return nil, nil, fmt.Errorf("opening bundle archive: %w", err)
	}
	return zr, zr, nil
}

// ReadBundle loads the manifest and proof stored at the root of a bundle
func ReadBundle(fsys fs.FS) (*manifest.Manifest, *manifest.Proof, error) {
	rawManifest, err := fs.ReadFile(fsys, pack.ManifestFile)
	if err != nil {
		return nil, nil, fmt.Errorf("reading %s: %w", pack.ManifestFile, err)
	}
	rawProof, err := fs.ReadFile(fsys, pack.ProofFile)
	if err != nil {
		return nil, nil, fmt.Errorf("reading %s: %w", pack.ProofFile, err)
	}

	m, err := manifest.Parse(rawManifest)
	if err != nil {
		return nil, nil, err
	}
	proof, err := manifest.ParseProof(rawProof)
	if err != nil {
		return nil, nil, err
	}
	return m, proof, nil
}
