package evidence

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/davidleathers/evidence-vault/internal/domain/errors"
	"github.com/davidleathers/evidence-vault/internal/domain/values"
)

// Status tracks an artifact's upload state
type Status string

const (
	StatusPendingUpload Status = "PENDING_UPLOAD"
	StatusReady         Status = "READY"
)

func (s Status) String() string {
	return string(s)
}

// Approval records who approved an artifact and when. An approved artifact
// is immutable: its binary, hash, storage key and metadata are frozen.
type Approval struct {
	ApprovedAt time.Time
	ApprovedBy uuid.UUID
}

// Artifact is an evidence file plus its metadata.
//
// The approval state is unexported so the only way to approve is Approve,
// which freezes the artifact in the same step.
type Artifact struct {
	ID             uuid.UUID
	TenantID       uuid.UUID
	Name           string
	Description    string
	Classification string
	MediaType      string
	Version        int
	ContentHash    values.HashValue
	SizeBytes      int64
	StorageKey     string
	Status         Status
	UploadedAt     *time.Time
	DeletedAt      *time.Time
	CreatedBy      uuid.UUID
	CreatedAt      time.Time
	UpdatedAt      time.Time
	// Revision counts stored writes and guards concurrent updates
	Revision int64

	approval *Approval
}

// NewArtifact registers a pending upload for version 1 of a new artifact
func NewArtifact(tenantID uuid.UUID, name, mediaType string, createdBy uuid.UUID, now time.Time) (*Artifact, error) {
	if tenantID == uuid.Nil {
		return nil, errors.NewValidationError("INVALID_TENANT", "tenant ID cannot be empty")
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, errors.NewValidationError("INVALID_NAME", "artifact name cannot be empty")
	}
	if strings.TrimSpace(mediaType) == "" {
		return nil, errors.NewValidationError("INVALID_MEDIA_TYPE", "media type cannot be empty")
	}

	return &Artifact{
		ID:        uuid.New(),
		TenantID:  tenantID,
		Name:      name,
		MediaType: mediaType,
		Version:   1,
		Status:    StatusPendingUpload,
		CreatedBy: createdBy,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// RestoreApproval rehydrates approval state loaded from storage
func (a *Artifact) RestoreApproval(approval *Approval) {
	if approval == nil {
		a.approval = nil
		return
	}
	cp := *approval
	a.approval = &cp
}

func (a *Artifact) IsApproved() bool {
	return a.approval != nil
}

// IsImmutable is true exactly when the artifact is approved
func (a *Artifact) IsImmutable() bool {
	return a.approval != nil
}

// Approval returns a copy of the approval record, or nil
func (a *Artifact) Approval() *Approval {
	if a.approval == nil {
		return nil
	}
	cp := *a.approval
	return &cp
}

func (a *Artifact) IsDeleted() bool {
	return a.DeletedAt != nil
}

func (a *Artifact) IsReady() bool {
	return a.Status == StatusReady && !a.IsDeleted()
}

// MarkUploaded completes the first upload with the hash computed from the stored object
func (a *Artifact) MarkUploaded(storageKey string, hash values.HashValue, size int64, now time.Time) error {
	if a.Status != StatusPendingUpload {
		return errors.NewConflictError("UPLOAD_ALREADY_FINALIZED",
			fmt.Sprintf("artifact %s is already %s", a.ID, a.Status))
	}
	if hash.IsEmpty() {
		return errors.NewValidationError("MISSING_HASH", "content hash is required")
	}
	a.StorageKey = storageKey
	a.ContentHash = hash
	a.SizeBytes = size
	a.Status = StatusReady
	a.UploadedAt = &now
	a.UpdatedAt = now
	return nil
}

// NextVersion returns the version a replacement binary will be stored under
func (a *Artifact) NextVersion() int {
	return a.Version + 1
}

// ReplaceBinary swaps in a new binary as the next version
func (a *Artifact) ReplaceBinary(storageKey string, hash values.HashValue, size int64, mediaType string, now time.Time) error {
	if err := a.ensureMutable(); err != nil {
		return err
	}
	if a.Status != StatusReady {
		return errors.NewConflictError("ARTIFACT_NOT_READY", "initial upload has not been finalized")
	}
	if hash.IsEmpty() {
		return errors.NewValidationError("MISSING_HASH", "content hash is required")
	}

	a.Version++
	a.StorageKey = storageKey
	a.ContentHash = hash
	a.SizeBytes = size
	if mediaType != "" {
		a.MediaType = mediaType
	}
	a.UploadedAt = &now
	a.UpdatedAt = now
	return nil
}

// MetadataPatch carries optional metadata edits
type MetadataPatch struct {
	Name           *string `json:"name,omitempty"`
	Description    *string `json:"description,omitempty"`
	Classification *string `json:"classification,omitempty"`
}

// EditMetadata applies a patch and returns the names of the fields that changed
func (a *Artifact) EditMetadata(patch MetadataPatch, now time.Time) ([]string, error) {
	if err := a.ensureMutable(); err != nil {
		return nil, err
	}

	var changed []string
	if patch.Name != nil {
		name := strings.TrimSpace(*patch.Name)
		if name == "" {
			return nil, errors.NewValidationError("INVALID_NAME", "artifact name cannot be empty")
		}
		if name != a.Name {
			a.Name = name
			changed = append(changed, "name")
		}
	}
	if patch.Description != nil && *patch.Description != a.Description {
		a.Description = *patch.Description
		changed = append(changed, "description")
	}
	if patch.Classification != nil && *patch.Classification != a.Classification {
		a.Classification = *patch.Classification
		changed = append(changed, "classification")
	}

	if len(changed) > 0 {
		a.UpdatedAt = now
	}
	return changed, nil
}

// Approve is the single transition that sets approved and immutable together
func (a *Artifact) Approve(actor uuid.UUID, now time.Time) error {
	if a.IsDeleted() {
		return errors.NewConflictError("ARTIFACT_DELETED", "a tombstoned artifact cannot be approved")
	}
	if a.IsApproved() {
		return errors.NewConflictError("ARTIFACT_ALREADY_APPROVED", "artifact is already approved")
	}
	if a.Status != StatusReady || a.ContentHash.IsEmpty() {
		return errors.NewConflictError("ARTIFACT_NOT_READY", "only uploaded artifacts can be approved")
	}

	a.approval = &Approval{ApprovedAt: now, ApprovedBy: actor}
	a.UpdatedAt = now
	return nil
}

// Tombstone soft-deletes an artifact that was never approved
func (a *Artifact) Tombstone(now time.Time) error {
	if a.IsApproved() {
		return errors.NewConflictError("ARTIFACT_APPROVED", "approved artifacts cannot be tombstoned")
	}
	if a.IsDeleted() {
		return errors.NewConflictError("ARTIFACT_DELETED", "artifact is already tombstoned")
	}
	a.DeletedAt = &now
	a.UpdatedAt = now
	return nil
}

// EnsureLinkable checks the artifact can take part in new links
func (a *Artifact) EnsureLinkable() error {
	if a.IsDeleted() {
		return errors.NewConflictError("ARTIFACT_DELETED", "tombstoned artifacts cannot be linked")
	}
	return nil
}

func (a *Artifact) ensureMutable() error {
	if a.IsDeleted() {
		return errors.NewConflictError("ARTIFACT_DELETED", "artifact is tombstoned")
	}
	if a.IsImmutable() {
		return errors.NewConflictError("ARTIFACT_IMMUTABLE", "approved artifacts cannot be modified")
	}
	return nil
}

// ArtifactKey is the tenant-namespaced object key of one artifact version
func ArtifactKey(env string, tenantID, artifactID uuid.UUID, version int) string {
	return fmt.Sprintf("%s/%s/artifacts/%s/v%d", env, tenantID, artifactID, version)
}
