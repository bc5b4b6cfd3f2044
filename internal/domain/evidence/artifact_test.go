package evidence

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/davidleathers/evidence-vault/internal/domain/errors"
	"github.com/davidleathers/evidence-vault/internal/domain/values"
)

var testNow = time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

func readyArtifact(t *testing.T) *Artifact {
	t.Helper()
	a, err := NewArtifact(uuid.New(), "policy.pdf", "application/pdf", uuid.New(), testNow)
	require.NoError(t, err)
	key := ArtifactKey("test", a.TenantID, a.ID, a.Version)
	require.NoError(t, a.MarkUploaded(key, values.ComputeHashValue([]byte("v1")), 2, testNow))
	return a
}

func TestNewArtifact_Validation(t *testing.T) {
	_, err := NewArtifact(uuid.Nil, "x", "text/plain", uuid.New(), testNow)
	assert.Error(t, err)

	_, err = NewArtifact(uuid.New(), "  ", "text/plain", uuid.New(), testNow)
	assert.Error(t, err)

	a, err := NewArtifact(uuid.New(), "x", "text/plain", uuid.New(), testNow)
	require.NoError(t, err)
	assert.Equal(t, StatusPendingUpload, a.Status)
	assert.Equal(t, 1, a.Version)
	assert.False(t, a.IsApproved())
	assert.False(t, a.IsImmutable())
}

func TestArtifact_ApproveFreezesEverything(t *testing.T) {
	a := readyArtifact(t)
	actor := uuid.New()

	require.NoError(t, a.Approve(actor, testNow))
	assert.True(t, a.IsApproved())
	assert.True(t, a.IsImmutable())
	assert.Equal(t, actor, a.Approval().ApprovedBy)

	originalHash := a.ContentHash
	originalKey := a.StorageKey

	err := a.ReplaceBinary("other/key", values.ComputeHashValue([]byte("v2")), 2, "", testNow)
	assert.True(t, errors.IsConflict(err))

	name := "renamed"
	_, err = a.EditMetadata(MetadataPatch{Name: &name}, testNow)
	assert.True(t, errors.IsConflict(err))

	assert.True(t, errors.IsConflict(a.Tombstone(testNow)))
	assert.True(t, errors.IsConflict(a.Approve(actor, testNow)))

	assert.Equal(t, originalHash, a.ContentHash)
	assert.Equal(t, originalKey, a.StorageKey)
	assert.Equal(t, 1, a.Version)
}

func TestArtifact_ReplaceBinaryIncrementsVersion(t *testing.T) {
	a := readyArtifact(t)
	newKey := ArtifactKey("test", a.TenantID, a.ID, a.NextVersion())

	require.NoError(t, a.ReplaceBinary(newKey, values.ComputeHashValue([]byte("v2")), 2, "text/plain", testNow))
	assert.Equal(t, 2, a.Version)
	assert.Equal(t, newKey, a.StorageKey)
	assert.Equal(t, "text/plain", a.MediaType)
	assert.Contains(t, a.StorageKey, "/v2")
}

func TestArtifact_EditMetadata(t *testing.T) {
	a := readyArtifact(t)
	name, desc := "Policy v2", "Signed policy"

	changed, err := a.EditMetadata(MetadataPatch{Name: &name, Description: &desc}, testNow)
	require.NoError(t, err)
	assert.Equal(t, []string{"name", "description"}, changed)

	changed, err = a.EditMetadata(MetadataPatch{Name: &name}, testNow)
	require.NoError(t, err)
	assert.Empty(t, changed)

	empty := ""
	_, err = a.EditMetadata(MetadataPatch{Name: &empty}, testNow)
	assert.Error(t, err)
}

func TestArtifact_Tombstone(t *testing.T) {
	a := readyArtifact(t)
	require.NoError(t, a.Tombstone(testNow))
	assert.True(t, a.IsDeleted())
	assert.False(t, a.IsReady())

	assert.True(t, errors.IsConflict(a.Tombstone(testNow)))
	assert.True(t, errors.IsConflict(a.Approve(uuid.New(), testNow)))
	assert.True(t, errors.IsConflict(a.EnsureLinkable()))
}

func TestArtifact_ApproveRequiresUpload(t *testing.T) {
	a, err := NewArtifact(uuid.New(), "x", "text/plain", uuid.New(), testNow)
	require.NoError(t, err)
	assert.True(t, errors.IsConflict(a.Approve(uuid.New(), testNow)))
}

func TestArtifactKey(t *testing.T) {
	tenant := uuid.MustParse("11111111-1111-1111-1111-111111111111")
	id := uuid.MustParse("22222222-2222-2222-2222-222222222222")
	assert.Equal(t,
		"prod/11111111-1111-1111-1111-111111111111/artifacts/22222222-2222-2222-2222-222222222222/v3",
		ArtifactKey("prod", tenant, id, 3))
}
