package evidence

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/davidleathers/evidence-vault/internal/domain/clock"
	"github.com/davidleathers/evidence-vault/internal/domain/custody"
	"github.com/davidleathers/evidence-vault/internal/domain/errors"
	"github.com/davidleathers/evidence-vault/internal/domain/evidence"
	"github.com/davidleathers/evidence-vault/internal/domain/values"
	"github.com/davidleathers/evidence-vault/internal/infrastructure/config"
	"github.com/davidleathers/evidence-vault/internal/infrastructure/objectstore"
	custodysvc "github.com/davidleathers/evidence-vault/internal/service/custody"
	"github.com/davidleathers/evidence-vault/internal/testutil/mocks"
)

type fixture struct {
	svc       *Service
	artifacts *mocks.ArtifactStore
	custody   *mocks.CustodyStore
	store     *objectstore.MemoryStore
	clock     *clock.MockClock
	tenant    uuid.UUID
	user      uuid.UUID
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := zaptest.NewLogger(t)
	clk := clock.NewMock(time.Date(2026, 4, 2, 10, 0, 0, 0, time.UTC))
	artifacts := mocks.NewArtifactStore(mocks.NewCatalogStore())
	custodyStore := mocks.NewCustodyStore()
	store := objectstore.NewMemoryStore("objects.test")
	storage := config.Defaults().Storage

	return &fixture{
		svc:       NewService(artifacts, custodysvc.NewService(custodyStore, clk, logger, nil), store, storage, "test", clk, logger),
		artifacts: artifacts,
		custody:   custodyStore,
		store:     store,
		clock:     clk,
		tenant:    uuid.New(),
		user:      uuid.New(),
	}
}

// upload registers an artifact, puts body at the presigned key and finalizes it
func (f *fixture) upload(t *testing.T, body string) *evidence.Artifact {
	t.Helper()
	ctx := context.Background()
	ticket, err := f.svc.RequestUpload(ctx, UploadRequest{
		TenantID:  f.tenant,
		ActorID:   f.user,
		Name:      "access-review.pdf",
		MediaType: "application/pdf",
	})
	require.NoError(t, err)
	require.NoError(t, f.store.PutObject(ctx, ticket.StorageKey, []byte(body), "application/pdf"))

	a, err := f.svc.FinalizeUpload(ctx, f.tenant, ticket.Artifact.ID, f.user)
	require.NoError(t, err)
	return a
}

func TestService_UploadLifecycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	ticket, err := f.svc.RequestUpload(ctx, UploadRequest{
		TenantID:  f.tenant,
		ActorID:   f.user,
		Name:      "soc2-report.pdf",
		MediaType: "application/pdf",
	})
	require.NoError(t, err)
	assert.Equal(t, 1, ticket.Version)
	assert.Equal(t, evidence.ArtifactKey("test", f.tenant, ticket.Artifact.ID, 1), ticket.StorageKey)
	assert.NotEmpty(t, ticket.UploadURL)

	_, err = f.svc.FinalizeUpload(ctx, f.tenant, ticket.Artifact.ID, f.user)
	require.Error(t, err)
	assert.True(t, errors.IsConflict(err), "finalizing before the PUT must fail")

	require.NoError(t, f.store.PutObject(ctx, ticket.StorageKey, []byte("report body"), "application/pdf"))
	a, err := f.svc.FinalizeUpload(ctx, f.tenant, ticket.Artifact.ID, f.user)
	require.NoError(t, err)

	assert.Equal(t, evidence.StatusReady, a.Status)
	assert.True(t, a.ContentHash.Equal(values.ComputeHashValue([]byte("report body"))))
	assert.Equal(t, int64(len("report body")), a.SizeBytes)
	assert.Equal(t, []custody.EventKind{custody.EventCreated}, f.custody.Kinds(a.ID))
}

func TestService_ApproveFreezesArtifact(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.upload(t, "v1")

	approved, err := f.svc.Approve(ctx, f.tenant, a.ID, f.user)
	require.NoError(t, err)
	assert.True(t, approved.IsApproved())
	assert.True(t, approved.IsImmutable())

	name := "renamed.pdf"
	_, err = f.svc.EditMetadata(ctx, f.tenant, a.ID, f.user, evidence.MetadataPatch{Name: &name})
	assert.True(t, errors.IsConflict(err))

	_, err = f.svc.RequestReplacement(ctx, f.tenant, a.ID)
	assert.True(t, errors.IsConflict(err))

	_, err = f.svc.ReplaceBinary(ctx, f.tenant, a.ID, f.user, "")
	assert.True(t, errors.IsConflict(err))

	_, err = f.svc.Tombstone(ctx, f.tenant, a.ID, f.user)
	assert.True(t, errors.IsConflict(err))

	stored, err := f.svc.Get(ctx, f.tenant, a.ID)
	require.NoError(t, err)
	assert.Equal(t, "access-review.pdf", stored.Name)
	assert.True(t, stored.ContentHash.Equal(a.ContentHash))
	assert.Equal(t, []custody.EventKind{custody.EventCreated, custody.EventApproved}, f.custody.Kinds(a.ID))
}

func TestService_ReplaceBinaryBumpsVersion(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.upload(t, "v1")

	ticket, err := f.svc.RequestReplacement(ctx, f.tenant, a.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, ticket.Version)
	require.NoError(t, f.store.PutObject(ctx, ticket.StorageKey, []byte("v2"), "text/plain"))

	replaced, err := f.svc.ReplaceBinary(ctx, f.tenant, a.ID, f.user, "text/plain")
	require.NoError(t, err)
	assert.Equal(t, 2, replaced.Version)
	assert.Equal(t, "text/plain", replaced.MediaType)
	assert.True(t, replaced.ContentHash.Equal(values.ComputeHashValue([]byte("v2"))))

	events, err := f.custody.List(ctx, f.tenant, a.ID)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, custody.EventMetadataEdited, events[1].Kind)
	assert.Equal(t, "binary_replaced", events[1].Metadata["change"])
}

func TestService_EditMetadataNoChangeRecordsNothing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.upload(t, "v1")

	same := a.Name
	_, err := f.svc.EditMetadata(ctx, f.tenant, a.ID, f.user, evidence.MetadataPatch{Name: &same})
	require.NoError(t, err)
	assert.Len(t, f.custody.Kinds(a.ID), 1)

	desc := "quarterly review"
	edited, err := f.svc.EditMetadata(ctx, f.tenant, a.ID, f.user, evidence.MetadataPatch{Description: &desc})
	require.NoError(t, err)
	assert.Equal(t, desc, edited.Description)
	assert.Equal(t, []custody.EventKind{custody.EventCreated, custody.EventMetadataEdited}, f.custody.Kinds(a.ID))
}

// racingArtifacts runs beforeUpdate once, between the service's read and
// its conditional write
type racingArtifacts struct {
	*mocks.ArtifactStore
	beforeUpdate func()
}

func (r *racingArtifacts) UpdateMutable(ctx context.Context, a *evidence.Artifact, expectedRevision int64) error {
	if hook := r.beforeUpdate; hook != nil {
		r.beforeUpdate = nil
		hook()
	}
	return r.ArtifactStore.UpdateMutable(ctx, a, expectedRevision)
}

func TestService_ConcurrentMetadataEditsConflict(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.upload(t, "v1")

	first, second := "owner: security", "owner: compliance"
	racing := &racingArtifacts{ArtifactStore: f.artifacts}
	racing.beforeUpdate = func() {
		_, err := f.svc.EditMetadata(ctx, f.tenant, a.ID, f.user, evidence.MetadataPatch{Description: &first})
		require.NoError(t, err)
	}
	logger := zaptest.NewLogger(t)
	svc := NewService(racing, custodysvc.NewService(f.custody, f.clock, logger, nil), f.store,
		config.Defaults().Storage, "test", f.clock, logger)

	_, err := svc.EditMetadata(ctx, f.tenant, a.ID, f.user, evidence.MetadataPatch{Description: &second})
	require.Error(t, err)
	assert.True(t, errors.IsConflict(err), "stale edit must not overwrite the concurrent one")

	stored, err := f.svc.Get(ctx, f.tenant, a.ID)
	require.NoError(t, err)
	assert.Equal(t, first, stored.Description)
	assert.Equal(t, []custody.EventKind{custody.EventCreated, custody.EventMetadataEdited}, f.custody.Kinds(a.ID))

	// a fresh read picks up the new revision and succeeds
	edited, err := svc.EditMetadata(ctx, f.tenant, a.ID, f.user, evidence.MetadataPatch{Description: &second})
	require.NoError(t, err)
	assert.Equal(t, second, edited.Description)
	assert.Equal(t, stored.Revision+1, edited.Revision)
}

func TestService_LinksRecordOnlyNewLinks(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.upload(t, "v1")
	requirement, control, obligation := uuid.New(), uuid.New(), uuid.New()

	created, err := f.svc.LinkRequirement(ctx, f.tenant, a.ID, requirement, f.user)
	require.NoError(t, err)
	assert.True(t, created)

	created, err = f.svc.LinkRequirement(ctx, f.tenant, a.ID, requirement, f.user)
	require.NoError(t, err)
	assert.False(t, created)

	_, err = f.svc.LinkControl(ctx, f.tenant, a.ID, control, f.user)
	require.NoError(t, err)
	_, err = f.svc.LinkObligation(ctx, f.tenant, a.ID, obligation, f.user)
	require.NoError(t, err)

	removed, err := f.svc.UnlinkRequirement(ctx, f.tenant, a.ID, requirement, f.user)
	require.NoError(t, err)
	assert.True(t, removed)
	removed, err = f.svc.UnlinkRequirement(ctx, f.tenant, a.ID, requirement, f.user)
	require.NoError(t, err)
	assert.False(t, removed)

	assert.Equal(t, []custody.EventKind{
		custody.EventCreated,
		custody.EventLinkedEvidenceRequirement,
		custody.EventLinkedToControl,
		custody.EventLinkedToObligation,
		custody.EventUnlinkedEvidenceRequirement,
	}, f.custody.Kinds(a.ID))

	links, err := f.svc.Links(ctx, f.tenant, a.ID)
	require.NoError(t, err)
	assert.Len(t, links, 2)
}

func TestService_TombstonedArtifactCannotBeLinkedOrDownloaded(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.upload(t, "v1")

	_, err := f.svc.Tombstone(ctx, f.tenant, a.ID, f.user)
	require.NoError(t, err)

	_, err = f.svc.LinkControl(ctx, f.tenant, a.ID, uuid.New(), f.user)
	assert.True(t, errors.IsConflict(err))

	_, err = f.svc.DownloadURL(ctx, f.tenant, a.ID, custody.UserActor(f.user))
	assert.True(t, errors.IsNotFound(err))

	_, err = f.svc.Approve(ctx, f.tenant, a.ID, f.user)
	assert.True(t, errors.IsConflict(err))
}

func TestService_DownloadRecordsCustody(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.upload(t, "v1")

	link, err := f.svc.DownloadURL(ctx, f.tenant, a.ID, custody.UserActor(f.user))
	require.NoError(t, err)
	assert.Contains(t, link.URL, a.StorageKey)
	assert.Equal(t, 1, link.Version)
	assert.Equal(t, []custody.EventKind{custody.EventCreated, custody.EventDownloaded}, f.custody.Kinds(a.ID))
}

func TestService_TenantIsolation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.upload(t, "v1")

	_, err := f.svc.Get(ctx, uuid.New(), a.ID)
	assert.True(t, errors.IsNotFound(err))

	_, err = f.svc.Approve(ctx, uuid.New(), a.ID, f.user)
	assert.True(t, errors.IsNotFound(err))
}
