package rest

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"

	"github.com/davidleathers/evidence-vault/internal/domain/custody"
	"github.com/davidleathers/evidence-vault/internal/domain/evidence"
	"github.com/davidleathers/evidence-vault/internal/domain/inspector"
	"github.com/davidleathers/evidence-vault/internal/domain/pack"
	"github.com/davidleathers/evidence-vault/internal/domain/signing"
	"github.com/davidleathers/evidence-vault/internal/infrastructure/cache"
	evidencesvc "github.com/davidleathers/evidence-vault/internal/service/evidence"
	inspectorsvc "github.com/davidleathers/evidence-vault/internal/service/inspector"
	manifestsvc "github.com/davidleathers/evidence-vault/internal/service/manifest"
	packsvc "github.com/davidleathers/evidence-vault/internal/service/pack"
	"github.com/davidleathers/evidence-vault/internal/service/verifier"
)

// MockPackService is a mock implementation of PackService
type MockPackService struct {
	mock.Mock
}

func (m *MockPackService) CreatePack(ctx context.Context, req packsvc.CreatePackRequest) (*pack.Pack, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*pack.Pack), args.Error(1)
}

func (m *MockPackService) GetPack(ctx context.Context, tenantID, packID uuid.UUID) (*pack.Pack, error) {
	args := m.Called(ctx, tenantID, packID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*pack.Pack), args.Error(1)
}

func (m *MockPackService) ListPacks(ctx context.Context, tenantID uuid.UUID, filter pack.ListFilter) ([]*pack.Pack, error) {
	args := m.Called(ctx, tenantID, filter)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*pack.Pack), args.Error(1)
}

func (m *MockPackService) ListArtifactIDs(ctx context.Context, tenantID, packID uuid.UUID) ([]uuid.UUID, error) {
	args := m.Called(ctx, tenantID, packID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]uuid.UUID), args.Error(1)
}

func (m *MockPackService) FinalizePack(ctx context.Context, tenantID, packID, actorID uuid.UUID) (*pack.Pack, error) {
	args := m.Called(ctx, tenantID, packID, actorID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*pack.Pack), args.Error(1)
}

func (m *MockPackService) RevokePack(ctx context.Context, tenantID, packID, actorID uuid.UUID, reason string) (*pack.Pack, error) {
	args := m.Called(ctx, tenantID, packID, actorID, reason)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*pack.Pack), args.Error(1)
}

func (m *MockPackService) BuildDraftManifest(ctx context.Context, tenantID, packID uuid.UUID) (*manifestsvc.BuildResult, error) {
	args := m.Called(ctx, tenantID, packID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*manifestsvc.BuildResult), args.Error(1)
}

func (m *MockPackService) VerifyPackIntegrity(ctx context.Context, tenantID, packID uuid.UUID, opts packsvc.VerifyOptions) (*verifier.Result, error) {
	args := m.Called(ctx, tenantID, packID, opts)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*verifier.Result), args.Error(1)
}

// MockInspectorService is a mock implementation of InspectorService
type MockInspectorService struct {
	mock.Mock
}

func (m *MockInspectorService) Verify(ctx context.Context, token string, info inspector.RequestInfo) (*inspectorsvc.Session, error) {
	args := m.Called(ctx, token, info)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*inspectorsvc.Session), args.Error(1)
}

func (m *MockInspectorService) Grant(ctx context.Context, req inspectorsvc.GrantRequest) (*inspectorsvc.Grant, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*inspectorsvc.Grant), args.Error(1)
}

func (m *MockInspectorService) Revoke(ctx context.Context, tenantID, accessID, actorID uuid.UUID, reason string) (*inspector.Access, error) {
	args := m.Called(ctx, tenantID, accessID, actorID, reason)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*inspector.Access), args.Error(1)
}

func (m *MockInspectorService) Extend(ctx context.Context, tenantID, accessID uuid.UUID, additionalHours int) (*inspector.Access, error) {
	args := m.Called(ctx, tenantID, accessID, additionalHours)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*inspector.Access), args.Error(1)
}

func (m *MockInspectorService) ListAccesses(ctx context.Context, tenantID, packID uuid.UUID) ([]*inspector.Access, error) {
	args := m.Called(ctx, tenantID, packID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*inspector.Access), args.Error(1)
}

func (m *MockInspectorService) ListActivity(ctx context.Context, tenantID, accessID uuid.UUID) ([]*inspector.ActivityEntry, error) {
	args := m.Called(ctx, tenantID, accessID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*inspector.ActivityEntry), args.Error(1)
}

func (m *MockInspectorService) GetPackView(ctx context.Context, sess *inspectorsvc.Session) (*inspectorsvc.PackView, error) {
	args := m.Called(ctx, sess)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*inspectorsvc.PackView), args.Error(1)
}

func (m *MockInspectorService) GetManifest(ctx context.Context, sess *inspectorsvc.Session) (*inspectorsvc.ManifestView, error) {
	args := m.Called(ctx, sess)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*inspectorsvc.ManifestView), args.Error(1)
}

func (m *MockInspectorService) GetArtifactDownloadURL(ctx context.Context, sess *inspectorsvc.Session, artifactID uuid.UUID) (*inspectorsvc.DownloadLink, error) {
	args := m.Called(ctx, sess, artifactID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*inspectorsvc.DownloadLink), args.Error(1)
}

func (m *MockInspectorService) ExportReport(ctx context.Context, sess *inspectorsvc.Session) (*inspectorsvc.Report, error) {
	args := m.Called(ctx, sess)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*inspectorsvc.Report), args.Error(1)
}

// MockEvidenceService is a mock implementation of EvidenceService
type MockEvidenceService struct {
	mock.Mock
}

func (m *MockEvidenceService) artifact(args mock.Arguments) (*evidence.Artifact, error) {
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*evidence.Artifact), args.Error(1)
}

func (m *MockEvidenceService) ticket(args mock.Arguments) (*evidencesvc.UploadTicket, error) {
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*evidencesvc.UploadTicket), args.Error(1)
}

func (m *MockEvidenceService) Get(ctx context.Context, tenantID, artifactID uuid.UUID) (*evidence.Artifact, error) {
	return m.artifact(m.Called(ctx, tenantID, artifactID))
}

func (m *MockEvidenceService) List(ctx context.Context, tenantID uuid.UUID, filter evidence.ListFilter) ([]*evidence.Artifact, error) {
	args := m.Called(ctx, tenantID, filter)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*evidence.Artifact), args.Error(1)
}

func (m *MockEvidenceService) Links(ctx context.Context, tenantID, artifactID uuid.UUID) ([]evidence.Link, error) {
	args := m.Called(ctx, tenantID, artifactID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]evidence.Link), args.Error(1)
}

func (m *MockEvidenceService) RequestUpload(ctx context.Context, req evidencesvc.UploadRequest) (*evidencesvc.UploadTicket, error) {
	return m.ticket(m.Called(ctx, req))
}

func (m *MockEvidenceService) RequestReplacement(ctx context.Context, tenantID, artifactID uuid.UUID) (*evidencesvc.UploadTicket, error) {
	return m.ticket(m.Called(ctx, tenantID, artifactID))
}

func (m *MockEvidenceService) FinalizeUpload(ctx context.Context, tenantID, artifactID, actorID uuid.UUID) (*evidence.Artifact, error) {
	return m.artifact(m.Called(ctx, tenantID, artifactID, actorID))
}

func (m *MockEvidenceService) ReplaceBinary(ctx context.Context, tenantID, artifactID, actorID uuid.UUID, mediaType string) (*evidence.Artifact, error) {
	return m.artifact(m.Called(ctx, tenantID, artifactID, actorID, mediaType))
}

func (m *MockEvidenceService) EditMetadata(ctx context.Context, tenantID, artifactID, actorID uuid.UUID, patch evidence.MetadataPatch) (*evidence.Artifact, error) {
	return m.artifact(m.Called(ctx, tenantID, artifactID, actorID, patch))
}

func (m *MockEvidenceService) Approve(ctx context.Context, tenantID, artifactID, actorID uuid.UUID) (*evidence.Artifact, error) {
	return m.artifact(m.Called(ctx, tenantID, artifactID, actorID))
}

func (m *MockEvidenceService) Tombstone(ctx context.Context, tenantID, artifactID, actorID uuid.UUID) (*evidence.Artifact, error) {
	return m.artifact(m.Called(ctx, tenantID, artifactID, actorID))
}

func (m *MockEvidenceService) LinkRequirement(ctx context.Context, tenantID, artifactID, requirementID, actorID uuid.UUID) (bool, error) {
	args := m.Called(ctx, tenantID, artifactID, requirementID, actorID)
	return args.Bool(0), args.Error(1)
}

func (m *MockEvidenceService) LinkControl(ctx context.Context, tenantID, artifactID, controlID, actorID uuid.UUID) (bool, error) {
	args := m.Called(ctx, tenantID, artifactID, controlID, actorID)
	return args.Bool(0), args.Error(1)
}

func (m *MockEvidenceService) LinkObligation(ctx context.Context, tenantID, artifactID, obligationID, actorID uuid.UUID) (bool, error) {
	args := m.Called(ctx, tenantID, artifactID, obligationID, actorID)
	return args.Bool(0), args.Error(1)
}

func (m *MockEvidenceService) UnlinkRequirement(ctx context.Context, tenantID, artifactID, requirementID, actorID uuid.UUID) (bool, error) {
	args := m.Called(ctx, tenantID, artifactID, requirementID, actorID)
	return args.Bool(0), args.Error(1)
}

func (m *MockEvidenceService) DownloadURL(ctx context.Context, tenantID, artifactID uuid.UUID, actor custody.Actor) (*evidencesvc.DownloadLink, error) {
	args := m.Called(ctx, tenantID, artifactID, actor)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*evidencesvc.DownloadLink), args.Error(1)
}

// MockCustodyService is a mock implementation of CustodyService
type MockCustodyService struct {
	mock.Mock
}

func (m *MockCustodyService) History(ctx context.Context, tenantID, artifactID uuid.UUID) ([]*custody.Event, error) {
	args := m.Called(ctx, tenantID, artifactID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*custody.Event), args.Error(1)
}

func (m *MockCustodyService) VerifyHistory(ctx context.Context, tenantID, artifactID uuid.UUID) (*custody.ChainReport, error) {
	args := m.Called(ctx, tenantID, artifactID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*custody.ChainReport), args.Error(1)
}

// stubKeys serves one fixed key
type stubKeys struct {
	keyID string
	pem   string
}

func (s stubKeys) DefaultKeyID() string { return s.keyID }

func (s stubKeys) Algorithm(keyID string) (signing.Algorithm, error) {
	if keyID != s.keyID {
		return "", fmt.Errorf("unknown signing key %q", keyID)
	}
	return signing.AlgorithmECDSASHA256, nil
}

func (s stubKeys) PublicKeyPEM(_ context.Context, keyID string) (string, error) {
	return s.pem, nil
}

// stubProgress returns a fixed progress or ErrProgressNotFound
type stubProgress struct {
	progress *cache.Progress
}

func (s stubProgress) Get(context.Context, uuid.UUID, uuid.UUID) (*cache.Progress, error) {
	if s.progress == nil {
		return nil, cache.ErrProgressNotFound
	}
	return s.progress, nil
}

func (s stubProgress) Subscribe(ctx context.Context, _, _ uuid.UUID) (<-chan cache.Progress, error) {
	ch := make(chan cache.Progress)
	go func() {
		<-ctx.Done()
		close(ch)
	}()
	return ch, nil
}
