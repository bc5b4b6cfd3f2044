package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/davidleathers/evidence-vault/internal/domain/custody"
	"github.com/davidleathers/evidence-vault/internal/domain/errors"
	"github.com/davidleathers/evidence-vault/internal/domain/evidence"
	"github.com/davidleathers/evidence-vault/internal/domain/inspector"
	"github.com/davidleathers/evidence-vault/internal/domain/pack"
	"github.com/davidleathers/evidence-vault/internal/infrastructure/cache"
	inspectorsvc "github.com/davidleathers/evidence-vault/internal/service/inspector"
	packsvc "github.com/davidleathers/evidence-vault/internal/service/pack"
)

var testNow = time.Date(2026, 7, 20, 14, 0, 0, 0, time.UTC)

type apiFixture struct {
	packs     *MockPackService
	inspector *MockInspectorService
	evidence  *MockEvidenceService
	custody   *MockCustodyService
	auth      *AuthMiddleware
	handler   http.Handler
	tenantID  uuid.UUID
	userID    uuid.UUID
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *ErrorResponse  `json:"error"`
	Meta    ResponseMeta    `json:"meta"`
}

func newAPIFixture(t *testing.T, progress ProgressSource) *apiFixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	authCfg := AuthConfig{JWTSecret: []byte("test-secret"), Issuer: "evidence-vault", TokenExpiry: time.Hour}

	f := &apiFixture{
		packs:     &MockPackService{},
		inspector: &MockInspectorService{},
		evidence:  &MockEvidenceService{},
		custody:   &MockCustodyService{},
		auth:      NewAuthMiddleware(authCfg, NewBaseHandler(logger)),
		tenantID:  uuid.New(),
		userID:    uuid.New(),
	}
	f.handler = NewRouter(RouterDeps{
		Packs:     f.packs,
		Inspector: f.inspector,
		Evidence:  f.evidence,
		Custody:   f.custody,
		Keys:      stubKeys{keyID: "local-ecdsa", pem: "-----BEGIN PUBLIC KEY-----\n-----END PUBLIC KEY-----\n"},
		Progress:  progress,
		Auth:      authCfg,
		PortalURL: "https://vault.example.com/inspect",
		Logger:    logger,
	})
	return f
}

func (f *apiFixture) token(t *testing.T, role string) string {
	t.Helper()
	tok, err := f.auth.GenerateToken(Principal{TenantID: f.tenantID, UserID: f.userID, Role: role}, time.Now())
	require.NoError(t, err)
	return tok
}

func (f *apiFixture) do(t *testing.T, method, target, bearer string, body interface{}) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, target, reader)
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)

	var env envelope
	if rec.Code != http.StatusNoContent && strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	}
	return rec, env
}

func (f *apiFixture) newPack(t *testing.T, status pack.Status) *pack.Pack {
	t.Helper()
	p, err := pack.NewPack(f.tenantID, "Q2 SOC2 review", pack.Scope{
		Domain:      "soc2",
		PeriodStart: testNow.AddDate(0, -3, 0),
		PeriodEnd:   testNow,
	}, nil, f.userID, testNow)
	require.NoError(t, err)
	p.Status = status
	return p
}

func TestAuthentication(t *testing.T) {
	f := newAPIFixture(t, nil)

	t.Run("missing token", func(t *testing.T) {
		rec, env := f.do(t, http.MethodGet, "/api/v1/packs", "", nil)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		require.NotNil(t, env.Error)
		assert.Equal(t, "UNAUTHENTICATED", env.Error.Code)
		assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
	})

	t.Run("bad signature", func(t *testing.T) {
		other := NewAuthMiddleware(AuthConfig{JWTSecret: []byte("other"), Issuer: "evidence-vault", TokenExpiry: time.Hour}, nil)
		tok, err := other.GenerateToken(Principal{TenantID: f.tenantID, UserID: f.userID, Role: RoleAdmin}, time.Now())
		require.NoError(t, err)

		rec, env := f.do(t, http.MethodGet, "/api/v1/packs", tok, nil)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Equal(t, "INVALID_TOKEN", env.Error.Code)
	})

	t.Run("expired token", func(t *testing.T) {
		tok, err := f.auth.GenerateToken(Principal{TenantID: f.tenantID, UserID: f.userID, Role: RoleAdmin}, time.Now().Add(-2*time.Hour))
		require.NoError(t, err)

		rec, _ := f.do(t, http.MethodGet, "/api/v1/packs", tok, nil)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("viewer cannot write", func(t *testing.T) {
		rec, env := f.do(t, http.MethodPost, "/api/v1/packs", f.token(t, RoleViewer), map[string]any{"name": "x"})
		assert.Equal(t, http.StatusForbidden, rec.Code)
		require.NotNil(t, env.Error)
		f.packs.AssertNotCalled(t, "CreatePack", mock.Anything, mock.Anything)
	})
}

func TestCreatePack(t *testing.T) {
	body := map[string]any{
		"name": "Q2 SOC2 review",
		"scope": map[string]any{
			"domain":       "soc2",
			"period_start": "2026-04-01T00:00:00Z",
			"period_end":   "2026-06-30T00:00:00Z",
		},
		"artifact_ids": []string{uuid.NewString()},
	}

	t.Run("generation accepted", func(t *testing.T) {
		f := newAPIFixture(t, nil)
		created := f.newPack(t, pack.StatusGenerating)
		f.packs.On("CreatePack", mock.Anything, mock.MatchedBy(func(req packsvc.CreatePackRequest) bool {
			return req.TenantID == f.tenantID && req.ActorID == f.userID && req.Scope.Domain == "soc2" && len(req.ArtifactIDs) == 1
		})).Return(created, nil)

		rec, env := f.do(t, http.MethodPost, "/api/v1/packs", f.token(t, RoleManager), body)
		require.Equal(t, http.StatusAccepted, rec.Code)
		assert.True(t, env.Success)

		var resp PackResponse
		require.NoError(t, json.Unmarshal(env.Data, &resp))
		assert.Equal(t, created.ID, resp.ID)
		assert.Equal(t, pack.StatusGenerating, resp.Status)
		f.packs.AssertExpectations(t)
	})

	t.Run("deferred draft", func(t *testing.T) {
		f := newAPIFixture(t, nil)
		f.packs.On("CreatePack", mock.Anything, mock.Anything).Return(f.newPack(t, pack.StatusDraft), nil)

		rec, _ := f.do(t, http.MethodPost, "/api/v1/packs", f.token(t, RoleAdmin), body)
		assert.Equal(t, http.StatusCreated, rec.Code)
	})

	t.Run("validation", func(t *testing.T) {
		f := newAPIFixture(t, nil)
		rec, env := f.do(t, http.MethodPost, "/api/v1/packs", f.token(t, RoleAdmin), map[string]any{
			"scope": map[string]any{
				"domain":       "soc2",
				"period_start": "2026-06-30T00:00:00Z",
				"period_end":   "2026-04-01T00:00:00Z",
			},
		})
		require.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "VALIDATION_ERROR", env.Error.Code)
		assert.Contains(t, env.Error.Fields, "name")
		assert.Contains(t, env.Error.Fields, "scope.period_end")
		f.packs.AssertNotCalled(t, "CreatePack", mock.Anything, mock.Anything)
	})

	t.Run("malformed json", func(t *testing.T) {
		f := newAPIFixture(t, nil)
		req := httptest.NewRequest(http.MethodPost, "/api/v1/packs", strings.NewReader("{"))
		req.Header.Set("Authorization", "Bearer "+f.token(t, RoleAdmin))
		rec := httptest.NewRecorder()
		f.handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestGetPack(t *testing.T) {
	f := newAPIFixture(t, nil)
	p := f.newPack(t, pack.StatusCompleted)
	members := []uuid.UUID{uuid.New(), uuid.New()}
	f.packs.On("GetPack", mock.Anything, f.tenantID, p.ID).Return(p, nil)
	f.packs.On("ListArtifactIDs", mock.Anything, f.tenantID, p.ID).Return(members, nil)

	rec, env := f.do(t, http.MethodGet, "/api/v1/packs/"+p.ID.String(), f.token(t, RoleViewer), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp PackDetailResponse
	require.NoError(t, json.Unmarshal(env.Data, &resp))
	assert.Equal(t, members, resp.ArtifactIDs)

	t.Run("unknown pack", func(t *testing.T) {
		missing := uuid.New()
		f.packs.On("GetPack", mock.Anything, f.tenantID, missing).Return(nil, errors.NewNotFoundError("pack"))
		rec, env := f.do(t, http.MethodGet, "/api/v1/packs/"+missing.String(), f.token(t, RoleViewer), nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
		assert.Equal(t, "RESOURCE_NOT_FOUND", env.Error.Code)
	})

	t.Run("bad id", func(t *testing.T) {
		rec, env := f.do(t, http.MethodGet, "/api/v1/packs/not-a-uuid", f.token(t, RoleViewer), nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "INVALID_ID", env.Error.Code)
	})
}

func TestListPacksRejectsUnknownStatus(t *testing.T) {
	f := newAPIFixture(t, nil)
	rec, env := f.do(t, http.MethodGet, "/api/v1/packs?status=ARCHIVED", f.token(t, RoleViewer), nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "INVALID_STATUS", env.Error.Code)
}

func TestVerifyPackIntegrityMapsErrors(t *testing.T) {
	f := newAPIFixture(t, nil)
	packID := uuid.New()
	f.packs.On("VerifyPackIntegrity", mock.Anything, f.tenantID, packID, packsvc.VerifyOptions{Rehash: true}).
		Return(nil, errors.NewUpstreamError("object_store", "read failed").WithCause(context.DeadlineExceeded))

	rec, _ := f.do(t, http.MethodPost, "/api/v1/packs/"+packID.String()+"/verify", f.token(t, RoleViewer), map[string]any{"rehash": true})
	assert.Equal(t, http.StatusGatewayTimeout, rec.Code)
}

func TestPackProgressFallsBackToStoredStatus(t *testing.T) {
	f := newAPIFixture(t, stubProgress{})
	p := f.newPack(t, pack.StatusFailed)
	p.FailureReason = pack.FailureQueueFull
	f.packs.On("GetPack", mock.Anything, f.tenantID, p.ID).Return(p, nil)

	rec, env := f.do(t, http.MethodGet, "/api/v1/packs/"+p.ID.String()+"/progress", f.token(t, RoleViewer), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var progress cache.Progress
	require.NoError(t, json.Unmarshal(env.Data, &progress))
	assert.Equal(t, "FAILED", progress.Status)
	assert.Equal(t, pack.FailureQueueFull, progress.Error)
}

func TestProgressWebSocketClosesOnCompletion(t *testing.T) {
	p := &cache.Progress{Status: "COMPLETED", Step: "done", Percent: 100}
	f := newAPIFixture(t, stubProgress{progress: p})
	pk := f.newPack(t, pack.StatusCompleted)
	p.PackID = pk.ID
	f.packs.On("GetPack", mock.Anything, f.tenantID, pk.ID).Return(pk, nil)

	srv := httptest.NewServer(f.handler)
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/packs/" + pk.ID.String() +
		"/progress/ws?access_token=" + url.QueryEscape(f.token(t, RoleViewer))
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()
	defer resp.Body.Close()

	var got cache.Progress
	require.NoError(t, conn.ReadJSON(&got))
	assert.Equal(t, pk.ID, got.PackID)
	assert.Equal(t, 100, got.Percent)

	_, _, err = conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure))
}

func TestGrantAccessReturnsPortalLink(t *testing.T) {
	f := newAPIFixture(t, nil)
	packID := uuid.New()
	access := &inspector.Access{
		ID:          uuid.New(),
		TenantID:    f.tenantID,
		PackID:      packID,
		TokenHash:   inspector.HashToken("tok-123"),
		Inspector:   inspector.Identity{Name: "Ada", Email: "ada@regulator.example", Organization: "Regulator"},
		Permissions: inspector.DefaultPermissions(),
		ExpiresAt:   testNow.Add(72 * time.Hour),
		IsActive:    true,
		CreatedBy:   f.userID,
		CreatedAt:   testNow,
	}
	f.inspector.On("Grant", mock.Anything, mock.MatchedBy(func(req inspectorsvc.GrantRequest) bool {
		return req.PackID == packID && req.TenantID == f.tenantID && req.TTLHours == 72
	})).Return(&inspectorsvc.Grant{Access: access, Token: "tok-123"}, nil)

	rec, env := f.do(t, http.MethodPost, "/api/v1/packs/"+packID.String()+"/access", f.token(t, RoleAdmin), map[string]any{
		"inspector": access.Inspector,
		"ttl_hours": 72,
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	var resp GrantResponse
	require.NoError(t, json.Unmarshal(env.Data, &resp))
	assert.Equal(t, "tok-123", resp.Token)
	assert.Equal(t, "https://vault.example.com/inspect?token=tok-123", resp.URL)
	assert.Equal(t, access.TokenHash.Short(), resp.Access.TokenFingerprint)
	assert.NotContains(t, rec.Body.String(), access.TokenHash.String())
}

func TestGrantAccessValidatesInspector(t *testing.T) {
	f := newAPIFixture(t, nil)
	rec, env := f.do(t, http.MethodPost, "/api/v1/packs/"+uuid.NewString()+"/access", f.token(t, RoleAdmin), map[string]any{
		"inspector": map[string]any{"name": "Ada", "email": "not-an-email", "organization": "Regulator"},
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, env.Error.Fields, "inspector.email")
}

func TestInspectorEndpoints(t *testing.T) {
	f := newAPIFixture(t, nil)
	pk := f.newPack(t, pack.StatusCompleted)
	sess := &inspectorsvc.Session{
		Access:      &inspector.Access{ID: uuid.New(), PackID: pk.ID},
		Pack:        pk,
		Fingerprint: "a1b2c3d4",
	}
	f.inspector.On("Verify", mock.Anything, "good-token", mock.AnythingOfType("inspector.RequestInfo")).Return(sess, nil)
	f.inspector.On("Verify", mock.Anything, "stale-token", mock.Anything).
		Return(nil, errors.NewUnauthorizedError("LINK_INVALID", inspectorsvc.LinkInvalidMessage))
	f.inspector.On("Verify", mock.Anything, "busy-token", mock.Anything).
		Return(nil, errors.NewRateLimitError("too many requests"))
	f.inspector.On("GetPackView", mock.Anything, sess).Return(&inspectorsvc.PackView{ID: pk.ID, Name: pk.Name}, nil)
	f.inspector.On("ExportReport", mock.Anything, sess).Return(&inspectorsvc.Report{GeneratedAt: testNow}, nil)

	t.Run("query token", func(t *testing.T) {
		rec, env := f.do(t, http.MethodGet, "/inspect/v1/pack?token=good-token", "", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))
		var view inspectorsvc.PackView
		require.NoError(t, json.Unmarshal(env.Data, &view))
		assert.Equal(t, pk.ID, view.ID)
	})

	t.Run("bearer token", func(t *testing.T) {
		rec, _ := f.do(t, http.MethodGet, "/inspect/v1/report", "good-token", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Header().Get("Content-Disposition"), pk.ID.String())
	})

	t.Run("rejected link", func(t *testing.T) {
		rec, env := f.do(t, http.MethodGet, "/inspect/v1/pack?token=stale-token", "", nil)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Equal(t, "LINK_INVALID", env.Error.Code)
	})

	t.Run("rate limited", func(t *testing.T) {
		rec, _ := f.do(t, http.MethodGet, "/inspect/v1/pack", "busy-token", nil)
		assert.Equal(t, http.StatusTooManyRequests, rec.Code)
		assert.Equal(t, "1", rec.Header().Get("Retry-After"))
	})
}

func TestArtifactLinks(t *testing.T) {
	f := newAPIFixture(t, nil)
	artifactID := uuid.New()
	controlID := uuid.New()
	f.evidence.On("LinkControl", mock.Anything, f.tenantID, artifactID, controlID, f.userID).Return(true, nil)

	rec, env := f.do(t, http.MethodPost, "/api/v1/artifacts/"+artifactID.String()+"/links", f.token(t, RoleManager), map[string]any{
		"target":    "control",
		"target_id": controlID,
	})
	require.Equal(t, http.StatusOK, rec.Code)
	var resp LinkChangeResponse
	require.NoError(t, json.Unmarshal(env.Data, &resp))
	assert.True(t, resp.Changed)
	assert.Equal(t, evidence.LinkTargetControl, resp.Target)

	t.Run("only requirement links can be removed", func(t *testing.T) {
		rec, env := f.do(t, http.MethodDelete, "/api/v1/artifacts/"+artifactID.String()+"/links/control/"+controlID.String(), f.token(t, RoleManager), nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "UNSUPPORTED_UNLINK", env.Error.Code)
	})

	t.Run("unknown target", func(t *testing.T) {
		rec, _ := f.do(t, http.MethodPost, "/api/v1/artifacts/"+artifactID.String()+"/links", f.token(t, RoleManager), map[string]any{
			"target":    "policy",
			"target_id": controlID,
		})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestArtifactDownloadRecordsUserActor(t *testing.T) {
	f := newAPIFixture(t, nil)
	a, err := evidence.NewArtifact(f.tenantID, "policy.pdf", "application/pdf", f.userID, testNow)
	require.NoError(t, err)
	f.evidence.On("DownloadURL", mock.Anything, f.tenantID, a.ID, custody.UserActor(f.userID)).
		Return(nil, errors.NewConflictError("ARTIFACT_NOT_READY", "artifact has no uploaded binary"))

	rec, env := f.do(t, http.MethodGet, "/api/v1/artifacts/"+a.ID.String()+"/download", f.token(t, RoleViewer), nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "ARTIFACT_NOT_READY", env.Error.Code)
	f.evidence.AssertExpectations(t)
}

func TestPublicKeyIsUnauthenticated(t *testing.T) {
	f := newAPIFixture(t, nil)

	rec, env := f.do(t, http.MethodGet, "/api/v1/signing-keys/default", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp PublicKeyResponse
	require.NoError(t, json.Unmarshal(env.Data, &resp))
	assert.Equal(t, "local-ecdsa", resp.KeyID)
	assert.Equal(t, "ECDSA_SHA256", resp.Algorithm)

	rec, _ = f.do(t, http.MethodGet, "/api/v1/signing-keys/unknown", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHealthEndpoints(t *testing.T) {
	f := newAPIFixture(t, nil)

	rec, _ := f.do(t, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/health+json", rec.Header().Get("Content-Type"))

	rec, _ = f.do(t, http.MethodGet, "/readyz", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRecoveryMiddleware(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := Chain(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}), RecoveryMiddleware(logger), RequestIDMiddleware())

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "boom")
}
