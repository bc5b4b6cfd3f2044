package rest

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/davidleathers/evidence-vault/internal/metrics"
)

// RouterDeps wires the HTTP API. Progress, Health and Metrics are optional.
type RouterDeps struct {
	Packs     PackService
	Inspector InspectorService
	Evidence  EvidenceService
	Custody   CustodyService
	Keys      KeyService
	Progress  ProgressSource

	Auth      AuthConfig
	PortalURL string
	WebSocket *WebSocketConfig

	Health  *HealthService
	Metrics *metrics.Registry
	Logger  *slog.Logger
}

// routeTable registers instrumented routes on a mux
type routeTable struct {
	mux      *http.ServeMux
	registry *metrics.Registry
}

// handle registers pattern ("METHOD /path") with its route middlewares
func (rt *routeTable) handle(pattern string, h http.Handler, middlewares ...Middleware) {
	_, route, _ := strings.Cut(pattern, " ")
	rt.mux.Handle(pattern, instrument(route, rt.registry, Chain(h, middlewares...)))
}

// NewRouter builds the tenant API under /api/v1, the inspector API under
// /inspect/v1 and the operational endpoints
func NewRouter(deps RouterDeps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	base := NewBaseHandler(logger)
	h := &Handlers{
		base:      base,
		packs:     deps.Packs,
		inspector: deps.Inspector,
		evidence:  deps.Evidence,
		custody:   deps.Custody,
		keys:      deps.Keys,
		progress:  deps.Progress,
		portalURL: deps.PortalURL,
		logger:    logger,
	}
	wsConfig := DefaultWebSocketConfig()
	if deps.WebSocket != nil {
		wsConfig = *deps.WebSocket
	}

	mux := http.NewServeMux()
	rt := &routeTable{mux: mux, registry: deps.Metrics}
	tenant := NewAuthMiddleware(deps.Auth, base).Middleware()
	inspect := InspectorMiddleware(deps.Inspector, base)

	// Packs
	rt.handle("POST /api/v1/packs", http.HandlerFunc(h.handleCreatePack), tenant)
	rt.handle("GET /api/v1/packs", base.Wrap(http.StatusOK, h.listPacks), tenant)
	rt.handle("GET /api/v1/packs/{packID}", base.Wrap(http.StatusOK, h.getPack), tenant)
	rt.handle("GET /api/v1/packs/{packID}/manifest/draft", base.Wrap(http.StatusOK, h.draftManifest), tenant)
	rt.handle("POST /api/v1/packs/{packID}/finalize", base.Wrap(http.StatusAccepted, h.finalizePack), tenant)
	rt.handle("POST /api/v1/packs/{packID}/revoke", base.Wrap(http.StatusOK, h.revokePack), tenant)
	rt.handle("POST /api/v1/packs/{packID}/verify", base.Wrap(http.StatusOK, h.verifyPack), tenant)
	rt.handle("GET /api/v1/packs/{packID}/progress", base.Wrap(http.StatusOK, h.packProgress), tenant)
	rt.handle("GET /api/v1/packs/{packID}/progress/ws", NewProgressStream(h, wsConfig), tenant)

	// Inspector grants
	rt.handle("POST /api/v1/packs/{packID}/access", base.Wrap(http.StatusCreated, h.grantAccess), tenant)
	rt.handle("GET /api/v1/packs/{packID}/access", base.Wrap(http.StatusOK, h.listAccesses), tenant)
	rt.handle("POST /api/v1/access/{accessID}/extend", base.Wrap(http.StatusOK, h.extendAccess), tenant)
	rt.handle("POST /api/v1/access/{accessID}/revoke", base.Wrap(http.StatusOK, h.revokeAccess), tenant)
	rt.handle("GET /api/v1/access/{accessID}/activity", base.Wrap(http.StatusOK, h.accessActivity), tenant)

	// Artifacts
	rt.handle("POST /api/v1/artifacts", base.Wrap(http.StatusCreated, h.requestUpload), tenant)
	rt.handle("GET /api/v1/artifacts", base.Wrap(http.StatusOK, h.listArtifacts), tenant)
	rt.handle("GET /api/v1/artifacts/{artifactID}", base.Wrap(http.StatusOK, h.getArtifact), tenant)
	rt.handle("PATCH /api/v1/artifacts/{artifactID}", base.Wrap(http.StatusOK, h.artifactMutation(h.editMetadata)), tenant)
	rt.handle("DELETE /api/v1/artifacts/{artifactID}", base.Wrap(http.StatusOK, h.artifactMutation(h.tombstoneArtifact)), tenant)
	rt.handle("POST /api/v1/artifacts/{artifactID}/finalize", base.Wrap(http.StatusOK, h.artifactMutation(h.finalizeUpload)), tenant)
	rt.handle("POST /api/v1/artifacts/{artifactID}/replacement", base.Wrap(http.StatusCreated, h.requestReplacement), tenant)
	rt.handle("POST /api/v1/artifacts/{artifactID}/replace", base.Wrap(http.StatusOK, h.artifactMutation(h.replaceBinary)), tenant)
	rt.handle("POST /api/v1/artifacts/{artifactID}/approve", base.Wrap(http.StatusOK, h.artifactMutation(h.approveArtifact)), tenant)
	rt.handle("GET /api/v1/artifacts/{artifactID}/links", base.Wrap(http.StatusOK, h.listLinks), tenant)
	rt.handle("POST /api/v1/artifacts/{artifactID}/links", base.Wrap(http.StatusOK, h.createLink), tenant)
	rt.handle("DELETE /api/v1/artifacts/{artifactID}/links/{target}/{targetID}", base.Wrap(http.StatusOK, h.deleteLink), tenant)
	rt.handle("GET /api/v1/artifacts/{artifactID}/download", base.Wrap(http.StatusOK, h.downloadArtifact), tenant)
	rt.handle("GET /api/v1/artifacts/{artifactID}/custody", base.Wrap(http.StatusOK, h.custodyHistory), tenant)
	rt.handle("GET /api/v1/artifacts/{artifactID}/custody/verify", base.Wrap(http.StatusOK, h.verifyCustody), tenant)

	// Verification keys are public so offline verifiers can fetch them
	rt.handle("GET /api/v1/signing-keys/{keyID}", base.Wrap(http.StatusOK, h.publicKey))

	// Inspector portal
	rt.handle("GET /inspect/v1/pack", base.Wrap(http.StatusOK, h.inspectorPack), inspect)
	rt.handle("GET /inspect/v1/manifest", base.Wrap(http.StatusOK, h.inspectorManifest), inspect)
	rt.handle("GET /inspect/v1/artifacts/{artifactID}/download", base.Wrap(http.StatusOK, h.inspectorDownload), inspect)
	rt.handle("GET /inspect/v1/report", http.HandlerFunc(h.handleInspectorReport), inspect)

	// Operational
	health := deps.Health
	if health == nil {
		health = NewHealthService(DefaultHealthConfig())
	}
	mux.Handle("GET /healthz", health.LivenessHandler())
	mux.Handle("GET /readyz", health.ReadinessHandler())
	mux.Handle("GET /metrics", promhttp.Handler())

	return Chain(mux,
		RecoveryMiddleware(logger),
		SecurityHeadersMiddleware(),
		RequestIDMiddleware(),
		RequestLoggingMiddleware(logger),
	)
}
