package rest

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/davidleathers/evidence-vault/internal/domain/errors"
	"github.com/davidleathers/evidence-vault/internal/domain/pack"
	"github.com/davidleathers/evidence-vault/internal/infrastructure/cache"
	packsvc "github.com/davidleathers/evidence-vault/internal/service/pack"
)

const (
	defaultPageSize = 50
	maxPageSize     = 200
)

// PackDetailResponse is a pack with its member artifacts
type PackDetailResponse struct {
	PackResponse
	ArtifactIDs []uuid.UUID `json:"artifact_ids"`
}

func (h *Handlers) createPack(ctx context.Context, r *http.Request) (interface{}, error) {
	p, err := writer(ctx)
	if err != nil {
		return nil, err
	}
	var req CreatePackRequest
	if err := h.base.ParseAndValidate(r, &req); err != nil {
		return nil, err
	}

	created, err := h.packs.CreatePack(ctx, packsvc.CreatePackRequest{
		TenantID: p.TenantID,
		ActorID:  p.UserID,
		Name:     req.Name,
		Scope: pack.Scope{
			Domain:      req.Scope.Domain,
			PeriodStart: req.Scope.PeriodStart,
			PeriodEnd:   req.Scope.PeriodEnd,
		},
		ObligationIDs:   req.ObligationIDs,
		ArtifactIDs:     req.ArtifactIDs,
		KeyID:           req.KeyID,
		DeferGeneration: req.DeferGeneration,
	})
	if err != nil {
		return nil, err
	}
	return toPackResponse(created), nil
}

// handleCreatePack answers 202 while generation runs in the background
func (h *Handlers) handleCreatePack(w http.ResponseWriter, r *http.Request) {
	res, err := h.createPack(r.Context(), r)
	if err != nil {
		h.base.writeError(w, r, err)
		return
	}
	status := http.StatusCreated
	if resp := res.(PackResponse); resp.Status == pack.StatusGenerating {
		status = http.StatusAccepted
	}
	h.base.writeSuccess(w, r, status, res)
}

func (h *Handlers) listPacks(ctx context.Context, r *http.Request) (interface{}, error) {
	p, err := principalFrom(ctx)
	if err != nil {
		return nil, err
	}
	limit, offset, err := pagination(r)
	if err != nil {
		return nil, err
	}
	filter := pack.ListFilter{Limit: limit, Offset: offset}
	if raw := r.URL.Query().Get("status"); raw != "" {
		status := pack.Status(raw)
		switch status {
		case pack.StatusDraft, pack.StatusGenerating, pack.StatusCompleted, pack.StatusFailed, pack.StatusRevoked:
			filter.Status = &status
		default:
			return nil, errors.NewValidationError("INVALID_STATUS", "unknown pack status")
		}
	}

	packs, err := h.packs.ListPacks(ctx, p.TenantID, filter)
	if err != nil {
		return nil, err
	}
	items := make([]PackResponse, 0, len(packs))
	for _, pk := range packs {
		items = append(items, toPackResponse(pk))
	}
	return ListResponse[PackResponse]{Items: items, Limit: limit, Offset: offset}, nil
}

func (h *Handlers) getPack(ctx context.Context, r *http.Request) (interface{}, error) {
	p, err := principalFrom(ctx)
	if err != nil {
		return nil, err
	}
	packID, err := pathUUID(r, "packID")
	if err != nil {
		return nil, err
	}
	pk, err := h.packs.GetPack(ctx, p.TenantID, packID)
	if err != nil {
		return nil, err
	}
	ids, err := h.packs.ListArtifactIDs(ctx, p.TenantID, packID)
	if err != nil {
		return nil, err
	}
	if ids == nil {
		ids = []uuid.UUID{}
	}
	return PackDetailResponse{PackResponse: toPackResponse(pk), ArtifactIDs: ids}, nil
}

func (h *Handlers) draftManifest(ctx context.Context, r *http.Request) (interface{}, error) {
	p, err := principalFrom(ctx)
	if err != nil {
		return nil, err
	}
	packID, err := pathUUID(r, "packID")
	if err != nil {
		return nil, err
	}
	res, err := h.packs.BuildDraftManifest(ctx, p.TenantID, packID)
	if err != nil {
		return nil, err
	}
	return manifestDocument{Manifest: res.Manifest, SHA256: res.Digest.String()}, nil
}

func (h *Handlers) finalizePack(ctx context.Context, r *http.Request) (interface{}, error) {
	p, err := writer(ctx)
	if err != nil {
		return nil, err
	}
	packID, err := pathUUID(r, "packID")
	if err != nil {
		return nil, err
	}
	pk, err := h.packs.FinalizePack(ctx, p.TenantID, packID, p.UserID)
	if err != nil {
		return nil, err
	}
	return toPackResponse(pk), nil
}

func (h *Handlers) revokePack(ctx context.Context, r *http.Request) (interface{}, error) {
	p, err := writer(ctx)
	if err != nil {
		return nil, err
	}
	packID, err := pathUUID(r, "packID")
	if err != nil {
		return nil, err
	}
	var req RevokeRequest
	if err := h.base.ParseAndValidate(r, &req); err != nil {
		return nil, err
	}
	pk, err := h.packs.RevokePack(ctx, p.TenantID, packID, p.UserID, req.Reason)
	if err != nil {
		return nil, err
	}
	return toPackResponse(pk), nil
}

func (h *Handlers) verifyPack(ctx context.Context, r *http.Request) (interface{}, error) {
	p, err := principalFrom(ctx)
	if err != nil {
		return nil, err
	}
	packID, err := pathUUID(r, "packID")
	if err != nil {
		return nil, err
	}
	var req VerifyPackRequest
	if err := h.base.ParseAndValidate(r, &req); err != nil {
		return nil, err
	}
	return h.packs.VerifyPackIntegrity(ctx, p.TenantID, packID, packsvc.VerifyOptions{
		Rehash:       req.Rehash,
		ManifestJSON: req.Manifest,
		ProofJSON:    req.Proof,
	})
}

// packProgress returns the live progress, or one derived from the stored
// status once the progress entry expired
func (h *Handlers) packProgress(ctx context.Context, r *http.Request) (interface{}, error) {
	p, err := principalFrom(ctx)
	if err != nil {
		return nil, err
	}
	packID, err := pathUUID(r, "packID")
	if err != nil {
		return nil, err
	}
	pk, err := h.packs.GetPack(ctx, p.TenantID, packID)
	if err != nil {
		return nil, err
	}
	return h.currentProgress(ctx, p.TenantID, pk), nil
}

func (h *Handlers) currentProgress(ctx context.Context, tenantID uuid.UUID, pk *pack.Pack) cache.Progress {
	if h.progress != nil {
		progress, err := h.progress.Get(ctx, tenantID, pk.ID)
		if err == nil {
			return *progress
		}
		if !errors.Is(err, cache.ErrProgressNotFound) {
			h.logger.WarnContext(ctx, "progress lookup failed", "pack_id", pk.ID.String(), "error", err)
		}
	}
	return derivedProgress(pk)
}

func derivedProgress(pk *pack.Pack) cache.Progress {
	progress := cache.Progress{
		PackID:    pk.ID,
		Status:    string(pk.Status),
		Step:      "stored",
		UpdatedAt: pk.UpdatedAt,
	}
	switch pk.Status {
	case pack.StatusCompleted, pack.StatusRevoked:
		progress.Percent = 100
	case pack.StatusFailed:
		progress.Error = pk.FailureReason
	}
	return progress
}

func pagination(r *http.Request) (int, int, error) {
	limit, err := queryInt(r, "limit", defaultPageSize)
	if err != nil {
		return 0, 0, err
	}
	if limit == 0 || limit > maxPageSize {
		limit = maxPageSize
	}
	offset, err := queryInt(r, "offset", 0)
	if err != nil {
		return 0, 0, err
	}
	return limit, offset, nil
}
