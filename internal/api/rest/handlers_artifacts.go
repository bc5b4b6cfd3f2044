package rest

import (
	"context"
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"github.com/davidleathers/evidence-vault/internal/domain/custody"
	"github.com/davidleathers/evidence-vault/internal/domain/errors"
	"github.com/davidleathers/evidence-vault/internal/domain/evidence"
	evidencesvc "github.com/davidleathers/evidence-vault/internal/service/evidence"
)

// LinkChangeResponse reports whether a link call changed anything
type LinkChangeResponse struct {
	Target   evidence.LinkTarget `json:"target"`
	TargetID uuid.UUID           `json:"target_id"`
	Changed  bool                `json:"changed"`
}

func toUploadTicket(t *evidencesvc.UploadTicket) UploadTicketResponse {
	return UploadTicketResponse{
		Artifact:  toArtifactResponse(t.Artifact),
		Version:   t.Version,
		UploadURL: t.UploadURL,
		ExpiresAt: t.ExpiresAt,
	}
}

func (h *Handlers) requestUpload(ctx context.Context, r *http.Request) (interface{}, error) {
	p, err := writer(ctx)
	if err != nil {
		return nil, err
	}
	var req UploadArtifactRequest
	if err := h.base.ParseAndValidate(r, &req); err != nil {
		return nil, err
	}
	ticket, err := h.evidence.RequestUpload(ctx, evidencesvc.UploadRequest{
		TenantID:       p.TenantID,
		ActorID:        p.UserID,
		Name:           req.Name,
		MediaType:      req.MediaType,
		Description:    req.Description,
		Classification: req.Classification,
	})
	if err != nil {
		return nil, err
	}
	return toUploadTicket(ticket), nil
}

func (h *Handlers) listArtifacts(ctx context.Context, r *http.Request) (interface{}, error) {
	p, err := principalFrom(ctx)
	if err != nil {
		return nil, err
	}
	limit, offset, err := pagination(r)
	if err != nil {
		return nil, err
	}
	q := r.URL.Query()
	filter := evidence.ListFilter{Limit: limit, Offset: offset}
	for _, raw := range q["obligation_id"] {
		id, err := uuid.Parse(raw)
		if err != nil {
			return nil, errors.NewValidationError("INVALID_QUERY", "obligation_id must be a uuid")
		}
		filter.ObligationIDs = append(filter.ObligationIDs, id)
	}
	if filter.ReadyOnly, err = queryBool(r, "ready_only"); err != nil {
		return nil, err
	}
	if filter.IncludeDeleted, err = queryBool(r, "include_deleted"); err != nil {
		return nil, err
	}

	artifacts, err := h.evidence.List(ctx, p.TenantID, filter)
	if err != nil {
		return nil, err
	}
	return ListResponse[ArtifactResponse]{Items: toArtifactResponses(artifacts), Limit: limit, Offset: offset}, nil
}

func (h *Handlers) getArtifact(ctx context.Context, r *http.Request) (interface{}, error) {
	p, err := principalFrom(ctx)
	if err != nil {
		return nil, err
	}
	artifactID, err := pathUUID(r, "artifactID")
	if err != nil {
		return nil, err
	}
	a, err := h.evidence.Get(ctx, p.TenantID, artifactID)
	if err != nil {
		return nil, err
	}
	return toArtifactResponse(a), nil
}

// artifactMutation runs fn for a writer on the artifact in the path
func (h *Handlers) artifactMutation(fn func(ctx context.Context, p Principal, artifactID uuid.UUID, r *http.Request) (*evidence.Artifact, error)) handlerFunc {
	return func(ctx context.Context, r *http.Request) (interface{}, error) {
		p, err := writer(ctx)
		if err != nil {
			return nil, err
		}
		artifactID, err := pathUUID(r, "artifactID")
		if err != nil {
			return nil, err
		}
		a, err := fn(ctx, p, artifactID, r)
		if err != nil {
			return nil, err
		}
		return toArtifactResponse(a), nil
	}
}

func (h *Handlers) finalizeUpload(ctx context.Context, p Principal, artifactID uuid.UUID, _ *http.Request) (*evidence.Artifact, error) {
	return h.evidence.FinalizeUpload(ctx, p.TenantID, artifactID, p.UserID)
}

func (h *Handlers) replaceBinary(ctx context.Context, p Principal, artifactID uuid.UUID, r *http.Request) (*evidence.Artifact, error) {
	var req ReplaceBinaryRequest
	if err := h.base.ParseAndValidate(r, &req); err != nil {
		return nil, err
	}
	return h.evidence.ReplaceBinary(ctx, p.TenantID, artifactID, p.UserID, req.MediaType)
}

func (h *Handlers) editMetadata(ctx context.Context, p Principal, artifactID uuid.UUID, r *http.Request) (*evidence.Artifact, error) {
	var req EditMetadataRequest
	if err := h.base.ParseAndValidate(r, &req); err != nil {
		return nil, err
	}
	return h.evidence.EditMetadata(ctx, p.TenantID, artifactID, p.UserID, evidence.MetadataPatch{
		Name:           req.Name,
		Description:    req.Description,
		Classification: req.Classification,
	})
}

func (h *Handlers) approveArtifact(ctx context.Context, p Principal, artifactID uuid.UUID, _ *http.Request) (*evidence.Artifact, error) {
	return h.evidence.Approve(ctx, p.TenantID, artifactID, p.UserID)
}

func (h *Handlers) tombstoneArtifact(ctx context.Context, p Principal, artifactID uuid.UUID, _ *http.Request) (*evidence.Artifact, error) {
	return h.evidence.Tombstone(ctx, p.TenantID, artifactID, p.UserID)
}

func (h *Handlers) requestReplacement(ctx context.Context, r *http.Request) (interface{}, error) {
	p, err := writer(ctx)
	if err != nil {
		return nil, err
	}
	artifactID, err := pathUUID(r, "artifactID")
	if err != nil {
		return nil, err
	}
	ticket, err := h.evidence.RequestReplacement(ctx, p.TenantID, artifactID)
	if err != nil {
		return nil, err
	}
	return toUploadTicket(ticket), nil
}

func (h *Handlers) listLinks(ctx context.Context, r *http.Request) (interface{}, error) {
	p, err := principalFrom(ctx)
	if err != nil {
		return nil, err
	}
	artifactID, err := pathUUID(r, "artifactID")
	if err != nil {
		return nil, err
	}
	links, err := h.evidence.Links(ctx, p.TenantID, artifactID)
	if err != nil {
		return nil, err
	}
	items := make([]LinkResponse, 0, len(links))
	for _, l := range links {
		items = append(items, LinkResponse{
			Target:    l.Target,
			TargetID:  l.TargetID,
			CreatedBy: l.CreatedBy,
			CreatedAt: l.CreatedAt,
		})
	}
	return ListResponse[LinkResponse]{Items: items}, nil
}

func (h *Handlers) createLink(ctx context.Context, r *http.Request) (interface{}, error) {
	p, err := writer(ctx)
	if err != nil {
		return nil, err
	}
	artifactID, err := pathUUID(r, "artifactID")
	if err != nil {
		return nil, err
	}
	var req LinkRequest
	if err := h.base.ParseAndValidate(r, &req); err != nil {
		return nil, err
	}

	var changed bool
	target := evidence.LinkTarget(req.Target)
	switch target {
	case evidence.LinkTargetRequirement:
		changed, err = h.evidence.LinkRequirement(ctx, p.TenantID, artifactID, req.TargetID, p.UserID)
	case evidence.LinkTargetControl:
		changed, err = h.evidence.LinkControl(ctx, p.TenantID, artifactID, req.TargetID, p.UserID)
	case evidence.LinkTargetObligation:
		changed, err = h.evidence.LinkObligation(ctx, p.TenantID, artifactID, req.TargetID, p.UserID)
	}
	if err != nil {
		return nil, err
	}
	return LinkChangeResponse{Target: target, TargetID: req.TargetID, Changed: changed}, nil
}

// deleteLink removes a requirement link; other targets are not unlinkable
func (h *Handlers) deleteLink(ctx context.Context, r *http.Request) (interface{}, error) {
	p, err := writer(ctx)
	if err != nil {
		return nil, err
	}
	artifactID, err := pathUUID(r, "artifactID")
	if err != nil {
		return nil, err
	}
	if evidence.LinkTarget(r.PathValue("target")) != evidence.LinkTargetRequirement {
		return nil, errors.NewValidationError("UNSUPPORTED_UNLINK", "only requirement links can be removed")
	}
	targetID, err := pathUUID(r, "targetID")
	if err != nil {
		return nil, err
	}
	changed, err := h.evidence.UnlinkRequirement(ctx, p.TenantID, artifactID, targetID, p.UserID)
	if err != nil {
		return nil, err
	}
	return LinkChangeResponse{Target: evidence.LinkTargetRequirement, TargetID: targetID, Changed: changed}, nil
}

func (h *Handlers) downloadArtifact(ctx context.Context, r *http.Request) (interface{}, error) {
	p, err := principalFrom(ctx)
	if err != nil {
		return nil, err
	}
	artifactID, err := pathUUID(r, "artifactID")
	if err != nil {
		return nil, err
	}
	return h.evidence.DownloadURL(ctx, p.TenantID, artifactID, custody.UserActor(p.UserID))
}

func (h *Handlers) custodyHistory(ctx context.Context, r *http.Request) (interface{}, error) {
	p, err := principalFrom(ctx)
	if err != nil {
		return nil, err
	}
	artifactID, err := pathUUID(r, "artifactID")
	if err != nil {
		return nil, err
	}
	events, err := h.custody.History(ctx, p.TenantID, artifactID)
	if err != nil {
		return nil, err
	}
	return ListResponse[CustodyEventResponse]{Items: toCustodyEvents(events)}, nil
}

func (h *Handlers) verifyCustody(ctx context.Context, r *http.Request) (interface{}, error) {
	p, err := principalFrom(ctx)
	if err != nil {
		return nil, err
	}
	artifactID, err := pathUUID(r, "artifactID")
	if err != nil {
		return nil, err
	}
	return h.custody.VerifyHistory(ctx, p.TenantID, artifactID)
}

// publicKey serves a verification key; "default" names the default key
func (h *Handlers) publicKey(ctx context.Context, r *http.Request) (interface{}, error) {
	keyID := r.PathValue("keyID")
	if keyID == "default" {
		keyID = h.keys.DefaultKeyID()
	}
	alg, err := h.keys.Algorithm(keyID)
	if err != nil {
		return nil, errors.NewNotFoundError("signing key")
	}
	pem, err := h.keys.PublicKeyPEM(ctx, keyID)
	if err != nil {
		return nil, err
	}
	return PublicKeyResponse{KeyID: keyID, Algorithm: string(alg), PublicKeyPEM: pem}, nil
}

func queryBool(r *http.Request, name string) (bool, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return false, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, errors.NewValidationError("INVALID_QUERY", name+" must be a boolean")
	}
	return v, nil
}
