package rest

import (
	"context"
	"net/http"
	"net/url"

	inspectorsvc "github.com/davidleathers/evidence-vault/internal/service/inspector"
)

func (h *Handlers) grantAccess(ctx context.Context, r *http.Request) (interface{}, error) {
	p, err := writer(ctx)
	if err != nil {
		return nil, err
	}
	packID, err := pathUUID(r, "packID")
	if err != nil {
		return nil, err
	}
	var req GrantAccessRequest
	if err := h.base.ParseAndValidate(r, &req); err != nil {
		return nil, err
	}

	grant, err := h.inspector.Grant(ctx, inspectorsvc.GrantRequest{
		TenantID:    p.TenantID,
		PackID:      packID,
		ActorID:     p.UserID,
		Inspector:   req.Inspector,
		Permissions: req.Permissions,
		TTLHours:    req.TTLHours,
	})
	if err != nil {
		return nil, err
	}
	return GrantResponse{
		Access: toAccessResponse(grant.Access),
		Token:  grant.Token,
		URL:    h.portalLink(grant.Token),
	}, nil
}

// portalLink appends token to the configured inspector landing page
func (h *Handlers) portalLink(token string) string {
	if h.portalURL == "" {
		return ""
	}
	u, err := url.Parse(h.portalURL)
	if err != nil {
		return ""
	}
	q := u.Query()
	q.Set("token", token)
	u.RawQuery = q.Encode()
	return u.String()
}

func (h *Handlers) listAccesses(ctx context.Context, r *http.Request) (interface{}, error) {
	p, err := principalFrom(ctx)
	if err != nil {
		return nil, err
	}
	packID, err := pathUUID(r, "packID")
	if err != nil {
		return nil, err
	}
	accesses, err := h.inspector.ListAccesses(ctx, p.TenantID, packID)
	if err != nil {
		return nil, err
	}
	items := make([]AccessResponse, 0, len(accesses))
	for _, a := range accesses {
		items = append(items, toAccessResponse(a))
	}
	return ListResponse[AccessResponse]{Items: items}, nil
}

func (h *Handlers) extendAccess(ctx context.Context, r *http.Request) (interface{}, error) {
	p, err := writer(ctx)
	if err != nil {
		return nil, err
	}
	accessID, err := pathUUID(r, "accessID")
	if err != nil {
		return nil, err
	}
	var req ExtendAccessRequest
	if err := h.base.ParseAndValidate(r, &req); err != nil {
		return nil, err
	}
	access, err := h.inspector.Extend(ctx, p.TenantID, accessID, req.AdditionalHours)
	if err != nil {
		return nil, err
	}
	return toAccessResponse(access), nil
}

func (h *Handlers) revokeAccess(ctx context.Context, r *http.Request) (interface{}, error) {
	p, err := writer(ctx)
	if err != nil {
		return nil, err
	}
	accessID, err := pathUUID(r, "accessID")
	if err != nil {
		return nil, err
	}
	var req RevokeRequest
	if err := h.base.ParseAndValidate(r, &req); err != nil {
		return nil, err
	}
	access, err := h.inspector.Revoke(ctx, p.TenantID, accessID, p.UserID, req.Reason)
	if err != nil {
		return nil, err
	}
	return toAccessResponse(access), nil
}

func (h *Handlers) accessActivity(ctx context.Context, r *http.Request) (interface{}, error) {
	p, err := principalFrom(ctx)
	if err != nil {
		return nil, err
	}
	accessID, err := pathUUID(r, "accessID")
	if err != nil {
		return nil, err
	}
	entries, err := h.inspector.ListActivity(ctx, p.TenantID, accessID)
	if err != nil {
		return nil, err
	}
	return ListResponse[ActivityResponse]{Items: toActivityResponses(entries)}, nil
}
