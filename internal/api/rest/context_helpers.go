package rest

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/davidleathers/evidence-vault/internal/domain/errors"
	inspectorsvc "github.com/davidleathers/evidence-vault/internal/service/inspector"
)

type contextKey string

const (
	contextKeyRequestMeta contextKey = "request_meta"
	contextKeyPrincipal   contextKey = "principal"
	contextKeySession     contextKey = "inspector_session"
)

// Tenant roles carried in the JWT role claim
const (
	RoleAdmin   = "admin"
	RoleManager = "compliance_manager"
	RoleViewer  = "viewer"
)

// Principal is the authenticated tenant user of a request
type Principal struct {
	TenantID uuid.UUID
	UserID   uuid.UUID
	Role     string
}

// CanWrite reports whether the role may change packs, artifacts and grants
func (p Principal) CanWrite() bool {
	return p.Role == RoleAdmin || p.Role == RoleManager
}

// RequestMeta contains metadata about the current request
type RequestMeta struct {
	RequestID string
	ClientIP  string
	UserAgent string
}

func withPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, contextKeyPrincipal, p)
}

// principalFrom returns the tenant principal set by the auth middleware
func principalFrom(ctx context.Context) (Principal, error) {
	p, ok := ctx.Value(contextKeyPrincipal).(Principal)
	if !ok || p.TenantID == uuid.Nil {
		return Principal{}, errors.NewUnauthorizedError("UNAUTHENTICATED", "authentication required")
	}
	return p, nil
}

// writer returns the principal when it may perform mutations
func writer(ctx context.Context) (Principal, error) {
	p, err := principalFrom(ctx)
	if err != nil {
		return Principal{}, err
	}
	if !p.CanWrite() {
		return Principal{}, errors.NewForbiddenError("role does not permit this operation")
	}
	return p, nil
}

func withSession(ctx context.Context, s *inspectorsvc.Session) context.Context {
	return context.WithValue(ctx, contextKeySession, s)
}

func sessionFrom(ctx context.Context) *inspectorsvc.Session {
	s, _ := ctx.Value(contextKeySession).(*inspectorsvc.Session)
	return s
}

func requestMetaFrom(ctx context.Context) *RequestMeta {
	if meta, ok := ctx.Value(contextKeyRequestMeta).(*RequestMeta); ok {
		return meta
	}
	return &RequestMeta{}
}

func contextWithMeta(r *http.Request, meta *RequestMeta) context.Context {
	return context.WithValue(r.Context(), contextKeyRequestMeta, meta)
}
