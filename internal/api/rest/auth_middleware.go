package rest

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/davidleathers/evidence-vault/internal/domain/errors"
	"github.com/davidleathers/evidence-vault/internal/domain/inspector"
	inspectorsvc "github.com/davidleathers/evidence-vault/internal/service/inspector"
)

// AuthConfig holds tenant authentication configuration
type AuthConfig struct {
	JWTSecret   []byte
	Issuer      string
	TokenExpiry time.Duration
}

// Claims are the JWT claims of a tenant user. Subject is the user id.
type Claims struct {
	jwt.RegisteredClaims
	TenantID uuid.UUID `json:"tenant_id"`
	Role     string    `json:"role"`
}

// AuthMiddleware authenticates tenant users with HS256 JWTs
type AuthMiddleware struct {
	config AuthConfig
	base   *BaseHandler
}

func NewAuthMiddleware(config AuthConfig, base *BaseHandler) *AuthMiddleware {
	return &AuthMiddleware{config: config, base: base}
}

// Middleware rejects requests without a valid tenant token
func (a *AuthMiddleware) Middleware() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := bearerToken(r)
			if !ok && websocket.IsWebSocketUpgrade(r) {
				// browsers cannot set headers on websocket handshakes
				token = r.URL.Query().Get("access_token")
				ok = token != ""
			}
			if !ok {
				a.base.writeError(w, r, errors.NewUnauthorizedError("UNAUTHENTICATED", "authorization required"))
				return
			}

			claims, err := a.parse(token)
			if err != nil {
				a.base.writeError(w, r, errors.NewUnauthorizedError("INVALID_TOKEN", "invalid or expired token"))
				return
			}
			userID, err := uuid.Parse(claims.Subject)
			if err != nil || claims.TenantID == uuid.Nil {
				a.base.writeError(w, r, errors.NewUnauthorizedError("INVALID_TOKEN", "invalid or expired token"))
				return
			}

			principal := Principal{TenantID: claims.TenantID, UserID: userID, Role: claims.Role}
			trace.SpanFromContext(r.Context()).SetAttributes(
				attribute.String("tenant_id", principal.TenantID.String()),
				attribute.String("user_id", principal.UserID.String()),
			)
			next.ServeHTTP(w, r.WithContext(withPrincipal(r.Context(), principal)))
		})
	}
}

// GenerateToken issues a tenant token
func (a *AuthMiddleware) GenerateToken(p Principal, now time.Time) (string, error) {
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    a.config.Issuer,
			Subject:   p.UserID.String(),
			ExpiresAt: jwt.NewNumericDate(now.Add(a.config.TokenExpiry)),
			NotBefore: jwt.NewNumericDate(now),
			IssuedAt:  jwt.NewNumericDate(now),
			ID:        uuid.New().String(),
		},
		TenantID: p.TenantID,
		Role:     p.Role,
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.config.JWTSecret)
}

func (a *AuthMiddleware) parse(tokenString string) (*Claims, error) {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if a.config.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(a.config.Issuer))
	}
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		return a.config.JWTSecret, nil
	}, opts...)
	if err != nil {
		return nil, err
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token claims")
	}
	return claims, nil
}

// InspectorVerifier resolves inspector tokens
type InspectorVerifier interface {
	Verify(ctx context.Context, token string, info inspector.RequestInfo) (*inspectorsvc.Session, error)
}

// InspectorMiddleware verifies the inspector token of every request. The
// token comes from the Authorization bearer header or the token query
// parameter of a shared link.
func InspectorMiddleware(verifier InspectorVerifier, base *BaseHandler) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := bearerToken(r)
			if !ok {
				token = r.URL.Query().Get("token")
			}
			meta := requestMetaFrom(r.Context())
			sess, err := verifier.Verify(r.Context(), token, inspector.RequestInfo{
				IPAddress: meta.ClientIP,
				UserAgent: r.UserAgent(),
			})
			if err != nil {
				base.writeError(w, r, err)
				return
			}
			w.Header().Set("Cache-Control", "no-store")
			next.ServeHTTP(w, r.WithContext(withSession(r.Context(), sess)))
		})
	}
}

func bearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	scheme, token, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "bearer") || strings.TrimSpace(token) == "" {
		return "", false
	}
	return strings.TrimSpace(token), true
}
