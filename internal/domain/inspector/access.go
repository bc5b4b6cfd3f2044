// Package inspector models time-limited, permissioned read access granted to
// external inspectors for exactly one pack.
package inspector

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/davidleathers/evidence-vault/internal/domain/errors"
	"github.com/davidleathers/evidence-vault/internal/domain/values"
)

// TokenBytes is the entropy of an access token (256 bits)
const TokenBytes = 32

// Permissions is the fixed capability set of an access grant
type Permissions struct {
	CanViewPack          bool `json:"can_view_pack"`
	CanDownloadArtifacts bool `json:"can_download_artifacts"`
	CanViewManifest      bool `json:"can_view_manifest"`
	CanExportReport      bool `json:"can_export_report"`
}

// DefaultPermissions lets an inspector read everything and download artifacts
func DefaultPermissions() Permissions {
	return Permissions{
		CanViewPack:          true,
		CanDownloadArtifacts: true,
		CanViewManifest:      true,
	}
}

// Validate checks the set at grant time. Every grant must at least see the pack.
func (p Permissions) Validate() error {
	if !p.CanViewPack {
		return errors.NewValidationError("INVALID_PERMISSIONS", "can_view_pack is required for every grant")
	}
	return nil
}

// Capability names a single permission
type Capability string

const (
	CapabilityViewPack          Capability = "view_pack"
	CapabilityDownloadArtifacts Capability = "download_artifacts"
	CapabilityViewManifest      Capability = "view_manifest"
	CapabilityExportReport      Capability = "export_report"
)

// Allows reports whether the set includes c
func (p Permissions) Allows(c Capability) bool {
	switch c {
	case CapabilityViewPack:
		return p.CanViewPack
	case CapabilityDownloadArtifacts:
		return p.CanDownloadArtifacts
	case CapabilityViewManifest:
		return p.CanViewManifest
	case CapabilityExportReport:
		return p.CanExportReport
	default:
		return false
	}
}

// Identity describes the external inspector
type Identity struct {
	Name         string `json:"name" validate:"required,max=200"`
	Email        string `json:"email" validate:"required,email"`
	Organization string `json:"organization" validate:"required,max=200"`
}

// Access is one inspector grant. Only the SHA-256 of its token is stored.
type Access struct {
	ID               uuid.UUID
	TenantID         uuid.UUID
	PackID           uuid.UUID
	TokenHash        values.HashValue
	Inspector        Identity
	Permissions      Permissions
	ExpiresAt        time.Time
	IsActive         bool
	CreatedBy        uuid.UUID
	CreatedAt        time.Time
	RevokedAt        *time.Time
	RevokedBy        *uuid.UUID
	RevocationReason string
	LastUsedAt       *time.Time
}

// NewToken returns a fresh opaque token and its hash
func NewToken() (string, values.HashValue, error) {
	buf := make([]byte, TokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", values.HashValue{}, fmt.Errorf("generating access token: %w", err)
	}
	token := base64.RawURLEncoding.EncodeToString(buf)
	return token, HashToken(token), nil
}

// HashToken is the lookup key for a presented token
func HashToken(token string) values.HashValue {
	return values.ComputeHashValue([]byte(strings.TrimSpace(token)))
}

// NewAccess builds an active grant expiring ttl from now
func NewAccess(tenantID, packID uuid.UUID, tokenHash values.HashValue, identity Identity, perms Permissions, ttl time.Duration, createdBy uuid.UUID, now time.Time) (*Access, error) {
	if err := perms.Validate(); err != nil {
		return nil, err
	}
	if ttl <= 0 {
		return nil, errors.NewValidationError("INVALID_TTL", "access ttl must be positive")
	}
	if strings.TrimSpace(identity.Email) == "" {
		return nil, errors.NewValidationError("INVALID_INSPECTOR", "inspector email is required")
	}

	return &Access{
		ID:          uuid.New(),
		TenantID:    tenantID,
		PackID:      packID,
		TokenHash:   tokenHash,
		Inspector:   identity,
		Permissions: perms,
		ExpiresAt:   now.Add(ttl),
		IsActive:    true,
		CreatedBy:   createdBy,
		CreatedAt:   now,
	}, nil
}

// ReasonCode is the internal outcome of a verification attempt. It is
// recorded in the tenant-facing activity log, never shown to inspectors.
type ReasonCode string

const (
	ReasonOK               ReasonCode = "ok"
	ReasonUnknownToken     ReasonCode = "unknown_token"
	ReasonInactive         ReasonCode = "inactive"
	ReasonRevoked          ReasonCode = "revoked"
	ReasonExpired          ReasonCode = "expired"
	ReasonPackNotActive    ReasonCode = "pack_not_active"
	ReasonPermissionDenied ReasonCode = "permission_denied"
	ReasonNotInPack        ReasonCode = "artifact_not_in_pack"
	ReasonRateLimited      ReasonCode = "rate_limited"
	ReasonInternalError    ReasonCode = "internal_error"
)

// Check evaluates the grant itself at now. Pack status is checked separately.
func (a *Access) Check(now time.Time) ReasonCode {
	switch {
	case a.RevokedAt != nil:
		return ReasonRevoked
	case !a.IsActive:
		return ReasonInactive
	case !now.Before(a.ExpiresAt):
		return ReasonExpired
	default:
		return ReasonOK
	}
}

// Revoke deactivates the grant. It reports false when it was already revoked.
func (a *Access) Revoke(reason string, actor uuid.UUID, now time.Time) bool {
	if a.RevokedAt != nil {
		return false
	}
	a.IsActive = false
	a.RevokedAt = &now
	a.RevokedBy = &actor
	a.RevocationReason = reason
	return true
}

// Extend pushes expiry forward from its current value, not from now
func (a *Access) Extend(additional time.Duration, maxTTL time.Duration, now time.Time) error {
	if additional <= 0 {
		return errors.NewValidationError("INVALID_EXTENSION", "extension must be positive")
	}
	if a.RevokedAt != nil || !a.IsActive {
		return errors.NewConflictError("ACCESS_REVOKED", "revoked access cannot be extended")
	}
	next := a.ExpiresAt.Add(additional)
	if maxTTL > 0 && next.Sub(now) > maxTTL {
		return errors.NewValidationError("EXTENSION_TOO_LONG",
			fmt.Sprintf("access may not extend beyond %s from now", maxTTL))
	}
	a.ExpiresAt = next
	return nil
}

// Action names what an inspector did on a verified request
type Action string

const (
	ActionAccessVerified     Action = "ACCESS_VERIFIED"
	ActionPackViewed         Action = "PACK_VIEWED"
	ActionManifestViewed     Action = "MANIFEST_VIEWED"
	ActionArtifactDownloaded Action = "ARTIFACT_DOWNLOADED"
	ActionReportExported     Action = "REPORT_EXPORTED"
)

// ActivityEntry is an append-only audit row for inspector activity.
// AccessID is nil when the presented token matched no grant.
type ActivityEntry struct {
	ID               uuid.UUID
	TenantID         *uuid.UUID
	AccessID         *uuid.UUID
	PackID           *uuid.UUID
	Action           Action
	Success          bool
	Reason           ReasonCode
	TokenFingerprint string
	ArtifactID       *uuid.UUID
	IPAddress        string
	UserAgent        string
	OccurredAt       time.Time
}

// RequestInfo carries client details recorded with activity
type RequestInfo struct {
	IPAddress string
	UserAgent string
}
