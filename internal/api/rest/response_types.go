package rest

import (
	"time"

	"github.com/google/uuid"

	"github.com/davidleathers/evidence-vault/internal/domain/custody"
	"github.com/davidleathers/evidence-vault/internal/domain/evidence"
	"github.com/davidleathers/evidence-vault/internal/domain/inspector"
	"github.com/davidleathers/evidence-vault/internal/domain/pack"
)

// ListResponse wraps list responses
type ListResponse[T any] struct {
	Items  []T `json:"items"`
	Limit  int `json:"limit,omitempty"`
	Offset int `json:"offset,omitempty"`
}

type PackResponse struct {
	ID               uuid.UUID   `json:"id"`
	Name             string      `json:"name"`
	Scope            pack.Scope  `json:"scope"`
	ObligationIDs    []uuid.UUID `json:"obligation_ids"`
	Status           pack.Status `json:"status"`
	ManifestSHA256   string      `json:"manifest_sha256,omitempty"`
	Signature        string      `json:"signature,omitempty"`
	SigningKeyID     string      `json:"signing_key_id,omitempty"`
	SigningAlgorithm string      `json:"signing_algorithm,omitempty"`
	BundleSHA256     string      `json:"bundle_sha256,omitempty"`
	FailureReason    string      `json:"failure_reason,omitempty"`
	RevocationReason string      `json:"revocation_reason,omitempty"`
	CreatedBy        uuid.UUID   `json:"created_by"`
	CreatedAt        time.Time   `json:"created_at"`
	FinalizedAt      *time.Time  `json:"finalized_at,omitempty"`
	FailedAt         *time.Time  `json:"failed_at,omitempty"`
	RevokedAt        *time.Time  `json:"revoked_at,omitempty"`
}

func toPackResponse(p *pack.Pack) PackResponse {
	resp := PackResponse{
		ID:               p.ID,
		Name:             p.Name,
		Scope:            p.Scope,
		ObligationIDs:    p.ObligationIDs,
		Status:           p.Status,
		SigningKeyID:     p.SigningKeyID,
		SigningAlgorithm: string(p.SigningAlgorithm),
		FailureReason:    p.FailureReason,
		RevocationReason: p.RevocationReason,
		CreatedBy:        p.CreatedBy,
		CreatedAt:        p.CreatedAt,
		FinalizedAt:      p.FinalizedAt,
		FailedAt:         p.FailedAt,
		RevokedAt:        p.RevokedAt,
	}
	if resp.ObligationIDs == nil {
		resp.ObligationIDs = []uuid.UUID{}
	}
	if !p.ManifestHash.IsEmpty() {
		resp.ManifestSHA256 = p.ManifestHash.String()
	}
	if !p.Signature.IsEmpty() {
		resp.Signature = p.Signature.String()
	}
	if !p.BundleHash.IsEmpty() {
		resp.BundleSHA256 = p.BundleHash.String()
	}
	return resp
}

type ArtifactResponse struct {
	ID             uuid.UUID       `json:"id"`
	Name           string          `json:"name"`
	Description    string          `json:"description,omitempty"`
	Classification string          `json:"classification,omitempty"`
	MediaType      string          `json:"media_type"`
	Version        int             `json:"version"`
	SHA256         string          `json:"sha256,omitempty"`
	SizeBytes      int64           `json:"size_bytes"`
	Status         evidence.Status `json:"status"`
	Immutable      bool            `json:"immutable"`
	ApprovedAt     *time.Time      `json:"approved_at,omitempty"`
	ApprovedBy     *uuid.UUID      `json:"approved_by,omitempty"`
	UploadedAt     *time.Time      `json:"uploaded_at,omitempty"`
	DeletedAt      *time.Time      `json:"deleted_at,omitempty"`
	CreatedBy      uuid.UUID       `json:"created_by"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

func toArtifactResponse(a *evidence.Artifact) ArtifactResponse {
	resp := ArtifactResponse{
		ID:             a.ID,
		Name:           a.Name,
		Description:    a.Description,
		Classification: a.Classification,
		MediaType:      a.MediaType,
		Version:        a.Version,
		SizeBytes:      a.SizeBytes,
		Status:         a.Status,
		Immutable:      a.IsImmutable(),
		UploadedAt:     a.UploadedAt,
		DeletedAt:      a.DeletedAt,
		CreatedBy:      a.CreatedBy,
		CreatedAt:      a.CreatedAt,
		UpdatedAt:      a.UpdatedAt,
	}
	if !a.ContentHash.IsEmpty() {
		resp.SHA256 = a.ContentHash.String()
	}
	if approval := a.Approval(); approval != nil {
		resp.ApprovedAt = &approval.ApprovedAt
		resp.ApprovedBy = &approval.ApprovedBy
	}
	return resp
}

func toArtifactResponses(artifacts []*evidence.Artifact) []ArtifactResponse {
	out := make([]ArtifactResponse, 0, len(artifacts))
	for _, a := range artifacts {
		out = append(out, toArtifactResponse(a))
	}
	return out
}

type UploadTicketResponse struct {
	Artifact  ArtifactResponse `json:"artifact"`
	Version   int              `json:"version"`
	UploadURL string           `json:"upload_url"`
	ExpiresAt time.Time        `json:"expires_at"`
}

type LinkResponse struct {
	Target    evidence.LinkTarget `json:"target"`
	TargetID  uuid.UUID           `json:"target_id"`
	CreatedBy uuid.UUID           `json:"created_by"`
	CreatedAt time.Time           `json:"created_at"`
}

type CustodyEventResponse struct {
	ID           uuid.UUID         `json:"id"`
	Sequence     int64             `json:"sequence"`
	ArtifactID   uuid.UUID         `json:"artifact_id"`
	Kind         custody.EventKind `json:"kind"`
	Actor        custody.Actor     `json:"actor"`
	OccurredAt   time.Time         `json:"occurred_at"`
	Metadata     map[string]any    `json:"metadata,omitempty"`
	PreviousHash string            `json:"previous_hash"`
	EventHash    string            `json:"event_hash"`
}

func toCustodyEvents(events []*custody.Event) []CustodyEventResponse {
	out := make([]CustodyEventResponse, 0, len(events))
	for _, e := range events {
		out = append(out, CustodyEventResponse{
			ID:           e.ID,
			Sequence:     e.Sequence.Value(),
			ArtifactID:   e.ArtifactID,
			Kind:         e.Kind,
			Actor:        e.Actor,
			OccurredAt:   e.OccurredAt,
			Metadata:     e.Metadata,
			PreviousHash: e.PreviousHash.String(),
			EventHash:    e.EventHash.String(),
		})
	}
	return out
}

// AccessResponse is the tenant view of a grant; the token hash is never returned
type AccessResponse struct {
	ID               uuid.UUID             `json:"id"`
	PackID           uuid.UUID             `json:"pack_id"`
	TokenFingerprint string                `json:"token_fingerprint"`
	Inspector        inspector.Identity    `json:"inspector"`
	Permissions      inspector.Permissions `json:"permissions"`
	ExpiresAt        time.Time             `json:"expires_at"`
	IsActive         bool                  `json:"is_active"`
	CreatedBy        uuid.UUID             `json:"created_by"`
	CreatedAt        time.Time             `json:"created_at"`
	RevokedAt        *time.Time            `json:"revoked_at,omitempty"`
	RevocationReason string                `json:"revocation_reason,omitempty"`
	LastUsedAt       *time.Time            `json:"last_used_at,omitempty"`
}

func toAccessResponse(a *inspector.Access) AccessResponse {
	return AccessResponse{
		ID:               a.ID,
		PackID:           a.PackID,
		TokenFingerprint: a.TokenHash.Short(),
		Inspector:        a.Inspector,
		Permissions:      a.Permissions,
		ExpiresAt:        a.ExpiresAt,
		IsActive:         a.IsActive,
		CreatedBy:        a.CreatedBy,
		CreatedAt:        a.CreatedAt,
		RevokedAt:        a.RevokedAt,
		RevocationReason: a.RevocationReason,
		LastUsedAt:       a.LastUsedAt,
	}
}

// GrantResponse carries the one-time token and the link built from it
type GrantResponse struct {
	Access AccessResponse `json:"access"`
	Token  string         `json:"token"`
	URL    string         `json:"url,omitempty"`
}

type ActivityResponse struct {
	ID               uuid.UUID            `json:"id"`
	Action           inspector.Action     `json:"action"`
	Success          bool                 `json:"success"`
	Reason           inspector.ReasonCode `json:"reason"`
	TokenFingerprint string               `json:"token_fingerprint"`
	ArtifactID       *uuid.UUID           `json:"artifact_id,omitempty"`
	IPAddress        string               `json:"ip_address,omitempty"`
	UserAgent        string               `json:"user_agent,omitempty"`
	OccurredAt       time.Time            `json:"occurred_at"`
}

func toActivityResponses(entries []*inspector.ActivityEntry) []ActivityResponse {
	out := make([]ActivityResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, ActivityResponse{
			ID:               e.ID,
			Action:           e.Action,
			Success:          e.Success,
			Reason:           e.Reason,
			TokenFingerprint: e.TokenFingerprint,
			ArtifactID:       e.ArtifactID,
			IPAddress:        e.IPAddress,
			UserAgent:        e.UserAgent,
			OccurredAt:       e.OccurredAt,
		})
	}
	return out
}

type PublicKeyResponse struct {
	KeyID        string `json:"key_id"`
	Algorithm    string `json:"algorithm"`
	PublicKeyPEM string `json:"public_key_pem"`
}
