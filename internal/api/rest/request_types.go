package rest

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/davidleathers/evidence-vault/internal/domain/inspector"
)

// ScopeRequest is the compliance scope of a new pack
type ScopeRequest struct {
	Domain      string    `json:"domain" validate:"required,max=100"`
	PeriodStart time.Time `json:"period_start" validate:"required"`
	PeriodEnd   time.Time `json:"period_end" validate:"required,gtfield=PeriodStart"`
}

type CreatePackRequest struct {
	Name            string       `json:"name" validate:"required,max=200"`
	Scope           ScopeRequest `json:"scope"`
	ObligationIDs   []uuid.UUID  `json:"obligation_ids" validate:"max=500"`
	ArtifactIDs     []uuid.UUID  `json:"artifact_ids" validate:"max=5000"`
	KeyID           string       `json:"key_id,omitempty" validate:"max=200"`
	DeferGeneration bool         `json:"defer_generation"`
}

type RevokeRequest struct {
	Reason string `json:"reason" validate:"required,max=1000"`
}

// VerifyPackRequest optionally supplies manifest and proof documents to
// check instead of the stored ones
type VerifyPackRequest struct {
	Rehash   bool            `json:"rehash"`
	Manifest json.RawMessage `json:"manifest,omitempty"`
	Proof    json.RawMessage `json:"proof,omitempty"`
}

type GrantAccessRequest struct {
	Inspector   inspector.Identity     `json:"inspector"`
	Permissions *inspector.Permissions `json:"permissions,omitempty"`
	TTLHours    int                    `json:"ttl_hours,omitempty" validate:"gte=0"`
}

type ExtendAccessRequest struct {
	AdditionalHours int `json:"additional_hours" validate:"required,gt=0"`
}

type UploadArtifactRequest struct {
	Name           string `json:"name" validate:"required,max=500"`
	MediaType      string `json:"media_type" validate:"required,max=200"`
	Description    string `json:"description" validate:"max=4000"`
	Classification string `json:"classification" validate:"max=100"`
}

type ReplaceBinaryRequest struct {
	MediaType string `json:"media_type" validate:"max=200"`
}

type EditMetadataRequest struct {
	Name           *string `json:"name,omitempty" validate:"omitempty,min=1,max=500"`
	Description    *string `json:"description,omitempty" validate:"omitempty,max=4000"`
	Classification *string `json:"classification,omitempty" validate:"omitempty,max=100"`
}

// LinkRequest links or unlinks an artifact and a catalog entry
type LinkRequest struct {
	Target   string    `json:"target" validate:"required,oneof=requirement control obligation"`
	TargetID uuid.UUID `json:"target_id" validate:"required"`
}
