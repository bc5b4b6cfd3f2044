// Package pack models inspection packs: named, time-scoped evidence bundles
// whose signed manifest is exposed to external inspectors.
package pack

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/davidleathers/evidence-vault/internal/domain/errors"
	"github.com/davidleathers/evidence-vault/internal/domain/signing"
	"github.com/davidleathers/evidence-vault/internal/domain/values"
)

// Status represents the lifecycle state of a pack
type Status string

const (
	StatusDraft      Status = "DRAFT"
	StatusGenerating Status = "GENERATING"
	StatusCompleted  Status = "COMPLETED"
	StatusFailed     Status = "FAILED"
	StatusRevoked    Status = "REVOKED"
)

func (s Status) String() string {
	return string(s)
}

// IsTerminal reports whether no further transition is possible
func (s Status) IsTerminal() bool {
	return s == StatusFailed || s == StatusRevoked
}

var allowedTransitions = map[Status][]Status{
	StatusDraft:      {StatusGenerating, StatusFailed},
	StatusGenerating: {StatusCompleted, StatusFailed},
	StatusCompleted:  {StatusRevoked},
}

// CanTransition reports whether from -> to is a legal lifecycle step
func CanTransition(from, to Status) bool {
	for _, s := range allowedTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Failure reasons recorded on FAILED packs
const (
	FailureQueueFull = "queue_full"
	FailureTimeout   = "generation_timeout"
)

// Scope is the domain and date range a pack covers
type Scope struct {
	Domain      string    `json:"domain"`
	PeriodStart time.Time `json:"period_start"`
	PeriodEnd   time.Time `json:"period_end"`
}

func (s Scope) Validate() error {
	if strings.TrimSpace(s.Domain) == "" {
		return errors.NewValidationError("INVALID_SCOPE", "scope domain cannot be empty")
	}
	if s.PeriodStart.IsZero() || s.PeriodEnd.IsZero() {
		return errors.NewValidationError("INVALID_SCOPE", "scope period start and end are required")
	}
	if s.PeriodEnd.Before(s.PeriodStart) {
		return errors.NewValidationError("INVALID_SCOPE", "scope period end is before its start")
	}
	return nil
}

// CompletionRecord captures everything a successful generation produced
type CompletionRecord struct {
	ManifestHash     values.HashValue
	Signature        values.Signature
	SigningKeyID     string
	SigningAlgorithm signing.Algorithm
	ManifestKey      string
	ProofKey         string
	SummaryKey       string
	BundleKey        string
	BundleHash       values.HashValue
	FinalizedBy      uuid.UUID
}

// Pack is an inspection pack. Revision increases with every persisted
// status change and backs the repository compare-and-set.
type Pack struct {
	ID            uuid.UUID
	TenantID      uuid.UUID
	Name          string
	Scope         Scope
	ObligationIDs []uuid.UUID
	Status        Status
	Revision      int64

	ManifestHash     values.HashValue
	Signature        values.Signature
	SigningKeyID     string
	SigningAlgorithm signing.Algorithm
	ManifestKey      string
	ProofKey         string
	SummaryKey       string
	BundleKey        string
	BundleHash       values.HashValue

	GenerationStartedAt *time.Time
	FinalizedAt         *time.Time
	FinalizedBy         *uuid.UUID
	FailureReason       string
	FailedAt            *time.Time
	RevokedAt           *time.Time
	RevokedBy           *uuid.UUID
	RevocationReason    string

	CreatedBy uuid.UUID
	CreatedAt time.Time
	UpdatedAt time.Time
}

// NewPack creates a DRAFT pack
func NewPack(tenantID uuid.UUID, name string, scope Scope, obligationIDs []uuid.UUID, createdBy uuid.UUID, now time.Time) (*Pack, error) {
	if tenantID == uuid.Nil {
		return nil, errors.NewValidationError("INVALID_TENANT", "tenant ID cannot be empty")
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, errors.NewValidationError("INVALID_NAME", "pack name cannot be empty")
	}
	if err := scope.Validate(); err != nil {
		return nil, err
	}
	scope.PeriodStart = scope.PeriodStart.UTC()
	scope.PeriodEnd = scope.PeriodEnd.UTC()

	return &Pack{
		ID:            uuid.New(),
		TenantID:      tenantID,
		Name:          name,
		Scope:         scope,
		ObligationIDs: append([]uuid.UUID(nil), obligationIDs...),
		Status:        StatusDraft,
		CreatedBy:     createdBy,
		CreatedAt:     now,
		UpdatedAt:     now,
	}, nil
}

func (p *Pack) transition(to Status, now time.Time) error {
	if !CanTransition(p.Status, to) {
		return errors.NewConflictError("INVALID_PACK_TRANSITION",
			fmt.Sprintf("pack %s cannot move from %s to %s", p.ID, p.Status, to))
	}
	p.Status = to
	p.UpdatedAt = now
	return nil
}

// StartGeneration claims a DRAFT pack for generation
func (p *Pack) StartGeneration(now time.Time) error {
	if err := p.transition(StatusGenerating, now); err != nil {
		return err
	}
	p.GenerationStartedAt = &now
	return nil
}

// IsStale reports whether a GENERATING claim is older than staleAfter
func (p *Pack) IsStale(now time.Time, staleAfter time.Duration) bool {
	if p.Status != StatusGenerating || p.GenerationStartedAt == nil {
		return false
	}
	return now.Sub(*p.GenerationStartedAt) >= staleAfter
}

// ReclaimGeneration takes over a GENERATING pack whose worker has gone quiet
func (p *Pack) ReclaimGeneration(now time.Time, staleAfter time.Duration) error {
	if p.Status != StatusGenerating {
		return errors.NewConflictError("PACK_NOT_GENERATING", fmt.Sprintf("pack %s is %s", p.ID, p.Status))
	}
	if !p.IsStale(now, staleAfter) {
		return errors.NewConflictError("PACK_GENERATION_IN_PROGRESS",
			fmt.Sprintf("pack %s is already being generated", p.ID))
	}
	p.GenerationStartedAt = &now
	p.UpdatedAt = now
	return nil
}

// Complete records a successful generation. A pack completes at most once.
func (p *Pack) Complete(rec CompletionRecord, now time.Time) error {
	if rec.ManifestHash.IsEmpty() || rec.Signature.IsEmpty() {
		return errors.NewValidationError("UNSIGNED_MANIFEST", "a pack cannot complete without a signed manifest")
	}
	if err := p.transition(StatusCompleted, now); err != nil {
		return err
	}
	p.ManifestHash = rec.ManifestHash
	p.Signature = rec.Signature
	p.SigningKeyID = rec.SigningKeyID
	p.SigningAlgorithm = rec.SigningAlgorithm
	p.ManifestKey = rec.ManifestKey
	p.ProofKey = rec.ProofKey
	p.SummaryKey = rec.SummaryKey
	p.BundleKey = rec.BundleKey
	p.BundleHash = rec.BundleHash
	p.FinalizedAt = &now
	finalizedBy := rec.FinalizedBy
	p.FinalizedBy = &finalizedBy
	return nil
}

// Fail marks the pack FAILED. Failed packs are never retried in place.
func (p *Pack) Fail(reason string, now time.Time) error {
	if err := p.transition(StatusFailed, now); err != nil {
		return err
	}
	if reason == "" {
		reason = "unknown"
	}
	p.FailureReason = reason
	p.FailedAt = &now
	return nil
}

// Revoke withdraws a COMPLETED pack. The manifest and proof are kept.
func (p *Pack) Revoke(reason string, actor uuid.UUID, now time.Time) error {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return errors.NewValidationError("REVOCATION_REASON_REQUIRED", "a revocation reason is required")
	}
	if err := p.transition(StatusRevoked, now); err != nil {
		return err
	}
	p.RevokedAt = &now
	p.RevokedBy = &actor
	p.RevocationReason = reason
	return nil
}

// IsInspectable reports whether inspectors may read the pack
func (p *Pack) IsInspectable() bool {
	return p.Status == StatusCompleted
}

// ObjectPrefix is the tenant-namespaced storage prefix of a pack
func ObjectPrefix(env string, tenantID, packID uuid.UUID) string {
	return fmt.Sprintf("%s/%s/packs/%s", env, tenantID, packID)
}

// ObjectKey is the key of a named file under the pack prefix
func ObjectKey(env string, tenantID, packID uuid.UUID, name string) string {
	return ObjectPrefix(env, tenantID, packID) + "/" + name
}

// File names under a pack prefix
const (
	ManifestFile = "manifest.json"
	ProofFile    = "proof.json"
	SummaryFile  = "summary.json"
	BundleFile   = "bundle.zip"
)
