// Package catalog holds the read-only compliance records owned by other
// parts of the platform: obligations, controls, evidence requirements and
// readiness evaluations. This subsystem never writes them.
package catalog

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/davidleathers/evidence-vault/internal/domain/values"
)

type Obligation struct {
	ID       uuid.UUID
	TenantID uuid.UUID
	Code     string
	Title    string
	Domain   string
}

type Control struct {
	ID            uuid.UUID
	TenantID      uuid.UUID
	Code          string
	Title         string
	ObligationIDs []uuid.UUID
}

type Requirement struct {
	ID           uuid.UUID
	TenantID     uuid.UUID
	Title        string
	ControlID    *uuid.UUID
	ObligationID *uuid.UUID
}

// Evaluation is the latest readiness snapshot computed by the scoring collaborator
type Evaluation struct {
	TenantID           uuid.UUID
	Domain             string
	ReadinessScore     values.Score
	GapCount           int
	ObligationsTotal   int
	ObligationsCovered int
	ComputedAt         time.Time
}

// Scope narrows catalog reads to a domain and an optional obligation subset
type Scope struct {
	Domain        string
	ObligationIDs []uuid.UUID
}

// Reader reads catalog state. Implementations honour the snapshot carried by ctx.
type Reader interface {
	ListObligations(ctx context.Context, tenantID uuid.UUID, scope Scope) ([]Obligation, error)
	ListControls(ctx context.Context, tenantID uuid.UUID, obligationIDs []uuid.UUID) ([]Control, error)
	ListRequirements(ctx context.Context, tenantID uuid.UUID, obligationIDs []uuid.UUID) ([]Requirement, error)
	// LatestEvaluation returns nil, nil when nothing has been computed
	LatestEvaluation(ctx context.Context, tenantID uuid.UUID, domain string) (*Evaluation, error)
}
