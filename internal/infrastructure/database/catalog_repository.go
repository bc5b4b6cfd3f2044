package database

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/davidleathers/evidence-vault/internal/domain/catalog"
	"github.com/davidleathers/evidence-vault/internal/domain/errors"
	"github.com/davidleathers/evidence-vault/internal/domain/values"
)

// CatalogReader implements catalog.Reader. It never writes.
type CatalogReader struct {
	db *pgxpool.Pool
}

var _ catalog.Reader = (*CatalogReader)(nil)

func NewCatalogReader(db *pgxpool.Pool) *CatalogReader {
	return &CatalogReader{db: db}
}

func (r *CatalogReader) ListObligations(ctx context.Context, tenantID uuid.UUID, scope catalog.Scope) ([]catalog.Obligation, error) {
	query := `
		SELECT id, tenant_id, code, title, domain
		FROM obligations
		WHERE tenant_id = $1 AND ($2 = '' OR domain = $2)`
	args := []any{tenantID, scope.Domain}
	if scope.ObligationIDs != nil {
		query += ` AND id = ANY($3::uuid[])`
		args = append(args, uuidArray(scope.ObligationIDs))
	}
	query += ` ORDER BY id`

	rows, err := conn(ctx, r.db).Query(ctx, query, args...)
	if err != nil {
		return nil, errors.NewInternalError("failed to list obligations").WithCause(err)
	}
	defer rows.Close()

	var obligations []catalog.Obligation
	for rows.Next() {
		var o catalog.Obligation
		if err := rows.Scan(&o.ID, &o.TenantID, &o.Code, &o.Title, &o.Domain); err != nil {
			return nil, errors.NewInternalError("failed to scan obligation").WithCause(err)
		}
		obligations = append(obligations, o)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewInternalError("failed to iterate obligations").WithCause(err)
	}
	return obligations, nil
}

func (r *CatalogReader) ListControls(ctx context.Context, tenantID uuid.UUID, obligationIDs []uuid.UUID) ([]catalog.Control, error) {
	rows, err := conn(ctx, r.db).Query(ctx, `
		SELECT c.id, c.tenant_id, c.code, c.title,
		       array_agg(co.obligation_id ORDER BY co.obligation_id)::text[]
		FROM controls c
		JOIN control_obligations co ON co.control_id = c.id
		WHERE c.tenant_id = $1 AND co.obligation_id = ANY($2::uuid[])
		GROUP BY c.id, c.tenant_id, c.code, c.title
		ORDER BY c.id
	`, tenantID, uuidArray(obligationIDs))
	if err != nil {
		return nil, errors.NewInternalError("failed to list controls").WithCause(err)
	}
	defer rows.Close()

	var controls []catalog.Control
	for rows.Next() {
		var c catalog.Control
		var obligations []string
		if err := rows.Scan(&c.ID, &c.TenantID, &c.Code, &c.Title, &obligations); err != nil {
			return nil, errors.NewInternalError("failed to scan control").WithCause(err)
		}
		if c.ObligationIDs, err = parseUUIDs(obligations); err != nil {
			return nil, errors.NewInternalError("invalid control obligation").WithCause(err)
		}
		controls = append(controls, c)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewInternalError("failed to iterate controls").WithCause(err)
	}
	return controls, nil
}

func (r *CatalogReader) ListRequirements(ctx context.Context, tenantID uuid.UUID, obligationIDs []uuid.UUID) ([]catalog.Requirement, error) {
	rows, err := conn(ctx, r.db).Query(ctx, `
		SELECT er.id, er.tenant_id, er.title, er.control_id, er.obligation_id
		FROM evidence_requirements er
		WHERE er.tenant_id = $1 AND (
			er.obligation_id = ANY($2::uuid[])
			OR er.control_id IN (
				SELECT co.control_id FROM control_obligations co
				WHERE co.obligation_id = ANY($2::uuid[]))
		)
		ORDER BY er.id
	`, tenantID, uuidArray(obligationIDs))
	if err != nil {
		return nil, errors.NewInternalError("failed to list evidence requirements").WithCause(err)
	}
	defer rows.Close()

	var requirements []catalog.Requirement
	for rows.Next() {
		var req catalog.Requirement
		if err := rows.Scan(&req.ID, &req.TenantID, &req.Title, &req.ControlID, &req.ObligationID); err != nil {
			return nil, errors.NewInternalError("failed to scan evidence requirement").WithCause(err)
		}
		requirements = append(requirements, req)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewInternalError("failed to iterate evidence requirements").WithCause(err)
	}
	return requirements, nil
}

func (r *CatalogReader) LatestEvaluation(ctx context.Context, tenantID uuid.UUID, domain string) (*catalog.Evaluation, error) {
	var (
		e     catalog.Evaluation
		score string
	)
	err := conn(ctx, r.db).QueryRow(ctx, `
		SELECT tenant_id, domain, readiness_score::text, gap_count,
		       obligations_total, obligations_covered, computed_at
		FROM readiness_evaluations
		WHERE tenant_id = $1 AND domain = $2
		ORDER BY computed_at DESC
		LIMIT 1
	`, tenantID, domain).Scan(&e.TenantID, &e.Domain, &score, &e.GapCount,
		&e.ObligationsTotal, &e.ObligationsCovered, &e.ComputedAt)
	if err != nil {
		if IsNotFound(err) {
			return nil, nil
		}
		return nil, errors.NewInternalError("failed to read readiness evaluation").WithCause(err)
	}

	if e.ReadinessScore, err = values.NewScoreFromString(score); err != nil {
		return nil, errors.NewInternalError("invalid stored readiness score").WithCause(err)
	}
	e.ComputedAt = e.ComputedAt.UTC()
	return &e, nil
}
