package database

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/davidleathers/evidence-vault/internal/domain/errors"
	"github.com/davidleathers/evidence-vault/internal/domain/pack"
	"github.com/davidleathers/evidence-vault/internal/domain/signing"
)

// PackRepository implements pack.Repository on PostgreSQL
type PackRepository struct {
	db *pgxpool.Pool
}

var _ pack.Repository = (*PackRepository)(nil)

func NewPackRepository(db *pgxpool.Pool) *PackRepository {
	return &PackRepository{db: db}
}

const packColumns = `
	id, tenant_id, name, scope_domain, period_start, period_end, obligation_ids::text[],
	status, revision, manifest_hash, signature, signing_key_id, signing_algorithm,
	manifest_key, proof_key, summary_key, bundle_key, bundle_hash,
	generation_started_at, finalized_at, finalized_by, failure_reason, failed_at,
	revoked_at, revoked_by, revocation_reason, created_by, created_at, updated_at`

func (r *PackRepository) Create(ctx context.Context, p *pack.Pack) error {
	_, err := conn(ctx, r.db).Exec(ctx, `
		INSERT INTO packs (
			id, tenant_id, name, scope_domain, period_start, period_end, obligation_ids,
			status, revision, created_by, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7::uuid[], $8, $9, $10, $11, $12)
	`, p.ID, p.TenantID, p.Name, p.Scope.Domain, p.Scope.PeriodStart, p.Scope.PeriodEnd,
		uuidArray(p.ObligationIDs), string(p.Status), p.Revision, p.CreatedBy, p.CreatedAt, p.UpdatedAt)
	if err != nil {
		if IsDuplicateKeyViolation(err) {
			return errors.NewConflictError("PACK_EXISTS", "pack already exists").WithCause(err)
		}
		return errors.NewInternalError("failed to create pack").WithCause(err)
	}
	return nil
}

func (r *PackRepository) Get(ctx context.Context, tenantID, id uuid.UUID) (*pack.Pack, error) {
	row := conn(ctx, r.db).QueryRow(ctx, `
		SELECT `+packColumns+`
		FROM packs
		WHERE tenant_id = $1 AND id = $2
	`, tenantID, id)

	p, err := scanPack(row)
	if err != nil {
		if IsNotFound(err) {
			return nil, errors.NewNotFoundError("pack")
		}
		return nil, errors.NewInternalError("failed to get pack").WithCause(err)
	}
	return p, nil
}

func (r *PackRepository) List(ctx context.Context, tenantID uuid.UUID, filter pack.ListFilter) ([]*pack.Pack, error) {
	query := `SELECT ` + packColumns + ` FROM packs WHERE tenant_id = $1`
	args := []any{tenantID}
	if filter.Status != nil {
		args = append(args, string(*filter.Status))
		query += fmt.Sprintf(" AND status = $%d", len(args))
	}
	query += " ORDER BY created_at DESC, id"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d OFFSET %d", filter.Limit, filter.Offset)
	}

	rows, err := conn(ctx, r.db).Query(ctx, query, args...)
	if err != nil {
		return nil, errors.NewInternalError("failed to list packs").WithCause(err)
	}
	defer rows.Close()

	var packs []*pack.Pack
	for rows.Next() {
		p, err := scanPack(rows)
		if err != nil {
			return nil, errors.NewInternalError("failed to scan pack").WithCause(err)
		}
		packs = append(packs, p)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewInternalError("failed to iterate packs").WithCause(err)
	}
	return packs, nil
}

// Update is a compare-and-set on (status, revision). The caller's pack gets
// the new revision on success.
func (r *PackRepository) Update(ctx context.Context, p *pack.Pack, expectedStatus pack.Status, expectedRevision int64) error {
	var revision int64
	err := conn(ctx, r.db).QueryRow(ctx, `
		UPDATE packs SET
			status = $3, revision = revision + 1,
			manifest_hash = $4, signature = $5, signing_key_id = $6, signing_algorithm = $7,
			manifest_key = $8, proof_key = $9, summary_key = $10, bundle_key = $11, bundle_hash = $12,
			generation_started_at = $13, finalized_at = $14, finalized_by = $15,
			failure_reason = $16, failed_at = $17,
			revoked_at = $18, revoked_by = $19, revocation_reason = $20,
			updated_at = $21
		WHERE tenant_id = $1 AND id = $2 AND status = $22 AND revision = $23
		RETURNING revision
	`, p.TenantID, p.ID, string(p.Status),
		p.ManifestHash, p.Signature, p.SigningKeyID, string(p.SigningAlgorithm),
		p.ManifestKey, p.ProofKey, p.SummaryKey, p.BundleKey, p.BundleHash,
		p.GenerationStartedAt, p.FinalizedAt, p.FinalizedBy,
		p.FailureReason, p.FailedAt,
		p.RevokedAt, p.RevokedBy, p.RevocationReason,
		p.UpdatedAt, string(expectedStatus), expectedRevision).Scan(&revision)
	if err != nil {
		if IsNotFound(err) {
			return errors.NewConflictError("PACK_STATE_CHANGED",
				fmt.Sprintf("pack %s is no longer %s", p.ID, expectedStatus)).WithCause(ErrOptimisticLock)
		}
		return errors.NewInternalError("failed to update pack").WithCause(err)
	}
	p.Revision = revision
	return nil
}

func (r *PackRepository) AddArtifacts(ctx context.Context, links []pack.ArtifactLink) error {
	if len(links) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, l := range links {
		batch.Queue(`
			INSERT INTO pack_artifacts (pack_id, artifact_id, tenant_id, added_by, added_at)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (pack_id, artifact_id) DO NOTHING
		`, l.PackID, l.ArtifactID, l.TenantID, l.AddedBy, l.AddedAt)
	}

	results := conn(ctx, r.db).SendBatch(ctx, batch)
	defer results.Close()
	for range links {
		if _, err := results.Exec(); err != nil {
			if IsForeignKeyViolation(err) {
				return errors.NewNotFoundError("artifact").WithCause(err)
			}
			return errors.NewInternalError("failed to add pack artifact").WithCause(err)
		}
	}
	return nil
}

func (r *PackRepository) ListArtifactIDs(ctx context.Context, tenantID, packID uuid.UUID) ([]uuid.UUID, error) {
	rows, err := conn(ctx, r.db).Query(ctx, `
		SELECT artifact_id FROM pack_artifacts
		WHERE tenant_id = $1 AND pack_id = $2
		ORDER BY artifact_id
	`, tenantID, packID)
	if err != nil {
		return nil, errors.NewInternalError("failed to list pack artifacts").WithCause(err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, errors.NewInternalError("failed to scan pack artifact").WithCause(err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewInternalError("failed to iterate pack artifacts").WithCause(err)
	}
	return ids, nil
}

func (r *PackRepository) HasArtifact(ctx context.Context, tenantID, packID, artifactID uuid.UUID) (bool, error) {
	var exists bool
	err := conn(ctx, r.db).QueryRow(ctx, `
		SELECT EXISTS(
			SELECT 1 FROM pack_artifacts
			WHERE tenant_id = $1 AND pack_id = $2 AND artifact_id = $3
		)
	`, tenantID, packID, artifactID).Scan(&exists)
	if err != nil {
		return false, errors.NewInternalError("failed to check pack membership").WithCause(err)
	}
	return exists, nil
}

func scanPack(row pgx.Row) (*pack.Pack, error) {
	var (
		p             pack.Pack
		obligationIDs []string
		status        string
		algorithm     string
	)
	err := row.Scan(
		&p.ID, &p.TenantID, &p.Name, &p.Scope.Domain, &p.Scope.PeriodStart, &p.Scope.PeriodEnd, &obligationIDs,
		&status, &p.Revision, &p.ManifestHash, &p.Signature, &p.SigningKeyID, &algorithm,
		&p.ManifestKey, &p.ProofKey, &p.SummaryKey, &p.BundleKey, &p.BundleHash,
		&p.GenerationStartedAt, &p.FinalizedAt, &p.FinalizedBy, &p.FailureReason, &p.FailedAt,
		&p.RevokedAt, &p.RevokedBy, &p.RevocationReason, &p.CreatedBy, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	p.Status = pack.Status(status)
	p.SigningAlgorithm = signing.Algorithm(algorithm)
	p.Scope.PeriodStart = p.Scope.PeriodStart.UTC()
	p.Scope.PeriodEnd = p.Scope.PeriodEnd.UTC()
	if p.ObligationIDs, err = parseUUIDs(obligationIDs); err != nil {
		return nil, err
	}
	return &p, nil
}
