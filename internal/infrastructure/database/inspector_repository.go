package database

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/davidleathers/evidence-vault/internal/domain/errors"
	"github.com/davidleathers/evidence-vault/internal/domain/inspector"
	"github.com/davidleathers/evidence-vault/internal/domain/values"
)

// InspectorRepository implements inspector.Repository on PostgreSQL
type InspectorRepository struct {
	db *pgxpool.Pool
}

var _ inspector.Repository = (*InspectorRepository)(nil)

func NewInspectorRepository(db *pgxpool.Pool) *InspectorRepository {
	return &InspectorRepository{db: db}
}

const accessColumns = `
	id, tenant_id, pack_id, token_hash, inspector_name, inspector_email, inspector_organization,
	permissions, expires_at, is_active, created_by, created_at,
	revoked_at, revoked_by, revocation_reason, last_used_at`

func (r *InspectorRepository) Create(ctx context.Context, a *inspector.Access) error {
	perms, err := json.Marshal(a.Permissions)
	if err != nil {
		return errors.NewInternalError("failed to marshal permissions").WithCause(err)
	}

	_, err = conn(ctx, r.db).Exec(ctx, `
		INSERT INTO inspector_access (`+accessColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
	`, a.ID, a.TenantID, a.PackID, a.TokenHash.String(),
		a.Inspector.Name, a.Inspector.Email, a.Inspector.Organization,
		perms, a.ExpiresAt, a.IsActive, a.CreatedBy, a.CreatedAt,
		a.RevokedAt, a.RevokedBy, a.RevocationReason, a.LastUsedAt)
	if err != nil {
		if IsDuplicateKeyViolation(err) {
			return errors.NewConflictError("ACCESS_EXISTS", "access grant already exists").WithCause(err)
		}
		return errors.NewInternalError("failed to create inspector access").WithCause(err)
	}
	return nil
}

func (r *InspectorRepository) GetByTokenHash(ctx context.Context, tokenHash values.HashValue) (*inspector.Access, error) {
	row := conn(ctx, r.db).QueryRow(ctx, `
		SELECT `+accessColumns+`
		FROM inspector_access
		WHERE token_hash = $1
	`, tokenHash.String())
	return r.get(row)
}

func (r *InspectorRepository) Get(ctx context.Context, tenantID, id uuid.UUID) (*inspector.Access, error) {
	row := conn(ctx, r.db).QueryRow(ctx, `
		SELECT `+accessColumns+`
		FROM inspector_access
		WHERE tenant_id = $1 AND id = $2
	`, tenantID, id)
	return r.get(row)
}

func (r *InspectorRepository) get(row pgx.Row) (*inspector.Access, error) {
	a, err := scanAccess(row)
	if err != nil {
		if IsNotFound(err) {
			return nil, errors.NewNotFoundError("inspector access")
		}
		return nil, errors.NewInternalError("failed to get inspector access").WithCause(err)
	}
	return a, nil
}

func (r *InspectorRepository) ListByPack(ctx context.Context, tenantID, packID uuid.UUID) ([]*inspector.Access, error) {
	rows, err := conn(ctx, r.db).Query(ctx, `
		SELECT `+accessColumns+`
		FROM inspector_access
		WHERE tenant_id = $1 AND pack_id = $2
		ORDER BY created_at DESC
	`, tenantID, packID)
	if err != nil {
		return nil, errors.NewInternalError("failed to list inspector access").WithCause(err)
	}
	defer rows.Close()

	var grants []*inspector.Access
	for rows.Next() {
		a, err := scanAccess(rows)
		if err != nil {
			return nil, errors.NewInternalError("failed to scan inspector access").WithCause(err)
		}
		grants = append(grants, a)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewInternalError("failed to iterate inspector access").WithCause(err)
	}
	return grants, nil
}

func (r *InspectorRepository) Revoke(ctx context.Context, a *inspector.Access) (bool, error) {
	tag, err := conn(ctx, r.db).Exec(ctx, `
		UPDATE inspector_access SET
			is_active = FALSE, revoked_at = $3, revoked_by = $4, revocation_reason = $5
		WHERE tenant_id = $1 AND id = $2 AND revoked_at IS NULL
	`, a.TenantID, a.ID, a.RevokedAt, a.RevokedBy, a.RevocationReason)
	if err != nil {
		return false, errors.NewInternalError("failed to revoke inspector access").WithCause(err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *InspectorRepository) Extend(ctx context.Context, a *inspector.Access, previousExpiry time.Time) error {
	tag, err := conn(ctx, r.db).Exec(ctx, `
		UPDATE inspector_access SET expires_at = $3
		WHERE tenant_id = $1 AND id = $2 AND expires_at = $4
			AND is_active AND revoked_at IS NULL
	`, a.TenantID, a.ID, a.ExpiresAt, previousExpiry)
	if err != nil {
		return errors.NewInternalError("failed to extend inspector access").WithCause(err)
	}
	if tag.RowsAffected() == 0 {
		return errors.NewConflictError("ACCESS_CHANGED", "access was revoked or changed concurrently")
	}
	return nil
}

func (r *InspectorRepository) TouchLastUsed(ctx context.Context, id uuid.UUID, at time.Time) error {
	_, err := conn(ctx, r.db).Exec(ctx, `
		UPDATE inspector_access SET last_used_at = $2 WHERE id = $1
	`, id, at)
	if err != nil {
		return errors.NewInternalError("failed to record access use").WithCause(err)
	}
	return nil
}

func (r *InspectorRepository) DeactivateByPack(ctx context.Context, tenantID, packID uuid.UUID, reason string, actor uuid.UUID) (int64, error) {
	tag, err := conn(ctx, r.db).Exec(ctx, `
		UPDATE inspector_access SET
			is_active = FALSE, revoked_at = NOW(), revoked_by = $3, revocation_reason = $4
		WHERE tenant_id = $1 AND pack_id = $2 AND revoked_at IS NULL
	`, tenantID, packID, actor, reason)
	if err != nil {
		return 0, errors.NewInternalError("failed to deactivate pack access").WithCause(err)
	}
	return tag.RowsAffected(), nil
}

func (r *InspectorRepository) AppendActivity(ctx context.Context, e *inspector.ActivityEntry) error {
	_, err := conn(ctx, r.db).Exec(ctx, `
		INSERT INTO inspector_activity (
			id, tenant_id, access_id, pack_id, action, success, reason,
			token_fingerprint, artifact_id, ip_address, user_agent, occurred_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`, e.ID, e.TenantID, e.AccessID, e.PackID, string(e.Action), e.Success, string(e.Reason),
		e.TokenFingerprint, e.ArtifactID, e.IPAddress, e.UserAgent, e.OccurredAt)
	if err != nil {
		return errors.NewInternalError("failed to append inspector activity").WithCause(err)
	}
	return nil
}

func (r *InspectorRepository) ListActivity(ctx context.Context, tenantID, accessID uuid.UUID, limit int) ([]*inspector.ActivityEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := conn(ctx, r.db).Query(ctx, `
		SELECT id, tenant_id, access_id, pack_id, action, success, reason,
		       token_fingerprint, artifact_id, ip_address, user_agent, occurred_at
		FROM inspector_activity
		WHERE tenant_id = $1 AND access_id = $2
		ORDER BY occurred_at DESC
		LIMIT $3
	`, tenantID, accessID, limit)
	if err != nil {
		return nil, errors.NewInternalError("failed to list inspector activity").WithCause(err)
	}
	defer rows.Close()

	var entries []*inspector.ActivityEntry
	for rows.Next() {
		var e inspector.ActivityEntry
		var action, reason string
		if err := rows.Scan(&e.ID, &e.TenantID, &e.AccessID, &e.PackID, &action, &e.Success, &reason,
			&e.TokenFingerprint, &e.ArtifactID, &e.IPAddress, &e.UserAgent, &e.OccurredAt); err != nil {
			return nil, errors.NewInternalError("failed to scan inspector activity").WithCause(err)
		}
		e.Action = inspector.Action(action)
		e.Reason = inspector.ReasonCode(reason)
		entries = append(entries, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewInternalError("failed to iterate inspector activity").WithCause(err)
	}
	return entries, nil
}

func scanAccess(row pgx.Row) (*inspector.Access, error) {
	var (
		a         inspector.Access
		tokenHash string
		perms     []byte
	)
	err := row.Scan(
		&a.ID, &a.TenantID, &a.PackID, &tokenHash, &a.Inspector.Name, &a.Inspector.Email, &a.Inspector.Organization,
		&perms, &a.ExpiresAt, &a.IsActive, &a.CreatedBy, &a.CreatedAt,
		&a.RevokedAt, &a.RevokedBy, &a.RevocationReason, &a.LastUsedAt,
	)
	if err != nil {
		return nil, err
	}
	if a.TokenHash, err = values.NewHashValue(tokenHash); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(perms, &a.Permissions); err != nil {
		return nil, err
	}
	return &a, nil
}
