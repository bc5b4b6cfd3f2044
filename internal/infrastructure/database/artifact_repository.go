package database

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/davidleathers/evidence-vault/internal/domain/errors"
	"github.com/davidleathers/evidence-vault/internal/domain/evidence"
)

// ArtifactRepository implements evidence.Repository on PostgreSQL
type ArtifactRepository struct {
	db *pgxpool.Pool
}

var _ evidence.Repository = (*ArtifactRepository)(nil)

func NewArtifactRepository(db *pgxpool.Pool) *ArtifactRepository {
	return &ArtifactRepository{db: db}
}

const artifactColumns = `
	id, tenant_id, name, description, classification, media_type, version,
	content_hash, size_bytes, storage_key, status, uploaded_at, deleted_at,
	is_approved, approved_at, approved_by, created_by, created_at, updated_at, revision`

func (r *ArtifactRepository) Create(ctx context.Context, a *evidence.Artifact) error {
	approval := a.Approval()
	var approvedAt *time.Time
	var approvedBy *uuid.UUID
	if approval != nil {
		approvedAt, approvedBy = &approval.ApprovedAt, &approval.ApprovedBy
	}

	_, err := conn(ctx, r.db).Exec(ctx, `
		INSERT INTO artifacts (`+artifactColumns+`, is_immutable)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $14)
	`, a.ID, a.TenantID, a.Name, a.Description, a.Classification, a.MediaType, a.Version,
		a.ContentHash, a.SizeBytes, a.StorageKey, string(a.Status), a.UploadedAt, a.DeletedAt,
		a.IsApproved(), approvedAt, approvedBy, a.CreatedBy, a.CreatedAt, a.UpdatedAt, a.Revision)
	if err != nil {
		if IsDuplicateKeyViolation(err) {
			return errors.NewConflictError("ARTIFACT_EXISTS", "artifact already exists").WithCause(err)
		}
		return errors.NewInternalError("failed to create artifact").WithCause(err)
	}
	return nil
}

func (r *ArtifactRepository) Get(ctx context.Context, tenantID, id uuid.UUID) (*evidence.Artifact, error) {
	row := conn(ctx, r.db).QueryRow(ctx, `
		SELECT `+artifactColumns+`
		FROM artifacts
		WHERE tenant_id = $1 AND id = $2
	`, tenantID, id)

	a, err := scanArtifact(row)
	if err != nil {
		if IsNotFound(err) {
			return nil, errors.NewNotFoundError("artifact")
		}
		return nil, errors.NewInternalError("failed to get artifact").WithCause(err)
	}
	return a, nil
}

func (r *ArtifactRepository) List(ctx context.Context, tenantID uuid.UUID, filter evidence.ListFilter) ([]*evidence.Artifact, error) {
	where := []string{"a.tenant_id = $1"}
	args := []any{tenantID}

	if filter.IDs != nil {
		args = append(args, uuidArray(filter.IDs))
		where = append(where, fmt.Sprintf("a.id = ANY($%d::uuid[])", len(args)))
	}
	if filter.ObligationIDs != nil {
		args = append(args, uuidArray(filter.ObligationIDs))
		n := len(args)
		// linked to the obligation directly, through one of its controls, or
		// through a requirement of either
		where = append(where, fmt.Sprintf(`EXISTS (
			SELECT 1 FROM artifact_links l
			WHERE l.artifact_id = a.id AND (
				(l.target_type = 'obligation' AND l.target_id = ANY($%[1]d::uuid[]))
				OR (l.target_type = 'control' AND l.target_id IN (
					SELECT co.control_id FROM control_obligations co WHERE co.obligation_id = ANY($%[1]d::uuid[])))
				OR (l.target_type = 'requirement' AND l.target_id IN (
					SELECT er.id FROM evidence_requirements er
					WHERE er.obligation_id = ANY($%[1]d::uuid[])
					   OR er.control_id IN (
						SELECT co.control_id FROM control_obligations co WHERE co.obligation_id = ANY($%[1]d::uuid[]))))
			))`, n))
	}
	if filter.ReadyOnly {
		where = append(where, "a.status = 'READY'")
	}
	if !filter.IncludeDeleted {
		where = append(where, "a.deleted_at IS NULL")
	}

	query := `SELECT ` + prefixColumns("a", artifactColumns) + ` FROM artifacts a WHERE ` +
		strings.Join(where, " AND ") + ` ORDER BY a.id`
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d OFFSET %d", filter.Limit, filter.Offset)
	}

	rows, err := conn(ctx, r.db).Query(ctx, query, args...)
	if err != nil {
		return nil, errors.NewInternalError("failed to list artifacts").WithCause(err)
	}
	defer rows.Close()

	var artifacts []*evidence.Artifact
	for rows.Next() {
		a, err := scanArtifact(rows)
		if err != nil {
			return nil, errors.NewInternalError("failed to scan artifact").WithCause(err)
		}
		artifacts = append(artifacts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewInternalError("failed to iterate artifacts").WithCause(err)
	}
	return artifacts, nil
}

// UpdateMutable only touches rows that are still mutable and at
// expectedRevision, so a concurrent approval or edit always wins. The
// caller's artifact gets the new revision on success.
func (r *ArtifactRepository) UpdateMutable(ctx context.Context, a *evidence.Artifact, expectedRevision int64) error {
	approval := a.Approval()
	var approvedAt *time.Time
	var approvedBy *uuid.UUID
	if approval != nil {
		approvedAt, approvedBy = &approval.ApprovedAt, &approval.ApprovedBy
	}

	tag, err := conn(ctx, r.db).Exec(ctx, `
		UPDATE artifacts SET
			name = $3, description = $4, classification = $5, media_type = $6,
			version = $7, content_hash = $8, size_bytes = $9, storage_key = $10,
			status = $11, uploaded_at = $12, deleted_at = $13,
			is_approved = $14, is_immutable = $14, approved_at = $15, approved_by = $16,
			updated_at = $17, revision = revision + 1
		WHERE tenant_id = $1 AND id = $2 AND is_immutable = FALSE AND revision = $18
	`, a.TenantID, a.ID, a.Name, a.Description, a.Classification, a.MediaType,
		a.Version, a.ContentHash, a.SizeBytes, a.StorageKey,
		string(a.Status), a.UploadedAt, a.DeletedAt,
		a.IsApproved(), approvedAt, approvedBy, a.UpdatedAt, expectedRevision)
	if err != nil {
		return errors.NewInternalError("failed to update artifact").WithCause(err)
	}
	if tag.RowsAffected() == 0 {
		return errors.NewConflictError("ARTIFACT_IMMUTABLE",
			fmt.Sprintf("artifact %s is immutable or was modified concurrently", a.ID)).WithCause(ErrOptimisticLock)
	}
	a.Revision = expectedRevision + 1
	return nil
}

func (r *ArtifactRepository) AddLink(ctx context.Context, link evidence.Link) (bool, error) {
	tag, err := conn(ctx, r.db).Exec(ctx, `
		INSERT INTO artifact_links (tenant_id, artifact_id, target_type, target_id, created_by, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (artifact_id, target_type, target_id) DO NOTHING
	`, link.TenantID, link.ArtifactID, string(link.Target), link.TargetID, link.CreatedBy, link.CreatedAt)
	if err != nil {
		return false, errors.NewInternalError("failed to add artifact link").WithCause(err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *ArtifactRepository) RemoveLink(ctx context.Context, link evidence.Link) (bool, error) {
	tag, err := conn(ctx, r.db).Exec(ctx, `
		DELETE FROM artifact_links
		WHERE tenant_id = $1 AND artifact_id = $2 AND target_type = $3 AND target_id = $4
	`, link.TenantID, link.ArtifactID, string(link.Target), link.TargetID)
	if err != nil {
		return false, errors.NewInternalError("failed to remove artifact link").WithCause(err)
	}
	return tag.RowsAffected() > 0, nil
}

func (r *ArtifactRepository) ListLinks(ctx context.Context, tenantID uuid.UUID, artifactIDs []uuid.UUID) ([]evidence.Link, error) {
	rows, err := conn(ctx, r.db).Query(ctx, `
		SELECT tenant_id, artifact_id, target_type, target_id, created_by, created_at
		FROM artifact_links
		WHERE tenant_id = $1 AND artifact_id = ANY($2::uuid[])
		ORDER BY artifact_id, target_type, target_id
	`, tenantID, uuidArray(artifactIDs))
	if err != nil {
		return nil, errors.NewInternalError("failed to list artifact links").WithCause(err)
	}
	defer rows.Close()

	var links []evidence.Link
	for rows.Next() {
		var l evidence.Link
		var target string
		if err := rows.Scan(&l.TenantID, &l.ArtifactID, &target, &l.TargetID, &l.CreatedBy, &l.CreatedAt); err != nil {
			return nil, errors.NewInternalError("failed to scan artifact link").WithCause(err)
		}
		l.Target = evidence.LinkTarget(target)
		links = append(links, l)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewInternalError("failed to iterate artifact links").WithCause(err)
	}
	return links, nil
}

func scanArtifact(row pgx.Row) (*evidence.Artifact, error) {
	var (
		a          evidence.Artifact
		status     string
		approved   bool
		approvedAt *time.Time
		approvedBy *uuid.UUID
	)
	err := row.Scan(
		&a.ID, &a.TenantID, &a.Name, &a.Description, &a.Classification, &a.MediaType, &a.Version,
		&a.ContentHash, &a.SizeBytes, &a.StorageKey, &status, &a.UploadedAt, &a.DeletedAt,
		&approved, &approvedAt, &approvedBy, &a.CreatedBy, &a.CreatedAt, &a.UpdatedAt, &a.Revision,
	)
	if err != nil {
		return nil, err
	}
	a.Status = evidence.Status(status)
	if approved && approvedAt != nil {
		approval := &evidence.Approval{ApprovedAt: *approvedAt}
		if approvedBy != nil {
			approval.ApprovedBy = *approvedBy
		}
		a.RestoreApproval(approval)
	}
	return &a, nil
}

func prefixColumns(alias, columns string) string {
	parts := strings.Split(columns, ",")
	for i, p := range parts {
		parts[i] = alias + "." + strings.TrimSpace(p)
	}
	return strings.Join(parts, ", ")
}
