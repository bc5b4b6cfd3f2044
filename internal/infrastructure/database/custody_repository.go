package database

import (
	"bytes"
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/davidleathers/evidence-vault/internal/domain/custody"
	"github.com/davidleathers/evidence-vault/internal/domain/errors"
	"github.com/davidleathers/evidence-vault/internal/domain/values"
)

const custodySuccessorConstraint = "custody_events_single_successor"

// CustodyRepository implements custody.Repository. Rows are only ever inserted.
type CustodyRepository struct {
	db *pgxpool.Pool
}

var _ custody.Repository = (*CustodyRepository)(nil)

func NewCustodyRepository(db *pgxpool.Pool) *CustodyRepository {
	return &CustodyRepository{db: db}
}

func (r *CustodyRepository) Head(ctx context.Context, tenantID, artifactID uuid.UUID) (values.HashValue, error) {
	var head values.HashValue
	err := conn(ctx, r.db).QueryRow(ctx, `
		SELECT event_hash FROM custody_events
		WHERE tenant_id = $1 AND artifact_id = $2
		ORDER BY sequence DESC
		LIMIT 1
	`, tenantID, artifactID).Scan(&head)
	if err != nil {
		if IsNotFound(err) {
			return values.HashValue{}, nil
		}
		return values.HashValue{}, errors.NewInternalError("failed to read custody head").WithCause(err)
	}
	return head, nil
}

func (r *CustodyRepository) Append(ctx context.Context, e *custody.Event) error {
	metadata, err := json.Marshal(e.Metadata)
	if err != nil {
		return errors.NewInternalError("failed to marshal custody metadata").WithCause(err)
	}

	var seq int64
	err = conn(ctx, r.db).QueryRow(ctx, `
		INSERT INTO custody_events (
			id, tenant_id, artifact_id, kind, actor_type, actor_id,
			occurred_at, metadata, previous_hash, event_hash
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING sequence
	`, e.ID, e.TenantID, e.ArtifactID, string(e.Kind), string(e.Actor.Type), e.Actor.ID,
		e.OccurredAt, metadata, e.PreviousHash.String(), e.EventHash.String()).Scan(&seq)
	if err != nil {
		if IsDuplicateKeyViolation(err) && constraintName(err) == custodySuccessorConstraint {
			return custody.ErrChainForked
		}
		return errors.NewInternalError("failed to append custody event").WithCause(err)
	}

	sequence, err := values.NewSequenceNumber(seq)
	if err != nil {
		return errors.NewInternalError("invalid custody sequence").WithCause(err)
	}
	e.Sequence = sequence
	return nil
}

func (r *CustodyRepository) List(ctx context.Context, tenantID, artifactID uuid.UUID) ([]*custody.Event, error) {
	rows, err := conn(ctx, r.db).Query(ctx, `
		SELECT sequence, id, tenant_id, artifact_id, kind, actor_type, actor_id,
		       occurred_at, metadata, previous_hash, event_hash
		FROM custody_events
		WHERE tenant_id = $1 AND artifact_id = $2
		ORDER BY occurred_at, sequence
	`, tenantID, artifactID)
	if err != nil {
		return nil, errors.NewInternalError("failed to list custody events").WithCause(err)
	}
	defer rows.Close()

	var events []*custody.Event
	for rows.Next() {
		var (
			e                 custody.Event
			seq               int64
			kind, actorType   string
			metadata          []byte
			previous, evtHash string
		)
		if err := rows.Scan(&seq, &e.ID, &e.TenantID, &e.ArtifactID, &kind, &actorType, &e.Actor.ID,
			&e.OccurredAt, &metadata, &previous, &evtHash); err != nil {
			return nil, errors.NewInternalError("failed to scan custody event").WithCause(err)
		}

		e.Kind = custody.EventKind(kind)
		e.Actor.Type = custody.ActorType(actorType)
		e.OccurredAt = e.OccurredAt.UTC()
		if e.Sequence, err = values.NewSequenceNumber(seq); err != nil {
			return nil, errors.NewInternalError("invalid custody sequence").WithCause(err)
		}
		if e.Metadata, err = decodeMetadata(metadata); err != nil {
			return nil, errors.NewInternalError("failed to decode custody metadata").WithCause(err)
		}
		if previous != "" {
			if e.PreviousHash, err = values.NewHashValue(previous); err != nil {
				return nil, errors.NewInternalError("invalid previous hash").WithCause(err)
			}
		}
		if e.EventHash, err = values.NewHashValue(evtHash); err != nil {
			return nil, errors.NewInternalError("invalid event hash").WithCause(err)
		}
		events = append(events, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewInternalError("failed to iterate custody events").WithCause(err)
	}
	return events, nil
}

// decodeMetadata keeps numbers as json.Number so recomputed hashes match
func decodeMetadata(raw []byte) (map[string]any, error) {
	metadata := map[string]any{}
	if len(raw) == 0 {
		return metadata, nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&metadata); err != nil {
		return nil, err
	}
	return metadata, nil
}
