// Package custody appends to and verifies the per-artifact custody ledger.
package custody

import (
	"context"
	stderrors "errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/davidleathers/evidence-vault/internal/domain/clock"
	"github.com/davidleathers/evidence-vault/internal/domain/custody"
	"github.com/davidleathers/evidence-vault/internal/domain/errors"
	"github.com/davidleathers/evidence-vault/internal/metrics"
)

// DefaultMaxAppendAttempts bounds retries when concurrent appends race for the same head
const DefaultMaxAppendAttempts = 5

// Service records custody events
type Service struct {
	repo        custody.Repository
	clock       clock.Clock
	logger      *zap.Logger
	metrics     *metrics.Registry
	maxAttempts int
}

func NewService(repo custody.Repository, clk clock.Clock, logger *zap.Logger, m *metrics.Registry) *Service {
	return &Service{
		repo:        repo,
		clock:       clock.OrReal(clk),
		logger:      logger.With(zap.String("service", "custody")),
		metrics:     m,
		maxAttempts: DefaultMaxAppendAttempts,
	}
}

// Record appends one event to an artifact's chain, re-reading the head when
// another writer got there first.
func (s *Service) Record(ctx context.Context, tenantID, artifactID uuid.UUID, kind custody.EventKind, actor custody.Actor, metadata map[string]any) (*custody.Event, error) {
	for attempt := 0; attempt < s.maxAttempts; attempt++ {
		event, err := custody.NewEvent(tenantID, artifactID, kind, actor, metadata, s.clock.Now())
		if err != nil {
			return nil, err
		}

		head, err := s.repo.Head(ctx, tenantID, artifactID)
		if err != nil {
			return nil, err
		}
		if err := event.Seal(head); err != nil {
			return nil, errors.NewInternalError("failed to seal custody event").WithCause(err)
		}

		err = s.repo.Append(ctx, event)
		if err == nil {
			s.metrics.RecordCustodyAppend(ctx, kind.String(), attempt)
			return event, nil
		}
		if !stderrors.Is(err, custody.ErrChainForked) {
			return nil, err
		}

		s.logger.Debug("custody head moved, retrying",
			zap.String("artifact_id", artifactID.String()),
			zap.String("kind", kind.String()),
			zap.Int("attempt", attempt+1))
	}

	s.logger.Warn("custody append gave up",
		zap.String("artifact_id", artifactID.String()),
		zap.String("kind", kind.String()))
	return nil, errors.NewConflictError("CUSTODY_CONTENTION",
		fmt.Sprintf("could not append to the custody chain of artifact %s", artifactID))
}

// RecordMany appends the same event to several artifacts, stopping at the first failure
func (s *Service) RecordMany(ctx context.Context, tenantID uuid.UUID, artifactIDs []uuid.UUID, kind custody.EventKind, actor custody.Actor, metadata map[string]any) error {
	for _, id := range artifactIDs {
		if _, err := s.Record(ctx, tenantID, id, kind, actor, metadata); err != nil {
			return fmt.Errorf("recording %s for artifact %s: %w", kind, id, err)
		}
	}
	return nil
}

// History returns an artifact's events oldest first
func (s *Service) History(ctx context.Context, tenantID, artifactID uuid.UUID) ([]*custody.Event, error) {
	return s.repo.List(ctx, tenantID, artifactID)
}

// VerifyHistory re-derives every event hash of an artifact's chain
func (s *Service) VerifyHistory(ctx context.Context, tenantID, artifactID uuid.UUID) (*custody.ChainReport, error) {
	events, err := s.repo.List(ctx, tenantID, artifactID)
	if err != nil {
		return nil, err
	}
	report := custody.VerifyChain(events)
	s.metrics.RecordIntegrityVerify(ctx, "custody", report.Valid)
	if !report.Valid {
		s.logger.Warn("custody chain broken",
			zap.String("artifact_id", artifactID.String()),
			zap.Int("breaks", len(report.Breaks)))
	}
	return &report, nil
}
