package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// ErrProgressNotFound is returned when no progress is recorded or it expired
var ErrProgressNotFound = errors.New("progress not found")

// Progress is a point-in-time view of a pack generation job
type Progress struct {
	PackID    uuid.UUID `json:"pack_id"`
	Status    string    `json:"status"`
	Step      string    `json:"step"`
	Percent   int       `json:"percent"`
	Message   string    `json:"message,omitempty"`
	Error     string    `json:"error,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ProgressStore keeps generation progress in Redis with TTL eviction and
// publishes every update for live subscribers.
type ProgressStore struct {
	client *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

func NewProgressStore(client *redis.Client, ttl time.Duration, logger *zap.Logger) *ProgressStore {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &ProgressStore{
		client: client,
		ttl:    ttl,
		logger: logger.With(zap.String("component", "progress_store")),
	}
}

func progressKey(tenantID, packID uuid.UUID) string {
	return fmt.Sprintf("%sprogress:%s:%s", keyPrefix, tenantID, packID)
}

func progressChannel(tenantID, packID uuid.UUID) string {
	return progressKey(tenantID, packID) + ":events"
}

// Set stores p and publishes it
func (s *ProgressStore) Set(ctx context.Context, tenantID uuid.UUID, p Progress) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal progress: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, progressKey(tenantID, p.PackID), data, s.ttl)
	pipe.Publish(ctx, progressChannel(tenantID, p.PackID), data)
	if _, err := pipe.Exec(ctx); err != nil {
		s.logger.Error("redis progress write failed",
			zap.String("pack_id", p.PackID.String()),
			zap.Error(err))
		return fmt.Errorf("redis progress write failed: %w", err)
	}
	return nil
}

// Get returns the latest progress of a pack
func (s *ProgressStore) Get(ctx context.Context, tenantID, packID uuid.UUID) (*Progress, error) {
	data, err := s.client.Get(ctx, progressKey(tenantID, packID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrProgressNotFound
		}
		return nil, fmt.Errorf("redis progress read failed: %w", err)
	}

	var p Progress
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("unmarshal progress: %w", err)
	}
	return &p, nil
}

// Subscribe streams updates of one pack until ctx is done. The returned
// channel is closed when the subscription ends.
func (s *ProgressStore) Subscribe(ctx context.Context, tenantID, packID uuid.UUID) (<-chan Progress, error) {
	sub := s.client.Subscribe(ctx, progressChannel(tenantID, packID))
	if _, err := sub.Receive(ctx); err != nil {
		sub.Close()
		return nil, fmt.Errorf("redis subscribe failed: %w", err)
	}

	out := make(chan Progress, 16)
	go func() {
		defer close(out)
		defer sub.Close()

		messages := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-messages:
				if !ok {
					return
				}
				var p Progress
				if err := json.Unmarshal([]byte(msg.Payload), &p); err != nil {
					s.logger.Warn("dropping malformed progress message", zap.Error(err))
					continue
				}
				select {
				case out <- p:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}
