package cache

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const revokedPacksKey = keyPrefix + "packs:revoked"

// RevokedPacks is a Redis set of revoked pack ids. It lets the inspector
// surface reject a revoked pack before the database is consulted.
type RevokedPacks struct {
	client *redis.Client
	logger *zap.Logger
}

func NewRevokedPacks(client *redis.Client, logger *zap.Logger) *RevokedPacks {
	return &RevokedPacks{
		client: client,
		logger: logger.With(zap.String("component", "revoked_packs")),
	}
}

func (r *RevokedPacks) MarkRevoked(ctx context.Context, packID uuid.UUID) error {
	if err := r.client.SAdd(ctx, revokedPacksKey, packID.String()).Err(); err != nil {
		r.logger.Error("redis sadd failed", zap.String("pack_id", packID.String()), zap.Error(err))
		return fmt.Errorf("redis sadd failed: %w", err)
	}
	return nil
}

func (r *RevokedPacks) IsRevoked(ctx context.Context, packID uuid.UUID) (bool, error) {
	ok, err := r.client.SIsMember(ctx, revokedPacksKey, packID.String()).Result()
	if err != nil {
		return false, fmt.Errorf("redis sismember failed: %w", err)
	}
	return ok, nil
}
