package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/davidleathers/evidence-vault/internal/infrastructure/config"
	"github.com/davidleathers/evidence-vault/internal/metrics"
)

// ConnectionPool owns the pgx pool and reports its size to the metrics registry
type ConnectionPool struct {
	pool    *pgxpool.Pool
	cfg     config.DatabaseConfig
	logger  *zap.Logger
	metrics *metrics.Registry
	stop    chan struct{}
}

// NewConnectionPool creates and pings a pgx pool
func NewConnectionPool(ctx context.Context, cfg config.DatabaseConfig, logger *zap.Logger, m *metrics.Registry) (*ConnectionPool, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database URL: %w", err)
	}

	p := &ConnectionPool{
		cfg:     cfg,
		logger:  logger.With(zap.String("component", "database")),
		metrics: m,
		stop:    make(chan struct{}),
	}
	p.configurePgxPool(poolConfig)

	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	p.pool, err = pgxpool.NewWithConfig(connectCtx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := p.pool.Ping(connectCtx); err != nil {
		p.pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	go p.metricsCollectionRoutine()

	p.logger.Info("database connection pool initialized",
		zap.Int32("max_connections", poolConfig.MaxConns))
	return p, nil
}

func (p *ConnectionPool) configurePgxPool(poolConfig *pgxpool.Config) {
	if p.cfg.MaxOpenConns > 0 {
		poolConfig.MaxConns = int32(p.cfg.MaxOpenConns)
	} else {
		poolConfig.MaxConns = 25
	}
	if p.cfg.MaxIdleConns > 0 {
		poolConfig.MinConns = int32(p.cfg.MaxIdleConns)
	}
	if p.cfg.ConnMaxLifetime > 0 {
		poolConfig.MaxConnLifetime = p.cfg.ConnMaxLifetime
	} else {
		poolConfig.MaxConnLifetime = 30 * time.Minute
	}
	poolConfig.MaxConnIdleTime = 10 * time.Minute
	poolConfig.HealthCheckPeriod = time.Minute
	poolConfig.ConnConfig.ConnectTimeout = 5 * time.Second

	statementTimeout := "30s"
	if p.cfg.QueryTimeout > 0 {
		statementTimeout = fmt.Sprintf("%dms", p.cfg.QueryTimeout.Milliseconds())
	}
	poolConfig.ConnConfig.RuntimeParams = map[string]string{
		"application_name":                    "evidence_vault",
		"timezone":                            "UTC",
		"lock_timeout":                        "10s",
		"statement_timeout":                   statementTimeout,
		"idle_in_transaction_session_timeout": "60s",
	}

	poolConfig.BeforeConnect = func(ctx context.Context, cc *pgx.ConnConfig) error {
		p.logger.Debug("establishing database connection",
			zap.String("host", cc.Host),
			zap.Uint16("port", cc.Port))
		return nil
	}
}

// Pool returns the underlying pgx pool
func (p *ConnectionPool) Pool() *pgxpool.Pool {
	return p.pool
}

// HealthCheck pings the database within timeout
func (p *ConnectionPool) HealthCheck(ctx context.Context, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := p.pool.Ping(ctx); err != nil {
		return fmt.Errorf("database health check failed: %w", err)
	}
	return nil
}

func (p *ConnectionPool) metricsCollectionRoutine() {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			p.metrics.SetDBPoolSize(int64(p.pool.Stat().TotalConns()))
		case <-p.stop:
			return
		}
	}
}

// Close stops background work and closes every connection
func (p *ConnectionPool) Close() {
	close(p.stop)
	p.pool.Close()
	p.logger.Info("database connection pool closed")
}
