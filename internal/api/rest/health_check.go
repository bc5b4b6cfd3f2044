package rest

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/attribute"

	"github.com/davidleathers/evidence-vault/internal/infrastructure/telemetry"
	packsvc "github.com/davidleathers/evidence-vault/internal/service/pack"
)

// HealthChecker checks the health of a dependency
type HealthChecker interface {
	Name() string
	Check(ctx context.Context) HealthCheckResult
}

// HealthCheckResult represents the result of a health check
type HealthCheckResult struct {
	Status       HealthStatus           `json:"status"`
	Message      string                 `json:"message,omitempty"`
	Error        string                 `json:"error,omitempty"`
	ResponseTime time.Duration          `json:"response_time"`
	Metadata     map[string]interface{} `json:"metadata,omitempty"`
	LastChecked  time.Time              `json:"last_checked"`
}

type HealthStatus string

const (
	HealthStatusPass HealthStatus = "pass"
	HealthStatusWarn HealthStatus = "warn"
	HealthStatusFail HealthStatus = "fail"
)

// HealthConfig configures the health service
type HealthConfig struct {
	// CacheDuration is how long results are reused
	CacheDuration time.Duration
	// Timeout bounds each check
	Timeout        time.Duration
	ServiceName    string
	ServiceVersion string
	Environment    string
}

func DefaultHealthConfig() HealthConfig {
	return HealthConfig{
		CacheDuration: 5 * time.Second,
		Timeout:       3 * time.Second,
		ServiceName:   "evidence-vault",
	}
}

// HealthService runs registered health checks
type HealthService struct {
	mu        sync.RWMutex
	checkers  map[string]HealthChecker
	cache     sync.Map
	config    HealthConfig
	startTime time.Time
}

func NewHealthService(config HealthConfig) *HealthService {
	return &HealthService{
		checkers:  make(map[string]HealthChecker),
		config:    config,
		startTime: time.Now(),
	}
}

func (h *HealthService) RegisterChecker(checker HealthChecker) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checkers[checker.Name()] = checker
}

// HealthResponse is the health+json body
type HealthResponse struct {
	Status      HealthStatus                 `json:"status"`
	Version     string                       `json:"version"`
	ServiceName string                       `json:"service_name"`
	Environment string                       `json:"environment,omitempty"`
	Checks      map[string]HealthCheckResult `json:"checks,omitempty"`
	Uptime      float64                      `json:"uptime_seconds"`
}

// LivenessHandler reports that the process is serving
func (h *HealthService) LivenessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.writeHealth(w, http.StatusOK, HealthResponse{
			Status:      HealthStatusPass,
			Version:     h.config.ServiceVersion,
			ServiceName: h.config.ServiceName,
			Environment: h.config.Environment,
			Uptime:      time.Since(h.startTime).Seconds(),
		})
	}
}

// ReadinessHandler fails when any dependency check fails
func (h *HealthService) ReadinessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := telemetry.Tracer().Start(r.Context(), "health.readiness")
		defer span.End()

		checks := h.runChecks(ctx)
		status := HealthStatusPass
		statusCode := http.StatusOK
		for _, result := range checks {
			if result.Status == HealthStatusFail {
				status = HealthStatusFail
				statusCode = http.StatusServiceUnavailable
				break
			}
			if result.Status == HealthStatusWarn {
				status = HealthStatusWarn
			}
		}

		span.SetAttributes(
			attribute.String("health.status", string(status)),
			attribute.Int("health.checks_count", len(checks)),
		)
		h.writeHealth(w, statusCode, HealthResponse{
			Status:      status,
			Version:     h.config.ServiceVersion,
			ServiceName: h.config.ServiceName,
			Environment: h.config.Environment,
			Checks:      checks,
			Uptime:      time.Since(h.startTime).Seconds(),
		})
	}
}

func (h *HealthService) writeHealth(w http.ResponseWriter, status int, resp HealthResponse) {
	w.Header().Set("Content-Type", "application/health+json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(resp)
}

// runChecks runs all registered checks concurrently
func (h *HealthService) runChecks(ctx context.Context) map[string]HealthCheckResult {
	h.mu.RLock()
	checkers := make([]HealthChecker, 0, len(h.checkers))
	for _, c := range h.checkers {
		checkers = append(checkers, c)
	}
	h.mu.RUnlock()

	results := make(map[string]HealthCheckResult, len(checkers))
	var wg sync.WaitGroup
	var mu sync.Mutex
	for _, checker := range checkers {
		wg.Add(1)
		go func(c HealthChecker) {
			defer wg.Done()

			result, ok := h.cachedResult(c.Name())
			if !ok {
				checkCtx, cancel := context.WithTimeout(ctx, h.config.Timeout)
				result = c.Check(checkCtx)
				cancel()
				result.LastChecked = time.Now()
				h.cache.Store(c.Name(), result)
			}

			mu.Lock()
			results[c.Name()] = result
			mu.Unlock()
		}(checker)
	}
	wg.Wait()
	return results
}

func (h *HealthService) cachedResult(name string) (HealthCheckResult, bool) {
	val, ok := h.cache.Load(name)
	if !ok {
		return HealthCheckResult{}, false
	}
	result := val.(HealthCheckResult)
	if time.Since(result.LastChecked) >= h.config.CacheDuration {
		return HealthCheckResult{}, false
	}
	return result, true
}

func failed(err error, elapsed time.Duration) HealthCheckResult {
	return HealthCheckResult{
		Status:       HealthStatusFail,
		Error:        err.Error(),
		ResponseTime: elapsed,
	}
}

// DatabaseHealthChecker pings the Postgres pool
type DatabaseHealthChecker struct {
	pool *pgxpool.Pool
}

func NewDatabaseHealthChecker(pool *pgxpool.Pool) *DatabaseHealthChecker {
	return &DatabaseHealthChecker{pool: pool}
}

func (d *DatabaseHealthChecker) Name() string { return "postgres" }

func (d *DatabaseHealthChecker) Check(ctx context.Context) HealthCheckResult {
	start := time.Now()
	if err := d.pool.Ping(ctx); err != nil {
		return failed(err, time.Since(start))
	}

	stat := d.pool.Stat()
	result := HealthCheckResult{
		Status:       HealthStatusPass,
		ResponseTime: time.Since(start),
		Metadata: map[string]interface{}{
			"total_conns":    stat.TotalConns(),
			"acquired_conns": stat.AcquiredConns(),
			"idle_conns":     stat.IdleConns(),
			"max_conns":      stat.MaxConns(),
		},
	}
	if stat.AcquiredConns() > stat.MaxConns()*9/10 {
		result.Status = HealthStatusWarn
		result.Message = "connection pool near capacity"
	}
	return result
}

// RedisHealthChecker pings Redis
type RedisHealthChecker struct {
	client *redis.Client
}

func NewRedisHealthChecker(client *redis.Client) *RedisHealthChecker {
	return &RedisHealthChecker{client: client}
}

func (c *RedisHealthChecker) Name() string { return "redis" }

func (c *RedisHealthChecker) Check(ctx context.Context) HealthCheckResult {
	start := time.Now()
	if err := c.client.Ping(ctx).Err(); err != nil {
		return failed(err, time.Since(start))
	}
	return HealthCheckResult{Status: HealthStatusPass, ResponseTime: time.Since(start)}
}

// GenerationPoolChecker warns when the generation queue is nearly full
type GenerationPoolChecker struct {
	status    func() packsvc.PoolStatus
	queueSize int
}

func NewGenerationPoolChecker(status func() packsvc.PoolStatus, queueSize int) *GenerationPoolChecker {
	return &GenerationPoolChecker{status: status, queueSize: queueSize}
}

func (c *GenerationPoolChecker) Name() string { return "generation_pool" }

func (c *GenerationPoolChecker) Check(context.Context) HealthCheckResult {
	st := c.status()
	result := HealthCheckResult{
		Status: HealthStatusPass,
		Metadata: map[string]interface{}{
			"workers":          st.Workers,
			"queued_jobs":      st.QueuedJobs,
			"completed_jobs":   st.CompletedJobs,
			"failed_jobs":      st.FailedJobs,
			"rejected_submits": st.RejectedSubmit,
		},
	}
	if c.queueSize > 0 && st.QueuedJobs*10 >= c.queueSize*9 {
		result.Status = HealthStatusWarn
		result.Message = "generation queue near capacity"
	}
	return result
}
