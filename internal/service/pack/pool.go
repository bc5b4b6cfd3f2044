package pack

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// job is one queued pack generation
type job struct {
	TenantID uuid.UUID
	PackID   uuid.UUID
	ActorID  uuid.UUID
	KeyID    string
	Revision int64
}

// PoolStatus reports worker pool counters
type PoolStatus struct {
	Workers        int   `json:"workers"`
	QueuedJobs     int   `json:"queued_jobs"`
	CompletedJobs  int64 `json:"completed_jobs"`
	FailedJobs     int64 `json:"failed_jobs"`
	RejectedSubmit int64 `json:"rejected_submits"`
}

// WorkerPool runs generation jobs on a fixed number of goroutines fed by a
// bounded queue. Submit never blocks.
type WorkerPool struct {
	workers int
	jobs    chan job
	run     func(ctx context.Context, j job) error
	logger  *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	stopOnce  sync.Once
	mu        sync.RWMutex
	stopped   bool
	completed int64
	failed    int64
	rejected  int64
}

func newWorkerPool(ctx context.Context, workers, queueSize int, run func(ctx context.Context, j job) error, logger *zap.Logger) *WorkerPool {
	workerCtx, cancel := context.WithCancel(ctx)
	return &WorkerPool{
		workers: workers,
		jobs:    make(chan job, queueSize),
		run:     run,
		logger:  logger,
		ctx:     workerCtx,
		cancel:  cancel,
	}
}

// Start launches the workers
func (wp *WorkerPool) Start() {
	for i := 0; i < wp.workers; i++ {
		wp.wg.Add(1)
		go wp.worker(i)
	}
}

// Stop drains queued jobs and waits for the workers to exit
func (wp *WorkerPool) Stop() {
	wp.stopOnce.Do(func() {
		wp.mu.Lock()
		wp.stopped = true
		close(wp.jobs)
		wp.mu.Unlock()
		wp.wg.Wait()
		wp.cancel()
	})
}

// Submit queues j, reporting false when the queue is full or the pool stopped
func (wp *WorkerPool) Submit(j job) bool {
	wp.mu.RLock()
	defer wp.mu.RUnlock()
	if wp.stopped {
		atomic.AddInt64(&wp.rejected, 1)
		return false
	}

	select {
	case wp.jobs <- j:
		return true
	default:
		atomic.AddInt64(&wp.rejected, 1)
		return false
	}
}

func (wp *WorkerPool) Status() PoolStatus {
	return PoolStatus{
		Workers:        wp.workers,
		QueuedJobs:     len(wp.jobs),
		CompletedJobs:  atomic.LoadInt64(&wp.completed),
		FailedJobs:     atomic.LoadInt64(&wp.failed),
		RejectedSubmit: atomic.LoadInt64(&wp.rejected),
	}
}

func (wp *WorkerPool) worker(id int) {
	defer wp.wg.Done()

	logger := wp.logger.With(zap.Int("worker_id", id))
	logger.Debug("worker started")

	for j := range wp.jobs {
		if err := wp.run(wp.ctx, j); err != nil {
			atomic.AddInt64(&wp.failed, 1)
			logger.Warn("generation job failed",
				zap.String("pack_id", j.PackID.String()),
				zap.Error(err))
			continue
		}
		atomic.AddInt64(&wp.completed, 1)
	}
	logger.Debug("worker stopping")
}
