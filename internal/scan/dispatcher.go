package scan

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/leapgeo/citetrack/internal/metrics"
)

// Runner executes a scan; *Orchestrator satisfies it
type Runner interface {
	ScanAll(ctx context.Context, req ScanRequest) (*Summary, error)
}

// Ack acknowledges an accepted async scan. The scan result is only visible
// through the citation read path.
type Ack struct {
	JobID      string    `json:"job_id"`
	Status     string    `json:"status"`
	AcceptedAt time.Time `json:"accepted_at"`
}

type job struct {
	id  string
	req ScanRequest
}

// Dispatcher runs async scans on a fixed worker pool fed by a bounded queue.
type Dispatcher struct {
	runner Runner
	logger *zap.Logger

	queue        chan job
	workers      int
	drainTimeout time.Duration

	mu       sync.RWMutex
	closed   bool
	stopCh   chan struct{}
	workerWg sync.WaitGroup
}

// NewDispatcher starts workers goroutines reading from a queue of queueSize.
func NewDispatcher(runner Runner, workers, queueSize int, logger *zap.Logger) *Dispatcher {
	if workers <= 0 {
		workers = 4
	}
	if queueSize <= 0 {
		queueSize = 100
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	d := &Dispatcher{
		runner:       runner,
		logger:       logger,
		queue:        make(chan job, queueSize),
		workers:      workers,
		drainTimeout: 2 * time.Minute,
		stopCh:       make(chan struct{}),
	}
	for i := 0; i < workers; i++ {
		d.workerWg.Add(1)
		go d.worker(i)
	}

	logger.Info("Scan dispatcher started",
		zap.Int("workers", workers),
		zap.Int("queue_size", queueSize),
	)
	return d
}

// Submit enqueues req without blocking. It fails with ErrInvalidRequest,
// ErrQueueFull or ErrDispatcherClosed.
func (d *Dispatcher) Submit(req ScanRequest) (Ack, error) {
	if err := req.Validate(); err != nil {
		return Ack{}, err
	}
	if req.Trigger == "" {
		req.Trigger = TriggerAsync
	}

	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return Ack{}, ErrDispatcherClosed
	}

	j := job{id: uuid.NewString(), req: req}
	select {
	case d.queue <- j:
		metrics.DispatchQueueDepth.Set(float64(len(d.queue)))
		return Ack{JobID: j.id, Status: "accepted", AcceptedAt: time.Now().UTC()}, nil
	default:
		metrics.DispatchRejected.Inc()
		d.logger.Warn("Scan queue is full, rejecting request",
			zap.String("project_id", req.ProjectID),
			zap.Int("capacity", cap(d.queue)),
		)
		return Ack{}, ErrQueueFull
	}
}

func (d *Dispatcher) worker(id int) {
	defer d.workerWg.Done()
	d.logger.Debug("Scan worker started", zap.Int("worker_id", id))

	for {
		select {
		case <-d.stopCh:
			d.drain(id)
			d.logger.Debug("Scan worker stopped", zap.Int("worker_id", id))
			return
		case j := <-d.queue:
			d.process(j)
		}
	}
}

// drain runs whatever is still queued until the queue is empty or the
// drain deadline passes.
func (d *Dispatcher) drain(id int) {
	deadline := time.After(d.drainTimeout)
	for {
		select {
		case j := <-d.queue:
			d.process(j)
		case <-deadline:
			d.logger.Warn("Timeout draining scan queue",
				zap.Int("worker_id", id),
				zap.Int("remaining", len(d.queue)),
			)
			return
		default:
			return
		}
	}
}

func (d *Dispatcher) process(j job) {
	metrics.DispatchQueueDepth.Set(float64(len(d.queue)))
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("Async scan panicked", zap.String("job_id", j.id), zap.Any("panic", r))
		}
	}()

	summary, err := d.runner.ScanAll(context.Background(), j.req)
	if err != nil {
		d.logger.Error("Async scan failed",
			zap.String("job_id", j.id),
			zap.String("project_id", j.req.ProjectID),
			zap.Error(err),
		)
		return
	}
	d.logger.Info("Async scan finished",
		zap.String("job_id", j.id),
		zap.String("project_id", j.req.ProjectID),
		zap.Int("total_citations", summary.TotalCitations),
		zap.Int("citations_saved", summary.CitationsSaved),
	)
}

// Pending returns the number of queued scans
func (d *Dispatcher) Pending() int {
	return len(d.queue)
}

// Capacity returns the queue size
func (d *Dispatcher) Capacity() int {
	return cap(d.queue)
}

// Close stops accepting scans and waits for the workers to finish queued work
// or for ctx to end.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	close(d.stopCh)
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.workerWg.Wait()
		close(done)
	}()

	select {
	case <-done:
		d.logger.Info("Scan dispatcher stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
