package executor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/EricMurray-e-m-dev/SentinelMonkey/internal/metrics"
	"go.uber.org/zap"
)

var (
	ErrPoolClosed = errors.New("executor: pool closed")
	ErrDiscarded  = errors.New("executor: job discarded by overflow policy")
)

// OverflowPolicy decides what Submit does when the queue is full
type OverflowPolicy int

const (
	// CallerRuns executes the job on the submitting goroutine
	CallerRuns OverflowPolicy = iota
	// DiscardOldest drops the longest-queued job to make room
	DiscardOldest
)

func (p OverflowPolicy) String() string {
	switch p {
	case CallerRuns:
		return "caller-runs"
	case DiscardOldest:
		return "discard-oldest"
	default:
		return fmt.Sprintf("OverflowPolicy(%d)", int(p))
	}
}

// Job is one unit of pool work
type Job func() error

// Future completes once with the job's error
type Future struct {
	done chan struct{}
	err  error
	once sync.Once
}

func newFuture() *Future {
	return &Future{done: make(chan struct{})}
}

func (f *Future) complete(err error) {
	f.once.Do(func() {
		f.err = err
		close(f.done)
	})
}

// Done is closed when the job finished or was dropped
func (f *Future) Done() <-chan struct{} {
	return f.done
}

// Wait blocks until the job finishes or ctx is done
func (f *Future) Wait(ctx context.Context) error {
	select {
	case <-f.done:
		return f.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

type queuedJob struct {
	job    Job
	future *Future
}

// PoolStats is a point-in-time view of one pool
type PoolStats struct {
	Name       string `json:"name"`
	Policy     string `json:"policy"`
	Workers    int    `json:"workers"`
	QueueSize  int    `json:"queue_size"`
	Queued     int    `json:"queued"`
	Submitted  int64  `json:"submitted"`
	Completed  int64  `json:"completed"`
	Discarded  int64  `json:"discarded"`
	CallerRuns int64  `json:"caller_runs"`
}

// Pool is a fixed set of workers behind a bounded queue
type Pool struct {
	name    string
	policy  OverflowPolicy
	workers int
	queue   chan queuedJob

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup

	submitted  atomic.Int64
	completed  atomic.Int64
	discarded  atomic.Int64
	callerRuns atomic.Int64

	metrics *metrics.Metrics
	logger  *zap.Logger
}

// NewPool starts workers immediately
func NewPool(name string, workers, queueSize int, policy OverflowPolicy, m *metrics.Metrics, logger *zap.Logger) *Pool {
	if workers < 1 {
		workers = 1
	}
	if queueSize < 1 {
		queueSize = 1
	}

	p := &Pool{
		name:    name,
		policy:  policy,
		workers: workers,
		queue:   make(chan queuedJob, queueSize),
		metrics: m,
		logger:  logger.With(zap.String("pool", name)),
	}

	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go p.worker()
	}

	return p
}

func (p *Pool) worker() {
	defer p.wg.Done()

	for item := range p.queue {
		p.run(item)
	}
}

func (p *Pool) run(item queuedJob) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("Pool job panicked", zap.Any("panic", r))
			p.completed.Add(1)
			item.future.complete(fmt.Errorf("job panicked: %v", r))
		}
	}()

	err := item.job()
	p.completed.Add(1)
	item.future.complete(err)
}

// Submit queues job. When the queue is full the overflow policy applies: CallerRuns
// returns only after the job ran, DiscardOldest completes the evicted job's future with
// ErrDiscarded.
func (p *Pool) Submit(job Job) *Future {
	item := queuedJob{job: job, future: newFuture()}

	p.mu.RLock()
	if p.closed {
		p.mu.RUnlock()
		item.future.complete(ErrPoolClosed)
		return item.future
	}

	p.submitted.Add(1)

	for {
		select {
		case p.queue <- item:
			p.mu.RUnlock()
			return item.future
		default:
		}

		if p.policy == CallerRuns {
			p.mu.RUnlock()
			p.callerRuns.Add(1)
			p.metrics.IncrementPoolOverflow(p.name, p.policy.String())
			p.logger.Debug("Queue full, running job on caller")
			p.run(item)
			return item.future
		}

		select {
		case oldest := <-p.queue:
			p.discarded.Add(1)
			p.metrics.IncrementPoolOverflow(p.name, p.policy.String())
			p.logger.Warn("Queue full, discarded oldest job")
			oldest.future.complete(ErrDiscarded)
		default:
			// a worker drained the queue in between, try again
		}
	}
}

// Close stops accepting work and waits for queued jobs to finish
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.queue)
	p.mu.Unlock()

	p.wg.Wait()
}

func (p *Pool) Stats() PoolStats {
	return PoolStats{
		Name:       p.name,
		Policy:     p.policy.String(),
		Workers:    p.workers,
		QueueSize:  cap(p.queue),
		Queued:     len(p.queue),
		Submitted:  p.submitted.Load(),
		Completed:  p.completed.Load(),
		Discarded:  p.discarded.Load(),
		CallerRuns: p.callerRuns.Load(),
	}
}
