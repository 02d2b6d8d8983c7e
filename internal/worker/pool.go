// Package worker implements the bounded concurrency Worker Pool (spec §4.4):
// a process-wide, lazily-constructed pool that executes arbitrary job
// closures with FIFO backpressure, cooperative cancellation, active-set
// enumeration, and graceful shutdown.
//
// This generalizes the teacher's internal/worker/pool.go, which pulled one
// message type off a persistent queue per iteration, into a pool that
// accepts an arbitrary func(ctx) error closure per submission — the shape
// the Job Controller's batch drivers need.
package worker

import (
	"container/list"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/irjudson/lumina/internal/common"
	"github.com/irjudson/lumina/internal/interfaces"
)

// task is one submitted unit of work.
type task struct {
	jobID  string
	fn     func(ctx context.Context) error
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
	err    error

	mu        sync.Mutex
	started   bool
	cancelled bool
}

// Cancel cancels the task if it has not yet started running; if it is
// already running this only sets the cooperative cancellation signal (the
// task's context) — it does not interrupt in-progress syscalls.
func (t *task) Cancel() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.cancelled {
		return false
	}
	t.cancelled = true
	t.cancel()
	return !t.started
}

func (t *task) Done() <-chan struct{} { return t.done }
func (t *task) Err() error            { return t.err }

var _ interfaces.Handle = (*task)(nil)

// Pool is a bounded, FIFO-fair worker pool shared across all jobs in the
// process.
type Pool struct {
	logger     arbor.ILogger
	numWorkers int

	queueMu sync.Mutex
	queue   *list.List
	notify  chan struct{}

	activeMu sync.Mutex
	active   map[string]*task

	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

// New constructs a Pool with numWorkers goroutines. Callers normally use
// Default() instead of constructing a Pool directly.
func New(logger arbor.ILogger, numWorkers int) *Pool {
	if numWorkers <= 0 {
		numWorkers = common.DefaultMaxJobWorkers
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Pool{
		logger:     logger,
		numWorkers: numWorkers,
		queue:      list.New(),
		notify:     make(chan struct{}, numWorkers),
		active:     make(map[string]*task),
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Start launches the pool's worker goroutines. Safe to call once.
func (p *Pool) Start() {
	p.logger.Info().Int("num_workers", p.numWorkers).Msg("starting worker pool")
	for i := 0; i < p.numWorkers; i++ {
		p.wg.Add(1)
		workerID := i
		common.SafeGo(p.logger, fmt.Sprintf("worker-%d", workerID), func() {
			defer p.wg.Done()
			p.loop(workerID)
		})
	}
}

// Submit enqueues fn under jobID; it runs when a worker slot is free.
// Scheduling is FIFO: tasks are dequeued in submission order.
func (p *Pool) Submit(jobID string, fn func(ctx context.Context) error) (interfaces.Handle, error) {
	taskCtx, cancel := context.WithCancel(p.ctx)
	t := &task{
		jobID:  jobID,
		fn:     fn,
		ctx:    taskCtx,
		cancel: cancel,
		done:   make(chan struct{}),
	}

	p.queueMu.Lock()
	p.queue.PushBack(t)
	p.queueMu.Unlock()

	select {
	case p.notify <- struct{}{}:
	default:
	}

	return t, nil
}

func (p *Pool) loop(workerID int) {
	for {
		select {
		case <-p.ctx.Done():
			return
		default:
		}

		t := p.dequeue()
		if t == nil {
			select {
			case <-p.ctx.Done():
				return
			case <-p.notify:
				continue
			case <-time.After(50 * time.Millisecond):
				continue
			}
		}

		p.run(workerID, t)
	}
}

func (p *Pool) dequeue() *task {
	p.queueMu.Lock()
	defer p.queueMu.Unlock()

	front := p.queue.Front()
	if front == nil {
		return nil
	}
	p.queue.Remove(front)
	return front.Value.(*task)
}

func (p *Pool) run(workerID int, t *task) {
	t.mu.Lock()
	if t.cancelled {
		t.mu.Unlock()
		t.err = t.ctx.Err()
		close(t.done)
		return
	}
	t.started = true
	t.mu.Unlock()

	p.activeMu.Lock()
	p.active[t.jobID] = t
	p.activeMu.Unlock()

	defer func() {
		p.activeMu.Lock()
		delete(p.active, t.jobID)
		p.activeMu.Unlock()
		close(t.done)
	}()

	defer func() {
		if r := recover(); r != nil {
			stack := common.GetStackTrace()
			p.logger.Error().
				Interface("panic", r).
				Str("job_id", t.jobID).
				Int("worker_id", workerID).
				Str("stack", stack).
				Msg("worker closure panicked")
			t.err = fmt.Errorf("panic in worker closure: %v", r)
		}
	}()

	t.err = t.fn(t.ctx)
}

// Active returns the job ids of all currently-running closures.
func (p *Pool) Active() []string {
	p.activeMu.Lock()
	defer p.activeMu.Unlock()

	ids := make([]string, 0, len(p.active))
	for id := range p.active {
		ids = append(ids, id)
	}
	return ids
}

// Shutdown stops the pool. If wait is true, it lets every queued and
// in-flight closure run, then stops the workers, blocking up to timeout (or
// indefinitely when timeout is 0); work still queued when the timeout
// expires is abandoned. If wait is false, pending work is abandoned at once.
func (p *Pool) Shutdown(wait bool, timeout time.Duration) {
	p.logger.Info().Bool("wait", wait).Msg("shutting down worker pool")

	if !wait {
		p.cancel()
		return
	}

	doneCh := make(chan struct{})
	go func() {
		for p.ctx.Err() == nil {
			p.queueMu.Lock()
			queued := p.queue.Len()
			p.queueMu.Unlock()
			p.activeMu.Lock()
			running := len(p.active)
			p.activeMu.Unlock()
			if queued == 0 && running == 0 {
				break
			}
			time.Sleep(5 * time.Millisecond)
		}
		p.cancel()
		p.wg.Wait()
		close(doneCh)
	}()

	if timeout <= 0 {
		<-doneCh
		return
	}

	select {
	case <-doneCh:
	case <-time.After(timeout):
		p.cancel()
		p.logger.Warn().Dur("timeout", timeout).Msg("worker pool shutdown timed out waiting for drain")
	}
}

var _ interfaces.WorkerPool = (*Pool)(nil)

var (
	defaultOnce sync.Once
	defaultPool *Pool
)

// Default returns the process-wide singleton Pool, constructing and starting
// it lazily on first use with double-checked initialization.
func Default(logger arbor.ILogger, numWorkers int) *Pool {
	defaultOnce.Do(func() {
		defaultPool = New(logger, numWorkers)
		defaultPool.Start()
	})
	return defaultPool
}
