package livepatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// Scheduler defers work to the next iteration of the host's main loop.
type Scheduler interface {
	Post(fn func())
}

// MainLoop is a minimal host main loop: posted functions run in order on
// whichever goroutine drives the loop.
type MainLoop struct {
	mu      sync.Mutex
	pending []func()
	wake    chan struct{}
}

func NewMainLoop() *MainLoop {
	return &MainLoop{wake: make(chan struct{}, 1)}
}

func (l *MainLoop) Post(fn func()) {
	l.mu.Lock()
	l.pending = append(l.pending, fn)
	l.mu.Unlock()
	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// RunPending runs the functions posted so far and reports how many ran.
// Functions posted while they run wait for the next iteration.
func (l *MainLoop) RunPending() int {
	l.mu.Lock()
	batch := l.pending
	l.pending = nil
	l.mu.Unlock()
	for _, fn := range batch {
		fn()
	}
	return len(batch)
}

// Run drives the loop until ctx is done.
func (l *MainLoop) Run(ctx context.Context) error {
	for {
		l.RunPending()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-l.wake:
		}
	}
}

// ErrQueueClosed means a batch was offered to a closed TestQueue.
var ErrQueueClosed = errors.New("test queue closed")

// TestRunner runs the suite of one test type.
type TestRunner interface {
	RunSuite(ctx context.Context, t *TypeHandle) SuiteRun
}

// TestQueue runs test batches one at a time on the host main loop.
//
// Enqueue never blocks. A worker hands the oldest batch to the scheduler and
// stays suspended until that batch has finished, so batches from successive
// patches never interleave.
type TestQueue struct {
	sched  Scheduler
	runner TestRunner
	logger *slog.Logger

	mu      sync.Mutex
	batches [][]*TypeHandle
	closed  bool
	wake    chan struct{}
	done    chan struct{}
	wg      sync.WaitGroup
}

func NewTestQueue(sched Scheduler, runner TestRunner, logger *slog.Logger) (*TestQueue, error) {
	if sched == nil {
		return nil, fmt.Errorf("new test queue: scheduler is nil")
	}
	if runner == nil {
		return nil, fmt.Errorf("new test queue: runner is nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	q := &TestQueue{
		sched:  sched,
		runner: runner,
		logger: logger,
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	q.wg.Add(1)
	go q.work()
	return q, nil
}

// Enqueue schedules a batch of test types.
func (q *TestQueue) Enqueue(batch []*TypeHandle) error {
	if len(batch) == 0 {
		return nil
	}
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrQueueClosed
	}
	q.batches = append(q.batches, append([]*TypeHandle(nil), batch...))
	q.mu.Unlock()
	select {
	case q.wake <- struct{}{}:
	default:
	}
	return nil
}

// Close stops the worker. Batches not yet handed to the scheduler are dropped.
func (q *TestQueue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	q.mu.Unlock()
	close(q.done)
	q.wg.Wait()
}

func (q *TestQueue) work() {
	defer q.wg.Done()
	for {
		batch, ok := q.next()
		if !ok {
			return
		}
		finished := make(chan struct{})
		q.sched.Post(func() {
			defer close(finished)
			q.run(batch)
		})
		select {
		case <-finished:
		case <-q.done:
			return
		}
	}
}

func (q *TestQueue) next() ([]*TypeHandle, bool) {
	for {
		q.mu.Lock()
		if len(q.batches) > 0 {
			batch := q.batches[0]
			q.batches = q.batches[1:]
			q.mu.Unlock()
			return batch, true
		}
		q.mu.Unlock()
		select {
		case <-q.wake:
		case <-q.done:
			return nil, false
		}
	}
}

func (q *TestQueue) run(batch []*TypeHandle) {
	ctx := context.Background()
	for _, t := range batch {
		run := q.runner.RunSuite(ctx, t)
		q.logger.Info("test suite finished",
			"suite", run.Suite,
			"passed", len(run.Passed),
			"failed", len(run.Failed),
		)
	}
}
