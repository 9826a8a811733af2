package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/efreitasn/spotexchange/internal/domain"
)

// DefaultQueueSize is the intake queue capacity used when none is configured.
const DefaultQueueSize = 1024

type task struct {
	fn   func(ctx context.Context) error
	done chan error
}

// Sequencer serializes work for one instrument. Tasks run one at a time on
// a single worker goroutine in the order they were enqueued. A task that
// fails or panics does not stop the worker.
type Sequencer struct {
	inbox    chan task
	stop     chan struct{}
	exited   chan struct{}
	stopOnce sync.Once
	started  atomic.Bool
	logger   *slog.Logger
}

// NewSequencer creates a Sequencer with a bounded intake queue. Callers
// block in Do while the queue is full.
func NewSequencer(queueSize int, logger *slog.Logger) *Sequencer {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Sequencer{
		inbox:  make(chan task, queueSize),
		stop:   make(chan struct{}),
		exited: make(chan struct{}),
		logger: logger,
	}
}

// Start launches the worker. Tasks run with a context that carries ctx's
// values but not its cancellation, so a match in progress is never cut
// short. Cancelling ctx stops the sequencer the same way Stop does.
func (s *Sequencer) Start(ctx context.Context) {
	if !s.started.CompareAndSwap(false, true) {
		return
	}
	go s.run(ctx)
}

func (s *Sequencer) run(ctx context.Context) {
	defer close(s.exited)
	taskCtx := context.WithoutCancel(ctx)

	for {
		// Stopping wins over queued work.
		select {
		case <-s.stop:
			s.drain()
			return
		default:
		}

		select {
		case <-ctx.Done():
			s.stopOnce.Do(func() { close(s.stop) })
			s.drain()
			return
		case <-s.stop:
			s.drain()
			return
		case t := <-s.inbox:
			s.execute(taskCtx, t)
		}
	}
}

func (s *Sequencer) execute(ctx context.Context, t task) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("sequenced task panicked", slog.Any("panic", r))
			t.done <- &domain.InternalError{Message: fmt.Sprintf("panic: %v", r)}
		}
	}()
	t.done <- t.fn(ctx)
}

// drain fails every task still queued once the worker is stopping.
func (s *Sequencer) drain() {
	for {
		select {
		case t := <-s.inbox:
			t.done <- domain.ErrEngineStopped
		default:
			return
		}
	}
}

// Do enqueues fn and waits for its outcome. If ctx ends first Do returns
// ctx.Err(); the task itself still runs once dequeued. After Stop every
// call returns domain.ErrEngineStopped.
func (s *Sequencer) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	select {
	case <-s.stop:
		return domain.ErrEngineStopped
	default:
	}

	t := task{fn: fn, done: make(chan error, 1)}
	select {
	case s.inbox <- t:
	case <-s.stop:
		return domain.ErrEngineStopped
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-t.done:
		return err
	case <-s.exited:
		// The worker may have replied right before exiting.
		select {
		case err := <-t.done:
			return err
		default:
			return domain.ErrEngineStopped
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop stops accepting work, fails queued tasks and waits for the task in
// progress to finish. It is safe to call more than once.
func (s *Sequencer) Stop() {
	s.stopOnce.Do(func() { close(s.stop) })
	if s.started.Load() {
		<-s.exited
	}
}

// Pending returns the number of queued tasks not yet picked up.
func (s *Sequencer) Pending() int {
	return len(s.inbox)
}
