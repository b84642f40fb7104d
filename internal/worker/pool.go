// Package worker runs document processing tasks in the background, either on
// an in-process pool or from a RabbitMQ queue.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"gopherai-docqa/internal/model"
)

var ErrPoolClosed = errors.New("worker pool closed")

// Handler processes one task. Errors are logged; the handler owns recording
// failure on the document.
type Handler func(ctx context.Context, task model.ProcessTask) error

// Pool is a fixed set of goroutines draining a buffered task channel.
type Pool struct {
	tasks   chan model.ProcessTask
	done    chan struct{}
	workers int
	logger  *slog.Logger

	closeOnce sync.Once
	mu        sync.Mutex
	started   bool
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

func NewPool(workers, queueSize int, logger *slog.Logger) *Pool {
	if workers <= 0 {
		workers = 2
	}
	if queueSize <= 0 {
		queueSize = 64
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Pool{
		tasks:   make(chan model.ProcessTask, queueSize),
		done:    make(chan struct{}),
		workers: workers,
		logger:  logger,
	}
}

func (p *Pool) Start(ctx context.Context, handler Handler) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	select {
	case <-p.done:
		return ErrPoolClosed
	default:
	}
	if p.started {
		return nil
	}
	p.started = true

	workerCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go func(id int) {
			defer p.wg.Done()
			for {
				select {
				case <-p.done:
					return
				default:
				}
				select {
				case <-p.done:
					return
				case <-workerCtx.Done():
					return
				case task := <-p.tasks:
					run(workerCtx, p.logger.With("worker", id), handler, task)
				}
			}
		}(i)
	}
	return nil
}

// Dispatch queues a task, waiting for room while ctx allows.
func (p *Pool) Dispatch(ctx context.Context, task model.ProcessTask) error {
	select {
	case <-p.done:
		return ErrPoolClosed
	default:
	}
	select {
	case p.tasks <- task:
		return nil
	case <-p.done:
		return ErrPoolClosed
	case <-ctx.Done():
		return fmt.Errorf("queue task failed: %w", ctx.Err())
	}
}

// Close stops the workers after their current task, which keeps a live
// context until it returns. Tasks still queued are dropped; their documents
// keep the processing status.
func (p *Pool) Close() {
	p.closeOnce.Do(func() {
		close(p.done)
		p.wg.Wait()

		p.mu.Lock()
		cancel := p.cancel
		p.mu.Unlock()
		if cancel != nil {
			cancel()
		}
		if n := len(p.tasks); n > 0 {
			p.logger.Warn("worker pool closed with queued tasks", "dropped", n)
		}
	})
}

func run(ctx context.Context, logger *slog.Logger, handler Handler, task model.ProcessTask) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("process task panicked", "document_id", task.DocumentID, "panic", r)
		}
	}()
	if err := handler(ctx, task); err != nil {
		logger.Error("process task failed", "user_id", task.UserID, "document_id", task.DocumentID, "error", err)
	}
}
