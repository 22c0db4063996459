package queue

import (
	"context"
	"log"
	"sync"
	"time"
)

// HandlerFunc processes one task payload. Errors are logged; retry policy is
// up to the producer (the engine re-derives work from persisted state).
type HandlerFunc func(ctx context.Context, task *Task) error

// WorkerPool pulls tasks from the broker and dispatches them to registered
// handlers. Workers are stateless: all coordination lives in the store and
// the broker.
type WorkerPool struct {
	broker  Broker
	classes []string
	workers int
	logger  *log.Logger

	mu       sync.RWMutex
	handlers map[string]HandlerFunc

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// NewWorkerPool creates a pool of n workers subscribed to the given classes.
func NewWorkerPool(broker Broker, classes []string, workers int) *WorkerPool {
	if workers <= 0 {
		workers = 4
	}
	if len(classes) == 0 {
		classes = AllClasses()
	}
	return &WorkerPool{
		broker:   broker,
		classes:  classes,
		workers:  workers,
		logger:   log.New(log.Writer(), "[WORKER] ", log.LstdFlags),
		handlers: make(map[string]HandlerFunc),
	}
}

// Register installs the handler for a task type. Last registration wins.
func (p *WorkerPool) Register(taskType string, h HandlerFunc) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.handlers[taskType] = h
}

// Start launches the worker goroutines.
func (p *WorkerPool) Start(ctx context.Context) {
	ctx, p.cancel = context.WithCancel(ctx)
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.run(ctx, i)
	}
	p.logger.Printf("started %d workers on classes %v", p.workers, p.classes)
}

// Shutdown stops pulling and waits for in-flight tasks to finish.
func (p *WorkerPool) Shutdown() {
	if p.cancel != nil {
		p.cancel()
	}
	p.wg.Wait()
}

func (p *WorkerPool) run(ctx context.Context, id int) {
	defer p.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		task, err := p.broker.Pull(ctx, p.classes, 2*time.Second)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			p.logger.Printf("worker %d pull error: %v", id, err)
			time.Sleep(time.Second)
			continue
		}
		if task == nil {
			continue
		}

		p.mu.RLock()
		handler, ok := p.handlers[task.Type]
		p.mu.RUnlock()
		if !ok {
			p.logger.Printf("worker %d: no handler for task type %q, dropping %s", id, task.Type, task.ID)
			continue
		}

		if err := handler(ctx, task); err != nil {
			p.logger.Printf("worker %d: task %s (%s) failed: %v", id, task.ID, task.Type, err)
		}
	}
}
