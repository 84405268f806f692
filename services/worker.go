package services

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"
	"github.com/sahilchouksey/study-ingest/services/queue"
	"github.com/sahilchouksey/study-ingest/utils"
)

const (
	// DefaultWorkerConcurrency is how many tasks run at once
	DefaultWorkerConcurrency = 2
	// DefaultWorkerDrainTimeout is how long running tasks may finish after
	// shutdown starts before they are interrupted
	DefaultWorkerDrainTimeout = 30 * time.Second
	workerPollTimeout         = 5 * time.Second
	workerErrorBackoff        = time.Second
)

// TaskProcessor runs one queued task
type TaskProcessor interface {
	Process(ctx context.Context, msg queue.TaskMessage) error
}

// WorkerConfig sizes the pool and the shutdown drain window
type WorkerConfig struct {
	Concurrency  int
	DrainTimeout time.Duration
}

// Worker pulls task messages off the queue and runs them on a bounded
// goroutine pool. Each task is independent; pages within a task are not.
type Worker struct {
	queue        queue.TaskQueue
	processor    TaskProcessor
	pool         *ants.Pool
	pollTimeout  time.Duration
	drainTimeout time.Duration
	log          *utils.Logger
	wg           sync.WaitGroup
}

// NewWorker creates a worker running up to cfg.Concurrency tasks at once
func NewWorker(q queue.TaskQueue, processor TaskProcessor, cfg WorkerConfig, log *utils.Logger) (*Worker, error) {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultWorkerConcurrency
	}
	if cfg.DrainTimeout <= 0 {
		cfg.DrainTimeout = DefaultWorkerDrainTimeout
	}
	pool, err := ants.NewPool(cfg.Concurrency)
	if err != nil {
		return nil, err
	}
	return &Worker{
		queue:        q,
		processor:    processor,
		pool:         pool,
		pollTimeout:  workerPollTimeout,
		drainTimeout: cfg.DrainTimeout,
		log:          log,
	}, nil
}

// Run consumes the queue until ctx is cancelled or the queue is closed. Tasks
// run on a context that outlives ctx by the drain timeout, so a shutdown lets
// them finish; whatever is still running after that is interrupted.
func (w *Worker) Run(ctx context.Context) error {
	taskCtx, cancelTasks := context.WithCancel(context.WithoutCancel(ctx))
	defer w.pool.Release()
	defer cancelTasks()
	defer w.drain(cancelTasks)

	w.log.Info("worker started", "concurrency", w.pool.Cap())

	for {
		if ctx.Err() != nil {
			w.log.Info("worker stopping")
			return nil
		}

		msg, err := w.queue.Dequeue(ctx, w.pollTimeout)
		switch {
		case err == nil:
		case errors.Is(err, queue.ErrQueueEmpty):
			continue
		case errors.Is(err, queue.ErrQueueClosed):
			w.log.Info("queue closed, worker stopping")
			return nil
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			return nil
		default:
			w.log.Error("failed to dequeue task", "error", err)
			select {
			case <-time.After(workerErrorBackoff):
			case <-ctx.Done():
			}
			continue
		}

		task := *msg
		w.wg.Add(1)
		// Submit blocks while every pool worker is busy
		if err := w.pool.Submit(func() {
			defer w.wg.Done()
			w.process(taskCtx, task)
		}); err != nil {
			w.wg.Done()
			w.log.Error("failed to submit task", "task_id", task.TaskID, "error", err)
		}
	}
}

// drain waits for running tasks, interrupting them once the drain timeout
// has passed
func (w *Worker) drain(cancelTasks context.CancelFunc) {
	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	timer := time.NewTimer(w.drainTimeout)
	defer timer.Stop()
	select {
	case <-done:
	case <-timer.C:
		w.log.Warn("drain timeout reached, interrupting running tasks", "timeout", w.drainTimeout)
		cancelTasks()
		<-done
	}
}

func (w *Worker) process(ctx context.Context, msg queue.TaskMessage) {
	log := w.log.With("task_id", msg.TaskID)
	log.Info("processing task")
	err := w.processor.Process(ctx, msg)
	switch {
	case err == nil:
	case errors.Is(err, ErrTaskInterrupted):
		// the task is pending again; put it back for the next worker
		if qerr := w.queue.Enqueue(context.WithoutCancel(ctx), msg); qerr != nil {
			log.Error("failed to requeue interrupted task", "error", qerr)
			return
		}
		log.Info("requeued interrupted task")
	default:
		log.Error("task processing failed", "error", err)
	}
}
