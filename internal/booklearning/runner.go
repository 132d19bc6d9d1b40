package booklearning

import (
	"context"
	"errors"
	"log"
	"os"
	"sync"
)

// ErrRunnerClosed is returned by Submit after Close.
var ErrRunnerClosed = errors.New("book runner is closed")

// Job is a queued book. RemoveFile deletes FilePath once processing ends.
type Job struct {
	Input      BookInput
	RemoveFile bool
}

// Runner processes submitted books in the background with bounded
// concurrency. Jobs run detached from the submitting request.
type Runner struct {
	pipeline *Pipeline
	sem      chan struct{}
	wg       sync.WaitGroup
	mu       sync.Mutex
	closed   bool
	ctx      context.Context
	cancel   context.CancelFunc
	logger   *log.Logger
}

// NewRunner starts a runner allowing workers concurrent books.
func NewRunner(pipeline *Pipeline, workers int, logger *log.Logger) *Runner {
	if workers <= 0 {
		workers = 1
	}
	if logger == nil {
		logger = log.New(log.Writer(), "[BOOK] ", log.LstdFlags)
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Runner{
		pipeline: pipeline,
		sem:      make(chan struct{}, workers),
		ctx:      ctx,
		cancel:   cancel,
		logger:   logger,
	}
}

// Submit queues a job and returns immediately.
func (r *Runner) Submit(job Job) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrRunnerClosed
	}
	r.wg.Add(1)
	go r.run(job)
	return nil
}

func (r *Runner) run(job Job) {
	defer r.wg.Done()
	if job.RemoveFile {
		defer func() {
			if err := os.Remove(job.Input.FilePath); err != nil && !errors.Is(err, os.ErrNotExist) {
				r.logger.Printf("warn: remove %s: %v", job.Input.FilePath, err)
			}
		}()
	}
	select {
	case r.sem <- struct{}{}:
	case <-r.ctx.Done():
		return
	}
	defer func() { <-r.sem }()
	if _, err := r.pipeline.ProcessBook(r.ctx, job.Input); err != nil {
		r.logger.Printf("error: book %q: %v", job.Input.Title, err)
	}
}

// Close stops accepting jobs and waits for running ones. Queued jobs that
// have not started are dropped when ctx ends first.
func (r *Runner) Close(ctx context.Context) error {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		r.cancel()
		return nil
	case <-ctx.Done():
		r.cancel()
		<-done
		return ctx.Err()
	}
}
