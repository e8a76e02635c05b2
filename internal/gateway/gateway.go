package gateway

import (
	"context"

	"github.com/user/collectbot/internal/types"
)

// Gateway turns inbound updates into per-user jobs. It owns the job queue
// and is the single entry point the transport adapter uses.
type Gateway struct {
	Queue *Queue
}

// New creates a Gateway allowing maxConcurrent jobs across users at once.
// Non-positive values select a concurrency of 4.
func New(maxConcurrent int64) *Gateway {
	if maxConcurrent <= 0 {
		maxConcurrent = 4
	}
	return &Gateway{Queue: NewQueue(maxConcurrent)}
}

// Start starts the queue. Jobs run with a context derived from ctx.
func (g *Gateway) Start(ctx context.Context) {
	g.Queue.Start(ctx)
}

// Stop stops the queue and waits for running jobs.
func (g *Gateway) Stop() {
	g.Queue.Stop()
}

// JobOption configures optional behavior on a Job.
type JobOption func(*Job)

// WithOnError sets a callback invoked when the job fails.
func WithOnError(fn func(error)) JobOption {
	return func(j *Job) { j.OnError = fn }
}

// Dispatch wraps fn in a Job for user and enqueues it behind the user's
// earlier jobs.
func (g *Gateway) Dispatch(user types.UserID, name string, fn func(ctx context.Context) error, opts ...JobOption) error {
	job := NewJob(user, name, fn)
	for _, opt := range opts {
		opt(job)
	}
	return g.Queue.Enqueue(job)
}
