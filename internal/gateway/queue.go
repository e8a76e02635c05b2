package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/user/collectbot/internal/types"
)

// ErrStopped is returned by Enqueue after Stop.
var ErrStopped = errors.New("queue stopped")

// lane is one user's FIFO backlog. It grows without bound so a burst of
// forwarded items is never rejected while an earlier job runs.
type lane struct {
	mu     sync.Mutex
	jobs   []*Job
	closed bool
	wake   chan struct{}
}

func newLane() *lane {
	return &lane{wake: make(chan struct{}, 1)}
}

func (l *lane) push(job *Job) {
	l.mu.Lock()
	l.jobs = append(l.jobs, job)
	l.mu.Unlock()
	l.signal()
}

// pop returns the next job. ok is false when the lane is empty; closed
// reports that no more jobs will arrive.
func (l *lane) pop() (job *Job, ok, closed bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.jobs) == 0 {
		return nil, false, l.closed
	}
	job = l.jobs[0]
	l.jobs[0] = nil
	l.jobs = l.jobs[1:]
	return job, true, false
}

func (l *lane) close() {
	l.mu.Lock()
	l.closed = true
	l.mu.Unlock()
	l.signal()
}

func (l *lane) len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.jobs)
}

func (l *lane) signal() {
	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// Queue manages per-user lanes with a global concurrency semaphore.
// Each user gets a FIFO lane drained by its own goroutine, so at most one
// job per user runs at a time, while the semaphore limits the number of
// jobs running across all users.
type Queue struct {
	lanes     map[types.UserID]*lane
	semaphore *semaphore.Weighted
	active    atomic.Int64
	pending   atomic.Int64
	processed atomic.Int64
	failed    atomic.Int64

	ctx     context.Context
	cancel  context.CancelFunc
	stopped bool
	wg      sync.WaitGroup
	mu      sync.RWMutex
}

// NewQueue creates a Queue that allows up to maxConcurrent jobs to execute
// simultaneously across all lanes.
func NewQueue(maxConcurrent int64) *Queue {
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	return &Queue{
		lanes:     make(map[types.UserID]*lane),
		semaphore: semaphore.NewWeighted(maxConcurrent),
	}
}

// Start initialises the queue's context. Must be called before Enqueue.
func (q *Queue) Start(ctx context.Context) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.ctx, q.cancel = context.WithCancel(ctx)
	q.stopped = false
}

// Stop cancels the queue context, closes all lanes, and waits for in-flight
// jobs to finish. Jobs still waiting in a lane are dropped.
func (q *Queue) Stop() {
	q.mu.Lock()
	if q.cancel != nil {
		q.cancel()
	}
	if !q.stopped {
		for id, l := range q.lanes {
			l.close()
			delete(q.lanes, id)
		}
		q.stopped = true
	}
	q.mu.Unlock()
	q.wg.Wait()
}

// Enqueue appends a job to its user's lane, creating the lane (and its
// goroutine) on first use. It fails only once the queue is stopped.
func (q *Queue) Enqueue(job *Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.ctx == nil || q.stopped {
		return ErrStopped
	}

	l, exists := q.lanes[job.UserID]
	if !exists {
		l = newLane()
		q.lanes[job.UserID] = l
		q.wg.Add(1)
		go q.processLane(l)
	}
	q.pending.Add(1)
	l.push(job)
	return nil
}

// processLane drains a single user lane, acquiring a semaphore slot before
// running each job synchronously. This keeps strict FIFO order per user
// while the semaphore limits cross-user parallelism.
func (q *Queue) processLane(l *lane) {
	defer q.wg.Done()
	for {
		job, ok, closed := l.pop()
		if closed {
			return
		}
		if !ok {
			select {
			case <-l.wake:
				continue
			case <-q.ctx.Done():
				return
			}
		}
		if err := q.semaphore.Acquire(q.ctx, 1); err != nil {
			q.pending.Add(-1)
			return
		}
		q.run(job)
		q.semaphore.Release(1)
	}
}

func (q *Queue) run(job *Job) {
	q.active.Add(1)
	q.pending.Add(-1)
	defer q.active.Add(-1)
	defer q.processed.Add(1)

	job.Status = JobStatusRunning
	err := q.safeRun(job)
	if err == nil {
		job.Status = JobStatusComplete
		return
	}

	job.Status = JobStatusFailed
	q.failed.Add(1)
	slog.Error("job failed", "job_id", string(job.ID), "user_id", int64(job.UserID), "job", job.Name, "error", err)
	if job.OnError != nil {
		job.OnError(err)
	}
}

func (q *Queue) safeRun(job *Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job panicked: %v", r)
		}
	}()
	if job.Run == nil {
		return nil
	}
	return job.Run(q.ctx)
}

// WaitIdle blocks until every queued job has run, or the timeout expires.
// Returns true if idle, false if timed out.
func (q *Queue) WaitIdle(timeout time.Duration) bool {
	deadline := time.After(timeout)
	for {
		if q.active.Load() == 0 && q.pending.Load() == 0 {
			return true
		}
		select {
		case <-deadline:
			return false
		case <-time.After(100 * time.Millisecond):
		}
	}
}

// Stats is a snapshot of queue activity.
type Stats struct {
	Lanes     int   `json:"lanes"`
	Pending   int   `json:"pending"`
	Active    int64 `json:"active"`
	Processed int64 `json:"processed"`
	Failed    int64 `json:"failed"`
}

// Stats returns current lane and job counts.
func (q *Queue) Stats() Stats {
	q.mu.RLock()
	defer q.mu.RUnlock()
	pending := 0
	for _, l := range q.lanes {
		pending += l.len()
	}
	return Stats{
		Lanes:     len(q.lanes),
		Pending:   pending,
		Active:    q.active.Load(),
		Processed: q.processed.Load(),
		Failed:    q.failed.Load(),
	}
}
