// Package notify serializes best-effort side-channel notifications (activity
// logs, archive pointers) through a single FIFO worker so that sends from
// different users never overlap on the shared outbound channel.
package notify

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/user/collectbot/internal/delivery"
	"github.com/user/collectbot/internal/types"
)

// Kind selects the pacing applied after a notification is sent.
type Kind string

const (
	KindActivity Kind = "activity"
	KindArchive  Kind = "archive"
)

// Notification is one queued outbound message. It is never persisted.
type Notification struct {
	ID      types.NotificationID
	Kind    Kind
	Chat    types.ChatID
	Message delivery.Message
}

// Queue is a mutex-guarded FIFO drained by at most one worker goroutine.
// The mutex is never held across a send.
type Queue struct {
	transport delivery.Transport
	policy    *delivery.RetryPolicy

	// Sleep is used for pacing and rate-limit backoff.
	Sleep         delivery.SleepFunc
	ArchiveDelay  time.Duration
	ActivityDelay time.Duration

	mu       sync.Mutex
	items    []*Notification
	running  bool
	started  bool
	stopping bool
	ctx      context.Context
	cancel   context.CancelFunc
	wake     chan struct{}
	wg       sync.WaitGroup
}

// NewQueue creates a stopped queue. Notifications enqueued before Start are
// held until it is called.
func NewQueue(transport delivery.Transport, policy *delivery.RetryPolicy) *Queue {
	if policy == nil {
		policy = delivery.DefaultRetryPolicy()
	}
	return &Queue{
		transport:     transport,
		policy:        policy,
		Sleep:         delivery.Sleep,
		ArchiveDelay:  5 * time.Second,
		ActivityDelay: 2 * time.Second,
		wake:          make(chan struct{}, 1),
	}
}

// Start launches the worker. Sends use ctx, not the enqueuer's context.
func (q *Queue) Start(ctx context.Context) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.started {
		return
	}
	q.ctx, q.cancel = context.WithCancel(ctx)
	q.started = true
	q.stopping = false
	q.spawnLocked()
}

// Stop drains the queue until it is empty or ctx is done, then stops the
// worker. It returns ctx.Err() when notifications were left undelivered.
func (q *Queue) Stop(ctx context.Context) error {
	q.mu.Lock()
	if !q.started {
		q.mu.Unlock()
		return nil
	}
	q.stopping = true
	cancel := q.cancel
	q.mu.Unlock()
	q.nudge()

	idle := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(idle)
	}()

	var err error
	select {
	case <-idle:
	case <-ctx.Done():
		cancel()
		<-idle
		err = ctx.Err()
	}
	cancel()

	q.mu.Lock()
	q.started = false
	if dropped := len(q.items); dropped > 0 {
		slog.Warn("notification queue stopped with pending items", "pending", dropped)
	}
	q.mu.Unlock()
	return err
}

// Enqueue appends n and ensures a worker is running. Notifications without
// a destination are dropped, which is how a missing activity channel
// disables the queue.
func (q *Queue) Enqueue(n *Notification) {
	if n == nil || n.Chat == 0 {
		return
	}
	if n.ID == "" {
		n.ID = types.NewNotificationID()
	}

	q.mu.Lock()
	q.items = append(q.items, n)
	if q.started && !q.stopping && !q.running {
		q.spawnLocked()
	}
	q.mu.Unlock()
	q.nudge()
}

// Pending returns the number of notifications waiting to be sent.
func (q *Queue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

func (q *Queue) spawnLocked() {
	if q.running {
		return
	}
	q.running = true
	q.wg.Add(1)
	go q.work()
}

func (q *Queue) nudge() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

func (q *Queue) work() {
	defer q.wg.Done()
	defer func() {
		q.mu.Lock()
		q.running = false
		q.mu.Unlock()
	}()

	for {
		n, ok := q.next()
		if !ok {
			return
		}
		q.process(n)
		if err := q.Sleep(q.ctx, q.delay(n.Kind)); err != nil {
			return
		}
	}
}

// next pops the head of the queue, waiting for work while idle. It reports
// false when the worker should exit.
func (q *Queue) next() (*Notification, bool) {
	for {
		q.mu.Lock()
		if q.ctx.Err() != nil {
			q.mu.Unlock()
			return nil, false
		}
		if len(q.items) > 0 {
			n := q.items[0]
			q.items[0] = nil
			q.items = q.items[1:]
			q.mu.Unlock()
			return n, true
		}
		if q.stopping {
			q.mu.Unlock()
			return nil, false
		}
		q.mu.Unlock()

		select {
		case <-q.wake:
		case <-q.ctx.Done():
			return nil, false
		}
	}
}

func (q *Queue) process(n *Notification) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("notification send panicked", "notification_id", string(n.ID), "panic", r)
		}
	}()

	err := q.policy.Execute(q.ctx, q.Sleep, func() error {
		_, err := q.transport.Send(q.ctx, n.Chat, n.Message)
		return err
	})
	if err != nil {
		slog.Warn("notification dropped", "notification_id", string(n.ID), "kind", string(n.Kind), "error", err)
	}
}

func (q *Queue) delay(k Kind) time.Duration {
	if k == KindArchive {
		return q.ArchiveDelay
	}
	return q.ActivityDelay
}
