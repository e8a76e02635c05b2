// Package ingest maintains the throttled status message a user sees while
// uploading items into a collection.
package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/user/collectbot/internal/delivery"
	"github.com/user/collectbot/internal/session"
	"github.com/user/collectbot/internal/types"
)

// Callback data carried by the status message buttons.
const (
	CallbackStatus = "collect_status"
	CallbackStop   = "stop_collect"
)

// Clock abstracts time for the throttle decisions.
type Clock interface {
	Now() time.Time
}

// RealClock is the wall clock.
type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now() }

// Phases of the status message.
const (
	PhaseIdle    = 0 // no message yet
	PhaseStarted = 1 // intro posted, no counter
	PhaseLive    = 2 // counter and controls attached
)

// Notifier advances one status state machine per (user, collection).
type Notifier struct {
	transport delivery.Transport
	sessions  *session.Store
	clock     Clock

	FirstEditDelay time.Duration
	EditInterval   time.Duration
	ResendEvery    int
	ResendInterval time.Duration
}

// New creates a Notifier with the default thresholds: first edit after 1s,
// in-place edits at most every 5s, and a fresh message every 30 items once
// 15s have passed since the last one.
func New(transport delivery.Transport, sessions *session.Store, clock Clock) *Notifier {
	if clock == nil {
		clock = RealClock{}
	}
	return &Notifier{
		transport:      transport,
		sessions:       sessions,
		clock:          clock,
		FirstEditDelay: time.Second,
		EditInterval:   5 * time.Second,
		ResendEvery:    30,
		ResendInterval: 15 * time.Second,
	}
}

type step int

const (
	stepNone step = iota
	stepPost
	stepEdit
	stepResend
)

// NotifyIngested counts one more item for (user, collection) and updates
// the status message when the throttle allows. Transport failures are
// logged and never returned.
func (n *Notifier) NotifyIngested(ctx context.Context, user types.UserID, chat types.ChatID, coll types.CollectionID, name string) {
	now := n.clock.Now()

	sess := n.sessions.Get(user)
	sess.Lock()
	st := sess.IngestFor(coll)
	st.Count++
	count, msgID := st.Count, st.MessageID

	var action step
	switch st.Phase {
	case PhaseIdle:
		action = stepPost
	case PhaseStarted:
		if now.Sub(st.LastUpdate) >= n.FirstEditDelay {
			action = stepEdit
			st.Phase = PhaseLive
		}
	default:
		switch {
		case n.ResendEvery > 0 && count%n.ResendEvery == 0 && count > 1 && now.Sub(st.LastFresh) >= n.ResendInterval:
			action = stepResend
		case now.Sub(st.LastUpdate) >= n.EditInterval:
			action = stepEdit
		}
	}
	if action != stepNone {
		// Claim the slot before releasing the lock so a concurrent call
		// observes the update as already done.
		st.LastUpdate = now
		if action == stepPost || action == stepResend {
			st.LastFresh = now
		}
	}
	sess.Unlock()

	switch action {
	case stepPost:
		id, err := n.transport.Send(ctx, chat, delivery.TextMessage(introText(name)))
		if err != nil {
			slog.Warn("post ingest status failed", "user_id", int64(user), "error", err)
			n.record(sess, coll, 0, PhaseIdle)
			return
		}
		n.record(sess, coll, id, PhaseStarted)

	case stepEdit:
		err := n.transport.Edit(ctx, chat, msgID, counterText(name, count), Controls())
		if err == nil {
			return
		}
		slog.Debug("edit ingest status failed, sending fresh", "user_id", int64(user), "error", err)
		n.sendFresh(ctx, sess, user, chat, coll, name, count)

	case stepResend:
		if err := n.transport.Delete(ctx, chat, msgID); err != nil {
			slog.Debug("delete old ingest status failed", "user_id", int64(user), "error", err)
		}
		n.sendFresh(ctx, sess, user, chat, coll, name, count)
	}
}

func (n *Notifier) sendFresh(ctx context.Context, sess *session.Session, user types.UserID, chat types.ChatID, coll types.CollectionID, name string, count int) {
	msg := delivery.TextMessage(counterText(name, count))
	msg.Keyboard = Controls()
	id, err := n.transport.Send(ctx, chat, msg)
	if err != nil {
		slog.Warn("send ingest status failed", "user_id", int64(user), "error", err)
		return
	}
	sess.Lock()
	st := sess.IngestFor(coll)
	st.MessageID = id
	st.LastFresh = n.clock.Now()
	sess.Unlock()
}

func (n *Notifier) record(sess *session.Session, coll types.CollectionID, id, phase int) {
	sess.Lock()
	defer sess.Unlock()
	st := sess.IngestFor(coll)
	st.MessageID = id
	st.Phase = phase
}

// Reset forgets the status for (user, collection) so the next item starts
// a new message.
func (n *Notifier) Reset(user types.UserID, coll types.CollectionID) {
	sess := n.sessions.Get(user)
	sess.Lock()
	defer sess.Unlock()
	delete(sess.Ingest, coll)
}

// Count returns the number of items counted since the last reset.
func (n *Notifier) Count(user types.UserID, coll types.CollectionID) int {
	sess := n.sessions.Get(user)
	sess.Lock()
	defer sess.Unlock()
	if st, ok := sess.Ingest[coll]; ok {
		return st.Count
	}
	return 0
}

// Controls is the keyboard attached to live status messages.
func Controls() delivery.Keyboard {
	return delivery.Keyboard{
		delivery.Row(
			delivery.Button{Text: "Status", Data: CallbackStatus},
			delivery.Button{Text: "Stop collecting", Data: CallbackStop},
		),
	}
}

func introText(name string) string {
	return fmt.Sprintf("Collecting into %q. Send files or text to add them.", name)
}

func counterText(name string, count int) string {
	return fmt.Sprintf("Collecting into %q\nItems added: %d", name, count)
}
