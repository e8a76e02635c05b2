// Package verify issues and checks one-time numeric codes that gate bulk
// and destructive actions.
package verify

import (
	"math/rand/v2"
	"strconv"
	"strings"
	"time"

	"github.com/user/collectbot/internal/session"
	"github.com/user/collectbot/internal/types"
)

// Action names what a pending code authorizes.
type Action string

const (
	ActionSendCollection   Action = "send_collection"
	ActionDeleteCollection Action = "delete_collection"
)

// actionOrder is the order Match reports actions in.
var actionOrder = []Action{ActionSendCollection, ActionDeleteCollection}

// DefaultTTL bounds how long an issued code stays valid.
const DefaultTTL = 5 * time.Minute

// Outcome is the result of checking user input against a pending code.
type Outcome int

const (
	// NotPending means no code was waiting; the input is something else.
	NotPending Outcome = iota
	Matched
	Mismatch
	Expired
)

func (o Outcome) String() string {
	switch o {
	case Matched:
		return "matched"
	case Mismatch:
		return "mismatch"
	case Expired:
		return "expired"
	default:
		return "not_pending"
	}
}

// Payload is the action context stored alongside a code.
type Payload struct {
	CollectionID types.CollectionID
	MessageID    int
}

// Store keeps pending codes inside user sessions.
type Store struct {
	sessions *session.Store
	ttl      time.Duration
	now      func() time.Time
	code     func() int
}

// NewStore creates a code store backed by the given sessions. A ttl of zero
// selects DefaultTTL.
func NewStore(sessions *session.Store, ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Store{
		sessions: sessions,
		ttl:      ttl,
		now:      time.Now,
		code:     func() int { return 1000 + rand.IntN(9000) },
	}
}

// Issue creates a 4-digit code for (user, action), replacing any code that
// was already pending for the same pair.
func (s *Store) Issue(user types.UserID, action Action, p Payload) int {
	code := s.code()
	sess := s.sessions.Get(user)
	sess.Lock()
	defer sess.Unlock()
	sess.Verifications[string(action)] = session.PendingCode{
		Code:         code,
		CollectionID: p.CollectionID,
		MessageID:    p.MessageID,
		IssuedAt:     s.now(),
	}
	return code
}

// Pending reports whether a code is waiting for (user, action).
func (s *Store) Pending(user types.UserID, action Action) bool {
	sess := s.sessions.Get(user)
	sess.Lock()
	defer sess.Unlock()
	_, ok := sess.Verifications[string(action)]
	return ok
}

// Check consumes the pending code for (user, action) and compares it with
// input. The entry is removed whatever the outcome, so a typo requires a
// fresh code. Non-numeric input is a mismatch.
func (s *Store) Check(user types.UserID, action Action, input string) (Outcome, Payload) {
	sess := s.sessions.Get(user)
	sess.Lock()
	pending, ok := sess.Verifications[string(action)]
	if ok {
		delete(sess.Verifications, string(action))
	}
	sess.Unlock()

	if !ok {
		return NotPending, Payload{}
	}
	if s.now().Sub(pending.IssuedAt) > s.ttl {
		return Expired, Payload{}
	}

	n, err := strconv.Atoi(strings.TrimSpace(input))
	if err != nil || n != pending.Code {
		return Mismatch, Payload{}
	}
	return Matched, Payload{CollectionID: pending.CollectionID, MessageID: pending.MessageID}
}

// Match checks input against every code pending for user and consumes the
// one it equals, leaving codes of other actions in place. Input equal to no
// pending code consumes them all; the outcome is Expired when every one of
// them had expired and Mismatch otherwise.
func (s *Store) Match(user types.UserID, input string) (Action, Outcome, Payload) {
	var pending []Action
	for _, a := range actionOrder {
		if s.Pending(user, a) {
			pending = append(pending, a)
		}
	}
	if len(pending) == 0 {
		return "", NotPending, Payload{}
	}
	if a, ok := s.actionFor(user, input, pending); ok {
		outcome, p := s.Check(user, a, input)
		return a, outcome, p
	}

	outcome := Expired
	for _, a := range pending {
		if o, _ := s.Check(user, a, input); o == Mismatch {
			outcome = Mismatch
		}
	}
	return pending[0], outcome, Payload{}
}

// actionFor finds the pending action whose code equals input.
func (s *Store) actionFor(user types.UserID, input string, pending []Action) (Action, bool) {
	n, err := strconv.Atoi(strings.TrimSpace(input))
	if err != nil {
		return "", false
	}
	sess := s.sessions.Get(user)
	sess.Lock()
	defer sess.Unlock()
	for _, a := range pending {
		if p, ok := sess.Verifications[string(a)]; ok && p.Code == n {
			return a, true
		}
	}
	return "", false
}

// Sweep removes expired codes from every session and returns how many were
// dropped.
func (s *Store) Sweep() int {
	cutoff := s.now().Add(-s.ttl)
	dropped := 0
	s.sessions.Each(func(sess *session.Session) {
		for action, p := range sess.Verifications {
			if p.IssuedAt.Before(cutoff) {
				delete(sess.Verifications, action)
				dropped++
			}
		}
	})
	return dropped
}
