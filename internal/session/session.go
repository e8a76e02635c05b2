// Package session holds per-user ephemeral bot state: the active collection,
// redeemed share code, pending verification codes and ingestion status
// trackers. Nothing here is persisted.
package session

import (
	"sync"
	"time"

	"github.com/user/collectbot/internal/types"
)

// PendingCode is a one-time verification code waiting for user input.
type PendingCode struct {
	Code         int
	CollectionID types.CollectionID
	MessageID    int
	IssuedAt     time.Time
}

// IngestStatus tracks the status message shown while a user uploads items
// into one collection.
type IngestStatus struct {
	Count      int
	MessageID  int
	Phase      int
	LastUpdate time.Time
	LastFresh  time.Time
}

// Mode is a text-input mode that changes how the next plain message is read.
type Mode string

const (
	ModeNone             Mode = ""
	ModeCreateCollection Mode = "create_collection"
	ModeAwaitShareCode   Mode = "await_share_code"
	ModeImport           Mode = "import"
	ModeDeleteItems      Mode = "delete_items"
	ModeDetectID         Mode = "detect_id"
)

// Session is one user's state. Callers must hold the lock while reading or
// writing fields.
type Session struct {
	sync.Mutex

	UserID           types.UserID
	ActiveCollection types.CollectionID
	DeleteTarget     types.CollectionID
	SharedCode       string
	Mode             Mode
	PendingName      string
	Verifications    map[string]PendingCode
	Ingest           map[types.CollectionID]*IngestStatus
	AllowedItems     map[types.ItemID]bool
	LastSeen         time.Time
}

// ResetModes clears every text-input mode and pending verification. It is
// applied before each explicit command.
func (s *Session) ResetModes() {
	s.Mode = ModeNone
	s.PendingName = ""
	s.DeleteTarget = 0
	clear(s.Verifications)
	clear(s.AllowedItems)
}

// IngestFor returns the status tracker for a collection, creating it.
func (s *Session) IngestFor(id types.CollectionID) *IngestStatus {
	st, ok := s.Ingest[id]
	if !ok {
		st = &IngestStatus{}
		s.Ingest[id] = st
	}
	return st
}

// Store maps user ids to sessions.
type Store struct {
	mu       sync.Mutex
	sessions map[types.UserID]*Session
	now      func() time.Time
}

// NewStore creates an empty session store.
func NewStore() *Store {
	return &Store{
		sessions: make(map[types.UserID]*Session),
		now:      time.Now,
	}
}

// Get returns the session for a user, creating it on first use, and marks
// it as recently seen. LastSeen is set under the store lock so a concurrent
// Sweep cannot drop a session that was just handed out.
func (st *Store) Get(id types.UserID) *Session {
	st.mu.Lock()
	defer st.mu.Unlock()
	sess, ok := st.sessions[id]
	if !ok {
		sess = &Session{
			UserID:        id,
			Verifications: make(map[string]PendingCode),
			Ingest:        make(map[types.CollectionID]*IngestStatus),
			AllowedItems:  make(map[types.ItemID]bool),
		}
		st.sessions[id] = sess
	}
	sess.Lock()
	sess.LastSeen = st.now()
	sess.Unlock()
	return sess
}

// Len returns the number of tracked sessions.
func (st *Store) Len() int {
	st.mu.Lock()
	defer st.mu.Unlock()
	return len(st.sessions)
}

// Each calls fn for every session with that session's lock held.
func (st *Store) Each(fn func(*Session)) {
	st.mu.Lock()
	defer st.mu.Unlock()
	for _, sess := range st.sessions {
		sess.Lock()
		fn(sess)
		sess.Unlock()
	}
}

// Sweep drops sessions idle for longer than idle, whatever they hold: an
// active collection, redeemed share access and pending codes all end with
// the session. It returns the number of sessions removed.
func (st *Store) Sweep(idle time.Duration) int {
	cutoff := st.now().Add(-idle)

	st.mu.Lock()
	defer st.mu.Unlock()

	removed := 0
	for id, sess := range st.sessions {
		sess.Lock()
		stale := sess.LastSeen.Before(cutoff)
		sess.Unlock()
		if stale {
			delete(st.sessions, id)
			removed++
		}
	}
	return removed
}
