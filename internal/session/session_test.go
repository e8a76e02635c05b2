package session

import (
	"sync"
	"testing"
	"time"

	"github.com/user/collectbot/internal/types"
)

func TestStoreGetIsStable(t *testing.T) {
	store := NewStore()

	a := store.Get(1)
	b := store.Get(1)
	if a != b {
		t.Error("expected same session for same user")
	}
	if store.Get(2) == a {
		t.Error("expected distinct session for different user")
	}
	if store.Len() != 2 {
		t.Errorf("expected 2 sessions, got %d", store.Len())
	}
}

func TestResetModes(t *testing.T) {
	store := NewStore()
	sess := store.Get(1)

	sess.Lock()
	sess.Mode = ModeImport
	sess.ActiveCollection = 9
	sess.Verifications["send_collection"] = PendingCode{Code: 1234}
	sess.AllowedItems[5] = true
	sess.ResetModes()
	sess.Unlock()

	if sess.Mode != ModeNone {
		t.Errorf("expected mode cleared, got %q", sess.Mode)
	}
	if len(sess.Verifications) != 0 || len(sess.AllowedItems) != 0 {
		t.Error("expected verifications and allowed items cleared")
	}
	if sess.ActiveCollection != 9 {
		t.Error("active collection must survive a mode reset")
	}
}

func TestIngestForCreatesOnce(t *testing.T) {
	sess := NewStore().Get(1)
	st := sess.IngestFor(types.CollectionID(3))
	st.Count = 4
	if sess.IngestFor(3).Count != 4 {
		t.Error("expected the same tracker on second lookup")
	}
	if sess.IngestFor(4).Count != 0 {
		t.Error("expected independent tracker per collection")
	}
}

func TestSweepDropsIdleSessionsWithState(t *testing.T) {
	now := time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC)
	store := NewStore()
	store.now = func() time.Time { return now }

	store.Get(1)
	active := store.Get(2)
	active.Lock()
	active.ActiveCollection = 7
	active.Unlock()
	shared := store.Get(3)
	shared.Lock()
	shared.SharedCode = "ABCDEFGH"
	shared.IngestFor(7).Count = 12
	shared.Unlock()

	now = now.Add(48 * time.Hour)
	store.Get(4)

	if removed := store.Sweep(24 * time.Hour); removed != 3 {
		t.Errorf("expected 3 removed sessions, got %d", removed)
	}
	if store.Len() != 1 {
		t.Errorf("expected 1 session left, got %d", store.Len())
	}
	if fresh := store.Get(3); fresh.SharedCode != "" || len(fresh.Ingest) != 0 {
		t.Errorf("expected share access to end with the session, got %+v", fresh)
	}
}

func TestSweepKeepsRecentlySeenSessions(t *testing.T) {
	now := time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC)
	store := NewStore()
	store.now = func() time.Time { return now }

	store.Get(1)
	now = now.Add(2 * time.Hour)
	store.Get(1)

	if removed := store.Sweep(time.Hour); removed != 0 {
		t.Errorf("expected touched session to survive, removed %d", removed)
	}
}

func TestGetDuringSweepKeepsFreshSession(t *testing.T) {
	store := NewStore()
	base := time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC)
	var clockMu sync.Mutex
	now := base
	store.now = func() time.Time {
		clockMu.Lock()
		defer clockMu.Unlock()
		return now
	}
	for id := types.UserID(1); id <= 50; id++ {
		store.Get(id)
	}
	clockMu.Lock()
	now = base.Add(2 * time.Hour)
	clockMu.Unlock()

	var wg sync.WaitGroup
	got := make([]*Session, 50)
	for i := range got {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			got[i] = store.Get(types.UserID(i + 1))
		}(i)
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		store.Sweep(time.Hour)
	}()
	wg.Wait()

	// Whether Get ran before or after the sweep, the session it returned is
	// the one the store still tracks.
	for i, sess := range got {
		if store.Get(types.UserID(i+1)) != sess {
			t.Errorf("user %d: session returned by Get was dropped", i+1)
		}
	}
	if store.Len() != 50 {
		t.Errorf("expected 50 sessions, got %d", store.Len())
	}
	if removed := store.Sweep(time.Hour); removed != 0 {
		t.Errorf("sessions touched after the clock moved were swept: %d", removed)
	}
}
