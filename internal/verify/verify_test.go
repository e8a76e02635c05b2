package verify

import (
	"testing"
	"time"

	"github.com/user/collectbot/internal/session"
)

func newTestStore() (*Store, *time.Time) {
	now := time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC)
	s := NewStore(session.NewStore(), time.Minute)
	s.now = func() time.Time { return now }
	s.code = func() int { return 4321 }
	return s, &now
}

func TestIssueThenCheckMatches(t *testing.T) {
	s, _ := newTestStore()

	code := s.Issue(1, ActionSendCollection, Payload{CollectionID: 9, MessageID: 77})
	if code != 4321 {
		t.Fatalf("expected stubbed code, got %d", code)
	}

	outcome, payload := s.Check(1, ActionSendCollection, " 4321 ")
	if outcome != Matched {
		t.Fatalf("expected matched, got %s", outcome)
	}
	if payload.CollectionID != 9 || payload.MessageID != 77 {
		t.Errorf("unexpected payload %+v", payload)
	}

	if outcome, _ := s.Check(1, ActionSendCollection, "4321"); outcome != NotPending {
		t.Errorf("expected entry consumed, got %s", outcome)
	}
}

func TestWrongCodeConsumesEntry(t *testing.T) {
	s, _ := newTestStore()
	s.Issue(1, ActionDeleteCollection, Payload{CollectionID: 3})

	outcome, payload := s.Check(1, ActionDeleteCollection, "1111")
	if outcome != Mismatch {
		t.Fatalf("expected mismatch, got %s", outcome)
	}
	if payload != (Payload{}) {
		t.Errorf("expected empty payload on mismatch, got %+v", payload)
	}
	if s.Pending(1, ActionDeleteCollection) {
		t.Error("expected entry removed after wrong guess")
	}
}

func TestNonNumericInputIsMismatch(t *testing.T) {
	s, _ := newTestStore()
	s.Issue(1, ActionSendCollection, Payload{})

	if outcome, _ := s.Check(1, ActionSendCollection, "yes please"); outcome != Mismatch {
		t.Errorf("expected mismatch, got %s", outcome)
	}
	if outcome, _ := s.Check(1, ActionSendCollection, "4321"); outcome != NotPending {
		t.Errorf("expected not pending after malformed input, got %s", outcome)
	}
}

func TestIssueOverwritesPrevious(t *testing.T) {
	s, _ := newTestStore()
	s.Issue(1, ActionSendCollection, Payload{CollectionID: 1})
	s.code = func() int { return 5555 }
	s.Issue(1, ActionSendCollection, Payload{CollectionID: 2})

	if outcome, _ := s.Check(1, ActionSendCollection, "4321"); outcome != Mismatch {
		t.Errorf("expected old code to be replaced, got %s", outcome)
	}
}

func TestActionsAndUsersAreIndependent(t *testing.T) {
	s, _ := newTestStore()
	s.Issue(1, ActionSendCollection, Payload{CollectionID: 1})

	if outcome, _ := s.Check(1, ActionDeleteCollection, "4321"); outcome != NotPending {
		t.Errorf("expected other action not pending, got %s", outcome)
	}
	if outcome, _ := s.Check(2, ActionSendCollection, "4321"); outcome != NotPending {
		t.Errorf("expected other user not pending, got %s", outcome)
	}
	if !s.Pending(1, ActionSendCollection) {
		t.Error("expected original entry untouched")
	}
}

func TestExpiredCode(t *testing.T) {
	s, now := newTestStore()
	s.Issue(1, ActionSendCollection, Payload{CollectionID: 1})
	*now = now.Add(2 * time.Minute)

	if outcome, _ := s.Check(1, ActionSendCollection, "4321"); outcome != Expired {
		t.Errorf("expected expired, got %s", outcome)
	}
	if s.Pending(1, ActionSendCollection) {
		t.Error("expected expired entry consumed")
	}
}

func TestSweep(t *testing.T) {
	s, now := newTestStore()
	s.Issue(1, ActionSendCollection, Payload{})
	*now = now.Add(2 * time.Minute)
	s.Issue(2, ActionSendCollection, Payload{})

	if dropped := s.Sweep(); dropped != 1 {
		t.Errorf("expected 1 dropped code, got %d", dropped)
	}
	if !s.Pending(2, ActionSendCollection) {
		t.Error("expected fresh code to survive sweep")
	}
}

func TestIssuedCodesAreFourDigits(t *testing.T) {
	s := NewStore(session.NewStore(), 0)
	for i := 0; i < 200; i++ {
		code := s.Issue(1, ActionSendCollection, Payload{})
		if code < 1000 || code > 9999 {
			t.Fatalf("code %d is not 4 digits", code)
		}
	}
}

func TestMatchPicksActionByCode(t *testing.T) {
	s, _ := newTestStore()
	s.Issue(1, ActionSendCollection, Payload{CollectionID: 1})
	s.code = func() int { return 5555 }
	s.Issue(1, ActionDeleteCollection, Payload{CollectionID: 2, MessageID: 8})

	action, outcome, payload := s.Match(1, "5555")
	if action != ActionDeleteCollection || outcome != Matched || payload.CollectionID != 2 {
		t.Fatalf("got %s %s %+v", action, outcome, payload)
	}
	if !s.Pending(1, ActionSendCollection) {
		t.Error("expected the send code to stay pending")
	}

	action, outcome, _ = s.Match(1, "4321")
	if action != ActionSendCollection || outcome != Matched {
		t.Errorf("got %s %s", action, outcome)
	}
}

func TestMatchWrongInputConsumesAll(t *testing.T) {
	s, now := newTestStore()
	s.Issue(1, ActionSendCollection, Payload{})
	s.Issue(1, ActionDeleteCollection, Payload{})

	if _, outcome, _ := s.Match(1, "0000"); outcome != Mismatch {
		t.Errorf("expected mismatch, got %s", outcome)
	}
	if s.Pending(1, ActionSendCollection) || s.Pending(1, ActionDeleteCollection) {
		t.Error("expected every pending code consumed")
	}
	if _, outcome, _ := s.Match(1, "4321"); outcome != NotPending {
		t.Errorf("expected not pending, got %s", outcome)
	}

	s.Issue(2, ActionSendCollection, Payload{})
	*now = now.Add(2 * time.Minute)
	if _, outcome, _ := s.Match(2, "4321"); outcome != Expired {
		t.Errorf("expected expired, got %s", outcome)
	}
}
