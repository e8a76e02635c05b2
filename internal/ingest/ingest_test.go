package ingest_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/user/collectbot/internal/delivery"
	"github.com/user/collectbot/internal/ingest"
	"github.com/user/collectbot/internal/session"
	"github.com/user/collectbot/internal/testutil"
	"github.com/user/collectbot/internal/types"
)

const (
	user types.UserID       = 7
	chat types.ChatID       = 7
	coll types.CollectionID = 3
)

func setup() (*ingest.Notifier, *testutil.FakeTransport, *testutil.StubClock) {
	tr := testutil.NewFakeTransport()
	clock := testutil.FixedClock()
	return ingest.New(tr, session.NewStore(), clock), tr, clock
}

func TestBurstProducesOnePostAndOneEdit(t *testing.T) {
	n, tr, clock := setup()
	ctx := context.Background()

	for i := 0; i < 35; i++ {
		n.NotifyIngested(ctx, user, chat, coll, "trip")
		clock.Advance(100 * time.Millisecond)
	}

	if got := tr.Count("send"); got != 1 {
		t.Errorf("expected 1 initial post, got %d sends", got)
	}
	if got := tr.Count("edit"); got != 1 {
		t.Errorf("expected 1 phase-transition edit, got %d", got)
	}
	if got := tr.Count("delete"); got != 0 {
		t.Errorf("expected no resend, got %d deletes", got)
	}
	if n.Count(user, coll) != 35 {
		t.Errorf("expected count 35, got %d", n.Count(user, coll))
	}
}

func TestSteadyTimelineEditsAndResends(t *testing.T) {
	n, tr, clock := setup()
	ctx := context.Background()

	// item k arrives at (k-1) seconds
	for i := 0; i < 35; i++ {
		n.NotifyIngested(ctx, user, chat, coll, "trip")
		clock.Advance(time.Second)
	}

	if got := tr.Count("send"); got != 2 {
		t.Errorf("expected initial post plus one resend, got %d sends", got)
	}
	if got := tr.Count("delete"); got != 1 {
		t.Errorf("expected 1 delete at item 30, got %d", got)
	}
	if got := tr.Count("edit"); got != 7 {
		t.Errorf("expected 7 edits, got %d", got)
	}

	calls := tr.Calls()
	var resend testutil.Call
	for _, c := range calls {
		if c.Op == "delete" {
			if c.MessageID != 101 {
				t.Errorf("expected the original message to be deleted, got %d", c.MessageID)
			}
		}
		if c.Op == "send" {
			resend = c
		}
	}
	if len(resend.Keyboard) == 0 {
		t.Error("expected resent status to carry controls")
	}

	last := calls[len(calls)-1]
	if last.Op != "edit" || last.MessageID != 102 {
		t.Errorf("expected final edit to target the resent message, got %+v", last)
	}
}

func TestFirstEditAttachesControls(t *testing.T) {
	n, tr, clock := setup()
	ctx := context.Background()

	n.NotifyIngested(ctx, user, chat, coll, "trip")
	first := tr.Calls()[0]
	if len(first.Keyboard) != 0 {
		t.Error("expected intro message without buttons")
	}

	clock.Advance(1500 * time.Millisecond)
	n.NotifyIngested(ctx, user, chat, coll, "trip")

	edit := tr.Calls()[1]
	if edit.Op != "edit" || len(edit.Keyboard) != 1 || len(edit.Keyboard[0]) != 2 {
		t.Fatalf("expected edit with two controls, got %+v", edit)
	}
	if edit.Keyboard[0][1].Data != ingest.CallbackStop {
		t.Errorf("expected stop button, got %+v", edit.Keyboard[0][1])
	}
}

func TestEditFailureReanchors(t *testing.T) {
	n, tr, clock := setup()
	ctx := context.Background()
	tr.FailNext("edit", delivery.ErrNotFound)

	n.NotifyIngested(ctx, user, chat, coll, "trip")
	clock.Advance(2 * time.Second)
	n.NotifyIngested(ctx, user, chat, coll, "trip")
	clock.Advance(6 * time.Second)
	n.NotifyIngested(ctx, user, chat, coll, "trip")

	calls := tr.Calls()
	if len(calls) != 4 {
		t.Fatalf("expected send, failed edit, fresh send, edit; got %d calls", len(calls))
	}
	if calls[2].Op != "send" {
		t.Errorf("expected fallback send, got %s", calls[2].Op)
	}
	if calls[3].Op != "edit" || calls[3].MessageID != 102 {
		t.Errorf("expected edit of re-anchored message 102, got %+v", calls[3])
	}
}

func TestTransportFailuresAreSwallowed(t *testing.T) {
	n, tr, clock := setup()
	ctx := context.Background()
	tr.FailNext("send", errors.New("network down"))

	n.NotifyIngested(ctx, user, chat, coll, "trip")
	clock.Advance(time.Second)
	n.NotifyIngested(ctx, user, chat, coll, "trip")

	if got := tr.Count("send"); got != 2 {
		t.Errorf("expected the post to be retried on the next item, got %d sends", got)
	}
	if n.Count(user, coll) != 2 {
		t.Errorf("expected count to keep running, got %d", n.Count(user, coll))
	}
}

func TestStatusIsolatedPerCollection(t *testing.T) {
	n, tr, _ := setup()
	ctx := context.Background()

	n.NotifyIngested(ctx, user, chat, coll, "trip")
	n.NotifyIngested(ctx, user, chat, coll+1, "work")

	if tr.Count("send") != 2 {
		t.Errorf("expected one intro per collection, got %d", tr.Count("send"))
	}
	if n.Count(user, coll) != 1 || n.Count(user, coll+1) != 1 {
		t.Error("expected independent counters")
	}

	n.Reset(user, coll)
	if n.Count(user, coll) != 0 {
		t.Error("expected reset to clear the counter")
	}
	if n.Count(user, coll+1) != 1 {
		t.Error("expected reset to leave other collections alone")
	}

	n.NotifyIngested(ctx, user, chat, coll, "trip")
	if tr.Count("send") != 3 {
		t.Error("expected a fresh intro after reset")
	}
}
