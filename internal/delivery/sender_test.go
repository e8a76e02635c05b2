package delivery_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/user/collectbot/internal/delivery"
	"github.com/user/collectbot/internal/testutil"
	"github.com/user/collectbot/internal/types"
)

func newTestSender(tr delivery.Transport) (*delivery.Sender, *testutil.Sleeps) {
	sleeps := &testutil.Sleeps{}
	s := delivery.NewSender(tr, &delivery.RetryPolicy{MaxAttempts: 2, Slack: time.Second})
	s.Sleep = sleeps.Sleep
	return s, sleeps
}

func photos(n int) []*types.Item {
	out := make([]*types.Item, n)
	for i := range out {
		out[i] = item(int64(i+1), types.KindPhoto, fmt.Sprintf("p%d", i+1), "")
	}
	return out
}

func TestSendBatchesSplitsIntoChunksOfTen(t *testing.T) {
	tr := testutil.NewFakeTransport()
	s, sleeps := newTestSender(tr)

	sum, err := s.Deliver(context.Background(), 1, photos(23))
	if err != nil {
		t.Fatal(err)
	}
	if sum.Sent != 3 || sum.Failed != 0 {
		t.Errorf("expected 3 sends, got %+v", sum)
	}

	calls := tr.Calls()
	if len(calls) != 3 {
		t.Fatalf("expected 3 calls, got %d", len(calls))
	}
	if calls[0].Op != "group" || len(calls[0].Messages) != 10 {
		t.Errorf("expected first album of 10, got %s/%d", calls[0].Op, len(calls[0].Messages))
	}
	if calls[2].Op != "group" || len(calls[2].Messages) != 3 {
		t.Errorf("expected last album of 3, got %s/%d", calls[2].Op, len(calls[2].Messages))
	}

	waits := sleeps.Waits()
	if len(waits) != 2 {
		t.Fatalf("expected 2 pacing delays between 3 albums, got %v", waits)
	}
	for _, w := range waits {
		if w != 4*time.Second {
			t.Errorf("expected 4s pacing, got %v", w)
		}
	}
}

func TestSendBatchesNoDelayBetweenFamilies(t *testing.T) {
	tr := testutil.NewFakeTransport()
	s, sleeps := newTestSender(tr)

	items := append(photos(2), item(10, types.KindDocument, "d1", ""), item(11, types.KindDocument, "d2", ""))
	if _, err := s.Deliver(context.Background(), 1, items); err != nil {
		t.Fatal(err)
	}
	if tr.Count("group") != 2 {
		t.Errorf("expected one album per family, got %d", tr.Count("group"))
	}
	if len(sleeps.Waits()) != 0 {
		t.Errorf("expected no delay between families, got %v", sleeps.Waits())
	}
}

func TestSendBatchesTextsArePacedIndividually(t *testing.T) {
	tr := testutil.NewFakeTransport()
	s, sleeps := newTestSender(tr)

	items := []*types.Item{
		item(1, types.KindText, "", "one"),
		item(2, types.KindText, "", "two"),
		item(3, types.KindText, "", "three"),
	}
	sum, err := s.Deliver(context.Background(), 1, items)
	if err != nil {
		t.Fatal(err)
	}
	if sum.Sent != 3 || tr.Count("send") != 3 {
		t.Errorf("expected 3 text sends, got %+v / %d", sum, tr.Count("send"))
	}
	waits := sleeps.Waits()
	if len(waits) != 2 || waits[0] != 500*time.Millisecond {
		t.Errorf("expected two 500ms delays, got %v", waits)
	}
	if tr.Calls()[1].Text != "two" {
		t.Errorf("expected texts in order, got %q", tr.Calls()[1].Text)
	}
}

func TestSendBatchesSingleItemUsesSend(t *testing.T) {
	tr := testutil.NewFakeTransport()
	s, _ := newTestSender(tr)

	if _, err := s.Deliver(context.Background(), 1, photos(11)); err != nil {
		t.Fatal(err)
	}
	if tr.Count("group") != 1 || tr.Count("send") != 1 {
		t.Errorf("expected 1 album and 1 single send, got %d/%d", tr.Count("group"), tr.Count("send"))
	}
}

func TestSendBatchesRetriesOnceAfterRateLimit(t *testing.T) {
	tr := testutil.NewFakeTransport()
	tr.FailNext("group", &delivery.RateLimitedError{RetryAfter: 2 * time.Second})
	s, sleeps := newTestSender(tr)

	sum, err := s.Deliver(context.Background(), 1, photos(5))
	if err != nil {
		t.Fatal(err)
	}
	if tr.Count("group") != 2 {
		t.Errorf("expected exactly one retry, got %d attempts", tr.Count("group"))
	}
	if sum.Sent != 1 || sum.Failed != 0 {
		t.Errorf("expected retried chunk to count as sent, got %+v", sum)
	}
	waits := sleeps.Waits()
	if len(waits) != 1 || waits[0] < 2*time.Second {
		t.Errorf("expected one backoff of at least 2s, got %v", waits)
	}
}

func TestSendBatchesAbandonsAfterSecondRateLimit(t *testing.T) {
	tr := testutil.NewFakeTransport()
	rl := &delivery.RateLimitedError{RetryAfter: time.Second}
	tr.FailNext("group", rl, rl)
	s, _ := newTestSender(tr)

	sum, err := s.Deliver(context.Background(), 1, photos(15))
	if err != nil {
		t.Fatal(err)
	}
	// chunk 1: two attempts, abandoned; chunk 2: 5 photos, one attempt.
	if tr.Count("group") != 3 {
		t.Errorf("expected 3 group attempts, got %d", tr.Count("group"))
	}
	if sum.Sent != 1 || sum.Failed != 1 {
		t.Errorf("expected 1 sent and 1 failed, got %+v", sum)
	}
}

func TestSendBatchesAbortsOnUnauthorized(t *testing.T) {
	tr := testutil.NewFakeTransport()
	tr.FailNext("group", delivery.ErrUnauthorized, delivery.ErrUnauthorized, delivery.ErrUnauthorized)
	s, _ := newTestSender(tr)

	items := append(photos(25), item(50, types.KindDocument, "d1", ""), item(51, types.KindDocument, "d2", ""))
	_, err := s.Deliver(context.Background(), 1, items)
	if !errors.Is(err, delivery.ErrUnauthorized) {
		t.Fatalf("expected unauthorized, got %v", err)
	}
	if len(tr.Calls()) != 1 {
		t.Errorf("expected no further sends after unauthorized, got %d calls", len(tr.Calls()))
	}
}

func TestSendBatchesContinuesAfterOtherErrors(t *testing.T) {
	tr := testutil.NewFakeTransport()
	tr.FailNext("send", errors.New("bad request: wrong file identifier"))
	s, _ := newTestSender(tr)

	items := []*types.Item{
		item(1, types.KindText, "", "one"),
		item(2, types.KindText, "", "two"),
	}
	sum, err := s.Deliver(context.Background(), 1, items)
	if err != nil {
		t.Fatal(err)
	}
	if sum.Sent != 1 || sum.Failed != 1 {
		t.Errorf("expected 1 sent, 1 failed, got %+v", sum)
	}
	if tr.Count("send") != 2 {
		t.Errorf("expected no retry for other errors, got %d sends", tr.Count("send"))
	}
}

func TestSendBatchesStopsOnCancel(t *testing.T) {
	tr := testutil.NewFakeTransport()
	s, _ := newTestSender(tr)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.Deliver(ctx, 1, photos(30))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context cancellation, got %v", err)
	}
	if tr.Count("group") != 1 {
		t.Errorf("expected to stop at the first pacing delay, got %d albums", tr.Count("group"))
	}
}
