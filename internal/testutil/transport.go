// Package testutil provides in-memory fakes shared by package tests.
package testutil

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/user/collectbot/internal/delivery"
	"github.com/user/collectbot/internal/types"
)

// Call is one recorded Transport invocation.
type Call struct {
	Op        string // "send", "group", "edit", "delete"
	Chat      types.ChatID
	MessageID int
	Text      string
	Messages  []delivery.Message
	Keyboard  delivery.Keyboard
}

// FakeTransport records calls and replays scripted errors. It is safe for
// concurrent use and tracks the peak number of overlapping calls.
type FakeTransport struct {
	mu     sync.Mutex
	calls  []Call
	errs   map[string][]error
	nextID int

	// Hold, when set, is applied inside every call to widen overlap windows.
	Hold time.Duration

	inflight atomic.Int32
	peak     atomic.Int32
}

// NewFakeTransport creates a transport whose first sent message gets id 101.
func NewFakeTransport() *FakeTransport {
	return &FakeTransport{errs: make(map[string][]error), nextID: 100}
}

// FailNext queues errors returned by the next calls of op, in order.
func (f *FakeTransport) FailNext(op string, errs ...error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errs[op] = append(f.errs[op], errs...)
}

// Calls returns a copy of the recorded calls.
func (f *FakeTransport) Calls() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Call, len(f.calls))
	copy(out, f.calls)
	return out
}

// Count returns how many calls of op were recorded, including failed ones.
func (f *FakeTransport) Count(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c.Op == op {
			n++
		}
	}
	return n
}

// Peak returns the highest number of simultaneous in-flight calls.
func (f *FakeTransport) Peak() int {
	return int(f.peak.Load())
}

func (f *FakeTransport) enter() func() {
	cur := f.inflight.Add(1)
	for {
		old := f.peak.Load()
		if cur <= old || f.peak.CompareAndSwap(old, cur) {
			break
		}
	}
	if f.Hold > 0 {
		time.Sleep(f.Hold)
	}
	return func() { f.inflight.Add(-1) }
}

func (f *FakeTransport) record(c Call) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, c)
	if queued := f.errs[c.Op]; len(queued) > 0 {
		err := queued[0]
		f.errs[c.Op] = queued[1:]
		if err != nil {
			return 0, err
		}
	}
	if c.Op != "send" {
		return 0, nil
	}
	f.nextID++
	return f.nextID, nil
}

func (f *FakeTransport) Send(_ context.Context, chat types.ChatID, msg delivery.Message) (int, error) {
	defer f.enter()()
	return f.record(Call{Op: "send", Chat: chat, Text: msg.Text, Messages: []delivery.Message{msg}, Keyboard: msg.Keyboard})
}

func (f *FakeTransport) SendGroup(_ context.Context, chat types.ChatID, media []delivery.Message) error {
	defer f.enter()()
	_, err := f.record(Call{Op: "group", Chat: chat, Messages: media})
	return err
}

func (f *FakeTransport) Edit(_ context.Context, chat types.ChatID, messageID int, text string, kb delivery.Keyboard) error {
	defer f.enter()()
	_, err := f.record(Call{Op: "edit", Chat: chat, MessageID: messageID, Text: text, Keyboard: kb})
	return err
}

func (f *FakeTransport) Delete(_ context.Context, chat types.ChatID, messageID int) error {
	defer f.enter()()
	_, err := f.record(Call{Op: "delete", Chat: chat, MessageID: messageID})
	return err
}

var _ delivery.Transport = (*FakeTransport)(nil)
