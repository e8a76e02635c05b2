package scheduler

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/user/collectbot/internal/session"
	"github.com/user/collectbot/internal/verify"
)

func TestSchedulerFiresTask(t *testing.T) {
	var fires atomic.Int32
	sched := New(Task{Name: "every-second", Schedule: "* * * * * *", Run: func() { fires.Add(1) }})
	if n := sched.Start(); n != 1 {
		t.Fatalf("expected 1 scheduled task, got %d", n)
	}
	defer sched.Stop()

	// Wait up to 2.5 seconds for at least one fire
	deadline := time.After(2500 * time.Millisecond)
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-deadline:
			t.Fatalf("task did not fire within 2.5s, fires=%d", fires.Load())
		case <-ticker.C:
			if fires.Load() > 0 {
				return
			}
		}
	}
}

func TestSchedulerSkipsInvalidTasks(t *testing.T) {
	var fires atomic.Int32
	run := func() { fires.Add(1) }

	sched := New(
		Task{Name: "no-schedule", Run: run},
		Task{Name: "bad-schedule", Schedule: "every tuesday", Run: run},
		Task{Name: "no-func", Schedule: "* * * * * *"},
	)
	if n := sched.Start(); n != 0 {
		t.Errorf("expected 0 scheduled tasks, got %d", n)
	}
	sched.Stop()

	if n := fires.Load(); n != 0 {
		t.Errorf("expected 0 fires, got %d", n)
	}
}

func TestMaintenanceSweeps(t *testing.T) {
	sessions := session.NewStore()
	codes := verify.NewStore(sessions, time.Millisecond)

	codes.Issue(1, verify.ActionSendCollection, verify.Payload{CollectionID: 7})
	sessions.Get(2)
	time.Sleep(10 * time.Millisecond)

	tasks := Maintenance(codes, sessions, time.Millisecond)
	if len(tasks) != 2 {
		t.Fatalf("expected 2 tasks, got %d", len(tasks))
	}
	for _, task := range tasks {
		if _, err := cronParser.Parse(task.Schedule); err != nil {
			t.Errorf("%s: %v", task.Name, err)
		}
	}

	tasks[0].Run()
	sess := sessions.Get(1)
	sess.Lock()
	pending := len(sess.Verifications)
	sess.Unlock()
	if pending != 0 {
		t.Errorf("expected expired code to be swept, %d left", pending)
	}

	time.Sleep(10 * time.Millisecond)
	tasks[1].Run()
	if n := sessions.Len(); n != 0 {
		t.Errorf("expected idle sessions to be swept, %d left", n)
	}
}
