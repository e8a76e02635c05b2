// Package scheduler runs periodic maintenance on cron schedules.
package scheduler

import (
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// Task is a named function fired on a cron schedule.
type Task struct {
	Name     string
	Schedule string
	Run      func()
}

// Scheduler fires registered tasks from a cron ticker.
type Scheduler struct {
	tasks []Task
	cron  *cron.Cron
}

// cronParser accepts both standard 5-field cron expressions and 6-field
// expressions with an optional seconds field.
var cronParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// New creates a Scheduler for tasks. Nothing fires until Start.
func New(tasks ...Task) *Scheduler {
	return &Scheduler{
		tasks: tasks,
		cron:  cron.New(cron.WithParser(cronParser)),
	}
}

// Start registers every task with a valid schedule and starts the ticker.
// It returns the number of tasks scheduled.
func (s *Scheduler) Start() int {
	scheduled := 0
	for _, task := range s.tasks {
		if task.Schedule == "" || task.Run == nil {
			continue
		}
		task := task
		_, err := s.cron.AddFunc(task.Schedule, func() {
			slog.Debug("cron firing task", "name", task.Name)
			task.Run()
		})
		if err != nil {
			slog.Error("invalid cron schedule", "name", task.Name, "schedule", task.Schedule, "error", err)
			continue
		}
		scheduled++
		slog.Info("scheduled task", "name", task.Name, "schedule", task.Schedule)
	}

	s.cron.Start()
	return scheduled
}

// Stop stops the ticker and waits for running tasks to return.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

type codeSweeper interface {
	Sweep() int
}

type sessionSweeper interface {
	Sweep(idle time.Duration) int
}

// Maintenance returns the housekeeping tasks: dropping expired
// verification codes every minute and idle sessions every ten.
func Maintenance(codes codeSweeper, sessions sessionSweeper, idle time.Duration) []Task {
	return []Task{
		{
			Name:     "sweep-codes",
			Schedule: "@every 1m",
			Run: func() {
				if n := codes.Sweep(); n > 0 {
					slog.Debug("expired verification codes dropped", "count", n)
				}
			},
		},
		{
			Name:     "sweep-sessions",
			Schedule: "@every 10m",
			Run: func() {
				if n := sessions.Sweep(idle); n > 0 {
					slog.Info("idle sessions dropped", "count", n)
				}
			},
		},
	}
}
