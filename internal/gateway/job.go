package gateway

import (
	"context"
	"time"

	"github.com/user/collectbot/internal/types"
)

// JobStatus represents the lifecycle state of a Job.
type JobStatus string

const (
	JobStatusQueued   JobStatus = "queued"
	JobStatusRunning  JobStatus = "running"
	JobStatusComplete JobStatus = "complete"
	JobStatusFailed   JobStatus = "failed"
)

// Job is one unit of work handled on behalf of a user, typically the
// processing of a single inbound update.
type Job struct {
	ID        types.JobID
	UserID    types.UserID
	Name      string
	Status    JobStatus
	CreatedAt time.Time
	Run       func(ctx context.Context) error
	// OnError, when set, is told about a failed run so the user can be
	// informed.
	OnError func(err error)
}

// NewJob creates a Job in the Queued state.
func NewJob(user types.UserID, name string, run func(ctx context.Context) error) *Job {
	return &Job{
		ID:        types.NewJobID(),
		UserID:    user,
		Name:      name,
		Status:    JobStatusQueued,
		CreatedAt: time.Now(),
		Run:       run,
	}
}
