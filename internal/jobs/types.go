// Package jobs runs reconciliation work asynchronously on a fixed pool of workers.
package jobs

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/peteski22/dirsync/internal/config"
	"github.com/peteski22/dirsync/internal/graph"
	"github.com/peteski22/dirsync/internal/sync"
)

// ErrQueueClosed is returned when work is submitted after Close.
var ErrQueueClosed = errors.New("job queue is closed")

// ErrJobNotFound is returned for an unknown or expired job ID.
var ErrJobNotFound = errors.New("job not found")

// State is the lifecycle state of a job.
type State string

const (
	// StateFailed means the job finished without success.
	StateFailed State = "failed"

	// StateQueued means the job is waiting for a worker.
	StateQueued State = "queued"

	// StateRunning means a worker is executing the job.
	StateRunning State = "running"

	// StateSucceeded means the job finished successfully.
	StateSucceeded State = "succeeded"
)

// Kind is the work a job performs.
type Kind string

const (
	// KindReconcile runs a reconciler action against one target.
	KindReconcile Kind = "reconcile"

	// KindTestConnection checks the directory credentials and records the outcome on the configuration.
	KindTestConnection Kind = "test_connection"
)

// Event is a change to a local user that may trigger a sync.
type Event string

const (
	// EventCreated is raised when a local user is created.
	EventCreated Event = "created"

	// EventDeactivated is raised when a local user is deactivated.
	EventDeactivated Event = "deactivated"

	// EventUpdated is raised when a local user is updated.
	EventUpdated Event = "updated"
)

// Job is a snapshot of submitted work.
type Job struct {
	// Action is the reconciler action for KindReconcile jobs.
	Action sync.Action

	// CreatedAt is when the job was submitted.
	CreatedAt time.Time

	// Error describes why the job failed.
	Error string

	// FinishedAt is when the job finished.
	FinishedAt time.Time

	// ID identifies the job.
	ID uuid.UUID

	// Kind is the work the job performs.
	Kind Kind

	// Organization is the tenant reached by a KindTestConnection job.
	Organization *graph.Organization

	// Result is the reconciliation outcome of a KindReconcile job.
	Result *sync.Result

	// StartedAt is when a worker picked the job up.
	StartedAt time.Time

	// State is the lifecycle state.
	State State

	// TargetID is the target of a KindReconcile job.
	TargetID string
}

// Done reports whether the job has finished.
func (j Job) Done() bool {
	return j.State == StateSucceeded || j.State == StateFailed
}

// DirectorySource provides the directory configuration and records connection test outcomes.
type DirectorySource interface {
	// Directory returns the current configuration.
	Directory(ctx context.Context) (config.Directory, error)

	// RecordConnectionTest stores the outcome of a connection test.
	RecordConnectionTest(ctx context.Context, test config.ConnectionTest) error
}
