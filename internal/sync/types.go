// Package sync reconciles local user records with the remote directory.
package sync

import (
	"context"
	"errors"
	"time"

	"github.com/peteski22/dirsync/internal/config"
	"github.com/peteski22/dirsync/internal/graph"
)

// ErrTargetNotFound is returned by a TargetStore when no target has the requested ID.
var ErrTargetNotFound = errors.New("sync target not found")

// Status is the persisted sync status of a target.
type Status string

const (
	// StatusDisabled means the remote account was removed and sync is refused until reset.
	StatusDisabled Status = "disabled"

	// StatusFailed means the last attempt failed.
	StatusFailed Status = "failed"

	// StatusPending means the target is waiting to be synchronized.
	StatusPending Status = "pending"

	// StatusSynced means the last attempt succeeded.
	StatusSynced Status = "synced"
)

// Action is a reconciliation action.
type Action string

const (
	// ActionCreate creates the remote account.
	ActionCreate Action = "create"

	// ActionDelete permanently deletes the remote account.
	ActionDelete Action = "delete"

	// ActionDisable blocks sign-in on the remote account.
	ActionDisable Action = "disable"

	// ActionDisableSync turns off the per-target sync flag and marks the target disabled.
	ActionDisableSync Action = "disable_sync"

	// ActionEnableSync turns on the per-target sync flag and returns the target to pending.
	ActionEnableSync Action = "enable_sync"

	// ActionReset returns the target to pending and clears its last error.
	ActionReset Action = "reset"

	// ActionSync creates or updates depending on whether the target is linked.
	ActionSync Action = "sync"

	// ActionUnlink forgets the remote identity so the next sync creates a new account.
	ActionUnlink Action = "unlink"

	// ActionUpdate updates the remote account.
	ActionUpdate Action = "update"
)

// State is the sync state persisted for a target.
type State struct {
	// LastError is "{kind}: {message}" for the last failed attempt, empty after success.
	LastError string

	// LastSyncAt is when the last successful remote call completed.
	LastSyncAt time.Time

	// RemoteID is the remote object ID. It is only ever assigned from a create response.
	RemoteID string

	// Status is the sync status.
	Status Status

	// UpdatedAt is when the state last changed.
	UpdatedAt time.Time
}

// Target is a local user subject to directory synchronization.
type Target struct {
	// AccountEnabled is whether the local user is active.
	AccountEnabled bool

	// CompanyName is the employing company.
	CompanyName string

	// Department is the department name.
	Department string

	// DisplayName is the full name. Derived from given name and surname when empty.
	DisplayName string

	// Email is the user principal name.
	Email string

	// EmployeeID is the HR identifier.
	EmployeeID string

	// EmployeeType is the employment type label.
	EmployeeType string

	// EndDate is the employment end date.
	EndDate time.Time

	// GivenName is the first name.
	GivenName string

	// HireDate is the hire date.
	HireDate time.Time

	// ID is the local primary key.
	ID string

	// JobTitle is the job title.
	JobTitle string

	// ManagerID is the local ID of the manager, empty if none.
	ManagerID string

	// OfficeLocation is the office location.
	OfficeLocation string

	// Phone is the business phone number.
	Phone string

	// StartDate is the employment start date.
	StartDate time.Time

	// State is the persisted sync state.
	State State

	// Surname is the last name.
	Surname string

	// SyncEnabled is whether directory sync applies to this target.
	SyncEnabled bool
}

// Result is the outcome of a single reconciliation call. It is never persisted.
type Result struct {
	// Action is the action that was attempted.
	Action Action

	// Error describes the failure when Success is false.
	Error *Error

	// ManagerDeferred is true when the manager reference was left out because the manager is not linked yet.
	ManagerDeferred bool

	// PersistErr is set when the remote call finished but the state could not be saved.
	PersistErr error

	// RemoteID is the target's remote object ID after the call.
	RemoteID string

	// Success indicates the remote call succeeded.
	Success bool

	// TargetID is the local target ID.
	TargetID string

	// TemporaryPassword is the initial password of a newly created account. It is returned once and never stored.
	TemporaryPassword config.Secret

	// recorded is true when the failure was written to the target state.
	recorded bool
}

// Verification is the outcome of a read-only reconciliation check against the directory.
type Verification struct {
	// Linked indicates the target has a remote ID.
	Linked bool

	// Orphaned is true when the target is unlinked but an account with its principal name exists.
	Orphaned bool

	// Remote is the remote record, nil if none was found.
	Remote *graph.RemoteUser

	// Stale is true when the target is linked but the remote account no longer exists.
	Stale bool
}

// TargetStore persists targets and their sync state.
type TargetStore interface {
	// EnabledTargets returns every target with sync enabled.
	EnabledTargets(ctx context.Context) ([]Target, error)

	// SaveState replaces the sync state of a target.
	SaveState(ctx context.Context, id string, state State) error

	// SaveSyncEnabled sets the per-target sync flag and replaces the sync state in one write.
	SaveSyncEnabled(ctx context.Context, id string, enabled bool, state State) error

	// Target returns a target by ID, or ErrTargetNotFound.
	Target(ctx context.Context, id string) (*Target, error)

	// TargetsByStatus returns every target with the given status.
	TargetsByStatus(ctx context.Context, status Status) ([]Target, error)
}

// ConfigSource provides the current directory configuration.
type ConfigSource interface {
	// Directory returns the directory configuration.
	Directory(ctx context.Context) (config.Directory, error)
}
