package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	gosync "sync"
	"time"

	"github.com/google/uuid"

	"github.com/peteski22/dirsync/internal/config"
	"github.com/peteski22/dirsync/internal/graph"
	"github.com/peteski22/dirsync/internal/jobs"
	"github.com/peteski22/dirsync/internal/scheduler"
	"github.com/peteski22/dirsync/internal/sync"
)

// Action is a handler request action.
type Action string

const (
	// ActionConfigure updates the directory configuration.
	ActionConfigure Action = "configure"

	// ActionEvent applies a local user event to the given targets.
	ActionEvent Action = "event"

	// ActionRetryFailed re-syncs every failed target.
	ActionRetryFailed Action = "retry_failed"

	// ActionScheduled runs one scheduler pass.
	ActionScheduled Action = "scheduled"

	// ActionSyncMany syncs the given targets, or every pending target when none are given.
	ActionSyncMany Action = "sync_many"

	// ActionTestConnection checks the directory credentials and records the outcome.
	ActionTestConnection Action = "test_connection"

	// ActionVerify checks the remote link of the given targets without changing state.
	ActionVerify Action = "verify"
)

// Request is the Lambda invocation payload. The reconciler actions (sync, create, update, disable,
// delete, unlink, reset, disable_sync and enable_sync) are also accepted and run once for each target ID.
type Request struct {
	// Action selects the work to run.
	Action Action `json:"action"`

	// Directory carries the changes for ActionConfigure.
	Directory *DirectoryUpdate `json:"directory,omitempty"`

	// Event is the local user event for ActionEvent.
	Event jobs.Event `json:"event,omitempty"`

	// Force bypasses the per-target sync flag for sync requests.
	Force bool `json:"force,omitempty"`

	// TargetIDs are the local targets the action applies to.
	TargetIDs []string `json:"target_ids,omitempty"`
}

// DirectoryUpdate holds the configuration fields to change. Nil fields are left as they are.
type DirectoryUpdate struct {
	Authority           *string        `json:"authority,omitempty"`
	ClientID            *string        `json:"client_id,omitempty"`
	ClientSecret        *config.Secret `json:"client_secret,omitempty"`
	EnableAutomaticSync *bool          `json:"enable_automatic_sync,omitempty"`
	Enabled             *bool          `json:"enabled,omitempty"`
	PasswordLength      *int           `json:"default_password_length,omitempty"`
	Scope               *string        `json:"scope,omitempty"`
	SyncEnabled         *bool          `json:"sync_enabled,omitempty"`
	SyncInterval        *string        `json:"sync_interval,omitempty"`
	SyncOnCreate        *bool          `json:"sync_on_user_create,omitempty"`
	SyncOnDisable       *bool          `json:"sync_on_user_disable,omitempty"`
	SyncOnUpdate        *bool          `json:"sync_on_user_update,omitempty"`
	TenantID            *string        `json:"tenant_id,omitempty"`
}

// Response is the Lambda invocation result.
type Response struct {
	// AutomaticSync is true when a scheduled pass started a full sync.
	AutomaticSync bool `json:"automatic_sync,omitempty"`

	// Connection is the outcome of a connection test.
	Connection *ConnectionResult `json:"connection,omitempty"`

	// Directory is the saved configuration after ActionConfigure. The client secret is never included.
	Directory *config.Directory `json:"directory,omitempty"`

	// Errors lists problems that did not stop the rest of the request.
	Errors []string `json:"errors,omitempty"`

	// Jobs are the finished jobs.
	Jobs []JobResult `json:"jobs,omitempty"`

	// Swept is the number of stuck targets failed by a scheduled pass.
	Swept int `json:"swept,omitempty"`

	// Verifications are the outcomes of ActionVerify.
	Verifications []VerifyResult `json:"verifications,omitempty"`
}

// ConnectionResult is the outcome of a connection test.
type ConnectionResult struct {
	Error        string                  `json:"error,omitempty"`
	Organization *graph.Organization     `json:"organization,omitempty"`
	Status       config.ConnectionStatus `json:"status"`
}

// JobResult is a finished job.
type JobResult struct {
	Action          sync.Action `json:"action,omitempty"`
	Error           string      `json:"error,omitempty"`
	ID              string      `json:"id"`
	Kind            jobs.Kind   `json:"kind"`
	ManagerDeferred bool        `json:"manager_deferred,omitempty"`
	RemoteID        string      `json:"remote_id,omitempty"`
	State           jobs.State  `json:"state"`
	TargetID        string      `json:"target_id,omitempty"`

	// TemporaryPassword is returned to the caller once and is never logged or stored.
	TemporaryPassword string `json:"temporary_password,omitempty"`
}

// VerifyResult is the outcome of verifying one target.
type VerifyResult struct {
	Error    string `json:"error,omitempty"`
	Linked   bool   `json:"linked"`
	Orphaned bool   `json:"orphaned"`
	RemoteID string `json:"remote_id,omitempty"`
	Stale    bool   `json:"stale"`
	TargetID string `json:"target_id"`
}

// app holds the dependencies shared by every invocation of a warm Lambda instance.
type app struct {
	directory      *config.DirectoryCache
	logger         *slog.Logger
	retrier        *sync.Retrier
	store          sync.TargetStore
	stuckThreshold time.Duration
	workers        int
}

var (
	appInstance *app
	appMu       gosync.Mutex
)

// handler is the Lambda entry point.
func handler(ctx context.Context, req Request) (Response, error) {
	a, err := loadApp(ctx)
	if err != nil {
		slog.ErrorContext(ctx, "initialization failed", "error", err)
		return Response{}, err
	}
	return a.handle(ctx, req)
}

// loadApp builds the shared dependencies on first use.
func loadApp(ctx context.Context) (*app, error) {
	appMu.Lock()
	defer appMu.Unlock()

	if appInstance != nil {
		return appInstance, nil
	}

	settings, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	a, err := newApp(ctx, settings, slog.Default())
	if err != nil {
		return nil, err
	}
	appInstance = a
	return a, nil
}

// handle runs one request on a queue that lives for the invocation.
func (a *app) handle(ctx context.Context, req Request) (Response, error) {
	logger := a.logger.With("action", req.Action)
	logger.InfoContext(ctx, "handling request", "targets", len(req.TargetIDs))

	if req.Action == ActionConfigure {
		return a.configure(ctx, req.Directory)
	}
	if req.Action == ActionVerify {
		return a.verify(ctx, req.TargetIDs), nil
	}

	queue, err := jobs.New(jobs.Config{
		Directory: a.directory,
		Logger:    a.logger,
		Retrier:   a.retrier,
		Store:     a.store,
		Workers:   a.workers,
	})
	if err != nil {
		return Response{}, fmt.Errorf("creating job queue: %w", err)
	}
	defer func() {
		if err := queue.Close(ctx); err != nil {
			logger.WarnContext(ctx, "job queue did not drain", "error", err)
		}
	}()

	var (
		errs []error
		ids  []uuid.UUID
		resp Response
	)
	switch req.Action {
	case ActionEvent:
		for _, id := range req.TargetIDs {
			jobID, queued, err := queue.EnqueueEvent(ctx, id, req.Event)
			if err != nil {
				errs = append(errs, err)
				continue
			}
			if queued {
				ids = append(ids, jobID)
			}
		}
	case ActionRetryFailed:
		ids, err = queue.EnqueueRetryFailed(ctx)
		errs = append(errs, err)
	case ActionScheduled:
		report, err := a.runScheduled(ctx, queue)
		if err != nil {
			errs = append(errs, err)
		}
		ids = report.Enqueued
		resp.AutomaticSync = report.AutomaticSync
		resp.Swept = report.Swept
	case ActionSyncMany:
		ids, err = queue.EnqueueMany(ctx, req.TargetIDs, req.Force)
		errs = append(errs, err)
	case ActionTestConnection:
		id, err := queue.EnqueueTestConnection(ctx)
		if err != nil {
			return Response{}, err
		}
		ids = append(ids, id)
	default:
		if _, ok := reconcileActions[sync.Action(req.Action)]; !ok {
			return Response{}, fmt.Errorf("unsupported action %q", req.Action)
		}
		if len(req.TargetIDs) == 0 {
			return Response{}, errors.New("target IDs are required")
		}
		for _, id := range req.TargetIDs {
			jobID, err := queue.Enqueue(ctx, id, sync.Action(req.Action), req.Force)
			if err != nil {
				errs = append(errs, fmt.Errorf("enqueueing %s: %w", id, err))
				continue
			}
			ids = append(ids, jobID)
		}
	}

	finished, err := queue.WaitAll(ctx, ids)
	errs = append(errs, err)
	for _, j := range finished {
		resp.Jobs = append(resp.Jobs, newJobResult(j))
		if j.Kind == jobs.KindTestConnection {
			resp.Connection = newConnectionResult(j)
		}
	}
	resp.Errors = errorStrings(errs)

	logger.InfoContext(ctx, "request complete",
		"jobs", len(resp.Jobs),
		"failed", countFailed(resp.Jobs),
		"errors", len(resp.Errors),
	)

	return resp, nil
}

// reconcileActions are the reconciler actions accepted as request actions.
var reconcileActions = map[sync.Action]struct{}{
	sync.ActionCreate:      {},
	sync.ActionDelete:      {},
	sync.ActionDisable:     {},
	sync.ActionDisableSync: {},
	sync.ActionEnableSync:  {},
	sync.ActionReset:       {},
	sync.ActionSync:        {},
	sync.ActionUnlink:      {},
	sync.ActionUpdate:      {},
}

// configure applies update to the stored configuration.
func (a *app) configure(ctx context.Context, update *DirectoryUpdate) (Response, error) {
	if update == nil {
		return Response{}, errors.New("directory update is required")
	}

	a.directory.Invalidate()
	dir, err := a.directory.Directory(ctx)
	if err != nil {
		return Response{}, fmt.Errorf("loading directory configuration: %w", err)
	}

	if err := update.apply(&dir); err != nil {
		return Response{}, err
	}

	if err := a.directory.Save(ctx, dir); err != nil {
		return Response{}, fmt.Errorf("saving directory configuration: %w", err)
	}

	a.logger.InfoContext(ctx, "directory configuration saved",
		"enabled", dir.Enabled,
		"sync_enabled", dir.SyncEnabled,
		"configured", dir.IsConfigured(),
	)

	dir.ClientSecret = ""
	return Response{Directory: &dir}, nil
}

// runScheduled runs one scheduler pass against queue.
func (a *app) runScheduled(ctx context.Context, queue *jobs.Queue) (scheduler.Report, error) {
	s, err := scheduler.New(scheduler.Config{
		Directory:      a.directory,
		Logger:         a.logger,
		Queue:          queue,
		StuckThreshold: a.stuckThreshold,
		Sweeper:        a.retrier.Reconciler(),
	})
	if err != nil {
		return scheduler.Report{}, fmt.Errorf("creating scheduler: %w", err)
	}
	return s.RunOnce(ctx)
}

// verify checks the remote link of each target.
func (a *app) verify(ctx context.Context, targetIDs []string) Response {
	var resp Response
	reconciler := a.retrier.Reconciler()

	for _, id := range targetIDs {
		result := VerifyResult{TargetID: id}

		t, err := a.store.Target(ctx, id)
		if err != nil {
			result.Error = fmt.Sprintf("loading target: %s", err)
			resp.Verifications = append(resp.Verifications, result)
			continue
		}

		v, err := reconciler.Verify(ctx, t)
		if err != nil {
			result.Error = err.Error()
			resp.Verifications = append(resp.Verifications, result)
			continue
		}

		result.Linked = v.Linked
		result.Orphaned = v.Orphaned
		result.Stale = v.Stale
		if v.Remote != nil {
			result.RemoteID = v.Remote.ID
		}
		resp.Verifications = append(resp.Verifications, result)
	}

	return resp
}

// apply copies the set fields onto d.
func (u *DirectoryUpdate) apply(d *config.Directory) error {
	setString(&d.Authority, u.Authority)
	setString(&d.ClientID, u.ClientID)
	setString(&d.Scope, u.Scope)
	setString(&d.TenantID, u.TenantID)
	setBool(&d.EnableAutomaticSync, u.EnableAutomaticSync)
	setBool(&d.Enabled, u.Enabled)
	setBool(&d.SyncEnabled, u.SyncEnabled)
	setBool(&d.SyncOnCreate, u.SyncOnCreate)
	setBool(&d.SyncOnDisable, u.SyncOnDisable)
	setBool(&d.SyncOnUpdate, u.SyncOnUpdate)

	if u.ClientSecret != nil {
		d.ClientSecret = *u.ClientSecret
	}
	if u.PasswordLength != nil {
		d.PasswordLength = *u.PasswordLength
	}
	if u.SyncInterval != nil {
		interval, err := time.ParseDuration(*u.SyncInterval)
		if err != nil {
			return fmt.Errorf("parsing sync interval: %w", err)
		}
		d.SyncInterval = interval
	}

	return nil
}

func setBool(dst *bool, v *bool) {
	if v != nil {
		*dst = *v
	}
}

func setString(dst *string, v *string) {
	if v != nil {
		*dst = *v
	}
}

// newJobResult converts a finished job.
func newJobResult(j jobs.Job) JobResult {
	r := JobResult{
		Action:   j.Action,
		Error:    j.Error,
		ID:       j.ID.String(),
		Kind:     j.Kind,
		State:    j.State,
		TargetID: j.TargetID,
	}
	if j.Result != nil {
		r.ManagerDeferred = j.Result.ManagerDeferred
		r.RemoteID = j.Result.RemoteID
		r.TemporaryPassword = j.Result.TemporaryPassword.Reveal()
	}
	return r
}

// newConnectionResult converts a finished connection test job.
func newConnectionResult(j jobs.Job) *ConnectionResult {
	if j.State == jobs.StateSucceeded {
		return &ConnectionResult{Organization: j.Organization, Status: config.ConnectionConnected}
	}
	return &ConnectionResult{Error: j.Error, Status: config.ConnectionFailed}
}

func countFailed(results []JobResult) int {
	n := 0
	for _, r := range results {
		if r.State == jobs.StateFailed {
			n++
		}
	}
	return n
}

// errorStrings flattens errs, skipping nils and expanding joined errors.
func errorStrings(errs []error) []string {
	var out []string
	for _, err := range errs {
		if err == nil {
			continue
		}
		if joined, ok := err.(interface{ Unwrap() []error }); ok {
			out = append(out, errorStrings(joined.Unwrap())...)
			continue
		}
		out = append(out, err.Error())
	}
	return out
}
