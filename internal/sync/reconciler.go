package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/peteski22/dirsync/internal/config"
	"github.com/peteski22/dirsync/internal/graph"
)

// Config holds the required configuration for creating a Reconciler.
type Config struct {
	// Client is the remote directory client.
	Client DirectoryClient

	// Directory provides the directory configuration.
	Directory ConfigSource

	// DryRun indicates whether to skip writes to the remote directory.
	DryRun bool

	// Logger is the structured logger for the reconciler.
	Logger *slog.Logger

	// Store persists target sync state.
	Store TargetStore
}

// validate checks that all required Config fields are set.
func (c *Config) validate() error {
	var errs []error
	if c.Client == nil {
		errs = append(errs, errors.New("directory client is required"))
	}
	if c.Directory == nil {
		errs = append(errs, errors.New("directory configuration source is required"))
	}
	if c.Store == nil {
		errs = append(errs, errors.New("target store is required"))
	}
	return errors.Join(errs...)
}

// Reconciler decides how to bring a remote account in line with a local target and records the outcome.
// It is the only writer of target sync state.
type Reconciler struct {
	// client makes the remote directory calls.
	client DirectoryClient

	// directory supplies the configuration read on every gated action.
	directory ConfigSource

	// dryRun reports that client suppresses writes.
	dryRun bool

	// logger receives action outcomes.
	logger *slog.Logger

	// now returns the current time.
	now func() time.Time

	// store persists target sync state.
	store TargetStore
}

// New creates a new Reconciler.
func New(cfg Config) (*Reconciler, error) {
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	client := cfg.Client
	if cfg.DryRun {
		client = newDryRunClient(cfg.Client, logger)
	}

	return &Reconciler{
		client:    client,
		directory: cfg.Directory,
		dryRun:    cfg.DryRun,
		logger:    logger,
		now:       time.Now,
		store:     cfg.Store,
	}, nil
}

// Sync creates the remote account when t is unlinked and updates it otherwise.
// Unless force is set, targets with sync disabled are refused without any remote call.
func (r *Reconciler) Sync(ctx context.Context, t *Target, force bool) Result {
	return r.run(ctx, t, ActionSync, force, true)
}

// Create creates the remote account, failing with KindAlreadyLinked when t already has a remote ID.
func (r *Reconciler) Create(ctx context.Context, t *Target) Result {
	return r.run(ctx, t, ActionCreate, true, true)
}

// Update updates the remote account, failing with KindNotLinked when t has no remote ID.
func (r *Reconciler) Update(ctx context.Context, t *Target) Result {
	return r.run(ctx, t, ActionUpdate, true, true)
}

// Disable blocks sign-in on the remote account.
func (r *Reconciler) Disable(ctx context.Context, t *Target) Result {
	return r.run(ctx, t, ActionDisable, true, true)
}

// Delete permanently deletes the remote account. On success the remote ID is cleared and the
// target is marked disabled.
func (r *Reconciler) Delete(ctx context.Context, t *Target) Result {
	return r.run(ctx, t, ActionDelete, true, true)
}

// Unlink forgets the remote identity and last sync time of t so that the next sync creates a new
// account. The remote account itself is left untouched.
func (r *Reconciler) Unlink(ctx context.Context, t *Target) Result {
	res := Result{Action: ActionUnlink, RemoteID: t.State.RemoteID, TargetID: t.ID}
	if t.State.RemoteID == "" {
		res.Error = newError(KindNotLinked, "target has no remote identity")
		return res
	}

	state := t.State
	state.LastError = ""
	state.LastSyncAt = time.Time{}
	state.RemoteID = ""
	state.Status = StatusPending
	state.UpdatedAt = r.now()

	res.PersistErr = r.save(ctx, t, state)
	res.RemoteID = ""
	res.Success = res.PersistErr == nil

	r.logger.InfoContext(ctx, "unlinked target", "target_id", t.ID)
	return res
}

// Reset returns t to pending and clears its last error, keeping any remote identity.
func (r *Reconciler) Reset(ctx context.Context, t *Target) Result {
	state := t.State
	state.LastError = ""
	state.Status = StatusPending
	state.UpdatedAt = r.now()

	res := Result{Action: ActionReset, RemoteID: t.State.RemoteID, TargetID: t.ID}
	res.PersistErr = r.save(ctx, t, state)
	res.Success = res.PersistErr == nil

	return res
}

// DisableSync turns off the sync flag of t so scheduled runs skip it, and marks it disabled.
// No remote call is made and the remote identity is kept.
func (r *Reconciler) DisableSync(ctx context.Context, t *Target) Result {
	return r.setSyncEnabled(ctx, t, ActionDisableSync, false, StatusDisabled)
}

// EnableSync turns on the sync flag of t and returns it to pending, keeping any remote identity.
func (r *Reconciler) EnableSync(ctx context.Context, t *Target) Result {
	return r.setSyncEnabled(ctx, t, ActionEnableSync, true, StatusPending)
}

func (r *Reconciler) setSyncEnabled(ctx context.Context, t *Target, action Action, enabled bool, status Status) Result {
	state := t.State
	state.LastError = ""
	state.Status = status
	state.UpdatedAt = r.now()

	res := Result{Action: action, RemoteID: t.State.RemoteID, TargetID: t.ID}
	if err := r.store.SaveSyncEnabled(context.WithoutCancel(ctx), t.ID, enabled, state); err != nil {
		r.logger.ErrorContext(ctx, "failed to save sync enabled",
			"target_id", t.ID,
			"sync_enabled", enabled,
			"error", err)
		res.PersistErr = fmt.Errorf("saving sync flag for target %s: %w", t.ID, err)
		return res
	}

	t.State = state
	t.SyncEnabled = enabled
	res.Success = true

	r.logger.InfoContext(ctx, "changed target sync flag", "target_id", t.ID, "sync_enabled", enabled)
	return res
}

// ManagerReady reports whether the manager of t, if any, is already linked.
// A report whose manager is not ready is synced without the manager reference.
func (r *Reconciler) ManagerReady(ctx context.Context, t *Target) (bool, error) {
	if t.ManagerID == "" {
		return true, nil
	}
	mgr, err := r.store.Target(ctx, t.ManagerID)
	if err != nil {
		return false, fmt.Errorf("loading manager %s: %w", t.ManagerID, err)
	}
	return mgr.State.RemoteID != "", nil
}

// Verify reads the remote directory to check the link of t. It never changes any state.
// An unlinked target whose principal name exists remotely is reported as orphaned, which
// happens when a create succeeded but its state was never saved.
func (r *Reconciler) Verify(ctx context.Context, t *Target) (*Verification, error) {
	dir, err := r.directory.Directory(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading directory configuration: %w", err)
	}
	if !dir.IsConfigured() {
		return nil, newError(KindNotConfigured, "directory credentials are not configured")
	}

	v := &Verification{Linked: t.State.RemoteID != ""}

	lookup := t.State.RemoteID
	if !v.Linked {
		lookup = strings.TrimSpace(t.Email)
		if lookup == "" {
			return v, nil
		}
	}

	remote, err := r.client.GetUser(ctx, lookup)
	if err != nil {
		e := fromClientError(err)
		if e.Kind == KindHTTP && e.StatusCode == http.StatusNotFound {
			v.Stale = v.Linked
			return v, nil
		}
		return nil, e
	}

	v.Remote = remote
	v.Orphaned = !v.Linked
	return v, nil
}

// TestConnection checks that the directory can be reached with the configured credentials.
func (r *Reconciler) TestConnection(ctx context.Context) (*graph.Organization, error) {
	dir, err := r.directory.Directory(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading directory configuration: %w", err)
	}
	if !dir.IsConfigured() {
		return nil, newError(KindNotConfigured, "directory credentials are not configured")
	}

	org, err := r.client.Organization(ctx)
	if err != nil {
		return nil, fromClientError(err)
	}
	return org, nil
}

// SweepStuckPending fails every pending target whose state has not changed for longer than threshold.
// Targets with no recorded state change are left alone. It returns the number of targets transitioned.
func (r *Reconciler) SweepStuckPending(ctx context.Context, threshold time.Duration) (int, error) {
	targets, err := r.store.TargetsByStatus(ctx, StatusPending)
	if err != nil {
		return 0, fmt.Errorf("listing pending targets: %w", err)
	}

	now := r.now()
	cutoff := now.Add(-threshold)

	var (
		errs  []error
		swept int
	)
	for i := range targets {
		t := &targets[i]
		// A target whose state has never been written has no known age.
		if t.State.UpdatedAt.IsZero() || !t.State.UpdatedAt.Before(cutoff) {
			continue
		}

		state := t.State
		state.LastError = fmt.Sprintf("stuck: no progress while pending for more than %s", threshold)
		state.Status = StatusFailed
		state.UpdatedAt = now

		if err := r.save(ctx, t, state); err != nil {
			errs = append(errs, err)
			continue
		}
		swept++
		r.logger.WarnContext(ctx, "failed stuck pending target", "target_id", t.ID, "threshold", threshold)
	}

	return swept, errors.Join(errs...)
}

// run executes action against t. final controls whether a transient failure is recorded as failed
// or left pending for another attempt.
func (r *Reconciler) run(ctx context.Context, t *Target, action Action, force bool, final bool) Result {
	res := Result{Action: action, RemoteID: t.State.RemoteID, TargetID: t.ID}

	dir, gateErr := r.gate(ctx, t, action, force)
	if gateErr != nil {
		res.Error = gateErr
		r.logger.InfoContext(ctx, "sync refused",
			"target_id", t.ID,
			"action", action,
			"reason", gateErr.Kind)
		return res
	}

	linked := t.State.RemoteID != ""
	switch action {
	case ActionSync:
		if linked {
			return r.update(ctx, t, res, final)
		}
		return r.create(ctx, t, dir, res, final)
	case ActionCreate:
		if linked {
			res.Error = newError(KindAlreadyLinked, "target already has remote identity "+t.State.RemoteID)
			return res
		}
		return r.create(ctx, t, dir, res, final)
	}

	if !linked {
		res.Error = newError(KindNotLinked, "target has no remote identity")
		return res
	}

	switch action {
	case ActionUpdate:
		return r.update(ctx, t, res, final)
	case ActionDisable:
		return r.disable(ctx, t, res, final)
	case ActionDelete:
		return r.delete(ctx, t, res, final)
	default:
		res.Error = newError(KindHTTP, fmt.Sprintf("unsupported action %q", action))
		return res
	}
}

// gate applies the entity and configuration checks that precede any remote call.
// A non-nil Error means the call is refused and no state is changed.
func (r *Reconciler) gate(ctx context.Context, t *Target, action Action, force bool) (config.Directory, *Error) {
	if t.State.Status == StatusDisabled && (action == ActionSync || action == ActionCreate || action == ActionUpdate) {
		return config.Directory{}, newError(KindSyncDisabledForEntity, "target is disabled; reset it before syncing")
	}
	if action == ActionSync && !t.SyncEnabled && !force {
		return config.Directory{}, newError(KindSyncDisabledForEntity, "directory sync is disabled for this target")
	}

	dir, err := r.directory.Directory(ctx)
	if err != nil {
		return config.Directory{}, newError(KindTransport, "loading directory configuration: "+err.Error())
	}
	if !dir.IsConfigured() {
		return config.Directory{}, newError(KindNotConfigured, "directory credentials are not configured")
	}
	if !dir.SyncActive() {
		return config.Directory{}, newError(KindSyncGloballyDisabled, "directory sync is disabled")
	}

	return dir, nil
}

// create creates the remote account and links t to it.
func (r *Reconciler) create(ctx context.Context, t *Target, dir config.Directory, res Result, final bool) Result {
	password, err := GeneratePassword(dir.PasswordLength)
	if err != nil {
		res.Error = newError(KindTransport, err.Error())
		return res
	}

	fields, deferred := r.fields(ctx, t)
	res.ManagerDeferred = deferred

	remoteID, err := r.client.CreateUser(ctx, fields, password)
	if err != nil {
		return r.recordFailure(ctx, t, res, fromClientError(err), final)
	}

	now := r.now()
	state := t.State
	state.LastError = ""
	state.LastSyncAt = now
	state.RemoteID = remoteID
	state.Status = StatusSynced
	state.UpdatedAt = now

	res.PersistErr = r.save(ctx, t, state)
	res.RemoteID = remoteID
	res.Success = true
	res.TemporaryPassword = password

	r.logger.InfoContext(ctx, "created remote user",
		"target_id", t.ID,
		"remote_id", remoteID,
		"manager_deferred", deferred,
		"dry_run", r.dryRun)
	return res
}

// update pushes the mapped fields of t to its remote account.
func (r *Reconciler) update(ctx context.Context, t *Target, res Result, final bool) Result {
	fields, deferred := r.fields(ctx, t)
	res.ManagerDeferred = deferred

	if err := r.client.UpdateUser(ctx, t.State.RemoteID, fields); err != nil {
		return r.recordFailure(ctx, t, res, fromClientError(err), final)
	}

	r.recordSuccess(ctx, t, &res, t.State.RemoteID, StatusSynced)
	r.logger.InfoContext(ctx, "updated remote user",
		"target_id", t.ID,
		"remote_id", t.State.RemoteID,
		"manager_deferred", deferred,
		"dry_run", r.dryRun)
	return res
}

// disable blocks sign-in on the remote account of t.
func (r *Reconciler) disable(ctx context.Context, t *Target, res Result, final bool) Result {
	if err := r.client.DisableUser(ctx, t.State.RemoteID); err != nil {
		return r.recordFailure(ctx, t, res, fromClientError(err), final)
	}

	r.recordSuccess(ctx, t, &res, t.State.RemoteID, StatusSynced)
	r.logger.InfoContext(ctx, "disabled remote user", "target_id", t.ID, "remote_id", t.State.RemoteID)
	return res
}

// delete removes the remote account of t and clears the link.
func (r *Reconciler) delete(ctx context.Context, t *Target, res Result, final bool) Result {
	remoteID := t.State.RemoteID
	if err := r.client.DeleteUser(ctx, remoteID); err != nil {
		return r.recordFailure(ctx, t, res, fromClientError(err), final)
	}

	r.recordSuccess(ctx, t, &res, "", StatusDisabled)
	r.logger.InfoContext(ctx, "deleted remote user", "target_id", t.ID, "remote_id", remoteID)
	return res
}

// recordSuccess saves a successful outcome.
func (r *Reconciler) recordSuccess(ctx context.Context, t *Target, res *Result, remoteID string, status Status) {
	now := r.now()
	state := t.State
	state.LastError = ""
	state.LastSyncAt = now
	state.RemoteID = remoteID
	state.Status = status
	state.UpdatedAt = now

	res.PersistErr = r.save(ctx, t, state)
	res.RemoteID = remoteID
	res.Success = true
}

// recordFailure saves a failed outcome. The remote ID is never changed.
// A transient failure that will be retried leaves the target pending.
func (r *Reconciler) recordFailure(ctx context.Context, t *Target, res Result, e *Error, final bool) Result {
	state := t.State
	state.LastError = e.Error()
	state.Status = StatusFailed
	state.UpdatedAt = r.now()
	if !final && e.Transient() {
		state.Status = StatusPending
	}

	res.Error = e
	res.PersistErr = r.save(ctx, t, state)
	res.recorded = true

	r.logger.ErrorContext(ctx, "remote call failed",
		"target_id", t.ID,
		"action", res.Action,
		"remote_id", t.State.RemoteID,
		"kind", e.Kind,
		"status_code", e.StatusCode,
		"status", state.Status,
		"error", e.Message)
	return res
}

// save persists state for t and mirrors it onto t. The write is not cancelled with ctx so that an
// outcome already observed remotely is not lost.
func (r *Reconciler) save(ctx context.Context, t *Target, state State) error {
	t.State = state
	if err := r.store.SaveState(context.WithoutCancel(ctx), t.ID, state); err != nil {
		r.logger.ErrorContext(ctx, "failed to save sync state",
			"target_id", t.ID,
			"status", state.Status,
			"remote_id", state.RemoteID,
			"error", err)
		return fmt.Errorf("saving state for target %s: %w", t.ID, err)
	}
	return nil
}

// fields maps t onto the directory schema. deferred is true when the manager reference had to be
// left out because the manager is not linked yet.
func (r *Reconciler) fields(ctx context.Context, t *Target) (graph.UserFields, bool) {
	f := graph.UserFields{
		AccountEnabled: t.AccountEnabled,
		CompanyName:    t.CompanyName,
		Department:     t.Department,
		DisplayName:    displayName(t),
		Email:          t.Email,
		EmployeeID:     t.EmployeeID,
		EmployeeType:   t.EmployeeType,
		EndDate:        t.EndDate,
		GivenName:      t.GivenName,
		HasManager:     t.ManagerID != "",
		HireDate:       t.HireDate,
		JobTitle:       t.JobTitle,
		OfficeLocation: t.OfficeLocation,
		Phone:          t.Phone,
		StartDate:      t.StartDate,
		Surname:        t.Surname,
	}
	if t.ManagerID == "" {
		return f, false
	}

	mgr, err := r.store.Target(ctx, t.ManagerID)
	if err != nil {
		r.logger.WarnContext(ctx, "manager lookup failed, omitting manager reference",
			"target_id", t.ID,
			"manager_id", t.ManagerID,
			"error", err)
		return f, true
	}
	if mgr.State.RemoteID == "" {
		r.logger.WarnContext(ctx, "manager not linked yet, omitting manager reference",
			"target_id", t.ID,
			"manager_id", t.ManagerID)
		return f, true
	}

	f.ManagerRemoteID = mgr.State.RemoteID
	return f, false
}

// displayName returns the display name of t, falling back to its name parts and then its email.
func displayName(t *Target) string {
	if name := strings.TrimSpace(t.DisplayName); name != "" {
		return name
	}
	if name := strings.TrimSpace(strings.TrimSpace(t.GivenName) + " " + strings.TrimSpace(t.Surname)); name != "" {
		return name
	}
	return strings.TrimSpace(t.Email)
}
