package jobs

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
	"github.com/peteski22/dirsync/internal/sync"
)

const (
	// DefaultQueueSize is the number of jobs that can wait for a worker before Enqueue blocks.
	DefaultQueueSize = 256

	// DefaultRetention is how long finished jobs stay visible to Job.
	DefaultRetention = time.Hour

	// DefaultWorkers is the number of concurrent workers.
	DefaultWorkers = 4
)

// Config holds the configuration for creating a Queue.
type Config struct {
	// Directory provides the directory configuration and records connection tests.
	Directory DirectorySource

	// Logger is the structured logger for the queue.
	Logger *slog.Logger

	// QueueSize is the capacity of the pending job buffer.
	QueueSize int

	// Retention is how long finished jobs are kept.
	Retention time.Duration

	// Retrier runs reconciler actions with backoff.
	Retrier *sync.Retrier

	// Store provides targets.
	Store sync.TargetStore

	// Workers is the number of concurrent workers.
	Workers int
}

// validate checks that all required Config fields are set.
func (c *Config) validate() error {
	var errs []error
	if c.Directory == nil {
		errs = append(errs, errors.New("directory source is required"))
	}
	if c.Retrier == nil {
		errs = append(errs, errors.New("retrier is required"))
	}
	if c.Store == nil {
		errs = append(errs, errors.New("target store is required"))
	}
	if c.Workers < 0 {
		errs = append(errs, errors.New("workers cannot be negative"))
	}
	if c.QueueSize < 0 {
		errs = append(errs, errors.New("queue size cannot be negative"))
	}
	return errors.Join(errs...)
}

// entry is the queue's record of one job.
type entry struct {
	// after is a job that must finish before this one starts.
	after *entry

	// done is closed when the job finishes.
	done chan struct{}

	// force bypasses the per-target sync flag.
	force bool

	// job is the visible snapshot.
	job Job

	// password is the temporary password of a created account until it is first read.
	password config.Secret
}

// Queue executes reconciliation jobs on a fixed pool of workers and tracks their state by ID.
// Submission never waits for remote calls; callers poll Job or block in Wait.
type Queue struct {
	// base is the parent context of every job. It is cancelled only when Close runs out of time.
	base context.Context

	// cancel cancels base.
	cancel context.CancelFunc

	// closed is set once Close has run. Guarded by sendMu.
	closed bool

	// directory records connection tests and automatic sync times.
	directory DirectorySource

	// entries holds every tracked job by ID. Guarded by mu.
	entries map[uuid.UUID]*entry

	// logger receives job lifecycle events.
	logger *slog.Logger

	// mu guards entries and the job records they hold.
	mu gosync.Mutex

	// now returns the current time.
	now func() time.Time

	// pending feeds queued jobs to the workers.
	pending chan *entry

	// retention is how long finished jobs stay queryable.
	retention time.Duration

	// retrier runs reconciler actions with backoff.
	retrier *sync.Retrier

	// sendMu orders sends on pending against closing it.
	sendMu gosync.RWMutex

	// store loads targets fresh for each job.
	store sync.TargetStore

	// wg tracks running workers.
	wg gosync.WaitGroup
}

// New creates a Queue and starts its workers.
func New(cfg Config) (*Queue, error) {
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	workers := cfg.Workers
	if workers == 0 {
		workers = DefaultWorkers
	}
	size := cfg.QueueSize
	if size == 0 {
		size = DefaultQueueSize
	}
	retention := cfg.Retention
	if retention <= 0 {
		retention = DefaultRetention
	}

	base, cancel := context.WithCancel(context.Background())
	q := &Queue{
		base:      base,
		cancel:    cancel,
		directory: cfg.Directory,
		entries:   make(map[uuid.UUID]*entry),
		logger:    logger,
		now:       time.Now,
		pending:   make(chan *entry, size),
		retention: retention,
		retrier:   cfg.Retrier,
		store:     cfg.Store,
	}

	q.wg.Add(workers)
	for range workers {
		go q.worker()
	}

	return q, nil
}

// Enqueue submits action against the target with the given ID and returns the job ID.
// force only affects ActionSync; explicit actions always bypass the per-target flag.
func (q *Queue) Enqueue(ctx context.Context, targetID string, action sync.Action, force bool) (uuid.UUID, error) {
	if targetID == "" {
		return uuid.Nil, errors.New("target ID is required")
	}
	switch action {
	case sync.ActionSync:
	case sync.ActionCreate, sync.ActionDelete, sync.ActionDisable, sync.ActionDisableSync,
		sync.ActionEnableSync, sync.ActionReset, sync.ActionUnlink, sync.ActionUpdate:
		force = true
	default:
		return uuid.Nil, fmt.Errorf("unsupported action %q", action)
	}

	e := q.newEntry(KindReconcile, targetID, action, force, nil)
	if err := q.submit(ctx, e); err != nil {
		return uuid.Nil, err
	}
	return e.job.ID, nil
}

// EnqueueMany submits a sync for each of the given targets, or for every pending target with sync
// enabled when ids is empty. Managers are submitted before their reports, and a report does not
// start until its manager's job has finished. Targets that cannot be loaded are reported in the
// returned error while the rest are still submitted.
func (q *Queue) EnqueueMany(ctx context.Context, ids []string, force bool) ([]uuid.UUID, error) {
	var (
		errs    []error
		targets []sync.Target
	)
	if len(ids) == 0 {
		pending, err := q.store.TargetsByStatus(ctx, sync.StatusPending)
		if err != nil {
			return nil, fmt.Errorf("listing pending targets: %w", err)
		}
		targets = enabled(pending)
	} else {
		for _, id := range ids {
			t, err := q.store.Target(ctx, id)
			if err != nil {
				errs = append(errs, fmt.Errorf("loading target %s: %w", id, err))
				continue
			}
			targets = append(targets, *t)
		}
	}

	jobIDs, err := q.enqueueBatch(ctx, targets, force)
	return jobIDs, errors.Join(append(errs, err)...)
}

// EnqueueRetryFailed submits a sync for every failed target with sync enabled.
func (q *Queue) EnqueueRetryFailed(ctx context.Context) ([]uuid.UUID, error) {
	failed, err := q.store.TargetsByStatus(ctx, sync.StatusFailed)
	if err != nil {
		return nil, fmt.Errorf("listing failed targets: %w", err)
	}
	return q.enqueueBatch(ctx, enabled(failed), false)
}

// EnqueueAll submits a sync for every target with sync enabled that has not been disabled.
func (q *Queue) EnqueueAll(ctx context.Context) ([]uuid.UUID, error) {
	all, err := q.store.EnabledTargets(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing enabled targets: %w", err)
	}
	return q.enqueueBatch(ctx, enabled(all), false)
}

// EnqueueEvent submits the work a local user event calls for, if the configuration asks for it.
// The returned bool is false when the event was ignored.
func (q *Queue) EnqueueEvent(ctx context.Context, targetID string, event Event) (uuid.UUID, bool, error) {
	dir, err := q.directory.Directory(ctx)
	if err != nil {
		return uuid.Nil, false, fmt.Errorf("loading directory configuration: %w", err)
	}

	var (
		action sync.Action
		on     bool
	)
	switch event {
	case EventCreated:
		action, on = sync.ActionSync, dir.SyncOnCreate
	case EventUpdated:
		action, on = sync.ActionSync, dir.SyncOnUpdate
	case EventDeactivated:
		action, on = sync.ActionDisable, dir.SyncOnDisable
	default:
		return uuid.Nil, false, fmt.Errorf("unknown event %q", event)
	}
	if !on || !dir.IsConfigured() || !dir.SyncActive() {
		return uuid.Nil, false, nil
	}

	t, err := q.store.Target(ctx, targetID)
	if err != nil {
		return uuid.Nil, false, fmt.Errorf("loading target %s: %w", targetID, err)
	}
	if !t.SyncEnabled {
		return uuid.Nil, false, nil
	}
	if action == sync.ActionDisable && t.State.RemoteID == "" {
		return uuid.Nil, false, nil
	}

	id, err := q.Enqueue(ctx, targetID, action, false)
	if err != nil {
		return uuid.Nil, false, err
	}
	return id, true, nil
}

// EnqueueTestConnection submits a connection test whose outcome is written to the configuration.
func (q *Queue) EnqueueTestConnection(ctx context.Context) (uuid.UUID, error) {
	e := q.newEntry(KindTestConnection, "", "", false, nil)
	if err := q.submit(ctx, e); err != nil {
		return uuid.Nil, err
	}
	return e.job.ID, nil
}

// Job returns a snapshot of the job with the given ID. The temporary password of a created
// account is included in the first snapshot taken after the job finishes and never again.
func (q *Queue) Job(id uuid.UUID) (Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	e, ok := q.entries[id]
	if !ok {
		return Job{}, fmt.Errorf("job %s: %w", id, ErrJobNotFound)
	}

	j := e.job
	if j.Result != nil {
		res := *j.Result
		res.TemporaryPassword = e.password
		j.Result = &res
		e.password = ""
	}
	return j, nil
}

// Wait blocks until the job finishes or ctx is done, then returns its snapshot.
func (q *Queue) Wait(ctx context.Context, id uuid.UUID) (Job, error) {
	q.mu.Lock()
	e, ok := q.entries[id]
	q.mu.Unlock()
	if !ok {
		return Job{}, fmt.Errorf("job %s: %w", id, ErrJobNotFound)
	}

	select {
	case <-e.done:
		return q.Job(id)
	case <-ctx.Done():
		return Job{}, ctx.Err()
	}
}

// WaitAll waits for every job in ids and returns their snapshots in the same order.
func (q *Queue) WaitAll(ctx context.Context, ids []uuid.UUID) ([]Job, error) {
	jobs := make([]Job, 0, len(ids))
	for _, id := range ids {
		j, err := q.Wait(ctx, id)
		if err != nil {
			return jobs, err
		}
		jobs = append(jobs, j)
	}
	return jobs, nil
}

// Close stops accepting jobs and waits for queued work to drain. If ctx ends first, running jobs
// are cancelled and jobs not yet started are marked failed without touching target state.
func (q *Queue) Close(ctx context.Context) error {
	q.sendMu.Lock()
	if q.closed {
		q.sendMu.Unlock()
		return nil
	}
	q.closed = true
	close(q.pending)
	q.sendMu.Unlock()

	drained := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(drained)
	}()

	select {
	case <-drained:
		q.cancel()
		return nil
	case <-ctx.Done():
		q.cancel()
		<-drained
		return ctx.Err()
	}
}

// enqueueBatch orders targets manager first and submits a sync for each, chaining every report
// to its manager's job when both are in the batch.
func (q *Queue) enqueueBatch(ctx context.Context, targets []sync.Target, force bool) ([]uuid.UUID, error) {
	ordered := sync.OrderByManager(targets)
	byTarget := make(map[string]*entry, len(ordered))
	ids := make([]uuid.UUID, 0, len(ordered))

	for _, t := range ordered {
		e := q.newEntry(KindReconcile, t.ID, sync.ActionSync, force, byTarget[t.ManagerID])
		if err := q.submit(ctx, e); err != nil {
			return ids, err
		}
		byTarget[t.ID] = e
		ids = append(ids, e.job.ID)
	}

	return ids, nil
}

// newEntry builds a queued job.
func (q *Queue) newEntry(kind Kind, targetID string, action sync.Action, force bool, after *entry) *entry {
	return &entry{
		after: after,
		done:  make(chan struct{}),
		force: force,
		job: Job{
			Action:    action,
			CreatedAt: q.now(),
			ID:        uuid.New(),
			Kind:      kind,
			State:     StateQueued,
			TargetID:  targetID,
		},
	}
}

// submit registers e and hands it to the workers.
func (q *Queue) submit(ctx context.Context, e *entry) error {
	q.sendMu.RLock()
	defer q.sendMu.RUnlock()
	if q.closed {
		return ErrQueueClosed
	}

	q.mu.Lock()
	q.pruneLocked()
	q.entries[e.job.ID] = e
	q.mu.Unlock()

	select {
	case q.pending <- e:
		return nil
	case <-ctx.Done():
		q.mu.Lock()
		delete(q.entries, e.job.ID)
		q.mu.Unlock()
		return ctx.Err()
	}
}

// pruneLocked drops finished jobs older than the retention period. q.mu must be held.
func (q *Queue) pruneLocked() {
	cutoff := q.now().Add(-q.retention)
	for id, e := range q.entries {
		if e.job.Done() && e.job.FinishedAt.Before(cutoff) {
			delete(q.entries, id)
		}
	}
}

// worker executes jobs until the pending channel is closed.
func (q *Queue) worker() {
	defer q.wg.Done()
	for e := range q.pending {
		q.execute(e)
	}
}

// execute runs one job and records its outcome.
func (q *Queue) execute(e *entry) {
	ctx := q.base
	defer close(e.done)

	if e.after != nil {
		select {
		case <-e.after.done:
		case <-ctx.Done():
		}
	}

	q.mu.Lock()
	job := e.job
	if ctx.Err() != nil {
		e.job.State = StateFailed
		e.job.Error = "queue shut down before the job started"
		e.job.FinishedAt = q.now()
		q.mu.Unlock()
		return
	}
	e.job.State = StateRunning
	e.job.StartedAt = q.now()
	q.mu.Unlock()

	var (
		err error
		org *graph.Organization
		res *sync.Result
	)
	switch job.Kind {
	case KindTestConnection:
		org, err = q.testConnection(ctx)
	default:
		res, err = q.reconcile(ctx, job.TargetID, job.Action, e.force)
	}

	q.mu.Lock()
	e.job.FinishedAt = q.now()
	e.job.Organization = org
	e.job.State = StateSucceeded
	if res != nil {
		e.password = res.TemporaryPassword
		res.TemporaryPassword = ""
		e.job.Result = res
	}
	if err != nil {
		e.job.Error = err.Error()
		e.job.State = StateFailed
	}
	state := e.job.State
	elapsed := e.job.FinishedAt.Sub(e.job.StartedAt)
	q.mu.Unlock()

	q.logger.InfoContext(ctx, "job finished",
		"job_id", job.ID,
		"kind", job.Kind,
		"action", job.Action,
		"target_id", job.TargetID,
		"state", state,
		"duration", elapsed)
}

// reconcile loads the target fresh and runs action against it. A non-nil error means the job failed.
func (q *Queue) reconcile(ctx context.Context, targetID string, action sync.Action, force bool) (*sync.Result, error) {
	t, err := q.store.Target(ctx, targetID)
	if err != nil {
		return nil, fmt.Errorf("loading target %s: %w", targetID, err)
	}

	var res sync.Result
	r := q.retrier.Reconciler()
	switch action {
	case sync.ActionDisableSync:
		res = r.DisableSync(ctx, t)
	case sync.ActionEnableSync:
		res = r.EnableSync(ctx, t)
	case sync.ActionReset:
		res = r.Reset(ctx, t)
	case sync.ActionUnlink:
		res = r.Unlink(ctx, t)
	default:
		res = q.retrier.Do(ctx, t, action, force)
	}

	switch {
	case res.Error != nil:
		return &res, res.Error
	case res.PersistErr != nil:
		return &res, fmt.Errorf("persisting sync state: %w", res.PersistErr)
	}
	return &res, nil
}

// testConnection checks the directory credentials and records the outcome on the configuration.
func (q *Queue) testConnection(ctx context.Context) (*graph.Organization, error) {
	if err := q.directory.RecordConnectionTest(ctx, config.ConnectionTest{Status: config.ConnectionTesting}); err != nil {
		q.logger.WarnContext(ctx, "failed to record connection test start", "error", err)
	}

	org, err := q.retrier.Reconciler().TestConnection(ctx)

	test := config.ConnectionTest{LastTestedAt: q.now(), Status: config.ConnectionConnected}
	if err != nil {
		test.LastError = err.Error()
		test.Status = config.ConnectionFailed
	}
	if rerr := q.directory.RecordConnectionTest(ctx, test); rerr != nil {
		q.logger.WarnContext(ctx, "failed to record connection test result", "error", rerr)
	}

	return org, err
}

// enabled returns the targets with sync enabled that have not been disabled.
func enabled(targets []sync.Target) []sync.Target {
	out := make([]sync.Target, 0, len(targets))
	for _, t := range targets {
		if t.SyncEnabled && t.State.Status != sync.StatusDisabled {
			out = append(out, t)
		}
	}
	return out
}
