package storage

import (
	"context"
	"log/slog"

	"github.com/peteski22/dirsync/internal/sync"
)

// ReadOnlyTargetStore wraps a TargetStore and drops state writes.
// Used for dry-run mode where we don't persist state.
type ReadOnlyTargetStore struct {
	logger *slog.Logger
	store  sync.TargetStore
}

// NewReadOnlyTargetStore creates a new ReadOnlyTargetStore over store.
func NewReadOnlyTargetStore(store sync.TargetStore, logger *slog.Logger) *ReadOnlyTargetStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &ReadOnlyTargetStore{logger: logger, store: store}
}

// EnabledTargets delegates to the wrapped store.
func (s *ReadOnlyTargetStore) EnabledTargets(ctx context.Context) ([]sync.Target, error) {
	return s.store.EnabledTargets(ctx)
}

// SaveState logs the state that would be written and returns nil.
func (s *ReadOnlyTargetStore) SaveState(ctx context.Context, id string, state sync.State) error {
	s.logger.InfoContext(ctx, "[DRY-RUN] would save sync state",
		"target_id", id,
		"status", state.Status,
		"remote_id", state.RemoteID,
		"last_error", state.LastError)
	return nil
}

// SaveSyncEnabled logs the flag and state that would be written and returns nil.
func (s *ReadOnlyTargetStore) SaveSyncEnabled(ctx context.Context, id string, enabled bool, state sync.State) error {
	s.logger.InfoContext(ctx, "[DRY-RUN] would save sync enabled",
		"target_id", id,
		"sync_enabled", enabled,
		"status", state.Status)
	return nil
}

// Target delegates to the wrapped store.
func (s *ReadOnlyTargetStore) Target(ctx context.Context, id string) (*sync.Target, error) {
	return s.store.Target(ctx, id)
}

// TargetsByStatus delegates to the wrapped store.
func (s *ReadOnlyTargetStore) TargetsByStatus(ctx context.Context, status sync.Status) ([]sync.Target, error) {
	return s.store.TargetsByStatus(ctx, status)
}
