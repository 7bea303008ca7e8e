package storage

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"

	"github.com/peteski22/dirsync/internal/sync"
)

// mockRow implements pgx.Row over a fixed set of column values.
type mockRow struct {
	err    error
	values []any
}

// Scan copies the row values into dest.
func (r *mockRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	if len(dest) != len(r.values) {
		return fmt.Errorf("scan: %d destinations for %d columns", len(dest), len(r.values))
	}
	for i, d := range dest {
		if err := assign(d, r.values[i]); err != nil {
			return fmt.Errorf("column %d: %w", i, err)
		}
	}
	return nil
}

// assign stores src into dest for the destination types used by scanTarget.
func assign(dest any, src any) error {
	switch d := dest.(type) {
	case *string:
		v, ok := src.(string)
		if !ok {
			return fmt.Errorf("cannot scan %T into string", src)
		}
		*d = v
	case *bool:
		v, ok := src.(bool)
		if !ok {
			return fmt.Errorf("cannot scan %T into bool", src)
		}
		*d = v
	case **string:
		if src == nil {
			*d = nil
			return nil
		}
		v, ok := src.(string)
		if !ok {
			return fmt.Errorf("cannot scan %T into *string", src)
		}
		*d = &v
	case **time.Time:
		if src == nil {
			*d = nil
			return nil
		}
		v, ok := src.(time.Time)
		if !ok {
			return fmt.Errorf("cannot scan %T into *time.Time", src)
		}
		*d = &v
	default:
		return fmt.Errorf("unsupported destination %T", dest)
	}
	return nil
}

// mockRows implements pgx.Rows over a list of rows.
type mockRows struct {
	err  error
	pos  int
	rows [][]any
}

func (r *mockRows) Close() {}
func (r *mockRows) CommandTag() pgconn.CommandTag { return pgconn.NewCommandTag("SELECT") }
func (r *mockRows) Conn() *pgx.Conn { return nil }
func (r *mockRows) Err() error { return r.err }
func (r *mockRows) FieldDescriptions() []pgconn.FieldDescription { return nil }
func (r *mockRows) RawValues() [][]byte { return nil }

func (r *mockRows) Next() bool {
	if r.pos >= len(r.rows) {
		return false
	}
	r.pos++
	return true
}

func (r *mockRows) Scan(dest ...any) error {
	return (&mockRow{values: r.rows[r.pos-1]}).Scan(dest...)
}

func (r *mockRows) Values() ([]any, error) {
	return r.rows[r.pos-1], nil
}

// mockQuerier implements PgxQuerier for testing.
type mockQuerier struct {
	execFunc     func(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	queryFunc    func(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	queryRowFunc func(ctx context.Context, sql string, args ...any) pgx.Row
}

func (m *mockQuerier) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	if m.execFunc != nil {
		return m.execFunc(ctx, sql, args...)
	}
	return pgconn.NewCommandTag("UPDATE 1"), nil
}

func (m *mockQuerier) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	if m.queryFunc != nil {
		return m.queryFunc(ctx, sql, args...)
	}
	return &mockRows{}, nil
}

func (m *mockQuerier) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	if m.queryRowFunc != nil {
		return m.queryRowFunc(ctx, sql, args...)
	}
	return &mockRow{err: pgx.ErrNoRows}
}

// userRow returns column values for a target row in targetColumns order.
func userRow(id string, status any, remoteID any) []any {
	return []any{
		id, id + "@contoso.com", "Ada", "Lovelace", nil, "Engineer", "Engineering", nil,
		"E42", nil, nil, "+44 20 7946 0000", "boss",
		time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC), nil, nil, true, true,
		status, remoteID, nil, time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC), nil,
	}
}

func TestNewPostgresTargetStore(t *testing.T) {
	t.Parallel()

	tests := map[string]struct {
		db        PgxQuerier
		errMsg    string
		table     string
		wantTable string
	}{
		"plain table": {
			db:        &mockQuerier{},
			table:     "directory_sync_targets",
			wantTable: `"directory_sync_targets"`,
		},
		"schema qualified": {
			db:        &mockQuerier{},
			table:     "hr.users",
			wantTable: `"hr"."users"`,
		},
		"nil database": {
			table:  "users",
			errMsg: "database is required",
		},
		"empty table": {
			db:     &mockQuerier{},
			errMsg: "table name is required",
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			store, err := NewPostgresTargetStore(tc.db, tc.table)

			if tc.errMsg != "" {
				require.Error(t, err)
				require.Contains(t, err.Error(), tc.errMsg)
				require.Nil(t, store)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tc.wantTable, store.table)
		})
	}
}

func TestPostgresTargetStore_Target(t *testing.T) {
	t.Parallel()

	tests := map[string]struct {
		db     *mockQuerier
		errIs  error
		errMsg string
	}{
		"found": {
			db: &mockQuerier{
				queryRowFunc: func(_ context.Context, sql string, args ...any) pgx.Row {
					require.Contains(t, sql, `FROM "directory_sync_targets" WHERE id = $1`)
					require.Equal(t, []any{"user-1"}, args)
					return &mockRow{values: userRow("user-1", "synced", "abc-123")}
				},
			},
		},
		"not found": {
			db:    &mockQuerier{},
			errIs: sync.ErrTargetNotFound,
		},
		"query error": {
			db: &mockQuerier{
				queryRowFunc: func(_ context.Context, _ string, _ ...any) pgx.Row {
					return &mockRow{err: errors.New("connection reset")}
				},
			},
			errMsg: "get target query failed",
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			store, err := NewPostgresTargetStore(tc.db, "directory_sync_targets")
			require.NoError(t, err)

			target, err := store.Target(context.Background(), "user-1")

			switch {
			case tc.errIs != nil:
				require.ErrorIs(t, err, tc.errIs)
			case tc.errMsg != "":
				require.Error(t, err)
				require.Contains(t, err.Error(), tc.errMsg)
			default:
				require.NoError(t, err)
				require.Equal(t, "user-1", target.ID)
				require.Equal(t, "abc-123", target.State.RemoteID)
				require.Equal(t, sync.StatusSynced, target.State.Status)
				require.Equal(t, "Engineer", target.JobTitle)
				require.Empty(t, target.DisplayName)
				require.Equal(t, "boss", target.ManagerID)
				require.True(t, target.StartDate.IsZero())
				require.Equal(t, time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC), target.HireDate)
			}
		})
	}
}

func TestPostgresTargetStore_SaveState(t *testing.T) {
	t.Parallel()

	updated := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	tests := map[string]struct {
		db     *mockQuerier
		errIs  error
		errMsg string
		state  sync.State
	}{
		"writes state": {
			db: &mockQuerier{
				execFunc: func(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
					require.Contains(t, sql, `UPDATE "directory_sync_targets" SET sync_status = $2`)
					require.Len(t, args, 6)
					require.Equal(t, "user-1", args[0])
					require.Equal(t, "synced", args[1])
					require.Equal(t, "abc-123", args[2])
					require.Equal(t, "", args[3])
					require.Nil(t, args[4])
					require.Equal(t, &updated, args[5])
					return pgconn.NewCommandTag("UPDATE 1"), nil
				},
			},
			state: sync.State{RemoteID: "abc-123", Status: sync.StatusSynced, UpdatedAt: updated},
		},
		"no row updated": {
			db: &mockQuerier{
				execFunc: func(_ context.Context, _ string, _ ...any) (pgconn.CommandTag, error) {
					return pgconn.NewCommandTag("UPDATE 0"), nil
				},
			},
			state: sync.State{Status: sync.StatusPending},
			errIs: sync.ErrTargetNotFound,
		},
		"exec error": {
			db: &mockQuerier{
				execFunc: func(_ context.Context, _ string, _ ...any) (pgconn.CommandTag, error) {
					return pgconn.CommandTag{}, errors.New("deadlock detected")
				},
			},
			state:  sync.State{Status: sync.StatusPending},
			errMsg: "update sync state query failed",
		},
		"empty status": {
			db:     &mockQuerier{},
			errMsg: "status is required",
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			store, err := NewPostgresTargetStore(tc.db, "directory_sync_targets")
			require.NoError(t, err)

			err = store.SaveState(context.Background(), "user-1", tc.state)

			switch {
			case tc.errIs != nil:
				require.ErrorIs(t, err, tc.errIs)
			case tc.errMsg != "":
				require.Error(t, err)
				require.Contains(t, err.Error(), tc.errMsg)
			default:
				require.NoError(t, err)
			}
		})
	}
}

func TestPostgresTargetStore_SaveSyncEnabled(t *testing.T) {
	t.Parallel()

	tests := map[string]struct {
		db      *mockQuerier
		enabled bool
		errIs   error
		errMsg  string
	}{
		"enables sync": {
			db: &mockQuerier{
				execFunc: func(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
					require.Contains(t, sql, "sync_enabled = $7")
					require.Len(t, args, 7)
					require.Equal(t, "user-1", args[0])
					require.Equal(t, "pending", args[1])
					require.Equal(t, true, args[6])
					return pgconn.NewCommandTag("UPDATE 1"), nil
				},
			},
			enabled: true,
		},
		"no row updated": {
			db: &mockQuerier{
				execFunc: func(_ context.Context, _ string, _ ...any) (pgconn.CommandTag, error) {
					return pgconn.NewCommandTag("UPDATE 0"), nil
				},
			},
			errIs: sync.ErrTargetNotFound,
		},
		"exec error": {
			db: &mockQuerier{
				execFunc: func(_ context.Context, _ string, _ ...any) (pgconn.CommandTag, error) {
					return pgconn.CommandTag{}, errors.New("deadlock detected")
				},
			},
			errMsg: "update sync state query failed",
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			store, err := NewPostgresTargetStore(tc.db, "directory_sync_targets")
			require.NoError(t, err)

			err = store.SaveSyncEnabled(context.Background(), "user-1", tc.enabled, sync.State{Status: sync.StatusPending})

			switch {
			case tc.errIs != nil:
				require.ErrorIs(t, err, tc.errIs)
			case tc.errMsg != "":
				require.Error(t, err)
				require.Contains(t, err.Error(), tc.errMsg)
			default:
				require.NoError(t, err)
			}
		})
	}
}

func TestPostgresTargetStore_Lists(t *testing.T) {
	t.Parallel()

	var lastSQL string
	var lastArgs []any
	db := &mockQuerier{
		queryFunc: func(_ context.Context, sql string, args ...any) (pgx.Rows, error) {
			lastSQL = sql
			lastArgs = args
			return &mockRows{rows: [][]any{
				userRow("a", "failed", nil),
				userRow("b", nil, nil),
			}}, nil
		},
	}
	store, err := NewPostgresTargetStore(db, "directory_sync_targets")
	require.NoError(t, err)

	failed, err := store.TargetsByStatus(context.Background(), sync.StatusFailed)
	require.NoError(t, err)
	require.Contains(t, lastSQL, "WHERE sync_status = $1")
	require.Equal(t, []any{"failed"}, lastArgs)
	require.Len(t, failed, 2)
	require.Equal(t, sync.StatusFailed, failed[0].State.Status)
	require.Equal(t, sync.StatusPending, failed[1].State.Status)
	require.Empty(t, failed[0].State.RemoteID)

	enabled, err := store.EnabledTargets(context.Background())
	require.NoError(t, err)
	require.Contains(t, lastSQL, "WHERE sync_enabled")
	require.Empty(t, lastArgs)
	require.Len(t, enabled, 2)
}

func TestPostgresTargetStore_ListErrors(t *testing.T) {
	t.Parallel()

	tests := map[string]struct {
		db     *mockQuerier
		errMsg string
	}{
		"query error": {
			db: &mockQuerier{
				queryFunc: func(_ context.Context, _ string, _ ...any) (pgx.Rows, error) {
					return nil, errors.New("relation does not exist")
				},
			},
			errMsg: "list targets query failed",
		},
		"rows error": {
			db: &mockQuerier{
				queryFunc: func(_ context.Context, _ string, _ ...any) (pgx.Rows, error) {
					return &mockRows{err: errors.New("connection lost")}, nil
				},
			},
			errMsg: "reading targets",
		},
		"scan error": {
			db: &mockQuerier{
				queryFunc: func(_ context.Context, _ string, _ ...any) (pgx.Rows, error) {
					return &mockRows{rows: [][]any{{"too", "short"}}}, nil
				},
			},
			errMsg: "scanning target",
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			store, err := NewPostgresTargetStore(tc.db, "directory_sync_targets")
			require.NoError(t, err)

			_, err = store.EnabledTargets(context.Background())

			require.Error(t, err)
			require.Contains(t, err.Error(), tc.errMsg)
		})
	}
}
