package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/peteski22/dirsync/internal/sync"
)

// targetColumns is the select list shared by every target query, in scanTarget order.
const targetColumns = `id, email, given_name, surname, display_name, job_title, department, company_name,
	employee_id, employee_type, office_location, phone, manager_id,
	hire_date, start_date, end_date, account_enabled, sync_enabled,
	sync_status, remote_id, last_error, last_sync_at, state_updated_at`

// PgxQuerier is the subset of a pgx pool or connection used by the target store.
type PgxQuerier interface {
	// Exec runs a statement that returns no rows.
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)

	// Query runs a statement that returns rows.
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)

	// QueryRow runs a statement that returns at most one row.
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresTargetStore reads targets from, and writes sync state to, a PostgreSQL users table.
type PostgresTargetStore struct {
	db    PgxQuerier
	table string
}

// NewPostgresTargetStore creates a target store over table. The table name may be schema qualified.
func NewPostgresTargetStore(db PgxQuerier, table string) (*PostgresTargetStore, error) {
	if db == nil {
		return nil, errors.New("database is required")
	}
	if table == "" {
		return nil, errors.New("table name is required")
	}

	return &PostgresTargetStore{
		db:    db,
		table: pgx.Identifier(splitQualified(table)).Sanitize(),
	}, nil
}

// EnabledTargets returns every target with sync enabled.
func (s *PostgresTargetStore) EnabledTargets(ctx context.Context) ([]sync.Target, error) {
	return s.list(ctx, "SELECT "+targetColumns+" FROM "+s.table+" WHERE sync_enabled ORDER BY id")
}

// SaveState replaces the sync state of a target. It returns sync.ErrTargetNotFound if no row matched.
func (s *PostgresTargetStore) SaveState(ctx context.Context, id string, state sync.State) error {
	return s.exec(ctx, id, state,
		"UPDATE "+s.table+` SET sync_status = $2, remote_id = NULLIF($3, ''), last_error = $4,
			last_sync_at = $5, state_updated_at = $6 WHERE id = $1`,
	)
}

// SaveSyncEnabled sets the per-target sync flag and replaces the sync state in one statement.
// It returns sync.ErrTargetNotFound if no row matched.
func (s *PostgresTargetStore) SaveSyncEnabled(ctx context.Context, id string, enabled bool, state sync.State) error {
	return s.exec(ctx, id, state,
		"UPDATE "+s.table+` SET sync_status = $2, remote_id = NULLIF($3, ''), last_error = $4,
			last_sync_at = $5, state_updated_at = $6, sync_enabled = $7 WHERE id = $1`,
		enabled,
	)
}

// exec runs a state update whose first six parameters are the target ID and state columns.
func (s *PostgresTargetStore) exec(ctx context.Context, id string, state sync.State, query string, extra ...any) error {
	if id == "" {
		return errors.New("target ID is required")
	}
	if state.Status == "" {
		return errors.New("status is required")
	}

	args := append([]any{
		id,
		string(state.Status),
		state.RemoteID,
		state.LastError,
		nullableTime(state.LastSyncAt),
		nullableTime(state.UpdatedAt),
	}, extra...)

	tag, err := s.db.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update sync state query failed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("target %s: %w", id, sync.ErrTargetNotFound)
	}

	return nil
}

// Target returns the target with the given ID, or sync.ErrTargetNotFound.
func (s *PostgresTargetStore) Target(ctx context.Context, id string) (*sync.Target, error) {
	if id == "" {
		return nil, errors.New("target ID is required")
	}

	row := s.db.QueryRow(ctx, "SELECT "+targetColumns+" FROM "+s.table+" WHERE id = $1", id)
	t, err := scanTarget(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("target %s: %w", id, sync.ErrTargetNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get target query failed: %w", err)
	}

	return &t, nil
}

// TargetsByStatus returns every target with the given status.
func (s *PostgresTargetStore) TargetsByStatus(ctx context.Context, status sync.Status) ([]sync.Target, error) {
	if status == "" {
		return nil, errors.New("status is required")
	}
	return s.list(ctx, "SELECT "+targetColumns+" FROM "+s.table+" WHERE sync_status = $1 ORDER BY id", string(status))
}

// list runs a query returning target rows.
func (s *PostgresTargetStore) list(ctx context.Context, sql string, args ...any) ([]sync.Target, error) {
	rows, err := s.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("list targets query failed: %w", err)
	}
	defer rows.Close()

	var targets []sync.Target
	for rows.Next() {
		t, err := scanTarget(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning target: %w", err)
		}
		targets = append(targets, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading targets: %w", err)
	}

	return targets, nil
}

// scanTarget reads one row selected with targetColumns.
func scanTarget(row pgx.Row) (sync.Target, error) {
	var t sync.Target
	var companyName, department, displayName, employeeID, employeeType *string
	var givenName, jobTitle, lastError, managerID, officeLocation, phone *string
	var remoteID, status, surname *string
	var endDate, hireDate, lastSyncAt, startDate, updatedAt *time.Time

	err := row.Scan(
		&t.ID, &t.Email, &givenName, &surname, &displayName, &jobTitle, &department, &companyName,
		&employeeID, &employeeType, &officeLocation, &phone, &managerID,
		&hireDate, &startDate, &endDate, &t.AccountEnabled, &t.SyncEnabled,
		&status, &remoteID, &lastError, &lastSyncAt, &updatedAt,
	)
	if err != nil {
		return t, err
	}

	t.CompanyName = deref(companyName)
	t.Department = deref(department)
	t.DisplayName = deref(displayName)
	t.EmployeeID = deref(employeeID)
	t.EmployeeType = deref(employeeType)
	t.EndDate = derefTime(endDate)
	t.GivenName = deref(givenName)
	t.HireDate = derefTime(hireDate)
	t.JobTitle = deref(jobTitle)
	t.ManagerID = deref(managerID)
	t.OfficeLocation = deref(officeLocation)
	t.Phone = deref(phone)
	t.StartDate = derefTime(startDate)
	t.Surname = deref(surname)
	t.State = sync.State{
		LastError:  deref(lastError),
		LastSyncAt: derefTime(lastSyncAt),
		RemoteID:   deref(remoteID),
		Status:     sync.Status(deref(status)),
		UpdatedAt:  derefTime(updatedAt),
	}
	if t.State.Status == "" {
		t.State.Status = sync.StatusPending
	}

	return t, nil
}

// splitQualified splits a schema qualified name on its first dot.
func splitQualified(name string) []string {
	if schema, table, ok := strings.Cut(name, "."); ok {
		return []string{schema, table}
	}
	return []string{name}
}

// nullableTime returns nil for the zero time so it is stored as NULL.
func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	u := t.UTC()
	return &u
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func derefTime(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return t.UTC()
}
