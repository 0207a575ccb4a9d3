/*
Package sqlite provides a SQLite-backed implementation of the storage interfaces.

PURPOSE:
  Implements generic.TxStore (roster, period records, leave requests)
  using SQLite. In production, the same patterns apply to PostgreSQL -
  only minor SQL dialect differences.

KEY TABLES:
  employees:       The roster (entities), including leave balance
  period_records:  Attendance, KPI and payroll rows, one per
                   (entity_id, period, kind)
  leave_requests:  Leave requests and their decisions

COMPOSITE KEY:
  UNIQUE(entity_id, period, kind) on period_records. InsertRecord maps a
  violation to generic.ErrConflictOnUpsert; UpsertRecord uses
  ON CONFLICT(entity_id, period, kind) DO UPDATE.

CONCURRENCY:
  Uses sync.RWMutex for thread-safety and a single connection, so WithTx
  is serialized against every other write. In production with
  PostgreSQL, database-level locking (SELECT ... FOR UPDATE on the
  employee row) handles this instead.

USAGE:
  store, err := sqlite.New("./data/hr.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

SEE ALSO:
  - generic/store.go: Interface definitions
  - generic/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/warp/hr-engine/generic"
)

// Store implements all storage interfaces using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// querier is satisfied by *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One connection: ":memory:" databases are per-connection, and writes
	// are serialized by s.mu anyway.
	db.SetMaxOpenConns(1)

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	-- Roster
	CREATE TABLE IF NOT EXISTS employees (
		id TEXT PRIMARY KEY,
		full_name TEXT NOT NULL,
		employee_code TEXT,
		email TEXT,
		scope TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT 'active',
		position TEXT,
		hire_date TEXT,
		basic_salary TEXT NOT NULL DEFAULT '0',
		variable_salary TEXT NOT NULL DEFAULT '0',
		leave_balance TEXT NOT NULL DEFAULT '0',
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_employees_code
		ON employees(UPPER(TRIM(employee_code)))
		WHERE employee_code IS NOT NULL AND employee_code <> '';
	CREATE INDEX IF NOT EXISTS idx_employees_email
		ON employees(LOWER(email));
	CREATE INDEX IF NOT EXISTS idx_employees_scope_status
		ON employees(scope, status);

	-- Period records (attendance, kpi, payroll)
	CREATE TABLE IF NOT EXISTS period_records (
		id TEXT PRIMARY KEY,
		entity_id TEXT NOT NULL REFERENCES employees(id),
		kind TEXT NOT NULL,
		period TEXT NOT NULL,
		fields_json TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		UNIQUE(entity_id, period, kind)
	);

	CREATE INDEX IF NOT EXISTS idx_period_records_kind_period
		ON period_records(kind, period);

	-- Leave requests
	CREATE TABLE IF NOT EXISTS leave_requests (
		id TEXT PRIMARY KEY,
		entity_id TEXT NOT NULL REFERENCES employees(id),
		kind TEXT NOT NULL,
		start_date TEXT NOT NULL,
		end_date TEXT NOT NULL,
		total_days INTEGER NOT NULL CHECK (total_days >= 1),
		status TEXT NOT NULL DEFAULT 'pending',
		reason TEXT,
		decided_by TEXT,
		decided_at TEXT,
		rejection_reason TEXT,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_leave_requests_entity
		ON leave_requests(entity_id);
	CREATE INDEX IF NOT EXISTS idx_leave_requests_status
		ON leave_requests(status);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// TRANSACTIONAL STORE (generic.TxStore interface)
// =============================================================================

// WithTx executes a function within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(store generic.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&txStore{tx: sqlTx}); err != nil {
		return err
	}

	return sqlTx.Commit()
}

// txStore runs every call on one *sql.Tx. The parent lock is held by
// WithTx for its whole lifetime.
type txStore struct {
	tx *sql.Tx
}

var (
	_ generic.TxStore = (*Store)(nil)
	_ generic.Store   = (*txStore)(nil)
)

// =============================================================================
// ROSTER (generic.RosterStore interface)
// =============================================================================

const entityColumns = `id, full_name, employee_code, email, scope, status, position, hire_date,
	basic_salary, variable_salary, leave_balance, created_at, updated_at`

func (s *Store) ListEntities(ctx context.Context, filter generic.EntityFilter) ([]generic.Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listEntities(ctx, s.db, filter)
}

func (s *Store) GetEntity(ctx context.Context, id generic.EntityID) (*generic.Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getEntity(ctx, s.db, id)
}

func (s *Store) SaveEntity(ctx context.Context, e generic.Entity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return saveEntity(ctx, s.db, e)
}

func (ts *txStore) ListEntities(ctx context.Context, filter generic.EntityFilter) ([]generic.Entity, error) {
	return listEntities(ctx, ts.tx, filter)
}

func (ts *txStore) GetEntity(ctx context.Context, id generic.EntityID) (*generic.Entity, error) {
	return getEntity(ctx, ts.tx, id)
}

func (ts *txStore) SaveEntity(ctx context.Context, e generic.Entity) error {
	return saveEntity(ctx, ts.tx, e)
}

func listEntities(ctx context.Context, q querier, filter generic.EntityFilter) ([]generic.Entity, error) {
	query := "SELECT " + entityColumns + " FROM employees WHERE 1=1"
	var args []any
	if filter.Scope != "" && filter.Scope != generic.ScopeAll {
		query += " AND scope = ?"
		args = append(args, string(filter.Scope))
	}
	if filter.Status != "" {
		query += " AND status = ?"
		args = append(args, string(filter.Status))
	}
	query += " ORDER BY full_name ASC, id ASC"

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query employees: %w", err)
	}
	defer rows.Close()

	var entities []generic.Entity
	for rows.Next() {
		e, err := scanEntity(rows)
		if err != nil {
			return nil, err
		}
		entities = append(entities, e)
	}
	return entities, rows.Err()
}

func getEntity(ctx context.Context, q querier, id generic.EntityID) (*generic.Entity, error) {
	row := q.QueryRowContext(ctx, "SELECT "+entityColumns+" FROM employees WHERE id = ?", string(id))
	e, err := scanEntity(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &generic.NotFoundError{What: "entity", Key: string(id)}
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func saveEntity(ctx context.Context, q querier, e generic.Entity) error {
	now := time.Now().UTC()
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now
	}
	query := `
		INSERT INTO employees (` + entityColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			full_name = excluded.full_name,
			employee_code = excluded.employee_code,
			email = excluded.email,
			scope = excluded.scope,
			status = excluded.status,
			position = excluded.position,
			hire_date = excluded.hire_date,
			basic_salary = excluded.basic_salary,
			variable_salary = excluded.variable_salary,
			updated_at = excluded.updated_at
	`
	_, err := q.ExecContext(ctx, query,
		string(e.ID),
		e.FullName,
		nullString(e.EmployeeCode),
		nullString(e.Email),
		string(e.Scope),
		string(e.Status),
		nullString(e.Position),
		nullString(e.HireDate.String()),
		e.BasicSalary.String(),
		e.VariableSalary.String(),
		e.LeaveBalance.String(),
		e.CreatedAt.Format(time.RFC3339),
		now.Format(time.RFC3339),
	)
	if isUniqueConstraintError(err) {
		return fmt.Errorf("employee code %q already in use: %w", e.EmployeeCode, generic.ErrConflictOnUpsert)
	}
	if err != nil {
		return fmt.Errorf("failed to save employee: %w", err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntity(row scanner) (generic.Entity, error) {
	var (
		e                                  generic.Entity
		code, email, position, hireDate    sql.NullString
		basic, variable, balance           string
		createdAt, updatedAt, scope, state string
	)
	err := row.Scan(&e.ID, &e.FullName, &code, &email, &scope, &state, &position, &hireDate,
		&basic, &variable, &balance, &createdAt, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return e, err
		}
		return e, fmt.Errorf("failed to scan employee: %w", err)
	}

	e.EmployeeCode = code.String
	e.Email = email.String
	e.Position = position.String
	e.Scope = generic.Scope(scope)
	e.Status = generic.EntityStatus(state)
	if hireDate.Valid && hireDate.String != "" {
		e.HireDate, _ = generic.ParseDate(hireDate.String)
	}
	e.BasicSalary = generic.MustParseDecimal(basic)
	e.VariableSalary = generic.MustParseDecimal(variable)
	e.LeaveBalance = generic.MustParseDecimal(balance)
	e.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	e.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	return e, nil
}

// =============================================================================
// PERIOD RECORDS (generic.RecordStore interface)
// =============================================================================

const recordColumns = "id, entity_id, kind, period, fields_json, created_at, updated_at"

// listChunk keeps IN (...) lists well under SQLite's variable limit.
const listChunk = 500

func (s *Store) ListRecords(ctx context.Context, filter generic.RecordFilter) ([]generic.PeriodRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listRecords(ctx, s.db, filter)
}

func (s *Store) GetRecordByKey(ctx context.Context, key generic.RecordKey) (*generic.PeriodRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getRecordByKey(ctx, s.db, key)
}

func (s *Store) InsertRecord(ctx context.Context, rec generic.PeriodRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return insertRecord(ctx, s.db, rec)
}

func (s *Store) UpdateRecord(ctx context.Context, rec generic.PeriodRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return updateRecord(ctx, s.db, rec)
}

func (s *Store) UpsertRecord(ctx context.Context, rec generic.PeriodRecord) (generic.PeriodRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return upsertRecord(ctx, s.db, rec)
}

func (ts *txStore) ListRecords(ctx context.Context, filter generic.RecordFilter) ([]generic.PeriodRecord, error) {
	return listRecords(ctx, ts.tx, filter)
}

func (ts *txStore) GetRecordByKey(ctx context.Context, key generic.RecordKey) (*generic.PeriodRecord, error) {
	return getRecordByKey(ctx, ts.tx, key)
}

func (ts *txStore) InsertRecord(ctx context.Context, rec generic.PeriodRecord) error {
	return insertRecord(ctx, ts.tx, rec)
}

func (ts *txStore) UpdateRecord(ctx context.Context, rec generic.PeriodRecord) error {
	return updateRecord(ctx, ts.tx, rec)
}

func (ts *txStore) UpsertRecord(ctx context.Context, rec generic.PeriodRecord) (generic.PeriodRecord, error) {
	return upsertRecord(ctx, ts.tx, rec)
}

func listRecords(ctx context.Context, q querier, filter generic.RecordFilter) ([]generic.PeriodRecord, error) {
	var records []generic.PeriodRecord
	for start := 0; start < len(filter.EntityIDs); start += listChunk {
		end := min(start+listChunk, len(filter.EntityIDs))
		chunk := filter.EntityIDs[start:end]

		args := []any{string(filter.Kind), filter.Period.Key()}
		for _, id := range chunk {
			args = append(args, string(id))
		}
		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(chunk)), ",")
		query := "SELECT " + recordColumns + " FROM period_records" +
			" WHERE kind = ? AND period = ? AND entity_id IN (" + placeholders + ")"

		rows, err := q.QueryContext(ctx, query, args...)
		if err != nil {
			return nil, fmt.Errorf("failed to query period records: %w", err)
		}
		for rows.Next() {
			rec, err := scanRecord(rows)
			if err != nil {
				rows.Close()
				return nil, err
			}
			records = append(records, rec)
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return nil, err
		}
	}
	return records, nil
}

func getRecordByKey(ctx context.Context, q querier, key generic.RecordKey) (*generic.PeriodRecord, error) {
	row := q.QueryRowContext(ctx,
		"SELECT "+recordColumns+" FROM period_records WHERE entity_id = ? AND period = ? AND kind = ?",
		string(key.EntityID), key.Period, string(key.Kind))
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &generic.NotFoundError{What: "record", Key: string(key.EntityID) + "/" + string(key.Kind) + "/" + key.Period}
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func insertRecord(ctx context.Context, q querier, rec generic.PeriodRecord) error {
	fieldsJSON, err := generic.EncodeFields(rec.Fields)
	if err != nil {
		return err
	}
	_, err = q.ExecContext(ctx, `
		INSERT INTO period_records (`+recordColumns+`, status)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`,
		string(rec.ID), string(rec.EntityID), string(rec.Kind), rec.Period.Key(), string(fieldsJSON),
		formatTime(rec.CreatedAt), formatTime(rec.UpdatedAt), recordStatus(rec.Fields),
	)
	if isUniqueConstraintError(err) {
		return generic.ErrConflictOnUpsert
	}
	if err != nil {
		return fmt.Errorf("failed to insert period record: %w", err)
	}
	return nil
}

func updateRecord(ctx context.Context, q querier, rec generic.PeriodRecord) error {
	fieldsJSON, err := generic.EncodeFields(rec.Fields)
	if err != nil {
		return err
	}
	res, err := q.ExecContext(ctx, `
		UPDATE period_records
		SET fields_json = ?, status = ?, updated_at = ?
		WHERE id = ? AND entity_id = ? AND kind = ? AND period = ? AND status <> ?
	`,
		string(fieldsJSON), recordStatus(rec.Fields), formatTime(rec.UpdatedAt),
		string(rec.ID), string(rec.EntityID), string(rec.Kind), rec.Period.Key(), string(generic.PayrollFinalized),
	)
	if err != nil {
		return fmt.Errorf("failed to update period record: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}

	prev, err := getRecordByID(ctx, q, rec.ID)
	if err != nil {
		return err
	}
	if err := generic.CheckUpdate(*prev, rec); err != nil {
		return err
	}
	return fmt.Errorf("failed to update period record %s", rec.ID)
}

func getRecordByID(ctx context.Context, q querier, id generic.RecordID) (*generic.PeriodRecord, error) {
	row := q.QueryRowContext(ctx, "SELECT "+recordColumns+" FROM period_records WHERE id = ?", string(id))
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &generic.NotFoundError{What: "record", Key: string(id)}
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func upsertRecord(ctx context.Context, q querier, rec generic.PeriodRecord) (generic.PeriodRecord, error) {
	fieldsJSON, err := generic.EncodeFields(rec.Fields)
	if err != nil {
		return generic.PeriodRecord{}, err
	}
	_, err = q.ExecContext(ctx, `
		INSERT INTO period_records (`+recordColumns+`, status)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(entity_id, period, kind) DO UPDATE SET
			fields_json = excluded.fields_json,
			status = excluded.status,
			updated_at = excluded.updated_at
	`,
		string(rec.ID), string(rec.EntityID), string(rec.Kind), rec.Period.Key(), string(fieldsJSON),
		formatTime(rec.CreatedAt), formatTime(rec.UpdatedAt), recordStatus(rec.Fields),
	)
	if err != nil {
		return generic.PeriodRecord{}, fmt.Errorf("failed to upsert period record: %w", err)
	}

	stored, err := getRecordByKey(ctx, q, rec.Key())
	if err != nil {
		return generic.PeriodRecord{}, err
	}
	return *stored, nil
}

func scanRecord(row scanner) (generic.PeriodRecord, error) {
	var (
		rec                  generic.PeriodRecord
		kind, period, fields string
		createdAt, updatedAt string
	)
	if err := row.Scan(&rec.ID, &rec.EntityID, &kind, &period, &fields, &createdAt, &updatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return rec, err
		}
		return rec, fmt.Errorf("failed to scan period record: %w", err)
	}

	rec.Kind = generic.Kind(kind)
	p, err := generic.ParsePeriod(rec.Kind, period)
	if err != nil {
		return rec, fmt.Errorf("record %s: %w", rec.ID, err)
	}
	rec.Period = p
	rec.Fields, err = generic.DecodeFields(rec.Kind, []byte(fields))
	if err != nil {
		return rec, fmt.Errorf("record %s: %w", rec.ID, err)
	}
	rec.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	rec.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	return rec, nil
}

// recordStatus exposes the payroll status as a column for ad-hoc queries.
func recordStatus(f generic.Fields) string {
	if p, ok := f.(generic.PayrollFields); ok {
		return string(p.Status)
	}
	return ""
}

// =============================================================================
// HELPERS
// =============================================================================

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		t = time.Now()
	}
	return t.UTC().Format(time.RFC3339)
}

func isUniqueConstraintError(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
