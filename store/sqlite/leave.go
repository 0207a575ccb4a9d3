package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/hr-engine/generic"
)

// =============================================================================
// LEAVE REQUESTS (generic.LeaveStore interface)
// =============================================================================

const leaveColumns = `id, entity_id, kind, start_date, end_date, total_days, status, reason,
	decided_by, decided_at, rejection_reason, created_at`

func (s *Store) InsertLeaveRequest(ctx context.Context, r generic.LeaveRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return insertLeaveRequest(ctx, s.db, r)
}

func (s *Store) GetLeaveRequest(ctx context.Context, id generic.RequestID) (*generic.LeaveRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getLeaveRequest(ctx, s.db, id)
}

func (s *Store) ListLeaveRequests(ctx context.Context, filter generic.LeaveFilter) ([]generic.LeaveRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listLeaveRequests(ctx, s.db, filter)
}

func (s *Store) TransitionLeaveRequest(ctx context.Context, t generic.LeaveTransition) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return transitionLeaveRequest(ctx, s.db, t)
}

// DecrementLeaveBalance runs the read-check-write in its own transaction.
// Inside WithTx, the txStore variant reuses the caller's transaction.
func (s *Store) DecrementLeaveBalance(ctx context.Context, id generic.EntityID, days decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := decrementLeaveBalance(ctx, sqlTx, id, days); err != nil {
		return err
	}
	return sqlTx.Commit()
}

func (ts *txStore) InsertLeaveRequest(ctx context.Context, r generic.LeaveRequest) error {
	return insertLeaveRequest(ctx, ts.tx, r)
}

func (ts *txStore) GetLeaveRequest(ctx context.Context, id generic.RequestID) (*generic.LeaveRequest, error) {
	return getLeaveRequest(ctx, ts.tx, id)
}

func (ts *txStore) ListLeaveRequests(ctx context.Context, filter generic.LeaveFilter) ([]generic.LeaveRequest, error) {
	return listLeaveRequests(ctx, ts.tx, filter)
}

func (ts *txStore) TransitionLeaveRequest(ctx context.Context, t generic.LeaveTransition) error {
	return transitionLeaveRequest(ctx, ts.tx, t)
}

func (ts *txStore) DecrementLeaveBalance(ctx context.Context, id generic.EntityID, days decimal.Decimal) error {
	return decrementLeaveBalance(ctx, ts.tx, id, days)
}

func insertLeaveRequest(ctx context.Context, q querier, r generic.LeaveRequest) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO leave_requests (`+leaveColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		string(r.ID), string(r.EntityID), string(r.Kind),
		r.Start.String(), r.End.String(), r.TotalDays, string(r.Status),
		nullString(r.Reason), nullString(r.DecidedBy), nullTime(r.DecidedAt),
		nullString(r.RejectionReason), formatTime(r.CreatedAt),
	)
	if isUniqueConstraintError(err) {
		return generic.ErrConflictOnUpsert
	}
	if err != nil {
		return fmt.Errorf("failed to insert leave request: %w", err)
	}
	return nil
}

func getLeaveRequest(ctx context.Context, q querier, id generic.RequestID) (*generic.LeaveRequest, error) {
	row := q.QueryRowContext(ctx, "SELECT "+leaveColumns+" FROM leave_requests WHERE id = ?", string(id))
	r, err := scanLeaveRequest(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &generic.NotFoundError{What: "leave request", Key: string(id)}
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func listLeaveRequests(ctx context.Context, q querier, filter generic.LeaveFilter) ([]generic.LeaveRequest, error) {
	query := "SELECT " + leaveColumns + " FROM leave_requests WHERE 1=1"
	var args []any
	if filter.EntityID != "" {
		query += " AND entity_id = ?"
		args = append(args, string(filter.EntityID))
	}
	if filter.Status != "" {
		query += " AND status = ?"
		args = append(args, string(filter.Status))
	}
	query += " ORDER BY created_at DESC, id DESC"

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query leave requests: %w", err)
	}
	defer rows.Close()

	var requests []generic.LeaveRequest
	for rows.Next() {
		r, err := scanLeaveRequest(rows)
		if err != nil {
			return nil, err
		}
		requests = append(requests, r)
	}
	return requests, rows.Err()
}

// transitionLeaveRequest is a conditional update: it only matches while
// the request is still in t.From.
func transitionLeaveRequest(ctx context.Context, q querier, t generic.LeaveTransition) error {
	res, err := q.ExecContext(ctx, `
		UPDATE leave_requests
		SET status = ?, decided_by = ?, decided_at = ?, rejection_reason = ?
		WHERE id = ? AND status = ?
	`,
		string(t.To), nullString(t.DecidedBy), formatTime(t.DecidedAt), nullString(t.RejectionReason),
		string(t.RequestID), string(t.From),
	)
	if err != nil {
		return fmt.Errorf("failed to update leave request: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 1 {
		return nil
	}

	current, err := getLeaveRequest(ctx, q, t.RequestID)
	if err != nil {
		return err
	}
	return &generic.InvalidStateError{Subject: "leave request " + string(t.RequestID), Current: string(current.Status), Action: "move to " + string(t.To)}
}

func decrementLeaveBalance(ctx context.Context, q querier, id generic.EntityID, days decimal.Decimal) error {
	var raw string
	err := q.QueryRowContext(ctx, "SELECT leave_balance FROM employees WHERE id = ?", string(id)).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return &generic.NotFoundError{What: "entity", Key: string(id)}
	}
	if err != nil {
		return fmt.Errorf("failed to read leave balance: %w", err)
	}

	balance := generic.MustParseDecimal(raw)
	if balance.LessThan(days) {
		return &generic.InsufficientBalanceError{EntityID: id, Available: balance, Requested: days}
	}

	res, err := q.ExecContext(ctx,
		"UPDATE employees SET leave_balance = ?, updated_at = ? WHERE id = ? AND leave_balance = ?",
		balance.Sub(days).String(), formatTime(time.Now()), string(id), raw,
	)
	if err != nil {
		return fmt.Errorf("failed to update leave balance: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update leave balance: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("leave balance of %s changed during deduction: %w", id, generic.ErrConflictOnUpsert)
	}
	return nil
}

func scanLeaveRequest(row scanner) (generic.LeaveRequest, error) {
	var (
		r                                  generic.LeaveRequest
		kind, status, start, end, created  string
		reason, decidedBy, decidedAt, reje sql.NullString
	)
	err := row.Scan(&r.ID, &r.EntityID, &kind, &start, &end, &r.TotalDays, &status, &reason,
		&decidedBy, &decidedAt, &reje, &created)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return r, err
		}
		return r, fmt.Errorf("failed to scan leave request: %w", err)
	}

	r.Kind = generic.LeaveKind(kind)
	r.Status = generic.RequestStatus(status)
	r.Start, _ = generic.ParseDate(start)
	r.End, _ = generic.ParseDate(end)
	r.Reason = reason.String
	r.DecidedBy = decidedBy.String
	r.RejectionReason = reje.String
	if decidedAt.Valid {
		if t, err := time.Parse(time.RFC3339, decidedAt.String); err == nil {
			r.DecidedAt = &t
		}
	}
	r.CreatedAt, _ = time.Parse(time.RFC3339, created)
	return r, nil
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: t.UTC().Format(time.RFC3339), Valid: true}
}
