/*
store.go - Persistence interface for the roster, period records and leave

PURPOSE:
  Defines the interface between the domain logic and the database.
  Different implementations can use SQLite or in-memory storage.

KEY INTERFACES:
  RosterStore:  Entities (employees)
  RecordStore:  Period records with composite-key uniqueness
  LeaveStore:   Leave requests and the balance/status transition
  TxStore:      Transactional operations (atomic multi-table writes)

COMPOSITE KEY:
  (entity_id, period, kind) is unique. InsertRecord fails with
  ErrConflictOnUpsert when the key already exists; UpsertRecord resolves
  the conflict by updating the existing row in place.

BALANCE MUTATION:
  DecrementLeaveBalance is only called from inside WithTx, after the
  caller re-read the balance in the same transaction. No code path reads
  a balance outside the transaction and writes it back later.

IMPLEMENTATIONS:
  - store/sqlite/sqlite.go: SQLite
  - generic/store/memory.go: In-memory for testing

SEE ALSO:
  - projection.go: Reads RosterStore + RecordStore
  - reconcile.go: Writes RecordStore
  - timeoff/service.go: Uses TxStore for approval
*/
package generic

import (
	"context"

	"github.com/shopspring/decimal"
)

// =============================================================================
// ROSTER STORE
// =============================================================================

type RosterStore interface {
	// ListEntities returns matching entities in roster order
	// (full name, then id).
	ListEntities(ctx context.Context, filter EntityFilter) ([]Entity, error)

	// GetEntity returns ErrNotFound if the entity does not exist.
	GetEntity(ctx context.Context, id EntityID) (*Entity, error)

	// SaveEntity inserts or updates by id. An update keeps the stored
	// leave balance; only DecrementLeaveBalance moves it.
	SaveEntity(ctx context.Context, e Entity) error
}

// =============================================================================
// RECORD STORE
// =============================================================================

type RecordStore interface {
	// ListRecords returns records of filter.Kind and filter.Period whose
	// entity is in filter.EntityIDs.
	ListRecords(ctx context.Context, filter RecordFilter) ([]PeriodRecord, error)

	// GetRecordByKey returns ErrNotFound if no record holds the key.
	GetRecordByKey(ctx context.Context, key RecordKey) (*PeriodRecord, error)

	// InsertRecord fails with ErrConflictOnUpsert if the key exists.
	InsertRecord(ctx context.Context, rec PeriodRecord) error

	// UpdateRecord overwrites fields of the record with rec.ID.
	// Returns ErrNotFound if the id does not exist, ErrConflictOnUpsert if
	// the stored record has a different key and ErrInvalidState if it is a
	// finalized payroll record.
	UpdateRecord(ctx context.Context, rec PeriodRecord) error

	// UpsertRecord inserts or updates by composite key and returns the
	// persisted record (with the surviving id).
	UpsertRecord(ctx context.Context, rec PeriodRecord) (PeriodRecord, error)
}

// =============================================================================
// LEAVE STORE
// =============================================================================

type LeaveStore interface {
	InsertLeaveRequest(ctx context.Context, r LeaveRequest) error

	// GetLeaveRequest returns ErrNotFound if the id does not exist.
	GetLeaveRequest(ctx context.Context, id RequestID) (*LeaveRequest, error)

	// ListLeaveRequests returns matches, newest first.
	ListLeaveRequests(ctx context.Context, filter LeaveFilter) ([]LeaveRequest, error)

	// TransitionLeaveRequest applies t only if the request is still in
	// t.From; otherwise it returns ErrInvalidState.
	TransitionLeaveRequest(ctx context.Context, t LeaveTransition) error

	// DecrementLeaveBalance subtracts days from the entity's balance.
	// Fails with ErrInsufficientBalance rather than going negative.
	DecrementLeaveBalance(ctx context.Context, id EntityID, days decimal.Decimal) error
}

// =============================================================================
// COMBINED + TRANSACTIONAL STORE
// =============================================================================

type Store interface {
	RosterStore
	RecordStore
	LeaveStore
}

// TxStore wraps Store with transaction support.
type TxStore interface {
	Store

	// WithTx executes fn within a transaction.
	// If fn returns error, transaction is rolled back.
	// If fn returns nil, transaction is committed.
	WithTx(ctx context.Context, fn func(Store) error) error
}
