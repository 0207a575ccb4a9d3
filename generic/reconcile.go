/*
reconcile.go - Upsert reconciler for edited projection rows

PURPOSE:
  Persists edited projection rows. Persisted rows update their record by
  id; placeholder rows insert a new record for (entity, period, kind).

ROUTING:
  The Backing tag is the only routing signal:
    Persisted(id) -> UpdateRecord(id)
    Placeholder   -> InsertRecord, unless the fields are still defaults

  Attendance placeholders with no time or minutes set are skipped so an
  untouched grid does not create empty records. KPI and payroll saves
  are explicit and always insert.

CONFLICTS:
  If a concurrent insert won the composite key, the insert is retried as
  an update of the winning record. If the retry fails too, the row is
  reported with ErrConflictOnUpsert. Rows are never dropped silently.

PARTIAL SUCCESS:
  Rows are independent keys and are written concurrently (bounded by
  Concurrency). Save waits for every row to settle and returns a Report
  listing each row's outcome. There is no cross-row transaction.

IDEMPOTENCE:
  Saving the same rows twice leaves one record per key: the second pass
  either updates by id or hits the conflict path and updates.

SEE ALSO:
  - projection.go: Produces the rows
  - payroll/payroll.go: Draft saves go through the reconciler
  - importer/pipeline.go: Uses Upsert per imported row
*/
package generic

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// =============================================================================
// REPORT
// =============================================================================

type Action string

const (
	ActionInserted Action = "inserted"
	ActionUpdated  Action = "updated"
	ActionSkipped  Action = "skipped"
	ActionFailed   Action = "failed"
)

// RowOutcome is the result of persisting one row.
type RowOutcome struct {
	Index    int
	EntityID EntityID
	Action   Action
	Record   *PeriodRecord
	Err      error
}

func (o RowOutcome) Succeeded() bool {
	return o.Action == ActionInserted || o.Action == ActionUpdated
}

// Report lists the outcome of every row in input order.
type Report struct {
	Outcomes []RowOutcome
}

func (r *Report) count(match func(RowOutcome) bool) int {
	n := 0
	for _, o := range r.Outcomes {
		if match(o) {
			n++
		}
	}
	return n
}

func (r *Report) Succeeded() int { return r.count(RowOutcome.Succeeded) }
func (r *Report) Inserted() int {
	return r.count(func(o RowOutcome) bool { return o.Action == ActionInserted })
}
func (r *Report) Updated() int {
	return r.count(func(o RowOutcome) bool { return o.Action == ActionUpdated })
}
func (r *Report) Skipped() int {
	return r.count(func(o RowOutcome) bool { return o.Action == ActionSkipped })
}
func (r *Report) Failed() int {
	return r.count(func(o RowOutcome) bool { return o.Action == ActionFailed })
}

// Failures returns only the failed outcomes.
func (r *Report) Failures() []RowOutcome {
	var out []RowOutcome
	for _, o := range r.Outcomes {
		if o.Action == ActionFailed {
			out = append(out, o)
		}
	}
	return out
}

// =============================================================================
// RECONCILER
// =============================================================================

const DefaultConcurrency = 4

type Reconciler struct {
	Store       RecordStore
	Concurrency int
	NewID       func() RecordID
	Now         func() time.Time
}

func NewReconciler(store RecordStore) *Reconciler {
	return &Reconciler{
		Store:       store,
		Concurrency: DefaultConcurrency,
		NewID:       func() RecordID { return RecordID(uuid.NewString()) },
		Now:         time.Now,
	}
}

// Save persists rows and reports each outcome. It never aborts early.
func (r *Reconciler) Save(ctx context.Context, rows []Row) *Report {
	outcomes := make([]RowOutcome, len(rows))

	limit := r.Concurrency
	if limit <= 0 {
		limit = 1
	}
	var g errgroup.Group
	g.SetLimit(limit)
	for i, row := range rows {
		g.Go(func() error {
			out := r.SaveRow(ctx, row)
			out.Index = i
			outcomes[i] = out
			return nil
		})
	}
	_ = g.Wait()

	return &Report{Outcomes: outcomes}
}

// SaveRow persists a single row.
func (r *Reconciler) SaveRow(ctx context.Context, row Row) RowOutcome {
	out := RowOutcome{EntityID: row.Entity.ID}
	fail := func(err error) RowOutcome {
		out.Action = ActionFailed
		out.Err = err
		return out
	}

	if err := checkRow(row); err != nil {
		return fail(err)
	}

	rec := row.Record()
	rec.UpdatedAt = r.Now().UTC()

	if id, ok := row.Backing.RecordID(); ok {
		rec.ID = id
		if err := r.Store.UpdateRecord(ctx, rec); err != nil {
			return fail(fmt.Errorf("failed to update record %s: %w", id, err))
		}
		out.Action = ActionUpdated
		out.Record = &rec
		return out
	}

	if !WorthInserting(rec.Fields) {
		out.Action = ActionSkipped
		return out
	}

	rec.ID = r.NewID()
	rec.CreatedAt = rec.UpdatedAt
	err := r.Store.InsertRecord(ctx, rec)
	if err == nil {
		out.Action = ActionInserted
		out.Record = &rec
		return out
	}
	if !errors.Is(err, ErrConflictOnUpsert) {
		return fail(fmt.Errorf("failed to insert record: %w", err))
	}

	// Lost the race for this key: update the winner instead
	existing, err := r.Store.GetRecordByKey(ctx, rec.Key())
	if err != nil {
		return fail(fmt.Errorf("%w: %s %s for %s: %v", ErrConflictOnUpsert, rec.Kind, rec.Period, rec.EntityID, err))
	}
	rec.ID = existing.ID
	rec.CreatedAt = existing.CreatedAt
	if err := r.Store.UpdateRecord(ctx, rec); err != nil {
		return fail(fmt.Errorf("%w: retry as update: %w", ErrConflictOnUpsert, err))
	}
	out.Action = ActionUpdated
	out.Record = &rec
	return out
}

// Upsert writes rec by composite key regardless of prior existence.
func (r *Reconciler) Upsert(ctx context.Context, rec PeriodRecord) (PeriodRecord, error) {
	if err := checkRecord(rec); err != nil {
		return PeriodRecord{}, err
	}
	now := r.Now().UTC()
	if rec.ID == "" {
		rec.ID = r.NewID()
	}
	rec.CreatedAt = now
	rec.UpdatedAt = now
	return r.Store.UpsertRecord(ctx, rec)
}

func checkRow(row Row) error {
	if row.Entity.ID == "" {
		return &ValidationError{Field: "entity_id", Message: "missing"}
	}
	return checkRecord(row.Record())
}

func checkRecord(rec PeriodRecord) error {
	if rec.EntityID == "" {
		return &ValidationError{Field: "entity_id", Message: "missing"}
	}
	if rec.Fields == nil {
		return &ValidationError{Field: "fields", Message: "missing"}
	}
	if rec.Fields.Kind() != rec.Kind {
		return &ValidationError{Field: "fields", Message: fmt.Sprintf("%s fields on a %s row", rec.Fields.Kind(), rec.Kind)}
	}
	if !rec.Period.FitsKind(rec.Kind) {
		return &ValidationError{Field: "period", Message: fmt.Sprintf("not a %s period", rec.Kind)}
	}
	return rec.Fields.Validate()
}
