/*
projection.go - Roster projection

PURPOSE:
  Produces the editable view of one kind for one scope and period: exactly
  one row per active entity, in roster order. A row carries the persisted
  record's values when one exists, otherwise the kind's defaults.

KEY INSIGHT:
  Period records are sparse. The roster is authoritative for which rows
  exist; records only decide what the rows contain. The row count is the
  active-entity count no matter how many records exist (0 to N), and a
  stray record for an inactive or out-of-scope entity never adds a row.

ORDERING:
  The entity fetch completes before the record fetch is issued, because
  the record query is scoped by the entity ids it returns.

BACKING:
  Each row says whether it is Persisted(id) or a Placeholder. The
  reconciler routes insert vs update on this tag alone; an all-zero
  persisted row is still persisted.

EXAMPLE:
  proj, err := generic.NewProjector(store).Project(ctx, generic.ProjectionQuery{
      Scope:  "proj-north",
      Kind:   generic.KindPayroll,
      Period: generic.MonthPeriod(2025, time.March),
  })
  for _, row := range proj.Rows {
      id, ok := row.Backing.RecordID()
      ...
  }

SEE ALSO:
  - reconcile.go: Persists edited rows
  - payroll/payroll.go: Lock state derived from a projection
*/
package generic

import (
	"context"
	"fmt"
)

// =============================================================================
// BACKING - Placeholder or Persisted(id)
// =============================================================================

// Backing tags a projection row. The zero value is a placeholder.
type Backing struct {
	id RecordID
}

func Placeholder() Backing { return Backing{} }

func Persisted(id RecordID) Backing { return Backing{id: id} }

// RecordID returns the persisted id, if any.
func (b Backing) RecordID() (RecordID, bool) {
	return b.id, b.id != ""
}

func (b Backing) IsPersisted() bool { return b.id != "" }

func (b Backing) String() string {
	if b.id == "" {
		return "placeholder"
	}
	return "persisted(" + string(b.id) + ")"
}

// =============================================================================
// PROJECTION
// =============================================================================

// Row is one editable, non-persisted view row.
type Row struct {
	Entity  Entity
	Kind    Kind
	Period  Period
	Fields  Fields
	Backing Backing
}

// Record converts the row into the record it would persist.
func (r Row) Record() PeriodRecord {
	id, _ := r.Backing.RecordID()
	return PeriodRecord{
		ID:       id,
		EntityID: r.Entity.ID,
		Kind:     r.Kind,
		Period:   r.Period,
		Fields:   r.Fields,
	}
}

type ProjectionQuery struct {
	Scope  Scope
	Kind   Kind
	Period Period
}

func (q ProjectionQuery) Validate() error {
	if _, err := ParseKind(string(q.Kind)); err != nil {
		return err
	}
	if !q.Period.FitsKind(q.Kind) {
		return &ValidationError{Field: "period", Message: fmt.Sprintf("not a %s period", q.Kind)}
	}
	return nil
}

type Projection struct {
	Query ProjectionQuery
	Rows  []Row
}

// Persisted counts backed rows.
func (p *Projection) Persisted() int {
	n := 0
	for _, r := range p.Rows {
		if r.Backing.IsPersisted() {
			n++
		}
	}
	return n
}

// Bind returns row carrying the backing p holds for the same entity. A row
// naming a record other than the projected one fails with
// ErrConflictOnUpsert; an entity outside p fails with ErrNotFound.
func (p *Projection) Bind(row Row) (Row, error) {
	for _, cur := range p.Rows {
		if cur.Entity.ID != row.Entity.ID {
			continue
		}
		if id, ok := row.Backing.RecordID(); ok && cur.Backing != Persisted(id) {
			return row, fmt.Errorf("%w: record %s is not the %s row of %s", ErrConflictOnUpsert, id, p.Query.Kind, row.Entity.ID)
		}
		row.Backing = cur.Backing
		return row, nil
	}
	return row, &NotFoundError{What: "entity in projection", Key: string(row.Entity.ID)}
}

// ProjectionSource is what the projector reads from.
type ProjectionSource interface {
	ListEntities(ctx context.Context, filter EntityFilter) ([]Entity, error)
	ListRecords(ctx context.Context, filter RecordFilter) ([]PeriodRecord, error)
}

type Projector struct {
	Source ProjectionSource
}

func NewProjector(src ProjectionSource) *Projector {
	return &Projector{Source: src}
}

// Project builds the projection for q. Read-only.
func (p *Projector) Project(ctx context.Context, q ProjectionQuery) (*Projection, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}

	// 1. Roster first: it scopes the record query
	entities, err := p.Source.ListEntities(ctx, EntityFilter{Scope: q.Scope, Status: EntityActive})
	if err != nil {
		return nil, fmt.Errorf("failed to list entities: %w", err)
	}

	proj := &Projection{Query: q, Rows: make([]Row, 0, len(entities))}
	if len(entities) == 0 {
		return proj, nil
	}

	ids := make([]EntityID, len(entities))
	for i, e := range entities {
		ids[i] = e.ID
	}

	// 2. Sparse records for exactly those entities
	records, err := p.Source.ListRecords(ctx, RecordFilter{Kind: q.Kind, Period: q.Period, EntityIDs: ids})
	if err != nil {
		return nil, fmt.Errorf("failed to list %s records: %w", q.Kind, err)
	}

	byEntity := make(map[EntityID]PeriodRecord, len(records))
	for _, rec := range records {
		byEntity[rec.EntityID] = rec
	}

	// 3. Exactly one row per entity, in roster order
	for _, e := range entities {
		row := Row{Entity: e, Kind: q.Kind, Period: q.Period}
		if rec, ok := byEntity[e.ID]; ok {
			row.Fields = rec.Fields
			row.Backing = Persisted(rec.ID)
		} else {
			row.Fields = DefaultFields(q.Kind, e)
			row.Backing = Placeholder()
		}
		proj.Rows = append(proj.Rows, row)
	}

	return proj, nil
}
