/*
Package importer loads bulk attendance and roster data from spreadsheets.

PURPOSE:
  Operators export attendance from time clocks and rosters from other HR
  tools as CSV or XLSX. The pipeline maps each row's columns to fields,
  resolves the row to an entity, normalizes dates, and writes it.

ROW RULES:
  Attendance
    - identifier (employee code, then email) must resolve: hard failure
    - date must normalize: hard failure
    - times and minute counts are best-effort; unparseable values are
      dropped or read as zero
    - written with Reconciler.Upsert on (entity, day, attendance)

  Employees
    - full_name, email and hire_date are required
    - basic_salary must be greater than zero
    - a row that resolves to an existing entity updates it; otherwise a
      new active entity is created with the default leave balance
    - leave_balance is only read when creating

BATCH RULES:
  A failing row never aborts the batch. Every row counts as succeeded or
  failed, and each failure keeps its file line and reason.

SEE ALSO:
  - dates.go: Serial and string date normalization
  - matcher.go: Identifier resolution
  - generic/reconcile.go: Upsert
*/
package importer

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/warp/hr-engine/generic"
)

// =============================================================================
// REPORT
// =============================================================================

type Failure struct {
	Line   int    `json:"line"`
	Reason string `json:"reason"`
	Err    error  `json:"-"`
}

type Report struct {
	Target    Target    `json:"target"`
	Succeeded int       `json:"succeeded"`
	Failed    int       `json:"failed"`
	Failures  []Failure `json:"failures"`
}

func (r *Report) fail(line int, err error) {
	r.Failed++
	r.Failures = append(r.Failures, Failure{Line: line, Reason: err.Error(), Err: err})
}

// =============================================================================
// PIPELINE
// =============================================================================

type Pipeline struct {
	Store               generic.Store
	Reconciler          *generic.Reconciler
	Mappings            Mappings
	DefaultLeaveBalance decimal.Decimal
	Log                 logrus.FieldLogger
	Now                 func() time.Time
	NewID               func() generic.EntityID
}

func NewPipeline(store generic.Store, rec *generic.Reconciler, log logrus.FieldLogger) *Pipeline {
	if log == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		log = l
	}
	return &Pipeline{
		Store:               store,
		Reconciler:          rec,
		Mappings:            DefaultMappings(),
		DefaultLeaveBalance: decimal.NewFromInt(12),
		Log:                 log,
		Now:                 time.Now,
		NewID:               func() generic.EntityID { return generic.EntityID(uuid.NewString()) },
	}
}

// Import runs one batch. The error is only non-nil when the batch could
// not start (roster unavailable) or the context ended.
func (p *Pipeline) Import(ctx context.Context, target Target, rows []Row) (*Report, error) {
	switch target {
	case TargetAttendance:
		return p.ImportAttendance(ctx, rows)
	case TargetEmployees:
		return p.ImportEmployees(ctx, rows)
	}
	return nil, &generic.ValidationError{Field: "target", Message: fmt.Sprintf("unknown import target %q", target)}
}

func (p *Pipeline) mapping(target Target) (Mapping, DateNormalizer) {
	m, ok := p.Mappings[target]
	if !ok {
		m = DefaultMappings()[target]
	}
	return m, NewDateNormalizer(m.DateLayouts...)
}

func (p *Pipeline) matcher(ctx context.Context) (*Matcher, error) {
	roster, err := p.Store.ListEntities(ctx, generic.EntityFilter{Scope: generic.ScopeAll})
	if err != nil {
		return nil, fmt.Errorf("failed to load roster: %w", err)
	}
	return NewMatcher(roster), nil
}

func (p *Pipeline) finish(report *Report) *Report {
	p.Log.WithFields(logrus.Fields{
		"target":    report.Target,
		"succeeded": report.Succeeded,
		"failed":    report.Failed,
	}).Info("import finished")
	return report
}

func (p *Pipeline) rowFailed(report *Report, line int, err error) {
	report.fail(line, err)
	p.Log.WithFields(logrus.Fields{
		"target": report.Target,
		"line":   line,
	}).WithError(err).Warn("import row failed")
}

// =============================================================================
// ATTENDANCE
// =============================================================================

func (p *Pipeline) ImportAttendance(ctx context.Context, rows []Row) (*Report, error) {
	report := &Report{Target: TargetAttendance}
	m, dates := p.mapping(TargetAttendance)

	match, err := p.matcher(ctx)
	if err != nil {
		return nil, err
	}

	for _, row := range rows {
		if err := ctx.Err(); err != nil {
			return p.finish(report), err
		}

		rec, err := p.attendanceRecord(row, m, dates, match)
		if err != nil {
			p.rowFailed(report, row.Line, err)
			continue
		}
		if _, err := p.Reconciler.Upsert(ctx, rec); err != nil {
			p.rowFailed(report, row.Line, err)
			continue
		}
		report.Succeeded++
	}

	return p.finish(report), nil
}

func (p *Pipeline) attendanceRecord(row Row, m Mapping, dates DateNormalizer, match *Matcher) (generic.PeriodRecord, error) {
	entity, err := match.Resolve(m.Text(row, FieldEmployeeCode), m.Text(row, FieldEmail))
	if err != nil {
		return generic.PeriodRecord{}, err
	}
	day, err := dates.Normalize(m.Lookup(row, FieldDate))
	if err != nil {
		return generic.PeriodRecord{}, err
	}

	fields := generic.AttendanceFields{
		LateMinutes:     max(IntOrZero(m.Lookup(row, FieldLateMinutes)), 0),
		OvertimeMinutes: max(IntOrZero(m.Lookup(row, FieldOvertimeMinutes)), 0),
		Notes:           m.Text(row, FieldNotes),
	}
	if c, err := NormalizeClock(m.Lookup(row, FieldCheckIn)); err == nil {
		fields.CheckIn = c
	}
	if c, err := NormalizeClock(m.Lookup(row, FieldCheckOut)); err == nil {
		fields.CheckOut = c
	}
	if fields.CheckIn != nil && fields.CheckOut != nil && *fields.CheckOut < *fields.CheckIn {
		fields.CheckOut = nil
	}

	return generic.PeriodRecord{
		EntityID: entity.ID,
		Kind:     generic.KindAttendance,
		Period:   generic.DayPeriod(day),
		Fields:   fields,
	}, nil
}

// =============================================================================
// EMPLOYEES
// =============================================================================

func (p *Pipeline) ImportEmployees(ctx context.Context, rows []Row) (*Report, error) {
	report := &Report{Target: TargetEmployees}
	m, dates := p.mapping(TargetEmployees)

	match, err := p.matcher(ctx)
	if err != nil {
		return nil, err
	}

	for _, row := range rows {
		if err := ctx.Err(); err != nil {
			return p.finish(report), err
		}

		entity, err := p.employee(row, m, dates, match)
		if err != nil {
			p.rowFailed(report, row.Line, err)
			continue
		}
		if err := p.Store.SaveEntity(ctx, entity); err != nil {
			p.rowFailed(report, row.Line, fmt.Errorf("failed to save entity: %w", err))
			continue
		}
		// later rows in the same file may refer to this entity
		match.Add(entity)
		report.Succeeded++
	}

	return p.finish(report), nil
}

func (p *Pipeline) employee(row Row, m Mapping, dates DateNormalizer, match *Matcher) (generic.Entity, error) {
	name := m.Text(row, FieldFullName)
	if name == "" {
		return generic.Entity{}, &generic.ValidationError{Field: FieldFullName, Message: "required"}
	}
	email := m.Text(row, FieldEmail)
	if email == "" {
		return generic.Entity{}, &generic.ValidationError{Field: FieldEmail, Message: "required"}
	}
	if m.Lookup(row, FieldHireDate) == nil {
		return generic.Entity{}, &generic.ValidationError{Field: FieldHireDate, Message: "required"}
	}
	hired, err := dates.Normalize(m.Lookup(row, FieldHireDate))
	if err != nil {
		return generic.Entity{}, err
	}
	basic, err := parseDecimal(m.Lookup(row, FieldBasicSalary))
	if err != nil || !basic.IsPositive() {
		return generic.Entity{}, &generic.ValidationError{Field: FieldBasicSalary, Message: "must be greater than zero"}
	}
	code := m.Text(row, FieldEmployeeCode)

	now := p.Now().UTC()
	e, err := match.Resolve(code, email)
	if err != nil {
		e = generic.Entity{
			ID:           p.NewID(),
			Status:       generic.EntityActive,
			LeaveBalance: p.DefaultLeaveBalance,
			CreatedAt:    now,
		}
		if v := m.Lookup(row, FieldLeaveBalance); v != nil {
			if d, err := parseDecimal(v); err == nil && !d.IsNegative() {
				e.LeaveBalance = d
			}
		}
	}

	e.FullName = name
	e.Email = email
	e.HireDate = hired
	e.BasicSalary = basic
	e.VariableSalary = decimal.Max(DecimalOrZero(m.Lookup(row, FieldVariableSalary)), decimal.Zero)
	if code != "" {
		e.EmployeeCode = code
	}
	if scope := m.Text(row, FieldScope); scope != "" {
		e.Scope = generic.Scope(scope)
	}
	if pos := m.Text(row, FieldPosition); pos != "" {
		e.Position = pos
	}
	e.UpdatedAt = now
	return e, nil
}
