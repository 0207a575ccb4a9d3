/*
Package payroll implements the payroll state machine.

STATES:
  draft      Overtime amount and late deduction are editable.
  finalized  Terminal. No field is mutable.

NET PAY:
  net_salary = basic_salary + variable_salary + overtime_amount - late_deduction

  Net is recomputed on every draft save and once more at finalize, so a
  stored net never drifts from its inputs. Finalized rows are never
  recomputed again.

LOCK:
  A (scope, period) is locked only when every row of its projection is
  finalized. The lock is derived from that aggregate, never from a single
  row. A locked period rejects draft saves and a second finalize with
  ErrInvalidState.

FINALIZE:
  Runs inside one store transaction: the projection is re-read, every
  draft row (including placeholders) is written as finalized, and any
  failure rolls the whole batch back.

SEE ALSO:
  - generic/projection.go: Rows and backing
  - generic/reconcile.go: Draft saves
*/
package payroll

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/warp/hr-engine/generic"
)

// NetSalary applies the net pay formula.
func NetSalary(f generic.PayrollFields) generic.Money {
	return f.BasicSalary.Add(f.VariableSalary).Add(f.OvertimeAmount).Sub(f.LateDeduction)
}

// Recompute returns f with NetSalary derived from its inputs.
func Recompute(f generic.PayrollFields) generic.PayrollFields {
	f.NetSalary = NetSalary(f)
	return f
}

// =============================================================================
// STATUS - Aggregate lock state of one projection
// =============================================================================

type Status struct {
	Scope     generic.Scope
	Period    generic.Period
	Rows      int
	Finalized int
	Locked    bool
	TotalNet  generic.Money
}

// StatusOf derives the aggregate state of a payroll projection.
func StatusOf(p *generic.Projection) Status {
	st := Status{Scope: p.Query.Scope, Period: p.Query.Period, Rows: len(p.Rows), TotalNet: decimal.Zero}
	for _, row := range p.Rows {
		f, ok := row.Fields.(generic.PayrollFields)
		if !ok {
			continue
		}
		if f.Status == generic.PayrollFinalized {
			st.Finalized++
		}
		st.TotalNet = st.TotalNet.Add(f.NetSalary)
	}
	st.Locked = st.Rows > 0 && st.Finalized == st.Rows
	return st
}

func isFinalized(row generic.Row) bool {
	f, ok := row.Fields.(generic.PayrollFields)
	return ok && f.Status == generic.PayrollFinalized
}

// =============================================================================
// SERVICE
// =============================================================================

type Service struct {
	Store      generic.TxStore
	Reconciler *generic.Reconciler
	Log        logrus.FieldLogger
	Now        func() time.Time
}

func NewService(store generic.TxStore, log logrus.FieldLogger) *Service {
	if log == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		log = l
	}
	return &Service{
		Store:      store,
		Reconciler: generic.NewReconciler(store),
		Log:        log,
		Now:        time.Now,
	}
}

func payrollQuery(scope generic.Scope, period generic.Period) generic.ProjectionQuery {
	return generic.ProjectionQuery{Scope: scope, Kind: generic.KindPayroll, Period: period}
}

// Project returns the payroll projection and its aggregate status.
func (s *Service) Project(ctx context.Context, scope generic.Scope, period generic.Period) (*generic.Projection, Status, error) {
	proj, err := generic.NewProjector(s.Store).Project(ctx, payrollQuery(scope, period))
	if err != nil {
		return nil, Status{}, err
	}
	return proj, StatusOf(proj), nil
}

// Status reports whether (scope, period) is locked.
func (s *Service) Status(ctx context.Context, scope generic.Scope, period generic.Period) (Status, error) {
	_, st, err := s.Project(ctx, scope, period)
	return st, err
}

// SaveDraft persists edited draft rows. Net pay is recomputed for every
// row; rows whose stored record is finalized fail with ErrInvalidState.
// Each row is written through the projection's backing for its entity.
func (s *Service) SaveDraft(ctx context.Context, scope generic.Scope, period generic.Period, rows []generic.Row) (*generic.Report, error) {
	proj, st, err := s.Project(ctx, scope, period)
	if err != nil {
		return nil, err
	}
	if st.Locked {
		return nil, &generic.InvalidStateError{Subject: "payroll " + period.Key(), Current: string(generic.PayrollFinalized), Action: "save draft of"}
	}

	current := make(map[generic.EntityID]generic.Row, len(proj.Rows))
	for _, row := range proj.Rows {
		current[row.Entity.ID] = row
	}

	outcomes := make([]generic.RowOutcome, len(rows))
	var toSave []generic.Row
	var positions []int
	for i, row := range rows {
		bound, err := proj.Bind(row)
		if err != nil {
			outcomes[i] = generic.RowOutcome{Index: i, EntityID: row.Entity.ID, Action: generic.ActionFailed, Err: err}
			continue
		}
		if isFinalized(current[row.Entity.ID]) {
			outcomes[i] = generic.RowOutcome{
				Index:    i,
				EntityID: row.Entity.ID,
				Action:   generic.ActionFailed,
				Err:      &generic.InvalidStateError{Subject: "payroll row " + string(row.Entity.ID), Current: string(generic.PayrollFinalized), Action: "edit"},
			}
			continue
		}
		row = bound
		row.Kind = generic.KindPayroll
		row.Period = period
		if f, ok := row.Fields.(generic.PayrollFields); ok {
			f.Status = generic.PayrollDraft
			row.Fields = Recompute(f)
		}
		toSave = append(toSave, row)
		positions = append(positions, i)
	}

	saved := s.Reconciler.Save(ctx, toSave)
	for j, out := range saved.Outcomes {
		out.Index = positions[j]
		outcomes[positions[j]] = out
	}
	report := &generic.Report{Outcomes: outcomes}

	s.Log.WithFields(logrus.Fields{
		"kind":      generic.KindPayroll,
		"scope":     scope,
		"period":    period.Key(),
		"succeeded": report.Succeeded(),
		"failed":    report.Failed(),
	}).Info("payroll draft saved")

	return report, nil
}

// =============================================================================
// FINALIZE
// =============================================================================

type FinalizeResult struct {
	Scope            generic.Scope
	Period           generic.Period
	Finalized        int
	AlreadyFinalized int
	TotalNet         generic.Money
}

// Finalize locks (scope, period). All draft rows are recomputed and
// written as finalized in one transaction.
func (s *Service) Finalize(ctx context.Context, scope generic.Scope, period generic.Period) (*FinalizeResult, error) {
	result := &FinalizeResult{Scope: scope, Period: period, TotalNet: decimal.Zero}

	err := s.Store.WithTx(ctx, func(tx generic.Store) error {
		proj, err := generic.NewProjector(tx).Project(ctx, payrollQuery(scope, period))
		if err != nil {
			return err
		}
		st := StatusOf(proj)
		if st.Rows == 0 {
			return &generic.InvalidStateError{Subject: "payroll " + period.Key(), Current: "empty", Action: "finalize"}
		}
		if st.Locked {
			return &generic.InvalidStateError{Subject: "payroll " + period.Key(), Current: string(generic.PayrollFinalized), Action: "finalize"}
		}

		txRec := &generic.Reconciler{Store: tx, NewID: s.Reconciler.NewID, Now: s.Now}
		for _, row := range proj.Rows {
			f, ok := row.Fields.(generic.PayrollFields)
			if !ok {
				return fmt.Errorf("payroll row %s: unexpected %s fields", row.Entity.ID, row.Fields.Kind())
			}
			if f.Status == generic.PayrollFinalized {
				result.AlreadyFinalized++
				result.TotalNet = result.TotalNet.Add(f.NetSalary)
				continue
			}

			f = Recompute(f)
			f.Status = generic.PayrollFinalized
			rec := row.Record()
			rec.Fields = f
			if _, err := txRec.Upsert(ctx, rec); err != nil {
				return fmt.Errorf("failed to finalize payroll for %s: %w", row.Entity.ID, err)
			}
			result.Finalized++
			result.TotalNet = result.TotalNet.Add(f.NetSalary)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.Log.WithFields(logrus.Fields{
		"scope":     scope,
		"period":    period.Key(),
		"finalized": result.Finalized,
		"total_net": result.TotalNet.String(),
	}).Info("payroll finalized")

	return result, nil
}
