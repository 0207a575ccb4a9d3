package generic

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// PERIOD RECORD - One mutable record per (entity, period, kind)
// =============================================================================

// PeriodRecord is the shared shape of attendance, KPI and payroll rows.
// The store enforces at most one record per RecordKey.
type PeriodRecord struct {
	ID       RecordID
	EntityID EntityID
	Kind     Kind
	Period   Period
	Fields   Fields

	CreatedAt time.Time
	UpdatedAt time.Time
}

// RecordKey is the composite uniqueness key of a period record.
type RecordKey struct {
	EntityID EntityID
	Kind     Kind
	Period   string
}

func (r PeriodRecord) Key() RecordKey {
	return RecordKey{EntityID: r.EntityID, Kind: r.Kind, Period: r.Period.Key()}
}

// Finalized reports whether r is a finalized payroll record. Stores refuse
// to update such records in place.
func (r PeriodRecord) Finalized() bool {
	f, ok := r.Fields.(PayrollFields)
	return ok && f.Status == PayrollFinalized
}

// CheckUpdate reports whether next may overwrite prev by id: the key must
// match and prev must not be finalized.
func CheckUpdate(prev, next PeriodRecord) error {
	if prev.Key() != next.Key() {
		return fmt.Errorf("record %s belongs to %s/%s/%s: %w",
			prev.ID, prev.EntityID, prev.Kind, prev.Period.Key(), ErrConflictOnUpsert)
	}
	if prev.Finalized() {
		return &InvalidStateError{Subject: "payroll record " + string(prev.ID), Current: string(PayrollFinalized), Action: "update"}
	}
	return nil
}

// RecordFilter selects the records of one kind and period for a set of
// entities. An empty EntityIDs slice matches nothing.
type RecordFilter struct {
	Kind      Kind
	Period    Period
	EntityIDs []EntityID
}

// =============================================================================
// FIELDS - Kind-specific measured values (tagged variant)
// =============================================================================

// Fields is implemented by AttendanceFields, KPIFields and PayrollFields.
type Fields interface {
	Kind() Kind
	Validate() error
}

// AttendanceFields is one day of attendance.
type AttendanceFields struct {
	CheckIn         *Clock `json:"check_in,omitempty"`
	CheckOut        *Clock `json:"check_out,omitempty"`
	LateMinutes     int    `json:"late_minutes"`
	OvertimeMinutes int    `json:"overtime_minutes"`
	Notes           string `json:"notes,omitempty"`
}

func (AttendanceFields) Kind() Kind { return KindAttendance }

func (f AttendanceFields) Validate() error {
	if f.CheckIn != nil && !f.CheckIn.Valid() {
		return &ValidationError{Field: "check_in", Message: "out of range"}
	}
	if f.CheckOut != nil && !f.CheckOut.Valid() {
		return &ValidationError{Field: "check_out", Message: "out of range"}
	}
	if f.CheckIn != nil && f.CheckOut != nil && *f.CheckOut < *f.CheckIn {
		return &ValidationError{Field: "check_out", Message: "before check_in"}
	}
	if f.LateMinutes < 0 {
		return &ValidationError{Field: "late_minutes", Message: "must not be negative"}
	}
	if f.OvertimeMinutes < 0 {
		return &ValidationError{Field: "overtime_minutes", Message: "must not be negative"}
	}
	return nil
}

// KPIFields is one month of KPI scores, each 0..100.
type KPIFields struct {
	Productivity decimal.Decimal `json:"productivity"`
	Quality      decimal.Decimal `json:"quality"`
	Teamwork     decimal.Decimal `json:"teamwork"`
	Notes        string          `json:"notes,omitempty"`
}

func (KPIFields) Kind() Kind { return KindKPI }

var maxScore = decimal.NewFromInt(100)

func (f KPIFields) Validate() error {
	for _, s := range []namedDecimal{
		{"productivity", f.Productivity},
		{"quality", f.Quality},
		{"teamwork", f.Teamwork},
	} {
		if s.v.IsNegative() || s.v.GreaterThan(maxScore) {
			return &ValidationError{Field: s.name, Message: "must be between 0 and 100"}
		}
	}
	return nil
}

// namedDecimal is a field checked in declaration order.
type namedDecimal struct {
	name string
	v    decimal.Decimal
}

// Overall is the mean of the three scores, rounded to two places.
func (f KPIFields) Overall() decimal.Decimal {
	return f.Productivity.Add(f.Quality).Add(f.Teamwork).Div(decimal.NewFromInt(3)).Round(2)
}

type PayrollStatus string

const (
	PayrollDraft     PayrollStatus = "draft"
	PayrollFinalized PayrollStatus = "finalized"
)

// PayrollFields is one month of pay for one entity.
type PayrollFields struct {
	BasicSalary    Money         `json:"basic_salary"`
	VariableSalary Money         `json:"variable_salary"`
	OvertimeAmount Money         `json:"overtime_amount"`
	LateDeduction  Money         `json:"late_deduction"`
	NetSalary      Money         `json:"net_salary"`
	Status         PayrollStatus `json:"status"`
}

func (PayrollFields) Kind() Kind { return KindPayroll }

func (f PayrollFields) Validate() error {
	for _, m := range []namedDecimal{
		{"basic_salary", f.BasicSalary},
		{"variable_salary", f.VariableSalary},
		{"overtime_amount", f.OvertimeAmount},
		{"late_deduction", f.LateDeduction},
	} {
		if m.v.IsNegative() {
			return &ValidationError{Field: m.name, Message: "must not be negative"}
		}
	}
	if f.Status != PayrollDraft && f.Status != PayrollFinalized {
		return &ValidationError{Field: "status", Message: fmt.Sprintf("unknown status %q", f.Status)}
	}
	return nil
}

// =============================================================================
// KIND BOUNDARY - Defaults, insert policy, storage encoding
// =============================================================================

// DefaultFields returns the placeholder values of kind for entity e.
// Payroll copies the entity's current baseline.
func DefaultFields(kind Kind, e Entity) Fields {
	switch kind {
	case KindAttendance:
		return AttendanceFields{}
	case KindKPI:
		return KPIFields{}
	case KindPayroll:
		return PayrollFields{
			BasicSalary:    e.BasicSalary,
			VariableSalary: e.VariableSalary,
			OvertimeAmount: decimal.Zero,
			LateDeduction:  decimal.Zero,
			NetSalary:      e.BasicSalary.Add(e.VariableSalary),
			Status:         PayrollDraft,
		}
	}
	return nil
}

// WorthInserting reports whether a placeholder carrying f should become a
// new record. Attendance needs a time or minutes value; KPI and payroll
// saves are always explicit.
func WorthInserting(f Fields) bool {
	switch v := f.(type) {
	case AttendanceFields:
		return v.CheckIn != nil || v.CheckOut != nil || v.LateMinutes != 0 || v.OvertimeMinutes != 0
	case KPIFields, PayrollFields:
		return true
	}
	return false
}

// EncodeFields serializes f for storage.
func EncodeFields(f Fields) ([]byte, error) {
	if f == nil {
		return nil, &ValidationError{Field: "fields", Message: "missing"}
	}
	return json.Marshal(f)
}

// DecodeFields parses stored fields of kind.
func DecodeFields(kind Kind, data []byte) (Fields, error) {
	switch kind {
	case KindAttendance:
		var f AttendanceFields
		err := json.Unmarshal(data, &f)
		return f, err
	case KindKPI:
		var f KPIFields
		err := json.Unmarshal(data, &f)
		return f, err
	case KindPayroll:
		var f PayrollFields
		err := json.Unmarshal(data, &f)
		return f, err
	}
	return nil, fmt.Errorf("decode fields: unknown kind %q", kind)
}
