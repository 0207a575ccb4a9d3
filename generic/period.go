package generic

import (
	"fmt"
	"strings"
	"time"
)

// =============================================================================
// KIND - Which record family a period record belongs to
// =============================================================================

type Kind string

const (
	KindAttendance Kind = "attendance"
	KindKPI        Kind = "kpi"
	KindPayroll    Kind = "payroll"
)

func ParseKind(s string) (Kind, error) {
	switch k := Kind(strings.ToLower(strings.TrimSpace(s))); k {
	case KindAttendance, KindKPI, KindPayroll:
		return k, nil
	}
	return "", &ValidationError{Field: "kind", Message: fmt.Sprintf("unknown kind %q", s)}
}

// Granularity reports whether a kind is keyed by day or by month.
func (k Kind) Granularity() Granularity {
	if k == KindAttendance {
		return GranularityDay
	}
	return GranularityMonth
}

// =============================================================================
// PERIOD - One record slot per entity
// =============================================================================

type Granularity int

const (
	GranularityDay Granularity = iota
	GranularityMonth
)

const MonthLayout = "2006-01"

// Period identifies a record slot: a calendar date for attendance, a
// year-month for KPI and payroll. The zero value is invalid.
type Period struct {
	Start       TimePoint
	Granularity Granularity
}

func DayPeriod(d TimePoint) Period {
	return Period{Start: d, Granularity: GranularityDay}
}

func MonthPeriod(year int, month time.Month) Period {
	return Period{Start: NewTimePoint(year, month, 1), Granularity: GranularityMonth}
}

// ParsePeriod parses the period key format of a kind.
func ParsePeriod(kind Kind, s string) (Period, error) {
	s = strings.TrimSpace(s)
	if kind.Granularity() == GranularityDay {
		d, err := ParseDate(s)
		if err != nil {
			return Period{}, &ParseError{Field: "period", Value: s, Err: err}
		}
		return DayPeriod(d), nil
	}
	t, err := time.Parse(MonthLayout, s)
	if err != nil {
		return Period{}, &ParseError{Field: "period", Value: s, Err: err}
	}
	return MonthPeriod(t.Year(), t.Month()), nil
}

// PeriodFor returns the slot of kind that contains date d.
func PeriodFor(kind Kind, d TimePoint) Period {
	if kind.Granularity() == GranularityDay {
		return DayPeriod(d)
	}
	return MonthPeriod(d.Year(), d.Month())
}

func (p Period) IsZero() bool { return p.Start.IsZero() }

// Key is the canonical string stored alongside records.
func (p Period) Key() string {
	if p.IsZero() {
		return ""
	}
	if p.Granularity == GranularityMonth {
		return p.Start.Time.Format(MonthLayout)
	}
	return p.Start.String()
}

func (p Period) String() string { return p.Key() }

// End is the last day covered by the period.
func (p Period) End() TimePoint {
	if p.Granularity == GranularityMonth {
		return DateOf(p.Start.Time.AddDate(0, 1, -1))
	}
	return p.Start
}

// Contains returns true if d falls within the period.
func (p Period) Contains(d TimePoint) bool {
	return !d.Before(p.Start) && d.BeforeOrEqual(p.End())
}

// FitsKind reports whether p has the granularity kind expects.
func (p Period) FitsKind(kind Kind) bool {
	return !p.IsZero() && p.Granularity == kind.Granularity()
}
