// Package timeoff implements the leave balance engine: submission with an
// advisory balance check, and atomic approve/reject.
package timeoff

import (
	"strings"

	"github.com/warp/hr-engine/generic"
)

// TotalDays counts the inclusive range [start, end]. Fails with
// ErrInvalidRange if end is before start.
func TotalDays(start, end generic.TimePoint) (int, error) {
	days := generic.DaysBetween(start, end) + 1
	if end.Before(start) || days < 1 {
		return 0, generic.ErrInvalidRange
	}
	return days, nil
}

// ParseKind parses a leave kind.
func ParseKind(s string) (generic.LeaveKind, error) {
	k := generic.LeaveKind(strings.ToLower(strings.TrimSpace(s)))
	if !k.Valid() {
		return "", &generic.ValidationError{Field: "kind", Message: "must be annual, sick or unpaid"}
	}
	return k, nil
}

// SubmitInput is a new leave request before it is persisted.
type SubmitInput struct {
	EntityID generic.EntityID
	Kind     generic.LeaveKind
	Start    generic.TimePoint
	End      generic.TimePoint
	Reason   string
}
