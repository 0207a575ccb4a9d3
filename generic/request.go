package generic

import (
	"time"
)

// =============================================================================
// LEAVE REQUEST - A request to take leave over an inclusive date range
// =============================================================================

type LeaveKind string

const (
	LeaveAnnual LeaveKind = "annual"
	LeaveSick   LeaveKind = "sick"
	LeaveUnpaid LeaveKind = "unpaid"
)

func (k LeaveKind) Valid() bool {
	return k == LeaveAnnual || k == LeaveSick || k == LeaveUnpaid
}

// DeductsBalance reports whether approving this kind consumes leave
// balance.
func (k LeaveKind) DeductsBalance() bool { return k == LeaveAnnual }

type RequestStatus string

const (
	RequestPending  RequestStatus = "pending"
	RequestApproved RequestStatus = "approved"
	RequestRejected RequestStatus = "rejected"
)

// Terminal reports whether no further transition is allowed.
func (s RequestStatus) Terminal() bool {
	return s == RequestApproved || s == RequestRejected
}

// LeaveRequest is mutated only by approve or reject.
type LeaveRequest struct {
	ID        RequestID
	EntityID  EntityID
	Kind      LeaveKind
	Start     TimePoint
	End       TimePoint
	TotalDays int
	Status    RequestStatus
	Reason    string

	DecidedBy       string
	DecidedAt       *time.Time
	RejectionReason string

	CreatedAt time.Time
}

// LeaveFilter selects leave requests. Zero fields match everything.
type LeaveFilter struct {
	EntityID EntityID
	Status   RequestStatus
}

func (f LeaveFilter) Matches(r LeaveRequest) bool {
	if f.EntityID != "" && f.EntityID != r.EntityID {
		return false
	}
	return f.Status == "" || f.Status == r.Status
}

// LeaveTransition is the state change applied by approve or reject.
type LeaveTransition struct {
	RequestID       RequestID
	From            RequestStatus
	To              RequestStatus
	DecidedBy       string
	DecidedAt       time.Time
	RejectionReason string
}
