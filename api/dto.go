/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

TYPES:
  Employee:   EmployeeDTO, EmployeeRequest
  Projection: ProjectionDTO, RowDTO, SaveRowsRequest, RowEdit, ReportDTO
  Payroll:    PayrollStatusDTO, FinalizeRequest, FinalizeResultDTO
  Leave:      LeaveRequestDTO, SubmitLeaveRequest, RejectLeaveRequest

VALIDATION:
  Request types carry go-playground/validator tags; handlers call
  Handler.decode, which runs them. Domain rules (positive salary, period
  format) are still checked by the domain packages.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/hr-engine/generic"
	"github.com/warp/hr-engine/payroll"
)

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// =============================================================================
// EMPLOYEES
// =============================================================================

type EmployeeDTO struct {
	ID             string          `json:"id"`
	FullName       string          `json:"full_name"`
	EmployeeCode   string          `json:"employee_code,omitempty"`
	Email          string          `json:"email"`
	Scope          string          `json:"scope,omitempty"`
	Status         string          `json:"status"`
	Position       string          `json:"position,omitempty"`
	HireDate       string          `json:"hire_date,omitempty"`
	BasicSalary    decimal.Decimal `json:"basic_salary"`
	VariableSalary decimal.Decimal `json:"variable_salary"`
	LeaveBalance   decimal.Decimal `json:"leave_balance"`
	CreatedAt      string          `json:"created_at,omitempty"`
	UpdatedAt      string          `json:"updated_at,omitempty"`
}

// EmployeeRequest creates or replaces an employee. LeaveBalance is only
// read on create.
type EmployeeRequest struct {
	ID             string           `json:"id"`
	FullName       string           `json:"full_name" validate:"required"`
	EmployeeCode   string           `json:"employee_code"`
	Email          string           `json:"email" validate:"required,email"`
	Scope          string           `json:"scope"`
	Status         string           `json:"status" validate:"omitempty,oneof=active inactive"`
	Position       string           `json:"position"`
	HireDate       string           `json:"hire_date" validate:"required"`
	BasicSalary    decimal.Decimal  `json:"basic_salary"`
	VariableSalary decimal.Decimal  `json:"variable_salary"`
	LeaveBalance   *decimal.Decimal `json:"leave_balance"`
}

func toEmployeeDTO(e generic.Entity) EmployeeDTO {
	dto := EmployeeDTO{
		ID:             string(e.ID),
		FullName:       e.FullName,
		EmployeeCode:   e.EmployeeCode,
		Email:          e.Email,
		Scope:          string(e.Scope),
		Status:         string(e.Status),
		Position:       e.Position,
		BasicSalary:    e.BasicSalary,
		VariableSalary: e.VariableSalary,
		LeaveBalance:   e.LeaveBalance,
		CreatedAt:      formatTimestamp(e.CreatedAt),
		UpdatedAt:      formatTimestamp(e.UpdatedAt),
	}
	if !e.HireDate.IsZero() {
		dto.HireDate = e.HireDate.String()
	}
	return dto
}

// =============================================================================
// PROJECTIONS
// =============================================================================

type RowDTO struct {
	EntityID     string          `json:"entity_id"`
	FullName     string          `json:"full_name"`
	EmployeeCode string          `json:"employee_code,omitempty"`
	Backed       bool            `json:"backed"`
	RecordID     string          `json:"record_id,omitempty"`
	Fields       json.RawMessage `json:"fields"`
}

type ProjectionDTO struct {
	Kind      string            `json:"kind"`
	Scope     string            `json:"scope"`
	Period    string            `json:"period"`
	Persisted int               `json:"persisted"`
	Rows      []RowDTO          `json:"rows"`
	Payroll   *PayrollStatusDTO `json:"payroll,omitempty"`
}

// SaveRowsRequest carries edited projection rows. A row with a record_id
// updates that record; a row without one is a placeholder.
type SaveRowsRequest struct {
	Scope  string    `json:"scope"`
	Period string    `json:"period" validate:"required"`
	Rows   []RowEdit `json:"rows" validate:"required,dive"`
}

type RowEdit struct {
	EntityID string          `json:"entity_id" validate:"required"`
	RecordID string          `json:"record_id"`
	Fields   json.RawMessage `json:"fields" validate:"required"`
}

type OutcomeDTO struct {
	Index    int    `json:"index"`
	EntityID string `json:"entity_id"`
	Action   string `json:"action"`
	RecordID string `json:"record_id,omitempty"`
	Error    string `json:"error,omitempty"`
}

type ReportDTO struct {
	Succeeded int          `json:"succeeded"`
	Inserted  int          `json:"inserted"`
	Updated   int          `json:"updated"`
	Skipped   int          `json:"skipped"`
	Failed    int          `json:"failed"`
	Outcomes  []OutcomeDTO `json:"outcomes"`
}

func toProjectionDTO(p *generic.Projection) (ProjectionDTO, error) {
	dto := ProjectionDTO{
		Kind:      string(p.Query.Kind),
		Scope:     string(p.Query.Scope),
		Period:    p.Query.Period.Key(),
		Persisted: p.Persisted(),
		Rows:      make([]RowDTO, len(p.Rows)),
	}
	for i, row := range p.Rows {
		fields, err := generic.EncodeFields(row.Fields)
		if err != nil {
			return ProjectionDTO{}, err
		}
		id, _ := row.Backing.RecordID()
		dto.Rows[i] = RowDTO{
			EntityID:     string(row.Entity.ID),
			FullName:     row.Entity.FullName,
			EmployeeCode: row.Entity.EmployeeCode,
			Backed:       row.Backing.IsPersisted(),
			RecordID:     string(id),
			Fields:       fields,
		}
	}
	return dto, nil
}

func toReportDTO(r *generic.Report) ReportDTO {
	dto := ReportDTO{
		Succeeded: r.Succeeded(),
		Inserted:  r.Inserted(),
		Updated:   r.Updated(),
		Skipped:   r.Skipped(),
		Failed:    r.Failed(),
		Outcomes:  make([]OutcomeDTO, len(r.Outcomes)),
	}
	for i, o := range r.Outcomes {
		out := OutcomeDTO{Index: o.Index, EntityID: string(o.EntityID), Action: string(o.Action)}
		if o.Record != nil {
			out.RecordID = string(o.Record.ID)
		}
		if o.Err != nil {
			out.Error = o.Err.Error()
		}
		dto.Outcomes[i] = out
	}
	return dto
}

// =============================================================================
// PAYROLL
// =============================================================================

type PayrollStatusDTO struct {
	Scope     string          `json:"scope"`
	Period    string          `json:"period"`
	Rows      int             `json:"rows"`
	Finalized int             `json:"finalized"`
	Locked    bool            `json:"locked"`
	TotalNet  decimal.Decimal `json:"total_net"`
}

type FinalizeRequest struct {
	Scope  string `json:"scope"`
	Period string `json:"period" validate:"required"`
}

type FinalizeResultDTO struct {
	Scope            string          `json:"scope"`
	Period           string          `json:"period"`
	Finalized        int             `json:"finalized"`
	AlreadyFinalized int             `json:"already_finalized"`
	TotalNet         decimal.Decimal `json:"total_net"`
}

func toPayrollStatusDTO(st payroll.Status) *PayrollStatusDTO {
	return &PayrollStatusDTO{
		Scope:     string(st.Scope),
		Period:    st.Period.Key(),
		Rows:      st.Rows,
		Finalized: st.Finalized,
		Locked:    st.Locked,
		TotalNet:  st.TotalNet,
	}
}

// =============================================================================
// LEAVE
// =============================================================================

type LeaveRequestDTO struct {
	ID              string `json:"id"`
	EntityID        string `json:"entity_id"`
	Kind            string `json:"kind"`
	StartDate       string `json:"start_date"`
	EndDate         string `json:"end_date"`
	TotalDays       int    `json:"total_days"`
	Status          string `json:"status"`
	Reason          string `json:"reason,omitempty"`
	DecidedBy       string `json:"decided_by,omitempty"`
	DecidedAt       string `json:"decided_at,omitempty"`
	RejectionReason string `json:"rejection_reason,omitempty"`
	CreatedAt       string `json:"created_at"`
}

type SubmitLeaveRequest struct {
	EntityID  string `json:"entity_id" validate:"required"`
	Kind      string `json:"kind" validate:"required,oneof=annual sick unpaid"`
	StartDate string `json:"start_date" validate:"required"`
	EndDate   string `json:"end_date" validate:"required"`
	Reason    string `json:"reason"`
}

type RejectLeaveRequest struct {
	Reason string `json:"reason"`
}

func toLeaveRequestDTO(r generic.LeaveRequest) LeaveRequestDTO {
	dto := LeaveRequestDTO{
		ID:              string(r.ID),
		EntityID:        string(r.EntityID),
		Kind:            string(r.Kind),
		StartDate:       r.Start.String(),
		EndDate:         r.End.String(),
		TotalDays:       r.TotalDays,
		Status:          string(r.Status),
		Reason:          r.Reason,
		DecidedBy:       r.DecidedBy,
		RejectionReason: r.RejectionReason,
		CreatedAt:       formatTimestamp(r.CreatedAt),
	}
	if r.DecidedAt != nil {
		dto.DecidedAt = formatTimestamp(*r.DecidedAt)
	}
	return dto
}

func formatTimestamp(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
