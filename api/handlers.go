/*
handlers.go - HTTP API handlers for the HR back-office engine

PURPOSE:
  Exposes the period-record engine via REST API. Handles HTTP
  request/response, JSON serialization, and delegates to domain logic.

ENDPOINTS:
  Employees:
    GET    /api/employees                    List roster (?scope=&status=)
    POST   /api/employees                    Create employee
    GET    /api/employees/{id}               Get employee
    PUT    /api/employees/{id}               Replace employee

  Projections:
    GET    /api/projections/{kind}           Roster projection (?scope=&period=)
    PUT    /api/projections/{kind}           Save edited rows

  Payroll:
    GET    /api/payroll/status               Lock state (?scope=&period=)
    POST   /api/payroll/finalize             Finalize a period

  Leave:
    POST   /api/leave/requests               Submit
    GET    /api/leave/requests               List (?entity_id=&status=)
    GET    /api/leave/requests/{id}          Get
    POST   /api/leave/requests/{id}/approve  Approve (atomic)
    POST   /api/leave/requests/{id}/reject   Reject

  Import:
    POST   /api/import/{target}              Multipart upload, field "file"

ERROR HANDLING:
  Domain errors map to HTTP status in statusFor:
  - 400: Validation, parse failures, invalid ranges
  - 401: Missing identity (middleware)
  - 403: Scope or role not allowed
  - 404: Resource not found
  - 409: Invalid state transition, upsert conflict
  - 422: Insufficient leave balance
  - 500: Internal errors

SEE ALSO:
  - dto.go: Request/response data structures
  - identity.go: Principal middleware
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/warp/hr-engine/generic"
	"github.com/warp/hr-engine/importer"
	"github.com/warp/hr-engine/payroll"
	"github.com/warp/hr-engine/timeoff"
)

const maxUploadBytes = 32 << 20

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store      generic.TxStore
	Projector  *generic.Projector
	Reconciler *generic.Reconciler
	Payroll    *payroll.Service
	Leave      *timeoff.Service
	Importer   *importer.Pipeline
	Log        logrus.FieldLogger

	// New employees get this balance when the request names none.
	DefaultLeaveBalance decimal.Decimal

	validate *validator.Validate
}

// NewHandler wires every service over one store.
func NewHandler(store generic.TxStore, log logrus.FieldLogger) *Handler {
	if log == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		log = l
	}
	rec := generic.NewReconciler(store)
	pay := payroll.NewService(store, log)
	pay.Reconciler = rec

	return &Handler{
		Store:               store,
		Projector:           generic.NewProjector(store),
		Reconciler:          rec,
		Payroll:             pay,
		Leave:               timeoff.NewService(store, log),
		Importer:            importer.NewPipeline(store, rec, log),
		Log:                 log,
		DefaultLeaveBalance: decimal.NewFromInt(12),
		validate:            validator.New(),
	}
}

// =============================================================================
// EMPLOYEE HANDLERS
// =============================================================================

func (h *Handler) ListEmployees(w http.ResponseWriter, r *http.Request) {
	scope, err := generic.ResolveScope(PrincipalFrom(r.Context()), generic.Scope(r.URL.Query().Get("scope")))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	filter := generic.EntityFilter{Scope: scope, Status: generic.EntityStatus(r.URL.Query().Get("status"))}

	entities, err := h.Store.ListEntities(r.Context(), filter)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	dtos := make([]EmployeeDTO, len(entities))
	for i, e := range entities {
		dtos[i] = toEmployeeDTO(e)
	}
	writeJSON(w, http.StatusOK, map[string]any{"employees": dtos})
}

func (h *Handler) GetEmployee(w http.ResponseWriter, r *http.Request) {
	e, err := h.visibleEntity(r, generic.EntityID(chi.URLParam(r, "id")))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toEmployeeDTO(*e))
}

func (h *Handler) CreateEmployee(w http.ResponseWriter, r *http.Request) {
	if !PrincipalFrom(r.Context()).CanAdminister() {
		h.fail(w, r, generic.ErrForbidden)
		return
	}
	var req EmployeeRequest
	if !h.decode(w, r, &req) {
		return
	}

	now := time.Now().UTC()
	e := generic.Entity{
		ID:           generic.EntityID(req.ID),
		Status:       generic.EntityActive,
		LeaveBalance: h.DefaultLeaveBalance,
		CreatedAt:    now,
	}
	if e.ID == "" {
		e.ID = generic.EntityID(uuid.NewString())
	}
	if req.LeaveBalance != nil {
		if req.LeaveBalance.IsNegative() {
			h.fail(w, r, &generic.ValidationError{Field: "leave_balance", Message: "must not be negative"})
			return
		}
		e.LeaveBalance = *req.LeaveBalance
	}
	if _, err := h.Store.GetEntity(r.Context(), e.ID); err == nil {
		h.fail(w, r, &generic.InvalidStateError{Subject: "entity " + string(e.ID), Current: "exists", Action: "create"})
		return
	}

	if err := applyEmployeeRequest(&e, req, now); err != nil {
		h.fail(w, r, err)
		return
	}
	if err := h.Store.SaveEntity(r.Context(), e); err != nil {
		h.fail(w, r, err)
		return
	}

	h.Log.WithField("entity_id", e.ID).Info("employee created")
	writeJSON(w, http.StatusCreated, toEmployeeDTO(e))
}

// UpdateEmployee replaces an employee's roster data. The leave balance is
// not writable here; only leave approval changes it.
func (h *Handler) UpdateEmployee(w http.ResponseWriter, r *http.Request) {
	if !PrincipalFrom(r.Context()).CanAdminister() {
		h.fail(w, r, generic.ErrForbidden)
		return
	}
	var req EmployeeRequest
	if !h.decode(w, r, &req) {
		return
	}

	existing, err := h.Store.GetEntity(r.Context(), generic.EntityID(chi.URLParam(r, "id")))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	e := *existing
	if err := applyEmployeeRequest(&e, req, time.Now().UTC()); err != nil {
		h.fail(w, r, err)
		return
	}
	if err := h.Store.SaveEntity(r.Context(), e); err != nil {
		h.fail(w, r, err)
		return
	}
	// the stored balance survives the save
	saved, err := h.Store.GetEntity(r.Context(), e.ID)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	h.Log.WithField("entity_id", e.ID).Info("employee updated")
	writeJSON(w, http.StatusOK, toEmployeeDTO(*saved))
}

func applyEmployeeRequest(e *generic.Entity, req EmployeeRequest, now time.Time) error {
	hired, err := generic.ParseDate(req.HireDate)
	if err != nil {
		return err
	}
	if !req.BasicSalary.IsPositive() {
		return &generic.ValidationError{Field: "basic_salary", Message: "must be greater than zero"}
	}
	if req.VariableSalary.IsNegative() {
		return &generic.ValidationError{Field: "variable_salary", Message: "must not be negative"}
	}

	e.FullName = strings.TrimSpace(req.FullName)
	e.EmployeeCode = strings.TrimSpace(req.EmployeeCode)
	e.Email = strings.TrimSpace(req.Email)
	e.Scope = generic.Scope(strings.TrimSpace(req.Scope))
	e.Position = strings.TrimSpace(req.Position)
	e.HireDate = hired
	e.BasicSalary = req.BasicSalary
	e.VariableSalary = req.VariableSalary
	if req.Status != "" {
		e.Status = generic.EntityStatus(req.Status)
	}
	e.UpdatedAt = now
	return nil
}

// visibleEntity loads an entity and checks the caller may see its scope.
func (h *Handler) visibleEntity(r *http.Request, id generic.EntityID) (*generic.Entity, error) {
	e, err := h.Store.GetEntity(r.Context(), id)
	if err != nil {
		return nil, err
	}
	visible, err := generic.ResolveScope(PrincipalFrom(r.Context()), generic.ScopeAll)
	if err != nil || !visible.Matches(e.Scope) {
		// do not leak existence across scopes
		return nil, &generic.NotFoundError{What: "entity", Key: string(id)}
	}
	return e, nil
}

// =============================================================================
// PROJECTION HANDLERS
// =============================================================================

func (h *Handler) projectionQuery(r *http.Request, scope, period string) (generic.ProjectionQuery, error) {
	kind, err := generic.ParseKind(chi.URLParam(r, "kind"))
	if err != nil {
		return generic.ProjectionQuery{}, err
	}
	resolved, err := generic.ResolveScope(PrincipalFrom(r.Context()), generic.Scope(scope))
	if err != nil {
		return generic.ProjectionQuery{}, err
	}
	p, err := generic.ParsePeriod(kind, period)
	if err != nil {
		return generic.ProjectionQuery{}, err
	}
	return generic.ProjectionQuery{Scope: resolved, Kind: kind, Period: p}, nil
}

func (h *Handler) GetProjection(w http.ResponseWriter, r *http.Request) {
	q, err := h.projectionQuery(r, r.URL.Query().Get("scope"), r.URL.Query().Get("period"))
	if err != nil {
		h.fail(w, r, err)
		return
	}

	proj, err := h.Projector.Project(r.Context(), q)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	dto, err := toProjectionDTO(proj)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if q.Kind == generic.KindPayroll {
		dto.Payroll = toPayrollStatusDTO(payroll.StatusOf(proj))
	}
	writeJSON(w, http.StatusOK, dto)
}

// SaveProjection persists edited rows. Every row must belong to the
// projection the caller can see; payroll rows go through the payroll
// state machine.
func (h *Handler) SaveProjection(w http.ResponseWriter, r *http.Request) {
	if !PrincipalFrom(r.Context()).CanEdit() {
		h.fail(w, r, generic.ErrForbidden)
		return
	}
	var req SaveRowsRequest
	if !h.decode(w, r, &req) {
		return
	}
	q, err := h.projectionQuery(r, req.Scope, req.Period)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	current, err := h.Projector.Project(r.Context(), q)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	visible := make(map[generic.EntityID]generic.Entity, len(current.Rows))
	for _, row := range current.Rows {
		visible[row.Entity.ID] = row.Entity
	}

	rows := make([]generic.Row, len(req.Rows))
	for i, edit := range req.Rows {
		entity, ok := visible[generic.EntityID(edit.EntityID)]
		if !ok {
			h.fail(w, r, &generic.NotFoundError{What: "entity in projection", Key: edit.EntityID})
			return
		}
		fields, err := generic.DecodeFields(q.Kind, edit.Fields)
		if err != nil {
			h.fail(w, r, &generic.ParseError{Field: fmt.Sprintf("rows[%d].fields", i), Value: string(edit.Fields), Err: err})
			return
		}
		backing := generic.Placeholder()
		if edit.RecordID != "" {
			backing = generic.Persisted(generic.RecordID(edit.RecordID))
		}
		row, err := current.Bind(generic.Row{Entity: entity, Kind: q.Kind, Period: q.Period, Fields: fields, Backing: backing})
		if err != nil {
			h.fail(w, r, err)
			return
		}
		rows[i] = row
	}

	var report *generic.Report
	if q.Kind == generic.KindPayroll {
		report, err = h.Payroll.SaveDraft(r.Context(), q.Scope, q.Period, rows)
		if err != nil {
			h.fail(w, r, err)
			return
		}
	} else {
		report = h.Reconciler.Save(r.Context(), rows)
		h.Log.WithFields(logrus.Fields{
			"kind":      q.Kind,
			"scope":     q.Scope,
			"period":    q.Period.Key(),
			"succeeded": report.Succeeded(),
			"failed":    report.Failed(),
		}).Info("projection saved")
	}

	writeJSON(w, http.StatusOK, toReportDTO(report))
}

// =============================================================================
// PAYROLL HANDLERS
// =============================================================================

func (h *Handler) payrollTarget(r *http.Request, scope, period string) (generic.Scope, generic.Period, error) {
	resolved, err := generic.ResolveScope(PrincipalFrom(r.Context()), generic.Scope(scope))
	if err != nil {
		return "", generic.Period{}, err
	}
	p, err := generic.ParsePeriod(generic.KindPayroll, period)
	if err != nil {
		return "", generic.Period{}, err
	}
	return resolved, p, nil
}

func (h *Handler) GetPayrollStatus(w http.ResponseWriter, r *http.Request) {
	scope, period, err := h.payrollTarget(r, r.URL.Query().Get("scope"), r.URL.Query().Get("period"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	st, err := h.Payroll.Status(r.Context(), scope, period)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toPayrollStatusDTO(st))
}

func (h *Handler) FinalizePayroll(w http.ResponseWriter, r *http.Request) {
	if !PrincipalFrom(r.Context()).CanAdminister() {
		h.fail(w, r, generic.ErrForbidden)
		return
	}
	var req FinalizeRequest
	if !h.decode(w, r, &req) {
		return
	}
	scope, period, err := h.payrollTarget(r, req.Scope, req.Period)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	res, err := h.Payroll.Finalize(r.Context(), scope, period)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, FinalizeResultDTO{
		Scope:            string(res.Scope),
		Period:           res.Period.Key(),
		Finalized:        res.Finalized,
		AlreadyFinalized: res.AlreadyFinalized,
		TotalNet:         res.TotalNet,
	})
}

// =============================================================================
// LEAVE HANDLERS
// =============================================================================

func (h *Handler) SubmitLeave(w http.ResponseWriter, r *http.Request) {
	var req SubmitLeaveRequest
	if !h.decode(w, r, &req) {
		return
	}
	p := PrincipalFrom(r.Context())
	if p.Role == generic.RoleStaff && req.EntityID != p.UserID {
		h.fail(w, r, generic.ErrForbidden)
		return
	}
	if _, err := h.visibleEntity(r, generic.EntityID(req.EntityID)); err != nil {
		h.fail(w, r, err)
		return
	}

	start, err := generic.ParseDate(req.StartDate)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	end, err := generic.ParseDate(req.EndDate)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	kind, err := timeoff.ParseKind(req.Kind)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	lr, err := h.Leave.Submit(r.Context(), timeoff.SubmitInput{
		EntityID: generic.EntityID(req.EntityID),
		Kind:     kind,
		Start:    start,
		End:      end,
		Reason:   req.Reason,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toLeaveRequestDTO(*lr))
}

func (h *Handler) ListLeave(w http.ResponseWriter, r *http.Request) {
	p := PrincipalFrom(r.Context())
	filter := generic.LeaveFilter{
		EntityID: generic.EntityID(r.URL.Query().Get("entity_id")),
		Status:   generic.RequestStatus(r.URL.Query().Get("status")),
	}
	if p.Role == generic.RoleStaff {
		filter.EntityID = generic.EntityID(p.UserID)
	}

	requests, err := h.Leave.List(r.Context(), filter)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	dtos := make([]LeaveRequestDTO, 0, len(requests))
	for _, lr := range requests {
		if !p.CanAdminister() && p.Role != generic.RoleStaff {
			// managers only see their own scope
			if _, err := h.visibleEntity(r, lr.EntityID); err != nil {
				continue
			}
		}
		dtos = append(dtos, toLeaveRequestDTO(lr))
	}
	writeJSON(w, http.StatusOK, map[string]any{"requests": dtos})
}

func (h *Handler) GetLeave(w http.ResponseWriter, r *http.Request) {
	lr, err := h.visibleLeave(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toLeaveRequestDTO(*lr))
}

func (h *Handler) ApproveLeave(w http.ResponseWriter, r *http.Request) {
	p := PrincipalFrom(r.Context())
	if !p.CanEdit() {
		h.fail(w, r, generic.ErrForbidden)
		return
	}
	lr, err := h.visibleLeave(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	approved, err := h.Leave.Approve(r.Context(), lr.ID, p.UserID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toLeaveRequestDTO(*approved))
}

func (h *Handler) RejectLeave(w http.ResponseWriter, r *http.Request) {
	p := PrincipalFrom(r.Context())
	if !p.CanEdit() {
		h.fail(w, r, generic.ErrForbidden)
		return
	}
	var req RejectLeaveRequest
	if r.ContentLength != 0 && !h.decode(w, r, &req) {
		return
	}
	lr, err := h.visibleLeave(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	rejected, err := h.Leave.Reject(r.Context(), lr.ID, p.UserID, req.Reason)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toLeaveRequestDTO(*rejected))
}

func (h *Handler) visibleLeave(r *http.Request) (*generic.LeaveRequest, error) {
	lr, err := h.Leave.Get(r.Context(), generic.RequestID(chi.URLParam(r, "id")))
	if err != nil {
		return nil, err
	}
	p := PrincipalFrom(r.Context())
	if p.Role == generic.RoleStaff && string(lr.EntityID) != p.UserID {
		return nil, &generic.NotFoundError{What: "leave request", Key: string(lr.ID)}
	}
	if _, err := h.visibleEntity(r, lr.EntityID); err != nil {
		return nil, &generic.NotFoundError{What: "leave request", Key: string(lr.ID)}
	}
	return lr, nil
}

// =============================================================================
// IMPORT HANDLERS
// =============================================================================

func (h *Handler) Import(w http.ResponseWriter, r *http.Request) {
	if !PrincipalFrom(r.Context()).CanAdminister() {
		h.fail(w, r, generic.ErrForbidden)
		return
	}
	target, err := importer.ParseTarget(chi.URLParam(r, "target"))
	if err != nil {
		h.fail(w, r, &generic.ValidationError{Field: "target", Message: err.Error()})
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid multipart upload", err)
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "Missing file field", err)
		return
	}
	defer file.Close()

	rows, err := importer.ReadFile(header.Filename, file)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Unreadable file", err)
		return
	}
	report, err := h.Importer.Import(r.Context(), target, rows)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// =============================================================================
// HELPERS
// =============================================================================

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// decode reads and validates a JSON body. It writes the error response
// itself and returns false on failure.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		var ve validator.ValidationErrors
		if errors.As(err, &ve) && len(ve) > 0 {
			writeError(w, http.StatusBadRequest, "Validation failed", fmt.Errorf("%s: failed %s", ve[0].Field(), ve[0].Tag()))
			return false
		}
		writeError(w, http.StatusBadRequest, "Validation failed", err)
		return false
	}
	return true
}

// statusFor maps a domain error to its HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, generic.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, generic.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, generic.ErrInsufficientBalance):
		return http.StatusUnprocessableEntity
	case errors.Is(err, generic.ErrInvalidState), errors.Is(err, generic.ErrConflictOnUpsert):
		return http.StatusConflict
	case errors.Is(err, generic.ErrValidation), errors.Is(err, generic.ErrParseFailure), errors.Is(err, generic.ErrInvalidRange):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		h.Log.WithFields(logrus.Fields{
			"request_id": middleware.GetReqID(r.Context()),
			"path":       r.URL.Path,
		}).WithError(err).Error("request failed")
		writeError(w, status, "Internal error", nil)
		return
	}
	writeError(w, status, http.StatusText(status), err)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}
