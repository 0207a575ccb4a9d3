package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/hr-engine/api"
	"github.com/warp/hr-engine/generic"
	"github.com/warp/hr-engine/generic/store"
)

// =============================================================================
// TEST SETUP
// =============================================================================

type caller struct {
	id    string
	role  generic.Role
	scope generic.Scope
}

var (
	admin    = caller{id: "admin-1", role: generic.RoleAdmin}
	northMgr = caller{id: "mgr-1", role: generic.RoleManager, scope: "north"}
	ayu      = caller{id: "e1", role: generic.RoleStaff, scope: "north"}
)

type testServer struct {
	mem    *store.Memory
	router http.Handler
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	mem := store.NewMemory()
	for _, e := range []generic.Entity{
		{ID: "e1", FullName: "Ayu", EmployeeCode: "EMP-001", Email: "ayu@example.com", Scope: "north", Status: generic.EntityActive, BasicSalary: decimal.NewFromInt(5000000), LeaveBalance: decimal.NewFromInt(5)},
		{ID: "e2", FullName: "Budi", EmployeeCode: "EMP-002", Email: "budi@example.com", Scope: "north", Status: generic.EntityActive, BasicSalary: decimal.NewFromInt(4000000), LeaveBalance: decimal.NewFromInt(5)},
		{ID: "e3", FullName: "Citra", EmployeeCode: "EMP-003", Email: "citra@example.com", Scope: "south", Status: generic.EntityActive, BasicSalary: decimal.NewFromInt(3000000), LeaveBalance: decimal.NewFromInt(5)},
	} {
		require.NoError(t, mem.SaveEntity(context.Background(), e))
	}
	return &testServer{mem: mem, router: api.NewRouter(api.NewHandler(mem, nil), nil)}
}

func (s *testServer) do(t *testing.T, c *caller, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if c != nil {
		req.Header.Set(api.HeaderUserID, c.id)
		req.Header.Set(api.HeaderUserRole, string(c.role))
		req.Header.Set(api.HeaderUserScope, string(c.scope))
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

// =============================================================================
// IDENTITY AND SCOPE
// =============================================================================

func TestHealth_NeedsNoIdentity(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(t, nil, http.MethodGet, "/api/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestIdentity_MissingHeadersUnauthorized(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, nil, http.MethodGet, "/api/employees", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = s.do(t, &caller{id: "x", role: "superuser"}, http.MethodGet, "/api/employees", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestListEmployees_ManagerPinnedToOwnScope(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, &northMgr, http.MethodGet, "/api/employees", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody[struct {
		Employees []api.EmployeeDTO `json:"employees"`
	}](t, rec)
	require.Len(t, body.Employees, 2)
	assert.Equal(t, "Ayu", body.Employees[0].FullName)

	rec = s.do(t, &northMgr, http.MethodGet, "/api/employees?scope=south", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	// out-of-scope entities look absent
	rec = s.do(t, &northMgr, http.MethodGet, "/api/employees/e3", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.do(t, &admin, http.MethodGet, "/api/employees", nil)
	body = decodeBody[struct {
		Employees []api.EmployeeDTO `json:"employees"`
	}](t, rec)
	assert.Len(t, body.Employees, 3)
}

// =============================================================================
// EMPLOYEES
// =============================================================================

func TestCreateEmployee(t *testing.T) {
	s := newTestServer(t)
	req := api.EmployeeRequest{
		ID:          "e9",
		FullName:    "Dewi",
		Email:       "dewi@example.com",
		Scope:       "south",
		HireDate:    "2024-01-15",
		BasicSalary: decimal.NewFromInt(3500000),
	}

	rec := s.do(t, &northMgr, http.MethodPost, "/api/employees", req)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = s.do(t, &admin, http.MethodPost, "/api/employees", req)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decodeBody[api.EmployeeDTO](t, rec)
	assert.Equal(t, "active", created.Status)
	assert.True(t, created.LeaveBalance.Equal(decimal.NewFromInt(12)))

	rec = s.do(t, &admin, http.MethodPost, "/api/employees", req)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestCreateEmployee_ValidationFailures(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, &admin, http.MethodPost, "/api/employees", api.EmployeeRequest{FullName: "No Email", HireDate: "2024-01-15", BasicSalary: decimal.NewFromInt(1)})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, &admin, http.MethodPost, "/api/employees", api.EmployeeRequest{FullName: "Zero Pay", Email: "zero@example.com", HireDate: "2024-01-15"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

// =============================================================================
// PROJECTIONS
// =============================================================================

func TestProjection_GetThenSave(t *testing.T) {
	s := newTestServer(t)

	// GIVEN: An empty day for the north scope
	rec := s.do(t, &northMgr, http.MethodGet, "/api/projections/attendance?period=2024-03-04", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	proj := decodeBody[api.ProjectionDTO](t, rec)
	require.Len(t, proj.Rows, 2)
	assert.Zero(t, proj.Persisted)
	assert.False(t, proj.Rows[0].Backed)

	// WHEN: One row is filled and saved
	rec = s.do(t, &northMgr, http.MethodPut, "/api/projections/attendance", api.SaveRowsRequest{
		Period: "2024-03-04",
		Rows: []api.RowEdit{
			{EntityID: "e1", Fields: json.RawMessage(`{"check_in":"08:10","late_minutes":10}`)},
			{EntityID: "e2", Fields: json.RawMessage(`{}`)},
		},
	})

	// THEN: One insert, one skipped placeholder
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	report := decodeBody[api.ReportDTO](t, rec)
	assert.Equal(t, 1, report.Inserted)
	assert.Equal(t, 1, report.Skipped)
	assert.Zero(t, report.Failed)

	rec = s.do(t, &northMgr, http.MethodGet, "/api/projections/attendance?period=2024-03-04", nil)
	proj = decodeBody[api.ProjectionDTO](t, rec)
	assert.Equal(t, 1, proj.Persisted)
	assert.True(t, proj.Rows[0].Backed)
	assert.NotEmpty(t, proj.Rows[0].RecordID)
}

func TestProjection_RejectsRowsOutsideScope(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, &northMgr, http.MethodPut, "/api/projections/attendance", api.SaveRowsRequest{
		Period: "2024-03-04",
		Rows:   []api.RowEdit{{EntityID: "e3", Fields: json.RawMessage(`{"check_in":"08:00"}`)}},
	})

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Empty(t, s.mem.Records(generic.KindAttendance))
}

func TestProjection_StaffCannotEdit(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(t, &ayu, http.MethodPut, "/api/projections/kpi", api.SaveRowsRequest{
		Period: "2024-03",
		Rows:   []api.RowEdit{{EntityID: "e1", Fields: json.RawMessage(`{}`)}},
	})
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestProjection_BadPeriodIsBadRequest(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(t, &admin, http.MethodGet, "/api/projections/payroll?period=2024-03-04", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, &admin, http.MethodGet, "/api/projections/overtime?period=2024-03", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

// =============================================================================
// PAYROLL
// =============================================================================

func TestFinalizePayroll_LocksThePeriod(t *testing.T) {
	s := newTestServer(t)
	finalize := api.FinalizeRequest{Scope: "north", Period: "2024-03"}

	rec := s.do(t, &northMgr, http.MethodPost, "/api/payroll/finalize", finalize)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = s.do(t, &admin, http.MethodPost, "/api/payroll/finalize", finalize)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	res := decodeBody[api.FinalizeResultDTO](t, rec)
	assert.Equal(t, 2, res.Finalized)
	assert.True(t, res.TotalNet.Equal(decimal.NewFromInt(9000000)))

	rec = s.do(t, &admin, http.MethodPost, "/api/payroll/finalize", finalize)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = s.do(t, &northMgr, http.MethodGet, "/api/payroll/status?period=2024-03", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	st := decodeBody[api.PayrollStatusDTO](t, rec)
	assert.True(t, st.Locked)

	rec = s.do(t, &admin, http.MethodPut, "/api/projections/payroll", api.SaveRowsRequest{
		Scope:  "north",
		Period: "2024-03",
		Rows:   []api.RowEdit{{EntityID: "e1", Fields: json.RawMessage(`{"basic_salary":"1"}`)}},
	})
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestSaveProjection_RecordIDMustMatchTheRow(t *testing.T) {
	// GIVEN: South payroll is finalized
	s := newTestServer(t)
	rec := s.do(t, &admin, http.MethodPost, "/api/payroll/finalize", api.FinalizeRequest{Scope: "south", Period: "2024-03"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	south := s.mem.Records(generic.KindPayroll)
	require.Len(t, south, 1)

	// WHEN: A north save for e1 carries e3's record id
	rec = s.do(t, &admin, http.MethodPut, "/api/projections/payroll", api.SaveRowsRequest{
		Scope:  "north",
		Period: "2024-03",
		Rows: []api.RowEdit{{
			EntityID: "e1",
			RecordID: string(south[0].ID),
			Fields:   json.RawMessage(`{"basic_salary":"1","variable_salary":"0","overtime_amount":"0","late_deduction":"0","status":"draft"}`),
		}},
	})

	// THEN: Conflict, and e3's finalized record is unchanged
	assert.Equal(t, http.StatusConflict, rec.Code)
	records := s.mem.Records(generic.KindPayroll)
	require.Len(t, records, 1)
	assert.Equal(t, generic.EntityID("e3"), records[0].EntityID)
	f := records[0].Fields.(generic.PayrollFields)
	assert.Equal(t, generic.PayrollFinalized, f.Status)
	assert.True(t, f.BasicSalary.Equal(decimal.NewFromInt(3000000)))

	rec = s.do(t, &admin, http.MethodGet, "/api/payroll/status?scope=south&period=2024-03", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decodeBody[api.PayrollStatusDTO](t, rec).Locked)
}

// =============================================================================
// LEAVE
// =============================================================================

func TestLeave_SubmitApproveAndBalance(t *testing.T) {
	s := newTestServer(t)

	// GIVEN: Staff submit for themselves only
	rec := s.do(t, &ayu, http.MethodPost, "/api/leave/requests", api.SubmitLeaveRequest{EntityID: "e2", Kind: "annual", StartDate: "2024-03-04", EndDate: "2024-03-04"})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = s.do(t, &ayu, http.MethodPost, "/api/leave/requests", api.SubmitLeaveRequest{EntityID: "e1", Kind: "annual", StartDate: "2024-03-04", EndDate: "2024-03-06"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	lr := decodeBody[api.LeaveRequestDTO](t, rec)
	assert.Equal(t, 3, lr.TotalDays)
	assert.Equal(t, "pending", lr.Status)

	// WHEN: Staff try to approve, then the manager approves
	rec = s.do(t, &ayu, http.MethodPost, "/api/leave/requests/"+lr.ID+"/approve", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = s.do(t, &northMgr, http.MethodPost, "/api/leave/requests/"+lr.ID+"/approve", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	approved := decodeBody[api.LeaveRequestDTO](t, rec)
	assert.Equal(t, "approved", approved.Status)
	assert.Equal(t, "mgr-1", approved.DecidedBy)

	// THEN: The balance dropped and a repeat approval conflicts
	e, err := s.mem.GetEntity(context.Background(), "e1")
	require.NoError(t, err)
	assert.True(t, e.LeaveBalance.Equal(decimal.NewFromInt(2)))

	rec = s.do(t, &northMgr, http.MethodPost, "/api/leave/requests/"+lr.ID+"/approve", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	// AND: A request larger than the remaining balance is refused
	rec = s.do(t, &ayu, http.MethodPost, "/api/leave/requests", api.SubmitLeaveRequest{EntityID: "e1", Kind: "annual", StartDate: "2024-04-01", EndDate: "2024-04-05"})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestUpdateEmployee_KeepsApprovedDeduction(t *testing.T) {
	// GIVEN: e1 had 3 days approved
	s := newTestServer(t)
	rec := s.do(t, &ayu, http.MethodPost, "/api/leave/requests", api.SubmitLeaveRequest{EntityID: "e1", Kind: "annual", StartDate: "2024-03-04", EndDate: "2024-03-06"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	lr := decodeBody[api.LeaveRequestDTO](t, rec)
	rec = s.do(t, &northMgr, http.MethodPost, "/api/leave/requests/"+lr.ID+"/approve", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	// WHEN: The employee is replaced with a balance in the body
	restore := decimal.NewFromInt(5)
	rec = s.do(t, &admin, http.MethodPut, "/api/employees/e1", api.EmployeeRequest{
		FullName:     "Ayu L.",
		EmployeeCode: "EMP-001",
		Email:        "ayu@example.com",
		Scope:        "north",
		HireDate:     "2021-06-01",
		BasicSalary:  decimal.NewFromInt(5000000),
		LeaveBalance: &restore,
	})

	// THEN: The profile changed and the balance stayed deducted
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	dto := decodeBody[api.EmployeeDTO](t, rec)
	assert.Equal(t, "Ayu L.", dto.FullName)
	assert.True(t, dto.LeaveBalance.Equal(decimal.NewFromInt(2)))

	e, err := s.mem.GetEntity(context.Background(), "e1")
	require.NoError(t, err)
	assert.True(t, e.LeaveBalance.Equal(decimal.NewFromInt(2)))
}

func TestLeave_RejectAndVisibility(t *testing.T) {
	s := newTestServer(t)
	southStaff := caller{id: "e3", role: generic.RoleStaff, scope: "south"}

	rec := s.do(t, &southStaff, http.MethodPost, "/api/leave/requests", api.SubmitLeaveRequest{EntityID: "e3", Kind: "sick", StartDate: "2024-03-04", EndDate: "2024-03-04"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	lr := decodeBody[api.LeaveRequestDTO](t, rec)

	// another scope's manager cannot see or decide it
	rec = s.do(t, &northMgr, http.MethodGet, "/api/leave/requests/"+lr.ID, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = s.do(t, &northMgr, http.MethodPost, "/api/leave/requests/"+lr.ID+"/reject", api.RejectLeaveRequest{Reason: "no"})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.do(t, &northMgr, http.MethodGet, "/api/leave/requests", nil)
	list := decodeBody[struct {
		Requests []api.LeaveRequestDTO `json:"requests"`
	}](t, rec)
	assert.Empty(t, list.Requests)

	rec = s.do(t, &admin, http.MethodPost, "/api/leave/requests/"+lr.ID+"/reject", api.RejectLeaveRequest{Reason: "missing note"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	rejected := decodeBody[api.LeaveRequestDTO](t, rec)
	assert.Equal(t, "rejected", rejected.Status)
	assert.Equal(t, "missing note", rejected.RejectionReason)
}

func TestLeave_InvalidRangeIsBadRequest(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(t, &ayu, http.MethodPost, "/api/leave/requests", api.SubmitLeaveRequest{EntityID: "e1", Kind: "sick", StartDate: "2024-03-06", EndDate: "2024-03-04"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

// =============================================================================
// IMPORT
// =============================================================================

func upload(t *testing.T, s *testServer, c *caller, target, filename, content string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = fw.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/import/"+target, &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set(api.HeaderUserID, c.id)
	req.Header.Set(api.HeaderUserRole, string(c.role))
	req.Header.Set(api.HeaderUserScope, string(c.scope))
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func TestImport_AttendanceCSV(t *testing.T) {
	s := newTestServer(t)
	csv := strings.Join([]string{
		"Employee Code,Date,Check In,Check Out,Late Minutes",
		"EMP-001,2024-03-04,08:05,17:00,5",
		"EMP-404,2024-03-04,08:00,17:00,0",
	}, "\n")

	rec := upload(t, s, &northMgr, "attendance", "march.csv", csv)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = upload(t, s, &admin, "attendance", "march.csv", csv)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	report := decodeBody[struct {
		Succeeded int `json:"succeeded"`
		Failed    int `json:"failed"`
		Failures  []struct {
			Line int `json:"line"`
		} `json:"failures"`
	}](t, rec)
	assert.Equal(t, 1, report.Succeeded)
	assert.Equal(t, 1, report.Failed)
	require.Len(t, report.Failures, 1)
	assert.Equal(t, 3, report.Failures[0].Line)

	records := s.mem.Records(generic.KindAttendance)
	require.Len(t, records, 1)
	assert.Equal(t, generic.EntityID("e1"), records[0].EntityID)
}

func TestImport_UnknownTargetOrFormat(t *testing.T) {
	s := newTestServer(t)

	rec := upload(t, s, &admin, "payslips", "x.csv", "a,b\n1,2")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = upload(t, s, &admin, "attendance", "x.pdf", "%PDF")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
