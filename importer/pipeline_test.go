package importer_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/hr-engine/generic"
	"github.com/warp/hr-engine/generic/store"
	"github.com/warp/hr-engine/importer"
	"github.com/xuri/excelize/v2"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newTestPipeline(t *testing.T) (*importer.Pipeline, *store.Memory) {
	mem := store.NewMemory()
	ctx := context.Background()

	for _, e := range []generic.Entity{
		{ID: "emp-1", FullName: "Ayu Lestari", EmployeeCode: "E001", Email: "ayu@example.com", Scope: "north", Status: generic.EntityActive, BasicSalary: decimal.NewFromInt(5000000), LeaveBalance: decimal.NewFromInt(12)},
		{ID: "emp-2", FullName: "Budi Santoso", EmployeeCode: "E002", Email: "budi@example.com", Scope: "south", Status: generic.EntityActive, BasicSalary: decimal.NewFromInt(4000000), LeaveBalance: decimal.NewFromInt(12)},
	} {
		require.NoError(t, mem.SaveEntity(ctx, e))
	}

	p := importer.NewPipeline(mem, generic.NewReconciler(mem), nil)
	return p, mem
}

func row(line int, kv ...string) importer.Row {
	values := make(map[string]any, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		values[kv[i]] = kv[i+1]
	}
	return importer.Row{Line: line, Values: values}
}

// =============================================================================
// ATTENDANCE
// =============================================================================

func TestImportAttendance_PartialFailureNeverAborts(t *testing.T) {
	// GIVEN: Four rows, one with an unknown code and one with a bad date
	p, mem := newTestPipeline(t)
	rows := []importer.Row{
		row(2, "employee_code", "e001", "date", "45285", "check_in", "08:00", "check_out", "17:00"),
		row(3, "employee_code", "X999", "date", "2023-12-25", "check_in", "08:00"),
		row(4, "email", " AYU@example.com ", "date", "2023-12-26", "late_minutes", "15"),
		row(5, "employee_code", "E002", "date", "someday", "check_in", "08:00"),
	}

	// WHEN: The batch is imported
	report, err := p.ImportAttendance(context.Background(), rows)

	// THEN: Good rows are written, bad rows are tallied with their lines
	require.NoError(t, err)
	assert.Equal(t, 2, report.Succeeded)
	assert.Equal(t, 2, report.Failed)
	require.Len(t, report.Failures, 2)
	assert.Equal(t, 3, report.Failures[0].Line)
	assert.ErrorIs(t, report.Failures[0].Err, generic.ErrNotFound)
	assert.Equal(t, 5, report.Failures[1].Line)
	assert.ErrorIs(t, report.Failures[1].Err, generic.ErrParseFailure)

	records := mem.Records(generic.KindAttendance)
	require.Len(t, records, 2)
	for _, rec := range records {
		assert.Equal(t, generic.EntityID("emp-1"), rec.EntityID, "unresolved rows must not write")
	}
	assert.Equal(t, "2023-12-25", records[0].Period.Key())
	assert.Equal(t, "2023-12-26", records[1].Period.Key())

	fields := records[1].Fields.(generic.AttendanceFields)
	assert.Equal(t, 15, fields.LateMinutes)
}

func TestImportAttendance_Idempotent(t *testing.T) {
	// GIVEN: A batch already imported once
	p, mem := newTestPipeline(t)
	rows := []importer.Row{
		row(2, "employee_code", "E001", "date", "2023-12-25", "check_in", "08:00"),
		row(3, "employee_code", "E002", "date", "2023-12-25", "check_in", "09:00"),
	}
	_, err := p.ImportAttendance(context.Background(), rows)
	require.NoError(t, err)

	// WHEN: The same batch is imported again with a corrected time
	rows[0].Values["check_in"] = "07:45"
	report, err := p.ImportAttendance(context.Background(), rows)

	// THEN: Still one record per key, holding the latest values
	require.NoError(t, err)
	assert.Equal(t, 2, report.Succeeded)
	records := mem.Records(generic.KindAttendance)
	require.Len(t, records, 2)
	fields := records[0].Fields.(generic.AttendanceFields)
	require.NotNil(t, fields.CheckIn)
	assert.Equal(t, "07:45", fields.CheckIn.String())
}

func TestImportAttendance_BestEffortFields(t *testing.T) {
	// GIVEN: A row whose optional fields are garbage
	p, mem := newTestPipeline(t)
	rows := []importer.Row{
		row(2, "employee_code", "E001", "date", "2023-12-25", "check_in", "late-ish", "late_minutes", "n/a", "overtime_minutes", "-10"),
	}

	// WHEN: Imported
	report, err := p.ImportAttendance(context.Background(), rows)

	// THEN: The row succeeds with the garbage dropped
	require.NoError(t, err)
	assert.Equal(t, 1, report.Succeeded)
	records := mem.Records(generic.KindAttendance)
	require.Len(t, records, 1)
	fields := records[0].Fields.(generic.AttendanceFields)
	assert.Nil(t, fields.CheckIn)
	assert.Zero(t, fields.LateMinutes)
	assert.Zero(t, fields.OvertimeMinutes)
}

func TestImportAttendance_WriteFailureCounted(t *testing.T) {
	// GIVEN: Writes for emp-2 fail
	p, mem := newTestPipeline(t)
	mem.FailWritesFor("emp-2", assert.AnError)

	// WHEN: Both employees are imported
	report, err := p.ImportAttendance(context.Background(), []importer.Row{
		row(2, "employee_code", "E001", "date", "2023-12-25", "check_in", "08:00"),
		row(3, "employee_code", "E002", "date", "2023-12-25", "check_in", "08:00"),
	})

	// THEN: One success, one failure on line 3
	require.NoError(t, err)
	assert.Equal(t, 1, report.Succeeded)
	assert.Equal(t, 1, report.Failed)
	assert.Equal(t, 3, report.Failures[0].Line)
}

// =============================================================================
// EMPLOYEES
// =============================================================================

func TestImportEmployees_CreateUpdateAndReject(t *testing.T) {
	// GIVEN: Rows that create, update, and break the rules
	p, mem := newTestPipeline(t)
	p.NewID = func() generic.EntityID { return "emp-new" }
	p.Now = func() time.Time { return time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC) }

	rows := []importer.Row{
		row(2, "full_name", "Citra Dewi", "email", "citra@example.com", "hire_date", "2024-01-02", "basic_salary", "4500000", "project", "north"),
		row(3, "employee_code", "e001", "full_name", "Ayu L.", "email", "ayu@example.com", "hire_date", "45285", "basic_salary", "5500000"),
		row(4, "full_name", "No Date", "email", "nodate@example.com", "basic_salary", "100"),
		row(5, "full_name", "Zero Pay", "email", "zero@example.com", "hire_date", "2024-01-02", "basic_salary", "0"),
		row(6, "email", "anon@example.com", "hire_date", "2024-01-02", "basic_salary", "100"),
	}

	// WHEN: Imported
	report, err := p.ImportEmployees(context.Background(), rows)

	// THEN: Two rows succeed, three fail validation
	require.NoError(t, err)
	assert.Equal(t, 2, report.Succeeded)
	assert.Equal(t, 3, report.Failed)
	for _, f := range report.Failures {
		assert.ErrorIs(t, f.Err, generic.ErrValidation, "line %d", f.Line)
	}

	created, err := mem.GetEntity(context.Background(), "emp-new")
	require.NoError(t, err)
	assert.Equal(t, "Citra Dewi", created.FullName)
	assert.Equal(t, generic.EntityActive, created.Status)
	assert.Equal(t, generic.Scope("north"), created.Scope)
	assert.True(t, created.LeaveBalance.Equal(decimal.NewFromInt(12)))

	updated, err := mem.GetEntity(context.Background(), "emp-1")
	require.NoError(t, err)
	assert.Equal(t, "Ayu L.", updated.FullName)
	assert.Equal(t, "2023-12-25", updated.HireDate.String())
	assert.True(t, updated.BasicSalary.Equal(decimal.NewFromInt(5500000)))
	assert.True(t, updated.LeaveBalance.Equal(decimal.NewFromInt(12)), "update keeps balance")

	all, err := mem.ListEntities(context.Background(), generic.EntityFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

// approvingStore deducts leave right after the roster is read, as an
// approval landing mid-import would.
type approvingStore struct {
	*store.Memory
}

func (s approvingStore) ListEntities(ctx context.Context, filter generic.EntityFilter) ([]generic.Entity, error) {
	roster, err := s.Memory.ListEntities(ctx, filter)
	if err != nil {
		return nil, err
	}
	return roster, s.Memory.DecrementLeaveBalance(ctx, "emp-1", decimal.NewFromInt(2))
}

func TestImportEmployees_KeepsConcurrentDeduction(t *testing.T) {
	// GIVEN: An approval deducts 2 days while the import is running
	_, mem := newTestPipeline(t)
	p := importer.NewPipeline(approvingStore{mem}, generic.NewReconciler(mem), nil)

	// WHEN: emp-1 is updated from its pre-deduction snapshot
	report, err := p.ImportEmployees(context.Background(), []importer.Row{
		row(2, "employee_code", "E001", "full_name", "Ayu L.", "email", "ayu@example.com", "hire_date", "2020-01-06", "basic_salary", "5500000"),
	})

	// THEN: The profile changed and the deduction survived
	require.NoError(t, err)
	assert.Equal(t, 1, report.Succeeded)
	e, err := mem.GetEntity(context.Background(), "emp-1")
	require.NoError(t, err)
	assert.Equal(t, "Ayu L.", e.FullName)
	assert.True(t, e.LeaveBalance.Equal(decimal.NewFromInt(10)))
}

// =============================================================================
// SOURCES
// =============================================================================

func TestReadCSV_NormalizesHeaders(t *testing.T) {
	// GIVEN: A CSV export with human headers
	csv := "Employee Code,Date,Check In,Check-Out\nE001,2023-12-25,08:00,17:00\nE002,45285,09:00,\n"

	// WHEN: Read
	rows, err := importer.ReadCSV(strings.NewReader(csv))

	// THEN: Rows are keyed by normalized header with file line numbers
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, 2, rows[0].Line)
	assert.Equal(t, 3, rows[1].Line)
	assert.Equal(t, "E001", rows[0].Values["employee_code"])
	assert.Equal(t, "17:00", rows[0].Values["check_out"])
	assert.Equal(t, "45285", rows[1].Values["date"])
}

func TestReadXLSX_ImportsSerialDates(t *testing.T) {
	// GIVEN: A workbook where dates are serials and times are day fractions
	f := excelize.NewFile()
	sheet := f.GetSheetName(0)
	require.NoError(t, f.SetSheetRow(sheet, "A1", &[]any{"Employee Code", "Date", "Check In", "Check Out"}))
	require.NoError(t, f.SetSheetRow(sheet, "A2", &[]any{"E001", 45285, 0.375, 0.75}))
	buf, err := f.WriteToBuffer()
	require.NoError(t, err)

	// WHEN: Read and imported
	rows, err := importer.ReadXLSX(buf)
	require.NoError(t, err)
	require.Len(t, rows, 1)

	p, mem := newTestPipeline(t)
	report, err := p.ImportAttendance(context.Background(), rows)

	// THEN: The serial lands on 2023-12-25 with clock times intact
	require.NoError(t, err)
	assert.Equal(t, 1, report.Succeeded)
	records := mem.Records(generic.KindAttendance)
	require.Len(t, records, 1)
	assert.Equal(t, "2023-12-25", records[0].Period.Key())
	fields := records[0].Fields.(generic.AttendanceFields)
	require.NotNil(t, fields.CheckIn)
	require.NotNil(t, fields.CheckOut)
	assert.Equal(t, "09:00", fields.CheckIn.String())
	assert.Equal(t, "18:00", fields.CheckOut.String())
}

func TestReadFile_RejectsUnknownExtension(t *testing.T) {
	_, err := importer.ReadFile("roster.pdf", strings.NewReader(""))
	assert.Error(t, err)
}

// =============================================================================
// MAPPINGS
// =============================================================================

func TestParseMappings_OverlaysDefaults(t *testing.T) {
	// GIVEN: A mapping file that renames the code column
	doc := []byte(`
attendance:
  columns:
    employee_code: [kode_karyawan]
  date_layouts: ["02.01.2006"]
`)

	// WHEN: Parsed and used for an import
	mappings, err := importer.ParseMappings(doc)
	require.NoError(t, err)

	p, mem := newTestPipeline(t)
	p.Mappings = mappings
	report, err := p.ImportAttendance(context.Background(), []importer.Row{
		row(2, "kode_karyawan", "E002", "date", "25.12.2023", "check_in", "08:00"),
	})

	// THEN: The renamed column resolves and the custom layout parses
	require.NoError(t, err)
	assert.Equal(t, 1, report.Succeeded)
	records := mem.Records(generic.KindAttendance)
	require.Len(t, records, 1)
	assert.Equal(t, generic.EntityID("emp-2"), records[0].EntityID)

	// Fields the file does not mention keep their defaults
	assert.Contains(t, mappings[importer.TargetEmployees].Columns, importer.FieldFullName)
}

func TestParseMappings_UnknownTarget(t *testing.T) {
	_, err := importer.ParseMappings([]byte("payslips:\n  columns: {}\n"))
	assert.Error(t, err)
}
