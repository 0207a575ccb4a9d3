package importer

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// =============================================================================
// FIELD MAPPINGS - Which source columns feed which field
// =============================================================================

// Target is what a batch imports into.
type Target string

const (
	TargetAttendance Target = "attendance"
	TargetEmployees  Target = "employees"
)

func ParseTarget(s string) (Target, error) {
	switch t := Target(strings.ToLower(strings.TrimSpace(s))); t {
	case TargetAttendance, TargetEmployees:
		return t, nil
	}
	return "", fmt.Errorf("unknown import target %q", s)
}

// Canonical field names.
const (
	FieldEmployeeCode    = "employee_code"
	FieldEmail           = "email"
	FieldDate            = "date"
	FieldCheckIn         = "check_in"
	FieldCheckOut        = "check_out"
	FieldLateMinutes     = "late_minutes"
	FieldOvertimeMinutes = "overtime_minutes"
	FieldNotes           = "notes"

	FieldFullName       = "full_name"
	FieldHireDate       = "hire_date"
	FieldScope          = "scope"
	FieldPosition       = "position"
	FieldBasicSalary    = "basic_salary"
	FieldVariableSalary = "variable_salary"
	FieldLeaveBalance   = "leave_balance"
)

// Mapping lists, per canonical field, the column headers accepted for it
// in priority order.
type Mapping struct {
	Columns     map[string][]string `yaml:"columns"`
	DateLayouts []string            `yaml:"date_layouts,omitempty"`
}

// Mappings is the YAML document shape: one mapping per target.
type Mappings map[Target]Mapping

// DefaultMappings returns the built-in column aliases.
func DefaultMappings() Mappings {
	return Mappings{
		TargetAttendance: {
			Columns: map[string][]string{
				FieldEmployeeCode:    {"employee_code", "employee_id", "emp_code", "code", "nik"},
				FieldEmail:           {"email", "email_address"},
				FieldDate:            {"date", "attendance_date", "day"},
				FieldCheckIn:         {"check_in", "checkin", "clock_in", "time_in"},
				FieldCheckOut:        {"check_out", "checkout", "clock_out", "time_out"},
				FieldLateMinutes:     {"late_minutes", "late", "late_min"},
				FieldOvertimeMinutes: {"overtime_minutes", "overtime", "ot_minutes"},
				FieldNotes:           {"notes", "note", "remarks"},
			},
		},
		TargetEmployees: {
			Columns: map[string][]string{
				FieldEmployeeCode:   {"employee_code", "employee_id", "emp_code", "code", "nik"},
				FieldFullName:       {"full_name", "name", "employee_name"},
				FieldEmail:          {"email", "email_address"},
				FieldHireDate:       {"hire_date", "join_date", "start_date"},
				FieldScope:          {"scope", "project", "department"},
				FieldPosition:       {"position", "title", "job_title"},
				FieldBasicSalary:    {"basic_salary", "salary", "base_salary"},
				FieldVariableSalary: {"variable_salary", "allowance", "variable"},
				FieldLeaveBalance:   {"leave_balance", "annual_leave"},
			},
		},
	}
}

// LoadMappings reads a YAML mapping file and overlays it on the defaults.
// An empty path returns the defaults.
func LoadMappings(path string) (Mappings, error) {
	if path == "" {
		return DefaultMappings(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read mappings: %w", err)
	}
	return ParseMappings(data)
}

// ParseMappings overlays YAML mappings on the defaults. Fields present in
// the document replace the default aliases for that field.
func ParseMappings(data []byte) (Mappings, error) {
	var doc Mappings
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse mappings: %w", err)
	}

	out := DefaultMappings()
	for target, m := range doc {
		if _, err := ParseTarget(string(target)); err != nil {
			return nil, err
		}
		base := out[target]
		for field, aliases := range m.Columns {
			base.Columns[field] = aliases
		}
		if len(m.DateLayouts) > 0 {
			base.DateLayouts = m.DateLayouts
		}
		out[target] = base
	}
	return out, nil
}

// Lookup returns the first non-blank value among the field's aliases.
func (m Mapping) Lookup(row Row, field string) any {
	aliases, ok := m.Columns[field]
	if !ok {
		aliases = []string{field}
	}
	for _, alias := range aliases {
		if v, ok := row.Values[NormalizeHeader(alias)]; ok && text(v) != "" {
			return v
		}
	}
	return nil
}

// Text is Lookup as a trimmed string.
func (m Mapping) Text(row Row, field string) string {
	return text(m.Lookup(row, field))
}
