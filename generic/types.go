/*
Package generic provides the core period-record engine.

PURPOSE:
  This package contains the kind-agnostic types and algorithms behind the
  HR back-office: the employee roster, period-scoped records (attendance,
  KPI, payroll), the roster projection that merges the two into one
  editable row per employee, and the reconciler that persists edits as
  composite-key inserts or updates.

KEY CONCEPTS IN THIS FILE (types.go):
  - Money: decimal amounts (salary, deductions, leave days)
  - Entity: an employee on the roster
  - Identifiers: type-safe ids for entities, records, scopes

DESIGN PRINCIPLES:
  1. One record shape: PeriodRecord is parameterized by a Kind tag and a
     kind-specific field set, so merge logic is written once
  2. Precision: uses decimal.Decimal for every amount
  3. Explicit backing: projection rows say whether they are persisted,
     it is never inferred from field values

USAGE:
  emp := generic.Entity{
      ID:          "emp-123",
      FullName:    "Ayu Lestari",
      Scope:       "proj-north",
      Status:      generic.EntityActive,
      BasicSalary: decimal.NewFromInt(5000000),
  }

SEE ALSO:
  - record.go: PeriodRecord and kind field sets
  - projection.go: Roster projection
  - reconcile.go: Upsert reconciler
*/
package generic

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// MONEY
// =============================================================================

// Money is an amount in the company's single payroll currency.
type Money = decimal.Decimal

// MustParseDecimal parses s and returns zero on failure.
func MustParseDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return decimal.Zero
	}
	return d
}

// =============================================================================
// IDENTIFIERS
// =============================================================================

type EntityID string
type RecordID string
type RequestID string

// Scope is a project/department filter. ScopeAll matches every entity.
type Scope string

const ScopeAll Scope = "all"

// Matches reports whether an entity affiliated with s is visible under
// the filter f.
func (f Scope) Matches(s Scope) bool {
	return f == "" || f == ScopeAll || f == s
}

// =============================================================================
// ENTITY - An employee on the roster
// =============================================================================

type EntityStatus string

const (
	EntityActive   EntityStatus = "active"
	EntityInactive EntityStatus = "inactive"
)

func (s EntityStatus) Valid() bool {
	return s == EntityActive || s == EntityInactive
}

// Entity is an employee. Entities are never hard-deleted while period
// records reference them.
type Entity struct {
	ID           EntityID
	FullName     string
	EmployeeCode string
	Email        string
	Scope        Scope
	Status       EntityStatus
	Position     string
	HireDate     TimePoint

	// Baseline compensation copied into new payroll rows.
	BasicSalary    Money
	VariableSalary Money

	// Remaining annual leave in days. Only the approve transaction
	// mutates it.
	LeaveBalance decimal.Decimal

	CreatedAt time.Time
	UpdatedAt time.Time
}

// EntityFilter selects entities from the roster.
type EntityFilter struct {
	Scope  Scope
	Status EntityStatus // empty = any status
}

func (f EntityFilter) Matches(e Entity) bool {
	if !f.Scope.Matches(e.Scope) {
		return false
	}
	return f.Status == "" || f.Status == e.Status
}

// NormalizeCode canonicalizes an employee code for matching.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// NormalizeEmail canonicalizes an email for matching.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// =============================================================================
// PRINCIPAL - Caller identity supplied by the identity collaborator
// =============================================================================

type Role string

const (
	RoleAdmin   Role = "admin"
	RoleHR      Role = "hr"
	RoleManager Role = "manager"
	RoleStaff   Role = "staff"
)

// Principal is the current user as resolved by the external identity
// service.
type Principal struct {
	UserID string
	Role   Role
	Scope  Scope
}

// ResolveScope returns the scope a principal may query. Admin and HR see
// any scope; everyone else is pinned to their own.
func ResolveScope(p Principal, requested Scope) (Scope, error) {
	if requested == "" {
		requested = ScopeAll
	}
	switch p.Role {
	case RoleAdmin, RoleHR:
		return requested, nil
	}
	if p.Scope == "" {
		return "", ErrForbidden
	}
	if requested == ScopeAll || requested == p.Scope {
		return p.Scope, nil
	}
	return "", ErrForbidden
}

// CanEdit reports whether a principal may change records.
func (p Principal) CanEdit() bool {
	return p.Role == RoleAdmin || p.Role == RoleHR || p.Role == RoleManager
}

// CanAdminister reports whether a principal may manage the roster, run
// imports and finalize payroll.
func (p Principal) CanAdminister() bool {
	return p.Role == RoleAdmin || p.Role == RoleHR
}

func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleHR, RoleManager, RoleStaff:
		return true
	}
	return false
}
