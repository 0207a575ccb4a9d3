package importer

import (
	"github.com/warp/hr-engine/generic"
)

// =============================================================================
// IDENTIFIER MATCHER - Row identifiers to entities
// =============================================================================

// Matcher resolves an imported row to an entity, employee code first and
// email second. Matching ignores case and surrounding whitespace. It is
// built from one roster snapshot per batch.
type Matcher struct {
	byCode  map[string]generic.Entity
	byEmail map[string]generic.Entity
}

func NewMatcher(roster []generic.Entity) *Matcher {
	m := &Matcher{
		byCode:  make(map[string]generic.Entity, len(roster)),
		byEmail: make(map[string]generic.Entity, len(roster)),
	}
	for _, e := range roster {
		m.add(e, false)
	}
	return m
}

// Add indexes e, replacing any previous entry for its code or email.
func (m *Matcher) Add(e generic.Entity) {
	m.add(e, true)
}

func (m *Matcher) add(e generic.Entity, replace bool) {
	if code := generic.NormalizeCode(e.EmployeeCode); code != "" {
		if _, taken := m.byCode[code]; replace || !taken {
			m.byCode[code] = e
		}
	}
	if email := generic.NormalizeEmail(e.Email); email != "" {
		if _, taken := m.byEmail[email]; replace || !taken {
			m.byEmail[email] = e
		}
	}
}

// Resolve returns the entity for code or email. A non-matching code
// falls through to the email.
func (m *Matcher) Resolve(code, email string) (generic.Entity, error) {
	c := generic.NormalizeCode(code)
	if c != "" {
		if e, ok := m.byCode[c]; ok {
			return e, nil
		}
	}
	em := generic.NormalizeEmail(email)
	if em != "" {
		if e, ok := m.byEmail[em]; ok {
			return e, nil
		}
	}

	key := c
	if key == "" {
		key = em
	}
	if key == "" {
		key = "(no identifier)"
	}
	return generic.Entity{}, &generic.NotFoundError{What: "entity", Key: key}
}
