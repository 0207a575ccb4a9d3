// Package store provides Store implementations.
package store

import (
	"context"
	"sort"
	"sync"

	"github.com/shopspring/decimal"
	"github.com/warp/hr-engine/generic"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu       sync.RWMutex
	state    memoryState
	failures map[generic.EntityID]error
}

type memoryState struct {
	entities map[generic.EntityID]generic.Entity
	records  map[generic.RecordID]generic.PeriodRecord
	byKey    map[generic.RecordKey]generic.RecordID
	requests map[generic.RequestID]generic.LeaveRequest
}

func newMemoryState() memoryState {
	return memoryState{
		entities: make(map[generic.EntityID]generic.Entity),
		records:  make(map[generic.RecordID]generic.PeriodRecord),
		byKey:    make(map[generic.RecordKey]generic.RecordID),
		requests: make(map[generic.RequestID]generic.LeaveRequest),
	}
}

func (s memoryState) clone() memoryState {
	c := newMemoryState()
	for k, v := range s.entities {
		c.entities[k] = v
	}
	for k, v := range s.records {
		c.records[k] = v
	}
	for k, v := range s.byKey {
		c.byKey[k] = v
	}
	for k, v := range s.requests {
		c.requests[k] = v
	}
	return c
}

func NewMemory() *Memory {
	return &Memory{state: newMemoryState(), failures: make(map[generic.EntityID]error)}
}

// FailWritesFor makes every record write for entity id return err.
// Used by tests to exercise partial failure.
func (m *Memory) FailWritesFor(id generic.EntityID, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[id] = err
}

// Records returns every stored record of kind (test helper).
func (m *Memory) Records(kind generic.Kind) []generic.PeriodRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []generic.PeriodRecord
	for _, r := range m.state.records {
		if r.Kind == kind {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].EntityID != out[j].EntityID {
			return out[i].EntityID < out[j].EntityID
		}
		return out[i].Period.Key() < out[j].Period.Key()
	})
	return out
}

// =============================================================================
// ROSTER
// =============================================================================

func (m *Memory) ListEntities(_ context.Context, filter generic.EntityFilter) ([]generic.Entity, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.listEntities(filter), nil
}

func (m *Memory) GetEntity(_ context.Context, id generic.EntityID) (*generic.Entity, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.getEntity(id)
}

func (m *Memory) SaveEntity(_ context.Context, e generic.Entity) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.saveEntity(e)
}

func (s memoryState) listEntities(filter generic.EntityFilter) []generic.Entity {
	var out []generic.Entity
	for _, e := range s.entities {
		if filter.Matches(e) {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].FullName != out[j].FullName {
			return out[i].FullName < out[j].FullName
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (s memoryState) getEntity(id generic.EntityID) (*generic.Entity, error) {
	e, ok := s.entities[id]
	if !ok {
		return nil, &generic.NotFoundError{What: "entity", Key: string(id)}
	}
	return &e, nil
}

func (s memoryState) saveEntity(e generic.Entity) error {
	if code := generic.NormalizeCode(e.EmployeeCode); code != "" {
		for _, other := range s.entities {
			if other.ID != e.ID && generic.NormalizeCode(other.EmployeeCode) == code {
				return generic.ErrConflictOnUpsert
			}
		}
	}
	if prev, ok := s.entities[e.ID]; ok {
		if e.CreatedAt.IsZero() {
			e.CreatedAt = prev.CreatedAt
		}
		// only decrementLeaveBalance moves a stored balance
		e.LeaveBalance = prev.LeaveBalance
	}
	s.entities[e.ID] = e
	return nil
}

// =============================================================================
// RECORDS
// =============================================================================

func (m *Memory) ListRecords(_ context.Context, filter generic.RecordFilter) ([]generic.PeriodRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.listRecords(filter), nil
}

func (m *Memory) GetRecordByKey(_ context.Context, key generic.RecordKey) (*generic.PeriodRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.getRecordByKey(key)
}

func (m *Memory) InsertRecord(_ context.Context, rec generic.PeriodRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failures[rec.EntityID]; err != nil {
		return err
	}
	return m.state.insertRecord(rec)
}

func (m *Memory) UpdateRecord(_ context.Context, rec generic.PeriodRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failures[rec.EntityID]; err != nil {
		return err
	}
	return m.state.updateRecord(rec)
}

func (m *Memory) UpsertRecord(_ context.Context, rec generic.PeriodRecord) (generic.PeriodRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failures[rec.EntityID]; err != nil {
		return generic.PeriodRecord{}, err
	}
	return m.state.upsertRecord(rec), nil
}

func (s memoryState) listRecords(filter generic.RecordFilter) []generic.PeriodRecord {
	wanted := make(map[generic.EntityID]bool, len(filter.EntityIDs))
	for _, id := range filter.EntityIDs {
		wanted[id] = true
	}
	var out []generic.PeriodRecord
	for _, r := range s.records {
		if r.Kind == filter.Kind && r.Period.Key() == filter.Period.Key() && wanted[r.EntityID] {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EntityID < out[j].EntityID })
	return out
}

func (s memoryState) getRecordByKey(key generic.RecordKey) (*generic.PeriodRecord, error) {
	id, ok := s.byKey[key]
	if !ok {
		return nil, &generic.NotFoundError{What: "record", Key: string(key.EntityID) + "/" + string(key.Kind) + "/" + key.Period}
	}
	r := s.records[id]
	return &r, nil
}

func (s memoryState) insertRecord(rec generic.PeriodRecord) error {
	if _, exists := s.byKey[rec.Key()]; exists {
		return generic.ErrConflictOnUpsert
	}
	if _, exists := s.records[rec.ID]; exists {
		return generic.ErrConflictOnUpsert
	}
	s.records[rec.ID] = rec
	s.byKey[rec.Key()] = rec.ID
	return nil
}

func (s memoryState) updateRecord(rec generic.PeriodRecord) error {
	prev, ok := s.records[rec.ID]
	if !ok {
		return &generic.NotFoundError{What: "record", Key: string(rec.ID)}
	}
	if err := generic.CheckUpdate(prev, rec); err != nil {
		return err
	}
	rec.CreatedAt = prev.CreatedAt
	s.records[rec.ID] = rec
	return nil
}

func (s memoryState) upsertRecord(rec generic.PeriodRecord) generic.PeriodRecord {
	if id, ok := s.byKey[rec.Key()]; ok {
		prev := s.records[id]
		rec.ID = prev.ID
		rec.CreatedAt = prev.CreatedAt
	}
	s.records[rec.ID] = rec
	s.byKey[rec.Key()] = rec.ID
	return rec
}

// =============================================================================
// LEAVE
// =============================================================================

func (m *Memory) InsertLeaveRequest(_ context.Context, r generic.LeaveRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.insertLeaveRequest(r)
}

func (m *Memory) GetLeaveRequest(_ context.Context, id generic.RequestID) (*generic.LeaveRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.getLeaveRequest(id)
}

func (m *Memory) ListLeaveRequests(_ context.Context, filter generic.LeaveFilter) ([]generic.LeaveRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.listLeaveRequests(filter), nil
}

func (m *Memory) TransitionLeaveRequest(_ context.Context, t generic.LeaveTransition) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.transitionLeaveRequest(t)
}

func (m *Memory) DecrementLeaveBalance(_ context.Context, id generic.EntityID, days decimal.Decimal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.decrementLeaveBalance(id, days)
}

func (s memoryState) insertLeaveRequest(r generic.LeaveRequest) error {
	if _, exists := s.requests[r.ID]; exists {
		return generic.ErrConflictOnUpsert
	}
	s.requests[r.ID] = r
	return nil
}

func (s memoryState) getLeaveRequest(id generic.RequestID) (*generic.LeaveRequest, error) {
	r, ok := s.requests[id]
	if !ok {
		return nil, &generic.NotFoundError{What: "leave request", Key: string(id)}
	}
	return &r, nil
}

func (s memoryState) listLeaveRequests(filter generic.LeaveFilter) []generic.LeaveRequest {
	var out []generic.LeaveRequest
	for _, r := range s.requests {
		if filter.Matches(r) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	return out
}

func (s memoryState) transitionLeaveRequest(t generic.LeaveTransition) error {
	r, ok := s.requests[t.RequestID]
	if !ok {
		return &generic.NotFoundError{What: "leave request", Key: string(t.RequestID)}
	}
	if r.Status != t.From {
		return &generic.InvalidStateError{Subject: "leave request", Current: string(r.Status), Action: "move to " + string(t.To)}
	}
	at := t.DecidedAt
	r.Status = t.To
	r.DecidedBy = t.DecidedBy
	r.DecidedAt = &at
	r.RejectionReason = t.RejectionReason
	s.requests[r.ID] = r
	return nil
}

func (s memoryState) decrementLeaveBalance(id generic.EntityID, days decimal.Decimal) error {
	e, ok := s.entities[id]
	if !ok {
		return &generic.NotFoundError{What: "entity", Key: string(id)}
	}
	if e.LeaveBalance.LessThan(days) {
		return &generic.InsufficientBalanceError{EntityID: id, Available: e.LeaveBalance, Requested: days}
	}
	e.LeaveBalance = e.LeaveBalance.Sub(days)
	s.entities[id] = e
	return nil
}

// =============================================================================
// TRANSACTIONAL MEMORY STORE
// =============================================================================

// WithTx executes fn with exclusive access.
// For memory store, this is simulated with a snapshot + rollback on error.
func (m *Memory) WithTx(_ context.Context, fn func(generic.Store) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := m.state.clone()
	view := &txMemoryView{parent: m}

	if err := fn(view); err != nil {
		m.state = snapshot
		return err
	}
	return nil
}

// txMemoryView runs against the parent's state while the parent lock is
// held by WithTx.
type txMemoryView struct {
	parent *Memory
}

func (v *txMemoryView) ListEntities(_ context.Context, filter generic.EntityFilter) ([]generic.Entity, error) {
	return v.parent.state.listEntities(filter), nil
}

func (v *txMemoryView) GetEntity(_ context.Context, id generic.EntityID) (*generic.Entity, error) {
	return v.parent.state.getEntity(id)
}

func (v *txMemoryView) SaveEntity(_ context.Context, e generic.Entity) error {
	return v.parent.state.saveEntity(e)
}

func (v *txMemoryView) ListRecords(_ context.Context, filter generic.RecordFilter) ([]generic.PeriodRecord, error) {
	return v.parent.state.listRecords(filter), nil
}

func (v *txMemoryView) GetRecordByKey(_ context.Context, key generic.RecordKey) (*generic.PeriodRecord, error) {
	return v.parent.state.getRecordByKey(key)
}

func (v *txMemoryView) InsertRecord(_ context.Context, rec generic.PeriodRecord) error {
	if err := v.parent.failures[rec.EntityID]; err != nil {
		return err
	}
	return v.parent.state.insertRecord(rec)
}

func (v *txMemoryView) UpdateRecord(_ context.Context, rec generic.PeriodRecord) error {
	if err := v.parent.failures[rec.EntityID]; err != nil {
		return err
	}
	return v.parent.state.updateRecord(rec)
}

func (v *txMemoryView) UpsertRecord(_ context.Context, rec generic.PeriodRecord) (generic.PeriodRecord, error) {
	if err := v.parent.failures[rec.EntityID]; err != nil {
		return generic.PeriodRecord{}, err
	}
	return v.parent.state.upsertRecord(rec), nil
}

func (v *txMemoryView) InsertLeaveRequest(_ context.Context, r generic.LeaveRequest) error {
	return v.parent.state.insertLeaveRequest(r)
}

func (v *txMemoryView) GetLeaveRequest(_ context.Context, id generic.RequestID) (*generic.LeaveRequest, error) {
	return v.parent.state.getLeaveRequest(id)
}

func (v *txMemoryView) ListLeaveRequests(_ context.Context, filter generic.LeaveFilter) ([]generic.LeaveRequest, error) {
	return v.parent.state.listLeaveRequests(filter), nil
}

func (v *txMemoryView) TransitionLeaveRequest(_ context.Context, t generic.LeaveTransition) error {
	return v.parent.state.transitionLeaveRequest(t)
}

func (v *txMemoryView) DecrementLeaveBalance(_ context.Context, id generic.EntityID, days decimal.Decimal) error {
	return v.parent.state.decrementLeaveBalance(id, days)
}

var (
	_ generic.TxStore = (*Memory)(nil)
	_ generic.Store   = (*txMemoryView)(nil)
)
