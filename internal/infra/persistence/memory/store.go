// Package memory provides an in-memory implementation of the core persistence
// store used for tests and ephemeral environments.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"spectrocal/pkg/domain"
)

// Compile-time contract assertions ensuring memory.Store adheres to the domain persistence interfaces.
var _ domain.PersistentStore = (*Store)(nil)

type (
	// Session aliases domain.Session for in-memory persistence operations.
	Session = domain.Session
	// Measurement aliases domain.Measurement.
	Measurement = domain.Measurement
	// Change aliases domain.Change captured in transactions.
	Change = domain.Change
	// Result aliases domain.Result summarizing rule evaluation.
	Result = domain.Result
	// RulesEngine aliases domain.RulesEngine used to evaluate rules.
	RulesEngine = domain.RulesEngine
	// Transaction aliases domain.Transaction representing a mutable unit of work.
	Transaction = domain.Transaction
	// TransactionView aliases domain.TransactionView providing read-only state.
	TransactionView = domain.TransactionView
)

type memoryState struct {
	sessions     map[string]Session
	measurements map[string]Measurement
}

// Snapshot captures a point-in-time clone of the store state.
type Snapshot struct {
	Sessions     map[string]Session     `json:"sessions"`
	Measurements map[string]Measurement `json:"measurements"`
}

func newMemoryState() memoryState {
	return memoryState{
		sessions:     make(map[string]Session),
		measurements: make(map[string]Measurement),
	}
}

func snapshotFromMemoryState(state memoryState) Snapshot {
	s := Snapshot{
		Sessions:     make(map[string]Session, len(state.sessions)),
		Measurements: make(map[string]Measurement, len(state.measurements)),
	}
	for k, v := range state.sessions {
		s.Sessions[k] = v.Clone()
	}
	for k, v := range state.measurements {
		s.Measurements[k] = v.Clone()
	}
	return s
}

func memoryStateFromSnapshot(s Snapshot) memoryState {
	state := newMemoryState()
	for k, v := range s.Sessions {
		if v.ID == "" {
			v.ID = k
		}
		state.sessions[k] = v.Clone()
	}
	for k, v := range s.Measurements {
		if v.ID == "" {
			v.ID = k
		}
		state.measurements[k] = v.Clone()
	}
	return state
}

func (s memoryState) clone() memoryState {
	return memoryStateFromSnapshot(snapshotFromMemoryState(s))
}

// Store provides an in-memory transactional store for calibration records.
type Store struct {
	mu     sync.RWMutex
	state  memoryState
	engine *RulesEngine
	nowFn  func() time.Time
}

// NewStore constructs an in-memory store backed by the provided rules engine.
func NewStore(engine *RulesEngine) *Store {
	if engine == nil {
		engine = domain.NewRulesEngine()
	}
	return &Store{
		state:  newMemoryState(),
		engine: engine,
		nowFn:  func() time.Time { return time.Now().UTC() },
	}
}

func (s *Store) newID() string {
	return uuid.NewString()
}

// ExportState clones the current store state for external persistence.
func (s *Store) ExportState() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return snapshotFromMemoryState(s.state)
}

// ImportState replaces the store state with the provided snapshot.
func (s *Store) ImportState(snapshot Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = memoryStateFromSnapshot(snapshot)
}

// RulesEngine exposes the currently configured engine.
func (s *Store) RulesEngine() *RulesEngine {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.engine
}

// SetNowFunc overrides the clock used to stamp records.
func (s *Store) SetNowFunc(fn func() time.Time) {
	if fn == nil {
		return
	}
	s.mu.Lock()
	s.nowFn = fn
	s.mu.Unlock()
}

// NowFunc returns the time provider used by the in-memory store.
func (s *Store) NowFunc() func() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.nowFn
}

type transaction struct {
	store   *Store
	state   memoryState
	changes []Change
	now     time.Time
}

type transactionView struct {
	state *memoryState
}

func newTransactionView(state *memoryState) TransactionView {
	return transactionView{state: state}
}

// ListSessions returns all sessions, oldest first.
func (v transactionView) ListSessions() []Session {
	return sortedSessions(v.state.sessions)
}

// FindSession looks up a session by id.
func (v transactionView) FindSession(id string) (Session, bool) {
	s, ok := v.state.sessions[id]
	if !ok {
		return Session{}, false
	}
	return s.Clone(), true
}

// ListMeasurements returns all measurements, oldest first.
func (v transactionView) ListMeasurements() []Measurement {
	return sortedMeasurements(v.state.measurements, "")
}

// FindMeasurement looks up a measurement by id.
func (v transactionView) FindMeasurement(id string) (Measurement, bool) {
	m, ok := v.state.measurements[id]
	if !ok {
		return Measurement{}, false
	}
	return m.Clone(), true
}

func sortedSessions(in map[string]Session) []Session {
	out := make([]Session, 0, len(in))
	for _, s := range in {
		out = append(out, s.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func sortedMeasurements(in map[string]Measurement, sessionID string) []Measurement {
	out := make([]Measurement, 0, len(in))
	for _, m := range in {
		if sessionID != "" && m.SessionID != sessionID {
			continue
		}
		out = append(out, m.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// RunInTransaction executes fn within a transactional copy of the store state.
func (s *Store) RunInTransaction(ctx context.Context, fn func(tx Transaction) error) (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &transaction{
		store: s,
		state: s.state.clone(),
		now:   s.nowFn(),
	}

	if err := fn(tx); err != nil {
		return Result{}, err
	}

	var result Result
	if s.engine != nil {
		view := newTransactionView(&tx.state)
		res, err := s.engine.Evaluate(ctx, view, tx.changes)
		if err != nil {
			return Result{}, err
		}
		result = res
		if res.HasBlocking() {
			return res, domain.RuleViolationError{Result: res}
		}
	}

	s.state = tx.state
	return result, nil
}

// View executes fn against a read-only snapshot of the store state.
func (s *Store) View(_ context.Context, fn func(TransactionView) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snapshot := s.state.clone()
	view := newTransactionView(&snapshot)
	return fn(view)
}

// GetSession returns a session by id.
func (s *Store) GetSession(id string) (Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return newTransactionView(&s.state).FindSession(id)
}

// ListSessions returns all sessions, oldest first.
func (s *Store) ListSessions() []Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return sortedSessions(s.state.sessions)
}

// ListMeasurements returns measurements for sessionID, or all of them when empty.
func (s *Store) ListMeasurements(sessionID string) []Measurement {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return sortedMeasurements(s.state.measurements, sessionID)
}

func (tx *transaction) recordChange(change Change) {
	tx.changes = append(tx.changes, change)
}

// Snapshot returns a read-only view over the transactional state.
func (tx *transaction) Snapshot() TransactionView {
	return newTransactionView(&tx.state)
}

// FindSession exposes session lookup within the transaction scope.
func (tx *transaction) FindSession(id string) (Session, bool) {
	return tx.Snapshot().FindSession(id)
}

// CreateSession stores a new session within the transaction.
func (tx *transaction) CreateSession(s Session) (Session, error) {
	if s.ID == "" {
		s.ID = tx.store.newID()
	}
	if _, exists := tx.state.sessions[s.ID]; exists {
		return Session{}, fmt.Errorf("session %q already exists", s.ID)
	}
	if s.Status == "" {
		s.Status = domain.SessionCollecting
	}
	s.CreatedAt = tx.now
	s.UpdatedAt = tx.now
	tx.state.sessions[s.ID] = s.Clone()
	tx.recordChange(Change{Entity: domain.EntitySession, Action: domain.ActionCreate, After: s.Clone()})
	return s.Clone(), nil
}

// UpdateSession mutates a session using the provided mutator function.
func (tx *transaction) UpdateSession(id string, mutator func(*Session) error) (Session, error) {
	current, ok := tx.state.sessions[id]
	if !ok {
		return Session{}, domain.ErrNotFound{Entity: domain.EntitySession, ID: id}
	}
	before := current.Clone()
	current = current.Clone()
	if err := mutator(&current); err != nil {
		return Session{}, err
	}
	current.ID = id
	current.CreatedAt = before.CreatedAt
	current.UpdatedAt = tx.now
	tx.state.sessions[id] = current.Clone()
	tx.recordChange(Change{Entity: domain.EntitySession, Action: domain.ActionUpdate, Before: before, After: current.Clone()})
	return current.Clone(), nil
}

// DeleteSession removes a session that no measurement references.
func (tx *transaction) DeleteSession(id string) error {
	current, ok := tx.state.sessions[id]
	if !ok {
		return domain.ErrNotFound{Entity: domain.EntitySession, ID: id}
	}
	for _, m := range tx.state.measurements {
		if m.SessionID == id {
			return fmt.Errorf("session %q still referenced by measurement %q", id, m.ID)
		}
	}
	delete(tx.state.sessions, id)
	tx.recordChange(Change{Entity: domain.EntitySession, Action: domain.ActionDelete, Before: current.Clone()})
	return nil
}

// CreateMeasurement stores a new measurement within the transaction.
func (tx *transaction) CreateMeasurement(m Measurement) (Measurement, error) {
	if m.ID == "" {
		m.ID = tx.store.newID()
	}
	if _, exists := tx.state.measurements[m.ID]; exists {
		return Measurement{}, fmt.Errorf("measurement %q already exists", m.ID)
	}
	m.CreatedAt = tx.now
	m.UpdatedAt = tx.now
	tx.state.measurements[m.ID] = m.Clone()
	tx.recordChange(Change{Entity: domain.EntityMeasurement, Action: domain.ActionCreate, After: m.Clone()})
	return m.Clone(), nil
}

// DeleteMeasurement removes a measurement.
func (tx *transaction) DeleteMeasurement(id string) error {
	current, ok := tx.state.measurements[id]
	if !ok {
		return domain.ErrNotFound{Entity: domain.EntityMeasurement, ID: id}
	}
	delete(tx.state.measurements, id)
	tx.recordChange(Change{Entity: domain.EntityMeasurement, Action: domain.ActionDelete, Before: current.Clone()})
	return nil
}
