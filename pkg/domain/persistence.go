package domain

import "context"

// Transaction exposes the domain operations that a persistence implementation
// must support within an atomic scope.
type Transaction interface {
	Snapshot() TransactionView
	CreateSession(Session) (Session, error)
	UpdateSession(id string, mutator func(*Session) error) (Session, error)
	DeleteSession(id string) error
	CreateMeasurement(Measurement) (Measurement, error)
	DeleteMeasurement(id string) error
	FindSession(id string) (Session, bool)
}

// TransactionView provides read-only access to snapshot data for rules.
type TransactionView interface {
	ListSessions() []Session
	FindSession(id string) (Session, bool)
	ListMeasurements() []Measurement
	FindMeasurement(id string) (Measurement, bool)
}

// PersistentStore is a minimal abstraction over durable backends. It mirrors
// the subset of store capabilities used directly by higher layers.
type PersistentStore interface {
	RunInTransaction(ctx context.Context, fn func(Transaction) error) (Result, error)
	View(ctx context.Context, fn func(TransactionView) error) error
	GetSession(id string) (Session, bool)
	ListSessions() []Session
	// ListMeasurements returns the measurements taken with sessionID, or every
	// measurement when sessionID is empty.
	ListMeasurements(sessionID string) []Measurement
}
