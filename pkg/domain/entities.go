// Package domain defines the persistent calibration records, value types, and
// rule evaluation primitives used by spectrocal.
package domain

import (
	"fmt"
	"time"

	"spectrocal/pkg/calibration"
)

// EntityType identifies the type of record stored in the core domain.
type EntityType string

// Supported entity type identifiers used in Change records and persistence buckets.
const (
	// EntitySession identifies a calibration session record.
	EntitySession EntityType = "session"
	// EntityMeasurement identifies an unknown-sample measurement record.
	EntityMeasurement EntityType = "measurement"
)

// SessionStatus enumerates calibration session workflow states.
type SessionStatus string

// Session workflow states. Only accepted sessions may be used to measure.
const (
	SessionCollecting SessionStatus = "collecting"
	SessionEvaluated  SessionStatus = "evaluated"
	SessionAccepted   SessionStatus = "accepted"
	SessionSuperseded SessionStatus = "superseded"
)

// Severity captures rule outcomes.
type Severity string

// Rule evaluation severities determine commit behavior and logging.
const (
	// SeverityBlock blocks transaction commit.
	SeverityBlock Severity = "block"
	// SeverityWarn logs a warning but allows commit.
	SeverityWarn Severity = "warn"
	SeverityLog  Severity = "log"
)

// Base contains common fields for all domain records.
type Base struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Session is one calibration run: the standards collected against a target
// curve shape, the zero reference they were converted with, and the outcome
// of evaluating them.
type Session struct {
	Base
	Target        calibration.Shape     `json:"target"`
	Status        SessionStatus         `json:"status"`
	Samples       []calibration.Sample  `json:"samples"`
	ZeroReference *float64              `json:"zero_reference,omitempty"`
	Decision      *calibration.Decision `json:"decision,omitempty"`
	Model         *calibration.Model    `json:"model,omitempty"`
}

// Clone returns a deep copy of the session.
func (s Session) Clone() Session {
	cp := s
	cp.Samples = append([]calibration.Sample(nil), s.Samples...)
	if s.ZeroReference != nil {
		z := *s.ZeroReference
		cp.ZeroReference = &z
	}
	if s.Model != nil {
		cp.Model = s.Model.Clone()
	}
	if s.Decision != nil {
		d := *s.Decision
		if d.Model != nil {
			d.Model = d.Model.Clone()
		}
		cp.Decision = &d
	}
	return cp
}

// Measurement is the concentration estimated for one unknown sample. A
// failed inversion is kept with a nil Concentration and the failure in Error.
type Measurement struct {
	Base
	SessionID     string   `json:"session_id"`
	Label         string   `json:"label"`
	Signal        float64  `json:"signal"`
	Absorbance    float64  `json:"absorbance"`
	Concentration *float64 `json:"concentration,omitempty"`
	InRange       bool     `json:"in_range"`
	Simulated     bool     `json:"simulated,omitempty"`
	Error         string   `json:"error,omitempty"`
}

// Clone returns a deep copy of the measurement.
func (m Measurement) Clone() Measurement {
	cp := m
	if m.Concentration != nil {
		c := *m.Concentration
		cp.Concentration = &c
	}
	return cp
}

// Change describes a mutation applied to an entity during a transaction.
type Change struct {
	Entity EntityType
	Action Action
	Before any
	After  any
}

// Action indicates the type of modification performed.
type Action string

// Change actions enumerate supported CRUD operations captured in audit trail.
const (
	// ActionCreate indicates an entity was created.
	ActionCreate Action = "create"
	// ActionUpdate indicates an entity was updated.
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
)

// Violation reports a failed rule evaluation.
type Violation struct {
	Rule     string
	Severity Severity
	Message  string
	Entity   EntityType
	EntityID string
}

// Result aggregates violations from the rules engine.
type Result struct {
	Violations []Violation
}

// Merge appends violations from another result.
func (r *Result) Merge(other Result) {
	if len(other.Violations) == 0 {
		return
	}
	r.Violations = append(r.Violations, other.Violations...)
}

// HasBlocking returns true if the result contains blocking violations.
func (r Result) HasBlocking() bool {
	for _, v := range r.Violations {
		if v.Severity == SeverityBlock {
			return true
		}
	}
	return false
}

// Warnings returns the non-blocking violations.
func (r Result) Warnings() []Violation {
	var out []Violation
	for _, v := range r.Violations {
		if v.Severity != SeverityBlock {
			out = append(out, v)
		}
	}
	return out
}

// RuleViolationError is returned when blocking violations are present.
type RuleViolationError struct {
	Result Result
}

func (e RuleViolationError) Error() string {
	for _, v := range e.Result.Violations {
		if v.Severity == SeverityBlock && v.Message != "" {
			return "transaction blocked by rules: " + v.Message
		}
	}
	return "transaction blocked by rules"
}

// ErrNotFound is returned when a referenced record does not exist.
type ErrNotFound struct {
	Entity EntityType
	ID     string
}

func (e ErrNotFound) Error() string {
	return fmt.Sprintf("%s %s not found", e.Entity, e.ID)
}
