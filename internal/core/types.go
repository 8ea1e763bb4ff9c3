package core

import (
	"spectrocal/pkg/calibration"
	"spectrocal/pkg/domain"
)

type (
	EntityType         = domain.EntityType
	SessionStatus      = domain.SessionStatus
	Severity           = domain.Severity
	Base               = domain.Base
	Session            = domain.Session
	Measurement        = domain.Measurement
	Change             = domain.Change
	Action             = domain.Action
	Violation          = domain.Violation
	Result             = domain.Result
	RuleViolationError = domain.RuleViolationError
	Rule               = domain.Rule
	RulesEngine        = domain.RulesEngine

	Shape    = calibration.Shape
	Sample   = calibration.Sample
	Decision = calibration.Decision
	Model    = calibration.Model
)

const (
	EntitySession     = domain.EntitySession
	EntityMeasurement = domain.EntityMeasurement
)

const (
	SessionCollecting = domain.SessionCollecting
	SessionEvaluated  = domain.SessionEvaluated
	SessionAccepted   = domain.SessionAccepted
	SessionSuperseded = domain.SessionSuperseded
)

const (
	SeverityBlock = domain.SeverityBlock
	SeverityWarn  = domain.SeverityWarn
	SeverityLog   = domain.SeverityLog
)

const (
	ActionCreate = domain.ActionCreate
	ActionUpdate = domain.ActionUpdate
	ActionDelete = domain.ActionDelete
)
