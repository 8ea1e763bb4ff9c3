package core

import "spectrocal/pkg/domain"

// NewRulesEngine constructs an engine instance.
func NewRulesEngine() *RulesEngine {
	return domain.NewRulesEngine()
}

// NewDefaultRulesEngine builds a rules engine with the built-in policy set.
func NewDefaultRulesEngine() *RulesEngine {
	engine := NewRulesEngine()
	engine.Register(NewMinimumStandardsRule())
	engine.Register(NewBlankReferenceRule())
	engine.Register(NewMeasurementSessionRule())
	return engine
}
