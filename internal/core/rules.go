package core

import (
	"compliancecore/internal/lifecycle"
	"compliancecore/pkg/domain"
)

// NewRulesEngine constructs an engine instance with no rules.
func NewRulesEngine() *RulesEngine {
	return domain.NewRulesEngine()
}

// NewDefaultRulesEngine builds a rules engine with the lifecycle policy set:
// submitted inspections are frozen, submissions must be complete, dispatched
// samples stay in custody, and high-risk failures without remarks warn.
func NewDefaultRulesEngine() *RulesEngine {
	engine := NewRulesEngine()
	for _, rule := range lifecycle.Rules() {
		engine.Register(rule)
	}
	return engine
}
