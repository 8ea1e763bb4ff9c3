package core

import (
	"context"
	"fmt"

	"spectrocal/pkg/domain"
)

// NewMinimumStandardsRule blocks accepting a session with fewer standards,
// blank included, than its target shape needs.
func NewMinimumStandardsRule() domain.Rule {
	return minimumStandardsRule{}
}

type minimumStandardsRule struct{}

func (minimumStandardsRule) Name() string { return "minimum_standards" }

func (minimumStandardsRule) Evaluate(_ context.Context, view domain.TransactionView, _ []domain.Change) (domain.Result, error) {
	res := domain.Result{}
	for _, session := range view.ListSessions() {
		if session.Status != domain.SessionAccepted {
			continue
		}
		need := session.Target.MinimumStandards()
		if len(session.Samples) < need {
			res.Violations = append(res.Violations, domain.Violation{
				Rule:     "minimum_standards",
				Severity: domain.SeverityBlock,
				Message:  fmt.Sprintf("%s calibration %s has %d standards, needs at least %d", session.Target, session.ID, len(session.Samples), need),
				Entity:   domain.EntitySession,
				EntityID: session.ID,
			})
		}
	}
	return res, nil
}
