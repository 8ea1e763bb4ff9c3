package core

import (
	"context"
	"fmt"

	"spectrocal/pkg/domain"
)

// NewBlankReferenceRule warns when a changed session's first sample is not a
// zero-concentration blank.
func NewBlankReferenceRule() domain.Rule {
	return blankReferenceRule{}
}

type blankReferenceRule struct{}

func (blankReferenceRule) Name() string { return "blank_reference" }

func (blankReferenceRule) Evaluate(_ context.Context, view domain.TransactionView, changes []domain.Change) (domain.Result, error) {
	res := domain.Result{}
	for _, change := range changes {
		if change.Entity != domain.EntitySession || change.Action == domain.ActionDelete {
			continue
		}
		after, ok := change.After.(domain.Session)
		if !ok {
			continue
		}
		session, ok := view.FindSession(after.ID)
		if !ok || len(session.Samples) == 0 || session.Samples[0].Concentration == 0 {
			continue
		}
		res.Violations = append(res.Violations, domain.Violation{
			Rule:     "blank_reference",
			Severity: domain.SeverityWarn,
			Message:  fmt.Sprintf("session %s first standard has concentration %g, expected a blank", session.ID, session.Samples[0].Concentration),
			Entity:   domain.EntitySession,
			EntityID: session.ID,
		})
	}
	return res, nil
}
