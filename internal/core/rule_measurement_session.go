package core

import (
	"context"
	"fmt"

	"spectrocal/pkg/domain"
)

// NewMeasurementSessionRule blocks new measurements that do not reference an
// accepted calibration session.
func NewMeasurementSessionRule() domain.Rule {
	return measurementSessionRule{}
}

type measurementSessionRule struct{}

func (measurementSessionRule) Name() string { return "measurement_session" }

func (measurementSessionRule) Evaluate(_ context.Context, view domain.TransactionView, changes []domain.Change) (domain.Result, error) {
	res := domain.Result{}
	for _, change := range changes {
		if change.Entity != domain.EntityMeasurement || change.Action != domain.ActionCreate {
			continue
		}
		m, ok := change.After.(domain.Measurement)
		if !ok {
			continue
		}
		session, found := view.FindSession(m.SessionID)
		var msg string
		switch {
		case !found:
			msg = fmt.Sprintf("measurement %s references unknown session %s", m.ID, m.SessionID)
		case session.Status != domain.SessionAccepted:
			msg = fmt.Sprintf("measurement %s references session %s in state %s", m.ID, m.SessionID, session.Status)
		default:
			continue
		}
		res.Violations = append(res.Violations, domain.Violation{
			Rule:     "measurement_session",
			Severity: domain.SeverityBlock,
			Message:  msg,
			Entity:   domain.EntityMeasurement,
			EntityID: m.ID,
		})
	}
	return res, nil
}
