package calibration

import (
	"fmt"
	"strings"
)

// Shape is the calibration curve the operator asked for.
type Shape string

const (
	ShapeLinear    Shape = "linear"
	ShapeQuadratic Shape = "quadratic"
)

// ParseShape accepts "linear" or "quadratic", case-insensitively.
func ParseShape(s string) (Shape, error) {
	switch Shape(strings.ToLower(strings.TrimSpace(s))) {
	case ShapeLinear:
		return ShapeLinear, nil
	case ShapeQuadratic:
		return ShapeQuadratic, nil
	default:
		return "", fmt.Errorf("unknown calibration shape %q", s)
	}
}

// MinimumStandards is the smallest sample count, blank included, the
// operator should record before evaluating a calibration of this shape.
func (s Shape) MinimumStandards() int {
	if s == ShapeQuadratic {
		return 5
	}
	return 4
}

// Outcome classifies the result of the decision procedure.
type Outcome string

const (
	OutcomeRecalibrate Outcome = "recalibrate-required"
	OutcomeConfirm     Outcome = "confirm-use-or-recalibrate"
)

// Finding names the branch of the decision tree that produced an outcome.
type Finding string

const (
	FindingCubicTrend       Finding = "cubic-trend"
	FindingHigherOrderTrend Finding = "higher-order-trend"
	FindingQuadraticTrend   Finding = "quadratic-trend"
	FindingLinearTrend      Finding = "linear-trend"
	FindingNoTrend          Finding = "no-trend"
)

// Decision is the classified result of evaluating a calibration.
type Decision struct {
	Target               Shape   `json:"target"`
	Outcome              Outcome `json:"outcome"`
	Finding              Finding `json:"finding"`
	InterceptSignificant bool    `json:"intercept_significant"`
	// Model is the last model fit by the procedure. For confirm outcomes it is
	// the model to use, with its intercept zeroed when not significant.
	Model   *Model `json:"model,omitempty"`
	Message string `json:"message"`
}

// Usable reports whether the operator may accept the calibration.
func (d Decision) Usable() bool {
	return d.Outcome == OutcomeConfirm
}

func decisionMessage(target Shape, finding Finding, intercept bool) string {
	switch finding {
	case FindingCubicTrend:
		return "Your calibration equation has a significant cubic trend."
	case FindingHigherOrderTrend:
		return "Your calibration equation has a significant quadratic trend."
	case FindingNoTrend:
		if target == ShapeLinear {
			return "Your calibration equation does not have a significant linear trend."
		}
		return "Your calibration equation does not have a significant trend."
	case FindingQuadraticTrend:
		if intercept {
			return "Your calibration equation does not go through the origin (0,0); more specifically, " +
				"it has a statistically significant y-intercept at the 95% confidence level."
		}
		return "Your calibration equation has a significant quadratic trend and the y-intercept is zero."
	case FindingLinearTrend:
		if target == ShapeQuadratic {
			if intercept {
				return "Your calibration equation is linear and does not go through the origin (0,0). " +
					"It has no statistically significant quadratic trend at the 95% confidence level, " +
					"but it has significant linear and y-intercept terms."
			}
			return "Your calibration equation is linear, not quadratic. It has no statistically significant " +
				"quadratic trend at the 95% confidence level, but it has a significant linear trend."
		}
		if intercept {
			return "Your calibration equation does not go through the origin (0,0); more specifically, " +
				"it has a statistically significant y-intercept at the 95% confidence level."
		}
		return "Your calibration equation has a significant linear trend and the y-intercept is zero."
	}
	return ""
}
