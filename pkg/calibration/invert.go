package calibration

import (
	"fmt"
	"math"
)

// slopeEpsilon is the smallest slope magnitude inverted directly, and the
// relative size below which a quadratic term is dropped.
const slopeEpsilon = 1e-12

// Root identifies which quadratic root an estimate came from.
type Root string

const (
	RootLinear Root = "linear"
	RootPlus   Root = "plus"  // (−b + √D) / 2a
	RootMinus  Root = "minus" // (−b − √D) / 2a
)

// Estimate is a concentration recovered from an absorbance reading.
type Estimate struct {
	Concentration float64 `json:"concentration"`
	// InRange is false when the returned root lies outside the calibration
	// range; the value is still the documented fallback root.
	InRange bool `json:"in_range"`
	Root    Root `json:"root"`
}

// Invert solves the fitted model for the concentration that produces
// absorbance. Linear models ([0,1]) are solved directly; quadratic models
// ([0,1,2]) pick the root inside rng, preferring the +√D root when both or
// neither qualify. A quadratic is solved as linear when |a|·x at the largest
// concentration in rng is below slopeEpsilon·|b|.
func Invert(absorbance float64, m *Model, rng Range) (Estimate, error) {
	if m == nil {
		return Estimate{}, ErrNoModel
	}
	switch {
	case standardPowers(m.Powers, 1):
		return invertLinear(absorbance, m.Coefficients[0], m.Coefficients[1], rng)
	case standardPowers(m.Powers, 2):
		c, b, a := m.Coefficients[0], m.Coefficients[1], m.Coefficients[2]
		if negligibleQuadratic(a, b, rng) {
			return invertLinear(absorbance, c, b, rng)
		}
		disc := b*b - 4*a*(c-absorbance)
		if disc < 0 {
			return Estimate{}, fmt.Errorf("%w: discriminant %g", ErrNoSolution, disc)
		}
		sq := math.Sqrt(disc)
		x1 := (-b + sq) / (2 * a)
		x2 := (-b - sq) / (2 * a)
		in1, in2 := rng.Contains(x1), rng.Contains(x2)
		if in2 && !in1 {
			return Estimate{Concentration: x2, InRange: true, Root: RootMinus}, nil
		}
		return Estimate{Concentration: x1, InRange: in1, Root: RootPlus}, nil
	default:
		return Estimate{}, fmt.Errorf("%w: powers %v", ErrUnsupportedModelDegree, m.Powers)
	}
}

func negligibleQuadratic(a, b float64, rng Range) bool {
	if a == 0 {
		return true
	}
	scale := math.Max(math.Abs(rng.Min), math.Abs(rng.Max))
	return math.Abs(a)*scale < slopeEpsilon*math.Abs(b)
}

func invertLinear(absorbance, intercept, slope float64, rng Range) (Estimate, error) {
	if math.Abs(slope) < slopeEpsilon {
		return Estimate{}, fmt.Errorf("%w: slope %g", ErrDegenerateModel, slope)
	}
	x := (absorbance - intercept) / slope
	return Estimate{Concentration: x, InRange: rng.Contains(x), Root: RootLinear}, nil
}

// standardPowers reports whether powers is exactly [0, 1, ..., degree].
func standardPowers(powers []int, degree int) bool {
	if len(powers) != degree+1 {
		return false
	}
	for i, p := range powers {
		if p != i {
			return false
		}
	}
	return true
}
