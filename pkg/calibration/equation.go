package calibration

import (
	"fmt"
	"math"
	"strings"
)

// interceptDisplayThreshold hides constant terms too small to matter on screen.
const interceptDisplayThreshold = 0.0005

// ModelEquation renders the fitted absorbance polynomial, highest power first,
// e.g. "Absorbance = 0.020 (Concentration)^2 + 0.150 (Concentration) + 0.001".
func ModelEquation(m *Model) string {
	if m == nil {
		return ""
	}
	var b strings.Builder
	b.WriteString("Absorbance =")
	first := true
	for i := len(m.Powers) - 1; i >= 0; i-- {
		p, c := m.Powers[i], m.Coefficients[i]
		if p == 0 && math.Abs(c) <= interceptDisplayThreshold {
			continue
		}
		var term string
		switch {
		case p > 1:
			term = fmt.Sprintf("(Concentration)^%d", p)
		case p == 1:
			term = "(Concentration)"
		}
		if first {
			fmt.Fprintf(&b, " %.3f", c)
			first = false
		} else {
			fmt.Fprintf(&b, " %s %.3f", signOf(c), math.Abs(c))
		}
		if term != "" {
			b.WriteString(" " + term)
		}
	}
	if first {
		b.WriteString(" 0")
	}
	return b.String()
}

// ConcentrationEquation renders the algebraic inverse of a linear or
// quadratic model. Other models render as an empty string.
func ConcentrationEquation(m *Model) string {
	if m == nil {
		return ""
	}
	switch {
	case standardPowers(m.Powers, 1):
		intercept, slope := m.Coefficients[0], m.Coefficients[1]
		den := fmt.Sprintf("%.3f", slope)
		if slope < 0 {
			den = "(" + den + ")"
		}
		if intercept == 0 {
			return fmt.Sprintf("Concentration = Absorbance / %s", den)
		}
		// subtracting the intercept flips its displayed sign
		sign := "-"
		if intercept < 0 {
			sign = "+"
		}
		return fmt.Sprintf("Concentration = (Absorbance %s %.3f) / %s", sign, math.Abs(intercept), den)
	case standardPowers(m.Powers, 2):
		c, b, a := m.Coefficients[0], m.Coefficients[1], m.Coefficients[2]
		inner := "-Absorbance"
		if c != 0 {
			inner = fmt.Sprintf("%.3f - Absorbance", c)
		}
		return fmt.Sprintf("Concentration = (-(%.3f) ± sqrt((%.3f)^2 - 4 (%.3f) (%s))) / (2 (%.3f))",
			b, b, a, inner, a)
	}
	return ""
}

func signOf(c float64) string {
	if c < 0 {
		return "-"
	}
	return "+"
}
