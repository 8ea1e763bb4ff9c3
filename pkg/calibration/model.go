package calibration

import (
	"encoding/json"
	"math"
)

// Model is the immutable record produced by one fit. All per-coefficient
// slices share the order and length of Powers.
type Model struct {
	Powers           []int
	Coefficients     []float64
	StdErr           []float64
	TStat            []float64
	PValue           []float64
	CILow            []float64
	CIHigh           []float64
	RSquared         float64
	RSquaredAdjusted float64
	N                int
}

// DegreesOfFreedom returns n − p.
func (m *Model) DegreesOfFreedom() int {
	return m.N - len(m.Powers)
}

// Degree returns the highest power in the model.
func (m *Model) Degree() int {
	d := 0
	for _, p := range m.Powers {
		if p > d {
			d = p
		}
	}
	return d
}

// Predict evaluates the fitted polynomial at concentration x.
func (m *Model) Predict(x float64) float64 {
	var y float64
	for i, p := range m.Powers {
		y += m.Coefficients[i] * math.Pow(x, float64(p))
	}
	return y
}

// Significant reports whether the 95% confidence interval of coefficient i
// excludes zero. Out-of-range indices are never significant.
func (m *Model) Significant(i int) bool {
	if i < 0 || i >= len(m.CILow) {
		return false
	}
	return CIExcludesZero(m.CILow[i], m.CIHigh[i])
}

// index returns the position of power p, or -1.
func (m *Model) index(p int) int {
	for i, q := range m.Powers {
		if q == p {
			return i
		}
	}
	return -1
}

// zeroIntercept forces the power-0 coefficient to zero in place. This is the
// one mutation a model allows after its fit.
func (m *Model) zeroIntercept() {
	if i := m.index(0); i >= 0 {
		m.Coefficients[i] = 0
	}
}

// Clone returns a deep copy.
func (m *Model) Clone() *Model {
	if m == nil {
		return nil
	}
	cp := *m
	cp.Powers = append([]int(nil), m.Powers...)
	cp.Coefficients = cloneFloats(m.Coefficients)
	cp.StdErr = cloneFloats(m.StdErr)
	cp.TStat = cloneFloats(m.TStat)
	cp.PValue = cloneFloats(m.PValue)
	cp.CILow = cloneFloats(m.CILow)
	cp.CIHigh = cloneFloats(m.CIHigh)
	return &cp
}

func cloneFloats(in []float64) []float64 {
	if in == nil {
		return nil
	}
	out := make([]float64, len(in))
	copy(out, in)
	return out
}

// modelJSON is the wire shape; NaN and ±Inf travel as null.
type modelJSON struct {
	Powers           []int      `json:"powers"`
	Coefficients     []*float64 `json:"coefficients"`
	StdErr           []*float64 `json:"std_err"`
	TStat            []*float64 `json:"t_statistic"`
	PValue           []*float64 `json:"p_value"`
	CILow            []*float64 `json:"ci_low"`
	CIHigh           []*float64 `json:"ci_high"`
	RSquared         *float64   `json:"r_squared"`
	RSquaredAdjusted *float64   `json:"r_squared_adjusted"`
	N                int        `json:"n"`
}

// MarshalJSON encodes non-finite statistics as null.
func (m Model) MarshalJSON() ([]byte, error) {
	return json.Marshal(modelJSON{
		Powers:           m.Powers,
		Coefficients:     toNullable(m.Coefficients),
		StdErr:           toNullable(m.StdErr),
		TStat:            toNullable(m.TStat),
		PValue:           toNullable(m.PValue),
		CILow:            toNullable(m.CILow),
		CIHigh:           toNullable(m.CIHigh),
		RSquared:         nullable(m.RSquared),
		RSquaredAdjusted: nullable(m.RSquaredAdjusted),
		N:                m.N,
	})
}

// UnmarshalJSON restores null statistics as NaN.
func (m *Model) UnmarshalJSON(data []byte) error {
	var aux modelJSON
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	*m = Model{
		Powers:           aux.Powers,
		Coefficients:     fromNullable(aux.Coefficients),
		StdErr:           fromNullable(aux.StdErr),
		TStat:            fromNullable(aux.TStat),
		PValue:           fromNullable(aux.PValue),
		CILow:            fromNullable(aux.CILow),
		CIHigh:           fromNullable(aux.CIHigh),
		RSquared:         deref(aux.RSquared),
		RSquaredAdjusted: deref(aux.RSquaredAdjusted),
		N:                aux.N,
	}
	return nil
}

func nullable(v float64) *float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}

func deref(v *float64) float64 {
	if v == nil {
		return math.NaN()
	}
	return *v
}

func toNullable(in []float64) []*float64 {
	if in == nil {
		return nil
	}
	out := make([]*float64, len(in))
	for i, v := range in {
		out[i] = nullable(v)
	}
	return out
}

func fromNullable(in []*float64) []float64 {
	if in == nil {
		return nil
	}
	out := make([]float64, len(in))
	for i, v := range in {
		out[i] = deref(v)
	}
	return out
}
