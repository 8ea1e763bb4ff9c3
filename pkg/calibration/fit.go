package calibration

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"
)

// ConfidenceLevel is the two-sided level used for coefficient intervals.
const ConfidenceLevel = 0.95

// Fit solves the ordinary least-squares problem ||X·W − absorbance||²
// where column j of X is concentration^powers[j].
//
// The solve goes through an SVD pseudo-inverse. When the sample count equals
// the parameter count the coefficients are returned but every
// standard-error-derived statistic, and the adjusted R², is NaN.
func Fit(samples []Sample, powers []int) (*Model, error) {
	if err := validatePowers(powers); err != nil {
		return nil, err
	}
	n, p := len(samples), len(powers)
	if n < p {
		return nil, fmt.Errorf("%w: %d samples for %d parameters", ErrInsufficientSamples, n, p)
	}

	x := designMatrix(samples, powers)
	t := mat.NewVecDense(n, nil)
	for i, s := range samples {
		t.SetVec(i, s.Absorbance)
	}

	var svd mat.SVD
	if ok := svd.Factorize(x, mat.SVDThin); !ok {
		return nil, fmt.Errorf("%w: singular value decomposition failed", ErrDegenerateModel)
	}
	rcond := float64(max(n, p)) * epsilon
	if rank := svd.Rank(rcond); rank < p {
		return nil, fmt.Errorf("%w: design matrix rank %d below %d parameters", ErrDegenerateModel, rank, p)
	}
	var u, v mat.Dense
	svd.UTo(&u)
	svd.VTo(&v)
	sv := svd.Values(nil)

	// W = V·Σ⁻¹·Uᵀ·t
	var proj mat.VecDense
	proj.MulVec(u.T(), t)
	for i, s := range sv {
		proj.SetVec(i, proj.AtVec(i)/s)
	}
	var w mat.VecDense
	w.MulVec(&v, &proj)

	var fitted mat.VecDense
	fitted.MulVec(x, &w)

	var sse, mean, sst float64
	for i := 0; i < n; i++ {
		r := t.AtVec(i) - fitted.AtVec(i)
		sse += r * r
		mean += t.AtVec(i)
	}
	mean /= float64(n)
	for i := 0; i < n; i++ {
		d := t.AtVec(i) - mean
		sst += d * d
	}

	m := &Model{
		Powers:           append([]int(nil), powers...),
		Coefficients:     make([]float64, p),
		StdErr:           nanSlice(p),
		TStat:            nanSlice(p),
		PValue:           nanSlice(p),
		CILow:            nanSlice(p),
		CIHigh:           nanSlice(p),
		RSquared:         math.NaN(),
		RSquaredAdjusted: math.NaN(),
		N:                n,
	}
	for j := 0; j < p; j++ {
		m.Coefficients[j] = w.AtVec(j)
	}
	if sst > 0 {
		m.RSquared = 1 - sse/sst
	}

	dof := n - p
	if dof <= 0 {
		return m, nil
	}
	m.RSquaredAdjusted = 1 - (1-m.RSquared)*float64(n-1)/float64(dof)

	mse := sse / float64(dof)
	dist := distuv.StudentsT{Mu: 0, Sigma: 1, Nu: float64(dof)}
	tcrit := dist.Quantile(1 - (1-ConfidenceLevel)/2)
	for j := 0; j < p; j++ {
		// diag(pinv(XᵀX))_j = Σ_k V[j,k]² / s_k²
		var d float64
		for k, s := range sv {
			vjk := v.At(j, k)
			d += vjk * vjk / (s * s)
		}
		se := math.Sqrt(mse * d)
		coef := m.Coefficients[j]
		m.StdErr[j] = se
		m.TStat[j] = coef / se
		if !math.IsNaN(m.TStat[j]) {
			m.PValue[j] = 2 * dist.Survival(math.Abs(m.TStat[j]))
		}
		m.CILow[j] = coef - tcrit*se
		m.CIHigh[j] = coef + tcrit*se
	}
	return m, nil
}

// epsilon is float64 machine epsilon, the rank tolerance numpy's lstsq uses.
const epsilon = 2.220446049250313e-16

func validatePowers(powers []int) error {
	if len(powers) == 0 {
		return fmt.Errorf("%w: no powers requested", ErrDegenerateModel)
	}
	seen := make(map[int]struct{}, len(powers))
	for _, p := range powers {
		if p < 0 {
			return fmt.Errorf("%w: negative power %d", ErrDegenerateModel, p)
		}
		if _, dup := seen[p]; dup {
			return fmt.Errorf("%w: duplicate power %d", ErrDegenerateModel, p)
		}
		seen[p] = struct{}{}
	}
	return nil
}

// designMatrix raises each sample's concentration to each power, in order.
func designMatrix(samples []Sample, powers []int) *mat.Dense {
	x := mat.NewDense(len(samples), len(powers), nil)
	for i, s := range samples {
		for j, p := range powers {
			x.Set(i, j, math.Pow(s.Concentration, float64(p)))
		}
	}
	return x
}

func nanSlice(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = math.NaN()
	}
	return out
}

// CIExcludesZero reports whether the interval [low, high] lies strictly on one
// side of zero. An interval touching zero is not significant.
func CIExcludesZero(low, high float64) bool {
	return low*high > 0
}
