package calibration

import (
	"errors"
	"testing"
)

func TestCIExcludesZero(t *testing.T) {
	cases := []struct {
		low, high float64
		want      bool
	}{
		{-0.01, 0.02, false},
		{0.01, 0.02, true},
		{0, 0.02, false},
		{-0.02, -0.01, true},
		{-0.02, 0, false},
	}
	for _, tc := range cases {
		if got := CIExcludesZero(tc.low, tc.high); got != tc.want {
			t.Fatalf("CIExcludesZero(%v, %v) = %v, want %v", tc.low, tc.high, got, tc.want)
		}
	}
}

func engineFor(t *testing.T, fixture string) *Engine {
	t.Helper()
	store := NewSampleStore()
	store.Replace(mustFixture(t, fixture))
	return NewEngine(store)
}

func TestDegreeTestsReplaceCurrentModel(t *testing.T) {
	e := engineFor(t, "quadratic-no-intercept")
	sig, err := e.SignificantCubic()
	if err != nil || sig {
		t.Fatalf("cubic: %v %v", sig, err)
	}
	if got := len(e.Current().Powers); got != 4 {
		t.Fatalf("expected cubic model current, got %d terms", got)
	}
	sig, err = e.SignificantQuadratic()
	if err != nil || !sig {
		t.Fatalf("quadratic: %v %v", sig, err)
	}
	if got := len(e.Current().Powers); got != 3 {
		t.Fatalf("expected quadratic model current, got %d terms", got)
	}
	sig, err = e.SignificantLinear()
	if err != nil || !sig {
		t.Fatalf("linear: %v %v", sig, err)
	}
	if got := len(e.Current().Powers); got != 2 {
		t.Fatalf("expected linear model current, got %d terms", got)
	}
}

func TestSignificantInterceptZeroesInsignificantTerm(t *testing.T) {
	e := engineFor(t, "linear-no-intercept")
	if _, err := e.SignificantLinear(); err != nil {
		t.Fatalf("linear: %v", err)
	}
	before := e.Current().Coefficients[0]
	if before == 0 {
		t.Fatalf("expected a nonzero fitted intercept")
	}
	sig, err := e.SignificantIntercept()
	if err != nil {
		t.Fatalf("intercept: %v", err)
	}
	if sig {
		t.Fatalf("intercept should not be significant")
	}
	if got := e.Current().Coefficients[0]; got != 0 {
		t.Fatalf("intercept not zeroed: %v", got)
	}

	e = engineFor(t, "linear-intercept")
	if _, err := e.SignificantLinear(); err != nil {
		t.Fatalf("linear: %v", err)
	}
	sig, err = e.SignificantIntercept()
	if err != nil || !sig {
		t.Fatalf("expected significant intercept: %v %v", sig, err)
	}
	if e.Current().Coefficients[0] == 0 {
		t.Fatalf("significant intercept must be kept")
	}
}

func TestSignificantInterceptWithoutModel(t *testing.T) {
	e := NewEngine(nil)
	if _, err := e.SignificantIntercept(); !errors.Is(err, ErrNoModel) {
		t.Fatalf("expected ErrNoModel, got %v", err)
	}
	if _, err := e.Invert(0.1); !errors.Is(err, ErrNoModel) {
		t.Fatalf("expected ErrNoModel from Invert, got %v", err)
	}
}

func TestDecideFixtures(t *testing.T) {
	cases := []struct {
		fixture   string
		target    Shape
		outcome   Outcome
		finding   Finding
		intercept bool
		terms     int
	}{
		{"cubic", ShapeQuadratic, OutcomeRecalibrate, FindingCubicTrend, false, 4},
		{"cubic", ShapeLinear, OutcomeConfirm, FindingLinearTrend, false, 2},
		{"quadratic-no-intercept", ShapeQuadratic, OutcomeConfirm, FindingQuadraticTrend, false, 3},
		{"quadratic-no-intercept", ShapeLinear, OutcomeRecalibrate, FindingHigherOrderTrend, false, 3},
		{"quadratic-intercept", ShapeQuadratic, OutcomeConfirm, FindingQuadraticTrend, true, 3},
		{"quadratic-intercept", ShapeLinear, OutcomeRecalibrate, FindingHigherOrderTrend, false, 3},
		{"linear-no-intercept", ShapeLinear, OutcomeConfirm, FindingLinearTrend, false, 2},
		{"linear-no-intercept", ShapeQuadratic, OutcomeConfirm, FindingLinearTrend, false, 2},
		{"linear-intercept", ShapeLinear, OutcomeConfirm, FindingLinearTrend, true, 2},
		{"linear-intercept", ShapeQuadratic, OutcomeConfirm, FindingLinearTrend, true, 2},
		{"no-trend", ShapeLinear, OutcomeRecalibrate, FindingNoTrend, false, 2},
		{"no-trend", ShapeQuadratic, OutcomeRecalibrate, FindingNoTrend, false, 2},
	}
	for _, tc := range cases {
		t.Run(tc.fixture+"/"+string(tc.target), func(t *testing.T) {
			d, err := engineFor(t, tc.fixture).Decide(tc.target)
			if err != nil {
				t.Fatalf("decide: %v", err)
			}
			if d.Outcome != tc.outcome || d.Finding != tc.finding {
				t.Fatalf("got %s/%s want %s/%s", d.Outcome, d.Finding, tc.outcome, tc.finding)
			}
			if d.InterceptSignificant != tc.intercept {
				t.Fatalf("intercept significant = %v", d.InterceptSignificant)
			}
			if d.Model == nil || len(d.Model.Powers) != tc.terms {
				t.Fatalf("unexpected model %+v", d.Model)
			}
			if d.Usable() != (tc.outcome == OutcomeConfirm) {
				t.Fatalf("usable mismatch")
			}
			if d.Message == "" {
				t.Fatalf("missing message")
			}
			if d.Usable() && !d.InterceptSignificant && d.Model.Coefficients[0] != 0 {
				t.Fatalf("insignificant intercept not zeroed on accepted model")
			}
		})
	}
}

func TestDecideQuadraticTrendWithLinearTargetNeverAccepts(t *testing.T) {
	var samples []Sample
	for i := 0; i <= 6; i++ {
		x := float64(i)
		noise := []float64{0.002, -0.003, 0.001, 0.002, -0.002, -0.001, 0.001}[i]
		samples = append(samples, Sample{Concentration: x, Absorbance: 0.05*x + 0.03*x*x + noise})
	}
	store := NewSampleStore()
	store.Replace(samples)
	d, err := NewEngine(store).Decide(ShapeLinear)
	if err != nil {
		t.Fatalf("decide: %v", err)
	}
	if d.Outcome != OutcomeRecalibrate {
		t.Fatalf("expected recalibrate, got %s (%s)", d.Outcome, d.Finding)
	}
}

func TestDecidePropagatesFitErrors(t *testing.T) {
	store := NewSampleStore()
	store.Add(0, 900, 0)
	store.Add(1, 700, 0.1)
	store.Add(2, 500, 0.25)
	if _, err := NewEngine(store).Decide(ShapeQuadratic); !errors.Is(err, ErrInsufficientSamples) {
		t.Fatalf("expected ErrInsufficientSamples, got %v", err)
	}
	if _, err := NewEngine(store).Decide(Shape("cubic")); err == nil {
		t.Fatalf("expected unknown shape error")
	}
}

func TestParseShape(t *testing.T) {
	if s, err := ParseShape(" Quadratic "); err != nil || s != ShapeQuadratic {
		t.Fatalf("parse quadratic: %v %v", s, err)
	}
	if _, err := ParseShape("cubic"); err == nil {
		t.Fatalf("expected error")
	}
	if ShapeLinear.MinimumStandards() != 4 || ShapeQuadratic.MinimumStandards() != 5 {
		t.Fatalf("unexpected minimum standards")
	}
}
