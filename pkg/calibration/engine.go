package calibration

import (
	"fmt"
	"sync"
)

var (
	linearPowers    = []int{0, 1}
	quadraticPowers = []int{0, 1, 2}
	cubicPowers     = []int{0, 1, 2, 3}
)

// Engine fits models against a SampleStore and remembers the most recent fit
// as its current model. Every significance test refits and so replaces the
// current model; callers that need a particular degree must fit it last.
type Engine struct {
	mu      sync.Mutex
	samples *SampleStore
	current *Model
}

// NewEngine returns an engine reading from samples.
func NewEngine(samples *SampleStore) *Engine {
	if samples == nil {
		samples = NewSampleStore()
	}
	return &Engine{samples: samples}
}

// Samples returns the backing store.
func (e *Engine) Samples() *SampleStore { return e.samples }

// Current returns the most recent model, or nil.
func (e *Engine) Current() *Model {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.current
}

// Reset forgets the current model.
func (e *Engine) Reset() {
	e.mu.Lock()
	e.current = nil
	e.mu.Unlock()
}

// Fit fits powers against the stored samples and makes the result current.
func (e *Engine) Fit(powers []int) (*Model, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.fitLocked(powers)
}

func (e *Engine) fitLocked(powers []int) (*Model, error) {
	m, err := Fit(e.samples.Samples(), powers)
	if err != nil {
		return nil, err
	}
	e.current = m
	return m, nil
}

func (e *Engine) significantTerm(powers []int) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	m, err := e.fitLocked(powers)
	if err != nil {
		return false, err
	}
	return m.Significant(len(powers) - 1), nil
}

// SignificantLinear fits [0,1] and tests the slope.
func (e *Engine) SignificantLinear() (bool, error) { return e.significantTerm(linearPowers) }

// SignificantQuadratic fits [0,1,2] and tests the quadratic term.
func (e *Engine) SignificantQuadratic() (bool, error) { return e.significantTerm(quadraticPowers) }

// SignificantCubic fits [0,1,2,3] and tests the cubic term.
func (e *Engine) SignificantCubic() (bool, error) { return e.significantTerm(cubicPowers) }

// SignificantIntercept tests the intercept of the current model. When the
// intercept is not significant it is set to zero on that model in place.
func (e *Engine) SignificantIntercept() (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.current == nil {
		return false, ErrNoModel
	}
	idx := e.current.index(0)
	if idx < 0 {
		return false, fmt.Errorf("%w: current model has no intercept term", ErrUnsupportedModelDegree)
	}
	sig := e.current.Significant(idx)
	if !sig {
		e.current.zeroIntercept()
	}
	return sig, nil
}

// Decide runs the degree and intercept tests in the order required for
// target, always checking higher degrees before accepting a lower one.
func (e *Engine) Decide(target Shape) (Decision, error) {
	d := Decision{Target: target}
	var err error
	switch target {
	case ShapeQuadratic:
		d, err = e.decideQuadratic(d)
	case ShapeLinear:
		d, err = e.decideLinear(d)
	default:
		return Decision{}, fmt.Errorf("unknown calibration shape %q", target)
	}
	if err != nil {
		return Decision{}, err
	}
	d.Model = e.Current()
	d.Message = decisionMessage(target, d.Finding, d.InterceptSignificant)
	return d, nil
}

func (e *Engine) decideQuadratic(d Decision) (Decision, error) {
	cubic, err := e.SignificantCubic()
	if err != nil {
		return d, err
	}
	if cubic {
		d.Outcome, d.Finding = OutcomeRecalibrate, FindingCubicTrend
		return d, nil
	}
	quad, err := e.SignificantQuadratic()
	if err != nil {
		return d, err
	}
	if quad {
		return e.confirm(d, FindingQuadraticTrend)
	}
	return e.decideLinearTail(d)
}

func (e *Engine) decideLinear(d Decision) (Decision, error) {
	quad, err := e.SignificantQuadratic()
	if err != nil {
		return d, err
	}
	if quad {
		d.Outcome, d.Finding = OutcomeRecalibrate, FindingHigherOrderTrend
		return d, nil
	}
	return e.decideLinearTail(d)
}

func (e *Engine) decideLinearTail(d Decision) (Decision, error) {
	lin, err := e.SignificantLinear()
	if err != nil {
		return d, err
	}
	if lin {
		return e.confirm(d, FindingLinearTrend)
	}
	d.Outcome, d.Finding = OutcomeRecalibrate, FindingNoTrend
	return d, nil
}

func (e *Engine) confirm(d Decision, finding Finding) (Decision, error) {
	intercept, err := e.SignificantIntercept()
	if err != nil {
		return d, err
	}
	d.Outcome, d.Finding, d.InterceptSignificant = OutcomeConfirm, finding, intercept
	return d, nil
}

// Invert converts absorbance with the current model over the stored
// samples' concentration range.
func (e *Engine) Invert(absorbance float64) (Estimate, error) {
	m := e.Current()
	if m == nil {
		return Estimate{}, ErrNoModel
	}
	rng, err := e.samples.ConcentrationRange()
	if err != nil {
		return Estimate{}, err
	}
	return Invert(absorbance, m, rng)
}
