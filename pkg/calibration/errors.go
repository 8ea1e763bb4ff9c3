package calibration

import "errors"

var (
	// ErrDegenerateModel reports a singular or near-singular design, duplicate
	// powers, or a slope too close to zero to invert.
	ErrDegenerateModel = errors.New("calibration: degenerate model")
	// ErrInsufficientSamples reports fewer samples than model parameters.
	ErrInsufficientSamples = errors.New("calibration: insufficient samples")
	// ErrNoSolution reports a negative discriminant during quadratic inversion.
	ErrNoSolution = errors.New("calibration: no real solution")
	// ErrUnsupportedModelDegree reports an inversion attempt on a model that is
	// neither linear nor quadratic.
	ErrUnsupportedModelDegree = errors.New("calibration: unsupported model degree")
	// ErrNoModel is returned by engine helpers that need a fitted model.
	ErrNoModel = errors.New("calibration: no model fitted")
)
