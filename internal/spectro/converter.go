package spectro

import (
	"errors"
	"log/slog"
	"math"
	"sync"
)

var (
	// ErrNonPositiveRatio is returned when the reference/sample ratio has no
	// logarithm. The accompanying absorbance is 0.
	ErrNonPositiveRatio = errors.New("spectro: non-positive signal ratio")
	// ErrNoZeroReference is returned before the blank has been recorded.
	ErrNoZeroReference = errors.New("spectro: zero-concentration reference not set")
)

// Absorbance returns log10(zero/signal). When the ratio is not a positive
// finite number it returns 0 and ErrNonPositiveRatio.
func Absorbance(signal, zero float64) (float64, error) {
	ratio := zero / signal
	if signal == 0 || !(ratio > 0) || math.IsInf(ratio, 0) {
		return 0, ErrNonPositiveRatio
	}
	return math.Log10(ratio), nil
}

// Converter holds the zero-concentration reference signal and converts
// readings to absorbance against it.
type Converter struct {
	mu     sync.RWMutex
	zero   float64
	set    bool
	logger *slog.Logger
}

// NewConverter returns a converter with no reference recorded.
func NewConverter(logger *slog.Logger) *Converter {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Converter{logger: logger}
}

// SetZeroReference records the blank's signal.
func (c *Converter) SetZeroReference(signal float64) {
	c.mu.Lock()
	c.zero, c.set = signal, true
	c.mu.Unlock()
}

// ClearZeroReference forgets the recorded blank.
func (c *Converter) ClearZeroReference() {
	c.mu.Lock()
	c.zero, c.set = 0, false
	c.mu.Unlock()
}

// ZeroReference returns the recorded blank signal.
func (c *Converter) ZeroReference() (float64, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.zero, c.set
}

// Absorbance converts signal against the recorded reference. A
// non-positive ratio is logged and yields 0 with ErrNonPositiveRatio.
func (c *Converter) Absorbance(signal float64) (float64, error) {
	zero, ok := c.ZeroReference()
	if !ok {
		return 0, ErrNoZeroReference
	}
	a, err := Absorbance(signal, zero)
	if err != nil {
		c.logger.Warn("signal ratio is not positive, using absorbance 0", "zero", zero, "signal", signal)
	}
	return a, err
}
