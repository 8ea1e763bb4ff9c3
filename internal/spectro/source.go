package spectro

import (
	"context"
	"fmt"
	"time"
)

// Acquisition defaults: each recorded value is the mean of this many reads
// with DefaultDelay before each one.
const (
	DefaultSamples = 32
	DefaultDelay   = 20 * time.Millisecond
)

// Source produces raw signal values from the light sensor.
type Source interface {
	ReadSingle(ctx context.Context) (float64, error)
}

// SimulationReporter is implemented by sources that may substitute simulated
// values for real readings.
type SimulationReporter interface {
	Simulated() bool
}

// IsSimulated reports whether src's most recent reading was simulated.
func IsSimulated(src Source) bool {
	if r, ok := src.(SimulationReporter); ok {
		return r.Simulated()
	}
	return false
}

// ReadAveraged returns the mean of n reads from src, waiting delay before
// each read. It stops early when ctx is cancelled.
func ReadAveraged(ctx context.Context, src Source, n int, delay time.Duration) (float64, error) {
	if n <= 0 {
		return 0, fmt.Errorf("spectro: sample count must be positive, got %d", n)
	}
	var timer *time.Timer
	if delay > 0 {
		timer = time.NewTimer(delay)
		defer timer.Stop()
	}
	var sum float64
	for i := 0; i < n; i++ {
		if timer != nil {
			if i > 0 {
				timer.Reset(delay)
			}
			select {
			case <-ctx.Done():
				return 0, ctx.Err()
			case <-timer.C:
			}
		} else if err := ctx.Err(); err != nil {
			return 0, err
		}
		v, err := src.ReadSingle(ctx)
		if err != nil {
			return 0, fmt.Errorf("spectro: read %d of %d: %w", i+1, n, err)
		}
		sum += v
	}
	return sum / float64(n), nil
}
