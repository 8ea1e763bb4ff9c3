package spectro

import (
	"context"
	"math/rand/v2"
	"sync"
	"time"

	"gonum.org/v1/gonum/stat/distuv"
)

// Simulated readings are drawn from a normal distribution centred on a
// mid-scale ADC count.
const (
	SimulatedMean   = 500
	SimulatedStdDev = 10
)

// Simulated is a Source producing normally distributed readings. It stands in
// for the sensor when no hardware is attached.
type Simulated struct {
	mu   sync.Mutex
	dist distuv.Normal
}

// NewSimulated returns a simulated source seeded from seed. A zero seed uses
// the current time.
func NewSimulated(seed uint64) *Simulated {
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	return &Simulated{dist: distuv.Normal{
		Mu:    SimulatedMean,
		Sigma: SimulatedStdDev,
		Src:   rand.NewPCG(seed, seed^0x9e3779b97f4a7c15),
	}}
}

// ReadSingle draws one reading.
func (s *Simulated) ReadSingle(ctx context.Context) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dist.Rand(), nil
}

// Simulated always reports true.
func (s *Simulated) Simulated() bool { return true }
