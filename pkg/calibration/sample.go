package calibration

import (
	"fmt"
	"sync"

	"gonum.org/v1/gonum/mat"
)

// Sample is one calibration observation.
type Sample struct {
	Concentration float64 `json:"concentration"`
	Signal        float64 `json:"signal"`
	Absorbance    float64 `json:"absorbance"`
}

// Range is a closed concentration interval.
type Range struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

// Contains reports whether x lies within [Min, Max].
func (r Range) Contains(x float64) bool {
	return r.Min <= x && x <= r.Max
}

// SampleStore is an ordered, growable collection of calibration samples.
// Index 0 conventionally holds the blank.
type SampleStore struct {
	mu      sync.RWMutex
	samples []Sample
}

// NewSampleStore returns an empty store.
func NewSampleStore() *SampleStore {
	return &SampleStore{}
}

// Clear empties the store.
func (s *SampleStore) Clear() {
	s.mu.Lock()
	s.samples = nil
	s.mu.Unlock()
}

// Add appends a sample. Duplicate concentrations are permitted.
func (s *SampleStore) Add(concentration, signal, absorbance float64) {
	s.mu.Lock()
	s.samples = append(s.samples, Sample{Concentration: concentration, Signal: signal, Absorbance: absorbance})
	s.mu.Unlock()
}

// Replace swaps the stored samples for a copy of samples.
func (s *SampleStore) Replace(samples []Sample) {
	cp := make([]Sample, len(samples))
	copy(cp, samples)
	s.mu.Lock()
	s.samples = cp
	s.mu.Unlock()
}

// Set overwrites the sample at index i.
func (s *SampleStore) Set(i int, sample Sample) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i < 0 || i >= len(s.samples) {
		return fmt.Errorf("sample index %d out of range [0,%d)", i, len(s.samples))
	}
	s.samples[i] = sample
	return nil
}

// At returns the sample at index i.
func (s *SampleStore) At(i int) (Sample, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if i < 0 || i >= len(s.samples) {
		return Sample{}, false
	}
	return s.samples[i], true
}

// Count returns the number of stored samples.
func (s *SampleStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.samples)
}

// Samples returns a copy of the samples in insertion order.
func (s *SampleStore) Samples() []Sample {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Sample, len(s.samples))
	copy(out, s.samples)
	return out
}

// AsMatrix returns the samples as an n×3 matrix with columns concentration,
// signal and absorbance. An empty store yields nil.
func (s *SampleStore) AsMatrix() *mat.Dense {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.samples) == 0 {
		return nil
	}
	m := mat.NewDense(len(s.samples), 3, nil)
	for i, smp := range s.samples {
		m.Set(i, 0, smp.Concentration)
		m.Set(i, 1, smp.Signal)
		m.Set(i, 2, smp.Absorbance)
	}
	return m
}

// ConcentrationRange returns the span of the stored concentrations.
func (s *SampleStore) ConcentrationRange() (Range, error) {
	return ConcentrationRange(s.Samples())
}

// ConcentrationRange returns the span of the concentrations in samples.
func ConcentrationRange(samples []Sample) (Range, error) {
	if len(samples) == 0 {
		return Range{}, ErrInsufficientSamples
	}
	r := Range{Min: samples[0].Concentration, Max: samples[0].Concentration}
	for _, smp := range samples[1:] {
		if smp.Concentration < r.Min {
			r.Min = smp.Concentration
		}
		if smp.Concentration > r.Max {
			r.Max = smp.Concentration
		}
	}
	return r, nil
}
