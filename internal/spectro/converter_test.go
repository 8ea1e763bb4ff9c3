package spectro

import (
	"errors"
	"math"
	"testing"
)

func TestAbsorbance(t *testing.T) {
	cases := []struct {
		name    string
		signal  float64
		zero    float64
		want    float64
		wantErr bool
	}{
		{"equal", 500, 500, 0, false},
		{"tenth", 50, 500, 1, false},
		{"brighter", 1000, 100, -1, false},
		{"zero signal", 0, 500, 0, true},
		{"zero reference", 500, 0, 0, true},
		{"negative signal", -5, 500, 0, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Absorbance(tc.signal, tc.zero)
			if tc.wantErr {
				if !errors.Is(err, ErrNonPositiveRatio) {
					t.Fatalf("expected ErrNonPositiveRatio, got %v", err)
				}
			} else if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if math.Abs(got-tc.want) > 1e-12 {
				t.Fatalf("expected %v, got %v", tc.want, got)
			}
		})
	}
}

func TestConverterReference(t *testing.T) {
	c := NewConverter(nil)
	if _, err := c.Absorbance(100); !errors.Is(err, ErrNoZeroReference) {
		t.Fatalf("expected ErrNoZeroReference, got %v", err)
	}
	c.SetZeroReference(800)
	if z, ok := c.ZeroReference(); !ok || z != 800 {
		t.Fatalf("unexpected reference %v %v", z, ok)
	}
	a, err := c.Absorbance(80)
	if err != nil || math.Abs(a-1) > 1e-12 {
		t.Fatalf("expected absorbance 1, got %v %v", a, err)
	}
	a, err = c.Absorbance(0)
	if !errors.Is(err, ErrNonPositiveRatio) || a != 0 {
		t.Fatalf("expected 0 with ErrNonPositiveRatio, got %v %v", a, err)
	}
	c.ClearZeroReference()
	if _, ok := c.ZeroReference(); ok {
		t.Fatalf("reference should be cleared")
	}
}
