package calibration

import (
	"strings"
	"testing"
)

func TestModelEquation(t *testing.T) {
	cases := []struct {
		name string
		m    *Model
		want string
	}{
		{"linear", &Model{Powers: []int{0, 1}, Coefficients: []float64{0.1, 0.2}},
			"Absorbance = 0.200 (Concentration) + 0.100"},
		{"negative intercept", &Model{Powers: []int{0, 1}, Coefficients: []float64{-0.1, 0.2}},
			"Absorbance = 0.200 (Concentration) - 0.100"},
		{"hidden intercept", &Model{Powers: []int{0, 1}, Coefficients: []float64{0.0004, 0.2}},
			"Absorbance = 0.200 (Concentration)"},
		{"quadratic", &Model{Powers: []int{0, 1, 2}, Coefficients: []float64{0, 0.15, -0.02}},
			"Absorbance = -0.020 (Concentration)^2 + 0.150 (Concentration)"},
		{"nil", nil, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := ModelEquation(tc.m); got != tc.want {
				t.Fatalf("got %q want %q", got, tc.want)
			}
		})
	}
}

func TestConcentrationEquation(t *testing.T) {
	cases := []struct {
		name string
		m    *Model
		want string
	}{
		{"linear", &Model{Powers: []int{0, 1}, Coefficients: []float64{0.1, 0.2}},
			"Concentration = (Absorbance - 0.100) / 0.200"},
		{"linear negative intercept", &Model{Powers: []int{0, 1}, Coefficients: []float64{-0.1, 0.2}},
			"Concentration = (Absorbance + 0.100) / 0.200"},
		{"through origin", &Model{Powers: []int{0, 1}, Coefficients: []float64{0, 0.2}},
			"Concentration = Absorbance / 0.200"},
		{"negative slope", &Model{Powers: []int{0, 1}, Coefficients: []float64{0, -0.2}},
			"Concentration = Absorbance / (-0.200)"},
		{"quadratic through origin", &Model{Powers: []int{0, 1, 2}, Coefficients: []float64{0, 0.15, 0.02}},
			"Concentration = (-(0.150) ± sqrt((0.150)^2 - 4 (0.020) (-Absorbance))) / (2 (0.020))"},
		{"cubic", &Model{Powers: []int{0, 1, 2, 3}, Coefficients: []float64{0, 1, 1, 1}}, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := ConcentrationEquation(tc.m); got != tc.want {
				t.Fatalf("got %q want %q", got, tc.want)
			}
		})
	}
	q := &Model{Powers: []int{0, 1, 2}, Coefficients: []float64{0.05, 0.15, 0.02}}
	if got := ConcentrationEquation(q); !strings.Contains(got, "(0.050 - Absorbance)") {
		t.Fatalf("intercept missing from %q", got)
	}
}
