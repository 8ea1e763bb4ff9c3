package calibration

import (
	"fmt"
	"sort"
)

// Fixtures are reference calibration data sets, one per expected trend,
// used to exercise the decision procedure without a connected sensor.
var Fixtures = map[string][]Sample{
	"cubic": {
		{0.0, 994.28, 0.0},
		{1.16, 749.75, 0.123},
		{2.9, 566.9, 0.244},
		{6.84, 414, 0.381},
		{11.15, 313.03, 0.502},
		{12.9, 234.37, 0.628},
		{14.035, 182.75, 0.736},
	},
	"quadratic-no-intercept": {
		{0.0, 987.75, 0.0},
		{0.576, 741.96, 0.124},
		{1.22, 558.21, 0.248},
		{1.942, 401.06, 0.391},
		{2.836, 305.21, 0.510},
		{3.969, 229.06, 0.635},
		{6.473, 178.65, 0.743},
	},
	"quadratic-intercept": {
		{0.0, 995.87, 0.0},
		{0.001, 740, 0.12314},
		{0.002, 680, 0.1657},
		{0.724, 411.28, 0.384},
		{1.618, 312.03, 0.504},
		{2.751, 234.62, 0.628},
		{5.255, 182.31, 0.600},
	},
	"linear-no-intercept": {
		{0.0, 987.56, 0.0},
		{0.875, 741.93, 0.124},
		{1.681, 556.46, 0.249},
		{2.514, 394, 0.399},
		{3.380, 304.84, 0.510},
		{4.214, 228.53, 0.636},
		{5.015, 178.28, 0.743},
	},
	"linear-intercept": {
		{0.0, 994.46, 0.0},
		{0.001, 747.31, 0.124},
		{0.847, 563.15, 0.247},
		{1.68, 401.84, 0.394},
		{2.546, 312.34, 0.503},
		{3.379, 233.40, 0.629},
		{4.181, 181.31, 0.739},
	},
	"no-trend": {
		{0.0, 994.46, 0.0},
		{0.001, 747.31, 1},
		{0.847, 563.15, 1},
		{1.68, 401.84, 1},
		{2.546, 312.34, 1},
		{3.379, 233.40, 1},
		{4.181, 181.31, 1},
	},
}

// Fixture returns a copy of the named data set.
func Fixture(name string) ([]Sample, error) {
	data, ok := Fixtures[name]
	if !ok {
		return nil, fmt.Errorf("unknown fixture %q (have %v)", name, FixtureNames())
	}
	out := make([]Sample, len(data))
	copy(out, data)
	return out, nil
}

// FixtureNames lists the fixture keys in sorted order.
func FixtureNames() []string {
	names := make([]string, 0, len(Fixtures))
	for k := range Fixtures {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}
