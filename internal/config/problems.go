package config

import (
	"fmt"
	"sort"
	"strings"
)

// Problem names a recorded experiment and the rest-configuration spacing of
// its markers. Spacing[k] is the rest arc length between marker k and marker
// k+1, in millimetres; marker 0 sits at the base (s = 0).
type Problem struct {
	Name    string
	Spacing []float64
}

var problems = map[string]Problem{
	"bend":  {Name: "bend", Spacing: []float64{23.9, 35.17, 33.82, 34.55, 32.8}},
	"twist": {Name: "twist", Spacing: []float64{23.9, 35.17, 33.82, 34.55, 32.8}},
	"mix":   {Name: "mix", Spacing: []float64{23.9, 35.17, 33.82, 34.55, 32.8}},
	"cable": {Name: "cable", Spacing: []float64{27.5, 33.5, 28, 34, 30, 31, 36.5, 31.5, 32, 34.5, 30, 31}},
}

// LookupProblem returns the preset for a problem keyword.
func LookupProblem(name string) (Problem, error) {
	p, ok := problems[strings.ToLower(name)]
	if !ok {
		return Problem{}, fmt.Errorf("unknown problem %q (known: %s)", name, strings.Join(ProblemNames(), ", "))
	}
	spacing := make([]float64, len(p.Spacing))
	copy(spacing, p.Spacing)
	p.Spacing = spacing
	return p, nil
}

// ProblemNames lists the known problem keywords in sorted order.
func ProblemNames() []string {
	names := make([]string, 0, len(problems))
	for name := range problems {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// MarkerLabels returns the default marker labels for the problem, "m0"
// at the base through "mN" at the tip.
func (p Problem) MarkerLabels() []string {
	labels := make([]string, len(p.Spacing)+1)
	for i := range labels {
		labels[i] = fmt.Sprintf("m%d", i)
	}
	return labels
}

// RestLength is the total rest arc length spanned by the markers.
func (p Problem) RestLength() float64 {
	var total float64
	for _, d := range p.Spacing {
		total += d
	}
	return total
}
