package smoothing

import (
	"math"
	"sort"

	"github.com/golang/geo/r2"
)

// Marker fixes a tracked label to a rest arc-length position on the rod.
type Marker struct {
	Label string
	// S0 is the rest arc length from the base, in lab length units.
	S0 float64
	// Offset is the marker's position in the cross-section, measured along
	// the first two directors. Zero for markers on the centerline.
	Offset r2.Point
}

// OnCenterline reports whether the marker sits on the centerline.
func (m Marker) OnCenterline() bool {
	return m.Offset.X == 0 && m.Offset.Y == 0
}

// MarkersFromSpacing places labels along the rod from consecutive rest
// distances. labels[0] sits at the base (s=0) and labels[i] at the sum of the
// first i spacings; the rest length is the total spacing.
func MarkersFromSpacing(labels []string, spacing []float64) ([]Marker, float64, error) {
	if len(labels) != len(spacing)+1 {
		return nil, 0, &InvalidArcLengthError{Reason: "need exactly one more label than spacing entries"}
	}
	out := make([]Marker, len(labels))
	s := 0.0
	for i, label := range labels {
		if i > 0 {
			d := spacing[i-1]
			if !(d > 0) || math.IsInf(d, 0) {
				return nil, 0, &InvalidArcLengthError{Label: label, S0: s, Reason: "spacing must be positive and finite"}
			}
			s += d
		}
		out[i] = Marker{Label: label, S0: s}
	}
	return out, s, nil
}

// ValidateMarkers checks an assignment against the rest length: labels are
// unique and non-empty, every S0 lies in [0, length], no two markers share a
// rest position with the same offset, and offsets are finite.
func ValidateMarkers(markers []Marker, length float64) error {
	if !(length > 0) || math.IsInf(length, 0) {
		return &InvalidArcLengthError{Reason: "rest length must be positive and finite"}
	}
	seen := make(map[string]bool, len(markers))
	type place struct {
		s      float64
		offset r2.Point
	}
	taken := make(map[place]string, len(markers))
	for _, m := range markers {
		switch {
		case m.Label == "":
			return &InvalidArcLengthError{S0: m.S0, Reason: "empty label"}
		case seen[m.Label]:
			return &InvalidArcLengthError{Label: m.Label, S0: m.S0, Reason: "duplicate label"}
		case math.IsNaN(m.S0) || m.S0 < 0 || m.S0 > length:
			return &InvalidArcLengthError{Label: m.Label, S0: m.S0, Reason: "outside the rod"}
		case math.IsNaN(m.Offset.X) || math.IsNaN(m.Offset.Y) || math.IsInf(m.Offset.X, 0) || math.IsInf(m.Offset.Y, 0):
			return &InvalidArcLengthError{Label: m.Label, S0: m.S0, Reason: "non-finite offset"}
		}
		p := place{m.S0, m.Offset}
		if other, ok := taken[p]; ok {
			return &InvalidArcLengthError{Label: m.Label, S0: m.S0, Reason: "same rest position as " + other}
		}
		seen[m.Label] = true
		taken[p] = m.Label
	}
	return nil
}

func sortMarkers(markers []Marker) {
	sort.SliceStable(markers, func(i, j int) bool {
		if markers[i].S0 != markers[j].S0 {
			return markers[i].S0 < markers[j].S0
		}
		return markers[i].Label < markers[j].Label
	})
}
