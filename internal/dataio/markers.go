package dataio

import (
	"io"
	"math"

	"github.com/golang/geo/r2"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/StevenGuo30/BR2-vision-based-smoothing/internal/smoothing"
)

// MarkerAssignment is the YAML form of a marker assignment. Several markers
// may share a cross-section (same s0) when their offsets differ, which is
// what makes twist observable.
//
//	rest_length: 160
//	markers:
//	  - {label: z0-c, s0: 0}
//	  - {label: z1-c, s0: 32}
//	  - {label: z1-a, s0: 32, offset: [8, 0]}
type MarkerAssignment struct {
	// RestLength defaults to the largest s0.
	RestLength float64       `yaml:"rest_length,omitempty"`
	Markers    []MarkerEntry `yaml:"markers"`
}

// MarkerEntry places one label on the rod.
type MarkerEntry struct {
	Label  string    `yaml:"label"`
	S0     float64   `yaml:"s0"`
	Offset []float64 `yaml:"offset,flow,omitempty"`
}

// ReadMarkers decodes and validates a marker assignment.
func ReadMarkers(r io.Reader) ([]smoothing.Marker, float64, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	var doc MarkerAssignment
	if err := dec.Decode(&doc); err != nil {
		return nil, 0, errors.Wrap(err, "decoding marker assignment")
	}
	if len(doc.Markers) == 0 {
		return nil, 0, &smoothing.InvalidArcLengthError{Reason: "marker assignment is empty"}
	}

	markers := make([]smoothing.Marker, len(doc.Markers))
	length := doc.RestLength
	for i, e := range doc.Markers {
		m := smoothing.Marker{Label: e.Label, S0: e.S0}
		switch len(e.Offset) {
		case 0:
		case 2:
			m.Offset = r2.Point{X: e.Offset[0], Y: e.Offset[1]}
		default:
			return nil, 0, &smoothing.InvalidArcLengthError{Label: e.Label, S0: e.S0, Reason: "offset needs two components"}
		}
		markers[i] = m
		if doc.RestLength == 0 {
			length = math.Max(length, e.S0)
		}
	}
	if err := smoothing.ValidateMarkers(markers, length); err != nil {
		return nil, 0, err
	}
	return markers, length, nil
}

// WriteMarkers encodes a marker assignment.
func WriteMarkers(w io.Writer, markers []smoothing.Marker, length float64) error {
	doc := MarkerAssignment{RestLength: length, Markers: make([]MarkerEntry, len(markers))}
	for i, m := range markers {
		doc.Markers[i] = MarkerEntry{Label: m.Label, S0: m.S0}
		if !m.OnCenterline() {
			doc.Markers[i].Offset = []float64{m.Offset.X, m.Offset.Y}
		}
	}
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(doc); err != nil {
		return err
	}
	return enc.Close()
}

// LoadMarkers reads a marker assignment and its rest length.
func (f *Files) LoadMarkers(path string) (markers []smoothing.Marker, length float64, err error) {
	err = f.load(path, func(r io.Reader) error {
		markers, length, err = ReadMarkers(r)
		return err
	})
	return markers, length, err
}

// SaveMarkers writes a marker assignment.
func (f *Files) SaveMarkers(path string, markers []smoothing.Marker, length float64) error {
	return f.save(path, func(w io.Writer) error { return WriteMarkers(w, markers, length) })
}
