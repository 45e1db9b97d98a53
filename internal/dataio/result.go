package dataio

import (
	"encoding/json"
	"io"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"

	"github.com/StevenGuo30/BR2-vision-based-smoothing/internal/smoothing"
)

// Result is the per-problem strain artifact. Each step carries the fields
// external visualisation reads: time, data_index, radius, position,
// director, shear and kappa.
type Result struct {
	Problem    string         `json:"problem"`
	FPS        float64        `json:"fps"`
	RestLength float64        `json:"rest_length"`
	Markers    []ResultMarker `json:"markers"`
	Steps      []ResultStep   `json:"steps"`
}

// ResultMarker records where a marker was assigned on the rod; Offset is
// its cross-section position along d1 and d2.
type ResultMarker struct {
	Label  string     `json:"label"`
	S0     float64    `json:"s0"`
	Offset [2]float64 `json:"offset"`
}

// ResultStep is one smoothed time step. Vectors are [x, y, z]; each
// director is a 3x3 matrix whose rows are d1, d2, d3.
type ResultStep struct {
	Time       float64         `json:"time"`
	DataIndex  int             `json:"data_index"`
	S          []float64       `json:"s"`
	Radius     []float64       `json:"radius"`
	Position   [][3]float64    `json:"position"`
	Director   [][3][3]float64 `json:"director"`
	Shear      [][3]float64    `json:"shear"`
	Kappa      [][3]float64    `json:"kappa"`
	Iterations int             `json:"iterations"`
	MarkerRMS  float64         `json:"marker_rms"`
}

// NewResult assembles the artifact for a run.
func NewResult(problem string, fps float64, engine *smoothing.Engine, fields []*smoothing.StrainField) *Result {
	res := &Result{Problem: problem, FPS: fps, RestLength: engine.Length()}
	for _, m := range engine.Markers() {
		res.Markers = append(res.Markers, ResultMarker{Label: m.Label, S0: m.S0, Offset: [2]float64{m.Offset.X, m.Offset.Y}})
	}
	res.Steps = make([]ResultStep, len(fields))
	for i, f := range fields {
		res.Steps[i] = stepFromField(f)
	}
	return res
}

func stepFromField(f *smoothing.StrainField) ResultStep {
	step := ResultStep{
		Time:       f.Time,
		DataIndex:  f.TimeIndex,
		S:          f.S,
		Radius:     f.Radius,
		Position:   vectors(f.Position),
		Director:   make([][3][3]float64, len(f.Director)),
		Shear:      vectors(f.Shear),
		Kappa:      vectors(f.Kappa),
		Iterations: f.Iterations,
		MarkerRMS:  f.MarkerRMS,
	}
	for j, q := range f.Director {
		step.Director[j] = q
	}
	return step
}

// Field rebuilds the strain field of a step.
func (s ResultStep) Field() *smoothing.StrainField {
	f := &smoothing.StrainField{
		TimeIndex:  s.DataIndex,
		Time:       s.Time,
		S:          s.S,
		Position:   fromVectors(s.Position),
		Director:   make([]smoothing.Mat3, len(s.Director)),
		Kappa:      fromVectors(s.Kappa),
		Shear:      fromVectors(s.Shear),
		Radius:     s.Radius,
		Iterations: s.Iterations,
		MarkerRMS:  s.MarkerRMS,
	}
	for j, q := range s.Director {
		f.Director[j] = q
	}
	f.Twist = make([]float64, len(f.Kappa))
	for j, k := range f.Kappa {
		f.Twist[j] = k.Z
	}
	f.Stretch = make([]float64, len(f.Shear))
	for j, v := range f.Shear {
		f.Stretch[j] = v.Z
	}
	return f
}

// Fields rebuilds every step's strain field.
func (r *Result) Fields() []*smoothing.StrainField {
	out := make([]*smoothing.StrainField, len(r.Steps))
	for i, s := range r.Steps {
		out[i] = s.Field()
	}
	return out
}

// WriteResult encodes the artifact as JSON.
func WriteResult(w io.Writer, res *Result) error {
	return writeJSON(w, res)
}

// ReadResult decodes an artifact written by WriteResult.
func ReadResult(r io.Reader) (*Result, error) {
	var res Result
	if err := json.NewDecoder(r).Decode(&res); err != nil {
		return nil, errors.Wrap(err, "decoding strain result")
	}
	for i, s := range res.Steps {
		n := len(s.Shear)
		if len(s.Director) != n || len(s.Radius) != n || len(s.Position) != n+1 || len(s.S) != n+1 {
			return nil, errors.Errorf("step %d (data_index %d): inconsistent array lengths", i, s.DataIndex)
		}
		if n > 0 && len(s.Kappa) != n-1 {
			return nil, errors.Errorf("step %d (data_index %d): %d kappa values for %d elements", i, s.DataIndex, len(s.Kappa), n)
		}
	}
	return &res, nil
}

func vectors(vs []r3.Vector) [][3]float64 {
	out := make([][3]float64, len(vs))
	for i, v := range vs {
		out[i] = [3]float64{v.X, v.Y, v.Z}
	}
	return out
}

func fromVectors(vs [][3]float64) []r3.Vector {
	out := make([]r3.Vector, len(vs))
	for i, v := range vs {
		out[i] = r3.Vector{X: v[0], Y: v[1], Z: v[2]}
	}
	return out
}
