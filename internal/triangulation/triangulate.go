// Package triangulation reconstructs 3D marker positions from the 2D tracks
// of two or more DLT-calibrated cameras.
package triangulation

import (
	"math"
	"sort"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/mat"

	"github.com/StevenGuo30/BR2-vision-based-smoothing/internal/calibration"
)

// MinViews is the minimum number of calibrated cameras that must observe a
// marker for it to be triangulated.
const MinViews = 2

// degenerateCondition rejects triangulation systems that are rank deficient.
const degenerateCondition = 1e12

// Observation is one camera's pixel measurement of a marker.
type Observation struct {
	CameraID int
	Pixel    r2.Point
}

// Missing reports whether the observation encodes an occlusion: tracking
// writes -1 (any negative coordinate) or NaN for frames it lost.
func (o Observation) Missing() bool {
	return math.IsNaN(o.Pixel.X) || math.IsNaN(o.Pixel.Y) || o.Pixel.X < 0 || o.Pixel.Y < 0
}

// Position3D is one triangulated marker position. Residual is the sum of
// squared reprojection errors across the views used, in px².
type Position3D struct {
	Label         string
	TimeIndex     int
	Coordinate    r3.Vector
	Residual      float64
	ViewsUsed     int
	LowConfidence bool
	Interpolated  bool
}

// Triangulate solves for the lab point that best satisfies every observing
// camera's DLT equations. Observations from cameras without a model, or
// marked missing, are excluded from the view set; if a camera appears more
// than once only its first observation is used.
func Triangulate(models map[int]*calibration.CameraModel, obs []Observation, label string, t int) (Position3D, error) {
	views := usableViews(models, obs)
	if len(views) < MinViews {
		return Position3D{}, &InsufficientViewsError{Label: label, TimeIndex: t, Views: len(views)}
	}

	a := mat.NewDense(2*len(views), 3, nil)
	b := mat.NewVecDense(2*len(views), nil)
	for i, o := range views {
		// Each view contributes (P_r - w·P_2)·X = w·P_23 - P_r3 for w in (u, v).
		P := models[o.CameraID].Matrix()
		for r, w := range [2]float64{o.Pixel.X, o.Pixel.Y} {
			row := 2*i + r
			for c := 0; c < 3; c++ {
				a.Set(row, c, P.At(r, c)-w*P.At(2, c))
			}
			b.SetVec(row, w*P.At(2, 3)-P.At(r, 3))
		}
	}

	var qr mat.QR
	qr.Factorize(a)
	cond := qr.Cond()
	if math.IsNaN(cond) || cond > degenerateCondition {
		return Position3D{}, &DegenerateViewsError{Label: label, TimeIndex: t, Condition: cond}
	}
	var x mat.VecDense
	if err := qr.SolveVecTo(&x, false, b); err != nil {
		return Position3D{}, &DegenerateViewsError{Label: label, TimeIndex: t, Condition: cond}
	}

	pos := Position3D{
		Label:      label,
		TimeIndex:  t,
		Coordinate: r3.Vector{X: x.AtVec(0), Y: x.AtVec(1), Z: x.AtVec(2)},
		ViewsUsed:  len(views),
	}
	for _, o := range views {
		proj, err := models[o.CameraID].Project(pos.Coordinate)
		if err != nil {
			return Position3D{}, &DegenerateViewsError{Label: label, TimeIndex: t, Condition: math.Inf(1)}
		}
		d := proj.Sub(o.Pixel)
		pos.Residual += d.Dot(d)
	}
	return pos, nil
}

func usableViews(models map[int]*calibration.CameraModel, obs []Observation) []Observation {
	seen := make(map[int]bool, len(obs))
	views := make([]Observation, 0, len(obs))
	for _, o := range obs {
		if models[o.CameraID] == nil || o.Missing() || seen[o.CameraID] {
			continue
		}
		seen[o.CameraID] = true
		views = append(views, o)
	}
	sort.Slice(views, func(i, j int) bool { return views[i].CameraID < views[j].CameraID })
	return views
}

// ModelSet indexes camera models by camera ID.
func ModelSet(models []*calibration.CameraModel) map[int]*calibration.CameraModel {
	out := make(map[int]*calibration.CameraModel, len(models))
	for _, m := range models {
		if m != nil {
			out[m.CameraID] = m
		}
	}
	return out
}
