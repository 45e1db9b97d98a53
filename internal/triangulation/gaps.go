package triangulation

import (
	"sort"

	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/interp"
)

// FillGaps interpolates interior occlusions of each marker's trajectory.
// A run of at most maxGap missing time indices between two triangulated
// positions is filled with a monotone cubic (Fritsch-Butland) through all of
// that marker's positions; filled positions are flagged Interpolated and
// LowConfidence. Leading and trailing gaps are never extrapolated.
//
// The result is ordered by time and then by label order; labels missing
// from order sort after it alphabetically. positions is not modified.
func FillGaps(positions []Position3D, order []string, maxGap int) []Position3D {
	byLabel := make(map[string][]Position3D)
	for _, p := range positions {
		byLabel[p.Label] = append(byLabel[p.Label], p)
	}

	out := append([]Position3D(nil), positions...)
	if maxGap > 0 {
		for label, track := range byLabel {
			out = append(out, fillTrack(label, track, maxGap)...)
		}
	}

	rank := make(map[string]int, len(order))
	for i, l := range order {
		rank[l] = i
	}
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.TimeIndex != b.TimeIndex {
			return a.TimeIndex < b.TimeIndex
		}
		ra, oka := rank[a.Label]
		rb, okb := rank[b.Label]
		switch {
		case oka && okb:
			return ra < rb
		case oka != okb:
			return oka
		default:
			return a.Label < b.Label
		}
	})
	return out
}

func fillTrack(label string, track []Position3D, maxGap int) []Position3D {
	if len(track) < 2 {
		return nil
	}
	sort.Slice(track, func(i, j int) bool { return track[i].TimeIndex < track[j].TimeIndex })

	ts := make([]float64, len(track))
	xs := make([]float64, len(track))
	ys := make([]float64, len(track))
	zs := make([]float64, len(track))
	for i, p := range track {
		ts[i] = float64(p.TimeIndex)
		xs[i], ys[i], zs[i] = p.Coordinate.X, p.Coordinate.Y, p.Coordinate.Z
	}

	var fx, fy, fz interp.Predictor
	if len(track) >= 3 {
		var cx, cy, cz interp.FritschButland
		if cx.Fit(ts, xs) != nil || cy.Fit(ts, ys) != nil || cz.Fit(ts, zs) != nil {
			return nil
		}
		fx, fy, fz = &cx, &cy, &cz
	} else {
		var lx, ly, lz interp.PiecewiseLinear
		if lx.Fit(ts, xs) != nil || ly.Fit(ts, ys) != nil || lz.Fit(ts, zs) != nil {
			return nil
		}
		fx, fy, fz = &lx, &ly, &lz
	}

	var filled []Position3D
	for i := 1; i < len(track); i++ {
		lo, hi := track[i-1].TimeIndex, track[i].TimeIndex
		missing := hi - lo - 1
		if missing < 1 || missing > maxGap {
			continue
		}
		for t := lo + 1; t < hi; t++ {
			s := float64(t)
			filled = append(filled, Position3D{
				Label:         label,
				TimeIndex:     t,
				Coordinate:    r3.Vector{X: fx.Predict(s), Y: fy.Predict(s), Z: fz.Predict(s)},
				LowConfidence: true,
				Interpolated:  true,
			})
		}
	}
	return filled
}
