package smoothing

import (
	"fmt"
	"math"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/num/quat"
)

// Strains is a discrete strain state on a uniform grid of N elements.
type Strains struct {
	// Kappa holds the material-frame curvature and twist (κ1, κ2, κ3) at
	// the N-1 interior nodes.
	Kappa []r3.Vector
	// Nu holds the axial stretch of each of the N elements.
	Nu []float64
}

// Integrate reconstructs the centerline and element frames from a base
// position, a base frame and a strain state over a rod of rest length
// length. Frames follow R_j = R_{j-1}·exp(h[κ_j]x) and nodes follow
// r_{j+1} = r_j + h·ν_j·R_j·e3, with h = length/N.
func Integrate(origin r3.Vector, base Mat3, length float64, s Strains) ([]r3.Vector, []Mat3, error) {
	n := len(s.Nu)
	if n < 1 || len(s.Kappa) != n-1 {
		return nil, nil, fmt.Errorf("strain state has %d stretches and %d curvatures, need N and N-1", n, len(s.Kappa))
	}
	if !(length > 0) {
		return nil, nil, fmt.Errorf("rest length must be positive, got %g", length)
	}
	pos, frames := integrate(origin, base, length/float64(n), s.Kappa, s.Nu)
	return pos, frames, nil
}

// integrate composes the frames as unit quaternions and renormalises after
// every step so long rods do not drift off SO(3).
func integrate(origin r3.Vector, base Mat3, h float64, kappa []r3.Vector, nu []float64) ([]r3.Vector, []Mat3) {
	n := len(nu)
	pos := make([]r3.Vector, n+1)
	frames := make([]Mat3, n)
	pos[0] = origin
	frames[0] = base
	q := matQuat(base)
	for j := 0; j < n; j++ {
		if j > 0 {
			q = quat.Mul(q, expQuat(kappa[j-1].Mul(h)))
			q = quat.Scale(1/quat.Abs(q), q)
			frames[j] = quatMat(q)
		}
		pos[j+1] = pos[j].Add(frames[j].Col(2).Mul(h * nu[j]))
	}
	return pos, frames
}

// locate returns the element containing rest arc length s and the
// fraction of that element below s.
func locate(s, h float64, n int) (int, float64) {
	k := int(math.Floor(s / h))
	if k < 0 {
		k = 0
	}
	if k > n-1 {
		k = n - 1
	}
	return k, s/h - float64(k)
}

// MarkerPosition returns where a marker at rest arc length s0 with the given
// cross-section offset sits on an integrated rod. positions and frames come
// from Integrate over a rod of the given rest length.
func MarkerPosition(positions []r3.Vector, frames []Mat3, length, s0 float64, offset r2.Point) r3.Vector {
	n := len(frames)
	return markerAt(positions, frames, length/float64(n), s0, offset)
}

func markerAt(positions []r3.Vector, frames []Mat3, h, s0 float64, offset r2.Point) r3.Vector {
	k, f := locate(s0, h, len(frames))
	p := positions[k].Add(positions[k+1].Sub(positions[k]).Mul(f))
	if offset.X != 0 || offset.Y != 0 {
		p = p.Add(frames[k].Apply(r3.Vector{X: offset.X, Y: offset.Y}))
	}
	return p
}
