package calibration

import (
	"fmt"
	"math"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/mat"
)

// Plane identifies an axis-aligned lab plane.
type Plane int

const (
	PlaneNone Plane = iota
	PlaneXY         // constant Z
	PlaneYZ         // constant X
	PlaneXZ         // constant Y
)

func (p Plane) String() string {
	switch p {
	case PlaneXY:
		return "xy"
	case PlaneYZ:
		return "yz"
	case PlaneXZ:
		return "xz"
	default:
		return "none"
	}
}

// planeTolerance is the relative spread below which an axis counts as constant.
const planeTolerance = 1e-9

// DetectPlane finds the axis-aligned plane the lab points lie on. It returns
// the plane, the constant coordinate along its normal, and false when the
// points are not coplanar on an axis-aligned plane.
func DetectPlane(labs []r3.Vector) (Plane, float64, bool) {
	if len(labs) == 0 {
		return PlaneNone, 0, false
	}
	lo, hi := labs[0], labs[0]
	for _, v := range labs[1:] {
		lo = r3.Vector{X: math.Min(lo.X, v.X), Y: math.Min(lo.Y, v.Y), Z: math.Min(lo.Z, v.Z)}
		hi = r3.Vector{X: math.Max(hi.X, v.X), Y: math.Max(hi.Y, v.Y), Z: math.Max(hi.Z, v.Z)}
	}
	spread := hi.Sub(lo)
	extent := math.Max(spread.X, math.Max(spread.Y, spread.Z))
	if extent == 0 {
		return PlaneNone, 0, false
	}
	tol := planeTolerance * math.Max(1, extent)

	candidates := []struct {
		plane  Plane
		spread float64
		value  float64
		others [2]float64
	}{
		{PlaneXY, spread.Z, lo.Z, [2]float64{spread.X, spread.Y}},
		{PlaneYZ, spread.X, lo.X, [2]float64{spread.Y, spread.Z}},
		{PlaneXZ, spread.Y, lo.Y, [2]float64{spread.X, spread.Z}},
	}
	for _, c := range candidates {
		if c.spread <= tol && c.others[0] > tol && c.others[1] > tol {
			return c.plane, c.value, true
		}
	}
	return PlaneNone, 0, false
}

// planeCoords drops the constant axis of a lab point.
func planeCoords(v r3.Vector, plane Plane) r2.Point {
	switch plane {
	case PlaneYZ:
		return r2.Point{X: v.Y, Y: v.Z}
	case PlaneXZ:
		return r2.Point{X: v.X, Y: v.Z}
	default:
		return r2.Point{X: v.X, Y: v.Y}
	}
}

// embed lifts plane coordinates back into the lab frame.
func embed(p r2.Point, plane Plane, offset float64) r3.Vector {
	switch plane {
	case PlaneYZ:
		return r3.Vector{X: offset, Y: p.X, Z: p.Y}
	case PlaneXZ:
		return r3.Vector{X: p.X, Y: offset, Z: p.Y}
	default:
		return r3.Vector{X: p.X, Y: p.Y, Z: offset}
	}
}

// Homography maps plane coordinates of an axis-aligned lab plane to pixels,
//
//	u = (h0 a + h1 b + h2) / (h6 a + h7 b + 1)
//	v = (h3 a + h4 b + h5) / (h6 a + h7 b + 1)
//
// with (a, b) the two in-plane lab coordinates.
type Homography struct {
	CameraID    int
	Plane       Plane
	Offset      float64 // lab coordinate along the plane normal
	H           [9]float64
	FitResidual float64 // RMS reprojection error, px
	PointsUsed  int
	Condition   float64
}

// FitHomography fits the planar model from locked points that share one
// axis-aligned lab plane. Used to seed unlocked point placement, never for
// 3D reconstruction.
func FitHomography(cameraID int, points []Point) (*Homography, error) {
	var pix []r2.Point
	var lab []r3.Vector
	for _, p := range points {
		if !p.Locked || !p.HasLab() {
			continue
		}
		pix = append(pix, p.Pixel)
		lab = append(lab, *p.Lab)
	}
	if len(lab) < MinPlanarPoints {
		return nil, &InsufficientPointsError{CameraID: cameraID, Have: len(lab), Need: MinPlanarPoints}
	}
	plane, offset, ok := DetectPlane(lab)
	if !ok {
		return nil, fmt.Errorf("camera %d: %w", cameraID, ErrNotCoplanar)
	}

	src := make([]r2.Point, len(lab))
	for i, v := range lab {
		src[i] = planeCoords(v, plane)
	}
	nsrc, tSrc := normalize2D(src)
	ndst, tDst := normalize2D(pix)

	n := len(src)
	a := mat.NewDense(2*n, 8, nil)
	b := mat.NewVecDense(2*n, nil)
	for i := range nsrc {
		X, Y := nsrc[i].X, nsrc[i].Y
		x, y := ndst[i].X, ndst[i].Y
		a.SetRow(2*i, []float64{X, Y, 1, 0, 0, 0, -X * x, -Y * x})
		a.SetRow(2*i+1, []float64{0, 0, 0, X, Y, 1, -X * y, -Y * y})
		b.SetVec(2*i, x)
		b.SetVec(2*i+1, y)
	}

	h, cond, err := solveLeastSquares(a, b)
	if err != nil {
		return nil, &SingularSystemError{CameraID: cameraID, Condition: cond, Reason: err.Error()}
	}

	hn := mat.NewDense(3, 3, []float64{h[0], h[1], h[2], h[3], h[4], h[5], h[6], h[7], 1})
	var tDstInv, tmp, full mat.Dense
	if err := tDstInv.Inverse(tDst); err != nil {
		return nil, &SingularSystemError{CameraID: cameraID, Condition: cond, Reason: "pixel normalisation not invertible"}
	}
	tmp.Mul(&tDstInv, hn)
	full.Mul(&tmp, tSrc)

	scale := full.At(2, 2)
	if math.Abs(scale) < 1e-12*mat.Norm(&full, math.Inf(1)) {
		return nil, &SingularSystemError{CameraID: cameraID, Condition: cond, Reason: "plane origin maps to infinity"}
	}

	hom := &Homography{CameraID: cameraID, Plane: plane, Offset: offset, PointsUsed: n, Condition: cond}
	for i := range hom.H {
		hom.H[i] = full.At(i/3, i%3) / scale
	}

	var sq float64
	for i := range lab {
		proj, err := hom.Apply(lab[i])
		if err != nil {
			return nil, &SingularSystemError{CameraID: cameraID, Condition: cond, Reason: err.Error()}
		}
		d := proj.Sub(pix[i])
		sq += d.Dot(d)
	}
	hom.FitResidual = math.Sqrt(sq / float64(n))
	return hom, nil
}

// Apply maps a lab point on the homography's plane to pixels. The coordinate
// along the plane normal is ignored.
func (h *Homography) Apply(lab r3.Vector) (r2.Point, error) {
	p := planeCoords(lab, h.Plane)
	return applyH(h.H, p)
}

// Inverse maps a pixel back onto the lab plane.
func (h *Homography) Inverse(px r2.Point) (r3.Vector, error) {
	var inv mat.Dense
	if err := inv.Inverse(mat.NewDense(3, 3, h.H[:])); err != nil {
		return r3.Vector{}, fmt.Errorf("camera %d: homography not invertible: %w", h.CameraID, err)
	}
	var hi [9]float64
	for i := range hi {
		hi[i] = inv.At(i/3, i%3)
	}
	p, err := applyH(hi, px)
	if err != nil {
		return r3.Vector{}, err
	}
	return embed(p, h.Plane, h.Offset), nil
}

func applyH(h [9]float64, p r2.Point) (r2.Point, error) {
	w := h[6]*p.X + h[7]*p.Y + h[8]
	if math.Abs(w) < 1e-12 {
		return r2.Point{}, fmt.Errorf("point %v maps to infinity", p)
	}
	return r2.Point{
		X: (h[0]*p.X + h[1]*p.Y + h[2]) / w,
		Y: (h[3]*p.X + h[4]*p.Y + h[5]) / w,
	}, nil
}
