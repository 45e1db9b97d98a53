// Package testutil provides shared test utilities and synthetic scenes.
//
// Helpers here deal in plain vectors and DLT coefficient arrays so that any
// package's tests can use them without import cycles.
package testutil

import (
	"math"
	"math/rand"
	"testing"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
)

// AssertNoError fails the test if err is not nil.
func AssertNoError(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

// AssertError fails the test if err is nil.
func AssertError(t *testing.T, err error) {
	t.Helper()
	if err == nil {
		t.Fatal("expected error, got nil")
	}
}

// PinholeDLT returns the 11 DLT coefficients of an ideal pinhole camera at
// eye looking at target, with focal length f (px) and principal point
// (cx, cy). World up is +Z.
func PinholeDLT(eye, target r3.Vector, f, cx, cy float64) [11]float64 {
	fwd := target.Sub(eye).Normalize()
	up := r3.Vector{Z: 1}
	if math.Abs(fwd.Dot(up)) > 0.99 {
		up = r3.Vector{Y: 1}
	}
	right := fwd.Cross(up).Normalize()
	down := fwd.Cross(right)

	// Rows of R are the camera axes; t = -R eye.
	rows := [3]r3.Vector{right, down, fwd}
	var P [3][4]float64
	k := [3][3]float64{{f, 0, cx}, {0, f, cy}, {0, 0, 1}}
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			rt := [4]float64{rows[j].X, rows[j].Y, rows[j].Z, -rows[j].Dot(eye)}
			for c := 0; c < 4; c++ {
				P[i][c] += k[i][j] * rt[c]
			}
		}
	}
	s := P[2][3]
	var L [11]float64
	for i := range L {
		L[i] = P[i/4][i%4] / s
	}
	return L
}

// ProjectDLT projects a lab point through DLT coefficients.
func ProjectDLT(L [11]float64, v r3.Vector) r2.Point {
	den := L[8]*v.X + L[9]*v.Y + L[10]*v.Z + 1
	return r2.Point{
		X: (L[0]*v.X + L[1]*v.Y + L[2]*v.Z + L[3]) / den,
		Y: (L[4]*v.X + L[5]*v.Y + L[6]*v.Z + L[7]) / den,
	}
}

// CalibrationCube returns an n x n x n lattice of lab points spanning
// [0, size] on each axis, a non-planar target for spatial calibration.
func CalibrationCube(n int, size float64) []r3.Vector {
	var pts []r3.Vector
	step := size / float64(n-1)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			for k := 0; k < n; k++ {
				pts = append(pts, r3.Vector{X: float64(i) * step, Y: float64(j) * step, Z: float64(k) * step})
			}
		}
	}
	return pts
}

// CalibrationBoard returns an n x n grid on the plane z = height.
func CalibrationBoard(n int, size, height float64) []r3.Vector {
	var pts []r3.Vector
	step := size / float64(n-1)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			pts = append(pts, r3.Vector{X: float64(i) * step, Y: float64(j) * step, Z: height})
		}
	}
	return pts
}

// Jitter adds isotropic Gaussian noise of standard deviation sigma.
func Jitter(rng *rand.Rand, p r2.Point, sigma float64) r2.Point {
	return r2.Point{X: p.X + sigma*rng.NormFloat64(), Y: p.Y + sigma*rng.NormFloat64()}
}

// RingCameras places n cameras on a circle of the given radius and height
// around center, all looking at center.
func RingCameras(n int, center r3.Vector, radius, height float64) [][11]float64 {
	out := make([][11]float64, n)
	for i := 0; i < n; i++ {
		a := 2 * math.Pi * float64(i) / float64(n)
		eye := center.Add(r3.Vector{X: radius * math.Cos(a), Y: radius * math.Sin(a), Z: height})
		out[i] = PinholeDLT(eye, center, 1200, 960, 540)
	}
	return out
}
