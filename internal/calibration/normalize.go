package calibration

import (
	"math"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/mat"
)

// normalize2D applies the isotropic normalisation of Multiple View Geometry
// Alg 4.2: centroid at the origin, mean distance sqrt(2). It returns the
// transformed points and the 3x3 similarity that produced them.
func normalize2D(pts []r2.Point) ([]r2.Point, *mat.Dense) {
	n := float64(len(pts))
	var mu r2.Point
	for _, pt := range pts {
		mu = mu.Add(pt)
	}
	mu = mu.Mul(1 / n)

	d := 0.0
	for _, pt := range pts {
		d += pt.Sub(mu).Norm() / n
	}
	scale := 1.0
	if d > 0 {
		scale = math.Sqrt2 / d
	}

	T := mat.NewDense(3, 3, []float64{
		scale, 0, -scale * mu.X,
		0, scale, -scale * mu.Y,
		0, 0, 1,
	})
	out := make([]r2.Point, len(pts))
	for i, pt := range pts {
		out[i] = pt.Sub(mu).Mul(scale)
	}
	return out, T
}

// normalize3D is the lab-space counterpart of normalize2D, with mean
// distance sqrt(3) and a 4x4 similarity.
func normalize3D(pts []r3.Vector) ([]r3.Vector, *mat.Dense) {
	n := float64(len(pts))
	var mu r3.Vector
	for _, pt := range pts {
		mu = mu.Add(pt)
	}
	mu = mu.Mul(1 / n)

	d := 0.0
	for _, pt := range pts {
		d += pt.Sub(mu).Norm() / n
	}
	scale := 1.0
	if d > 0 {
		scale = math.Sqrt(3) / d
	}

	T := mat.NewDense(4, 4, []float64{
		scale, 0, 0, -scale * mu.X,
		0, scale, 0, -scale * mu.Y,
		0, 0, scale, -scale * mu.Z,
		0, 0, 0, 1,
	})
	out := make([]r3.Vector, len(pts))
	for i, pt := range pts {
		out[i] = pt.Sub(mu).Mul(scale)
	}
	return out, T
}
