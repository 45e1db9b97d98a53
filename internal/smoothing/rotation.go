package smoothing

import (
	"math"

	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/num/quat"
)

// Mat3 is a 3x3 matrix in row-major order. Element frames are stored as
// rotations whose columns are the directors d1, d2, d3 in lab coordinates.
// Rotations are composed as unit quaternions; Mat3 is the director view
// handed to callers.
type Mat3 [3][3]float64

// Identity returns the 3x3 identity.
func Identity() Mat3 {
	return Mat3{{1, 0, 0}, {0, 1, 0}, {0, 0, 1}}
}

// FromColumns builds a matrix from its three columns.
func FromColumns(a, b, c r3.Vector) Mat3 {
	return Mat3{
		{a.X, b.X, c.X},
		{a.Y, b.Y, c.Y},
		{a.Z, b.Z, c.Z},
	}
}

// Col returns column j.
func (m Mat3) Col(j int) r3.Vector {
	return r3.Vector{X: m[0][j], Y: m[1][j], Z: m[2][j]}
}

// Row returns row i.
func (m Mat3) Row(i int) r3.Vector {
	return r3.Vector{X: m[i][0], Y: m[i][1], Z: m[i][2]}
}

// Mul returns m·b.
func (m Mat3) Mul(b Mat3) Mat3 {
	var out Mat3
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			out[i][j] = m[i][0]*b[0][j] + m[i][1]*b[1][j] + m[i][2]*b[2][j]
		}
	}
	return out
}

// T returns the transpose.
func (m Mat3) T() Mat3 {
	var out Mat3
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			out[i][j] = m[j][i]
		}
	}
	return out
}

// Apply returns m·v.
func (m Mat3) Apply(v r3.Vector) r3.Vector {
	return r3.Vector{
		X: m[0][0]*v.X + m[0][1]*v.Y + m[0][2]*v.Z,
		Y: m[1][0]*v.X + m[1][1]*v.Y + m[1][2]*v.Z,
		Z: m[2][0]*v.X + m[2][1]*v.Y + m[2][2]*v.Z,
	}
}

// expQuat returns the unit quaternion of the rotation vector w.
func expQuat(w r3.Vector) quat.Number {
	return quat.Exp(quat.Number{Imag: w.X / 2, Jmag: w.Y / 2, Kmag: w.Z / 2})
}

// logQuat returns the rotation vector of unit quaternion q, |w| <= pi.
func logQuat(q quat.Number) r3.Vector {
	if q.Real < 0 {
		q = quat.Scale(-1, q)
	}
	l := quat.Log(q)
	return r3.Vector{X: 2 * l.Imag, Y: 2 * l.Jmag, Z: 2 * l.Kmag}
}

// quatMat returns the rotation matrix of unit quaternion q.
func quatMat(q quat.Number) Mat3 {
	w, x, y, z := q.Real, q.Imag, q.Jmag, q.Kmag
	return Mat3{
		{1 - 2*(y*y+z*z), 2 * (x*y - w*z), 2 * (x*z + w*y)},
		{2 * (x*y + w*z), 1 - 2*(x*x+z*z), 2 * (y*z - w*x)},
		{2 * (x*z - w*y), 2 * (y*z + w*x), 1 - 2*(x*x+y*y)},
	}
}

// matQuat returns the unit quaternion of rotation matrix m, choosing the
// largest diagonal term as pivot so the result stays accurate near pi.
func matQuat(m Mat3) quat.Number {
	tr := m[0][0] + m[1][1] + m[2][2]
	var q quat.Number
	switch {
	case tr > 0:
		s := 2 * math.Sqrt(1+tr)
		q = quat.Number{Real: s / 4, Imag: (m[2][1] - m[1][2]) / s, Jmag: (m[0][2] - m[2][0]) / s, Kmag: (m[1][0] - m[0][1]) / s}
	case m[0][0] > m[1][1] && m[0][0] > m[2][2]:
		s := 2 * math.Sqrt(1+m[0][0]-m[1][1]-m[2][2])
		q = quat.Number{Real: (m[2][1] - m[1][2]) / s, Imag: s / 4, Jmag: (m[0][1] + m[1][0]) / s, Kmag: (m[0][2] + m[2][0]) / s}
	case m[1][1] > m[2][2]:
		s := 2 * math.Sqrt(1+m[1][1]-m[0][0]-m[2][2])
		q = quat.Number{Real: (m[0][2] - m[2][0]) / s, Imag: (m[0][1] + m[1][0]) / s, Jmag: s / 4, Kmag: (m[1][2] + m[2][1]) / s}
	default:
		s := 2 * math.Sqrt(1+m[2][2]-m[0][0]-m[1][1])
		q = quat.Number{Real: (m[1][0] - m[0][1]) / s, Imag: (m[0][2] + m[2][0]) / s, Jmag: (m[1][2] + m[2][1]) / s, Kmag: s / 4}
	}
	return quat.Scale(1/quat.Abs(q), q)
}

// ExpSO3 is the rotation exp([w]x).
func ExpSO3(w r3.Vector) Mat3 {
	return quatMat(expQuat(w))
}

// LogSO3 returns the rotation vector w with ExpSO3(w) = m, |w| <= pi.
func LogSO3(m Mat3) r3.Vector {
	return logQuat(matQuat(m))
}

// alignVectors returns the minimal rotation taking unit vector a onto unit
// vector b. Used for parallel transport of frames along a polyline.
func alignVectors(a, b r3.Vector) Mat3 {
	axis := a.Cross(b)
	if axis.Norm() < 1e-15 && a.Dot(b) > 0 {
		return Identity()
	}
	if axis.Norm() < 1e-15 {
		// Antiparallel: half turn about any axis normal to a.
		n := a.Ortho()
		return quatMat(quat.Number{Imag: n.X, Jmag: n.Y, Kmag: n.Z})
	}
	// The half-way quaternion (1 + a·b, a×b) normalised.
	q := quat.Number{Real: 1 + a.Dot(b), Imag: axis.X, Jmag: axis.Y, Kmag: axis.Z}
	return quatMat(quat.Scale(1/quat.Abs(q), q))
}
