package calibration

import (
	"errors"
	"fmt"
	"math"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/mat"

	"github.com/StevenGuo30/BR2-vision-based-smoothing/internal/monitoring"
)

const (
	// MinSpatialPoints is the minimum number of locked correspondences for
	// the 11-parameter DLT.
	MinSpatialPoints = 6
	// MinPlanarPoints is the minimum for the 8-parameter plane homography.
	MinPlanarPoints = 4

	// singularCondition rejects normalised systems that are numerically
	// rank deficient (e.g. coplanar points in spatial mode).
	singularCondition = 1e12
)

// CameraModel holds the 11 DLT coefficients of one camera. The projection is
//
//	u = (L1 X + L2 Y + L3 Z + L4) / (L9 X + L10 Y + L11 Z + 1)
//	v = (L5 X + L6 Y + L7 Z + L8) / (L9 X + L10 Y + L11 Z + 1)
//
// A model is write-once per calibration session.
type CameraModel struct {
	CameraID    int
	Params      [11]float64
	FitResidual float64 // RMS reprojection error over the locked points, px
	PointsUsed  int
	Condition   float64 // condition number of the normalised DLT system
	Quality     Quality
}

// Options controls the calibration engine.
type Options struct {
	// ConditionWarnThreshold logs a warning (not an error) when the
	// normalised system is worse conditioned than this. Zero disables it.
	ConditionWarnThreshold float64
	// Workers bounds CalibrateAll parallelism. Zero means one per camera.
	Workers int
}

// Calibrate fits the spatial DLT for one camera from its locked points.
// Unlocked points and points without a lab coordinate are ignored.
func Calibrate(cameraID int, points []Point, opts Options) (*CameraModel, error) {
	var pix []r2.Point
	var lab []r3.Vector
	for _, p := range points {
		if !p.Locked || !p.HasLab() {
			continue
		}
		pix = append(pix, p.Pixel)
		lab = append(lab, *p.Lab)
	}
	if len(lab) < MinSpatialPoints {
		return nil, &InsufficientPointsError{CameraID: cameraID, Have: len(lab), Need: MinSpatialPoints}
	}

	npix, tPix := normalize2D(pix)
	nlab, tLab := normalize3D(lab)

	n := len(lab)
	a := mat.NewDense(2*n, 11, nil)
	b := mat.NewVecDense(2*n, nil)
	for i := range nlab {
		X, Y, Z := nlab[i].X, nlab[i].Y, nlab[i].Z
		u, v := npix[i].X, npix[i].Y
		a.SetRow(2*i, []float64{X, Y, Z, 1, 0, 0, 0, 0, -u * X, -u * Y, -u * Z})
		a.SetRow(2*i+1, []float64{0, 0, 0, 0, X, Y, Z, 1, -v * X, -v * Y, -v * Z})
		b.SetVec(2*i, u)
		b.SetVec(2*i+1, v)
	}

	x, cond, err := solveLeastSquares(a, b)
	if err != nil {
		return nil, &SingularSystemError{CameraID: cameraID, Condition: cond, Reason: err.Error()}
	}

	pn := mat.NewDense(3, 4, []float64{
		x[0], x[1], x[2], x[3],
		x[4], x[5], x[6], x[7],
		x[8], x[9], x[10], 1,
	})
	var tPixInv mat.Dense
	if err := tPixInv.Inverse(tPix); err != nil {
		return nil, &SingularSystemError{CameraID: cameraID, Condition: cond, Reason: "pixel normalisation not invertible"}
	}
	var tmp, p mat.Dense
	tmp.Mul(&tPixInv, pn)
	p.Mul(&tmp, tLab)

	scale := p.At(2, 3)
	if math.Abs(scale) < 1e-12*mat.Norm(&p, math.Inf(1)) {
		return nil, &SingularSystemError{CameraID: cameraID, Condition: cond, Reason: "lab origin lies on the camera principal plane"}
	}

	model := &CameraModel{CameraID: cameraID, PointsUsed: n, Condition: cond}
	for i := range model.Params {
		model.Params[i] = p.At(i/4, i%4) / scale
	}

	var sq float64
	for i := range lab {
		proj, err := model.Project(lab[i])
		if err != nil {
			return nil, &SingularSystemError{CameraID: cameraID, Condition: cond, Reason: err.Error()}
		}
		d := proj.Sub(pix[i])
		sq += d.Dot(d)
	}
	model.FitResidual = math.Sqrt(sq / float64(n))
	model.Quality = GradeResidual(model.FitResidual)

	if opts.ConditionWarnThreshold > 0 && cond > opts.ConditionWarnThreshold {
		monitoring.Warnf("camera %d: DLT system is ill-conditioned (condition %.3g > %.3g); spread the locked points",
			cameraID, cond, opts.ConditionWarnThreshold)
	}
	monitoring.Debugf("camera %d: DLT fit from %d points, rms %.4fpx (%s), condition %.3g",
		cameraID, n, model.FitResidual, model.Quality, cond)
	return model, nil
}

// Project maps a lab coordinate to pixels through the DLT model.
func (m *CameraModel) Project(lab r3.Vector) (r2.Point, error) {
	L := m.Params
	den := L[8]*lab.X + L[9]*lab.Y + L[10]*lab.Z + 1
	if math.Abs(den) < 1e-12 {
		return r2.Point{}, fmt.Errorf("camera %d: point %v projects to infinity", m.CameraID, lab)
	}
	return r2.Point{
		X: (L[0]*lab.X + L[1]*lab.Y + L[2]*lab.Z + L[3]) / den,
		Y: (L[4]*lab.X + L[5]*lab.Y + L[6]*lab.Z + L[7]) / den,
	}, nil
}

// Project maps a lab coordinate to pixels through model.
func Project(model *CameraModel, lab r3.Vector) (r2.Point, error) {
	return model.Project(lab)
}

// Matrix returns the 3x4 projection matrix with P[2][3] = 1.
func (m *CameraModel) Matrix() *mat.Dense {
	L := m.Params
	return mat.NewDense(3, 4, []float64{
		L[0], L[1], L[2], L[3],
		L[4], L[5], L[6], L[7],
		L[8], L[9], L[10], 1,
	})
}

// solveLeastSquares solves min |a x - b| by QR and returns the solution with
// the condition number of a. Systems above singularCondition are rejected.
func solveLeastSquares(a *mat.Dense, b *mat.VecDense) ([]float64, float64, error) {
	var qr mat.QR
	qr.Factorize(a)
	cond := qr.Cond()
	if math.IsNaN(cond) || cond > singularCondition {
		return nil, cond, errors.New("design matrix is rank deficient")
	}

	var x mat.VecDense
	if err := qr.SolveVecTo(&x, false, b); err != nil {
		var c mat.Condition
		if errors.As(err, &c) {
			return nil, float64(c), err
		}
		return nil, cond, err
	}
	return x.RawVector().Data, cond, nil
}
