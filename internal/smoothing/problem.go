package smoothing

import (
	"errors"
	"math"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/diff/fd"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// Layout of the unknown vector: base position (3), base rotation increment
// (3), then one block of basis coefficients for each of κ1, κ2, κ3 and ν.
const (
	offOrigin = 0
	offTheta  = 3
	offCoef   = 6

	blockKappa1 = 0
	blockKappa2 = 1
	blockKappa3 = 2
	blockNu     = 3
)

const (
	fdStep           = 1e-6
	lmInitialDamping = 1e-3
	lmMinDamping     = 1e-15
	lmMaxDamping     = 1e16
)

var (
	errIterationCap = errors.New("iteration cap reached")
	errNonFinite    = errors.New("non-finite objective")
)

// target is one observed marker in rod units (lengths divided by the rest
// length, so the rod spans s in [0, 1]).
type target struct {
	label  string
	s      float64
	offset r2.Point
	y      r3.Vector
	// w is the square root of the marker weight.
	w float64
}

// problem is the penalized least-squares fit of one time step.
type problem struct {
	n       int
	h       float64
	k       int
	kRows   [][]float64 // basis at the n-1 interior nodes
	nuRows  [][]float64 // basis at the n element midpoints
	gBend   [][]float64
	gTwist  [][]float64
	gNu     [][]float64
	targets []target
	base    Mat3
}

func newProblem(targets []target, opts Options) *problem {
	n := opts.GridElements
	k := len(targets) - 2
	k = max(1, min(k, opts.MaxBasisSize, n-2))
	h := 1 / float64(n)

	nodes := make([]float64, n-1)
	for j := range nodes {
		nodes[j] = float64(j+1) * h
	}
	mids := make([]float64, n)
	for j := range mids {
		mids[j] = (float64(j) + 0.5) * h
	}

	p := &problem{
		n:       n,
		h:       h,
		k:       k,
		kRows:   basisRows(nodes, k),
		nuRows:  basisRows(mids, k),
		targets: targets,
		base:    Identity(),
	}
	// Σ(D²f)²/h³ approximates ∫f''² ds on the unit rod. The penalties are
	// scaled by the total marker weight, so the smoothness settings weigh
	// against the mean squared misfit whatever the marker count.
	scale := penaltyScale(targets) / (h * h * h)
	p.gBend = secondDifferenceGram(p.kRows, opts.CurvatureSmoothness*scale)
	p.gTwist = secondDifferenceGram(p.kRows, opts.CurvatureSmoothness*scale)
	addSquare(p.gTwist, gram(p.kRows, opts.TwistRidge*h))
	p.gNu = secondDifferenceGram(p.nuRows, opts.StretchSmoothness*scale)
	return p
}

// penaltyScale is the total squared weight of the targets.
func penaltyScale(targets []target) float64 {
	var sum float64
	for _, t := range targets {
		sum += t.w * t.w
	}
	return sum
}

func (p *problem) size() int { return offCoef + 4*p.k }

func (p *problem) coef(x []float64, block int) []float64 {
	start := offCoef + block*p.k
	return x[start : start+p.k]
}

func (p *problem) strains(x []float64) ([]r3.Vector, []float64) {
	k1 := evalBasis(p.kRows, p.coef(x, blockKappa1))
	k2 := evalBasis(p.kRows, p.coef(x, blockKappa2))
	k3 := evalBasis(p.kRows, p.coef(x, blockKappa3))
	kappa := make([]r3.Vector, len(k1))
	for j := range kappa {
		kappa[j] = r3.Vector{X: k1[j], Y: k2[j], Z: k3[j]}
	}
	return kappa, evalBasis(p.nuRows, p.coef(x, blockNu))
}

func (p *problem) shape(x []float64) ([]r3.Vector, []Mat3) {
	kappa, nu := p.strains(x)
	origin := r3.Vector{X: x[offOrigin], Y: x[offOrigin+1], Z: x[offOrigin+2]}
	base := p.base.Mul(ExpSO3(r3.Vector{X: x[offTheta], Y: x[offTheta+1], Z: x[offTheta+2]}))
	return integrate(origin, base, p.h, kappa, nu)
}

// residuals writes the weighted marker residuals, three per target.
func (p *problem) residuals(dst, x []float64) {
	pos, frames := p.shape(x)
	for i, t := range p.targets {
		d := markerAt(pos, frames, p.h, t.s, t.offset).Sub(t.y)
		dst[3*i] = t.w * d.X
		dst[3*i+1] = t.w * d.Y
		dst[3*i+2] = t.w * d.Z
	}
}

func (p *problem) penalty(x []float64) float64 {
	return quadForm(p.gBend, p.coef(x, blockKappa1)) +
		quadForm(p.gBend, p.coef(x, blockKappa2)) +
		quadForm(p.gTwist, p.coef(x, blockKappa3)) +
		quadForm(p.gNu, p.coef(x, blockNu))
}

// objective fills r with the marker residuals at x and returns the full
// penalized cost.
func (p *problem) objective(x, r []float64) float64 {
	p.residuals(r, x)
	return floats.Dot(r, r) + p.penalty(x)
}

// normalEquations returns the Gauss-Newton Hessian JᵀJ + G and gradient
// Jᵀr + Gc of the penalized cost (both halved).
func (p *problem) normalEquations(jac *mat.Dense, r, x []float64) (*mat.SymDense, []float64) {
	_, nx := jac.Dims()
	hess := mat.NewSymDense(nx, nil)
	hess.SymOuterK(1, jac.T())

	var jtr mat.VecDense
	jtr.MulVec(jac.T(), mat.NewVecDense(len(r), r))
	grad := make([]float64, nx)
	for i := range grad {
		grad[i] = jtr.AtVec(i)
	}

	blocks := [][][]float64{p.gBend, p.gBend, p.gTwist, p.gNu}
	for b, g := range blocks {
		start := offCoef + b*p.k
		c := p.coef(x, b)
		for i := range g {
			for j := range g[i] {
				if j >= i {
					hess.SetSym(start+i, start+j, hess.At(start+i, start+j)+g[i][j])
				}
				grad[start+i] += g[i][j] * c[j]
			}
		}
	}
	return hess, grad
}

// solve runs Levenberg-Marquardt from x, updating x and p.base in place. It
// returns the number of accepted iterations. Convergence is reached when an
// accepted step lowers the cost by no more than tol relative to the cost (with
// an absolute floor of tol²), or when no damped step lowers it at all.
func (p *problem) solve(x []float64, tol float64, maxIter int) (int, error) {
	m, nx := 3*len(p.targets), p.size()
	r := make([]float64, m)
	trial := make([]float64, nx)
	trialR := make([]float64, m)
	jac := mat.NewDense(m, nx, nil)
	settings := &fd.JacobianSettings{Formula: fd.Central, Step: fdStep}

	f := p.objective(x, r)
	if !isFinite(f) {
		return 0, errNonFinite
	}
	mu := lmInitialDamping
	for iter := 1; iter <= maxIter; iter++ {
		fd.Jacobian(jac, p.residuals, x, settings)
		hess, grad := p.normalEquations(jac, r, x)

		fNew, ok := p.dampedStep(hess, grad, x, trial, trialR, f, &mu)
		if !ok {
			return iter - 1, nil
		}
		copy(x, trial)
		copy(r, trialR)
		p.recenter(x)

		decrease := f - fNew
		fOld := f
		f = fNew
		if decrease <= tol*(fOld+tol) {
			return iter, nil
		}
	}
	return maxIter, errIterationCap
}

// dampedStep searches for a damping level whose step lowers the cost. On
// success trial and trialR hold the new point and its residuals.
func (p *problem) dampedStep(hess *mat.SymDense, grad, x, trial, trialR []float64, f float64, mu *float64) (float64, bool) {
	nx := len(x)
	diag := make([]float64, nx)
	for i := range diag {
		diag[i] = hess.At(i, i)
	}
	floor := 1e-12 * floats.Max(diag)
	if !(floor > 0) {
		floor = 1e-12
	}

	rhs := mat.NewVecDense(nx, nil)
	for i, g := range grad {
		rhs.SetVec(i, -g)
	}
	a := mat.NewSymDense(nx, nil)
	var chol mat.Cholesky
	var delta mat.VecDense
	for ; *mu <= lmMaxDamping; *mu *= 4 {
		a.CopySym(hess)
		for i := 0; i < nx; i++ {
			a.SetSym(i, i, diag[i]+*mu*(diag[i]+floor))
		}
		if !chol.Factorize(a) {
			continue
		}
		if err := chol.SolveVecTo(&delta, rhs); err != nil {
			var cond mat.Condition
			if !errors.As(err, &cond) {
				continue
			}
		}
		for i := range trial {
			trial[i] = x[i] + delta.AtVec(i)
		}
		fNew := p.objective(trial, trialR)
		if isFinite(fNew) && fNew < f {
			*mu = math.Max(*mu/3, lmMinDamping)
			return fNew, true
		}
	}
	return f, false
}

// recenter folds the base rotation increment into the base frame so the
// rotation parameters stay near zero.
func (p *problem) recenter(x []float64) {
	theta := r3.Vector{X: x[offTheta], Y: x[offTheta+1], Z: x[offTheta+2]}
	if theta == (r3.Vector{}) {
		return
	}
	p.base = p.base.Mul(ExpSO3(theta))
	x[offTheta], x[offTheta+1], x[offTheta+2] = 0, 0, 0
}

// markerRMS is the unweighted root-mean-square marker misfit in rod units.
func (p *problem) markerRMS(x []float64) float64 {
	if len(p.targets) == 0 {
		return 0
	}
	pos, frames := p.shape(x)
	var sq float64
	for _, t := range p.targets {
		d := markerAt(pos, frames, p.h, t.s, t.offset).Sub(t.y)
		sq += d.Dot(d)
	}
	return math.Sqrt(sq / float64(len(p.targets)))
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
