package smoothing

import (
	"fmt"
	"math"
	"sort"

	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// initialGuess builds the starting point for the optimizer and sets p.base.
// The centerline comes from a low-order polynomial fit of the markers,
// frames are parallel-transported along it, and when cross-section offset
// markers were observed their bearings supply the roll and a constant twist.
func (p *problem) initialGuess() ([]float64, error) {
	curve, err := p.fitCenterline()
	if err != nil {
		return nil, err
	}

	n, h := p.n, p.h
	nodes := make([]r3.Vector, n+1)
	for j := range nodes {
		nodes[j] = curve(float64(j) * h)
	}
	tangents := make([]r3.Vector, n)
	nu := make([]float64, n)
	for j := 0; j < n; j++ {
		d := nodes[j+1].Sub(nodes[j])
		length := d.Norm()
		nu[j] = length / h
		switch {
		case length > 1e-12:
			tangents[j] = d.Mul(1 / length)
		case j > 0:
			tangents[j] = tangents[j-1]
		default:
			tangents[j] = r3.Vector{Z: 1}
		}
	}

	frames := make([]Mat3, n)
	frames[0] = adaptedFrame(tangents[0])
	for j := 1; j < n; j++ {
		frames[j] = alignVectors(tangents[j-1], tangents[j]).Mul(frames[j-1])
	}

	if roll, twist, ok := p.estimateRoll(curve, frames); ok {
		for j := range frames {
			s := (float64(j) + 0.5) * h
			frames[j] = frames[j].Mul(ExpSO3(r3.Vector{Z: roll + twist*s}))
		}
	}

	kappa := make([][]float64, 3)
	for c := range kappa {
		kappa[c] = make([]float64, n-1)
	}
	for j := 1; j < n; j++ {
		w := LogSO3(frames[j-1].T().Mul(frames[j])).Mul(1 / h)
		kappa[0][j-1], kappa[1][j-1], kappa[2][j-1] = w.X, w.Y, w.Z
	}

	x := make([]float64, p.size())
	x[offOrigin], x[offOrigin+1], x[offOrigin+2] = nodes[0].X, nodes[0].Y, nodes[0].Z
	for b, values := range [][]float64{kappa[0], kappa[1], kappa[2], nu} {
		rows := p.kRows
		if b == blockNu {
			rows = p.nuRows
		}
		c, err := fitRows(rows, values)
		if err != nil {
			return nil, err
		}
		copy(p.coef(x, b), c)
	}
	p.base = frames[0]
	return x, nil
}

// fitCenterline fits each coordinate with a polynomial in s of degree at
// most three. Centerline markers are preferred when there are enough of them.
func (p *problem) fitCenterline() (func(s float64) r3.Vector, error) {
	var use []target
	for _, t := range p.targets {
		if t.w > 0 && t.offset.X == 0 && t.offset.Y == 0 {
			use = append(use, t)
		}
	}
	if len(use) < 3 {
		use = use[:0]
		for _, t := range p.targets {
			if t.w > 0 {
				use = append(use, t)
			}
		}
	}
	distinct := make(map[float64]bool)
	for _, t := range use {
		distinct[t.s] = true
	}
	degree := min(3, len(distinct)-1)
	if degree < 1 {
		return nil, fmt.Errorf("centerline fit needs markers at two rest positions, have %d", len(distinct))
	}

	v := mat.NewDense(len(use), degree+1, nil)
	y := mat.NewDense(len(use), 3, nil)
	for i, t := range use {
		pow := t.w
		for c := 0; c <= degree; c++ {
			v.Set(i, c, pow)
			pow *= t.s
		}
		y.Set(i, 0, t.w*t.y.X)
		y.Set(i, 1, t.w*t.y.Y)
		y.Set(i, 2, t.w*t.y.Z)
	}
	var qr mat.QR
	qr.Factorize(v)
	var coef mat.Dense
	if err := qr.SolveTo(&coef, false, y); err != nil {
		return nil, fmt.Errorf("centerline fit: %w", err)
	}

	return func(s float64) r3.Vector {
		var out [3]float64
		for c := degree; c >= 0; c-- {
			for d := range out {
				out[d] = out[d]*s + coef.At(c, d)
			}
		}
		return r3.Vector{X: out[0], Y: out[1], Z: out[2]}
	}, nil
}

// adaptedFrame returns a right-handed frame whose third column is t.
func adaptedFrame(t r3.Vector) Mat3 {
	axes := []r3.Vector{{X: 1}, {Y: 1}, {Z: 1}}
	ref := axes[0]
	for _, a := range axes[1:] {
		if math.Abs(a.Dot(t)) < math.Abs(ref.Dot(t)) {
			ref = a
		}
	}
	d1 := ref.Sub(t.Mul(ref.Dot(t))).Normalize()
	d2 := t.Cross(d1)
	return FromColumns(d1, d2, t)
}

// estimateRoll reads the bearing of every observed offset marker relative
// to the transported frames and fits roll(s) = roll + twist·s. ok is false
// when no offset marker is usable.
func (p *problem) estimateRoll(curve func(float64) r3.Vector, frames []Mat3) (roll, twist float64, ok bool) {
	type bearing struct{ s, phi float64 }
	var samples []bearing
	for _, t := range p.targets {
		if t.w == 0 || (t.offset.X == 0 && t.offset.Y == 0) {
			continue
		}
		k, _ := locate(t.s, p.h, p.n)
		v := t.y.Sub(curve(t.s))
		a1, a2 := v.Dot(frames[k].Col(0)), v.Dot(frames[k].Col(1))
		if math.Hypot(a1, a2) < 1e-3*math.Hypot(t.offset.X, t.offset.Y) {
			continue
		}
		phi := math.Atan2(a2, a1) - math.Atan2(t.offset.Y, t.offset.X)
		samples = append(samples, bearing{t.s, math.Remainder(phi, 2*math.Pi)})
	}
	if len(samples) == 0 {
		return 0, 0, false
	}
	sort.SliceStable(samples, func(i, j int) bool { return samples[i].s < samples[j].s })

	ss := make([]float64, len(samples))
	phis := make([]float64, len(samples))
	for i, b := range samples {
		ss[i], phis[i] = b.s, b.phi
		if i > 0 {
			phis[i] = phis[i-1] + math.Remainder(b.phi-phis[i-1], 2*math.Pi)
		}
	}
	if ss[0] == ss[len(ss)-1] {
		return stat.Mean(phis, nil), 0, true
	}
	roll, twist = stat.LinearRegression(ss, phis, nil, false)
	return roll, twist, true
}

// fitRows solves rows·c ≈ values in the least-squares sense.
func fitRows(rows [][]float64, values []float64) ([]float64, error) {
	k := len(rows[0])
	a := mat.NewDense(len(rows), k, nil)
	for i, row := range rows {
		a.SetRow(i, row)
	}
	var qr mat.QR
	qr.Factorize(a)
	var c mat.VecDense
	if err := qr.SolveVecTo(&c, false, mat.NewVecDense(len(values), values)); err != nil {
		return nil, fmt.Errorf("basis projection: %w", err)
	}
	out := make([]float64, k)
	for i := range out {
		out[i] = c.AtVec(i)
	}
	return out, nil
}
