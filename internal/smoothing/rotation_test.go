package smoothing

import (
	"math"
	"testing"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func assertOrthonormal(t *testing.T, m Mat3) {
	t.Helper()
	p := m.T().Mul(m)
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			want := 0.0
			if i == j {
				want = 1
			}
			assert.InDelta(t, want, p[i][j], 1e-12)
		}
	}
	assert.InDelta(t, 1, m.Col(0).Cross(m.Col(1)).Dot(m.Col(2)), 1e-12, "frame must be right-handed")
}

func TestExpLogRoundTrip(t *testing.T) {
	tests := []r3.Vector{
		{},
		{X: 1e-14},
		{X: 0.3, Y: -0.2, Z: 0.1},
		{Z: 2.5},
		{X: 1, Y: 1, Z: 1},
		{X: 0.1, Y: 3.1},
	}
	for _, w := range tests {
		r := ExpSO3(w)
		assertOrthonormal(t, r)
		got := LogSO3(r)
		assert.InDelta(t, 0, got.Sub(w).Norm(), 1e-9, "w=%v got=%v", w, got)
	}
}

func TestExpSO3_RotatesAboutAxis(t *testing.T) {
	r := ExpSO3(r3.Vector{Z: math.Pi / 2})
	got := r.Apply(r3.Vector{X: 1})
	assert.InDelta(t, 0, got.Sub(r3.Vector{Y: 1}).Norm(), 1e-12)
	assert.InDelta(t, 0, r.Col(2).Sub(r3.Vector{Z: 1}).Norm(), 1e-15)
}

func TestLogSO3_NearHalfTurn(t *testing.T) {
	for _, w := range []r3.Vector{
		{X: math.Pi - 1e-9},
		r3.Vector{X: 1, Y: -2, Z: 0.5}.Normalize().Mul(math.Pi - 1e-7),
	} {
		got := LogSO3(ExpSO3(w))
		assert.InDelta(t, 0, got.Sub(w).Norm(), 1e-6, "w=%v got=%v", w, got)
	}

	// At exactly pi both signs describe the same rotation.
	got := LogSO3(ExpSO3(r3.Vector{Y: math.Pi}))
	assert.InDelta(t, math.Pi, got.Norm(), 1e-12)
	assert.InDelta(t, math.Pi, math.Abs(got.Y), 1e-12)
}

func TestIntegrate_StaysOnSO3(t *testing.T) {
	const n = 2000
	st := Strains{Kappa: make([]r3.Vector, n-1), Nu: make([]float64, n)}
	for j := range st.Kappa {
		st.Kappa[j] = r3.Vector{X: 0.3, Y: -0.2, Z: 0.7}
	}
	for j := range st.Nu {
		st.Nu[j] = 1
	}
	_, frames, err := Integrate(r3.Vector{}, Identity(), 500, st)
	require.NoError(t, err)
	assertOrthonormal(t, frames[n-1])
}

func TestAlignVectors(t *testing.T) {
	a := r3.Vector{X: 1, Y: 2, Z: 2}.Normalize()
	for _, b := range []r3.Vector{{Z: 1}, {X: -1, Y: 0.5}, a, a.Mul(-1)} {
		b = b.Normalize()
		r := alignVectors(a, b)
		assertOrthonormal(t, r)
		assert.InDelta(t, 0, r.Apply(a).Sub(b).Norm(), 1e-12)
	}
}

func TestLegendre(t *testing.T) {
	v := make([]float64, 5)
	legendre(v, 1)
	assert.Equal(t, []float64{1, 1, 1, 1, 1}, v)

	legendre(v, 0)
	for n, got := range v {
		assert.InDelta(t, math.Pow(-1, float64(n)), got, 1e-15)
	}

	legendre(v, 0.5)
	assert.InDelta(t, 0, v[1], 1e-15)
	assert.InDelta(t, -0.5, v[2], 1e-15)
	assert.InDelta(t, 0.375, v[4], 1e-15)
}

func TestSecondDifferenceGram_LinearIsFree(t *testing.T) {
	xs := make([]float64, 20)
	for i := range xs {
		xs[i] = float64(i) / 19
	}
	rows := basisRows(xs, 4)
	g := secondDifferenceGram(rows, 1)
	assert.InDelta(t, 0, quadForm(g, []float64{3, -2, 0, 0}), 1e-20)
	assert.Greater(t, quadForm(g, []float64{0, 0, 1, 0}), 0.0)
}

func TestIntegrate_Straight(t *testing.T) {
	st := Strains{Kappa: make([]r3.Vector, 9), Nu: make([]float64, 10)}
	for j := range st.Nu {
		st.Nu[j] = 1.5
	}
	origin := r3.Vector{X: 1, Y: 2, Z: 3}
	pos, frames, err := Integrate(origin, Identity(), 20, st)
	require.NoError(t, err)
	require.Len(t, pos, 11)
	require.Len(t, frames, 10)
	for j, p := range pos {
		want := origin.Add(r3.Vector{Z: 3 * float64(j)})
		assert.InDelta(t, 0, p.Sub(want).Norm(), 1e-12)
	}

	m := MarkerPosition(pos, frames, 20, 10, r2.Point{X: 2})
	assert.InDelta(t, 0, m.Sub(r3.Vector{X: 3, Y: 2, Z: 18}).Norm(), 1e-12)
	tip := MarkerPosition(pos, frames, 20, 20, r2.Point{})
	assert.InDelta(t, 0, tip.Sub(pos[10]).Norm(), 1e-12)
}

func TestIntegrate_ConstantCurvatureIsRegularPolygon(t *testing.T) {
	const n = 24
	st := Strains{Kappa: make([]r3.Vector, n-1), Nu: make([]float64, n)}
	for j := range st.Kappa {
		st.Kappa[j] = r3.Vector{X: 0.05}
	}
	for j := range st.Nu {
		st.Nu[j] = 1
	}
	pos, frames, err := Integrate(r3.Vector{}, Identity(), 48, st)
	require.NoError(t, err)

	chord := pos[2].Sub(pos[0]).Norm()
	for j := 0; j+2 < len(pos); j++ {
		assert.InDelta(t, 0, pos[j].X, 1e-12, "bending about d1 stays in the d2-d3 plane")
		assert.InDelta(t, chord, pos[j+2].Sub(pos[j]).Norm(), 1e-9)
	}
	for _, f := range frames {
		assertOrthonormal(t, f)
	}
	// Total turning is (n-1)·h·κ.
	turn := LogSO3(frames[0].T().Mul(frames[n-1]))
	assert.InDelta(t, float64(n-1)*2*0.05, turn.X, 1e-9)
}

func TestIntegrate_RejectsMismatchedStrains(t *testing.T) {
	_, _, err := Integrate(r3.Vector{}, Identity(), 10, Strains{Kappa: make([]r3.Vector, 3), Nu: make([]float64, 3)})
	assert.Error(t, err)
	_, _, err = Integrate(r3.Vector{}, Identity(), 0, Strains{Kappa: make([]r3.Vector, 2), Nu: make([]float64, 3)})
	assert.Error(t, err)
}
