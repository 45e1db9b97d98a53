package smoothing

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"testing"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/StevenGuo30/BR2-vision-based-smoothing/internal/config"
	"github.com/StevenGuo30/BR2-vision-based-smoothing/internal/monitoring"
	"github.com/StevenGuo30/BR2-vision-based-smoothing/internal/report"
	"github.com/StevenGuo30/BR2-vision-based-smoothing/internal/triangulation"
)

const rodLength = 160.0

// sampleStrains samples κ at the interior nodes and ν at element midpoints
// of an n-element grid, matching the engine's discretization.
func sampleStrains(n int, kappa func(s float64) r3.Vector, nu func(s float64) float64) Strains {
	h := rodLength / float64(n)
	st := Strains{Kappa: make([]r3.Vector, n-1), Nu: make([]float64, n)}
	for j := 1; j < n; j++ {
		st.Kappa[j-1] = kappa(float64(j) * h)
	}
	for j := 0; j < n; j++ {
		st.Nu[j] = nu((float64(j) + 0.5) * h)
	}
	return st
}

func evenMarkers(t *testing.T, count int) []Marker {
	t.Helper()
	labels := make([]string, count)
	spacing := make([]float64, count-1)
	for i := range labels {
		labels[i] = fmt.Sprintf("m%d", i)
	}
	for i := range spacing {
		spacing[i] = rodLength / float64(count-1)
	}
	markers, length, err := MarkersFromSpacing(labels, spacing)
	require.NoError(t, err)
	require.InDelta(t, rodLength, length, 1e-9)
	return markers
}

// observe places every marker on the integrated rod.
func observe(t *testing.T, markers []Marker, origin r3.Vector, base Mat3, st Strains) ([]Sample, []r3.Vector) {
	t.Helper()
	pos, frames, err := Integrate(origin, base, rodLength, st)
	require.NoError(t, err)
	samples := make([]Sample, len(markers))
	for i, m := range markers {
		samples[i] = Sample{Label: m.Label, Position: MarkerPosition(pos, frames, rodLength, m.S0, m.Offset)}
	}
	return samples, pos
}

func testOptions(n int) Options {
	opts := DefaultOptions()
	opts.GridElements = n
	return opts
}

func bending(s float64) r3.Vector {
	return r3.Vector{X: 0.006 - 0.00002*s, Y: 0.002}
}

func stretching(s float64) float64 {
	return 1 + 0.0004*s
}

func TestSmooth_StraightRod(t *testing.T) {
	p, err := config.LookupProblem("bend")
	require.NoError(t, err)
	markers, length, err := MarkersFromSpacing(p.MarkerLabels(), p.Spacing)
	require.NoError(t, err)

	origin := r3.Vector{X: 10, Y: 20, Z: 30}
	dir := r3.Vector{X: 1, Y: 2, Z: 2}.Normalize()
	frame := Frame{TimeIndex: 4, Time: 0.25}
	for _, m := range markers {
		frame.Samples = append(frame.Samples, Sample{Label: m.Label, Position: origin.Add(dir.Mul(m.S0))})
	}

	opts := DefaultOptions()
	opts.RestRadius = 5
	e, err := NewEngine(markers, length, opts, nil)
	require.NoError(t, err)
	field, err := e.Smooth(frame)
	require.NoError(t, err)

	assert.Equal(t, 4, field.TimeIndex)
	assert.Equal(t, 0.25, field.Time)
	assert.Equal(t, 100, field.Elements())
	require.Len(t, field.Position, 101)
	require.Len(t, field.Kappa, 99)
	assert.Less(t, field.MarkerRMS, 1e-6)
	for _, k := range field.Kappa {
		assert.Less(t, k.Norm(), 1e-6)
	}
	for j, nu := range field.Stretch {
		assert.InDelta(t, 1, nu, 1e-6)
		assert.InDelta(t, 5, field.Radius[j], 1e-5)
		assert.Equal(t, r3.Vector{Z: nu}, field.Shear[j])
		assert.InDelta(t, 0, field.Director[j].Row(2).Sub(dir).Norm(), 1e-6)
	}
	assert.InDelta(t, 0, field.Position[0].Sub(origin).Norm(), 1e-5)
	assert.InDelta(t, 0, field.Position[100].Sub(origin.Add(dir.Mul(length))).Norm(), 1e-5)
	assert.InDelta(t, length, field.S[100], 1e-9)
}

func TestSmooth_RecoversBendingAndStretch(t *testing.T) {
	const n = 40
	markers := evenMarkers(t, 8)
	truth := sampleStrains(n, bending, stretching)
	samples, pos := observe(t, markers, r3.Vector{X: 5, Y: -3, Z: 2}, ExpSO3(r3.Vector{X: 0.2, Y: -0.1, Z: 0.3}), truth)

	e, err := NewEngine(markers, rodLength, testOptions(n), nil)
	require.NoError(t, err)
	field, err := e.Smooth(Frame{Samples: samples})
	require.NoError(t, err)

	assert.Less(t, field.MarkerRMS, 1e-3)
	assert.Equal(t, 8, field.Markers)
	// Without cross-section markers the roll of the material frame is a
	// gauge freedom; the curvature magnitude is not.
	for j, k := range field.Kappa {
		want := truth.Kappa[j]
		assert.InDelta(t, math.Hypot(want.X, want.Y), math.Hypot(k.X, k.Y), 1e-4, "node %d", j+1)
		assert.InDelta(t, 0, field.Twist[j], 1e-4, "node %d", j+1)
	}
	for j, nu := range field.Stretch {
		assert.InDelta(t, truth.Nu[j], nu, 1e-3, "element %d", j)
	}
	for j := range field.Position {
		assert.Less(t, field.Position[j].Sub(pos[j]).Norm(), 0.05, "node %d", j)
	}
}

// waving bends the rod through a full sine period on top of a constant
// out-of-plane curvature; stretching varies over half a period. Neither has
// vanishing second differences.
func waving(s float64) r3.Vector {
	c := math.Pi / rodLength
	return r3.Vector{X: c * math.Sin(2*math.Pi*s/rodLength), Y: 0.5 * c}
}

func breathing(s float64) float64 {
	return 1 + 0.05*math.Sin(math.Pi*s/rodLength)
}

func TestSmooth_RecoversNonPolynomialField(t *testing.T) {
	const n = 60
	markers := evenMarkers(t, 16)
	truth := sampleStrains(n, waving, breathing)
	samples, pos := observe(t, markers, r3.Vector{X: 1, Y: 2, Z: 3}, Identity(), truth)

	opts := testOptions(n)
	opts.MaxBasisSize = 10
	e, err := NewEngine(markers, rodLength, opts, nil)
	require.NoError(t, err)
	field, err := e.Smooth(Frame{Samples: samples})
	require.NoError(t, err)

	assert.Less(t, field.MarkerRMS, 1e-2)
	c := math.Pi / rodLength
	for j, k := range field.Kappa {
		want := truth.Kappa[j]
		assert.InDelta(t, math.Hypot(want.X, want.Y), math.Hypot(k.X, k.Y), 0.1*c, "node %d", j+1)
	}
	for j, nu := range field.Stretch {
		assert.InDelta(t, truth.Nu[j], nu, 0.01, "element %d", j)
	}
	for j := range field.Position {
		assert.Less(t, field.Position[j].Sub(pos[j]).Norm(), 0.5, "node %d", j)
	}
}

func TestSmooth_DefaultsReproduceBendPreset(t *testing.T) {
	p, err := config.LookupProblem("bend")
	require.NoError(t, err)
	markers, length, err := MarkersFromSpacing(p.MarkerLabels(), p.Spacing)
	require.NoError(t, err)

	opts := DefaultOptions()
	st := Strains{Kappa: make([]r3.Vector, opts.GridElements-1), Nu: make([]float64, opts.GridElements)}
	h := length / float64(opts.GridElements)
	c := math.Pi / length
	for j := range st.Kappa {
		s := float64(j+1) * h
		st.Kappa[j] = r3.Vector{X: c * math.Sin(2*math.Pi*s/length), Y: 0.5 * c}
	}
	for j := range st.Nu {
		st.Nu[j] = 1 + 0.05*math.Sin(math.Pi*(float64(j)+0.5)*h/length)
	}
	pos, frames, err := Integrate(r3.Vector{}, Identity(), length, st)
	require.NoError(t, err)
	var frame Frame
	for _, m := range markers {
		frame.Samples = append(frame.Samples, Sample{Label: m.Label, Position: MarkerPosition(pos, frames, length, m.S0, m.Offset)})
	}

	e, err := NewEngine(markers, length, opts, nil)
	require.NoError(t, err)
	field, err := e.Smooth(frame)
	require.NoError(t, err)
	assert.Less(t, field.MarkerRMS, 0.05)
}

func TestSmooth_ErrorGrowsWithNoise(t *testing.T) {
	const n = 40
	markers := evenMarkers(t, 16)
	samples, pos := observe(t, markers, r3.Vector{}, Identity(), sampleStrains(n, waving, breathing))
	rng := rand.New(rand.NewSource(11))
	noise := make([]r3.Vector, len(samples))
	for i := range noise {
		noise[i] = r3.Vector{X: rng.NormFloat64(), Y: rng.NormFloat64(), Z: rng.NormFloat64()}
	}

	opts := testOptions(n)
	opts.MaxBasisSize = 10
	e, err := NewEngine(markers, rodLength, opts, nil)
	require.NoError(t, err)
	shapeError := func(sigma float64) float64 {
		noisy := append([]Sample(nil), samples...)
		for i := range noisy {
			noisy[i].Position = noisy[i].Position.Add(noise[i].Mul(sigma))
		}
		field, err := e.Smooth(Frame{Samples: noisy})
		require.NoError(t, err, "sigma=%g", sigma)
		var sq float64
		for j := range field.Position {
			d := field.Position[j].Sub(pos[j])
			sq += d.Dot(d)
		}
		return math.Sqrt(sq / float64(len(field.Position)))
	}

	prev := shapeError(0)
	assert.Less(t, prev, 0.5, "noise-free shape error")
	for _, sigma := range []float64{0.02, 0.2, 2} {
		got := shapeError(sigma)
		assert.Greater(t, got, prev, "sigma=%g", sigma)
		prev = got
	}
}

func TestSmooth_TwistFromOffsetMarkers(t *testing.T) {
	const n = 40
	var markers []Marker
	for i := 0; i <= 5; i++ {
		markers = append(markers, Marker{Label: fmt.Sprintf("c%d", i), S0: 32 * float64(i)})
	}
	for i := 0; i < 5; i++ {
		offset := r2.Point{X: 8}
		if i%2 == 1 {
			offset = r2.Point{Y: 8}
		}
		markers = append(markers, Marker{Label: fmt.Sprintf("o%d", i), S0: 16 + 32*float64(i), Offset: offset})
	}
	twisted := func(float64) r3.Vector { return r3.Vector{X: 0.004, Z: 0.003} }
	truth := sampleStrains(n, twisted, func(float64) float64 { return 1 })
	samples, _ := observe(t, markers, r3.Vector{}, Identity(), truth)

	e, err := NewEngine(markers, rodLength, testOptions(n), nil)
	require.NoError(t, err)
	field, err := e.Smooth(Frame{Samples: samples})
	require.NoError(t, err)

	assert.Less(t, field.MarkerRMS, 1e-3)
	for j, k := range field.Kappa {
		assert.InDelta(t, 0.004, k.X, 1e-4, "node %d", j+1)
		assert.InDelta(t, 0, k.Y, 1e-4, "node %d", j+1)
		assert.InDelta(t, 0.003, field.Twist[j], 1e-4, "node %d", j+1)
	}
	assert.InDelta(t, 0, field.Director[0].Row(0).Sub(r3.Vector{X: 1}).Norm(), 1e-3)
}

func TestSmooth_NoisyMarkers(t *testing.T) {
	const n = 40
	markers := evenMarkers(t, 8)
	samples, _ := observe(t, markers, r3.Vector{}, Identity(), sampleStrains(n, bending, stretching))
	rng := rand.New(rand.NewSource(5))
	const sigma = 0.1
	for i := range samples {
		samples[i].Position = samples[i].Position.Add(r3.Vector{X: rng.NormFloat64(), Y: rng.NormFloat64(), Z: rng.NormFloat64()}.Mul(sigma))
	}

	e, err := NewEngine(markers, rodLength, testOptions(n), nil)
	require.NoError(t, err)
	field, err := e.Smooth(Frame{Samples: samples})
	require.NoError(t, err)
	assert.Less(t, field.MarkerRMS, 3*sigma)
	assert.LessOrEqual(t, field.Iterations, DefaultOptions().MaxIterations)
}

func TestSmooth_LowConfidenceWeight(t *testing.T) {
	markers := evenMarkers(t, 6)
	straight := func(s float64) r3.Vector { return r3.Vector{X: s} }
	frame := func(lowConfidence bool) Frame {
		var f Frame
		for _, m := range markers {
			p := straight(m.S0)
			smp := Sample{Label: m.Label, Position: p}
			if m.Label == "m2" {
				smp.Position = p.Add(r3.Vector{Y: 6})
				smp.LowConfidence = lowConfidence
			}
			f.Samples = append(f.Samples, smp)
		}
		return f
	}
	maxKappa := func(f *StrainField) float64 {
		var m float64
		for _, k := range f.Kappa {
			m = math.Max(m, k.Norm())
		}
		return m
	}

	opts := testOptions(30)
	opts.LowConfidenceWeight = 0
	e, err := NewEngine(markers, rodLength, opts, nil)
	require.NoError(t, err)

	dropped, err := e.Smooth(frame(true))
	require.NoError(t, err)
	assert.Equal(t, 5, dropped.Markers)
	assert.Less(t, maxKappa(dropped), 1e-6)

	kept, err := e.Smooth(frame(false))
	require.NoError(t, err)
	assert.Equal(t, 6, kept.Markers)
	assert.Greater(t, maxKappa(kept), 1e-4)
}

func TestSmooth_InsufficientData(t *testing.T) {
	markers := evenMarkers(t, 5)
	at := func(label string, x float64, low bool) Sample {
		return Sample{Label: label, Position: r3.Vector{X: x}, LowConfidence: low}
	}
	tests := []struct {
		name    string
		samples []Sample
		have    int
	}{
		{"two markers", []Sample{at("m0", 0, false), at("m4", 160, false)}, 2},
		{"low confidence does not count", []Sample{at("m0", 0, false), at("m1", 40, true), at("m4", 160, false)}, 2},
		{"unknown labels ignored", []Sample{at("m0", 0, false), at("x", 40, false), at("y", 80, false)}, 1},
		{"nan ignored", []Sample{at("m0", 0, false), at("m1", math.NaN(), false), at("m2", 80, false)}, 2},
		{"repeated label counts once", []Sample{at("m0", 0, false), at("m0", 0, false), at("m2", 80, false)}, 2},
	}
	e, err := NewEngine(markers, rodLength, testOptions(20), nil)
	require.NoError(t, err)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := e.Smooth(Frame{TimeIndex: 9, Samples: tt.samples})
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInsufficientData))
			var ide *InsufficientDataError
			require.True(t, errors.As(err, &ide))
			assert.Equal(t, tt.have, ide.Have)
			assert.Equal(t, 3, ide.Need)
			assert.Equal(t, 9, ide.TimeIndex)
		})
	}
}

func TestSmooth_IterationCap(t *testing.T) {
	const n = 40
	markers := evenMarkers(t, 8)
	samples, _ := observe(t, markers, r3.Vector{}, Identity(), sampleStrains(n, bending, stretching))
	rng := rand.New(rand.NewSource(9))
	for i := range samples {
		samples[i].Position = samples[i].Position.Add(r3.Vector{X: rng.NormFloat64(), Y: rng.NormFloat64()})
	}
	opts := testOptions(n)
	opts.MaxIterations = 1
	opts.ConvergenceTolerance = 1e-15
	e, err := NewEngine(markers, rodLength, opts, nil)
	require.NoError(t, err)

	_, err = e.Smooth(Frame{TimeIndex: 2, Samples: samples})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrSmoothingDiverged))
	var sde *SmoothingDivergedError
	require.True(t, errors.As(err, &sde))
	assert.Equal(t, 1, sde.Iterations)
	assert.Equal(t, report.KindNumerical, sde.FailureKind())
	assert.Greater(t, sde.Diagnostic(), 0.0)
}

func TestNewEngine_InvalidArcLength(t *testing.T) {
	_, err := NewEngine([]Marker{{Label: "m0", S0: 0}, {Label: "m1", S0: 200}}, rodLength, DefaultOptions(), nil)
	assert.True(t, errors.Is(err, ErrInvalidArcLength))

	opts := DefaultOptions()
	opts.GridElements = 2
	_, err = NewEngine(evenMarkers(t, 4), rodLength, opts, nil)
	assert.True(t, errors.Is(err, ErrInvalidArcLength))
}

// runFrames builds frames whose bending grows with time; frame 2 loses all
// but two markers.
func runFrames(t *testing.T, markers []Marker, n int) []Frame {
	t.Helper()
	var frames []Frame
	for ti := 3; ti >= 0; ti-- {
		gain := 1 + 0.2*float64(ti)
		kappa := func(s float64) r3.Vector { return bending(s).Mul(gain) }
		samples, _ := observe(t, markers, r3.Vector{Z: float64(ti)}, Identity(), sampleStrains(n, kappa, stretching))
		if ti == 2 {
			samples = samples[:2]
		}
		frames = append(frames, Frame{TimeIndex: ti, Time: float64(ti) / 60, Samples: samples})
	}
	return frames
}

func TestEngine_RunIsolatesFailures(t *testing.T) {
	monitoring.Mute()
	const n = 24
	markers := evenMarkers(t, 6)
	summary := report.NewSummary()
	opts := testOptions(n)
	opts.Workers = 3
	e, err := NewEngine(markers, rodLength, opts, summary)
	require.NoError(t, err)

	got, err := e.Run(context.Background(), runFrames(t, markers, n))
	require.NoError(t, err)
	require.Len(t, got, 3)
	for i, want := range []int{0, 1, 3} {
		assert.Equal(t, want, got[i].TimeIndex)
	}

	failures := summary.Failures()
	require.Len(t, failures, 1)
	assert.Equal(t, report.StageSmoothing, failures[0].Stage)
	assert.Equal(t, 2, failures[0].Where.TimeIndex)
	assert.Equal(t, report.KindDataSufficiency, failures[0].Kind)

	frac, ok := summary.Completeness(report.StageSmoothing)
	require.True(t, ok)
	assert.Equal(t, 0.75, frac)
	assert.NoError(t, summary.Check(0.5))
	assert.Error(t, summary.Check(0.9))
}

func TestEngine_DeterministicAcrossWorkers(t *testing.T) {
	monitoring.Mute()
	const n = 24
	markers := evenMarkers(t, 6)
	frames := runFrames(t, markers, n)

	serialOpts := testOptions(n)
	serial, err := NewEngine(markers, rodLength, serialOpts, nil)
	require.NoError(t, err)
	parallelOpts := testOptions(n)
	parallelOpts.Workers = 8
	parallel, err := NewEngine(markers, rodLength, parallelOpts, nil)
	require.NoError(t, err)

	a, err := serial.Run(context.Background(), frames)
	require.NoError(t, err)
	b, err := parallel.Run(context.Background(), frames)
	require.NoError(t, err)
	if diff := cmp.Diff(a, b); diff != "" {
		t.Errorf("results differ between worker counts (-serial +parallel):\n%s", diff)
	}
}

func TestEngine_RunCancelled(t *testing.T) {
	markers := evenMarkers(t, 6)
	e, err := NewEngine(markers, rodLength, testOptions(24), nil)
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = e.Run(ctx, runFrames(t, markers, 24))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestFramesFromPositions(t *testing.T) {
	positions := []triangulation.Position3D{
		{Label: "m1", TimeIndex: 3, Coordinate: r3.Vector{X: 1}},
		{Label: "m0", TimeIndex: 1, Coordinate: r3.Vector{X: 2}, LowConfidence: true},
		{Label: "m0", TimeIndex: 3, Coordinate: r3.Vector{X: 3}},
	}
	frames := FramesFromPositions(positions, 30)
	require.Len(t, frames, 2)
	assert.Equal(t, 1, frames[0].TimeIndex)
	assert.InDelta(t, 1.0/30, frames[0].Time, 1e-15)
	assert.Equal(t, []Sample{{Label: "m0", Position: r3.Vector{X: 2}, LowConfidence: true}}, frames[0].Samples)
	assert.Len(t, frames[1].Samples, 2)
	assert.Equal(t, "m1", frames[1].Samples[0].Label)

	assert.Equal(t, 3.0, FramesFromPositions(positions, 0)[1].Time)
}
