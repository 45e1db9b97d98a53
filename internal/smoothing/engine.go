// Package smoothing reconstructs a Cosserat rod's strain field (curvature,
// twist, stretch and shear) from sparse triangulated marker positions.
//
// Each time step is fit independently. The rod is discretized into N
// elements of equal rest length; κ is sampled at the N-1 interior nodes and ν
// per element, both expanded in a small shifted-Legendre basis. A penalized
// least-squares problem over the base pose and the basis coefficients is
// solved with Levenberg-Marquardt, with penalties on the second differences
// of κ and ν and a weak ridge on the twist κ3.
package smoothing

import (
	"context"
	"math"
	"sort"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"golang.org/x/sync/errgroup"

	"github.com/StevenGuo30/BR2-vision-based-smoothing/internal/config"
	"github.com/StevenGuo30/BR2-vision-based-smoothing/internal/monitoring"
	"github.com/StevenGuo30/BR2-vision-based-smoothing/internal/report"
)

// Options controls the smoothing engine.
type Options struct {
	GridElements int
	// MaxBasisSize caps the number of basis functions per strain component.
	// The basis used for a step is clamp(markers-2, 1, MaxBasisSize).
	MaxBasisSize        int
	CurvatureSmoothness float64
	StretchSmoothness   float64
	TwistRidge          float64
	// LowConfidenceWeight scales the squared misfit of low-confidence
	// markers. Zero drops them.
	LowConfidenceWeight float64
	// MinMarkers is the number of confident markers a step needs.
	MinMarkers           int
	ConvergenceTolerance float64
	MaxIterations        int
	// RestRadius is the undeformed cross-section radius. Zero leaves the
	// radius profile at zero.
	RestRadius float64
	Workers    int
	Progress   bool
}

// OptionsFromConfig reads the smoothing settings of a pipeline config.
func OptionsFromConfig(cfg *config.PipelineConfig) Options {
	return Options{
		GridElements:         cfg.GetGridElements(),
		MaxBasisSize:         cfg.GetMaxBasisSize(),
		CurvatureSmoothness:  cfg.GetCurvatureSmoothness(),
		StretchSmoothness:    cfg.GetStretchSmoothness(),
		TwistRidge:           cfg.GetTwistRidge(),
		LowConfidenceWeight:  cfg.GetLowConfidenceWeight(),
		MinMarkers:           cfg.GetMinMarkers(),
		ConvergenceTolerance: cfg.GetConvergenceTolerance(),
		MaxIterations:        cfg.GetMaxIterations(),
		RestRadius:           cfg.GetRestRadius(),
		Workers:              cfg.GetWorkers(),
	}
}

// DefaultOptions returns the built-in defaults with a single worker.
func DefaultOptions() Options {
	opts := OptionsFromConfig(config.EmptyPipelineConfig())
	opts.Workers = 1
	return opts
}

// Sample is one marker's triangulated position at a time step.
type Sample struct {
	Label         string
	Position      r3.Vector
	LowConfidence bool
}

// Frame holds every marker sample of one time step.
type Frame struct {
	TimeIndex int
	Time      float64
	Samples   []Sample
}

// StrainField is the smoothed rod state of one time step. Node quantities
// have N+1 entries, element quantities N and interior-node quantities N-1.
type StrainField struct {
	TimeIndex int
	Time      float64
	// S is the rest arc length of each node.
	S        []float64
	Position []r3.Vector
	// Director holds each element's frame with the directors d1, d2, d3 as
	// rows, so Director[j].Row(2) is the element tangent.
	Director []Mat3
	Kappa    []r3.Vector
	Twist    []float64
	Stretch  []float64
	Shear    []r3.Vector
	Radius   []float64

	Iterations int
	// MarkerRMS is the root-mean-square distance between the fitted and the
	// observed markers, in lab units.
	MarkerRMS float64
	Markers   int
}

// Elements returns the number of elements N.
func (f *StrainField) Elements() int { return len(f.Stretch) }

// Engine smooths frames for one marker assignment.
type Engine struct {
	markers []Marker
	byLabel map[string]int
	length  float64
	opts    Options
	summary *report.Summary
}

// NewEngine validates the marker assignment against the rest length and
// returns an engine. summary may be nil.
func NewEngine(markers []Marker, length float64, opts Options, summary *report.Summary) (*Engine, error) {
	if err := ValidateMarkers(markers, length); err != nil {
		return nil, err
	}
	if opts.GridElements < 4 {
		return nil, &InvalidArcLengthError{Reason: "grid needs at least 4 elements"}
	}
	if opts.MaxBasisSize < 1 {
		opts.MaxBasisSize = 1
	}
	if opts.MinMarkers < 3 {
		opts.MinMarkers = 3
	}
	if opts.MaxIterations < 1 {
		opts.MaxIterations = 1
	}
	sorted := append([]Marker(nil), markers...)
	sortMarkers(sorted)
	byLabel := make(map[string]int, len(sorted))
	for i, m := range sorted {
		byLabel[m.Label] = i
	}
	return &Engine{markers: sorted, byLabel: byLabel, length: length, opts: opts, summary: summary}, nil
}

// Markers returns the assignment ordered by rest arc length.
func (e *Engine) Markers() []Marker {
	return append([]Marker(nil), e.markers...)
}

// Length returns the rest length.
func (e *Engine) Length() float64 { return e.length }

// Smooth fits one time step. Samples for unknown labels and non-finite
// positions are ignored; when a label repeats only the first sample counts.
func (e *Engine) Smooth(f Frame) (*StrainField, error) {
	scale := 1 / e.length
	var targets []target
	confident := 0
	seen := make(map[string]bool, len(f.Samples))
	for _, smp := range f.Samples {
		i, ok := e.byLabel[smp.Label]
		if !ok || seen[smp.Label] || !finiteVector(smp.Position) {
			continue
		}
		seen[smp.Label] = true
		w := 1.0
		if smp.LowConfidence {
			w = e.opts.LowConfidenceWeight
		} else {
			confident++
		}
		if !(w > 0) {
			continue
		}
		m := e.markers[i]
		targets = append(targets, target{
			label:  m.Label,
			s:      m.S0 * scale,
			offset: r2.Point{X: m.Offset.X * scale, Y: m.Offset.Y * scale},
			y:      smp.Position.Mul(scale),
			w:      math.Sqrt(w),
		})
	}
	if confident < e.opts.MinMarkers {
		return nil, &InsufficientDataError{TimeIndex: f.TimeIndex, Have: confident, Need: e.opts.MinMarkers}
	}
	sort.SliceStable(targets, func(i, j int) bool {
		if targets[i].s != targets[j].s {
			return targets[i].s < targets[j].s
		}
		return targets[i].label < targets[j].label
	})

	p := newProblem(targets, e.opts)
	x, err := p.initialGuess()
	if err != nil {
		return nil, &SmoothingDivergedError{TimeIndex: f.TimeIndex, Residual: math.NaN(), Reason: err.Error()}
	}
	iters, err := p.solve(x, e.opts.ConvergenceTolerance, e.opts.MaxIterations)
	rms := p.markerRMS(x) * e.length
	if err != nil {
		return nil, &SmoothingDivergedError{TimeIndex: f.TimeIndex, Iterations: iters, Residual: rms, Reason: err.Error()}
	}

	field := p.field(x, e.length, e.opts.RestRadius)
	field.TimeIndex = f.TimeIndex
	field.Time = f.Time
	field.Iterations = iters
	field.MarkerRMS = rms
	field.Markers = len(targets)
	return field, nil
}

// field converts a solution in rod units back to lab units.
func (p *problem) field(x []float64, length, restRadius float64) *StrainField {
	kappa, nu := p.strains(x)
	pos, frames := p.shape(x)
	n := p.n

	out := &StrainField{
		S:        make([]float64, n+1),
		Position: make([]r3.Vector, n+1),
		Director: make([]Mat3, n),
		Kappa:    make([]r3.Vector, n-1),
		Twist:    make([]float64, n-1),
		Stretch:  make([]float64, n),
		Shear:    make([]r3.Vector, n),
		Radius:   make([]float64, n),
	}
	for j := 0; j <= n; j++ {
		out.S[j] = float64(j) * length / float64(n)
		out.Position[j] = pos[j].Mul(length)
	}
	for j := 0; j < n; j++ {
		out.Director[j] = frames[j].T()
		out.Stretch[j] = nu[j]
		out.Shear[j] = r3.Vector{Z: nu[j]}
		if restRadius > 0 && nu[j] > 0 {
			out.Radius[j] = restRadius / math.Sqrt(nu[j])
		}
	}
	for j := range kappa {
		out.Kappa[j] = kappa[j].Mul(1 / length)
		out.Twist[j] = out.Kappa[j].Z
	}
	return out
}

// Run smooths every frame in parallel. The result is ordered by time index
// and holds only the steps that succeeded; failed steps are recorded in the
// summary. Only context cancellation fails the run.
func (e *Engine) Run(ctx context.Context, frames []Frame) ([]*StrainField, error) {
	ordered := append([]Frame(nil), frames...)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].TimeIndex < ordered[j].TimeIndex })

	results := make([]*StrainField, len(ordered))
	bar := monitoring.NewProgress("smooth", len(ordered), e.opts.Progress)
	defer bar.Finish()

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(max(1, e.opts.Workers))
	for i, f := range ordered {
		g.Go(func() error {
			defer bar.Increment()
			if err := ctx.Err(); err != nil {
				return err
			}
			field, err := e.Smooth(f)
			if err != nil {
				monitoring.Debugf("smooth t=%d: %v", f.TimeIndex, err)
				e.summary.Record(report.StageSmoothing, report.Where{TimeIndex: f.TimeIndex}, err)
				return nil
			}
			results[i] = field
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make([]*StrainField, 0, len(results))
	for _, r := range results {
		if r != nil {
			out = append(out, r)
			e.summary.Observe(report.StageSmoothing, r.MarkerRMS)
		}
	}
	e.summary.Tally(report.StageSmoothing, len(ordered), len(out))
	monitoring.Logf("smoothed %d of %d time steps", len(out), len(ordered))
	return out, nil
}

func finiteVector(v r3.Vector) bool {
	return isFinite(v.X) && isFinite(v.Y) && isFinite(v.Z)
}
