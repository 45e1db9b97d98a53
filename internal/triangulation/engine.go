package triangulation

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/StevenGuo30/BR2-vision-based-smoothing/internal/calibration"
	"github.com/StevenGuo30/BR2-vision-based-smoothing/internal/monitoring"
	"github.com/StevenGuo30/BR2-vision-based-smoothing/internal/report"
)

// Options controls the triangulation engine.
type Options struct {
	// ResidualThreshold flags positions whose summed squared reprojection
	// error exceeds it (px²) as low confidence. Zero disables the check.
	ResidualThreshold float64
	// MaxGapFrames enables temporal gap filling of interior occlusions up
	// to this many consecutive frames. Zero disables it.
	MaxGapFrames int
	// Workers bounds parallelism. Zero or negative means one worker.
	Workers int
	// Progress shows a terminal progress bar.
	Progress bool
}

// Engine triangulates tracks against a fixed set of camera models.
type Engine struct {
	models  map[int]*calibration.CameraModel
	opts    Options
	summary *report.Summary
}

// NewEngine creates an engine. summary may be nil.
func NewEngine(models []*calibration.CameraModel, opts Options, summary *report.Summary) *Engine {
	return &Engine{models: ModelSet(models), opts: opts, summary: summary}
}

// Triangulate triangulates one (label, time) pair and applies the residual
// threshold. A position above the threshold is kept and flagged.
func (e *Engine) Triangulate(obs []Observation, label string, t int) (Position3D, error) {
	pos, err := Triangulate(e.models, obs, label, t)
	if err != nil {
		return Position3D{}, err
	}
	if e.opts.ResidualThreshold > 0 && pos.Residual > e.opts.ResidualThreshold {
		pos.LowConfidence = true
		e.summary.Annotate(report.StageTriangulation, report.Where{Label: label, TimeIndex: t}, pos.Residual,
			fmt.Sprintf("residual %.3g px² above threshold %.3g", pos.Residual, e.opts.ResidualThreshold))
	}
	return pos, nil
}

// Run triangulates every (label, time) pair of the track set in parallel.
// The result is ordered by time index and then by the track set's label
// order, independent of worker scheduling. Localized failures are recorded
// in the summary and skipped; only context cancellation fails the run.
func (e *Engine) Run(ctx context.Context, tracks *TrackSet) ([]Position3D, error) {
	type job struct {
		label string
		t     int
	}
	var jobs []job
	labels := tracks.Labels()
	for _, t := range tracks.Times() {
		for _, label := range labels {
			if len(tracks.obs[trackKey{label, t}]) == 0 {
				continue
			}
			jobs = append(jobs, job{label, t})
		}
	}

	results := make([]Position3D, len(jobs))
	ok := make([]bool, len(jobs))
	bar := monitoring.NewProgress("triangulate", len(jobs), e.opts.Progress)
	defer bar.Finish()

	g, ctx := errgroup.WithContext(ctx)
	workers := e.opts.Workers
	if workers < 1 {
		workers = 1
	}
	g.SetLimit(workers)
	for i, j := range jobs {
		obs := tracks.Observations(j.label, j.t)
		g.Go(func() error {
			defer bar.Increment()
			if err := ctx.Err(); err != nil {
				return err
			}
			pos, err := e.Triangulate(obs, j.label, j.t)
			if err != nil {
				monitoring.Debugf("triangulate %s t=%d: %v", j.label, j.t, err)
				e.summary.Record(report.StageTriangulation, report.Where{Label: j.label, TimeIndex: j.t}, err)
				return nil
			}
			results[i] = pos
			ok[i] = true
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make([]Position3D, 0, len(jobs))
	for i := range results {
		if ok[i] {
			out = append(out, results[i])
			e.summary.Observe(report.StageTriangulation, results[i].Residual)
		}
	}
	e.summary.Tally(report.StageTriangulation, len(jobs), len(out))
	monitoring.Logf("triangulated %d of %d marker observations", len(out), len(jobs))

	if e.opts.MaxGapFrames > 0 {
		before := len(out)
		out = FillGaps(out, labels, e.opts.MaxGapFrames)
		monitoring.Logf("filled %d positions across gaps of at most %d frames", len(out)-before, e.opts.MaxGapFrames)
	}
	return out, nil
}
