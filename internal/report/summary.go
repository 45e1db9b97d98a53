// Package report collects localized failures and per-stage completeness for
// one pipeline run.
package report

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/multierr"
)

// Kind classifies a failure by how the run treats it.
type Kind string

const (
	// KindConfiguration is fatal at setup; no partial run is attempted.
	KindConfiguration Kind = "configuration"
	// KindDataSufficiency is fatal for one camera, marker or time step only.
	KindDataSufficiency Kind = "data-sufficiency"
	// KindNumerical covers singular solves and non-convergence.
	KindNumerical Kind = "numerical"
	// KindConsistency is an annotation (residual above threshold), never a failure.
	KindConsistency Kind = "consistency"
	// KindOther is used for errors that do not classify themselves.
	KindOther Kind = "other"
)

// Stage names the pipeline step that produced a failure.
type Stage string

const (
	StageCalibration   Stage = "calibration"
	StageTriangulation Stage = "triangulation"
	StageSmoothing     Stage = "smoothing"
)

// Classifier is implemented by error types that know their failure kind.
type Classifier interface {
	FailureKind() Kind
}

// Where locates a failure. Unused fields are left at their zero value, with
// TimeIndex set to -1 when the failure is not tied to a time step.
type Where struct {
	CameraID  int
	Label     string
	TimeIndex int
}

// Failure is one recorded localized error.
type Failure struct {
	Stage      Stage
	Kind       Kind
	Where      Where
	Err        error
	Diagnostic float64 // residual or condition number, when the error carries one
}

type tally struct {
	total     int
	succeeded int
}

// Summary is safe for concurrent use by the worker pools of every stage.
type Summary struct {
	mu        sync.Mutex
	failures  []Failure
	tallies   map[Stage]*tally
	residuals map[Stage][]float64
}

// NewSummary returns an empty run summary.
func NewSummary() *Summary {
	return &Summary{
		tallies:   make(map[Stage]*tally),
		residuals: make(map[Stage][]float64),
	}
}

// Diagnosed is implemented by errors carrying a residual or condition value.
type Diagnosed interface {
	Diagnostic() float64
}

// Record adds a failure for the given stage and location. The kind is taken
// from the error when it implements Classifier.
func (s *Summary) Record(stage Stage, where Where, err error) {
	if s == nil || err == nil {
		return
	}
	f := Failure{Stage: stage, Kind: KindOther, Where: where, Err: err}
	var c Classifier
	if errors.As(err, &c) {
		f.Kind = c.FailureKind()
	}
	var d Diagnosed
	if errors.As(err, &d) {
		f.Diagnostic = d.Diagnostic()
	}
	s.mu.Lock()
	s.failures = append(s.failures, f)
	s.mu.Unlock()
}

// Annotate records a consistency annotation, such as a low-confidence point.
// Annotations are listed but never make the run fail.
func (s *Summary) Annotate(stage Stage, where Where, residual float64, msg string) {
	if s == nil {
		return
	}
	s.mu.Lock()
	s.failures = append(s.failures, Failure{
		Stage:      stage,
		Kind:       KindConsistency,
		Where:      where,
		Err:        errors.New(msg),
		Diagnostic: residual,
	})
	s.mu.Unlock()
}

// Tally adds attempted and succeeded unit counts for a stage. A unit is a
// camera for calibration, a (marker, time) pair for triangulation and a time
// step for smoothing.
func (s *Summary) Tally(stage Stage, attempted, succeeded int) {
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tallies[stage]
	if !ok {
		t = &tally{}
		s.tallies[stage] = t
	}
	t.total += attempted
	t.succeeded += succeeded
}

// Observe records a residual value for the stage statistics.
func (s *Summary) Observe(stage Stage, residual float64) {
	if s == nil {
		return
	}
	s.mu.Lock()
	s.residuals[stage] = append(s.residuals[stage], residual)
	s.mu.Unlock()
}

// Failures returns the recorded failures sorted by stage, time, camera and
// label, so output does not depend on worker completion order.
func (s *Summary) Failures() []Failure {
	s.mu.Lock()
	out := make([]Failure, len(s.failures))
	copy(out, s.failures)
	s.mu.Unlock()

	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Stage != b.Stage {
			return stageOrder(a.Stage) < stageOrder(b.Stage)
		}
		if a.Where.TimeIndex != b.Where.TimeIndex {
			return a.Where.TimeIndex < b.Where.TimeIndex
		}
		if a.Where.CameraID != b.Where.CameraID {
			return a.Where.CameraID < b.Where.CameraID
		}
		return a.Where.Label < b.Where.Label
	})
	return out
}

// Completeness returns the succeeded fraction for the stage and whether the
// stage was tallied at all.
func (s *Summary) Completeness(stage Stage) (float64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tallies[stage]
	if !ok || t.total == 0 {
		return 0, false
	}
	return float64(t.succeeded) / float64(t.total), true
}

// Err combines every non-annotation failure into one error, or nil.
func (s *Summary) Err() error {
	var err error
	for _, f := range s.Failures() {
		if f.Kind == KindConsistency {
			continue
		}
		err = multierr.Append(err, fmt.Errorf("%s: %s: %w", f.Stage, f.Where, f.Err))
	}
	return err
}

// Check reports whether the run succeeded overall: every tallied stage must
// have reconstructed a non-zero fraction of its units, and at least
// minCompleteness of them.
func (s *Summary) Check(minCompleteness float64) error {
	var errs []error
	for _, stage := range []Stage{StageCalibration, StageTriangulation, StageSmoothing} {
		frac, ok := s.Completeness(stage)
		if !ok {
			continue
		}
		if frac == 0 {
			errs = append(errs, fmt.Errorf("%s: nothing reconstructed", stage))
			continue
		}
		if frac < minCompleteness {
			errs = append(errs, fmt.Errorf("%s: completeness %.3f below required %.3f", stage, frac, minCompleteness))
		}
	}
	return multierr.Combine(errs...)
}

func (w Where) String() string {
	out := ""
	if w.CameraID > 0 {
		out += fmt.Sprintf("camera %d", w.CameraID)
	}
	if w.Label != "" {
		if out != "" {
			out += " "
		}
		out += fmt.Sprintf("marker %s", w.Label)
	}
	if w.TimeIndex >= 0 {
		if out != "" {
			out += " "
		}
		out += fmt.Sprintf("t=%d", w.TimeIndex)
	}
	if out == "" {
		return "run"
	}
	return out
}

func stageOrder(s Stage) int {
	switch s {
	case StageCalibration:
		return 0
	case StageTriangulation:
		return 1
	case StageSmoothing:
		return 2
	default:
		return 3
	}
}
