package triangulation

import (
	"errors"
	"fmt"

	"github.com/StevenGuo30/BR2-vision-based-smoothing/internal/report"
)

// Sentinel errors for errors.Is checks.
var (
	ErrInsufficientViews = errors.New("insufficient camera views")
	ErrDegenerateViews   = errors.New("degenerate view geometry")
)

// InsufficientViewsError reports a marker seen by fewer than two calibrated
// cameras at one time index.
type InsufficientViewsError struct {
	Label     string
	TimeIndex int
	Views     int
}

func (e *InsufficientViewsError) Error() string {
	return fmt.Sprintf("marker %s t=%d: %d usable views, need at least %d", e.Label, e.TimeIndex, e.Views, MinViews)
}

func (e *InsufficientViewsError) Unwrap() error { return ErrInsufficientViews }

// FailureKind classifies the error for run summaries.
func (e *InsufficientViewsError) FailureKind() report.Kind { return report.KindDataSufficiency }

// DegenerateViewsError reports a triangulation system that is numerically
// singular, e.g. every observing ray is (nearly) the same line.
type DegenerateViewsError struct {
	Label     string
	TimeIndex int
	Condition float64
}

func (e *DegenerateViewsError) Error() string {
	return fmt.Sprintf("marker %s t=%d: degenerate views (condition %.3g)", e.Label, e.TimeIndex, e.Condition)
}

func (e *DegenerateViewsError) Unwrap() error { return ErrDegenerateViews }

// FailureKind classifies the error for run summaries.
func (e *DegenerateViewsError) FailureKind() report.Kind { return report.KindNumerical }

// Diagnostic returns the condition number.
func (e *DegenerateViewsError) Diagnostic() float64 { return e.Condition }
