package smoothing

import (
	"errors"
	"fmt"

	"github.com/StevenGuo30/BR2-vision-based-smoothing/internal/report"
)

// Sentinel errors for errors.Is checks.
var (
	ErrInsufficientData  = errors.New("insufficient marker data")
	ErrSmoothingDiverged = errors.New("strain smoothing did not converge")
	ErrInvalidArcLength  = errors.New("invalid marker arc length")
)

// InsufficientDataError reports a time step with too few confidently
// triangulated markers to constrain the rod.
type InsufficientDataError struct {
	TimeIndex int
	Have      int
	Need      int
}

func (e *InsufficientDataError) Error() string {
	return fmt.Sprintf("t=%d: %d confident markers, need at least %d", e.TimeIndex, e.Have, e.Need)
}

func (e *InsufficientDataError) Unwrap() error { return ErrInsufficientData }

// FailureKind classifies the error for run summaries.
func (e *InsufficientDataError) FailureKind() report.Kind { return report.KindDataSufficiency }

// SmoothingDivergedError reports an optimization that hit its iteration cap
// or produced a non-finite objective.
type SmoothingDivergedError struct {
	TimeIndex  int
	Iterations int
	// Residual is the marker RMS (lab units) at the last accepted iterate.
	Residual float64
	Reason   string
}

func (e *SmoothingDivergedError) Error() string {
	return fmt.Sprintf("t=%d: %s after %d iterations (marker rms %.3g)", e.TimeIndex, e.Reason, e.Iterations, e.Residual)
}

func (e *SmoothingDivergedError) Unwrap() error { return ErrSmoothingDiverged }

// FailureKind classifies the error for run summaries.
func (e *SmoothingDivergedError) FailureKind() report.Kind { return report.KindNumerical }

// Diagnostic returns the last marker RMS.
func (e *SmoothingDivergedError) Diagnostic() float64 { return e.Residual }

// InvalidArcLengthError reports a marker arc-length assignment that is
// inconsistent with the rod's rest length.
type InvalidArcLengthError struct {
	Label  string
	S0     float64
	Reason string
}

func (e *InvalidArcLengthError) Error() string {
	if e.Label == "" {
		return "arc length: " + e.Reason
	}
	return fmt.Sprintf("marker %s at s=%g: %s", e.Label, e.S0, e.Reason)
}

func (e *InvalidArcLengthError) Unwrap() error { return ErrInvalidArcLength }

// FailureKind classifies the error for run summaries.
func (e *InvalidArcLengthError) FailureKind() report.Kind { return report.KindConfiguration }
