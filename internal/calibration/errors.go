package calibration

import (
	"errors"
	"fmt"

	"github.com/StevenGuo30/BR2-vision-based-smoothing/internal/report"
)

// Sentinel errors for errors.Is checks.
var (
	ErrInsufficientPoints = errors.New("insufficient calibration points")
	ErrSingularSystem     = errors.New("singular calibration system")
	ErrMalformedStore     = errors.New("malformed calibration store")
	ErrNotCoplanar        = errors.New("locked points do not lie on an axis-aligned plane")
)

// InsufficientPointsError reports a camera (or plane) with too few locked
// correspondences for the requested fit.
type InsufficientPointsError struct {
	CameraID int
	Have     int
	Need     int
}

func (e *InsufficientPointsError) Error() string {
	return fmt.Sprintf("camera %d: %d locked points with lab coordinates, need at least %d", e.CameraID, e.Have, e.Need)
}

func (e *InsufficientPointsError) Unwrap() error { return ErrInsufficientPoints }

// FailureKind classifies the error for run summaries.
func (e *InsufficientPointsError) FailureKind() report.Kind { return report.KindDataSufficiency }

// SingularSystemError reports a rank-deficient or numerically singular
// least-squares system. Condition is the condition number of the normalised
// design matrix (+Inf when exactly singular).
type SingularSystemError struct {
	CameraID  int
	Condition float64
	Reason    string
}

func (e *SingularSystemError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("camera %d: singular system (condition %.3g): %s", e.CameraID, e.Condition, e.Reason)
	}
	return fmt.Sprintf("camera %d: singular system (condition %.3g)", e.CameraID, e.Condition)
}

func (e *SingularSystemError) Unwrap() error { return ErrSingularSystem }

// FailureKind classifies the error for run summaries.
func (e *SingularSystemError) FailureKind() report.Kind { return report.KindNumerical }

// Diagnostic returns the condition number.
func (e *SingularSystemError) Diagnostic() float64 { return e.Condition }

func malformed(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrMalformedStore, fmt.Sprintf(format, args...))
}
