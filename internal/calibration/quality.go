package calibration

import "fmt"

// Quality represents the assessed quality of a camera calibration.
type Quality string

const (
	// QualityExcellent indicates RMS < 0.5px
	QualityExcellent Quality = "excellent"
	// QualityGood indicates RMS 0.5-1.5px, fine for triangulation
	QualityGood Quality = "good"
	// QualityFair indicates RMS 1.5-3px, usable but consider re-locking points
	QualityFair Quality = "fair"
	// QualityPoor indicates RMS > 3px, requires recalibration
	QualityPoor Quality = "poor"
	// QualityUnknown indicates the residual was not computed
	QualityUnknown Quality = "unknown"
)

// Reprojection RMS thresholds (pixels)
const (
	RMSThresholdExcellent = 0.5
	RMSThresholdGood      = 1.5
	RMSThresholdFair      = 3.0
)

// GradeResidual maps an RMS reprojection error to a quality level.
func GradeResidual(rms float64) Quality {
	switch {
	case rms < 0:
		return QualityUnknown
	case rms < RMSThresholdExcellent:
		return QualityExcellent
	case rms < RMSThresholdGood:
		return QualityGood
	case rms < RMSThresholdFair:
		return QualityFair
	default:
		return QualityPoor
	}
}

// UsableForTriangulation returns true if the quality is sufficient to feed
// the triangulation stage. Poor models are still returned by Calibrate but
// callers may choose to exclude them.
func (q Quality) UsableForTriangulation() bool {
	return q == QualityExcellent || q == QualityGood || q == QualityFair
}

// String returns a human-readable description of the quality.
func (q Quality) String() string {
	switch q {
	case QualityExcellent:
		return fmt.Sprintf("excellent (RMS < %gpx)", RMSThresholdExcellent)
	case QualityGood:
		return fmt.Sprintf("good (RMS %g-%gpx)", RMSThresholdExcellent, RMSThresholdGood)
	case QualityFair:
		return fmt.Sprintf("fair (RMS %g-%gpx)", RMSThresholdGood, RMSThresholdFair)
	case QualityPoor:
		return fmt.Sprintf("poor (RMS > %gpx)", RMSThresholdFair)
	case QualityUnknown:
		return "unknown (RMS not computed)"
	default:
		return string(q)
	}
}
