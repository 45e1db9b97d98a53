package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

// DefaultConfigPath is the path to the canonical pipeline defaults file.
// This is the single source of truth for all default numerical settings.
const DefaultConfigPath = "config/pipeline.defaults.json"

// Calibration modes accepted by CalibrationMode.
const (
	ModeAuto    = "auto"
	ModeSpatial = "spatial"
	ModePlanar  = "planar"
)

// PipelineConfig represents the root configuration for the calibration,
// triangulation and smoothing stages. Every field is optional; the Get*
// accessors supply defaults for anything omitted from the JSON file.
type PipelineConfig struct {
	// Calibration params
	CalibrationMode        *string  `json:"calibration_mode,omitempty"` // auto, spatial or planar
	ConditionWarnThreshold *float64 `json:"condition_warn_threshold,omitempty"`

	// Triangulation params
	ResidualThreshold *float64 `json:"residual_threshold,omitempty"` // px², sum over views
	MaxGapFrames      *int     `json:"max_gap_frames,omitempty"`
	FPS               *float64 `json:"fps,omitempty"`

	// Smoothing params
	GridElements         *int     `json:"grid_elements,omitempty"`
	MaxBasisSize         *int     `json:"max_basis_size,omitempty"`
	CurvatureSmoothness  *float64 `json:"curvature_smoothness,omitempty"`
	StretchSmoothness    *float64 `json:"stretch_smoothness,omitempty"`
	TwistRidge           *float64 `json:"twist_ridge,omitempty"`
	LowConfidenceWeight  *float64 `json:"low_confidence_weight,omitempty"`
	MinMarkers           *int     `json:"min_markers,omitempty"`
	ConvergenceTolerance *float64 `json:"convergence_tolerance,omitempty"`
	MaxIterations        *int     `json:"max_iterations,omitempty"`
	RestRadius           *float64 `json:"rest_radius,omitempty"`
	Workers              *int     `json:"workers,omitempty"`
	MinCompleteness      *float64 `json:"min_completeness,omitempty"`
}

// Helper functions to create pointers
func ptrFloat64(v float64) *float64 { return &v }
func ptrString(v string) *string    { return &v }
func ptrInt(v int) *int             { return &v }

// EmptyPipelineConfig returns a PipelineConfig with all fields set to nil.
// Use LoadPipelineConfig to load actual values from the defaults file.
func EmptyPipelineConfig() *PipelineConfig {
	return &PipelineConfig{}
}

// DefaultPipelineConfig returns a PipelineConfig with every field populated
// from the built-in defaults.
func DefaultPipelineConfig() *PipelineConfig {
	e := EmptyPipelineConfig()
	return &PipelineConfig{
		CalibrationMode:        ptrString(e.GetCalibrationMode()),
		ConditionWarnThreshold: ptrFloat64(e.GetConditionWarnThreshold()),
		ResidualThreshold:      ptrFloat64(e.GetResidualThreshold()),
		MaxGapFrames:           ptrInt(e.GetMaxGapFrames()),
		FPS:                    ptrFloat64(e.GetFPS()),
		GridElements:           ptrInt(e.GetGridElements()),
		MaxBasisSize:           ptrInt(e.GetMaxBasisSize()),
		CurvatureSmoothness:    ptrFloat64(e.GetCurvatureSmoothness()),
		StretchSmoothness:      ptrFloat64(e.GetStretchSmoothness()),
		TwistRidge:             ptrFloat64(e.GetTwistRidge()),
		LowConfidenceWeight:    ptrFloat64(e.GetLowConfidenceWeight()),
		MinMarkers:             ptrInt(e.GetMinMarkers()),
		ConvergenceTolerance:   ptrFloat64(e.GetConvergenceTolerance()),
		MaxIterations:          ptrInt(e.GetMaxIterations()),
		RestRadius:             ptrFloat64(e.GetRestRadius()),
		Workers:                ptrInt(0),
		MinCompleteness:        ptrFloat64(e.GetMinCompleteness()),
	}
}

// LoadPipelineConfig loads a PipelineConfig from a JSON file.
// The file is validated to ensure it has a .json extension and is under the max file size.
// Fields omitted from the JSON file retain their default values, so
// partial configs are safe.
func LoadPipelineConfig(path string) (*PipelineConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	// Check file size for safety (max 1MB)
	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyPipelineConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// MustLoadDefaultConfig loads the canonical defaults from DefaultConfigPath.
// It searches for the file in the current directory and common parent directories.
// Panics if the file cannot be loaded, intended for test setup.
func MustLoadDefaultConfig() *PipelineConfig {
	candidates := []string{
		DefaultConfigPath,
		"../../" + DefaultConfigPath,    // from internal/config/
		"../../../" + DefaultConfigPath, // from cmd/br2vision/
	}
	for _, path := range candidates {
		if cfg, err := LoadPipelineConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Validate checks that the configuration values are valid.
func (c *PipelineConfig) Validate() error {
	if c.CalibrationMode != nil {
		switch strings.ToLower(*c.CalibrationMode) {
		case ModeAuto, ModeSpatial, ModePlanar:
		default:
			return fmt.Errorf("calibration_mode must be one of auto, spatial, planar; got %q", *c.CalibrationMode)
		}
	}
	if c.ConditionWarnThreshold != nil && *c.ConditionWarnThreshold <= 1 {
		return fmt.Errorf("condition_warn_threshold must be > 1, got %g", *c.ConditionWarnThreshold)
	}
	if c.ResidualThreshold != nil && *c.ResidualThreshold <= 0 {
		return fmt.Errorf("residual_threshold must be positive, got %g", *c.ResidualThreshold)
	}
	if c.MaxGapFrames != nil && *c.MaxGapFrames < 0 {
		return fmt.Errorf("max_gap_frames must be non-negative, got %d", *c.MaxGapFrames)
	}
	if c.FPS != nil && *c.FPS <= 0 {
		return fmt.Errorf("fps must be positive, got %g", *c.FPS)
	}
	if c.GridElements != nil && *c.GridElements < 4 {
		return fmt.Errorf("grid_elements must be at least 4, got %d", *c.GridElements)
	}
	if c.MaxBasisSize != nil && (*c.MaxBasisSize < 1 || *c.MaxBasisSize > 12) {
		return fmt.Errorf("max_basis_size must be between 1 and 12, got %d", *c.MaxBasisSize)
	}
	for name, v := range map[string]*float64{
		"curvature_smoothness": c.CurvatureSmoothness,
		"stretch_smoothness":   c.StretchSmoothness,
		"twist_ridge":          c.TwistRidge,
		"rest_radius":          c.RestRadius,
	} {
		if v != nil && *v < 0 {
			return fmt.Errorf("%s must be non-negative, got %g", name, *v)
		}
	}
	if c.LowConfidenceWeight != nil && (*c.LowConfidenceWeight < 0 || *c.LowConfidenceWeight > 1) {
		return fmt.Errorf("low_confidence_weight must be between 0 and 1, got %g", *c.LowConfidenceWeight)
	}
	if c.MinMarkers != nil && *c.MinMarkers < 3 {
		return fmt.Errorf("min_markers must be at least 3, got %d", *c.MinMarkers)
	}
	if c.ConvergenceTolerance != nil && *c.ConvergenceTolerance <= 0 {
		return fmt.Errorf("convergence_tolerance must be positive, got %g", *c.ConvergenceTolerance)
	}
	if c.MaxIterations != nil && *c.MaxIterations < 1 {
		return fmt.Errorf("max_iterations must be at least 1, got %d", *c.MaxIterations)
	}
	if c.Workers != nil && *c.Workers < 0 {
		return fmt.Errorf("workers must be non-negative, got %d", *c.Workers)
	}
	if c.MinCompleteness != nil && (*c.MinCompleteness < 0 || *c.MinCompleteness > 1) {
		return fmt.Errorf("min_completeness must be between 0 and 1, got %g", *c.MinCompleteness)
	}
	return nil
}

// GetCalibrationMode returns the calibration_mode value or the default.
func (c *PipelineConfig) GetCalibrationMode() string {
	if c.CalibrationMode == nil || *c.CalibrationMode == "" {
		return ModeAuto
	}
	return strings.ToLower(*c.CalibrationMode)
}

// GetConditionWarnThreshold returns the condition_warn_threshold value or the default.
func (c *PipelineConfig) GetConditionWarnThreshold() float64 {
	if c.ConditionWarnThreshold == nil {
		return 1e7
	}
	return *c.ConditionWarnThreshold
}

// GetResidualThreshold returns the residual_threshold value or the default.
func (c *PipelineConfig) GetResidualThreshold() float64 {
	if c.ResidualThreshold == nil {
		return 25.0
	}
	return *c.ResidualThreshold
}

// GetMaxGapFrames returns the max_gap_frames value or the default (gap filling off).
func (c *PipelineConfig) GetMaxGapFrames() int {
	if c.MaxGapFrames == nil {
		return 0
	}
	return *c.MaxGapFrames
}

// GetFPS returns the fps value or the default.
func (c *PipelineConfig) GetFPS() float64 {
	if c.FPS == nil {
		return 60
	}
	return *c.FPS
}

// GetGridElements returns the grid_elements value or the default.
func (c *PipelineConfig) GetGridElements() int {
	if c.GridElements == nil {
		return 100
	}
	return *c.GridElements
}

// GetMaxBasisSize returns the max_basis_size value or the default.
func (c *PipelineConfig) GetMaxBasisSize() int {
	if c.MaxBasisSize == nil {
		return 5
	}
	return *c.MaxBasisSize
}

// GetCurvatureSmoothness returns the curvature_smoothness value or the default.
func (c *PipelineConfig) GetCurvatureSmoothness() float64 {
	if c.CurvatureSmoothness == nil {
		return 1e-11
	}
	return *c.CurvatureSmoothness
}

// GetStretchSmoothness returns the stretch_smoothness value or the default.
func (c *PipelineConfig) GetStretchSmoothness() float64 {
	if c.StretchSmoothness == nil {
		return 1e-11
	}
	return *c.StretchSmoothness
}

// GetTwistRidge returns the twist_ridge value or the default.
func (c *PipelineConfig) GetTwistRidge() float64 {
	if c.TwistRidge == nil {
		return 1e-8
	}
	return *c.TwistRidge
}

// GetLowConfidenceWeight returns the low_confidence_weight value or the default.
func (c *PipelineConfig) GetLowConfidenceWeight() float64 {
	if c.LowConfidenceWeight == nil {
		return 0.1
	}
	return *c.LowConfidenceWeight
}

// GetMinMarkers returns the min_markers value or the default.
func (c *PipelineConfig) GetMinMarkers() int {
	if c.MinMarkers == nil {
		return 3
	}
	return *c.MinMarkers
}

// GetConvergenceTolerance returns the convergence_tolerance value or the default.
func (c *PipelineConfig) GetConvergenceTolerance() float64 {
	if c.ConvergenceTolerance == nil {
		return 1e-9
	}
	return *c.ConvergenceTolerance
}

// GetMaxIterations returns the max_iterations value or the default.
func (c *PipelineConfig) GetMaxIterations() int {
	if c.MaxIterations == nil {
		return 100
	}
	return *c.MaxIterations
}

// GetRestRadius returns the rest_radius value or the default.
func (c *PipelineConfig) GetRestRadius() float64 {
	if c.RestRadius == nil {
		return 0
	}
	return *c.RestRadius
}

// GetWorkers returns the number of parallel workers. Zero means one per CPU.
func (c *PipelineConfig) GetWorkers() int {
	if c.Workers == nil || *c.Workers == 0 {
		return runtime.NumCPU()
	}
	return *c.Workers
}

// GetMinCompleteness returns the min_completeness value or the default.
// Zero means any non-zero fraction of reconstructed time steps succeeds.
func (c *PipelineConfig) GetMinCompleteness() float64 {
	if c.MinCompleteness == nil {
		return 0
	}
	return *c.MinCompleteness
}
