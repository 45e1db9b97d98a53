package dataio

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"

	"github.com/StevenGuo30/BR2-vision-based-smoothing/internal/calibration"
)

type storeFile struct {
	Points []storePoint `json:"points"`
}

type storePoint struct {
	Camera int         `json:"camera"`
	Frame  int         `json:"frame"`
	Label  string      `json:"label"`
	Pixel  [2]float64  `json:"pixel"`
	Lab    *[3]float64 `json:"lab,omitempty"`
	Locked bool        `json:"locked"`
}

// ReadCalibrationStore decodes a calibration point store. Structural
// problems (bad JSON, duplicate labels, locked points without a lab
// coordinate) wrap calibration.ErrMalformedStore.
func ReadCalibrationStore(r io.Reader) (*calibration.Store, error) {
	var f storeFile
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("%w: %v", calibration.ErrMalformedStore, err)
	}
	store := calibration.NewStore()
	for i, sp := range f.Points {
		p := calibration.Point{
			CameraID: sp.Camera,
			FrameID:  sp.Frame,
			Label:    sp.Label,
			Pixel:    r2.Point{X: sp.Pixel[0], Y: sp.Pixel[1]},
			Locked:   sp.Locked,
		}
		if sp.Lab != nil {
			p.Lab = &r3.Vector{X: sp.Lab[0], Y: sp.Lab[1], Z: sp.Lab[2]}
		}
		if err := store.Add(p); err != nil {
			return nil, errors.Wrapf(err, "point %d", i)
		}
	}
	return store, nil
}

// WriteCalibrationStore encodes every point of the store, ordered by
// camera, frame and label.
func WriteCalibrationStore(w io.Writer, store *calibration.Store) error {
	points := store.Points()
	f := storeFile{Points: make([]storePoint, len(points))}
	for i, p := range points {
		sp := storePoint{
			Camera: p.CameraID,
			Frame:  p.FrameID,
			Label:  p.Label,
			Pixel:  [2]float64{p.Pixel.X, p.Pixel.Y},
			Locked: p.Locked,
		}
		if p.HasLab() {
			sp.Lab = &[3]float64{p.Lab.X, p.Lab.Y, p.Lab.Z}
		}
		f.Points[i] = sp
	}
	return writeJSON(w, f)
}

type modelFile struct {
	CameraID    int         `json:"camera_id"`
	Params      [11]float64 `json:"params"`
	FitResidual float64     `json:"fit_residual"`
	PointsUsed  int         `json:"points_used"`
	Condition   float64     `json:"condition"`
	Quality     string      `json:"quality"`
}

// ReadCameraModels decodes the camera models written by WriteCameraModels.
func ReadCameraModels(r io.Reader) ([]*calibration.CameraModel, error) {
	var files []modelFile
	if err := json.NewDecoder(r).Decode(&files); err != nil {
		return nil, errors.Wrap(err, "decoding camera models")
	}
	seen := make(map[int]bool, len(files))
	models := make([]*calibration.CameraModel, len(files))
	for i, f := range files {
		if f.CameraID <= 0 {
			return nil, errors.Errorf("model %d: camera id must be positive, got %d", i, f.CameraID)
		}
		if seen[f.CameraID] {
			return nil, errors.Errorf("model %d: duplicate camera %d", i, f.CameraID)
		}
		seen[f.CameraID] = true
		models[i] = &calibration.CameraModel{
			CameraID:    f.CameraID,
			Params:      f.Params,
			FitResidual: f.FitResidual,
			PointsUsed:  f.PointsUsed,
			Condition:   f.Condition,
			Quality:     calibration.Quality(f.Quality),
		}
	}
	return models, nil
}

// WriteCameraModels encodes models in the order given.
func WriteCameraModels(w io.Writer, models []*calibration.CameraModel) error {
	files := make([]modelFile, len(models))
	for i, m := range models {
		files[i] = modelFile{
			CameraID:    m.CameraID,
			Params:      m.Params,
			FitResidual: m.FitResidual,
			PointsUsed:  m.PointsUsed,
			Condition:   m.Condition,
			Quality:     string(m.Quality),
		}
	}
	return writeJSON(w, files)
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
