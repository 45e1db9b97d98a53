package dataio

import (
	"io"
	"path/filepath"

	"github.com/pkg/errors"

	"github.com/StevenGuo30/BR2-vision-based-smoothing/internal/calibration"
	"github.com/StevenGuo30/BR2-vision-based-smoothing/internal/fsutil"
	"github.com/StevenGuo30/BR2-vision-based-smoothing/internal/triangulation"
)

// Artifact file names inside a problem directory.
const (
	CalibrationStoreFile = "calibration_points.json"
	CameraModelsFile     = "camera_models.json"
	TracksFile           = "tracks.csv"
	TrajectoryFile       = "trajectory.csv"
	ResultFile           = "strain_result.json"
	MarkersFile          = "markers.yaml"
	PlotsDir             = "plots"
)

// Layout places a problem's artifacts under Root/<problem>/.
type Layout struct {
	Root    string
	Problem string
}

// Dir returns the problem directory.
func (l Layout) Dir() string {
	return filepath.Join(l.Root, fsutil.SanitizeFilename(l.Problem))
}

// Path returns the location of an artifact, or of override when it is
// set. Default locations are checked to stay inside the problem directory.
func (l Layout) Path(name, override string) (string, error) {
	if override != "" {
		return override, nil
	}
	p := filepath.Join(l.Dir(), name)
	if err := fsutil.WithinDirectory(p, l.Dir()); err != nil {
		return "", err
	}
	return p, nil
}

// Files reads and writes artifacts through a filesystem.
type Files struct {
	FS fsutil.FileSystem
}

// NewFiles returns artifact IO over fsys, or the OS filesystem when fsys
// is nil.
func NewFiles(fsys fsutil.FileSystem) *Files {
	if fsys == nil {
		fsys = fsutil.OSFileSystem{}
	}
	return &Files{FS: fsys}
}

func (f *Files) load(path string, decode func(io.Reader) error) error {
	r, err := f.FS.Open(path)
	if err != nil {
		return errors.Wrapf(err, "opening %s", path)
	}
	defer r.Close()
	return errors.Wrapf(decode(r), "reading %s", path)
}

func (f *Files) save(path string, encode func(io.Writer) error) error {
	if err := f.FS.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return errors.Wrapf(err, "creating directory for %s", path)
	}
	w, err := f.FS.Create(path)
	if err != nil {
		return errors.Wrapf(err, "creating %s", path)
	}
	if err := encode(w); err != nil {
		w.Close()
		return errors.Wrapf(err, "writing %s", path)
	}
	return errors.Wrapf(w.Close(), "closing %s", path)
}

// LoadCalibrationStore reads a calibration point store.
func (f *Files) LoadCalibrationStore(path string) (store *calibration.Store, err error) {
	err = f.load(path, func(r io.Reader) error {
		store, err = ReadCalibrationStore(r)
		return err
	})
	return store, err
}

// SaveCalibrationStore writes a calibration point store.
func (f *Files) SaveCalibrationStore(path string, store *calibration.Store) error {
	return f.save(path, func(w io.Writer) error { return WriteCalibrationStore(w, store) })
}

// LoadCameraModels reads calibrated camera models.
func (f *Files) LoadCameraModels(path string) (models []*calibration.CameraModel, err error) {
	err = f.load(path, func(r io.Reader) error {
		models, err = ReadCameraModels(r)
		return err
	})
	return models, err
}

// SaveCameraModels writes calibrated camera models.
func (f *Files) SaveCameraModels(path string, models []*calibration.CameraModel) error {
	return f.save(path, func(w io.Writer) error { return WriteCameraModels(w, models) })
}

// LoadTracks reads 2D marker tracks.
func (f *Files) LoadTracks(path string) (tracks []*Track, err error) {
	err = f.load(path, func(r io.Reader) error {
		tracks, err = ReadTracks(r)
		return err
	})
	return tracks, err
}

// SaveTracks writes 2D marker tracks.
func (f *Files) SaveTracks(path string, tracks []*Track) error {
	return f.save(path, func(w io.Writer) error { return WriteTracks(w, tracks) })
}

// LoadTrajectory reads triangulated positions.
func (f *Files) LoadTrajectory(path string) (positions []triangulation.Position3D, err error) {
	err = f.load(path, func(r io.Reader) error {
		positions, err = ReadTrajectory(r)
		return err
	})
	return positions, err
}

// SaveTrajectory writes triangulated positions.
func (f *Files) SaveTrajectory(path string, positions []triangulation.Position3D, fps float64) error {
	return f.save(path, func(w io.Writer) error { return WriteTrajectory(w, positions, fps) })
}

// LoadResult reads a strain result artifact.
func (f *Files) LoadResult(path string) (res *Result, err error) {
	err = f.load(path, func(r io.Reader) error {
		res, err = ReadResult(r)
		return err
	})
	return res, err
}

// SaveResult writes a strain result artifact.
func (f *Files) SaveResult(path string, res *Result) error {
	return f.save(path, func(w io.Writer) error { return WriteResult(w, res) })
}
