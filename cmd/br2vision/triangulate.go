package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/StevenGuo30/BR2-vision-based-smoothing/internal/calibration"
	"github.com/StevenGuo30/BR2-vision-based-smoothing/internal/dataio"
	"github.com/StevenGuo30/BR2-vision-based-smoothing/internal/monitoring"
	"github.com/StevenGuo30/BR2-vision-based-smoothing/internal/report"
	"github.com/StevenGuo30/BR2-vision-based-smoothing/internal/triangulation"
)

func NewTriangulateCommand(o *globalOptions) *cobra.Command {
	var modelsPath, tracksPath, outPath string
	var trims []string
	cmd := &cobra.Command{
		Use:     "triangulate",
		Short:   "Triangulate 2D marker tracks into 3D trajectories",
		GroupID: gPipeline,
		Long: `Triangulate 2D marker tracks into 3D trajectories.

Every (marker, frame) pair seen by at least two calibrated cameras is
triangulated by linear least squares. Positions whose reprojection residual
exceeds the configured threshold are kept and flagged as low confidence;
short interior gaps are filled by interpolation.

--trim label:frame marks every frame of a marker from frame onwards as lost,
and --trim label:-frame every frame before it.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return o.record(cmd, "triangulate", report.StageTriangulation, func(r *pipelineRun) error {
				mPath, err := r.layout.Path(dataio.CameraModelsFile, modelsPath)
				if err != nil {
					return err
				}
				tPath, err := r.layout.Path(dataio.TracksFile, tracksPath)
				if err != nil {
					return err
				}
				dest, err := r.layout.Path(dataio.TrajectoryFile, outPath)
				if err != nil {
					return err
				}

				models, err := r.files.LoadCameraModels(mPath)
				if err != nil {
					return err
				}
				usable := make([]*calibration.CameraModel, 0, len(models))
				for _, m := range models {
					if !m.Quality.UsableForTriangulation() {
						monitoring.Warnf("camera %d: skipping %s calibration", m.CameraID, m.Quality)
						continue
					}
					usable = append(usable, m)
				}
				tracks, err := r.files.LoadTracks(tPath)
				if err != nil {
					return err
				}
				for _, spec := range trims {
					label, frame, reverse, err := parseTrim(spec)
					if err != nil {
						return err
					}
					n := dataio.TrimTrajectory(tracks, label, frame, reverse)
					monitoring.Logf("trimmed %d tracks of %s at frame %d", n, label, frame)
				}

				engine := triangulation.NewEngine(usable, triangulation.Options{
					ResidualThreshold: r.cfg.GetResidualThreshold(),
					MaxGapFrames:      r.cfg.GetMaxGapFrames(),
					Workers:           r.cfg.GetWorkers(),
					Progress:          o.progress,
				}, r.summary)
				positions, err := engine.Run(cmd.Context(), dataio.TrackSet(tracks))
				if err != nil {
					return err
				}
				if len(positions) == 0 {
					return nil
				}
				if err := r.files.SaveTrajectory(dest, positions, r.cfg.GetFPS()); err != nil {
					return err
				}
				return r.db.SavePositions(r.run.RunID, positions)
			})
		},
	}
	cmd.Flags().StringVar(&modelsPath, "models", "", "camera models JSON (default <data-dir>/<problem>/"+dataio.CameraModelsFile+")")
	cmd.Flags().StringVar(&tracksPath, "tracks", "", "2D tracks CSV (default <data-dir>/<problem>/"+dataio.TracksFile+")")
	cmd.Flags().StringVarP(&outPath, "out", "o", "", "trajectory CSV (default <data-dir>/<problem>/"+dataio.TrajectoryFile+")")
	cmd.Flags().StringArrayVar(&trims, "trim", nil, "trim a marker's tracks, label:frame or label:-frame (repeatable)")
	return cmd
}

// parseTrim parses label:frame, where a leading minus on the frame trims the
// frames before it instead of those after.
func parseTrim(spec string) (label string, frame int, reverse bool, err error) {
	i := strings.LastIndex(spec, ":")
	if i <= 0 || i == len(spec)-1 {
		return "", 0, false, fmt.Errorf("invalid trim %q: want label:frame", spec)
	}
	label, num := spec[:i], spec[i+1:]
	if strings.HasPrefix(num, "-") {
		reverse, num = true, num[1:]
	}
	frame, err = strconv.Atoi(num)
	if err != nil || frame < 0 {
		return "", 0, false, fmt.Errorf("invalid trim frame in %q", spec)
	}
	return label, frame, reverse, nil
}
