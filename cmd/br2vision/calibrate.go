package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/StevenGuo30/BR2-vision-based-smoothing/internal/calibration"
	"github.com/StevenGuo30/BR2-vision-based-smoothing/internal/dataio"
	"github.com/StevenGuo30/BR2-vision-based-smoothing/internal/monitoring"
	"github.com/StevenGuo30/BR2-vision-based-smoothing/internal/report"
)

func NewCalibrateCommand(o *globalOptions) *cobra.Command {
	var pointsPath, modelsPath string
	cmd := &cobra.Command{
		Use:     "calibrate",
		Short:   "Fit a DLT camera model for every camera in the calibration store",
		GroupID: gPipeline,
		Long: `Fit a DLT camera model for every camera in the calibration store.

Each camera is fitted from its locked calibration points. Cameras with too
few points or a singular system are reported and skipped; the rest are
written to the camera models file and stored with the run.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return o.record(cmd, "calibrate", report.StageCalibration, func(r *pipelineRun) error {
				storePath, err := r.layout.Path(dataio.CalibrationStoreFile, pointsPath)
				if err != nil {
					return err
				}
				outPath, err := r.layout.Path(dataio.CameraModelsFile, modelsPath)
				if err != nil {
					return err
				}
				store, err := r.files.LoadCalibrationStore(storePath)
				if err != nil {
					return err
				}

				models, err := calibration.CalibrateAll(cmd.Context(), store, calibration.Options{
					ConditionWarnThreshold: r.cfg.GetConditionWarnThreshold(),
					Workers:                r.cfg.GetWorkers(),
				}, r.summary)
				if err != nil {
					return err
				}
				for _, m := range models {
					monitoring.Logf("camera %d: rms %.3f px over %d points (%s)", m.CameraID, m.FitResidual, m.PointsUsed, m.Quality)
					if !m.Quality.UsableForTriangulation() {
						r.summary.Annotate(report.StageCalibration, report.Where{CameraID: m.CameraID, TimeIndex: -1}, m.FitResidual,
							fmt.Sprintf("calibration quality %s", m.Quality))
					}
				}
				if len(models) == 0 {
					return nil
				}
				if err := r.files.SaveCameraModels(outPath, models); err != nil {
					return err
				}
				return r.db.SaveCameraModels(r.run.RunID, models)
			})
		},
	}
	cmd.Flags().StringVar(&pointsPath, "points", "", "calibration store JSON (default <data-dir>/<problem>/"+dataio.CalibrationStoreFile+")")
	cmd.Flags().StringVarP(&modelsPath, "out", "o", "", "camera models JSON (default <data-dir>/<problem>/"+dataio.CameraModelsFile+")")
	return cmd
}

func NewRecomputeCommand(o *globalOptions) *cobra.Command {
	var pointsPath, outPath, mode string
	cmd := &cobra.Command{
		Use:     "recompute",
		Short:   "Re-estimate unlocked calibration points from the locked ones",
		GroupID: gPipeline,
		Long: `Re-estimate unlocked calibration points from the locked ones.

Unlocked points that carry a lab coordinate are reprojected through a model
fitted to the locked points of the same camera: a per-frame homography for
planar targets, or the camera's DLT model otherwise. Locked points never move.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return o.record(cmd, "recompute", report.StageCalibration, func(r *pipelineRun) error {
				if mode == "" {
					mode = r.cfg.GetCalibrationMode()
				}
				m, err := calibration.ParseMode(mode)
				if err != nil {
					return err
				}
				storePath, err := r.layout.Path(dataio.CalibrationStoreFile, pointsPath)
				if err != nil {
					return err
				}
				// Without --out the store is updated where it was read.
				destOverride := outPath
				if destOverride == "" {
					destOverride = pointsPath
				}
				dest, err := r.layout.Path(dataio.CalibrationStoreFile, destOverride)
				if err != nil {
					return err
				}
				store, err := r.files.LoadCalibrationStore(storePath)
				if err != nil {
					return err
				}

				var updated []calibration.Point
				attempted, succeeded := 0, 0
				for _, cam := range store.Cameras() {
					unlocked := store.Unlocked(cam)
					if len(unlocked) == 0 {
						continue
					}
					attempted++
					points, err := calibration.Recompute(unlocked, store.Locked(cam), m)
					if points == nil {
						return err
					}
					if err != nil {
						monitoring.Warnf("camera %d: %v", cam, err)
						r.summary.Record(report.StageCalibration, report.Where{CameraID: cam, TimeIndex: -1}, err)
					} else {
						succeeded++
					}
					updated = append(updated, points...)
				}
				r.summary.Tally(report.StageCalibration, attempted, succeeded)
				if err := store.Update(updated); err != nil {
					return err
				}
				monitoring.Logf("recomputed %d unlocked points (%s mode)", len(updated), m)
				return r.files.SaveCalibrationStore(dest, store)
			})
		},
	}
	cmd.Flags().StringVar(&pointsPath, "points", "", "calibration store JSON (default <data-dir>/<problem>/"+dataio.CalibrationStoreFile+")")
	cmd.Flags().StringVarP(&outPath, "out", "o", "", "write the updated store here instead of in place")
	cmd.Flags().StringVar(&mode, "mode", "", "recompute mode: auto, spatial or planar (default from config)")
	return cmd
}
