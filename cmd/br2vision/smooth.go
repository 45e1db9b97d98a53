package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/StevenGuo30/BR2-vision-based-smoothing/internal/dataio"
	"github.com/StevenGuo30/BR2-vision-based-smoothing/internal/db"
	"github.com/StevenGuo30/BR2-vision-based-smoothing/internal/monitoring"
	"github.com/StevenGuo30/BR2-vision-based-smoothing/internal/report"
	"github.com/StevenGuo30/BR2-vision-based-smoothing/internal/smoothing"
	"github.com/StevenGuo30/BR2-vision-based-smoothing/internal/triangulation"
)

// latestRun selects the most recent successful run in --from-run.
const latestRun = "latest"

func NewSmoothCommand(o *globalOptions) *cobra.Command {
	var (
		trajectoryPath string
		fromRun        string
		outPath        string
		markersPath    string
		labels         []string
		spacing        []float64
	)
	cmd := &cobra.Command{
		Use:     "smooth",
		Short:   "Reconstruct continuous strain profiles from 3D marker trajectories",
		GroupID: gPipeline,
		Long: `Reconstruct continuous strain profiles from 3D marker trajectories.

Each time step is fitted independently: the curvature, twist and stretch of a
Cosserat rod are adjusted until the integrated rod passes through the
triangulated markers. The marker assignment comes from --markers, a YAML
file of label, rest arc length and optional cross-section offset; from
--labels and --spacing; from <data-dir>/<problem>/`+dataio.MarkersFile+` when it
exists; or else from the problem preset. Twist is only observable when some
markers carry an offset.

Positions come from the trajectory CSV, or with --from-run from the positions
stored by a triangulate run ("latest" for the most recent one).`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return o.record(cmd, "smooth", report.StageSmoothing, func(r *pipelineRun) error {
				dest, err := r.layout.Path(dataio.ResultFile, outPath)
				if err != nil {
					return err
				}

				markers, length, err := loadMarkers(r, markersPath, labels, spacing)
				if err != nil {
					return err
				}
				opts := smoothing.OptionsFromConfig(r.cfg)
				opts.Progress = o.progress
				engine, err := smoothing.NewEngine(markers, length, opts, r.summary)
				if err != nil {
					return err
				}

				positions, err := loadPositions(r, trajectoryPath, fromRun)
				if err != nil {
					return err
				}
				fps := r.cfg.GetFPS()
				frames := smoothing.FramesFromPositions(positions, fps)
				monitoring.Logf("smoothing %d time steps of %d markers over rest length %.2f", len(frames), len(markers), length)

				fields, err := engine.Run(cmd.Context(), frames)
				if err != nil {
					return err
				}
				if len(fields) == 0 {
					return nil
				}
				if err := r.files.SaveResult(dest, dataio.NewResult(r.problem.Name, fps, engine, fields)); err != nil {
					return err
				}
				return r.db.SaveStrainFields(r.run.RunID, fields)
			})
		},
	}
	cmd.Flags().StringVar(&trajectoryPath, "trajectory", "", "trajectory CSV (default <data-dir>/<problem>/"+dataio.TrajectoryFile+")")
	cmd.Flags().StringVar(&fromRun, "from-run", "", "read positions from a triangulate run ID, or \"latest\"")
	cmd.Flags().StringVarP(&outPath, "out", "o", "", "strain result JSON (default <data-dir>/<problem>/"+dataio.ResultFile+")")
	cmd.Flags().StringVar(&markersPath, "markers", "", "marker assignment YAML (label, s0, offset)")
	cmd.Flags().StringSliceVar(&labels, "labels", nil, "marker labels from base to tip")
	cmd.Flags().Float64SliceVar(&spacing, "spacing", nil, "rest arc length between consecutive markers")
	cmd.MarkFlagsRequiredTogether("labels", "spacing")
	cmd.MarkFlagsMutuallyExclusive("trajectory", "from-run")
	cmd.MarkFlagsMutuallyExclusive("markers", "labels")
	return cmd
}

// loadMarkers resolves the marker assignment: an explicit file, explicit
// labels and spacing, the problem directory's marker file, then the preset.
func loadMarkers(r *pipelineRun, markersPath string, labels []string, spacing []float64) ([]smoothing.Marker, float64, error) {
	switch {
	case markersPath != "":
		return r.files.LoadMarkers(markersPath)
	case len(labels) > 0 || len(spacing) > 0:
		return smoothing.MarkersFromSpacing(labels, spacing)
	}
	path, err := r.layout.Path(dataio.MarkersFile, "")
	if err != nil {
		return nil, 0, err
	}
	if r.files.FS.Exists(path) {
		monitoring.Logf("using marker assignment %s", path)
		return r.files.LoadMarkers(path)
	}
	return smoothing.MarkersFromSpacing(r.problem.MarkerLabels(), r.problem.Spacing)
}

func loadPositions(r *pipelineRun, trajectoryPath, fromRun string) ([]triangulation.Position3D, error) {
	if fromRun == "" {
		path, err := r.layout.Path(dataio.TrajectoryFile, trajectoryPath)
		if err != nil {
			return nil, err
		}
		return r.files.LoadTrajectory(path)
	}

	runID := fromRun
	if fromRun == latestRun {
		run, err := r.db.LatestRun("triangulate")
		if err != nil {
			return nil, err
		}
		runID = run.RunID
	} else if _, err := r.db.GetRun(runID); err != nil {
		return nil, err
	}
	positions, err := r.db.Positions(runID)
	if err != nil {
		return nil, err
	}
	if len(positions) == 0 {
		return nil, fmt.Errorf("run %s stored no positions: %w", runID, db.ErrRunNotFound)
	}
	monitoring.Logf("loaded %d positions from run %s", len(positions), runID)
	return positions, nil
}
