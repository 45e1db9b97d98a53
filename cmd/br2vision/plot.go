package main

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/StevenGuo30/BR2-vision-based-smoothing/internal/config"
	"github.com/StevenGuo30/BR2-vision-based-smoothing/internal/dataio"
	"github.com/StevenGuo30/BR2-vision-based-smoothing/internal/monitoring"
	"github.com/StevenGuo30/BR2-vision-based-smoothing/internal/plot"
	"github.com/StevenGuo30/BR2-vision-based-smoothing/internal/smoothing"
)

func NewPlotCommand(o *globalOptions) *cobra.Command {
	var resultPath, fromRun, outDir string
	var skipProfiles bool
	cmd := &cobra.Command{
		Use:     "plot",
		Short:   "Render strain profiles and rod shapes",
		GroupID: gPipeline,
		Long: `Render strain profiles and rod shapes.

Writes a PNG of the curvature and stretch profiles per time step, a PNG of
the centerline shapes, and an interactive HTML page of the profiles over
time. Strain fields come from the result file, or with --from-run from the
fields stored by a smooth run ("latest" for the most recent one).`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			problem, err := config.LookupProblem(o.problem)
			if err != nil {
				return err
			}
			layout := dataio.Layout{Root: o.dataDir, Problem: problem.Name}
			dir := outDir
			if dir == "" {
				dir = filepath.Join(layout.Dir(), dataio.PlotsDir)
			}

			fields, err := loadFields(o, layout, resultPath, fromRun)
			if err != nil {
				return err
			}
			if len(fields) == 0 {
				return fmt.Errorf("no strain fields to plot")
			}

			p := plot.NewPlotter(nil, dir)
			p.Progress = o.progress
			if !skipProfiles {
				n, err := p.GenerateProfiles(fields)
				if err != nil {
					return err
				}
				monitoring.Logf("wrote %d profile plots", n)
			}
			if err := p.GenerateShapes(fields); err != nil {
				return err
			}
			if err := p.GenerateHTML(problem.Name, fields); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "plots written to %s\n", dir)
			return nil
		},
	}
	cmd.Flags().StringVar(&resultPath, "result", "", "strain result JSON (default <data-dir>/<problem>/"+dataio.ResultFile+")")
	cmd.Flags().StringVar(&fromRun, "from-run", "", "read strain fields from a smooth run ID, or \"latest\"")
	cmd.Flags().StringVarP(&outDir, "out", "o", "", "output directory (default <data-dir>/<problem>/"+dataio.PlotsDir+")")
	cmd.Flags().BoolVar(&skipProfiles, "skip-profiles", false, "only render the shape plot and the HTML page")
	cmd.MarkFlagsMutuallyExclusive("result", "from-run")
	return cmd
}

func loadFields(o *globalOptions, layout dataio.Layout, resultPath, fromRun string) ([]*smoothing.StrainField, error) {
	if fromRun == "" {
		path, err := layout.Path(dataio.ResultFile, resultPath)
		if err != nil {
			return nil, err
		}
		res, err := dataio.NewFiles(nil).LoadResult(path)
		if err != nil {
			return nil, err
		}
		return res.Fields(), nil
	}

	database, err := o.openDB()
	if err != nil {
		return nil, err
	}
	defer database.Close()
	runID := fromRun
	if fromRun == latestRun {
		run, err := database.LatestRun("smooth")
		if err != nil {
			return nil, err
		}
		runID = run.RunID
	}
	return database.StrainFields(runID)
}
