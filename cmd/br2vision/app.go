package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/multierr"

	"github.com/StevenGuo30/BR2-vision-based-smoothing/internal/config"
	"github.com/StevenGuo30/BR2-vision-based-smoothing/internal/dataio"
	"github.com/StevenGuo30/BR2-vision-based-smoothing/internal/db"
	"github.com/StevenGuo30/BR2-vision-based-smoothing/internal/monitoring"
	"github.com/StevenGuo30/BR2-vision-based-smoothing/internal/report"
)

// DefaultDBName is the database file created under --data-dir.
const DefaultDBName = "br2vision.db"

// pipelineRun is what a pipeline subcommand works with: the problem preset,
// its artifact layout, the open database and the run being recorded.
type pipelineRun struct {
	cfg     *config.PipelineConfig
	problem config.Problem
	layout  dataio.Layout
	files   *dataio.Files
	db      *db.DB
	run     *db.Run
	summary *report.Summary
	out     io.Writer
}

func (o *globalOptions) databasePath() string {
	if o.dbPath != "" {
		return o.dbPath
	}
	return filepath.Join(o.dataDir, DefaultDBName)
}

// openDB opens the run database, creating its directory and applying
// pending migrations.
func (o *globalOptions) openDB() (*db.DB, error) {
	path := o.databasePath()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}
	database, err := db.NewDB(path)
	if err != nil {
		return nil, fmt.Errorf("opening database %s: %w", path, err)
	}
	return database, nil
}

// record runs fn as one recorded run of command. The run row is created
// before fn starts and finished afterwards with the outcome, the completeness
// of stage and every failure the summary collected. A run whose fn returns
// nil still fails when the summary check does.
func (o *globalOptions) record(cmd *cobra.Command, command string, stage report.Stage, fn func(r *pipelineRun) error) error {
	problem, err := config.LookupProblem(o.problem)
	if err != nil {
		return err
	}
	database, err := o.openDB()
	if err != nil {
		return err
	}
	defer database.Close()

	cfgJSON, err := json.Marshal(o.cfg)
	if err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}
	run := &db.Run{Command: command, Problem: problem.Name, ConfigJSON: cfgJSON}
	if err := database.CreateRun(run); err != nil {
		return fmt.Errorf("creating run: %w", err)
	}
	monitoring.Logf("%s run %s (problem %s)", command, run.RunID, problem.Name)

	r := &pipelineRun{
		cfg:     o.cfg,
		problem: problem,
		layout:  dataio.Layout{Root: o.dataDir, Problem: problem.Name},
		files:   dataio.NewFiles(nil),
		db:      database,
		run:     run,
		summary: report.NewSummary(),
		out:     cmd.OutOrStdout(),
	}

	runErr := fn(r)
	if runErr == nil {
		runErr = r.summary.Check(o.cfg.GetMinCompleteness())
	}
	if err := r.summary.Render(r.out); err != nil {
		monitoring.Warnf("rendering summary: %v", err)
	}

	var completeness *float64
	if frac, ok := r.summary.Completeness(stage); ok {
		completeness = &frac
	}
	err = multierr.Combine(
		runErr,
		database.SaveFailures(run.RunID, r.summary.Failures()),
		database.FinishRun(run.RunID, runErr, completeness),
	)
	if err == nil {
		fmt.Fprintf(r.out, "%s run %s succeeded\n", command, run.RunID)
	}
	return err
}
