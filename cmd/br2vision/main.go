package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/StevenGuo30/BR2-vision-based-smoothing/internal/calibration"
	"github.com/StevenGuo30/BR2-vision-based-smoothing/internal/config"
	"github.com/StevenGuo30/BR2-vision-based-smoothing/internal/db"
	"github.com/StevenGuo30/BR2-vision-based-smoothing/internal/monitoring"
	"github.com/StevenGuo30/BR2-vision-based-smoothing/internal/smoothing"
)

var (
	gPipeline     = "Pipeline:"
	gMaintenance  = "Maintenance:"
	commandGroups = []string{
		gPipeline,
		gMaintenance,
	}
)

// globalOptions holds the persistent flags shared by every subcommand.
type globalOptions struct {
	logLevel   string
	configPath string
	problem    string
	dataDir    string
	dbPath     string
	progress   bool

	cfg     *config.PipelineConfig
	syncLog func() error
}

func handleCmdError(err error) {
	switch {
	case errors.Is(err, calibration.ErrMalformedStore):
		fmt.Fprintln(os.Stderr, "\nError: the calibration point store is malformed")
		fmt.Fprintln(os.Stderr, "  - Check for duplicate labels and locked points without lab coordinates")
	case errors.Is(err, smoothing.ErrInvalidArcLength):
		fmt.Fprintln(os.Stderr, "\nError: marker arc lengths are invalid for this problem")
		fmt.Fprintln(os.Stderr, "  - Marker rest positions must lie inside the rod; markers sharing a rest position need distinct offsets")
	case errors.Is(err, db.ErrRunNotFound):
		fmt.Fprintln(os.Stderr, "\nError: no matching run in the database")
	}
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cmd, opts := NewCommand()
	err := cmd.ExecuteContext(ctx)
	if opts.syncLog != nil {
		_ = opts.syncLog()
	}
	if err != nil {
		handleCmdError(err)
		stop()
		os.Exit(1)
	}
}

// NewCommand builds the root command. The returned options are filled in
// by flag parsing and the persistent pre-run hook.
func NewCommand() (*cobra.Command, *globalOptions) {
	o := &globalOptions{}
	cmd := &cobra.Command{
		Use:   "br2vision",
		Short: "br2vision reconstructs the strain of a soft rod from multi-camera video",
		Long: `br2vision reconstructs the strain of a soft rod from multi-camera video.

The pipeline calibrates each camera from labelled calibration points,
triangulates the tracked markers into 3D trajectories, and smooths them into
continuous curvature, twist and stretch profiles of a Cosserat rod.`,
		SilenceUsage: true,
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			return o.setup()
		},
	}

	globalFlags := cmd.PersistentFlags()
	globalFlags.StringVarP(&o.logLevel, "log-level", "l", "info", "log level (debug, info, warn, error)")
	globalFlags.StringVar(&o.configPath, "config", "", "pipeline config file (default "+config.DefaultConfigPath+" when present)")
	globalFlags.StringVarP(&o.problem, "problem", "p", "bend", "problem keyword ("+strings.Join(config.ProblemNames(), ", ")+")")
	globalFlags.StringVar(&o.dataDir, "data-dir", "data", "root directory of the per-problem artifacts")
	globalFlags.StringVar(&o.dbPath, "db", "", "SQLite database path (default <data-dir>/br2vision.db)")
	globalFlags.BoolVar(&o.progress, "progress", false, "show progress bars")

	for _, i := range commandGroups {
		cmd.AddGroup(&cobra.Group{
			ID:    i,
			Title: i,
		})
	}

	cmd.AddCommand(
		NewCalibrateCommand(o),
		NewRecomputeCommand(o),
		NewTriangulateCommand(o),
		NewSmoothCommand(o),
		NewPlotCommand(o),
		NewMigrateCommand(o),
		NewRunsCommand(o),
		NewVersionCommand(),
	)

	return cmd, o
}

// setup configures logging and loads the pipeline configuration. An
// explicit --config must load; otherwise the canonical defaults file is
// used when it exists and the built-in defaults when it does not.
func (o *globalOptions) setup() error {
	syncLog, err := monitoring.Configure(o.logLevel)
	if err != nil {
		return err
	}
	o.syncLog = syncLog

	path := o.configPath
	if path == "" {
		if _, err := os.Stat(config.DefaultConfigPath); err == nil {
			path = config.DefaultConfigPath
		}
	}
	if path == "" {
		o.cfg = config.EmptyPipelineConfig()
		return nil
	}
	cfg, err := config.LoadPipelineConfig(path)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	monitoring.Debugf("loaded config %s", path)
	o.cfg = cfg
	return nil
}
