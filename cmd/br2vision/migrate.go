package main

import (
	"bufio"
	"fmt"
	"io/fs"
	"strconv"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/StevenGuo30/BR2-vision-based-smoothing/internal/db"
	"github.com/StevenGuo30/BR2-vision-based-smoothing/internal/monitoring"
)

// withMigrations opens the database without applying migrations, so a
// broken or dirty schema can still be inspected and repaired.
func (o *globalOptions) withMigrations(fn func(database *db.DB, migrations fs.FS) error) error {
	migrations, err := db.Migrations()
	if err != nil {
		return err
	}
	database, err := db.OpenDB(o.databasePath())
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer database.Close()
	return fn(database, migrations)
}

func NewMigrateCommand(o *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "migrate",
		Short:   "Manage the database schema",
		GroupID: gMaintenance,
		Long: `Manage the database schema.

Pipeline commands apply pending migrations automatically. These subcommands
inspect the schema version, step it up or down, and recover from a migration
that failed mid-way.`,
	}

	printVersion := func(cmd *cobra.Command, database *db.DB, migrations fs.FS) {
		version, dirty, _ := database.MigrateVersion(migrations)
		cmd.Printf("Current version: %d (dirty: %v)\n", version, dirty)
	}

	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return o.withMigrations(func(database *db.DB, migrations fs.FS) error {
				monitoring.Logf("running migrations on %s", o.databasePath())
				if err := database.MigrateUp(migrations); err != nil {
					return err
				}
				cmd.Println("All migrations applied successfully")
				printVersion(cmd, database, migrations)
				return nil
			})
		},
	}

	downCmd := &cobra.Command{
		Use:   "down",
		Short: "Roll back the most recent migration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return o.withMigrations(func(database *db.DB, migrations fs.FS) error {
				if err := database.MigrateDown(migrations); err != nil {
					return err
				}
				cmd.Println("Migration rolled back successfully")
				printVersion(cmd, database, migrations)
				return nil
			})
		},
	}

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show the schema version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return o.withMigrations(func(database *db.DB, migrations fs.FS) error {
				version, dirty, err := database.MigrateVersion(migrations)
				if err != nil {
					return fmt.Errorf("failed to get migration status: %w", err)
				}
				latest, err := db.LatestMigrationVersion(migrations)
				if err != nil {
					return err
				}
				exists, err := database.SchemaMigrationsExists()
				if err != nil {
					return err
				}
				cmd.Println("=== Migration Status ===")
				cmd.Printf("Current version: %d\n", version)
				cmd.Printf("Latest version: %d\n", latest)
				cmd.Printf("Dirty: %v\n", dirty)
				cmd.Printf("Schema migrations table exists: %v\n", exists)
				if dirty {
					cmd.Println("\nWARNING: Database is in a dirty state!")
					cmd.Println("A migration failed mid-execution. Inspect the database, fix any issues,")
					cmd.Println("then run: br2vision migrate force <version>")
				} else if version < latest {
					cmd.Printf("\n%d pending migration(s); run: br2vision migrate up\n", latest-version)
				}
				return nil
			})
		},
	}

	versionCmd := &cobra.Command{
		Use:   "version <version>",
		Short: "Migrate up or down to a specific version",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			target, err := strconv.ParseUint(args[0], 10, 32)
			if err != nil {
				return fmt.Errorf("invalid version number: %s", args[0])
			}
			return o.withMigrations(func(database *db.DB, migrations fs.FS) error {
				if err := database.MigrateTo(migrations, uint(target)); err != nil {
					return err
				}
				cmd.Printf("Migrated to version %d successfully\n", target)
				return nil
			})
		},
	}

	var assumeYes bool
	forceCmd := &cobra.Command{
		Use:   "force <version>",
		Short: "Force the recorded schema version (recovery only)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			version, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("invalid version number: %s", args[0])
			}
			if !assumeYes {
				cmd.Printf("WARNING: Forcing migration version to %d\n", version)
				cmd.Println("This should only be used to recover from a dirty migration state.")
				cmd.Print("Continue? [y/N]: ")
				response, _ := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
				if r := strings.TrimSpace(response); r != "y" && r != "Y" {
					cmd.Println("Aborted")
					return nil
				}
			}
			return o.withMigrations(func(database *db.DB, migrations fs.FS) error {
				if err := database.MigrateForce(migrations, version); err != nil {
					return err
				}
				cmd.Printf("Migration version forced to %d\n", version)
				return nil
			})
		},
	}
	forceCmd.Flags().BoolVarP(&assumeYes, "yes", "y", false, "do not ask for confirmation")

	cmd.AddCommand(upCmd, downCmd, statusCmd, versionCmd, forceCmd)
	return cmd
}

func NewRunsCommand(o *globalOptions) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:     "runs",
		Short:   "List recorded pipeline runs",
		GroupID: gMaintenance,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			database, err := o.openDB()
			if err != nil {
				return err
			}
			defer database.Close()

			runs, err := database.ListRuns(limit)
			if err != nil {
				return err
			}
			t := table.NewWriter()
			t.SetOutputMirror(cmd.OutOrStdout())
			t.AppendHeader(table.Row{"Run", "Command", "Problem", "Status", "Completeness", "Started", "Duration", "Error"})
			for _, r := range runs {
				completeness, duration := "-", "-"
				if r.Completeness != nil {
					completeness = fmt.Sprintf("%.1f%%", 100**r.Completeness)
				}
				if r.FinishedAt != nil {
					duration = time.Duration(*r.FinishedAt - r.StartedAt).Round(time.Millisecond).String()
				}
				t.AppendRow(table.Row{
					r.RunID, r.Command, r.Problem, r.Status, completeness,
					time.Unix(0, r.StartedAt).Format(time.DateTime), duration, r.Error,
				})
			}
			t.Render()
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of runs to list")
	return cmd
}
