package cli

import (
	"fmt"
	"strconv"

	"ms-seating/internal/database/migrations"

	"github.com/spf13/cobra"
)

// NewMigrateCommand creates the migrate command and its up/down/version/force subcommands.
func NewMigrateCommand(rootOpts *RootOptions) *cobra.Command {
	var dir string

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply or roll back the postgres schema",
	}
	cmd.PersistentFlags().StringVar(&dir, "dir", "", "migrations directory (default MIGRATIONS_DIR)")

	withRunner := func(cmd *cobra.Command, fn func(*migrations.Runner) error) error {
		db, err := rootOpts.OpenDB(cmd.Context(), rootOpts.Config)
		if err != nil {
			return err
		}
		defer db.Close()

		if dir == "" {
			dir = rootOpts.Config.MigrationsDir
		}
		runner := migrations.NewRunner(db.DB, dir, rootOpts.logger(cmd))
		defer runner.Close()
		return fn(runner)
	}

	up := &cobra.Command{
		Use:   "up",
		Short: "Apply every pending migration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRunner(cmd, func(r *migrations.Runner) error {
				if err := r.Up(); err != nil {
					return err
				}
				return printVersion(cmd, r)
			})
		},
	}

	var steps int
	down := &cobra.Command{
		Use:   "down",
		Short: "Roll back migrations (all of them unless --steps is given)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRunner(cmd, func(r *migrations.Runner) error {
				if err := r.Down(steps); err != nil {
					return err
				}
				return printVersion(cmd, r)
			})
		},
	}
	down.Flags().IntVar(&steps, "steps", 0, "number of migrations to roll back")

	version := &cobra.Command{
		Use:   "version",
		Short: "Print the current schema version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRunner(cmd, func(r *migrations.Runner) error {
				return printVersion(cmd, r)
			})
		},
	}

	force := &cobra.Command{
		Use:   "force <version>",
		Short: "Mark the schema as clean at the given version",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("invalid version %q: %w", args[0], err)
			}
			return withRunner(cmd, func(r *migrations.Runner) error {
				if err := r.Force(v); err != nil {
					return err
				}
				return printVersion(cmd, r)
			})
		},
	}

	cmd.AddCommand(up, down, version, force)
	return cmd
}

func printVersion(cmd *cobra.Command, r *migrations.Runner) error {
	v, dirty, err := r.Version()
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "schema version %d (dirty=%t)\n", v, dirty)
	return nil
}
