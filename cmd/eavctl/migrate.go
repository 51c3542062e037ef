package main

import (
	"fmt"
	"strconv"

	"github.com/lychee-technology/eav/factory"
	"github.com/lychee-technology/eav/internal/migrations"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newMigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply or roll back the attribute table migrations",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		Args:  cobra.NoArgs,
		RunE:  runMigrateUp,
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "down [steps]",
		Short: "Roll back migrations (default: 1)",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runMigrateDown,
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Show the applied migration version",
		Args:  cobra.NoArgs,
		RunE:  runMigrateVersion,
	})
	return cmd
}

func runMigrateUp(cmd *cobra.Command, args []string) error {
	db, err := migrations.Open(factory.ConnString(cfg.Database))
	if err != nil {
		return err
	}
	defer db.Close()

	changed, err := migrations.Up(db)
	if err != nil {
		return err
	}
	if !changed {
		zap.S().Info("No migrations to apply")
		return nil
	}
	zap.S().Info("Migration up completed successfully")
	return nil
}

func runMigrateDown(cmd *cobra.Command, args []string) error {
	steps := 1
	if len(args) > 0 {
		n, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("invalid steps %q: %w", args[0], err)
		}
		steps = n
	}

	db, err := migrations.Open(factory.ConnString(cfg.Database))
	if err != nil {
		return err
	}
	defer db.Close()

	changed, err := migrations.Down(db, steps)
	if err != nil {
		return err
	}
	if !changed {
		zap.S().Info("No migrations to roll back")
		return nil
	}
	zap.S().Infow("Migration down completed successfully", "steps", steps)
	return nil
}

func runMigrateVersion(cmd *cobra.Command, args []string) error {
	db, err := migrations.Open(factory.ConnString(cfg.Database))
	if err != nil {
		return err
	}
	defer db.Close()

	version, dirty, ok, err := migrations.Version(db)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	switch {
	case !ok:
		fmt.Fprintln(out, "No migrations applied yet")
	case dirty:
		fmt.Fprintf(out, "%d (dirty - migration may have failed)\n", version)
	default:
		fmt.Fprintf(out, "%d\n", version)
	}
	return nil
}
