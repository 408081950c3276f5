package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/joshsymonds/the-pantry-must-flow/internal/cli"
	"github.com/joshsymonds/the-pantry-must-flow/internal/common"
	"github.com/joshsymonds/the-pantry-must-flow/internal/config"
	"github.com/joshsymonds/the-pantry-must-flow/internal/storage"
)

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
		Long: `Initialize or update the database schema to the latest version.

Every other command migrates on startup as well; this one exists for
deployments that want the schema in place before the server starts.`,
		RunE: runMigrate,
	}

	cmd.Flags().Bool("status", false, "Show the current schema version without applying changes")

	return cmd
}

func runMigrate(cmd *cobra.Command, _ []string) error {
	status, _ := cmd.Flags().GetBool("status")
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	config.SetDefaults(viper.GetViper())
	dbPath := config.ExpandPath(viper.GetString("database.path"))

	common.LogInfo("Starting database migration", common.Fields{"database": dbPath, "status_only": status})

	store, err := storage.NewSQLiteStorage(dbPath)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer func() { _ = store.Close() }()

	before, err := store.SchemaVersion(ctx)
	if err != nil {
		return err
	}
	if status {
		fmt.Fprintf(out, "%s schema version %d\n", cli.ChartIcon, before)
		return nil
	}

	if err := store.Migrate(ctx); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}
	after, err := store.SchemaVersion(ctx)
	if err != nil {
		return err
	}

	if after == before {
		fmt.Fprintln(out, cli.FormatSuccess(fmt.Sprintf("Database already at schema version %d", after)))
		return nil
	}
	fmt.Fprintln(out, cli.FormatSuccess(fmt.Sprintf("Migrated database from version %d to %d", before, after)))
	return nil
}
