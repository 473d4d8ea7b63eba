package main

import (
	"github.com/pgkeeper/pgkeeper/internal/models"
	"github.com/pgkeeper/pgkeeper/internal/services/engine"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var cleanFirst bool

var restoreCmd = &cobra.Command{
	Use:   "restore <connection> <dump>",
	Short: "Restore a database from a dump artifact",
	Long: `Run pg_restore for the named connection using the given dump
artifact. With --clean, all user tables are dropped (CASCADE, in a single
transaction) before the restore starts; if the wipe fails the restore is
not attempted.

Connections with prevent_restore set always reject this command.`,
	Args: cobra.ExactArgs(2),
	RunE: runRestore,
}

func init() {
	restoreCmd.Flags().BoolVar(&cleanFirst, "clean", false, "drop all user tables before restoring")
}

func runRestore(cmd *cobra.Command, args []string) error {
	reg, err := loadRegistry(cmd)
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	eng := engine.New(log.Logger, reg)
	result, err := eng.Restore(ctx, models.RestoreRequest{
		ConnectionName: args[0],
		DumpName:       args[1],
		CleanFirst:     cleanFirst,
	})
	if err != nil {
		log.Error().Err(err).Msg("restore failed")
		return err
	}

	return reportResult("restore", result)
}
