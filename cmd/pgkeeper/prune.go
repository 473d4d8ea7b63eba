package main

import (
	"fmt"

	"github.com/pgkeeper/pgkeeper/internal/services/engine"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var pruneCmd = &cobra.Command{
	Use:   "prune <connection>",
	Short: "Delete dump artifacts that exceed the retention policy",
	Long: `Apply the connection's retention policy to its dump directory and
delete artifacts no bucket keeps. Requires a retention block in the
connection's configuration; pgkeeper never deletes artifacts on its own.`,
	Args: cobra.ExactArgs(1),
	RunE: runPrune,
}

func runPrune(cmd *cobra.Command, args []string) error {
	reg, err := loadRegistry(cmd)
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	eng := engine.New(log.Logger, reg)
	deleted, err := eng.Prune(ctx, args[0])
	if err != nil {
		log.Error().Err(err).Msg("prune failed")
		return err
	}

	fmt.Printf("Deleted %d artifact(s).\n", deleted)
	return nil
}
