package main

import (
	"fmt"

	"github.com/pgkeeper/pgkeeper/internal/models"
	"github.com/pgkeeper/pgkeeper/internal/services/engine"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var dumpCmd = &cobra.Command{
	Use:   "dump <connection>",
	Short: "Dump a database to a timestamped artifact",
	Long: `Run pg_dump for the named connection. The artifact is written into
the connection's dump directory under a temporary name and renamed into
place only when the dump finishes, so interrupted dumps never leave a
partial artifact behind.`,
	Args: cobra.ExactArgs(1),
	RunE: runDump,
}

func runDump(cmd *cobra.Command, args []string) error {
	reg, err := loadRegistry(cmd)
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	eng := engine.New(log.Logger, reg)
	result, err := eng.Dump(ctx, args[0])
	if err != nil {
		log.Error().Err(err).Msg("dump failed")
		return err
	}

	return reportResult("dump", result)
}

// reportResult prints the run outcome and turns failures into an error so
// the process exits non-zero.
func reportResult(operation string, result *models.OperationResult) error {
	switch result.Status {
	case models.StatusSucceeded:
		log.Info().
			Str("run_id", result.RunID).
			Str("artifact", result.Artifact).
			Dur("duration", result.Duration).
			Msgf("%s succeeded", operation)
		return nil
	case models.StatusCancelled:
		log.Warn().
			Str("run_id", result.RunID).
			Msgf("%s cancelled", operation)
		return fmt.Errorf("%s cancelled", operation)
	default:
		log.Error().
			Str("run_id", result.RunID).
			Int("exit_code", result.ExitCode).
			Str("stderr", result.StderrTail).
			Err(result.Error).
			Msgf("%s failed", operation)
		return fmt.Errorf("%s failed: %w", operation, result.Error)
	}
}
