package main

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/pgkeeper/pgkeeper/internal/config"
	"github.com/pgkeeper/pgkeeper/internal/registry"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var (
	// Version is set at build time.
	Version = "dev"

	// Configuration flags.
	configFile string
	verbose    bool
	quiet      bool
	jsonOutput bool
)

var rootCmd = &cobra.Command{
	Use:   "pgkeeper",
	Short: "Dump and restore orchestrator for PostgreSQL databases",
	Long: `pgkeeper orchestrates pg_dump and pg_restore runs against a set of
named PostgreSQL connections:
  - timestamped custom-format dumps with atomic artifact handling
  - restores with an optional drop-all-tables clean step
  - per-connection restore prevention and in-progress locking
  - optional Wake-on-LAN of sleeping database hosts
  - optional offsite copy of dumps to S3-compatible storage`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		setupLogging()
	},
	Version: Version,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "config file (required)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose (debug) output")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "enable quiet mode (errors only)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output logs in JSON format")

	rootCmd.AddCommand(dumpCmd)
	rootCmd.AddCommand(restoreCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(pruneCmd)
	rootCmd.AddCommand(validateCmd)
}

func setupLogging() {
	// Set output format
	if jsonOutput {
		log.Logger = zerolog.New(os.Stdout).With().Timestamp().Logger()
	} else {
		output := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: "15:04:05"}
		output.FormatLevel = func(i interface{}) string {
			if s, ok := i.(string); ok {
				return strings.ToUpper(s)
			}
			return ""
		}
		log.Logger = zerolog.New(output).With().Timestamp().Logger()
	}

	// Set log level
	switch {
	case quiet:
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	case verbose:
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}

// loadRegistry parses the config file and builds the connection registry.
func loadRegistry(cmd *cobra.Command) (*registry.Registry, error) {
	if configFile == "" {
		log.Error().Msg("config file is required")
		return nil, cmd.Help()
	}

	parser := config.NewParser()
	conns, err := parser.LoadFile(configFile)
	if err != nil {
		log.Error().Err(err).Str("file", configFile).Msg("failed to load config")
		return nil, err
	}

	if err := config.Validate(conns); err != nil {
		log.Error().Err(err).Msg("invalid configuration")
		return nil, err
	}

	reg, err := registry.New(conns)
	if err != nil {
		log.Error().Err(err).Msg("invalid connection set")
		return nil, err
	}

	log.Info().
		Str("config", configFile).
		Int("connections", len(conns)).
		Msg("configuration loaded")

	return reg, nil
}

// signalContext returns a context cancelled on SIGINT/SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		log.Warn().Str("signal", sig.String()).Msg("received signal, shutting down")
		cancel()
	}()

	return ctx, cancel
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
