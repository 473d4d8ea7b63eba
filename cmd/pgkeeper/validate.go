package main

import (
	"fmt"
	"os"

	"github.com/pgkeeper/pgkeeper/internal/config"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration file",
	Long:  `Validate the configuration file without executing any operations.`,
	RunE:  validateConfig,
}

func validateConfig(cmd *cobra.Command, args []string) error {
	if configFile == "" {
		log.Error().Msg("config file is required")
		return cmd.Help()
	}

	// Check if file exists
	if _, err := os.Stat(configFile); os.IsNotExist(err) {
		log.Error().Str("file", configFile).Msg("config file not found")
		return fmt.Errorf("config file not found: %s", configFile)
	}

	parser := config.NewParser()
	conns, err := parser.LoadFile(configFile)
	if err != nil {
		log.Error().Err(err).Str("file", configFile).Msg("failed to parse config")
		return err
	}

	if err := config.Validate(conns); err != nil {
		log.Error().Err(err).Msg("configuration validation failed")
		return err
	}

	fmt.Println("Configuration is valid!")
	fmt.Println()
	fmt.Printf("Connections (%d):\n", len(conns))

	for _, conn := range conns {
		fmt.Println()
		fmt.Printf("  %s:\n", conn.Name)
		fmt.Printf("    Database: %s:%d/%s (user %s)\n", conn.Host, conn.Port, conn.DBName, conn.User)
		fmt.Printf("    Dump directory: %s\n", conn.DumpPath)
		fmt.Printf("    Restore allowed: %v\n", !conn.PreventRestore)
		if conn.Wake != nil {
			fmt.Printf("    Wake-on-LAN: %s (broadcast %s, timeout %s)\n",
				conn.Wake.MACAddress, conn.Wake.BroadcastIP, conn.Wake.Timeout)
		}
		if conn.S3 != nil {
			target := conn.S3.Bucket
			if conn.S3.Prefix != "" {
				target += "/" + conn.S3.Prefix
			}
			fmt.Printf("    Offsite copy: s3://%s\n", target)
		}
		if conn.Retention != nil {
			fmt.Printf("    Retention: last=%d daily=%d weekly=%d monthly=%d\n",
				conn.Retention.KeepLast, conn.Retention.KeepDaily,
				conn.Retention.KeepWeekly, conn.Retention.KeepMonthly)
		}
	}

	return nil
}
