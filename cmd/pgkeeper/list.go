package main

import (
	"fmt"

	"github.com/pgkeeper/pgkeeper/internal/services/engine"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var listCmd = &cobra.Command{
	Use:   "list [connection]",
	Short: "List connections, or the dump artifacts of one connection",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runList,
}

func runList(cmd *cobra.Command, args []string) error {
	reg, err := loadRegistry(cmd)
	if err != nil {
		return err
	}

	if len(args) == 0 {
		for _, conn := range reg.List() {
			flag := ""
			if conn.PreventRestore {
				flag = "  (restore disabled)"
			}
			fmt.Printf("%s  %s:%d/%s%s\n", conn.Name, conn.Host, conn.Port, conn.DBName, flag)
		}
		return nil
	}

	eng := engine.New(log.Logger, reg)
	artifacts, err := eng.ListDumps(args[0])
	if err != nil {
		log.Error().Err(err).Msg("listing dumps failed")
		return err
	}

	if len(artifacts) == 0 {
		fmt.Println("No dump artifacts found.")
		return nil
	}

	for _, a := range artifacts {
		fmt.Printf("%s  %s  %s\n", a.Name, a.CreatedAt.Format("2006-01-02 15:04:05"), formatSize(a.SizeBytes))
	}
	return nil
}

func formatSize(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
