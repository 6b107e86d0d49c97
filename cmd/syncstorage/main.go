package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/mozilla-services/syncstorage-go/pkg/log"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "syncstorage",
	Short: "syncstorage - administrative CLI for a Firefox Sync storage backend",
	Long: `syncstorage is a thin administrative client over a Sync 1.5 storage
backend: bbolt for a single node, or MySQL/Postgres/Spanner for a shared
deployment. It does not speak the Sync HTTP protocol; that's the job of
a separate server process built on the same pkg/engine.`,
}

func init() {
	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "output logs as JSON instead of console-formatted")
	rootCmd.PersistentFlags().String("backend", "bolt", "storage backend: bolt, mysql, postgres, spanner")
	rootCmd.PersistentFlags().String("data-dir", "./data", "bbolt data directory (backend=bolt)")
	rootCmd.PersistentFlags().String("dsn", "", "connection string (backend=mysql, postgres, spanner)")
	rootCmd.PersistentFlags().StringP("config", "f", "", "YAML manifest to load instead of --backend/--data-dir/--dsn")

	cobra.OnInitialize(initLogging)

	rootCmd.AddCommand(schemaCmd)
	rootCmd.AddCommand(bsoCmd)
	rootCmd.AddCommand(collectionsCmd)
	rootCmd.AddCommand(purgeCmd)
}

func initLogging() {
	level, _ := rootCmd.PersistentFlags().GetString("log-level")
	jsonOutput, _ := rootCmd.PersistentFlags().GetBool("log-json")
	log.Init(log.Config{
		Level:      log.Level(level),
		JSONOutput: jsonOutput,
	})
}
