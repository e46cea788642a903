package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/windrose-io/windrose/pkg/config"
	"github.com/windrose-io/windrose/pkg/log"
	"github.com/windrose-io/windrose/pkg/storage"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "windrose",
	Short: "Windrose - Multi-tenant decision-planning control plane",
	Long: `Windrose schedules planning jobs across tenants with weighted
fairness and resource budgets, guards them with tiered policies and
records every decision on a hash-chained, signed ledger.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"Windrose version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().String("data-dir", "", "Data directory (default from WINDROSE_DATA_DIR)")
	rootCmd.PersistentFlags().String("tier-file", "", "YAML file with tier table overrides")
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("json-logs", false, "Emit JSON logs instead of console output")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(tenantCmd)
	rootCmd.AddCommand(jobCmd)
	rootCmd.AddCommand(ledgerCmd)
	rootCmd.AddCommand(keysCmd)
}

// loadConfig builds the runtime configuration from the environment and the
// persistent flags, and initializes logging.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	level, _ := cmd.Flags().GetString("log-level")
	jsonLogs, _ := cmd.Flags().GetBool("json-logs")
	log.Init(log.Config{Level: log.Level(level), JSONOutput: jsonLogs})

	cfg := config.FromEnv()
	if dataDir, _ := cmd.Flags().GetString("data-dir"); dataDir != "" {
		cfg.DataDir = dataDir
	}
	if tierFile, _ := cmd.Flags().GetString("tier-file"); tierFile != "" {
		if err := cfg.LoadTierFile(tierFile); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

// openStore opens the bolt store for one-shot admin commands. The serve
// command holds the store lock while running, so admin commands need the
// server stopped or a copy of the data directory.
func openStore(cmd *cobra.Command) (*config.Config, storage.Store, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, nil, err
	}
	store, err := storage.NewBoltStore(cfg.DataDir)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open store at %s: %w", cfg.DataDir, err)
	}
	return cfg, store, nil
}
