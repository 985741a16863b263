// -----------------------------------------------------------------------
// Last Modified: Monday, 19th October 2026 11:41:08 am
// Modified By: Bob McAllan
// -----------------------------------------------------------------------

package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/scrapetrack/internal/common"
)

var (
	// Command-line flags
	configFiles []string // Multiple --config flags supported, later files override earlier ones
	serviceURL  string
	serverPort  int
	serverHost  string
	logLevel    string

	// Global state
	config *common.Config
	logger arbor.ILogger
)

var rootCmd = &cobra.Command{
	Use:           "scrapetrack",
	Short:         "Submit scraping jobs and follow their progress",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd == versionCmd {
			return nil
		}
		return loadConfig(cmd)
	},
}

func init() {
	rootCmd.PersistentFlags().StringSliceVarP(&configFiles, "config", "c", nil, "Configuration file path (can be specified multiple times)")
	rootCmd.PersistentFlags().StringVar(&serviceURL, "service", "", "Scraping service base URL (overrides config)")
	rootCmd.PersistentFlags().IntVarP(&serverPort, "port", "p", 0, "Server port (overrides config)")
	rootCmd.PersistentFlags().StringVar(&serverHost, "host", "", "Server host (overrides config)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error (overrides config)")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(mockServiceCmd)
	rootCmd.AddCommand(versionCmd)
}

// loadConfig runs the startup sequence shared by every command:
// config files -> env -> CLI overrides -> logger -> banner
func loadConfig(cmd *cobra.Command) error {
	common.LoadVersionFromFile()

	// Auto-discover config file if not specified
	if len(configFiles) == 0 {
		if _, err := os.Stat("scrapetrack.toml"); err == nil {
			configFiles = append(configFiles, "scrapetrack.toml")
		}
	}

	var err error
	config, err = common.LoadFromFiles(configFiles...)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	// Command-line flags have highest priority
	common.ApplyFlagOverrides(config, serviceURL, serverPort, serverHost)
	if logLevel != "" {
		config.Logging.Level = logLevel
	}

	logger = common.InitLogger(config)

	if cmd != runCmd {
		common.PrintBanner(common.GetVersion())
	}

	logger.Debug().
		Strs("config_files", configFiles).
		Str("service", config.Service.BaseURL).
		Str("logs_url", config.Service.LogsURL).
		Str("log_level", config.Logging.Level).
		Strs("log_output", config.Logging.Output).
		Msg("Resolved configuration")

	return nil
}

func main() {
	common.InstallCrashHandler(common.LogDirectory())
	defer common.RecoverWithCrashFile()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
