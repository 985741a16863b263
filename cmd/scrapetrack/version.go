package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ternarybob/scrapetrack/internal/common"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		common.LoadVersionFromFile()
		fmt.Printf("Scrapetrack version %s\n", common.GetFullVersion())
	},
}
