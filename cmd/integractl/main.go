package main

import (
	"fmt"
	"os"

	logs "github.com/danmuck/integractl/internal/logging"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:          "integractl",
	Short:        "Drives payment terminals over the framed POS protocol",
	SilenceUsage: true,
	PersistentPreRun: func(_ *cobra.Command, _ []string) {
		logs.ConfigureRuntime()
	},
}

func init() {
	rootCmd.AddCommand(
		channelsCmd,
		datalinksCmd,
		requestsCmd,
		sendCmd,
		fleetCmd,
	)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "integractl: %v\n", err)
		os.Exit(1)
	}
}
