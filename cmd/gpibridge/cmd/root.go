package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "gpibridge",
	Short: "GPIB bus engine and ++-command host bridge",
	Long: `gpibridge runs the IEEE-488 bus engine and the ++-command line
interpreter that multiplexes interface commands with pass-through
instrument traffic over a serial host link.`,
	Version: "0.1.0",
}

// Execute runs the root command, exiting the process on error.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config-dir", "",
		"directory to search for gpibridge.yaml (default: current directory)")
}
