package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	cfgFile string
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "charon",
	Short: "Charon - dispatch gateway for LLM API traffic",
	Long: `Charon is a self-hosted dispatch gateway that sits between coding
agents and upstream model providers.

It accepts requests in several wire formats and dispatches each one to
the best available provider account, providing:
  - Weighted, priority-ordered provider selection
  - Latency-ranked endpoint failover within a vendor
  - Circuit breakers per endpoint and per provider account
  - Streaming-aware timeouts and fake-success detection
  - Provider-chain audit trails for every request`,
	Version: Version,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	// Global persistent flags (available to all subcommands)
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "config.yaml", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
}
