package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"skyroute-hq/charon/pkg/cli"
	"skyroute-hq/charon/pkg/config"
)

var validateFlags struct {
	format string
}

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the configuration file",
	Long: `Load the configuration file, apply defaults and environment
overrides, and report validation errors without starting the gateway.

Examples:
  # Validate the default config
  charon validate

  # Validate a specific file
  charon validate --config /etc/charon/config.yaml

  # Print the resolved configuration summary as JSON
  charon validate --format json`,
	RunE: validateConfig,
}

func init() {
	rootCmd.AddCommand(validateCmd)

	validateCmd.Flags().StringVar(&validateFlags.format, "format", "text", "output format: text, json")
}

// configSummary is the resolved-configuration report printed by the
// validate command.
type configSummary struct {
	ListenAddress string   `json:"listen_address"`
	Providers     int      `json:"providers"`
	Vendors       int      `json:"vendors"`
	Endpoints     int      `json:"endpoints"`
	AuditBackend  string   `json:"audit_backend"`
	LogLevel      string   `json:"log_level"`
	ProviderIDs   []string `json:"provider_ids"`
}

func validateConfig(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfigWithEnvOverrides(cfgFile)
	if err != nil {
		return cli.NewConfigError("", err.Error())
	}

	endpointCount := 0
	for _, v := range cfg.Vendors {
		endpointCount += len(v.Endpoints)
	}
	providerIDs := make([]string, 0, len(cfg.Providers))
	for _, p := range cfg.Providers {
		providerIDs = append(providerIDs, p.ID)
	}

	summary := configSummary{
		ListenAddress: cfg.Server.ListenAddress,
		Providers:     len(cfg.Providers),
		Vendors:       len(cfg.Vendors),
		Endpoints:     endpointCount,
		AuditBackend:  cfg.Audit.Backend,
		LogLevel:      cfg.Telemetry.Logging.Level,
		ProviderIDs:   providerIDs,
	}

	if validateFlags.format == "json" {
		formatter := &cli.JSONFormatter{Indent: true}
		return formatter.FormatTo(os.Stdout, summary)
	}

	fmt.Printf("Configuration valid: %s\n", cfgFile)
	fmt.Printf("  Listen address: %s\n", summary.ListenAddress)
	fmt.Printf("  Providers:      %d\n", summary.Providers)
	fmt.Printf("  Vendors:        %d (%d endpoints)\n", summary.Vendors, summary.Endpoints)
	fmt.Printf("  Audit backend:  %s\n", summary.AuditBackend)
	fmt.Printf("  Log level:      %s\n", summary.LogLevel)
	return nil
}
