package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"skyroute-hq/charon/pkg/cli"
	"skyroute-hq/charon/pkg/config"
	"skyroute-hq/charon/pkg/endpoints"
)

var probeFlags struct {
	timeout time.Duration
	format  string
}

var probeCmd = &cobra.Command{
	Use:   "probe",
	Short: "Probe configured vendor endpoints once",
	Long: `Run a single health-probe sweep against every enabled vendor
endpoint and print the results, without starting the gateway.

Examples:
  # Probe all endpoints with the configured timeout
  charon probe

  # Use a shorter per-probe timeout
  charon probe --timeout 2s

  # Machine-readable output
  charon probe --format json`,
	RunE: probeEndpoints,
}

func init() {
	rootCmd.AddCommand(probeCmd)

	probeCmd.Flags().DurationVar(&probeFlags.timeout, "timeout", 0, "per-probe timeout (defaults to probe.timeout from config)")
	probeCmd.Flags().StringVar(&probeFlags.format, "format", "text", "output format: text, json")
}

// probeReport is one endpoint's probe outcome as printed by the probe
// command.
type probeReport struct {
	EndpointID string `json:"endpoint_id"`
	VendorID   string `json:"vendor_id"`
	BaseURL    string `json:"base_url"`
	OK         bool   `json:"ok"`
	StatusCode int    `json:"status_code,omitempty"`
	LatencyMS  int64  `json:"latency_ms"`
	ErrorType  string `json:"error_type,omitempty"`
}

func probeEndpoints(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfigWithEnvOverrides(cfgFile)
	if err != nil {
		return cli.NewConfigError("", err.Error())
	}

	timeout := probeFlags.timeout
	if timeout == 0 {
		timeout = cfg.Probe.Timeout
	}

	repo := endpoints.NewMemoryRepository(cfg.Vendors)
	prober := endpoints.NewProber(repo, cfg.Probe.Schedule, timeout, nil)

	ctx, cancel := context.WithTimeout(context.Background(), timeout+5*time.Second)
	defer cancel()
	prober.Sweep(ctx)

	reports := make([]probeReport, 0)
	for _, ep := range repo.All() {
		if !ep.Enabled {
			continue
		}
		report := probeReport{
			EndpointID: ep.ID,
			VendorID:   ep.VendorID,
			BaseURL:    ep.BaseURL,
		}
		report.OK = ep.Probe.OK
		report.StatusCode = ep.Probe.StatusCode
		report.LatencyMS = ep.Probe.Latency.Milliseconds()
		report.ErrorType = ep.Probe.ErrorType
		reports = append(reports, report)
	}

	if len(reports) == 0 {
		fmt.Println("No enabled endpoints configured.")
		return nil
	}

	if probeFlags.format == "json" {
		formatter := &cli.JSONFormatter{Indent: true}
		return formatter.FormatTo(os.Stdout, reports)
	}

	for _, r := range reports {
		status := "ok"
		if !r.OK {
			status = "FAIL"
			if r.ErrorType != "" {
				status = "FAIL (" + r.ErrorType + ")"
			}
		}
		fmt.Printf("%-20s %-12s %4dms  %s\n", r.EndpointID, r.VendorID, r.LatencyMS, status)
	}
	return nil
}
