package config

import (
	"strings"
	"testing"
)

// validConfig returns a minimal configuration that passes validation.
func validConfig() *Config {
	cfg := &Config{
		Providers: []ProviderConfig{
			{ID: "p1", Type: "claude", URL: "https://api.anthropic.com"},
		},
	}
	ApplyDefaults(cfg)
	return cfg
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:   "valid",
			mutate: func(cfg *Config) {},
		},
		{
			name: "no providers",
			mutate: func(cfg *Config) {
				cfg.Providers = nil
			},
			wantErr: "at least one provider",
		},
		{
			name: "empty provider id",
			mutate: func(cfg *Config) {
				cfg.Providers[0].ID = ""
			},
			wantErr: "id must not be empty",
		},
		{
			name: "duplicate provider id",
			mutate: func(cfg *Config) {
				cfg.Providers = append(cfg.Providers, cfg.Providers[0])
			},
			wantErr: "duplicate provider id",
		},
		{
			name: "unknown provider type",
			mutate: func(cfg *Config) {
				cfg.Providers[0].Type = "bedrock"
			},
			wantErr: "unknown type",
		},
		{
			name: "neither url nor vendor",
			mutate: func(cfg *Config) {
				cfg.Providers[0].URL = ""
			},
			wantErr: "either url or vendor_id",
		},
		{
			name: "bad provider url scheme",
			mutate: func(cfg *Config) {
				cfg.Providers[0].URL = "ftp://example.com"
			},
			wantErr: "must use http or https",
		},
		{
			name: "unknown vendor reference",
			mutate: func(cfg *Config) {
				cfg.Providers[0].VendorID = "ghost"
			},
			wantErr: "unknown vendor_id",
		},
		{
			name: "bad proxy scheme",
			mutate: func(cfg *Config) {
				cfg.Providers[0].ProxyURL = "quic://proxy:1"
			},
			wantErr: "must use http, https, or socks5",
		},
		{
			name: "socks5 proxy accepted",
			mutate: func(cfg *Config) {
				cfg.Providers[0].ProxyURL = "socks5://127.0.0.1:1080"
			},
		},
		{
			name: "half schedule",
			mutate: func(cfg *Config) {
				cfg.Providers[0].Schedule = ScheduleConfig{Start: "09:00"}
			},
			wantErr: "both start and end",
		},
		{
			name: "bad schedule time",
			mutate: func(cfg *Config) {
				cfg.Providers[0].Schedule = ScheduleConfig{Start: "9am", End: "17:00"}
			},
			wantErr: "invalid schedule time",
		},
		{
			name: "midnight-wrapping schedule accepted",
			mutate: func(cfg *Config) {
				cfg.Providers[0].Schedule = ScheduleConfig{Start: "22:00", End: "06:00"}
			},
		},
		{
			name: "zero retry attempts",
			mutate: func(cfg *Config) {
				cfg.Providers[0].MaxRetryAttempts = -1
			},
			wantErr: "max_retry_attempts",
		},
		{
			name: "duplicate endpoint id across vendors",
			mutate: func(cfg *Config) {
				cfg.Vendors = []VendorConfig{
					{ID: "v1", Endpoints: []EndpointConfig{{ID: "ep", BaseURL: "https://a.example.com"}}},
					{ID: "v2", Endpoints: []EndpointConfig{{ID: "ep", BaseURL: "https://b.example.com"}}},
				}
			},
			wantErr: "duplicate endpoint id",
		},
		{
			name: "endpoint url without host",
			mutate: func(cfg *Config) {
				cfg.Vendors = []VendorConfig{
					{ID: "v1", Endpoints: []EndpointConfig{{ID: "ep", BaseURL: "https://"}}},
				}
			},
			wantErr: "has no host",
		},
		{
			name: "bad audit backend",
			mutate: func(cfg *Config) {
				cfg.Audit.Backend = "postgres"
			},
			wantErr: "audit.backend",
		},
		{
			name: "bad log format",
			mutate: func(cfg *Config) {
				cfg.Telemetry.Logging.Format = "xml"
			},
			wantErr: "logging.format",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := Validate(cfg)
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() unexpected error: %v", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("Validate() expected error containing %q, got nil", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %q, want substring %q", err, tt.wantErr)
			}
		})
	}
}
