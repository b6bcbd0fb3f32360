// Package hostconfig loads the daemon's bootstrap configuration: a kratos
// file source scanned into a typed struct.
package hostconfig

import (
	"time"

	"github.com/go-kratos/kratos/v2/config"
	"github.com/go-kratos/kratos/v2/config/file"
)

// Bootstrap is the daemon's top-level configuration.
type Bootstrap struct {
	StateDir            string        `json:"state_dir"`
	HostAPIVersion      string        `json:"host_api_version"`
	AuditLevel          string        `json:"audit_level"`
	PromptPolicy        string        `json:"prompt_policy"`
	TrustLevel          string        `json:"trust_level"`
	MonitoringInterval  time.Duration `json:"monitoring_interval"`
	NetworkFetchTimeout time.Duration `json:"network_fetch_timeout"`
	ConsentTimeout      time.Duration `json:"consent_timeout"`
	InProcess           bool          `json:"in_process"`

	// LogBufferRecords > 0 buffers log output in a non-blocking ring of
	// that many records, drained every LogFlushInterval. Zero writes each
	// record straight through.
	LogBufferRecords int           `json:"log_buffer_records"`
	LogFlushInterval time.Duration `json:"log_flush_interval"`
}

// Default returns the Bootstrap values used absent an on-disk config file.
func Default() Bootstrap {
	return Bootstrap{
		StateDir:            "",
		HostAPIVersion:      "1.0.0",
		AuditLevel:          "Normal",
		PromptPolicy:        "RiskBased",
		TrustLevel:          "strict",
		MonitoringInterval:  time.Second,
		NetworkFetchTimeout: 30 * time.Second,
		ConsentTimeout:      60 * time.Second,
		InProcess:           false,
		LogBufferRecords:    0,
		LogFlushInterval:    10 * time.Millisecond,
	}
}

// Load reads configPath (a file or directory, per kratos config/file's
// source contract) and scans it onto Default()'s values: build a file
// source, wrap it in a config.Config, Load, then Scan into the
// destination struct.
func Load(configPath string) (Bootstrap, error) {
	bc := Default()
	if configPath == "" {
		return bc, nil
	}

	source := file.NewSource(configPath)
	cfg := config.New(config.WithSource(source))
	if err := cfg.Load(); err != nil {
		return bc, err
	}
	defer cfg.Close()

	if err := cfg.Scan(&bc); err != nil {
		return bc, err
	}
	return bc, nil
}
