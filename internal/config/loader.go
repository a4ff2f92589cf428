package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/dizhaung/cantal/internal/validate"
)

// checkConfigFilePermissions rejects config files that are group- or
// world-readable. Config files carry the cluster's bind address and
// machine identity.
func checkConfigFilePermissions(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return nil // file access errors are handled by the caller
	}
	mode := info.Mode().Perm()
	if mode&0077 != 0 {
		return fmt.Errorf("config file %s has overly permissive mode %04o; expected 0600 — fix with: chmod 600 %s", path, mode, path)
	}
	return nil
}

// rawConfig mirrors Config but keeps duration fields as strings so they
// can be validated with a clearer error than yaml.v3's default.
type rawConfig struct {
	Version           int      `yaml:"version,omitempty"`
	Bind              string   `yaml:"bind"`
	ClusterName       string   `yaml:"cluster_name"`
	MachineID         string   `yaml:"machine_id,omitempty"`
	Hostname          string   `yaml:"hostname,omitempty"`
	Name              string   `yaml:"name,omitempty"`
	Addresses         []string `yaml:"str_addresses"`
	Interval          string   `yaml:"interval"`
	MaxPacketSize     int      `yaml:"max_packet_size"`
	AddHostFirstSleep string   `yaml:"add_host_first_sleep"`
	Logging           LoggingConfig   `yaml:"logging,omitempty"`
	Telemetry         TelemetryConfig `yaml:"telemetry,omitempty"`
	Control           ControlConfig   `yaml:"control,omitempty"`
}

// LoadConfig loads the agent configuration from a YAML file.
func LoadConfig(path string) (*Config, error) {
	if err := checkConfigFilePermissions(path); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var raw rawConfig
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	version := raw.Version
	if version == 0 {
		version = 1
	}
	if version > CurrentConfigVersion {
		return nil, fmt.Errorf("%w: version %d is newer than supported version %d; please upgrade cantal-agentd", ErrConfigVersionTooNew, version, CurrentConfigVersion)
	}

	interval, err := time.ParseDuration(raw.Interval)
	if err != nil {
		return nil, fmt.Errorf("invalid interval: %w", err)
	}
	firstSleep, err := time.ParseDuration(raw.AddHostFirstSleep)
	if err != nil {
		return nil, fmt.Errorf("invalid add_host_first_sleep: %w", err)
	}

	cfg := &Config{
		Version:           version,
		Bind:              raw.Bind,
		ClusterName:       raw.ClusterName,
		MachineID:         raw.MachineID,
		Hostname:          raw.Hostname,
		Name:              raw.Name,
		Addresses:         raw.Addresses,
		Interval:          interval,
		MaxPacketSize:     raw.MaxPacketSize,
		AddHostFirstSleep: firstSleep,
		Logging:           raw.Logging,
		Telemetry:         raw.Telemetry,
		Control:           raw.Control,
	}
	applyDefaults(cfg)
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.MaxPacketSize == 0 {
		cfg.MaxPacketSize = 1400
	}
	if cfg.Telemetry.Metrics.Enabled && cfg.Telemetry.Metrics.ListenAddress == "" {
		cfg.Telemetry.Metrics.ListenAddress = "127.0.0.1:9091"
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
}

// ValidateConfig checks that the loaded configuration is complete
// enough to start the agent.
func ValidateConfig(cfg *Config) error {
	if cfg.Bind == "" {
		return fmt.Errorf("bind is required")
	}
	if err := validate.NetworkName(cfg.ClusterName); err != nil {
		return fmt.Errorf("cluster_name: %w", err)
	}
	if cfg.Interval <= 0 {
		return fmt.Errorf("interval must be positive")
	}
	if cfg.MaxPacketSize <= 0 {
		return fmt.Errorf("max_packet_size must be positive")
	}
	if cfg.AddHostFirstSleep <= 0 {
		return fmt.Errorf("add_host_first_sleep must be positive")
	}
	return nil
}

// FindConfigFile searches for a cantal-agentd config file in standard
// locations. Search order: explicitPath (if given), ./cantal-agent.yaml,
// ~/.config/cantal-agent/config.yaml, /etc/cantal-agent/config.yaml.
func FindConfigFile(explicitPath string) (string, error) {
	if explicitPath != "" {
		if _, err := os.Stat(explicitPath); err != nil {
			return "", fmt.Errorf("%w: %s", ErrConfigNotFound, explicitPath)
		}
		return explicitPath, nil
	}

	searchPaths := []string{"cantal-agent.yaml"}
	if home, err := os.UserHomeDir(); err == nil {
		searchPaths = append(searchPaths, filepath.Join(home, ".config", "cantal-agent", "config.yaml"))
	}
	searchPaths = append(searchPaths, filepath.Join("/etc", "cantal-agent", "config.yaml"))

	for _, path := range searchPaths {
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}

	return "", fmt.Errorf("%w; searched:\n  %s\n\nRun with --config <path>", ErrConfigNotFound, strings.Join(searchPaths, "\n  "))
}

// DefaultConfigDir returns the default cantal-agentd config directory
// (~/.config/cantal-agent).
func DefaultConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	return filepath.Join(home, ".config", "cantal-agent"), nil
}
