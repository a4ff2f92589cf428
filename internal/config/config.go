package config

import "time"

// CurrentConfigVersion is the latest configuration schema version.
// Bump this when adding fields that require migration.
const CurrentConfigVersion = 1

// Config is the unified configuration for cantal-agentd: the core
// gossip/remote-manager options from spec §6's option table, plus the
// ambient fields (logging, telemetry, control socket) a full binary
// needs around that core.
type Config struct {
	Version int `yaml:"version,omitempty"`

	Bind                string        `yaml:"bind"`
	ClusterName         string        `yaml:"cluster_name"`
	MachineID           string        `yaml:"machine_id,omitempty"`
	Hostname            string        `yaml:"hostname,omitempty"`
	Name                string        `yaml:"name,omitempty"`
	Addresses           []string      `yaml:"str_addresses"`
	Interval            time.Duration `yaml:"interval"`
	MaxPacketSize       int           `yaml:"max_packet_size"`
	AddHostFirstSleep   time.Duration `yaml:"add_host_first_sleep"`

	Logging   LoggingConfig   `yaml:"logging,omitempty"`
	Telemetry TelemetryConfig `yaml:"telemetry,omitempty"`
	Control   ControlConfig   `yaml:"control,omitempty"`
}

// LoggingConfig controls the slog handler installed by main().
type LoggingConfig struct {
	Level string `yaml:"level,omitempty"` // debug, info, warn, error (default: info)
}

// TelemetryConfig controls Prometheus metrics exposure. Watchdog is
// parsed but not read by cantal-agentd: internal/metering sends its
// systemd keepalives whenever NOTIFY_SOCKET is set, whatever its value.
type TelemetryConfig struct {
	Metrics  MetricsConfig `yaml:"metrics,omitempty"`
	Watchdog bool          `yaml:"watchdog,omitempty"`
}

// MetricsConfig controls the Prometheus listener served by
// internal/metering.
type MetricsConfig struct {
	Enabled       bool   `yaml:"enabled"`
	ListenAddress string `yaml:"listen_address"` // default: "127.0.0.1:9091"
}

// ControlConfig controls the read-only Unix-socket introspection API in
// internal/control.
type ControlConfig struct {
	Enabled    bool   `yaml:"enabled"`
	SocketPath string `yaml:"socket_path,omitempty"` // default: <config dir>/control.sock
}
