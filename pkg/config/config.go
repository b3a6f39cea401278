// Package config loads Breakwater's environment-overridable defaults.
//
// CLI flags in cmd/breakwater layer on top of whatever this package
// resolves, the same two-step precedence the rest of the stack uses:
// envconfig defaults first, explicit flags second.
package config

import "github.com/kelseyhightower/envconfig"

// Config holds every setting the server needs, with sane Pixelflut
// defaults baked in via struct tags.
type Config struct {
	Server     Server
	Canvas     Canvas
	Statistics Statistics
	Metrics    Metrics
	VNC        VNC
	Log        Log
}

// Server configures the TCP listener and per-connection behavior.
type Server struct {
	ListenAddress     string `envconfig:"LISTEN_ADDRESS" default:"[::]:1234"`
	NetworkBufferSize int    `envconfig:"NETWORK_BUFFER_SIZE" default:"262144"`
	ConnectionsPerIP  int    `envconfig:"CONNECTIONS_PER_IP" default:"0"` // 0 = unlimited
}

// Canvas configures the framebuffer dimensions and backing storage.
type Canvas struct {
	Width           int    `envconfig:"WIDTH" default:"1280"`
	Height          int    `envconfig:"HEIGHT" default:"720"`
	SharedMemoryDir string `envconfig:"SHARED_MEMORY_DIR" default:""` // empty = private heap allocation
}

// Statistics configures the aggregator and its optional JSON persistence.
type Statistics struct {
	SaveFile        string `envconfig:"STATISTICS_SAVE_FILE" default:"statistics.json"`
	SaveIntervalSec int    `envconfig:"STATISTICS_SAVE_INTERVAL_SECONDS" default:"10"`
	DisableSaveFile bool   `envconfig:"STATISTICS_DISABLE_SAVE_FILE" default:"false"`
}

// Metrics configures the Prometheus exporter and admin HTTP server.
type Metrics struct {
	ListenAddress string `envconfig:"PROMETHEUS_LISTEN_ADDRESS" default:"[::]:9100"`
}

// VNC configures the optional RFB display sink.
type VNC struct {
	Enabled       bool   `envconfig:"VNC_ENABLED" default:"false"`
	ListenAddress string `envconfig:"VNC_LISTEN_ADDRESS" default:"[::]:5900"`
	FPS           int    `envconfig:"VNC_FPS" default:"30"`
}

// Log configures zerolog's global level.
type Log struct {
	Level string `envconfig:"LOG_LEVEL" default:"info"`
}

// Load resolves Config from the process environment, applying the
// defaults above for anything unset.
func Load() (Config, error) {
	var cfg Config
	if err := envconfig.Process("BREAKWATER", &cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
