// Package config loads and validates the station configuration.
package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"

	"github.com/lakeshorelabs/groundstation/internal/logger"
)

// Config holds station-wide configuration settings.
type Config struct {
	Plugins  PluginsConfig  `yaml:"plugins"`
	Device   DeviceConfig   `yaml:"device"`
	API      APIConfig      `yaml:"api"`
	Recorder RecorderConfig `yaml:"recorder"`
	Relay    RelayConfig    `yaml:"relay"`
	Logging  logger.Config  `yaml:"logging"`
}

// PluginsConfig holds settings for the plugin broadcast endpoint.
type PluginsConfig struct {
	// Port is the well-known TCP port plugins connect to.
	Port int `yaml:"port"`

	// Enabled arms the endpoint at daemon startup. A freshly
	// constructed endpoint is always disarmed until something flips it.
	Enabled bool `yaml:"enabled"`

	// MaxClients caps concurrent plugin connections. 0 means unlimited.
	MaxClients int `yaml:"max_clients"`

	// TickIntervalMS is the batched-broadcast pulse in milliseconds.
	TickIntervalMS int `yaml:"tick_interval_ms"`

	// SendBuffer is how many outbound messages may queue per connection
	// before the connection counts as unwritable for a broadcast.
	SendBuffer int `yaml:"send_buffer"`
}

// DeviceConfig holds settings for the telemetry source link.
type DeviceConfig struct {
	// Driver selects the link type: "tcp" or "udp".
	Driver string `yaml:"driver"`

	// Address is the host:port the device serves telemetry on.
	Address string `yaml:"address"`

	// StartDelimiter optionally marks where a frame begins.
	StartDelimiter string `yaml:"start_delimiter"`

	// EndDelimiter marks where a frame ends. Defaults to newline.
	EndDelimiter string `yaml:"end_delimiter"`

	// MaxFrameSize caps the bytes buffered while waiting for a frame
	// delimiter.
	MaxFrameSize int `yaml:"max_frame_size"`
}

// APIConfig holds settings for the HTTP status and control surface.
type APIConfig struct {
	Enabled bool `yaml:"enabled"`

	// Address is the listen address. Loopback by default; the API has
	// no authentication of its own.
	Address string `yaml:"address"`
}

// RecorderConfig holds settings for the frame archive.
type RecorderConfig struct {
	Enabled bool `yaml:"enabled"`

	// Driver selects the archive backend: "sqlite" or "postgres".
	Driver string `yaml:"driver"`

	// Path is the sqlite database file.
	Path string `yaml:"path"`

	// DSN is the postgres connection string.
	DSN string `yaml:"dsn"`

	// RetentionDays is how long archived frames are kept. 0 disables
	// the retention sweep.
	RetentionDays int `yaml:"retention_days"`
}

// RelayConfig holds settings for the Redis fleet relay.
type RelayConfig struct {
	Enabled bool `yaml:"enabled"`

	// Address is the Redis host:port.
	Address string `yaml:"address"`

	Password string `yaml:"password"`
	DB       int    `yaml:"db"`

	// ChannelPrefix namespaces the published channels, e.g.
	// "groundstation" publishes on groundstation:frames and
	// groundstation:raw.
	ChannelPrefix string `yaml:"channel_prefix"`
}

// DefaultConfig returns a Config with working defaults for a local
// station.
func DefaultConfig() *Config {
	return &Config{
		Plugins: PluginsConfig{
			Port:           7777, // well-known plugin port
			Enabled:        true,
			MaxClients:     0, // unlimited
			TickIntervalMS: 1000,
			SendBuffer:     16,
		},
		Device: DeviceConfig{
			Driver:         "tcp",
			Address:        "127.0.0.1:9000",
			StartDelimiter: "",
			EndDelimiter:   "\n",
			MaxFrameSize:   64 * 1024,
		},
		API: APIConfig{
			Enabled: true,
			Address: "127.0.0.1:7780",
		},
		Recorder: RecorderConfig{
			Enabled:       false,
			Driver:        "sqlite",
			Path:          "data/frames.db",
			DSN:           "",
			RetentionDays: 7,
		},
		Relay: RelayConfig{
			Enabled:       false,
			Address:       "127.0.0.1:6379",
			Password:      "",
			DB:            0,
			ChannelPrefix: "groundstation",
		},
		Logging: logger.DefaultConfig(),
	}
}

// Load reads the configuration file at path, merging it over the
// defaults, then applies environment overrides and validates the
// result. A missing file is not an error; the defaults apply.
func Load(path string) (*Config, error) {
	config := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, config); err != nil {
				return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
			}
		case os.IsNotExist(err):
			// fall through to defaults
		default:
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	config.applyEnvOverrides()
	config.Logging = config.Logging.WithEnvOverrides()

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// applyEnvOverrides applies deploy-time environment variables on top of
// whatever the file configured.
func (c *Config) applyEnvOverrides() {
	if port := os.Getenv("STATION_PLUGINS_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			c.Plugins.Port = p
		}
	}
	if addr := os.Getenv("STATION_DEVICE_ADDRESS"); addr != "" {
		c.Device.Address = addr
	}
	if addr := os.Getenv("STATION_API_ADDRESS"); addr != "" {
		c.API.Address = addr
	}
	if addr := os.Getenv("STATION_RELAY_ADDRESS"); addr != "" {
		c.Relay.Address = addr
	}
}

// Validate rejects configurations the daemon cannot run with.
func (c *Config) Validate() error {
	if c.Plugins.Port < 0 || c.Plugins.Port > 65535 {
		return fmt.Errorf("plugins.port %d is out of range (0-65535)", c.Plugins.Port)
	}
	if c.Plugins.TickIntervalMS < 1 {
		return fmt.Errorf("plugins.tick_interval_ms must be at least 1, got %d", c.Plugins.TickIntervalMS)
	}
	if c.Plugins.SendBuffer < 1 {
		return fmt.Errorf("plugins.send_buffer must be at least 1, got %d", c.Plugins.SendBuffer)
	}
	if c.Plugins.MaxClients < 0 {
		return fmt.Errorf("plugins.max_clients must not be negative, got %d", c.Plugins.MaxClients)
	}

	if c.Device.Driver != "tcp" && c.Device.Driver != "udp" {
		return fmt.Errorf("device.driver %q is not supported (tcp, udp)", c.Device.Driver)
	}
	if c.Device.Address == "" {
		return fmt.Errorf("device.address must not be empty")
	}
	if c.Device.MaxFrameSize < 1 {
		return fmt.Errorf("device.max_frame_size must be at least 1, got %d", c.Device.MaxFrameSize)
	}

	if c.API.Enabled && c.API.Address == "" {
		return fmt.Errorf("api.address must not be empty when the API is enabled")
	}

	if c.Recorder.Enabled {
		switch c.Recorder.Driver {
		case "sqlite":
			if c.Recorder.Path == "" {
				return fmt.Errorf("recorder.path must not be empty for the sqlite driver")
			}
		case "postgres":
			if c.Recorder.DSN == "" {
				return fmt.Errorf("recorder.dsn must not be empty for the postgres driver")
			}
		default:
			return fmt.Errorf("recorder.driver %q is not supported (sqlite, postgres)", c.Recorder.Driver)
		}
		if c.Recorder.RetentionDays < 0 {
			return fmt.Errorf("recorder.retention_days must not be negative, got %d", c.Recorder.RetentionDays)
		}
	}

	if c.Relay.Enabled && c.Relay.Address == "" {
		return fmt.Errorf("relay.address must not be empty when the relay is enabled")
	}

	return nil
}
