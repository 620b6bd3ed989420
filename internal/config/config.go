// Package config provides TOML settings loading for the comm network.
package config

import (
	"fmt"
	"os"
	"os/user"
	"path/filepath"
	"strings"

	toml "github.com/pelletier/go-toml/v2"

	"github.com/signalsfoundry/constellation-comms/model"
)

// DefaultMaxNameChars bounds constellation names.
const DefaultMaxNameChars = 23

// Config is the top-level settings structure.
type Config struct {
	Network        NetworkConfig         `toml:"network"`
	Log            LogConfig             `toml:"log"`
	Store          StoreConfig           `toml:"store"`
	Metrics        MetricsConfig         `toml:"metrics"`
	Tracing        TracingConfig         `toml:"tracing"`
	Constellations []model.Constellation `toml:"constellations"`
}

// NetworkConfig holds the connectivity settings.
type NetworkConfig struct {
	// PublicFrequency is a pointer so an explicit 0 can be told apart
	// from an unset value.
	PublicFrequency *int    `toml:"public_frequency"`
	MaxNameChars    int     `toml:"max_name_chars"`
	MaxRangeKm      float64 `toml:"max_range_km"`
}

// LogConfig mirrors logging.Config.
type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// StoreConfig locates the session database.
type StoreConfig struct {
	Path string `toml:"path"`
}

// MetricsConfig holds the Prometheus listener address. Empty disables it.
type MetricsConfig struct {
	Addr string `toml:"addr"`
}

// TracingConfig mirrors observability.TracingConfig.
type TracingConfig struct {
	Enabled     bool    `toml:"enabled"`
	ServiceName string  `toml:"service_name"`
	Exporter    string  `toml:"exporter"`
	Endpoint    string  `toml:"endpoint"`
	SampleRatio float64 `toml:"sample_ratio"`
}

// Public returns the configured public frequency.
func (n NetworkConfig) Public() model.Frequency {
	if n.PublicFrequency == nil {
		return model.DefaultPublicFrequency
	}
	return model.Frequency(*n.PublicFrequency)
}

// Default returns the settings used when no file is given.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	cfg.expandPaths()
	return cfg
}

// Load reads and parses a TOML settings file, applying defaults for unset
// values and validating frequencies.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	cfg := &Config{}
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	applyDefaults(cfg)
	cfg.expandPaths()
	return cfg, nil
}

func (cfg *Config) validate() error {
	if p := cfg.Network.PublicFrequency; p != nil && !model.IsValidFrequency(*p) {
		return fmt.Errorf("%w: public_frequency %d is out of the range [%d,%d]", model.ErrInvalidFrequency, *p, model.MinFrequency, model.MaxFrequency)
	}
	if cfg.Network.MaxNameChars < 0 {
		return fmt.Errorf("max_name_chars must not be negative")
	}
	for _, c := range cfg.Constellations {
		if err := c.Validate(0); err != nil {
			return err
		}
	}
	return nil
}

func (cfg *Config) expandPaths() {
	cfg.Store.Path = ExpandPath(cfg.Store.Path)
}

// ExpandPath expands tilde (~) to the user's home directory.
func ExpandPath(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	usr, err := user.Current()
	if err != nil {
		return path
	}
	if path == "~" {
		return usr.HomeDir
	}
	if strings.HasPrefix(path, "~/") {
		return filepath.Join(usr.HomeDir, path[2:])
	}
	return path
}

func applyDefaults(cfg *Config) {

	// Network defaults
	if cfg.Network.PublicFrequency == nil {
		public := int(model.DefaultPublicFrequency)
		cfg.Network.PublicFrequency = &public
	}
	if cfg.Network.MaxNameChars == 0 {
		cfg.Network.MaxNameChars = DefaultMaxNameChars
	}

	// Log defaults
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}

	if cfg.Store.Path == "" {
		cfg.Store.Path = "~/.constellation-comms/session.db"
	}
	if cfg.Metrics.Addr == "" {
		cfg.Metrics.Addr = ":9090"
	}

	// Tracing defaults
	if cfg.Tracing.ServiceName == "" {
		cfg.Tracing.ServiceName = "constellation-comms"
	}
	if cfg.Tracing.Exporter == "" {
		cfg.Tracing.Exporter = "stdout"
	}
	if cfg.Tracing.SampleRatio <= 0 || cfg.Tracing.SampleRatio > 1 {
		cfg.Tracing.SampleRatio = 1.0
	}

	if len(cfg.Constellations) == 0 {
		cfg.Constellations = []model.Constellation{{
			Name:      "Public",
			Frequency: cfg.Network.Public(),
			Color:     "#00ff00",
		}}
	}
}
