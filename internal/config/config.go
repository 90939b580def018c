// Package config loads the serve-mode configuration file. Durations stay
// strings in the file ("750ms", "30s") and are parsed on access, matching
// how manifests carry family timeouts.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the daemon configuration, typically pergola.yaml.
type Config struct {
	LogLevel    string            `yaml:"log_level"`
	HostOrigin  string            `yaml:"host_origin"`
	Origins     []string          `yaml:"origins"`
	SettleDelay string            `yaml:"settle_delay"`
	CallTimeout string            `yaml:"call_timeout"`
	Families    map[string]string `yaml:"families"`

	HTTP     HTTPConfig     `yaml:"http"`
	Redis    RedisConfig    `yaml:"redis"`
	Catalog  CatalogConfig  `yaml:"catalog"`
	Programs ProgramsConfig `yaml:"programs"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

// HTTPConfig configures the browser-facing transport.
type HTTPConfig struct {
	Address string `yaml:"address"`
}

// RedisConfig configures the cross-process transport. Disabled unless an
// address is set.
type RedisConfig struct {
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix"`
}

// CatalogConfig points at the manifest repository directory.
type CatalogConfig struct {
	Path  string `yaml:"path"`
	Watch bool   `yaml:"watch"`
}

// ProgramsConfig points at the local peer program registry.
type ProgramsConfig struct {
	Path string `yaml:"path"`
}

// MetricsConfig controls the /metrics endpoint.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
}

// Default returns the configuration used when no file is present.
func Default() Config {
	return Config{
		LogLevel: "info",
		HTTP:     HTTPConfig{Address: ":8080"},
		Catalog:  CatalogConfig{Path: "./peers"},
		Programs: ProgramsConfig{Path: "./programs.yaml"},
		Metrics:  MetricsConfig{Enabled: true},
	}
}

// Load reads path over the defaults. A missing file yields the defaults;
// any other read or parse failure is an error.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("failed to read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return cfg, nil
}

// Level maps the configured log level onto slog. Unknown values fall back
// to Info.
func (c Config) Level() slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.ToUpper(c.LogLevel))); err != nil {
		return slog.LevelInfo
	}
	return level
}

// ParseSettleDelay parses the resend delay. Zero with nil error means the
// built-in default applies.
func (c Config) ParseSettleDelay() (time.Duration, error) {
	return parseOptional("settle_delay", c.SettleDelay)
}

// ParseCallTimeout parses the default call deadline. Zero with nil error
// means the built-in default applies.
func (c Config) ParseCallTimeout() (time.Duration, error) {
	return parseOptional("call_timeout", c.CallTimeout)
}

// FamilyTimeouts parses the per-family deadline overrides.
func (c Config) FamilyTimeouts() (map[string]time.Duration, error) {
	out := make(map[string]time.Duration, len(c.Families))
	for family, raw := range c.Families {
		d, err := time.ParseDuration(raw)
		if err != nil {
			return nil, fmt.Errorf("families.%s: %w", family, err)
		}
		out[family] = d
	}
	return out, nil
}

func parseOptional(key, raw string) (time.Duration, error) {
	if raw == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}
