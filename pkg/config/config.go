// Package config loads the levelsim configuration from YAML files and
// environment variables.
package config

import (
	"os"
	"strconv"

	"github.com/iotaledger/hive.go/ierrors"
	"gopkg.in/yaml.v3"

	"github.com/daviddao/levelsim/pkg/clock"
	"github.com/daviddao/levelsim/pkg/logging"
)

// Config contains all levelsim settings.
type Config struct {
	// Logging configures the operational log.
	Logging LoggingConfig `json:"logging" yaml:"logging"`

	// Trace configures the SQLite trace of simulation runs.
	Trace TraceConfig `json:"trace" yaml:"trace"`

	// Metrics configures the prometheus metrics of simulation runs.
	Metrics MetricsConfig `json:"metrics" yaml:"metrics"`

	// Run configures the demo simulation.
	Run RunConfig `json:"run" yaml:"run"`
}

// LoggingConfig configures logging.
type LoggingConfig struct {
	// Level is one of "debug", "info" (default), "warn" or "error".
	Level string `json:"level" yaml:"level"`
}

// TraceConfig configures the trace store.
type TraceConfig struct {
	Enabled bool `json:"enabled" yaml:"enabled"`

	// DB is the path of the SQLite database.
	DB string `json:"db" yaml:"db"`
}

// MetricsConfig configures metrics collection.
type MetricsConfig struct {
	Enabled bool `json:"enabled" yaml:"enabled"`

	// File receives the metrics in the prometheus text format once the run
	// is over. Empty means standard error.
	File string `json:"file,omitempty" yaml:"file,omitempty"`
}

// RunConfig parameterizes the demo simulation.
type RunConfig struct {
	// Name labels the run in the trace.
	Name string `json:"name" yaml:"name"`

	// Until is the final instant of the simulation.
	Until clock.Time `json:"until" yaml:"until"`

	// Walkers is the number of walkers at the initial instant.
	Walkers int `json:"walkers" yaml:"walkers"`

	// Stamina is the number of moves of a walker before it leaves.
	Stamina int `json:"stamina" yaml:"stamina"`

	// SpawnEvery is the period, in ticks, at which the environment adds a
	// walker. Zero disables spawning.
	SpawnEvery clock.Time `json:"spawn_every" yaml:"spawn_every"`

	// Width is the length of the ring the walkers move on.
	Width int `json:"width" yaml:"width"`
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Logging: LoggingConfig{Level: "info"},
		Trace:   TraceConfig{DB: ".levelsim/trace.db"},
		Run: RunConfig{
			Name:       "demo",
			Until:      30,
			Walkers:    3,
			Stamina:    8,
			SpawnEvery: 5,
			Width:      16,
		},
	}
}

// Load reads the configuration from path, if the file exists, and applies
// the environment overrides. An empty path skips the file.
func Load(path string) (*Config, error) {
	config := Default()

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			fileConfig, err := LoadFromFile(path)
			if err != nil {
				return nil, ierrors.Wrap(err, "loading config file")
			}
			config = fileConfig
		} else if !os.IsNotExist(err) {
			return nil, ierrors.Wrapf(err, "stat config file %s", path)
		}
	}

	if err := applyEnvOverrides(config); err != nil {
		return nil, err
	}
	return config, nil
}

// LoadFromFile reads a YAML configuration. Unset fields keep their defaults.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, ierrors.Wrap(err, "reading config file")
	}

	config := Default()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, ierrors.Wrap(err, "parsing config file")
	}
	return config, nil
}

// Validate checks the configuration for consistency.
func (c *Config) Validate() error {
	if _, err := logging.ParseLevel(c.Logging.Level); err != nil {
		return err
	}
	if c.Trace.Enabled && c.Trace.DB == "" {
		return ierrors.New("trace.db must be set when tracing is enabled")
	}
	if c.Run.Until <= 0 || c.Run.Until.IsInfinite() {
		return ierrors.Errorf("run.until must be positive and finite, got %s", c.Run.Until)
	}
	if c.Run.Walkers < 0 {
		return ierrors.Errorf("run.walkers must be non-negative, got %d", c.Run.Walkers)
	}
	if c.Run.Stamina <= 0 {
		return ierrors.Errorf("run.stamina must be positive, got %d", c.Run.Stamina)
	}
	if c.Run.SpawnEvery < 0 {
		return ierrors.Errorf("run.spawn_every must be non-negative, got %s", c.Run.SpawnEvery)
	}
	if c.Run.Width <= 0 {
		return ierrors.Errorf("run.width must be positive, got %d", c.Run.Width)
	}
	return nil
}

// Marshal returns the configuration as YAML.
func (c *Config) Marshal() ([]byte, error) {
	return yaml.Marshal(c)
}

func applyEnvOverrides(config *Config) error {
	if v := os.Getenv("LEVELSIM_LOG_LEVEL"); v != "" {
		config.Logging.Level = v
	}
	if v := os.Getenv("LEVELSIM_DB"); v != "" {
		config.Trace.DB = v
		config.Trace.Enabled = true
	}
	if v := os.Getenv("LEVELSIM_UNTIL"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return ierrors.Wrapf(err, "LEVELSIM_UNTIL=%q", v)
		}
		config.Run.Until = clock.Time(n)
	}
	return nil
}
