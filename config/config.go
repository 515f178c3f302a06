// Package config loads the YAML document that selects a compute backend and
// sizes the particle state.
//
//	backend: occa
//	device:
//	  mode: CUDA
//	  device_id: 0
//	state:
//	  size: 10000
//	  state_size: 32
//	  float_type: double
//	build:
//	  flags: -cl-fast-relaxed-math
//	seed: 101
//	seed_partition:
//	  divisor: 4
//	  remainder: 1
//	log:
//	  level: debug
//	  format: json
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/notargets/SMCKernel/compute"
	"github.com/notargets/SMCKernel/logger"
	"github.com/notargets/SMCKernel/runner/builder"
	"gopkg.in/yaml.v3"
)

// Config is the top level document
type Config struct {
	Backend string       `yaml:"backend"`
	Device  DeviceConfig `yaml:"device"`
	State   StateConfig  `yaml:"state"`
	Build   BuildConfig  `yaml:"build"`
	Log     LogConfig    `yaml:"log"`
	Seed    uint64       `yaml:"seed"`
	// SeedPartition splits the seed space between workers
	SeedPartition SeedPartition `yaml:"seed_partition"`
}

// DeviceConfig maps onto compute.Options
type DeviceConfig struct {
	Mode       string                 `yaml:"mode"`
	Platform   int                    `yaml:"platform"`
	DeviceID   int                    `yaml:"device_id"`
	Properties map[string]interface{} `yaml:"properties"`
}

// StateConfig sizes the particle population
type StateConfig struct {
	Size      int    `yaml:"size"`
	StateSize int    `yaml:"state_size"`
	Dynamic   bool   `yaml:"dynamic"`
	FloatType string `yaml:"float_type"`
	// Pinned backs the state buffer with page-locked host memory
	Pinned bool `yaml:"pinned"`
}

type BuildConfig struct {
	Flags string `yaml:"flags"`
}

// SeedPartition gives worker Remainder of Divisor workers a disjoint set of
// seeds. A zero Divisor disables partitioning.
type SeedPartition struct {
	Divisor   uint64 `yaml:"divisor"`
	Remainder uint64 `yaml:"remainder"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default is a host backend in double precision with one-byte records
func Default() *Config {
	return &Config{
		Backend: "host",
		State: StateConfig{
			Size:      1,
			StateSize: 1,
			FloatType: "double",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads and validates a config file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes a document over Default and validates the result
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks sizes, the float type and the log settings
func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Backend) == "" {
		errs = append(errs, errors.New("backend is empty"))
	}
	if c.State.Size < 1 {
		errs = append(errs, fmt.Errorf("state.size must be at least 1, got %d", c.State.Size))
	}
	if c.State.StateSize < 1 {
		errs = append(errs, fmt.Errorf("state.state_size must be at least 1, got %d", c.State.StateSize))
	}
	if _, err := ParseFloatType(c.State.FloatType); err != nil {
		errs = append(errs, err)
	}
	if p := c.SeedPartition; p.Divisor > 0 && p.Remainder >= p.Divisor {
		errs = append(errs, fmt.Errorf("seed_partition.remainder %d must be below divisor %d", p.Remainder, p.Divisor))
	}
	switch strings.ToLower(c.Log.Format) {
	case "", "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format %q is not text or json", c.Log.Format))
	}
	return errors.Join(errs...)
}

// ParseFloatType maps a float type name onto a builder.DataType
func ParseFloatType(name string) (builder.DataType, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "float", "float32", "single":
		return builder.Float32, nil
	case "", "double", "float64":
		return builder.Float64, nil
	}
	return 0, fmt.Errorf("unknown float_type %q", name)
}

// FloatType returns the configured floating point kind
func (c *Config) FloatType() builder.DataType {
	dt, err := ParseFloatType(c.State.FloatType)
	if err != nil {
		return builder.Float64
	}
	return dt
}

// Options converts the device section for compute.Open
func (c *Config) Options() compute.Options {
	return compute.Options{
		Mode:       c.Device.Mode,
		Platform:   c.Device.Platform,
		DeviceID:   c.Device.DeviceID,
		Properties: c.Device.Properties,
	}
}

// Logger builds the configured logger writing to w
func (c *Config) Logger(w io.Writer) logger.Logger {
	return logger.Build(w, c.Log.Format, c.Log.Level)
}
