// Package config loads and validates the monochromator configuration.
//
// Files are YAML (.yaml, .yml) or TOML (.toml). Unknown keys are rejected. Time values are
// seconds. Keys absent from a file keep their default.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/arloliu/go-monochromator/device"
	"github.com/arloliu/go-monochromator/logger"
	"gopkg.in/yaml.v3"
)

// ErrUnsupportedFormat is returned for a file extension other than .yaml, .yml and .toml.
var ErrUnsupportedFormat = errors.New("config: unsupported file format")

// ErrInvalid is matched by every validation failure.
var ErrInvalid = errors.New("config: invalid configuration")

// Format selects the decoder of Parse.
type Format int

const (
	YAML Format = iota
	TOML
)

func (f Format) String() string {
	switch f {
	case YAML:
		return "yaml"
	case TOML:
		return "toml"
	default:
		return fmt.Sprintf("Format(%d)", int(f))
	}
}

// Config is the monochromator configuration.
type Config struct {
	// Host is the IP address or host name of the controller.
	Host string `yaml:"host" toml:"host"`
	// Port is the TCP port of the controller; 0 selects an ephemeral port in simulation.
	Port int `yaml:"port" toml:"port"`

	ConnectionTimeout float64 `yaml:"connection_timeout" toml:"connection_timeout"`
	ReadTimeout       float64 `yaml:"read_timeout" toml:"read_timeout"`
	WriteTimeout      float64 `yaml:"write_timeout" toml:"write_timeout"`

	// WavelengthGR1 is the minimum wavelength used with grating 1 (nm).
	WavelengthGR1 float64 `yaml:"wavelength_gr1" toml:"wavelength_gr1"`
	// WavelengthGR1GR2 is the crossover wavelength from grating 1 to grating 2 (nm).
	WavelengthGR1GR2 float64 `yaml:"wavelength_gr1_gr2" toml:"wavelength_gr1_gr2"`
	// WavelengthGR2 is the maximum wavelength used with grating 2 (nm).
	WavelengthGR2 float64 `yaml:"wavelength_gr2" toml:"wavelength_gr2"`

	MinSlitWidth  float64 `yaml:"min_slit_width" toml:"min_slit_width"`
	MaxSlitWidth  float64 `yaml:"max_slit_width" toml:"max_slit_width"`
	MinWavelength float64 `yaml:"min_wavelength" toml:"min_wavelength"`
	MaxWavelength float64 `yaml:"max_wavelength" toml:"max_wavelength"`

	// Period is the heartbeat poll period (s).
	Period float64 `yaml:"period" toml:"period"`
	// Timeout is the heartbeat poll timeout (s).
	Timeout float64 `yaml:"timeout" toml:"timeout"`

	MoveTimeout               float64 `yaml:"move_timeout" toml:"move_timeout"`
	MoveGratingTimeout        float64 `yaml:"move_grating_timeout" toml:"move_grating_timeout"`
	PollInterval              float64 `yaml:"poll_interval" toml:"poll_interval"`
	HeartbeatFailureThreshold int     `yaml:"heartbeat_failure_threshold" toml:"heartbeat_failure_threshold"`

	LogLevel string `yaml:"log_level" toml:"log_level"`
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Host:                      "127.0.0.1",
		Port:                      50000,
		ConnectionTimeout:         10,
		ReadTimeout:               10,
		WriteTimeout:              10,
		WavelengthGR1:             320,
		WavelengthGR1GR2:          800,
		WavelengthGR2:             1130,
		MinSlitWidth:              0,
		MaxSlitWidth:              7,
		MinWavelength:             320,
		MaxWavelength:             1130,
		Period:                    1,
		Timeout:                   5,
		MoveTimeout:               60,
		MoveGratingTimeout:        300,
		PollInterval:              0.5,
		HeartbeatFailureThreshold: 3,
		LogLevel:                  "info",
	}
}

// Simulation returns the configuration used in simulation mode: the defaults with an
// ephemeral port on the loopback interface.
func Simulation() *Config {
	cfg := Default()
	cfg.Host = "127.0.0.1"
	cfg.Port = 0

	return cfg
}

// Load reads the file at path over the defaults and validates the result.
func Load(path string) (*Config, error) {
	var format Format
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		format = YAML
	case ".toml":
		format = TOML
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	cfg, err := Parse(data, format)
	if err != nil {
		return nil, fmt.Errorf("config: load %s: %w", path, err)
	}

	return cfg, nil
}

// Parse decodes data over the defaults and validates the result.
func Parse(data []byte, format Format) (*Config, error) {
	cfg := Default()

	switch format {
	case YAML:
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("decode yaml: %w", err)
		}

	case TOML:
		meta, err := toml.NewDecoder(bytes.NewReader(data)).Decode(cfg)
		if err != nil {
			return nil, fmt.Errorf("decode toml: %w", err)
		}
		if undecoded := meta.Undecoded(); len(undecoded) > 0 {
			keys := make([]string, 0, len(undecoded))
			for _, key := range undecoded {
				keys = append(keys, key.String())
			}

			return nil, fmt.Errorf("decode toml: unknown keys %s", strings.Join(keys, ", "))
		}

	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, format)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks the configuration and returns every violation found.
func (c *Config) Validate() error {
	var errs []error
	fail := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: "+format, append([]any{ErrInvalid}, args...)...))
	}

	if strings.TrimSpace(c.Host) == "" {
		fail("host is empty")
	}
	if c.Port < 0 || c.Port > 65535 {
		fail("port %d out of range [0, 65535]", c.Port)
	}

	for _, v := range []struct {
		name  string
		value float64
	}{
		{"connection_timeout", c.ConnectionTimeout},
		{"read_timeout", c.ReadTimeout},
		{"write_timeout", c.WriteTimeout},
		{"period", c.Period},
		{"timeout", c.Timeout},
		{"move_timeout", c.MoveTimeout},
		{"move_grating_timeout", c.MoveGratingTimeout},
		{"poll_interval", c.PollInterval},
	} {
		if !(v.value > 0) || math.IsInf(v.value, 0) {
			fail("%s must be a positive number of seconds, got %v", v.name, v.value)
		}
	}

	if c.HeartbeatFailureThreshold < 1 {
		fail("heartbeat_failure_threshold must be at least 1, got %d", c.HeartbeatFailureThreshold)
	}

	if _, err := logger.ParseLevel(c.LogLevel); err != nil {
		fail("log_level: %v", err)
	}

	if err := c.Limits().Validate(); err != nil {
		errs = append(errs, fmt.Errorf("%w: %w", ErrInvalid, err))
	}

	return errors.Join(errs...)
}

// Limits returns the physical limits of the device.
func (c *Config) Limits() device.Limits {
	return device.Limits{
		WavelengthGR1:    c.WavelengthGR1,
		WavelengthGR1GR2: c.WavelengthGR1GR2,
		WavelengthGR2:    c.WavelengthGR2,
		MinWavelength:    c.MinWavelength,
		MaxWavelength:    c.MaxWavelength,
		MinSlitWidth:     c.MinSlitWidth,
		MaxSlitWidth:     c.MaxSlitWidth,
	}
}

// Level returns the parsed log level, InfoLevel when it cannot be parsed.
func (c *Config) Level() logger.Level {
	level, err := logger.ParseLevel(c.LogLevel)
	if err != nil {
		return logger.InfoLevel
	}

	return level
}

func seconds(v float64) time.Duration {
	return time.Duration(v * float64(time.Second))
}

func (c *Config) ConnectTimeoutDuration() time.Duration     { return seconds(c.ConnectionTimeout) }
func (c *Config) ReadTimeoutDuration() time.Duration        { return seconds(c.ReadTimeout) }
func (c *Config) WriteTimeoutDuration() time.Duration       { return seconds(c.WriteTimeout) }
func (c *Config) PeriodDuration() time.Duration             { return seconds(c.Period) }
func (c *Config) TimeoutDuration() time.Duration            { return seconds(c.Timeout) }
func (c *Config) MoveTimeoutDuration() time.Duration        { return seconds(c.MoveTimeout) }
func (c *Config) MoveGratingTimeoutDuration() time.Duration { return seconds(c.MoveGratingTimeout) }
func (c *Config) PollIntervalDuration() time.Duration       { return seconds(c.PollInterval) }
