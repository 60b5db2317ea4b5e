package vecgraph

import (
	"bytes"
	"errors"
	"io"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/hupe1980/vecgraph/resource"
)

// Config is the YAML representation of an index configuration.
//
//	build:
//	  dim: 128
//	  metric_type: COSINE
//	  M: 16
//	  ef_construction: 128
//	search:
//	  k: 10
//	  ef_search: 64
//	compression: zstd
//	resources:
//	  max_workers: 8
type Config struct {
	Build       BuildParams     `yaml:"build"`
	Search      SearchParams    `yaml:"search"`
	Range       RangeParams     `yaml:"range"`
	Resources   resource.Config `yaml:"resources"`
	Compression string          `yaml:"compression"`
	Workers     int             `yaml:"workers"`
	LogLevel    string          `yaml:"log_level"`
}

// LoadConfig reads and parses the YAML file at path.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, ioError("read config", path, err)
	}

	return ParseConfig(data)
}

// ParseConfig parses YAML, applies defaults and validates the result.
// Unknown keys are rejected.
func ParseConfig(data []byte) (*Config, error) {
	var cfg Config

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, invalidParam("parse config: %v", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) applyDefaults() {
	c.Build = c.Build.withDefaults()
	if c.Search.K == 0 {
		c.Search.K = DefaultK
	}
	c.Search = c.Search.withDefaults()
	if c.Range.Radius == 0 {
		c.Range.Radius = DefaultRadius
	}
	c.Range = c.Range.withDefaults()
	if c.Workers == 0 {
		c.Workers = 1
	}
}

// Validate checks every section. Build.Dim may be left unset when the
// config only carries query settings.
func (c *Config) Validate() error {
	if c.Build.Dim != 0 {
		if err := c.Build.Validate(); err != nil {
			return err
		}
	}
	if err := c.Search.Validate(); err != nil {
		return err
	}
	if err := c.Range.Validate(); err != nil {
		return err
	}
	if _, err := ParseCompression(c.Compression); err != nil {
		return err
	}
	if _, err := parseLogLevel(c.LogLevel); err != nil {
		return err
	}
	if c.Workers < 0 {
		return invalidParam("workers must not be negative, got %d", c.Workers)
	}
	return nil
}

// Options converts the ambient settings into index options.
// A log_level other than "off" or empty attaches a text logger on stderr.
func (c *Config) Options() []Option {
	comp, _ := ParseCompression(c.Compression)

	opts := []Option{
		WithCompression(comp),
		WithWorkers(c.Workers),
	}

	if c.Resources != (resource.Config{}) {
		opts = append(opts, WithResourceController(resource.NewController(c.Resources)))
	}

	if level, err := parseLogLevel(c.LogLevel); err == nil && level != nil {
		opts = append(opts, WithLogger(NewTextLogger(*level)))
	}

	return opts
}

func parseLogLevel(s string) (*slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "off":
		return nil, nil
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return nil, invalidParam("unknown log_level %q", s)
	}

	return &level, nil
}
