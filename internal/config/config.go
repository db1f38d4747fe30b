// Package config loads the relay configuration from a YAML file and
// RELAY__ environment variables, in that order of precedence (env wins).
package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	yamlv3 "gopkg.in/yaml.v3"

	"cdcrelay/internal/codec"
	"cdcrelay/internal/dispatch"
	"cdcrelay/internal/topics"
	"cdcrelay/sink"
	"cdcrelay/source/kafka"
)

const (
	SupportedSchema = "v1"
	EnvPrefix       = "RELAY__"
)

type Schema struct {
	Version string `koanf:"version" yaml:"version"`
	Format  string `koanf:"format" yaml:"format"`
	// Transforms are extra stages appended after the builtin mapping.
	Transforms []string `koanf:"transforms" yaml:"transforms,omitempty"`
}

type Registry struct {
	URL          string         `koanf:"url" yaml:"url"`
	Username     string         `koanf:"username" yaml:"username"`
	Password     string         `koanf:"password" yaml:"password"`
	AutoRegister bool           `koanf:"auto_register" yaml:"auto_register"`
	Timeout      time.Duration  `koanf:"timeout" yaml:"timeout"`
	Static       map[string]int `koanf:"static" yaml:"static,omitempty"`
}

type Commit struct {
	Period   int64         `koanf:"period" yaml:"period"`
	Interval time.Duration `koanf:"interval" yaml:"interval"`
}

type Startup struct {
	MaxRetries      uint64        `koanf:"max_retries" yaml:"max_retries"`
	InitialInterval time.Duration `koanf:"initial_interval" yaml:"initial_interval"`
	MaxInterval     time.Duration `koanf:"max_interval" yaml:"max_interval"`
	MaxElapsed      time.Duration `koanf:"max_elapsed" yaml:"max_elapsed"`
}

type Relay struct {
	DrainTimeout        time.Duration `koanf:"drain_timeout" yaml:"drain_timeout"`
	MaxRecordsPerSecond float64       `koanf:"max_records_per_second" yaml:"max_records_per_second"`
}

type Log struct {
	Level string `koanf:"level" yaml:"level"`
	JSON  bool   `koanf:"json" yaml:"json"`
}

type Metrics struct {
	Enabled bool   `koanf:"enabled" yaml:"enabled"`
	Addr    string `koanf:"addr" yaml:"addr"`
	Path    string `koanf:"path" yaml:"path"`
}

type Health struct {
	Enabled bool `koanf:"enabled" yaml:"enabled"`
	Port    int  `koanf:"port" yaml:"port"`
}

type Config struct {
	SchemaVersion string `koanf:"schema_version" yaml:"schema_version"`

	Kafka    kafka.Config  `koanf:"kafka" yaml:"kafka"`
	Sink     sink.Config   `koanf:"sink" yaml:"sink"`
	Schema   Schema        `koanf:"schema" yaml:"schema"`
	Registry Registry      `koanf:"registry" yaml:"registry"`
	Commit   Commit        `koanf:"commit" yaml:"commit"`
	Admin    topics.Config `koanf:"admin" yaml:"admin"`
	Startup  Startup       `koanf:"startup" yaml:"startup"`
	Relay    Relay         `koanf:"relay" yaml:"relay"`
	Log      Log           `koanf:"log" yaml:"log"`
	Metrics  Metrics       `koanf:"metrics" yaml:"metrics"`
	Health   Health        `koanf:"health" yaml:"health"`
}

// envKey maps RELAY__KAFKA__GROUP_ID to kafka.group_id.
func envKey(s string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, EnvPrefix)), "__", ".")
}

// decoderConfig adds comma splitting so list keys can come from a single
// env var.
func decoderConfig(out *Config) *mapstructure.DecoderConfig {
	return &mapstructure.DecoderConfig{
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		),
		Result:           out,
		WeaklyTypedInput: true,
		TagName:          "koanf",
	}
}

// Load merges YAML (if present) with env-vars, applies defaults and
// validates the result.
func Load(path string) (Config, error) {
	k := koanf.New(".")
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil &&
			!errors.Is(err, fs.ErrNotExist) {
			return Config{}, err
		}
	}
	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return Config{}, err
	}

	sv := k.String("schema_version")
	if sv != "" && sv != SupportedSchema {
		return Config{}, fmt.Errorf("config schema_version %q not supported (want %s)", sv, SupportedSchema)
	}

	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{DecoderConfig: decoderConfig(&cfg)}); err != nil {
		return cfg, err
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c *Config) ApplyDefaults() {
	if c.SchemaVersion == "" {
		c.SchemaVersion = SupportedSchema
	}
	c.Kafka.ApplyDefaults()
	c.Sink.ApplyDefaults()
	c.Sink.Cluster = c.Kafka.Config
	c.Admin.ApplyDefaults()

	if c.Schema.Version == "" {
		c.Schema.Version = string(dispatch.V1)
	}
	if c.Schema.Format == "" {
		c.Schema.Format = string(codec.Protobuf)
	}
	if c.Registry.Timeout == 0 {
		c.Registry.Timeout = 10 * time.Second
	}
	if c.Commit.Period == 0 {
		c.Commit.Period = 5
	}
	if c.Startup.MaxRetries == 0 {
		c.Startup.MaxRetries = 5
	}
	if c.Startup.InitialInterval == 0 {
		c.Startup.InitialInterval = 500 * time.Millisecond
	}
	if c.Startup.MaxInterval == 0 {
		c.Startup.MaxInterval = 10 * time.Second
	}
	if c.Startup.MaxElapsed == 0 {
		c.Startup.MaxElapsed = time.Minute
	}
	if c.Relay.DrainTimeout == 0 {
		c.Relay.DrainTimeout = 10 * time.Second
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Metrics.Addr == "" {
		c.Metrics.Addr = ":9100"
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
	if c.Health.Port == 0 {
		c.Health.Port = 7070
	}
}

func (c Config) Validate() error {
	var errs []error
	if err := c.Kafka.Validate(); err != nil {
		errs = append(errs, err)
	}
	if err := c.Sink.Validate(); err != nil {
		errs = append(errs, err)
	}
	if _, err := dispatch.ParseVersion(c.Schema.Version); err != nil {
		errs = append(errs, err)
	}
	if _, err := codec.ParseFormat(c.Schema.Format); err != nil {
		errs = append(errs, err)
	}
	for _, t := range c.Kafka.Topics {
		if t == c.Sink.Topic {
			errs = append(errs, fmt.Errorf("config: sink topic %q is also a source topic", t))
		}
	}
	if c.Commit.Period < 1 {
		errs = append(errs, fmt.Errorf("config: commit.period must be at least 1, got %d", c.Commit.Period))
	}
	if c.Relay.MaxRecordsPerSecond < 0 {
		errs = append(errs, errors.New("config: relay.max_records_per_second must not be negative"))
	}
	if c.Health.Port < 0 || c.Health.Port > 65535 {
		errs = append(errs, fmt.Errorf("config: health.port %d out of range", c.Health.Port))
	}
	return errors.Join(errs...)
}

const redacted = "****"

// Redacted returns a copy with credentials masked.
func (c Config) Redacted() Config {
	if c.Kafka.SASL.Password != "" {
		c.Kafka.SASL.Password = redacted
	}
	if c.Registry.Password != "" {
		c.Registry.Password = redacted
	}
	c.Sink.Cluster = c.Kafka.Config
	return c
}

// Dump writes the configuration as YAML with credentials masked.
func (c Config) Dump(w io.Writer) error {
	enc := yamlv3.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(c.Redacted()); err != nil {
		return err
	}
	return enc.Close()
}
