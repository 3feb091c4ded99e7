// Package config loads runner settings from defaults, an optional config
// file, PIPELINE_RUNNER_* environment variables and command-line flags, in
// increasing order of precedence.
package config

import (
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/spf13/viper"
)

const EnvPrefix = "PIPELINE_RUNNER"

// Supported backends.
const (
	BackendSageMaker     = "sagemaker"
	BackendStepFunctions = "stepfunctions"
)

type Config struct {
	Backend          string        `mapstructure:"backend"`
	Region           string        `mapstructure:"region"`
	PollInterval     time.Duration `mapstructure:"poll_interval"`
	MaxWait          time.Duration `mapstructure:"max_wait"`
	StateMachineType string        `mapstructure:"state_machine_type"`
	Log              LogConfig     `mapstructure:"log"`
	Metrics          MetricsConfig `mapstructure:"metrics"`
}

type LogConfig struct {
	JSON  bool   `mapstructure:"json"`
	Level string `mapstructure:"level"`
}

type MetricsConfig struct {
	// Textfile is a node_exporter textfile collector path; empty disables it.
	Textfile string `mapstructure:"textfile"`
}

// SetDefaults registers the default value of every key.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("backend", BackendSageMaker)
	v.SetDefault("region", "us-west-2")
	v.SetDefault("poll_interval", 60*time.Second)
	v.SetDefault("max_wait", 120*time.Minute)
	v.SetDefault("state_machine_type", "STANDARD")
	v.SetDefault("log.json", false)
	v.SetDefault("log.level", "info")
	v.SetDefault("metrics.textfile", "")
}

// New returns a viper instance with defaults and environment binding set up.
func New() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	SetDefaults(v)
	return v
}

// ReadFile merges a config file into v. The format follows the extension.
func ReadFile(v *viper.Viper, path string) error {
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return errors.Wrapf(err, "failed to read config file %s", path)
	}
	return nil
}

// Load decodes and validates the configuration held by v.
func Load(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	switch c.Backend {
	case BackendSageMaker, BackendStepFunctions:
	default:
		return errors.Newf("unknown backend %q (want %s or %s)", c.Backend, BackendSageMaker, BackendStepFunctions)
	}
	if c.PollInterval <= 0 {
		return errors.Newf("poll_interval must be positive, got %s", c.PollInterval)
	}
	if c.MaxWait <= 0 {
		return errors.Newf("max_wait must be positive, got %s", c.MaxWait)
	}
	if c.PollInterval > c.MaxWait {
		return errors.Newf("poll_interval %s exceeds max_wait %s", c.PollInterval, c.MaxWait)
	}
	switch strings.ToUpper(c.StateMachineType) {
	case "STANDARD", "EXPRESS":
	default:
		return errors.Newf("state_machine_type must be STANDARD or EXPRESS, got %q", c.StateMachineType)
	}
	return nil
}
