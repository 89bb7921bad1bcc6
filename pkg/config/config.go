package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	"github.com/flext-sh/flext-quality-sub003/pkg/baseline"
	"github.com/flext-sh/flext-quality-sub003/pkg/telemetry"
	tools "github.com/flext-sh/flext-quality-sub003/pkg/validator"
)

// EnvPrefix prefixes environment overrides, e.g. QUALITY_VALIDATOR_FAIL_OPEN.
const EnvPrefix = "QUALITY"

// DefaultConfigName is searched for (any viper-supported extension) in the
// working directory when no config file is given.
const DefaultConfigName = ".quality"

// Config is the runtime configuration of the quality runner.
type Config struct {
	Backup    BackupConfig    `mapstructure:"backup"`
	Catalog   CatalogConfig   `mapstructure:"catalog"`
	Validator ValidatorConfig `mapstructure:"validator"`
	Fixer     FixerConfig     `mapstructure:"fixer"`
	Script    ScriptConfig    `mapstructure:"script"`
	Baseline  BaselineConfig  `mapstructure:"baseline"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
}

// BackupConfig configures the snapshot manager.
type BackupConfig struct {
	// Root is the directory holding one timestamped directory per backup.
	Root string `mapstructure:"root" validate:"required"`

	// Keep is how many backups "backups prune" retains by default.
	Keep int `mapstructure:"keep" validate:"gte=0"`
}

// CatalogConfig configures the SQLite catalog of backups, runs and events.
type CatalogConfig struct {
	// Path is the database file, or ":memory:" for a per-process catalog.
	Path string `mapstructure:"path" validate:"required"`
}

// ValidatorConfig configures the diagnostic validators.
type ValidatorConfig struct {
	// Tools are the tool names run for every file, in order.
	Tools []string `mapstructure:"tools" validate:"min=1,dive,required"`

	// Timeout bounds one tool invocation when the tool sets none.
	Timeout time.Duration `mapstructure:"timeout" validate:"gt=0"`

	// FailOpen counts a missing tool as zero diagnostics.
	FailOpen bool `mapstructure:"fail_open"`

	WorkingDir string   `mapstructure:"working_dir"`
	Excludes   []string `mapstructure:"excludes"`

	// Custom adds tools or replaces built-in ones by name.
	Custom []tools.ToolConfig `mapstructure:"custom" validate:"dive"`
}

// FixerConfig selects the tool used by the default fix operation.
type FixerConfig struct {
	Tool       string `mapstructure:"tool" validate:"required"`
	WorkingDir string `mapstructure:"working_dir"`
}

// ScriptConfig configures Starlark operations.
type ScriptConfig struct {
	Timeout time.Duration `mapstructure:"timeout" validate:"gt=0"`
}

// BaselineConfig locates the baseline ledger.
type BaselineConfig struct {
	Path string `mapstructure:"path" validate:"required"`
}

// TelemetryConfig is the subset of telemetry.Config exposed to users.
type TelemetryConfig struct {
	Environment string        `mapstructure:"environment"`
	Log         LogConfig     `mapstructure:"log"`
	Tracing     TracingConfig `mapstructure:"tracing"`
	Metrics     MetricsConfig `mapstructure:"metrics"`
}

// LogConfig configures the logger.
type LogConfig struct {
	Level  string `mapstructure:"level" validate:"oneof=trace debug info warn error fatal"`
	Format string `mapstructure:"format" validate:"oneof=console json"`
}

// TracingConfig configures span export.
type TracingConfig struct {
	Exporter     string  `mapstructure:"exporter" validate:"oneof=none stdout otlp"`
	Endpoint     string  `mapstructure:"endpoint" validate:"required_if=Exporter otlp"`
	SamplingRate float64 `mapstructure:"sampling_rate" validate:"gte=0,lte=1"`
	Insecure     bool    `mapstructure:"insecure"`
}

// MetricsConfig configures metric collection.
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`

	// Textfile receives the registry when the command ends.
	Textfile string `mapstructure:"textfile"`
}

// SetDefaults registers the default of every key on v. Keys must be known to
// viper for environment overrides to reach Unmarshal.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("backup.root", ".quality/backups")
	v.SetDefault("backup.keep", 10)

	v.SetDefault("catalog.path", ".quality/catalog.db")

	v.SetDefault("validator.tools", []string{tools.DefaultRuffConfig.Name, tools.DefaultMypyConfig.Name})
	v.SetDefault("validator.timeout", 60*time.Second)
	v.SetDefault("validator.fail_open", true)
	v.SetDefault("validator.working_dir", "")
	v.SetDefault("validator.excludes", tools.DefaultExcludes)
	v.SetDefault("validator.custom", []tools.ToolConfig{})

	v.SetDefault("fixer.tool", tools.DefaultRuffConfig.Name)
	v.SetDefault("fixer.working_dir", "")

	v.SetDefault("script.timeout", 30*time.Second)

	v.SetDefault("baseline.path", baseline.DefaultFile)

	v.SetDefault("telemetry.environment", "development")
	v.SetDefault("telemetry.log.level", "info")
	v.SetDefault("telemetry.log.format", "console")
	v.SetDefault("telemetry.tracing.exporter", "none")
	v.SetDefault("telemetry.tracing.endpoint", "")
	v.SetDefault("telemetry.tracing.sampling_rate", 1.0)
	v.SetDefault("telemetry.tracing.insecure", true)
	v.SetDefault("telemetry.metrics.enabled", true)
	v.SetDefault("telemetry.metrics.textfile", "")
}

// Load reads configuration from path, or from .quality.{yaml,toml,json} in the
// working directory when path is empty, then applies QUALITY_* environment
// overrides and validates the result.
func Load(path string) (*Config, error) {
	return LoadWith(viper.New(), path)
}

// LoadWith is Load on a caller-supplied viper instance. Values already set on
// v (for example bound flags) take precedence over the file.
func LoadWith(v *viper.Viper, path string) (*Config, error) {
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	} else {
		v.SetConfigName(DefaultConfigName)
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("failed to read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns the configuration used when no file or environment is set.
func Default() *Config {
	v := viper.New()
	SetDefaults(v)
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		panic(fmt.Sprintf("config defaults do not decode: %v", err))
	}
	return &cfg
}

// Validate checks struct constraints and that every named tool exists.
func (c *Config) Validate() error {
	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			return fmt.Errorf("invalid config: %s", describe(verrs))
		}
		return fmt.Errorf("invalid config: %w", err)
	}

	for _, t := range c.Validator.Custom {
		if err := t.Validate(); err != nil {
			return fmt.Errorf("invalid config: validator.custom: %w", err)
		}
	}

	registry := c.Registry()
	if _, err := registry.Select(c.Validator.Tools...); err != nil {
		return fmt.Errorf("invalid config: validator.tools: %w", err)
	}
	fixer, err := registry.Get(c.Fixer.Tool)
	if err != nil {
		return fmt.Errorf("invalid config: fixer.tool: %w", err)
	}
	if len(fixer.FixArgs) == 0 {
		return fmt.Errorf("invalid config: fixer.tool: %s has no fix_args", fixer.Name)
	}
	return nil
}

// Registry returns the built-in tools with the custom ones registered over them.
func (c *Config) Registry() *tools.Registry {
	r := tools.DefaultRegistry()
	for _, t := range c.Validator.Custom {
		r.Register(t)
	}
	return r
}

// Tools returns the configured validator tools in order.
func (c *Config) Tools() ([]tools.ToolConfig, error) {
	return c.Registry().Select(c.Validator.Tools...)
}

// FixerTool returns the tool used by the default fix operation.
func (c *Config) FixerTool() (tools.ToolConfig, error) {
	return c.Registry().Get(c.Fixer.Tool)
}

// ValidatorOptions maps the validator section onto validator options.
func (c *Config) ValidatorOptions() []tools.Option {
	opts := []tools.Option{
		tools.WithFailOpen(c.Validator.FailOpen),
		tools.WithDefaultTimeout(c.Validator.Timeout),
		tools.WithWorkingDir(c.Validator.WorkingDir),
	}
	if len(c.Validator.Excludes) > 0 {
		opts = append(opts, tools.WithExcludes(c.Validator.Excludes))
	}
	return opts
}

// TelemetryConfig expands the telemetry section into a full telemetry.Config.
func (c *Config) TelemetryConfig(version string) *telemetry.Config {
	tc := telemetry.DefaultConfig()
	if version != "" {
		tc.ServiceVersion = version
	}
	if c.Telemetry.Environment != "" {
		tc.Environment = c.Telemetry.Environment
	}
	tc.Logging.Level = c.Telemetry.Log.Level
	tc.Logging.Format = c.Telemetry.Log.Format

	tc.Tracing.Enabled = c.Telemetry.Tracing.Exporter != "none"
	tc.Tracing.Exporter = c.Telemetry.Tracing.Exporter
	tc.Tracing.Endpoint = c.Telemetry.Tracing.Endpoint
	tc.Tracing.SamplingRate = c.Telemetry.Tracing.SamplingRate
	tc.Tracing.Insecure = c.Telemetry.Tracing.Insecure

	tc.Metrics.Enabled = c.Telemetry.Metrics.Enabled
	tc.Metrics.Textfile = c.Telemetry.Metrics.Textfile
	return tc
}

func describe(verrs validator.ValidationErrors) string {
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		field := strings.TrimPrefix(fe.Namespace(), "Config.")
		if fe.Param() != "" {
			msgs = append(msgs, fmt.Sprintf("%s failed %s=%s", field, fe.Tag(), fe.Param()))
		} else {
			msgs = append(msgs, fmt.Sprintf("%s failed %s", field, fe.Tag()))
		}
	}
	return strings.Join(msgs, "; ")
}
