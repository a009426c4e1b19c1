// Package config loads importer settings from a YAML file and LCOV_IMPORT_*
// environment variables, and reloads them when the file changes.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// Sentinel validation errors.
var (
	ErrNoReports          = errors.New("no coverage report patterns configured")
	ErrInvalidConcurrency = errors.New("max concurrency must be positive")
)

// Default configuration values.
const (
	defaultConfigName     = ".lcov-import"
	defaultMaxConcurrency = 8
	defaultLogLevel       = "info"
	envPrefix             = "LCOV_IMPORT"
)

// Config holds all configuration for the importer.
type Config struct {
	// LCOVFiles are glob patterns of coverage reports. The file may give a
	// single string or a list.
	LCOVFiles      []string        `mapstructure:"-"`
	WorkspaceRoots []string        `mapstructure:"workspace_roots"`
	Demangler      DemanglerConfig `mapstructure:"demangler"`
	Collect        CollectConfig   `mapstructure:"collect"`
	Logging        LoggingConfig   `mapstructure:"logging"`
	Metrics        MetricsConfig   `mapstructure:"metrics"`

	// File is the config file that was read, empty when none was found
	File string `mapstructure:"-"`
}

// DemanglerConfig holds the location of the demangling module.
type DemanglerConfig struct {
	Module string `mapstructure:"module"`
}

// CollectConfig holds collection settings.
type CollectConfig struct {
	MaxConcurrency int `mapstructure:"max_concurrency"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level string `mapstructure:"level"`
	Dir   string `mapstructure:"dir"`
}

// MetricsConfig holds the metrics listener settings.
type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

// Loader reads configuration and keeps the underlying viper instance for
// reloads.
type Loader struct {
	viperCfg *viper.Viper
}

// NewLoader creates a loader for configPath. An empty path searches for
// .lcov-import.yaml in the current directory.
func NewLoader(configPath string) *Loader {
	viperCfg := viper.New()

	setDefaults(viperCfg)

	if configPath != "" {
		viperCfg.SetConfigFile(configPath)
	} else {
		viperCfg.SetConfigName(defaultConfigName)
		viperCfg.SetConfigType("yaml")
		viperCfg.AddConfigPath(".")
	}

	viperCfg.SetEnvPrefix(envPrefix)
	viperCfg.AutomaticEnv()
	viperCfg.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	return &Loader{viperCfg: viperCfg}
}

// Load loads configuration from file and environment variables.
func Load(configPath string) (*Config, error) {
	return NewLoader(configPath).Load()
}

// Load reads the config file, if any, and decodes the settings.
func (l *Loader) Load() (*Config, error) {
	readErr := l.viperCfg.ReadInConfig()
	if readErr != nil {
		var notFoundErr viper.ConfigFileNotFoundError
		if !errors.As(readErr, &notFoundErr) {
			return nil, fmt.Errorf("failed to read config file: %w", readErr)
		}
	}

	return l.decode()
}

// Watch calls onChange with the reloaded configuration whenever the config
// file changes. It has no effect when no file was read.
func (l *Loader) Watch(onChange func(*Config, error)) {
	if l.viperCfg.ConfigFileUsed() == "" {
		return
	}
	l.viperCfg.OnConfigChange(func(fsnotify.Event) {
		onChange(l.decode())
	})
	l.viperCfg.WatchConfig()
}

func (l *Loader) decode() (*Config, error) {
	var config Config

	unmarshalErr := l.viperCfg.Unmarshal(&config)
	if unmarshalErr != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", unmarshalErr)
	}

	files, err := stringList(l.viperCfg.Get("lcov_files"))
	if err != nil {
		return nil, fmt.Errorf("invalid configuration: lcov_files: %w", err)
	}
	config.LCOVFiles = files
	config.File = l.viperCfg.ConfigFileUsed()

	if err := normalizeRoots(&config); err != nil {
		return nil, err
	}

	validateErr := validateConfig(&config)
	if validateErr != nil {
		return nil, fmt.Errorf("invalid configuration: %w", validateErr)
	}

	return &config, nil
}

// setDefaults sets default configuration values.
func setDefaults(viperCfg *viper.Viper) {
	viperCfg.SetDefault("lcov_files", []string{})
	viperCfg.SetDefault("workspace_roots", []string{})
	viperCfg.SetDefault("demangler.module", "")
	viperCfg.SetDefault("collect.max_concurrency", defaultMaxConcurrency)
	viperCfg.SetDefault("logging.level", defaultLogLevel)
	viperCfg.SetDefault("logging.dir", "")
	viperCfg.SetDefault("metrics.addr", "")
}

// stringList accepts a single string or a list of strings
func stringList(v interface{}) ([]string, error) {
	var out []string
	switch val := v.(type) {
	case nil:
	case string:
		out = append(out, val)
	case []string:
		out = append(out, val...)
	case []interface{}:
		for _, item := range val {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("expected string, got %T", item)
			}
			out = append(out, s)
		}
	default:
		return nil, fmt.Errorf("expected string or list of strings, got %T", v)
	}

	patterns := make([]string, 0, len(out))
	for _, s := range out {
		if s = strings.TrimSpace(s); s != "" {
			patterns = append(patterns, s)
		}
	}
	return patterns, nil
}

// normalizeRoots makes workspace roots absolute, defaulting to the current
// directory. Relative roots in a config file are taken relative to the file.
func normalizeRoots(config *Config) error {
	base, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("get working directory: %w", err)
	}
	if len(config.WorkspaceRoots) == 0 {
		config.WorkspaceRoots = []string{base}
		return nil
	}
	if config.File != "" {
		if abs, err := filepath.Abs(filepath.Dir(config.File)); err == nil {
			base = abs
		}
	}

	roots := make([]string, 0, len(config.WorkspaceRoots))
	for _, r := range config.WorkspaceRoots {
		if r == "" {
			continue
		}
		if !filepath.IsAbs(r) {
			r = filepath.Join(base, r)
		}
		roots = append(roots, r)
	}
	config.WorkspaceRoots = roots
	return nil
}

// validateConfig validates the configuration.
func validateConfig(config *Config) error {
	if config.Collect.MaxConcurrency <= 0 {
		return fmt.Errorf("%w: %d", ErrInvalidConcurrency, config.Collect.MaxConcurrency)
	}
	return nil
}

// RequireReports returns ErrNoReports when no report patterns are configured
func (c *Config) RequireReports() error {
	if len(c.LCOVFiles) == 0 {
		return ErrNoReports
	}
	return nil
}

// ReportsChanged reports whether other selects a different set of reports
func (c *Config) ReportsChanged(other *Config) bool {
	if c == nil || other == nil {
		return c != other
	}
	return !slices.Equal(c.LCOVFiles, other.LCOVFiles)
}

// PrimaryRoot is the root reports are discovered under
func (c *Config) PrimaryRoot() string {
	if len(c.WorkspaceRoots) == 0 {
		return "."
	}
	return c.WorkspaceRoots[0]
}
