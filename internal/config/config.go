package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/schaermu/component-monitor/internal/logging"
	"github.com/schaermu/component-monitor/internal/watch"
)

// Config represents the complete component-monitor configuration
type Config struct {
	// SentinelPath is the sentinel file inside the source directory.
	SentinelPath string      `koanf:"sentinel_path"`
	Target       string      `koanf:"target"`
	Debug        bool        `koanf:"debug"`
	Log          LogConfig   `koanf:"log"`
	Watch        WatchConfig `koanf:"watch"`
}

// LogConfig configures log output
type LogConfig struct {
	Format string `koanf:"format"`
}

// WatchConfig configures the filesystem watch
type WatchConfig struct {
	Backend string `koanf:"backend"`
}

// Paths are the resolved locations the monitor operates on.
type Paths struct {
	Source   string
	Sentinel string
	Target   string
}

// LoadOptions selects the configuration layers beyond defaults and environment.
type LoadOptions struct {
	// File is an optional YAML configuration file.
	File string
	// Overrides take precedence over every other layer. Keys use the same
	// dotted form as the file, e.g. "log.format".
	Overrides map[string]any
}

// envKeys binds environment variables to configuration keys.
var envKeys = map[string]string{
	"COMPONENT_SENTINEL_PATH": "sentinel_path",
	"COMPONENT_TARGET":        "target",
	"DEBUG":                   "debug",
	"COMPONENT_LOG_FORMAT":    "log.format",
	"COMPONENT_WATCH_BACKEND": "watch.backend",
}

func defaults() map[string]any {
	return map[string]any{
		"debug":         false,
		"log.format":    string(logging.FormatAuto),
		"watch.backend": string(watch.DefaultBackend()),
	}
}

// Load merges defaults, the optional config file, the environment and the
// overrides, in that order, and validates the result.
func Load(opts LoadOptions) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(defaults(), "."), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if opts.File != "" {
		path := os.ExpandEnv(opts.File)
		if err := k.Load(file.Provider(path), yamlParser{}); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	envProvider := env.ProviderWithValue("", ".", func(key, value string) (string, interface{}) {
		name, ok := envKeys[key]
		if !ok || value == "" {
			return "", nil
		}
		return name, value
	})
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("failed to load environment: %w", err)
	}

	if len(opts.Overrides) > 0 {
		if err := k.Load(confmap.Provider(opts.Overrides, "."), nil); err != nil {
			return nil, fmt.Errorf("failed to load overrides: %w", err)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse configuration: %w", err)
	}

	cfg.expandEnv()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// expandEnv expands environment variables in path fields
func (c *Config) expandEnv() {
	c.SentinelPath = os.ExpandEnv(c.SentinelPath)
	c.Target = os.ExpandEnv(c.Target)
}

// Validate checks the configuration for errors
func (c *Config) Validate() error {
	if c.SentinelPath == "" {
		return fmt.Errorf("sentinel_path is required")
	}
	if c.Target == "" {
		return fmt.Errorf("target is required")
	}

	if _, err := logging.ParseFormat(c.Log.Format); err != nil {
		return fmt.Errorf("log.format: %w", err)
	}
	if _, err := watch.ParseBackend(c.Watch.Backend); err != nil {
		return fmt.Errorf("watch.backend: %w", err)
	}

	return nil
}

// LogFormat returns the validated log format.
func (c *Config) LogFormat() logging.Format {
	f, _ := logging.ParseFormat(c.Log.Format)
	return f
}

// WatchBackend returns the validated watch backend.
func (c *Config) WatchBackend() watch.Backend {
	b, _ := watch.ParseBackend(c.Watch.Backend)
	return b
}

// Resolve splits the sentinel path into source directory and sentinel name
// and checks that source and target are usable directories.
func (c *Config) Resolve() (Paths, error) {
	sentinelPath, err := filepath.Abs(c.SentinelPath)
	if err != nil {
		return Paths{}, fmt.Errorf("failed to resolve sentinel path %s: %w", c.SentinelPath, err)
	}

	name := filepath.Base(sentinelPath)
	if name == "." || name == ".." || name == string(filepath.Separator) || strings.ContainsRune(name, filepath.Separator) {
		return Paths{}, fmt.Errorf("sentinel name could not be determined from %s", c.SentinelPath)
	}

	source := filepath.Dir(sentinelPath)
	if !isDir(source) {
		return Paths{}, fmt.Errorf("sentinel (%s)'s parent is not a directory", c.SentinelPath)
	}

	target, err := filepath.Abs(c.Target)
	if err != nil {
		return Paths{}, fmt.Errorf("failed to resolve target %s: %w", c.Target, err)
	}
	if !isDir(target) {
		return Paths{}, fmt.Errorf("target (%s) is not a directory", c.Target)
	}

	// Cleanup would destroy the source, and the copy would recurse into itself.
	if within(source, target) || within(target, source) {
		return Paths{}, fmt.Errorf("source %s and target %s must not contain each other", source, target)
	}

	return Paths{Source: source, Sentinel: name, Target: target}, nil
}

func isDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

// within reports whether path equals dir or lies below it.
func within(path, dir string) bool {
	rel, err := filepath.Rel(dir, path)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}
