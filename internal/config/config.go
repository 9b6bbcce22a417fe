// Package config loads capwire.toml. The file is found by walking up from
// the target directory; every key can be overridden by a CAPWIRE_ env var
// (dots become underscores, so index.workers is CAPWIRE_INDEX_WORKERS).
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/Masterminds/semver/v3"
	"github.com/cockroachdb/errors"
	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/viper"
)

// FileName is the project configuration file.
const FileName = "capwire.toml"

// Config is the capwire configuration.
type Config struct {
	Index   IndexConfig   `mapstructure:"index" toml:"index"`
	Resolve ResolveConfig `mapstructure:"resolve" toml:"resolve"`
	Check   CheckConfig   `mapstructure:"check" toml:"check"`
	Log     LogConfig     `mapstructure:"log" toml:"log"`
	Watch   WatchConfig   `mapstructure:"watch" toml:"watch"`

	// Root is the directory relative paths are resolved against: the
	// directory of the config file, or the target directory without one.
	Root string `mapstructure:"-" toml:"-"`
	// Path is the config file that was read, empty for defaults only.
	Path string `mapstructure:"-" toml:"-"`
}

// IndexConfig controls extraction.
type IndexConfig struct {
	Database string   `mapstructure:"database" toml:"database"`
	Exclude  []string `mapstructure:"exclude" toml:"exclude"`
	Workers  int      `mapstructure:"workers" toml:"workers"`
}

// ResolveConfig controls resolution.
type ResolveConfig struct {
	// Scripts is the directory @file.risor where-predicates are read from.
	Scripts string `mapstructure:"scripts" toml:"scripts"`
}

// CheckConfig controls capwire check.
type CheckConfig struct {
	// RequiredVersion is a semver constraint on the capwire version.
	RequiredVersion string `mapstructure:"required_version" toml:"required_version"`
}

// LogConfig controls logging.
type LogConfig struct {
	Level string `mapstructure:"level" toml:"level"`
	JSON  bool   `mapstructure:"json" toml:"json"`
}

// WatchConfig controls capwire watch.
type WatchConfig struct {
	DebounceMS int `mapstructure:"debounce_ms" toml:"debounce_ms"`
}

// SetDefaults configures default values for every key.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("index.database", ".capwire/index.db")
	v.SetDefault("index.exclude", []string{"vendor", "testdata", "node_modules"})
	v.SetDefault("index.workers", 0) // 0 means one per CPU

	v.SetDefault("resolve.scripts", ".capwire/scripts")

	v.SetDefault("check.required_version", "")

	v.SetDefault("log.level", "warn")
	v.SetDefault("log.json", false)

	v.SetDefault("watch.debounce_ms", 300)
}

// Defaults returns the configuration used when no file is present.
func Defaults() *Config {
	v := viper.New()
	SetDefaults(v)
	var c Config
	// Defaults always decode.
	_ = v.Unmarshal(&c)
	return &c
}

// Find walks up from dir looking for capwire.toml. It returns an empty
// string when there is none.
func Find(dir string) string {
	dir, err := filepath.Abs(dir)
	if err != nil {
		return ""
	}
	for {
		candidate := filepath.Join(dir, FileName)
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}

// Load reads the configuration that applies to dir.
func Load(dir string) (*Config, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, errors.Wrapf(err, "resolve %s", dir)
	}

	v := viper.New()
	v.SetEnvPrefix("CAPWIRE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	SetDefaults(v)

	path := Find(abs)
	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("toml")
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Wrapf(err, "read config %s", path)
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, errors.Wrapf(err, "decode config %s", path)
	}
	c.Path = path
	c.Root = abs
	if path != "" {
		c.Root = filepath.Dir(path)
	}
	return &c, nil
}

// DatabasePath is the index database location.
func (c *Config) DatabasePath() string {
	return c.abs(c.Index.Database)
}

// ScriptsDir is the directory @file.risor predicates are loaded from.
func (c *Config) ScriptsDir() string {
	return c.abs(c.Resolve.Scripts)
}

func (c *Config) abs(p string) string {
	if p == "" || filepath.IsAbs(p) || c.Root == "" {
		return p
	}
	return filepath.Join(c.Root, p)
}

// Excluded reports whether a directory name is skipped while indexing.
// Hidden directories and directories starting with an underscore are
// always skipped, as the go tool does.
func (c *Config) Excluded(name string) bool {
	if strings.HasPrefix(name, ".") || strings.HasPrefix(name, "_") {
		return true
	}
	for _, pattern := range c.Index.Exclude {
		if ok, _ := filepath.Match(pattern, name); ok {
			return true
		}
	}
	return false
}

// CheckVersion verifies the running version against check.required_version.
func (c *Config) CheckVersion(version string) error {
	if c.Check.RequiredVersion == "" {
		return nil
	}
	running, err := semver.NewVersion(version)
	if err != nil {
		return fmt.Errorf("invalid capwire version %s: %w", version, err)
	}
	constraint, err := semver.NewConstraint(c.Check.RequiredVersion)
	if err != nil {
		return fmt.Errorf("invalid check.required_version %s: %w", c.Check.RequiredVersion, err)
	}
	if !constraint.Check(running) {
		return errors.WithHintf(
			fmt.Errorf("project requires capwire %s, but running %s", c.Check.RequiredVersion, version),
			"install a capwire release matching %s", c.Check.RequiredVersion)
	}
	return nil
}

// WriteDefault writes a capwire.toml with default values into dir. An
// existing file is only replaced when force is set.
func WriteDefault(dir string, force bool) (string, error) {
	path := filepath.Join(dir, FileName)
	if _, err := os.Stat(path); err == nil && !force {
		return "", errors.WithHint(
			errors.Newf("%s already exists", path),
			"pass --force to overwrite it")
	}
	data, err := toml.Marshal(Defaults())
	if err != nil {
		return "", errors.Wrap(err, "marshal default config")
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", errors.Wrapf(err, "write %s", path)
	}
	return path, nil
}
