// Package config handles kahlua.toml configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/gigfork/kahlua2/profile"
)

// FileName is the configuration file FindAndLoad looks for.
const FileName = "kahlua.toml"

const (
	DefaultPeriod = 10 * time.Millisecond
	DefaultTop    = 20
)

var ErrInvalid = errors.New("invalid configuration")

// Config represents a kahlua.toml file.
type Config struct {
	JIT     JIT     `toml:"jit"`
	Sampler Sampler `toml:"sampler"`
	Profile Profile `toml:"profile"`
	Log     Log     `toml:"log"`

	// Dir is the directory containing the file (set at load time). Relative
	// paths in the file are resolved against it.
	Dir string `toml:"-"`
}

// JIT configures the code generator.
type JIT struct {
	Enabled bool `toml:"enabled"`
	Trace   bool `toml:"trace"`
	Listing bool `toml:"listing"`
}

// Sampler configures the profiler. A zero period leaves sampling off unless
// the command line turns it on.
type Sampler struct {
	Enabled bool          `toml:"enabled"`
	Period  time.Duration `toml:"period"`
	ID      string        `toml:"id"`
}

// Profile configures where samples go.
type Profile struct {
	Recording string `toml:"recording"`
	Database  string `toml:"database"`
	Report    string `toml:"report"`
	Serve     string `toml:"serve"`
	Top       int    `toml:"top"`
}

// Log configures commonlog.
type Log struct {
	Verbosity int    `toml:"verbosity"`
	File      string `toml:"file"`
}

// UnknownKeysError lists keys of the file that no field accepts.
type UnknownKeysError struct {
	Path string
	Keys []string
}

func (e *UnknownKeysError) Error() string {
	return fmt.Sprintf("%s: unknown keys %s", e.Path, strings.Join(e.Keys, ", "))
}

// Default returns the configuration used when no file is found.
func Default() *Config {
	c := &Config{}
	c.applyDefaults()
	return c
}

func (c *Config) applyDefaults() {
	if c.Sampler.Period == 0 {
		c.Sampler.Period = DefaultPeriod
	}
	if c.Profile.Report == "" {
		c.Profile.Report = string(profile.FormatText)
	}
	if c.Profile.Top == 0 {
		c.Profile.Top = DefaultTop
	}
}

// Load parses the configuration file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}

	var c Config
	md, err := toml.Decode(string(data), &c)
	if err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return nil, &UnknownKeysError{Path: path, Keys: keys}
	}

	c.Dir, err = filepath.Abs(filepath.Dir(path))
	if err != nil {
		return nil, fmt.Errorf("cannot resolve path %s: %w", path, err)
	}

	c.applyDefaults()
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &c, nil
}

// FindAndLoad walks up from startDir to find a kahlua.toml file, then loads
// and returns it. Returns nil if no file is found.
func FindAndLoad(startDir string) (*Config, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return nil, err
	}

	for {
		path := filepath.Join(dir, FileName)
		if _, err := os.Stat(path); err == nil {
			return Load(path)
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return nil, nil
		}
		dir = parent
	}
}

// Validate checks values that decode fine but make no sense.
func (c *Config) Validate() error {
	if c.Sampler.Period < 0 {
		return fmt.Errorf("%w: sampler.period %s is negative", ErrInvalid, c.Sampler.Period)
	}
	if _, err := profile.ParseFormat(c.Profile.Report); err != nil {
		return fmt.Errorf("%w: profile.report: %v", ErrInvalid, err)
	}
	if c.Profile.Top < 0 {
		return fmt.Errorf("%w: profile.top %d is negative", ErrInvalid, c.Profile.Top)
	}
	if c.Log.Verbosity < 0 {
		return fmt.Errorf("%w: log.verbosity %d is negative", ErrInvalid, c.Log.Verbosity)
	}
	return nil
}

// Resolve returns p relative to the directory of the configuration file.
// Empty and absolute paths are returned unchanged.
func (c *Config) Resolve(p string) string {
	if p == "" || filepath.IsAbs(p) || c.Dir == "" {
		return p
	}
	return filepath.Join(c.Dir, p)
}
