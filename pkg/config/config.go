// Package config loads the opsconsole client configuration.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// FileName is the default configuration file name.
const FileName = "config.yaml"

// Config represents an opsconsole config.yaml file.
type Config struct {
	Version          int           `yaml:"version"`
	Server           string        `yaml:"server"`
	SessionFile      string        `yaml:"session_file"`
	HandshakeTimeout string        `yaml:"handshake_timeout,omitempty"` // Go duration, e.g. "45s"
	TransferWindow   int           `yaml:"transfer_window,omitempty"`   // bytes of recent output scanned for handshakes
	Journal          JournalConfig `yaml:"journal"`

	FilePath string `yaml:"-"`
}

// JournalConfig controls forwarding of streamed logs to journald.
type JournalConfig struct {
	Enabled    bool   `yaml:"enabled"`
	Identifier string `yaml:"identifier,omitempty"`
}

// Dir returns the directory holding the config and session files.
func Dir() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ".opsconsole"
	}
	return filepath.Join(dir, "opsconsole")
}

// DefaultPath returns the default config file location.
func DefaultPath() string {
	return filepath.Join(Dir(), FileName)
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	return &Config{
		Version:          1,
		Server:           "http://localhost:8080",
		SessionFile:      filepath.Join(Dir(), "session.yaml"),
		HandshakeTimeout: "45s",
		TransferWindow:   4096,
		Journal:          JournalConfig{Identifier: "opsconsole"},
	}
}

// Parse decodes YAML on top of the defaults and expands paths.
func Parse(data []byte) (*Config, error) {
	c := Default()
	if err := yaml.Unmarshal(data, c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	c.SessionFile = expandPath(c.SessionFile)
	return c, nil
}

// Load reads and parses the file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	c, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	c.FilePath = path
	return c, nil
}

// LoadOrDefault loads path, falling back to Default when it does not
// exist.
func LoadOrDefault(path string) (*Config, error) {
	c, err := Load(path)
	if err == nil {
		return c, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		c = Default()
		c.FilePath = path
		return c, nil
	}
	return nil, err
}

// Save writes c to path as YAML.
func Save(c *Config, path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// Timeout returns the parsed handshake timeout, or zero if unset.
func (c *Config) Timeout() time.Duration {
	d, err := time.ParseDuration(c.HandshakeTimeout)
	if err != nil {
		return 0
	}
	return d
}

// expandPath replaces a leading ~ and ${home} with the home directory.
func expandPath(p string) string {
	home, err := os.UserHomeDir()
	if err != nil {
		return p
	}
	if p == "~" || strings.HasPrefix(p, "~/") {
		p = home + p[1:]
	}
	return strings.ReplaceAll(p, "${home}", home)
}
