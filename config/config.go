// Package config loads runtime settings for credvault.
//
// Sources, later ones winning:
//
//  1. Built-in defaults (Default).
//  2. An optional YAML file. ${VAR} references are expanded from the
//     environment before parsing.
//  3. Command-line flags (Parse).
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvConfigPath overrides the default config file location.
const EnvConfigPath = "CREDVAULT_CONFIG"

type Config struct {
	Vault     VaultConfig     `yaml:"vault"`
	Logging   LoggingConfig   `yaml:"logging"`
	Clipboard ClipboardConfig `yaml:"clipboard"`
	Generator GeneratorConfig `yaml:"generator"`

	// TUI starts the browser instead of the command shell. Flag only.
	TUI bool `yaml:"-"`
}

// VaultConfig locates the two persisted files and tunes key derivation.
type VaultConfig struct {
	Dir            string `yaml:"dir"`
	StoreFile      string `yaml:"store_file"`
	PreferenceFile string `yaml:"preference_file"`
	// KDFIterations only applies when a new preference record is created;
	// existing records keep the count they were made with.
	KDFIterations int    `yaml:"kdf_iterations"`
	ContextScheme string `yaml:"context_scheme"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// ClipboardConfig controls the copy command.
type ClipboardConfig struct {
	ClearAfter time.Duration `yaml:"-"`

	ClearAfterRaw string `yaml:"clear_after"`
}

// GeneratorConfig holds the defaults for generated passwords.
type GeneratorConfig struct {
	Length  int  `yaml:"length"`
	Upper   bool `yaml:"upper"`
	Digits  bool `yaml:"digits"`
	Symbols bool `yaml:"symbols"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Vault: VaultConfig{
			Dir:            "~/.credvault",
			StoreFile:      "database.json",
			PreferenceFile: "preference.json",
			KDFIterations:  390000,
			ContextScheme:  "concat",
		},
		Logging: LoggingConfig{Level: "warn", Format: "text"},
		Clipboard: ClipboardConfig{
			ClearAfter:    30 * time.Second,
			ClearAfterRaw: "30s",
		},
		Generator: GeneratorConfig{Length: 12, Upper: true, Digits: true, Symbols: true},
	}
}

// DefaultPath returns $CREDVAULT_CONFIG, or credvault/config.yaml under
// the XDG config directory.
func DefaultPath() string {
	if p := os.Getenv(EnvConfigPath); p != "" {
		return p
	}
	dir := os.Getenv("XDG_CONFIG_HOME")
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "credvault.yaml"
		}
		dir = filepath.Join(home, ".config")
	}
	return filepath.Join(dir, "credvault", "config.yaml")
}

// Load reads the YAML file at path on top of the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if err := cfg.merge(path); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

func (c *Config) merge(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config file: %w", err)
	}
	expanded := expandEnvVars(string(data))
	if err := yaml.Unmarshal([]byte(expanded), c); err != nil {
		return fmt.Errorf("parsing config file: %w", err)
	}
	if err := parseDurations(c); err != nil {
		return fmt.Errorf("parsing durations: %w", err)
	}
	return nil
}

// loadOptional is Load for the implicit default path: a missing file
// just means defaults.
func loadOptional(path string) (*Config, error) {
	cfg := Default()
	if err := cfg.merge(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}
	return cfg, nil
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR_NAME} with the variable's value, or the
// empty string when it is unset.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		return os.Getenv(envVarPattern.FindStringSubmatch(match)[1])
	})
}

func parseDurations(cfg *Config) error {
	if cfg.Clipboard.ClearAfterRaw == "" {
		return nil
	}
	d, err := time.ParseDuration(cfg.Clipboard.ClearAfterRaw)
	if err != nil {
		return fmt.Errorf("parsing clear_after %q: %w", cfg.Clipboard.ClearAfterRaw, err)
	}
	cfg.Clipboard.ClearAfter = d
	return nil
}

// Validate returns the first invalid setting it finds.
func (c *Config) Validate() error {
	if c.Vault.Dir == "" {
		return fmt.Errorf("vault.dir is required")
	}
	if c.Vault.StoreFile == "" || c.Vault.PreferenceFile == "" {
		return fmt.Errorf("vault.store_file and vault.preference_file are required")
	}
	if c.Vault.StoreFile == c.Vault.PreferenceFile {
		return fmt.Errorf("vault.store_file and vault.preference_file must differ")
	}
	if c.Vault.KDFIterations < 1 {
		return fmt.Errorf("vault.kdf_iterations must be positive, got %d", c.Vault.KDFIterations)
	}
	switch strings.ToLower(c.Vault.ContextScheme) {
	case "", "concat", "framed":
	default:
		return fmt.Errorf("vault.context_scheme %q is not one of concat, framed", c.Vault.ContextScheme)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level %q is not one of debug, info, warn, error", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "text", "json", "color":
	default:
		return fmt.Errorf("logging.format %q is not one of text, json, color", c.Logging.Format)
	}
	if c.Clipboard.ClearAfter < 0 {
		return fmt.Errorf("clipboard.clear_after must not be negative")
	}
	if c.Generator.Length < 1 {
		return fmt.Errorf("generator.length must be positive, got %d", c.Generator.Length)
	}
	return nil
}

// VaultDir returns Vault.Dir with a leading ~ expanded.
func (c *Config) VaultDir() (string, error) {
	dir := c.Vault.Dir
	if dir != "~" && !strings.HasPrefix(dir, "~/") {
		return dir, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolving home directory: %w", err)
	}
	return filepath.Join(home, strings.TrimPrefix(dir, "~")), nil
}
