package config

import (
	"flag"
	"fmt"
	"io"
)

// Parse builds the configuration from defaults, the config file and the
// command-line args (without the program name).
//
//	-config string     YAML config file (default DefaultPath())
//	-dir string        directory holding the store and preference files
//	-log-level string  debug, info, warn or error
//	-scheme string     context scheme, concat or framed
//	-tui               start the browser instead of the shell
//
// An explicit -config must exist; the default path may be missing.
func Parse(args []string, output io.Writer) (*Config, error) {
	fs := flag.NewFlagSet("credvault", flag.ContinueOnError)
	if output != nil {
		fs.SetOutput(output)
	}
	path := fs.String("config", "", "YAML config file")
	dir := fs.String("dir", "", "directory holding the store and preference files")
	level := fs.String("log-level", "", "log level: debug, info, warn, error")
	scheme := fs.String("scheme", "", "context scheme: concat, framed")
	tui := fs.Bool("tui", false, "start the browser instead of the shell")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if fs.NArg() > 0 {
		return nil, fmt.Errorf("unexpected arguments: %v", fs.Args())
	}

	var cfg *Config
	var err error
	if *path != "" {
		cfg = Default()
		err = cfg.merge(*path)
	} else {
		cfg, err = loadOptional(DefaultPath())
	}
	if err != nil {
		return nil, err
	}

	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "dir":
			cfg.Vault.Dir = *dir
		case "log-level":
			cfg.Logging.Level = *level
		case "scheme":
			cfg.Vault.ContextScheme = *scheme
		}
	})
	cfg.TUI = *tui

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}
