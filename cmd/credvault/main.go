package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/fatih/color"

	"github.com/fahmaliyi/credvault/cli"
	"github.com/fahmaliyi/credvault/config"
	"github.com/fahmaliyi/credvault/logging"
	"github.com/fahmaliyi/credvault/vault"
)

func main() {
	if err := run(context.Background(), os.Args[1:], os.Stdin, os.Stdout, cli.NewTerminalPasswords(true)); err != nil {
		color.New(color.FgRed).Fprintln(os.Stderr, "credvault:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, in io.Reader, out io.Writer, passwords cli.PasswordReader) error {
	cfg, err := config.Parse(args, os.Stderr)
	if err != nil {
		return err
	}
	logger := logging.New(cfg.Logging, os.Stderr)

	store, err := openStore(cfg, logger, out, passwords)
	if err != nil {
		return err
	}

	browserOpts := cli.BrowserOptions{ClearAfter: cfg.Clipboard.ClearAfter}
	if cfg.TUI {
		secret, err := passwords.ReadPassword("Master password: ")
		if err != nil {
			return err
		}
		if !store.CheckPassword(secret) {
			return vault.ErrWrongSecret
		}
		return cli.RunBrowser(store, secret, browserOpts)
	}

	shell := cli.NewShell(store, cli.Options{
		In:         in,
		Out:        out,
		Passwords:  passwords,
		ClearAfter: cfg.Clipboard.ClearAfter,
		Generator: vault.GeneratorOptions{
			Length:  cfg.Generator.Length,
			Upper:   cfg.Generator.Upper,
			Digits:  cfg.Generator.Digits,
			Symbols: cfg.Generator.Symbols,
		},
		Logger: logger,
		Browse: func(secret string) error {
			return cli.RunBrowser(store, secret, browserOpts)
		},
	})
	return shell.Run(ctx)
}

// openStore loads the store, creating the preference record on first run.
func openStore(cfg *config.Config, logger *slog.Logger, out io.Writer, passwords cli.PasswordReader) (*vault.Store, error) {
	dir, err := cfg.VaultDir()
	if err != nil {
		return nil, err
	}
	scheme, err := vault.ParseContextScheme(cfg.Vault.ContextScheme)
	if err != nil {
		return nil, err
	}
	opts := vault.Options{
		Persister: vault.NewFilePersister(dir, cfg.Vault.StoreFile, cfg.Vault.PreferenceFile),
		KDF:       vault.KDFParams{Iterations: cfg.Vault.KDFIterations},
		Scheme:    scheme,
		Logger:    logger,
	}
	logger.Debug("opening store", "dir", dir, "scheme", scheme.String())

	store, err := vault.Open(opts)
	if !errors.Is(err, vault.ErrPreferenceMissing) {
		return store, err
	}

	fmt.Fprintln(out, "No master password is set up yet. Choose one now.")
	fmt.Fprintln(out, "It cannot be changed or recovered later.")
	secret, err := passwords.ReadPassword("New master password: ")
	if err != nil {
		return nil, err
	}
	confirm, err := passwords.ReadPassword("Re-enter master password: ")
	if err != nil {
		return nil, err
	}
	store, err = vault.Initialize(opts, secret, confirm)
	if err != nil {
		return nil, fmt.Errorf("setting up master password: %w", err)
	}
	logger.Info("created preference record", "dir", dir)
	return store, nil
}
