package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/atotto/clipboard"
	"github.com/fatih/color"

	"github.com/fahmaliyi/credvault/vault"
)

// Version is reported by the about command.
var Version = "1.0.0"

var (
	errQuit             = errors.New("quit")
	errPasswordMismatch = errors.New("the two passwords do not match")
	errEmptyName        = errors.New("platform and username must not be empty")
	errBadPasswordArgs  = errors.New("password options are [length] [-u] [-n] [-c] [-m]")
	errNoBrowser        = errors.New("browser is not available")
)

var (
	headColor = color.New(color.FgCyan, color.Bold)
	okColor   = color.New(color.FgGreen)
	warnColor = color.New(color.FgYellow)
	errColor  = color.New(color.FgRed)
)

// Clipboard is the subset of the system clipboard the shell needs.
type Clipboard interface {
	ReadAll() (string, error)
	WriteAll(text string) error
}

type systemClipboard struct{}

func (systemClipboard) ReadAll() (string, error)   { return clipboard.ReadAll() }
func (systemClipboard) WriteAll(text string) error { return clipboard.WriteAll(text) }

// SystemClipboard returns the OS clipboard.
func SystemClipboard() Clipboard { return systemClipboard{} }

type stopper interface{ Stop() bool }

// Options configures a Shell. Zero values fall back to stdin, stdout, the
// terminal password reader and the system clipboard.
type Options struct {
	In        io.Reader
	Out       io.Writer
	Passwords PasswordReader
	Clipboard Clipboard
	// ClearAfter is how long a copied password stays on the clipboard.
	// Zero leaves it there.
	ClearAfter time.Duration
	Generator  vault.GeneratorOptions
	Logger     *slog.Logger
	// Browse runs the interactive browser for an already checked secret.
	Browse func(secret string) error
}

// Shell is the interactive command loop. Every command that touches
// credentials asks for the master password first.
type Shell struct {
	store      *vault.Store
	in         *bufio.Reader
	out        io.Writer
	passwords  PasswordReader
	clip       Clipboard
	clearAfter time.Duration
	gen        vault.GeneratorOptions
	logger     *slog.Logger
	browse     func(secret string) error

	after        func(time.Duration, func()) stopper
	pendingClear func()
	clearTimer   stopper

	commands map[string]*command
	order    []*command
}

type command struct {
	name    string
	aliases []string
	usage   string
	help    string
	run     func(s *Shell, args []string) error
}

func NewShell(store *vault.Store, opts Options) *Shell {
	if opts.In == nil {
		opts.In = os.Stdin
	}
	if opts.Out == nil {
		opts.Out = os.Stdout
	}
	if opts.Passwords == nil {
		opts.Passwords = NewTerminalPasswords(true)
	}
	if opts.Clipboard == nil {
		opts.Clipboard = SystemClipboard()
	}
	if opts.Generator.Length == 0 {
		opts.Generator = vault.DefaultGeneratorOptions()
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}
	s := &Shell{
		store:      store,
		in:         bufio.NewReader(opts.In),
		out:        opts.Out,
		passwords:  opts.Passwords,
		clip:       opts.Clipboard,
		clearAfter: opts.ClearAfter,
		gen:        opts.Generator,
		logger:     opts.Logger.With("component", "shell"),
		browse:     opts.Browse,
		after: func(d time.Duration, f func()) stopper {
			return time.AfterFunc(d, f)
		},
	}
	s.register()
	return s
}

func (s *Shell) register() {
	s.order = []*command{
		{name: "help", aliases: []string{"?"}, help: "show this list", run: (*Shell).cmdHelp},
		{name: "add", usage: "[length] [-u] [-n] [-c] [-m]", help: "store a new password (generated unless -m)", run: (*Shell).cmdAdd},
		{name: "edit", usage: "<platform> <username> [length] [-u] [-n] [-c] [-m]", help: "replace a stored password", run: (*Shell).cmdEdit},
		{name: "delete", usage: "<platform> <username>", help: "remove a stored password", run: (*Shell).cmdDelete},
		{name: "show", usage: "<platform> <username>", help: "print a password and when it was set", run: (*Shell).cmdShow},
		{name: "copy", usage: "<platform> <username>", help: "copy a password to the clipboard", run: (*Shell).cmdCopy},
		{name: "platforms", usage: "[keyword]", help: "list platforms", run: (*Shell).cmdPlatforms},
		{name: "usernames", usage: "[keyword|-a] [platform-keyword]", help: "list usernames per platform", run: (*Shell).cmdUsernames},
		{name: "validate", help: "check the master password", run: (*Shell).cmdValidate},
		{name: "encrypt", usage: "[message]", help: "encrypt a message under the master password", run: (*Shell).cmdEncrypt},
		{name: "decrypt", usage: "[token]", help: "decrypt a message token", run: (*Shell).cmdDecrypt},
		{name: "generate", usage: "[length] [-u] [-n] [-c]", help: "print a random password", run: (*Shell).cmdGenerate},
		{name: "export", usage: "<path>", help: "write a sealed backup", run: (*Shell).cmdExport},
		{name: "restore", usage: "<path>", help: "replace the database from a sealed backup", run: (*Shell).cmdRestore},
		{name: "browse", help: "open the interactive browser", run: (*Shell).cmdBrowse},
		{name: "about", aliases: []string{"version"}, help: "print version information", run: (*Shell).cmdAbout},
		{name: "exit", aliases: []string{"quit"}, help: "save and leave", run: (*Shell).cmdExit},
	}
	s.commands = make(map[string]*command)
	for _, c := range s.order {
		s.commands[c.name] = c
		for _, a := range c.aliases {
			s.commands[a] = c
		}
	}
}

// Run reads commands until exit, end of input or ctx is done, then dumps
// the database.
func (s *Shell) Run(ctx context.Context) error {
	headColor.Fprintf(s.out, "credvault %s\n", Version)
	fmt.Fprintln(s.out, "Type help for a list of commands.")
	for {
		if err := ctx.Err(); err != nil {
			return s.shutdown(err)
		}
		line, err := s.readLine("> ")
		if err != nil {
			if errors.Is(err, io.EOF) {
				fmt.Fprintln(s.out)
				return s.shutdown(nil)
			}
			return s.shutdown(err)
		}
		if err := s.Execute(line); errors.Is(err, errQuit) {
			return s.shutdown(nil)
		}
	}
}

// Execute runs a single command line and reports any failure to the user.
func (s *Shell) Execute(line string) error {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil
	}
	c, ok := s.commands[strings.ToLower(fields[0])]
	if !ok {
		warnColor.Fprintf(s.out, "Unknown command %q. Type help for a list.\n", fields[0])
		return fmt.Errorf("unknown command %q", fields[0])
	}
	s.logger.Debug("running command", "command", c.name)
	err := c.run(s, fields[1:])
	if err != nil && !errors.Is(err, errQuit) {
		s.report(err)
	}
	return err
}

func (s *Shell) shutdown(cause error) error {
	if s.clearTimer != nil && s.clearTimer.Stop() {
		s.pendingClear()
	}
	s.clearTimer, s.pendingClear = nil, nil
	if err := s.store.Dump(); err != nil {
		s.report(err)
		return errors.Join(cause, err)
	}
	okColor.Fprintln(s.out, "Database saved. Bye!")
	return cause
}

func (s *Shell) report(err error) {
	var msg string
	switch {
	case errors.Is(err, io.EOF):
		return
	case errors.Is(err, vault.ErrWrongSecret):
		msg = "Wrong master password."
	case errors.Is(err, vault.ErrAuthFailed):
		msg = "Could not authenticate the data. It may have been tampered with."
	case errors.Is(err, vault.ErrDuplicateEntry):
		msg = "That username already exists on this platform."
	case errors.Is(err, vault.ErrPlatformNotFound):
		msg = "No such platform."
	case errors.Is(err, vault.ErrUsernameNotFound):
		msg = "No such username on that platform."
	case errors.Is(err, vault.ErrSamePassword):
		msg = "The new password is the same as the current one."
	case errors.Is(err, vault.ErrMalformedToken):
		msg = "That is not a valid token."
	case errors.Is(err, vault.ErrIO):
		msg = fmt.Sprintf("Could not save the database (%v). Changes stay in memory until the next successful save.", err)
	default:
		msg = err.Error()
	}
	s.logger.Debug("command failed", "kind", vault.KindOf(err).String())
	errColor.Fprintln(s.out, msg)
}

func (s *Shell) readLine(prompt string) (string, error) {
	fmt.Fprint(s.out, prompt)
	line, err := s.in.ReadString('\n')
	if err != nil && (!errors.Is(err, io.EOF) || line == "") {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

// unlock asks for the master password and checks it before any other
// prompt.
func (s *Shell) unlock() (string, error) {
	secret, err := s.passwords.ReadPassword("Master password: ")
	if err != nil {
		return "", err
	}
	if !s.store.CheckPassword(secret) {
		return "", vault.ErrWrongSecret
	}
	return secret, nil
}

func (s *Shell) names(args []string, cmd string) (string, string, error) {
	if len(args) < 2 {
		return "", "", fmt.Errorf("usage: %s %s", cmd, s.commands[cmd].usage)
	}
	platform, username := sanitizeName(args[0]), sanitizeName(args[1])
	if platform == "" || username == "" {
		return "", "", errEmptyName
	}
	return platform, username, nil
}

type passwordRule struct {
	manual bool
	gen    vault.GeneratorOptions
}

// parsePasswordArgs reads "[length] [-u] [-n] [-c] [-m]". With no
// arguments the configured generator defaults apply; once a length is
// given only the flagged classes are added to lowercase letters.
func parsePasswordArgs(args []string, defaults vault.GeneratorOptions) (passwordRule, error) {
	rule := passwordRule{gen: defaults}
	var flags, positional []string
	for _, a := range args {
		if strings.HasPrefix(a, "-") {
			flags = append(flags, a)
		} else {
			positional = append(positional, a)
		}
	}
	for _, f := range flags {
		if f == "-m" {
			rule.manual = true
		}
	}
	if rule.manual || (len(positional) == 0 && len(flags) == 0) {
		return rule, nil
	}
	if len(positional) != 1 {
		return rule, errBadPasswordArgs
	}
	n, err := strconv.Atoi(positional[0])
	if err != nil || n < 1 {
		return rule, errBadPasswordArgs
	}
	rule.gen = vault.GeneratorOptions{Length: n}
	for _, f := range flags {
		switch f {
		case "-u":
			rule.gen.Upper = true
		case "-n":
			rule.gen.Digits = true
		case "-c":
			rule.gen.Symbols = true
		default:
			return rule, errBadPasswordArgs
		}
	}
	return rule, nil
}

func (s *Shell) newPassword(rule passwordRule) (string, error) {
	if !rule.manual {
		return vault.Generate(rule.gen, nil)
	}
	pw, err := s.passwords.ReadPassword("New password: ")
	if err != nil {
		return "", err
	}
	if pw == "" {
		return "", errors.New("password must not be empty")
	}
	again, err := s.passwords.ReadPassword("Re-enter password: ")
	if err != nil {
		return "", err
	}
	if pw != again {
		return "", errPasswordMismatch
	}
	return pw, nil
}

// confirm asks Y/N. When password is non-empty S reveals it and asks again.
func (s *Shell) confirm(question, password string) (bool, error) {
	prompt := question + " (Y)es/(N)o: "
	if password != "" {
		prompt = question + " (Y)es/(N)o/(S)how password: "
	}
	for {
		answer, err := s.readLine(prompt)
		if err != nil {
			return false, err
		}
		switch strings.ToUpper(answer) {
		case "Y":
			return true, nil
		case "N":
			warnColor.Fprintln(s.out, "Aborted.")
			return false, nil
		case "S":
			if password != "" {
				fmt.Fprintf(s.out, "Password: %s\n", password)
			}
		}
	}
}

func (s *Shell) cmdHelp(_ []string) error {
	headColor.Fprintln(s.out, "Commands:")
	for _, c := range s.order {
		name := c.name
		if c.usage != "" {
			name += " " + c.usage
		}
		fmt.Fprintf(s.out, "  %-55s %s\n", name, c.help)
	}
	return nil
}

func (s *Shell) cmdAdd(args []string) error {
	secret, err := s.unlock()
	if err != nil {
		return err
	}
	rule, err := parsePasswordArgs(args, s.gen)
	if err != nil {
		return err
	}
	platform, err := s.readLine("Platform: ")
	if err != nil {
		return err
	}
	username, err := s.readLine("Username: ")
	if err != nil {
		return err
	}
	platform, username = sanitizeName(platform), sanitizeName(username)
	if platform == "" || username == "" {
		return errEmptyName
	}
	if _, err := s.store.GetCredential(secret, platform, username); err == nil {
		return vault.ErrDuplicateEntry
	} else if !errors.Is(err, vault.ErrPlatformNotFound) && !errors.Is(err, vault.ErrUsernameNotFound) {
		return err
	}

	password, err := s.newPassword(rule)
	if err != nil {
		return err
	}
	fmt.Fprintf(s.out, "Platform: %s | Username: %s\n", platform, username)
	ok, err := s.confirm("Store this password?", password)
	if err != nil || !ok {
		return err
	}
	if err := s.store.AddCredential(secret, platform, username, password); err != nil {
		return err
	}
	okColor.Fprintln(s.out, "Password added.")
	return nil
}

func (s *Shell) cmdEdit(args []string) error {
	secret, err := s.unlock()
	if err != nil {
		return err
	}
	platform, username, err := s.names(args, "edit")
	if err != nil {
		return err
	}
	rule, err := parsePasswordArgs(args[2:], s.gen)
	if err != nil {
		return err
	}
	if _, err := s.store.GetCredential(secret, platform, username); err != nil {
		return err
	}
	password, err := s.newPassword(rule)
	if err != nil {
		return err
	}
	fmt.Fprintf(s.out, "Platform: %s | Username: %s\n", platform, username)
	ok, err := s.confirm("Replace the stored password?", password)
	if err != nil || !ok {
		return err
	}
	if err := s.store.EditPassword(secret, platform, username, password); err != nil {
		return err
	}
	okColor.Fprintln(s.out, "Password updated.")
	return nil
}

func (s *Shell) cmdDelete(args []string) error {
	secret, err := s.unlock()
	if err != nil {
		return err
	}
	platform, username, err := s.names(args, "delete")
	if err != nil {
		return err
	}
	if _, err := s.store.GetCredential(secret, platform, username); err != nil {
		return err
	}
	ok, err := s.confirm(fmt.Sprintf("Delete %s on %s?", username, platform), "")
	if err != nil || !ok {
		return err
	}
	if err := s.store.DeletePassword(secret, platform, username); err != nil {
		return err
	}
	okColor.Fprintln(s.out, "Password deleted.")
	return nil
}

func (s *Shell) cmdShow(args []string) error {
	secret, err := s.unlock()
	if err != nil {
		return err
	}
	platform, username, err := s.names(args, "show")
	if err != nil {
		return err
	}
	cred, err := s.store.GetCredential(secret, platform, username)
	if err != nil {
		return err
	}
	fmt.Fprintf(s.out, "Platform: %s | Username: %s\n", cred.Platform, cred.Username)
	fmt.Fprintf(s.out, "Password: %s (set %s)\n", cred.Password, cred.Timestamp)
	return nil
}

func (s *Shell) cmdCopy(args []string) error {
	secret, err := s.unlock()
	if err != nil {
		return err
	}
	platform, username, err := s.names(args, "copy")
	if err != nil {
		return err
	}
	cred, err := s.store.GetCredential(secret, platform, username)
	if err != nil {
		return err
	}
	if err := s.copyToClipboard(cred.Password); err != nil {
		return err
	}
	if s.clearAfter > 0 {
		okColor.Fprintf(s.out, "Password copied to clipboard. Clearing in %s.\n", s.clearAfter)
	} else {
		okColor.Fprintln(s.out, "Password copied to clipboard.")
	}
	return nil
}

// copyToClipboard writes text and schedules clearing it, unless something
// else has been copied by then. A newer copy replaces the pending clear.
func (s *Shell) copyToClipboard(text string) error {
	if err := s.clip.WriteAll(text); err != nil {
		return fmt.Errorf("writing clipboard: %w", err)
	}
	if s.clearTimer != nil {
		s.clearTimer.Stop()
	}
	s.clearTimer, s.pendingClear = nil, nil
	if s.clearAfter <= 0 {
		return nil
	}
	clip := s.clip
	s.pendingClear = func() {
		if current, err := clip.ReadAll(); err == nil && current == text {
			_ = clip.WriteAll("")
		}
	}
	s.clearTimer = s.after(s.clearAfter, s.pendingClear)
	return nil
}

func (s *Shell) cmdPlatforms(args []string) error {
	secret, err := s.unlock()
	if err != nil {
		return err
	}
	keyword := ""
	if len(args) > 0 {
		keyword = args[0]
		headColor.Fprintf(s.out, "Platforms matching %q:\n", keyword)
	} else {
		headColor.Fprintln(s.out, "All platforms:")
	}
	names, err := s.store.ListPlatforms(secret, keyword)
	if err != nil {
		return err
	}
	fmt.Fprintln(s.out, formatRows(names, 5))
	return nil
}

func (s *Shell) cmdUsernames(args []string) error {
	secret, err := s.unlock()
	if err != nil {
		return err
	}
	keyword, platform := "", ""
	if len(args) > 0 && args[0] != "-a" {
		keyword = args[0]
	}
	if len(args) > 1 {
		platform = args[1]
	}
	switch {
	case keyword == "" && platform == "":
		headColor.Fprintln(s.out, "All usernames:")
	case platform == "":
		headColor.Fprintf(s.out, "Usernames matching %q:\n", keyword)
	default:
		headColor.Fprintf(s.out, "Usernames matching %q on platforms matching %q:\n", keyword, platform)
	}
	matches, err := s.store.SearchUsernames(secret, keyword, platform)
	if err != nil {
		return err
	}
	shown := 0
	for _, m := range matches {
		if len(m.Usernames) == 0 {
			continue
		}
		shown++
		fmt.Fprintf(s.out, "%s: %s\n", m.Platform, strings.Join(m.Usernames, " | "))
	}
	if shown == 0 {
		fmt.Fprintln(s.out, formatRows(nil, 5))
	}
	return nil
}

func (s *Shell) cmdValidate(_ []string) error {
	secret, err := s.passwords.ReadPassword("Master password: ")
	if err != nil {
		return err
	}
	if s.store.CheckPassword(secret) {
		okColor.Fprintln(s.out, "Master password is correct.")
	} else {
		warnColor.Fprintln(s.out, "Master password is incorrect.")
	}
	return nil
}

func (s *Shell) cmdEncrypt(args []string) error {
	secret, err := s.unlock()
	if err != nil {
		return err
	}
	msg := strings.Join(args, " ")
	if msg == "" {
		if msg, err = s.readLine("Message: "); err != nil {
			return err
		}
	}
	tok, err := s.store.EncryptMessage(secret, msg)
	if err != nil {
		return err
	}
	fmt.Fprintln(s.out, tok)
	return nil
}

func (s *Shell) cmdDecrypt(args []string) error {
	secret, err := s.unlock()
	if err != nil {
		return err
	}
	tok := ""
	if len(args) > 0 {
		tok = args[0]
	} else if tok, err = s.readLine("Token: "); err != nil {
		return err
	}
	msg, err := s.store.DecryptMessage(secret, vault.Token(tok))
	if err != nil {
		return err
	}
	fmt.Fprintln(s.out, msg)
	return nil
}

func (s *Shell) cmdGenerate(args []string) error {
	rule, err := parsePasswordArgs(args, s.gen)
	if err != nil {
		return err
	}
	if rule.manual {
		return errBadPasswordArgs
	}
	pw, err := vault.Generate(rule.gen, nil)
	if err != nil {
		return err
	}
	fmt.Fprintln(s.out, pw)
	return nil
}

func (s *Shell) cmdExport(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: export %s", s.commands["export"].usage)
	}
	secret, err := s.unlock()
	if err != nil {
		return err
	}
	b, err := s.store.ExportBackup(secret, args[0])
	if err != nil {
		return err
	}
	okColor.Fprintf(s.out, "Backup %s written to %s.\n", b.ID, args[0])
	return nil
}

func (s *Shell) cmdRestore(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: restore %s", s.commands["restore"].usage)
	}
	secret, err := s.unlock()
	if err != nil {
		return err
	}
	ok, err := s.confirm("Replace every stored password with the backup's?", "")
	if err != nil || !ok {
		return err
	}
	b, err := s.store.RestoreBackup(secret, args[0])
	if err != nil {
		return err
	}
	okColor.Fprintf(s.out, "Restored backup %s from %s.\n", b.ID, b.CreatedAt.Local().Format(vault.TimestampLayout))
	return nil
}

func (s *Shell) cmdBrowse(_ []string) error {
	if s.browse == nil {
		return errNoBrowser
	}
	secret, err := s.unlock()
	if err != nil {
		return err
	}
	return s.browse(secret)
}

func (s *Shell) cmdAbout(_ []string) error {
	headColor.Fprintf(s.out, "credvault %s\n", Version)
	fmt.Fprintln(s.out, "A local, single-user encrypted credential store.")
	return nil
}

func (s *Shell) cmdExit(_ []string) error {
	return errQuit
}
