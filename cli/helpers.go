package cli

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"unicode/utf8"

	"golang.org/x/term"
)

// PasswordReader prompts for a secret without echoing it.
type PasswordReader interface {
	ReadPassword(prompt string) (string, error)
}

// PasswordFunc adapts a function to PasswordReader.
type PasswordFunc func(prompt string) (string, error)

func (f PasswordFunc) ReadPassword(prompt string) (string, error) { return f(prompt) }

// readPassword is a test seam for term.ReadPassword.
var readPassword = term.ReadPassword

// TerminalPasswords reads secrets from a terminal file descriptor. With
// Masked set every typed character is echoed as '*'.
type TerminalPasswords struct {
	In     *os.File
	Out    io.Writer
	Masked bool
}

// NewTerminalPasswords reads from stdin and prompts on stdout.
func NewTerminalPasswords(masked bool) *TerminalPasswords {
	return &TerminalPasswords{In: os.Stdin, Out: os.Stdout, Masked: masked}
}

func (t *TerminalPasswords) ReadPassword(prompt string) (string, error) {
	fd := int(t.In.Fd())
	if !term.IsTerminal(fd) {
		return "", errors.New("secret input requires a terminal")
	}
	if t.Masked {
		return t.readMasked(prompt, fd)
	}
	fmt.Fprint(t.Out, prompt)
	pw, err := readPassword(fd)
	fmt.Fprintln(t.Out)
	if err != nil {
		return "", err
	}
	return string(pw), nil
}

func (t *TerminalPasswords) readMasked(prompt string, fd int) (string, error) {
	fmt.Fprint(t.Out, prompt)
	state, err := term.MakeRaw(fd)
	if err != nil {
		return "", err
	}
	defer term.Restore(fd, state)
	return readMasked(t.In, t.Out)
}

// readMasked collects runes from r until Enter, echoing '*' per rune and
// handling backspace. Ctrl+C and Ctrl+D abort.
func readMasked(r io.Reader, w io.Writer) (string, error) {
	var input []rune
	var pending []byte
	buf := make([]byte, 1)
	for {
		if _, err := io.ReadFull(r, buf); err != nil {
			return "", err
		}
		c := buf[0]

		switch c {
		case '\r', '\n':
			fmt.Fprint(w, "\r\n")
			return string(input), nil
		case 127, '\b':
			pending = pending[:0]
			if len(input) > 0 {
				input = input[:len(input)-1]
				fmt.Fprint(w, "\b \b")
			}
		case 3, 4:
			fmt.Fprint(w, "\r\n")
			return "", errors.New("input aborted")
		default:
			pending = append(pending, c)
			if !utf8.FullRune(pending) {
				continue
			}
			ru, _ := utf8.DecodeRune(pending)
			pending = pending[:0]
			input = append(input, ru)
			fmt.Fprint(w, "*")
		}
	}
}

// sanitizeName replaces spaces and dashes in platform and username input
// with underscores.
func sanitizeName(s string) string {
	return strings.NewReplacer(" ", "_", "-", "_").Replace(strings.TrimSpace(s))
}

// formatRows lays names out perRow to a line, separated by " | ".
func formatRows(names []string, perRow int) string {
	if len(names) == 0 {
		return "     ~~EMPTY~~"
	}
	if perRow < 1 {
		perRow = 5
	}
	var b strings.Builder
	for i, n := range names {
		switch {
		case i == 0:
		case i%perRow == 0:
			b.WriteString("\n")
		default:
			b.WriteString(" | ")
		}
		b.WriteString(n)
	}
	return b.String()
}
