package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/fahmaliyi/credvault/vault"
)

type browserState int

const (
	statePlatforms browserState = iota
	stateUsernames
	stateDetail
	stateConfirmDelete
)

const revealFor = 5 * time.Second

var (
	titleStyle    = lipgloss.NewStyle().Bold(true).Underline(true)
	msgStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
	errStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("1"))
	selectedStyle = lipgloss.NewStyle().Background(lipgloss.Color("57")).Foreground(lipgloss.Color("0"))
	hintStyle     = lipgloss.NewStyle().Faint(true)
)

type (
	hideMsg           struct{ seq int }
	clearClipboardMsg struct{ text string }
)

// BrowserOptions configures RunBrowser.
type BrowserOptions struct {
	Clipboard  Clipboard
	ClearAfter time.Duration
}

// browser is a read-mostly view over the store: platforms, then the
// usernames of one platform, then one credential.
type browser struct {
	store      *vault.Store
	secret     string
	clip       Clipboard
	clearAfter time.Duration

	state     browserState
	filter    textinput.Model
	filtering bool
	keyword   string

	platforms []string
	usernames []string
	platform  string
	cred      *vault.Credential
	cursor    int

	revealed  bool
	revealSeq int
	msg       string
	err       error
}

// RunBrowser opens the full-screen browser. secret must already have been
// checked; the store re-checks it on every call anyway.
func RunBrowser(store *vault.Store, secret string, opts BrowserOptions) error {
	m := newBrowser(store, secret, opts)
	if _, err := tea.NewProgram(m, tea.WithAltScreen()).Run(); err != nil {
		return fmt.Errorf("running browser: %w", err)
	}
	return nil
}

func newBrowser(store *vault.Store, secret string, opts BrowserOptions) browser {
	if opts.Clipboard == nil {
		opts.Clipboard = SystemClipboard()
	}
	ti := textinput.New()
	ti.Placeholder = "platform filter"
	ti.Prompt = "/ "
	m := browser{
		store:      store,
		secret:     secret,
		clip:       opts.Clipboard,
		clearAfter: opts.ClearAfter,
		filter:     ti,
	}
	m.loadPlatforms()
	return m
}

func (m *browser) loadPlatforms() {
	m.platforms, m.err = m.store.ListPlatforms(m.secret, m.keyword)
	m.cursor = 0
}

func (m *browser) loadUsernames() {
	m.usernames, m.err = m.store.ListUsernames(m.secret, m.platform, "")
	if m.cursor >= len(m.usernames) {
		m.cursor = max(len(m.usernames)-1, 0)
	}
}

func (m browser) Init() tea.Cmd {
	return nil
}

func (m browser) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case hideMsg:
		if msg.seq == m.revealSeq {
			m.revealed = false
		}
		return m, nil
	case clearClipboardMsg:
		if current, err := m.clip.ReadAll(); err == nil && current == msg.text {
			_ = m.clip.WriteAll("")
			m.msg = "Clipboard cleared."
		}
		return m, nil
	case tea.KeyMsg:
		if msg.String() == "ctrl+c" {
			return m, tea.Quit
		}
		m.err = nil
		switch m.state {
		case statePlatforms:
			return m.updatePlatforms(msg)
		case stateUsernames:
			return m.updateUsernames(msg)
		case stateDetail:
			return m.updateDetail(msg)
		case stateConfirmDelete:
			return m.updateConfirmDelete(msg)
		}
	}
	return m, nil
}

func (m *browser) moveCursor(key string, n int) bool {
	switch key {
	case "j", "down":
		if m.cursor < n-1 {
			m.cursor++
		}
	case "k", "up":
		if m.cursor > 0 {
			m.cursor--
		}
	default:
		return false
	}
	return true
}

func (m browser) updatePlatforms(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if m.filtering {
		switch msg.String() {
		case "enter":
			m.filtering = false
			m.filter.Blur()
			m.keyword = m.filter.Value()
			m.loadPlatforms()
			return m, nil
		case "esc":
			m.filtering = false
			m.filter.Blur()
			m.filter.SetValue("")
			m.keyword = ""
			m.loadPlatforms()
			return m, nil
		}
		var cmd tea.Cmd
		m.filter, cmd = m.filter.Update(msg)
		return m, cmd
	}

	key := msg.String()
	if m.moveCursor(key, len(m.platforms)) {
		return m, nil
	}
	switch key {
	case "q":
		return m, tea.Quit
	case "/":
		m.filtering = true
		return m, m.filter.Focus()
	case "enter":
		if len(m.platforms) == 0 {
			return m, nil
		}
		m.platform = m.platforms[m.cursor]
		m.cursor = 0
		m.loadUsernames()
		m.state = stateUsernames
	}
	return m, nil
}

func (m browser) updateUsernames(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	key := msg.String()
	if m.moveCursor(key, len(m.usernames)) {
		return m, nil
	}
	switch key {
	case "esc", "backspace":
		m.state = statePlatforms
		m.loadPlatforms()
		return m, nil
	case "q":
		return m, tea.Quit
	}
	if len(m.usernames) == 0 {
		return m, nil
	}
	username := m.usernames[m.cursor]
	switch key {
	case "enter":
		cred, err := m.store.GetCredential(m.secret, m.platform, username)
		if err != nil {
			m.err = err
			return m, nil
		}
		m.cred = &cred
		m.revealed = false
		m.state = stateDetail
	case "c":
		return m.copyPassword(username)
	case "d":
		m.state = stateConfirmDelete
	}
	return m, nil
}

func (m browser) updateDetail(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "esc", "backspace":
		m.state = stateUsernames
		m.cred = nil
		m.revealed = false
	case "q":
		return m, tea.Quit
	case "v":
		m.revealed = !m.revealed
		m.revealSeq++
		if m.revealed {
			seq := m.revealSeq
			return m, tea.Tick(revealFor, func(time.Time) tea.Msg { return hideMsg{seq: seq} })
		}
	case "c":
		return m.copyPassword(m.cred.Username)
	}
	return m, nil
}

func (m browser) updateConfirmDelete(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "y", "Y":
		username := m.usernames[m.cursor]
		if err := m.store.DeletePassword(m.secret, m.platform, username); err != nil {
			m.err = err
		} else {
			m.msg = fmt.Sprintf("Deleted %s.", username)
		}
		m.loadUsernames()
		m.state = stateUsernames
	case "n", "N", "esc":
		m.state = stateUsernames
	}
	return m, nil
}

func (m browser) copyPassword(username string) (tea.Model, tea.Cmd) {
	cred, err := m.store.GetCredential(m.secret, m.platform, username)
	if err != nil {
		m.err = err
		return m, nil
	}
	if err := m.clip.WriteAll(cred.Password); err != nil {
		m.err = fmt.Errorf("writing clipboard: %w", err)
		return m, nil
	}
	if m.clearAfter <= 0 {
		m.msg = "Password copied!"
		return m, nil
	}
	m.msg = fmt.Sprintf("Password copied! (clears in %s)", m.clearAfter)
	text := cred.Password
	return m, tea.Tick(m.clearAfter, func(time.Time) tea.Msg { return clearClipboardMsg{text: text} })
}

func (m browser) View() string {
	var b strings.Builder
	switch m.state {
	case statePlatforms:
		b.WriteString(titleStyle.Render("Platforms") + "\n\n")
		if m.filtering || m.keyword != "" {
			b.WriteString(m.filter.View() + "\n\n")
		}
		m.renderList(&b, m.platforms)
		b.WriteString(hintStyle.Render("\nj/k=move, enter=open, /=filter, q=quit"))
	case stateUsernames:
		b.WriteString(titleStyle.Render(m.platform) + "\n\n")
		m.renderList(&b, m.usernames)
		b.WriteString(hintStyle.Render("\nj/k=move, enter=show, c=copy, d=delete, esc=back, q=quit"))
	case stateDetail:
		b.WriteString(titleStyle.Render(m.cred.Platform+" / "+m.cred.Username) + "\n\n")
		pw := "********"
		if m.revealed {
			pw = m.cred.Password
		}
		fmt.Fprintf(&b, "Password: %s\nSet:      %s\n", pw, m.cred.Timestamp)
		b.WriteString(hintStyle.Render("\nv=reveal, c=copy, esc=back, q=quit"))
	case stateConfirmDelete:
		fmt.Fprintf(&b, "Delete %s on %s? (y/n)", m.usernames[m.cursor], m.platform)
	}
	if m.msg != "" {
		b.WriteString("\n" + msgStyle.Render(m.msg))
	}
	if m.err != nil {
		b.WriteString("\n" + errStyle.Render(m.err.Error()))
	}
	return b.String()
}

func (m browser) renderList(b *strings.Builder, items []string) {
	if len(items) == 0 {
		b.WriteString("  (empty)\n")
		return
	}
	for i, item := range items {
		line := fmt.Sprintf("  %-40s", item)
		if i == m.cursor {
			line = selectedStyle.Render(line)
		}
		b.WriteString(line + "\n")
	}
}
