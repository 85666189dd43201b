// Package display provides the terminal UI using Bubble Tea.
//
// The [UI] type manages a persistent status bar (current page and voice
// state) and an input prompt at the bottom of the terminal. All application
// output is printed above the rendered area via Program.Println / Printf,
// ensuring concurrent writes never garble the display.
package display

import (
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/hammamikhairi/tcmvoice/internal/domain"
)

// ── Styles ───────────────────────────────────────────────────────

var (
	barBg = lipgloss.NewStyle().
		Background(lipgloss.Color("#27272a")).
		Foreground(lipgloss.Color("#a1a1aa"))

	listeningStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#fca5a5")).
			Bold(true)

	speakingStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#fde68a"))

	idleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#71717a")).
			Italic(true)

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#a1a1aa"))

	pageStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#bbf7d0"))

	sepStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#52525b"))

	promptStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#94a3b8"))

	// ── Output styles ──

	// BannerStyle is the muted slate used for the startup banner.
	BannerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#94a3b8"))

	// Doctor replies.
	chatStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#bae6fd"))

	primaryStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#d4d4d8"))

	secondaryStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#71717a"))

	userInputEchoStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("#a1a1aa"))
)

const (
	prompt     = "tcm> "
	statusPoll = 500 * time.Millisecond
)

// Status is what the status bar shows.
type Status struct {
	Page  domain.PageID
	Voice domain.VoiceState
}

// StatusFunc reports the current status. It is polled from the UI
// goroutine and must be safe for concurrent use.
type StatusFunc func() Status

// Option configures the UI.
type Option func(*UI)

// WithToggleKey sets what Ctrl+T does (the voice button).
func WithToggleKey(fn func()) Option {
	return func(u *UI) { u.onToggle = fn }
}

// WithStopKey sets what Esc does (stop reading aloud).
func WithStopKey(fn func()) Option {
	return func(u *UI) { u.onStop = fn }
}

// ── UI ───────────────────────────────────────────────────────────

// UI manages the terminal through Bubble Tea.
//
// Call [NewUI] then [UI.Run] (blocking).  Other goroutines may
// safely call [UI.Println], [UI.Printf], and read from
// [UI.InputChan] at any time after [UI.WaitReady] returns.
type UI struct {
	program  *tea.Program
	inputCh  chan string
	readyCh  chan struct{}
	quitCh   chan struct{}
	status   StatusFunc
	onToggle func()
	onStop   func()
	poll     time.Duration
	done     atomic.Bool
}

// NewUI creates the display. Call Run() to start.
func NewUI(status StatusFunc, opts ...Option) *UI {
	u := &UI{
		status:   status,
		onToggle: func() {},
		onStop:   func() {},
		poll:     statusPoll,
		inputCh:  make(chan string, 16),
		readyCh:  make(chan struct{}),
		quitCh:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(u)
	}
	return u
}

// Println prints a line above the prompt. Thread-safe.
// If the program hasn't started yet, falls back to fmt.Println.
func (u *UI) Println(a ...interface{}) {
	if u.program != nil && !u.done.Load() {
		u.program.Println(a...)
	} else {
		fmt.Println(a...)
	}
}

// Printf prints formatted text above the prompt. Thread-safe.
func (u *UI) Printf(format string, a ...interface{}) {
	if u.program != nil && !u.done.Load() {
		u.program.Printf(format, a...)
	} else {
		fmt.Printf(format, a...)
	}
}

// InputChan returns completed user-input lines.
func (u *UI) InputChan() <-chan string { return u.inputCh }

// ── Styled print helpers ─────────────────────────────────────────

// PrintTurn prints one consultation message.
func (u *UI) PrintTurn(turn domain.ChatTurn) {
	if turn.Role == domain.RoleUser {
		u.Println(secondaryStyle.Render("  问: ") + primaryStyle.Render(turn.Content))
		return
	}
	for _, line := range strings.Split(turn.Content, "\n") {
		u.Println(chatStyle.Render("  " + line))
	}
}

// PrintUserInput echoes the user's typed command into the scrollback.
func (u *UI) PrintUserInput(text string) {
	u.Println(promptStyle.Render("tcm") + secondaryStyle.Render("> ") + userInputEchoStyle.Render(text))
}

// WaitReady blocks until the Bubble Tea event loop is running.
func (u *UI) WaitReady() { <-u.readyCh }

// Quit tells Bubble Tea to exit.
func (u *UI) Quit() {
	if u.program != nil {
		u.program.Quit()
	}
}

// QuitChan is closed when Run returns.
func (u *UI) QuitChan() <-chan struct{} { return u.quitCh }

// Run starts the Bubble Tea event loop.  Blocks until quit.
func (u *UI) Run() error {
	u.program = tea.NewProgram(u.newModel())
	_, err := u.program.Run()
	u.done.Store(true)
	close(u.quitCh)
	return err
}

func (u *UI) newModel() model {
	ti := textinput.New()
	// Use a plain-text prompt so the textinput width math stays correct.
	// Lipgloss-styled prompts add invisible ANSI bytes that break the
	// internal offset/scroll calculations for long input.
	ti.Prompt = prompt
	ti.PromptStyle = promptStyle
	ti.TextStyle = userInputEchoStyle
	ti.Cursor.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("#94a3b8"))
	ti.Focus()
	ti.CharLimit = 500
	ti.Width = 60 // updated on first WindowSizeMsg

	return model{
		statusFn: u.status,
		onToggle: u.onToggle,
		onStop:   u.onStop,
		poll:     u.poll,
		input:    ti,
		inputCh:  u.inputCh,
		readyCh:  u.readyCh,
		echoFn:   u.PrintUserInput,
	}
}

// ── Bubble Tea model ─────────────────────────────────────────────

type model struct {
	statusFn StatusFunc
	onToggle func()
	onStop   func()
	poll     time.Duration
	input    textinput.Model
	inputCh  chan<- string
	readyCh  chan struct{}
	echoFn   func(string) // prints user input into scrollback
	status   Status
	width    int
}

// Messages.
type tickMsg time.Time

func (m model) Init() tea.Cmd {
	return tea.Batch(
		textinput.Blink,
		tickCmd(m.poll),
		signalReady(m.readyCh),
	)
}

func signalReady(ch chan struct{}) tea.Cmd {
	return func() tea.Msg {
		close(ch)
		return nil
	}
}

func tickCmd(d time.Duration) tea.Cmd {
	return tea.Tick(d, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// runCmd calls fn outside Update so it can block on the voice controller.
func runCmd(fn func()) tea.Cmd {
	return func() tea.Msg {
		fn()
		return nil
	}
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC:
			return m, tea.Quit
		case tea.KeyCtrlT:
			return m, runCmd(m.onToggle)
		case tea.KeyEsc:
			return m, runCmd(m.onStop)
		case tea.KeyEnter:
			v := m.input.Value()
			m.input.Reset()
			if strings.TrimSpace(v) != "" {
				m.inputCh <- v
				// Return a Cmd that prints the echo. This runs
				// outside Update so it won't deadlock on msgs.
				echoFn := m.echoFn
				return m, func() tea.Msg {
					echoFn(v)
					return nil
				}
			}
			return m, nil
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		if msg.Width > len(prompt) {
			m.input.Width = msg.Width - len(prompt)
		}
		return m, nil

	case tickMsg:
		if m.statusFn != nil {
			m.status = m.statusFn()
		}
		return m, tea.Batch(tickCmd(m.poll), tea.SetWindowTitle(m.titleStr()))
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m model) titleStr() string {
	return "中医康养 | " + m.status.Page.Title() + " | " + voiceLabel(m.status.Voice)
}

func (m model) View() string {
	var b strings.Builder
	b.WriteString(m.renderBar())
	b.WriteByte('\n')

	// Blank line before prompt for visual separation.
	b.WriteByte('\n')
	b.WriteString(m.input.View())
	return b.String()
}

func (m model) renderBar() string {
	parts := []string{
		labelStyle.Render("页面: ") + pageStyle.Render(m.status.Page.Title()),
		labelStyle.Render("语音: ") + voiceStyle(m.status.Voice).Render(voiceLabel(m.status.Voice)),
		secondaryStyle.Render("Ctrl+T 说话  Esc 停止朗读"),
	}
	content := " " + strings.Join(parts, sepStyle.Render("  │  ")) + " "

	w := m.width
	if w <= 0 {
		w = 80
	}
	return barBg.Width(w).Render(content)
}

// ── Helpers ──────────────────────────────────────────────────────

func voiceLabel(s domain.VoiceState) string {
	switch s {
	case domain.VoiceListening:
		return "聆听中"
	case domain.VoiceSpeaking:
		return "朗读中"
	default:
		return "空闲"
	}
}

func voiceStyle(s domain.VoiceState) lipgloss.Style {
	switch s {
	case domain.VoiceListening:
		return listeningStyle
	case domain.VoiceSpeaking:
		return speakingStyle
	default:
		return idleStyle
	}
}
