package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"inboxpal/authed"
	"inboxpal/clipboard"
	"inboxpal/hotkey"
	"inboxpal/log"
	"inboxpal/recorder"
)

type tickMsg time.Time
type hotkeyMsg struct{}
type unreadMsg struct {
	count int
	err   error
}
type toggleErrMsg struct{ err error }
type copiedMsg struct{ err error }

// tuiDeps is what the view needs from the app. Tests fill it with stubs.
type tuiDeps struct {
	device   string
	hotkey   bool
	copy     bool
	authed   func() bool
	toggle   func(ctx context.Context) error
	stop     func() bool
	unread   func(ctx context.Context) (int, error)
	copyText func(string) error
}

type tuiModel struct {
	ctx     context.Context
	deps    tuiDeps
	presses <-chan struct{}
	spinner spinner.Model

	state      recorder.State
	started    time.Time
	elapsed    time.Duration
	level      float64
	peak       float64
	transcript string
	count      int
	copied     bool
	err        error

	signedIn    bool
	unread      int
	unreadKnown bool
	unreadErr   error

	width, height int
}

func newTUIModel(ctx context.Context, deps tuiDeps, presses <-chan struct{}) tuiModel {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = busyStyle
	return tuiModel{
		ctx:      ctx,
		deps:     deps,
		presses:  presses,
		spinner:  sp,
		signedIn: deps.authed(),
	}
}

func (c *cli) runTUI(cmd *cobra.Command, _ []string) error {
	sink := &tuiSink{}
	a, err := c.open(appOptions{audio: true, sinks: c.sinks(sink)})
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	var presses <-chan struct{}
	hk := hotkey.New()
	if err := hk.Register(); err != nil {
		log.Warnf("global hotkey unavailable: %v", err)
	} else {
		defer hk.Unregister()
		presses = hk.Presses()
	}

	deps := tuiDeps{
		device:   a.adapter.DeviceName(),
		hotkey:   presses != nil,
		copy:     c.cfg.Copy,
		authed:   a.store.IsAuthenticated,
		toggle:   a.rec.Toggle,
		stop:     a.rec.Stop,
		unread:   a.mail.UnreadCount,
		copyText: clipboard.Copy,
	}
	p := tea.NewProgram(newTUIModel(ctx, deps, presses), tea.WithAltScreen(), tea.WithContext(ctx))
	sink.attach(p)
	_, err = p.Run()
	if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
		return nil
	}
	return err
}

func tuiTick() tea.Cmd {
	return tea.Tick(100*time.Millisecond, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func waitPress(ch <-chan struct{}) tea.Cmd {
	return func() tea.Msg {
		if _, ok := <-ch; !ok {
			return nil
		}
		return hotkeyMsg{}
	}
}

func (m tuiModel) toggleCmd() tea.Cmd {
	return func() tea.Msg {
		if err := m.deps.toggle(m.ctx); err != nil {
			return toggleErrMsg{err}
		}
		return nil
	}
}

func (m tuiModel) unreadCmd() tea.Cmd {
	return func() tea.Msg {
		n, err := m.deps.unread(m.ctx)
		return unreadMsg{count: n, err: err}
	}
}

func (m tuiModel) copyCmd(text string) tea.Cmd {
	return func() tea.Msg {
		return copiedMsg{err: m.deps.copyText(text)}
	}
}

func (m tuiModel) Init() tea.Cmd {
	cmds := []tea.Cmd{tuiTick()}
	if m.presses != nil {
		cmds = append(cmds, waitPress(m.presses))
	}
	if m.signedIn {
		cmds = append(cmds, m.unreadCmd())
	}
	return tea.Batch(cmds...)
}

func (m tuiModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			m.deps.stop()
			return m, tea.Quit
		case " ", "space":
			return m, m.toggleCmd()
		case "u":
			return m, m.unreadCmd()
		}

	case hotkeyMsg:
		return m, tea.Batch(m.toggleCmd(), waitPress(m.presses))

	case tickMsg:
		if m.state == recorder.Recording {
			m.elapsed = time.Since(m.started)
		}
		return m, tuiTick()

	case stateMsg:
		return m.applyState(recorder.Event(msg))

	case spinner.TickMsg:
		if m.busy() {
			var cmd tea.Cmd
			m.spinner, cmd = m.spinner.Update(msg)
			return m, cmd
		}

	case levelMsg:
		if m.state == recorder.Recording {
			m.level = m.level*0.6 + float64(msg)*0.4
			m.peak = max(m.peak, float64(msg))
		}

	case toggleErrMsg:
		m.err = msg.err

	case copiedMsg:
		m.copied = msg.err == nil
		if msg.err != nil {
			log.Warnf("clipboard copy: %v", msg.err)
		}

	case unreadMsg:
		m.signedIn = m.deps.authed()
		if msg.err != nil {
			m.unreadErr = msg.err
			if errors.Is(msg.err, authed.ErrSessionExpired) || errors.Is(msg.err, authed.ErrUnauthenticated) {
				m.unreadKnown = false
			}
			break
		}
		m.unread, m.unreadKnown, m.unreadErr = msg.count, true, nil
	}
	return m, nil
}

func (m tuiModel) applyState(ev recorder.Event) (tea.Model, tea.Cmd) {
	m.state = ev.State
	switch ev.State {
	case recorder.Recording:
		m.started = time.Now()
		m.elapsed, m.level, m.peak = 0, 0, 0
		m.err, m.copied = nil, false
	case recorder.Assembling:
		m.elapsed = ev.Elapsed
		m.level = 0
		return m, m.spinner.Tick
	case recorder.Done:
		m.count++
		m.transcript = ev.Transcript
		if m.deps.copy && ev.Transcript != "" {
			return m, m.copyCmd(ev.Transcript)
		}
	case recorder.Failed:
		m.err = ev.Err
	}
	return m, nil
}

var (
	recStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
	busyStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("214")).Bold(true)
	idleStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	dimStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	warnStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("208"))
	okStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	textStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("4"))
	helpStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("239"))
	helpKeyStyle = helpStyle.Bold(true)
	meterOn      = lipgloss.NewStyle().Foreground(lipgloss.Color("46"))
	meterOff     = lipgloss.NewStyle().Foreground(lipgloss.Color("236"))
)

const (
	sideWidth  = 40
	meterWidth = 24
)

func (m tuiModel) busy() bool {
	return m.state == recorder.Assembling || m.state == recorder.Dispatching
}

func (m tuiModel) statusLine() string {
	switch {
	case m.state == recorder.Recording:
		return recStyle.Render(fmt.Sprintf("● REC %.1fs / %.0fs", m.elapsed.Seconds(), recorder.MaxDuration.Seconds()))
	case m.busy():
		return m.spinner.View() + busyStyle.Render(" TRANSCRIBING")
	default:
		return idleStyle.Render("○ STANDBY")
	}
}

func renderMeter(level float64, width int) string {
	// RMS of speech rarely exceeds 0.3; scale so normal speech fills the bar.
	n := int(min(level*3, 1) * float64(width))
	return meterOn.Render(strings.Repeat("▮", n)) + meterOff.Render(strings.Repeat("▯", width-n))
}

func (m tuiModel) sidePanel() []string {
	lines := []string{m.statusLine()}
	if m.state == recorder.Recording {
		lines = append(lines, renderMeter(m.level, meterWidth))
		if m.elapsed > time.Second && m.peak < 0.02 {
			lines = append(lines, warnStyle.Render("⚠ no voice detected"))
		}
	}
	lines = append(lines, "", dimStyle.Render("mic: "+m.deps.device))

	if m.signedIn {
		lines = append(lines, okStyle.Render("● signed in"))
	} else {
		lines = append(lines, warnStyle.Render("○ signed out (inboxpal login)"))
	}
	switch {
	case m.unreadErr != nil:
		lines = append(lines, warnStyle.Render("unread: "+UserMessage(m.unreadErr)))
	case m.unreadKnown:
		lines = append(lines, dimStyle.Render(fmt.Sprintf("unread: %d", m.unread)))
	}

	lines = append(lines, "")
	if m.deps.hotkey {
		lines = append(lines, helpKeyStyle.Render(hotkey.Label)+helpStyle.Render(" or ")+helpKeyStyle.Render("space")+helpStyle.Render(" to record"))
	} else {
		lines = append(lines, helpKeyStyle.Render("space")+helpStyle.Render(" to record"))
	}
	lines = append(lines,
		helpKeyStyle.Render("u")+helpStyle.Render(" unread  ")+helpKeyStyle.Render("q")+helpStyle.Render(" quit"),
		helpStyle.Render("inboxpal "+version),
	)
	return lines
}

func (m tuiModel) transcriptPanel(width int) string {
	var b strings.Builder
	if m.count == 0 && m.err == nil {
		return idleStyle.Render("Nothing recorded yet")
	}
	if m.count > 0 {
		b.WriteString(dimStyle.Render(fmt.Sprintf("Last transcript (#%d)", m.count)) + "\n\n")
		text := m.transcript
		if text == "" {
			text = "(empty transcript)"
		}
		lines := wrapText(text, width)
		for i, line := range lines {
			b.WriteString(textStyle.Render(line))
			if i == len(lines)-1 && m.copied {
				b.WriteString(" " + okStyle.Render("[✓ copied]"))
			}
			b.WriteString("\n")
		}
	}
	if m.err != nil {
		b.WriteString("\n")
		for _, line := range wrapText(UserMessage(m.err), width) {
			b.WriteString(warnStyle.Render(line) + "\n")
		}
	}
	return b.String()
}

func (m tuiModel) View() string {
	if m.width == 0 || m.height == 0 {
		return "Loading..."
	}
	side := lipgloss.NewStyle().
		Width(sideWidth).
		Height(m.height).
		Render(strings.Join(m.sidePanel(), "\n"))

	mainWidth := max(m.width-sideWidth-1, 20)
	body := lipgloss.NewStyle().
		Width(mainWidth).
		Height(m.height).
		PaddingLeft(1).
		Render(m.transcriptPanel(max(mainWidth-2, 10)))

	return lipgloss.JoinHorizontal(lipgloss.Top, side, body)
}

// wrapText breaks text on spaces so no line exceeds width runes. Words
// longer than width are split.
func wrapText(text string, width int) []string {
	width = max(width, 1)
	var (
		lines []string
		cur   []rune
	)
	for _, word := range strings.Fields(text) {
		w := []rune(word)
		for len(w) > width {
			if len(cur) > 0 {
				lines = append(lines, string(cur))
				cur = nil
			}
			lines = append(lines, string(w[:width]))
			w = w[width:]
		}
		switch {
		case len(w) == 0:
		case len(cur) == 0:
			cur = w
		case len(cur)+1+len(w) <= width:
			cur = append(append(cur, ' '), w...)
		default:
			lines = append(lines, string(cur))
			cur = w
		}
	}
	if len(cur) > 0 || len(lines) == 0 {
		lines = append(lines, string(cur))
	}
	return lines
}
