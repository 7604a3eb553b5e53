// Package tui is the interactive chat interface.
package tui

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/reflow/truncate"
	"github.com/muesli/reflow/wordwrap"
	"golang.org/x/term"

	"github.com/codefionn/sysask/internal/history"
	"github.com/codefionn/sysask/internal/logger"
	"github.com/codefionn/sysask/internal/orchestrator"
	"github.com/codefionn/sysask/internal/progress"
	"github.com/codefionn/sysask/internal/sysinfo"
)

const (
	defaultInputPlaceholder = "Ask about this machine… (Enter to send, Esc to cancel, Ctrl+C to quit)"
	eventBuffer             = 64
	maxCommandsShown        = 8
	// shutdownTimeout bounds how long Run waits for cancelled runs to stop
	// their shells.
	shutdownTimeout = 5 * time.Second
)

// AskFunc runs one orchestration reporting progress to cb.
type AskFunc func(ctx context.Context, question string, sys orchestrator.SystemContext, cb progress.Callback) *orchestrator.Result

// Options configure the Model.
type Options struct {
	Ask          AskFunc
	ModelName    string
	System       sysinfo.Info
	History      history.Store
	HistoryLimit int
}

type entry struct {
	role     string
	text     string
	commands []string
	err      bool
	muted    bool
}

type progressMsg struct {
	run int
	ev  progress.Event
}

type resultMsg struct {
	run int
	res *orchestrator.Result
}

// Model is the bubbletea model.
type Model struct {
	opts Options
	log  *logger.Logger

	textarea textarea.Model
	viewport viewport.Model
	spinner  spinner.Model

	entries      []entry
	conversation []orchestrator.Message

	running bool
	run     int
	cancel  context.CancelFunc
	events  chan tea.Msg
	status  string

	inflight sync.WaitGroup
	done     chan struct{}
	doneOnce sync.Once

	width, height int
}

// New creates the model. Past history is loaded from opts.History.
func New(opts Options) *Model {
	ta := textarea.New()
	ta.Placeholder = defaultInputPlaceholder
	ta.Focus()
	ta.Prompt = "│ "
	ta.CharLimit = 4000
	ta.SetWidth(80)
	ta.SetHeight(2)
	ta.FocusedStyle.CursorLine = lipgloss.NewStyle()
	ta.ShowLineNumbers = false
	ta.KeyMap.InsertNewline.SetEnabled(false)

	vp := viewport.New(80, 20)
	vp.SetContent("")

	sp := spinner.New(
		spinner.WithSpinner(spinner.Dot),
		spinner.WithStyle(statusStyle.MarginLeft(0)),
	)

	m := &Model{
		opts:     opts,
		log:      logger.Global().WithPrefix("tui"),
		textarea: ta,
		viewport: vp,
		spinner:  sp,
		done:     make(chan struct{}),
		width:    80,
		height:   24,
	}
	m.loadHistory()
	return m
}

func (m *Model) loadHistory() {
	if m.opts.History == nil || m.opts.HistoryLimit <= 0 {
		return
	}
	records, err := m.opts.History.Last(context.Background(), m.opts.HistoryLimit)
	if err != nil {
		m.log.Warn("load history: %v", err)
		return
	}
	m.conversation = history.Messages(records)
}

func (m *Model) Init() tea.Cmd {
	initialWindowSize := func() tea.Msg {
		fd := int(os.Stdout.Fd())
		if !term.IsTerminal(fd) {
			return nil
		}
		if width, height, err := term.GetSize(fd); err == nil && width > 0 && height > 0 {
			return tea.WindowSizeMsg{Width: width, Height: height}
		}
		return nil
	}
	return tea.Batch(textarea.Blink, initialWindowSize)
}

func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.applyWindowSize(msg.Width, msg.Height)
		return m, nil

	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC:
			m.abort()
			return m, tea.Quit
		case tea.KeyEsc:
			if m.running {
				m.abort()
				m.status = "cancelling…"
			}
			return m, nil
		case tea.KeyEnter:
			return m, m.submit()
		}

	case spinner.TickMsg:
		if !m.running {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case progressMsg:
		if msg.run != m.run {
			return m, nil
		}
		m.status = progress.Status(msg.ev)
		return m, m.waitForEvent()

	case resultMsg:
		if msg.run != m.run {
			return m, nil
		}
		m.finish(msg.res)
		return m, nil
	}

	var cmds []tea.Cmd
	var cmd tea.Cmd
	m.textarea, cmd = m.textarea.Update(msg)
	cmds = append(cmds, cmd)
	m.viewport, cmd = m.viewport.Update(msg)
	cmds = append(cmds, cmd)
	return m, tea.Batch(cmds...)
}

// submit starts an orchestration for the textarea content.
func (m *Model) submit() tea.Cmd {
	question := strings.TrimSpace(m.textarea.Value())
	if question == "" || m.running || m.opts.Ask == nil {
		return nil
	}
	m.textarea.Reset()
	m.entries = append(m.entries, entry{role: "You", text: question})
	m.refresh()

	sys := orchestrator.SystemContext{
		OS:      m.opts.System.OS,
		Distro:  m.opts.System.Distro,
		History: append([]orchestrator.Message(nil), m.conversation...),
	}
	m.conversation = append(m.conversation, orchestrator.Message{Role: "user", Content: question})

	ctx, cancel := context.WithCancel(context.Background())
	m.run++
	m.running = true
	m.cancel = cancel
	m.status = "planning…"
	m.events = make(chan tea.Msg, eventBuffer)
	m.inflight.Add(1)
	go m.execute(ctx, m.run, question, sys, m.events)

	return tea.Batch(m.spinner.Tick, m.waitForEvent())
}

// execute runs in its own goroutine; every orchestration owns its shell.
func (m *Model) execute(ctx context.Context, run int, question string, sys orchestrator.SystemContext, events chan<- tea.Msg) {
	defer m.inflight.Done()
	record := m.beginRecord(question)
	cb := func(ev progress.Event) {
		select {
		case events <- progressMsg{run: run, ev: ev}:
		default:
			// status updates are best effort
		}
	}
	res := m.opts.Ask(ctx, question, sys, cb)
	m.finishRecord(record, res)
	select {
	case events <- resultMsg{run: run, res: res}:
	case <-m.done:
	}
}

func (m *Model) beginRecord(question string) *history.Record {
	if m.opts.History == nil {
		return nil
	}
	record := &history.Record{Question: question, Status: history.StatusPending}
	if err := m.opts.History.Append(context.Background(), record); err != nil {
		m.log.Warn("append history: %v", err)
		return nil
	}
	return record
}

func (m *Model) finishRecord(record *history.Record, res *orchestrator.Result) {
	if record == nil {
		return
	}
	answer := ""
	if res.Success {
		answer = res.Answer()
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := m.opts.History.UpdateStatus(ctx, record.ID, history.StatusFor(res), answer, res.ExecutedCommands, res.Duration); err != nil {
		m.log.Warn("update history: %v", err)
	}
}

func (m *Model) waitForEvent() tea.Cmd {
	ch := m.events
	if ch == nil {
		return nil
	}
	return func() tea.Msg { return <-ch }
}

func (m *Model) abort() {
	if m.cancel != nil {
		m.cancel()
	}
}

func (m *Model) finish(res *orchestrator.Result) {
	m.running = false
	m.status = ""
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
	m.events = nil

	switch {
	case res.Success:
		answer := res.Answer()
		m.entries = append(m.entries, entry{role: "Assistant", text: answer, commands: res.ExecutedCommands})
		m.conversation = append(m.conversation, orchestrator.Message{Role: "assistant", Content: answer})
	case res.Aborted:
		m.entries = append(m.entries, entry{role: "Assistant", text: "cancelled", muted: true})
	default:
		m.entries = append(m.entries, entry{role: "Assistant", text: res.Error, err: true})
	}
	m.refresh()
}

func (m *Model) applyWindowSize(width, height int) {
	m.width, m.height = width, height
	m.textarea.SetWidth(width - 2)
	vpHeight := height - m.textarea.Height() - 4
	if vpHeight < 3 {
		vpHeight = 3
	}
	m.viewport.Width = width
	m.viewport.Height = vpHeight
	m.refresh()
}

func (m *Model) refresh() {
	m.viewport.SetContent(m.renderTranscript())
	m.viewport.GotoBottom()
}

func (m *Model) renderTranscript() string {
	wrap := m.width - 2
	if wrap < 20 {
		wrap = 20
	}
	var b strings.Builder
	for i, e := range m.entries {
		if i > 0 {
			b.WriteString("\n\n")
		}
		if e.role == "You" {
			b.WriteString(userLabelStyle.Render(e.role))
			b.WriteString("\n")
			b.WriteString(wordwrap.String(e.text, wrap))
			continue
		}

		b.WriteString(assistantLabelStyle.Render(e.role))
		b.WriteString("\n")
		b.WriteString(renderCommands(e.commands, wrap))
		switch {
		case e.err:
			b.WriteString(errorStyle.Render(wordwrap.String("Error: "+e.text, wrap)))
		case e.muted:
			b.WriteString(mutedStyle.Render(e.text))
		default:
			b.WriteString(RenderMarkdown(e.text, wrap))
		}
	}
	return b.String()
}

func renderCommands(cmds []string, width int) string {
	if len(cmds) == 0 {
		return ""
	}
	var b strings.Builder
	shown := cmds
	if len(shown) > maxCommandsShown {
		shown = shown[:maxCommandsShown]
	}
	for _, c := range shown {
		b.WriteString(commandStyle.Render(truncate.StringWithTail("$ "+c, uint(width), "…")))
		b.WriteString("\n")
	}
	if extra := len(cmds) - len(shown); extra > 0 {
		b.WriteString(commandStyle.Render(fmt.Sprintf("… and %d more", extra)))
		b.WriteString("\n")
	}
	return b.String()
}

func (m *Model) statusLine() string {
	if !m.running {
		return statusStyle.Render("")
	}
	line := truncate.StringWithTail(m.status, uint(max(m.width-6, 10)), "…")
	return m.spinner.View() + " " + statusStyle.Render(line)
}

func (m *Model) View() string {
	header := titleStyle.Render("sysask")
	if m.opts.ModelName != "" {
		header += " " + modelStyle.Render(m.opts.ModelName)
	}
	return lipgloss.JoinVertical(lipgloss.Left,
		header,
		m.viewport.View(),
		m.statusLine(),
		m.textarea.View(),
	)
}

// shutdown cancels the in-flight run and waits up to timeout for it to
// finish, which includes stopping its shell. It reports whether the run
// finished in time.
func (m *Model) shutdown(timeout time.Duration) bool {
	m.abort()
	m.doneOnce.Do(func() { close(m.done) })

	finished := make(chan struct{})
	go func() {
		m.inflight.Wait()
		close(finished)
	}()
	select {
	case <-finished:
		return true
	case <-time.After(timeout):
		m.log.Warn("run still active after %s, exiting anyway", timeout)
		return false
	}
}

// Run starts the program and blocks until it exits and the last run has
// stopped.
func Run(opts Options) error {
	m := New(opts)
	p := tea.NewProgram(m, tea.WithAltScreen())
	_, err := p.Run()
	m.shutdown(shutdownTimeout)
	return err
}
