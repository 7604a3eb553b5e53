package tui

import (
	"context"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codefionn/sysask/internal/consts"
	"github.com/codefionn/sysask/internal/history"
	"github.com/codefionn/sysask/internal/orchestrator"
	"github.com/codefionn/sysask/internal/progress"
)

// drain feeds run messages back into the model until the result arrives.
func drain(t *testing.T, m *Model) {
	t.Helper()
	events := m.events
	require.NotNil(t, events)
	timeout := time.After(5 * time.Second)
	for {
		select {
		case msg := <-events:
			m.Update(msg)
			if _, ok := msg.(resultMsg); ok {
				return
			}
		case <-timeout:
			t.Fatal("orchestration did not finish")
		}
	}
}

func typeAndSubmit(m *Model, text string) tea.Cmd {
	m.textarea.SetValue(text)
	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	return cmd
}

func TestSubmitShowsAnswer(t *testing.T) {
	var gotSys orchestrator.SystemContext
	ask := func(ctx context.Context, q string, sys orchestrator.SystemContext, cb progress.Callback) *orchestrator.Result {
		gotSys = sys
		progress.Dispatch(cb, progress.Event{Type: progress.CommandExecute, Command: "uptime"})
		return &orchestrator.Result{Success: true, DirectAnswer: "up 3 days", ExecutedCommands: []string{"uptime"}}
	}
	store, err := history.OpenSQLite(filepath.Join(t.TempDir(), "h.db"))
	require.NoError(t, err)
	defer store.Close()

	m := New(Options{Ask: ask, History: store, HistoryLimit: 5})
	m.applyWindowSize(100, 30)

	cmd := typeAndSubmit(m, "how long is the uptime?")
	require.NotNil(t, cmd)
	assert.True(t, m.running)
	assert.Empty(t, m.textarea.Value())
	drain(t, m)

	assert.False(t, m.running)
	require.Len(t, m.entries, 2)
	assert.Equal(t, "up 3 days", m.entries[1].text)
	assert.Equal(t, []orchestrator.Message{
		{Role: "user", Content: "how long is the uptime?"},
		{Role: "assistant", Content: "up 3 days"},
	}, m.conversation)
	assert.Empty(t, gotSys.History)
	assert.Contains(t, m.renderTranscript(), "$ uptime")

	records, err := store.Last(context.Background(), 5)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, history.StatusCompleted, records[0].Status)
	assert.Equal(t, "up 3 days", records[0].Answer)

	// second question sees the first in its history
	typeAndSubmit(m, "what did I ask earlier?")
	drain(t, m)
	assert.Len(t, gotSys.History, 2)
}

func TestEscapeCancelsRun(t *testing.T) {
	started := make(chan struct{})
	ask := func(ctx context.Context, q string, sys orchestrator.SystemContext, cb progress.Callback) *orchestrator.Result {
		close(started)
		<-ctx.Done()
		return &orchestrator.Result{Aborted: true, Error: consts.MsgRequestAborted}
	}
	m := New(Options{Ask: ask})

	typeAndSubmit(m, "slow question")
	<-started
	m.Update(tea.KeyMsg{Type: tea.KeyEsc})
	drain(t, m)

	require.Len(t, m.entries, 2)
	assert.True(t, m.entries[1].muted)
	assert.False(t, m.entries[1].err)
	assert.Len(t, m.conversation, 1)
}

func TestShutdownWaitsForRun(t *testing.T) {
	started := make(chan struct{})
	var stopped atomic.Bool
	ask := func(ctx context.Context, q string, sys orchestrator.SystemContext, cb progress.Callback) *orchestrator.Result {
		close(started)
		<-ctx.Done()
		// stands in for the shell stop grace period
		time.Sleep(50 * time.Millisecond)
		stopped.Store(true)
		return &orchestrator.Result{Aborted: true, Error: consts.MsgRequestAborted}
	}
	m := New(Options{Ask: ask})
	typeAndSubmit(m, "tail the journal")
	<-started

	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyCtrlC})
	require.NotNil(t, cmd)
	assert.True(t, m.shutdown(5*time.Second))
	assert.True(t, stopped.Load())
}

func TestShutdownDoesNotBlockOnUnreadResult(t *testing.T) {
	ask := func(ctx context.Context, q string, sys orchestrator.SystemContext, cb progress.Callback) *orchestrator.Result {
		for i := 0; i < eventBuffer*2; i++ {
			progress.Dispatch(cb, progress.Event{Type: progress.CommandExecute, Command: "uptime"})
		}
		<-ctx.Done()
		return &orchestrator.Result{Aborted: true}
	}
	m := New(Options{Ask: ask})
	typeAndSubmit(m, "q")
	assert.True(t, m.shutdown(5*time.Second))
	assert.True(t, m.shutdown(time.Second), "shutdown is idempotent")
}

func TestShutdownWithoutRun(t *testing.T) {
	m := New(Options{})
	assert.True(t, m.shutdown(time.Second))
}

func TestFailureShowsError(t *testing.T) {
	ask := func(context.Context, string, orchestrator.SystemContext, progress.Callback) *orchestrator.Result {
		return &orchestrator.Result{Error: "planning failed: no network"}
	}
	m := New(Options{Ask: ask})
	typeAndSubmit(m, "q")
	drain(t, m)

	require.Len(t, m.entries, 2)
	assert.True(t, m.entries[1].err)
	assert.Contains(t, m.renderTranscript(), "no network")
}

func TestEmptySubmitIgnored(t *testing.T) {
	m := New(Options{Ask: func(context.Context, string, orchestrator.SystemContext, progress.Callback) *orchestrator.Result {
		t.Fatal("must not run")
		return nil
	}})
	assert.Nil(t, typeAndSubmit(m, "   "))
	assert.False(t, m.running)
}

func TestStaleMessagesIgnored(t *testing.T) {
	m := New(Options{})
	m.run = 2
	m.Update(resultMsg{run: 1, res: &orchestrator.Result{Success: true, DirectAnswer: "old"}})
	assert.Empty(t, m.entries)
}

func TestRenderCommandsLimit(t *testing.T) {
	cmds := make([]string, maxCommandsShown+3)
	for i := range cmds {
		cmds[i] = "echo " + strings.Repeat("x", i)
	}
	out := renderCommands(cmds, 80)
	assert.Contains(t, out, "and 3 more")
	assert.Empty(t, renderCommands(nil, 80))
}

func TestRenderMarkdownFallsBackToWidth(t *testing.T) {
	out := RenderMarkdown("**bold** text", 5)
	assert.Contains(t, out, "bold")
}
