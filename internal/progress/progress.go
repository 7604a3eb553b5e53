// Package progress carries status events from an orchestration to a UI.
package progress

import (
	"fmt"
	"strings"
	"sync"
)

// EventType tags an Event.
type EventType string

const (
	IterationStart    EventType = "iteration-start"
	CommandExecute    EventType = "command-execute"
	CommandComplete   EventType = "command-complete"
	Timeout           EventType = "timeout"
	Error             EventType = "error"
	IterationComplete EventType = "iteration-complete"
)

// Event describes one step of an orchestration. Only the fields relevant to
// Type are set.
type Event struct {
	Type      EventType
	Iteration int
	Command   string
	Output    string
	Error     string
	Message   string
	Truncated bool
}

// Callback receives progress events. It must not block for long.
type Callback func(Event)

// Dispatch sends ev if cb is set.
func Dispatch(cb Callback, ev Event) {
	if cb == nil {
		return
	}
	cb(ev)
}

// Status renders ev as a one-line status message.
func Status(ev Event) string {
	switch ev.Type {
	case IterationStart:
		return fmt.Sprintf("iteration %d", ev.Iteration)
	case CommandExecute:
		return "$ " + ev.Command
	case CommandComplete:
		lines := 0
		if out := strings.TrimSpace(ev.Output); out != "" {
			lines = strings.Count(out, "\n") + 1
		}
		suffix := ""
		if ev.Truncated {
			suffix = ", truncated"
		}
		return fmt.Sprintf("✓ %s (%d lines%s)", ev.Command, lines, suffix)
	case Timeout:
		return fmt.Sprintf("⏱ %s timed out", ev.Command)
	case Error:
		if ev.Command != "" {
			return fmt.Sprintf("✗ %s: %s", ev.Command, ev.Error)
		}
		return "✗ " + ev.Error
	case IterationComplete:
		if ev.Message != "" {
			return ev.Message
		}
		return fmt.Sprintf("iteration %d done", ev.Iteration)
	default:
		return ev.Message
	}
}

// Recorder collects events; safe for concurrent use.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

// Callback returns a Callback appending to r.
func (r *Recorder) Callback() Callback {
	return func(ev Event) {
		r.mu.Lock()
		r.events = append(r.events, ev)
		r.mu.Unlock()
	}
}

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// Types returns the recorded event types in order.
func (r *Recorder) Types() []EventType {
	events := r.Events()
	out := make([]EventType, len(events))
	for i, ev := range events {
		out[i] = ev.Type
	}
	return out
}
