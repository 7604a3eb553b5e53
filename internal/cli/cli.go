// Package cli answers a single question non-interactively.
package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/codefionn/sysask/internal/history"
	"github.com/codefionn/sysask/internal/logger"
	"github.com/codefionn/sysask/internal/orchestrator"
	"github.com/codefionn/sysask/internal/progress"
	"github.com/codefionn/sysask/internal/sysinfo"
	"github.com/codefionn/sysask/internal/tui"
)

// Answerer runs one orchestration.
type Answerer interface {
	Run(ctx context.Context, question string, sys orchestrator.SystemContext) *orchestrator.Result
}

// Options configure a Runner.
type Options struct {
	Stdout io.Writer
	Stderr io.Writer
	// History may be nil to run without persistence.
	History      history.Store
	HistoryLimit int
	System       sysinfo.Info
	// Markdown renders answers through glamour; plain text otherwise.
	Markdown bool
	Width    int
}

// Runner handles one-shot questions.
type Runner struct {
	answerer Answerer
	opts     Options
	log      *logger.Logger
}

// New creates a runner. Wire Progress into the orchestrator to get status
// lines on Stderr.
func New(answerer Answerer, opts Options) *Runner {
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}
	if opts.Stderr == nil {
		opts.Stderr = os.Stderr
	}
	if opts.Width <= 0 {
		opts.Width = 80
	}
	return &Runner{answerer: answerer, opts: opts, log: logger.Global().WithPrefix("cli")}
}

// Progress returns a callback printing status lines to Stderr.
func Progress(w io.Writer) progress.Callback {
	return func(ev progress.Event) {
		switch ev.Type {
		case progress.CommandExecute, progress.Timeout, progress.Error:
			fmt.Fprintf(w, "[%s]\n", progress.Status(ev))
		}
	}
}

// Run answers question and prints the result. The error is non-nil when the
// orchestration failed or was aborted.
func (r *Runner) Run(ctx context.Context, question string) (*orchestrator.Result, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return nil, fmt.Errorf("empty question")
	}

	sys := orchestrator.SystemContext{OS: r.opts.System.OS, Distro: r.opts.System.Distro}
	record := r.begin(ctx, question, &sys)

	res := r.answerer.Run(ctx, question, sys)
	r.finish(record, res)

	if !res.Success {
		if res.Aborted {
			return res, fmt.Errorf("%s", res.Error)
		}
		return res, fmt.Errorf("failed to answer: %s", res.Error)
	}

	answer := res.Answer()
	if r.opts.Markdown {
		answer = tui.RenderMarkdown(answer, r.opts.Width)
	}
	fmt.Fprintln(r.opts.Stdout, strings.TrimRight(answer, "\n"))
	r.log.Info("answered in %s with %d commands", res.Duration.Round(time.Millisecond), len(res.ExecutedCommands))
	return res, nil
}

// begin loads prior history into sys and stores a pending record.
func (r *Runner) begin(ctx context.Context, question string, sys *orchestrator.SystemContext) *history.Record {
	if r.opts.History == nil {
		return nil
	}
	if r.opts.HistoryLimit > 0 {
		records, err := r.opts.History.Last(ctx, r.opts.HistoryLimit)
		if err != nil {
			r.log.Warn("load history: %v", err)
		} else {
			sys.History = history.Messages(records)
		}
	}

	record := &history.Record{Question: question, Status: history.StatusPending}
	if err := r.opts.History.Append(ctx, record); err != nil {
		r.log.Warn("append history: %v", err)
		return nil
	}
	return record
}

func (r *Runner) finish(record *history.Record, res *orchestrator.Result) {
	if record == nil {
		return
	}
	answer := res.Answer()
	if !res.Success {
		answer = ""
	}
	// the request context may already be cancelled
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.opts.History.UpdateStatus(ctx, record.ID, history.StatusFor(res), answer, res.ExecutedCommands, res.Duration); err != nil {
		r.log.Warn("update history: %v", err)
	}
}
