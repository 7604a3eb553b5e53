// Package orchestrator turns a natural-language question about the local
// system into an answer by alternating model planning calls with command
// execution in a persistent shell.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/codefionn/sysask/internal/config"
	"github.com/codefionn/sysask/internal/consts"
	"github.com/codefionn/sysask/internal/llm"
	"github.com/codefionn/sysask/internal/logger"
	"github.com/codefionn/sysask/internal/memory"
	"github.com/codefionn/sysask/internal/orchestrator/loop"
	"github.com/codefionn/sysask/internal/patterns"
	"github.com/codefionn/sysask/internal/progress"
	"github.com/codefionn/sysask/internal/shell"
)

// ErrPlanning wraps failures of the initial planning call.
var ErrPlanning = errors.New("planning failed")

// Message is one entry of the conversation history.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// SystemContext describes the host and the conversation so far.
type SystemContext struct {
	OS      string    `json:"os"`
	Distro  string    `json:"distro"`
	History []Message `json:"history,omitempty"`
}

// CommandResult is one entry of the execution trail.
type CommandResult struct {
	Command   string `json:"command"`
	Output    string `json:"output,omitempty"`
	Error     string `json:"error,omitempty"`
	Skipped   bool   `json:"skipped,omitempty"`
	Truncated bool   `json:"truncated,omitempty"`
}

// Result is what every orchestration variant returns.
type Result struct {
	Success          bool            `json:"success"`
	Question         string          `json:"question,omitempty"`
	DirectAnswer     string          `json:"directAnswer,omitempty"`
	Response         string          `json:"response,omitempty"`
	ExecutedCommands []string        `json:"executedCommands"`
	Results          []CommandResult `json:"results"`
	Iterations       int             `json:"iterations"`
	ToolCalls        int             `json:"toolCalls,omitempty"`
	Duration         time.Duration   `json:"duration"`
	Error            string          `json:"error,omitempty"`
	// Aborted is set when the caller cancelled; UIs should not show Error.
	Aborted bool `json:"aborted,omitempty"`
}

// Answer returns the direct answer or the tool-variant response.
func (r *Result) Answer() string {
	if r.DirectAnswer != "" {
		return r.DirectAnswer
	}
	return r.Response
}

// Executor runs commands for one orchestration.
type Executor interface {
	Execute(ctx context.Context, command string) (*shell.Result, error)
	Restart(ctx context.Context) error
	Close() error
}

// ExecutorFactory creates the executor of one orchestration.
type ExecutorFactory func() Executor

// Options configures an Orchestrator.
type Options struct {
	Mode             string
	MaxIterations    int
	MaxExecutionTime time.Duration
	Temperature      float64
	MaxTokens        int

	Shell       shell.Options
	NewExecutor ExecutorFactory

	Extractors *memory.Registry
	Patterns   *patterns.Matcher
	Progress   progress.Callback

	// Now is the clock; nil means time.Now.
	Now func() time.Time
}

// OptionsFromConfig maps the user configuration onto Options.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		Mode:             cfg.Mode,
		MaxIterations:    cfg.MaxIterations,
		MaxExecutionTime: cfg.MaxExecutionTime(),
		Temperature:      cfg.Temperature,
		MaxTokens:        cfg.MaxTokens,
		Shell: shell.Options{
			Shell:          cfg.Shell,
			WorkingDir:     cfg.WorkingDir,
			Env:            cfg.Env,
			Timeout:        cfg.CommandTimeout(),
			MaxOutputBytes: cfg.MaxOutputBytes,
		},
	}
}

// Orchestrator is stateless between runs; each Run owns its own memory and
// shell session, so one Orchestrator may serve concurrent questions.
type Orchestrator struct {
	client llm.Client
	opts   Options
	log    *logger.Logger
}

// New creates an orchestrator around client.
func New(client llm.Client, opts Options) *Orchestrator {
	if opts.Mode == "" {
		opts.Mode = config.ModePlan
	}
	if opts.MaxIterations <= 0 {
		opts.MaxIterations = consts.DefaultMaxIterations
	}
	if opts.MaxExecutionTime <= 0 {
		opts.MaxExecutionTime = consts.DefaultMaxExecutionTime
	}
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = consts.DefaultMaxTokens
	}
	if opts.Extractors == nil {
		opts.Extractors = memory.DefaultRegistry()
	}
	if opts.Patterns == nil {
		opts.Patterns = patterns.Default()
	}
	if opts.NewExecutor == nil {
		shellOpts := opts.Shell
		opts.NewExecutor = func() Executor { return shell.NewSession(shellOpts) }
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Orchestrator{
		client: client,
		opts:   opts,
		log:    logger.Global().WithPrefix("orchestrator"),
	}
}

// UsesTools reports whether Run takes the tool-calling path.
func (o *Orchestrator) UsesTools() bool {
	switch o.opts.Mode {
	case config.ModeTools:
		if !o.client.SupportsTools() {
			o.log.Warn("model %s does not support tools, using planning mode", o.client.GetModelName())
			return false
		}
		return true
	case config.ModeAuto:
		return o.client.SupportsTools()
	default:
		return false
	}
}

// Run answers question. Failures are reported in the Result, never as a
// panic or error return.
func (o *Orchestrator) Run(ctx context.Context, question string, sys SystemContext) *Result {
	if o.UsesTools() {
		return o.RunWithTools(ctx, question, sys)
	}

	start := o.opts.Now()
	ec, err := o.OrchestrateExecution(ctx, question, sys)
	res := ec.result()
	res.Duration = o.opts.Now().Sub(start)
	if err != nil {
		fail(res, err)
		return res
	}
	res.Success = true
	return res
}

func fail(res *Result, err error) {
	res.Success = false
	res.DirectAnswer = ""
	if loop.IsAborted(err) {
		res.Aborted = true
		res.Error = consts.MsgRequestAborted
		return
	}
	res.Error = err.Error()
}

func (o *Orchestrator) budget() loop.State {
	return loop.NewDefaultState(&loop.Config{
		MaxIterations:    o.opts.MaxIterations,
		MaxExecutionTime: o.opts.MaxExecutionTime,
		Now:              o.opts.Now,
	})
}

func (o *Orchestrator) request(system string, messages []llm.Message, tools []llm.Tool) *llm.CompletionRequest {
	return &llm.CompletionRequest{
		SystemPrompt: system,
		Messages:     messages,
		Tools:        tools,
		Temperature:  o.opts.Temperature,
		MaxTokens:    o.opts.MaxTokens,
	}
}

// ask sends a plain prompt under the shared system prompt.
func (o *Orchestrator) ask(ctx context.Context, system, prompt string) (string, error) {
	if err := loop.Abort(ctx); err != nil {
		return "", err
	}
	resp, err := o.client.CompleteWithRequest(ctx, o.request(system, []llm.Message{llm.UserText(prompt)}, nil))
	if err != nil {
		if abortErr := loop.Abort(ctx); abortErr != nil {
			return "", abortErr
		}
		return "", fmt.Errorf("model %s: %w", o.client.GetModelName(), err)
	}
	return resp.Text(), nil
}

func (o *Orchestrator) emit(ev progress.Event) {
	progress.Dispatch(o.opts.Progress, ev)
}
