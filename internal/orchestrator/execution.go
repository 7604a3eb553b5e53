package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/codefionn/sysask/internal/consts"
	"github.com/codefionn/sysask/internal/memory"
	"github.com/codefionn/sysask/internal/orchestrator/loop"
	"github.com/codefionn/sysask/internal/progress"
	"github.com/codefionn/sysask/internal/safety"
	"github.com/codefionn/sysask/internal/shell"
)

// ExecutionContext is the state of one orchestration turn.
type ExecutionContext struct {
	OriginalQuestion string
	System           SystemContext

	// ExecutedCommands and Results are append-only, in execution order.
	ExecutedCommands []string
	Results          []CommandResult
	CurrentPlan      []string
	Memory           *memory.WorkingMemory

	IsComplete   bool
	DirectAnswer string
	Response     string
	ToolCalls    int
	// Reasoning is the latest completion-check explanation.
	Reasoning string

	budget loop.State
}

func newExecutionContext(question string, sys SystemContext, budget loop.State) *ExecutionContext {
	return &ExecutionContext{
		OriginalQuestion: question,
		System:           sys,
		ExecutedCommands: []string{},
		Results:          []CommandResult{},
		CurrentPlan:      []string{},
		Memory:           memory.New(),
		budget:           budget,
	}
}

// Iteration is the number of commands dequeued so far (tool passes in the
// tool variant).
func (ec *ExecutionContext) Iteration() int {
	if ec.budget == nil {
		return 0
	}
	return ec.budget.Iteration()
}

func (ec *ExecutionContext) dequeue() string {
	cmd := ec.CurrentPlan[0]
	ec.CurrentPlan = ec.CurrentPlan[1:]
	return cmd
}

func (ec *ExecutionContext) result() *Result {
	return &Result{
		Question:         ec.OriginalQuestion,
		DirectAnswer:     ec.DirectAnswer,
		Response:         ec.Response,
		ExecutedCommands: append([]string{}, ec.ExecutedCommands...),
		Results:          append([]CommandResult{}, ec.Results...),
		Iterations:       ec.Iteration(),
		ToolCalls:        ec.ToolCalls,
	}
}

// OrchestrateExecution runs the plan/execute/check/replan loop and the final
// synthesis. The returned error is either an abort (loop.ErrAborted) or a
// failed initial plan (ErrPlanning); every other failure degrades.
func (o *Orchestrator) OrchestrateExecution(ctx context.Context, question string, sys SystemContext) (*ExecutionContext, error) {
	budget := o.budget()
	ec := newExecutionContext(question, sys, budget)

	if answer, ok := shortcutAnswer(question, sys.History); ok {
		o.log.Debug("answering from history")
		ec.DirectAnswer = answer
		ec.IsComplete = true
		return ec, nil
	}

	exec := o.opts.NewExecutor()
	defer func() {
		if err := exec.Close(); err != nil {
			o.log.Warn("close executor: %v", err)
		}
	}()

	plan, err := o.initialPlan(ctx, ec)
	if err != nil {
		if loop.IsAborted(err) {
			return ec, err
		}
		o.log.Error("initial plan: %v", err)
		return ec, fmt.Errorf("%w: %v", ErrPlanning, err)
	}
	ec.CurrentPlan = plan
	o.log.Debug("initial plan: %d commands", len(plan))

	for {
		switch budget.Check(ctx) {
		case loop.Aborted:
			return ec, loop.Abort(ctx)
		case loop.DeadlineExceeded:
			o.log.Warn("execution deadline reached after %d iterations", budget.Iteration())
		case loop.LimitReached:
			o.log.Debug("iteration limit %d reached", budget.MaxIterations())
		case loop.Continue:
			if len(ec.CurrentPlan) > 0 {
				if err := o.step(ctx, ec, exec); err != nil {
					return ec, err
				}
				continue
			}

			verdict, err := o.checkCompletion(ctx, ec)
			if err != nil {
				return ec, err
			}
			ec.Reasoning = verdict.Reasoning
			if *verdict.IsComplete {
				ec.IsComplete = true
				break
			}

			if v := budget.CheckTime(ctx); v == loop.Aborted {
				return ec, loop.Abort(ctx)
			} else if v == loop.DeadlineExceeded {
				o.log.Warn("execution deadline reached before replanning")
				break
			}
			next, err := o.replan(ctx, ec)
			if err != nil {
				return ec, err
			}
			if len(next) == 0 {
				o.log.Debug("replan produced no commands")
				ec.IsComplete = true
				break
			}
			ec.CurrentPlan = next
			continue
		}
		break
	}

	answer, err := o.synthesize(ctx, ec)
	if err != nil {
		return ec, err
	}
	ec.DirectAnswer = answer
	return ec, nil
}

// step dequeues and executes one planned command.
func (o *Orchestrator) step(ctx context.Context, ec *ExecutionContext, exec Executor) error {
	cmd := ec.dequeue()
	iteration := ec.budget.Iteration() + 1
	o.emit(progress.Event{Type: progress.IterationStart, Iteration: iteration, Command: cmd})
	if _, err := o.runCommand(ctx, ec, exec, cmd, iteration); err != nil {
		return err
	}
	ec.budget.Increment()
	o.emit(progress.Event{Type: progress.IterationComplete, Iteration: iteration})
	return nil
}

// runCommand validates and executes one command and records its result. It
// only fails on abort.
func (o *Orchestrator) runCommand(ctx context.Context, ec *ExecutionContext, exec Executor, command string, iteration int) (CommandResult, error) {
	command = strings.TrimSpace(command)
	if v := safety.ValidateCommand(command); !v.Valid {
		o.log.Warn("blocked command %q (%s)", command, v.Rule)
		return o.recordBlocked(ec, command, iteration), nil
	}

	if err := loop.Abort(ctx); err != nil {
		return CommandResult{}, err
	}

	o.emit(progress.Event{Type: progress.CommandExecute, Iteration: iteration, Command: command})
	res, err := exec.Execute(ctx, command)
	if err != nil {
		if abortErr := loop.Abort(ctx); abortErr != nil {
			return CommandResult{}, abortErr
		}
		if errors.Is(err, safety.ErrBlockedCommand) {
			return o.recordBlocked(ec, command, iteration), nil
		}

		cr := CommandResult{Command: command, Error: err.Error()}
		ec.ExecutedCommands = append(ec.ExecutedCommands, command)
		ec.Results = append(ec.Results, cr)
		o.noteIssues(ec.Memory, command, cr.Error)

		evType := progress.Error
		if errors.Is(err, shell.ErrTimeout) {
			evType = progress.Timeout
			o.restartAfterTimeout(ctx, exec)
		}
		o.log.Debug("command %q failed: %v", command, err)
		o.emit(progress.Event{Type: evType, Iteration: iteration, Command: command, Error: cr.Error})
		return cr, nil
	}

	cr := CommandResult{Command: command, Output: res.Combined, Truncated: res.Truncated}
	ec.ExecutedCommands = append(ec.ExecutedCommands, command)
	ec.Results = append(ec.Results, cr)
	if name := o.opts.Extractors.Extract(command, res.Combined, ec.Memory); name != "" {
		o.log.Debug("extractor %s handled %q", name, command)
	}
	o.noteIssues(ec.Memory, command, res.Combined)

	o.emit(progress.Event{
		Type:      progress.CommandComplete,
		Iteration: iteration,
		Command:   command,
		Output:    res.Combined,
		Truncated: res.Truncated,
	})
	return cr, nil
}

func (o *Orchestrator) recordBlocked(ec *ExecutionContext, command string, iteration int) CommandResult {
	cr := CommandResult{Command: command, Error: consts.MsgBlockedCommand, Skipped: true}
	ec.Results = append(ec.Results, cr)
	o.emit(progress.Event{Type: progress.Error, Iteration: iteration, Command: command, Error: cr.Error})
	return cr
}

// restartAfterTimeout replaces a shell that is still busy with the timed out
// command.
func (o *Orchestrator) restartAfterTimeout(ctx context.Context, exec Executor) {
	if err := exec.Restart(ctx); err != nil {
		o.log.Warn("restart after timeout: %v", err)
	}
}

func (o *Orchestrator) noteIssues(m *memory.WorkingMemory, command, text string) {
	if text == "" {
		return
	}
	for _, match := range o.opts.Patterns.Match(text) {
		if m.AddIssue(memory.Issue{ID: match.ID, Title: match.Title, Hint: match.Hint, Command: command}) {
			o.log.Debug("known issue %s in output of %q", match.ID, command)
		}
	}
}
