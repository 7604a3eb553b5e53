package orchestrator

import (
	"context"
	"fmt"
	"strings"

	"github.com/codefionn/sysask/internal/consts"
	"github.com/codefionn/sysask/internal/llm"
	"github.com/codefionn/sysask/internal/orchestrator/loop"
	"github.com/codefionn/sysask/internal/progress"
)

// RunCommandToolName is the single tool offered in tool mode.
const RunCommandToolName = "run_command"

const finalAnswerPrompt = "The command budget for this question is exhausted. Answer now with the data collected so far, as plain text."

type runCommandInput struct {
	Command        string `json:"command"`
	RestartSession bool   `json:"restart_session,omitempty"`
}

func runCommandTool() llm.Tool {
	return llm.Tool{
		Name:        RunCommandToolName,
		Description: "Run a shell command in a persistent shell session on the local machine and return its combined output.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"command": map[string]any{
					"type":        "string",
					"description": "The shell command to run.",
				},
				"restart_session": map[string]any{
					"type":        "boolean",
					"description": "Restart the shell before running the command.",
				},
			},
			"required": []string{"command"},
		},
	}
}

func historyMessages(history []Message) []llm.Message {
	out := make([]llm.Message, 0, len(history))
	for _, m := range history {
		if strings.TrimSpace(m.Content) == "" {
			continue
		}
		if m.Role == "assistant" {
			out = append(out, llm.AssistantText(m.Content))
		} else {
			out = append(out, llm.UserText(m.Content))
		}
	}
	return out
}

// RunWithTools lets the model drive execution through run_command calls.
// One model call is one iteration.
func (o *Orchestrator) RunWithTools(ctx context.Context, question string, sys SystemContext) *Result {
	start := o.opts.Now()
	budget := o.budget()
	ec := newExecutionContext(question, sys, budget)

	finish := func(err error) *Result {
		res := ec.result()
		res.Duration = o.opts.Now().Sub(start)
		if err != nil {
			fail(res, err)
			return res
		}
		res.Success = true
		return res
	}

	if answer, ok := shortcutAnswer(question, sys.History); ok {
		ec.DirectAnswer = answer
		return finish(nil)
	}

	exec := o.opts.NewExecutor()
	defer func() {
		if err := exec.Close(); err != nil {
			o.log.Warn("close executor: %v", err)
		}
	}()

	system := toolSystemPrompt(sys)
	tools := []llm.Tool{runCommandTool()}
	messages := append(historyMessages(sys.History), llm.UserText(question))

	answered := false
	for !answered {
		verdict := budget.Check(ctx)
		if verdict == loop.Aborted {
			return finish(loop.Abort(ctx))
		}
		if verdict != loop.Continue {
			o.log.Debug("tool loop stopped: %s", verdict)
			break
		}

		iteration := budget.Iteration() + 1
		o.emit(progress.Event{Type: progress.IterationStart, Iteration: iteration})

		resp, err := o.client.CompleteWithRequest(ctx, o.request(system, messages, tools))
		if err != nil {
			if abortErr := loop.Abort(ctx); abortErr != nil {
				return finish(abortErr)
			}
			o.emit(progress.Event{Type: progress.Error, Iteration: iteration, Error: err.Error()})
			if ec.ToolCalls == 0 {
				o.log.Error("tool call request: %v", err)
				return finish(fmt.Errorf("%w: model %s: %v", ErrPlanning, o.client.GetModelName(), err))
			}
			o.log.Warn("tool call request failed, answering with collected data: %v", err)
			break
		}
		messages = append(messages, llm.Message{Role: llm.RoleAssistant, Content: resp.Content})

		uses := resp.ToolUses()
		if len(uses) == 0 {
			ec.Response = strings.TrimSpace(resp.Text())
			answered = true
		} else {
			blocks, err := o.handleToolUses(ctx, ec, exec, uses, iteration)
			if err != nil {
				return finish(err)
			}
			messages = append(messages, llm.Message{Role: llm.RoleUser, Content: blocks})
		}

		budget.Increment()
		o.emit(progress.Event{Type: progress.IterationComplete, Iteration: iteration})
	}

	if !answered {
		text, err := o.finalAnswer(ctx, system, messages, ec)
		if err != nil {
			return finish(err)
		}
		ec.Response = text
	}
	if ec.Response == "" {
		ec.Response = consts.MsgCouldNotAnswer
	}
	return finish(nil)
}

func (o *Orchestrator) handleToolUses(ctx context.Context, ec *ExecutionContext, exec Executor, uses []llm.ContentBlock, iteration int) ([]llm.ContentBlock, error) {
	blocks := make([]llm.ContentBlock, 0, len(uses))
	for _, use := range uses {
		if err := loop.Abort(ctx); err != nil {
			return nil, err
		}
		if use.Name != RunCommandToolName {
			blocks = append(blocks, llm.ToolResultBlock(use.ID, use.Name, fmt.Sprintf("unknown tool %q", use.Name), true))
			continue
		}

		var in runCommandInput
		if err := use.DecodeInput(&in); err != nil || strings.TrimSpace(in.Command) == "" {
			blocks = append(blocks, llm.ToolResultBlock(use.ID, use.Name, "invalid input: command is required", true))
			continue
		}
		if in.RestartSession {
			if err := exec.Restart(ctx); err != nil {
				o.log.Warn("restart session: %v", err)
			}
		}

		ec.ToolCalls++
		cr, err := o.runCommand(ctx, ec, exec, in.Command, iteration)
		if err != nil {
			return nil, err
		}
		blocks = append(blocks, toolResult(use, cr))
	}
	return blocks, nil
}

func toolResult(use llm.ContentBlock, cr CommandResult) llm.ContentBlock {
	if cr.Error != "" {
		return llm.ToolResultBlock(use.ID, use.Name, cr.Error, true)
	}
	out := cr.Output
	if out == "" {
		out = "(no output)"
	}
	return llm.ToolResultBlock(use.ID, use.Name, out, false)
}

// finalAnswer asks once more without tools when the budget ran out.
func (o *Orchestrator) finalAnswer(ctx context.Context, system string, messages []llm.Message, ec *ExecutionContext) (string, error) {
	if err := loop.Abort(ctx); err != nil {
		return "", err
	}
	prompt := finalAnswerPrompt
	if summary := memorySummary(ec.Memory); summary != "" {
		prompt += "\n\n" + summary
	}
	messages = append(messages, llm.UserText(prompt))
	resp, err := o.client.CompleteWithRequest(ctx, o.request(system, mergeTrailingUser(messages), nil))
	if err != nil {
		if abortErr := loop.Abort(ctx); abortErr != nil {
			return "", abortErr
		}
		o.log.Warn("final answer failed: %v", err)
		return consts.MsgCouldNotAnswer, nil
	}
	return strings.TrimSpace(resp.Text()), nil
}

// mergeTrailingUser folds consecutive user messages at the end into one, as
// some providers reject two user turns in a row.
func mergeTrailingUser(messages []llm.Message) []llm.Message {
	n := len(messages)
	if n < 2 || messages[n-1].Role != llm.RoleUser || messages[n-2].Role != llm.RoleUser {
		return messages
	}
	merged := llm.Message{
		Role:    llm.RoleUser,
		Content: append(append([]llm.ContentBlock{}, messages[n-2].Content...), messages[n-1].Content...),
	}
	return append(append([]llm.Message{}, messages[:n-2]...), merged)
}
