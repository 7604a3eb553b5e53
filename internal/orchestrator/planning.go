package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/codefionn/sysask/internal/consts"
	"github.com/codefionn/sysask/internal/llm"
	"github.com/codefionn/sysask/internal/memory"
	"github.com/codefionn/sysask/internal/orchestrator/loop"
)

type planResponse struct {
	Commands     []string      `json:"commands"`
	UpdateMemory *memory.Patch `json:"updateMemory,omitempty"`
}

type completionResponse struct {
	IsComplete *bool  `json:"isComplete"`
	Reasoning  string `json:"reasoning,omitempty"`
}

type synthesisResponse struct {
	DirectAnswer string `json:"directAnswer"`
}

// initialPlan fails hard: there is nothing to fall back to yet.
func (o *Orchestrator) initialPlan(ctx context.Context, ec *ExecutionContext) ([]string, error) {
	text, err := o.ask(ctx, plannerSystemPrompt, initialPlanPrompt(ec))
	if err != nil {
		return nil, err
	}
	var plan planResponse
	if err := llm.ExtractJSON(text, &plan); err != nil {
		return nil, err
	}
	return cleanCommands(plan.Commands), nil
}

// checkCompletion asks whether the question is answered. Model and parse
// failures fall back to a local heuristic; only an abort is returned. The
// returned verdict always has IsComplete set.
func (o *Orchestrator) checkCompletion(ctx context.Context, ec *ExecutionContext) (completionResponse, error) {
	text, err := o.ask(ctx, plannerSystemPrompt, completionPrompt(ec))
	if err != nil {
		if loop.IsAborted(err) {
			return completionResponse{}, err
		}
		o.log.Warn("completion check failed, using heuristic: %v", err)
		return heuristicCompletion(ec.Memory), nil
	}

	resp, err := parseCompletion(text)
	if err != nil {
		o.log.Warn("completion check unparseable, using heuristic: %v", err)
		return heuristicCompletion(ec.Memory), nil
	}
	o.log.Debug("completion check: complete=%t reasoning=%q", *resp.IsComplete, resp.Reasoning)
	return *resp, nil
}

// heuristicCompletion treats a fully covered discovered list as done.
func heuristicCompletion(m *memory.WorkingMemory) completionResponse {
	if m.JailsCoverList() {
		return completionResponse{IsComplete: boolPtr(true), Reasoning: "every discovered item has data"}
	}
	return completionResponse{IsComplete: boolPtr(false), Reasoning: consts.MsgHeuristicPending}
}

var completionObject = regexp.MustCompile(`(?s)\{[^{}]*"?isComplete"?[^{}]*\}`)

// first words that mark a reply as a shell command rather than a verdict
var commandWords = map[string]bool{
	"sudo": true, "fail2ban-client": true, "systemctl": true, "journalctl": true,
	"docker": true, "ls": true, "cat": true, "grep": true, "ps": true, "df": true,
	"du": true, "free": true, "ip": true, "ss": true, "netstat": true, "uptime": true,
	"tail": true, "head": true, "find": true, "iptables": true, "nft": true,
}

func parseCompletion(text string) (*completionResponse, error) {
	stripped := strings.TrimSpace(llm.StripCodeFences(text))
	if looksLikeCommand(stripped) {
		return &completionResponse{
			IsComplete: boolPtr(false),
			Reasoning:  "model replied with a command instead of a verdict",
		}, nil
	}

	var resp completionResponse
	if span := completionObject.FindString(stripped); span != "" {
		if err := json.Unmarshal([]byte(span), &resp); err == nil && resp.IsComplete != nil {
			return &resp, nil
		}
	}
	if err := llm.ExtractJSON(text, &resp); err != nil {
		return nil, err
	}
	if resp.IsComplete == nil {
		return nil, fmt.Errorf("missing isComplete in %q", llm.TruncateForError(text, 120))
	}
	return &resp, nil
}

func looksLikeCommand(text string) bool {
	if strings.Contains(text, "{") {
		return false
	}
	text = strings.TrimPrefix(text, "$ ")
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return false
	}
	first := fields[0]
	return commandWords[first] || strings.HasPrefix(first, "/")
}

func boolPtr(b bool) *bool { return &b }

// replan asks for the next batch. Failures yield no commands, which ends the
// loop.
func (o *Orchestrator) replan(ctx context.Context, ec *ExecutionContext) ([]string, error) {
	text, err := o.ask(ctx, plannerSystemPrompt, replanPrompt(ec))
	if err != nil {
		if loop.IsAborted(err) {
			return nil, err
		}
		o.log.Warn("replan failed: %v", err)
		return nil, nil
	}

	var plan planResponse
	if err := llm.ExtractJSON(text, &plan); err != nil {
		o.log.Warn("replan unparseable: %v", err)
		return nil, nil
	}
	ec.Memory.Apply(plan.UpdateMemory)
	return cleanCommands(plan.Commands), nil
}

// synthesize produces the final answer. Only an abort is returned as error.
func (o *Orchestrator) synthesize(ctx context.Context, ec *ExecutionContext) (string, error) {
	if answer, ok := shortcutAnswer(ec.OriginalQuestion, ec.System.History); ok {
		return answer, nil
	}
	if len(ec.Results) == 0 {
		return consts.MsgNoCommandsRun, nil
	}

	text, err := o.ask(ctx, synthesisSystemPrompt, synthesisPrompt(ec))
	if err != nil {
		if loop.IsAborted(err) {
			return "", err
		}
		o.log.Warn("synthesis failed: %v", err)
		return consts.MsgCouldNotAnswer, nil
	}

	var resp synthesisResponse
	if err := llm.ExtractJSON(text, &resp); err != nil || strings.TrimSpace(resp.DirectAnswer) == "" {
		o.log.Warn("synthesis unparseable: %v", err)
		return consts.MsgCouldNotAnswer, nil
	}
	return strings.TrimSpace(resp.DirectAnswer), nil
}

func cleanCommands(cmds []string) []string {
	out := make([]string, 0, len(cmds))
	for _, c := range cmds {
		if c = strings.TrimSpace(c); c != "" {
			out = append(out, c)
		}
	}
	return out
}
