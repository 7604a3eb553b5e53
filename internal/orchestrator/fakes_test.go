package orchestrator

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/codefionn/sysask/internal/llm"
	"github.com/codefionn/sysask/internal/shell"
)

// scriptedClient answers each request through reply, recording requests.
type scriptedClient struct {
	mu       sync.Mutex
	requests []*llm.CompletionRequest
	tools    bool
	reply    func(call int, req *llm.CompletionRequest) (*llm.CompletionResponse, error)
}

func (c *scriptedClient) CompleteWithRequest(ctx context.Context, req *llm.CompletionRequest) (*llm.CompletionResponse, error) {
	c.mu.Lock()
	c.requests = append(c.requests, req)
	call := len(c.requests)
	c.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return c.reply(call, req)
}

func (c *scriptedClient) Complete(ctx context.Context, prompt string) (string, error) {
	resp, err := c.CompleteWithRequest(ctx, &llm.CompletionRequest{Messages: []llm.Message{llm.UserText(prompt)}})
	if err != nil {
		return "", err
	}
	return resp.Text(), nil
}

func (c *scriptedClient) GetModelName() string { return "scripted" }
func (c *scriptedClient) SupportsTools() bool  { return c.tools }

func (c *scriptedClient) calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.requests)
}

func (c *scriptedClient) request(i int) *llm.CompletionRequest {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.requests[i]
}

// sequence replies with texts in order and fails once they run out.
func sequence(texts ...string) func(int, *llm.CompletionRequest) (*llm.CompletionResponse, error) {
	return func(call int, _ *llm.CompletionRequest) (*llm.CompletionResponse, error) {
		if call > len(texts) {
			return nil, errors.New("unexpected model call")
		}
		return llm.TextResponse(texts[call-1]), nil
	}
}

// promptKind classifies planning-mode requests by their instructions.
func promptKind(req *llm.CompletionRequest) string {
	if req.SystemPrompt == synthesisSystemPrompt {
		return "synthesis"
	}
	prompt := lastUserText(req)
	switch {
	case strings.Contains(prompt, `{"isComplete"`):
		return "completion"
	case strings.Contains(prompt, "is not answered yet"):
		return "replan"
	default:
		return "plan"
	}
}

func lastUserText(req *llm.CompletionRequest) string {
	for i := len(req.Messages) - 1; i >= 0; i-- {
		m := req.Messages[i]
		if m.Role != llm.RoleUser {
			continue
		}
		var parts []string
		for _, b := range m.Content {
			if b.Type == llm.BlockText {
				parts = append(parts, b.Text)
			}
		}
		return strings.Join(parts, "\n")
	}
	return ""
}

type fakeResponse struct {
	out string
	err error
}

// fakeExecutor serves canned output per command.
type fakeExecutor struct {
	mu        sync.Mutex
	responses map[string]fakeResponse
	fallback  string
	executed  []string
	restarts  int
	closed    int
	onExecute func(command string)
}

func newFakeExecutor(outputs map[string]string) *fakeExecutor {
	f := &fakeExecutor{responses: make(map[string]fakeResponse)}
	for cmd, out := range outputs {
		f.responses[cmd] = fakeResponse{out: out}
	}
	return f
}

func (f *fakeExecutor) Execute(ctx context.Context, command string) (*shell.Result, error) {
	f.mu.Lock()
	f.executed = append(f.executed, command)
	resp, ok := f.responses[command]
	hook := f.onExecute
	f.mu.Unlock()

	if hook != nil {
		hook(command)
	}
	if !ok {
		resp = fakeResponse{out: f.fallback}
	}
	if resp.err != nil {
		return nil, resp.err
	}
	return &shell.Result{Stdout: resp.out, Combined: resp.out}, nil
}

func (f *fakeExecutor) Restart(context.Context) error {
	f.mu.Lock()
	f.restarts++
	f.mu.Unlock()
	return nil
}

func (f *fakeExecutor) Close() error {
	f.mu.Lock()
	f.closed++
	f.mu.Unlock()
	return nil
}

func (f *fakeExecutor) commands() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.executed...)
}

// factory returns f from every call and counts the calls.
func (f *fakeExecutor) factory(created *int) ExecutorFactory {
	return func() Executor {
		if created != nil {
			*created++
		}
		return f
	}
}
