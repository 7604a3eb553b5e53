package orchestrator

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codefionn/sysask/internal/config"
	"github.com/codefionn/sysask/internal/consts"
	"github.com/codefionn/sysask/internal/llm"
	"github.com/codefionn/sysask/internal/orchestrator/loop"
	"github.com/codefionn/sysask/internal/progress"
	"github.com/codefionn/sysask/internal/shell"
)

const (
	jailListOutput = "Status\n|- Number of jail:\t2\n`- Jail list:\tsshd, apache"
	sshdOutput     = "Status for the jail: sshd\n|- Filter\n|  `- Currently failed:\t1\n`- Actions\n   |- Currently banned:\t2\n   |- Total banned:\t2\n   `- Banned IP list:\t203.0.113.5 198.51.100.7"
	apacheOutput   = "Status for the jail: apache\n`- Actions\n   |- Currently banned:\t1\n   |- Total banned:\t1\n   `- Banned IP list:\t192.0.2.44"
)

var testSystem = SystemContext{OS: "linux", Distro: "Debian GNU/Linux 12"}

func newTestOrchestrator(client llm.Client, exec *fakeExecutor, opts Options) *Orchestrator {
	opts.NewExecutor = exec.factory(nil)
	return New(client, opts)
}

func TestShortcutAnswersFromHistory(t *testing.T) {
	client := &scriptedClient{reply: sequence()}
	exec := newFakeExecutor(nil)
	created := 0
	o := New(client, Options{NewExecutor: exec.factory(&created)})

	sys := testSystem
	sys.History = []Message{{Role: "user", Content: "deploy the app"}}
	res := o.Run(context.Background(), "o que eu disse antes?", sys)

	require.True(t, res.Success, res.Error)
	assert.Contains(t, res.DirectAnswer, "deploy the app")
	assert.Zero(t, client.calls())
	assert.Zero(t, created)
	assert.Empty(t, exec.commands())
}

func TestAbortBeforeAnyCall(t *testing.T) {
	client := &scriptedClient{reply: sequence(`{"commands":["uptime"]}`)}
	exec := newFakeExecutor(nil)
	o := newTestOrchestrator(client, exec, Options{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res := o.Run(ctx, "how long is the uptime?", testSystem)

	assert.False(t, res.Success)
	assert.True(t, res.Aborted)
	assert.Equal(t, consts.MsgRequestAborted, res.Error)
	assert.Zero(t, client.calls())
	assert.Empty(t, exec.commands())
	assert.Equal(t, 1, exec.closed)
}

func TestOrchestrateExecutionAbortError(t *testing.T) {
	client := &scriptedClient{reply: sequence()}
	o := newTestOrchestrator(client, newFakeExecutor(nil), Options{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := o.OrchestrateExecution(ctx, "disk usage?", testSystem)
	require.Error(t, err)
	assert.True(t, errors.Is(err, loop.ErrAborted))
	assert.False(t, errors.Is(err, ErrPlanning))
}

func TestPlanningFailure(t *testing.T) {
	client := &scriptedClient{reply: func(int, *llm.CompletionRequest) (*llm.CompletionResponse, error) {
		return nil, errors.New("dial tcp: network unreachable")
	}}
	exec := newFakeExecutor(nil)
	o := newTestOrchestrator(client, exec, Options{})

	res := o.Run(context.Background(), "quantos IPs estão bloqueados?", testSystem)

	assert.False(t, res.Success)
	assert.False(t, res.Aborted)
	assert.Contains(t, res.Error, "network unreachable")
	assert.NotNil(t, res.ExecutedCommands)
	assert.Empty(t, res.ExecutedCommands)
	assert.NotNil(t, res.Results)
	assert.Empty(t, res.Results)
	assert.Empty(t, res.DirectAnswer)
	assert.Equal(t, 1, client.calls(), "no synthesis after a failed plan")
}

func TestPlanningParseFailure(t *testing.T) {
	client := &scriptedClient{reply: sequence("I would run uptime")}
	o := newTestOrchestrator(client, newFakeExecutor(nil), Options{})

	_, err := o.OrchestrateExecution(context.Background(), "uptime?", testSystem)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrPlanning))
}

func TestFail2banScenario(t *testing.T) {
	exec := newFakeExecutor(map[string]string{
		"sudo fail2ban-client status":        jailListOutput,
		"sudo fail2ban-client status sshd":   sshdOutput,
		"sudo fail2ban-client status apache": apacheOutput,
	})

	completions := 0
	client := &scriptedClient{}
	client.reply = func(call int, req *llm.CompletionRequest) (*llm.CompletionResponse, error) {
		switch promptKind(req) {
		case "plan":
			return llm.TextResponse("```json\n{\"commands\": [\"sudo fail2ban-client status\"]}\n```"), nil
		case "completion":
			completions++
			if completions == 1 {
				return llm.TextResponse(`{"isComplete": false, "reasoning": "need per-jail detail"}`), nil
			}
			return llm.TextResponse(`{"isComplete": true}`), nil
		case "replan":
			prompt := lastUserText(req)
			if !strings.Contains(prompt, "sudo fail2ban-client status sshd") || !strings.Contains(prompt, "sudo fail2ban-client status apache") {
				return nil, errors.New("replan prompt lacks the iteration hint")
			}
			return llm.TextResponse(`{"commands": ["sudo fail2ban-client status sshd", "sudo fail2ban-client status apache"], "updateMemory": {"hypothesis": "two jails"}}`), nil
		default:
			prompt := lastUserText(req)
			if !strings.Contains(prompt, `"sshd"`) || !strings.Contains(prompt, `"count": 2`) {
				return nil, errors.New("synthesis prompt lacks jail data")
			}
			return llm.TextResponse(`{"directAnswer": "3 IPs bloqueados: sshd tem 2 e apache tem 1."}`), nil
		}
	}

	var rec progress.Recorder
	o := newTestOrchestrator(client, exec, Options{Progress: rec.Callback()})
	ec, err := o.OrchestrateExecution(context.Background(), "quantos IPs estão bloqueados no fail2ban?", testSystem)
	require.NoError(t, err)

	assert.Equal(t, []string{"sshd", "apache"}, ec.Memory.Discovered.Lists)
	assert.Equal(t, 2, ec.Memory.Discovered.Entities["total_jails"])
	assert.Equal(t, 2, ec.Memory.DataExtracted.Jails["sshd"].Count)
	assert.Equal(t, []string{"203.0.113.5", "198.51.100.7"}, ec.Memory.DataExtracted.Jails["sshd"].IPs)
	assert.Equal(t, 1, ec.Memory.DataExtracted.Jails["apache"].Count)
	assert.Equal(t, "two jails", ec.Memory.Hypothesis)
	assert.Equal(t, []string{
		"sudo fail2ban-client status",
		"sudo fail2ban-client status sshd",
		"sudo fail2ban-client status apache",
	}, ec.ExecutedCommands)
	assert.Equal(t, 3, ec.Iteration())
	assert.True(t, ec.IsComplete)
	assert.Contains(t, ec.DirectAnswer, "sshd")
	assert.Contains(t, ec.DirectAnswer, "apache")
	assert.Len(t, rec.Events(), 12)
	assert.Equal(t, progress.IterationStart, rec.Types()[0])
}

func TestBlockedCommandIsSkipped(t *testing.T) {
	exec := newFakeExecutor(map[string]string{"uptime": "up 3 days"})
	client := &scriptedClient{}
	client.reply = func(call int, req *llm.CompletionRequest) (*llm.CompletionResponse, error) {
		switch promptKind(req) {
		case "plan":
			return llm.TextResponse(`{"commands": ["sudo rm -rf /", "uptime"]}`), nil
		case "completion":
			return llm.TextResponse(`{"isComplete": true}`), nil
		case "synthesis":
			return llm.TextResponse(`{"directAnswer": "up 3 days"}`), nil
		}
		return nil, errors.New("unexpected replan")
	}
	o := newTestOrchestrator(client, exec, Options{})

	res := o.Run(context.Background(), "uptime?", testSystem)
	require.True(t, res.Success, res.Error)
	require.Len(t, res.Results, 2)
	assert.Equal(t, CommandResult{Command: "sudo rm -rf /", Error: "Comando bloqueado por segurança", Skipped: true}, res.Results[0])
	assert.Equal(t, "up 3 days", res.Results[1].Output)
	assert.Equal(t, []string{"uptime"}, exec.commands())
	assert.Equal(t, "up 3 days", res.DirectAnswer)
}

func TestIterationCap(t *testing.T) {
	exec := newFakeExecutor(nil)
	exec.fallback = "ok"
	client := &scriptedClient{}
	client.reply = func(call int, req *llm.CompletionRequest) (*llm.CompletionResponse, error) {
		switch promptKind(req) {
		case "completion":
			return llm.TextResponse(`{"isComplete": false}`), nil
		case "synthesis":
			return llm.TextResponse(`{"directAnswer": "partial"}`), nil
		default:
			return llm.TextResponse(`{"commands": ["echo 1", "echo 2", "echo 3"]}`), nil
		}
	}
	o := newTestOrchestrator(client, exec, Options{MaxIterations: 4})

	res := o.Run(context.Background(), "loop forever", testSystem)
	require.True(t, res.Success, res.Error)
	assert.Len(t, exec.commands(), 4)
	assert.Equal(t, 4, res.Iterations)
	assert.Equal(t, "partial", res.DirectAnswer)
	assert.Equal(t, "synthesis", promptKind(client.request(client.calls()-1)))
}

func TestDeadlineProceedsToSynthesis(t *testing.T) {
	now := time.Unix(0, 0)
	clock := func() time.Time { return now }

	exec := newFakeExecutor(nil)
	exec.fallback = "ok"
	exec.onExecute = func(string) { now = now.Add(time.Minute) }

	client := &scriptedClient{}
	client.reply = func(call int, req *llm.CompletionRequest) (*llm.CompletionResponse, error) {
		if promptKind(req) == "synthesis" {
			return llm.TextResponse(`{"directAnswer": "partial data"}`), nil
		}
		return llm.TextResponse(`{"commands": ["a", "b", "c", "d"]}`), nil
	}
	o := newTestOrchestrator(client, exec, Options{MaxExecutionTime: 90 * time.Second, Now: clock})

	res := o.Run(context.Background(), "slow", testSystem)
	require.True(t, res.Success, res.Error)
	assert.Equal(t, []string{"a", "b"}, exec.commands())
	assert.Equal(t, "partial data", res.DirectAnswer)
}

func TestAbortDuringExecution(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	exec := newFakeExecutor(nil)
	exec.onExecute = func(string) { cancel() }
	client := &scriptedClient{reply: sequence(`{"commands": ["a", "b"]}`)}
	o := newTestOrchestrator(client, exec, Options{})

	res := o.Run(ctx, "anything", testSystem)
	assert.False(t, res.Success)
	assert.True(t, res.Aborted)
	assert.Equal(t, []string{"a"}, exec.commands())
	assert.Equal(t, 1, client.calls())
	assert.Equal(t, 1, exec.closed)
}

func TestTimeoutContinues(t *testing.T) {
	exec := newFakeExecutor(map[string]string{"uptime": "up"})
	exec.responses["sleep 100"] = fakeResponse{err: shell.ErrTimeout}

	client := &scriptedClient{}
	client.reply = func(call int, req *llm.CompletionRequest) (*llm.CompletionResponse, error) {
		switch promptKind(req) {
		case "plan":
			return llm.TextResponse(`{"commands": ["sleep 100", "uptime"]}`), nil
		case "completion":
			return llm.TextResponse(`{"isComplete": true}`), nil
		default:
			return llm.TextResponse(`{"directAnswer": "done"}`), nil
		}
	}
	var rec progress.Recorder
	o := newTestOrchestrator(client, exec, Options{Progress: rec.Callback()})

	res := o.Run(context.Background(), "q", testSystem)
	require.True(t, res.Success, res.Error)
	require.Len(t, res.Results, 2)
	assert.Equal(t, shell.ErrTimeout.Error(), res.Results[0].Error)
	assert.Equal(t, "up", res.Results[1].Output)
	assert.Equal(t, 1, exec.restarts)
	assert.Contains(t, rec.Types(), progress.Timeout)
}

func TestCompletionFallsBackToHeuristic(t *testing.T) {
	exec := newFakeExecutor(map[string]string{
		"fail2ban-client status":      "`- Jail list:\tsshd",
		"fail2ban-client status sshd": sshdOutput,
	})
	client := &scriptedClient{}
	client.reply = func(call int, req *llm.CompletionRequest) (*llm.CompletionResponse, error) {
		switch promptKind(req) {
		case "plan":
			return llm.TextResponse(`{"commands": ["fail2ban-client status", "fail2ban-client status sshd"]}`), nil
		case "completion":
			return llm.TextResponse("I think we are done"), nil
		case "synthesis":
			return llm.TextResponse(`{"directAnswer": "sshd: 2"}`), nil
		}
		return nil, errors.New("replan must not run when the heuristic says complete")
	}
	o := newTestOrchestrator(client, exec, Options{})

	ec, err := o.OrchestrateExecution(context.Background(), "fail2ban?", testSystem)
	require.NoError(t, err)
	assert.True(t, ec.IsComplete)
	assert.Equal(t, "sshd: 2", ec.DirectAnswer)
}

func TestHeuristicReasoningReachesReplan(t *testing.T) {
	exec := newFakeExecutor(map[string]string{
		"fail2ban-client status 2>&1": jailListOutput,
	})
	exec.fallback = sshdOutput
	var replanPrompts []string
	client := &scriptedClient{}
	client.reply = func(call int, req *llm.CompletionRequest) (*llm.CompletionResponse, error) {
		switch promptKind(req) {
		case "plan":
			return llm.TextResponse(`{"commands": ["fail2ban-client status 2>&1"]}`), nil
		case "completion":
			return nil, errors.New("overloaded")
		case "replan":
			replanPrompts = append(replanPrompts, lastUserText(req))
			return llm.TextResponse(`{"commands": []}`), nil
		}
		return llm.TextResponse(`{"directAnswer": "partial"}`), nil
	}
	o := newTestOrchestrator(client, exec, Options{})

	ec, err := o.OrchestrateExecution(context.Background(), "quantos IPs estão bloqueados no fail2ban?", testSystem)
	require.NoError(t, err)
	assert.Equal(t, []string{"sshd", "apache"}, ec.Memory.Discovered.Lists)
	assert.Equal(t, consts.MsgHeuristicPending, ec.Reasoning)
	require.Len(t, replanPrompts, 1)
	assert.Contains(t, replanPrompts[0], consts.MsgHeuristicPending)
	assert.Contains(t, replanPrompts[0], "sudo fail2ban-client status sshd")
}

func TestCompletionRejectsRawCommand(t *testing.T) {
	exec := newFakeExecutor(nil)
	exec.fallback = "x"
	replans := 0
	client := &scriptedClient{}
	client.reply = func(call int, req *llm.CompletionRequest) (*llm.CompletionResponse, error) {
		switch promptKind(req) {
		case "plan":
			return llm.TextResponse(`{"commands": ["uptime"]}`), nil
		case "completion":
			return llm.TextResponse("systemctl status nginx"), nil
		case "replan":
			replans++
			return llm.TextResponse(`{"commands": []}`), nil
		}
		return llm.TextResponse(`{"directAnswer": "ok"}`), nil
	}
	o := newTestOrchestrator(client, exec, Options{})

	res := o.Run(context.Background(), "nginx?", testSystem)
	require.True(t, res.Success, res.Error)
	assert.Equal(t, 1, replans)
	assert.Equal(t, "ok", res.DirectAnswer)
}

func TestReplanFailureEndsLoop(t *testing.T) {
	exec := newFakeExecutor(nil)
	exec.fallback = "x"
	client := &scriptedClient{}
	client.reply = func(call int, req *llm.CompletionRequest) (*llm.CompletionResponse, error) {
		switch promptKind(req) {
		case "plan":
			return llm.TextResponse(`{"commands": ["uptime"]}`), nil
		case "completion":
			return llm.TextResponse(`{"isComplete": false}`), nil
		case "replan":
			return nil, errors.New("rate limited")
		}
		return llm.TextResponse(`{"directAnswer": "best effort"}`), nil
	}
	o := newTestOrchestrator(client, exec, Options{})

	res := o.Run(context.Background(), "q", testSystem)
	require.True(t, res.Success, res.Error)
	assert.Equal(t, []string{"uptime"}, exec.commands())
	assert.Equal(t, "best effort", res.DirectAnswer)
}

func TestSynthesisFailureDegrades(t *testing.T) {
	exec := newFakeExecutor(nil)
	exec.fallback = "x"
	client := &scriptedClient{}
	client.reply = func(call int, req *llm.CompletionRequest) (*llm.CompletionResponse, error) {
		switch promptKind(req) {
		case "plan":
			return llm.TextResponse(`{"commands": ["uptime"]}`), nil
		case "completion":
			return llm.TextResponse(`{"isComplete": true}`), nil
		}
		return llm.TextResponse("not json at all"), nil
	}
	o := newTestOrchestrator(client, exec, Options{})

	res := o.Run(context.Background(), "q", testSystem)
	require.True(t, res.Success, res.Error)
	assert.Equal(t, consts.MsgCouldNotAnswer, res.DirectAnswer)
}

func TestEmptyPlanAnswersWithoutData(t *testing.T) {
	client := &scriptedClient{}
	client.reply = func(call int, req *llm.CompletionRequest) (*llm.CompletionResponse, error) {
		switch promptKind(req) {
		case "plan":
			return llm.TextResponse(`{"commands": []}`), nil
		case "completion":
			return llm.TextResponse(`{"isComplete": true}`), nil
		}
		return nil, errors.New("synthesis must not call the model without results")
	}
	o := newTestOrchestrator(client, newFakeExecutor(nil), Options{})

	res := o.Run(context.Background(), "q", testSystem)
	require.True(t, res.Success, res.Error)
	assert.Equal(t, consts.MsgNoCommandsRun, res.DirectAnswer)
	assert.Equal(t, 2, client.calls())
}

func TestKnownIssuesRecorded(t *testing.T) {
	exec := newFakeExecutor(map[string]string{
		"docker ps": "Cannot connect to the Docker daemon at unix:///var/run/docker.sock. Is the docker daemon running?",
	})
	client := &scriptedClient{}
	client.reply = func(call int, req *llm.CompletionRequest) (*llm.CompletionResponse, error) {
		switch promptKind(req) {
		case "plan":
			return llm.TextResponse(`{"commands": ["docker ps"]}`), nil
		case "completion":
			return llm.TextResponse(`{"isComplete": true}`), nil
		}
		if !strings.Contains(lastUserText(req), "Known issues") {
			return nil, errors.New("synthesis prompt lacks known issues")
		}
		return llm.TextResponse(`{"directAnswer": "docker is down"}`), nil
	}
	o := newTestOrchestrator(client, exec, Options{})

	ec, err := o.OrchestrateExecution(context.Background(), "containers?", testSystem)
	require.NoError(t, err)
	require.Len(t, ec.Memory.KnownIssues, 1)
	assert.Equal(t, "docker-daemon-down", ec.Memory.KnownIssues[0].ID)
	assert.Equal(t, "docker is down", ec.DirectAnswer)
}

func TestModeSelection(t *testing.T) {
	tests := []struct {
		mode  string
		tools bool
		want  bool
	}{
		{config.ModePlan, true, false},
		{config.ModeTools, true, true},
		{config.ModeTools, false, false},
		{config.ModeAuto, true, true},
		{config.ModeAuto, false, false},
	}
	for _, tt := range tests {
		t.Run(tt.mode, func(t *testing.T) {
			o := New(&scriptedClient{tools: tt.tools}, Options{Mode: tt.mode})
			assert.Equal(t, tt.want, o.UsesTools())
		})
	}
}

func TestOptionsFromConfig(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.MaxIterations = 3
	cfg.Mode = config.ModeAuto

	opts := OptionsFromConfig(cfg)
	assert.Equal(t, 3, opts.MaxIterations)
	assert.Equal(t, config.ModeAuto, opts.Mode)
	assert.Equal(t, cfg.MaxExecutionTime(), opts.MaxExecutionTime)
	assert.Equal(t, cfg.CommandTimeout(), opts.Shell.Timeout)
	assert.Equal(t, cfg.Shell, opts.Shell.Shell)
}
