// Package shell runs commands in one long-lived shell process whose working
// directory and environment persist between invocations.
package shell

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/codefionn/sysask/internal/consts"
	"github.com/codefionn/sysask/internal/logger"
	"github.com/codefionn/sysask/internal/safety"
	"github.com/codefionn/sysask/internal/secretdetect"
)

var (
	// ErrTimeout is returned when a command's sentinels do not show up in time.
	// The shell keeps running; call Restart to discard its state.
	ErrTimeout = errors.New("command timed out")
	// ErrExited is returned when the shell process died while a command ran.
	ErrExited = errors.New("shell process exited")
)

// internal prompt; the shell runs non-interactively so it is never printed
const sessionPrompt = "__sysask_prompt__ "

// Options configures a Session.
type Options struct {
	Shell          string
	WorkingDir     string
	Env            map[string]string
	Timeout        time.Duration
	MaxOutputBytes int
	StartupGrace   time.Duration
	StopGrace      time.Duration
}

func (o *Options) withDefaults() Options {
	out := *o
	if out.Shell == "" {
		out.Shell = "/bin/bash"
	}
	if out.Timeout <= 0 {
		out.Timeout = consts.DefaultCommandTimeout
	}
	if out.MaxOutputBytes <= 0 {
		out.MaxOutputBytes = consts.DefaultMaxOutputBytes
	}
	if out.StartupGrace < 0 {
		out.StartupGrace = 0
	} else if out.StartupGrace == 0 {
		out.StartupGrace = consts.ShellStartupGrace
	}
	if out.StopGrace <= 0 {
		out.StopGrace = consts.ShellStopGrace
	}
	return out
}

// Result holds the three output views of one command. All views are sanitized.
type Result struct {
	Stdout    string
	Stderr    string
	Combined  string
	Truncated bool
	ExitCode  int
}

// Session owns one shell subprocess. Commands are serialized.
type Session struct {
	opts Options
	log  *logger.Logger

	execMu sync.Mutex // serializes Execute/Restart

	mu      sync.Mutex
	cmd     *exec.Cmd
	stdin   io.WriteCloser
	stdout  *capture
	stderr  *capture
	changed chan struct{}
	exited  chan struct{}

	seq atomic.Uint64
}

// NewSession creates a session. The process is spawned by Start or lazily by
// the first Execute.
func NewSession(opts Options) *Session {
	o := opts.withDefaults()
	return &Session{
		opts: o,
		log:  logger.Global().WithPrefix("shell"),
	}
}

// Running reports whether a shell process is alive.
func (s *Session) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runningLocked()
}

func (s *Session) runningLocked() bool {
	if s.cmd == nil {
		return false
	}
	select {
	case <-s.exited:
		return false
	default:
		return true
	}
}

// Start spawns the shell. Starting a running session is a no-op.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.startLocked(ctx)
}

func (s *Session) startLocked(ctx context.Context) error {
	if s.runningLocked() {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	cmd := exec.Command(s.opts.Shell, shellArgs(s.opts.Shell)...)
	cmd.Dir = s.opts.WorkingDir
	cmd.Env = mergeEnv(os.Environ(), s.opts.Env)
	configureProcessGroup(cmd)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start %s: %w", s.opts.Shell, err)
	}

	s.cmd = cmd
	s.stdin = stdin
	s.stdout = newCapture(s.opts.MaxOutputBytes)
	s.stderr = newCapture(s.opts.MaxOutputBytes)
	s.changed = make(chan struct{}, 1)
	s.exited = make(chan struct{})

	var g errgroup.Group
	g.Go(func() error { return s.pump(stdout, s.stdout) })
	g.Go(func() error { return s.pump(stderr, s.stderr) })

	exited := s.exited
	go func() {
		if err := g.Wait(); err != nil {
			s.log.Debug("reader stopped: %v", err)
		}
		_ = cmd.Wait()
		close(exited)
	}()

	s.log.Debug("started %s (pid %d) in %q", s.opts.Shell, cmd.Process.Pid, s.opts.WorkingDir)

	if grace := s.opts.StartupGrace; grace > 0 {
		s.mu.Unlock()
		select {
		case <-time.After(grace):
		case <-ctx.Done():
		}
		s.mu.Lock()
	}
	return nil
}

func (s *Session) pump(r io.Reader, c *capture) error {
	buf := make([]byte, consts.BufferSize64KB)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			s.mu.Lock()
			c.write(buf[:n])
			s.mu.Unlock()
			s.notify()
		}
		if err != nil {
			s.notify()
			if errors.Is(err, io.EOF) || errors.Is(err, os.ErrClosed) {
				return nil
			}
			return err
		}
	}
}

func (s *Session) notify() {
	s.mu.Lock()
	ch := s.changed
	s.mu.Unlock()
	select {
	case ch <- struct{}{}:
	default:
	}
}

// Execute validates and runs command, waiting until both sentinels appear.
// A blocked command fails with an error matching safety.ErrBlockedCommand
// and never reaches the shell.
func (s *Session) Execute(ctx context.Context, command string) (*Result, error) {
	if err := safety.Check(command); err != nil {
		s.log.Warn("refusing command %q: %v", command, err)
		return nil, err
	}

	s.execMu.Lock()
	defer s.execMu.Unlock()

	s.mu.Lock()
	if err := s.startLocked(ctx); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	marker := s.nextMarker()
	s.stdout.reset()
	s.stderr.reset()
	stdin, changed, exited := s.stdin, s.changed, s.exited
	s.mu.Unlock()

	script := wrapCommand(command, marker)
	if _, err := io.WriteString(stdin, script); err != nil {
		return nil, fmt.Errorf("write to shell: %w", err)
	}
	s.log.Debug("exec %q", command)

	timer := time.NewTimer(s.opts.Timeout)
	defer timer.Stop()

	for {
		if res, ok := s.collect(marker); ok {
			return res, nil
		}
		select {
		case <-changed:
		case <-exited:
			if res, ok := s.collect(marker); ok {
				return res, nil
			}
			return nil, ErrExited
		case <-timer.C:
			s.log.Warn("command %q timed out after %s", command, s.opts.Timeout)
			return nil, fmt.Errorf("%w after %s: %s", ErrTimeout, s.opts.Timeout, command)
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (s *Session) collect(marker string) (*Result, bool) {
	s.mu.Lock()
	out, outTrunc, outOK := s.stdout.cut(marker)
	errOut, errTrunc, errOK := s.stderr.cut(marker)
	exitCode := s.stdout.exitCodeAfter(marker)
	stdout, stderr := string(out), string(errOut)
	s.mu.Unlock()
	if !outOK || !errOK {
		return nil, false
	}

	res := &Result{
		Stdout:    secretdetect.Sanitize(strings.TrimSpace(stdout)),
		Stderr:    secretdetect.Sanitize(strings.TrimSpace(stderr)),
		Truncated: outTrunc || errTrunc,
		ExitCode:  exitCode,
	}

	combined := res.Stdout
	if res.Stderr != "" {
		if combined != "" {
			combined += "\n"
		}
		combined += res.Stderr
	}
	if len(combined) > s.opts.MaxOutputBytes {
		combined = truncateUTF8(combined, s.opts.MaxOutputBytes)
		res.Truncated = true
	}
	if res.Truncated {
		combined += consts.MsgOutputTruncated
	}
	res.Combined = combined
	return res, true
}

func (s *Session) nextMarker() string {
	return fmt.Sprintf("__SYSASK_END_%d_%d__", time.Now().UnixNano(), s.seq.Add(1))
}

// Restart stops the shell and starts a fresh one.
func (s *Session) Restart(ctx context.Context) error {
	s.execMu.Lock()
	defer s.execMu.Unlock()

	s.log.Debug("restarting session")
	if err := s.Stop(); err != nil {
		return err
	}
	return s.Start(ctx)
}

// Stop terminates the shell: SIGTERM, a short grace period, then SIGKILL.
// Stopping a stopped session is a no-op.
func (s *Session) Stop() error {
	s.mu.Lock()
	cmd, stdin, exited := s.cmd, s.stdin, s.exited
	s.cmd, s.stdin = nil, nil
	s.mu.Unlock()

	if cmd == nil {
		return nil
	}

	_ = stdin.Close()
	select {
	case <-exited:
		return nil
	default:
	}

	if err := terminate(cmd); err != nil {
		s.log.Debug("sigterm: %v", err)
	}
	select {
	case <-exited:
		s.log.Debug("stopped pid %d", cmd.Process.Pid)
		return nil
	case <-time.After(s.opts.StopGrace):
	}

	s.log.Warn("pid %d ignored SIGTERM, killing", cmd.Process.Pid)
	if err := kill(cmd); err != nil {
		return fmt.Errorf("kill shell: %w", err)
	}
	<-exited
	return nil
}

// Close is Stop, for use with defer and io.Closer.
func (s *Session) Close() error {
	return s.Stop()
}

// SanitizeOutput redacts credentials from text.
func SanitizeOutput(text string) string {
	return secretdetect.Sanitize(text)
}

// wrapCommand groups command with stdin detached, then appends the sentinel
// lines. The exit status follows the stdout marker.
func wrapCommand(command, marker string) string {
	var b strings.Builder
	b.WriteString("{ ")
	b.WriteString(command)
	b.WriteString("\n} </dev/null\n__sysask_rc=$?\n")
	fmt.Fprintf(&b, "printf '\\n%%s %%s\\n' '%s' \"$__sysask_rc\"\n", marker)
	fmt.Fprintf(&b, "printf '\\n%%s\\n' '%s' >&2\n", marker)
	return b.String()
}

func shellArgs(shell string) []string {
	switch filepath.Base(shell) {
	case "bash":
		return []string{"--noprofile", "--norc"}
	default:
		return nil
	}
}

func mergeEnv(base []string, extra map[string]string) []string {
	env := make([]string, 0, len(base)+len(extra)+2)
	for _, kv := range base {
		if strings.HasPrefix(kv, "PS1=") || strings.HasPrefix(kv, "PS2=") {
			continue
		}
		env = append(env, kv)
	}
	keys := make([]string, 0, len(extra))
	for k := range extra {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		env = append(env, k+"="+extra[k])
	}
	return append(env, "PS1="+sessionPrompt, "PS2=")
}
