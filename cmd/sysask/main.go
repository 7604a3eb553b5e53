package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"golang.org/x/term"

	"github.com/codefionn/sysask/internal/cli"
	"github.com/codefionn/sysask/internal/config"
	"github.com/codefionn/sysask/internal/history"
	"github.com/codefionn/sysask/internal/llm"
	"github.com/codefionn/sysask/internal/logger"
	"github.com/codefionn/sysask/internal/orchestrator"
	"github.com/codefionn/sysask/internal/patterns"
	"github.com/codefionn/sysask/internal/progress"
	"github.com/codefionn/sysask/internal/provider"
	"github.com/codefionn/sysask/internal/secrets"
	"github.com/codefionn/sysask/internal/sysinfo"
	"github.com/codefionn/sysask/internal/tui"
)

const maxPasswordAttempts = 3

type cliArgs struct {
	prompt        string
	model         string
	provider      string
	mode          string
	configPath    string
	maxIterations int
	noHistory     bool
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() (err error) {
	args, err := parseCLIArgs(os.Args[1:])
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil
		}
		return err
	}

	cfg, err := config.Load(args.configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	cfg.ApplyEnv(os.Getenv)
	applyFlags(cfg, args)
	if err := cfg.Validate(); err != nil {
		return err
	}

	if err := logger.Init(logger.ParseLevel(cfg.LogLevel), cfg.LogPath); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer func() {
		if err != nil {
			logger.Error("Fatal error: %v", err)
		}
		if closeErr := logger.Global().Close(); closeErr != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to close logger: %v\n", closeErr)
		}
	}()
	logger.Info("sysask starting")
	logger.Debug("Configuration loaded: mode=%s provider=%q model=%q", cfg.Mode, cfg.Provider, cfg.Model)

	if err := unlockSecrets(cfg); err != nil {
		return fmt.Errorf("failed to unlock API keys: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client, err := provider.NewClient(ctx, cfg, os.Getenv)
	if err != nil {
		return err
	}
	logger.Info("using model %s", client.GetModelName())

	matcher, err := patterns.Load(cfg.PatternsPath)
	if err != nil {
		return fmt.Errorf("failed to load error patterns: %w", err)
	}

	var store history.Store
	if !args.noHistory {
		sqlite, err := history.OpenSQLite(cfg.HistoryDB)
		if err != nil {
			logger.Warn("history disabled: %v", err)
		} else {
			store = sqlite
			defer sqlite.Close()
		}
	}

	baseOpts := orchestrator.OptionsFromConfig(cfg)
	baseOpts.Patterns = matcher
	sys := sysinfo.Detect()

	oneShot := args.prompt != "" || !term.IsTerminal(int(os.Stdin.Fd()))
	if oneShot {
		return runCLI(ctx, cfg, client, baseOpts, store, sys, args.prompt)
	}
	return runTUI(cfg, client, baseOpts, store, sys)
}

func runCLI(ctx context.Context, cfg *config.Config, client llm.Client, opts orchestrator.Options, store history.Store, sys sysinfo.Info, prompt string) error {
	if prompt == "" {
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return fmt.Errorf("failed to read question from stdin: %w", err)
		}
		prompt = strings.TrimSpace(string(data))
	}
	logger.Info("Running in CLI mode")

	opts.Progress = cli.Progress(os.Stderr)
	orch := orchestrator.New(client, opts)

	width := 80
	markdown := term.IsTerminal(int(os.Stdout.Fd()))
	if markdown {
		if w, _, err := term.GetSize(int(os.Stdout.Fd())); err == nil && w > 0 {
			width = w
		}
	}

	runner := cli.New(orch, cli.Options{
		History:      store,
		HistoryLimit: cfg.HistoryLimit,
		System:       sys,
		Markdown:     markdown,
		Width:        width,
	})
	_, err := runner.Run(ctx, prompt)
	return err
}

func runTUI(cfg *config.Config, client llm.Client, opts orchestrator.Options, store history.Store, sys sysinfo.Info) error {
	logger.Info("Running in TUI mode")
	ask := func(ctx context.Context, question string, sc orchestrator.SystemContext, cb progress.Callback) *orchestrator.Result {
		runOpts := opts
		runOpts.Progress = cb
		return orchestrator.New(client, runOpts).Run(ctx, question, sc)
	}
	return tui.Run(tui.Options{
		Ask:          ask,
		ModelName:    client.GetModelName(),
		System:       sys,
		History:      store,
		HistoryLimit: cfg.HistoryLimit,
	})
}

func parseCLIArgs(argv []string) (cliArgs, error) {
	fs := flag.NewFlagSet("sysask", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	var args cliArgs
	fs.StringVar(&args.prompt, "prompt", "", "Question to answer non-interactively")
	fs.StringVar(&args.prompt, "p", "", "Shorthand for --prompt")
	fs.StringVar(&args.model, "model", "", "Model to use (e.g., claude-sonnet-4-5, gpt-4.1-mini, gemini-2.0-flash)")
	fs.StringVar(&args.provider, "provider", "", "Provider name (anthropic, openai, google)")
	fs.StringVar(&args.mode, "mode", "", "Orchestration mode: plan, tools or auto")
	fs.StringVar(&args.configPath, "config", config.GetConfigPath(), "Path to the config file")
	fs.IntVar(&args.maxIterations, "max-iterations", 0, "Maximum number of commands per question")
	fs.BoolVar(&args.noHistory, "no-history", false, "Do not read or write conversation history")
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "Usage: %s [options] [question]\n\n", fs.Name())
		fmt.Fprintln(fs.Output(), "Without a question and with a terminal on stdin, an interactive chat starts.")
		fmt.Fprintln(fs.Output(), "\nOptions:")
		fs.PrintDefaults()
	}

	if err := fs.Parse(argv); err != nil {
		return cliArgs{}, err
	}
	if rest := strings.TrimSpace(strings.Join(fs.Args(), " ")); rest != "" {
		if args.prompt != "" {
			return cliArgs{}, fmt.Errorf("question given twice (flag and argument)")
		}
		args.prompt = rest
	}
	if args.maxIterations < 0 {
		return cliArgs{}, fmt.Errorf("--max-iterations must not be negative")
	}
	return args, nil
}

func applyFlags(cfg *config.Config, args cliArgs) {
	if args.model != "" {
		cfg.Model = args.model
	}
	if args.provider != "" {
		cfg.Provider = strings.ToLower(args.provider)
	}
	if args.mode != "" {
		cfg.Mode = strings.ToLower(args.mode)
	}
	if args.maxIterations > 0 {
		cfg.MaxIterations = args.maxIterations
	}
}

// unlockSecrets decrypts stored API keys with SYSASK_SECRETS_PASSWORD or an
// interactive prompt.
func unlockSecrets(cfg *config.Config) error {
	if !cfg.HasEncryptedKeys() {
		return cfg.ApplySecretsPassword("")
	}
	if pw := os.Getenv("SYSASK_SECRETS_PASSWORD"); pw != "" {
		return cfg.ApplySecretsPassword(pw)
	}
	for attempt := 0; attempt < maxPasswordAttempts; attempt++ {
		pw, err := promptForPassword("Enter encryption password: ")
		if err != nil {
			return err
		}
		if err := cfg.ApplySecretsPassword(pw); err != nil {
			if errors.Is(err, secrets.ErrInvalidPassword) {
				fmt.Fprintln(os.Stderr, "Invalid password, try again.")
				continue
			}
			return err
		}
		return nil
	}
	return errors.New("too many invalid password attempts")
}

func promptForPassword(prompt string) (string, error) {
	fd := int(os.Stdin.Fd())
	fmt.Fprint(os.Stderr, prompt)

	if term.IsTerminal(fd) {
		bytes, err := term.ReadPassword(fd)
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return "", err
		}
		return strings.TrimSpace(string(bytes)), nil
	}

	reader := bufio.NewReader(os.Stdin)
	line, err := reader.ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	return strings.TrimSpace(line), nil
}
