package consts

import "time"

// Orchestration budgets
const (
	// DefaultMaxIterations caps the number of dequeue-and-execute operations per question
	DefaultMaxIterations = 10
	// DefaultMaxExecutionTime is the wall-clock budget of one orchestration turn
	DefaultMaxExecutionTime = 60 * time.Second
)

// Shell session limits
const (
	// DefaultCommandTimeout is how long a single command may run before
	// its sentinels are given up on
	DefaultCommandTimeout = 30 * time.Second
	// DefaultMaxOutputBytes is the size cap of the combined output view
	DefaultMaxOutputBytes = 100_000
	// ShellStartupGrace is the pause after spawning the shell before the first command
	ShellStartupGrace = 100 * time.Millisecond
	// ShellStopGrace is how long Stop waits after SIGTERM before SIGKILL
	ShellStopGrace = 2 * time.Second
	// RawSnapshotChars is the length of the raw output snapshot kept in working memory
	RawSnapshotChars = 500
)

// Buffer sizes for various operations
const (
	// BufferSize64KB is 64 kilobytes
	BufferSize64KB = 64 * 1024
)

// LLM default configurations
const (
	// DefaultMaxTokens is the default maximum tokens for LLM responses
	DefaultMaxTokens = 2048
	// DefaultTemperature keeps planning output close to deterministic
	DefaultTemperature = 0.2
	// DefaultHistoryLimit is how many past exchanges are loaded into the system context
	DefaultHistoryLimit = 10
)

// User-visible fixed messages
const (
	MsgBlockedCommand   = "Comando bloqueado por segurança"
	MsgRequestAborted   = "Request aborted"
	MsgNoCommandsRun    = "Nenhum comando foi executado, então não há dados para responder a esta pergunta."
	MsgCouldNotAnswer   = "Não foi possível sintetizar uma resposta a partir dos dados coletados."
	MsgOutputTruncated  = "... [output truncated]"
	MsgRedacted         = "[REDACTED]"
	MsgHeuristicPending = "Ainda faltam dados para responder completamente."
)
