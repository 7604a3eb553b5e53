package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/codefionn/sysask/internal/consts"
	"github.com/codefionn/sysask/internal/secrets"
)

const appName = "sysask"

// Orchestration modes
const (
	ModePlan  = "plan"
	ModeTools = "tools"
	ModeAuto  = "auto"
)

// Config represents application configuration
type Config struct {
	Provider    string            `json:"provider"` // "anthropic", "openai", "google" or "" for auto
	Model       string            `json:"model"`
	APIKeys     map[string]string `json:"api_keys,omitempty"` // may hold "enc:" values
	Temperature float64           `json:"temperature"`
	MaxTokens   int               `json:"max_tokens"`

	Mode               string `json:"mode"` // plan, tools, auto
	MaxIterations      int    `json:"max_iterations"`
	MaxExecutionTimeMs int    `json:"max_execution_time_ms"`
	CommandTimeoutMs   int    `json:"command_timeout_ms"`
	MaxOutputBytes     int    `json:"max_output_bytes"`

	Shell      string            `json:"shell"`
	WorkingDir string            `json:"working_dir"`
	Env        map[string]string `json:"env,omitempty"`

	HistoryDB    string `json:"history_db"`
	HistoryLimit int    `json:"history_limit"`
	PatternsPath string `json:"patterns_path,omitempty"`

	LogLevel string `json:"log_level"` // debug, info, warn, error, none
	LogPath  string `json:"-"`

	secretsPassword string
}

func defaultConfigDir() string {
	if configHome := strings.TrimSpace(os.Getenv("XDG_CONFIG_HOME")); configHome != "" {
		return filepath.Join(configHome, appName)
	}
	homeDir, _ := os.UserHomeDir()
	return filepath.Join(homeDir, ".config", appName)
}

func defaultStateDir() string {
	if stateHome := strings.TrimSpace(os.Getenv("XDG_STATE_HOME")); stateHome != "" {
		return filepath.Join(stateHome, appName)
	}
	homeDir, _ := os.UserHomeDir()
	return filepath.Join(homeDir, ".local", "state", appName)
}

// DefaultConfig returns default configuration
func DefaultConfig() *Config {
	stateDir := defaultStateDir()

	return &Config{
		APIKeys:            make(map[string]string),
		Temperature:        consts.DefaultTemperature,
		MaxTokens:          consts.DefaultMaxTokens,
		Mode:               ModePlan,
		MaxIterations:      consts.DefaultMaxIterations,
		MaxExecutionTimeMs: int(consts.DefaultMaxExecutionTime / time.Millisecond),
		CommandTimeoutMs:   int(consts.DefaultCommandTimeout / time.Millisecond),
		MaxOutputBytes:     consts.DefaultMaxOutputBytes,
		Shell:              "/bin/bash",
		WorkingDir:         ".",
		Env:                make(map[string]string),
		HistoryDB:          filepath.Join(stateDir, "history.db"),
		HistoryLimit:       consts.DefaultHistoryLimit,
		LogLevel:           "info",
		LogPath:            filepath.Join(stateDir, appName+".log"),
	}
}

// Load loads configuration from file. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, err
	}

	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	cfg.fillDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) fillDefaults() {
	def := DefaultConfig()
	if c.APIKeys == nil {
		c.APIKeys = make(map[string]string)
	}
	if c.Env == nil {
		c.Env = make(map[string]string)
	}
	if c.Mode == "" {
		c.Mode = def.Mode
	}
	if c.MaxIterations <= 0 {
		c.MaxIterations = def.MaxIterations
	}
	if c.MaxExecutionTimeMs <= 0 {
		c.MaxExecutionTimeMs = def.MaxExecutionTimeMs
	}
	if c.CommandTimeoutMs <= 0 {
		c.CommandTimeoutMs = def.CommandTimeoutMs
	}
	if c.MaxOutputBytes <= 0 {
		c.MaxOutputBytes = def.MaxOutputBytes
	}
	if c.MaxTokens <= 0 {
		c.MaxTokens = def.MaxTokens
	}
	if c.Shell == "" {
		c.Shell = def.Shell
	}
	if c.WorkingDir == "" {
		c.WorkingDir = def.WorkingDir
	}
	if c.HistoryDB == "" {
		c.HistoryDB = def.HistoryDB
	}
	if c.HistoryLimit < 0 {
		c.HistoryLimit = def.HistoryLimit
	}
	if c.LogLevel == "" {
		c.LogLevel = def.LogLevel
	}
	if c.LogPath == "" {
		c.LogPath = def.LogPath
	}
}

// Validate rejects values the orchestrator cannot work with.
func (c *Config) Validate() error {
	switch c.Mode {
	case ModePlan, ModeTools, ModeAuto:
	default:
		return fmt.Errorf("invalid mode %q (want plan, tools or auto)", c.Mode)
	}
	switch c.Provider {
	case "", "anthropic", "openai", "google":
	default:
		return fmt.Errorf("unknown provider %q", c.Provider)
	}
	return nil
}

// ApplyEnv overrides fields from SYSASK_* environment variables.
func (c *Config) ApplyEnv(getenv func(string) string) {
	if getenv == nil {
		getenv = os.Getenv
	}
	if v := strings.TrimSpace(getenv("SYSASK_LOG_LEVEL")); v != "" {
		c.LogLevel = v
	}
	if v := strings.TrimSpace(getenv("SYSASK_LOG_PATH")); v != "" {
		c.LogPath = v
	}
	if v := strings.TrimSpace(getenv("SYSASK_PROVIDER")); v != "" {
		c.Provider = strings.ToLower(v)
	}
	if v := strings.TrimSpace(getenv("SYSASK_MODEL")); v != "" {
		c.Model = v
	}
}

// MaxExecutionTime returns the orchestration deadline as a duration.
func (c *Config) MaxExecutionTime() time.Duration {
	return time.Duration(c.MaxExecutionTimeMs) * time.Millisecond
}

// CommandTimeout returns the per-command shell timeout as a duration.
func (c *Config) CommandTimeout() time.Duration {
	return time.Duration(c.CommandTimeoutMs) * time.Millisecond
}

// APIKey returns the (decrypted) key stored for provider, if any.
func (c *Config) APIKey(provider string) string {
	if c.APIKeys == nil {
		return ""
	}
	return c.APIKeys[provider]
}

// SetAPIKey stores a plaintext key. It is encrypted on Save when a secrets
// password is active.
func (c *Config) SetAPIKey(provider, key string) {
	if c.APIKeys == nil {
		c.APIKeys = make(map[string]string)
	}
	c.APIKeys[provider] = key
}

// ApplySecretsPassword records the active password and decrypts any encrypted keys.
func (c *Config) ApplySecretsPassword(password string) error {
	for _, name := range c.sortedProviders() {
		plain, _, err := secrets.DecryptString(c.APIKeys[name], password)
		if err != nil {
			return fmt.Errorf("decrypt api key for %s: %w", name, err)
		}
		c.APIKeys[name] = plain
	}
	c.secretsPassword = password
	return nil
}

// HasEncryptedKeys reports whether any stored key still needs a password.
func (c *Config) HasEncryptedKeys() bool {
	for _, v := range c.APIKeys {
		if secrets.IsEncrypted(v) {
			return true
		}
	}
	return false
}

// Save saves configuration to file, encrypting API keys when a password is set.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}

	out := *c
	out.APIKeys = make(map[string]string, len(c.APIKeys))
	for _, name := range c.sortedProviders() {
		value := c.APIKeys[name]
		if c.secretsPassword != "" && !secrets.IsEncrypted(value) {
			sealed, err := secrets.EncryptString(value, c.secretsPassword)
			if err != nil {
				return fmt.Errorf("encrypt api key for %s: %w", name, err)
			}
			value = sealed
		}
		out.APIKeys[name] = value
	}

	data, err := json.MarshalIndent(&out, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

func (c *Config) sortedProviders() []string {
	names := make([]string, 0, len(c.APIKeys))
	for name := range c.APIKeys {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// GetConfigPath returns the default config path
func GetConfigPath() string {
	return filepath.Join(defaultConfigDir(), "config.json")
}
