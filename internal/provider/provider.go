// Package provider picks and constructs the LLM client for a configuration.
package provider

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/codefionn/sysask/internal/config"
	"github.com/codefionn/sysask/internal/llm"
)

// Canonical provider names.
const (
	Anthropic = "anthropic"
	OpenAI    = "openai"
	Google    = "google"
)

// detection order when no provider is configured
var autoOrder = []string{Anthropic, OpenAI, Google}

// ErrNoAPIKey is returned when no provider has a usable key.
var ErrNoAPIKey = errors.New("no API key configured")

// Selection is a resolved provider, key and model.
type Selection struct {
	Provider string
	APIKey   string
	Model    string
}

// Resolve decides the provider and key from cfg and the environment. The
// provider comes from cfg, then SYSASK_PROVIDER, then the first provider with
// a key.
func Resolve(cfg *config.Config, getenv func(string) string) (Selection, error) {
	if getenv == nil {
		getenv = os.Getenv
	}

	name := canonicalProviderName(cfg.Provider)
	if name == "" {
		name = canonicalProviderName(getenv("SYSASK_PROVIDER"))
	}

	if name != "" {
		if _, ok := providerEnvVars[name]; !ok {
			return Selection{}, fmt.Errorf("unknown provider %q", name)
		}
		key := resolveAPIKey(name, cfg.APIKey(name), getenv)
		if key == "" {
			return Selection{}, fmt.Errorf("%w for %s (set %s or api_keys.%s)",
				ErrNoAPIKey, name, strings.Join(EnvVarHints(name), " or "), name)
		}
		return Selection{Provider: name, APIKey: key, Model: cfg.Model}, nil
	}

	for _, candidate := range autoOrder {
		if key := resolveAPIKey(candidate, cfg.APIKey(candidate), getenv); key != "" {
			return Selection{Provider: candidate, APIKey: key, Model: cfg.Model}, nil
		}
	}
	return Selection{}, fmt.Errorf("%w (set ANTHROPIC_API_KEY, OPENAI_API_KEY or GEMINI_API_KEY)", ErrNoAPIKey)
}

// NewClient resolves the selection and builds its client.
func NewClient(ctx context.Context, cfg *config.Config, getenv func(string) string) (llm.Client, error) {
	sel, err := Resolve(cfg, getenv)
	if err != nil {
		return nil, err
	}
	return New(ctx, sel, cfg.Temperature, cfg.MaxTokens)
}

// New builds the client for sel.
func New(ctx context.Context, sel Selection, temperature float64, maxTokens int) (llm.Client, error) {
	opts := llm.Options{
		APIKey:      sel.APIKey,
		Model:       sel.Model,
		Temperature: temperature,
		MaxTokens:   maxTokens,
	}
	switch sel.Provider {
	case Anthropic:
		return llm.NewAnthropicClient(opts)
	case OpenAI:
		return llm.NewOpenAIClient(opts)
	case Google:
		return llm.NewGoogleClient(ctx, opts)
	default:
		return nil, fmt.Errorf("unknown provider %q", sel.Provider)
	}
}
