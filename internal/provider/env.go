package provider

import (
	"strings"
)

// providerEnvVars maps canonical provider names to the environment variables
// that can supply their API keys. Multiple variables allow aliases
// (e.g., GEMINI_API_KEY and GOOGLE_API_KEY).
var providerEnvVars = map[string][]string{
	Anthropic: {"ANTHROPIC_API_KEY"},
	OpenAI:    {"OPENAI_API_KEY"},
	Google:    {"GEMINI_API_KEY", "GOOGLE_API_KEY", "GOOGLE_GENAI_API_KEY"},
}

// canonicalProviderName normalizes provider aliases so they share the same
// environment-variable mapping.
func canonicalProviderName(name string) string {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "google", "googleai", "gemini":
		return Google
	case "anthropic", "claude":
		return Anthropic
	default:
		return strings.ToLower(strings.TrimSpace(name))
	}
}

// resolveAPIKey returns the API key to use for a provider. An explicit key
// takes precedence, otherwise known environment variables are consulted.
// Empty string signals that no key is available.
func resolveAPIKey(providerName, explicit string, getenv func(string) string) string {
	if explicit = strings.TrimSpace(explicit); explicit != "" {
		return explicit
	}
	for _, envVar := range providerEnvVars[canonicalProviderName(providerName)] {
		if value := strings.TrimSpace(getenv(envVar)); value != "" {
			return value
		}
	}
	return ""
}

// EnvVarHints returns the known environment variables for a provider, for
// help messages.
func EnvVarHints(providerName string) []string {
	hints := providerEnvVars[canonicalProviderName(providerName)]
	out := make([]string, len(hints))
	copy(out, hints)
	return out
}
