// Package secretdetect redacts credentials from command output before it is
// shown to a model or persisted.
package secretdetect

import (
	"regexp"

	"github.com/codefionn/sysask/internal/consts"
)

// Pattern is a named redaction rule. Replacement follows regexp.Expand syntax
// so key names can be kept while their values are dropped.
type Pattern struct {
	Name        string
	Regex       *regexp.Regexp
	Replacement string
}

var (
	keyValueRegex = regexp.MustCompile(`(?i)\b([A-Za-z0-9_.\-]*(?:password|passwd|pwd|token|api[_\-]?key|secret|access[_\-]?key)[A-Za-z0-9_.\-]*)(\s*[:=]\s*)(["']?)[^\s"',;]+(["']?)`)
	bearerRegex   = regexp.MustCompile(`(?i)\b(bearer)\s+[A-Za-z0-9\-._~+/]+=*`)
	awsKeyIDRegex = regexp.MustCompile(`\b(?:AKIA|ASIA|AGPA|AIDA|AROA)[A-Z0-9]{16}\b`)
	anthropicKey  = regexp.MustCompile(`sk-ant-[A-Za-z0-9_\-]{20,}`)
	openAIKey     = regexp.MustCompile(`sk-(?:proj-)?[A-Za-z0-9_\-]{32,}`)
	googleKey     = regexp.MustCompile(`AIza[0-9A-Za-z\-_]{35}`)
	githubToken   = regexp.MustCompile(`gh[pousr]_[A-Za-z0-9]{36}`)
	slackToken    = regexp.MustCompile(`xox[abpr]-[0-9A-Za-z\-]{10,}`)
)

// DefaultPatterns returns the redaction rules applied by Sanitize.
// Key-value and bearer rules run first so the key name survives.
func DefaultPatterns() []Pattern {
	marker := consts.MsgRedacted
	return []Pattern{
		{Name: "key-value", Regex: keyValueRegex, Replacement: "${1}${2}${3}" + marker + "${4}"},
		{Name: "bearer", Regex: bearerRegex, Replacement: "${1} " + marker},
		{Name: "aws-access-key-id", Regex: awsKeyIDRegex, Replacement: marker},
		{Name: "anthropic-api-key", Regex: anthropicKey, Replacement: marker},
		{Name: "openai-api-key", Regex: openAIKey, Replacement: marker},
		{Name: "google-api-key", Regex: googleKey, Replacement: marker},
		{Name: "github-token", Regex: githubToken, Replacement: marker},
		{Name: "slack-token", Regex: slackToken, Replacement: marker},
	}
}

// Sanitizer applies an ordered list of redaction patterns.
type Sanitizer struct {
	patterns []Pattern
}

// NewSanitizer builds a sanitizer; no patterns means DefaultPatterns.
func NewSanitizer(patterns ...Pattern) *Sanitizer {
	if len(patterns) == 0 {
		patterns = DefaultPatterns()
	}
	return &Sanitizer{patterns: patterns}
}

// Sanitize returns text with every pattern match redacted.
func (s *Sanitizer) Sanitize(text string) string {
	if text == "" {
		return text
	}
	for _, p := range s.patterns {
		text = p.Regex.ReplaceAllString(text, p.Replacement)
	}
	return text
}

// Matches lists the names of patterns found in text, for logging.
func (s *Sanitizer) Matches(text string) []string {
	var names []string
	for _, p := range s.patterns {
		if p.Regex.MatchString(text) {
			names = append(names, p.Name)
		}
	}
	return names
}

var defaultSanitizer = NewSanitizer()

// Sanitize redacts text with the default patterns.
func Sanitize(text string) string {
	return defaultSanitizer.Sanitize(text)
}
