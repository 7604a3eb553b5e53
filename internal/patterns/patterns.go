// Package patterns recognises known error signatures in command output.
package patterns

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"regexp"
)

//go:embed patterns.json
var defaultPatterns []byte

// Pattern is one entry of the signature table.
type Pattern struct {
	ID      string `json:"id"`
	Pattern string `json:"pattern"`
	Title   string `json:"title"`
	Hint    string `json:"hint"`

	re *regexp.Regexp
}

// Match is a pattern found in a piece of text.
type Match struct {
	ID    string
	Title string
	Hint  string
	Line  string
}

// Matcher evaluates every pattern against text.
type Matcher struct {
	patterns []Pattern
}

// Default returns a matcher built from the embedded table.
func Default() *Matcher {
	m, err := Parse(defaultPatterns)
	if err != nil {
		panic(fmt.Sprintf("embedded patterns: %v", err))
	}
	return m
}

// Load reads a pattern table from path. An empty path yields Default.
func Load(path string) (*Matcher, error) {
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read patterns: %w", err)
	}
	return Parse(data)
}

// Parse compiles a JSON pattern table.
func Parse(data []byte) (*Matcher, error) {
	var patterns []Pattern
	if err := json.Unmarshal(data, &patterns); err != nil {
		return nil, fmt.Errorf("parse patterns: %w", err)
	}
	for i := range patterns {
		p := &patterns[i]
		if p.ID == "" {
			return nil, fmt.Errorf("pattern %d: missing id", i)
		}
		re, err := regexp.Compile(`(?m)` + p.Pattern)
		if err != nil {
			return nil, fmt.Errorf("pattern %s: %w", p.ID, err)
		}
		p.re = re
	}
	return &Matcher{patterns: patterns}, nil
}

// Len returns the number of patterns.
func (m *Matcher) Len() int { return len(m.patterns) }

// Match returns one Match per pattern found in text, in table order.
func (m *Matcher) Match(text string) []Match {
	if m == nil || text == "" {
		return nil
	}
	var out []Match
	for _, p := range m.patterns {
		loc := p.re.FindStringIndex(text)
		if loc == nil {
			continue
		}
		out = append(out, Match{ID: p.ID, Title: p.Title, Hint: p.Hint, Line: lineAround(text, loc[0], loc[1])})
	}
	return out
}

func lineAround(text string, start, end int) string {
	for start > 0 && text[start-1] != '\n' {
		start--
	}
	for end < len(text) && text[end] != '\n' {
		end++
	}
	return text[start:end]
}
