// Package safety holds the destructive-command blocklist consulted before
// anything is written to the shell.
//
// The blocklist is a best-effort guard against obviously destructive
// commands proposed by a model. It is not a sandbox and not a security
// boundary: anything not matching a rule below is passed through.
package safety

import (
	"errors"
	"fmt"
	"regexp"
)

// ErrBlockedCommand is matched by errors.Is for every *BlockedError.
var ErrBlockedCommand = errors.New("command blocked by safety rules")

// Rule is one blocklist entry.
type Rule struct {
	Name  string
	Regex *regexp.Regexp
}

// Validation is the outcome of ValidateCommand.
type Validation struct {
	Valid bool
	// Reason is the source of the matched pattern when Valid is false.
	Reason string
	Rule   string
}

// BlockedError reports a command rejected by a rule.
type BlockedError struct {
	Command string
	Reason  string
}

func (e *BlockedError) Error() string {
	return fmt.Sprintf("blocked command %q: matches %s", e.Command, e.Reason)
}

// Is lets errors.Is(err, ErrBlockedCommand) succeed.
func (e *BlockedError) Is(target error) bool {
	return target == ErrBlockedCommand
}

// Order matters: the first matching rule is reported.
var rules = []Rule{
	{Name: "recursive-root-delete", Regex: regexp.MustCompile(`\brm\s+-(?:[a-zA-Z]*[rR][a-zA-Z]*f|[a-zA-Z]*f[a-zA-Z]*[rR])[a-zA-Z]*\s+/(?:\*|\s|;|&|\||$)`)},
	{Name: "fork-bomb", Regex: regexp.MustCompile(`:\(\)\s*\{\s*:\s*\|\s*:\s*&\s*\}\s*;\s*:`)},
	{Name: "filesystem-format", Regex: regexp.MustCompile(`\bmkfs(?:\.[A-Za-z0-9]+)?\b`)},
	{Name: "block-device-dd", Regex: regexp.MustCompile(`\bdd\b.*\bof=/dev/[sh]d[a-z]`)},
	{Name: "block-device-redirect", Regex: regexp.MustCompile(`>\s*/dev/[sh]d[a-z]`)},
}

// Rules returns a copy of the blocklist in evaluation order.
func Rules() []Rule {
	out := make([]Rule, len(rules))
	copy(out, rules)
	return out
}

// ValidateCommand checks command against the blocklist.
func ValidateCommand(command string) Validation {
	for _, r := range rules {
		if r.Regex.MatchString(command) {
			return Validation{Valid: false, Reason: r.Regex.String(), Rule: r.Name}
		}
	}
	return Validation{Valid: true}
}

// Check is ValidateCommand returning a *BlockedError for rejected commands.
func Check(command string) error {
	v := ValidateCommand(command)
	if v.Valid {
		return nil
	}
	return &BlockedError{Command: command, Reason: v.Reason}
}
