package orchestrator

import (
	"fmt"
	"regexp"
	"strings"
)

const shortcutMessages = 3

var (
	selfReference = regexp.MustCompile(`(?i)\b(earlier|previously|said|wrote|asked|disse|falei|escrevi|perguntei|anteriormente)\b`)
	portuguese    = regexp.MustCompile(`(?i)\b(disse|falei|escrevi|perguntei|anteriormente|antes|eu|que)\b`)
)

// shortcutAnswer answers questions about the conversation itself from
// history, without planning or commands.
func shortcutAnswer(question string, history []Message) (string, bool) {
	if len(history) == 0 || !selfReference.MatchString(question) {
		return "", false
	}

	current := strings.TrimSpace(question)
	var prior []string
	for i := len(history) - 1; i >= 0 && len(prior) < shortcutMessages; i-- {
		m := history[i]
		content := strings.TrimSpace(m.Content)
		if m.Role != "user" || content == "" {
			continue
		}
		// the current question may already be appended to history
		if len(prior) == 0 && i == len(history)-1 && content == current {
			continue
		}
		prior = append(prior, content)
	}
	if len(prior) == 0 {
		return "", false
	}

	var b strings.Builder
	if portuguese.MatchString(question) {
		b.WriteString("Suas mensagens anteriores foram:\n")
	} else {
		b.WriteString("Your previous messages were:\n")
	}
	// oldest first
	for i := len(prior) - 1; i >= 0; i-- {
		fmt.Fprintf(&b, "\n%d. \"%s\"", len(prior)-i, prior[i])
	}
	return b.String(), true
}
