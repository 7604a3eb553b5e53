package orchestrator

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/codefionn/sysask/internal/llm"
	"github.com/codefionn/sysask/internal/memory"
	"github.com/codefionn/sysask/internal/secretdetect"
)

const (
	historyTranscriptMessages = 6
	historyTranscriptChars    = 200
	resultPromptChars         = 2000
)

const plannerSystemPrompt = `You are a Linux system administration assistant. You answer questions about the local machine by running read-only shell commands. You never propose destructive commands. Reply with a single JSON object and nothing else.`

const synthesisSystemPrompt = `You are a Linux system administration assistant. Answer the user's question using only the collected command output. Be concise and concrete, cite numbers and names from the data. Answer in the language of the question. Reply with a single JSON object and nothing else.`

const toolSystemPromptTemplate = `You are a Linux system administration assistant running on %s (%s).
Answer the user's question about this machine. Use the run_command tool to run shell commands in a persistent shell; working directory and environment persist between calls. Set restart_session to true to get a fresh shell.
Only run read-only, non-destructive commands. Destructive commands are blocked.
When you have enough data, reply with the final answer as plain text, in the language of the question.`

func systemLine(sys SystemContext) string {
	osName := sys.OS
	if osName == "" {
		osName = "unknown"
	}
	distro := sys.Distro
	if distro == "" {
		distro = "unknown"
	}
	return fmt.Sprintf("OS: %s\nDistribution: %s", osName, distro)
}

// historyTranscript renders the most recent messages as compact lines.
func historyTranscript(history []Message) string {
	if len(history) == 0 {
		return "(none)"
	}
	if len(history) > historyTranscriptMessages {
		history = history[len(history)-historyTranscriptMessages:]
	}
	var b strings.Builder
	for _, m := range history {
		content := strings.Join(strings.Fields(m.Content), " ")
		fmt.Fprintf(&b, "%s: %s\n", m.Role, llm.TruncateForError(content, historyTranscriptChars))
	}
	return strings.TrimRight(b.String(), "\n")
}

func initialPlanPrompt(ec *ExecutionContext) string {
	var b strings.Builder
	b.WriteString(systemLine(ec.System))
	b.WriteString("\n\nConversation so far:\n")
	b.WriteString(historyTranscript(ec.System.History))
	fmt.Fprintf(&b, "\n\nQuestion: %s\n\n", ec.OriginalQuestion)
	b.WriteString(`Plan the shell commands needed to answer the question. Prefer few, targeted commands. Use sudo where root is normally required.
Reply as: {"commands": ["command 1", "command 2"]}`)
	return b.String()
}

func completionPrompt(ec *ExecutionContext) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Question: %s\n\n", ec.OriginalQuestion)
	b.WriteString("Executed commands:\n")
	b.WriteString(commandList(ec.ExecutedCommands))
	b.WriteString("\n\nWorking memory:\n")
	b.WriteString(ec.Memory.JSON())
	b.WriteString(`

Is the question fully answered by the data in working memory? If a list was discovered, every item needs its own detail before the answer is complete.
Do not propose commands here.
Reply as: {"isComplete": true|false, "reasoning": "short reason"}`)
	return b.String()
}

func replanPrompt(ec *ExecutionContext) string {
	var b strings.Builder
	b.WriteString(systemLine(ec.System))
	fmt.Fprintf(&b, "\n\nQuestion: %s\n\n", ec.OriginalQuestion)
	b.WriteString("Executed commands:\n")
	b.WriteString(commandList(ec.ExecutedCommands))
	b.WriteString("\n\nResults:\n")
	b.WriteString(resultsBlock(ec.Results))
	b.WriteString("\n\nWorking memory:\n")
	b.WriteString(ec.Memory.JSON())
	if hint := iterationHint(ec); hint != "" {
		b.WriteString("\n\n")
		b.WriteString(hint)
	}
	if ec.Reasoning != "" {
		fmt.Fprintf(&b, "\n\nWhat is missing: %s", ec.Reasoning)
	}
	b.WriteString(`

The question is not answered yet. Propose the next commands. Do not repeat commands that already succeeded. Reply with an empty list if nothing else can help.
Reply as: {"commands": ["..."], "updateMemory": {"hypothesis": "...", "discovered": {"lists": ["..."]}}}
updateMemory is optional.`)
	return b.String()
}

func synthesisPrompt(ec *ExecutionContext) string {
	var b strings.Builder
	b.WriteString(systemLine(ec.System))
	fmt.Fprintf(&b, "\n\nQuestion: %s\n\n", ec.OriginalQuestion)
	b.WriteString("Results:\n")
	b.WriteString(resultsBlock(ec.Results))
	b.WriteString("\n\nWorking memory:\n")
	b.WriteString(ec.Memory.JSON())
	if len(ec.Memory.KnownIssues) > 0 {
		b.WriteString("\n\nKnown issues detected in the output:\n")
		for _, issue := range ec.Memory.KnownIssues {
			fmt.Fprintf(&b, "- %s (%s): %s\n", issue.Title, issue.Command, issue.Hint)
		}
	}
	b.WriteString(`

Write the final answer. Commands marked skipped were blocked for safety; mention it if relevant.
Reply as: {"directAnswer": "..."}`)
	return b.String()
}

func commandList(cmds []string) string {
	if len(cmds) == 0 {
		return "(none)"
	}
	var b strings.Builder
	for i, c := range cmds {
		fmt.Fprintf(&b, "%d. %s\n", i+1, c)
	}
	return strings.TrimRight(b.String(), "\n")
}

func resultsBlock(results []CommandResult) string {
	if len(results) == 0 {
		return "(none)"
	}
	var b strings.Builder
	for _, r := range results {
		fmt.Fprintf(&b, "$ %s\n", r.Command)
		switch {
		case r.Skipped:
			fmt.Fprintf(&b, "[skipped] %s\n", r.Error)
		case r.Error != "":
			fmt.Fprintf(&b, "[error] %s\n", secretdetect.Sanitize(r.Error))
		default:
			out := secretdetect.Sanitize(r.Output)
			if out == "" {
				out = "(no output)"
			}
			b.WriteString(llm.TruncateForError(out, resultPromptChars))
			b.WriteString("\n")
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

var fail2banQuestion = regexp.MustCompile(`(?i)fail2ban|bloquead|blocked|banned|banid`)

// iterationHint tells the planner which discovered items still lack a
// per-item command.
func iterationHint(ec *ExecutionContext) string {
	lists := ec.Memory.Discovered.Lists
	if len(lists) == 0 {
		return ""
	}
	remaining := remainingItems(lists, ec.ExecutedCommands)
	if len(remaining) == 0 {
		return ""
	}

	if fail2banQuestion.MatchString(ec.OriginalQuestion) {
		cmds := make([]string, len(remaining))
		for i, jail := range remaining {
			cmds[i] = fmt.Sprintf("sudo fail2ban-client status %s", jail)
		}
		return fmt.Sprintf("IMPORTANT: you discovered the jails %s. Run one command per remaining jail: %s",
			strings.Join(lists, ", "), strings.Join(cmds, "; "))
	}
	return fmt.Sprintf("IMPORTANT: you discovered this list: %s. You must issue one command per remaining item: %s",
		strings.Join(lists, ", "), strings.Join(remaining, ", "))
}

// remainingItems returns the items that appear as an argument of no executed
// command.
func remainingItems(items, executed []string) []string {
	seen := make(map[string]bool)
	for _, cmd := range executed {
		for _, f := range strings.Fields(cmd) {
			seen[f] = true
		}
	}
	var out []string
	for _, item := range items {
		if !seen[item] {
			out = append(out, item)
		}
	}
	return out
}

func toolSystemPrompt(sys SystemContext) string {
	osName, distro := sys.OS, sys.Distro
	if osName == "" {
		osName = "unknown"
	}
	if distro == "" {
		distro = "unknown"
	}
	return fmt.Sprintf(toolSystemPromptTemplate, osName, distro)
}

// memorySummary is appended to the final no-tools request of the tool variant.
func memorySummary(m *memory.WorkingMemory) string {
	if len(m.Discovered.Lists) == 0 && len(m.DataExtracted.Jails) == 0 && len(m.KnownIssues) == 0 {
		return ""
	}
	return "Structured data collected so far:\n" + m.JSON()
}
