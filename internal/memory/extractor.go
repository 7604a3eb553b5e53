package memory

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/codefionn/sysask/internal/consts"
)

// Extractor folds the output of one recognised command shape into memory.
// Shapes are recognised by the command text, not the output.
type Extractor interface {
	Name() string
	Match(command string) bool
	Extract(command, output string, m *WorkingMemory)
}

// Registry runs the first extractor that matches a command and then always
// archives a raw snapshot.
type Registry struct {
	extractors []Extractor
}

// NewRegistry builds a registry; extractors are consulted in order.
func NewRegistry(extractors ...Extractor) *Registry {
	return &Registry{extractors: extractors}
}

// DefaultRegistry knows fail2ban, docker and systemd listings.
func DefaultRegistry() *Registry {
	return NewRegistry(
		JailListExtractor{},
		JailDetailExtractor{},
		DockerPSExtractor{},
		FailedUnitsExtractor{},
	)
}

// Register appends an extractor with the lowest precedence.
func (r *Registry) Register(e Extractor) {
	r.extractors = append(r.extractors, e)
}

// Extract applies the matching extractor, if any, and records the raw
// snapshot. It returns the extractor name or "" when none matched.
func (r *Registry) Extract(command, output string, m *WorkingMemory) string {
	matched := ""
	for _, e := range r.extractors {
		if e.Match(command) {
			e.Extract(command, output, m)
			matched = e.Name()
			break
		}
	}
	if m.DataExtracted.Raw == nil {
		m.DataExtracted.Raw = make(map[string]string)
	}
	m.DataExtracted.Raw[command] = Snapshot(output)
	return matched
}

// Snapshot returns the first RawSnapshotChars characters of output.
func Snapshot(output string) string {
	if utf8.RuneCountInString(output) <= consts.RawSnapshotChars {
		return output
	}
	n := 0
	for i := range output {
		if n == consts.RawSnapshotChars {
			return output[:i]
		}
		n++
	}
	return output
}

var (
	jailListCmd   = regexp.MustCompile(`fail2ban-client\s+status\s*$`)
	jailDetailCmd = regexp.MustCompile(`fail2ban-client\s+status\s+([A-Za-z0-9_.@:\-]+)\s*$`)
	jailListLine  = regexp.MustCompile(`(?m)Jail list:\s*(.*)$`)
	ipv4          = regexp.MustCompile(`\b(?:\d{1,3}\.){3}\d{1,3}\b`)
	totalBanned   = regexp.MustCompile(`Total banned:\s*(\d+)`)
	dockerPSCmd   = regexp.MustCompile(`\bdocker\s+ps\b`)
	columnSplit   = regexp.MustCompile(`\s{2,}`)
	failedCmd     = regexp.MustCompile(`\bsystemctl\b.*--failed\b`)
)

// commandHead returns the command text before the first shell operator
// (pipe, list separator or redirect). A file descriptor number written
// directly before a redirect, as in `2>&1`, is dropped with it.
func commandHead(command string) string {
	i := strings.IndexAny(command, "|;&<>")
	if i < 0 {
		return strings.TrimSpace(command)
	}
	head := command[:i]
	if command[i] == '>' || command[i] == '<' {
		j := len(head)
		for j > 0 && head[j-1] >= '0' && head[j-1] <= '9' {
			j--
		}
		if j < len(head) && (j == 0 || head[j-1] == ' ' || head[j-1] == '\t') {
			head = head[:j]
		}
	}
	return strings.TrimSpace(head)
}

// JailListExtractor handles `fail2ban-client status` without a jail name.
type JailListExtractor struct{}

func (JailListExtractor) Name() string { return "fail2ban-jail-list" }

func (JailListExtractor) Match(command string) bool {
	return jailListCmd.MatchString(commandHead(command))
}

func (JailListExtractor) Extract(_ string, output string, m *WorkingMemory) {
	match := jailListLine.FindStringSubmatch(output)
	if match == nil {
		return
	}
	names := strings.FieldsFunc(match[1], func(r rune) bool {
		return r == ',' || r == ' ' || r == '\t' || r == '\r'
	})
	m.SetList(names)
	m.SetEntity("total_jails", len(names))
	m.Discovered.NeedsIteration = []string{
		fmt.Sprintf("run 'fail2ban-client status <jail>' for each jail: %s", strings.Join(names, ", ")),
	}
}

// JailDetailExtractor handles `fail2ban-client status <jail>`.
type JailDetailExtractor struct{}

func (JailDetailExtractor) Name() string { return "fail2ban-jail-detail" }

func (JailDetailExtractor) Match(command string) bool {
	return jailDetailCmd.MatchString(commandHead(command))
}

func (JailDetailExtractor) Extract(command, output string, m *WorkingMemory) {
	match := jailDetailCmd.FindStringSubmatch(commandHead(command))
	if match == nil {
		return
	}
	ips := ipv4.FindAllString(output, -1)
	if ips == nil {
		ips = []string{}
	}
	count := len(ips)
	if total := totalBanned.FindStringSubmatch(output); total != nil {
		if n, err := strconv.Atoi(total[1]); err == nil {
			count = n
		}
	}
	m.SetJail(match[1], JailInfo{IPs: ips, Count: count})
}

// DockerPSExtractor handles `docker ps` listings.
type DockerPSExtractor struct{}

func (DockerPSExtractor) Name() string { return "docker-ps" }

func (DockerPSExtractor) Match(command string) bool {
	return dockerPSCmd.MatchString(command)
}

func (DockerPSExtractor) Extract(_ string, output string, m *WorkingMemory) {
	lines := strings.Split(strings.TrimSpace(output), "\n")
	containers := []string{}
	for i, line := range lines {
		line = strings.TrimSpace(line)
		if i == 0 || line == "" {
			continue
		}
		cols := columnSplit.Split(line, -1)
		fields := strings.Fields(cols[len(cols)-1])
		if len(fields) == 0 {
			continue
		}
		containers = append(containers, fields[len(fields)-1])
	}
	m.SetList(containers)
	m.SetEntity("total_containers", len(containers))
}

// FailedUnitsExtractor handles `systemctl ... --failed`.
type FailedUnitsExtractor struct{}

func (FailedUnitsExtractor) Name() string { return "systemctl-failed" }

func (FailedUnitsExtractor) Match(command string) bool {
	return failedCmd.MatchString(command)
}

func (FailedUnitsExtractor) Extract(_ string, output string, m *WorkingMemory) {
	units := []string{}
	for _, line := range strings.Split(output, "\n") {
		if !strings.Contains(line, ".service") || !strings.Contains(line, "failed") {
			continue
		}
		for _, field := range strings.Fields(line) {
			if strings.HasSuffix(field, ".service") {
				units = append(units, field)
				break
			}
		}
	}
	m.SetList(units)
	m.SetEntity("failed_services", len(units))
}
