// Package memory holds the working memory accumulated during one
// orchestration turn and the extractors that fill it from command output.
package memory

import (
	"encoding/json"
	"sort"
)

// Discovered tracks the entity family found most recently.
type Discovered struct {
	// Lists is overwritten, not merged, by each extractor that finds a list.
	Lists          []string       `json:"lists"`
	Entities       map[string]int `json:"entities"`
	NeedsIteration []string       `json:"needsIteration"`
}

// JailInfo is the per-jail detail parsed from fail2ban output.
type JailInfo struct {
	IPs   []string `json:"ips"`
	Count int      `json:"count"`
}

// DataExtracted holds structured findings. It serializes as one flat object:
// {"jails": ..., "raw": ..., <extra keys>...}.
type DataExtracted struct {
	Jails map[string]JailInfo
	Raw   map[string]string
	Extra map[string]any
}

func (d DataExtracted) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(d.Extra)+2)
	for k, v := range d.Extra {
		out[k] = v
	}
	if len(d.Jails) > 0 {
		out["jails"] = d.Jails
	}
	out["raw"] = d.Raw
	return json.Marshal(out)
}

// Issue is a known error signature recognized in command output.
type Issue struct {
	ID      string `json:"id"`
	Title   string `json:"title"`
	Hint    string `json:"hint,omitempty"`
	Command string `json:"command"`
}

// WorkingMemory is owned by a single orchestration and never shared.
type WorkingMemory struct {
	Discovered    Discovered    `json:"discovered"`
	Hypothesis    string        `json:"hypothesis,omitempty"`
	DataExtracted DataExtracted `json:"dataExtracted"`
	KnownIssues   []Issue       `json:"knownIssues,omitempty"`
}

// New returns an empty working memory with all maps allocated.
func New() *WorkingMemory {
	return &WorkingMemory{
		Discovered: Discovered{
			Lists:          []string{},
			Entities:       make(map[string]int),
			NeedsIteration: []string{},
		},
		DataExtracted: DataExtracted{
			Jails: make(map[string]JailInfo),
			Raw:   make(map[string]string),
			Extra: make(map[string]any),
		},
	}
}

// SetList replaces the active discovered list.
func (m *WorkingMemory) SetList(items []string) {
	m.Discovered.Lists = append([]string{}, items...)
}

// SetEntity records a scalar count.
func (m *WorkingMemory) SetEntity(name string, n int) {
	if m.Discovered.Entities == nil {
		m.Discovered.Entities = make(map[string]int)
	}
	m.Discovered.Entities[name] = n
}

// SetJail stores the detail of one jail.
func (m *WorkingMemory) SetJail(name string, info JailInfo) {
	if m.DataExtracted.Jails == nil {
		m.DataExtracted.Jails = make(map[string]JailInfo)
	}
	m.DataExtracted.Jails[name] = info
}

// AddIssue appends issue unless the same id was already recorded.
func (m *WorkingMemory) AddIssue(issue Issue) bool {
	for _, existing := range m.KnownIssues {
		if existing.ID == issue.ID {
			return false
		}
	}
	m.KnownIssues = append(m.KnownIssues, issue)
	return true
}

// PendingItems returns the names of the discovered list that have no jail
// detail yet, in list order.
func (m *WorkingMemory) PendingItems() []string {
	var pending []string
	for _, name := range m.Discovered.Lists {
		if _, ok := m.DataExtracted.Jails[name]; !ok {
			pending = append(pending, name)
		}
	}
	return pending
}

// JailsCoverList reports whether every name of a non-empty discovered list
// has jail detail.
func (m *WorkingMemory) JailsCoverList() bool {
	return len(m.Discovered.Lists) > 0 && len(m.PendingItems()) == 0
}

// JailNames returns the names with jail detail, sorted.
func (m *WorkingMemory) JailNames() []string {
	names := make([]string, 0, len(m.DataExtracted.Jails))
	for name := range m.DataExtracted.Jails {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Patch is the optional updateMemory object a planner may return.
type Patch struct {
	Hypothesis *string          `json:"hypothesis,omitempty"`
	Discovered *DiscoveredPatch `json:"discovered,omitempty"`
}

// DiscoveredPatch carries planner-side discoveries. Nil fields are left alone.
type DiscoveredPatch struct {
	Lists          []string       `json:"lists,omitempty"`
	Entities       map[string]int `json:"entities,omitempty"`
	NeedsIteration []string       `json:"needsIteration,omitempty"`
}

// Apply merges p into m.
func (m *WorkingMemory) Apply(p *Patch) {
	if p == nil {
		return
	}
	if p.Hypothesis != nil {
		m.Hypothesis = *p.Hypothesis
	}
	if d := p.Discovered; d != nil {
		if d.Lists != nil {
			m.SetList(d.Lists)
		}
		for k, v := range d.Entities {
			m.SetEntity(k, v)
		}
		if d.NeedsIteration != nil {
			m.Discovered.NeedsIteration = append([]string{}, d.NeedsIteration...)
		}
	}
}

// JSON renders m for prompts. Errors fall back to "{}".
func (m *WorkingMemory) JSON() string {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return "{}"
	}
	return string(data)
}
