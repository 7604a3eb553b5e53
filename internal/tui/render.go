package tui

import (
	"strings"
	"sync"

	"github.com/charmbracelet/glamour"
	"github.com/muesli/reflow/wordwrap"
)

var (
	rendererMu    sync.Mutex
	rendererCache = make(map[int]*glamour.TermRenderer)
)

func renderer(width int) *glamour.TermRenderer {
	rendererMu.Lock()
	defer rendererMu.Unlock()
	if r, ok := rendererCache[width]; ok {
		return r
	}
	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(width),
		glamour.WithPreservedNewLines(),
	)
	if err != nil {
		return nil
	}
	rendererCache[width] = r
	return r
}

// RenderMarkdown renders text for a terminal of the given width. It falls
// back to word-wrapped plain text when rendering fails.
func RenderMarkdown(text string, width int) string {
	if width < 20 {
		width = 20
	}
	if r := renderer(width); r != nil {
		rendererMu.Lock()
		out, err := r.Render(text)
		rendererMu.Unlock()
		if err == nil {
			return strings.Trim(out, "\n")
		}
	}
	return wordwrap.String(text, width)
}
