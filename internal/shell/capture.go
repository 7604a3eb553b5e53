package shell

import (
	"bytes"
	"strconv"
	"strings"
	"unicode/utf8"
)

const tailWindow = 512

// capture accumulates one stream of a running command. It keeps at most
// limit leading bytes plus a short rolling tail, so the sentinel can still be
// found after the head is full.
type capture struct {
	limit    int
	head     []byte
	tail     []byte
	overflow bool
}

func newCapture(limit int) *capture {
	return &capture{limit: limit}
}

func (c *capture) reset() {
	c.head = c.head[:0]
	c.tail = c.tail[:0]
	c.overflow = false
}

func (c *capture) write(p []byte) {
	if room := c.limit - len(c.head); room > 0 {
		n := min(room, len(p))
		c.head = append(c.head, p[:n]...)
		if n < len(p) {
			c.overflow = true
		}
	} else if len(p) > 0 {
		c.overflow = true
	}

	c.tail = append(c.tail, p...)
	if len(c.tail) > tailWindow {
		c.tail = append(c.tail[:0], c.tail[len(c.tail)-tailWindow:]...)
	}
}

// cut looks for marker and returns everything before it plus whether the
// stream overflowed its limit.
func (c *capture) cut(marker string) (out []byte, truncated bool, found bool) {
	m := []byte(marker)
	if i := bytes.Index(c.head, m); i >= 0 {
		return c.head[:i], false, true
	}
	if !c.overflow || !bytes.Contains(c.tail, m) {
		return nil, false, false
	}
	head := c.head
	for k := len(m) - 1; k > 0; k-- {
		if bytes.HasSuffix(head, m[:k]) {
			head = head[:len(head)-k]
			break
		}
	}
	return head, true, true
}

// truncateUTF8 cuts s to at most n bytes without splitting a rune.
func truncateUTF8(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

// exitCodeAfter parses the status printed right after the stdout marker.
func (c *capture) exitCodeAfter(marker string) int {
	var line string
	if i := bytes.Index(c.tail, []byte(marker)); i >= 0 {
		line = string(c.tail[i+len(marker):])
	} else if j := bytes.Index(c.head, []byte(marker)); j >= 0 {
		line = string(c.head[j+len(marker):])
	}
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return 0
	}
	code, err := strconv.Atoi(fields[0])
	if err != nil {
		return 0
	}
	return code
}
