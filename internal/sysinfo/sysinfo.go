// Package sysinfo detects the host operating system for planning prompts.
package sysinfo

import (
	"bufio"
	"io"
	"os"
	"runtime"
	"strings"
)

const unknown = "unknown"

var osReleasePaths = []string{"/etc/os-release", "/usr/lib/os-release"}

// Info describes the host.
type Info struct {
	OS     string
	Distro string
}

// Detect returns runtime.GOOS and the distribution's pretty name, or
// "unknown" when os-release is missing.
func Detect() Info {
	info := Info{OS: runtime.GOOS, Distro: unknown}
	for _, path := range osReleasePaths {
		f, err := os.Open(path)
		if err != nil {
			continue
		}
		fields, err := ParseOSRelease(f)
		_ = f.Close()
		if err != nil {
			continue
		}
		if name := distroName(fields); name != "" {
			info.Distro = name
			break
		}
	}
	return info
}

func distroName(fields map[string]string) string {
	if v := fields["PRETTY_NAME"]; v != "" {
		return v
	}
	name := fields["NAME"]
	if name == "" {
		return ""
	}
	if v := fields["VERSION"]; v != "" {
		return name + " " + v
	}
	return name
}

// ParseOSRelease reads os-release KEY=value lines. Quotes around values are
// removed; comments and malformed lines are skipped.
func ParseOSRelease(r io.Reader) (map[string]string, error) {
	fields := make(map[string]string)
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok || key == "" {
			continue
		}
		fields[key] = unquote(strings.TrimSpace(value))
	}
	return fields, scanner.Err()
}

func unquote(v string) string {
	if len(v) >= 2 && (v[0] == '"' || v[0] == '\'') && v[len(v)-1] == v[0] {
		v = v[1 : len(v)-1]
	}
	return strings.ReplaceAll(v, `\"`, `"`)
}
