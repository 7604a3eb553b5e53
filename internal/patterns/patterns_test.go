package patterns

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultTableCompiles(t *testing.T) {
	assert.Greater(t, Default().Len(), 5)
}

func TestMatch(t *testing.T) {
	m := Default()

	tests := []struct {
		name string
		text string
		want []string
	}{
		{"permission", "cat: /etc/shadow: Permission denied", []string{"permission-denied"}},
		{"not found", "bash: line 1: fail2ban-client: command not found", []string{"command-not-found"}},
		{"docker", "Cannot connect to the Docker daemon at unix:///var/run/docker.sock.", []string{"docker-daemon-down"}},
		{"sudo", "sudo: a terminal is required to read the password", []string{"sudo-needs-tty"}},
		{"clean", "Jail list: sshd", nil},
		{"empty", "", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var ids []string
			for _, match := range m.Match(tt.text) {
				ids = append(ids, match.ID)
			}
			assert.Equal(t, tt.want, ids)
		})
	}
}

func TestMatchReportsLine(t *testing.T) {
	matches := Default().Match("first line\nwrite error: No space left on device\nlast")
	require.Len(t, matches, 1)
	assert.Equal(t, "write error: No space left on device", matches[0].Line)
	assert.Equal(t, "Disk full", matches[0].Title)
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "p.json")
	require.NoError(t, os.WriteFile(path, []byte(`[{"id":"x","pattern":"boom","title":"Boom"}]`), 0o600))

	m, err := Load(path)
	require.NoError(t, err)
	assert.Len(t, m.Match("it went boom"), 1)

	def, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default().Len(), def.Len())
}

func TestParseErrors(t *testing.T) {
	_, err := Parse([]byte(`[{"id":"bad","pattern":"("}]`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "pattern bad")

	_, err = Parse([]byte(`[{"pattern":"x"}]`))
	require.Error(t, err)

	_, err = Parse([]byte(`{`))
	require.Error(t, err)

	_, err = Load(filepath.Join(t.TempDir(), "missing.json"))
	require.Error(t, err)
}
