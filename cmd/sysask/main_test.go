package main

import (
	"flag"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codefionn/sysask/internal/config"
)

func TestParseCLIArgs(t *testing.T) {
	tests := []struct {
		name    string
		argv    []string
		want    cliArgs
		wantErr bool
	}{
		{name: "flag prompt", argv: []string{"-p", "uptime?"}, want: cliArgs{prompt: "uptime?"}},
		{name: "positional question", argv: []string{"how", "much", "disk?"}, want: cliArgs{prompt: "how much disk?"}},
		{
			name: "overrides",
			argv: []string{"--model", "gpt-4.1-mini", "--provider", "openai", "--mode", "tools", "--max-iterations", "4", "--no-history"},
			want: cliArgs{model: "gpt-4.1-mini", provider: "openai", mode: "tools", maxIterations: 4, noHistory: true},
		},
		{name: "question twice", argv: []string{"-p", "a", "b"}, wantErr: true},
		{name: "negative iterations", argv: []string{"--max-iterations", "-1"}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseCLIArgs(tt.argv)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			got.configPath = ""
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseCLIArgsHelp(t *testing.T) {
	_, err := parseCLIArgs([]string{"--help"})
	assert.ErrorIs(t, err, flag.ErrHelp)
}

func TestApplyFlags(t *testing.T) {
	cfg := config.DefaultConfig()
	applyFlags(cfg, cliArgs{provider: "OpenAI", mode: "Auto", maxIterations: 3})
	assert.Equal(t, "openai", cfg.Provider)
	assert.Equal(t, config.ModeAuto, cfg.Mode)
	assert.Equal(t, 3, cfg.MaxIterations)
	require.NoError(t, cfg.Validate())

	before := cfg.Model
	applyFlags(cfg, cliArgs{})
	assert.Equal(t, before, cfg.Model)
	assert.Equal(t, 3, cfg.MaxIterations)
}
