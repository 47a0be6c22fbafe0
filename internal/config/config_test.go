package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig(t *testing.T) *Config {
	cfg := GetDefaultConfig()
	cfg.FlagFormat = `flag\{.*?\}`
	cfg.Auto = true
	cfg.OutDir = filepath.Join(t.TempDir(), "out")
	return cfg
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr error
		errText string
	}{
		{name: "valid", mutate: func(*Config) {}},
		{name: "missing flag format", mutate: func(c *Config) { c.FlagFormat = "" }, wantErr: ErrNoFlagFormat},
		{name: "bad regex", mutate: func(c *Config) { c.FlagFormat = "flag{(" }, errText: "invalid flag-format"},
		{name: "no threads", mutate: func(c *Config) { c.Threads = 0 }, errText: "threads"},
		{name: "negative depth", mutate: func(c *Config) { c.MaxDepth = -1 }, errText: "max-depth"},
		{name: "no units without auto", mutate: func(c *Config) { c.Auto = false }, errText: "no units"},
		{name: "unknown format", mutate: func(c *Config) { c.OutputFormat = "csv" }, errText: "output format"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig(t)
			tt.mutate(cfg)
			err := cfg.Validate()
			switch {
			case tt.wantErr != nil:
				assert.ErrorIs(t, err, tt.wantErr)
			case tt.errText != "":
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errText)
			default:
				assert.NoError(t, err)
			}
		})
	}
}

func TestPrepareOutDir(t *testing.T) {
	cfg := validConfig(t)
	require.NoError(t, cfg.PrepareOutDir())
	require.DirExists(t, cfg.OutDir)

	marker := filepath.Join(cfg.OutDir, "old.txt")
	require.NoError(t, os.WriteFile(marker, []byte("x"), 0o600))

	err := cfg.PrepareOutDir()
	assert.ErrorIs(t, err, ErrOutputExists)
	assert.FileExists(t, marker)

	cfg.Force = true
	require.NoError(t, cfg.PrepareOutDir())
	assert.DirExists(t, cfg.OutDir)
	assert.NoFileExists(t, marker)
}

func TestUnitOption(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.UnitOptions["xor"] = map[string]string{"key": "0x41"}

	v, ok := cfg.UnitOption("XOR", "Key")
	assert.True(t, ok)
	assert.Equal(t, "0x41", v)

	_, ok = cfg.UnitOption("caesar", "key")
	assert.False(t, ok)
}

func TestLoadLinesFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "list.txt")
	require.NoError(t, os.WriteFile(path, []byte("a\n# comment\n\n  b  \n"), 0o600))

	lines, err := LoadLinesFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, lines)
	assert.Equal(t, []string{"a", "b"}, DeduplicateStringSlice([]string{"a", "b", "a"}))
}
