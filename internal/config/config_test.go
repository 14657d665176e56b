package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{"FAMILIAR_LLM_API_KEY", "FAMILIAR_LLM_MODEL", "FAMILIAR_CONFIG_DIR", "OPENAI_API_KEY", "ANTHROPIC_API_KEY"} {
		t.Setenv(k, "")
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()

	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, "openai", cfg.LLM.Provider)
	assert.Equal(t, "gpt-4o", cfg.LLM.Model)
	assert.Equal(t, 2*time.Minute, cfg.LLM.Timeout)
	assert.Equal(t, 50, cfg.Agent.Window)
	assert.Equal(t, 10, cfg.Agent.MaxSteps)
	assert.True(t, cfg.Agent.Classify)
	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, filepath.Join(dir, "familiar.db"), cfg.Store.Path)
	assert.Equal(t, filepath.Join(dir, FileName), cfg.Path())
	assert.Equal(t, 1.0, cfg.Telemetry.SampleRate)
}

func TestLoad_FileAndEnv(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, FileName), []byte(`
llm:
  provider: anthropic
  model: claude-sonnet
  timeout: 30s
agent:
  max_steps: 2
`), 0o600))
	t.Setenv("FAMILIAR_LLM_MODEL", "from-env")
	t.Setenv("ANTHROPIC_API_KEY", "sk-ant-1234567890")

	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, "anthropic", cfg.LLM.Provider)
	assert.Equal(t, "from-env", cfg.LLM.Model)
	assert.Equal(t, 30*time.Second, cfg.LLM.Timeout)
	assert.Equal(t, 2, cfg.Agent.MaxSteps)
	assert.Equal(t, "sk-ant-1234567890", cfg.LLM.APIKey)
}

func TestLoad_Invalid(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, FileName), []byte("llm:\n  provider: mystery\nagent:\n  max_steps: 1\n"), 0o600))

	_, err := Load(dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mystery")
	assert.Contains(t, err.Error(), "max_steps")
}

func TestResolveDir(t *testing.T) {
	t.Setenv("FAMILIAR_CONFIG_DIR", "/from/env")
	assert.Equal(t, "/from/flag", ResolveDir("/from/flag"))
	assert.Equal(t, "/from/env", ResolveDir(""))
}

func TestMasked(t *testing.T) {
	cfg := &Config{Dir: "/cfg", LLM: LLMConfig{Provider: "openai", APIKey: "sk-abcdefghijkl"}}
	m := cfg.Masked()
	llm := m["llm"].(map[string]any)
	assert.Equal(t, "****ijkl", llm["api_key"])
	assert.Equal(t, "/cfg", m["config_dir"])

	assert.Equal(t, "", MaskSecret(""))
	assert.Equal(t, "****", MaskSecret("short"))
}

func TestWriteDefault(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()

	path, err := WriteDefault(dir, false)
	require.NoError(t, err)
	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var parsed map[string]map[string]any
	require.NoError(t, yaml.Unmarshal(data, &parsed))
	assert.Equal(t, "openai", parsed["llm"]["provider"])
	assert.Equal(t, 10, parsed["agent"]["max_steps"])
	assert.Contains(t, string(data), "FAMILIAR_")

	_, err = WriteDefault(dir, false)
	assert.ErrorIs(t, err, ErrExists)

	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, 8000, cfg.Tools.MaxOutputRunes)
}

func TestWrite_Values(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()

	_, err := Write(dir, map[string]any{"llm.provider": "anthropic", "llm.model": "claude-sonnet-4-5"}, false)
	require.NoError(t, err)
	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, "anthropic", cfg.LLM.Provider)
	assert.Equal(t, "claude-sonnet-4-5", cfg.LLM.Model)
	assert.Equal(t, 10, cfg.Agent.MaxSteps)

	_, err = Write(t.TempDir(), map[string]any{"llm.temperature": 0.2}, false)
	assert.ErrorContains(t, err, "unknown config key")
}
