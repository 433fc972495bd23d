package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/poqudrof/Locrits-sub000/src/memory/tools"
)

func writeConfig(t *testing.T, extra string) string {
	t.Helper()
	dir := t.TempDir()
	body := `agent:
  id: cli-test
  data_dir: ` + filepath.Join(dir, "data") + `
vector:
  backend: memory
graph:
  backend: memory
  snapshot: false
updates:
  auto_update: false
completion:
  provider: dummy
` + extra
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func run(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestValidate(t *testing.T) {
	out, err := run(t, "", "--config", writeConfig(t, ""), "validate")
	require.NoError(t, err)
	assert.Contains(t, out, "configuration for cli-test is valid")

	out, err = run(t, "", "--config", writeConfig(t, ""), "--agent", "Pixel Bot", "validate")
	require.NoError(t, err)
	assert.Contains(t, out, "pixel_bot")

	bad := writeConfig(t, "retention:\n  default_retention_days: 0\n")
	out, err = run(t, "", "--config", bad, "validate")
	require.Error(t, err)
	assert.Contains(t, out, "retention.default_retention_days")
}

func TestInvalidConfigRefusesToOpen(t *testing.T) {
	bad := writeConfig(t, "retention:\n  default_retention_days: 0\n")
	_, err := run(t, "", "--config", bad, "status")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid configuration")
}

func TestToolsList(t *testing.T) {
	out, err := run(t, "", "--config", writeConfig(t, ""), "tools", "list")
	require.NoError(t, err)
	for _, name := range tools.Names() {
		assert.Contains(t, out, name)
	}
}

func TestToolsCall(t *testing.T) {
	cfg := writeConfig(t, "")
	out, err := run(t, "", "--config", cfg, "tools", "call", tools.StoreHybridMemory, `{"content":"Alice works at Acme","importance":0.8}`)
	require.NoError(t, err)
	assert.Contains(t, out, `"success": true`)

	out, err = run(t, "", "--config", cfg, "tools", "call", tools.SearchAllMemory, `{"query":"Acme","limit":500}`)
	require.Error(t, err)
	assert.Contains(t, out, `"success": false`)

	_, err = run(t, "", "--config", cfg, "tools", "call", "teleport")
	require.Error(t, err)

	_, err = run(t, "", "--config", cfg, "tools", "call", tools.SearchAllMemory, `not json`)
	require.Error(t, err)
}

func TestAnalyzeStoreSearch(t *testing.T) {
	cfg := writeConfig(t, "")

	out, err := run(t, "", "--config", cfg, "analyze", "The meeting is scheduled for 3 PM tomorrow")
	require.NoError(t, err)
	assert.Contains(t, out, `"memory_type"`)
	assert.Contains(t, out, `"search_strategy"`)

	out, err = run(t, "", "--config", cfg, "store", "--importance", "0.9", "Alice works at Acme")
	require.NoError(t, err)
	assert.Contains(t, out, `"ids"`)

	out, err = run(t, "", "--config", cfg, "search", "--strategy", "parallel", "--limit", "3", "zebra")
	require.NoError(t, err)
	assert.Contains(t, out, `"count": 0`)

	_, err = run(t, "", "--config", cfg, "search", "--strategy", "sideways", "zebra")
	require.Error(t, err)
}

func TestMaintenanceCommands(t *testing.T) {
	cfg := writeConfig(t, "")

	out, err := run(t, "", "--config", cfg, "status")
	require.NoError(t, err)
	assert.Contains(t, out, `"namespace": "cli-test"`)

	out, err = run(t, "", "--config", cfg, "cleanup", "--days", "7")
	require.NoError(t, err)
	assert.Contains(t, out, `"retention_days": 7`)

	_, err = run(t, "", "--config", cfg, "drain")
	require.NoError(t, err)
}

func TestChat(t *testing.T) {
	out, err := run(t, "hello\ntool:get_memory_status\nexit\n", "--config", writeConfig(t, ""), "chat")
	require.NoError(t, err)
	assert.Contains(t, out, "Dummy response:")
	assert.Contains(t, out, "["+tools.GetMemoryStatus+"] ok")
}
