package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func TestNextCommand(t *testing.T) {
	p := filepath.Join(t.TempDir(), "settings.yaml")
	require.NoError(t, os.WriteFile(p, []byte("Schedule: daily:09:00\nTimezone: Europe/Berlin\n"), 0o600))

	out, err := execute(t, "next", "--config", p, "-n", "3")
	require.NoError(t, err)
	assert.Contains(t, out, "SendToMyself")
	assert.Contains(t, out, "Europe/Berlin")

	var fires int
	for _, line := range strings.Split(out, "\n") {
		if strings.Contains(line, "T09:00:00+0") {
			fires++
		}
	}
	assert.Equal(t, 3, fires)
}

func TestNextCommandOnceInPast(t *testing.T) {
	p := filepath.Join(t.TempDir(), "settings.json")
	require.NoError(t, os.WriteFile(p, []byte(`{"Schedule": "once"}`), 0o600))

	out, err := execute(t, "next", "--config", p, "-n", "5")
	require.NoError(t, err)
	assert.Equal(t, 1, strings.Count(out, "(in "))
}

func TestHistoryCommand(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "settings.toml")
	body := "StorageDriver = \"file\"\nStoragePath = \"" + filepath.ToSlash(filepath.Join(dir, "h.jsonl")) + "\"\n"
	require.NoError(t, os.WriteFile(p, []byte(body), 0o600))

	out, err := execute(t, "history", "--config", p)
	require.NoError(t, err)
	assert.Contains(t, out, "KIND")

	p2 := filepath.Join(dir, "none.json")
	require.NoError(t, os.WriteFile(p2, []byte(`{}`), 0o600))
	_, err = execute(t, "history", "--config", p2)
	assert.Error(t, err)
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "mailworker "+Version)
}
