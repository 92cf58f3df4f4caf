package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

// newProject creates an isolated project directory with a config file and
// points user config and logs into the test's temp dirs.
func newProject(t *testing.T, projectConfig string) string {
	t.Helper()
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("HOME", t.TempDir())
	for _, kv := range os.Environ() {
		if name, _, ok := strings.Cut(kv, "="); ok && strings.HasPrefix(name, "ENTITYIDX_") {
			t.Setenv(name, "")
			require.NoError(t, os.Unsetenv(name))
		}
	}

	dir := t.TempDir()
	if projectConfig == "" {
		projectConfig = "version: 1\n"
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".entityidx.yaml"), []byte(projectConfig), 0o644))
	return dir
}

// runCLI executes the root command against dir and returns stdout and
// stderr.
func runCLI(t *testing.T, dir string, args ...string) (string, string, error) {
	t.Helper()
	cmd := NewRootCmd()
	stdout, stderr := &bytes.Buffer{}, &bytes.Buffer{}
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)
	cmd.SetArgs(append([]string{"-C", dir, "--no-color"}, args...))
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

// writeImport writes lines as a JSONL file in dir.
func writeImport(t *testing.T, dir string, lines ...string) string {
	t.Helper()
	path := filepath.Join(dir, "catalog.jsonl")
	require.NoError(t, os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0o644))
	return path
}
