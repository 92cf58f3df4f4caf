package cmd

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/entityidx/internal/errors"
)

func TestLogsCmd_ShowsFilteredTail(t *testing.T) {
	// Given: a JSON log file
	dir := newProject(t, "")
	path := filepath.Join(t.TempDir(), "entityidx.log")
	lines := `{"time":"2026-01-02T10:00:00Z","level":"INFO","msg":"pass_started","entries":3}
{"time":"2026-01-02T10:00:01Z","level":"WARN","msg":"hook_failed","hook":"topic"}
{"time":"2026-01-02T10:00:02Z","level":"INFO","msg":"pass_finished","docs":3}
`
	require.NoError(t, os.WriteFile(path, []byte(lines), 0o644))

	// When: showing warnings only
	stdout, _, err := runCLI(t, dir, "logs", "--file", path, "--level", "warn")

	// Then
	require.NoError(t, err)
	assert.Contains(t, stdout, "hook_failed")
	assert.NotContains(t, stdout, "pass_started")
}

func TestLogsCmd_MissingFile(t *testing.T) {
	dir := newProject(t, "")

	_, _, err := runCLI(t, dir, "logs", "--file", filepath.Join(t.TempDir(), "nope.log"))

	assert.Equal(t, errors.ErrCodeNotFound, errors.GetCode(err))
}

func TestLogsCmd_InvalidFilter(t *testing.T) {
	dir := newProject(t, "")
	path := filepath.Join(t.TempDir(), "entityidx.log")
	require.NoError(t, os.WriteFile(path, nil, 0o644))

	_, _, err := runCLI(t, dir, "logs", "--file", path, "--filter", "(")

	assert.Equal(t, errors.ErrCodeInvalidInput, errors.GetCode(err))
}
