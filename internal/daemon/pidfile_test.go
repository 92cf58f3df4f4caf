package daemon

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stalePID is above the default pid_max on Linux.
const stalePID = 4194304

func writePID(t *testing.T, path string, pid int) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(strconv.Itoa(pid)), 0o644))
}

func TestPIDFile_AcquireWritesOwnPID(t *testing.T) {
	// Given: a data dir that does not exist yet
	dataDir := filepath.Join(t.TempDir(), "nested", ".entityidx")
	pf := ForDataDir(dataDir)

	// When
	require.NoError(t, pf.Acquire())

	// Then
	assert.Equal(t, filepath.Join(dataDir, WatchPIDFile), pf.Path())
	pid, err := pf.Read()
	require.NoError(t, err)
	assert.Equal(t, os.Getpid(), pid)
	running, ok := pf.RunningPID()
	assert.True(t, ok)
	assert.Equal(t, os.Getpid(), running)

	require.NoError(t, pf.Acquire(), "re-acquiring by the owner is allowed")
}

func TestPIDFile_AcquireReplacesStaleFile(t *testing.T) {
	pf := ForDataDir(t.TempDir())
	writePID(t, pf.Path(), stalePID)

	require.NoError(t, pf.Acquire())

	pid, err := pf.Read()
	require.NoError(t, err)
	assert.Equal(t, os.Getpid(), pid)
}

func TestPIDFile_AcquireRefusesLiveOwner(t *testing.T) {
	// Given: a file owned by another live process (our parent)
	pf := ForDataDir(t.TempDir())
	writePID(t, pf.Path(), os.Getppid())

	// When
	err := pf.Acquire()

	// Then
	var running *AlreadyRunningError
	require.ErrorAs(t, err, &running)
	assert.Equal(t, os.Getppid(), running.PID)
	assert.Contains(t, err.Error(), "already running")
}

func TestPIDFile_ReleaseOnlyRemovesOwnFile(t *testing.T) {
	pf := ForDataDir(t.TempDir())
	require.NoError(t, pf.Release(), "no file is fine")

	writePID(t, pf.Path(), os.Getppid())
	require.NoError(t, pf.Release())
	assert.FileExists(t, pf.Path())

	require.NoError(t, os.Remove(pf.Path()))
	require.NoError(t, pf.Acquire())
	require.NoError(t, pf.Release())
	assert.NoFileExists(t, pf.Path())
}

func TestPIDFile_Read(t *testing.T) {
	pf := NewPIDFile(filepath.Join(t.TempDir(), "test.pid"))

	_, err := pf.Read()
	assert.ErrorIs(t, err, ErrPIDFileNotFound)

	require.NoError(t, os.WriteFile(pf.Path(), []byte("12345\n"), 0o644))
	pid, err := pf.Read()
	require.NoError(t, err)
	assert.Equal(t, 12345, pid)

	require.NoError(t, os.WriteFile(pf.Path(), []byte("not-a-pid"), 0o644))
	_, err = pf.Read()
	assert.Error(t, err)
}

func TestPIDFile_RunningPID_Stale(t *testing.T) {
	pf := NewPIDFile(filepath.Join(t.TempDir(), "test.pid"))
	writePID(t, pf.Path(), stalePID)

	_, ok := pf.RunningPID()
	assert.False(t, ok)
}

func TestPIDFile_Signal(t *testing.T) {
	pf := NewPIDFile(filepath.Join(t.TempDir(), "test.pid"))

	assert.ErrorIs(t, pf.Signal(syscall.Signal(0)), ErrPIDFileNotFound)

	writePID(t, pf.Path(), stalePID)
	assert.ErrorIs(t, pf.Signal(syscall.Signal(0)), ErrNotRunning)

	writePID(t, pf.Path(), os.Getpid())
	assert.NoError(t, pf.Signal(syscall.Signal(0)))
}

func TestPIDFile_WaitExit(t *testing.T) {
	pf := NewPIDFile(filepath.Join(t.TempDir(), "test.pid"))

	// Given: no process recorded, waiting returns at once
	require.NoError(t, pf.WaitExit(context.Background(), 10*time.Millisecond))

	// When: the recorded process never exits
	writePID(t, pf.Path(), os.Getpid())
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	// Then: waiting gives up with the context
	assert.ErrorIs(t, pf.WaitExit(ctx, 10*time.Millisecond), context.DeadlineExceeded)
}
