package async

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBackgroundIndexer_Start_RunsInGoroutine(t *testing.T) {
	// Given: a runner with a quick pass
	var ran atomic.Bool
	b := NewBackgroundIndexer(IndexerConfig{DataDir: t.TempDir()},
		func(ctx context.Context, signals *Signals) (*IndexingStatus, error) {
			ran.Store(true)
			st := NewIndexingStatus(StatusConfig{Total: 1})
			st.IncreaseNumDocs(1)
			st.Finish()
			return st, nil
		})

	// When: starting and waiting
	b.Start(context.Background())
	err := b.Wait()

	// Then: the pass ran and its status is available
	require.NoError(t, err)
	assert.True(t, ran.Load())
	assert.False(t, b.IsRunning())
	require.NotNil(t, b.Status())
	assert.Equal(t, 1, b.Status().NumDocs())
}

func TestBackgroundIndexer_Stop_RaisesStopSignal(t *testing.T) {
	// Given: a pass that loops until it sees the stop signal
	entered := make(chan struct{})
	b := NewBackgroundIndexer(IndexerConfig{DataDir: t.TempDir()},
		func(ctx context.Context, signals *Signals) (*IndexingStatus, error) {
			st := NewIndexingStatus(StatusConfig{Total: TotalUnknown, BufSize: 1})
			close(entered)
			for !signals.IsSet(SignalStop) {
				time.Sleep(time.Millisecond)
			}
			st.SetAborted(true)
			st.Finish()
			return st, nil
		})

	b.Start(context.Background())
	<-entered

	// When: stopping
	b.Stop()

	// Then: the pass observed the signal and returned aborted
	assert.False(t, b.IsRunning())
	require.NotNil(t, b.Status())
	assert.True(t, b.Status().Aborted())
}

func TestBackgroundIndexer_PropagatesError(t *testing.T) {
	want := errors.New("expansion failed")
	b := NewBackgroundIndexer(IndexerConfig{},
		func(ctx context.Context, signals *Signals) (*IndexingStatus, error) {
			return nil, want
		})

	b.Start(context.Background())

	assert.ErrorIs(t, b.Wait(), want)
}

func TestBackgroundIndexer_LockFileRemovedAfterRun(t *testing.T) {
	dir := t.TempDir()
	sawLock := false
	b := NewBackgroundIndexer(IndexerConfig{DataDir: dir},
		func(ctx context.Context, signals *Signals) (*IndexingStatus, error) {
			sawLock = HasIncompleteLock(dir)
			return nil, nil
		})

	b.Start(context.Background())
	require.NoError(t, b.Wait())

	assert.True(t, sawLock)
	assert.False(t, HasIncompleteLock(dir))
}

func TestHasIncompleteLock_StaleFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "indexing.lock"), []byte("x"), 0o644))

	assert.True(t, HasIncompleteLock(dir))
	assert.False(t, HasIncompleteLock(t.TempDir()))
}

func TestBackgroundIndexer_StopBeforeStartIsNoop(t *testing.T) {
	b := NewBackgroundIndexer(IndexerConfig{}, func(ctx context.Context, signals *Signals) (*IndexingStatus, error) {
		return nil, nil
	})
	b.Stop()
	assert.False(t, b.IsRunning())
}

func TestSignals(t *testing.T) {
	var nilSignals *Signals
	assert.False(t, nilSignals.IsSet(SignalStop))

	s := NewSignals()
	assert.False(t, s.IsSet(SignalStop))
	s.Set(SignalStop)
	assert.True(t, s.IsSet(SignalStop))
	s.Clear(SignalStop)
	assert.False(t, s.IsSet(SignalStop))
}
