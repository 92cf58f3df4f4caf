package async

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// PassFunc runs one indexing pass. It must poll signals for SignalStop.
type PassFunc func(ctx context.Context, signals *Signals) (*IndexingStatus, error)

// IndexerConfig configures the BackgroundIndexer.
type IndexerConfig struct {
	DataDir string
}

// BackgroundIndexer runs one pass in a background goroutine. Stop raises
// the stop signal, so the pass ends at its next batch boundary with an
// aborted status rather than being killed mid-batch.
type BackgroundIndexer struct {
	config  IndexerConfig
	pass    PassFunc
	signals *Signals

	doneCh chan struct{}

	mu      sync.Mutex
	started bool
	running bool
	status  *IndexingStatus
	err     error
}

// NewBackgroundIndexer creates a background runner for pass.
func NewBackgroundIndexer(cfg IndexerConfig, pass PassFunc) *BackgroundIndexer {
	return &BackgroundIndexer{
		config:  cfg,
		pass:    pass,
		signals: NewSignals(),
		doneCh:  make(chan struct{}),
	}
}

// Signals returns the signal set handed to the pass.
func (b *BackgroundIndexer) Signals() *Signals {
	return b.signals
}

// IsRunning returns true if the pass is currently running.
func (b *BackgroundIndexer) IsRunning() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.running
}

// Status returns the status of the finished pass, or nil while it runs.
func (b *BackgroundIndexer) Status() *IndexingStatus {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.status
}

// Start begins the pass in a background goroutine. It is non-blocking and
// a BackgroundIndexer runs at most once.
func (b *BackgroundIndexer) Start(ctx context.Context) {
	b.mu.Lock()
	if b.started {
		b.mu.Unlock()
		return
	}
	b.started = true
	b.running = true
	b.mu.Unlock()

	go b.run(ctx)
}

func (b *BackgroundIndexer) run(ctx context.Context) {
	defer close(b.doneCh)
	defer func() {
		b.mu.Lock()
		b.running = false
		b.mu.Unlock()
	}()

	if b.config.DataDir != "" {
		lockPath := filepath.Join(b.config.DataDir, "indexing.lock")
		if err := os.MkdirAll(b.config.DataDir, 0o755); err != nil {
			b.finish(nil, err)
			return
		}
		if err := os.WriteFile(lockPath, []byte(time.Now().Format(time.RFC3339)), 0o644); err != nil {
			b.finish(nil, err)
			return
		}
		defer func() { _ = os.Remove(lockPath) }()
	}

	status, err := b.pass(ctx, b.signals)
	b.finish(status, err)
}

func (b *BackgroundIndexer) finish(status *IndexingStatus, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.status = status
	b.err = err
}

// Stop raises the stop signal and waits for the pass to return.
func (b *BackgroundIndexer) Stop() {
	b.mu.Lock()
	started := b.started
	b.mu.Unlock()
	if !started {
		return
	}

	b.signals.Set(SignalStop)
	<-b.doneCh
}

// Wait blocks until the pass completes and returns its error.
func (b *BackgroundIndexer) Wait() error {
	<-b.doneCh
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.err
}

// HasIncompleteLock checks for a lock file left by an interrupted pass.
func HasIncompleteLock(dataDir string) bool {
	_, err := os.Stat(filepath.Join(dataDir, "indexing.lock"))
	return err == nil
}
