package watcher

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watch modes reported by QueueWatcher.Mode.
const (
	ModeFsnotify = "fsnotify"
	ModePolling  = "polling"
)

// QueueWatcher calls onChange after writes to the queue database settle.
type QueueWatcher struct {
	dbPath   string
	files    map[string]struct{}
	opts     Options
	onChange func([]Event)
	logger   *slog.Logger

	mu      sync.Mutex
	mode    string
	running bool
	batches atomic.Uint64
}

// NewQueueWatcher creates a watcher for the queue database at dbPath.
// onChange runs on the watcher goroutine, one batch at a time.
func NewQueueWatcher(dbPath string, opts Options, onChange func([]Event)) (*QueueWatcher, error) {
	if dbPath == "" {
		return nil, fmt.Errorf("queue path is required")
	}
	if onChange == nil {
		return nil, fmt.Errorf("change callback is required")
	}
	abs, err := filepath.Abs(dbPath)
	if err != nil {
		return nil, fmt.Errorf("resolve absolute path: %w", err)
	}
	files := map[string]struct{}{
		abs:              {},
		abs + "-wal":     {},
		abs + "-journal": {},
	}
	return &QueueWatcher{
		dbPath:   abs,
		files:    files,
		opts:     opts.WithDefaults(),
		onChange: onChange,
		logger:   slog.Default(),
	}, nil
}

// Run watches until ctx is done. It returns nil on cancellation.
func (w *QueueWatcher) Run(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return fmt.Errorf("queue watcher already running")
	}
	w.running = true
	w.mu.Unlock()
	defer func() {
		w.mu.Lock()
		w.running = false
		w.mu.Unlock()
	}()

	if err := os.MkdirAll(filepath.Dir(w.dbPath), 0o755); err != nil {
		return fmt.Errorf("create queue directory: %w", err)
	}

	d := NewDebouncer(w.opts.DebounceWindow, w.opts.MaxWait)
	defer d.Stop()

	done := make(chan struct{})
	go func() {
		defer close(done)
		w.forward(d.Output())
	}()

	polling := w.opts.ForcePolling
	var fsw *fsnotify.Watcher
	if !polling {
		var err error
		if fsw, err = w.openFsnotify(); err != nil {
			w.logger.Warn("watcher_fallback_polling",
				slog.String("path", w.dbPath),
				slog.String("error", err.Error()))
			polling = true
		}
	}

	var err error
	if polling {
		w.setMode(ModePolling)
		err = w.runPolling(ctx, d)
	} else {
		w.setMode(ModeFsnotify)
		err = w.runFsnotify(ctx, fsw, d)
	}

	d.Stop()
	<-done
	return err
}

func (w *QueueWatcher) openFsnotify() (*fsnotify.Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fsw.Add(filepath.Dir(w.dbPath)); err != nil {
		_ = fsw.Close()
		return nil, err
	}
	return fsw, nil
}

func (w *QueueWatcher) runFsnotify(ctx context.Context, fsw *fsnotify.Watcher, d *Debouncer) error {
	defer fsw.Close()
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			if e, keep := w.convert(event); keep {
				d.Add(e)
			}
		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("watcher_error", slog.String("error", err.Error()))
		}
	}
}

// convert maps an fsnotify event on a queue file to an Event.
func (w *QueueWatcher) convert(event fsnotify.Event) (Event, bool) {
	if _, ok := w.files[filepath.Clean(event.Name)]; !ok {
		return Event{}, false
	}
	var op Operation
	switch {
	case event.Op&fsnotify.Create != 0:
		op = OpCreate
	case event.Op&fsnotify.Write != 0:
		op = OpModify
	case event.Op&(fsnotify.Remove|fsnotify.Rename) != 0:
		op = OpDelete
	default:
		return Event{}, false
	}
	return Event{Path: event.Name, Operation: op, Timestamp: time.Now()}, true
}

func (w *QueueWatcher) runPolling(ctx context.Context, d *Debouncer) error {
	paths := make([]string, 0, len(w.files))
	for p := range w.files {
		paths = append(paths, p)
	}
	p := NewPollingWatcher(w.opts.PollInterval, w.opts.EventBufferSize, paths...)

	go func() {
		for e := range p.Events() {
			d.Add(e)
		}
	}()
	return p.Start(ctx)
}

func (w *QueueWatcher) forward(batches <-chan []Event) {
	for batch := range batches {
		n := w.batches.Add(1)
		w.logger.Debug("queue_changed",
			slog.Int("events", len(batch)),
			slog.Uint64("batch", n))
		w.onChange(batch)
	}
}

func (w *QueueWatcher) setMode(mode string) {
	w.mu.Lock()
	w.mode = mode
	w.mu.Unlock()
}

// Mode returns ModeFsnotify or ModePolling once Run has started.
func (w *QueueWatcher) Mode() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.mode
}

// Batches returns how many change batches have been delivered.
func (w *QueueWatcher) Batches() uint64 {
	return w.batches.Load()
}
