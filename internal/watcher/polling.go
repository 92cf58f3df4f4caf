package watcher

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"time"
)

// PollingWatcher detects changes to a fixed set of files by comparing their
// size and modification time on every tick. It is the fallback when
// fsnotify is unavailable.
type PollingWatcher struct {
	interval time.Duration
	paths    []string
	state    map[string]fileSnapshot
	events   chan Event
	stopCh   chan struct{}
	mu       sync.Mutex
	stopped  bool
}

type fileSnapshot struct {
	modTime time.Time
	size    int64
}

// NewPollingWatcher creates a watcher over paths.
func NewPollingWatcher(interval time.Duration, bufferSize int, paths ...string) *PollingWatcher {
	return &PollingWatcher{
		interval: interval,
		paths:    paths,
		state:    make(map[string]fileSnapshot),
		events:   make(chan Event, bufferSize),
		stopCh:   make(chan struct{}),
	}
}

// Start records a baseline and polls until ctx is done or Stop is called.
func (p *PollingWatcher) Start(ctx context.Context) error {
	p.mu.Lock()
	p.state = p.snapshot()
	p.mu.Unlock()

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			_ = p.Stop()
			return nil
		case <-p.stopCh:
			return nil
		case <-ticker.C:
			p.detectChanges()
		}
	}
}

func (p *PollingWatcher) snapshot() map[string]fileSnapshot {
	current := make(map[string]fileSnapshot, len(p.paths))
	for _, path := range p.paths {
		info, err := os.Stat(path)
		if err != nil {
			continue
		}
		current[path] = fileSnapshot{modTime: info.ModTime(), size: info.Size()}
	}
	return current
}

func (p *PollingWatcher) detectChanges() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		return
	}

	current := p.snapshot()
	now := time.Now()
	for _, path := range p.paths {
		prev, had := p.state[path]
		cur, has := current[path]
		switch {
		case has && !had:
			p.emit(Event{Path: path, Operation: OpCreate, Timestamp: now})
		case !has && had:
			p.emit(Event{Path: path, Operation: OpDelete, Timestamp: now})
		case has && (cur.modTime != prev.modTime || cur.size != prev.size):
			p.emit(Event{Path: path, Operation: OpModify, Timestamp: now})
		}
	}
	p.state = current
}

// emit must be called with lock held.
func (p *PollingWatcher) emit(event Event) {
	select {
	case p.events <- event:
	default:
		slog.Warn("polling_watcher_buffer_full",
			slog.String("path", event.Path),
			slog.String("op", event.Operation.String()))
	}
}

// Events returns the channel of file events. It is closed by Stop.
func (p *PollingWatcher) Events() <-chan Event {
	return p.events
}

// Stop stops the watcher. Safe to call multiple times.
func (p *PollingWatcher) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		return nil
	}
	p.stopped = true
	close(p.stopCh)
	close(p.events)
	return nil
}
