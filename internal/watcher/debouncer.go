package watcher

import (
	"log/slog"
	"sort"
	"sync"
	"time"
)

// Debouncer coalesces bursts of events into batches. A batch is emitted
// once no event has arrived for the window, or once maxWait has passed
// since the first event of the burst, whichever comes first.
//
// Events for the same path within a batch are merged:
//   - CREATE + MODIFY = CREATE
//   - CREATE + DELETE = nothing
//   - DELETE + CREATE = MODIFY
//   - otherwise the latest operation wins
type Debouncer struct {
	window     time.Duration
	maxWait    time.Duration
	mu         sync.Mutex
	pending    map[string]Event
	burstStart time.Time
	output     chan []Event
	timer      *time.Timer
	stopped    bool
}

// NewDebouncer creates a debouncer. A maxWait below window is raised to it.
func NewDebouncer(window, maxWait time.Duration) *Debouncer {
	if maxWait < window {
		maxWait = window
	}
	return &Debouncer{
		window:  window,
		maxWait: maxWait,
		pending: make(map[string]Event),
		output:  make(chan []Event, 10),
	}
}

// Add adds an event to the current batch.
func (d *Debouncer) Add(event Event) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return
	}

	now := time.Now()
	if len(d.pending) == 0 && d.timer == nil {
		d.burstStart = now
	}

	if existing, ok := d.pending[event.Path]; ok {
		if merged, keep := coalesce(existing, event); keep {
			d.pending[event.Path] = merged
		} else {
			delete(d.pending, event.Path)
		}
	} else {
		d.pending[event.Path] = event
	}

	d.schedule(now)
}

func coalesce(existing, next Event) (Event, bool) {
	switch {
	case existing.Operation == OpCreate && next.Operation == OpModify:
		existing.Timestamp = next.Timestamp
		return existing, true
	case existing.Operation == OpCreate && next.Operation == OpDelete:
		return Event{}, false
	case existing.Operation == OpDelete && next.Operation == OpCreate:
		next.Operation = OpModify
		return next, true
	default:
		return next, true
	}
}

// schedule (re)arms the flush timer. Must be called with lock held.
func (d *Debouncer) schedule(now time.Time) {
	delay := d.window
	if remaining := d.maxWait - now.Sub(d.burstStart); remaining < delay {
		delay = max(remaining, 0)
	}
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(delay, d.flush)
}

// flush emits the pending batch, ordered by path.
func (d *Debouncer) flush() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.timer = nil
	if d.stopped || len(d.pending) == 0 {
		return
	}

	events := make([]Event, 0, len(d.pending))
	for _, e := range d.pending {
		events = append(events, e)
	}
	sort.Slice(events, func(i, j int) bool { return events[i].Path < events[j].Path })
	d.pending = make(map[string]Event)

	select {
	case d.output <- events:
	default:
		slog.Warn("debouncer_output_full",
			slog.Int("batch_size", len(events)))
	}
}

// Output returns the channel of debounced batches.
func (d *Debouncer) Output() <-chan []Event {
	return d.output
}

// Stop stops the debouncer and closes the output channel. Pending events
// are discarded. Safe to call multiple times.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return
	}
	d.stopped = true
	if d.timer != nil {
		d.timer.Stop()
	}
	close(d.output)
}
