package ui

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/Aman-CERP/entityidx/internal/async"
)

// PlainRenderer prints one line per batch and a summary.
type PlainRenderer struct {
	mu     sync.Mutex
	out    io.Writer
	label  string
	styles Styles
}

// NewPlainRenderer creates a plain text renderer.
func NewPlainRenderer(cfg Config) *PlainRenderer {
	return &PlainRenderer{out: cfg.Output, label: cfg.Label, styles: GetStyles(cfg.NoColor)}
}

func (r *PlainRenderer) Progress(snap async.StatusSnapshot, done bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if done {
		_, _ = fmt.Fprintln(r.out, Summary(snap, r.styles))
		return
	}
	_, _ = fmt.Fprintf(r.out, "[%s] %s %s\n", r.label, window(snap), counts(snap))
}

// LiveRenderer redraws a single status line in place.
type LiveRenderer struct {
	mu     sync.Mutex
	out    io.Writer
	label  string
	styles Styles
	width  int
}

// NewLiveRenderer creates a renderer for interactive terminals.
func NewLiveRenderer(cfg Config) *LiveRenderer {
	return &LiveRenderer{out: cfg.Output, label: cfg.Label, styles: GetStyles(cfg.NoColor)}
}

func (r *LiveRenderer) Progress(snap async.StatusSnapshot, done bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if done {
		r.clear()
		_, _ = fmt.Fprintln(r.out, Summary(snap, r.styles))
		return
	}
	line := fmt.Sprintf("%s %s %s",
		r.styles.Active.Render(r.label), window(snap), r.styles.Label.Render(counts(snap)))
	r.clear()
	_, _ = fmt.Fprint(r.out, line)
	r.width = len(line)
}

func (r *LiveRenderer) clear() {
	if r.width > 0 {
		_, _ = fmt.Fprint(r.out, "\r"+strings.Repeat(" ", r.width)+"\r")
		r.width = 0
	}
}

// Summary renders the final line of a pass.
func Summary(snap async.StatusSnapshot, styles Styles) string {
	elapsed := time.Duration(snap.ElapsedSeconds * float64(time.Second)).Round(time.Millisecond)
	failures := snap.GeneralFailures + snap.HookFailures

	var head string
	switch {
	case snap.Aborted:
		head = styles.Warning.Render("Aborted")
	case failures > 0:
		head = styles.Warning.Render("Completed with failures")
	default:
		head = styles.Success.Render("Completed")
	}
	return fmt.Sprintf("%s: %d entries in %s (%s)", head, snap.EndIndex, elapsed, counts(snap))
}

func window(snap async.StatusSnapshot) string {
	if snap.Total >= 0 {
		return fmt.Sprintf("%d/%d", snap.EndIndex, snap.Total)
	}
	return fmt.Sprintf("%d", snap.EndIndex)
}

func counts(snap async.StatusSnapshot) string {
	s := fmt.Sprintf("docs=%d removed=%d filtered=%d", snap.NumDocs, snap.NumRemoved, snap.NumFiltered)
	if f := snap.GeneralFailures + snap.HookFailures; f > 0 {
		s += fmt.Sprintf(" failures=%d", f)
	}
	return s
}
