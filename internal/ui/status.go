package ui

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/Aman-CERP/entityidx/internal/telemetry"
)

// StatusInfo describes the stores of one project.
type StatusInfo struct {
	ProjectDir string `json:"project_dir"`
	DataDir    string `json:"data_dir"`
	Backend    string `json:"backend"`

	Entities     int `json:"entities"`
	Documents    int `json:"documents"`
	QueuePending int `json:"queue_pending"`

	EntityDBSize int64 `json:"entity_db_size"`
	DocStoreSize int64 `json:"doc_store_size"`
	QueueSize    int64 `json:"queue_size"`

	// LastIndexed is the modification time of the document store.
	LastIndexed time.Time `json:"last_indexed"`
	// PassRunning reports whether another process holds the pass lock.
	PassRunning bool `json:"pass_running"`
	// WatchPID is the running watch process, zero if none.
	WatchPID int `json:"watch_pid,omitempty"`
	// LastPass is the most recent recorded pass, if any.
	LastPass *telemetry.PassRecord `json:"last_pass,omitempty"`
}

// StatusRenderer displays store status.
type StatusRenderer struct {
	out    io.Writer
	styles Styles
}

// NewStatusRenderer creates a status renderer.
func NewStatusRenderer(out io.Writer, noColor bool) *StatusRenderer {
	return &StatusRenderer{out: out, styles: GetStyles(noColor)}
}

// Render displays status info to the terminal.
func (r *StatusRenderer) Render(info StatusInfo) error {
	_, _ = fmt.Fprintf(r.out, "%s\n\n", r.styles.Header.Render("Index Status: "+info.ProjectDir))

	_, _ = fmt.Fprintf(r.out, "  Entities:     %d\n", info.Entities)
	_, _ = fmt.Fprintf(r.out, "  Documents:    %d (%s)\n", info.Documents, info.Backend)
	_, _ = fmt.Fprintf(r.out, "  Queue:        %s\n", r.renderQueue(info.QueuePending))
	if !info.LastIndexed.IsZero() {
		_, _ = fmt.Fprintf(r.out, "  Last indexed: %s\n", formatTime(info.LastIndexed))
	}
	pass := r.styles.Dim.Render("idle")
	if info.PassRunning {
		pass = r.styles.Success.Render("running")
	}
	_, _ = fmt.Fprintf(r.out, "  Pass:         %s\n", pass)
	watch := r.styles.Dim.Render("not running")
	if info.WatchPID > 0 {
		watch = r.styles.Success.Render(fmt.Sprintf("running (pid %d)", info.WatchPID))
	}
	_, _ = fmt.Fprintf(r.out, "  Watch:        %s\n", watch)
	if lp := info.LastPass; lp != nil {
		_, _ = fmt.Fprintf(r.out, "  Last pass:    %s\n", r.renderPass(*lp))
	}
	_, _ = fmt.Fprintln(r.out)

	_, _ = fmt.Fprintln(r.out, "  Storage:", r.styles.Label.Render(info.DataDir))
	_, _ = fmt.Fprintf(r.out, "    Entities:   %s\n", FormatBytes(info.EntityDBSize))
	_, _ = fmt.Fprintf(r.out, "    Documents:  %s\n", FormatBytes(info.DocStoreSize))
	_, _ = fmt.Fprintf(r.out, "    Queue:      %s\n", FormatBytes(info.QueueSize))
	_, _ = fmt.Fprintf(r.out, "    Total:      %s\n", FormatBytes(info.EntityDBSize+info.DocStoreSize+info.QueueSize))

	return nil
}

// RenderJSON outputs status as JSON.
func (r *StatusRenderer) RenderJSON(info StatusInfo) error {
	encoder := json.NewEncoder(r.out)
	encoder.SetIndent("", "  ")
	return encoder.Encode(info)
}

func (r *StatusRenderer) renderQueue(pending int) string {
	if pending == 0 {
		return r.styles.Success.Render("empty")
	}
	return r.styles.Warning.Render(fmt.Sprintf("%d pending", pending))
}

// renderPass summarizes a recorded pass on one line.
func (r *StatusRenderer) renderPass(p telemetry.PassRecord) string {
	line := fmt.Sprintf("%s, %s, %d entries (docs=%d removed=%d filtered=%d)",
		p.HookType, formatTime(p.FinishedAt), p.Entries, p.Docs, p.Removed, p.Filtered)
	switch {
	case p.Aborted:
		return r.styles.Warning.Render(line + " aborted")
	case p.Failures() > 0:
		return r.styles.Warning.Render(fmt.Sprintf("%s failures=%d", line, p.Failures()))
	default:
		return line
	}
}

func formatTime(t time.Time) string {
	diff := time.Since(t)

	switch {
	case diff < time.Minute:
		return "just now"
	case diff < time.Hour:
		return plural(int(diff.Minutes()), "minute")
	case diff < 24*time.Hour:
		return plural(int(diff.Hours()), "hour")
	case diff < 7*24*time.Hour:
		return plural(int(diff.Hours()/24), "day")
	default:
		return t.Format("2006-01-02 15:04")
	}
}

func plural(n int, unit string) string {
	if n == 1 {
		return fmt.Sprintf("1 %s ago", unit)
	}
	return fmt.Sprintf("%d %ss ago", n, unit)
}

// FormatBytes formats bytes to human-readable format.
func FormatBytes(bytes int64) string {
	const (
		KB = 1024
		MB = 1024 * KB
		GB = 1024 * MB
	)

	switch {
	case bytes >= GB:
		return fmt.Sprintf("%.1f GB", float64(bytes)/float64(GB))
	case bytes >= MB:
		return fmt.Sprintf("%.1f MB", float64(bytes)/float64(MB))
	case bytes >= KB:
		return fmt.Sprintf("%.1f KB", float64(bytes)/float64(KB))
	default:
		return fmt.Sprintf("%d B", bytes)
	}
}
