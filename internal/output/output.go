// Package output prints short status lines for CLI commands.
package output

import (
	"fmt"
	"io"
	"strings"
)

// Icons used by Writer. Plain writers print the ASCII form instead.
const (
	IconSuccess = "✅"
	IconWarning = "⚠️ "
	IconError   = "❌"
	IconFile    = "📁"
	IconHint    = "💡"
	IconInfo    = "📋"
)

var plainIcons = map[string]string{
	IconSuccess: "[ok]",
	IconWarning: "[warn]",
	IconError:   "[error]",
	IconFile:    "  -",
	IconHint:    "  hint:",
	IconInfo:    "  *",
}

// Writer provides formatted output for CLI.
type Writer struct {
	out   io.Writer
	plain bool
}

// New creates a Writer. A plain Writer replaces icons with ASCII markers,
// for --no-color and for output that is parsed by scripts.
func New(out io.Writer, plain bool) *Writer {
	return &Writer{out: out, plain: plain}
}

// Status prints a status message with an icon. An empty icon indents the
// message under the previous line.
// Errors from writing are intentionally ignored for console output.
func (w *Writer) Status(icon, msg string) {
	if icon == "" {
		_, _ = fmt.Fprintf(w.out, "   %s\n", msg)
		return
	}
	if w.plain {
		if p, ok := plainIcons[icon]; ok {
			icon = p
		}
	}
	_, _ = fmt.Fprintf(w.out, "%s %s\n", icon, msg)
}

// Statusf prints a formatted status message with an icon.
func (w *Writer) Statusf(icon, format string, args ...any) {
	w.Status(icon, fmt.Sprintf(format, args...))
}

// Success prints a success message.
func (w *Writer) Success(msg string) {
	w.Status(IconSuccess, msg)
}

// Successf prints a formatted success message.
func (w *Writer) Successf(format string, args ...any) {
	w.Success(fmt.Sprintf(format, args...))
}

// Warning prints a warning message.
func (w *Writer) Warning(msg string) {
	w.Status(IconWarning, msg)
}

// Warningf prints a formatted warning message.
func (w *Writer) Warningf(format string, args ...any) {
	w.Warning(fmt.Sprintf(format, args...))
}

// Error prints an error message.
func (w *Writer) Error(msg string) {
	w.Status(IconError, msg)
}

// Errorf prints a formatted error message.
func (w *Writer) Errorf(format string, args ...any) {
	w.Error(fmt.Sprintf(format, args...))
}

// Hint prints a suggestion for the next command to run.
func (w *Writer) Hint(msg string) {
	w.Status(IconHint, msg)
}

// Code prints an indented block, such as a config file.
func (w *Writer) Code(content string) {
	_, _ = fmt.Fprintln(w.out)
	for _, line := range strings.Split(strings.TrimRight(content, "\n"), "\n") {
		_, _ = fmt.Fprintf(w.out, "  %s\n", line)
	}
	_, _ = fmt.Fprintln(w.out)
}

// Newline prints an empty line.
func (w *Writer) Newline() {
	_, _ = fmt.Fprintln(w.out)
}
