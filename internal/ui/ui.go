// Package ui renders indexing progress and store status on the terminal.
package ui

import (
	"io"
	"os"

	"github.com/mattn/go-isatty"

	"github.com/Aman-CERP/entityidx/internal/async"
)

// Renderer displays the progress of an indexing pass. Progress is called
// after every batch and once more with done set when the pass ends.
type Renderer interface {
	Progress(snap async.StatusSnapshot, done bool)
}

// Config configures the renderer.
type Config struct {
	Output     io.Writer
	ForcePlain bool
	NoColor    bool
	// Label prefixes every progress line, e.g. "reindex".
	Label string
}

// NewRenderer returns a single-line live renderer for interactive
// terminals, and a line-per-batch plain renderer for CI, pipes, or when
// ForcePlain is set.
func NewRenderer(cfg Config) Renderer {
	if cfg.NoColor || DetectNoColor() {
		cfg.NoColor = true
	}
	if cfg.ForcePlain || !IsTTY(cfg.Output) || DetectCI() {
		return NewPlainRenderer(cfg)
	}
	return NewLiveRenderer(cfg)
}

// IsTTY checks if output is a terminal.
func IsTTY(w io.Writer) bool {
	if w == nil {
		return false
	}
	if f, ok := w.(*os.File); ok {
		return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
	}
	return false
}

// DetectNoColor checks if the NO_COLOR environment variable is set.
func DetectNoColor() bool {
	_, exists := os.LookupEnv("NO_COLOR")
	return exists
}

// DetectCI checks if running in a CI environment.
func DetectCI() bool {
	for _, v := range []string{"CI", "GITHUB_ACTIONS", "GITLAB_CI", "JENKINS_URL", "TRAVIS"} {
		if _, exists := os.LookupEnv(v); exists {
			return true
		}
	}
	return false
}
