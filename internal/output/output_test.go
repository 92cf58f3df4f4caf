package output

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWriter_Status_PrintsIconAndMessage(t *testing.T) {
	// Given: a writer with a buffer
	buf := &bytes.Buffer{}
	w := New(buf, false)

	// When: printing a status message
	w.Status(IconInfo, "Queued 3 entries")

	// Then: output contains icon and message
	assert.Equal(t, "📋 Queued 3 entries\n", buf.String())
}

func TestWriter_Status_EmptyIconIndents(t *testing.T) {
	buf := &bytes.Buffer{}
	w := New(buf, false)

	w.Status("", "detail")

	assert.Equal(t, "   detail\n", buf.String())
}

func TestWriter_Plain_ReplacesIcons(t *testing.T) {
	// Given: a plain writer
	buf := &bytes.Buffer{}
	w := New(buf, true)

	// When
	w.Success("done")
	w.Warningf("%d failures", 2)
	w.Errorf("failed: %s", "disk")
	w.Hint("run again")

	// Then: no emoji, ASCII markers instead
	assert.Equal(t, "[ok] done\n[warn] 2 failures\n[error] failed: disk\n  hint: run again\n", buf.String())
}

func TestWriter_Plain_KeepsUnknownIcons(t *testing.T) {
	buf := &bytes.Buffer{}
	w := New(buf, true)

	w.Status(">>", "custom")

	assert.Equal(t, ">> custom\n", buf.String())
}

func TestWriter_Code_IndentsLines(t *testing.T) {
	// Given: a multi-line block with a trailing newline
	buf := &bytes.Buffer{}
	w := New(buf, false)

	// When
	w.Code("version: 1\nstore:\n  backend: sqlite\n")

	// Then: every line is indented and the block is padded by blank lines
	assert.Equal(t, "\n  version: 1\n  store:\n    backend: sqlite\n\n", buf.String())
}

func TestWriter_Successf(t *testing.T) {
	buf := &bytes.Buffer{}
	w := New(buf, false)

	w.Successf("Imported %d products", 4)

	assert.Contains(t, buf.String(), "✅")
	assert.Contains(t, buf.String(), "Imported 4 products")
}
