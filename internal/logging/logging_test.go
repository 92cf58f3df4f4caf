package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestDefaultLogPath(t *testing.T) {
	dir := DefaultLogDir()
	if !strings.HasSuffix(dir, filepath.Join(".entityidx", "logs")) {
		t.Errorf("DefaultLogDir() = %s, want suffix .entityidx/logs", dir)
	}
	if got := DefaultLogPath(); got != filepath.Join(dir, "entityidx.log") {
		t.Errorf("DefaultLogPath() = %s", got)
	}
}

func TestFileConfig(t *testing.T) {
	cfg := FileConfig("debug")

	if cfg.Level != "debug" {
		t.Errorf("Level = %s, want debug", cfg.Level)
	}
	if cfg.FilePath != DefaultLogPath() {
		t.Errorf("FilePath = %s, want %s", cfg.FilePath, DefaultLogPath())
	}
	if cfg.Stderr == nil {
		t.Error("FileConfig should keep console logging")
	}
}

func TestSetup_FileAndConsole(t *testing.T) {
	// Given: file logging plus a console buffer
	logPath := filepath.Join(t.TempDir(), "test.log")
	var console bytes.Buffer

	logger, cleanup, err := Setup(Config{Level: "info", FilePath: logPath, Stderr: &console})
	if err != nil {
		t.Fatalf("Setup failed: %v", err)
	}

	// When
	logger.Debug("hidden")
	logger.Info("pass_complete", slog.Int("entries", 3))
	cleanup()

	// Then: the file has one JSON line, the console one text line
	data, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 1 {
		t.Fatalf("expected 1 file line, got %d: %q", len(lines), data)
	}
	var rec map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &rec); err != nil {
		t.Fatalf("file line is not JSON: %v", err)
	}
	if rec["msg"] != "pass_complete" || rec["entries"] != float64(3) {
		t.Errorf("unexpected record: %v", rec)
	}
	if !strings.Contains(console.String(), "msg=pass_complete entries=3") {
		t.Errorf("console output = %q", console.String())
	}
	if strings.Contains(console.String(), "hidden") {
		t.Error("debug record leaked past info level")
	}
}

func TestSetup_WithAttrsReachesEveryHandler(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "test.log")
	var console bytes.Buffer
	logger, cleanup, err := Setup(Config{Level: "debug", FilePath: logPath, Stderr: &console})
	if err != nil {
		t.Fatalf("Setup failed: %v", err)
	}

	logger.With(slog.String("component", "watch")).Debug("tick")
	cleanup()

	data, _ := os.ReadFile(logPath)
	if !strings.Contains(string(data), `"component":"watch"`) {
		t.Errorf("file missing attr: %s", data)
	}
	if !strings.Contains(console.String(), "component=watch") {
		t.Errorf("console missing attr: %s", console.String())
	}
}

func TestSetup_NoOutputs(t *testing.T) {
	logger, cleanup, err := Setup(Config{})
	if err != nil {
		t.Fatalf("Setup failed: %v", err)
	}
	defer cleanup()
	logger.Info("discarded")
}

func TestLevelFromString(t *testing.T) {
	tests := []struct {
		input string
		want  slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"INFO", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"nonsense", slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := LevelFromString(tt.input); got != tt.want {
			t.Errorf("LevelFromString(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}
}

func TestFindLogFile(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	if _, err := FindLogFile(""); err == nil {
		t.Error("expected error with no log file")
	}
	if _, err := FindLogFile("/does/not/exist.log"); err == nil {
		t.Error("expected error for missing explicit path")
	}

	explicit := filepath.Join(t.TempDir(), "x.log")
	if err := os.WriteFile(explicit, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	got, err := FindLogFile(explicit)
	if err != nil || got != explicit {
		t.Errorf("FindLogFile(explicit) = %s, %v", got, err)
	}

	if err := EnsureLogDir(); err != nil {
		t.Fatalf("EnsureLogDir: %v", err)
	}
	if err := os.WriteFile(DefaultLogPath(), nil, 0o644); err != nil {
		t.Fatal(err)
	}
	got, err = FindLogFile("")
	if err != nil || got != DefaultLogPath() {
		t.Errorf("FindLogFile(\"\") = %s, %v", got, err)
	}
}

// ============================================================================
// RotatingWriter
// ============================================================================

func TestRotatingWriter_WritesAreVisibleImmediately(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "test.log")
	w, err := NewRotatingWriter(logPath, 1, 3)
	if err != nil {
		t.Fatalf("failed to create writer: %v", err)
	}
	defer w.Close()

	data := []byte(`{"level":"INFO","msg":"test"}` + "\n")
	n, err := w.Write(data)
	if err != nil || n != len(data) {
		t.Fatalf("Write = %d, %v", n, err)
	}

	content, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatal(err)
	}
	if string(content) != string(data) {
		t.Errorf("got %q, want %q", content, data)
	}
}

func TestRotatingWriter_AppendsToExisting(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "test.log")
	if err := os.WriteFile(logPath, []byte("old\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	w, err := NewRotatingWriter(logPath, 1, 3)
	if err != nil {
		t.Fatal(err)
	}
	w.SetSyncEach(false)
	_, _ = w.Write([]byte("new\n"))
	_ = w.Close()

	content, _ := os.ReadFile(logPath)
	if string(content) != "old\nnew\n" {
		t.Errorf("content = %q", content)
	}
}

func TestRotatingWriter_Rotation(t *testing.T) {
	// Given: a writer whose size limit every write exceeds
	logPath := filepath.Join(t.TempDir(), "rotate.log")
	w, err := NewRotatingWriter(logPath, 0, 2)
	if err != nil {
		t.Fatal(err)
	}
	defer w.Close()

	// When: writing four records
	for _, rec := range []string{"a\n", "b\n", "c\n", "d\n"} {
		if _, err := w.Write([]byte(rec)); err != nil {
			t.Fatalf("write failed: %v", err)
		}
	}

	// Then: the newest is current, older ones shifted, the oldest dropped
	want := map[string]string{logPath: "d\n", logPath + ".1": "c\n", logPath + ".2": "b\n"}
	for path, content := range want {
		got, err := os.ReadFile(path)
		if err != nil {
			t.Fatalf("read %s: %v", path, err)
		}
		if string(got) != content {
			t.Errorf("%s = %q, want %q", filepath.Base(path), got, content)
		}
	}
	if _, err := os.Stat(logPath + ".3"); !os.IsNotExist(err) {
		t.Error(".3 should not exist with maxFiles=2")
	}
}

func TestRotatingWriter_CloseIsIdempotent(t *testing.T) {
	w, err := NewRotatingWriter(filepath.Join(t.TempDir(), "c.log"), 1, 1)
	if err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Errorf("first close: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Errorf("second close: %v", err)
	}
	if err := w.Sync(); err != nil {
		t.Errorf("sync after close: %v", err)
	}
	if _, err := w.Write([]byte("x")); err == nil {
		t.Error("write after close should fail")
	}
}

func TestRotatingWriter_ConcurrentWrites(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "concurrent.log")
	w, err := NewRotatingWriter(logPath, 1, 3)
	if err != nil {
		t.Fatal(err)
	}
	w.SetSyncEach(false)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				_, _ = w.Write([]byte("line\n"))
			}
		}()
	}
	wg.Wait()
	_ = w.Close()

	content, _ := os.ReadFile(logPath)
	if got := strings.Count(string(content), "line\n"); got != 400 {
		t.Errorf("expected 400 lines, got %d", got)
	}
}

// ============================================================================
// Viewer
// ============================================================================

const sampleLog = `{"time":"2026-01-01T10:00:00Z","level":"DEBUG","msg":"batch_begin","batch":1}
{"time":"2026-01-01T10:00:01Z","level":"INFO","msg":"pass_complete","entries":3}
not json
{"time":"2026-01-01T10:00:02Z","level":"ERROR","msg":"hook_failed","hook":"topic"}
`

func writeSample(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "entityidx.log")
	if err := os.WriteFile(path, []byte(sampleLog), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestViewer_Tail(t *testing.T) {
	path := writeSample(t)
	v := NewViewer(ViewerConfig{NoColor: true}, nil)

	all, err := v.Tail(path, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 4 {
		t.Fatalf("expected 4 entries, got %d", len(all))
	}

	last, err := v.Tail(path, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(last) != 2 || last[0].IsValid || last[1].Msg != "hook_failed" {
		t.Errorf("unexpected tail: %+v", last)
	}
}

func TestViewer_Tail_Filters(t *testing.T) {
	path := writeSample(t)

	byLevel, err := NewViewer(ViewerConfig{Level: "info", NoColor: true}, nil).Tail(path, 10)
	if err != nil {
		t.Fatal(err)
	}
	// Invalid lines are never dropped by the level filter.
	if len(byLevel) != 3 {
		t.Errorf("level filter: expected 3 entries, got %d", len(byLevel))
	}

	byPattern, err := NewViewer(ViewerConfig{Pattern: regexp.MustCompile(`hook`), NoColor: true}, nil).Tail(path, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(byPattern) != 1 || byPattern[0].Msg != "hook_failed" {
		t.Errorf("pattern filter: %+v", byPattern)
	}
}

func TestViewer_Tail_MissingFile(t *testing.T) {
	v := NewViewer(ViewerConfig{}, nil)
	if _, err := v.Tail("/no/such/file.log", 10); err == nil {
		t.Error("expected error")
	}
}

func TestViewer_FormatEntry(t *testing.T) {
	v := NewViewer(ViewerConfig{NoColor: true}, nil)
	e := parseLine(`{"time":"2026-01-01T10:00:01.5Z","level":"INFO","msg":"pass_complete","z":1,"a":"x"}`)

	got := v.FormatEntry(e)

	want := "10:00:01.500 INFO  pass_complete a=x z=1"
	if got != want {
		t.Errorf("FormatEntry = %q, want %q", got, want)
	}
	if raw := v.FormatEntry(parseLine("plain text")); raw != "plain text" {
		t.Errorf("invalid entry should be raw, got %q", raw)
	}
}

func TestViewer_Print(t *testing.T) {
	var out bytes.Buffer
	v := NewViewer(ViewerConfig{NoColor: true}, &out)

	v.Print([]LogEntry{parseLine("one"), parseLine("two")})

	if out.String() != "one\ntwo\n" {
		t.Errorf("Print output = %q", out.String())
	}
}

func TestViewer_Follow(t *testing.T) {
	// Given: a follower on an existing log
	path := writeSample(t)
	v := NewViewer(ViewerConfig{NoColor: true}, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	entries := make(chan LogEntry, 4)
	done := make(chan error, 1)
	go func() { done <- v.Follow(ctx, path, entries) }()
	time.Sleep(200 * time.Millisecond)

	// When: a line is appended
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatal(err)
	}
	_, _ = f.WriteString(`{"time":"2026-01-01T10:00:03Z","level":"INFO","msg":"appended"}` + "\n")
	_ = f.Close()

	// Then: only the new line is delivered
	select {
	case e := <-entries:
		if e.Msg != "appended" {
			t.Errorf("got %q, want appended", e.Msg)
		}
	case <-ctx.Done():
		t.Fatal("timed out waiting for followed entry")
	}
	cancel()
	if err := <-done; err != nil {
		t.Errorf("Follow returned %v", err)
	}
}
