// Package profiling captures CPU, heap and execution trace profiles of an
// indexing run.
package profiling

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"runtime/pprof"
	"runtime/trace"
)

// Profile file names written into the session directory.
const (
	CPUFile   = "cpu.prof"
	HeapFile  = "heap.prof"
	TraceFile = "trace.out"
)

// Options selects the profiles of a session.
type Options struct {
	CPU   bool
	Heap  bool
	Trace bool
}

// AllProfiles enables every profile.
func AllProfiles() Options {
	return Options{CPU: true, Heap: true, Trace: true}
}

// Session profiles the process between Start and Stop. CPU and trace
// profiles cover the whole session; the heap profile is written at Stop.
type Session struct {
	dir       string
	opts      Options
	cpuFile   *os.File
	traceFile *os.File
	stopped   bool
}

// Start creates dir and begins the enabled profiles. Only one session may
// run at a time, since the runtime supports a single CPU profile and trace.
func Start(dir string, opts Options) (*Session, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create profile directory: %w", err)
	}
	s := &Session{dir: dir, opts: opts}

	if opts.CPU {
		f, err := os.Create(s.Path(CPUFile))
		if err != nil {
			return nil, fmt.Errorf("failed to create CPU profile file: %w", err)
		}
		if err := pprof.StartCPUProfile(f); err != nil {
			_ = f.Close()
			return nil, fmt.Errorf("failed to start CPU profile: %w", err)
		}
		s.cpuFile = f
	}

	if opts.Trace {
		f, err := os.Create(s.Path(TraceFile))
		if err != nil {
			s.stopCPU()
			return nil, fmt.Errorf("failed to create trace file: %w", err)
		}
		if err := trace.Start(f); err != nil {
			_ = f.Close()
			s.stopCPU()
			return nil, fmt.Errorf("failed to start trace: %w", err)
		}
		s.traceFile = f
	}

	return s, nil
}

// Path returns the path of a profile file in the session directory.
func (s *Session) Path(name string) string {
	return filepath.Join(s.dir, name)
}

// Stop ends the CPU profile and trace and writes the heap profile. Stopping
// twice is a no-op.
func (s *Session) Stop() error {
	if s.stopped {
		return nil
	}
	s.stopped = true

	var errs []error
	if s.traceFile != nil {
		trace.Stop()
		errs = append(errs, s.traceFile.Close())
		s.traceFile = nil
	}
	s.stopCPU()
	if s.opts.Heap {
		errs = append(errs, writeHeap(s.Path(HeapFile)))
	}
	return errors.Join(errs...)
}

func (s *Session) stopCPU() {
	if s.cpuFile != nil {
		pprof.StopCPUProfile()
		_ = s.cpuFile.Close()
		s.cpuFile = nil
	}
}

// writeHeap writes a heap profile after a GC, so it shows live objects.
func writeHeap(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create heap profile file: %w", err)
	}
	defer func() { _ = f.Close() }()

	runtime.GC()
	if err := pprof.WriteHeapProfile(f); err != nil {
		return fmt.Errorf("failed to write heap profile: %w", err)
	}
	return nil
}

// MemStats returns current memory statistics.
func MemStats() runtime.MemStats {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	return m
}
