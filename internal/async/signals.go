package async

import "sync"

// SignalStop asks a running pass to stop at the next batch boundary.
const SignalStop = "stop"

// Signals is a set of named, externally settable flags shared between a
// running pass and whoever controls it. A nil *Signals has no flags set.
type Signals struct {
	mu  sync.RWMutex
	set map[string]bool
}

// NewSignals returns an empty signal set.
func NewSignals() *Signals {
	return &Signals{set: make(map[string]bool)}
}

// Set raises the named signal.
func (s *Signals) Set(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.set[name] = true
}

// Clear lowers the named signal.
func (s *Signals) Clear(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.set, name)
}

// IsSet reports whether the named signal is raised.
func (s *Signals) IsSet(name string) bool {
	if s == nil {
		return false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.set[name]
}
