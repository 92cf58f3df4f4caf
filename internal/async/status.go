// Package async provides pass-level bookkeeping for indexing runs: the
// IndexingStatus aggregate, cooperative cancellation signals, and a
// background runner.
package async

import (
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// DefaultMaxFailureRecords bounds the failure log kept on a status.
const DefaultMaxFailureRecords = 100

// TotalUnknown marks a pass whose item count is not known up front
// (streaming sources).
const TotalUnknown = -1

// FailureKind distinguishes per-item failures from hook failures.
type FailureKind string

const (
	FailureGeneral FailureKind = "general"
	FailureHook    FailureKind = "hook"
)

// Failure is one recorded failure of a pass.
type Failure struct {
	Kind    FailureKind `json:"kind"`
	ID      string      `json:"id,omitempty"`
	Hook    string      `json:"hook,omitempty"`
	Phase   string      `json:"phase,omitempty"`
	Message string      `json:"message"`
	Err     error       `json:"-"`
}

// StatusConfig configures a new IndexingStatus.
type StatusConfig struct {
	// HookType is the hook registry tag the pass resolved its handlers from.
	HookType string
	// Total is the number of identities expected, or TotalUnknown.
	Total int
	// BufSize is the batch bound; <= 0 means a single unbounded batch.
	BufSize int
	// LogPrefix is prepended to log messages emitted by the status.
	LogPrefix string
	// MaxFailureRecords caps Failures(); defaults to DefaultMaxFailureRecords.
	MaxFailureRecords int
	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// IndexingStatus aggregates the progress and outcome of one indexing pass.
// The pass mutates it; once Finish is called it is read-only.
type IndexingStatus struct {
	mu sync.RWMutex

	hookType  string
	total     int
	bufSize   int
	logPrefix string
	logger    *slog.Logger
	startTime time.Time
	endTime   time.Time

	numDocs         int
	numFiltered     int
	numRemoved      int
	generalFailures int
	hookFailures    int
	startIndex      int
	endIndex        int
	aborted         bool
	finished        bool

	maxFailures int
	failures    []Failure
}

// NewIndexingStatus creates the status for a new pass.
func NewIndexingStatus(cfg StatusConfig) *IndexingStatus {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	maxFailures := cfg.MaxFailureRecords
	if maxFailures <= 0 {
		maxFailures = DefaultMaxFailureRecords
	}
	return &IndexingStatus{
		hookType:    cfg.HookType,
		total:       cfg.Total,
		bufSize:     cfg.BufSize,
		logPrefix:   cfg.LogPrefix,
		logger:      logger,
		startTime:   time.Now(),
		maxFailures: maxFailures,
	}
}

// mutate runs fn under the write lock unless the status is finished.
func (s *IndexingStatus) mutate(op string, fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.finished {
		s.logger.Debug("status_mutation_after_finish", slog.String("op", op))
		return
	}
	fn()
}

// IncreaseNumDocs records n successfully built documents.
func (s *IndexingStatus) IncreaseNumDocs(n int) {
	s.mutate("num_docs", func() { s.numDocs += n })
}

// IncreaseNumFiltered records n identities the builder filtered out.
func (s *IndexingStatus) IncreaseNumFiltered(n int) {
	s.mutate("num_filtered", func() { s.numFiltered += n })
}

// IncreaseNumRemoved records n identities added to the removal set.
func (s *IndexingStatus) IncreaseNumRemoved(n int) {
	s.mutate("num_removed", func() { s.numRemoved += n })
}

// RegisterGeneralFailure records a per-item failure for id (which may be
// empty for pass-wide failures) and logs it.
func (s *IndexingStatus) RegisterGeneralFailure(id, msg string, err error) {
	s.mutate("general_failure", func() {
		s.generalFailures++
		s.record(Failure{Kind: FailureGeneral, ID: id, Message: msg, Err: err})
	})
	attrs := []any{slog.String("id", id), slog.String("hook_type", s.hookType)}
	if err != nil {
		attrs = append(attrs, slog.String("error", err.Error()))
	}
	s.logger.Error(s.logPrefix+msg, attrs...)
}

// RegisterHookFailure records a failure raised by hook during phase.
func (s *IndexingStatus) RegisterHookFailure(id string, err error, hook, phase string) {
	msg := fmt.Sprintf("hook %s failed in %s", hook, phase)
	s.mutate("hook_failure", func() {
		s.hookFailures++
		s.record(Failure{Kind: FailureHook, ID: id, Hook: hook, Phase: phase, Message: msg, Err: err})
	})
	attrs := []any{
		slog.String("hook", hook),
		slog.String("phase", phase),
		slog.String("hook_type", s.hookType),
	}
	if id != "" {
		attrs = append(attrs, slog.String("id", id))
	}
	if err != nil {
		attrs = append(attrs, slog.String("error", err.Error()))
	}
	s.logger.Warn(s.logPrefix+"hook_failure", attrs...)
}

// record must be called with the lock held.
func (s *IndexingStatus) record(f Failure) {
	if len(s.failures) >= s.maxFailures {
		s.failures = s.failures[1:]
	}
	s.failures = append(s.failures, f)
}

// UpdateStartEndIndex advances the progress window past the previous batch,
// which consumed the given number of identities.
func (s *IndexingStatus) UpdateStartEndIndex(consumed int) {
	s.mutate("window", func() {
		s.startIndex += consumed
		switch {
		case s.bufSize <= 0 && s.total >= 0:
			s.endIndex = s.total
		case s.bufSize <= 0:
			s.endIndex = s.startIndex
		default:
			s.endIndex = s.startIndex + s.bufSize
			if s.total >= 0 && s.endIndex > s.total {
				s.endIndex = s.total
			}
		}
	})
}

// SetAborted marks the pass as stopped by a cancellation signal.
func (s *IndexingStatus) SetAborted(aborted bool) {
	s.mutate("aborted", func() { s.aborted = aborted })
}

// Finish freezes the status. Further mutations are ignored.
func (s *IndexingStatus) Finish() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.finished {
		s.finished = true
		s.endTime = time.Now()
	}
}

func (s *IndexingStatus) HookType() string { return s.hookType }
func (s *IndexingStatus) BufSize() int     { return s.bufSize }

func (s *IndexingStatus) NumDocs() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.numDocs
}

func (s *IndexingStatus) NumFiltered() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.numFiltered
}

func (s *IndexingStatus) NumRemoved() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.numRemoved
}

func (s *IndexingStatus) GeneralFailures() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.generalFailures
}

func (s *IndexingStatus) HookFailures() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.hookFailures
}

func (s *IndexingStatus) Aborted() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.aborted
}

// Total returns the expected identity count, or TotalUnknown.
func (s *IndexingStatus) Total() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.total
}

// StartIndex returns the index of the first identity of the current batch.
func (s *IndexingStatus) StartIndex() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.startIndex
}

// EndIndex returns the exclusive upper bound of the current batch.
func (s *IndexingStatus) EndIndex() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.endIndex
}

// Failures returns a copy of the most recent failures.
func (s *IndexingStatus) Failures() []Failure {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Failure(nil), s.failures...)
}

// ProgressString renders the current window, 1-based: "3-4/5", or "3-4"
// when the total is unknown.
func (s *IndexingStatus) ProgressString() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.total >= 0 {
		return fmt.Sprintf("%d-%d/%d", s.startIndex+1, s.endIndex, s.total)
	}
	return fmt.Sprintf("%d-%d", s.startIndex+1, s.endIndex)
}

// StatusSnapshot is an immutable copy of an IndexingStatus.
type StatusSnapshot struct {
	HookType        string    `json:"hook_type,omitempty"`
	Total           int       `json:"total"`
	NumDocs         int       `json:"num_docs"`
	NumFiltered     int       `json:"num_filtered"`
	NumRemoved      int       `json:"num_removed"`
	GeneralFailures int       `json:"general_failures"`
	HookFailures    int       `json:"hook_failures"`
	StartIndex      int       `json:"start_index"`
	EndIndex        int       `json:"end_index"`
	Aborted         bool      `json:"aborted"`
	Finished        bool      `json:"finished"`
	ElapsedSeconds  float64   `json:"elapsed_seconds"`
	Failures        []Failure `json:"failures,omitempty"`
}

// Snapshot returns an immutable copy of the current state.
func (s *IndexingStatus) Snapshot() StatusSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	end := s.endTime
	if end.IsZero() {
		end = time.Now()
	}
	return StatusSnapshot{
		HookType:        s.hookType,
		Total:           s.total,
		NumDocs:         s.numDocs,
		NumFiltered:     s.numFiltered,
		NumRemoved:      s.numRemoved,
		GeneralFailures: s.generalFailures,
		HookFailures:    s.hookFailures,
		StartIndex:      s.startIndex,
		EndIndex:        s.endIndex,
		Aborted:         s.aborted,
		Finished:        s.finished,
		ElapsedSeconds:  end.Sub(s.startTime).Seconds(),
		Failures:        append([]Failure(nil), s.failures...),
	}
}

// HasFailures reports whether any general or hook failure was recorded.
func (s StatusSnapshot) HasFailures() bool {
	return s.GeneralFailures > 0 || s.HookFailures > 0
}
