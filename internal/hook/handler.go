// Package hook defines the observer protocol an indexing pass drives.
//
// A handler implements any subset of the lifecycle capabilities below; the
// indexer calls the ones it implements, in registration order, at each
// point of the pass:
//
//	begin -> (beginBatch -> processDocAdd/processDocRemove* -> endBatch)* -> end
//
// End is called exactly once per pass even when the pass aborts or every
// item fails, so handlers must tolerate an end without any batch.
//
// A returned error is recorded as a hook failure and the pass continues,
// unless the error is fatal (errors.IsFatal), which stops the pass.
package hook

import (
	"github.com/Aman-CERP/entityidx/internal/async"
	"github.com/Aman-CERP/entityidx/internal/entry"
)

// Lifecycle phase names, used in hook failure records.
const (
	PhaseBegin      = "begin"
	PhaseBeginBatch = "beginBatch"
	PhaseDocAdd     = "processDocAdd"
	PhaseDocRemove  = "processDocRemove"
	PhaseEndBatch   = "endBatch"
	PhaseEnd        = "end"
)

// Doc is the read-only view of a built document handed to DocAdder.
type Doc interface {
	ID() string
	Entry() *entry.Entry
	Fields() map[string]any
	Data() any
}

// Handler is the minimum a hook must implement.
type Handler interface {
	Name() string
}

// Beginner is notified once when the pass starts.
type Beginner interface {
	Begin(status *async.IndexingStatus) error
}

// BatchBeginner is notified before each batch.
type BatchBeginner interface {
	BeginBatch(status *async.IndexingStatus) error
}

// DocAdder is notified for every document built.
type DocAdder interface {
	ProcessDocAdd(status *async.IndexingStatus, doc Doc) error
}

// DocRemover is notified for every identity added to the removal set.
type DocRemover interface {
	ProcessDocRemove(status *async.IndexingStatus, e *entry.Entry) error
}

// BatchEnder is notified after each batch.
type BatchEnder interface {
	EndBatch(status *async.IndexingStatus) error
}

// Ender is notified once when the pass ends, aborted or not.
type Ender interface {
	End(status *async.IndexingStatus) error
}
