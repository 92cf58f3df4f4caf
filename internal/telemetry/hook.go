package telemetry

import (
	"context"
	"time"

	"github.com/Aman-CERP/entityidx/internal/async"
	"github.com/Aman-CERP/entityidx/internal/hook"
)

// NameHistory is the registry name of the history hook.
const NameHistory = "history"

// Recorder persists pass records.
type Recorder interface {
	Record(ctx context.Context, rec PassRecord) error
}

// HistoryHook records every pass it sees end.
type HistoryHook struct {
	recorder Recorder
	now      func() time.Time
}

var (
	_ hook.Handler = (*HistoryHook)(nil)
	_ hook.Ender   = (*HistoryHook)(nil)
)

// NewHistoryHook creates a hook writing to recorder.
func NewHistoryHook(recorder Recorder) *HistoryHook {
	return &HistoryHook{recorder: recorder, now: time.Now}
}

// Name implements hook.Handler.
func (h *HistoryHook) Name() string { return NameHistory }

// End records the pass. It runs after the last commit, so the record holds
// the final counts.
func (h *HistoryHook) End(status *async.IndexingStatus) error {
	return h.recorder.Record(context.Background(), RecordFromSnapshot(status.Snapshot(), h.now()))
}
