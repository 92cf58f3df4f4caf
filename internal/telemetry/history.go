// Package telemetry keeps a local history of indexing passes: one row per
// pass plus daily aggregates. Nothing is reported externally.
package telemetry

import (
	"time"

	"github.com/Aman-CERP/entityidx/internal/async"
)

// DefaultHistoryLimit is the number of passes kept when no limit is given.
const DefaultHistoryLimit = 100

// DurationBucket is a pass duration histogram bucket.
type DurationBucket string

const (
	BucketSub100ms DurationBucket = "lt100ms"
	BucketSub1s    DurationBucket = "lt1s"
	BucketSub10s   DurationBucket = "lt10s"
	BucketSub1m    DurationBucket = "lt1m"
	BucketLong     DurationBucket = "ge1m"
)

// DurationToBucket converts a pass duration to its histogram bucket.
func DurationToBucket(d time.Duration) DurationBucket {
	switch {
	case d < 100*time.Millisecond:
		return BucketSub100ms
	case d < time.Second:
		return BucketSub1s
	case d < 10*time.Second:
		return BucketSub10s
	case d < time.Minute:
		return BucketSub1m
	default:
		return BucketLong
	}
}

// PassRecord is the outcome of one finished pass.
type PassRecord struct {
	HookType        string        `json:"hook_type"`
	FinishedAt      time.Time     `json:"finished_at"`
	Elapsed         time.Duration `json:"elapsed"`
	Entries         int           `json:"entries"`
	Docs            int           `json:"docs"`
	Filtered        int           `json:"filtered"`
	Removed         int           `json:"removed"`
	GeneralFailures int           `json:"general_failures"`
	HookFailures    int           `json:"hook_failures"`
	Aborted         bool          `json:"aborted"`
}

// Failures is the total failure count of the pass.
func (r PassRecord) Failures() int {
	return r.GeneralFailures + r.HookFailures
}

// RecordFromSnapshot converts a status snapshot into a record finished at
// the given time.
func RecordFromSnapshot(snap async.StatusSnapshot, finishedAt time.Time) PassRecord {
	return PassRecord{
		HookType:        snap.HookType,
		FinishedAt:      finishedAt,
		Elapsed:         time.Duration(snap.ElapsedSeconds * float64(time.Second)),
		Entries:         snap.EndIndex,
		Docs:            snap.NumDocs,
		Filtered:        snap.NumFiltered,
		Removed:         snap.NumRemoved,
		GeneralFailures: snap.GeneralFailures,
		HookFailures:    snap.HookFailures,
		Aborted:         snap.Aborted,
	}
}

// DailyStats aggregates the passes of one day and hook type.
type DailyStats struct {
	Date     string `json:"date"`
	HookType string `json:"hook_type"`
	Passes   int64  `json:"passes"`
	Docs     int64  `json:"docs"`
	Removed  int64  `json:"removed"`
	Failures int64  `json:"failures"`
	Aborted  int64  `json:"aborted"`
}
