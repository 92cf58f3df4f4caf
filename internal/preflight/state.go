package preflight

import (
	"fmt"

	"github.com/Aman-CERP/entityidx/internal/async"
	"github.com/Aman-CERP/entityidx/internal/index"
)

// CheckPassLock warns when another process holds the pass lock. Queue
// passes started meanwhile are skipped until it is released.
func (c *Checker) CheckPassLock(dataDir string) CheckResult {
	result := CheckResult{Name: "pass_lock"}

	lock := index.NewPassLock(dataDir)
	acquired, err := lock.TryLock()
	switch {
	case err != nil:
		result.Status = StatusFail
		result.Required = true
		result.Message = fmt.Sprintf("cannot probe %s: %v", lock.Path(), err)
	case !acquired:
		result.Status = StatusWarn
		result.Message = "a pass is running in another process"
		result.Details = "Passes started now are skipped until it finishes"
	default:
		_ = lock.Unlock()
		result.Status = StatusPass
		result.Message = "free"
	}
	return result
}

// CheckInterruptedReindex warns when a reindex stopped before finishing,
// leaving documents of unvisited entities stale.
func (c *Checker) CheckInterruptedReindex(dataDir string) CheckResult {
	result := CheckResult{Name: "interrupted_reindex"}
	if async.HasIncompleteLock(dataDir) {
		result.Status = StatusWarn
		result.Message = "the last reindex did not finish"
		result.Details = "Run 'entityidx reindex --prune' to rebuild every document"
		return result
	}
	result.Status = StatusPass
	result.Message = "none"
	return result
}
