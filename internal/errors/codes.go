// Package errors provides structured error handling for entityidx.
//
// Error codes follow the pattern ERR_XXX_DESCRIPTION where:
//   - 1XX: Configuration errors
//   - 2XX: Store errors (entity store, queue, document store)
//   - 3XX: Commit transport errors
//   - 4XX: Validation errors
//   - 5XX: Pipeline errors (build, expansion, hooks)
package errors

// Category defines error categories for classification.
type Category string

const (
	CategoryConfig     Category = "CONFIG"
	CategoryStore      Category = "STORE"
	CategoryTransport  Category = "TRANSPORT"
	CategoryValidation Category = "VALIDATION"
	CategoryPipeline   Category = "PIPELINE"
)

// Severity defines error severity levels.
type Severity string

const (
	// SeverityFatal aborts the current indexing pass.
	SeverityFatal Severity = "FATAL"
	// SeverityError fails the current item; the pass continues.
	SeverityError Severity = "ERROR"
	// SeverityWarning indicates degraded operation.
	SeverityWarning Severity = "WARNING"
)

// Error codes organized by category.
const (
	// Config errors (100-199)
	ErrCodeConfigNotFound = "ERR_101_CONFIG_NOT_FOUND"
	ErrCodeConfigInvalid  = "ERR_102_CONFIG_INVALID"

	// Store errors (200-299)
	ErrCodeStoreUnavailable = "ERR_201_STORE_UNAVAILABLE"
	ErrCodeStoreBusy        = "ERR_202_STORE_BUSY"
	ErrCodeStoreCorrupt     = "ERR_203_STORE_CORRUPT"
	ErrCodeQueueFailed      = "ERR_204_QUEUE_FAILED"

	// Transport errors (300-399)
	ErrCodeCommitTimeout     = "ERR_301_COMMIT_TIMEOUT"
	ErrCodeCommitUnavailable = "ERR_302_COMMIT_UNAVAILABLE"

	// Validation errors (400-499)
	ErrCodeInvalidInput  = "ERR_401_INVALID_INPUT"
	ErrCodeInvalidEntry  = "ERR_402_INVALID_ENTRY"
	ErrCodeUnknownHook   = "ERR_403_UNKNOWN_HOOK"
	ErrCodeInvalidAction = "ERR_404_INVALID_ACTION"

	// Pipeline errors (500-599)
	ErrCodeInternal        = "ERR_501_INTERNAL"
	ErrCodeBuildFailed     = "ERR_502_BUILD_FAILED"
	ErrCodeExpansionFailed = "ERR_503_EXPANSION_FAILED"
	ErrCodeHookFailed      = "ERR_504_HOOK_FAILED"
	ErrCodeCommitFailed    = "ERR_505_COMMIT_FAILED"
	ErrCodeNotFound        = "ERR_506_NOT_FOUND"
	ErrCodePassLocked      = "ERR_507_PASS_LOCKED"
	ErrCodeSystemCheck     = "ERR_508_SYSTEM_CHECK_FAILED"
	ErrCodeWatchRunning    = "ERR_509_WATCH_RUNNING"
)

// categoryFromCode extracts category from error code.
func categoryFromCode(code string) Category {
	if len(code) < 7 {
		return CategoryPipeline
	}

	switch code[4] {
	case '1':
		return CategoryConfig
	case '2':
		return CategoryStore
	case '3':
		return CategoryTransport
	case '4':
		return CategoryValidation
	default:
		return CategoryPipeline
	}
}

// severityFromCode determines severity based on error code.
func severityFromCode(code string) Severity {
	switch code {
	case ErrCodeStoreCorrupt, ErrCodeExpansionFailed:
		return SeverityFatal
	}

	if isRetryableCode(code) {
		return SeverityWarning
	}

	return SeverityError
}

// isRetryableCode checks if an error code represents a retryable error.
func isRetryableCode(code string) bool {
	switch code {
	case ErrCodeStoreBusy, ErrCodeCommitTimeout, ErrCodeCommitUnavailable:
		return true
	default:
		return false
	}
}
