// Package preflight checks that a project's data directory can host the
// indexing pipeline before long-running commands start.
//
// The package validates:
//   - Disk space on the data directory volume (minimum 100MB)
//   - Write permissions in the data and queue directories
//   - File descriptor limits (minimum 1024)
//   - Pass state: a held pass lock or an interrupted reindex
//
// Callers add their own checks (configuration, store health) with
// WithCheck:
//
//	checker := preflight.New(preflight.WithCheck(configCheck))
//	results := checker.RunAll(ctx, preflight.Target{DataDir: dir, QueuePath: q})
//	if checker.HasCriticalFailures(results) {
//	    // Handle failures
//	}
package preflight
