// Package logging configures slog for entityidx.
//
// Commands log human-readable text to stderr. With file logging enabled,
// JSON lines are also written to ~/.entityidx/logs/entityidx.log with
// size-based rotation, and `entityidx logs` reads them back.
package logging
