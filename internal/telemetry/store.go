package telemetry

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver (no CGO)

	"github.com/Aman-CERP/entityidx/internal/errors"
)

const dateLayout = "2006-01-02"

// SQLiteHistoryStore keeps the pass history in its own SQLite database.
// pass_history is a circular buffer of the last limit passes; the daily
// tables are kept indefinitely.
type SQLiteHistoryStore struct {
	mu     sync.Mutex
	db     *sql.DB
	limit  int
	closed bool
}

var _ Recorder = (*SQLiteHistoryStore)(nil)

// OpenHistoryStore opens (creating if needed) the history database at path.
// An empty path opens an in-memory store for testing. limit <= 0 uses
// DefaultHistoryLimit.
func OpenHistoryStore(path string, limit int) (*SQLiteHistoryStore, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	dsn := ":memory:"
	if path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, errors.StoreError(fmt.Sprintf("failed to create directory for %s", path), err)
		}
		dsn = path
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, errors.StoreError("failed to open history database", err)
	}
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{"PRAGMA journal_mode = WAL", "PRAGMA busy_timeout = 5000"} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, errors.StoreError("failed to set pragma", err)
		}
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, errors.StoreError("failed to initialize history schema", err)
	}
	return &SQLiteHistoryStore{db: db, limit: limit}, nil
}

func initSchema(db *sql.DB) error {
	schema := `
	-- One row per pass (circular buffer)
	CREATE TABLE IF NOT EXISTS pass_history (
		id               INTEGER PRIMARY KEY AUTOINCREMENT,
		hook_type        TEXT NOT NULL,
		finished_at      INTEGER NOT NULL,
		elapsed_ms       INTEGER NOT NULL,
		entries          INTEGER NOT NULL,
		docs             INTEGER NOT NULL,
		filtered         INTEGER NOT NULL,
		removed          INTEGER NOT NULL,
		general_failures INTEGER NOT NULL,
		hook_failures    INTEGER NOT NULL,
		aborted          INTEGER NOT NULL
	);

	-- Pass outcomes (aggregated daily)
	CREATE TABLE IF NOT EXISTS pass_daily_stats (
		date      TEXT NOT NULL,
		hook_type TEXT NOT NULL,
		passes    INTEGER NOT NULL DEFAULT 0,
		docs      INTEGER NOT NULL DEFAULT 0,
		removed   INTEGER NOT NULL DEFAULT 0,
		failures  INTEGER NOT NULL DEFAULT 0,
		aborted   INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (date, hook_type)
	);

	-- Duration histogram (aggregated daily)
	CREATE TABLE IF NOT EXISTS pass_duration_stats (
		date   TEXT NOT NULL,
		bucket TEXT NOT NULL,
		count  INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (date, bucket)
	);
	`
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("create history schema: %w", err)
	}
	return nil
}

// Record stores rec, updates the daily aggregates and trims the history
// to the configured limit, all in one transaction.
func (s *SQLiteHistoryStore) Record(ctx context.Context, rec PassRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.StoreError("history store is closed", nil)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.StoreError("begin transaction", err)
	}
	defer func() { _ = tx.Rollback() }()

	aborted := 0
	if rec.Aborted {
		aborted = 1
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO pass_history (hook_type, finished_at, elapsed_ms, entries, docs, filtered,
			removed, general_failures, hook_failures, aborted)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, rec.HookType, rec.FinishedAt.UnixMilli(), rec.Elapsed.Milliseconds(), rec.Entries, rec.Docs,
		rec.Filtered, rec.Removed, rec.GeneralFailures, rec.HookFailures, aborted); err != nil {
		return errors.StoreError("insert pass record", err)
	}

	date := rec.FinishedAt.UTC().Format(dateLayout)
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO pass_daily_stats (date, hook_type, passes, docs, removed, failures, aborted)
		VALUES (?, ?, 1, ?, ?, ?, ?)
		ON CONFLICT(date, hook_type) DO UPDATE SET
			passes   = passes + 1,
			docs     = docs + excluded.docs,
			removed  = removed + excluded.removed,
			failures = failures + excluded.failures,
			aborted  = aborted + excluded.aborted
	`, date, rec.HookType, rec.Docs, rec.Removed, rec.Failures(), aborted); err != nil {
		return errors.StoreError("update daily stats", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO pass_duration_stats (date, bucket, count)
		VALUES (?, ?, 1)
		ON CONFLICT(date, bucket) DO UPDATE SET count = count + 1
	`, date, string(DurationToBucket(rec.Elapsed))); err != nil {
		return errors.StoreError("update duration stats", err)
	}

	if _, err := tx.ExecContext(ctx, `
		DELETE FROM pass_history
		WHERE id NOT IN (SELECT id FROM pass_history ORDER BY id DESC LIMIT ?)
	`, s.limit); err != nil {
		return errors.StoreError("trim pass history", err)
	}

	if err := tx.Commit(); err != nil {
		return errors.StoreError("commit pass record", err)
	}
	return nil
}

// Recent returns up to n records, newest first.
func (s *SQLiteHistoryStore) Recent(ctx context.Context, n int) ([]PassRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, errors.StoreError("history store is closed", nil)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT hook_type, finished_at, elapsed_ms, entries, docs, filtered, removed,
			general_failures, hook_failures, aborted
		FROM pass_history
		ORDER BY id DESC
		LIMIT ?
	`, n)
	if err != nil {
		return nil, errors.StoreError("query pass history", err)
	}
	defer rows.Close()

	var records []PassRecord
	for rows.Next() {
		var (
			r                     PassRecord
			finishedAt, elapsedMS int64
			aborted               int
		)
		if err := rows.Scan(&r.HookType, &finishedAt, &elapsedMS, &r.Entries, &r.Docs, &r.Filtered,
			&r.Removed, &r.GeneralFailures, &r.HookFailures, &aborted); err != nil {
			return nil, errors.StoreError("scan pass record", err)
		}
		r.FinishedAt = time.UnixMilli(finishedAt)
		r.Elapsed = time.Duration(elapsedMS) * time.Millisecond
		r.Aborted = aborted != 0
		records = append(records, r)
	}
	return records, rows.Err()
}

// Daily returns the daily aggregates between from and to (inclusive),
// ordered by date then hook type.
func (s *SQLiteHistoryStore) Daily(ctx context.Context, from, to time.Time) ([]DailyStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, errors.StoreError("history store is closed", nil)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT date, hook_type, passes, docs, removed, failures, aborted
		FROM pass_daily_stats
		WHERE date >= ? AND date <= ?
		ORDER BY date, hook_type
	`, from.UTC().Format(dateLayout), to.UTC().Format(dateLayout))
	if err != nil {
		return nil, errors.StoreError("query daily stats", err)
	}
	defer rows.Close()

	var stats []DailyStats
	for rows.Next() {
		var d DailyStats
		if err := rows.Scan(&d.Date, &d.HookType, &d.Passes, &d.Docs, &d.Removed, &d.Failures, &d.Aborted); err != nil {
			return nil, errors.StoreError("scan daily stats", err)
		}
		stats = append(stats, d)
	}
	return stats, rows.Err()
}

// Durations returns the pass duration distribution between from and to.
func (s *SQLiteHistoryStore) Durations(ctx context.Context, from, to time.Time) (map[DurationBucket]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, errors.StoreError("history store is closed", nil)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT bucket, SUM(count)
		FROM pass_duration_stats
		WHERE date >= ? AND date <= ?
		GROUP BY bucket
	`, from.UTC().Format(dateLayout), to.UTC().Format(dateLayout))
	if err != nil {
		return nil, errors.StoreError("query duration stats", err)
	}
	defer rows.Close()

	counts := make(map[DurationBucket]int64)
	for rows.Next() {
		var bucket string
		var count int64
		if err := rows.Scan(&bucket, &count); err != nil {
			return nil, errors.StoreError("scan duration stats", err)
		}
		counts[DurationBucket(bucket)] = count
	}
	return counts, rows.Err()
}

// Close closes the database. Closing twice is a no-op.
func (s *SQLiteHistoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}
