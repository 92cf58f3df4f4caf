package queue

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	_ "modernc.org/sqlite" // Pure Go SQLite driver (no CGO)

	"github.com/Aman-CERP/entityidx/internal/entry"
	"github.com/Aman-CERP/entityidx/internal/errors"
)

// SQLiteQueue is a durable Queue backed by a SQLite table. Several processes
// may enqueue concurrently; WAL mode and a busy timeout handle contention.
type SQLiteQueue struct {
	mu     sync.Mutex
	db     *sql.DB
	path   string
	closed bool
}

var _ Queue = (*SQLiteQueue)(nil)

// OpenSQLite opens (creating if needed) the queue database at path.
// An empty path opens an in-memory queue for testing.
func OpenSQLite(path string) (*SQLiteQueue, error) {
	dsn := ":memory:"
	if path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, errors.StoreError(fmt.Sprintf("failed to create directory for %s", path), err)
		}
		dsn = path
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, errors.StoreError("failed to open queue database", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, errors.StoreError("failed to set pragma", err)
		}
	}

	q := &SQLiteQueue{db: db, path: path}
	if err := q.initSchema(); err != nil {
		_ = db.Close()
		return nil, errors.StoreError("failed to initialize queue schema", err)
	}

	// Release claims of a consumer that died mid-pass.
	if _, err := db.Exec(`UPDATE entries SET claimed = 0 WHERE claimed = 1`); err != nil {
		_ = db.Close()
		return nil, errors.StoreError("failed to release stale claims", err)
	}
	return q, nil
}

func (q *SQLiteQueue) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS entries (
		seq        INTEGER PRIMARY KEY AUTOINCREMENT,
		kind       TEXT NOT NULL,
		id         TEXT NOT NULL,
		action     TEXT NOT NULL DEFAULT '',
		entry_time INTEGER NOT NULL DEFAULT 0,
		topics     TEXT NOT NULL DEFAULT '[]',
		flush      TEXT NOT NULL DEFAULT '',
		flags      TEXT NOT NULL DEFAULT '{}',
		claimed    INTEGER NOT NULL DEFAULT 0
	);
	CREATE INDEX IF NOT EXISTS idx_entries_claimed ON entries(claimed, seq);
	`
	_, err := q.db.Exec(schema)
	return err
}

// Path returns the database path, empty for in-memory queues.
func (q *SQLiteQueue) Path() string { return q.path }

func (q *SQLiteQueue) Enqueue(ctx context.Context, entries ...*entry.Entry) error {
	if len(entries) == 0 {
		return nil
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return errors.StoreError("queue is closed", nil)
	}

	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return wrapSQLite("failed to begin transaction", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO entries(kind, id, action, entry_time, topics, flush, flags) VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return wrapSQLite("failed to prepare insert", err)
	}
	defer stmt.Close()

	for _, e := range entries {
		topics, err := json.Marshal(nonNil(e.Topics()))
		if err != nil {
			return errors.Wrap(errors.ErrCodeInvalidEntry, err)
		}
		flags, err := json.Marshal(e.Flags())
		if err != nil {
			return errors.Wrap(errors.ErrCodeInvalidEntry, err)
		}
		if _, err := stmt.ExecContext(ctx, e.Kind(), e.ID(), e.Action().String(), e.Time(),
			string(topics), e.Flush(), string(flags)); err != nil {
			return wrapSQLite(fmt.Sprintf("failed to enqueue %s", e.Key()), err)
		}
	}
	return wrapSQLite("failed to commit enqueue", tx.Commit())
}

func (q *SQLiteQueue) Drain(ctx context.Context, max int) ([]Item, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil, errors.StoreError("queue is closed", nil)
	}

	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, wrapSQLite("failed to begin transaction", err)
	}
	defer func() { _ = tx.Rollback() }()

	query := `SELECT seq, kind, id, action, entry_time, topics, flush, flags
		FROM entries WHERE claimed = 0 ORDER BY seq`
	var args []any
	if max > 0 {
		query += ` LIMIT ?`
		args = append(args, max)
	}
	rows, err := tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrapSQLite("failed to read queue", err)
	}

	var items []Item
	for rows.Next() {
		var (
			seq               int64
			kind, id, action  string
			entryTime         int64
			topicsJSON, flush string
			flagsJSON         string
		)
		if err := rows.Scan(&seq, &kind, &id, &action, &entryTime, &topicsJSON, &flush, &flagsJSON); err != nil {
			rows.Close()
			return nil, wrapSQLite("failed to scan entry", err)
		}
		e, err := decodeEntry(kind, id, action, entryTime, topicsJSON, flush, flagsJSON)
		if err != nil {
			rows.Close()
			return nil, errors.New(errors.ErrCodeInvalidEntry, fmt.Sprintf("corrupt queue row %d", seq), err)
		}
		items = append(items, Item{Seq: seq, Entry: e})
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, wrapSQLite("failed to read queue", err)
	}

	if err := setClaimed(ctx, tx, items, 1); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, wrapSQLite("failed to commit drain", err)
	}
	return items, nil
}

func (q *SQLiteQueue) Ack(ctx context.Context, items []Item) error {
	return q.update(ctx, items, `DELETE FROM entries WHERE seq IN (%s)`)
}

func (q *SQLiteQueue) Requeue(ctx context.Context, items []Item) error {
	return q.update(ctx, items, `UPDATE entries SET claimed = 0 WHERE seq IN (%s)`)
}

func (q *SQLiteQueue) update(ctx context.Context, items []Item, query string) error {
	if len(items) == 0 {
		return nil
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return errors.StoreError("queue is closed", nil)
	}
	in, args := seqArgs(items)
	_, err := q.db.ExecContext(ctx, fmt.Sprintf(query, in), args...)
	return wrapSQLite("failed to update queue", err)
}

func (q *SQLiteQueue) Len(ctx context.Context) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return 0, errors.StoreError("queue is closed", nil)
	}
	var n int
	err := q.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM entries WHERE claimed = 0`).Scan(&n)
	return n, wrapSQLite("failed to count queue", err)
}

func (q *SQLiteQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil
	}
	q.closed = true
	_, _ = q.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
	return q.db.Close()
}

func setClaimed(ctx context.Context, tx *sql.Tx, items []Item, claimed int) error {
	if len(items) == 0 {
		return nil
	}
	in, args := seqArgs(items)
	args = append([]any{claimed}, args...)
	_, err := tx.ExecContext(ctx, fmt.Sprintf(`UPDATE entries SET claimed = ? WHERE seq IN (%s)`, in), args...)
	return wrapSQLite("failed to claim entries", err)
}

func seqArgs(items []Item) (string, []any) {
	placeholders := make([]string, len(items))
	args := make([]any, len(items))
	for i, it := range items {
		placeholders[i] = "?"
		args[i] = it.Seq
	}
	return strings.Join(placeholders, ","), args
}

func decodeEntry(kind, id, action string, entryTime int64, topicsJSON, flush, flagsJSON string) (*entry.Entry, error) {
	act, err := entry.ParseAction(action)
	if err != nil {
		return nil, err
	}
	var topics []string
	if err := json.Unmarshal([]byte(topicsJSON), &topics); err != nil {
		return nil, fmt.Errorf("topics: %w", err)
	}
	var flags map[string]bool
	if err := json.Unmarshal([]byte(flagsJSON), &flags); err != nil {
		return nil, fmt.Errorf("flags: %w", err)
	}
	return entry.New(kind, id, act,
		entry.WithTime(entryTime),
		entry.WithTopics(topics...),
		entry.WithFlush(flush),
		entry.WithFlags(flags)), nil
}

// wrapSQLite classifies SQLite errors; lock contention is retryable.
func wrapSQLite(msg string, err error) error {
	if err == nil {
		return nil
	}
	s := err.Error()
	if strings.Contains(s, "SQLITE_BUSY") || strings.Contains(s, "database is locked") {
		return errors.New(errors.ErrCodeStoreBusy, msg, err)
	}
	return errors.New(errors.ErrCodeQueueFailed, msg, err)
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
