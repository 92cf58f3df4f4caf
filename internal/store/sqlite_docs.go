package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/Aman-CERP/entityidx/internal/entry"
	"github.com/Aman-CERP/entityidx/internal/errors"
	"github.com/Aman-CERP/entityidx/internal/index"
)

// SQLiteDocStore keeps documents as JSON rows with an FTS5 table over
// their text. WAL mode lets other processes read while a pass commits.
type SQLiteDocStore struct {
	mu        sync.RWMutex
	db        *sql.DB
	path      string
	closed    bool
	stopWords map[string]struct{}
	now       func() time.Time
}

var _ DocStore = (*SQLiteDocStore)(nil)

// OpenSQLiteDocStore opens the store at path, in memory when empty. A
// corrupt store is cleared; its documents are rebuilt by a reindex.
func OpenSQLiteDocStore(path string) (*SQLiteDocStore, error) {
	db, err := openSQLite(path, "docs", true)
	if err != nil {
		return nil, err
	}
	s := &SQLiteDocStore{
		db:        db,
		path:      path,
		stopWords: BuildStopWordMap(DefaultStopWords),
		now:       time.Now,
	}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, errors.StoreError("failed to initialize document schema", err)
	}
	return s, nil
}

func (s *SQLiteDocStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY
	);

	CREATE TABLE IF NOT EXISTS docs (
		id         TEXT PRIMARY KEY,
		fields     TEXT NOT NULL,
		indexed_at INTEGER NOT NULL
	);

	-- content holds pre-tokenized text; doc_id is stored, not searchable
	CREATE VIRTUAL TABLE IF NOT EXISTS docs_fts USING fts5(
		doc_id UNINDEXED,
		content,
		tokenize='unicode61'
	);

	INSERT OR IGNORE INTO schema_version (version) VALUES (1);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Commit applies removals, then upserts docs, in one transaction. A flush
// of "all" also checkpoints the WAL into the main database file.
func (s *SQLiteDocStore) Commit(ctx context.Context, docs []*index.DocEntry, removals []*entry.Entry, flush string) error {
	if len(docs) == 0 && len(removals) == 0 && flush != entry.FlushAll {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.StoreError("document store is closed", nil)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return wrapSQLite("failed to begin transaction", err)
	}
	defer func() { _ = tx.Rollback() }()

	if len(removals) > 0 {
		in, args := inClause(removalIDs(removals))
		if _, err := tx.ExecContext(ctx, fmt.Sprintf(`DELETE FROM docs WHERE id IN (%s)`, in), args...); err != nil {
			return wrapSQLite("failed to delete documents", err)
		}
		if _, err := tx.ExecContext(ctx, fmt.Sprintf(`DELETE FROM docs_fts WHERE doc_id IN (%s)`, in), args...); err != nil {
			return wrapSQLite("failed to delete from FTS", err)
		}
	}

	if len(docs) > 0 {
		if err := s.upsert(ctx, tx, docs); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return wrapSQLite("failed to commit documents", err)
	}

	if flush == entry.FlushAll && s.path != "" {
		if _, err := s.db.ExecContext(ctx, "PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
			return wrapSQLite("failed to checkpoint", err)
		}
		slog.Debug("doc_store_flushed", slog.String("path", s.path))
	}
	return nil
}

func (s *SQLiteDocStore) upsert(ctx context.Context, tx *sql.Tx, docs []*index.DocEntry) error {
	// FTS5 tables do not support REPLACE, so rows are deleted first.
	docStmt, err := tx.PrepareContext(ctx,
		`INSERT OR REPLACE INTO docs(id, fields, indexed_at) VALUES (?, ?, ?)`)
	if err != nil {
		return wrapSQLite("failed to prepare document statement", err)
	}
	defer docStmt.Close()

	delStmt, err := tx.PrepareContext(ctx, `DELETE FROM docs_fts WHERE doc_id = ?`)
	if err != nil {
		return wrapSQLite("failed to prepare delete statement", err)
	}
	defer delStmt.Close()

	ftsStmt, err := tx.PrepareContext(ctx, `INSERT INTO docs_fts(doc_id, content) VALUES (?, ?)`)
	if err != nil {
		return wrapSQLite("failed to prepare FTS statement", err)
	}
	defer ftsStmt.Close()

	indexedAt := s.now().UnixMilli()
	for _, d := range docs {
		fields := d.Fields()
		data, err := json.Marshal(nonNilAttrs(fields))
		if err != nil {
			return errors.New(errors.ErrCodeInvalidInput,
				fmt.Sprintf("document %s is not serializable", d.ID()), err)
		}
		if _, err := docStmt.ExecContext(ctx, d.ID(), string(data), indexedAt); err != nil {
			return wrapSQLite(fmt.Sprintf("failed to store document %s", d.ID()), err)
		}
		if _, err := delStmt.ExecContext(ctx, d.ID()); err != nil {
			return wrapSQLite(fmt.Sprintf("failed to replace document %s", d.ID()), err)
		}
		content := strings.Join(FilterStopWords(TokenizeText(docText(fields)), s.stopWords), " ")
		if _, err := ftsStmt.ExecContext(ctx, d.ID(), content); err != nil {
			return wrapSQLite(fmt.Sprintf("failed to index document %s", d.ID()), err)
		}
	}
	return nil
}

func (s *SQLiteDocStore) Get(ctx context.Context, id string) (map[string]any, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, false, errors.StoreError("document store is closed", nil)
	}

	var data string
	err := s.db.QueryRowContext(ctx, `SELECT fields FROM docs WHERE id = ?`, id).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, wrapSQLite("failed to read document", err)
	}
	var fields map[string]any
	if err := json.Unmarshal([]byte(data), &fields); err != nil {
		return nil, false, errors.New(errors.ErrCodeStoreCorrupt,
			fmt.Sprintf("document %s is corrupt", id), err)
	}
	return fields, true, nil
}

func (s *SQLiteDocStore) Count(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return 0, errors.StoreError("document store is closed", nil)
	}
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM docs`).Scan(&n)
	return n, wrapSQLite("failed to count documents", err)
}

// Search returns documents whose text contains every query token, best
// match first.
func (s *SQLiteDocStore) Search(ctx context.Context, query string, limit int) ([]Hit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, errors.StoreError("document store is closed", nil)
	}

	tokens := FilterStopWords(TokenizeText(query), s.stopWords)
	if len(tokens) == 0 {
		return []Hit{}, nil
	}
	if limit <= 0 {
		limit = 10
	}

	// bm25() is negative; lower means a better match.
	rows, err := s.db.QueryContext(ctx, `
		SELECT doc_id, bm25(docs_fts) AS score
		FROM docs_fts
		WHERE content MATCH ?
		ORDER BY score
		LIMIT ?`, strings.Join(tokens, " "), limit)
	if err != nil {
		if strings.Contains(err.Error(), "fts5:") || strings.Contains(err.Error(), "syntax error") {
			return []Hit{}, nil
		}
		return nil, wrapSQLite("search failed", err)
	}
	defer rows.Close()

	hits := []Hit{}
	for rows.Next() {
		var h Hit
		if err := rows.Scan(&h.ID, &h.Score); err != nil {
			return nil, wrapSQLite("failed to scan hit", err)
		}
		h.Score = -h.Score
		hits = append(hits, h)
	}
	return hits, wrapSQLite("search failed", rows.Err())
}

func (s *SQLiteDocStore) AllIDs(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, errors.StoreError("document store is closed", nil)
	}

	rows, err := s.db.QueryContext(ctx, `SELECT id FROM docs ORDER BY id`)
	if err != nil {
		return nil, wrapSQLite("failed to query ids", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, wrapSQLite("failed to scan id", err)
		}
		ids = append(ids, id)
	}
	return ids, wrapSQLite("failed to query ids", rows.Err())
}

// Close checkpoints and closes the store. It is idempotent.
func (s *SQLiteDocStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	_, _ = s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
	return s.db.Close()
}
