package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/Aman-CERP/entityidx/internal/errors"
	"github.com/Aman-CERP/entityidx/internal/index"
)

// Record is one row of the entity store. For products, ParentID points at
// the product a variant belongs to.
type Record struct {
	EntityKind string
	EntityID   string
	ParentID   string
	IsVirtual  bool
	IsVariant  bool
	Name       string
	CategoryID string
	Attrs      map[string]any
	// UpdatedAt is in Unix milliseconds.
	UpdatedAt int64
}

func (r *Record) Kind() string { return r.EntityKind }
func (r *Record) ID() string   { return r.EntityID }

// Category is a lookup row referenced by Record.CategoryID.
type Category struct {
	ID   string
	Name string
}

// SQLiteEntityStore is the system of record the pipeline resolves against.
// It serves as index.Resolver and index.RelationSource, and streams
// entities for full reindexing.
type SQLiteEntityStore struct {
	mu     sync.RWMutex
	db     *sql.DB
	path   string
	closed bool
}

var (
	_ index.Resolver       = (*SQLiteEntityStore)(nil)
	_ index.RelationSource = (*SQLiteEntityStore)(nil)
)

// OpenEntityStore opens the entity database at path, in memory when empty.
// A corrupt entity database is an error, never silently recreated.
func OpenEntityStore(path string) (*SQLiteEntityStore, error) {
	db, err := openSQLite(path, "entities", false)
	if err != nil {
		return nil, err
	}
	s := &SQLiteEntityStore{db: db, path: path}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, errors.StoreError("failed to initialize entity schema", err)
	}
	return s, nil
}

func (s *SQLiteEntityStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS categories (
		id   TEXT PRIMARY KEY,
		name TEXT NOT NULL DEFAULT ''
	);

	CREATE TABLE IF NOT EXISTS entities (
		id          TEXT PRIMARY KEY,
		kind        TEXT NOT NULL,
		parent_id   TEXT NULL,
		is_virtual  INTEGER NOT NULL DEFAULT 0,
		is_variant  INTEGER NOT NULL DEFAULT 0,
		name        TEXT NOT NULL DEFAULT '',
		category_id TEXT NOT NULL DEFAULT '',
		attrs       TEXT NOT NULL DEFAULT '{}',
		updated_at  INTEGER NOT NULL DEFAULT 0
	);
	CREATE INDEX IF NOT EXISTS idx_entities_parent ON entities(kind, parent_id);
	CREATE INDEX IF NOT EXISTS idx_entities_kind ON entities(kind, id);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Path returns the database path, empty for in-memory stores.
func (s *SQLiteEntityStore) Path() string { return s.path }

// Upsert inserts or replaces records in one transaction. A zero UpdatedAt
// is set to the current time.
func (s *SQLiteEntityStore) Upsert(ctx context.Context, records ...*Record) error {
	if len(records) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.StoreError("entity store is closed", nil)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return wrapSQLite("failed to begin transaction", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `INSERT OR REPLACE INTO entities
		(id, kind, parent_id, is_virtual, is_variant, name, category_id, attrs, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return wrapSQLite("failed to prepare upsert", err)
	}
	defer stmt.Close()

	for _, r := range records {
		if r.EntityID == "" || r.EntityKind == "" {
			return errors.ValidationError("record needs a kind and an id", nil)
		}
		attrs, err := json.Marshal(nonNilAttrs(r.Attrs))
		if err != nil {
			return errors.ValidationError(fmt.Sprintf("attrs of %s are not serializable", r.EntityID), err)
		}
		updated := r.UpdatedAt
		if updated == 0 {
			updated = time.Now().UnixMilli()
		}
		var parent any
		if r.ParentID != "" {
			parent = r.ParentID
		}
		if _, err := stmt.ExecContext(ctx, r.EntityID, r.EntityKind, parent,
			boolInt(r.IsVirtual), boolInt(r.IsVariant), r.Name, r.CategoryID,
			string(attrs), updated); err != nil {
			return wrapSQLite(fmt.Sprintf("failed to upsert %s", r.EntityID), err)
		}
	}
	return wrapSQLite("failed to commit upsert", tx.Commit())
}

// Delete removes entities by id. Missing ids are ignored.
func (s *SQLiteEntityStore) Delete(ctx context.Context, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.StoreError("entity store is closed", nil)
	}
	in, args := inClause(ids)
	_, err := s.db.ExecContext(ctx, fmt.Sprintf(`DELETE FROM entities WHERE id IN (%s)`, in), args...)
	return wrapSQLite("failed to delete entities", err)
}

// PutCategory inserts or renames a category.
func (s *SQLiteEntityStore) PutCategory(ctx context.Context, c Category) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.StoreError("entity store is closed", nil)
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO categories(id, name) VALUES (?, ?)
		 ON CONFLICT(id) DO UPDATE SET name = excluded.name`, c.ID, c.Name)
	return wrapSQLite("failed to put category", err)
}

// Category looks up a category. ok is false when it does not exist.
func (s *SQLiteEntityStore) Category(ctx context.Context, id string) (c Category, ok bool, err error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return Category{}, false, errors.StoreError("entity store is closed", nil)
	}
	err = s.db.QueryRowContext(ctx, `SELECT id, name FROM categories WHERE id = ?`, id).Scan(&c.ID, &c.Name)
	if err == sql.ErrNoRows {
		return Category{}, false, nil
	}
	if err != nil {
		return Category{}, false, wrapSQLite("failed to read category", err)
	}
	return c, true, nil
}

const recordColumns = `id, kind, parent_id, is_virtual, is_variant, name, category_id, attrs, updated_at`

// Get returns the record, or nil when it does not exist.
func (s *SQLiteEntityStore) Get(ctx context.Context, kind, id string) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, errors.StoreError("entity store is closed", nil)
	}
	row := s.db.QueryRowContext(ctx,
		`SELECT `+recordColumns+` FROM entities WHERE kind = ? AND id = ?`, kind, id)
	r, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, wrapSQLite(fmt.Sprintf("failed to read %s %s", kind, id), err)
	}
	return r, nil
}

// Resolve implements index.Resolver.
func (s *SQLiteEntityStore) Resolve(ctx context.Context, kind, id string) (index.Entity, error) {
	r, err := s.Get(ctx, kind, id)
	if err != nil || r == nil {
		return nil, err
	}
	return r, nil
}

// Children returns the ids whose parent is id, ordered by id.
func (s *SQLiteEntityStore) Children(ctx context.Context, kind, id string) ([]string, error) {
	return s.ids(ctx, `SELECT id FROM entities WHERE kind = ? AND parent_id = ? ORDER BY id`, kind, id)
}

// Parents returns the parent of id, if any.
func (s *SQLiteEntityStore) Parents(ctx context.Context, kind, id string) ([]string, error) {
	return s.ids(ctx, `SELECT parent_id FROM entities WHERE kind = ? AND id = ? AND parent_id IS NOT NULL`, kind, id)
}

func (s *SQLiteEntityStore) ids(ctx context.Context, query string, args ...any) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, errors.StoreError("entity store is closed", nil)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrapSQLite("failed to query relations", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, wrapSQLite("failed to scan relation", err)
		}
		out = append(out, id)
	}
	return out, wrapSQLite("failed to query relations", rows.Err())
}

// Count returns the number of entities of kind.
func (s *SQLiteEntityStore) Count(ctx context.Context, kind string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return 0, errors.StoreError("entity store is closed", nil)
	}
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM entities WHERE kind = ?`, kind).Scan(&n)
	return n, wrapSQLite("failed to count entities", err)
}

// Cursor streams every entity of kind in id order. Rows are read one page
// at a time so no statement stays open between calls to Next.
func (s *SQLiteEntityStore) Cursor(kind string, pageSize int) *EntityCursor {
	if pageSize <= 0 {
		pageSize = 500
	}
	return &EntityCursor{store: s, kind: kind, pageSize: pageSize}
}

// Close closes the store. It is idempotent.
func (s *SQLiteEntityStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

// page returns up to limit records of kind with id > after.
func (s *SQLiteEntityStore) page(ctx context.Context, kind, after string, limit int) ([]*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, errors.StoreError("entity store is closed", nil)
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+recordColumns+` FROM entities WHERE kind = ? AND id > ? ORDER BY id LIMIT ?`,
		kind, after, limit)
	if err != nil {
		return nil, wrapSQLite("failed to read entity page", err)
	}
	defer rows.Close()

	var out []*Record
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, wrapSQLite("failed to scan entity", err)
		}
		out = append(out, r)
	}
	return out, wrapSQLite("failed to read entity page", rows.Err())
}

// EntityCursor implements index.Cursor over the entity store.
type EntityCursor struct {
	store    *SQLiteEntityStore
	kind     string
	pageSize int
	buf      []*Record
	last     string
	done     bool
	closed   bool
}

var _ index.Cursor = (*EntityCursor)(nil)

func (c *EntityCursor) Next(ctx context.Context) (index.Entity, bool, error) {
	if c.closed || c.done {
		return nil, false, nil
	}
	if len(c.buf) == 0 {
		page, err := c.store.page(ctx, c.kind, c.last, c.pageSize)
		if err != nil {
			return nil, false, err
		}
		if len(page) == 0 {
			c.done = true
			return nil, false, nil
		}
		c.buf = page
	}
	r := c.buf[0]
	c.buf = c.buf[1:]
	c.last = r.EntityID
	return r, true, nil
}

func (c *EntityCursor) Close() error {
	c.closed = true
	c.buf = nil
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*Record, error) {
	var (
		r                Record
		parent           sql.NullString
		virtual, variant int
		attrsJSON        string
	)
	if err := row.Scan(&r.EntityID, &r.EntityKind, &parent, &virtual, &variant,
		&r.Name, &r.CategoryID, &attrsJSON, &r.UpdatedAt); err != nil {
		return nil, err
	}
	r.ParentID = parent.String
	r.IsVirtual = virtual != 0
	r.IsVariant = variant != 0
	if err := json.Unmarshal([]byte(attrsJSON), &r.Attrs); err != nil {
		return nil, fmt.Errorf("corrupt attrs of %s: %w", r.EntityID, err)
	}
	return &r, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nonNilAttrs(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}
