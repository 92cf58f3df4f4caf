// Package builder turns entity store records into search documents.
package builder

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/Aman-CERP/entityidx/internal/entry"
	"github.com/Aman-CERP/entityidx/internal/errors"
	"github.com/Aman-CERP/entityidx/internal/index"
	"github.com/Aman-CERP/entityidx/internal/store"
)

// DefaultCategoryCacheSize is the number of category names kept in memory.
const DefaultCategoryCacheSize = 1000

// CategorySource looks up category rows. *store.SQLiteEntityStore
// implements it.
type CategorySource interface {
	Category(ctx context.Context, id string) (store.Category, bool, error)
}

// Config controls which products become documents.
type Config struct {
	// IncludeVirtual indexes virtual products; by default they are filtered.
	IncludeVirtual bool
	CacheSize      int
}

// ProductBuilder builds product documents. The entity itself always comes
// from the resolver; only category names are cached. It is safe for
// concurrent use.
type ProductBuilder struct {
	categories CategorySource
	cache      *lru.Cache[string, string]
	config     Config

	hits   atomic.Int64
	misses atomic.Int64
}

var _ index.Builder = (*ProductBuilder)(nil)

// NewProductBuilder creates a builder reading category names from src.
func NewProductBuilder(src CategorySource, cfg Config) *ProductBuilder {
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = DefaultCategoryCacheSize
	}
	cache, _ := lru.New[string, string](cfg.CacheSize)
	return &ProductBuilder{categories: src, cache: cache, config: cfg}
}

// Build implements index.Builder. Virtual products and records marked
// inactive are filtered (nil Doc).
func (b *ProductBuilder) Build(ctx context.Context, ent index.Entity, e *entry.Entry, moment time.Time) (index.Built, error) {
	r, ok := ent.(*store.Record)
	if !ok || r.EntityKind != entry.KindProduct {
		return index.Built{}, errors.New(errors.ErrCodeBuildFailed,
			fmt.Sprintf("cannot build %s %s: not a product record", ent.Kind(), ent.ID()), nil)
	}
	if r.IsVirtual && !b.config.IncludeVirtual {
		return index.Built{}, nil
	}
	if active, set := r.Attrs["active"].(bool); set && !active {
		return index.Built{}, nil
	}

	category, err := b.categoryName(ctx, r.CategoryID)
	if err != nil {
		return index.Built{}, errors.New(errors.ErrCodeBuildFailed,
			fmt.Sprintf("category %s of %s", r.CategoryID, r.EntityID), err)
	}

	doc := index.NewDocument().
		Set("id", r.EntityID).
		Set("kind", r.EntityKind).
		Set("name", r.Name).
		Set("is_variant", r.IsVariant).
		Set("is_virtual", r.IsVirtual)
	if r.ParentID != "" {
		doc.Set("parent_id", r.ParentID)
	}
	if r.CategoryID != "" {
		doc.Set("category_id", r.CategoryID).Set("category", category)
	}
	if len(r.Attrs) > 0 {
		doc.Set("attrs", r.Attrs)
	}
	doc.Set("updated_at", r.UpdatedAt).
		Set("indexed_at", moment.UnixMilli())

	return index.Built{Doc: doc, Data: r}, nil
}

// categoryName returns the cached name of id. Missing categories are cached
// as an empty name.
func (b *ProductBuilder) categoryName(ctx context.Context, id string) (string, error) {
	if id == "" {
		return "", nil
	}
	if name, ok := b.cache.Get(id); ok {
		b.hits.Add(1)
		return name, nil
	}
	b.misses.Add(1)

	c, found, err := b.categories.Category(ctx, id)
	if err != nil {
		return "", err
	}
	name := ""
	if found {
		name = c.Name
	}
	b.cache.Add(id, name)
	return name, nil
}

// InvalidateCategory drops a cached category name, e.g. after a rename.
func (b *ProductBuilder) InvalidateCategory(id string) {
	b.cache.Remove(id)
}

// CacheStats returns category cache hits and misses.
func (b *ProductBuilder) CacheStats() (hits, misses int64) {
	return b.hits.Load(), b.misses.Load()
}
