package index

import (
	"context"
	"fmt"

	"github.com/Aman-CERP/entityidx/internal/entry"
	"github.com/Aman-CERP/entityidx/internal/errors"
)

// RelationSource exposes the parent/child relationships the cascade follows.
// For products, children are variants and parents are virtual products.
type RelationSource interface {
	Children(ctx context.Context, kind, id string) ([]string, error)
	Parents(ctx context.Context, kind, id string) ([]string, error)
}

// CascadeExpander expands update-related product entries into implied
// entries for their variants and virtual parents. A shallow flag follows
// one level; a deep flag follows the relation transitively.
type CascadeExpander struct {
	Relations RelationSource
}

// NewCascadeExpander creates an expander over rel.
func NewCascadeExpander(rel RelationSource) *CascadeExpander {
	return &CascadeExpander{Relations: rel}
}

// Expand returns a new set holding every input entry, each followed by the
// entries it implies. Implied entries inherit time, topics and flush from
// their source and never carry an explicit action.
func (x *CascadeExpander) Expand(ctx context.Context, in *entry.Set) (*entry.Set, error) {
	out := entry.NewSet()
	for _, e := range in.Entries() {
		out.Put(e)
		if !entry.IsUpdateRelated(e) {
			continue
		}
		if e.Flag(entry.FlagUpdateVariants) {
			if err := x.follow(ctx, out, e, x.Relations.Children, e.Flag(entry.FlagUpdateVariantsDeep)); err != nil {
				return nil, err
			}
		}
		if e.Flag(entry.FlagUpdateVirtual) {
			if err := x.follow(ctx, out, e, x.Relations.Parents, e.Flag(entry.FlagUpdateVirtualDeep)); err != nil {
				return nil, err
			}
		}
	}
	return out, nil
}

type relationFunc func(ctx context.Context, kind, id string) ([]string, error)

func (x *CascadeExpander) follow(ctx context.Context, out *entry.Set, src *entry.Entry, related relationFunc, deep bool) error {
	visited := map[string]bool{src.ID(): true}
	frontier := []string{src.ID()}
	for len(frontier) > 0 {
		var next []string
		for _, id := range frontier {
			ids, err := related(ctx, src.Kind(), id)
			if err != nil {
				return errors.New(errors.ErrCodeExpansionFailed,
					fmt.Sprintf("failed to expand relations of %s:%s", src.Kind(), id), err)
			}
			for _, rid := range ids {
				if visited[rid] {
					continue
				}
				visited[rid] = true
				out.Put(entry.New(src.Kind(), rid, entry.ActionNone,
					entry.Implied(),
					entry.WithTime(src.Time()),
					entry.WithTopics(src.Topics()...),
					entry.WithFlush(src.Flush())))
				next = append(next, rid)
			}
		}
		if !deep {
			break
		}
		frontier = next
	}
	return nil
}
