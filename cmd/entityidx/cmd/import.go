package cmd

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/entityidx/internal/entry"
	"github.com/Aman-CERP/entityidx/internal/errors"
	"github.com/Aman-CERP/entityidx/internal/store"
)

// importLine is one JSON line of an import file.
type importLine struct {
	Kind       string         `json:"kind"`
	ID         string         `json:"id"`
	ParentID   string         `json:"parent_id,omitempty"`
	Virtual    bool           `json:"virtual,omitempty"`
	Variant    bool           `json:"variant,omitempty"`
	Name       string         `json:"name,omitempty"`
	CategoryID string         `json:"category_id,omitempty"`
	Attrs      map[string]any `json:"attrs,omitempty"`
	UpdatedAt  int64          `json:"updated_at,omitempty"`
	Deleted    bool           `json:"deleted,omitempty"`
}

const importKindCategory = "category"

// importBatch is the number of lines written per entity store transaction.
const importBatch = 500

type importOptions struct {
	flags   []string
	noQueue bool
	run     bool
}

type importStats struct {
	upserted   int
	deleted    int
	categories int
	queued     int
}

func newImportCmd() *cobra.Command {
	var opts importOptions

	cmd := &cobra.Command{
		Use:   "import <file.jsonl|->",
		Short: "Load entities into the entity store and queue them",
		Long: `Read one JSON object per line and apply it to the entity store.

Product lines:
  {"id":"P1","name":"Trail Runner","category_id":"c1","attrs":{"color":"red"}}
  {"id":"V1","parent_id":"P1","variant":true,"name":"Trail Runner 42"}
  {"id":"P9","deleted":true}

Category lines:
  {"kind":"category","id":"c1","name":"Footwear"}

Every product line also queues an entry for its id, so the next pass
rebuilds or removes its document. Use --no-queue to only load the store.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runImport(cmd, args[0], opts)
		},
	}

	cmd.Flags().StringSliceVar(&opts.flags, "flag", nil, "Flag set on every queued entry (repeatable)")
	cmd.Flags().BoolVar(&opts.noQueue, "no-queue", false, "Do not queue entries")
	cmd.Flags().BoolVar(&opts.run, "run", false, "Drain the queue after importing")

	return cmd
}

func runImport(cmd *cobra.Command, path string, opts importOptions) error {
	flags, err := parseFlags(opts.flags)
	if err != nil {
		return err
	}

	var in io.Reader = cmd.InOrStdin()
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return errors.New(errors.ErrCodeInvalidInput, fmt.Sprintf("cannot open %s", path), err)
		}
		defer f.Close()
		in = f
	}

	p, err := openProject()
	if err != nil {
		return err
	}
	defer p.Close()

	stats, err := importLines(cmd.Context(), p, in, flags, !opts.noQueue)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Imported %d products, %d categories, deleted %d, queued %d\n",
		stats.upserted, stats.categories, stats.deleted, stats.queued)

	if opts.run && stats.queued > 0 {
		return drain(cmd, p, false)
	}
	return nil
}

// importLines applies every line of r in batches. Entries for a batch are
// queued only after the batch is in the entity store.
func importLines(ctx context.Context, p *project, r io.Reader, flags map[string]bool, enqueue bool) (importStats, error) {
	var (
		stats   importStats
		records []*store.Record
		deletes []string
		entries []*entry.Entry
	)

	flushBatch := func() error {
		if err := p.entities.Upsert(ctx, records...); err != nil {
			return err
		}
		if err := p.entities.Delete(ctx, deletes...); err != nil {
			return err
		}
		if enqueue && len(entries) > 0 {
			if err := p.queue.Enqueue(ctx, entries...); err != nil {
				return err
			}
			stats.queued += len(entries)
		}
		stats.upserted += len(records)
		stats.deleted += len(deletes)
		records, deletes, entries = records[:0], deletes[:0], entries[:0]
		return nil
	}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		raw := strings.TrimSpace(scanner.Text())
		if raw == "" || strings.HasPrefix(raw, "#") {
			continue
		}

		var line importLine
		if err := json.Unmarshal([]byte(raw), &line); err != nil {
			return stats, errors.New(errors.ErrCodeInvalidInput, fmt.Sprintf("line %d: invalid JSON", lineNo), err)
		}
		if line.ID == "" {
			return stats, errors.New(errors.ErrCodeInvalidInput, fmt.Sprintf("line %d: missing id", lineNo), nil)
		}

		if strings.EqualFold(line.Kind, importKindCategory) {
			if err := p.entities.PutCategory(ctx, store.Category{ID: line.ID, Name: line.Name}); err != nil {
				return stats, err
			}
			stats.categories++
			continue
		}

		kind := entry.KindProduct
		action := entry.ActionNone
		if line.Deleted {
			deletes = append(deletes, line.ID)
			action = entry.ActionRemove
		} else {
			records = append(records, line.record(kind))
		}
		at := line.UpdatedAt
		if at == 0 {
			at = time.Now().UnixMilli()
		}
		opts := []entry.Option{entry.WithTime(at)}
		if len(flags) > 0 {
			opts = append(opts, entry.WithFlags(flags))
		}
		entries = append(entries, entry.New(kind, line.ID, action, opts...))

		if len(records)+len(deletes) >= importBatch {
			if err := flushBatch(); err != nil {
				return stats, err
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return stats, errors.New(errors.ErrCodeInvalidInput, fmt.Sprintf("line %d: read failed", lineNo+1), err)
	}
	return stats, flushBatch()
}

func (l importLine) record(kind string) *store.Record {
	return &store.Record{
		EntityKind: kind,
		EntityID:   l.ID,
		ParentID:   l.ParentID,
		IsVirtual:  l.Virtual,
		IsVariant:  l.Variant,
		Name:       l.Name,
		CategoryID: l.CategoryID,
		Attrs:      l.Attrs,
		UpdatedAt:  l.UpdatedAt,
	}
}
