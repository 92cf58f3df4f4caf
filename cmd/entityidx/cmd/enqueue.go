package cmd

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/entityidx/internal/entry"
	"github.com/Aman-CERP/entityidx/internal/errors"
)

type enqueueOptions struct {
	kind   string
	action string
	flags  []string
	topics []string
	flush  string
	run    bool
}

func newEnqueueCmd() *cobra.Command {
	var opts enqueueOptions

	cmd := &cobra.Command{
		Use:   "enqueue <id>...",
		Short: "Queue entity changes for indexing",
		Long: `Queue one entry per id. The next pass (from 'entityidx run' or a
running 'entityidx watch') resolves each entity against the entity store.

Flags name related-entity expansion for products:
  updateVariants, updateVariantsDeep, updateVirtual, updateVirtualDeep
A flag may be negated with a '!' prefix to set it explicitly to false.`,
		Example: `  # Reindex two products
  entityidx enqueue P1 P2

  # A parent changed; reindex it and all its variants
  entityidx enqueue P1 --flag updateVariantsDeep

  # Remove a product's document and checkpoint the store
  entityidx enqueue P9 --action remove --flush all`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEnqueue(cmd, args, opts)
		},
	}

	cmd.Flags().StringVar(&opts.kind, "kind", entry.KindProduct, "Entity kind")
	cmd.Flags().StringVar(&opts.action, "action", "", "Action: add, remove, or empty to decide from the store")
	cmd.Flags().StringSliceVar(&opts.flags, "flag", nil, "Entry flag (repeatable)")
	cmd.Flags().StringSliceVar(&opts.topics, "topic", nil, "Topic to notify (repeatable)")
	cmd.Flags().StringVar(&opts.flush, "flush", entry.FlushNone, "Flush directive for the commit, e.g. all")
	cmd.Flags().BoolVar(&opts.run, "run", false, "Drain the queue right away")

	return cmd
}

func runEnqueue(cmd *cobra.Command, ids []string, opts enqueueOptions) error {
	entryOpts, action, err := opts.entryOptions()
	if err != nil {
		return err
	}

	entries := make([]*entry.Entry, 0, len(ids))
	for _, id := range ids {
		entries = append(entries, entry.New(opts.kind, id, action, entryOpts...))
	}

	p, err := openProject()
	if err != nil {
		return err
	}
	defer p.Close()

	if err := p.queue.Enqueue(cmd.Context(), entries...); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Queued %d %s entries\n", len(entries), opts.kind)

	if opts.run {
		return drain(cmd, p, false)
	}
	return nil
}

// entryOptions validates the options and turns them into entry options.
func (o enqueueOptions) entryOptions() ([]entry.Option, entry.Action, error) {
	action, err := entry.ParseAction(o.action)
	if err != nil {
		return nil, 0, errors.New(errors.ErrCodeInvalidAction, err.Error(), err).
			WithSuggestion("use add, remove, or leave empty")
	}

	flags, err := parseFlags(o.flags)
	if err != nil {
		return nil, 0, err
	}

	opts := []entry.Option{entry.WithTime(time.Now().UnixMilli())}
	if len(flags) > 0 {
		opts = append(opts, entry.WithFlags(flags))
	}
	if len(o.topics) > 0 {
		opts = append(opts, entry.WithTopics(o.topics...))
	}
	if o.flush != entry.FlushNone {
		opts = append(opts, entry.WithFlush(o.flush))
	}
	return opts, action, nil
}

// parseFlags parses "name" and "!name" into explicit flag values.
func parseFlags(names []string) (map[string]bool, error) {
	flags := make(map[string]bool, len(names))
	for _, raw := range names {
		name, value := strings.TrimSpace(raw), true
		if rest, ok := strings.CutPrefix(name, "!"); ok {
			name, value = rest, false
		}
		if name == "" {
			return nil, errors.New(errors.ErrCodeInvalidEntry, fmt.Sprintf("invalid flag %q", raw), nil)
		}
		flags[name] = value
	}
	return flags, nil
}
