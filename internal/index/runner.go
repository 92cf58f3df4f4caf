package index

import (
	"context"
	"log/slog"

	"github.com/Aman-CERP/entityidx/internal/async"
	"github.com/Aman-CERP/entityidx/internal/entry"
	"github.com/Aman-CERP/entityidx/internal/errors"
)

// ReadDocsAndCommit runs ReadDocs and hands the output to the Committer.
// The output of completed batches is committed even when the pass aborted.
// Retryable commit errors are retried with backoff.
func (ix *Indexer) ReadDocsAndCommit(ctx context.Context, entries []*entry.Entry, signals *async.Signals) (*Result, error) {
	if ix.committer == nil {
		return nil, errors.ValidationError("committer is required", nil)
	}
	res, err := ix.ReadDocs(ctx, entries, signals)
	if err != nil {
		return res, err
	}
	if len(res.Docs) == 0 && len(res.Removals) == 0 {
		return res, nil
	}

	flush := flushOf(entries)
	err = errors.Retry(ctx, errors.DefaultRetryConfig(), func() error {
		return ix.committer.Commit(ctx, res.Docs, res.Removals, flush)
	})
	if err != nil {
		return res, errors.New(errors.ErrCodeCommitFailed, "failed to commit pass output", err)
	}
	ix.logger.Info("index_pass_committed",
		slog.Int("docs", len(res.Docs)),
		slog.Int("removals", len(res.Removals)),
		slog.String("flush", flush))
	return res, nil
}

// RunHooks runs a pass over a streaming cursor without materialising it.
// The cursor is closed on every exit path. When sink is non-nil each batch's
// output is committed as soon as the batch ends and the Result carries only
// the status; otherwise the output accumulates in the Result.
func (ix *Indexer) RunHooks(ctx context.Context, cursor Cursor, signals *async.Signals, sink Committer) (res *Result, err error) {
	defer func() {
		if cerr := cursor.Close(); cerr != nil {
			ix.logger.Warn("cursor_close_failed", slog.String("error", cerr.Error()))
			if err == nil {
				err = errors.StoreError("failed to close cursor", cerr)
			}
		}
	}()

	moment := ix.clock()
	next := func(ctx context.Context) (work, bool, error) {
		ent, ok, err := cursor.Next(ctx)
		if err != nil || !ok {
			return work{}, false, err
		}
		e := entry.New(ent.Kind(), ent.ID(), entry.ActionNone,
			entry.WithTime(moment.UnixMilli()),
			entry.WithRef(ent))
		return work{entry: e, entity: ent, resolved: true}, true, nil
	}

	return ix.run(ctx, async.TotalUnknown, next, signals, sink)
}
