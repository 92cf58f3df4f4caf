package index

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/Aman-CERP/entityidx/internal/async"
	"github.com/Aman-CERP/entityidx/internal/errors"
	"github.com/Aman-CERP/entityidx/internal/queue"
)

// DefaultDrainMax bounds the entries one queue-driven pass consumes.
const DefaultDrainMax = 10000

// CoordinatorConfig contains configuration for the Coordinator.
type CoordinatorConfig struct {
	// DataDir holds the cross-process pass lock. Empty disables it.
	DataDir string

	// DrainMax is the maximum number of entries per pass.
	// Defaults to DefaultDrainMax if zero.
	DrainMax int

	// Interval, when positive, runs a pass periodically even without triggers.
	Interval time.Duration
}

// Coordinator drains the entry queue into indexing passes. Entries are
// acknowledged only after their pass committed; a failed or aborted pass
// puts them back on the queue.
type Coordinator struct {
	config  CoordinatorConfig
	indexer *Indexer
	queue   queue.Queue
	signals *async.Signals
	lock    *PassLock
	trigger chan struct{}
	logger  *slog.Logger

	mu sync.Mutex
}

// NewCoordinator creates a coordinator over q. The indexer must have a Committer.
func NewCoordinator(cfg CoordinatorConfig, ix *Indexer, q queue.Queue) (*Coordinator, error) {
	if ix == nil {
		return nil, errors.ValidationError("indexer is required", nil)
	}
	if ix.committer == nil {
		return nil, errors.ValidationError("indexer has no committer", nil)
	}
	if q == nil {
		return nil, errors.ValidationError("queue is required", nil)
	}
	if cfg.DrainMax <= 0 {
		cfg.DrainMax = DefaultDrainMax
	}

	c := &Coordinator{
		config:  cfg,
		indexer: ix,
		queue:   q,
		signals: async.NewSignals(),
		trigger: make(chan struct{}, 1),
		logger:  ix.logger,
	}
	if cfg.DataDir != "" {
		c.lock = NewPassLock(cfg.DataDir)
	}
	return c, nil
}

// Signals returns the signal set passed to every pass. Raising
// async.SignalStop aborts the running pass at its next batch boundary.
func (c *Coordinator) Signals() *async.Signals {
	return c.signals
}

// Trigger requests a pass. Triggers arriving while one is pending coalesce.
func (c *Coordinator) Trigger() {
	select {
	case c.trigger <- struct{}{}:
	default:
	}
}

// RunOnce drains up to DrainMax entries and runs one pass over them.
// It returns a nil Result when the queue was empty.
func (c *Coordinator) RunOnce(ctx context.Context) (*Result, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.lock != nil {
		acquired, err := c.lock.TryLock()
		if err != nil {
			return nil, errors.StoreError("failed to acquire pass lock", err)
		}
		if !acquired {
			return nil, errors.New(errors.ErrCodePassLocked, "another process is running a pass", nil).
				WithDetail("lock", c.lock.Path())
		}
		defer func() {
			if err := c.lock.Unlock(); err != nil {
				c.logger.Warn("pass_lock_release_failed", slog.String("error", err.Error()))
			}
		}()
	}

	items, err := c.queue.Drain(ctx, c.config.DrainMax)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, nil
	}

	c.logger.Debug("queue_drained", slog.Int("entries", len(items)))

	res, err := c.indexer.ReadDocsAndCommit(ctx, queue.Entries(items), c.signals)
	if err != nil || (res != nil && res.Status.Aborted()) {
		// Use a fresh context: the pass context may be the reason we stopped.
		if rerr := c.queue.Requeue(context.WithoutCancel(ctx), items); rerr != nil {
			c.logger.Error("queue_requeue_failed",
				slog.Int("entries", len(items)),
				slog.String("error", rerr.Error()))
		}
		return res, err
	}

	if err := c.queue.Ack(ctx, items); err != nil {
		return res, err
	}
	return res, nil
}

// Drain runs passes until the queue is empty or a pass fails or aborts.
func (c *Coordinator) Drain(ctx context.Context) error {
	for {
		res, err := c.RunOnce(ctx)
		if err != nil {
			return err
		}
		if res == nil || res.Status.Aborted() {
			return nil
		}
	}
}

// Run waits for triggers (and ticks, if an interval is set) and drains the
// queue on each, until ctx is done. Pass errors are logged, not returned.
func (c *Coordinator) Run(ctx context.Context) error {
	var tick <-chan time.Time
	if c.config.Interval > 0 {
		t := time.NewTicker(c.config.Interval)
		defer t.Stop()
		tick = t.C
	}

	c.Trigger()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-c.trigger:
		case <-tick:
		}

		if err := c.Drain(ctx); err != nil {
			if errors.GetCode(err) == errors.ErrCodePassLocked {
				c.logger.Info("pass_skipped_locked")
				continue
			}
			c.logger.Error("index_pass_failed", errors.LogAttrs(err)...)
		}
	}
}
