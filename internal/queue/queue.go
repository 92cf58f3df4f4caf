// Package queue holds pending entity-change entries between the producers
// that observe changes and the indexing pass that consumes them.
//
// Drain claims entries; a claimed entry is invisible to further drains until
// it is acknowledged (deleted) or requeued. Claims left behind by a crashed
// consumer are released when a durable queue is reopened.
package queue

import (
	"context"
	"sync"

	"github.com/Aman-CERP/entityidx/internal/entry"
)

// Item is a claimed entry and its queue sequence number.
type Item struct {
	Seq   int64
	Entry *entry.Entry
}

// Queue is a FIFO of entries with claim/ack semantics.
type Queue interface {
	Enqueue(ctx context.Context, entries ...*entry.Entry) error
	// Drain claims up to max unclaimed entries in arrival order; max <= 0
	// claims all of them.
	Drain(ctx context.Context, max int) ([]Item, error)
	Ack(ctx context.Context, items []Item) error
	Requeue(ctx context.Context, items []Item) error
	// Len returns the number of unclaimed entries.
	Len(ctx context.Context) (int, error)
	Close() error
}

// Entries extracts the entries of items, in order.
func Entries(items []Item) []*entry.Entry {
	out := make([]*entry.Entry, len(items))
	for i, it := range items {
		out[i] = it.Entry
	}
	return out
}

// MemQueue is an in-process Queue.
type MemQueue struct {
	mu      sync.Mutex
	nextSeq int64
	pending []Item
	claimed map[int64]Item
}

var _ Queue = (*MemQueue)(nil)

// NewMemQueue creates an empty in-memory queue.
func NewMemQueue() *MemQueue {
	return &MemQueue{claimed: make(map[int64]Item)}
}

func (q *MemQueue) Enqueue(_ context.Context, entries ...*entry.Entry) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, e := range entries {
		q.nextSeq++
		q.pending = append(q.pending, Item{Seq: q.nextSeq, Entry: e})
	}
	return nil
}

func (q *MemQueue) Drain(_ context.Context, max int) ([]Item, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := len(q.pending)
	if max > 0 && max < n {
		n = max
	}
	items := append([]Item(nil), q.pending[:n]...)
	q.pending = q.pending[n:]
	for _, it := range items {
		q.claimed[it.Seq] = it
	}
	return items, nil
}

func (q *MemQueue) Ack(_ context.Context, items []Item) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, it := range items {
		delete(q.claimed, it.Seq)
	}
	return nil
}

// Requeue puts claimed items back at the head of the queue, keeping their
// original order.
func (q *MemQueue) Requeue(_ context.Context, items []Item) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	var back []Item
	for _, it := range items {
		if _, ok := q.claimed[it.Seq]; !ok {
			continue
		}
		delete(q.claimed, it.Seq)
		back = append(back, it)
	}
	q.pending = append(back, q.pending...)
	return nil
}

func (q *MemQueue) Len(context.Context) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending), nil
}

func (q *MemQueue) Close() error { return nil }
