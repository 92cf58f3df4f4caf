// Package watcher notices writes to the durable entry queue so the indexer
// can run a pass without waiting for its poll interval.
//
// The queue is a SQLite database in WAL mode, so a writer touches the main
// file, its -wal file, or both. QueueWatcher watches the containing
// directory with fsnotify and filters for those names. Where fsnotify is not
// available (network mounts, some container volumes) it falls back to
// polling the files' size and modification time.
//
// Bursts of writes are coalesced by a Debouncer before the change callback
// runs:
//
//	w, err := watcher.NewQueueWatcher(queuePath, watcher.DefaultOptions(),
//	    func([]watcher.Event) { coordinator.Trigger() })
//	if err != nil {
//	    return err
//	}
//	return w.Run(ctx)
package watcher
