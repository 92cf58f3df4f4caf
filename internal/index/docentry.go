package index

import (
	"github.com/Aman-CERP/entityidx/internal/entry"
)

// DocEntry pairs the entry that triggered a build with the document built
// for it. It implements hook.Doc.
type DocEntry struct {
	entry *entry.Entry
	id    string
	doc   *Document
	data  any
}

// NewDocEntry creates a DocEntry. An empty id defaults to the entry id.
func NewDocEntry(e *entry.Entry, id string, doc *Document, data any) *DocEntry {
	if id == "" {
		id = e.ID()
	}
	return &DocEntry{entry: e, id: id, doc: doc, data: data}
}

func (d *DocEntry) ID() string          { return d.id }
func (d *DocEntry) Entry() *entry.Entry { return d.entry }
func (d *DocEntry) Doc() *Document      { return d.doc }
func (d *DocEntry) Data() any           { return d.data }

// Fields returns the document fields as a map.
func (d *DocEntry) Fields() map[string]any {
	if d.doc == nil {
		return nil
	}
	return d.doc.Map()
}

// MakeEntry derives a fresh entry for the same identity, e.g. to requeue a
// processed document. Kind-specific flags are not carried over.
func (d *DocEntry) MakeEntry(action entry.Action, entryTime int64, topics []string, flush string) *entry.Entry {
	return entry.New(d.entry.Kind(), d.entry.ID(), action,
		entry.WithTime(entryTime),
		entry.WithTopics(topics...),
		entry.WithFlush(flush))
}
