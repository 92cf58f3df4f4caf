package entry

// Set is an insertion-ordered mapping from identity to a single merged
// Entry. Putting an entry for an identity already present merges it in
// place; the identity keeps its original position.
type Set struct {
	keys    []string
	entries map[string]*Entry
}

// NewSet returns an empty Set.
func NewSet() *Set {
	return &Set{entries: make(map[string]*Entry)}
}

// Dedup coalesces entries in arrival order into one Entry per identity,
// preserving the order in which identities were first seen.
func Dedup(entries []*Entry) *Set {
	s := NewSet()
	for _, e := range entries {
		s.Put(e)
	}
	return s
}

// Put merges e into the set and returns the resulting entry.
func (s *Set) Put(e *Entry) *Entry {
	if e == nil {
		return nil
	}
	key := e.Key()
	prev, ok := s.entries[key]
	if !ok {
		s.keys = append(s.keys, key)
	}
	merged := Merge(prev, e)
	s.entries[key] = merged
	return merged
}

// Get returns the entry for kind/id.
func (s *Set) Get(kind, id string) (*Entry, bool) {
	e, ok := s.entries[kind+":"+id]
	return e, ok
}

// Has reports whether kind/id is present.
func (s *Set) Has(kind, id string) bool {
	_, ok := s.Get(kind, id)
	return ok
}

// Len returns the number of distinct identities.
func (s *Set) Len() int {
	return len(s.keys)
}

// Entries returns the merged entries in first-seen order.
func (s *Set) Entries() []*Entry {
	out := make([]*Entry, len(s.keys))
	for i, k := range s.keys {
		out[i] = s.entries[k]
	}
	return out
}

// IDs returns the identities in first-seen order.
func (s *Set) IDs() []string {
	out := make([]string, len(s.keys))
	for i, k := range s.keys {
		out[i] = s.entries[k].ID()
	}
	return out
}
