package entry

import (
	"maps"
	"slices"
)

// Merge combines two entries for the same identity into one.
//
// Action, entry time, flags and the topic set do not depend on argument
// order. The entity reference, the order of topics and a non-"all" flush
// directive prefer existing.
//
// When exactly one side is implied (produced by expansion), the explicit
// side's action is kept: an implied entry never changes what an observed
// change asked for.
func Merge(existing, incoming *Entry) *Entry {
	if existing == nil {
		return incoming
	}
	if incoming == nil {
		return existing
	}
	if sameEffect(existing, incoming) {
		return existing
	}

	merged := &Entry{
		kind:    existing.kind,
		id:      existing.id,
		implied: existing.implied && incoming.implied,
	}

	switch {
	case existing.implied && !incoming.implied:
		merged.action = incoming.action
	case incoming.implied && !existing.implied:
		merged.action = existing.action
	case existing.IsExplicitRemove() && incoming.IsExplicitRemove():
		merged.action = ActionRemove
	case existing.IsExplicitAdd() || incoming.IsExplicitAdd():
		merged.action = ActionAdd
	default:
		merged.action = ActionNone
	}

	merged.ref = existing.ref
	if merged.ref == nil {
		merged.ref = incoming.ref
	}

	merged.time = max(existing.time, incoming.time)
	merged.flags = mergeFlags(existing.kind, existing.flags, incoming.flags)
	merged.topics = unionTopics(existing.topics, incoming.topics)
	merged.flush = mergeFlush(existing.flush, incoming.flush)

	return merged
}

// sameEffect reports whether merging b into a would change nothing that
// affects processing. Time, topics and flush still have to be folded in, so
// the shortcut only applies when those agree as well.
func sameEffect(a, b *Entry) bool {
	return a.action == b.action &&
		a.implied == b.implied &&
		a.time >= b.time &&
		a.flush == b.flush &&
		maps.Equal(a.flags, b.flags) &&
		slices.Equal(a.topics, b.topics)
}

// mergeFlags ORs flags that are set on either side. A flag ends up false
// only when both sides explicitly set it false; if one side is unset and the
// other false the result is unset, so a cascade requested earlier in the
// queue is never downgraded by a later "false".
func mergeFlags(kind string, a, b map[string]bool) map[string]bool {
	if len(a) == 0 && len(b) == 0 {
		return nil
	}

	out := make(map[string]bool, len(a)+len(b))
	for name := range unionKeys(a, b) {
		av, aset := a[name]
		bv, bset := b[name]
		switch {
		case aset && bset:
			out[name] = av || bv
		case aset && av, bset && bv:
			out[name] = true
		}
	}

	for deep, shallow := range PolicyFor(kind).Implies {
		if out[deep] {
			out[shallow] = true
		}
	}

	if len(out) == 0 {
		return nil
	}
	return out
}

func unionKeys(a, b map[string]bool) map[string]struct{} {
	keys := make(map[string]struct{}, len(a)+len(b))
	for k := range a {
		keys[k] = struct{}{}
	}
	for k := range b {
		keys[k] = struct{}{}
	}
	return keys
}

// unionTopics appends the topics of b not already in a, keeping a's order.
func unionTopics(a, b []string) []string {
	if len(b) == 0 {
		return a
	}
	out := slices.Clone(a)
	for _, t := range b {
		if t != "" && !slices.Contains(out, t) {
			out = append(out, t)
		}
	}
	return out
}

func mergeFlush(existing, incoming string) string {
	if existing == FlushAll || incoming == FlushAll {
		return FlushAll
	}
	if existing != "" {
		return existing
	}
	return incoming
}
