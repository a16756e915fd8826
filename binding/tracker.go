package binding

import (
	"cmp"
	"slices"
)

// EntryState is the binding state of one (set, binding).
type EntryState uint8

const (
	// Bound means the native descriptor matches the live resource handle.
	Bound EntryState = iota

	// Invalidated means the live handle diverged and a rewrite is pending.
	Invalidated
)

// String returns the state name.
func (s EntryState) String() string {
	if s == Invalidated {
		return "Invalidated"
	}
	return "Bound"
}

type trackerEntry struct {
	age    int // Prepare calls survived while invalidated
	stale  bool
	logged bool
}

// Tracker records which (set, binding) pairs need a descriptor rewrite.
// Only invalidated pairs have an entry.
//
// An entry that survives more than one Prepare is stale: the binding is
// left on its previous or default resource and callers skip draws that
// use its set.
type Tracker struct {
	entries map[inputKey]*trackerEntry
}

// NewTracker creates an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{entries: make(map[inputKey]*trackerEntry)}
}

// Invalidate moves (set, binding) to Invalidated. It reports whether the
// entry is new; an entry that is already invalidated keeps its age.
func (t *Tracker) Invalidate(set, binding uint32) bool {
	k := inputKey{set, binding}
	if _, ok := t.entries[k]; ok {
		return false
	}
	t.entries[k] = &trackerEntry{}
	return true
}

// Clear moves (set, binding) back to Bound after a successful rewrite.
func (t *Tracker) Clear(set, binding uint32) {
	delete(t.entries, inputKey{set, binding})
}

// State returns the state of (set, binding).
func (t *Tracker) State(set, binding uint32) EntryState {
	if _, ok := t.entries[inputKey{set, binding}]; ok {
		return Invalidated
	}
	return Bound
}

// IsStale reports whether (set, binding) stayed invalidated across more
// than one Prepare.
func (t *Tracker) IsStale(set, binding uint32) bool {
	e, ok := t.entries[inputKey{set, binding}]
	return ok && e.stale
}

// SetStale reports whether any binding of set is stale.
func (t *Tracker) SetStale(set uint32) bool {
	for k, e := range t.entries {
		if k.set == set && e.stale {
			return true
		}
	}
	return false
}

// Len returns the number of invalidated entries.
func (t *Tracker) Len() int { return len(t.entries) }

// StaleCount returns the number of stale entries.
func (t *Tracker) StaleCount() int {
	n := 0
	for _, e := range t.entries {
		if e.stale {
			n++
		}
	}
	return n
}

// pending returns the invalidated keys ordered by set, then binding.
func (t *Tracker) pending() []inputKey {
	keys := make([]inputKey, 0, len(t.entries))
	for k := range t.entries {
		keys = append(keys, k)
	}
	slices.SortFunc(keys, func(a, b inputKey) int {
		if c := cmp.Compare(a.set, b.set); c != 0 {
			return c
		}
		return cmp.Compare(a.binding, b.binding)
	})
	return keys
}

// age is called at the end of every Prepare. It returns the keys that
// became stale and have not been reported yet.
func (t *Tracker) age() []inputKey {
	var fresh []inputKey
	for k, e := range t.entries {
		e.age++
		if e.age > 1 {
			e.stale = true
		}
		if e.stale && !e.logged {
			e.logged = true
			fresh = append(fresh, k)
		}
	}
	return fresh
}

// Reset drops every entry.
func (t *Tracker) Reset() {
	clear(t.entries)
}
