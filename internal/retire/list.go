// Package retire holds native objects whose destruction must wait until the
// GPU has finished every frame that could still reference them.
//
// Frees are tagged with the frame number that retired them and run by
// Collect once a fence for that frame (or a later one) has been observed.
package retire

import "sync"

type entry struct {
	frame uint64
	free  func()
}

// List is a frame-tagged destroy queue. It is safe for concurrent use;
// frees normally arrive on the render thread but a Release from the logic
// thread during shutdown may also add to it.
type List struct {
	mu      sync.Mutex
	entries []entry
}

// Retire schedules free to run once frame is complete. A nil free is ignored.
func (l *List) Retire(frame uint64, free func()) {
	if free == nil {
		return
	}
	l.mu.Lock()
	l.entries = append(l.entries, entry{frame: frame, free: free})
	l.mu.Unlock()
}

// Collect runs every free tagged with a frame <= completed, in retire order,
// and returns how many ran.
func (l *List) Collect(completed uint64) int {
	l.mu.Lock()
	var ready []func()
	kept := l.entries[:0]
	for _, e := range l.entries {
		if e.frame <= completed {
			ready = append(ready, e.free)
		} else {
			kept = append(kept, e)
		}
	}
	clear(l.entries[len(kept):])
	l.entries = kept
	l.mu.Unlock()

	// Frees may retire more objects; run them outside the lock.
	for _, free := range ready {
		free()
	}
	return len(ready)
}

// Drain runs every pending free regardless of frame. Used at shutdown once
// the device is idle.
func (l *List) Drain() int {
	total := 0
	for {
		l.mu.Lock()
		n := len(l.entries)
		l.mu.Unlock()
		if n == 0 {
			return total
		}
		total += l.Collect(^uint64(0))
	}
}

// Len returns the number of pending frees.
func (l *List) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}
