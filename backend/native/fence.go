package native

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/rendercore/backend"
)

const (
	minPollInterval = 50 * time.Microsecond
	maxPollInterval = 2 * time.Millisecond
)

// submission maps a frame to the queue submission index that marks its end.
type submission struct {
	frame uint64
	index uint64
}

// frameFence tracks frame completion through the queue's submission
// indices. Signal records the index of an empty submit for each frame and
// Completed maps the queue's PollCompleted value back to a frame.
type frameFence struct {
	queue hal.Queue

	mu        sync.Mutex
	pending   []submission // ascending by frame and index
	signaled  uint64
	closed    bool
	completed atomic.Uint64
}

func newFrameFence(queue hal.Queue) *frameFence {
	return &frameFence{queue: queue}
}

// Signal submits an empty batch and records its index as the end of frame.
func (f *frameFence) Signal(frame uint64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return ErrNotInitialized
	}
	if frame <= f.signaled {
		return nil
	}
	index, err := f.queue.Submit(nil)
	if err != nil {
		return fmt.Errorf("signal frame %d: %w", frame, err)
	}
	f.pending = append(f.pending, submission{frame: frame, index: index})
	f.signaled = frame
	f.pollLocked()
	return nil
}

// Wait polls the queue until frame completes or timeout elapses. A frame
// not yet signaled can still complete if another goroutine signals it.
func (f *frameFence) Wait(frame uint64, timeout time.Duration) error {
	if frame <= f.completed.Load() {
		return nil
	}
	deadline := time.Now().Add(timeout)
	interval := minPollInterval
	for {
		f.mu.Lock()
		if f.closed {
			f.mu.Unlock()
			return ErrNotInitialized
		}
		f.pollLocked()
		f.mu.Unlock()

		if frame <= f.completed.Load() {
			return nil
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return fmt.Errorf("%w: frame %d after %v", backend.ErrFenceTimeout, frame, timeout)
		}
		time.Sleep(min(interval, remaining))
		interval = min(interval*2, maxPollInterval)
	}
}

// Completed returns the highest frame whose submission has finished.
func (f *frameFence) Completed() uint64 {
	f.mu.Lock()
	if !f.closed {
		f.pollLocked()
	}
	f.mu.Unlock()
	return f.completed.Load()
}

func (f *frameFence) pollLocked() {
	if len(f.pending) == 0 {
		return
	}
	done := f.queue.PollCompleted()
	n := 0
	for n < len(f.pending) && f.pending[n].index <= done {
		n++
	}
	if n == 0 {
		return
	}
	f.completed.Store(f.pending[n-1].frame)
	f.pending = append(f.pending[:0], f.pending[n:]...)
}

func (f *frameFence) destroy() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	f.pending = nil
}
