// Package renderthread runs frame work on a dedicated render execution
// context and synchronizes it with the logic thread through a three-state
// handshake: Idle -> Kick -> Busy -> Idle.
//
// The logic thread calls BlockUntilRenderComplete before touching the next
// frame's write buffer and Kick once that frame is recorded. The render loop
// picks up the Kick, runs the work and reports Idle. At most one frame is in
// flight between the two sides.
package renderthread

import (
	"errors"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"
)

// ErrStalled is returned when the render thread does not reach Idle within
// the configured timeout. The pipeline is deadlocked; it is not retried.
var ErrStalled = errors.New("renderthread: render thread stalled")

// ErrNotRunning is returned by Kick after Terminate or before Run.
var ErrNotRunning = errors.New("renderthread: not running")

// State is the handshake state.
type State int32

const (
	// Idle means the render thread has finished its frame and the logic
	// thread may swap queues.
	Idle State = iota

	// Busy means the render thread is executing a frame.
	Busy

	// Kick means a frame has been handed over but not yet picked up.
	Kick
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case Idle:
		return "Idle"
	case Busy:
		return "Busy"
	case Kick:
		return "Kick"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// Policy selects how frame work is executed.
type Policy int

const (
	// SingleThreaded runs the work inline inside Kick. Wait functions return
	// immediately. Deterministic; intended for tests and tools.
	SingleThreaded Policy = iota

	// MultiThreaded runs the work on a dedicated goroutine locked to an OS
	// thread.
	MultiThreaded
)

// String returns the policy name.
func (p Policy) String() string {
	switch p {
	case SingleThreaded:
		return "single-threaded"
	case MultiThreaded:
		return "multi-threaded"
	default:
		return fmt.Sprintf("Policy(%d)", int(p))
	}
}

// DefaultTimeout is the idle timeout used when Config.Timeout is zero.
const DefaultTimeout = 5 * time.Second

// Config describes a render thread.
type Config struct {
	// Name is used in error messages.
	Name string

	// Policy selects inline or threaded execution.
	Policy Policy

	// Timeout bounds BlockUntilRenderComplete. Zero means DefaultTimeout,
	// a negative value waits forever.
	Timeout time.Duration

	// Work is one frame of render work. Required.
	Work func()
}

// Thread is the render execution context.
type Thread struct {
	name    string
	policy  Policy
	timeout time.Duration
	work    func()

	mu      sync.Mutex
	state   State
	changed chan struct{} // closed and replaced on every state change

	running atomic.Bool
	started bool
	done    chan struct{}
	frames  atomic.Uint64
}

// New creates a render thread. It does not start executing until Run.
func New(cfg Config) *Thread {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = DefaultTimeout
	}
	name := cfg.Name
	if name == "" {
		name = "render"
	}
	work := cfg.Work
	if work == nil {
		work = func() {}
	}
	return &Thread{
		name:    name,
		policy:  cfg.Policy,
		timeout: timeout,
		work:    work,
		state:   Idle,
		changed: make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// Policy returns the execution policy.
func (t *Thread) Policy() Policy { return t.policy }

// State returns the current handshake state.
func (t *Thread) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Frames returns the number of frames the render loop has completed.
func (t *Thread) Frames() uint64 { return t.frames.Load() }

// Running reports whether Run has been called and Terminate has not.
func (t *Thread) Running() bool { return t.running.Load() }

// Run starts the render loop. With the multi-threaded policy it spawns the
// render goroutine; calling Run twice is a no-op.
func (t *Thread) Run() {
	t.mu.Lock()
	if t.started {
		t.mu.Unlock()
		return
	}
	t.started = true
	t.mu.Unlock()

	t.running.Store(true)
	if t.policy == SingleThreaded {
		close(t.done)
		return
	}
	go t.loop()
}

func (t *Thread) loop() {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	defer close(t.done)

	for {
		t.waitAndSet(Kick, Busy)
		// Terminate clears running before its final Kick, so the Kick
		// consumed here decides whether this is the last frame.
		last := !t.running.Load()
		t.work()
		t.frames.Add(1)
		t.set(Idle)
		if last {
			return
		}
	}
}

// Kick hands the recorded frame to the render thread. With the
// single-threaded policy the work runs before Kick returns.
//
// Kick must only be called while the thread is Idle, that is after
// BlockUntilRenderComplete.
func (t *Thread) Kick() error {
	if !t.running.Load() {
		return ErrNotRunning
	}
	if t.policy == SingleThreaded {
		t.set(Busy)
		t.work()
		t.frames.Add(1)
		t.set(Idle)
		return nil
	}
	t.set(Kick)
	return nil
}

// BlockUntilRenderComplete waits until the render thread is Idle. It returns
// an error wrapping ErrStalled if that does not happen within the timeout.
func (t *Thread) BlockUntilRenderComplete() error {
	if t.policy == SingleThreaded {
		return nil
	}
	return t.wait(Idle, t.timeout)
}

// Terminate stops the render loop. The loop finishes one final frame so
// that anything already swapped into the execute buffer runs, then the
// render goroutine is joined.
func (t *Thread) Terminate() error {
	if !t.running.Load() {
		return nil
	}
	if err := t.BlockUntilRenderComplete(); err != nil {
		return err
	}
	t.running.Store(false)
	if t.policy == SingleThreaded {
		t.set(Busy)
		t.work()
		t.frames.Add(1)
		t.set(Idle)
		return nil
	}
	t.set(Kick)
	if err := t.wait(Idle, t.timeout); err != nil {
		return err
	}
	<-t.done
	return nil
}

func (t *Thread) set(s State) {
	t.mu.Lock()
	t.state = s
	close(t.changed)
	t.changed = make(chan struct{})
	t.mu.Unlock()
}

// wait blocks until the state equals want. A negative timeout waits forever.
func (t *Thread) wait(want State, timeout time.Duration) error {
	var deadline <-chan time.Time
	if timeout >= 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		deadline = timer.C
	}
	for {
		t.mu.Lock()
		if t.state == want {
			t.mu.Unlock()
			return nil
		}
		ch, state := t.changed, t.state
		t.mu.Unlock()

		select {
		case <-ch:
		case <-deadline:
			return fmt.Errorf("%w: %s thread still %s after %v", ErrStalled, t.name, state, timeout)
		}
	}
}

// waitAndSet blocks until the state equals want, then sets next atomically.
func (t *Thread) waitAndSet(want, next State) {
	for {
		t.mu.Lock()
		if t.state == want {
			t.state = next
			close(t.changed)
			t.changed = make(chan struct{})
			t.mu.Unlock()
			return
		}
		ch := t.changed
		t.mu.Unlock()
		<-ch
	}
}
