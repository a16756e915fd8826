// Package cmdqueue implements the double-buffered command FIFO that carries
// deferred work from the logic thread to the render thread.
//
// The logic thread appends to the write buffer with Submit. Once the render
// thread is idle, SwapQueues exchanges the roles of the two buffers and the
// render thread drains the former write buffer with Execute. The two buffers
// never share commands, so the producer can record frame N+1 while the
// consumer executes frame N.
//
// Thread safety: Double is not synchronized. Submit is called from the logic
// thread only, Execute from the render thread only, and SwapQueues only
// while the render thread is idle. The handshake in package renderthread
// provides the ordering.
package cmdqueue

// Command is a deferred action. It captures everything it needs by value
// and runs exactly once.
type Command func()

// initialCapacity is the starting capacity of each buffer. Buffers keep
// their backing array across frames, so steady-state submission does not
// allocate.
const initialCapacity = 64

// Queue is a single FIFO of commands.
type Queue struct {
	cmds []Command
}

// Push appends cmd. Nil commands are dropped.
func (q *Queue) Push(cmd Command) {
	if cmd == nil {
		return
	}
	q.cmds = append(q.cmds, cmd)
}

// Len returns the number of queued commands.
func (q *Queue) Len() int { return len(q.cmds) }

// Execute runs every queued command in submission order and empties the
// queue. Commands pushed while Execute runs are executed in the same pass.
func (q *Queue) Execute() int {
	n := 0
	for i := 0; i < len(q.cmds); i++ {
		cmd := q.cmds[i]
		q.cmds[i] = nil // release captured state
		cmd()
		n++
	}
	q.cmds = q.cmds[:0]
	return n
}

// Reset drops all queued commands without running them.
func (q *Queue) Reset() {
	clear(q.cmds)
	q.cmds = q.cmds[:0]
}

// Double is the write/execute buffer pair.
type Double struct {
	queues [2]Queue
	write  int
}

// NewDouble creates an empty buffer pair.
func NewDouble() *Double {
	d := &Double{}
	for i := range d.queues {
		d.queues[i].cmds = make([]Command, 0, initialCapacity)
	}
	return d
}

// Submit appends cmd to the current write buffer.
func (d *Double) Submit(cmd Command) {
	d.queues[d.write].Push(cmd)
}

// SwapQueues exchanges the write and execute roles.
func (d *Double) SwapQueues() {
	d.write ^= 1
}

// Execute runs and clears the execute buffer. It returns the number of
// commands executed.
func (d *Double) Execute() int {
	return d.queues[d.write^1].Execute()
}

// Pending returns the number of commands in the write buffer.
func (d *Double) Pending() int { return d.queues[d.write].Len() }

// Ready returns the number of commands waiting in the execute buffer.
func (d *Double) Ready() int { return d.queues[d.write^1].Len() }

// Reset drops the contents of both buffers.
func (d *Double) Reset() {
	for i := range d.queues {
		d.queues[i].Reset()
	}
}
