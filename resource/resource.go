// Package resource provides GPU resources backed by gogpu/wgpu/hal that can
// be bound to shader inputs through package binding.
//
// Every native object gets a generation ID from a process-wide counter.
// Recreating the object (a texture resize, for example) assigns a new ID, which
// is how a binding.Registry notices that its descriptors are stale. An ID of
// zero means the resource is not ready.
//
// Native objects are never destroyed directly: they are handed to a Freer,
// normally rendercore.Renderer, which releases them once every frame that
// might still reference them has completed on the GPU.
package resource

import (
	"errors"
	"sync/atomic"

	"github.com/gogpu/wgpu/hal"
)

// Resource errors.
var (
	// ErrNotReady is returned when operating on a resource whose native
	// objects have not been created.
	ErrNotReady = errors.New("resource: not ready")

	// ErrDestroyed is returned when operating on a destroyed resource.
	ErrDestroyed = errors.New("resource: destroyed")

	// ErrInvalidSize is returned for zero-sized buffers and textures.
	ErrInvalidSize = errors.New("resource: invalid size")
)

// Freer defers destruction of native objects until the GPU no longer
// uses them.
type Freer interface {
	SubmitResourceFree(free func())
}

// FreeFunc adapts a function to the Freer interface.
type FreeFunc func(free func())

// SubmitResourceFree calls f(free).
func (f FreeFunc) SubmitResourceFree(free func()) { f(free) }

// immediate destroys right away. Only safe when the device is idle.
type immediate struct{}

func (immediate) SubmitResourceFree(free func()) { free() }

var generation atomic.Uint64

// nextID returns a fresh non-zero generation ID.
func nextID() uint64 { return generation.Add(1) }

// nativeHandle extracts the raw handle of a hal object, or 0 if the backend
// does not expose one.
func nativeHandle(v any) uintptr {
	if n, ok := v.(interface{ NativeHandle() uintptr }); ok {
		return n.NativeHandle()
	}
	return 0
}

// Allocator creates resources on one hal device.
type Allocator struct {
	device hal.Device
	queue  hal.Queue
	freer  Freer
}

// NewAllocator returns an allocator for device and queue. A nil freer
// destroys replaced objects immediately, which is only correct while
// nothing is in flight.
func NewAllocator(device hal.Device, queue hal.Queue, freer Freer) *Allocator {
	if freer == nil {
		freer = immediate{}
	}
	return &Allocator{device: device, queue: queue, freer: freer}
}

// WithFreer returns a copy of a that defers destruction through freer.
func (a *Allocator) WithFreer(freer Freer) *Allocator {
	c := *a
	if freer == nil {
		freer = immediate{}
	}
	c.freer = freer
	return &c
}

// Device returns the hal device.
func (a *Allocator) Device() hal.Device { return a.device }

// Queue returns the hal queue.
func (a *Allocator) Queue() hal.Queue { return a.queue }
