package backend

import (
	"errors"
	"time"

	"github.com/gogpu/rendercore/binding"
	"github.com/gogpu/rendercore/resource"
)

// Common backend errors.
var (
	// ErrBackendNotAvailable is returned when a requested backend is not available.
	ErrBackendNotAvailable = errors.New("backend: not available")

	// ErrNotInitialized is returned when operations are called before Init.
	ErrNotInitialized = errors.New("backend: not initialized")

	// ErrFenceTimeout is returned when a frame does not complete within the
	// wait timeout.
	ErrFenceTimeout = errors.New("backend: frame fence timeout")
)

// Backend is the native graphics API a Renderer drives. It is selected once
// at startup and never switched per call.
//
// Backends must be registered via Register() and are selected via
// Get() or Default().
type Backend interface {
	// Name returns the backend identifier (e.g., "native", "software").
	Name() string

	// Init initializes the backend.
	// This should be called before any other method.
	Init() error

	// Close releases all backend resources.
	// The backend should not be used after Close is called.
	Close()

	// Descriptors returns the native descriptor-set implementation used by
	// binding registries.
	Descriptors() binding.Device

	// Fence returns the fence that tracks frame completion on the GPU.
	Fence() FrameFence

	// Resources returns the allocator for GPU buffers, textures and
	// samplers, or nil if the backend has no GPU device.
	Resources() *resource.Allocator
}

// FrameFence tracks GPU completion of numbered frames. Frame numbers are
// signaled in increasing order starting at 1; frame 0 is always complete.
type FrameFence interface {
	// Signal marks the end of frame's GPU work. Called from the render
	// thread after the frame has been submitted.
	Signal(frame uint64) error

	// Wait blocks until frame has completed, or returns ErrFenceTimeout
	// after timeout.
	Wait(frame uint64, timeout time.Duration) error

	// Completed returns the highest frame known to have completed.
	Completed() uint64
}
