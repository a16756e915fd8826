package rendercore

import (
	"log/slog"
	"time"

	"github.com/gogpu/rendercore/backend"
	"github.com/gogpu/rendercore/binding"
	"github.com/gogpu/rendercore/internal/renderthread"
)

// ThreadingPolicy selects how the render thread executes frames.
type ThreadingPolicy = renderthread.Policy

// Threading policies.
const (
	// SingleThreaded runs each frame inline in Kick. Wait functions return
	// immediately.
	SingleThreaded = renderthread.SingleThreaded

	// MultiThreaded runs frames on a dedicated goroutine locked to its OS
	// thread.
	MultiThreaded = renderthread.MultiThreaded
)

// Default configuration values.
const (
	// DefaultFramesInFlight is the number of frame slots.
	DefaultFramesInFlight = binding.DefaultFramesInFlight

	// DefaultIdleTimeout bounds BlockUntilRenderComplete.
	DefaultIdleTimeout = renderthread.DefaultTimeout

	// DefaultFenceTimeout bounds the wait for a frame slot's fence.
	DefaultFenceTimeout = 5 * time.Second
)

// Option configures a Renderer during creation.
// Use functional options to customize Renderer behavior.
//
// Example:
//
//	// Defaults: best available backend, 3 frames in flight, own render thread
//	r, err := rendercore.New()
//
//	// Deterministic single-threaded execution on the software backend
//	r, err := rendercore.New(
//		rendercore.WithBackend("software"),
//		rendercore.WithThreadingPolicy(rendercore.SingleThreaded),
//	)
type Option func(*options)

// options holds optional configuration for Renderer creation.
type options struct {
	name           string
	framesInFlight int
	policy         ThreadingPolicy
	idleTimeout    time.Duration
	fenceTimeout   time.Duration
	backendName    string
	backend        backend.Backend
	logger         *slog.Logger
}

// defaultOptions returns the default renderer options.
func defaultOptions() options {
	return options{
		name:           "render",
		framesInFlight: DefaultFramesInFlight,
		policy:         MultiThreaded,
		idleTimeout:    DefaultIdleTimeout,
		fenceTimeout:   DefaultFenceTimeout,
	}
}

// WithName sets the render thread name used in errors and logs.
func WithName(name string) Option {
	return func(o *options) {
		if name != "" {
			o.name = name
		}
	}
}

// WithFramesInFlight sets the number of frame slots. Values below 1 are
// ignored.
func WithFramesInFlight(n int) Option {
	return func(o *options) {
		if n >= 1 {
			o.framesInFlight = n
		}
	}
}

// WithThreadingPolicy selects single- or multi-threaded frame execution.
func WithThreadingPolicy(p ThreadingPolicy) Option {
	return func(o *options) {
		o.policy = p
	}
}

// WithIdleTimeout bounds how long BlockUntilRenderComplete waits for the
// render thread. A negative value waits forever.
func WithIdleTimeout(d time.Duration) Option {
	return func(o *options) {
		if d != 0 {
			o.idleTimeout = d
		}
	}
}

// WithFenceTimeout bounds how long the render thread waits for the GPU to
// release a frame slot.
func WithFenceTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.fenceTimeout = d
		}
	}
}

// WithBackend selects a registered backend by name.
func WithBackend(name string) Option {
	return func(o *options) {
		o.backendName = name
	}
}

// WithBackendInstance uses b instead of a registered backend. New calls
// b.Init; the renderer does not Close it on Shutdown.
func WithBackendInstance(b backend.Backend) Option {
	return func(o *options) {
		o.backend = b
	}
}

// WithLogger sets the package logger, as SetLogger does.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}
