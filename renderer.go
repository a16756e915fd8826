package rendercore

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/gogpu/rendercore/backend"
	"github.com/gogpu/rendercore/binding"
	"github.com/gogpu/rendercore/internal/cmdqueue"
	"github.com/gogpu/rendercore/internal/renderthread"
	"github.com/gogpu/rendercore/internal/retire"
	"github.com/gogpu/rendercore/resource"
)

// white is the texel of the default texture.
var white = []byte{0xff, 0xff, 0xff, 0xff}

// Renderer owns the frame pipeline: the command queue, the render thread,
// the deferred-destroy list and the backend. There is no global renderer;
// registries and resources receive it explicitly.
//
// Submit, SubmitErr, NextFrame, Kick, BlockUntilRenderComplete and Pump
// belong to the logic thread. Commands run on the render thread.
// SubmitResourceFree is safe from either.
type Renderer struct {
	opts        options
	backend     backend.Backend
	ownsBackend bool
	fence       backend.FrameFence
	alloc       *resource.Allocator

	queue  *cmdqueue.Double
	thread *renderthread.Thread
	retire retire.List

	logicFrame   atomic.Uint64 // frame being recorded
	pendingFrame atomic.Uint64 // frame handed to the render thread
	renderFrame  atomic.Uint64 // frame executing or last executed

	errMu sync.Mutex
	err   error

	white    *resource.Texture
	sampler  *resource.Sampler
	defaults map[binding.InputType]binding.Resource

	mu         sync.Mutex
	registries []*binding.Registry
	closed     bool
}

// New creates a renderer and initializes its backend. The render thread
// starts with Run.
func New(opts ...Option) (*Renderer, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger != nil {
		SetLogger(o.logger)
	}

	b, owns, err := openBackend(o)
	if err != nil {
		return nil, err
	}
	fence := b.Fence()
	if b.Descriptors() == nil || fence == nil {
		if owns {
			b.Close()
		}
		return nil, fmt.Errorf("%w: %s is not initialized", ErrNoBackend, b.Name())
	}

	r := &Renderer{
		opts:        o,
		backend:     b,
		ownsBackend: owns,
		fence:       fence,
		queue:       cmdqueue.NewDouble(),
		defaults:    make(map[binding.InputType]binding.Resource),
	}
	r.logicFrame.Store(1)
	r.thread = renderthread.New(renderthread.Config{
		Name:    o.name,
		Policy:  o.policy,
		Timeout: o.idleTimeout,
		Work:    r.renderFrameWork,
	})

	if alloc := b.Resources(); alloc != nil {
		r.alloc = alloc.WithFreer(r)
		if err := r.createDefaults(); err != nil {
			r.destroyDefaults()
			r.retire.Drain()
			if owns {
				b.Close()
			}
			return nil, err
		}
	}

	Logger().Info("rendercore: renderer created",
		"backend", b.Name(), "policy", o.policy, "framesInFlight", o.framesInFlight)
	return r, nil
}

func openBackend(o options) (backend.Backend, bool, error) {
	if o.backend != nil {
		if err := o.backend.Init(); err != nil {
			return nil, false, fmt.Errorf("%w: %s: %w", ErrNoBackend, o.backend.Name(), err)
		}
		return o.backend, false, nil
	}
	var (
		b   backend.Backend
		err error
	)
	if o.backendName != "" {
		b, err = backend.Init(o.backendName)
	} else {
		b, err = backend.InitDefault()
	}
	if err != nil {
		name := o.backendName
		if name == "" {
			name = "default"
		}
		return nil, false, fmt.Errorf("%w: %s: %w", ErrNoBackend, name, err)
	}
	return b, true, nil
}

// createDefaults creates the 1x1 white texture bound to optional sampled
// images and the sampler bound to optional samplers.
func (r *Renderer) createDefaults() error {
	tex, err := r.alloc.NewTexture(resource.TextureDescriptor{
		Label:  "rendercore_white",
		Width:  1,
		Height: 1,
	})
	if err != nil {
		return fmt.Errorf("rendercore: default texture: %w", err)
	}
	r.white = tex
	if err := tex.Upload(white); err != nil {
		return fmt.Errorf("rendercore: default texture: %w", err)
	}
	smp, err := r.alloc.NewSampler("rendercore_linear")
	if err != nil {
		return fmt.Errorf("rendercore: default sampler: %w", err)
	}
	r.sampler = smp
	r.defaults[binding.InputSampledImage] = tex
	r.defaults[binding.InputSampler] = smp
	return nil
}

func (r *Renderer) destroyDefaults() {
	if r.white != nil {
		r.white.Destroy()
	}
	if r.sampler != nil {
		r.sampler.Destroy()
	}
}

// Backend returns the backend selected at New.
func (r *Renderer) Backend() backend.Backend { return r.backend }

// Resources returns the allocator for GPU resources, or nil if the backend
// has no GPU device. Objects it replaces or destroys are retired through
// SubmitResourceFree.
func (r *Renderer) Resources() *resource.Allocator { return r.alloc }

// WhiteTexture returns the default texture, or nil without a GPU device.
func (r *Renderer) WhiteTexture() *resource.Texture { return r.white }

// DefaultSampler returns the default sampler, or nil without a GPU device.
func (r *Renderer) DefaultSampler() *resource.Sampler { return r.sampler }

// FramesInFlight returns the number of frame slots.
func (r *Renderer) FramesInFlight() int { return r.opts.framesInFlight }

// Policy returns the threading policy.
func (r *Renderer) Policy() ThreadingPolicy { return r.opts.policy }

// Run starts the render thread. Calling Run twice is a no-op.
func (r *Renderer) Run() {
	r.thread.Run()
}

// Submit appends cmd to the frame being recorded. It runs on the render
// thread, in submission order, when that frame executes.
func (r *Renderer) Submit(cmd func()) {
	r.queue.Submit(cmd)
}

// SubmitErr is Submit for commands that can fail. An error puts the
// renderer into the failed state reported by Err.
func (r *Renderer) SubmitErr(cmd func() error) {
	if cmd == nil {
		return
	}
	r.queue.Submit(func() {
		if err := cmd(); err != nil {
			r.fail(err)
		}
	})
}

// SubmitResourceFree schedules free to run once every frame that could
// still reference the object has completed on the GPU. It is safe to call
// from the logic and the render thread.
func (r *Renderer) SubmitResourceFree(free func()) {
	r.retire.Retire(r.logicFrame.Load(), free)
}

// NextFrame closes the frame being recorded: its commands move to the
// execute buffer and recording continues in the next frame. Only call it
// while the render thread is Idle.
func (r *Renderer) NextFrame() {
	r.queue.SwapQueues()
	r.pendingFrame.Store(r.logicFrame.Add(1) - 1)
}

// SwapQueues is NextFrame.
func (r *Renderer) SwapQueues() { r.NextFrame() }

// Kick hands the last frame closed by NextFrame to the render thread.
func (r *Renderer) Kick() error {
	if err := r.Err(); err != nil {
		return err
	}
	if err := r.thread.Kick(); err != nil {
		if errors.Is(err, renderthread.ErrNotRunning) && r.isClosed() {
			return ErrShutdown
		}
		return err
	}
	return r.Err()
}

// BlockUntilRenderComplete waits until the render thread is Idle. A stall
// is fatal: the error is returned and kept in Err.
func (r *Renderer) BlockUntilRenderComplete() error {
	if err := r.thread.BlockUntilRenderComplete(); err != nil {
		r.fail(fmt.Errorf("rendercore: %w", err))
	}
	return r.Err()
}

// Pump is the logic thread's once-per-frame step: wait for the previous
// frame, close the current one and hand it over.
func (r *Renderer) Pump() error {
	if err := r.BlockUntilRenderComplete(); err != nil {
		return err
	}
	r.NextFrame()
	return r.Kick()
}

// LogicFrameIndex returns the slot of the frame being recorded. Per-frame
// resources written by the logic thread use this slot.
func (r *Renderer) LogicFrameIndex() int {
	return int(r.logicFrame.Load() % uint64(r.opts.framesInFlight))
}

// RenderFrameIndex returns the slot of the frame the render thread is
// executing. Registries created by NewRegistry use it to pick descriptor
// sets.
func (r *Renderer) RenderFrameIndex() int {
	return int(r.renderFrame.Load() % uint64(r.opts.framesInFlight))
}

// LogicFrame returns the number of the frame being recorded.
func (r *Renderer) LogicFrame() uint64 { return r.logicFrame.Load() }

// RenderFrame returns the number of the frame executing or last executed.
func (r *Renderer) RenderFrame() uint64 { return r.renderFrame.Load() }

// State returns the render thread handshake state.
func (r *Renderer) State() renderthread.State { return r.thread.State() }

// PendingFrees returns the number of retired objects not yet freed.
func (r *Renderer) PendingFrees() int { return r.retire.Len() }

// Err returns the first fatal error, or nil.
func (r *Renderer) Err() error {
	r.errMu.Lock()
	defer r.errMu.Unlock()
	return r.err
}

func (r *Renderer) fail(err error) {
	r.errMu.Lock()
	first := r.err == nil
	if first {
		r.err = err
	}
	r.errMu.Unlock()
	if first {
		Logger().Error("rendercore: renderer failed", "err", err)
	}
}

// renderFrameWork is one iteration of the render loop.
func (r *Renderer) renderFrameWork() {
	frame := r.pendingFrame.Load()
	if frame == 0 || r.Err() != nil {
		return
	}
	if frame > r.renderFrame.Load() {
		slots := uint64(r.opts.framesInFlight)
		if frame > slots {
			if err := r.fence.Wait(frame-slots, r.opts.fenceTimeout); err != nil {
				r.fail(fmt.Errorf("rendercore: frame %d: %w", frame, err))
				return
			}
		}
		if n := r.retire.Collect(r.fence.Completed()); n > 0 {
			Logger().Debug("rendercore: freed retired objects", "frame", frame, "count", n)
		}
		r.renderFrame.Store(frame)
	}

	n := r.queue.Execute()
	if err := r.fence.Signal(frame); err != nil {
		r.fail(fmt.Errorf("rendercore: frame %d: %w", frame, err))
		return
	}
	Logger().Debug("rendercore: frame executed", "frame", frame, "commands", n)
}

// NewRegistry creates a binding.Registry wired to this renderer. Zero
// fields of spec are filled in: the backend's descriptor device, the
// renderer's frames in flight, default resources, the render frame index
// and deferred destruction through SubmitResourceFree.
func (r *Renderer) NewRegistry(spec binding.Spec) (*binding.Registry, error) {
	if r.isClosed() {
		return nil, ErrShutdown
	}
	if spec.Device == nil {
		spec.Device = r.backend.Descriptors()
		if spec.Device == nil {
			return nil, ErrNoDevice
		}
	}
	if spec.FramesInFlight == 0 {
		spec.FramesInFlight = r.opts.framesInFlight
	}
	if spec.Defaults == nil && len(r.defaults) > 0 {
		spec.Defaults = r.defaults
	}
	if spec.FrameIndex == nil {
		spec.FrameIndex = r.RenderFrameIndex
	}
	if spec.Retire == nil {
		spec.Retire = r.SubmitResourceFree
	}
	reg, err := binding.NewRegistry(spec)
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	r.registries = append(r.registries, reg)
	r.mu.Unlock()
	return reg, nil
}

func (r *Renderer) isClosed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

// Shutdown flushes recorded commands, stops the render thread, waits for
// the GPU, releases registries created by NewRegistry and frees everything
// retired. An owned backend is closed. It returns the renderer's fatal
// error, if any.
func (r *Renderer) Shutdown() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return r.Err()
	}
	r.closed = true
	registries := r.registries
	r.registries = nil
	r.mu.Unlock()

	if r.thread.Running() {
		if err := r.Pump(); err != nil {
			Logger().Warn("rendercore: final frame not flushed", "err", err)
		}
		if err := r.thread.Terminate(); err != nil {
			r.fail(fmt.Errorf("rendercore: %w", err))
		}
	}

	if last := r.renderFrame.Load(); last > 0 && r.Err() == nil {
		if err := r.fence.Wait(last, r.opts.fenceTimeout); err != nil {
			Logger().Warn("rendercore: GPU not idle at shutdown", "err", err)
		}
	}

	for _, reg := range registries {
		reg.Release()
	}
	r.destroyDefaults()
	n := r.retire.Drain()
	if r.ownsBackend {
		r.backend.Close()
	}
	Logger().Info("rendercore: shut down", "frames", r.renderFrame.Load(), "freed", n)
	return r.Err()
}
