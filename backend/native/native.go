// Package native is the gogpu/wgpu HAL backend: descriptor sets are hal
// bind groups, frame completion is tracked through queue submission
// indices, and resources are hal buffers, textures and samplers.
//
// Importing the package registers it as "native":
//
//	import _ "github.com/gogpu/rendercore/backend/native"
//
// Init opens a Vulkan device when one is available and falls back to the
// noop HAL device otherwise. New and FromProvider wrap a device owned by the
// host application instead.
package native

import (
	"fmt"
	"sync"

	"github.com/gogpu/gpucontext"
	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
	"github.com/gogpu/wgpu/hal/noop"

	"github.com/gogpu/rendercore/backend"
	"github.com/gogpu/rendercore/binding"
	"github.com/gogpu/rendercore/resource"
)

// instanceCreator is implemented by hal backends and noop.API.
type instanceCreator interface {
	CreateInstance(desc *hal.InstanceDescriptor) (hal.Instance, error)
}

// Backend implements backend.Backend on a hal device.
//
// Backend is safe for concurrent use; the descriptor and fence objects it
// hands out follow the render-thread rules of package binding.
type Backend struct {
	mu sync.Mutex

	instance hal.Instance
	device   hal.Device
	queue    hal.Queue
	external bool // device owned by the caller
	headless bool // skip GPU adapters, open the noop device
	adapter  string

	descriptors *descriptorDevice
	fence       *frameFence
	alloc       *resource.Allocator
	initialized bool
}

var _ backend.Backend = (*Backend)(nil)

func init() {
	backend.Register(backend.BackendNative, func() backend.Backend {
		return &Backend{}
	})
}

// New returns a backend on a device and queue owned by the caller. Close
// does not destroy them.
func New(device hal.Device, queue hal.Queue) *Backend {
	return &Backend{device: device, queue: queue, external: true}
}

// NewHeadless returns a backend that opens the noop HAL device on Init.
func NewHeadless() *Backend {
	return &Backend{headless: true}
}

// OpenNoop returns an initialized backend on the noop HAL device.
func OpenNoop() (*Backend, error) {
	b := NewHeadless()
	if err := b.Init(); err != nil {
		return nil, err
	}
	return b, nil
}

// FromProvider shares the device of a host application. The provider must
// implement HalDevice() any and HalQueue() any returning hal.Device and
// hal.Queue, as gogpu's gpucontext.DeviceProvider implementations do.
func FromProvider(provider any) (*Backend, error) {
	type halProvider interface {
		HalDevice() any
		HalQueue() any
	}
	hp, ok := provider.(halProvider)
	if !ok {
		return nil, ErrNoHAL
	}
	device, ok := hp.HalDevice().(hal.Device)
	if !ok || device == nil {
		return nil, fmt.Errorf("%w: HalDevice is not hal.Device", ErrNoHAL)
	}
	queue, ok := hp.HalQueue().(hal.Queue)
	if !ok || queue == nil {
		return nil, fmt.Errorf("%w: HalQueue is not hal.Queue", ErrNoHAL)
	}
	return New(device, queue), nil
}

// FromDeviceProvider is FromProvider for a gpucontext host. The provider
// must also expose its HAL objects; a provider without them yields ErrNoHAL
// and the caller can fall back to NewHeadless or the registered backend.
func FromDeviceProvider(provider gpucontext.DeviceProvider) (*Backend, error) {
	if provider == nil {
		return nil, ErrNoHAL
	}
	b, err := FromProvider(provider)
	if err != nil {
		return nil, err
	}
	slogger().Debug("native: sharing host device", "surfaceFormat", provider.SurfaceFormat())
	return b, nil
}

// Name returns the backend identifier.
func (b *Backend) Name() string {
	return backend.BackendNative
}

// Init opens the device if the backend does not wrap one, then sets up
// the frame fence on its queue.
func (b *Backend) Init() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.initialized {
		return nil
	}
	if b.device == nil {
		if err := b.openLocked(); err != nil {
			return err
		}
	}

	b.fence = newFrameFence(b.queue)
	b.descriptors = &descriptorDevice{device: b.device}
	b.alloc = resource.NewAllocator(b.device, b.queue, nil)
	b.initialized = true
	slogger().Info("native: backend initialized", "adapter", b.adapter, "external", b.external)
	return nil
}

func (b *Backend) openLocked() error {
	if !b.headless {
		err := b.openAdapterLocked(gpuAPI(), true)
		if err == nil {
			return nil
		}
		slogger().Warn("native: no GPU device, using noop HAL", "err", err)
	}
	return b.openAdapterLocked(&noop.API{}, false)
}

// openAdapterLocked opens the first adapter of api, preferring a discrete or
// integrated GPU when requireGPU is set.
func (b *Backend) openAdapterLocked(api instanceCreator, requireGPU bool) error {
	if api == nil {
		return ErrNoGPU
	}
	instance, err := api.CreateInstance(&hal.InstanceDescriptor{Flags: 0})
	if err != nil {
		return fmt.Errorf("create instance: %w", err)
	}
	adapters := instance.EnumerateAdapters(nil)
	if len(adapters) == 0 {
		instance.Destroy()
		return ErrNoGPU
	}
	var selected *hal.ExposedAdapter
	for i := range adapters {
		if adapters[i].Info.DeviceType == gputypes.DeviceTypeDiscreteGPU ||
			adapters[i].Info.DeviceType == gputypes.DeviceTypeIntegratedGPU {
			selected = &adapters[i]
			break
		}
	}
	if selected == nil {
		if requireGPU {
			instance.Destroy()
			return ErrNoGPU
		}
		selected = &adapters[0]
	}
	openDev, err := selected.Adapter.Open(gputypes.Features(0), gputypes.DefaultLimits())
	if err != nil {
		instance.Destroy()
		return fmt.Errorf("open device: %w", err)
	}
	b.instance = instance
	b.device = openDev.Device
	b.queue = openDev.Queue
	b.adapter = selected.Info.Name
	return nil
}

// Close destroys the fence and, unless the device is external, the device.
func (b *Backend) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.fence != nil {
		b.fence.destroy()
		b.fence = nil
	}
	b.descriptors = nil
	b.alloc = nil
	b.initialized = false
	b.closeDeviceLocked()
}

func (b *Backend) closeDeviceLocked() {
	if b.external {
		return
	}
	if b.device != nil {
		b.device.Destroy()
		b.device = nil
		b.queue = nil
	}
	if b.instance != nil {
		b.instance.Destroy()
		b.instance = nil
	}
}

// Descriptors returns the bind-group descriptor device, or nil before Init.
func (b *Backend) Descriptors() binding.Device {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.descriptors == nil {
		return nil
	}
	return b.descriptors
}

// Fence returns the frame fence, or nil before Init.
func (b *Backend) Fence() backend.FrameFence {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.fence == nil {
		return nil
	}
	return b.fence
}

// Resources returns the resource allocator, or nil before Init.
func (b *Backend) Resources() *resource.Allocator {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.alloc
}

// Device returns the hal device.
func (b *Backend) Device() hal.Device {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.device
}

// Queue returns the hal queue.
func (b *Backend) Queue() hal.Queue {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.queue
}

// Adapter returns the name of the opened adapter, empty for external
// devices.
func (b *Backend) Adapter() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.adapter
}

// CreateShaderModule creates a hal shader module from SPIR-V words, as
// produced by shader.Load.
func (b *Backend) CreateShaderModule(label string, spirv []uint32) (hal.ShaderModule, error) {
	if len(spirv) == 0 {
		return nil, fmt.Errorf("shader %q: empty SPIR-V", label)
	}
	device := b.Device()
	if device == nil {
		return nil, ErrNotInitialized
	}
	module, err := device.CreateShaderModule(&hal.ShaderModuleDescriptor{
		Label: label,
		Source: hal.ShaderSource{
			SPIRV: spirv,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("create shader module %q: %w", label, err)
	}
	return module, nil
}

// PipelineLayout creates a hal pipeline layout from set layouts created by
// this backend, such as binding.Registry.Layouts after Bake.
func (b *Backend) PipelineLayout(label string, sets []binding.SetLayout) (hal.PipelineLayout, error) {
	device := b.Device()
	if device == nil {
		return nil, ErrNotInitialized
	}
	layouts := make([]hal.BindGroupLayout, 0, len(sets))
	for i, s := range sets {
		l, ok := s.(*setLayout)
		if !ok {
			return nil, fmt.Errorf("%w: %s layout %d", ErrForeignLayout, label, i)
		}
		layouts = append(layouts, l.native)
	}
	return device.CreatePipelineLayout(&hal.PipelineLayoutDescriptor{
		Label:            label,
		BindGroupLayouts: layouts,
	})
}
