package native

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/gogpu/gpucontext"
	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
	"github.com/gogpu/wgpu/hal/noop"

	"github.com/gogpu/rendercore/backend"
	"github.com/gogpu/rendercore/binding"
	"github.com/gogpu/rendercore/resource"
	"github.com/gogpu/rendercore/shader"
)

// createNoopDevice creates a noop device and queue for testing.
func createNoopDevice(t *testing.T) (hal.Device, hal.Queue, func()) {
	t.Helper()
	api := noop.API{}
	instance, err := api.CreateInstance(nil)
	if err != nil {
		t.Fatalf("CreateInstance failed: %v", err)
	}
	adapters := instance.EnumerateAdapters(nil)
	openDev, err := adapters[0].Adapter.Open(0, gputypes.DefaultLimits())
	if err != nil {
		instance.Destroy()
		t.Fatalf("Open failed: %v", err)
	}
	cleanup := func() {
		openDev.Device.Destroy()
		instance.Destroy()
	}
	return openDev.Device, openDev.Queue, cleanup
}

func openNoop(t *testing.T) *Backend {
	t.Helper()
	b, err := OpenNoop()
	if err != nil {
		t.Fatalf("OpenNoop failed: %v", err)
	}
	t.Cleanup(b.Close)
	return b
}

func TestRegistered(t *testing.T) {
	if !backend.IsRegistered(backend.BackendNative) {
		t.Fatal("native backend should be registered on import")
	}
	if b := backend.Get(backend.BackendNative); b == nil || b.Name() != "native" {
		t.Errorf("Get(native) = %v", b)
	}
	if b := backend.Default(); b == nil || b.Name() != "native" {
		t.Errorf("Default() = %v, want native", b)
	}
}

func TestOpenNoop(t *testing.T) {
	b := openNoop(t)
	if b.Device() == nil || b.Queue() == nil {
		t.Fatal("device and queue should be set after Init")
	}
	if b.Descriptors() == nil {
		t.Error("Descriptors() is nil")
	}
	if b.Fence() == nil {
		t.Error("Fence() is nil")
	}
	if b.Resources() == nil {
		t.Error("Resources() is nil")
	}
	// Init is idempotent.
	if err := b.Init(); err != nil {
		t.Errorf("second Init() = %v", err)
	}
}

func TestBeforeInit(t *testing.T) {
	b := NewHeadless()
	if b.Descriptors() != nil || b.Fence() != nil || b.Resources() != nil {
		t.Error("accessors should return nil before Init")
	}
	if _, err := b.CreateShaderModule("x", []uint32{1}); !errors.Is(err, ErrNotInitialized) {
		t.Errorf("CreateShaderModule before Init = %v, want ErrNotInitialized", err)
	}
	b.Close()
}

func TestCloseReleasesEverything(t *testing.T) {
	b, err := OpenNoop()
	if err != nil {
		t.Fatalf("OpenNoop failed: %v", err)
	}
	b.Close()
	if b.Device() != nil || b.Fence() != nil || b.Descriptors() != nil {
		t.Error("Close should drop the device, fence and descriptors")
	}
	b.Close()
}

func TestExternalDevice(t *testing.T) {
	device, queue, cleanup := createNoopDevice(t)
	defer cleanup()

	b := New(device, queue)
	if err := b.Init(); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	if b.Device() != device || b.Queue() != queue {
		t.Error("external device not used")
	}
	b.Close()
	// The caller still owns the device.
	if b.Device() != device {
		t.Error("Close should not drop an external device")
	}
}

type halProvider struct {
	device, queue any
}

func (p halProvider) HalDevice() any { return p.device }
func (p halProvider) HalQueue() any  { return p.queue }

func TestFromProvider(t *testing.T) {
	device, queue, cleanup := createNoopDevice(t)
	defer cleanup()

	b, err := FromProvider(halProvider{device, queue})
	if err != nil {
		t.Fatalf("FromProvider failed: %v", err)
	}
	if b.Device() != device {
		t.Error("provider device not used")
	}

	tests := []struct {
		name     string
		provider any
	}{
		{"no HAL methods", struct{}{}},
		{"wrong device type", halProvider{"device", queue}},
		{"wrong queue type", halProvider{device, 42}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := FromProvider(tt.provider); !errors.Is(err, ErrNoHAL) {
				t.Errorf("FromProvider error = %v, want ErrNoHAL", err)
			}
		})
	}
}

type mockDevice struct{}

func (m *mockDevice) Poll(wait bool) {}
func (m *mockDevice) Destroy()       {}

type mockQueue struct{}

type mockAdapter struct{}

// hostProvider is a gpucontext.DeviceProvider without HAL access.
type hostProvider struct{}

func (p hostProvider) Device() gpucontext.Device             { return &mockDevice{} }
func (p hostProvider) Queue() gpucontext.Queue               { return &mockQueue{} }
func (p hostProvider) Adapter() gpucontext.Adapter           { return &mockAdapter{} }
func (p hostProvider) SurfaceFormat() gputypes.TextureFormat { return gputypes.TextureFormatBGRA8Unorm }
func (p hostProvider) AdapterInfo() gpucontext.AdapterInfo {
	return gpucontext.AdapterInfo{Name: "host", Type: gpucontext.AdapterTypeSoftware}
}

var _ gpucontext.DeviceProvider = hostProvider{}

type halHostProvider struct {
	hostProvider
	halProvider
}

func TestFromDeviceProvider(t *testing.T) {
	device, queue, cleanup := createNoopDevice(t)
	defer cleanup()

	b, err := FromDeviceProvider(halHostProvider{halProvider: halProvider{device, queue}})
	if err != nil {
		t.Fatalf("FromDeviceProvider failed: %v", err)
	}
	if b.Device() != device || b.Queue() != queue {
		t.Error("host device not used")
	}
	if err := b.Init(); err != nil {
		t.Fatalf("Init: %v", err)
	}
	b.Close()

	if _, err := FromDeviceProvider(hostProvider{}); !errors.Is(err, ErrNoHAL) {
		t.Errorf("provider without HAL: error = %v, want ErrNoHAL", err)
	}
	if _, err := FromDeviceProvider(nil); !errors.Is(err, ErrNoHAL) {
		t.Errorf("nil provider: error = %v, want ErrNoHAL", err)
	}
}

func TestFrameFence(t *testing.T) {
	f := openNoop(t).Fence()

	if err := f.Wait(0, time.Second); err != nil {
		t.Errorf("Wait(0) = %v", err)
	}
	for frame := uint64(1); frame <= 3; frame++ {
		if err := f.Signal(frame); err != nil {
			t.Fatalf("Signal(%d) = %v", frame, err)
		}
	}
	if err := f.Wait(3, 5*time.Second); err != nil {
		t.Fatalf("Wait(3) = %v", err)
	}
	if got := f.Completed(); got != 3 {
		t.Errorf("Completed() = %d, want 3", got)
	}
	// Older frames are already known complete.
	if err := f.Wait(2, 0); err != nil {
		t.Errorf("Wait(2) = %v", err)
	}
	// Re-signaling an old frame is a no-op.
	if err := f.Signal(1); err != nil {
		t.Errorf("Signal(1) = %v", err)
	}
	// A frame never signaled times out.
	if err := f.Wait(4, 5*time.Millisecond); !errors.Is(err, backend.ErrFenceTimeout) {
		t.Errorf("Wait(4) = %v, want ErrFenceTimeout", err)
	}
}

// laggingQueue reports completion only up to the index set by the test.
type laggingQueue struct {
	hal.Queue
	mu        sync.Mutex
	submitted uint64
	done      uint64
}

func (q *laggingQueue) Submit([]hal.CommandBuffer) (uint64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.submitted++
	return q.submitted, nil
}

func (q *laggingQueue) PollCompleted() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.done
}

func (q *laggingQueue) complete(index uint64) {
	q.mu.Lock()
	q.done = index
	q.mu.Unlock()
}

func TestFrameFenceSubmissionIndices(t *testing.T) {
	q := &laggingQueue{}
	f := newFrameFence(q)

	// Frame numbers may skip; each gets its own submission index.
	for _, frame := range []uint64{1, 2, 5} {
		if err := f.Signal(frame); err != nil {
			t.Fatalf("Signal(%d) = %v", frame, err)
		}
	}
	if got := f.Completed(); got != 0 {
		t.Errorf("Completed() before any index = %d, want 0", got)
	}

	q.complete(2)
	if got := f.Completed(); got != 2 {
		t.Errorf("Completed() at index 2 = %d, want 2", got)
	}
	if err := f.Wait(5, time.Millisecond); !errors.Is(err, backend.ErrFenceTimeout) {
		t.Errorf("Wait(5) = %v, want ErrFenceTimeout", err)
	}

	go func() {
		time.Sleep(5 * time.Millisecond)
		q.complete(3)
	}()
	if err := f.Wait(5, 5*time.Second); err != nil {
		t.Fatalf("Wait(5) = %v", err)
	}
	if got := f.Completed(); got != 5 {
		t.Errorf("Completed() = %d, want 5", got)
	}

	f.destroy()
	if err := f.Signal(6); !errors.Is(err, ErrNotInitialized) {
		t.Errorf("Signal after destroy = %v, want ErrNotInitialized", err)
	}
}

// TestFramesBeyondInFlight runs more frames than slots so every frame past
// the first few waits on the fence.
func TestFramesBeyondInFlight(t *testing.T) {
	f := openNoop(t).Fence()
	const slots = 2
	for frame := uint64(1); frame <= 10; frame++ {
		if frame > slots {
			if err := f.Wait(frame-slots, time.Second); err != nil {
				t.Fatalf("frame %d: Wait(%d) = %v", frame, frame-slots, err)
			}
		}
		if err := f.Signal(frame); err != nil {
			t.Fatalf("Signal(%d) = %v", frame, err)
		}
	}
	if got := f.Completed(); got != 10 {
		t.Errorf("Completed() = %d, want 10", got)
	}
}

func TestCreateSetLayoutArrays(t *testing.T) {
	d := openNoop(t).Descriptors()

	layout, err := d.CreateSetLayout("arrays", 0, []binding.InputDeclaration{
		{Set: 0, Binding: 0, Name: "Layers", Type: binding.InputSampledImage, Count: 2},
		{Set: 0, Binding: 2, Name: "Linear", Type: binding.InputSampler},
	})
	if err != nil {
		t.Fatalf("CreateSetLayout with adjacent bindings: %v", err)
	}
	layout.Destroy()

	_, err = d.CreateSetLayout("overlap", 0, []binding.InputDeclaration{
		{Set: 0, Binding: 0, Name: "Layers", Type: binding.InputSampledImage, Count: 2},
		{Set: 0, Binding: 1, Name: "Linear", Type: binding.InputSampler},
	})
	if !errors.Is(err, ErrBindingOverlap) {
		t.Errorf("CreateSetLayout with overlap = %v, want ErrBindingOverlap", err)
	}
}

func TestLayoutEntry(t *testing.T) {
	tests := []struct {
		name  string
		decl  binding.InputDeclaration
		check func(gputypes.BindGroupLayoutEntry) bool
	}{
		{"uniform", binding.InputDeclaration{Type: binding.InputUniformBuffer},
			func(e gputypes.BindGroupLayoutEntry) bool {
				return e.Buffer != nil && e.Buffer.Type == gputypes.BufferBindingTypeUniform
			}},
		{"storage", binding.InputDeclaration{Type: binding.InputStorageBuffer},
			func(e gputypes.BindGroupLayoutEntry) bool {
				return e.Buffer != nil && e.Buffer.Type == gputypes.BufferBindingTypeStorage
			}},
		{"sampled 2d", binding.InputDeclaration{Type: binding.InputSampledImage},
			func(e gputypes.BindGroupLayoutEntry) bool {
				return e.Texture != nil && e.Texture.ViewDimension == gputypes.TextureViewDimension2D
			}},
		{"sampled cube", binding.InputDeclaration{Type: binding.InputSampledImage, Cube: true},
			func(e gputypes.BindGroupLayoutEntry) bool {
				return e.Texture != nil && e.Texture.ViewDimension == gputypes.TextureViewDimensionCube
			}},
		{"storage image", binding.InputDeclaration{Type: binding.InputStorageImage},
			func(e gputypes.BindGroupLayoutEntry) bool { return e.StorageTexture != nil }},
		{"sampler", binding.InputDeclaration{Type: binding.InputSampler},
			func(e gputypes.BindGroupLayoutEntry) bool { return e.Sampler != nil }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.decl.Visibility = binding.StageFragment
			e, err := layoutEntry(tt.decl)
			if err != nil {
				t.Fatalf("layoutEntry: %v", err)
			}
			if !tt.check(e) {
				t.Errorf("layoutEntry(%s) = %+v", tt.name, e)
			}
			if e.Visibility != gputypes.ShaderStageFragment {
				t.Errorf("Visibility = %v, want fragment", e.Visibility)
			}
		})
	}

	if _, err := layoutEntry(binding.InputDeclaration{Name: "x"}); err == nil {
		t.Error("layoutEntry(InputNone) should fail")
	}
}

func TestVisibilityCombines(t *testing.T) {
	e, err := layoutEntry(binding.InputDeclaration{
		Type:       binding.InputUniformBuffer,
		Visibility: binding.StageVertex | binding.StageFragment,
	})
	if err != nil {
		t.Fatalf("layoutEntry: %v", err)
	}
	if e.Visibility != gputypes.ShaderStageVertex|gputypes.ShaderStageFragment {
		t.Errorf("Visibility = %v", e.Visibility)
	}
}

// retired collects frees handed to the registry's Retire hook.
type retired struct{ frees []func() }

func (r *retired) add(free func()) { r.frees = append(r.frees, free) }

func TestRegistryOnBindGroups(t *testing.T) {
	b := openNoop(t)
	alloc := b.Resources()

	inputs := []binding.InputDeclaration{
		{Set: 0, Binding: 0, Name: "Camera", Type: binding.InputUniformBuffer, Visibility: binding.StageVertex},
		{Set: 0, Binding: 1, Name: "Albedo", Type: binding.InputSampledImage, Visibility: binding.StageFragment},
		{Set: 0, Binding: 2, Name: "Linear", Type: binding.InputSampler, Visibility: binding.StageFragment},
		{Set: 1, Binding: 0, Name: "Layers", Type: binding.InputSampledImage, Count: 2, Visibility: binding.StageFragment},
	}
	var ret retired
	reg, err := binding.NewRegistry(binding.Spec{
		Name:           "native_test",
		Inputs:         inputs,
		FramesInFlight: 2,
		Device:         b.Descriptors(),
		Retire:         ret.add,
	})
	if err != nil {
		t.Fatalf("NewRegistry failed: %v", err)
	}

	camera, err := alloc.NewBufferSet(resource.BufferDescriptor{Label: "camera", Size: 64}, 2)
	if err != nil {
		t.Fatalf("NewBufferSet failed: %v", err)
	}
	albedo, err := alloc.NewTexture(resource.TextureDescriptor{Label: "albedo", Width: 4, Height: 4})
	if err != nil {
		t.Fatalf("NewTexture failed: %v", err)
	}
	layer, err := alloc.NewTexture(resource.TextureDescriptor{Label: "layer", Width: 2, Height: 2})
	if err != nil {
		t.Fatalf("NewTexture failed: %v", err)
	}
	linear, err := alloc.NewSampler("linear")
	if err != nil {
		t.Fatalf("NewSampler failed: %v", err)
	}

	reg.SetInput("Camera", camera)
	reg.SetInput("Albedo", albedo)
	reg.SetInput("Linear", linear)
	reg.SetInputAt("Layers", layer, 0)
	reg.SetInputAt("Layers", layer, 1)
	if err := reg.Validate(); err != nil {
		t.Fatalf("Validate failed: %v", err)
	}
	if err := reg.Bake(); err != nil {
		t.Fatalf("Bake failed: %v", err)
	}

	for slot := range 2 {
		sets := reg.DescriptorSets(slot)
		if len(sets) != 2 {
			t.Fatalf("slot %d has %d sets, want 2", slot, len(sets))
		}
		for i, ds := range sets {
			native, ok := ds.(*DescriptorSet)
			if !ok || native.BindGroup() == nil {
				t.Errorf("slot %d set %d is not a bind group: %T", slot, i, ds)
			}
		}
	}
	before := reg.DescriptorSets(0)[0]

	if err := albedo.Resize(8, 8); err != nil {
		t.Fatalf("Resize failed: %v", err)
	}
	if err := reg.Prepare(); err != nil {
		t.Fatalf("Prepare failed: %v", err)
	}
	if reg.DescriptorSets(0)[0] == before {
		t.Error("set 0 should be recreated after the texture resize")
	}
	if reg.IsInvalidated(0, 1) {
		t.Error("albedo should be bound again after Prepare")
	}
	// One replaced set per slot.
	if len(ret.frees) != 2 {
		t.Errorf("retired %d sets, want 2", len(ret.frees))
	}
	for _, free := range ret.frees {
		free()
	}

	pl, err := b.PipelineLayout("native_test_pipeline", reg.Layouts())
	if err != nil {
		t.Fatalf("PipelineLayout failed: %v", err)
	}
	b.Device().DestroyPipelineLayout(pl)

	reg.Release()
	for _, free := range ret.frees[2:] {
		free()
	}
}

func TestForeignLayout(t *testing.T) {
	b := openNoop(t)
	soft := backend.NewSoftwareBackend()
	if err := soft.Init(); err != nil {
		t.Fatalf("software Init failed: %v", err)
	}
	layout, err := soft.Descriptors().CreateSetLayout("soft", 0, nil)
	if err != nil {
		t.Fatalf("CreateSetLayout failed: %v", err)
	}
	_, err = b.Descriptors().UpdateSlot("x", 0, []binding.SetWrite{{Set: 0, Layout: layout}})
	if !errors.Is(err, ErrForeignLayout) {
		t.Errorf("UpdateSlot error = %v, want ErrForeignLayout", err)
	}
	if _, err := b.PipelineLayout("x", []binding.SetLayout{layout}); !errors.Is(err, ErrForeignLayout) {
		t.Errorf("PipelineLayout error = %v, want ErrForeignLayout", err)
	}
}

const computeShader = `
@group(0) @binding(0) var<storage, read_write> data: array<f32>;

@compute @workgroup_size(64)
fn main(@builtin(global_invocation_id) id: vec3<u32>) {
    data[id.x] = data[id.x] * 2.0;
}
`

func TestCreateShaderModule(t *testing.T) {
	b := openNoop(t)
	if _, err := b.CreateShaderModule("empty", nil); err == nil {
		t.Error("empty SPIR-V should fail")
	}

	m, err := shader.Load("double", computeShader)
	if err != nil {
		if errors.Is(err, shader.ErrCompile) {
			t.Skipf("Skipping: naga cannot compile the test shader: %v", err)
		}
		t.Fatalf("Load failed: %v", err)
	}
	module, err := b.CreateShaderModule(m.Label, m.SPIRV)
	if err != nil {
		t.Fatalf("CreateShaderModule failed: %v", err)
	}
	if module == nil {
		t.Error("expected non-nil shader module")
	}
	b.Device().DestroyShaderModule(module)
}
