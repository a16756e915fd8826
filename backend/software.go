package backend

import (
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gogpu/rendercore/binding"
	"github.com/gogpu/rendercore/resource"
)

// SoftwareBackend keeps descriptor sets in memory and completes every frame
// as soon as it is signaled. It has no GPU device, so Resources is nil and
// callers bind their own binding.Resource implementations.
//
// It is the fallback when no GPU backend is registered and the backend of
// choice for exercising binding logic in tests.
type SoftwareBackend struct {
	initialized bool
	device      *MemoryDevice
	fence       *softwareFence
}

// init registers the software backend on package import.
func init() {
	Register(BackendSoftware, func() Backend {
		return NewSoftwareBackend()
	})
}

// NewSoftwareBackend creates a new software backend.
func NewSoftwareBackend() *SoftwareBackend {
	return &SoftwareBackend{}
}

// Name returns the backend identifier.
func (b *SoftwareBackend) Name() string {
	return BackendSoftware
}

// Init initializes the backend. Calling Init on an initialized backend is
// a no-op.
func (b *SoftwareBackend) Init() error {
	if b.initialized {
		return nil
	}
	b.device = &MemoryDevice{}
	b.fence = newSoftwareFence()
	b.initialized = true
	return nil
}

// Close releases all backend resources.
func (b *SoftwareBackend) Close() {
	b.device = nil
	b.fence = nil
	b.initialized = false
}

// Descriptors returns the in-memory descriptor device, or nil before Init.
func (b *SoftwareBackend) Descriptors() binding.Device {
	if b.device == nil {
		return nil
	}
	return b.device
}

// Memory returns the in-memory descriptor device with its inspection
// methods, or nil before Init.
func (b *SoftwareBackend) Memory() *MemoryDevice {
	return b.device
}

// Fence returns the frame fence, or nil before Init.
func (b *SoftwareBackend) Fence() FrameFence {
	if b.fence == nil {
		return nil
	}
	return b.fence
}

// Resources returns nil: the software backend has no GPU device.
func (b *SoftwareBackend) Resources() *resource.Allocator {
	return nil
}

// MemoryDevice implements binding.Device with plain Go values.
type MemoryDevice struct {
	mu      sync.Mutex
	layouts int
	live    int
	updates int
}

// MemoryLayout is a set layout created by MemoryDevice.
type MemoryLayout struct {
	Label  string
	Index  uint32
	Inputs []binding.InputDeclaration

	device *MemoryDevice
}

// Destroy implements binding.SetLayout.
func (l *MemoryLayout) Destroy() {
	l.device.mu.Lock()
	l.device.layouts--
	l.device.mu.Unlock()
}

// MemorySet is a descriptor set created by MemoryDevice.
type MemorySet struct {
	Label  string
	Slot   int
	Writes []binding.WriteDescriptor

	index     uint32
	device    *MemoryDevice
	destroyed atomic.Bool
}

// Set implements binding.DescriptorSet.
func (s *MemorySet) Set() uint32 { return s.index }

// Destroy implements binding.DescriptorSet.
func (s *MemorySet) Destroy() {
	if s.destroyed.Swap(true) {
		return
	}
	s.device.mu.Lock()
	s.device.live--
	s.device.mu.Unlock()
}

// Destroyed reports whether Destroy has been called.
func (s *MemorySet) Destroyed() bool { return s.destroyed.Load() }

// CreateSetLayout implements binding.Device.
func (d *MemoryDevice) CreateSetLayout(label string, set uint32, inputs []binding.InputDeclaration) (binding.SetLayout, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.layouts++
	return &MemoryLayout{
		Label:  label,
		Index:  set,
		Inputs: slices.Clone(inputs),
		device: d,
	}, nil
}

// UpdateSlot implements binding.Device.
func (d *MemoryDevice) UpdateSlot(label string, slot int, writes []binding.SetWrite) ([]binding.DescriptorSet, error) {
	out := make([]binding.DescriptorSet, len(writes))
	for i, w := range writes {
		if w.Layout == nil {
			return nil, fmt.Errorf("backend: %s: set %d has no layout", label, w.Set)
		}
		s := &MemorySet{
			Label:  fmt.Sprintf("%s[%d].set%d", label, slot, w.Set),
			Slot:   slot,
			index:  w.Set,
			device: d,
		}
		for _, wd := range w.Writes {
			wd.Handles = slices.Clone(wd.Handles)
			s.Writes = append(s.Writes, wd)
		}
		out[i] = s
	}
	d.mu.Lock()
	d.live += len(out)
	d.updates++
	d.mu.Unlock()
	return out, nil
}

// Stats returns the number of live layouts, live sets and UpdateSlot calls.
func (d *MemoryDevice) Stats() (layouts, sets, updates int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.layouts, d.live, d.updates
}

// softwareFence completes frames when they are signaled.
type softwareFence struct {
	mu        sync.Mutex
	completed uint64
	changed   chan struct{}
}

func newSoftwareFence() *softwareFence {
	return &softwareFence{changed: make(chan struct{})}
}

func (f *softwareFence) Signal(frame uint64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if frame > f.completed {
		f.completed = frame
		close(f.changed)
		f.changed = make(chan struct{})
	}
	return nil
}

func (f *softwareFence) Wait(frame uint64, timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for {
		f.mu.Lock()
		done, changed := f.completed >= frame, f.changed
		f.mu.Unlock()
		if done {
			return nil
		}
		select {
		case <-changed:
		case <-timer.C:
			return fmt.Errorf("%w: frame %d", ErrFenceTimeout, frame)
		}
	}
}

func (f *softwareFence) Completed() uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.completed
}
