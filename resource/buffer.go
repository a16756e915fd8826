package resource

import (
	"fmt"
	"sync"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/rendercore/binding"
)

// BufferDescriptor describes a uniform or storage buffer.
type BufferDescriptor struct {
	Label string
	Size  uint64

	// Storage selects a storage buffer instead of a uniform buffer.
	Storage bool
}

// Buffer is a single GPU buffer shared by every frame slot.
type Buffer struct {
	alloc *Allocator
	label string
	size  uint64
	kind  binding.Kind

	mu     sync.RWMutex
	buf    hal.Buffer
	handle binding.Handle
}

// NewBuffer creates a buffer.
func (a *Allocator) NewBuffer(desc BufferDescriptor) (*Buffer, error) {
	kind := binding.KindUniformBuffer
	if desc.Storage {
		kind = binding.KindStorageBuffer
	}
	return a.newBuffer(desc, kind)
}

func (a *Allocator) newBuffer(desc BufferDescriptor, kind binding.Kind) (*Buffer, error) {
	if desc.Size == 0 {
		return nil, fmt.Errorf("%w: buffer %q", ErrInvalidSize, desc.Label)
	}
	usage := gputypes.BufferUsageUniform | gputypes.BufferUsageCopyDst
	if desc.Storage {
		usage = gputypes.BufferUsageStorage | gputypes.BufferUsageCopyDst
	}
	buf, err := a.device.CreateBuffer(&hal.BufferDescriptor{
		Label: desc.Label,
		Size:  desc.Size,
		Usage: usage,
	})
	if err != nil {
		return nil, fmt.Errorf("resource: create buffer %q: %w", desc.Label, err)
	}
	return &Buffer{
		alloc: a,
		label: desc.Label,
		size:  desc.Size,
		kind:  kind,
		buf:   buf,
		handle: binding.Handle{
			ID:     nextID(),
			Native: buf.NativeHandle(),
			Size:   desc.Size,
		},
	}, nil
}

// Label returns the debug label.
func (b *Buffer) Label() string { return b.label }

// Size returns the buffer size in bytes.
func (b *Buffer) Size() uint64 { return b.size }

// Kind implements binding.Resource.
func (b *Buffer) Kind() binding.Kind { return b.kind }

// Handle implements binding.Resource. The slot is ignored.
func (b *Buffer) Handle(int) binding.Handle {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.handle
}

// Native returns the hal buffer, or nil after Destroy.
func (b *Buffer) Native() hal.Buffer {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.buf
}

// Write uploads data at offset. Call it from the render thread, through
// Renderer.Submit, so that it is ordered with the frame that reads it.
func (b *Buffer) Write(offset uint64, data []byte) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.buf == nil {
		return fmt.Errorf("%w: buffer %q", ErrDestroyed, b.label)
	}
	if offset+uint64(len(data)) > b.size {
		return fmt.Errorf("resource: write of %d bytes at %d overflows buffer %q (%d bytes)",
			len(data), offset, b.label, b.size)
	}
	if err := b.alloc.queue.WriteBuffer(b.buf, offset, data); err != nil {
		return fmt.Errorf("resource: write buffer %q: %w", b.label, err)
	}
	return nil
}

// Destroy hands the native buffer to the allocator's Freer. The handle
// becomes invalid immediately.
func (b *Buffer) Destroy() {
	b.mu.Lock()
	buf := b.buf
	b.buf = nil
	b.handle = binding.Handle{}
	b.mu.Unlock()
	if buf == nil {
		return
	}
	device := b.alloc.device
	b.alloc.freer.SubmitResourceFree(func() { device.DestroyBuffer(buf) })
}

// BufferSet holds one buffer per frame slot, so the logic thread can write
// frame N+1's data while the GPU still reads frame N's.
type BufferSet struct {
	label   string
	kind    binding.Kind
	buffers []*Buffer
}

// NewBufferSet creates one buffer per slot.
func (a *Allocator) NewBufferSet(desc BufferDescriptor, slots int) (*BufferSet, error) {
	if slots < 1 {
		return nil, fmt.Errorf("resource: buffer set %q needs at least one slot", desc.Label)
	}
	kind, elem := binding.KindUniformBufferSet, binding.KindUniformBuffer
	if desc.Storage {
		kind, elem = binding.KindStorageBufferSet, binding.KindStorageBuffer
	}
	s := &BufferSet{label: desc.Label, kind: kind}
	base := desc.Label
	for i := range slots {
		d := desc
		d.Label = fmt.Sprintf("%s[%d]", base, i)
		buf, err := a.newBuffer(d, elem)
		if err != nil {
			s.Destroy()
			return nil, err
		}
		s.buffers = append(s.buffers, buf)
	}
	return s, nil
}

// Label returns the debug label.
func (s *BufferSet) Label() string { return s.label }

// Kind implements binding.Resource.
func (s *BufferSet) Kind() binding.Kind { return s.kind }

// Len returns the number of slots.
func (s *BufferSet) Len() int { return len(s.buffers) }

// Slots implements binding.Slotted.
func (s *BufferSet) Slots() int { return len(s.buffers) }

// Buffer returns the buffer of slot.
func (s *BufferSet) Buffer(slot int) *Buffer {
	return s.buffers[slotIndex(slot, len(s.buffers))]
}

// Handle implements binding.Resource with the buffer of slot.
func (s *BufferSet) Handle(slot int) binding.Handle {
	if len(s.buffers) == 0 {
		return binding.Handle{}
	}
	return s.Buffer(slot).Handle(slot)
}

// Write uploads data into the buffer of slot.
func (s *BufferSet) Write(slot int, offset uint64, data []byte) error {
	return s.Buffer(slot).Write(offset, data)
}

// Destroy destroys every buffer.
func (s *BufferSet) Destroy() {
	for _, b := range s.buffers {
		b.Destroy()
	}
}

func slotIndex(slot, n int) int {
	i := slot % n
	if i < 0 {
		i += n
	}
	return i
}
