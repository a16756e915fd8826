package resource

import (
	"fmt"
	"sync"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/rendercore/binding"
)

// Sampler is a linear-filtering, clamp-to-edge sampler.
type Sampler struct {
	alloc *Allocator
	label string

	mu      sync.RWMutex
	sampler hal.Sampler
	handle  binding.Handle
}

// NewSampler creates a linear clamp-to-edge sampler.
func (a *Allocator) NewSampler(label string) (*Sampler, error) {
	s, err := a.device.CreateSampler(&hal.SamplerDescriptor{
		Label:        label,
		AddressModeU: gputypes.AddressModeClampToEdge,
		AddressModeV: gputypes.AddressModeClampToEdge,
		AddressModeW: gputypes.AddressModeClampToEdge,
		MagFilter:    gputypes.FilterModeLinear,
		MinFilter:    gputypes.FilterModeLinear,
		MipmapFilter: gputypes.FilterModeLinear,
	})
	if err != nil {
		return nil, fmt.Errorf("resource: create sampler %q: %w", label, err)
	}
	return &Sampler{
		alloc:   a,
		label:   label,
		sampler: s,
		handle:  binding.Handle{ID: nextID(), Native: nativeHandle(s)},
	}, nil
}

// Label returns the debug label.
func (s *Sampler) Label() string { return s.label }

// Kind implements binding.Resource.
func (s *Sampler) Kind() binding.Kind { return binding.KindSampler }

// Handle implements binding.Resource. The slot is ignored.
func (s *Sampler) Handle(int) binding.Handle {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.handle
}

// Destroy hands the native sampler to the Freer.
func (s *Sampler) Destroy() {
	s.mu.Lock()
	smp := s.sampler
	s.sampler = nil
	s.handle = binding.Handle{}
	s.mu.Unlock()
	if smp == nil {
		return
	}
	device := s.alloc.device
	s.alloc.freer.SubmitResourceFree(func() { device.DestroySampler(smp) })
}
