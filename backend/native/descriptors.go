package native

import (
	"fmt"
	"sync"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/rendercore/binding"
)

// descriptorDevice implements binding.Device with hal bind groups. Bind
// groups are immutable, so every update creates new ones and the caller
// retires the old.
type descriptorDevice struct {
	device hal.Device
}

// setLayout wraps a hal bind group layout.
type setLayout struct {
	owner  *descriptorDevice
	index  uint32
	native hal.BindGroupLayout
	once   sync.Once
}

func (l *setLayout) Destroy() {
	l.once.Do(func() { l.owner.device.DestroyBindGroupLayout(l.native) })
}

// Native returns the hal layout, for building pipeline layouts.
func (l *setLayout) Native() hal.BindGroupLayout { return l.native }

// DescriptorSet is a hal bind group materialized for one set of one frame
// slot.
type DescriptorSet struct {
	device hal.Device
	index  uint32
	group  hal.BindGroup
	once   sync.Once
}

// Set implements binding.DescriptorSet.
func (s *DescriptorSet) Set() uint32 { return s.index }

// BindGroup returns the hal bind group to set on a pass encoder.
func (s *DescriptorSet) BindGroup() hal.BindGroup { return s.group }

// Destroy implements binding.DescriptorSet.
func (s *DescriptorSet) Destroy() {
	s.once.Do(func() { s.device.DestroyBindGroup(s.group) })
}

// CreateSetLayout implements binding.Device. hal layout entries carry no
// array count, so array inputs occupy one binding per element starting at
// the declared binding. Element bindings that collide are rejected.
func (d *descriptorDevice) CreateSetLayout(label string, set uint32, inputs []binding.InputDeclaration) (binding.SetLayout, error) {
	entries := make([]gputypes.BindGroupLayoutEntry, 0, len(inputs))
	owner := make(map[uint32]string, len(inputs))
	for _, in := range inputs {
		for i := range in.Len() {
			entry, err := layoutEntry(in)
			if err != nil {
				return nil, err
			}
			entry.Binding = in.Binding + uint32(i)
			if prev, taken := owner[entry.Binding]; taken {
				return nil, fmt.Errorf("%w: %s set %d binding %d used by %q and %q",
					ErrBindingOverlap, label, set, entry.Binding, prev, in.Name)
			}
			owner[entry.Binding] = in.Name
			entries = append(entries, entry)
		}
	}
	native, err := d.device.CreateBindGroupLayout(&hal.BindGroupLayoutDescriptor{
		Label:   fmt.Sprintf("%s_set%d_layout", label, set),
		Entries: entries,
	})
	if err != nil {
		return nil, fmt.Errorf("create bind group layout %s set %d: %w", label, set, err)
	}
	slogger().Debug("native: set layout created", "label", label, "set", set, "entries", len(entries))
	return &setLayout{owner: d, index: set, native: native}, nil
}

func layoutEntry(in binding.InputDeclaration) (gputypes.BindGroupLayoutEntry, error) {
	var entry gputypes.BindGroupLayoutEntry
	if in.Visibility&binding.StageVertex != 0 {
		entry.Visibility |= gputypes.ShaderStageVertex
	}
	if in.Visibility&binding.StageFragment != 0 {
		entry.Visibility |= gputypes.ShaderStageFragment
	}
	if in.Visibility&binding.StageCompute != 0 {
		entry.Visibility |= gputypes.ShaderStageCompute
	}

	switch in.Type {
	case binding.InputUniformBuffer:
		entry.Buffer = &gputypes.BufferBindingLayout{Type: gputypes.BufferBindingTypeUniform}
	case binding.InputStorageBuffer:
		entry.Buffer = &gputypes.BufferBindingLayout{Type: gputypes.BufferBindingTypeStorage}
	case binding.InputSampledImage:
		dim := gputypes.TextureViewDimension2D
		if in.Cube {
			dim = gputypes.TextureViewDimensionCube
		}
		entry.Texture = &gputypes.TextureBindingLayout{
			SampleType:    gputypes.TextureSampleTypeFloat,
			ViewDimension: dim,
		}
	case binding.InputStorageImage:
		entry.StorageTexture = &gputypes.StorageTextureBindingLayout{
			Access:        gputypes.StorageTextureAccessWriteOnly,
			Format:        gputypes.TextureFormatRGBA8Unorm,
			ViewDimension: gputypes.TextureViewDimension2D,
		}
	case binding.InputSampler:
		entry.Sampler = &gputypes.SamplerBindingLayout{Type: gputypes.SamplerBindingTypeFiltering}
	default:
		return entry, fmt.Errorf("input %q has no native binding type (%s)", in.Name, in.Type)
	}
	return entry, nil
}

// UpdateSlot implements binding.Device. All bind groups of the slot are
// created together; on failure the ones already created are destroyed.
func (d *descriptorDevice) UpdateSlot(label string, slot int, writes []binding.SetWrite) ([]binding.DescriptorSet, error) {
	out := make([]binding.DescriptorSet, 0, len(writes))
	fail := func(err error) ([]binding.DescriptorSet, error) {
		for _, s := range out {
			s.Destroy()
		}
		return nil, err
	}
	for _, w := range writes {
		layout, ok := w.Layout.(*setLayout)
		if !ok || layout.owner != d {
			return fail(fmt.Errorf("%w: %s set %d", ErrForeignLayout, label, w.Set))
		}
		entries := make([]gputypes.BindGroupEntry, 0, len(w.Writes))
		for _, wd := range w.Writes {
			for i, h := range wd.Handles {
				entries = append(entries, bindGroupEntry(wd.Type, wd.Binding+uint32(i), h))
			}
		}
		group, err := d.device.CreateBindGroup(&hal.BindGroupDescriptor{
			Label:   fmt.Sprintf("%s[%d]_set%d", label, slot, w.Set),
			Layout:  layout.native,
			Entries: entries,
		})
		if err != nil {
			return fail(fmt.Errorf("create bind group %s[%d] set %d: %w", label, slot, w.Set, err))
		}
		out = append(out, &DescriptorSet{device: d.device, index: w.Set, group: group})
	}
	return out, nil
}

func bindGroupEntry(t binding.InputType, slot uint32, h binding.Handle) gputypes.BindGroupEntry {
	entry := gputypes.BindGroupEntry{Binding: slot}
	switch t {
	case binding.InputUniformBuffer, binding.InputStorageBuffer:
		entry.Resource = gputypes.BufferBinding{Buffer: h.Native, Offset: h.Offset, Size: h.Size}
	case binding.InputSampler:
		entry.Resource = gputypes.SamplerBinding{Sampler: h.Native}
	default:
		entry.Resource = gputypes.TextureViewBinding{TextureView: h.Native}
	}
	return entry
}
