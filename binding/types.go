package binding

import "fmt"

// InputType is the resource type a shader declares for one binding.
type InputType uint8

const (
	// InputNone is the zero value; it never validates.
	InputNone InputType = iota

	// InputUniformBuffer is a uniform buffer (var<uniform>).
	InputUniformBuffer

	// InputStorageBuffer is a storage buffer (var<storage>).
	InputStorageBuffer

	// InputSampledImage is a texture read through a sampler.
	InputSampledImage

	// InputStorageImage is a texture written or read without a sampler.
	InputStorageImage

	// InputSampler is a standalone sampler.
	InputSampler
)

// String returns the input type name.
func (t InputType) String() string {
	switch t {
	case InputNone:
		return "None"
	case InputUniformBuffer:
		return "UniformBuffer"
	case InputStorageBuffer:
		return "StorageBuffer"
	case InputSampledImage:
		return "SampledImage"
	case InputStorageImage:
		return "StorageImage"
	case InputSampler:
		return "Sampler"
	default:
		return fmt.Sprintf("InputType(%d)", uint8(t))
	}
}

// Kind is the type of a bound resource object.
type Kind uint8

const (
	// KindNone is the zero value.
	KindNone Kind = iota

	// KindUniformBuffer is a single uniform buffer shared by all frame slots.
	KindUniformBuffer

	// KindUniformBufferSet holds one uniform buffer per frame slot.
	KindUniformBufferSet

	// KindStorageBuffer is a single storage buffer.
	KindStorageBuffer

	// KindStorageBufferSet holds one storage buffer per frame slot.
	KindStorageBufferSet

	// KindTexture2D is a sampled 2D texture.
	KindTexture2D

	// KindTextureCube is a sampled cube texture.
	KindTextureCube

	// KindImage2D is a 2D image usable as sampled or storage texture.
	KindImage2D

	// KindSampler is a sampler object.
	KindSampler
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case KindNone:
		return "None"
	case KindUniformBuffer:
		return "UniformBuffer"
	case KindUniformBufferSet:
		return "UniformBufferSet"
	case KindStorageBuffer:
		return "StorageBuffer"
	case KindStorageBufferSet:
		return "StorageBufferSet"
	case KindTexture2D:
		return "Texture2D"
	case KindTextureCube:
		return "TextureCube"
	case KindImage2D:
		return "Image2D"
	case KindSampler:
		return "Sampler"
	default:
		return fmt.Sprintf("Kind(%d)", uint8(k))
	}
}

// PerFrame reports whether resources of this kind carry one native object
// per frame slot.
func (k Kind) PerFrame() bool {
	return k == KindUniformBufferSet || k == KindStorageBufferSet
}

// Compatible reports whether a resource of kind k may be bound to an input
// declared as t.
func Compatible(t InputType, k Kind) bool {
	switch t {
	case InputUniformBuffer:
		return k == KindUniformBuffer || k == KindUniformBufferSet
	case InputStorageBuffer:
		return k == KindStorageBuffer || k == KindStorageBufferSet
	case InputSampledImage:
		return k == KindTexture2D || k == KindTextureCube || k == KindImage2D
	case InputStorageImage:
		return k == KindImage2D
	case InputSampler:
		return k == KindSampler
	default:
		return false
	}
}

// Stage is a set of shader stages an input is visible to.
type Stage uint8

const (
	StageVertex Stage = 1 << iota
	StageFragment
	StageCompute

	// StageAll is used when reflection cannot tell which stages read an
	// input.
	StageAll = StageVertex | StageFragment | StageCompute
)

// Handle identifies the native object a resource currently resolves to.
//
// ID changes whenever the native object is recreated; zero means the
// resource is not ready. Two handles are equal exactly when the same native
// object would be written.
type Handle struct {
	ID     uint64
	Native uintptr
	Offset uint64
	Size   uint64
}

// Valid reports whether the handle refers to a live native object.
func (h Handle) Valid() bool { return h.ID != 0 }

// Resource is a bindable object. Implementations are read-only from the
// registry's point of view.
type Resource interface {
	// Kind returns the resource type.
	Kind() Kind

	// Handle returns the native handle for a frame slot. Resources that are
	// not replicated per frame ignore slot.
	Handle(slot int) Handle
}

// Slotted is implemented by per-frame resources that know how many frame
// slots they hold. Validate rejects one whose count differs from the
// registry's.
type Slotted interface {
	Slots() int
}

// InputDeclaration is one resource input reflected from a shader.
type InputDeclaration struct {
	Set        uint32
	Binding    uint32
	Name       string
	Type       InputType
	Count      uint32 // array length; 0 and 1 both mean a single resource
	Visibility Stage

	// Cube marks a sampled image declared as a cube map.
	Cube bool
}

// Len returns the number of array elements, at least 1.
func (d InputDeclaration) Len() int {
	if d.Count < 1 {
		return 1
	}
	return int(d.Count)
}

func (d InputDeclaration) key() inputKey { return inputKey{d.Set, d.Binding} }

// end returns one past the last binding the declaration's elements occupy.
func (d InputDeclaration) end() uint64 { return uint64(d.Binding) + uint64(d.Len()) }

type inputKey struct {
	set, binding uint32
}

// WriteDescriptor is the native update record for one (set, binding) in one
// frame slot. Arrays carry one handle per element.
type WriteDescriptor struct {
	Set     uint32
	Binding uint32
	Type    InputType
	Handles []Handle
}

// Complete reports whether every element refers to a live native object.
func (w WriteDescriptor) Complete() bool {
	if len(w.Handles) == 0 {
		return false
	}
	for _, h := range w.Handles {
		if !h.Valid() {
			return false
		}
	}
	return true
}

func (w WriteDescriptor) clone() WriteDescriptor {
	w.Handles = append([]Handle(nil), w.Handles...)
	return w
}
