package binding

// SetLayout is the native layout of one descriptor set.
type SetLayout interface {
	Destroy()
}

// DescriptorSet is a materialized native descriptor set. Backends without
// mutable descriptor sets create a fresh object on every update.
type DescriptorSet interface {
	// Set returns the set index the object was created for.
	Set() uint32
	Destroy()
}

// SetWrite is the full content of one descriptor set in one frame slot.
type SetWrite struct {
	Set    uint32
	Layout SetLayout
	Writes []WriteDescriptor // every binding of the set, ordered by binding
}

// Device is the native side of descriptor management, implemented by a
// graphics backend.
type Device interface {
	// CreateSetLayout creates the layout for one set from its declarations.
	CreateSetLayout(label string, set uint32, inputs []InputDeclaration) (SetLayout, error)

	// UpdateSlot materializes the given sets of one frame slot in a single
	// native batch and returns one DescriptorSet per SetWrite, in order.
	UpdateSlot(label string, slot int, writes []SetWrite) ([]DescriptorSet, error)
}
