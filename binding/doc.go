// Package binding keeps a shader's declared resource inputs bound to native
// descriptor sets across every frame in flight.
//
// A Registry is created from reflected InputDeclarations. The logic thread
// binds resources by name with SetInput and checks them with Validate. The
// render thread calls Bake once to materialize one descriptor set per
// declared set in every frame slot, then Prepare before each pass:
//
//	reg, err := binding.NewRegistry(binding.Spec{
//	    Name:   "lighting",
//	    Inputs: inputs,
//	    Device: dev,
//	})
//	reg.SetInput("Camera", cameraBuffers)
//	if err := reg.Validate(); err != nil {
//	    return err
//	}
//	if err := reg.Bake(); err != nil {
//	    return err
//	}
//	// every frame, on the render thread:
//	if err := reg.Prepare(); err != nil {
//	    return err
//	}
//	sets := reg.DescriptorSets(frame)
//
// Prepare compares the live handle of every bound resource with the handle
// last written for it. Any difference invalidates that (set, binding) in
// the Tracker, and only invalidated bindings are rewritten. A binding whose
// resource stays unavailable for more than one Prepare is reported stale
// and its set is no longer Usable.
//
// Native work goes through the Device interface, implemented by the
// backend/native package.
package binding
