// Package rendercore pipelines frame submission between a logic thread and
// a render thread and keeps shader resource inputs bound across every
// frame in flight.
//
// # Overview
//
// The logic thread records frame N+1 while the render thread executes frame
// N. Work crosses between them as commands in a double-buffered queue; the
// two threads meet once per frame in a Kick/Idle handshake. Shader inputs
// are bound by name on a binding.Registry, which materializes one native
// descriptor set per declared set in each frame slot and, before every
// pass, rewrites only the bindings whose resources changed.
//
// # Quick Start
//
//	r, err := rendercore.New()
//	if err != nil {
//		log.Fatal(err)
//	}
//	r.Run()
//	defer r.Shutdown()
//
//	mod, _ := shader.Load("sprite", spriteWGSL)
//	reg, _ := r.NewRegistry(binding.Spec{Name: "sprite", Inputs: mod.Inputs})
//	reg.SetInput("camera", cameraBuffers)
//	if err := reg.Validate(); err != nil {
//		log.Fatal(err)
//	}
//	r.SubmitErr(reg.Bake)
//
//	for running {
//		r.SubmitErr(reg.Prepare)
//		// record draws using reg.CurrentDescriptorSets() ...
//		if err := r.Pump(); err != nil {
//			log.Fatal(err)
//		}
//	}
//
// # Frames
//
// Frames are numbered from 1. Frame F uses slot F % framesInFlight. Before
// the render thread reuses a slot it waits on the backend fence for the
// frame that last used it, then frees every native object retired up to
// that frame. Objects are retired with SubmitResourceFree, never destroyed
// directly.
//
// # Threading
//
// With the multi-threaded policy the render thread is a goroutine locked to
// its OS thread. With the single-threaded policy Kick runs the frame inline
// and the wait functions return immediately, which makes frame execution
// deterministic.
//
// # Backends
//
// The backend is chosen once, at New. "native" drives a gogpu/wgpu HAL
// device; "software" keeps descriptor sets in memory and has no GPU.
package rendercore

// Version information
const (
	// Version is the current version of the library
	Version = "0.1.0"

	// VersionMajor is the major version
	VersionMajor = 0

	// VersionMinor is the minor version
	VersionMinor = 1

	// VersionPatch is the patch version
	VersionPatch = 0
)
