// Package backend provides a pluggable native graphics backend abstraction.
//
// A Backend supplies the three things the frame pipeline needs from the
// native API: descriptor sets (binding.Device), a fence that reports frame
// completion (FrameFence), and an allocator for GPU resources.
//
// # Backend Registration
//
// Backends are registered via init() functions and selected once at
// startup. The software backend is registered on import of this package;
// the GPU backend on import of backend/native:
//
//	import _ "github.com/gogpu/rendercore/backend/native"
//
// # Backend Selection
//
// Use Default() to get the best available backend, or Get() to request
// a specific backend by name:
//
//	// Get the default (best available) backend
//	b := backend.Default()
//
//	// Or request a specific backend
//	b := backend.Get("software")
//
// # Available Backends
//
//   - "native": gogpu/wgpu HAL device, bind groups as descriptor sets
//   - "software": in-memory descriptor sets, frames complete immediately
package backend
