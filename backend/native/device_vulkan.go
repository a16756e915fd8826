//go:build !nogpu

package native

import (
	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
	_ "github.com/gogpu/wgpu/hal/vulkan"
)

// gpuAPI returns the Vulkan hal backend, or nil if it is not registered.
func gpuAPI() instanceCreator {
	api, ok := hal.GetBackend(gputypes.BackendVulkan)
	if !ok {
		return nil
	}
	return api
}
