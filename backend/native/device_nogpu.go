//go:build nogpu

package native

// gpuAPI returns nil: builds tagged nogpu only have the noop device.
func gpuAPI() instanceCreator { return nil }
