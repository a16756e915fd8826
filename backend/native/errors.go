package native

import "errors"

// Package errors for the native backend.
var (
	// ErrNotInitialized is returned when operations are called before Init.
	ErrNotInitialized = errors.New("native: backend not initialized")

	// ErrNoGPU is returned when no GPU adapter is available.
	ErrNoGPU = errors.New("native: no GPU adapter available")

	// ErrNoHAL is returned by FromProvider when the provider does not
	// expose a hal device and queue.
	ErrNoHAL = errors.New("native: provider does not expose HAL types")

	// ErrForeignLayout is returned when a set layout created by another
	// device is passed to UpdateSlot.
	ErrForeignLayout = errors.New("native: set layout from another device")

	// ErrBindingOverlap is returned by CreateSetLayout when two inputs, or
	// the elements of an array input, map to the same binding.
	ErrBindingOverlap = errors.New("native: overlapping bindings")
)
