package rendercore

import "errors"

// Renderer errors.
var (
	// ErrShutdown is returned by operations on a renderer after Shutdown.
	ErrShutdown = errors.New("rendercore: renderer shut down")

	// ErrNoBackend is returned by New when no backend can be initialized.
	ErrNoBackend = errors.New("rendercore: no backend available")

	// ErrNoDevice is returned by NewRegistry when the backend has no
	// descriptor device.
	ErrNoDevice = errors.New("rendercore: backend has no descriptor device")
)
