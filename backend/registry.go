package backend

import (
	"slices"
	"sync"
)

const (
	// BackendNative drives a gogpu/wgpu HAL device: Vulkan when present,
	// the noop HAL device otherwise.
	BackendNative = "native"

	// BackendSoftware keeps descriptor sets and the frame fence in memory.
	// It needs no device and has no resource allocator.
	BackendSoftware = "software"
)

// BackendFactory creates an uninitialized backend.
type BackendFactory func() Backend

var (
	registryMu sync.RWMutex
	backends   = make(map[string]BackendFactory)

	// Default prefers a device-backed renderer and settles for the
	// in-memory one. Other registered names follow in name order.
	preferred = []string{BackendNative, BackendSoftware}
)

// Register makes factory available under name, replacing any earlier
// registration. Backend packages call it from init.
func Register(name string, factory BackendFactory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	backends[name] = factory
}

// Unregister removes name.
func Unregister(name string) {
	registryMu.Lock()
	defer registryMu.Unlock()
	delete(backends, name)
}

// Available returns the sorted names of registered backends.
func Available() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	return sortedNamesLocked()
}

func sortedNamesLocked() []string {
	names := make([]string, 0, len(backends))
	for name := range backends {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// IsRegistered reports whether name is registered.
func IsRegistered(name string) bool {
	registryMu.RLock()
	defer registryMu.RUnlock()
	_, ok := backends[name]
	return ok
}

// Get returns a new backend registered under name, or nil.
func Get(name string) Backend {
	registryMu.RLock()
	factory := backends[name]
	registryMu.RUnlock()
	if factory == nil {
		return nil
	}
	return factory()
}

// Default returns a new instance of the first registered backend in
// preference order whose factory yields one, or nil.
func Default() Backend {
	registryMu.RLock()
	order := slices.Clone(preferred)
	for _, name := range sortedNamesLocked() {
		if !slices.Contains(preferred, name) {
			order = append(order, name)
		}
	}
	factories := make([]BackendFactory, 0, len(order))
	for _, name := range order {
		if f := backends[name]; f != nil {
			factories = append(factories, f)
		}
	}
	registryMu.RUnlock()

	for _, f := range factories {
		if b := f(); b != nil {
			return b
		}
	}
	return nil
}

// MustDefault is Default that panics when nothing is registered.
func MustDefault() Backend {
	b := Default()
	if b == nil {
		panic("backend: no backend available")
	}
	return b
}

// InitDefault initializes Default. rendercore.New uses it when no backend
// is selected.
func InitDefault() (Backend, error) {
	return initialize(Default())
}

// Init initializes the backend registered under name.
func Init(name string) (Backend, error) {
	return initialize(Get(name))
}

func initialize(b Backend) (Backend, error) {
	if b == nil {
		return nil, ErrBackendNotAvailable
	}
	if err := b.Init(); err != nil {
		return nil, err
	}
	return b, nil
}
