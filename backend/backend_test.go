package backend

import (
	"errors"
	"slices"
	"testing"
	"time"

	"github.com/gogpu/rendercore/binding"
)

func TestSoftwareBackendName(t *testing.T) {
	b := NewSoftwareBackend()
	if b.Name() != "software" {
		t.Errorf("Name() = %q, want %q", b.Name(), "software")
	}
}

func TestSoftwareBackendBeforeInit(t *testing.T) {
	b := NewSoftwareBackend()
	if b.Descriptors() != nil {
		t.Error("Descriptors() should be nil before Init")
	}
	if b.Fence() != nil {
		t.Error("Fence() should be nil before Init")
	}
	if b.Resources() != nil {
		t.Error("Resources() should always be nil")
	}
}

func TestSoftwareBackendDescriptors(t *testing.T) {
	b := NewSoftwareBackend()
	if err := b.Init(); err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	defer b.Close()

	dev := b.Descriptors()
	inputs := []binding.InputDeclaration{
		{Set: 0, Binding: 0, Name: "Camera", Type: binding.InputUniformBuffer},
	}
	layout, err := dev.CreateSetLayout("test", 0, inputs)
	if err != nil {
		t.Fatalf("CreateSetLayout() error = %v", err)
	}

	handles := []binding.Handle{{ID: 7, Native: 0x10, Size: 64}}
	sets, err := dev.UpdateSlot("test", 1, []binding.SetWrite{{
		Set:    0,
		Layout: layout,
		Writes: []binding.WriteDescriptor{{Set: 0, Binding: 0, Type: binding.InputUniformBuffer, Handles: handles}},
	}})
	if err != nil {
		t.Fatalf("UpdateSlot() error = %v", err)
	}
	if len(sets) != 1 || sets[0].Set() != 0 {
		t.Fatalf("UpdateSlot() = %v", sets)
	}

	// The set owns a copy of the handles.
	handles[0].ID = 99
	ms := sets[0].(*MemorySet)
	if ms.Slot != 1 || ms.Writes[0].Handles[0].ID != 7 {
		t.Errorf("set = %+v", ms)
	}

	l, live, updates := b.Memory().Stats()
	if l != 1 || live != 1 || updates != 1 {
		t.Errorf("Stats() = %d, %d, %d; want 1, 1, 1", l, live, updates)
	}

	sets[0].Destroy()
	sets[0].Destroy()
	layout.Destroy()
	if !ms.Destroyed() {
		t.Error("Destroyed() = false after Destroy")
	}
	l, live, _ = b.Memory().Stats()
	if l != 0 || live != 0 {
		t.Errorf("after destroy Stats() = %d layouts, %d sets; want 0, 0", l, live)
	}
}

func TestSoftwareBackendMissingLayout(t *testing.T) {
	b := NewSoftwareBackend()
	if err := b.Init(); err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	_, err := b.Descriptors().UpdateSlot("test", 0, []binding.SetWrite{{Set: 2}})
	if err == nil {
		t.Error("UpdateSlot() without layout should fail")
	}
}

func TestSoftwareFence(t *testing.T) {
	b := NewSoftwareBackend()
	if err := b.Init(); err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	f := b.Fence()

	if err := f.Wait(0, time.Millisecond); err != nil {
		t.Errorf("Wait(0) error = %v", err)
	}
	if err := f.Wait(1, 10*time.Millisecond); !errors.Is(err, ErrFenceTimeout) {
		t.Errorf("Wait(1) before Signal = %v, want ErrFenceTimeout", err)
	}

	done := make(chan error, 1)
	go func() { done <- f.Wait(2, time.Second) }()
	if err := f.Signal(1); err != nil {
		t.Fatalf("Signal(1) error = %v", err)
	}
	if err := f.Signal(2); err != nil {
		t.Fatalf("Signal(2) error = %v", err)
	}
	if err := <-done; err != nil {
		t.Errorf("Wait(2) error = %v", err)
	}

	// Signals never move the fence backwards.
	_ = f.Signal(1)
	if got := f.Completed(); got != 2 {
		t.Errorf("Completed() = %d, want 2", got)
	}
}

func TestRegistryRegisterAndGet(t *testing.T) {
	// Software backend is auto-registered via init()
	if !IsRegistered("software") {
		t.Error("software backend should be auto-registered")
	}

	b := Get("software")
	if b == nil {
		t.Fatal("Get(software) returned nil")
	}
	if b.Name() != "software" {
		t.Errorf("Get(software).Name() = %q, want %q", b.Name(), "software")
	}
}

func TestRegistryGetUnregistered(t *testing.T) {
	b := Get("nonexistent")
	if b != nil {
		t.Error("Get(nonexistent) should return nil")
	}
}

func TestRegistryAvailable(t *testing.T) {
	available := Available()
	if !slices.Contains(available, "software") {
		t.Error("Available() should include 'software'")
	}
	if !slices.IsSorted(available) {
		t.Errorf("Available() = %v, want sorted", available)
	}
}

func TestRegistryDefault(t *testing.T) {
	b := Default()
	if b == nil {
		t.Fatal("Default() returned nil")
	}
	// Only the software backend is linked into this test binary.
	if b.Name() != "software" {
		t.Errorf("Default() = %q, want software", b.Name())
	}
}

func TestRegistryMustDefault(t *testing.T) {
	// Should not panic when software backend is available
	defer func() {
		if r := recover(); r != nil {
			t.Errorf("MustDefault() panicked: %v", r)
		}
	}()
	b := MustDefault()
	if b == nil {
		t.Error("MustDefault() returned nil")
	}
}

func TestRegistryInitDefault(t *testing.T) {
	b, err := InitDefault()
	if err != nil {
		t.Fatalf("InitDefault() error = %v", err)
	}
	if b == nil {
		t.Fatal("InitDefault() returned nil backend")
	}
	defer b.Close()

	if b.Descriptors() == nil || b.Fence() == nil {
		t.Error("Backend from InitDefault() should be usable")
	}
}

func TestRegistryInitByName(t *testing.T) {
	if _, err := Init("nonexistent"); !errors.Is(err, ErrBackendNotAvailable) {
		t.Errorf("Init(nonexistent) error = %v, want ErrBackendNotAvailable", err)
	}
	b, err := Init(BackendSoftware)
	if err != nil {
		t.Fatalf("Init(software) error = %v", err)
	}
	b.Close()
}

func TestRegistryUnregister(t *testing.T) {
	// Register a test backend
	testFactory := func() Backend {
		return &SoftwareBackend{}
	}
	Register("test-backend", testFactory)

	if !IsRegistered("test-backend") {
		t.Error("test-backend should be registered")
	}

	Unregister("test-backend")

	if IsRegistered("test-backend") {
		t.Error("test-backend should be unregistered")
	}
}

func TestRegistryIsRegistered(t *testing.T) {
	if !IsRegistered("software") {
		t.Error("software should be registered")
	}
	if IsRegistered("nonexistent") {
		t.Error("nonexistent should not be registered")
	}
}

// namedBackend is a software backend reporting another name.
type namedBackend struct {
	SoftwareBackend
	name string
}

func (b *namedBackend) Name() string { return b.name }

func TestRegistryDefaultOrder(t *testing.T) {
	software := backends[BackendSoftware]
	t.Cleanup(func() {
		Register(BackendSoftware, software)
		Unregister("aaa")
		Unregister("zzz")
	})

	Register("zzz", func() Backend { return &namedBackend{name: "zzz"} })
	Register("aaa", func() Backend { return nil })
	if b := Default(); b == nil || b.Name() != BackendSoftware {
		t.Fatalf("Default() = %v, want software ahead of other names", b)
	}

	// Without a preferred backend, names are tried in order and a factory
	// returning nil is skipped.
	Unregister(BackendSoftware)
	if b := Default(); b == nil || b.Name() != "zzz" {
		t.Errorf("Default() = %v, want zzz", b)
	}
}
