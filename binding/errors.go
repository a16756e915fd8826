package binding

import (
	"errors"
	"fmt"
)

// Registry errors.
var (
	// ErrInvalidInput is matched by every *ValidationError.
	ErrInvalidInput = errors.New("binding: invalid input")

	// ErrNotValidated is returned by Bake before a successful Validate.
	ErrNotValidated = errors.New("binding: registry not validated")

	// ErrNotBaked is returned by Prepare before Bake.
	ErrNotBaked = errors.New("binding: registry not baked")

	// ErrNoDevice is returned when a registry is created without a Device.
	ErrNoDevice = errors.New("binding: no device")

	// ErrPoolExhausted is returned when a descriptor set allocation would
	// exceed the pool capacity. Fatal.
	ErrPoolExhausted = errors.New("binding: descriptor pool exhausted")

	// ErrLayout is returned when a set layout cannot be created. Fatal.
	ErrLayout = errors.New("binding: set layout creation failed")
)

// ValidationError describes the first missing or incompatible input found
// by Validate.
type ValidationError struct {
	Pass     string
	Name     string
	Set      uint32
	Binding  uint32
	Expected InputType
	Actual   Kind // KindNone when nothing is bound

	// Slots and WantSlots are set when a per-frame resource holds a
	// different number of frame slots than the registry.
	Slots     int
	WantSlots int
}

func (e *ValidationError) Error() string {
	if e.WantSlots != 0 {
		return fmt.Sprintf("binding: %s: input %q (set %d, binding %d) is bound to a %s with %d frame slots, want %d",
			e.Pass, e.Name, e.Set, e.Binding, e.Actual, e.Slots, e.WantSlots)
	}
	if e.Actual == KindNone {
		return fmt.Sprintf("binding: %s: input %q (set %d, binding %d) has no resource bound, expected %s",
			e.Pass, e.Name, e.Set, e.Binding, e.Expected)
	}
	return fmt.Sprintf("binding: %s: input %q (set %d, binding %d) expects %s, got %s",
		e.Pass, e.Name, e.Set, e.Binding, e.Expected, e.Actual)
}

// Unwrap returns ErrInvalidInput.
func (e *ValidationError) Unwrap() error { return ErrInvalidInput }
