// Package shader turns WGSL source into the resource input declarations a
// binding.Registry is built from.
//
// Both Parse and Load lower the source to naga IR and reflect the bound
// globals from it. Load additionally validates the IR and generates the
// SPIR-V words a backend needs to create a shader module.
package shader

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/gogpu/naga"
	"github.com/gogpu/naga/spirv"

	"github.com/gogpu/rendercore/binding"
)

// spirvMagic is the first word of every SPIR-V module.
const spirvMagic = 0x07230203

var (
	// ErrReflect is returned for resource declarations Parse cannot map to
	// an input type.
	ErrReflect = errors.New("shader: reflection failed")

	// ErrCompile is returned when naga cannot parse, validate or generate
	// code for the source.
	ErrCompile = errors.New("shader: compilation failed")
)

// Module is a compiled and reflected WGSL shader.
type Module struct {
	Label  string
	Source string
	SPIRV  []uint32
	Inputs []binding.InputDeclaration
}

// Load compiles source and reflects its inputs.
func Load(label, source string) (*Module, error) {
	module, err := lower(source)
	if err != nil {
		return nil, fmt.Errorf("shader %q: %w", label, err)
	}
	inputs, err := inputsOf(module)
	if err != nil {
		return nil, fmt.Errorf("shader %q: %w", label, err)
	}
	errs, err := naga.Validate(module)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrCompile, label, err)
	}
	if len(errs) > 0 {
		return nil, fmt.Errorf("%w: %s: %w", ErrCompile, label, &errs[0])
	}
	opts := naga.DefaultOptions()
	spirvBytes, err := naga.GenerateSPIRV(module, spirv.Options{Version: opts.SPIRVVersion, Debug: opts.Debug})
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrCompile, label, err)
	}
	words, err := spirvWords(spirvBytes)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrCompile, label, err)
	}
	return &Module{
		Label:  label,
		Source: source,
		SPIRV:  words,
		Inputs: inputs,
	}, nil
}

// Input returns the declaration named name.
func (m *Module) Input(name string) (binding.InputDeclaration, bool) {
	for _, d := range m.Inputs {
		if d.Name == name {
			return d, true
		}
	}
	return binding.InputDeclaration{}, false
}

// Sets returns the number of descriptor sets the module declares, counting
// from set 0.
func (m *Module) Sets() int {
	n := 0
	for _, d := range m.Inputs {
		if int(d.Set)+1 > n {
			n = int(d.Set) + 1
		}
	}
	return n
}

// spirvWords converts little-endian SPIR-V bytes to 32-bit words.
func spirvWords(b []byte) ([]uint32, error) {
	if len(b) < 4 || len(b)%4 != 0 {
		return nil, fmt.Errorf("SPIR-V output is %d bytes", len(b))
	}
	words := make([]uint32, len(b)/4)
	for i := range words {
		words[i] = binary.LittleEndian.Uint32(b[i*4:])
	}
	if words[0] != spirvMagic {
		return nil, fmt.Errorf("invalid SPIR-V magic 0x%08X", words[0])
	}
	return words, nil
}
