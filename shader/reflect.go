package shader

import (
	"fmt"
	"sort"

	"github.com/gogpu/naga"
	"github.com/gogpu/naga/ir"

	"github.com/gogpu/rendercore/binding"
)

// Parse reflects the resource inputs declared in WGSL source. Inputs are
// returned ordered by set, then binding. An input is visible to the stages
// of the entry points that reference it, directly or through a called
// function. An input no entry point references is visible to every stage
// the module has entry points for, or to all stages if it has none.
func Parse(source string) ([]binding.InputDeclaration, error) {
	module, err := lower(source)
	if err != nil {
		return nil, err
	}
	return inputsOf(module)
}

// lower parses and lowers source to naga IR. Syntax and type errors are
// compile errors.
func lower(source string) (*ir.Module, error) {
	ast, err := naga.Parse(source)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCompile, err)
	}
	module, err := naga.LowerWithSource(ast, source)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCompile, err)
	}
	return module, nil
}

func inputsOf(module *ir.Module) ([]binding.InputDeclaration, error) {
	usage, all := stageUsage(module)

	decls := make([]binding.InputDeclaration, 0, len(module.GlobalVariables))
	seen := make(map[ir.ResourceBinding]string, len(module.GlobalVariables))
	for i := range module.GlobalVariables {
		gv := &module.GlobalVariables[i]
		if gv.Binding == nil {
			if isResourceSpace(gv.Space) {
				// naga resolves @group and @binding from literals only.
				return nil, fmt.Errorf("%w: %s: @group and @binding must be integer literals",
					ErrReflect, gv.Name)
			}
			continue
		}
		if prev, dup := seen[*gv.Binding]; dup {
			return nil, fmt.Errorf("%w: %s and %s share group %d binding %d",
				ErrReflect, prev, gv.Name, gv.Binding.Group, gv.Binding.Binding)
		}
		seen[*gv.Binding] = gv.Name

		d, err := classify(module, gv)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrReflect, gv.Name, err)
		}
		d.Visibility = usage[ir.GlobalVariableHandle(i)]
		if d.Visibility == 0 {
			d.Visibility = all
		}
		decls = append(decls, d)
	}

	sort.Slice(decls, func(i, j int) bool {
		if decls[i].Set != decls[j].Set {
			return decls[i].Set < decls[j].Set
		}
		return decls[i].Binding < decls[j].Binding
	})
	return decls, nil
}

// classify maps a bound global to an input declaration without visibility.
func classify(module *ir.Module, gv *ir.GlobalVariable) (binding.InputDeclaration, error) {
	d := binding.InputDeclaration{
		Set:     gv.Binding.Group,
		Binding: gv.Binding.Binding,
		Name:    gv.Name,
		Count:   1,
	}
	switch gv.Space {
	case ir.SpaceUniform:
		d.Type = binding.InputUniformBuffer
		return d, nil
	case ir.SpaceStorage:
		d.Type = binding.InputStorageBuffer
		return d, nil
	case ir.SpaceHandle:
	default:
		return d, fmt.Errorf("unsupported address space %d", gv.Space)
	}

	inner, err := typeInner(module, gv.Type)
	if err != nil {
		return d, err
	}
	if arr, ok := inner.(ir.BindingArrayType); ok {
		if arr.Size == nil {
			return d, fmt.Errorf("runtime-sized binding_array is not supported")
		}
		if *arr.Size == 0 {
			return d, fmt.Errorf("binding_array of length 0")
		}
		d.Count = *arr.Size
		if inner, err = typeInner(module, arr.Base); err != nil {
			return d, err
		}
	}

	switch t := inner.(type) {
	case ir.SamplerType:
		d.Type = binding.InputSampler
	case ir.ImageType:
		switch t.Class {
		case ir.ImageClassStorage:
			d.Type = binding.InputStorageImage
		case ir.ImageClassSampled, ir.ImageClassDepth:
			d.Type = binding.InputSampledImage
			d.Cube = t.Dim == ir.DimCube
		default:
			return d, fmt.Errorf("unsupported image class %d", t.Class)
		}
	default:
		return d, fmt.Errorf("unsupported resource type %T", inner)
	}
	return d, nil
}

func isResourceSpace(space ir.AddressSpace) bool {
	return space == ir.SpaceUniform || space == ir.SpaceStorage || space == ir.SpaceHandle
}

func typeInner(module *ir.Module, h ir.TypeHandle) (ir.TypeInner, error) {
	if int(h) >= len(module.Types) {
		return nil, fmt.Errorf("type handle %d out of range", h)
	}
	return module.Types[h].Inner, nil
}

// stageUsage returns the stages that reference each global, and the union
// of all entry-point stages.
func stageUsage(module *ir.Module) (map[ir.GlobalVariableHandle]binding.Stage, binding.Stage) {
	usage := make(map[ir.GlobalVariableHandle]binding.Stage)
	var all binding.Stage
	w := globalWalker{module: module, funcs: make(map[ir.FunctionHandle]map[ir.GlobalVariableHandle]struct{})}
	for i := range module.EntryPoints {
		ep := &module.EntryPoints[i]
		stage := stageOf(ep.Stage)
		all |= stage
		for h := range w.function(&ep.Function) {
			usage[h] |= stage
		}
	}
	if all == 0 {
		all = binding.StageAll
	}
	return usage, all
}

func stageOf(s ir.ShaderStage) binding.Stage {
	switch s {
	case ir.StageVertex:
		return binding.StageVertex
	case ir.StageFragment:
		return binding.StageFragment
	case ir.StageCompute:
		return binding.StageCompute
	}
	return 0
}

// globalWalker collects the globals a function references, following calls.
type globalWalker struct {
	module *ir.Module
	funcs  map[ir.FunctionHandle]map[ir.GlobalVariableHandle]struct{}
}

func (w *globalWalker) function(fn *ir.Function) map[ir.GlobalVariableHandle]struct{} {
	used := make(map[ir.GlobalVariableHandle]struct{})
	for _, e := range fn.Expressions {
		if g, ok := e.Kind.(ir.ExprGlobalVariable); ok {
			used[g.Variable] = struct{}{}
		}
	}
	w.block(fn.Body, used)
	return used
}

func (w *globalWalker) callee(h ir.FunctionHandle) map[ir.GlobalVariableHandle]struct{} {
	if used, ok := w.funcs[h]; ok {
		return used
	}
	// nil marks h in progress so a call cycle terminates.
	w.funcs[h] = nil
	if int(h) >= len(w.module.Functions) {
		return nil
	}
	used := w.function(&w.module.Functions[h])
	w.funcs[h] = used
	return used
}

func (w *globalWalker) block(b ir.Block, used map[ir.GlobalVariableHandle]struct{}) {
	for i := range b {
		switch s := b[i].Kind.(type) {
		case ir.StmtCall:
			for g := range w.callee(s.Function) {
				used[g] = struct{}{}
			}
		case ir.StmtBlock:
			w.block(s.Block, used)
		case ir.StmtIf:
			w.block(s.Accept, used)
			w.block(s.Reject, used)
		case ir.StmtSwitch:
			for c := range s.Cases {
				w.block(s.Cases[c].Body, used)
			}
		case ir.StmtLoop:
			w.block(s.Body, used)
			w.block(s.Continuing, used)
		}
	}
}
