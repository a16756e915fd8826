package binding

import (
	"cmp"
	"errors"
	"fmt"
	"math"
	"slices"

	"github.com/google/uuid"
)

// DefaultFramesInFlight is used when Spec.FramesInFlight is not positive.
const DefaultFramesInFlight = 3

// ErrDuplicateInput is returned by NewRegistry when two declarations share a
// name or a (set, binding), or when an array's element bindings run into the
// next declaration of its set.
var ErrDuplicateInput = errors.New("binding: duplicate input declaration")

// Spec configures a Registry.
type Spec struct {
	// Name identifies the pass in diagnostics. A unique name is generated
	// when empty.
	Name string

	// Inputs are the shader's reflected resource inputs.
	Inputs []InputDeclaration

	// StartSet and SetCount restrict the registry to sets
	// [StartSet, StartSet+SetCount). SetCount 0 means every set from
	// StartSet on.
	StartSet uint32
	SetCount uint32

	// FramesInFlight is the number of frame slots. Defaults to
	// DefaultFramesInFlight.
	FramesInFlight int

	// Device materializes descriptor sets. Required.
	Device Device

	// Defaults are bound to inputs of the given type until the caller sets
	// something else, and written in place of resources that are not ready.
	Defaults map[InputType]Resource

	// FrameIndex returns the frame counter of the render thread. It selects
	// the slot used by CurrentDescriptorSets. Nil means slot 0.
	FrameIndex func() int

	// Retire defers destruction of replaced native sets. Nil destroys
	// immediately.
	Retire func(free func())

	// PoolHeadroom defaults to DefaultPoolHeadroom.
	PoolHeadroom int
}

// Stats reports registry activity.
type Stats struct {
	Bakes    uint64
	Prepares uint64

	// Rewrites counts regenerated WriteDescriptors across all slots.
	Rewrites     uint64
	LastRewrites int

	// Flushes counts Device.UpdateSlot calls.
	Flushes     uint64
	LastFlushes int

	Invalidated int
	Stale       int
	Pool        PoolStats
}

// Registry binds a shader's named resource inputs to concrete resources
// and keeps the native descriptor sets of every frame slot in sync with
// them.
//
// SetInput and Validate belong to the logic thread; Bake, Prepare and
// DescriptorSets to the render thread. The registry takes no locks: the
// frame handshake orders the two sides.
type Registry struct {
	name     string
	slots    int
	device   Device
	defaults map[InputType]Resource
	frame    func() int
	retire   func(func())
	headroom int

	decls     []InputDeclaration // sorted by set, binding
	byName    map[string]int
	byKey     map[inputKey]int
	sets      []uint32
	setPos    map[uint32]int
	setRanges [][2]int // decl index range per set position

	bound [][]Resource // [decl][element]

	validated bool
	baked     bool
	pool      *Pool
	tracker   *Tracker
	writes    [][]WriteDescriptor // [slot][decl]
	dirty     [][]bool            // [slot][set position]

	stats Stats
}

// NewRegistry creates a registry for spec.Inputs within the configured set
// range. Inputs with a default resource start out bound to it.
func NewRegistry(spec Spec) (*Registry, error) {
	if spec.Device == nil {
		return nil, ErrNoDevice
	}
	name := spec.Name
	if name == "" {
		name = "registry-" + uuid.NewString()
	}
	slots := spec.FramesInFlight
	if slots <= 0 {
		slots = DefaultFramesInFlight
	}

	r := &Registry{
		name:     name,
		slots:    slots,
		device:   spec.Device,
		defaults: spec.Defaults,
		frame:    spec.FrameIndex,
		retire:   spec.Retire,
		headroom: spec.PoolHeadroom,
		byName:   make(map[string]int),
		byKey:    make(map[inputKey]int),
		setPos:   make(map[uint32]int),
		tracker:  NewTracker(),
	}

	for _, d := range spec.Inputs {
		if d.Set < spec.StartSet {
			continue
		}
		if spec.SetCount > 0 && uint64(d.Set) >= uint64(spec.StartSet)+uint64(spec.SetCount) {
			continue
		}
		r.decls = append(r.decls, d)
	}
	slices.SortFunc(r.decls, compareDecl)

	for i, d := range r.decls {
		if _, ok := r.byName[d.Name]; ok && d.Name != "" {
			return nil, fmt.Errorf("%w: name %q", ErrDuplicateInput, d.Name)
		}
		if _, ok := r.byKey[d.key()]; ok {
			return nil, fmt.Errorf("%w: set %d binding %d", ErrDuplicateInput, d.Set, d.Binding)
		}
		if i > 0 && r.decls[i-1].Set == d.Set && r.decls[i-1].end() > uint64(d.Binding) {
			prev := r.decls[i-1]
			return nil, fmt.Errorf("%w: set %d: %q spans bindings %d..%d, overlapping %q at %d",
				ErrDuplicateInput, d.Set, prev.Name, prev.Binding, prev.end()-1, d.Name, d.Binding)
		}
		if d.Name != "" {
			r.byName[d.Name] = i
		}
		r.byKey[d.key()] = i

		if len(r.sets) == 0 || r.sets[len(r.sets)-1] != d.Set {
			r.setPos[d.Set] = len(r.sets)
			r.sets = append(r.sets, d.Set)
			r.setRanges = append(r.setRanges, [2]int{i, i + 1})
		} else {
			r.setRanges[len(r.setRanges)-1][1] = i + 1
		}

		elems := make([]Resource, d.Len())
		if def := r.defaults[d.Type]; def != nil {
			for e := range elems {
				elems[e] = def
			}
		}
		r.bound = append(r.bound, elems)
	}
	return r, nil
}

func compareDecl(a, b InputDeclaration) int {
	if c := cmp.Compare(a.Set, b.Set); c != 0 {
		return c
	}
	return cmp.Compare(a.Binding, b.Binding)
}

// Name returns the registry name used in diagnostics.
func (r *Registry) Name() string { return r.name }

// FramesInFlight returns the number of frame slots.
func (r *Registry) FramesInFlight() int { return r.slots }

// Inputs returns the declarations managed by the registry, ordered by set
// and binding.
func (r *Registry) Inputs() []InputDeclaration { return slices.Clone(r.decls) }

// SetInput binds res to the named input. For arrays it binds element 0.
// A nil res restores the default resource, if any.
func (r *Registry) SetInput(name string, res Resource) {
	r.SetInputAt(name, res, 0)
}

// SetInputAt binds res to element index of the named input. Unknown names
// and out-of-range indices are logged and ignored.
func (r *Registry) SetInputAt(name string, res Resource, index int) {
	i, ok := r.byName[name]
	if !ok {
		slogger().Warn("binding: unknown input", "registry", r.name, "input", name)
		return
	}
	d := r.decls[i]
	if index < 0 || index >= d.Len() {
		slogger().Warn("binding: input index out of range",
			"registry", r.name, "input", name, "index", index, "count", d.Len())
		return
	}
	if res == nil {
		res = r.defaults[d.Type]
	}
	r.bound[i][index] = res
	r.validated = false
}

// Input returns the resource bound to element 0 of the named input.
func (r *Registry) Input(name string) Resource {
	return r.InputAt(name, 0)
}

// InputAt returns the resource bound to element index of the named input.
func (r *Registry) InputAt(name string, index int) Resource {
	i, ok := r.byName[name]
	if !ok || index < 0 || index >= len(r.bound[i]) {
		return nil
	}
	return r.bound[i][index]
}

// Declaration returns the declaration of the named input.
func (r *Registry) Declaration(name string) (InputDeclaration, bool) {
	i, ok := r.byName[name]
	if !ok {
		return InputDeclaration{}, false
	}
	return r.decls[i], true
}

// IsInputValid reports whether every element of the named input is bound to
// a compatible resource.
func (r *Registry) IsInputValid(name string) bool {
	i, ok := r.byName[name]
	if !ok {
		return false
	}
	return r.checkInput(i) == nil
}

func (r *Registry) checkInput(i int) *ValidationError {
	d := r.decls[i]
	for _, res := range r.bound[i] {
		var kind Kind
		if res != nil {
			kind = res.Kind()
		}
		if kind == KindNone || !Compatible(d.Type, kind) {
			return &ValidationError{
				Pass:     r.name,
				Name:     d.Name,
				Set:      d.Set,
				Binding:  d.Binding,
				Expected: d.Type,
				Actual:   kind,
			}
		}
		if s, ok := res.(Slotted); ok && kind.PerFrame() && s.Slots() != r.slots {
			return &ValidationError{
				Pass:      r.name,
				Name:      d.Name,
				Set:       d.Set,
				Binding:   d.Binding,
				Expected:  d.Type,
				Actual:    kind,
				Slots:     s.Slots(),
				WantSlots: r.slots,
			}
		}
	}
	return nil
}

// Validate checks that every input has a compatible resource bound. It
// returns a *ValidationError for the first failure, ordered by set and
// binding. Nothing is bound either way.
func (r *Registry) Validate() error {
	for i := range r.decls {
		if verr := r.checkInput(i); verr != nil {
			r.validated = false
			slogger().Warn("binding: validation failed", "registry", r.name, "error", verr)
			return verr
		}
	}
	r.validated = true
	return nil
}

// live returns the usable handle of res for slot, or the zero Handle.
func live(t InputType, res Resource, slot int) Handle {
	if res == nil || !Compatible(t, res.Kind()) {
		return Handle{}
	}
	h := res.Handle(slot)
	if !h.Valid() {
		return Handle{}
	}
	return h
}

// build resolves the write for decl i in slot. ready is false if any
// element is not ready; such elements carry the default resource's handle
// when there is one.
func (r *Registry) build(i, slot int) (wd WriteDescriptor, ready bool) {
	d := r.decls[i]
	wd = WriteDescriptor{
		Set:     d.Set,
		Binding: d.Binding,
		Type:    d.Type,
		Handles: make([]Handle, len(r.bound[i])),
	}
	ready = true
	for e, res := range r.bound[i] {
		h := live(d.Type, res, slot)
		if !h.Valid() {
			ready = false
			if def := r.defaults[d.Type]; def != nil {
				h = live(d.Type, def, slot)
			}
		}
		wd.Handles[e] = h
	}
	return wd, ready
}

// diverged reports whether any live handle of decl i differs from what was
// last written for slot.
func (r *Registry) diverged(i, slot int) bool {
	t := r.decls[i].Type
	rec := r.writes[slot][i].Handles
	for e, res := range r.bound[i] {
		if live(t, res, slot) != rec[e] {
			return true
		}
	}
	return false
}

// Bake allocates the descriptor pool and writes every input into every
// frame slot, one Device.UpdateSlot call per slot. Inputs whose resources
// are not ready are recorded as invalidated; Prepare picks them up later.
// Calling Bake again rebuilds everything.
func (r *Registry) Bake() error {
	if !r.validated {
		return ErrNotValidated
	}
	if r.pool != nil {
		r.Release()
	}

	pool, err := NewPool(r.device, PoolConfig{
		Label:    r.name,
		Slots:    r.slots,
		Inputs:   r.decls,
		Headroom: r.headroom,
		Retire:   r.retire,
	})
	if err != nil {
		return err
	}
	r.pool = pool
	r.tracker.Reset()

	r.writes = make([][]WriteDescriptor, r.slots)
	r.dirty = make([][]bool, r.slots)
	for slot := range r.writes {
		r.writes[slot] = make([]WriteDescriptor, len(r.decls))
		r.dirty[slot] = make([]bool, len(r.sets))
		for i := range r.decls {
			wd, ready := r.build(i, slot)
			r.writes[slot][i] = wd
			if !ready && r.tracker.Invalidate(wd.Set, wd.Binding) {
				slogger().Debug("binding: resource not ready at bake",
					"registry", r.name, "input", r.decls[i].Name, "set", wd.Set, "binding", wd.Binding)
			}
		}
		for pos := range r.dirty[slot] {
			r.dirty[slot][pos] = true
		}
	}

	flushes, err := r.flush()
	if err != nil {
		return err
	}
	// Inputs of a set that could not be materialized are not bound yet.
	for _, d := range r.decls {
		if r.setPending(r.setPos[d.Set]) {
			r.tracker.Invalidate(d.Set, d.Binding)
		}
	}
	r.baked = true
	r.stats.Bakes++
	r.stats.LastFlushes = flushes
	r.stats.Flushes += uint64(flushes)
	r.stats.LastRewrites = 0
	r.stats.Invalidated = r.tracker.Len()
	r.stats.Stale = 0
	slogger().Debug("binding: baked",
		"registry", r.name, "inputs", len(r.decls), "sets", len(r.sets),
		"slots", r.slots, "pending", r.tracker.Len())
	return nil
}

// Prepare brings every slot's descriptor sets up to date with the bound
// resources. It first compares every live handle with the one last
// written and invalidates on any difference, then rewrites only the
// invalidated inputs and flushes one batch per affected slot.
//
// Only fatal errors are returned: pool exhaustion and device failures.
func (r *Registry) Prepare() error {
	if !r.baked {
		return ErrNotBaked
	}
	r.stats.Prepares++

	for i, d := range r.decls {
		if r.tracker.State(d.Set, d.Binding) == Invalidated {
			continue
		}
		for slot := 0; slot < r.slots; slot++ {
			if r.diverged(i, slot) {
				r.tracker.Invalidate(d.Set, d.Binding)
				break
			}
		}
	}

	rewrites := 0
	var resolved []inputKey
	for _, k := range r.tracker.pending() {
		i := r.byKey[k]
		pos := r.setPos[k.set]
		allReady := true
		for slot := 0; slot < r.slots; slot++ {
			wd, ready := r.build(i, slot)
			if !ready {
				allReady = false
			}
			// An incomplete write would leave a hole in the set; keep the
			// previous binding instead.
			if !wd.Complete() || slices.Equal(wd.Handles, r.writes[slot][i].Handles) {
				continue
			}
			r.writes[slot][i] = wd
			r.dirty[slot][pos] = true
			rewrites++
		}
		if allReady {
			resolved = append(resolved, k)
		}
	}

	flushes, err := r.flush()
	if err != nil {
		return err
	}
	for _, k := range resolved {
		if r.setPending(r.setPos[k.set]) {
			continue
		}
		r.tracker.Clear(k.set, k.binding)
	}
	for _, k := range r.tracker.age() {
		d := r.decls[r.byKey[k]]
		slogger().Warn("binding: stale binding, draws using this set are skipped",
			"registry", r.name, "input", d.Name, "set", k.set, "binding", k.binding)
	}

	r.stats.LastRewrites = rewrites
	r.stats.Rewrites += uint64(rewrites)
	r.stats.LastFlushes = flushes
	r.stats.Flushes += uint64(flushes)
	r.stats.Invalidated = r.tracker.Len()
	r.stats.Stale = r.tracker.StaleCount()
	if rewrites > 0 {
		slogger().Debug("binding: prepared",
			"registry", r.name, "rewrites", rewrites, "flushes", flushes, "pending", r.tracker.Len())
	}
	return nil
}

// flush sends the dirty sets of every slot to the pool, one update per
// slot. Sets that still have an unwritable binding stay dirty.
func (r *Registry) flush() (int, error) {
	flushes := 0
	for slot := range r.dirty {
		var (
			writes    []SetWrite
			positions []int
		)
		for pos, dirty := range r.dirty[slot] {
			if !dirty {
				continue
			}
			lo, hi := r.setRanges[pos][0], r.setRanges[pos][1]
			sw := SetWrite{Set: r.sets[pos], Writes: r.writes[slot][lo:hi]}
			if !setComplete(sw) {
				continue
			}
			writes = append(writes, sw)
			positions = append(positions, pos)
		}
		if len(writes) == 0 {
			continue
		}
		if err := r.pool.Update(slot, writes); err != nil {
			slogger().Error("binding: descriptor update failed", "registry", r.name, "slot", slot, "error", err)
			return flushes, err
		}
		for _, pos := range positions {
			r.dirty[slot][pos] = false
		}
		flushes++
	}
	return flushes, nil
}

// setPending reports whether the set at pos has writes not yet
// materialized in some slot.
func (r *Registry) setPending(pos int) bool {
	for slot := range r.dirty {
		if r.dirty[slot][pos] {
			return true
		}
	}
	return false
}

func setComplete(sw SetWrite) bool {
	for _, w := range sw.Writes {
		if !w.Complete() {
			return false
		}
	}
	return true
}

func (r *Registry) slot(frame int) int {
	s := frame % r.slots
	if s < 0 {
		s += r.slots
	}
	return s
}

// DescriptorSets returns the native sets for frame, ordered by set index.
// Entries are nil for sets that could not be materialized. The slice is
// owned by the registry.
func (r *Registry) DescriptorSets(frame int) []DescriptorSet {
	if r.pool == nil {
		return nil
	}
	return r.pool.Live(r.slot(frame))
}

// CurrentDescriptorSets returns the sets for the render thread's frame.
func (r *Registry) CurrentDescriptorSets() []DescriptorSet {
	frame := 0
	if r.frame != nil {
		frame = r.frame()
	}
	return r.DescriptorSets(frame)
}

// FirstSetIndex returns the lowest managed set index, or math.MaxUint32 if
// the registry has no inputs.
func (r *Registry) FirstSetIndex() uint32 {
	if len(r.sets) == 0 {
		return math.MaxUint32
	}
	return r.sets[0]
}

// Sets returns the managed set indices in ascending order.
func (r *Registry) Sets() []uint32 { return slices.Clone(r.sets) }

// IsInvalidated reports whether (set, binding) has a pending rewrite.
func (r *Registry) IsInvalidated(set, binding uint32) bool {
	return r.tracker.State(set, binding) == Invalidated
}

// IsStale reports whether (set, binding) stayed invalidated for more than
// one Prepare.
func (r *Registry) IsStale(set, binding uint32) bool {
	return r.tracker.IsStale(set, binding)
}

// Usable reports whether draws using set may proceed: the set exists in
// every slot and none of its bindings is stale.
func (r *Registry) Usable(set uint32) bool {
	if !r.baked || r.tracker.SetStale(set) {
		return false
	}
	for slot := 0; slot < r.slots; slot++ {
		if r.pool.Get(slot, set) == nil {
			return false
		}
	}
	return true
}

// WriteDescriptor returns a copy of the last write for (set, binding) in
// slot.
func (r *Registry) WriteDescriptor(slot int, set, binding uint32) (WriteDescriptor, bool) {
	i, ok := r.byKey[inputKey{set, binding}]
	if !ok || r.writes == nil || slot < 0 || slot >= r.slots {
		return WriteDescriptor{}, false
	}
	return r.writes[slot][i].clone(), true
}

// Layouts returns the set layouts in set order, or nil before Bake. A
// backend builds its pipeline layout from them.
func (r *Registry) Layouts() []SetLayout {
	if r.pool == nil {
		return nil
	}
	out := make([]SetLayout, 0, len(r.sets))
	for _, set := range r.sets {
		out = append(out, r.pool.Layout(set))
	}
	return out
}

// Baked reports whether Bake succeeded and Release has not been called.
func (r *Registry) Baked() bool { return r.baked }

// Stats returns activity counters.
func (r *Registry) Stats() Stats {
	s := r.stats
	if r.pool != nil {
		s.Pool = r.pool.Stats()
	}
	return s
}

// Release retires the descriptor sets and layouts. Bindings are kept, so
// the registry can be baked again.
func (r *Registry) Release() {
	if r.pool != nil {
		r.pool.Release()
		r.pool = nil
	}
	r.baked = false
	r.writes = nil
	r.dirty = nil
	r.tracker.Reset()
}
