package binding

import (
	"fmt"
	"slices"
	"sync/atomic"
)

// DefaultPoolHeadroom multiplies framesInFlight × sets to size the pool.
// Every rewrite allocates a new set while the replaced one waits for its
// frame fence, so the pool needs room for several generations.
const DefaultPoolHeadroom = 8

// PoolConfig describes a descriptor set pool.
type PoolConfig struct {
	// Label prefixes native object labels.
	Label string

	// Slots is the number of frames in flight.
	Slots int

	// Inputs are the declarations to lay out, already restricted to the
	// sets the pool manages.
	Inputs []InputDeclaration

	// Headroom defaults to DefaultPoolHeadroom if <= 0.
	Headroom int

	// Retire defers destruction of replaced native objects until the GPU
	// is done with them. Nil destroys immediately.
	Retire func(free func())
}

// PoolStats reports pool usage.
type PoolStats struct {
	Capacity  int
	InUse     int
	Allocated uint64
	Updates   uint64
}

// String returns a human-readable summary.
func (s PoolStats) String() string {
	return fmt.Sprintf("Pool[%d/%d sets, %d allocated, %d updates]",
		s.InUse, s.Capacity, s.Allocated, s.Updates)
}

// Pool owns the set layouts and the live native descriptor sets of
// Slots × sets. Replacing a live set retires the old one.
type Pool struct {
	device   Device
	label    string
	slots    int
	sets     []uint32
	setPos   map[uint32]int
	layouts  []SetLayout
	live     [][]DescriptorSet // [slot][set position]
	capacity int
	retire   func(func())

	inUse     atomic.Int64
	allocated uint64
	updates   uint64
}

// NewPool creates the set layouts for every set in cfg.Inputs. A layout
// failure returns an error wrapping ErrLayout; layouts created so far are
// destroyed.
func NewPool(device Device, cfg PoolConfig) (*Pool, error) {
	if device == nil {
		return nil, ErrNoDevice
	}
	slots := max(cfg.Slots, 1)
	headroom := cfg.Headroom
	if headroom <= 0 {
		headroom = DefaultPoolHeadroom
	}

	groups := groupBySet(cfg.Inputs)
	p := &Pool{
		device: device,
		label:  cfg.Label,
		slots:  slots,
		setPos: make(map[uint32]int, len(groups)),
		retire: cfg.Retire,
	}
	for i, g := range groups {
		set := g[0].Set
		layout, err := device.CreateSetLayout(fmt.Sprintf("%s set %d", cfg.Label, set), set, g)
		if err != nil {
			for _, l := range p.layouts {
				l.Destroy()
			}
			return nil, fmt.Errorf("%w: set %d: %w", ErrLayout, set, err)
		}
		p.sets = append(p.sets, set)
		p.setPos[set] = i
		p.layouts = append(p.layouts, layout)
	}
	p.capacity = slots * max(len(p.sets), 1) * headroom
	p.live = make([][]DescriptorSet, slots)
	for s := range p.live {
		p.live[s] = make([]DescriptorSet, len(p.sets))
	}
	return p, nil
}

// groupBySet splits inputs by set, sorted by set then binding.
func groupBySet(inputs []InputDeclaration) [][]InputDeclaration {
	sorted := slices.Clone(inputs)
	slices.SortFunc(sorted, compareDecl)
	var groups [][]InputDeclaration
	for i := 0; i < len(sorted); {
		j := i + 1
		for j < len(sorted) && sorted[j].Set == sorted[i].Set {
			j++
		}
		groups = append(groups, sorted[i:j])
		i = j
	}
	return groups
}

// Sets returns the managed set indices in ascending order.
func (p *Pool) Sets() []uint32 { return p.sets }

// Layout returns the layout of set, or nil.
func (p *Pool) Layout(set uint32) SetLayout {
	i, ok := p.setPos[set]
	if !ok || i >= len(p.layouts) {
		return nil
	}
	return p.layouts[i]
}

// Slots returns the number of frame slots.
func (p *Pool) Slots() int { return p.slots }

// Capacity returns the maximum number of live plus retiring sets.
func (p *Pool) Capacity() int { return p.capacity }

// Live returns the native sets of one slot, indexed by set position.
// Entries are nil for sets that could not be materialized yet. The slice
// is owned by the pool.
func (p *Pool) Live(slot int) []DescriptorSet {
	return p.live[slot]
}

// Get returns the native set for (slot, set), or nil.
func (p *Pool) Get(slot int, set uint32) DescriptorSet {
	i, ok := p.setPos[set]
	if !ok || slot < 0 || slot >= p.slots {
		return nil
	}
	return p.live[slot][i]
}

// Update materializes writes for one slot with a single Device.UpdateSlot
// call and replaces the live sets. Replaced sets are retired.
func (p *Pool) Update(slot int, writes []SetWrite) error {
	if len(writes) == 0 {
		return nil
	}
	if int(p.inUse.Load())+len(writes) > p.capacity {
		return fmt.Errorf("%w: %d in use, %d requested, capacity %d",
			ErrPoolExhausted, p.inUse.Load(), len(writes), p.capacity)
	}
	for i := range writes {
		pos, ok := p.setPos[writes[i].Set]
		if !ok {
			return fmt.Errorf("binding: set %d is not managed by this pool", writes[i].Set)
		}
		writes[i].Layout = p.layouts[pos]
	}

	created, err := p.device.UpdateSlot(p.label, slot, writes)
	if err != nil {
		return fmt.Errorf("binding: update slot %d: %w", slot, err)
	}
	if len(created) != len(writes) {
		for _, ds := range created {
			ds.Destroy()
		}
		return fmt.Errorf("binding: update slot %d: device returned %d sets for %d writes",
			slot, len(created), len(writes))
	}
	p.updates++
	for i, ds := range created {
		p.inUse.Add(1)
		p.allocated++
		pos := p.setPos[writes[i].Set]
		if old := p.live[slot][pos]; old != nil {
			p.release(old)
		}
		p.live[slot][pos] = ds
	}
	return nil
}

func (p *Pool) release(ds DescriptorSet) {
	free := func() {
		ds.Destroy()
		p.inUse.Add(-1)
	}
	if p.retire == nil {
		free()
		return
	}
	p.retire(free)
}

// Stats returns current usage.
func (p *Pool) Stats() PoolStats {
	return PoolStats{
		Capacity:  p.capacity,
		InUse:     int(p.inUse.Load()),
		Allocated: p.allocated,
		Updates:   p.updates,
	}
}

// Release retires every live set and the layouts. The pool must not be
// used afterwards.
func (p *Pool) Release() {
	for slot := range p.live {
		for i, ds := range p.live[slot] {
			if ds != nil {
				p.release(ds)
				p.live[slot][i] = nil
			}
		}
	}
	layouts := p.layouts
	p.layouts = nil
	destroy := func() {
		for _, l := range layouts {
			l.Destroy()
		}
	}
	if p.retire == nil {
		destroy()
		return
	}
	p.retire(destroy)
}
