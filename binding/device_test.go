package binding

import (
	"errors"
	"slices"
)

// fakeDevice records every native call.
type fakeDevice struct {
	layouts    []*fakeLayout
	updates    []fakeUpdate
	sets       []*fakeSet
	failLayout bool
	failUpdate bool
}

type fakeUpdate struct {
	slot int
	sets []uint32
}

type fakeLayout struct {
	set       uint32
	inputs    []InputDeclaration
	destroyed bool
}

func (l *fakeLayout) Destroy() { l.destroyed = true }

type fakeSet struct {
	set       uint32
	slot      int
	writes    []WriteDescriptor
	destroyed bool
}

func (s *fakeSet) Set() uint32 { return s.set }
func (s *fakeSet) Destroy()    { s.destroyed = true }

var errFakeDevice = errors.New("fake device failure")

func (d *fakeDevice) CreateSetLayout(_ string, set uint32, inputs []InputDeclaration) (SetLayout, error) {
	if d.failLayout {
		return nil, errFakeDevice
	}
	l := &fakeLayout{set: set, inputs: slices.Clone(inputs)}
	d.layouts = append(d.layouts, l)
	return l, nil
}

func (d *fakeDevice) UpdateSlot(_ string, slot int, writes []SetWrite) ([]DescriptorSet, error) {
	if d.failUpdate {
		return nil, errFakeDevice
	}
	u := fakeUpdate{slot: slot}
	out := make([]DescriptorSet, len(writes))
	for i, w := range writes {
		s := &fakeSet{set: w.Set, slot: slot}
		for _, wd := range w.Writes {
			s.writes = append(s.writes, wd.clone())
		}
		d.sets = append(d.sets, s)
		u.sets = append(u.sets, w.Set)
		out[i] = s
	}
	d.updates = append(d.updates, u)
	return out, nil
}

func (d *fakeDevice) resetCalls() { d.updates = nil }

// fakeResource returns one handle per slot, or the same handle for every
// slot when it holds a single one.
type fakeResource struct {
	kind    Kind
	handles []Handle
}

func (r *fakeResource) Kind() Kind { return r.kind }

func (r *fakeResource) Slots() int { return len(r.handles) }

func (r *fakeResource) Handle(slot int) Handle {
	if len(r.handles) == 1 {
		return r.handles[0]
	}
	return r.handles[slot]
}

var nextFakeID uint64 = 1000

func newHandle() Handle {
	nextFakeID++
	return Handle{ID: nextFakeID, Native: uintptr(nextFakeID), Size: 64}
}

func newFake(kind Kind) *fakeResource {
	return &fakeResource{kind: kind, handles: []Handle{newHandle()}}
}

func newFakeSet(kind Kind, slots int) *fakeResource {
	r := &fakeResource{kind: kind}
	for range slots {
		r.handles = append(r.handles, newHandle())
	}
	return r
}

// recreate simulates a resize: every native object is replaced.
func (r *fakeResource) recreate() {
	for i := range r.handles {
		r.handles[i] = newHandle()
	}
}
