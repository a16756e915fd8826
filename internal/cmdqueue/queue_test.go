package cmdqueue

import (
	"slices"
	"testing"
)

func TestQueueExecuteOrder(t *testing.T) {
	var q Queue
	var got []int
	for i := range 5 {
		q.Push(func() { got = append(got, i) })
	}
	if q.Len() != 5 {
		t.Fatalf("Len() = %d, want 5", q.Len())
	}

	if n := q.Execute(); n != 5 {
		t.Errorf("Execute() = %d, want 5", n)
	}
	if want := []int{0, 1, 2, 3, 4}; !slices.Equal(got, want) {
		t.Errorf("execution order = %v, want %v", got, want)
	}
	if q.Len() != 0 {
		t.Errorf("Len() after Execute = %d, want 0", q.Len())
	}
}

func TestQueueExecuteOnce(t *testing.T) {
	var q Queue
	calls := 0
	q.Push(func() { calls++ })
	q.Execute()
	q.Execute()
	if calls != 1 {
		t.Errorf("command ran %d times, want 1", calls)
	}
}

func TestQueuePushNil(t *testing.T) {
	var q Queue
	q.Push(nil)
	if q.Len() != 0 {
		t.Errorf("Len() = %d after pushing nil, want 0", q.Len())
	}
}

func TestQueueReset(t *testing.T) {
	var q Queue
	ran := false
	q.Push(func() { ran = true })
	q.Reset()
	q.Execute()
	if ran {
		t.Error("command ran after Reset")
	}
}

func TestQueueNestedPush(t *testing.T) {
	var q Queue
	var got []string
	q.Push(func() {
		got = append(got, "outer")
		q.Push(func() { got = append(got, "inner") })
	})
	q.Execute()
	if want := []string{"outer", "inner"}; !slices.Equal(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestDoubleBuffersAreDisjoint(t *testing.T) {
	d := NewDouble()
	var got []string

	d.Submit(func() { got = append(got, "a") })
	if d.Ready() != 0 {
		t.Fatalf("Ready() = %d before swap, want 0", d.Ready())
	}

	// Nothing to execute until the roles are swapped.
	if n := d.Execute(); n != 0 {
		t.Fatalf("Execute() before swap = %d, want 0", n)
	}

	d.SwapQueues()
	if d.Pending() != 0 || d.Ready() != 1 {
		t.Fatalf("after swap Pending=%d Ready=%d, want 0/1", d.Pending(), d.Ready())
	}

	// Submissions after the swap land in the other buffer.
	d.Submit(func() { got = append(got, "b") })
	d.Execute()
	if want := []string{"a"}; !slices.Equal(got, want) {
		t.Fatalf("got %v, want %v", got, want)
	}

	d.SwapQueues()
	d.Execute()
	if want := []string{"a", "b"}; !slices.Equal(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

// Frame A submits 5 commands and frame B submits 3; execution is [5][3].
func TestDoubleFramesNeverInterleave(t *testing.T) {
	d := NewDouble()
	var got []string

	for range 5 {
		d.Submit(func() { got = append(got, "A") })
	}
	d.SwapQueues()

	// Frame B is recorded while frame A is waiting to execute.
	for range 3 {
		d.Submit(func() { got = append(got, "B") })
	}
	d.Execute()
	d.SwapQueues()
	d.Execute()

	want := []string{"A", "A", "A", "A", "A", "B", "B", "B"}
	if !slices.Equal(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestDoubleReset(t *testing.T) {
	d := NewDouble()
	d.Submit(func() {})
	d.SwapQueues()
	d.Submit(func() {})
	d.Reset()
	if d.Pending() != 0 || d.Ready() != 0 {
		t.Errorf("after Reset Pending=%d Ready=%d, want 0/0", d.Pending(), d.Ready())
	}
}

func BenchmarkDoubleSubmitExecute(b *testing.B) {
	d := NewDouble()
	n := 0
	cmd := func() { n++ }
	b.ReportAllocs()
	for b.Loop() {
		for range 32 {
			d.Submit(cmd)
		}
		d.SwapQueues()
		d.Execute()
	}
}
