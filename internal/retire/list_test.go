package retire

import (
	"slices"
	"testing"
)

func TestCollectRespectsFrame(t *testing.T) {
	var l List
	var freed []string
	l.Retire(1, func() { freed = append(freed, "a") })
	l.Retire(3, func() { freed = append(freed, "b") })
	l.Retire(2, func() { freed = append(freed, "c") })

	tests := []struct {
		completed uint64
		wantRan   int
		wantFreed []string
		wantLeft  int
	}{
		{0, 0, nil, 3},
		{2, 2, []string{"a", "c"}, 1},
		{2, 0, []string{"a", "c"}, 1},
		{5, 1, []string{"a", "c", "b"}, 0},
	}
	for _, tt := range tests {
		if n := l.Collect(tt.completed); n != tt.wantRan {
			t.Errorf("Collect(%d) = %d, want %d", tt.completed, n, tt.wantRan)
		}
		if !slices.Equal(freed, tt.wantFreed) {
			t.Errorf("after Collect(%d) freed = %v, want %v", tt.completed, freed, tt.wantFreed)
		}
		if l.Len() != tt.wantLeft {
			t.Errorf("after Collect(%d) Len() = %d, want %d", tt.completed, l.Len(), tt.wantLeft)
		}
	}
}

func TestRetireNil(t *testing.T) {
	var l List
	l.Retire(0, nil)
	if l.Len() != 0 {
		t.Errorf("Len() = %d, want 0", l.Len())
	}
}

func TestFreeMayRetire(t *testing.T) {
	var l List
	var freed []string
	l.Retire(1, func() {
		freed = append(freed, "outer")
		l.Retire(1, func() { freed = append(freed, "inner") })
	})

	if n := l.Collect(1); n != 1 {
		t.Fatalf("first Collect = %d, want 1", n)
	}
	if n := l.Collect(1); n != 1 {
		t.Fatalf("second Collect = %d, want 1", n)
	}
	if want := []string{"outer", "inner"}; !slices.Equal(freed, want) {
		t.Errorf("freed = %v, want %v", freed, want)
	}
}

func TestDrain(t *testing.T) {
	var l List
	count := 0
	l.Retire(100, func() {
		count++
		l.Retire(200, func() { count++ })
	})
	if n := l.Drain(); n != 2 {
		t.Errorf("Drain() = %d, want 2", n)
	}
	if count != 2 || l.Len() != 0 {
		t.Errorf("count = %d, Len() = %d; want 2, 0", count, l.Len())
	}
}
