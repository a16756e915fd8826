package cache

import (
	"strconv"
	"testing"
)

func BenchmarkCacheGet(b *testing.B) {
	c := New[string, int](1000)
	for i := range 100 {
		c.Set(strconv.Itoa(i), i)
	}
	b.ReportAllocs()
	for b.Loop() {
		c.Get("50")
	}
}

func BenchmarkCacheGetOrCreate(b *testing.B) {
	c := New[int, int](64)
	i := 0
	for b.Loop() {
		i++
		_, _ = c.GetOrCreate(i%128, func() (int, error) { return i, nil })
	}
}
