// Package cache provides a generic LRU cache for compiled GPU artifacts.
//
//	c := cache.New[[32]byte, *shader.Module](64)
//	m, err := c.GetOrCreate(key, compile)
//
// Entries are evicted least recently used first once the cache holds more
// than its capacity. An eviction callback lets owners release native
// objects held by evicted values.
//
// Cache is safe for concurrent use and must not be copied after creation.
package cache
