package shader

import (
	"crypto/sha256"

	"github.com/gogpu/rendercore/internal/cache"
)

// DefaultCacheSize is the capacity of a Cache created with size 0.
const DefaultCacheSize = 64

// Cache memoizes Load by source text. Identical sources share one Module,
// so callers must treat cached modules as read-only.
type Cache struct {
	modules *cache.Cache[[sha256.Size]byte, *Module]
}

// NewCache returns a cache holding at most size modules.
func NewCache(size int) *Cache {
	if size <= 0 {
		size = DefaultCacheSize
	}
	return &Cache{modules: cache.New[[sha256.Size]byte, *Module](size)}
}

// Load returns the cached module for source, compiling it on first use.
// The label of the first load is kept. Failed loads are not cached.
func (c *Cache) Load(label, source string) (*Module, error) {
	key := sha256.Sum256([]byte(source))
	return c.modules.GetOrCreate(key, func() (*Module, error) {
		return Load(label, source)
	})
}

// Len returns the number of cached modules.
func (c *Cache) Len() int { return c.modules.Len() }

// Hits returns how many loads were served from the cache.
func (c *Cache) Hits() uint64 { return c.modules.Stats().Hits }
