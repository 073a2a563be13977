package core

import (
	"fmt"

	"github.com/dgraph-io/ristretto"
)

// TileCache is a process-wide, cost-bounded cache of decoded tiles,
// grounded on loop.go's in-memory LRU pattern but backed by
// dgraph-io/ristretto for its admission-policy-aware eviction (a
// decoded tile's cost is its byte size, so the cache bounds memory
// rather than entry count).
type TileCache struct {
	c *ristretto.Cache
}

// NewTileCache builds a cache with the given byte-size budget.
func NewTileCache(maxBytes int64) (*TileCache, error) {
	c, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: maxBytes / 256 * 10, // ~10x expected entry count, per ristretto's sizing guidance
		MaxCost:     maxBytes,
		BufferItems: 64,
	})
	if err != nil {
		return nil, errf(ErrOOM, err, "create tile cache")
	}
	return &TileCache{c: c}, nil
}

func tileCacheKeyString(fragURI, attr string, pos int) string {
	return fmt.Sprintf("%s/%s/%d", fragURI, attr, pos)
}

// Get returns the cached decoded tile bytes, if present.
func (tc *TileCache) Get(fragURI, attr string, pos int) ([]byte, bool) {
	v, ok := tc.c.Get(tileCacheKeyString(fragURI, attr, pos))
	if !ok {
		return nil, false
	}
	return v.([]byte), true
}

// Set inserts a decoded tile, costed by its byte length.
func (tc *TileCache) Set(fragURI, attr string, pos int, data []byte) {
	tc.c.Set(tileCacheKeyString(fragURI, attr, pos), data, int64(len(data)))
}

// Close releases the cache's background goroutines.
func (tc *TileCache) Close() { tc.c.Close() }
