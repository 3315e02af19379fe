package mask

import (
	"errors"
	"sort"

	"layer-monitor/internal/toolpath"
)

// ErrCacheBuilt is returned when Build is called on a populated cache.
var ErrCacheBuilt = errors.New("mask cache already built")

// Cache holds the mask of every printed layer of one job. It is populated
// once by Build and only read afterwards, so concurrent Get calls are safe.
type Cache struct {
	builder   *Builder
	thickness float64
	masks     map[int]*LayerMask
	built     bool
}

// NewCache creates an empty cache that strokes paths thicknessMM wide.
func NewCache(b *Builder, thicknessMM float64) *Cache {
	return &Cache{
		builder:   b,
		thickness: thicknessMM,
		masks:     make(map[int]*LayerMask),
	}
}

// Build generates a mask for every layer of tp whose reconstructed path has
// at least one point. Layers without coordinates are left out.
func (c *Cache) Build(tp *toolpath.Toolpath) error {
	if c.built {
		return ErrCacheBuilt
	}
	for _, layer := range tp.Layers() {
		path := ReconstructPath(tp.Layer(layer))
		if len(path) == 0 {
			continue
		}
		c.masks[layer] = c.builder.BuildPath(layer, path, c.thickness)
	}
	c.built = true
	return nil
}

// Get returns the mask of a layer.
func (c *Cache) Get(layer int) (*LayerMask, bool) {
	m, ok := c.masks[layer]
	return m, ok
}

// Layers returns the cached layer numbers in ascending order.
func (c *Cache) Layers() []int {
	out := make([]int, 0, len(c.masks))
	for l := range c.masks {
		out = append(out, l)
	}
	sort.Ints(out)
	return out
}

// Len returns the number of cached masks.
func (c *Cache) Len() int {
	return len(c.masks)
}

// Close releases every mask. The cache must not be used afterwards.
func (c *Cache) Close() error {
	var errs []error
	for _, m := range c.masks {
		if err := m.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
