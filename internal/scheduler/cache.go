package scheduler

import (
	"slices"

	"github.com/me/threadpool/pkg/artifact"
)

// moduleCache maps module hashes to compiled modules. Entries are only
// ever added.
type moduleCache struct {
	modules map[artifact.Hash]*artifact.Module
}

func newModuleCache() *moduleCache {
	return &moduleCache{modules: make(map[artifact.Hash]*artifact.Module)}
}

// insert stores mod under hash. It reports whether hash was new.
func (c *moduleCache) insert(hash artifact.Hash, mod *artifact.Module) bool {
	_, exists := c.modules[hash]
	c.modules[hash] = mod
	return !exists
}

func (c *moduleCache) get(hash artifact.Hash) (*artifact.Module, bool) {
	mod, ok := c.modules[hash]
	return mod, ok
}

func (c *moduleCache) len() int { return len(c.modules) }

// hashes returns every cached hash in ascending order.
func (c *moduleCache) hashes() []artifact.Hash {
	hashes := make([]artifact.Hash, 0, len(c.modules))
	for h := range c.modules {
		hashes = append(hashes, h)
	}
	slices.SortFunc(hashes, artifact.Hash.Compare)
	return hashes
}

// each calls fn for every entry in hash order, stopping at the first error.
func (c *moduleCache) each(fn func(hash artifact.Hash, mod *artifact.Module) error) error {
	for _, h := range c.hashes() {
		if err := fn(h, c.modules[h]); err != nil {
			return err
		}
	}
	return nil
}
