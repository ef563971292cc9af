package artifact

import (
	"fmt"
	"math"
)

const (
	// PageSize is the size of one linear memory page.
	PageSize = 64 * 1024
	// MaxPages bounds a single memory instance to 4 GiB.
	MaxPages = 65536
)

// Memory is a preallocated linear memory instance. The backing buffer is
// shared by reference: every worker that binds the same Memory sees the
// same bytes. Synchronising access is up to the programs using it.
type Memory struct {
	pages int
	buf   []byte
}

// NewMemory allocates a zeroed memory of the given number of pages.
func NewMemory(pages int) (*Memory, error) {
	if pages < 1 || pages > MaxPages {
		return nil, fmt.Errorf("memory pages must be in [1, %d], got %d", MaxPages, pages)
	}
	size := int64(pages) * PageSize
	if size > math.MaxInt {
		return nil, fmt.Errorf("memory of %d pages does not fit in the address space", pages)
	}
	return &Memory{pages: pages, buf: make([]byte, int(size))}, nil
}

// Pages returns the number of pages.
func (m *Memory) Pages() int { return m.pages }

// Len returns the size of the memory in bytes.
func (m *Memory) Len() int { return len(m.buf) }

// Bytes returns the backing buffer.
func (m *Memory) Bytes() []byte { return m.buf }
