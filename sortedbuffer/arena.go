package sortedbuffer

import "github.com/pkg/errors"

// arena is a bump-allocated byte slab: pieces are appended contiguously
// and never individually freed, only reclaimed in bulk by reset. This
// mirrors original_source/src/sorted_buffer/memory_allocator.{h,cc}'s
// NaiveMemoryAllocator, and spec.md 9's "raw byte arenas... avoid
// per-record allocation" design note. Pre-allocating the slab up front
// (rather than growing it) follows the same
// avoid-GC-pressure idiom rishavpaul-system-design's disruptor ring
// buffer uses for its pre-allocated request slots.
type arena struct {
	pool      []byte
	allocated int
}

// piece is an (offset, length) descriptor into an arena's pool. Pieces,
// not payload bytes, are what get sorted — the payload never moves.
type piece struct {
	offset int
	length int
}

func newArena(size int) *arena {
	return &arena{pool: make([]byte, size)}
}

// have reports whether n more bytes can be allocated without a reset.
func (a *arena) have(n int) bool {
	return a.allocated+n <= len(a.pool)
}

// allocate copies data into the arena and returns its piece descriptor.
// The caller must have checked have(len(data)) first.
func (a *arena) allocate(data []byte) piece {
	p := piece{offset: a.allocated, length: len(data)}
	copy(a.pool[p.offset:], data)
	a.allocated += len(data)
	return p
}

func (a *arena) bytes(p piece) []byte {
	return a.pool[p.offset : p.offset+p.length]
}

func (a *arena) reset() {
	a.allocated = 0
}

// errArenaExhausted signals that even a freshly-reset arena cannot hold
// the incoming pair — the pair itself exceeds the memory budget B.
var errArenaExhausted = errors.New("sortedbuffer: pair exceeds memory budget")
