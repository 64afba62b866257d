package osal

import "encoding/binary"

// hdrSize is the width, in bytes, of a heap block header: a single packed
// 32-bit word, length in the low 31 bits and the in-use flag in the top
// bit. Every block address and every block length is a multiple of
// hdrSize.
const hdrSize = 4

// hdrInUseBit marks a header's block as allocated.
const hdrInUseBit = uint32(1) << 31

// Heap is a fixed-size arena divided into a small-block pool (for frequent,
// small, short-lived allocations such as messages) and a wilderness region
// (for everything else), plus one long-lived region carved off the front of
// the small-block pool for allocations made before Kick.
//
// The allocator never moves a live block: osal_mem_alloc style first-fit
// search with single-step lazy coalescing of adjacent free blocks, and an
// ff1 hint that tracks the lowest-addressed known-free header to bound the
// cost of repeated small allocations.
type Heap struct {
	arena []byte

	smallBlockSize  int
	smallBlockCount int
	longLivedSize   int
	minBlockSize    int

	smallBlockBucket int // bytes: smallBlockSize*smallBlockCount + longLivedSize
	dividerOffset    int // guard header, permanently in-use, between pool and wilderness
	wildernessOffset int
	lastOffset       int // end-of-heap sentinel header (val == 0)

	ff1    int  // offset of the lowest known-free header within the small-block region
	kicked bool // true once Kick has run; gates size-based routing
}

// heapConfig collects the parameters New derives a Heap from.
type heapConfig struct {
	size            int
	smallBlockSize  int
	smallBlockCount int
	longLivedSize   int
	minBlockSize    int
}

func roundToHdr(x int) int {
	if r := x % hdrSize; r != 0 {
		x += hdrSize - r
	}
	return x
}

// newHeap lays out a Heap's arena and initializes its three headers: the
// small-block bucket (free, spanning the pool and the long-lived region),
// the divider (permanently in-use, so the pool never coalesces into the
// wilderness), and the wilderness (free).
func newHeap(cfg heapConfig) *Heap {
	h := &Heap{
		smallBlockSize:  roundToHdr(cfg.smallBlockSize),
		smallBlockCount: cfg.smallBlockCount,
		longLivedSize:   roundToHdr(cfg.longLivedSize),
		minBlockSize:    roundToHdr(cfg.minBlockSize),
	}
	if h.minBlockSize < hdrSize*2 {
		h.minBlockSize = hdrSize * 2
	}

	h.smallBlockBucket = h.smallBlockSize*h.smallBlockCount + h.longLivedSize
	h.dividerOffset = h.smallBlockBucket
	h.wildernessOffset = h.dividerOffset + hdrSize

	size := roundToHdr(cfg.size)
	h.arena = make([]byte, size)
	h.lastOffset = size - hdrSize

	wildernessLen := h.lastOffset - h.wildernessOffset
	if wildernessLen < hdrSize {
		panic(&InvariantViolation{Where: "heap.New", Cause: errInvariant("heap size too small for configured small-block bucket")})
	}

	h.setHeader(0, makeHeader(h.smallBlockBucket, false))
	h.setHeader(h.dividerOffset, makeHeader(hdrSize, true))
	h.setHeader(h.wildernessOffset, makeHeader(wildernessLen, false))
	h.setHeader(h.lastOffset, 0)

	h.ff1 = 0
	return h
}

func makeHeader(length int, inUse bool) uint32 {
	v := uint32(length)
	if inUse {
		v |= hdrInUseBit
	}
	return v
}

func headerLen(v uint32) int    { return int(v &^ hdrInUseBit) }
func headerInUse(v uint32) bool { return v&hdrInUseBit != 0 }

func (h *Heap) header(offset int) uint32 {
	if offset < 0 || offset+hdrSize > len(h.arena) {
		panicInvariant(nil, "heap.header", errInvariant("header offset out of range"))
	}
	return binary.LittleEndian.Uint32(h.arena[offset : offset+4])
}

func (h *Heap) setHeader(offset int, v uint32) {
	binary.LittleEndian.PutUint32(h.arena[offset:offset+4], v)
}

// Kick freezes the allocations made so far (init-time messages and timers;
// task control blocks are not held in the heap) by probing the arena for
// the first free header past them and adopting it as ff1, then switches
// the allocator into size-based routing: allocations at or under the
// small-block size continue to use ff1, larger ones go straight to the
// wilderness.
func (h *Heap) Kick() {
	ptr, ok := h.allocate(1)
	if !ok {
		panicInvariant(nil, "Heap.Kick", errInvariant("allocation failed during kick"))
	}
	h.ff1 = ptr - hdrSize
	h.free(ptr)
	h.kicked = true
}

// Kicked reports whether Kick has run.
func (h *Heap) Kicked() bool { return h.kicked }

// allocate performs the first-fit search with lazy coalescing and returns
// the offset of the block's body (past its header), or ok=false if no
// block was large enough.
func (h *Heap) allocate(size int) (int, bool) {
	size = roundToHdr(size + hdrSize)

	var hdr int
	if !h.kicked || size <= h.smallBlockSize {
		hdr = h.ff1
	} else {
		hdr = h.wildernessOffset
	}

	prev := -1
	coal := false
	for {
		val := h.header(hdr)
		if headerInUse(val) {
			coal = false
		} else if coal {
			merged := headerLen(h.header(prev)) + headerLen(val)
			h.setHeader(prev, makeHeader(merged, false))
			if merged >= size {
				hdr = prev
				break
			}
		} else {
			if headerLen(val) >= size {
				break
			}
			coal = true
			prev = hdr
		}
		hdr += headerLen(val)
		if h.header(hdr) == 0 {
			return 0, false
		}
	}

	blockLen := headerLen(h.header(hdr))
	if remaining := blockLen - size; remaining >= h.minBlockSize {
		h.setHeader(hdr+size, makeHeader(remaining, false))
		h.setHeader(hdr, makeHeader(size, true))
	} else {
		h.setHeader(hdr, makeHeader(blockLen, true))
	}

	if h.kicked && h.ff1 == hdr {
		h.ff1 = hdr + headerLen(h.header(hdr))
	}

	return hdr + hdrSize, true
}

// free releases a block previously returned by allocate. It does not
// coalesce eagerly; coalescing happens lazily, during the next allocate
// that sweeps past the freed block.
func (h *Heap) free(ptr int) {
	hdr := ptr - hdrSize
	if hdr < 0 || hdr >= len(h.arena) {
		panicInvariant(nil, "Heap.free", errInvariant("pointer out of heap bounds"))
	}
	val := h.header(hdr)
	if !headerInUse(val) {
		panicInvariant(nil, "Heap.free", errInvariant("double free or invalid pointer"))
	}
	h.setHeader(hdr, makeHeader(headerLen(val), false))
	if h.ff1 > hdr {
		h.ff1 = hdr
	}
}

// Bytes returns the byte slice backing the block at ptr, of the given
// length. It aliases the heap arena; callers must not retain it past a
// Free of the same block.
func (h *Heap) Bytes(ptr, length int) []byte {
	return h.arena[ptr : ptr+length]
}

// Used returns the number of bytes currently allocated across both the
// small-block pool and the wilderness, not counting headers.
func (h *Heap) Used() int {
	used := 0
	offset := 0
	for {
		val := h.header(offset)
		if val == 0 {
			return used
		}
		if headerInUse(val) && offset != h.dividerOffset {
			used += headerLen(val) - hdrSize
		}
		offset += headerLen(val)
	}
}

// Size returns the total arena size in bytes.
func (h *Heap) Size() int { return len(h.arena) }
