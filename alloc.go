// Copyright 2014 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

/*

Package alloc implements a general purpose memory allocator for a contiguous,
growable memory region.

The region is an abstraction provided by a Region. Its low boundary is fixed
and its high boundary is extended, never shrunk, through the Region's Grow
method. Within the region the Allocator services variable size allocation,
deallocation and resize requests. Returned payload offsets are 8 byte aligned
and the allocated blocks are mutually non overlapping and lie entirely within
the region.

Blocks

A block is a linear, contiguous byte range of the region. Its first and last
words are the header and the footer; both pack the block size with the
allocation bit:

	         31 30 ........................ 3  2  1  0
	        +--+--+--   ...            --+--+--+--+--+
	Header: |        size of the block      |  |ra| a|
	   bp-> +--+--+--   ...            --+--+--+--+--+
	        |                                        |
	        .           payload and padding          .
	        .                                        .
	        +--+--+--   ...            --+--+--+--+--+
	Footer: |        size of the block      |     | a|
	        +--+--+--   ...            --+--+--+--+--+

Block sizes are multiples of 8, so the low three header bits are flags. Bit 0
is the allocation bit. Bit 1 is reserved for a reallocation tag inhibiting
coalescing next to recently resized blocks; the current design does not read
or write it. The footer is a redundant copy of the header (a boundary tag)
which makes the physically previous block reachable in O(1).

A free block keeps two more words right at its payload: the pred and succ
links of the doubly linked free list it is registered in. The minimum block
size is therefore 16 bytes: header, pred, succ, footer.

Region layout

The region starts with one word of alignment padding, an 8 byte prologue
block whose header and footer claim (8, allocated), and an epilogue header of
(0, allocated) which is always the last word of the region. Growing the
region overwrites the old epilogue with the new block's header and writes a
fresh epilogue after it. Prologue and epilogue are sentinels: coalescing
never has to look past the region boundaries.

Free block index

Free blocks MUST be registered in the segregated index described in flt.go.
The Allocator reuses a big enough free block, if such exists, before growing
the region. A block freed by Free or Realloc is registered and then joined
with any adjacent free blocks, the joined block replacing its parts in the
index, so no two adjacent free blocks exist after any exported method returns.

The Allocator is not safe for concurrent use. No Allocator method returns
io.EOF.

*/
package alloc

import (
	"io"

	"github.com/cznic/mathutil"
)

const (
	wSize = 4 // word and header/footer size
	dSize = 8 // double word size, the alignment of payloads and block sizes

	listLimit     = 20      // number of segregated list buckets
	initChunk     = 64      // first region extension
	chunkSize     = 4096    // minimal region extension thereafter
	reallocBuffer = 128     // slack added to resize requests
	noSplit       = 32      // do not split below this remainder
	hiSplit       = 72      // split with the free remainder first from this request size on
	punchMin      = 4096    // punch the interior of free blocks from this size on
	maxRegion     = 1 << 32 // the in-block links are single words

	minPayload = 4 * wSize // lowest valid payload offset (right after the prologue)

	allocBit = 1
	flagMask = dSize - 1
)

// if n%8 != 0 { n += 8-n%8 }
func align8(n int64) int64 { return (n + dSize - 1) &^ (dSize - 1) }

// adjust returns the full block size backing a request of size bytes: header
// and footer overhead added, rounded up to the alignment, never below the
// minimum block size.
func adjust(size int64) int64 {
	if size <= dSize {
		return 2 * dSize
	}

	return align8(size + dSize)
}

// Allocator manages the space of a Region. Blocks are identified by the
// offset of their payload; the offset 0 never refers to a block.
//
// Methods of an Allocator must not be invoked concurrently.
type Allocator struct {
	r     Region
	lists [listLimit]int64 // bucket heads of the segregated index
}

// New returns a new Allocator managing r, which must be empty. The region
// prefix (alignment padding, prologue, epilogue) and an initial free chunk
// are set up before returning.
func New(r Region) (a *Allocator, err error) {
	if r == nil {
		return nil, &ErrINVAL{"New: nil region", r}
	}

	if sz := r.Size(); sz != 0 {
		return nil, &ErrINVAL{"New: non empty region", sz}
	}

	a = &Allocator{r: r}
	if _, err = r.Grow(4 * wSize); err != nil {
		return nil, err
	}

	// Alignment padding, prologue header, prologue footer, epilogue
	// header.
	for i, v := range []uint32{0, dSize | allocBit, dSize | allocBit, allocBit} {
		if err = a.putw(int64(i)*wSize, v); err != nil {
			return nil, err
		}
	}

	if _, err = a.extend(initChunk); err != nil {
		return nil, err
	}

	return a, nil
}

// Malloc allocates size bytes and returns the offset of the block's payload,
// or an error if the region cannot be grown. The payload is 8 byte aligned
// and not initialized. Malloc(0) returns offset 0 and does not grow the
// region.
func (a *Allocator) Malloc(size int64) (off int64, err error) {
	switch {
	case size < 0:
		return 0, &ErrINVAL{"Allocator.Malloc: size", size}
	case size == 0:
		return 0, nil
	}

	asize := adjust(size)
	p, err := a.find(asize)
	if err != nil {
		return 0, err
	}

	if p == 0 { // no fit, must grow
		if p, err = a.extend(mathutil.MaxInt64(asize, chunkSize)); err != nil {
			return 0, err
		}
	}

	return a.place(p, asize)
}

// Free deallocates the block at off, which must have been returned by Malloc
// or Realloc and be still allocated.
func (a *Allocator) Free(off int64) (err error) {
	if off < minPayload || off%dSize != 0 || off >= a.r.Size() {
		return &ErrINVAL{"Allocator.Free: block offset out of limits", off}
	}

	size, allocated, err := a.binfo(off)
	if err != nil {
		return err
	}

	if !allocated {
		return &ErrPERM{"Allocator.Free: block is already free"}
	}

	if err = a.setBlock(off, size, false); err != nil {
		return err
	}

	if err = a.insert(off, size); err != nil {
		return err
	}

	_, err = a.coalesce(off)
	return err
}

// Realloc resizes the block at off to at least size bytes and returns the
// offset of the resulting block. The resize is performed in place when the
// block's own slack or a directly following free block (or the region end)
// can absorb the request; the request is padded by a constant buffer so a
// moved block can take several subsequent small growths without moving
// again. Otherwise a new block is allocated, the payload copied up to the
// smaller of the old capacity and the new size, and the old block freed.
//
// Realloc(0, size) is Malloc(size). Realloc(off, 0) frees the block at off
// and returns offset 0.
func (a *Allocator) Realloc(off, size int64) (noff int64, err error) {
	switch {
	case size < 0:
		return 0, &ErrINVAL{"Allocator.Realloc: size", size}
	case off == 0:
		return a.Malloc(size)
	case size == 0:
		return 0, a.Free(off)
	}

	if off < minPayload || off%dSize != 0 || off >= a.r.Size() {
		return 0, &ErrINVAL{"Allocator.Realloc: block offset out of limits", off}
	}

	avail, allocated, err := a.binfo(off)
	if err != nil {
		return 0, err
	}

	if !allocated {
		return 0, &ErrPERM{"Allocator.Realloc: block is free"}
	}

	newSize := adjust(size) + reallocBuffer
	if avail >= newSize { // fits in place
		return off, nil
	}

	next := off + avail
	nsize, nalloc, err := a.binfo(next)
	if err != nil {
		return 0, err
	}

	if !nalloc || nsize == 0 { // next is free or the epilogue
		combined := avail + nsize
		if combined < newSize {
			// The extension lands at the region end. It is
			// contiguous with this block only when next is the
			// region's last block or the epilogue itself.
			if off+avail+nsize != a.r.Size() {
				return a.move(off, size, avail, newSize)
			}

			if _, err = a.extend(mathutil.MaxInt64(newSize-combined, chunkSize)); err != nil {
				return 0, err
			}

			if nsize, _, err = a.binfo(next); err != nil {
				return 0, err
			}

			combined = avail + nsize
		}

		if err = a.remove(next); err != nil {
			return 0, err
		}

		// Absorb the whole neighbor, no split.
		return off, a.setBlock(off, combined, true)
	}

	return a.move(off, size, avail, newSize)
}

// move backs the moving path of Realloc: allocate, copy, free.
func (a *Allocator) move(off, rq, avail, newSize int64) (noff int64, err error) {
	if noff, err = a.Malloc(newSize - dSize); err != nil {
		return 0, err
	}

	n := mathutil.MinInt64(rq, avail-dSize)
	b := make([]byte, mathutil.MinInt64(n, 1<<15))
	for done := int64(0); done < n; {
		c := mathutil.MinInt64(n-done, int64(len(b)))
		if _, err = a.r.ReadAt(b[:c], off+done); err != nil {
			return 0, err
		}

		if _, err = a.r.WriteAt(b[:c], noff+done); err != nil {
			return 0, err
		}

		done += c
	}

	if err = a.Free(off); err != nil {
		return 0, err
	}

	return noff, nil
}

// UsableSize returns the payload capacity of the allocated block at off. The
// capacity can be larger than the size originally requested from Malloc or
// Realloc.
func (a *Allocator) UsableSize(off int64) (size int64, err error) {
	if off < minPayload || off%dSize != 0 || off >= a.r.Size() {
		return 0, &ErrINVAL{"Allocator.UsableSize: block offset out of limits", off}
	}

	size, allocated, err := a.binfo(off)
	if err != nil {
		return 0, err
	}

	if !allocated {
		return 0, &ErrPERM{"Allocator.UsableSize: block is free"}
	}

	return size - dSize, nil
}

// extend grows the region by at least size bytes, making the added space a
// free block merged with a trailing free block, if any. It returns the
// payload offset of the resulting free block.
func (a *Allocator) extend(size int64) (p int64, err error) {
	asize := align8(size)
	if a.r.Size()+asize > maxRegion {
		return 0, &ErrMEM{Src: "Allocator.extend", Rq: asize}
	}

	if p, err = a.r.Grow(asize); err != nil {
		return 0, err
	}

	// The new block's header overwrites the old epilogue; a fresh
	// epilogue goes after the new block.
	if err = a.setBlock(p, asize, false); err != nil {
		return 0, err
	}

	if err = a.putw(p+asize-wSize, allocBit); err != nil {
		return 0, err
	}

	if err = a.insert(p, asize); err != nil {
		return 0, err
	}

	return a.coalesce(p)
}

// coalesce merges the free block at p with its free physical neighbors and
// returns the offset of the merged block. The block at p must already be
// registered in the index.
func (a *Allocator) coalesce(p int64) (int64, error) {
	size, _, err := a.binfo(p)
	if err != nil {
		return 0, err
	}

	// The previous block's footer sits just above this block's header;
	// the prologue footer stops the walk at the region start.
	v, err := a.getw(p - dSize)
	if err != nil {
		return 0, err
	}

	prevFree := v&allocBit == 0
	psize := int64(v &^ flagMask)

	next := p + size
	nsize, nalloc, err := a.binfo(next)
	if err != nil {
		return 0, err
	}

	nextFree := !nalloc // the epilogue reads as allocated

	switch {
	case !prevFree && !nextFree:
		// nop
	case !prevFree && nextFree:
		if err = a.remove(p); err != nil {
			return 0, err
		}

		if err = a.remove(next); err != nil {
			return 0, err
		}

		size += nsize
		if err = a.setBlock(p, size, false); err != nil {
			return 0, err
		}

		if err = a.insert(p, size); err != nil {
			return 0, err
		}
	case prevFree && !nextFree:
		prev := p - psize
		if err = a.remove(p); err != nil {
			return 0, err
		}

		if err = a.remove(prev); err != nil {
			return 0, err
		}

		size += psize
		if err = a.setBlock(prev, size, false); err != nil {
			return 0, err
		}

		p = prev
		if err = a.insert(p, size); err != nil {
			return 0, err
		}
	default:
		prev := p - psize
		if err = a.remove(p); err != nil {
			return 0, err
		}

		if err = a.remove(prev); err != nil {
			return 0, err
		}

		if err = a.remove(next); err != nil {
			return 0, err
		}

		size += psize + nsize
		if err = a.setBlock(prev, size, false); err != nil {
			return 0, err
		}

		p = prev
		if err = a.insert(p, size); err != nil {
			return 0, err
		}
	}

	if size >= punchMin {
		// The junk interior between the list links and the footer can
		// be released to the host.
		if err = a.r.PunchHole(p+dSize, size-2*dSize); err != nil {
			return 0, err
		}
	}

	return p, nil
}

// place carves a block of asize bytes out of the free block at p and returns
// the offset of the allocated block. The remainder, if worth keeping, stays
// free and indexed: at the lower address for large requests, at the higher
// address for small ones.
func (a *Allocator) place(p, asize int64) (int64, error) {
	size, _, err := a.binfo(p)
	if err != nil {
		return 0, err
	}

	if err = a.remove(p); err != nil {
		return 0, err
	}

	remainder := size - asize
	switch {
	case remainder < noSplit:
		return p, a.setBlock(p, size, true)
	case asize >= hiSplit:
		if err = a.setBlock(p, remainder, false); err != nil {
			return 0, err
		}

		q := p + remainder
		if err = a.setBlock(q, asize, true); err != nil {
			return 0, err
		}

		return q, a.insert(p, remainder)
	}

	if err = a.setBlock(p, asize, true); err != nil {
		return 0, err
	}

	q := p + asize
	if err = a.setBlock(q, remainder, false); err != nil {
		return 0, err
	}

	return p, a.insert(q, remainder)
}

// getw reads the word at off.
func (a *Allocator) getw(off int64) (uint32, error) {
	var b [wSize]byte
	if n, err := a.r.ReadAt(b[:], off); n != wSize {
		return 0, &ErrILSEQ{Type: ErrOther, Off: off, More: err}
	}

	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3]), nil
}

// putw writes the word at off.
func (a *Allocator) putw(off int64, v uint32) error {
	b := [wSize]byte{byte(v >> 24), byte(v >> 16), byte(v >> 8), byte(v)}
	n, err := a.r.WriteAt(b[:], off)
	if n != wSize {
		if err == nil {
			err = io.ErrShortWrite
		}
		return err
	}

	return nil
}

// binfo returns the size and the allocation bit of the block at p, read from
// its header.
func (a *Allocator) binfo(p int64) (size int64, allocated bool, err error) {
	v, err := a.getw(p - wSize)
	if err != nil {
		return 0, false, err
	}

	return int64(v &^ flagMask), v&allocBit != 0, nil
}

// setBlock writes the header and the footer of the block at p.
func (a *Allocator) setBlock(p, size int64, allocated bool) (err error) {
	v := uint32(size)
	if allocated {
		v |= allocBit
	}
	if err = a.putw(p-wSize, v); err != nil {
		return err
	}

	return a.putw(p+size-dSize, v)
}
