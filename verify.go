// Copyright 2014 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Structural verification of the managed region.

package alloc

// Stats records statistics about an Allocator's region. It can be optionally
// filled by Allocator.Verify, if successful.
type Stats struct {
	TotalBytes  int64 // region size
	AllocBytes  int64 // bytes in allocated blocks, including their overhead
	AllocBlocks int64 // number of allocated blocks
	FreeBytes   int64 // bytes in free blocks
	FreeBlocks  int64 // number of free blocks
}

var nolog = func(error) bool { return false }

// Verify attempts to find any structural errors in the managed region wrt
// the organization of it as defined by Allocator. Any problems found are
// reported to 'log' except non verify related errors like region read fails.
// If 'log' returns false or the error doesn't allow to (reliably) continue,
// the verification process is stopped and an error is returned from the
// Verify function. Passing a nil log works like providing a log function
// always returning false.
//
// The region is scanned twice: once sequentially to determine block
// boundaries and check boundary tags, and once along the free lists to check
// the index. Statistics are returned via 'stats' if non nil. The statistics
// are valid only if Verify succeeded, ie. it didn't report anything to log
// and it returned a nil error.
func (a *Allocator) Verify(log func(error) bool, stats *Stats) (err error) {
	if log == nil {
		log = nolog
	}

	var firstErr error
	report := func(e error) bool {
		if firstErr == nil {
			firstErr = e
		}
		return log(e)
	}

	sz := a.r.Size()
	st := Stats{TotalBytes: sz}
	if sz < minPayload+wSize {
		err = &ErrILSEQ{Type: ErrHeapSize, Arg: sz}
		report(err)
		return err
	}

	// Region prefix: alignment padding, prologue header and footer.
	for i, e := range []uint32{0, dSize | allocBit, dSize | allocBit} {
		v, err := a.getw(int64(i) * wSize)
		if err != nil {
			return err
		}

		if v != e {
			err = &ErrILSEQ{Type: ErrProloguePrefix, Off: int64(i) * wSize, Arg: int64(v)}
			if !report(err) {
				return err
			}
		}
	}

	// Phase 1 - walk the blocks, check boundary tags and adjacency.
	free := map[int64]int64{} // free block payload -> size
	var prevFreeOff int64 = -1
	p := int64(minPayload)
	for {
		if p > sz {
			err = &ErrILSEQ{Type: ErrHeapSize, Off: p, Arg: sz}
			report(err)
			return err
		}

		h, err := a.getw(p - wSize)
		if err != nil {
			return err
		}

		size := int64(h &^ flagMask)
		allocated := h&allocBit != 0
		if size == 0 { // epilogue
			if !allocated || p != sz {
				err = &ErrILSEQ{Type: ErrEpilogue, Off: p - wSize, Arg: int64(h)}
				if !report(err) {
					return err
				}
			}
			break
		}

		if p%dSize != 0 || size%dSize != 0 || p+size > sz {
			err = &ErrILSEQ{Type: ErrBadAlign, Off: p}
			report(err)
			return err
		}

		f, err := a.getw(p + size - dSize)
		if err != nil {
			return err
		}

		if f&^uint32(flagMask) != h&^uint32(flagMask) || (f^h)&allocBit != 0 {
			err = &ErrILSEQ{Type: ErrFooter, Off: p, Arg: int64(h), Arg2: int64(f)}
			if !report(err) {
				return err
			}
		}

		switch allocated {
		case true:
			st.AllocBlocks++
			st.AllocBytes += size
			prevFreeOff = -1
		case false:
			if prevFreeOff >= 0 {
				err = &ErrILSEQ{Type: ErrAdjacentFree, Off: prevFreeOff, Arg: p}
				if !report(err) {
					return err
				}
			}
			st.FreeBlocks++
			st.FreeBytes += size
			free[p] = size
			prevFreeOff = p
		}

		p += size
	}

	// Phase 2 - walk every bucket list, check membership, class, order and
	// chaining. Deleting visited blocks from the walk set also bounds the
	// walk: a cycle revisits a deleted block and is reported.
	for k, head := range a.lists {
		var prevNode, prevSize int64
		for n := head; n != 0; {
			size, ok := free[n]
			if !ok {
				err = &ErrILSEQ{Type: ErrExpFree, Off: n}
				report(err)
				return err
			}

			delete(free, n)
			if bucketFor(size) != k {
				err = &ErrILSEQ{Type: ErrBucketIndex, Off: n, Arg: size, Arg2: int64(k)}
				if !report(err) {
					return err
				}
			}

			if size < prevSize {
				err = &ErrILSEQ{Type: ErrListOrder, Off: n, Arg: prevSize}
				if !report(err) {
					return err
				}
			}

			su, err := a.succ(n)
			if err != nil {
				return err
			}

			if su != prevNode {
				err = &ErrILSEQ{Type: ErrFreeChaining, Off: n}
				if !report(err) {
					return err
				}
			}

			prevNode, prevSize = n, size
			if n, err = a.pred(n); err != nil {
				return err
			}
		}
	}

	// Phase 3 - anything left in the walk set is a free block linked into
	// no bucket.
	for off := range free {
		err = &ErrILSEQ{Type: ErrLostFreeBlock, Off: off}
		if !report(err) {
			return err
		}
	}

	if firstErr == nil && stats != nil {
		*stats = st
	}
	return firstErr
}
