// Copyright 2014 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// A memory-only implementation of Region.

package alloc

import (
	"bytes"
	"io"

	"github.com/cznic/mathutil"
)

const (
	pgBits = 12
	pgSize = 1 << pgBits
	pgMask = pgSize - 1
)

var _ Region = &MemRegion{} // Ensure MemRegion is a Region.

type memRegionMap map[int64]*[pgSize]byte

// MemRegion is a memory backed Region. Pages are allocated lazily on first
// write; never written and hole punched pages read back as zeros and consume
// no memory. MemRegion is not automatically persistent, but it has ReadFrom
// and WriteTo methods.
type MemRegion struct {
	m    memRegionMap
	size int64

	// Limit caps the region size. Grow calls which would raise the size
	// above Limit fail with ErrMEM. Zero means no limit.
	Limit int64
}

// NewMemRegion returns a new MemRegion.
func NewMemRegion() *MemRegion {
	return &MemRegion{m: memRegionMap{}}
}

var zeroPage [pgSize]byte

// Grow implements Region.
func (r *MemRegion) Grow(n int64) (off int64, err error) {
	if n < 0 {
		return 0, &ErrINVAL{"MemRegion.Grow: size", n}
	}

	if r.Limit != 0 && r.size+n > r.Limit {
		return 0, &ErrMEM{Src: "MemRegion.Grow", Rq: n}
	}

	off = r.size
	r.size += n
	return off, nil
}

// PunchHole implements Region. Whole pages within the hole are released.
func (r *MemRegion) PunchHole(off, size int64) (err error) {
	if off < 0 {
		return &ErrINVAL{"MemRegion.PunchHole: off", off}
	}

	if size < 0 || off+size > r.size {
		return &ErrINVAL{"MemRegion.PunchHole: size", size}
	}

	first := off >> pgBits
	if off&pgMask != 0 {
		first++
	}
	off += size - 1
	last := off >> pgBits
	if (off+1)&pgMask != 0 {
		last--
	}
	if limit := r.size >> pgBits; last > limit {
		last = limit
	}
	for pg := first; pg <= last; pg++ {
		delete(r.m, pg)
	}
	return
}

// ReadAt implements Region.
func (r *MemRegion) ReadAt(b []byte, off int64) (n int, err error) {
	if off < 0 {
		return 0, &ErrINVAL{"MemRegion.ReadAt: off", off}
	}

	avail := r.size - off
	pgI := off >> pgBits
	pgO := int(off & pgMask)
	rem := len(b)
	if int64(rem) >= avail {
		rem = int(avail)
		err = io.EOF
	}
	for rem != 0 && avail > 0 {
		pg := r.m[pgI]
		if pg == nil {
			pg = &zeroPage
		}
		nc := copy(b[:mathutil.Min(rem, pgSize)], pg[pgO:])
		pgI++
		pgO = 0
		rem -= nc
		n += nc
		b = b[nc:]
	}
	return
}

// WriteAt implements Region. The written range must lie within the current
// region size; the region is grown by Grow only.
func (r *MemRegion) WriteAt(b []byte, off int64) (n int, err error) {
	if off < 0 || off+int64(len(b)) > r.size {
		return 0, &ErrINVAL{"MemRegion.WriteAt: off", off}
	}

	pgI := off >> pgBits
	pgO := int(off & pgMask)
	n = len(b)
	rem := n
	var nc int
	for rem != 0 {
		if pgO == 0 && rem >= pgSize && bytes.Equal(b[:pgSize], zeroPage[:]) {
			delete(r.m, pgI)
			nc = pgSize
		} else {
			pg := r.m[pgI]
			if pg == nil {
				pg = new([pgSize]byte)
				r.m[pgI] = pg
			}
			nc = copy((*pg)[pgO:], b)
		}
		pgI++
		pgO = 0
		rem -= nc
		b = b[nc:]
	}
	return
}

// Size implements Region.
func (r *MemRegion) Size() int64 {
	return r.size
}

// ReadFrom is a helper to populate MemRegion's content from rd. 'n' reports
// the number of bytes read from 'rd'. Any previous content and size are
// discarded.
func (r *MemRegion) ReadFrom(rd io.Reader) (n int64, err error) {
	r.m = memRegionMap{}
	r.size = 0

	var (
		b   [pgSize]byte
		rn  int
		off int64
	)

	var rerr error
	for rerr == nil {
		if rn, rerr = rd.Read(b[:]); rn != 0 {
			if _, err = r.Grow(int64(rn)); err != nil {
				return
			}

			if _, err = r.WriteAt(b[:rn], off); err != nil {
				return
			}

			off += int64(rn)
			n += int64(rn)
		}
	}
	if rerr != io.EOF {
		err = rerr
	}
	return
}

// WriteTo is a helper to copy/persist MemRegion's content to w. 'n' reports
// the number of bytes written to 'w'.
func (r *MemRegion) WriteTo(w io.Writer) (n int64, err error) {
	var (
		b      [pgSize]byte
		wn, rn int
		off    int64
		rerr   error
	)

	var werr error
	for rerr == nil {
		if rn, rerr = r.ReadAt(b[:], off); rn != 0 {
			off += int64(rn)
			if wn, werr = w.Write(b[:rn]); werr != nil {
				return n, werr
			}

			n += int64(wn)
		}
	}
	if rerr != io.EOF {
		err = rerr
	}
	return
}
