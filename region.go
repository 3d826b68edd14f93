// Copyright 2014 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// An abstraction of the managed, growable memory region.

package alloc

// A Region is a []byte-like model of a contiguous memory range with a fixed
// low boundary and a growable high boundary. It is the only thing an
// Allocator needs from its host. ReadAt and WriteAt are always "addressed" by
// an absolute offset and are assumed to perform atomically. A Region is not
// safe for concurrent access; it's designed for consumption by a single
// Allocator which must be used from one goroutine only or via a mutex.
type Region interface {
	// ReadAt reads len(b) bytes starting at absolute offset off. Fewer
	// bytes are read only when an error is returned. As os.File.ReadAt.
	ReadAt(b []byte, off int64) (n int, err error)

	// WriteAt writes len(b) bytes starting at absolute offset off. The
	// range [off, off+len(b)) must lie within the current region size.
	WriteAt(b []byte, off int64) (n int, err error)

	// Size returns the current size of the region. The region size never
	// decreases.
	Size() int64

	// Grow extends the region by n bytes and returns the offset of the
	// first newly added byte, ie. the region size before growing. The
	// added bytes read back as zeros until written. Grow fails when the
	// host cannot provide more memory; the region is then unchanged.
	Grow(n int64) (off int64, err error)

	// PunchHole deallocates backing space inside the region in the byte
	// range starting at off and continuing for size bytes. The region
	// size does not change. A Region is free to ignore PunchHole
	// (implement it as a nop), and no guarantees about the content of the
	// hole, when eventually read back, are required.
	PunchHole(off, size int64) error
}
