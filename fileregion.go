// Copyright 2014 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// A basic os.File backed Region.

package alloc

import (
	"os"

	"github.com/cznic/fileutil"
)

var _ Region = &FileRegion{} // Ensure FileRegion is a Region.

// FileRegion is an os.File backed Region intended for use where the managed
// heap should live outside of the process address space or survive it
// (temporary/working data sets). It implements PunchHole using the hole
// punching support of the underlying file system, where available.
type FileRegion struct {
	file *os.File
	size int64
}

// NewFileRegion returns a new FileRegion backed by f. The file size at this
// point becomes the initial region size, so a fresh heap needs an empty file.
func NewFileRegion(f *os.File) (*FileRegion, error) {
	fi, err := f.Stat()
	if err != nil {
		return nil, err
	}

	return &FileRegion{file: f, size: fi.Size()}, nil
}

// Grow implements Region.
func (r *FileRegion) Grow(n int64) (off int64, err error) {
	if n < 0 {
		return 0, &ErrINVAL{"FileRegion.Grow: size", n}
	}

	if err = r.file.Truncate(r.size + n); err != nil {
		return 0, &ErrMEM{Src: "FileRegion.Grow", Rq: n}
	}

	off = r.size
	r.size += n
	return off, nil
}

// PunchHole implements Region.
func (r *FileRegion) PunchHole(off, size int64) (err error) {
	if off < 0 {
		return &ErrINVAL{"FileRegion.PunchHole: off", off}
	}

	if size < 0 || off+size > r.size {
		return &ErrINVAL{"FileRegion.PunchHole: size", size}
	}

	// Best effort. A file system without hole punching support keeps the
	// bytes; the hole content is unspecified either way.
	fileutil.PunchHole(r.file, off, size)
	return nil
}

// ReadAt implements Region.
func (r *FileRegion) ReadAt(b []byte, off int64) (n int, err error) {
	if off < 0 {
		return 0, &ErrINVAL{"FileRegion.ReadAt: off", off}
	}

	return r.file.ReadAt(b, off)
}

// Size implements Region.
func (r *FileRegion) Size() int64 {
	return r.size
}

// WriteAt implements Region.
func (r *FileRegion) WriteAt(b []byte, off int64) (n int, err error) {
	if off < 0 || off+int64(len(b)) > r.size {
		return 0, &ErrINVAL{"FileRegion.WriteAt: off", off}
	}

	return r.file.WriteAt(b, off)
}
