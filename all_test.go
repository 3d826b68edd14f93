// Copyright 2014 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package alloc

import (
	"bytes"
	"encoding/hex"
	"flag"
	"fmt"
	"strings"
	"testing"
)

var (
	testN        = flag.Int("N", 128, "block count for the random workload tests")
	rndSizeLimit = flag.Uint("lim", 2048, "size limit of blocks in the random workload tests")
)

const testRegName = "_test.region"

func init() {
	if *testN <= 0 {
		*testN = 1
	}
}

// s2b decodes a whitespace separated hex dump into bytes.
func s2b(s string) []byte {
	s = strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\t', '\n', '\r':
			return -1
		}
		return r
	}, s)
	b, err := hex.DecodeString(s)
	if err != nil {
		panic(err)
	}

	return b
}

func regBytes(r *MemRegion) []byte {
	var b bytes.Buffer
	if _, err := r.WriteTo(&b); err != nil {
		panic(err)
	}

	return b.Bytes()
}

func regionFromImage(t *testing.T, s string) *MemRegion {
	r := NewMemRegion()
	b := s2b(s)
	if n, err := r.ReadFrom(bytes.NewReader(b)); n != int64(len(b)) || err != nil {
		t.Fatal(n, err)
	}

	return r
}

// Paranoid Allocator, automatically verifies after every mutation.
type pAllocator struct {
	*Allocator
	errors []error
	logger func(error) bool
	stats  Stats
}

func newPAllocator(r Region) (*pAllocator, error) {
	a, err := New(r)
	if err != nil {
		return nil, err
	}

	p := &pAllocator{Allocator: a}
	p.logger = func(err error) bool {
		p.errors = append(p.errors, err)
		return len(p.errors) < 100
	}
	return p, nil
}

func (a *pAllocator) err() error {
	var n int
	if n = len(a.errors); n == 0 {
		return nil
	}

	s := make([]string, n)
	for i, e := range a.errors {
		s[i] = e.Error()
	}
	return fmt.Errorf("\n%s", strings.Join(s, "\n"))
}

func (a *pAllocator) Malloc(size int64) (off int64, err error) {
	if off, err = a.Allocator.Malloc(size); err != nil {
		return
	}

	if err = a.Allocator.Verify(a.logger, &a.stats); err != nil {
		err = fmt.Errorf("'%s': %v", err, a.err())
		return
	}

	err = a.err()
	return
}

func (a *pAllocator) Free(off int64) (err error) {
	if err = a.Allocator.Free(off); err != nil {
		return
	}

	if err = a.Allocator.Verify(a.logger, &a.stats); err != nil {
		err = fmt.Errorf("'%s': %v", err, a.err())
		return
	}

	err = a.err()
	return
}

func (a *pAllocator) Realloc(off, size int64) (noff int64, err error) {
	if noff, err = a.Allocator.Realloc(off, size); err != nil {
		return
	}

	if err = a.Allocator.Verify(a.logger, &a.stats); err != nil {
		err = fmt.Errorf("'%s': %v", err, a.err())
		return
	}

	err = a.err()
	return
}
