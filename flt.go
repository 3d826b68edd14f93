// Copyright 2014 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// The segregated free block index.
//
// Free blocks are kept in listLimit doubly linked lists. Bucket k holds free
// blocks with sizes in [2^k, 2^(k+1)); the last bucket absorbs the overflow.
// The links are stored in the first two words of the free block payload: the
// pred link at offset 0 points toward larger blocks, the succ link at offset
// wSize toward smaller ones. Walking a bucket from its head via pred thus
// visits blocks in ascending size order and insert keeps it that way. The
// sorted order is a best-fit heuristic only; no other component relies on it.

package alloc

// bucketFor returns the index of the bucket holding free blocks of the given
// size.
func bucketFor(size int64) (k int) {
	for k < listLimit-1 && size > 1 {
		size >>= 1
		k++
	}
	return k
}

func (a *Allocator) pred(p int64) (int64, error) {
	v, err := a.getw(p)
	return int64(v), err
}

func (a *Allocator) succ(p int64) (int64, error) {
	v, err := a.getw(p + wSize)
	return int64(v), err
}

func (a *Allocator) setPred(p, q int64) error { return a.putw(p, uint32(q)) }

func (a *Allocator) setSucc(p, q int64) error { return a.putw(p+wSize, uint32(q)) }

// insert links the free block at p, of the given size, into its bucket,
// preserving the ascending size order of the list.
func (a *Allocator) insert(p, size int64) (err error) {
	k := bucketFor(size)

	// Walk toward larger blocks while they are smaller than size.
	var at int64 // last walked block, 0 if none
	cur := a.lists[k]
	for cur != 0 {
		var csize int64
		if csize, _, err = a.binfo(cur); err != nil {
			return err
		}

		if size <= csize {
			break
		}

		at = cur
		if cur, err = a.pred(cur); err != nil {
			return err
		}
	}

	switch {
	case cur != 0 && at != 0:
		// between at and cur
		if err = a.setPred(p, cur); err != nil {
			return err
		}

		if err = a.setSucc(cur, p); err != nil {
			return err
		}

		if err = a.setSucc(p, at); err != nil {
			return err
		}

		return a.setPred(at, p)
	case cur != 0 && at == 0:
		// new head, list continues at cur
		if err = a.setPred(p, cur); err != nil {
			return err
		}

		if err = a.setSucc(cur, p); err != nil {
			return err
		}

		if err = a.setSucc(p, 0); err != nil {
			return err
		}

		a.lists[k] = p
		return nil
	case cur == 0 && at != 0:
		// new largest block, at becomes its succ
		if err = a.setPred(p, 0); err != nil {
			return err
		}

		if err = a.setSucc(p, at); err != nil {
			return err
		}

		return a.setPred(at, p)
	}

	// empty bucket
	if err = a.setPred(p, 0); err != nil {
		return err
	}

	if err = a.setSucc(p, 0); err != nil {
		return err
	}

	a.lists[k] = p
	return nil
}

// remove unlinks the free block at p from its bucket. The bucket is derived
// from the block's current size.
func (a *Allocator) remove(p int64) (err error) {
	size, _, err := a.binfo(p)
	if err != nil {
		return err
	}

	k := bucketFor(size)
	pr, err := a.pred(p)
	if err != nil {
		return err
	}

	su, err := a.succ(p)
	if err != nil {
		return err
	}

	switch {
	case pr != 0 && su != 0:
		if err = a.setSucc(pr, su); err != nil {
			return err
		}

		return a.setPred(su, pr)
	case pr != 0 && su == 0:
		// p was the bucket head
		if err = a.setSucc(pr, 0); err != nil {
			return err
		}

		a.lists[k] = pr
		return nil
	case pr == 0 && su != 0:
		// p was the largest block
		return a.setPred(su, 0)
	}

	a.lists[k] = 0
	return nil
}

// find returns a free block of size >= asize, or 0 if the index holds none.
// The search starts at asize's own bucket and continues toward larger
// buckets; within a bucket the walk via pred visits blocks in ascending size
// order, so the first fit is also the bucket's best fit.
func (a *Allocator) find(asize int64) (p int64, err error) {
	for k := bucketFor(asize); k < listLimit; k++ {
		p = a.lists[k]
		for p != 0 {
			var size int64
			if size, _, err = a.binfo(p); err != nil {
				return 0, err
			}

			if size >= asize {
				return p, nil
			}

			if p, err = a.pred(p); err != nil {
				return 0, err
			}
		}
	}
	return 0, nil
}
