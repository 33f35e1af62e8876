package rivet

import (
	"fmt"
	"sort"
	"unsafe"
)

// freelist represents a list of all pages that are available for allocation.
// It also tracks pages that have been freed but are still in use by open
// transactions.
type freelist struct {
	ids     []pgid          // all free and available free page ids.
	pending map[txid][]pgid // mapping of soon-to-be free page ids by tx.
}

// newFreelist returns an empty, initialized freelist.
func newFreelist() *freelist {
	return &freelist{pending: make(map[txid][]pgid)}
}

// size returns the size of the page after serialization.
func (f *freelist) size() int {
	n := f.count()
	if n >= 0xFFFF {
		// The first element will be used to store the count. See freelist.write.
		n++
	}
	return pageHeaderSize + (int(unsafe.Sizeof(pgid(0))) * n)
}

// count returns count of pages on the freelist.
func (f *freelist) count() int {
	return f.freeCount() + f.pendingCount()
}

// freeCount returns count of free pages.
func (f *freelist) freeCount() int {
	return len(f.ids)
}

// pendingCount returns count of pending pages.
func (f *freelist) pendingCount() int {
	var count int
	for _, list := range f.pending {
		count += len(list)
	}
	return count
}

// all returns a list of all free ids and all pending ids in one sorted list.
func (f *freelist) all() []pgid {
	ids := make(pgids, 0, f.count())
	ids = append(ids, f.ids...)
	for _, list := range f.pending {
		ids = append(ids, list...)
	}
	sort.Sort(ids)
	return ids
}

// allocate returns the starting page id of a contiguous list of pages of a
// given size. A run of exactly n pages is preferred over carving n pages
// out of a longer run; among candidates the lowest-addressed run wins. If
// no contiguous run can be found then 0 is returned.
func (f *freelist) allocate(n int) pgid {
	if len(f.ids) == 0 {
		return 0
	}

	// Collect the contiguous runs in the sorted id list.
	type run struct {
		start  pgid
		length int
	}
	var runs []run
	for _, id := range f.ids {
		_assert(id > 1, "invalid page allocation: %d", id)
		if last := len(runs) - 1; last >= 0 && id == runs[last].start+pgid(runs[last].length) {
			runs[last].length++
		} else {
			runs = append(runs, run{start: id, length: 1})
		}
	}

	// Prefer the lowest-addressed run of exactly n pages, then the
	// lowest-addressed run that can hold n pages.
	var start pgid
	for _, r := range runs {
		if r.length == n {
			start = r.start
			break
		}
		if start == 0 && r.length > n {
			start = r.start
		}
	}
	if start == 0 {
		return 0
	}

	// Remove the run from the free list.
	var a = make([]pgid, 0, len(f.ids)-n)
	for _, id := range f.ids {
		if id < start || id >= start+pgid(n) {
			a = append(a, id)
		}
	}
	f.ids = a

	return start
}

// free releases a page and its overflow for a given transaction id.
// If the page is already free then a panic will occur.
func (f *freelist) free(txid txid, p *page) {
	if p.id <= 1 {
		panic(fmt.Sprintf("cannot free page 0 or 1: %d", p.id))
	}

	// Verify that page is not already free.
	minid, maxid := p.id, p.id+pgid(p.overflow)
	for _, id := range f.ids {
		if id >= minid && id <= maxid {
			panic(fmt.Sprintf("page %d already freed", id))
		}
	}
	for ptxid, list := range f.pending {
		for _, id := range list {
			if id >= minid && id <= maxid {
				panic(fmt.Sprintf("tx %d: page %d already freed in tx %d", txid, id, ptxid))
			}
		}
	}

	// Free page and all its overflow pages.
	var ids = f.pending[txid]
	for id := minid; id <= maxid; id++ {
		ids = append(ids, id)
	}
	f.pending[txid] = ids
}

// release moves all page ids for a transaction id (or older) to the freelist.
func (f *freelist) release(txid txid) {
	for tid, ids := range f.pending {
		if tid <= txid {
			f.ids = pgids(f.ids).merge(ids)
			delete(f.pending, tid)
		}
	}
}

// rollback removes the pages from a given pending tx.
func (f *freelist) rollback(txid txid) {
	delete(f.pending, txid)
}

// freed returns whether a given page is in the free list.
func (f *freelist) freed(pgid pgid) bool {
	for _, id := range f.ids {
		if id == pgid {
			return true
		}
	}
	for _, list := range f.pending {
		for _, id := range list {
			if id == pgid {
				return true
			}
		}
	}
	return false
}

// read initializes the freelist from a freelist page.
func (f *freelist) read(p *page) {
	if (p.flags & freelistPageFlag) == 0 {
		panic(fmt.Sprintf("invalid freelist page: %d, page type is %s", p.id, p.typ()))
	}

	// If the page.count is at the max uint16 value then it's considered an
	// overflow and the size of the freelist is stored as the first element.
	idx, count := 0, int(p.count)
	if count == 0xFFFF {
		idx = 1
		count = int(((*[maxAllocSize / 8]pgid)(unsafe.Pointer(&p.ptr)))[0])
	}

	// Copy the list of page ids out of the page.
	if count == 0 {
		f.ids = nil
	} else {
		ids := ((*[maxAllocSize / 8]pgid)(unsafe.Pointer(&p.ptr)))[idx : idx+count]
		f.ids = make([]pgid, len(ids))
		copy(f.ids, ids)

		// Make sure they're sorted.
		sort.Sort(pgids(f.ids))
	}
}

// write writes the page ids onto a freelist page. All free and pending ids
// are saved to disk since in the event of a program crash, all pending ids
// will become free.
func (f *freelist) write(p *page) error {
	// Combine the old free pgids and pgids waiting on an open transaction.
	ids := f.all()

	// Update the header flag.
	p.flags |= freelistPageFlag

	// The page.count can only hold up to 64k elements so if we overflow that
	// number then we handle it by putting the size in the first element.
	if len(ids) < 0xFFFF {
		p.count = uint16(len(ids))
		copy(((*[maxAllocSize / 8]pgid)(unsafe.Pointer(&p.ptr)))[:], ids)
	} else {
		p.count = 0xFFFF
		((*[maxAllocSize / 8]pgid)(unsafe.Pointer(&p.ptr)))[0] = pgid(len(ids))
		copy(((*[maxAllocSize / 8]pgid)(unsafe.Pointer(&p.ptr)))[1:], ids)
	}

	return nil
}

// reload reads the freelist from a page and filters out pending items.
func (f *freelist) reload(p *page) {
	f.read(p)

	// Build a cache of only pending pages.
	pcache := make(map[pgid]bool)
	for _, pendingIDs := range f.pending {
		for _, pendingID := range pendingIDs {
			pcache[pendingID] = true
		}
	}

	// Check each page in the freelist and build a new available freelist
	// with any pages not in the pending lists.
	var a []pgid
	for _, id := range f.ids {
		if !pcache[id] {
			a = append(a, id)
		}
	}
	f.ids = a
}
