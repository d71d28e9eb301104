// Copyright 2022 Intel Corporation. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package memfailure

import (
	"strings"
	"sync"
	"sync/atomic"
)

const (
	// PageShift is the base-2 logarithm of the page size.
	PageShift = 12
	// PageSize is the size of a single page frame in bytes.
	PageSize uint64 = 1 << PageShift
)

// PageFlags is the bitset of content-state attributes of a page.
type PageFlags uint64

const (
	// FlagDirty marks a page with modified, not yet written back content.
	FlagDirty PageFlags = 1 << iota
	// FlagUptodate marks page content as valid.
	FlagUptodate
	// FlagLRU marks membership on the reclaimable LRU list.
	FlagLRU
	// FlagActive marks membership on the active LRU list.
	FlagActive
	// FlagSwapCache marks membership in the swap cache.
	FlagSwapCache
	// FlagSwapBacked marks anonymous/shmem pages backed by swap.
	FlagSwapBacked
	// FlagUnevictable marks pages excluded from reclaim.
	FlagUnevictable
	// FlagMlocked marks pages pinned by mlock().
	FlagMlocked
	// FlagWriteback marks pages with writeback I/O in flight.
	FlagWriteback
	// FlagPrivate marks pages holding private (buffer) data.
	FlagPrivate
	// FlagError marks pages that hit an I/O error.
	FlagError
	// FlagSlab marks slab-allocator owned pages.
	FlagSlab
	// FlagReserved marks pages reserved for the kernel.
	FlagReserved
	// FlagCompound marks pages that are part of a huge/compound page.
	FlagCompound
	// FlagKsm marks deduplicated pages with shared identity.
	FlagKsm
	// FlagPoisoned is the sticky corruption marker. Once set it is only
	// cleared by explicit unpoisoning, never implicitly.
	FlagPoisoned
)

var flagNames = []struct {
	flag PageFlags
	name string
}{
	{FlagDirty, "dirty"},
	{FlagUptodate, "uptodate"},
	{FlagLRU, "lru"},
	{FlagActive, "active"},
	{FlagSwapCache, "swapcache"},
	{FlagSwapBacked, "swapbacked"},
	{FlagUnevictable, "unevictable"},
	{FlagMlocked, "mlocked"},
	{FlagWriteback, "writeback"},
	{FlagPrivate, "private"},
	{FlagError, "error"},
	{FlagSlab, "slab"},
	{FlagReserved, "reserved"},
	{FlagCompound, "compound"},
	{FlagKsm, "ksm"},
	{FlagPoisoned, "poisoned"},
}

// String returns the set flags as a |-separated list.
func (f PageFlags) String() string {
	names := []string{}
	for _, fn := range flagNames {
		if f&fn.flag != 0 {
			names = append(names, fn.name)
		}
	}
	if len(names) == 0 {
		return "none"
	}
	return strings.Join(names, "|")
}

// Page is the descriptor of a single physical page frame. The flag word
// and the reference and mapping counts are updated atomically because a
// failure can be reported at any time relative to other activity on the
// page. Everything else is protected by the page lock or by the lock of
// the owning backing object.
type Page struct {
	pfn   uint64
	flags uint64 // atomic PageFlags
	refs  int32  // atomic reference count
	maps  int32  // atomic count of user mappings

	mu sync.Mutex // the page lock

	wbMu   sync.Mutex
	wbCond *sync.Cond

	head *Page // compound head, non-nil only for tail pages

	// Reverse-mapping identity: at most one of anon/mapping is set.
	anon    *AnonRegion
	mapping *Mapping
	index   uint64 // offset key within the backing object
}

// NewPage returns a new page descriptor for the given frame number.
func NewPage(pfn uint64) *Page {
	p := &Page{pfn: pfn}
	p.wbCond = sync.NewCond(&p.wbMu)
	return p
}

// NewCompoundPage returns the head descriptor of a compound page of the
// given order, with all tail pages linked to the head.
func NewCompoundPage(pfn uint64, order uint) []*Page {
	count := uint64(1) << order
	pages := make([]*Page, count)
	head := NewPage(pfn)
	head.Set(FlagCompound)
	pages[0] = head
	for i := uint64(1); i < count; i++ {
		tail := NewPage(pfn + i)
		tail.Set(FlagCompound)
		tail.head = head
		pages[i] = tail
	}
	return pages
}

// Frame returns the physical frame number of the page.
func (p *Page) Frame() uint64 {
	return p.pfn
}

// Head returns the compound head for tail pages, the page itself otherwise.
func (p *Page) Head() *Page {
	if p.head != nil {
		return p.head
	}
	return p
}

// Compound tells if the page is part of a huge/compound page.
func (p *Page) Compound() bool {
	return p.Has(FlagCompound)
}

// Flags returns a snapshot of the page's attribute bits.
func (p *Page) Flags() PageFlags {
	return PageFlags(atomic.LoadUint64(&p.flags))
}

// Has tells if all given attribute bits are set.
func (p *Page) Has(f PageFlags) bool {
	return p.Flags()&f == f
}

// Set sets the given attribute bits.
func (p *Page) Set(f PageFlags) {
	for {
		old := atomic.LoadUint64(&p.flags)
		if atomic.CompareAndSwapUint64(&p.flags, old, old|uint64(f)) {
			return
		}
	}
}

// Clear clears the given attribute bits.
func (p *Page) Clear(f PageFlags) {
	for {
		old := atomic.LoadUint64(&p.flags)
		if atomic.CompareAndSwapUint64(&p.flags, old, old&^uint64(f)) {
			return
		}
	}
}

// TestSet sets the given bits, returning whether all of them were already set.
func (p *Page) TestSet(f PageFlags) bool {
	for {
		old := atomic.LoadUint64(&p.flags)
		if PageFlags(old)&f == f {
			return true
		}
		if atomic.CompareAndSwapUint64(&p.flags, old, old|uint64(f)) {
			return false
		}
	}
}

// TestClear clears the given bits, returning whether all of them were set.
func (p *Page) TestClear(f PageFlags) bool {
	for {
		old := atomic.LoadUint64(&p.flags)
		if PageFlags(old)&f != f {
			return false
		}
		if atomic.CompareAndSwapUint64(&p.flags, old, old&^uint64(f)) {
			return true
		}
	}
}

// Poisoned tells if the page carries the sticky corruption marker.
func (p *Page) Poisoned() bool {
	return p.Has(FlagPoisoned)
}

// RefCount returns the current reference count of the page.
func (p *Page) RefCount() int32 {
	return atomic.LoadInt32(&p.refs)
}

// Get takes an unconditional reference on the page.
func (p *Page) Get() {
	atomic.AddInt32(&p.refs, 1)
}

// TryGet raises the reference count unless it is zero. A zero count
// means the page is either free or in an unknown teardown state.
func (p *Page) TryGet() bool {
	for {
		old := atomic.LoadInt32(&p.refs)
		if old == 0 {
			return false
		}
		if atomic.CompareAndSwapInt32(&p.refs, old, old+1) {
			return true
		}
	}
}

// Put releases one reference and returns the remaining count.
func (p *Page) Put() int32 {
	refs := atomic.AddInt32(&p.refs, -1)
	if refs < 0 {
		log.Panic("page %#x: reference count went negative", p.pfn)
	}
	return refs
}

// MapCount returns the number of user mappings of the page.
func (p *Page) MapCount() int32 {
	return atomic.LoadInt32(&p.maps)
}

func (p *Page) mapRaised() {
	atomic.AddInt32(&p.maps, 1)
}

func (p *Page) mapDropped() {
	atomic.AddInt32(&p.maps, -1)
}

// Mapped tells if any address space currently maps the page.
func (p *Page) Mapped() bool {
	return p.MapCount() > 0
}

// Lock takes the page lock. Whoever holds it has exclusive rights to
// mutate the page's content state.
func (p *Page) Lock() {
	p.mu.Lock()
}

// Unlock releases the page lock.
func (p *Page) Unlock() {
	p.mu.Unlock()
}

// Anon tells if the page belongs to an anonymous mapping.
func (p *Page) Anon() bool {
	return p.anon != nil
}

// Mapping returns the backing object of a file-backed page, nil for
// anonymous or unbacked pages.
func (p *Page) Mapping() *Mapping {
	return p.mapping
}

// Index returns the page's offset key within its backing object.
func (p *Page) Index() uint64 {
	return p.index
}

// StartWriteback marks writeback I/O as in flight on the page.
func (p *Page) StartWriteback() {
	p.Set(FlagWriteback)
}

// EndWriteback clears the writeback marker and wakes all waiters.
func (p *Page) EndWriteback() {
	p.wbMu.Lock()
	p.Clear(FlagWriteback)
	p.wbCond.Broadcast()
	p.wbMu.Unlock()
}

// WaitWriteback blocks until no writeback is in flight. There is no
// timeout; hardware failures are rare enough that waiting is acceptable.
func (p *Page) WaitWriteback() {
	p.wbMu.Lock()
	for p.Has(FlagWriteback) {
		p.wbCond.Wait()
	}
	p.wbMu.Unlock()
}
