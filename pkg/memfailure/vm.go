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
	"sync"
)

// KillPolicy is the per-process early-kill preference. Processes that
// opt out are only killed synchronously when they touch the corrupted
// memory, never notified proactively.
type KillPolicy int

const (
	// PolicyDefault defers to the process-wide default.
	PolicyDefault KillPolicy = iota
	// PolicyEarly opts in to proactive notification.
	PolicyEarly
	// PolicyLate opts out of proactive notification.
	PolicyLate
)

// Process is one entry in the process table.
type Process struct {
	Pid    int
	Comm   string
	Space  *AddrSpace
	Policy KillPolicy
}

// NewProcess returns a process-table entry for the given address space.
func NewProcess(pid int, comm string, space *AddrSpace) *Process {
	return &Process{Pid: pid, Comm: comm, Space: space}
}

// earlyKill decides if the process gets proactive kill notification.
// Kernel threads (no address space) never do.
func (t *Process) earlyKill(processWideDefault bool) bool {
	if t.Space == nil {
		return false
	}
	switch t.Policy {
	case PolicyEarly:
		return true
	case PolicyLate:
		return false
	}
	return processWideDefault
}

// pte is one page-table entry of an address space.
type pte struct {
	page  *Page
	dirty bool
}

// AddrSpace is the virtual address space shared by the threads of a
// process. Its lock protects the page-table entries.
type AddrSpace struct {
	mu   sync.Mutex
	ptes map[uint64]*pte
}

// NewAddrSpace returns an empty address space.
func NewAddrSpace() *AddrSpace {
	return &AddrSpace{ptes: make(map[uint64]*pte)}
}

// VMA is one mapped region of an address space, covering a range of
// offsets of a backing object or anonymous region.
type VMA struct {
	space *AddrSpace
	start uint64 // first virtual address of the region
	pages uint64 // region size in pages
	pgoff uint64 // backing-object page offset of start
}

// Space returns the address space the region belongs to.
func (v *VMA) Space() *AddrSpace {
	return v.space
}

// addressOf returns the virtual address of the page inside the region.
// The second return value is false if the region does not cover the
// page's offset, e.g. after an mremap moved the region away.
func (v *VMA) addressOf(p *Page) (uint64, bool) {
	if p.index < v.pgoff || p.index >= v.pgoff+v.pages {
		return 0, false
	}
	return v.start + (p.index-v.pgoff)*PageSize, true
}

// covers tells if the region covers the given backing-object offset.
func (v *VMA) covers(pgoff uint64) bool {
	return pgoff >= v.pgoff && pgoff < v.pgoff+v.pages
}

// Install maps the page into the region's address space, raising the
// page's mapping count. Every page-table entry holds one reference on
// its page.
func (v *VMA) Install(p *Page, dirty bool) error {
	addr, ok := v.addressOf(p)
	if !ok {
		return memfailureError("page offset %#x outside region", p.index)
	}
	v.space.mu.Lock()
	defer v.space.mu.Unlock()
	if old, mapped := v.space.ptes[addr]; mapped {
		if old.page == p {
			old.dirty = old.dirty || dirty
			return nil
		}
		old.page.mapDropped()
		old.page.Put()
	}
	v.space.ptes[addr] = &pte{page: p, dirty: dirty}
	p.mapRaised()
	p.Get()
	return nil
}

// Remove unmaps the page from the region's address space, dropping the
// entry's reference.
func (v *VMA) Remove(p *Page) bool {
	addr, ok := v.addressOf(p)
	if !ok {
		return false
	}
	v.space.mu.Lock()
	defer v.space.mu.Unlock()
	if pt, mapped := v.space.ptes[addr]; mapped && pt.page == p {
		delete(v.space.ptes, addr)
		p.mapDropped()
		p.Put()
		return true
	}
	return false
}

// AnonRegion is the shared identity of a chain of anonymous mappings.
// Its lock protects the region chain while the reverse map is walked.
type AnonRegion struct {
	mu   sync.Mutex
	vmas []*VMA
}

// NewAnonRegion returns an empty anonymous region.
func NewAnonRegion() *AnonRegion {
	return &AnonRegion{}
}

// NewVMA maps the region into the given address space.
func (a *AnonRegion) NewVMA(space *AddrSpace, start, pages, pgoff uint64) *VMA {
	vma := &VMA{space: space, start: start, pages: pages, pgoff: pgoff}
	a.mu.Lock()
	a.vmas = append(a.vmas, vma)
	a.mu.Unlock()
	return vma
}

// AddPage binds the page to the anonymous region at the given offset.
func (a *AnonRegion) AddPage(p *Page, pgoff uint64) {
	p.anon = a
	p.index = pgoff
	p.Set(FlagSwapBacked)
}

// rmapVMAs snapshots the regions that may map the page. The snapshot is
// taken under the reverse-map lock; the page tables themselves are
// still free to change afterwards, which is why unmapping retries.
func rmapVMAs(p *Page) []*VMA {
	if a := p.anon; a != nil {
		a.mu.Lock()
		vmas := append([]*VMA(nil), a.vmas...)
		a.mu.Unlock()
		return vmas
	}
	if m := p.mapping; m != nil {
		m.mu.Lock()
		var vmas []*VMA
		for _, vma := range m.vmas {
			if vma.covers(p.index) {
				vmas = append(vmas, vma)
			}
		}
		m.mu.Unlock()
		return vmas
	}
	return nil
}

// pageMappedInVMA tells if the region's address space has a live
// page-table entry for the page.
func pageMappedInVMA(p *Page, vma *VMA) bool {
	addr, ok := vma.addressOf(p)
	if !ok {
		return false
	}
	vma.space.mu.Lock()
	defer vma.space.mu.Unlock()
	pt, mapped := vma.space.ptes[addr]
	return mapped && pt.page == p
}

// unmapFlags adjust how user mappings are torn down.
type unmapFlags uint

const (
	// unmapIgnoreMlock unmaps even mlock-pinned pages.
	unmapIgnoreMlock unmapFlags = 1 << iota
	// unmapIgnoreAccess skips access-bit bookkeeping.
	unmapIgnoreAccess
	// unmapKeepSwapEntry preserves swap-cache membership so a later
	// fault can still detect the poisoning.
	unmapKeepSwapEntry
)

// tryToUnmap removes the page from every address space that maps it.
// It can fail temporarily: concurrent activity may install new entries
// while the reverse map is walked. Success means the mapping count
// reached zero.
func tryToUnmap(p *Page, flags unmapFlags) bool {
	for _, vma := range rmapVMAs(p) {
		vma.Remove(p)
	}
	if p.MapCount() == 0 {
		if p.Has(FlagSwapCache) && flags&unmapKeepSwapEntry == 0 {
			// Unmapping a swap-backed page without the keep flag
			// erases all trace of it from the swap cache.
			deleteFromSwapCache(p)
		}
		return true
	}
	return false
}

// pageMkclean collects and clears the per-mapping dirty bits of the
// page. It returns true if any mapping had dirtied the page. This has
// to run before unmapping: unmapping destroys the information.
func pageMkclean(p *Page) bool {
	dirty := false
	for _, vma := range rmapVMAs(p) {
		addr, ok := vma.addressOf(p)
		if !ok {
			continue
		}
		vma.space.mu.Lock()
		if pt, mapped := vma.space.ptes[addr]; mapped && pt.page == p && pt.dirty {
			pt.dirty = false
			dirty = true
		}
		vma.space.mu.Unlock()
	}
	return dirty
}
