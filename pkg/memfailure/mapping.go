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
	"sync/atomic"
)

// Mapping is the backing object of file-backed and shared pages: the
// owning cache plus the interval structure of the regions mapping it.
// Its lock protects both the resident page cache and the region index.
type Mapping struct {
	name      string
	writeback bool   // capable of dirty writeback accounting
	errFlag   uint32 // sticky I/O error marker (atomic)

	mu    sync.Mutex
	vmas  []*VMA
	pages map[uint64]*Page

	// RemoveCorrupted, when set, punches the corrupted page out of the
	// backing object. Optional; generic invalidation is the fallback.
	RemoveCorrupted func(m *Mapping, p *Page) error
	// ReleaseBuffers, when set, drops the page's private buffer data
	// and reports whether it succeeded.
	ReleaseBuffers func(p *Page) bool
}

// NewMapping returns an empty backing object. The writeback argument
// tells if the object participates in dirty writeback accounting.
func NewMapping(name string, writeback bool) *Mapping {
	return &Mapping{
		name:      name,
		writeback: writeback,
		pages:     make(map[uint64]*Page),
	}
}

// Name returns the name of the backing object.
func (m *Mapping) Name() string {
	return m.name
}

// WritebackCapable tells if the object does dirty writeback accounting.
func (m *Mapping) WritebackCapable() bool {
	return m.writeback
}

// NewVMA maps the object into the given address space.
func (m *Mapping) NewVMA(space *AddrSpace, start, pages, pgoff uint64) *VMA {
	vma := &VMA{space: space, start: start, pages: pages, pgoff: pgoff}
	m.mu.Lock()
	m.vmas = append(m.vmas, vma)
	m.mu.Unlock()
	return vma
}

// AddPage inserts the page into the object's resident cache at the
// given offset. The cache holds one reference on the page.
func (m *Mapping) AddPage(p *Page, pgoff uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p.mapping = m
	p.index = pgoff
	p.Get()
	p.Set(FlagUptodate)
	m.pages[pgoff] = p
}

// RemovePage drops the page from the resident cache, releasing the
// cache's reference.
func (m *Mapping) RemovePage(p *Page) {
	m.mu.Lock()
	m.removePageLocked(p)
	m.mu.Unlock()
}

func (m *Mapping) removePageLocked(p *Page) {
	if p.mapping != m {
		return
	}
	delete(m.pages, p.index)
	p.mapping = nil
	p.Clear(FlagUptodate)
	p.Put()
}

// PageAt returns the resident page at the given offset, if any.
func (m *Mapping) PageAt(pgoff uint64) (*Page, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.pages[pgoff]
	return p, ok
}

// SetError raises the object's sticky I/O error marker so that later
// synchronization calls surface the data loss.
func (m *Mapping) SetError() {
	atomic.StoreUint32(&m.errFlag, 1)
}

// ReportError returns and clears the error marker, the way fsync() and
// friends consume it. Known gap: the first successful I/O that checks
// the marker clears it, so an application doing unrelated I/O on the
// file before synchronizing can miss the error.
func (m *Mapping) ReportError() bool {
	return atomic.SwapUint32(&m.errFlag, 0) != 0
}

// invalidatePage tries to drop a clean, unused page from its backing
// object. It fails on dirty, writeback, mapped, or otherwise-referenced
// pages; only the cache's reference plus the caller's may remain.
func invalidatePage(p *Page) bool {
	m := p.Mapping()
	if m == nil {
		return false
	}
	if p.Has(FlagDirty) || p.Has(FlagWriteback) {
		return false
	}
	if p.Mapped() {
		return false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if p.mapping != m {
		return false
	}
	if p.RefCount() > 2 {
		return false
	}
	m.removePageLocked(p)
	return true
}
