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

const (
	// maxOrder is one above the largest buddy block order.
	maxOrder = 11
	// pageblockOrder is the granularity of allocation isolation.
	pageblockOrder = 10
)

// FrameTable is a buddy-style allocator back end covering a contiguous
// range of page frames. It implements Allocator and doubles as the
// frame-number-to-descriptor lookup.
type FrameTable struct {
	mu       sync.Mutex
	base     uint64
	pages    []*Page
	free     map[uint64]uint // free block head pfn -> order
	isolated map[uint64]struct{}
}

var _ Allocator = &FrameTable{}

// NewFrameTable returns a frame table covering count frames starting at
// base. All frames start out as in-use with a zero reference count;
// MarkFree puts them on the free lists.
func NewFrameTable(base, count uint64) *FrameTable {
	ft := &FrameTable{
		base:     base,
		pages:    make([]*Page, count),
		free:     make(map[uint64]uint),
		isolated: make(map[uint64]struct{}),
	}
	for i := uint64(0); i < count; i++ {
		ft.pages[i] = NewPage(base + i)
	}
	return ft
}

// PageByFrame looks up the descriptor for the given frame number.
func (ft *FrameTable) PageByFrame(pfn uint64) (*Page, bool) {
	if pfn < ft.base || pfn >= ft.base+uint64(len(ft.pages)) {
		return nil, false
	}
	return ft.pages[pfn-ft.base], true
}

// MarkFree places the block of the given order at pfn on the free
// lists. Poisoned pages are never accepted back; that is the whole
// point of the quarantine.
func (ft *FrameTable) MarkFree(pfn uint64, order uint) error {
	count := uint64(1) << order
	for i := uint64(0); i < count; i++ {
		p, ok := ft.PageByFrame(pfn + i)
		if !ok {
			return memfailureError("frame %#x outside frame table", pfn+i)
		}
		if p.Poisoned() {
			return memfailureError("refusing to free poisoned page %#x", pfn+i)
		}
		if p.RefCount() != 0 {
			return memfailureError("freeing page %#x with %d references", pfn+i, p.RefCount())
		}
	}
	ft.mu.Lock()
	ft.free[pfn] = order
	ft.mu.Unlock()
	return nil
}

// IsFreePage confirms that the page sits on the free lists, either as
// an order-0 block or inside a higher-order free block.
func (ft *FrameTable) IsFreePage(p *Page) bool {
	pfn := p.Frame()
	ft.mu.Lock()
	defer ft.mu.Unlock()
	for order := uint(0); order < maxOrder; order++ {
		head := pfn &^ ((uint64(1) << order) - 1)
		if o, ok := ft.free[head]; ok && o >= order {
			return true
		}
	}
	return false
}

func blockHead(pfn uint64) uint64 {
	return pfn &^ ((uint64(1) << pageblockOrder) - 1)
}

// Isolate excludes the page's containing block from allocation.
func (ft *FrameTable) Isolate(p *Page) {
	ft.mu.Lock()
	ft.isolated[blockHead(p.Frame())] = struct{}{}
	ft.mu.Unlock()
}

// Unisolate reverses Isolate.
func (ft *FrameTable) Unisolate(p *Page) {
	ft.mu.Lock()
	delete(ft.isolated, blockHead(p.Frame()))
	ft.mu.Unlock()
}

// AllocatePage hands out a single free page with one reference held,
// splitting a larger free block if necessary. Isolated blocks and
// poisoned pages are skipped.
func (ft *FrameTable) AllocatePage() (*Page, error) {
	ft.mu.Lock()
	defer ft.mu.Unlock()

	for {
		var bestHead uint64
		bestOrder := uint(maxOrder)
		found := false
		for head, order := range ft.free {
			if _, no := ft.isolated[blockHead(head)]; no {
				continue
			}
			if order < bestOrder || !found {
				bestHead, bestOrder, found = head, order, true
			}
		}
		if !found {
			return nil, memfailureError("out of free pages")
		}

		delete(ft.free, bestHead)
		for bestOrder > 0 {
			bestOrder--
			buddy := bestHead + (uint64(1) << bestOrder)
			ft.free[buddy] = bestOrder
		}

		p, _ := ft.PageByFrame(bestHead)
		if p.Poisoned() {
			// A page poisoned while sitting on the free lists is
			// caught here, on its way out of the free pool, and
			// dropped for good.
			log.Warn("dropping poisoned page %#x from the free lists", bestHead)
			continue
		}
		p.Get()
		return p, nil
	}
}

// DrainLocal is a no-op: the frame table keeps no per-CPU free lists.
func (ft *FrameTable) DrainLocal() {}
