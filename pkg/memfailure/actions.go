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

// Recovery actions for the various page classes.

// deleteFromLRUCache removes the page from the reclaimable list,
// clearing the flags the allocator would complain about if the page is
// later unpoisoned and freed. Returns false if the page was not on the
// list.
func deleteFromLRUCache(p *Page) bool {
	if p.TestClear(FlagLRU) {
		p.Clear(FlagActive)
		p.Clear(FlagUnevictable)
		return true
	}
	return false
}

// deleteFromSwapCache removes the page from the swap cache, dropping
// the cache's reference.
func deleteFromSwapCache(p *Page) {
	if p.TestClear(FlagSwapCache) {
		p.Put()
	}
}

// meKernel handles corruption in kernel-owned memory: do nothing and
// try to be lucky by not touching it.
func meKernel(e *Engine, p *Page, pfn uint64) Outcome {
	return Ignored
}

// meUnknown handles pages in a state the table does not recognize.
func meUnknown(e *Engine, p *Page, pfn uint64) Outcome {
	log.Error("MCE %#x: unknown page state", pfn)
	return Failed
}

// meHugePage handles huge/compound pages. No reverse mapping is
// available to find the original mappers, so recovery is unsupported.
func meHugePage(e *Engine, p *Page, pfn uint64) Outcome {
	return Failed
}

// mePagecacheClean recovers a clean (or cleaned) page cache page by
// punching it out of its backing object.
func mePagecacheClean(e *Engine, p *Page, pfn uint64) Outcome {
	deleteFromLRUCache(p)

	// For anonymous pages the only reference left should be the one
	// the handler holds.
	if p.Anon() {
		return Recovered
	}

	m := p.Mapping()
	if m == nil {
		// Page has been torn down in the meanwhile.
		return Failed
	}

	// Truncation is more like a temporary hole punch here. Prefer the
	// backing object's own removal hook when it has one.
	if m.RemoveCorrupted != nil {
		if err := m.RemoveCorrupted(m, p); err != nil {
			log.Info("MCE %#x: failed to punch page: %v", pfn, err)
		} else if p.Has(FlagPrivate) && !releaseBuffers(m, p) {
			log.Debug("MCE %#x: failed to release buffers", pfn)
		} else {
			return Recovered
		}
		return Failed
	}

	// Without a removal hook just invalidate. This fails on dirty or
	// otherwise-referenced pages.
	if invalidatePage(p) {
		return Recovered
	}
	log.Info("MCE %#x: failed to invalidate", pfn)
	return Failed
}

// mePagecacheDirty recovers a dirty page cache page. The data is lost;
// the backing object's error marker is raised so write(), fsync() and
// friends surface the failure, then the clean-page path applies. The
// marker is cleared by the first operation that reports it, so an
// application doing unrelated I/O first can miss the error; this
// matches how metadata I/O errors already behave.
func mePagecacheDirty(e *Engine, p *Page, pfn uint64) Outcome {
	p.Set(FlagError)
	if m := p.Mapping(); m != nil {
		m.SetError()
	}
	return mePagecacheClean(e, p, pfn)
}

// meSwapCacheDirty recovers a dirty swap cache page. The page may be
// referenced both through normal and through swap entries, so it is
// kept in the swap cache with dirty and up-to-date markers cleared:
// a later fault on it then means the application is accessing corrupted
// data and gets killed.
func meSwapCacheDirty(e *Engine, p *Page, pfn uint64) Outcome {
	p.Clear(FlagDirty)
	// Trigger an I/O error on shared-memory re-reads.
	p.Clear(FlagUptodate)

	if deleteFromLRUCache(p) {
		return Delayed
	}
	return Failed
}

// meSwapCacheClean recovers a clean swap cache page by direct
// isolation; a later fault brings in the known good data from disk.
func meSwapCacheClean(e *Engine, p *Page, pfn uint64) Outcome {
	deleteFromSwapCache(p)

	if deleteFromLRUCache(p) {
		return Recovered
	}
	return Failed
}

// releaseBuffers drops the page's private buffer data via the backing
// object's hook, or by simply discarding it when there is none.
func releaseBuffers(m *Mapping, p *Page) bool {
	if m.ReleaseBuffers != nil {
		return m.ReleaseBuffers(p)
	}
	p.Clear(FlagPrivate)
	return true
}
