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

// notifyEntry schedules one process for a later kill decision. Entries
// live only for the duration of a single failure event and are owned
// exclusively by the unmap-and-notify protocol.
type notifyEntry struct {
	proc      *Process
	addr      uint64
	addrValid bool
}

// addToKill records the process for a later kill. The preallocated
// reserve entry is consumed first so that at least one process can be
// killed reliably even when entry allocation fails under pressure.
// Allocation failure for further entries degrades gracefully: skip the
// process, log, continue.
func (e *Engine) addToKill(t *Process, p *Page, vma *VMA, entries []*notifyEntry, reserve **notifyEntry) []*notifyEntry {
	var tk *notifyEntry
	if *reserve != nil {
		tk = *reserve
		*reserve = nil
	} else if tk = e.allocEntry(); tk == nil {
		log.Error("MCE: out of memory while machine check handling")
		return entries
	}

	addr, ok := vma.addressOf(p)
	tk.addr = addr
	tk.addrValid = ok
	if !ok {
		// The region may have been moved by mremap since the fault.
		// Kill anyway; the forced form is used for entries whose
		// address cannot be determined.
		log.Debug("MCE: unable to find user space address %#x in %s", p.Frame(), t.Comm)
	}
	tk.proc = t
	return append(entries, tk)
}

// collectProcsAnon collects the processes mapping a corrupted anonymous
// page by walking the page's anonymous-region chain against every
// eligible process. Lock order is process-table read lock first, then
// the region chain lock.
func (e *Engine) collectProcsAnon(p *Page, reserve *notifyEntry) []*notifyEntry {
	av := p.anon
	var entries []*notifyEntry
	e.procs.Walk(func(t *Process) bool {
		if !t.earlyKill(e.cfg.EarlyKill) {
			return true
		}
		av.mu.Lock()
		for _, vma := range av.vmas {
			if !pageMappedInVMA(p, vma) {
				continue
			}
			if vma.space == t.Space {
				entries = e.addToKill(t, p, vma, entries, &reserve)
			}
		}
		av.mu.Unlock()
		return true
	})
	return entries
}

// collectProcsFile collects the processes mapping a corrupted
// file-backed page via the backing object's interval structure. A
// process is recorded when a region covers the page's offset even if
// the page is not currently instantiated in its page tables: processes
// that requested early kill want to hear about all such corruption.
func (e *Engine) collectProcsFile(p *Page, reserve *notifyEntry) []*notifyEntry {
	m := p.Mapping()
	var entries []*notifyEntry
	e.procs.Walk(func(t *Process) bool {
		if !t.earlyKill(e.cfg.EarlyKill) {
			return true
		}
		m.mu.Lock()
		for _, vma := range m.vmas {
			if vma.covers(p.index) && vma.space == t.Space {
				entries = e.addToKill(t, p, vma, entries, &reserve)
			}
		}
		m.mu.Unlock()
		return true
	})
	return entries
}

// collectProcs produces the notify list of every process that maps the
// corrupted page. One entry is preallocated outside all locks to
// guarantee forward progress for at least one kill under memory
// pressure.
func (e *Engine) collectProcs(p *Page) []*notifyEntry {
	if p.anon == nil && p.Mapping() == nil {
		return nil
	}
	reserve := e.allocEntry()
	if reserve == nil {
		return nil
	}
	if p.Anon() {
		return e.collectProcsAnon(p, reserve)
	}
	return e.collectProcsFile(p, reserve)
}
