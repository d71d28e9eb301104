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
	"github.com/hashicorp/go-multierror"
)

// killProcs executes the kill decisions collected earlier. Only do
// anything when doit is set; clean pages collect entries that need no
// killing. When fail is set the forced kill is used: unmapping did not
// fully succeed, so a catchable signal can no longer shield the process
// from the poisoned memory. Entries without a valid address are always
// killed forcibly since there is no fault address to advise about.
func (e *Engine) killProcs(tokill []*notifyEntry, doit bool, trapno int, fail bool, pfn uint64) {
	var errs *multierror.Error

	for _, tk := range tokill {
		if !doit {
			continue
		}
		if fail || !tk.addrValid {
			log.Error("MCE %#x: forcibly killing %s:%d because of failure to unmap corrupted page",
				pfn, tk.proc.Comm, tk.proc.Pid)
			if err := e.signals.Forced(tk.proc, pfn); err != nil {
				errs = multierror.Append(errs, err)
			}
			continue
		}
		log.Error("MCE %#x: killing %s:%d early due to hardware memory corruption",
			pfn, tk.proc.Comm, tk.proc.Pid)
		if err := e.signals.Advisory(tk.proc, tk.addr, trapno, pfn); err != nil {
			log.Error("MCE %#x: cannot send advisory machine check signal to %s:%d: %v",
				pfn, tk.proc.Comm, tk.proc.Pid, err)
			errs = multierror.Append(errs, err)
		}
	}

	if err := errs.ErrorOrNil(); err != nil {
		log.Error("MCE %#x: kill sweep incomplete: %v", pfn, err)
	}
}

// unmapAndNotify does all that is necessary to remove the user space
// mappings of a corrupted page and signal the processes that had it
// mapped. Returns true iff unmapping fully succeeded, meaning the
// page's user-visible side effects are contained.
func (e *Engine) unmapAndNotify(p *Page, pfn uint64, trapno int) bool {
	// Kernel-owned pages are not mapped by user space; nothing to do.
	if p.Has(FlagReserved) || p.Has(FlagSlab) {
		return true
	}

	// No live mappings means pages in the swap cache are not killed
	// early here; those are always late kills on the next fault.
	if !p.Mapped() {
		return true
	}

	// No reverse mapping is available to find the mappers of huge or
	// deduplicated pages.
	if p.Compound() || p.Has(FlagKsm) {
		return false
	}

	flags := unmapIgnoreMlock | unmapIgnoreAccess
	if p.Has(FlagSwapCache) {
		log.Error("MCE %#x: keeping poisoned page in swap cache", pfn)
		flags |= unmapKeepSwapEntry
	}

	// Propagate the per-mapping dirty bits into the page's own dirty
	// flag before unmapping; unmapping destroys the information needed
	// to make this determination. A page that turns out clean can be
	// dropped without notifying anyone.
	kill := true
	if m := p.Mapping(); !p.Has(FlagDirty) && m != nil && m.WritebackCapable() {
		if pageMkclean(p) {
			p.Set(FlagDirty)
		} else {
			kill = false
			flags |= unmapKeepSwapEntry
			log.Info("MCE %#x: corrupted page was clean: dropped without side effects", pfn)
		}
	}

	// Collect the mappers before unmapping: unmapping takes the
	// reverse-mapping data down. Collection errors are swallowed;
	// failing to notify one process must not abort the quarantine.
	var tokill []*notifyEntry
	if kill {
		tokill = e.collectProcs(p)
	}

	// Unmapping can fail temporarily due to races with concurrent
	// mappers; retry a bounded number of times before giving up.
	unmapped := false
	for i := 0; i < e.cfg.UnmapRetries; i++ {
		if tryToUnmap(p, flags) {
			unmapped = true
			break
		}
		log.Debug("MCE %#x: unmap retry needed, mapcount %d", pfn, p.MapCount())
	}
	if !unmapped {
		e.rlog.Error("MCE %#x: failed to unmap page (mapcount=%d)", pfn, p.MapCount())
	}

	// With the dirty bit propagated and unmapping done the kill
	// severity is decided: advisory only for dirty pages after a fully
	// successful unmap, forced otherwise.
	e.killProcs(tokill, p.Has(FlagDirty), trapno, !unmapped, pfn)

	return unmapped
}
