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
	"github.com/pkg/errors"
)

// recoveryAction recovers a page of one recognized class. Actions may
// mutate page state; classification itself never does.
type recoveryAction func(e *Engine, p *Page, pfn uint64) Outcome

// pageState is one rule of the classification table: a page is of this
// class when its attribute bits masked with mask equal value.
type pageState struct {
	mask  PageFlags
	value PageFlags
	label string
	// residual is the number of extra references the action
	// legitimately leaves behind when it returns Delayed.
	residual int32
	action   recoveryAction
}

// errorStates matches page states in order; the first match wins, so
// more specific rules must come first (dirty unevictable before dirty
// LRU). The zero-mask catch-all terminates the table and guarantees a
// match. Free pages are detected outside this table. This is not
// complete; for any missing state no recovery is attempted.
var errorStates = []pageState{
	{FlagReserved, FlagReserved, "reserved kernel", 0, meKernel},

	// Could in theory check if a slab page is free or drop unused
	// objects without touching them. Treat it as standard kernel
	// memory for now.
	{FlagSlab, FlagSlab, "kernel slab", 0, meKernel},

	{FlagCompound, FlagCompound, "huge", 0, meHugePage},

	{FlagSwapCache | FlagDirty, FlagSwapCache | FlagDirty, "swapcache", 1, meSwapCacheDirty},
	{FlagSwapCache | FlagDirty, FlagSwapCache, "swapcache", 0, meSwapCacheClean},

	{FlagUnevictable | FlagDirty, FlagUnevictable | FlagDirty, "unevictable LRU", 0, mePagecacheDirty},
	{FlagUnevictable, FlagUnevictable, "unevictable LRU", 0, mePagecacheClean},

	{FlagMlocked | FlagDirty, FlagMlocked | FlagDirty, "mlocked LRU", 0, mePagecacheDirty},
	{FlagMlocked, FlagMlocked, "mlocked LRU", 0, mePagecacheClean},

	{FlagLRU | FlagDirty, FlagLRU | FlagDirty, "LRU", 0, mePagecacheDirty},
	{FlagLRU | FlagDirty, FlagLRU, "clean LRU", 0, mePagecacheClean},

	// Catchall entry: must be at end.
	{0, 0, "unknown page state", 0, meUnknown},
}

// classifyPage scans the table for the first rule matching the page's
// current attributes. The catch-all makes the table total.
func classifyPage(p *Page) *pageState {
	flags := p.Flags()
	for i := range errorStates {
		ps := &errorStates[i]
		if flags&ps.mask == ps.value {
			return ps
		}
	}
	return &errorStates[len(errorStates)-1]
}

// actionResult logs and accounts the outcome of a recovery action.
func (e *Engine) actionResult(pfn uint64, p *Page, label string, result Outcome) {
	dirty := ""
	if p.Has(FlagDirty) {
		dirty = "dirty "
	}
	log.Error("MCE %#x: %s%s page recovery: %s", pfn, dirty, label, result)
	e.met.recordOutcome(label, result)
}

// pageAction runs the matched recovery action and maps its outcome to
// success or failure for the caller. After the action returns, the
// page's reference count is re-checked: anything beyond the handler's
// own reference and the action's declared residual means other users
// still hold the corrupted page, which downgrades the outcome to
// Failed regardless of what the action reported.
func (e *Engine) pageAction(ps *pageState, p *Page, pfn uint64) error {
	result := ps.action(e, p, pfn)
	e.actionResult(pfn, p, ps.label, result)

	// References are tracked on the compound head.
	count := p.Head().RefCount() - 1
	if result == Delayed {
		count -= ps.residual
	}
	if count != 0 {
		e.rlog.Error("MCE %#x: %s page still referenced by %d users", pfn, ps.label, count)
		result = Failed
	}

	if result.Succeeded() {
		return nil
	}
	return errors.Wrapf(recoveryErrKind(p), "page %#x: %s page recovery: %s", pfn, ps.label, result)
}
