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
	"context"

	"github.com/pkg/errors"
	"go.opencensus.io/trace"
)

// shakePage drains as many caches and buffers as possible in the hope
// of turning a page of unknown type into a reclaimable or free page.
// Cache shrinking is only done when access is set, i.e. when reaching
// the page is not potentially fatal.
func (e *Engine) shakePage(p *Page, access bool) {
	if !p.Has(FlagSlab) {
		if e.drain != nil {
			e.drain.DrainLRU()
		}
		if p.Has(FlagLRU) {
			return
		}
		e.alloc.DrainLocal()
		if p.Has(FlagLRU) || e.alloc.IsFreePage(p) {
			return
		}
	}

	if access && e.drain != nil {
		for i := 0; i < e.cfg.DrainRetries; i++ {
			nr := e.drain.ShrinkCaches(1000)
			if p.RefCount() == 0 || nr <= 10 {
				break
			}
		}
	}
}

// SoftOffline evacuates a page before it hard-fails, by invalidation or
// migration, without killing anything. This is for pages that are not
// corrupted yet but have had a number of corrected errors and are
// better taken out; the policy of when to do that lives with the
// caller. It should never impact any application or cause data loss,
// though it may take some time.
//
// On success the page is quarantined with its reference count left
// elevated by one, so the frame is permanently retired. On failure the
// page is left in its prior state and the ledger is untouched.
func (e *Engine) SoftOffline(ctx context.Context, p *Page, flags HandleFlags) error {
	_, span := trace.StartSpan(ctx, "memfailure.SoftOffline")
	defer span.End()

	pfn := p.Frame()

	ret, err := e.getAnyPage(p, pfn, flags)
	if err != nil {
		e.met.recordSoftOffline(false)
		return err
	}
	if ret == 0 {
		// Caught free; trivially quarantined.
		return e.softOfflineDone(p, pfn)
	}

	if !p.Has(FlagLRU) {
		// Not reclaimable yet. Drop our reference, apply reclaim
		// pressure and re-probe.
		p.Put()
		e.shakePage(p, true)

		ret, err = e.getAnyPage(p, pfn, 0)
		if err != nil {
			e.met.recordSoftOffline(false)
			return err
		}
		if ret == 0 {
			return e.softOfflineDone(p, pfn)
		}
	}
	if !p.Has(FlagLRU) {
		log.Debug("soft_offline: %#x: unknown non LRU page type %s", pfn, p.Flags())
		p.Put()
		e.met.recordSoftOffline(false)
		return errors.Wrapf(ErrIO, "page %#x: unknown non-LRU page type", pfn)
	}

	p.Lock()
	p.WaitWriteback()

	// Synchronized with the hard-failure path by the page lock.
	if p.Has(FlagPoisoned) {
		p.Unlock()
		p.Put()
		log.Debug("soft offline: %#x page already poisoned", pfn)
		e.met.recordSoftOffline(false)
		return errors.Wrapf(ErrBusy, "page %#x already poisoned", pfn)
	}

	// Try to invalidate first. This works for clean unmapped page
	// cache pages.
	invalidated := invalidatePage(p)
	p.Unlock()

	if invalidated {
		log.Debug("soft_offline: %#x: invalidated", pfn)
		return e.softOfflineDone(p, pfn)
	}

	// Simple invalidation did not work; migrate the content to a new
	// page instead. An unmigrated page goes back on the reclaimable
	// list with the attributes the isolation cleared.
	restore := FlagLRU | p.Flags()&(FlagActive|FlagUnevictable)
	if !deleteFromLRUCache(p) {
		log.Debug("soft offline: %#x: isolation failed, page count %d, type %s",
			pfn, p.RefCount(), p.Flags())
		p.Put()
		e.met.recordSoftOffline(false)
		return errors.Wrapf(ErrIO, "page %#x: failed to isolate for migration", pfn)
	}
	if e.migrate == nil {
		p.Set(restore)
		p.Put()
		e.met.recordSoftOffline(false)
		return errors.Wrapf(ErrIO, "page %#x: no migration collaborator", pfn)
	}
	if err := e.migrate.Migrate(p, e.alloc.AllocatePage); err != nil {
		log.Debug("soft offline: %#x: migration failed %v, type %s", pfn, err, p.Flags())
		p.Set(restore)
		p.Put()
		e.met.recordSoftOffline(false)
		return errors.Wrapf(ErrIO, "page %#x: migration failed", pfn)
	}

	return e.softOfflineDone(p, pfn)
}

// softOfflineDone quarantines the page: ledger incremented, poison bit
// set, and any reference held deliberately kept so the page is never
// returned to the allocator.
func (e *Engine) softOfflineDone(p *Page, pfn uint64) error {
	e.ledger.increment()
	p.Set(FlagPoisoned)
	e.met.recordSoftOffline(true)
	log.Info("soft offline: %#x: page permanently retired", pfn)
	return nil
}
