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

// Unpoison reverses an earlier quarantine of the page frame. This works
// on the software level only: it clears the poison marker and releases
// the quarantine reference, but does not revalidate the integrity of
// the underlying memory. Unpoisoning a page that is not poisoned is a
// no-op success.
func (e *Engine) Unpoison(ctx context.Context, pfn uint64) error {
	_, span := trace.StartSpan(ctx, "memfailure.Unpoison")
	defer span.End()

	p, ok := e.alloc.PageByFrame(pfn)
	if !ok {
		return errors.Wrapf(ErrNoSuchPage, "page frame %#x", pfn)
	}
	page := p.Head()

	if !p.Has(FlagPoisoned) {
		log.Debug("MCE: page was already unpoisoned %#x", pfn)
		return nil
	}

	if !page.TryGet() {
		// The page is free; just clear the marker.
		if p.TestClear(FlagPoisoned) {
			e.ledger.decrement()
			e.met.recordUnpoison()
		}
		log.Debug("MCE: software-unpoisoned free page %#x", pfn)
		return nil
	}

	page.Lock()
	// This test can race with a poisoning that runs outside the page
	// lock. That is acceptable: such a page is caught and isolated
	// again on its way into the allocator's free pool.
	freeit := false
	if p.TestClear(FlagPoisoned) {
		log.Debug("MCE: software-unpoisoned page %#x", pfn)
		e.ledger.decrement()
		e.met.recordUnpoison()
		freeit = true
	}
	page.Unlock()

	page.Put()
	if freeit {
		// Release the extra reference the quarantine path kept.
		page.Put()
	}

	return nil
}
