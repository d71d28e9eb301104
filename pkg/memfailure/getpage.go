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

// getAnyPage safely obtains a reference on an arbitrary page. Returns
// 1 with a reference held for a page in use, 0 for a page confirmed
// free by the allocator (with the poison bit set while the block is
// still isolated), and an I/O-class error for a zero-refcount page that
// is not free: a state the engine cannot safely classify.
//
// The structural-change lock prevents a race with memory hot-plug; the
// isolation assumes a single user. Both are released on every exit
// path, and neither is held across classification or unmapping.
func (e *Engine) getAnyPage(p *Page, pfn uint64, flags HandleFlags) (int, error) {
	if flags&MFCountIncreased != 0 {
		return 1, nil
	}

	e.hotplug.Lock()
	defer e.hotplug.Unlock()

	// Isolate the page so that it does not get reallocated if it was
	// free.
	e.alloc.Isolate(p)
	defer e.alloc.Unisolate(p)

	if !p.Head().TryGet() {
		if e.alloc.IsFreePage(p) {
			log.Debug("get_any_page: %#x free buddy page", pfn)
			// Set the poison bit while the page is still isolated.
			p.Set(FlagPoisoned)
			return 0, nil
		}
		log.Debug("get_any_page: %#x: unknown zero refcount page type %s", pfn, p.Flags())
		return 0, errors.Wrapf(ErrIO, "page %#x: unknown zero refcount page", pfn)
	}

	// Not a free page.
	return 1, nil
}
