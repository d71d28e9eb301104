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

// Allocator is the physical memory allocator the engine collaborates
// with. The engine never frees or allocates pages itself; it only asks
// the allocator about free pages and fences blocks off temporarily.
type Allocator interface {
	// PageByFrame looks up the page descriptor for a frame number.
	// The second return value is false for frames outside real memory.
	PageByFrame(pfn uint64) (*Page, bool)
	// IsFreePage confirms that the page sits on the allocator's free
	// lists, possibly inside a higher-order free block.
	IsFreePage(p *Page) bool
	// Isolate temporarily excludes the page's containing block from
	// allocation, so a free page cannot be handed out while probed.
	Isolate(p *Page)
	// Unisolate reverses Isolate.
	Unisolate(p *Page)
	// AllocatePage returns a fresh page for migration targets.
	AllocatePage() (*Page, error)
	// DrainLocal drains per-CPU free lists back to the free lists
	// proper, settling pages into a detectable state.
	DrainLocal()
}

// ProcessTable iterates the live processes. Walk holds the table's read
// lock for the duration of the iteration; fn returning false stops the
// walk early.
type ProcessTable interface {
	Walk(fn func(t *Process) bool)
}

// SignalSender delivers kill decisions to processes.
type SignalSender interface {
	// Advisory sends a catchable bus-error style fault notification.
	Advisory(t *Process, addr uint64, trapno int, pfn uint64) error
	// Forced terminates the process unconditionally and uncatchably.
	Forced(t *Process, pfn uint64) error
}

// Drainer asks outside caches and buffers to release pages, in the hope
// that a page of unknown type settles into a recognizable state.
type Drainer interface {
	// DrainLRU flushes pending per-CPU LRU additions.
	DrainLRU()
	// ShrinkCaches releases up to target cache objects and returns the
	// number actually released.
	ShrinkCaches(target int) int
}

// Migrator relocates the content of a page to a freshly allocated
// replacement obtained from alloc.
type Migrator interface {
	Migrate(p *Page, alloc func() (*Page, error)) error
}
