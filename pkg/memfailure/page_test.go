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
	"testing"
)

func TestPageFlagOps(t *testing.T) {
	p := NewPage(testBase)

	if p.TestSet(FlagPoisoned) {
		t.Errorf("TestSet on a clear flag reported it as set")
	}
	if !p.TestSet(FlagPoisoned) {
		t.Errorf("TestSet on a set flag reported it as clear")
	}
	if !p.Poisoned() {
		t.Errorf("poison marker not visible after TestSet")
	}

	if !p.TestClear(FlagPoisoned) {
		t.Errorf("TestClear on a set flag reported it as clear")
	}
	if p.TestClear(FlagPoisoned) {
		t.Errorf("TestClear on a clear flag reported it as set")
	}

	p.Set(FlagLRU | FlagDirty)
	if !p.Has(FlagLRU) || !p.Has(FlagDirty) {
		t.Errorf("multi-bit Set left flags %s", p.Flags())
	}
	if p.Has(FlagLRU | FlagSlab) {
		t.Errorf("Has reported a partially set mask as set")
	}
	p.Clear(FlagDirty)
	if p.Has(FlagDirty) || !p.Has(FlagLRU) {
		t.Errorf("Clear touched the wrong bits: %s", p.Flags())
	}
}

func TestPageRefCounting(t *testing.T) {
	p := NewPage(testBase)

	if p.TryGet() {
		t.Errorf("TryGet succeeded on a zero-refcount page")
	}
	p.Get()
	if !p.TryGet() {
		t.Errorf("TryGet failed on a referenced page")
	}
	if refs := p.RefCount(); refs != 2 {
		t.Errorf("expected refcount 2, got %d", refs)
	}
	if refs := p.Put(); refs != 1 {
		t.Errorf("expected refcount 1 after Put, got %d", refs)
	}
	p.Put()
	if p.TryGet() {
		t.Errorf("TryGet succeeded after the last reference was dropped")
	}
}

func TestCompoundPageHead(t *testing.T) {
	pages := NewCompoundPage(testBase, 2)
	if len(pages) != 4 {
		t.Fatalf("expected 4 pages for an order-2 compound, got %d", len(pages))
	}
	head := pages[0]
	if head.Head() != head {
		t.Errorf("head page does not resolve to itself")
	}
	for _, tail := range pages[1:] {
		if tail.Head() != head {
			t.Errorf("tail %#x does not resolve to the head", tail.Frame())
		}
		if !tail.Compound() {
			t.Errorf("tail %#x not marked compound", tail.Frame())
		}
	}

	// References are tracked on the head only.
	head.Get()
	if !pages[2].Head().TryGet() {
		t.Errorf("TryGet through a tail page failed")
	}
	if refs := head.RefCount(); refs != 2 {
		t.Errorf("expected head refcount 2, got %d", refs)
	}
}

func TestWritebackWait(t *testing.T) {
	p := NewPage(testBase)
	p.StartWriteback()

	var wg sync.WaitGroup
	done := false
	wg.Add(1)
	go func() {
		defer wg.Done()
		p.WaitWriteback()
		done = true
	}()

	p.EndWriteback()
	wg.Wait()
	if !done {
		t.Errorf("WaitWriteback did not return after EndWriteback")
	}
	if p.Has(FlagWriteback) {
		t.Errorf("writeback marker still set after EndWriteback")
	}

	// No writeback in flight: returns immediately.
	p.WaitWriteback()
}
