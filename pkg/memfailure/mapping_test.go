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
	"testing"
)

func TestMappingPageCache(t *testing.T) {
	m := NewMapping("testfile", true)
	p := NewPage(testBase)

	m.AddPage(p, 3)
	if p.RefCount() != 1 {
		t.Errorf("expected the cache to hold one reference, got %d", p.RefCount())
	}
	if !p.Has(FlagUptodate) {
		t.Errorf("cached page not marked up to date")
	}
	if got, ok := m.PageAt(3); !ok || got != p {
		t.Errorf("PageAt did not find the cached page")
	}

	m.RemovePage(p)
	if p.RefCount() != 0 {
		t.Errorf("expected the cache reference dropped, got %d", p.RefCount())
	}
	if p.Mapping() != nil {
		t.Errorf("removed page still points at the backing object")
	}
	if _, ok := m.PageAt(3); ok {
		t.Errorf("PageAt found a removed page")
	}
}

func TestMappingErrorMarker(t *testing.T) {
	m := NewMapping("testfile", true)

	if m.ReportError() {
		t.Errorf("fresh object reported an error")
	}
	m.SetError()
	if !m.ReportError() {
		t.Errorf("raised error marker not reported")
	}
	// The first report consumes the marker.
	if m.ReportError() {
		t.Errorf("error marker reported twice")
	}
}

func TestInvalidatePage(t *testing.T) {
	newCached := func() (*Mapping, *Page) {
		m := NewMapping("testfile", true)
		p := NewPage(testBase)
		m.AddPage(p, 0)
		p.Get() // the caller's reference
		return m, p
	}

	t.Run("clean unused page", func(t *testing.T) {
		_, p := newCached()
		if !invalidatePage(p) {
			t.Fatalf("failed to invalidate a clean unused page")
		}
		if p.Mapping() != nil || p.RefCount() != 1 {
			t.Errorf("invalidated page not torn down: refcount %d", p.RefCount())
		}
	})
	t.Run("dirty page", func(t *testing.T) {
		_, p := newCached()
		p.Set(FlagDirty)
		if invalidatePage(p) {
			t.Errorf("invalidated a dirty page")
		}
	})
	t.Run("writeback in flight", func(t *testing.T) {
		_, p := newCached()
		p.StartWriteback()
		if invalidatePage(p) {
			t.Errorf("invalidated a page under writeback")
		}
	})
	t.Run("mapped page", func(t *testing.T) {
		m, p := newCached()
		vma := m.NewVMA(NewAddrSpace(), 0x200000, 4, 0)
		if err := vma.Install(p, false); err != nil {
			t.Fatalf("Install failed: %v", err)
		}
		if invalidatePage(p) {
			t.Errorf("invalidated a mapped page")
		}
	})
	t.Run("extra reference", func(t *testing.T) {
		_, p := newCached()
		p.Get()
		if invalidatePage(p) {
			t.Errorf("invalidated a page with outside references")
		}
	})
	t.Run("anonymous page", func(t *testing.T) {
		p := NewPage(testBase)
		NewAnonRegion().AddPage(p, 0)
		if invalidatePage(p) {
			t.Errorf("invalidated a page with no backing object")
		}
	})
}
