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
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	logger "github.com/intel/hwpoison/pkg/log"
)

func TestClassifyPage(t *testing.T) {
	tcases := []struct {
		name     string
		flags    PageFlags
		label    string
		residual int32
	}{
		{
			name:  "reserved wins over everything",
			flags: FlagReserved | FlagSlab | FlagLRU | FlagDirty,
			label: "reserved kernel",
		},
		{
			name:  "slab wins over LRU state",
			flags: FlagSlab | FlagLRU | FlagDirty,
			label: "kernel slab",
		},
		{
			name:  "compound page",
			flags: FlagCompound | FlagLRU,
			label: "huge",
		},
		{
			name:     "dirty swap cache",
			flags:    FlagSwapCache | FlagDirty | FlagLRU | FlagSwapBacked,
			label:    "swapcache",
			residual: 1,
		},
		{
			name:  "clean swap cache",
			flags: FlagSwapCache | FlagLRU | FlagSwapBacked,
			label: "swapcache",
		},
		{
			name:  "dirty unevictable before dirty LRU",
			flags: FlagUnevictable | FlagDirty | FlagLRU,
			label: "unevictable LRU",
		},
		{
			name:  "clean unevictable",
			flags: FlagUnevictable | FlagLRU,
			label: "unevictable LRU",
		},
		{
			name:  "dirty mlocked before dirty LRU",
			flags: FlagMlocked | FlagDirty | FlagLRU,
			label: "mlocked LRU",
		},
		{
			name:  "clean mlocked",
			flags: FlagMlocked | FlagLRU,
			label: "mlocked LRU",
		},
		{
			name:  "dirty LRU",
			flags: FlagLRU | FlagDirty | FlagUptodate,
			label: "LRU",
		},
		{
			name:  "clean LRU",
			flags: FlagLRU | FlagUptodate,
			label: "clean LRU",
		},
		{
			name:  "no flags hits the catch-all",
			flags: 0,
			label: "unknown page state",
		},
		{
			name:  "writeback only hits the catch-all",
			flags: FlagWriteback,
			label: "unknown page state",
		},
	}
	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			p := NewPage(testBase)
			p.Set(tc.flags)
			before := p.Flags()

			ps := classifyPage(p)
			if ps.label != tc.label {
				t.Errorf("classifyPage(%s): expected %q, got %q", tc.flags, tc.label, ps.label)
			}
			if ps.residual != tc.residual {
				t.Errorf("classifyPage(%s): expected residual %d, got %d", tc.flags, tc.residual, ps.residual)
			}
			// Classification must never mutate the page.
			if diff := cmp.Diff(before.String(), p.Flags().String()); diff != "" {
				t.Errorf("classifyPage(%s) mutated the page: %s", tc.flags, diff)
			}
		})
	}
}

func TestClassifyTableTotal(t *testing.T) {
	last := errorStates[len(errorStates)-1]
	if last.mask != 0 || last.value != 0 {
		t.Errorf("classification table does not end in a catch-all")
	}
	for i, ps := range errorStates {
		if ps.value&^ps.mask != 0 {
			t.Errorf("rule %d (%q): value bits outside mask can never match", i, ps.label)
		}
		if ps.action == nil {
			t.Errorf("rule %d (%q): no recovery action", i, ps.label)
		}
	}
}

func TestPageActionCountsCompoundHead(t *testing.T) {
	e, ft, _ := newTestEngine(t, nil)
	comp := NewCompoundPage(testBase+16, 1)
	for i, cp := range comp {
		ft.pages[16+i] = cp
	}
	tail := comp[1]
	// The caller's reference lives on the compound head.
	comp[0].Get()

	rec := &logRecorder{}
	logger.SetBackend(rec)
	defer logger.SetBackend(&logRecorder{})

	err := e.HandlePage(context.Background(), tail.Frame(), MFCountIncreased, 0)
	if !errors.Is(err, ErrUnsupported) {
		t.Fatalf("expected ErrUnsupported for a huge page, got %v", err)
	}
	// With only the handler's head reference left there is no residual
	// user; counting the zero-refcount tail would report a bogus one.
	if rec.contains("still referenced") {
		t.Errorf("residual reference warning for a fully released compound page")
	}
	if comp[0].RefCount() != 1 {
		t.Errorf("expected the quarantine reference on the head, got %d", comp[0].RefCount())
	}
}

func TestKernelActionLeavesPageAlone(t *testing.T) {
	p := NewPage(testBase)
	p.Set(FlagSlab | FlagDirty)
	before := p.Flags()

	e, _, _ := newTestEngine(t, nil)
	if result := meKernel(e, p, p.Frame()); result != Ignored {
		t.Errorf("expected Ignored for kernel memory, got %s", result)
	}
	if p.Flags() != before {
		t.Errorf("kernel action mutated the page: %s -> %s", before, p.Flags())
	}
}
